package types

import "context"

// Hook is a warehouse connection acquired for one task invocation.
// Close releases it back to its pool.
type Hook interface {
	Run(ctx context.Context, sql string) error
	Query(ctx context.Context, sql string) ([][]any, error)
	DriverName() string
	Close() error
}

type ConnectionProvider interface {
	Connection(ctx context.Context, connID string) (Hook, error)
}

type Credentials struct {
	AccessKey    string `yaml:"access_key" json:"-"`
	SecretKey    string `yaml:"secret_key" json:"-"`
	SessionToken string `yaml:"session_token,omitempty" json:"-"`
}

// CredentialProvider resolves object-store credentials by id. An unknown id
// must be reported as an error, never as empty credentials.
type CredentialProvider interface {
	Credentials(ctx context.Context, credentialsID string) (*Credentials, error)
}
