package credentials

import (
	"context"
	"os"
	"strings"

	"github.com/juju/errors"

	"github.com/warriorguo/etlflow/types"
)

var (
	_ types.CredentialProvider = Static{}
	_ types.CredentialProvider = &Env{}
	_ types.CredentialProvider = Chain{}
)

func validate(credentialsID string, c *types.Credentials) (*types.Credentials, error) {
	if c == nil || c.AccessKey == "" || c.SecretKey == "" {
		return nil, errors.NotValidf("credentials %s: access key and secret key are required", credentialsID)
	}
	return c, nil
}

// Static serves credentials declared in the configuration file.
type Static map[string]*types.Credentials

func (s Static) Credentials(ctx context.Context, credentialsID string) (*types.Credentials, error) {
	c, exists := s[credentialsID]
	if !exists {
		return nil, errors.NotFoundf("credentials %s", credentialsID)
	}
	return validate(credentialsID, c)
}

// Env reads <PREFIX><ID>_ACCESS_KEY_ID, <PREFIX><ID>_SECRET_ACCESS_KEY and the
// optional <PREFIX><ID>_SESSION_TOKEN, with the id upper-cased.
type Env struct {
	Prefix string

	// Lookup defaults to os.LookupEnv.
	Lookup func(key string) (string, bool)
}

func (e *Env) envKey(credentialsID, suffix string) string {
	id := strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(credentialsID))
	return e.Prefix + id + "_" + suffix
}

func (e *Env) Credentials(ctx context.Context, credentialsID string) (*types.Credentials, error) {
	lookup := e.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}

	accessKey, hasAccess := lookup(e.envKey(credentialsID, "ACCESS_KEY_ID"))
	secretKey, hasSecret := lookup(e.envKey(credentialsID, "SECRET_ACCESS_KEY"))
	if !hasAccess && !hasSecret {
		return nil, errors.NotFoundf("credentials %s in environment", credentialsID)
	}
	token, _ := lookup(e.envKey(credentialsID, "SESSION_TOKEN"))

	return validate(credentialsID, &types.Credentials{
		AccessKey:    accessKey,
		SecretKey:    secretKey,
		SessionToken: token,
	})
}

// Chain asks each provider in turn and returns the first one that knows the
// id. Any error other than NotFound stops the search.
type Chain []types.CredentialProvider

func (c Chain) Credentials(ctx context.Context, credentialsID string) (*types.Credentials, error) {
	for _, p := range c {
		creds, err := p.Credentials(ctx, credentialsID)
		if err == nil {
			return creds, nil
		}
		if !errors.Is(err, errors.NotFound) {
			return nil, errors.Trace(err)
		}
	}
	return nil, errors.NotFoundf("credentials %s", credentialsID)
}
