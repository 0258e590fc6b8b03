package types

import (
	"context"
	"time"

	"github.com/mcuadros/go-defaults"
)

// TaskOptions mirror the pipeline's default_args: every task is retried
// uniformly, whatever the kind of failure.
type TaskOptions struct {
	Retries    int           `default:"3"`
	RetryDelay time.Duration `default:"5m"`
	/**
	 * default: 0, no deadline.
	 * Timeout bounds a single attempt through the context handed to the task.
	 */
	Timeout time.Duration
}
type TaskOption func(*TaskOptions)

func NewTaskOptions() *TaskOptions {
	opts := &TaskOptions{}
	defaults.SetDefaults(opts)
	return opts
}

func WithRetries(retries int) TaskOption {
	return func(opts *TaskOptions) {
		opts.Retries = retries
	}
}

func WithRetryDelay(delay time.Duration) TaskOption {
	return func(opts *TaskOptions) {
		opts.RetryDelay = delay
	}
}

func WithTimeout(timeout time.Duration) TaskOption {
	return func(opts *TaskOptions) {
		opts.Timeout = timeout
	}
}

func NewEngineOptions() *EngineOptions {
	opts := &EngineOptions{Ctx: context.Background()}
	defaults.SetDefaults(opts)
	defaults.SetDefaults(&opts.TaskDefaults)
	return opts
}

type EngineOptions struct {
	Ctx context.Context
	/**
	 * default: 16
	 * the engine will run at most this many tasks at the same time.
	 */
	MaxTaskConcurrency int `default:"16"`
	/**
	 * default: 1, a DAG never has two overlapping runs.
	 */
	MaxActiveRuns int `default:"1"`
	/**
	 * default: true, can set it to false and *important*
	 * caller should call Engine.RunOnce() looply (or WaitRun).
	 */
	AutoStart bool `default:"true"`
	/**
	 * default: true, only set it to false when doing debugging or testing.
	 * If TaskRunAsync is true, ready tasks run on the worker pool. Otherwise
	 * every ready task runs inline, one by one, inside RunOnce.
	 */
	TaskRunAsync bool `default:"true"`
	/**
	 * default: 50ms, pause between two dispatch rounds of the background loop
	 * and between two status checks of WaitRun.
	 */
	PollInterval time.Duration `default:"50ms"`
	/**
	 * default: false, only set it to true when doing testing or developing.
	 */
	MemStore bool `default:"false"`

	// TaskDefaults apply to every task unless overridden by TaskOption.
	TaskDefaults TaskOptions

	// Events receives every task state transition when set.
	Events EventPublisher

	// Store configuration. If both MemStore and StoreConfig are set, StoreConfig takes precedence.
	StoreConfig *StoreConfig
}

// StoreConfig selects the SQL database that keeps run state.
type StoreConfig struct {
	Driver string `yaml:"driver"` // postgres, sqlite3
	DSN    string `yaml:"dsn"`
}
type EngineOption func(*EngineOptions)

func WithContext(ctx context.Context) EngineOption {
	return func(opts *EngineOptions) {
		opts.Ctx = ctx
	}
}

func SetMaxTaskConcurrency(concurrency int) EngineOption {
	return func(opts *EngineOptions) {
		opts.MaxTaskConcurrency = concurrency
	}
}

func SetMaxActiveRuns(runs int) EngineOption {
	return func(opts *EngineOptions) {
		opts.MaxActiveRuns = runs
	}
}

func SetPollInterval(interval time.Duration) EngineOption {
	return func(opts *EngineOptions) {
		opts.PollInterval = interval
	}
}

func SetTaskDefaults(taskOpts ...TaskOption) EngineOption {
	return func(opts *EngineOptions) {
		for _, o := range taskOpts {
			o(&opts.TaskDefaults)
		}
	}
}

func DisableAutoStart() EngineOption {
	return func(opts *EngineOptions) {
		opts.AutoStart = false
	}
}

func DisableTaskRunAsync() EngineOption {
	return func(opts *EngineOptions) {
		opts.TaskRunAsync = false
	}
}

func EnableMemStore() EngineOption {
	return func(opts *EngineOptions) {
		opts.MemStore = true
	}
}

func WithEvents(publisher EventPublisher) EngineOption {
	return func(opts *EngineOptions) {
		opts.Events = publisher
	}
}

// WithStoreConfig configures the engine to keep run state in a SQL database
func WithStoreConfig(config *StoreConfig) EngineOption {
	return func(opts *EngineOptions) {
		opts.StoreConfig = config
	}
}
