package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/crosstx/internal/config"
	"github.com/roach88/crosstx/internal/replica"
	"github.com/roach88/crosstx/internal/store"
	"github.com/roach88/crosstx/internal/telemetry"
	"github.com/roach88/crosstx/internal/txlog"
	"github.com/roach88/crosstx/internal/txn"
)

// closeTimeout bounds how long Close waits for in-flight transactions.
const closeTimeout = 10 * time.Second

// Env is everything a command needs, opened from one config file.
type Env struct {
	Config    config.Config
	Logger    *slog.Logger
	Primary   *store.Store
	Log       *txlog.Log
	Replica   *replica.Replica // nil when the secondary is disabled or unreachable
	Telemetry *telemetry.Telemetry
	Manager   *txn.Manager

	shutdown telemetry.ShutdownFunc
}

// loadConfig reads the config file named by --config, or the defaults.
func loadConfig(opts *RootOptions) (config.Config, error) {
	if opts.ConfigPath == "" {
		return config.Default(), nil
	}
	return config.Load(opts.ConfigPath)
}

// OpenEnv opens the stores, replica, telemetry and manager described by the
// config. Diagnostics go to stderr.
//
// An unreachable secondary is logged and skipped: the primary is the
// source of truth and the replica never gates a write.
func OpenEnv(ctx context.Context, opts *RootOptions, stderr io.Writer) (*Env, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	return openEnv(ctx, cfg, opts.Verbose, stderr)
}

func openEnv(ctx context.Context, cfg config.Config, verbose bool, stderr io.Writer) (_ *Env, err error) {
	env := &Env{
		Config:   cfg,
		Logger:   config.NewLogger(cfg.Logging, stderr, verbose),
		shutdown: func(context.Context) error { return nil },
	}
	defer func() {
		if err != nil {
			env.abort()
		}
	}()

	env.Primary, err = store.Open(cfg.Primary.Path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open primary store", err)
	}
	env.Log, err = txlog.Open(cfg.Log.Path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open transaction log", err)
	}

	if cfg.Secondary.Enabled {
		rep, rerr := replica.Connect(ctx, replica.Config{
			URL:       cfg.Secondary.URL,
			Password:  cfg.Secondary.Password,
			KeyPrefix: cfg.Secondary.KeyPrefix,
		})
		if rerr != nil {
			env.Logger.Warn("secondary store unavailable, continuing without it", "error", rerr)
		} else {
			env.Replica = rep
		}
	}

	env.Telemetry, env.shutdown, err = telemetry.Setup(cfg.Telemetry)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to set up telemetry", err)
	}
	if env.Telemetry.Addr != "" {
		env.Logger.Info("serving metrics", "addr", "http://"+env.Telemetry.Addr+"/metrics")
	}

	mopts := []txn.Option{
		txn.WithLogger(env.Logger),
		txn.WithMetrics(env.Telemetry.Metrics),
		txn.WithTracer(env.Telemetry.Tracer),
	}
	if env.Replica != nil {
		mopts = append(mopts, txn.WithSecondary(env.Replica))
	}
	env.Manager, err = txn.New(env.Primary, env.Log, mopts...)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to create transaction manager", err)
	}
	return env, nil
}

// Close shuts everything down in reverse order of opening.
func (e *Env) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()

	var errs []error
	if err := e.Manager.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close manager: %w", err))
	}
	if err := e.shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown telemetry: %w", err))
	}
	if e.Replica != nil {
		if err := e.Replica.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close secondary: %w", err))
		}
	}
	if err := e.Primary.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close primary: %w", err))
	}
	return errors.Join(errs...)
}

// abort releases whatever a failed openEnv managed to open.
func (e *Env) abort() {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	_ = e.shutdown(ctx)
	if e.Replica != nil {
		_ = e.Replica.Close()
	}
	if e.Log != nil {
		_ = e.Log.Close()
	}
	if e.Primary != nil {
		_ = e.Primary.Close()
	}
}
