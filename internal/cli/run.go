package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gray247/gitbridge/internal/config"
	"github.com/gray247/gitbridge/internal/fileops"
	"github.com/gray247/gitbridge/internal/gitsync"
	"github.com/gray247/gitbridge/internal/logging"
	"github.com/gray247/gitbridge/internal/retry"
	"github.com/gray247/gitbridge/internal/server"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Addr string
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Serve the file management API",
		Long: `Start the HTTP server for the active profile. The working copy is
cloned from the upstream repository if it does not exist yet.

Example:
  gitbridge run --config config.yml
  gitbridge run --config config.yml --addr :9090 --log-level debug`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(opts)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (overrides configuration)")

	return cmd
}

func runServer(opts *RunOptions) error {
	level, err := logging.ParseLevel(opts.LogLevel)
	if err != nil {
		return err
	}
	log := logging.NewLogger(logging.Config{Level: level, Format: opts.LogFormat})

	cfg, err := config.Load(opts.Config)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if opts.Addr != "" {
		if cfg.Service == nil {
			cfg.Service = &config.Service{}
		}
		cfg.Service.Listen = opts.Addr
	}

	profile, err := cfg.ActiveProfile()
	if err != nil {
		return err
	}
	log.WithField("profile", profile.Name).Infof("starting gitbridge")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	synchronizer := gitsync.New(profile.LocalFolder, profile, log).
		WithLockTimeout(time.Duration(cfg.Service.LockTimeoutSeconds()) * time.Second).
		WithRemoteTimeout(time.Duration(cfg.Service.RemoteTimeoutSeconds()) * time.Second)

	// A failed bootstrap leaves the service up but degraded; /health
	// reports the state and a later restart can recover.
	if err := synchronizer.Ensure(ctx); err != nil {
		log.Errorf("working copy bootstrap failed: %v", err)
	}

	store, err := fileops.NewStore(profile.LocalFolder, profile.SafeModeEnabled(), profile.Exclude, log)
	if err != nil {
		return err
	}

	policy := retry.DefaultPolicy()
	policy.Attempts = cfg.Service.PublishAttempts()

	srv := server.New(cfg, profile, store, synchronizer, log).
		WithHealthReporter(synchronizer).
		WithRetryPolicy(policy)

	if err := srv.Run(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	log.Infof("shutdown complete")
	return nil
}
