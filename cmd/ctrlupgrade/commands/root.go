// Package commands defines the ctrlupgrade command tree.
//
// The root command carries the upgrade flow itself; subcommands cover the
// read-only views (tasks, info, history) and version.
package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/pilot-net/ctrl-upgrade/internal/client"
	"github.com/pilot-net/ctrl-upgrade/internal/config"
	"github.com/pilot-net/ctrl-upgrade/internal/report"
	"github.com/pilot-net/ctrl-upgrade/internal/secrets"
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	profile    string
	debug      bool
	server     string
	token      string
}

func (o *globalOptions) bind(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.StringVarP(&o.configPath, "config", "c", "", "Path to config file")
	f.StringVar(&o.profile, "profile", "", "Profile name under ~/.acc (default: $ACC_PROFILE or \"default\")")
	f.BoolVar(&o.debug, "debug", false, "Enable debug logging")
	f.StringVar(&o.server, "server", "", "Command Center API base URL")
	f.StringVar(&o.token, "token", "", "API token, or op://, env: or file: reference")
}

// Root returns the root command.
func Root() *cobra.Command {
	opts := &globalOptions{}
	cmd := upgradeCommand(opts)
	opts.bind(cmd)

	cmd.AddCommand(tasksCommand(opts))
	cmd.AddCommand(infoCommand(opts))
	cmd.AddCommand(historyCommand(opts))
	cmd.AddCommand(Version())

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true
	return cmd
}

// Execute runs the command tree and returns the process exit code.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := Root()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err != nil {
		if ctx.Err() != nil {
			fmt.Fprintln(stderr, "Interrupted")
		} else {
			report.New(stdout, stderr, false).Error(err)
		}
	}
	return ExitCode(err)
}

func newLogger(w io.Writer, debug bool) *slog.Logger {
	level := slog.LevelWarn
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// env is everything a command needs once configuration is settled.
type env struct {
	cfg     *config.Config
	logger  *slog.Logger
	printer *report.Printer
	runID   uuid.UUID
	api     *client.API
}

// loadConfig applies file, environment and flag sources in that order.
func (o *globalOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configPath, o.profile)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnvOverrides(); err != nil {
		return nil, err
	}
	if o.server != "" {
		cfg.Server = o.server
	}
	if o.token != "" {
		cfg.Token = o.token
	}
	return cfg, nil
}

// setup loads and validates configuration, resolves the token and builds
// the API client. override runs after flags are applied, before validation.
func (o *globalOptions) setup(cmd *cobra.Command, override func(*config.Config)) (*env, error) {
	logger := newLogger(cmd.ErrOrStderr(), o.debug)

	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	if override != nil {
		override(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	resolver := secrets.NewResolver(secrets.Config{
		Host:  cfg.OnePassword.ConnectHost,
		Token: cfg.OnePassword.ConnectToken,
	}, logger)
	token, err := resolver.Resolve(cmd.Context(), cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("resolving token: %w", err)
	}
	if token == "" {
		logger.Warn("no API token configured, requests are unauthenticated")
	}

	runID := uuid.New()
	logger = logger.With("run_id", runID.String())
	transport := client.NewHTTPTransport(client.Config{
		BaseURL:        cfg.Server,
		AuthToken:      token,
		RequestTimeout: cfg.RequestTimeout,
		RateLimit:      cfg.RateLimit,
		RequestID:      runID.String(),
		Logger:         logger,
	})

	return &env{
		cfg:     cfg,
		logger:  logger,
		printer: report.Auto(cmd.OutOrStdout(), cmd.ErrOrStderr()),
		runID:   runID,
		api:     client.NewAPI(transport),
	}, nil
}
