package main

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/cloud-on-prem/goose/internal/common/config"
	"github.com/cloud-on-prem/goose/internal/common/logger"
)

// Version information set at build time
var (
	Version   = "0.1.0"
	BuildTime = "dev"
)

// rootOptions holds the persistent flags shared by every subcommand.
type rootOptions struct {
	configDir string
	envFile   string
	logLevel  string
	workspace string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "goose-bridge",
		Short: "Editor bridge for the goose agent",
		Long: `goose-bridge supervises a local goosed process for a workspace and relays
chat between it and an editor webview.

Run 'goose-bridge serve' to start the agent and the webview gateway, or
'goose-bridge chat' to talk to the agent from the terminal.`,
		Version:      Version,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configDir, "config", "", "Directory containing config.yaml")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", "", "Environment file to load (default: .env when present)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level (debug|info|warn|error)")
	cmd.PersistentFlags().StringVarP(&opts.workspace, "workspace", "w", "", "Workspace folder the agent runs in")

	cmd.SetVersionTemplate(fmt.Sprintf("goose-bridge %s (%s)\n", Version, BuildTime))

	cmd.AddCommand(
		newServeCmd(opts),
		newChatCmd(opts),
		newAskCmd(opts),
		newSessionsCmd(opts),
	)
	return cmd
}

// load reads the environment file and the configuration, applies flag
// overrides and installs the default logger.
func (o *rootOptions) load() (*config.Config, *logger.Logger, error) {
	if err := loadEnvFile(o.envFile); err != nil {
		return nil, nil, err
	}

	cfg, err := config.LoadWithPath(o.configDir)
	if err != nil {
		return nil, nil, err
	}
	if o.logLevel != "" {
		level := strings.ToLower(o.logLevel)
		switch level {
		case "debug", "info", "warn", "error":
			cfg.Logging.Level = level
		default:
			return nil, nil, fmt.Errorf("invalid log level %q", o.logLevel)
		}
	}
	if o.workspace != "" {
		cfg.Agent.WorkingDir = o.workspace
	}

	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.SetDefault(log)
	return cfg, log, nil
}

// loadEnvFile loads path, or .env from the working directory when path is
// empty. A missing default file is not an error. Variables that are already
// set are left alone.
func loadEnvFile(path string) error {
	if path != "" {
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("failed to load env file %s: %w", path, err)
		}
		return nil
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}
