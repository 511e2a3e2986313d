// Command storywatch forwards new stories of the configured accounts to a
// Telegram chat.
//
// Usage:
//
//	storywatch run                          # poll forever, serve /health
//	storywatch check                        # one cycle, then exit
//	storywatch provision --file s.json      # store the session blob
//
// Configuration comes from .env, an optional YAML file (--config) and the
// environment, the environment winning.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/storywatch/storywatch"
)

var (
	configPath string
	dotEnvPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:           "storywatch",
	Short:         "Forward new stories to a Telegram chat",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Poll the configured accounts until interrupted",
	Long: `Poll the configured accounts every CHECK_INTERVAL seconds and forward
every story not seen before. Serves GET / and GET /health on PORT.

An interrupt (SIGINT, SIGTERM) is honoured between cycles; the transient
session file is removed before exit.`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run a single check cycle and exit",
	Args:  cobra.NoArgs,
	RunE:  runCheck,
}

var provisionFile string

var provisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Store the session of SESSION_USERNAME",
	Long: `Store a session document for SESSION_USERNAME, replacing any existing one.

The document is JSON:
  {"username": "...", "user_agent": "...",
   "cookies": [{"name": "sessionid", "value": "...", "domain": ".instagram.com"}]}

It is read from --file, or from stdin when --file is "-" or empty. With
CREDENTIAL_AGE_KEY set, it is stored age-encrypted.`,
	Args: cobra.NoArgs,
	RunE: runProvision,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&dotEnvPath, "env-file", ".env", "dotenv file (missing is fine)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (overrides LOG_LEVEL)")
	provisionCmd.Flags().StringVarP(&provisionFile, "file", "f", "", "session document (default stdin)")

	rootCmd.AddCommand(runCmd, checkCmd, provisionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		slog.Error("storywatch: fatal", "error", err)
		os.Exit(1)
	}
}

// setup loads the configuration and installs the JSON logger.
func setup() (*storywatch.Config, *slog.Logger, error) {
	cfg, err := storywatch.LoadConfig(storywatch.Sources{DotEnv: dotEnvPath, File: configPath})
	if err != nil {
		return nil, nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	var lvl slog.Level
	switch cfg.LogLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func runRun(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	app, err := storywatch.Open(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Warn("storywatch: cleanup", "error", err)
		}
		logger.Info("storywatch: stopped")
	}()

	logger.Info("storywatch: monitoring",
		"targets", cfg.Usernames, "interval", cfg.CheckInterval, "identity", cfg.SessionUsername)
	return app.Run(cmd.Context())
}

func runCheck(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	app, err := storywatch.Open(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	res := app.RunOnce(context.WithoutCancel(cmd.Context()))
	fmt.Fprintf(cmd.OutOrStdout(), "cycle %s: %d sent, %d skipped, %d dropped, %d target(s) failed\n",
		res.ID, res.Sent, res.Skipped, res.Dropped, res.Failed)
	return nil
}

func runProvision(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	blob, err := readProvisionInput(cmd.InOrStdin())
	if err != nil {
		return err
	}
	return storywatch.Provision(cmd.Context(), cfg, blob, logger)
}

func readProvisionInput(stdin io.Reader) ([]byte, error) {
	if provisionFile == "" || provisionFile == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		if len(data) == 0 {
			return nil, errors.New("empty session document on stdin")
		}
		return data, nil
	}
	data, err := os.ReadFile(provisionFile)
	if err != nil {
		return nil, fmt.Errorf("read session document: %w", err)
	}
	return data, nil
}
