package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"feathermail/config"
	"feathermail/logging"
	"feathermail/pipeline"
	"feathermail/server"

	_ "feathermail/delivery"
	_ "feathermail/stages"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the server in the foreground",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runServer(cmd)
	},
}

// runServer loads configuration, builds the server and blocks until a
// termination signal arrives or the listener fails. It is shared by both
// `start` (runs inline) and the re-exec'd child process of `daemon`.
func runServer(cmd *cobra.Command) error {
	cfg, err := config.LoadServerConfig(cmd.Flags(), mustFlagString(cmd, "config"))
	if err != nil {
		return fmt.Errorf("cmd: loading server config: %w", err)
	}
	applyEnvOverrides(cfg)
	cfg.EnsureDefaults()

	logCfg := logging.LoadConfigFromEnv()
	logger, err := logging.NewLogger(&logCfg)
	if err != nil {
		return fmt.Errorf("cmd: creating logger: %w", err)
	}

	if cfg.SessionOptions.TLS != "never" {
		if cfg.SessionOptions.CertFile != "" {
			if _, err := os.Stat(cfg.SessionOptions.CertFile); err != nil {
				return fmt.Errorf("cmd: tls cert file %s: %w", cfg.SessionOptions.CertFile, err)
			}
		}
		if cfg.SessionOptions.KeyFile != "" {
			if _, err := os.Stat(cfg.SessionOptions.KeyFile); err != nil {
				return fmt.Errorf("cmd: tls key file %s: %w", cfg.SessionOptions.KeyFile, err)
			}
		}
	}

	loader, err := config.NewLoader(cfg.PipelineFile, pipeline.Default, logger)
	if err != nil {
		return fmt.Errorf("cmd: loading pipeline spec: %w", err)
	}
	if err := loader.WatchPipeline(); err != nil {
		logger.Warn("pipeline hot reload disabled", logging.F("err", err.Error()))
	}
	defer loader.Close()

	srv := server.New(cfg, loader, pipeline.Default, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("cmd: server exited: %w", err)
		}
		return nil
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", logging.F("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), server.DefaultShutdownTimeout)
		defer cancel()
		return srv.Shutdown(ctx)
	}
}

// applyEnvOverrides layers the documented well-known FEATHER_* environment
// variables on top of whatever LoadServerConfig already resolved from
// flags/file/FEATHERMAIL_* env, since those two override mechanisms are
// independent of the framework-wide variable names spec.md documents.
func applyEnvOverrides(cfg *config.ServerConfig) {
	if v := os.Getenv("FEATHER_DOMAIN"); v != "" {
		cfg.Domain = v
	}
	if v := os.Getenv("FEATHER_TLS_CERT_PATH"); v != "" {
		cfg.SessionOptions.CertFile = v
	}
	if v := os.Getenv("FEATHER_TLS_KEY_PATH"); v != "" {
		cfg.SessionOptions.KeyFile = v
	}
}

func mustFlagString(cmd *cobra.Command, name string) string {
	v, _ := cmd.Flags().GetString(name)
	return v
}
