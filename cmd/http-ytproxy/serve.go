package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vertextoedge/http-ytproxy/internal/app"
	"github.com/vertextoedge/http-ytproxy/internal/config"
	"github.com/vertextoedge/http-ytproxy/internal/logger"
)

type serveOptions struct {
	port       int
	certFile   string
	keyFile    string
	chunkSize  string
	passphrase string
}

func (o serveOptions) overrides() config.Overrides {
	return config.Overrides{
		Port:       o.port,
		CertFile:   o.certFile,
		KeyFile:    o.keyFile,
		ChunkSize:  o.chunkSize,
		Passphrase: o.passphrase,
	}
}

func addServeFlags(cmd *cobra.Command, o *serveOptions) {
	cmd.Flags().IntVarP(&o.port, "port", "p", 0, "Proxy listen port (overrides proxy.port)")
	cmd.Flags().StringVarP(&o.certFile, "cert-file", "c", "", "Certificate file (overrides proxy.cert_file)")
	cmd.Flags().StringVarP(&o.keyFile, "key-file", "k", "", "Certificate key file (overrides proxy.key_file)")
	cmd.Flags().StringVarP(&o.chunkSize, "http-chunk-size", "r", "", "Chunk size, e.g. 10MB or 10485760 (overrides proxy.chunk_size)")
	cmd.Flags().StringVarP(&o.passphrase, "passphrase", "s", "", "Certificate key passphrase (overrides security.passphrase)")
}

func newServeCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the proxy until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, root)
		},
	}
	addServeFlags(cmd, &root.serve)
	return cmd
}

func runServe(cmd *cobra.Command, opts *rootOptions) error {
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.ApplyOverrides(opts.serve.overrides()); err != nil {
		return fmt.Errorf("invalid command-line option: %w", err)
	}

	if err := logger.Init(logger.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File:   cfg.Logging.File,
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	zapLogger := logger.GetZapLogger()
	zapLogger.Info("starting http-ytproxy",
		zap.String("version", version),
		zap.String("config", opts.configPath),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Start(ctx, cfg, zapLogger)
	if err != nil {
		return err
	}

	<-ctx.Done()
	zapLogger.Info("shutdown signal received, stopping services...")

	if err := a.Close(); err != nil {
		zapLogger.Error("failed to stop cleanly", zap.Error(err))
		return err
	}
	zapLogger.Info("application stopped successfully")
	return nil
}
