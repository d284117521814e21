package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/bl4ck0w1/muninn/internal/api"
	"github.com/bl4ck0w1/muninn/internal/reporting"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func NewServeCommand(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Serve the scan API used by the web dashboard and the browser extension.
Scans run in the background and are persisted to the storage directory.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(version)
		},
	}
	cmd.Flags().String("host", "127.0.0.1", "Listen address")
	cmd.Flags().IntP("port", "p", 5000, "Listen port")
	_ = viper.BindPFlag("api.host", cmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("api.port", cmd.Flags().Lookup("port"))
	return cmd
}

func runServe(version string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(context.Background())
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize scanner: %w", err)
	}
	defer a.Close()

	go a.store.RunRetention(ctx, time.Hour)

	srv := api.NewServer(api.Options{
		Scanner:        a.scanner,
		Store:          a.store,
		Detectors:      a.detectors,
		Threats:        a.threats,
		Scorer:         reporting.NewRiskScorerWithWeights(cfg.Reporting.RiskWeights),
		Metrics:        a.metrics,
		Auth:           cfg.API.Auth,
		RequestTimeout: cfg.API.Timeout,
		Version:        version,
	}, a.logger)

	serveErr := srv.Start(ctx, cfg.ListenAddr())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := a.scanner.Shutdown(shutdownCtx); err != nil {
		a.logger.Warnf("Timed out waiting for running scans: %v", err)
	}
	return serveErr
}
