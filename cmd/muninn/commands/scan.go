package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/bl4ck0w1/muninn/internal/reporting"
	"github.com/bl4ck0w1/muninn/pkg/models"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func NewScanCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan <url>",
		Short: "Crawl a site and scan it for vulnerabilities",
		Long: `Crawl the target within its registrable domain, run the XSS, CSRF and
phishing detectors on every fetched page and print a report.`,
		Args: cobra.ExactArgs(1),
		RunE: runScan,
	}

	cmd.Flags().StringP("format", "f", "text", "Report format (text, json, yaml)")
	cmd.Flags().StringP("output", "o", "", "Write the report to this file instead of stdout")
	cmd.Flags().IntP("depth", "d", 3, "Maximum crawl depth")
	cmd.Flags().Int("max-urls", 15, "Maximum number of URLs to visit")
	cmd.Flags().Duration("timeout", 0, "Abort the scan after this long (0 = no limit)")

	_ = viper.BindPFlag("crawler.max_depth", cmd.Flags().Lookup("depth"))
	_ = viper.BindPFlag("crawler.max_urls", cmd.Flags().Lookup("max-urls"))
	return cmd
}

func runScan(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	output, _ := cmd.Flags().GetString("output")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// The CLI runs the scan in the foreground.
	cfg.Scan.AutoStart = false

	ctx, cancel := signalContext(context.Background())
	defer cancel()
	if timeout > 0 {
		var tcancel context.CancelFunc
		ctx, tcancel = context.WithTimeout(ctx, timeout)
		defer tcancel()
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize scanner: %w", err)
	}
	defer a.Close()

	reports, err := newReportGenerator(cfg, a.logger)
	if err != nil {
		return err
	}
	if !supportsFormat(reports, format) {
		return fmt.Errorf("unsupported format %q (supported: %v)", format, reports.SupportedFormats())
	}

	scan, err := a.scanner.Submit(ctx, args[0])
	if err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{"scan_id": scan.ID, "target": scan.TargetURL}).Info("Scan started")

	start := time.Now()
	runErr := a.scanner.Run(ctx, scan)
	logrus.WithField("scan_id", scan.ID).Infof("Scan finished in %s with status %s", time.Since(start).Round(time.Millisecond), scan.CurrentStatus())

	if err := writeReport(reports, scan, format, output); err != nil {
		return err
	}
	if runErr != nil {
		return fmt.Errorf("scan %s failed: %w", scan.ID, runErr)
	}
	return nil
}

// newReportGenerator returns a generator with the configured template
// overrides applied.
func newReportGenerator(cfg *models.Config, logger *logrus.Logger) (*reporting.ReportGenerator, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	rg := reporting.NewReportGenerator(logger)
	if dir := cfg.Reporting.TemplatesDir; dir != "" {
		if err := rg.Templates().LoadDir(dir); err != nil {
			return nil, fmt.Errorf("failed to load report templates from %s: %w", dir, err)
		}
		logger.Debugf("Loaded report templates from %s", dir)
	}
	return rg, nil
}

func supportsFormat(rg *reporting.ReportGenerator, format string) bool {
	for _, f := range rg.SupportedFormats() {
		if f == format {
			return true
		}
	}
	return false
}

func writeReport(rg *reporting.ReportGenerator, scan *models.ScanResult, format, output string) error {
	if output != "" {
		path, err := rg.Export(scan, format, output)
		if err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
		logrus.Infof("Report written to %s", path)
		return nil
	}
	data, err := rg.Render(scan, format)
	if err != nil {
		return fmt.Errorf("failed to render report: %w", err)
	}
	_, err = os.Stdout.Write(data)
	return err
}
