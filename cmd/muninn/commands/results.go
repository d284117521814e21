package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func NewResultsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "results",
		Short: "Inspect stored scan results",
	}
	cmd.AddCommand(newResultsListCommand())
	cmd.AddCommand(newResultsShowCommand())
	cmd.AddCommand(newResultsDeleteCommand())
	return cmd
}

func newResultsListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored scans, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cfg, logrus.StandardLogger())
			if err != nil {
				return err
			}
			scans, err := store.List(context.Background(), limit)
			if err != nil {
				return err
			}
			if len(scans) == 0 {
				fmt.Println("No scans found.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tRISK\tFINDINGS\tSTARTED\tTARGET")
			for _, s := range scans {
				ov := s.CurrentOverview()
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
					s.ID, s.CurrentStatus(), ov.RiskLevel, ov.TotalVulnerabilities,
					s.StartTime.Local().Format("2006-01-02 15:04:05"), s.TargetURL)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntP("limit", "n", 20, "Maximum number of scans to list (0 = all)")
	return cmd
}

func newResultsShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <scan-id>",
		Short: "Print the report for a stored scan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, _ := cmd.Flags().GetString("format")
			output, _ := cmd.Flags().GetString("output")
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cfg, logrus.StandardLogger())
			if err != nil {
				return err
			}
			scan, err := store.Get(context.Background(), args[0])
			if err != nil {
				return fmt.Errorf("scan %s: %w", args[0], err)
			}
			reports, err := newReportGenerator(cfg, logrus.StandardLogger())
			if err != nil {
				return err
			}
			if !supportsFormat(reports, format) {
				return fmt.Errorf("unsupported format %q (supported: %v)", format, reports.SupportedFormats())
			}
			return writeReport(reports, scan, format, output)
		},
	}
	cmd.Flags().StringP("format", "f", "text", "Report format (text, json, yaml)")
	cmd.Flags().StringP("output", "o", "", "Write the report to this file instead of stdout")
	return cmd
}

func newResultsDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <scan-id>...",
		Short: "Delete stored scans",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cfg, logrus.StandardLogger())
			if err != nil {
				return err
			}
			for _, id := range args {
				deleted, err := store.Delete(context.Background(), id)
				switch {
				case err != nil:
					return err
				case deleted:
					fmt.Printf("Deleted %s\n", id)
				default:
					fmt.Printf("Not found: %s\n", id)
				}
			}
			return nil
		},
	}
}
