package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/patrol-reporter/internal/batch"
	"github.com/JakeFAU/patrol-reporter/internal/calendar"
)

func newJobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Run a batch job once, outside the scheduler",
	}
	cmd.AddCommand(newJobCmd("export", batch.DailyExportJob,
		"Export one local day's reports to PDF and archive it"))
	cmd.AddCommand(newJobCmd("cleanup", batch.WeeklyCleanupJob,
		"Remove archived photos and PDFs for the week containing --date"))
	return cmd
}

func newJobCmd(use, job, short string) *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			defer func() {
				if cerr := appInstance.Close(context.Background()); cerr != nil {
					appInstance.Logger().Warn("close failed", zap.Error(cerr))
				}
			}()

			ref := time.Now()
			if date != "" {
				ref, err = calendar.ParseDate(date, appInstance.Location())
				if err != nil {
					return err
				}
			}
			outcome, err := appInstance.RunJob(cmd.Context(), job, ref)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s %s\n", job, outcome.Status, outcome.Detail)
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "local date YYYY-MM-DD (default today)")
	return cmd
}
