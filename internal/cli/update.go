package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/arturoeanton/go-sorrydb/internal/adapter/store"
	"github.com/arturoeanton/go-sorrydb/internal/service"
)

func updateCmd(st *rootState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Crawl every tracked repository for new sorries",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := st.open(false)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.Database.Update(cmd.Context(), service.UpdateOptions{
				DataDir: st.cfg.LeanData,
				Workers: st.cfg.UpdateWorkers,
			})
			if report != nil {
				printUpdateSummary(cmd.OutOrStdout(), report)
				if st.cfg.ReportFile != "" {
					if werr := store.WriteJSONAtomic(st.cfg.ReportFile, report); werr != nil {
						slog.Error("failed to write report", "path", st.cfg.ReportFile, "error", werr)
					} else {
						slog.Info("report written", "path", st.cfg.ReportFile)
					}
				}
			}
			if err != nil {
				return fmt.Errorf("update: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&st.cfg.ReportFile, "report-file", st.cfg.ReportFile, "write the update report as JSON")
	cmd.Flags().IntVar(&st.cfg.UpdateWorkers, "workers", st.cfg.UpdateWorkers, "repositories processed concurrently")
	return cmd
}
