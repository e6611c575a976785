package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/arturoeanton/go-sorrydb/internal/adapter/store"
	"github.com/arturoeanton/go-sorrydb/internal/domain"
)

func proveCmd(st *rootState) *cobra.Command {
	var (
		strategyName string
		ids          []string
		maxSorries   int
		output       string
	)
	cmd := &cobra.Command{
		Use:   "prove",
		Short: "Run a proof strategy on sorries and verify every proposal",
		Long: `Run --strategy on the listed --id sorries, or on a deduplicated sample of
--max-sorries sorries, and write one result per sorry.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := st.open(false)
			if err != nil {
				return err
			}
			defer a.Close()
			ctx := cmd.Context()

			var sorries []domain.Sorry
			if len(ids) > 0 {
				for _, id := range ids {
					x, err := a.Store.GetSorry(ctx, id)
					if err != nil {
						return fmt.Errorf("%s: %w", id, err)
					}
					sorries = append(sorries, *x)
				}
			} else {
				doc, err := a.Dedup.Query(ctx, maxSorries)
				if err != nil {
					return err
				}
				sorries = doc.Sorries
			}

			dataDir := st.cfg.LeanData
			if dataDir == "" {
				if dataDir, err = os.MkdirTemp("", "sorrydb-prove-*"); err != nil {
					return err
				}
				defer os.RemoveAll(dataDir)
			}

			results, err := a.ProofRunner(dataDir).Run(ctx, strategyName, sorries)
			if err != nil && len(results) == 0 {
				return err
			}
			verified := 0
			for _, r := range results {
				if r.Result.OK {
					verified++
				}
			}
			okColor.Fprintf(cmd.OutOrStdout(), "%d/%d sorries proved by %s\n", verified, len(results), strategyName)
			if output != "" {
				if werr := store.WriteJSONAtomic(output, results); werr != nil {
					return werr
				}
			}
			return err
		},
	}
	f := cmd.Flags()
	f.StringVar(&strategyName, "strategy", "tactic", "proof strategy (see `sorrydb strategies`)")
	f.StringSliceVar(&ids, "id", nil, "sorry IDs to attempt")
	f.IntVar(&maxSorries, "max-sorries", 10, "sample size when no --id is given")
	f.StringVar(&output, "output", "", "write results as JSON")
	return cmd
}

func strategiesCmd(st *rootState) *cobra.Command {
	return &cobra.Command{
		Use:   "strategies",
		Short: "List the available proof strategies",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := st.open(true)
			if err != nil {
				return err
			}
			defer a.Close()
			for _, name := range a.Engine.AvailableStrategies() {
				s, _ := a.Engine.Get(name)
				fmt.Fprintf(cmd.OutOrStdout(), "%-10s %s\n", name, dimColor.Sprint(s.Description()))
			}
			return nil
		},
	}
}
