package cli

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/arturoeanton/go-sorrydb/internal/adapter/store"
)

func deduplicateCmd(st *rootState) *cobra.Command {
	var (
		output     string
		maxSorries int
	)
	cmd := &cobra.Command{
		Use:   "deduplicate",
		Short: "Write one sorry per distinct goal, optionally sampled across repositories",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := st.open(false)
			if err != nil {
				return err
			}
			defer a.Close()

			doc, err := a.Dedup.Query(cmd.Context(), maxSorries)
			if err != nil {
				return err
			}
			if output != "" {
				return store.WriteJSONAtomic(output, doc)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			enc.SetEscapeHTML(false)
			return enc.Encode(doc)
		},
	}
	cmd.Flags().StringVar(&output, "query-results", "", "output file (default stdout)")
	cmd.Flags().IntVar(&maxSorries, "max-sorries", 0, "sample at most this many sorries, varying the repository")
	return cmd
}
