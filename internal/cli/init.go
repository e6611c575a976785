package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

const dateLayout = "2006-01-02"

func initCmd(st *rootState) *cobra.Command {
	var (
		reposFile    string
		startingDate string
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a database from a list of repositories",
		Long: `Register every repository of --repos-file. Repositories already in the
database are left untouched. Commits dated before --starting-date are never crawled.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			start := time.Now().UTC()
			if startingDate != "" {
				d, err := time.Parse(dateLayout, startingDate)
				if err != nil {
					return fmt.Errorf("invalid --starting-date %q, expected YYYY-MM-DD", startingDate)
				}
				start = d
			}

			urls, err := LoadRepoList(reposFile)
			if err != nil {
				return err
			}

			a, err := st.open(true)
			if err != nil {
				return err
			}
			defer a.Close()

			added, err := a.Database.Init(cmd.Context(), urls, start)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ %d repositories added (%d listed)\n", added, len(urls))
			return nil
		},
	}
	cmd.Flags().StringVar(&reposFile, "repos-file", "", "JSON or YAML file listing repositories")
	cmd.Flags().StringVar(&startingDate, "starting-date", "", "ignore commits before this date (YYYY-MM-DD, default now)")
	_ = cmd.MarkFlagRequired("repos-file")
	return cmd
}
