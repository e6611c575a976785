package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/arturoeanton/go-sorrydb/internal/domain"
	"github.com/arturoeanton/go-sorrydb/internal/service"
)

// errNotVerified makes the process exit non-zero for a rejected proof.
var errNotVerified = errors.New("proof not verified")

func verifyCmd(st *rootState) *cobra.Command {
	var (
		checkout  string
		sorryID   string
		proof     string
		proofFile string
		loc       domain.Location
	)
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check whether a proof can replace a sorry",
		Long: `Verify a candidate proof either against a local checkout and explicit
location (--checkout, --file, --start-line ...) or against a sorry of the
database (--sorry-id), which is checked out and built first.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if proofFile != "" {
				data, err := os.ReadFile(proofFile)
				if err != nil {
					return fmt.Errorf("read proof: %w", err)
				}
				proof = string(data)
			}
			if proof == "" {
				return errors.New("a proof is required (--proof or --proof-file)")
			}

			a, err := st.open(false)
			if err != nil {
				return err
			}
			defer a.Close()
			ctx := cmd.Context()

			if sorryID != "" {
				x, err := a.Store.GetSorry(ctx, sorryID)
				if err != nil {
					return fmt.Errorf("%s: %w", sorryID, err)
				}
				dataDir := st.cfg.LeanData
				if dataDir == "" {
					if dataDir, err = os.MkdirTemp("", "sorrydb-verify-*"); err != nil {
						return err
					}
					defer os.RemoveAll(dataDir)
				}
				res, err := a.ProofRunner(dataDir).VerifySorry(ctx, *x, proof)
				if err != nil {
					return err
				}
				return report(cmd, res)
			}
			if checkout == "" || loc.File == "" {
				return errors.New("either --sorry-id or --checkout with --file is required")
			}
			req := service.VerifyRequest{CheckoutDir: checkout, Location: loc, Proof: proof}
			return report(cmd, a.Verifier.Verify(ctx, req))
		},
	}
	f := cmd.Flags()
	f.StringVar(&sorryID, "sorry-id", "", "verify against this sorry of the database")
	f.StringVar(&checkout, "checkout", "", "built checkout directory")
	f.StringVar(&loc.File, "file", "", "file relative to the checkout")
	f.IntVar(&loc.StartLine, "start-line", 0, "first line of the sorry (1-based)")
	f.IntVar(&loc.StartColumn, "start-column", 0, "first column of the sorry (0-based)")
	f.IntVar(&loc.EndLine, "end-line", 0, "last line of the sorry")
	f.IntVar(&loc.EndColumn, "end-column", 0, "column just past the sorry")
	f.StringVar(&proof, "proof", "", "replacement text")
	f.StringVar(&proofFile, "proof-file", "", "read the replacement text from a file")
	return cmd
}

func report(cmd *cobra.Command, res domain.VerifyResult) error {
	printVerifyResult(cmd.OutOrStdout(), res)
	if !res.OK {
		return errNotVerified
	}
	return nil
}
