package cli

import (
	"fmt"
	"io"
	"sort"

	"github.com/fatih/color"

	"github.com/arturoeanton/go-sorrydb/internal/domain"
)

var (
	okColor   = color.New(color.FgHiGreen)
	skipColor = color.New(color.FgHiBlack)
	failColor = color.New(color.FgRed)
	dimColor  = color.New(color.FgCyan)
)

func statusLabel(status string) string {
	switch status {
	case domain.RepoStatusUpdated:
		return okColor.Sprint("✓ updated")
	case domain.RepoStatusSkipped:
		return skipColor.Sprint("- skipped")
	case domain.RepoStatusFailed:
		return failColor.Sprint("✗ failed")
	default:
		return status
	}
}

// printUpdateSummary writes one line per repository, sorted by URL.
func printUpdateSummary(w io.Writer, report domain.UpdateReport) {
	urls := make([]string, 0, len(report))
	for url := range report {
		urls = append(urls, url)
	}
	sort.Strings(urls)

	var total domain.CommitStats
	failed := 0
	for _, url := range urls {
		rr := report[url]
		t := rr.Totals()
		total.Count += t.Count
		total.CountNewGoal += t.CountNewGoal
		fmt.Fprintf(w, "%s %s", statusLabel(rr.Status), url)
		if rr.Status == domain.RepoStatusUpdated {
			fmt.Fprint(w, dimColor.Sprintf(" [%d commits, %d sorries, %d new goals, %s]",
				len(rr.Counts), t.Count, t.CountNewGoal, rr.TotalProcessingTime))
		}
		if rr.Status == domain.RepoStatusFailed {
			failed++
			fmt.Fprint(w, failColor.Sprintf(": %s", rr.Reason))
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "\n%d repositories, %d sorries found, %d new goals, %d failed\n",
		len(urls), total.Count, total.CountNewGoal, failed)
}

// printVerifyResult writes a one-line verdict.
func printVerifyResult(w io.Writer, res domain.VerifyResult) {
	if res.OK {
		okColor.Fprintln(w, "✓ proof verified")
		return
	}
	failColor.Fprintf(w, "✗ %s\n", res.Kind)
	if res.Reason != "" {
		fmt.Fprintln(w, res.Reason)
	}
}
