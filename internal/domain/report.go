package domain

import (
	"fmt"
	"time"
)

// Repository outcome of one crawl cycle.
const (
	RepoStatusSkipped = "skipped"
	RepoStatusUpdated = "updated"
	RepoStatusFailed  = "failed"
)

// CommitStats counts what one commit contributed.
type CommitStats struct {
	Count        int `json:"count"`
	CountNewGoal int `json:"count_new_goal"`
}

// RepoReport is the per-repository part of an update report.
type RepoReport struct {
	Status              string                  `json:"status"`
	Reason              string                  `json:"reason,omitempty"`
	Counts              map[string]*CommitStats `json:"counts"`
	NewLeafCommits      []LeafCommit            `json:"new_leaf_commits"`
	StartProcessingTime time.Time               `json:"start_processing_time"`
	EndProcessingTime   time.Time               `json:"end_processing_time"`
	TotalProcessingTime string                  `json:"total_processing_time"`
}

// UpdateReport aggregates per-repository statistics of one crawl cycle, keyed by remote URL.
type UpdateReport map[string]*RepoReport

// NewRepoReport starts a report entry at the given time.
func NewRepoReport(start time.Time) *RepoReport {
	return &RepoReport{
		Counts:              make(map[string]*CommitStats),
		StartProcessingTime: start,
	}
}

// Finish stamps the end time and status.
func (r *RepoReport) Finish(end time.Time, status, reason string) {
	r.EndProcessingTime = end
	r.TotalProcessingTime = HumanDuration(end.Sub(r.StartProcessingTime))
	r.Status = status
	r.Reason = reason
}

// Commit returns the stats bucket for sha, creating it on first use.
func (r *RepoReport) Commit(sha string) *CommitStats {
	st, ok := r.Counts[sha]
	if !ok {
		st = &CommitStats{}
		r.Counts[sha] = st
	}
	return st
}

// Totals sums counts over all commits.
func (r *RepoReport) Totals() CommitStats {
	var t CommitStats
	for _, c := range r.Counts {
		t.Count += c.Count
		t.CountNewGoal += c.CountNewGoal
	}
	return t
}

// HumanDuration formats d as "1h 2m 3s", "2m 3s" or "3s".
func HumanDuration(d time.Duration) string {
	total := int(d.Seconds())
	if total < 0 {
		total = 0
	}
	h, rem := total/3600, total%3600
	m, s := rem/60, rem%60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}
