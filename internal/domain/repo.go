package domain

import "time"

// Repository is a tracked remote repository and its crawl state.
type Repository struct {
	RemoteURL       string    `json:"remote_url"        db:"remote_url"`
	LastTimeVisited time.Time `json:"last_time_visited" db:"last_time_visited"`
	RemoteHeadsHash *string   `json:"remote_heads_hash" db:"remote_heads_hash"` // nil until first successful crawl
}

// HeadsHash returns the stored fingerprint or "" when none was recorded yet.
func (r Repository) HeadsHash() string {
	if r.RemoteHeadsHash == nil {
		return ""
	}
	return *r.RemoteHeadsHash
}

// RemoteHead is one branch tip reported by the remote.
type RemoteHead struct {
	Branch string `json:"branch"`
	SHA    string `json:"sha"`
}

// LeafCommit is the tip commit of a branch. It is recomputed every cycle.
type LeafCommit struct {
	SHA    string    `json:"sha"`
	Branch string    `json:"branch"`
	Date   time.Time `json:"date"`
}

// Blame is the version-control provenance of one source line.
type Blame struct {
	Commit      string    `json:"commit"`
	Author      string    `json:"author"`
	AuthorEmail string    `json:"author_email"`
	Date        time.Time `json:"date"`
	Summary     string    `json:"summary"`
}

// Database is the whole persisted document.
type Database struct {
	Repos   []Repository `json:"repos"`
	Sorries []Sorry      `json:"sorries"`
}
