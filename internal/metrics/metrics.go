// Package metrics declares the Prometheus collectors shared by the crawler,
// the prover session client and the verifier.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	REPLCommands = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sorrydb_repl_commands_total",
		Help: "REPL commands sent, by command and outcome",
	}, []string{"command", "outcome"})

	REPLCommandLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sorrydb_repl_command_duration_seconds",
		Help:    "REPL command round-trip latency",
		Buckets: []float64{0.05, 0.25, 1, 5, 15, 60, 300},
	}, []string{"command"})

	REPLSessions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sorrydb_repl_sessions_total",
		Help: "REPL sessions by lifecycle event (started, dead, closed)",
	}, []string{"event"})

	CrawlRepositories = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sorrydb_crawl_repositories_total",
		Help: "Repositories visited by crawl outcome",
	}, []string{"status"})

	CrawlCommits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sorrydb_crawl_commits_total",
		Help: "Leaf commits processed by outcome",
	}, []string{"outcome"})

	SorriesAdded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sorrydb_sorries_added_total",
		Help: "Sorries newly inserted into the database",
	})

	Verifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sorrydb_verifications_total",
		Help: "Verification outcomes by failure kind (ok when verified)",
	}, []string{"kind"})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sorrydb_http_requests_total",
		Help: "HTTP requests by method, route and status code",
	}, []string{"method", "route", "status"})

	VerificationLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sorrydb_verification_duration_seconds",
		Help:    "Wall-clock time of one verification call",
		Buckets: []float64{1, 5, 15, 60, 300, 900},
	})
)

// Handler exposes the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
