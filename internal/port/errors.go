package port

import "errors"

// Sentinel errors used across ports.
var (
	ErrStrategyNotFound = errors.New("proof strategy not found")
	ErrRepoNotFound     = errors.New("repository not found")
	ErrSorryNotFound    = errors.New("sorry not found")
	ErrNoRemoteHeads    = errors.New("remote has no branches")
	ErrJobRunning       = errors.New("a job of this kind is already running")
	ErrReadOnly         = errors.New("store is read-only")

	// ErrProverRejected matches well-formed prover replies that report a
	// failure. The session that produced it is still usable.
	ErrProverRejected = errors.New("prover rejected the command")
)
