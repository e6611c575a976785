package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/arturoeanton/go-sorrydb/internal/port"
)

// Job kinds.
const (
	JobVerify = "verify"
	JobUpdate = "update"
)

// Job states.
const (
	JobRunning  = "running"
	JobComplete = "complete"
	JobError    = "error"
)

// JobStatus is the observable state of a background verification or crawl.
type JobStatus struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	Subject     string    `json:"subject,omitempty"`
	Status      string    `json:"status"`
	Result      any       `json:"result,omitempty"`
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

func (j JobStatus) done() bool {
	return j.Status == JobComplete || j.Status == JobError
}

// JobFunc is the body of a job. Its result is published on completion.
type JobFunc func(ctx context.Context) (any, error)

// JobTracker runs jobs in the background and keeps their status in memory.
type JobTracker struct {
	ctx context.Context
	wg  sync.WaitGroup

	mu   sync.RWMutex
	jobs map[string]*JobStatus
	subs map[string][]chan JobStatus // subscribers per job
}

// NewJobTracker creates a tracker. Jobs run under ctx, so cancelling it
// stops every running job.
func NewJobTracker(ctx context.Context) *JobTracker {
	return &JobTracker{
		ctx:  ctx,
		jobs: make(map[string]*JobStatus),
		subs: make(map[string][]chan JobStatus),
	}
}

// Start registers a job and runs fn in the background. When exclusive is set
// and a job of the same kind is still running, ErrJobRunning is returned.
func (t *JobTracker) Start(kind, subject string, exclusive bool, fn JobFunc) (string, error) {
	t.mu.Lock()
	if exclusive {
		for _, j := range t.jobs {
			if j.Kind == kind && !j.done() {
				t.mu.Unlock()
				return "", fmt.Errorf("%s job %s: %w", kind, j.ID, port.ErrJobRunning)
			}
		}
	}
	id := uuid.New().String()
	t.jobs[id] = &JobStatus{
		ID:        id,
		Kind:      kind,
		Subject:   subject,
		Status:    JobRunning,
		StartedAt: time.Now(),
	}
	t.mu.Unlock()

	slog.Info("job started", "job_id", id, "kind", kind, "subject", subject)
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		result, err := fn(t.ctx)
		t.finish(id, result, err)
	}()
	return id, nil
}

// finish records the outcome and notifies subscribers.
func (t *JobTracker) finish(id string, result any, err error) {
	t.mu.Lock()
	job, ok := t.jobs[id]
	if !ok {
		t.mu.Unlock()
		return
	}
	job.Result = result
	job.Status = JobComplete
	if err != nil {
		job.Status = JobError
		job.Error = err.Error()
	}
	job.CompletedAt = time.Now()
	snapshot := *job
	subs := t.subs[id]
	t.mu.Unlock()

	if err != nil {
		slog.Error("job failed", "job_id", id, "kind", snapshot.Kind, "error", err)
	} else {
		slog.Info("job complete", "job_id", id, "kind", snapshot.Kind,
			"duration", snapshot.CompletedAt.Sub(snapshot.StartedAt).Round(time.Millisecond))
	}

	for _, ch := range subs {
		select {
		case ch <- snapshot:
		default:
		}
	}
}

// Wait blocks until every started job has returned.
func (t *JobTracker) Wait() {
	t.wg.Wait()
}

// GetJob returns a job status.
func (t *JobTracker) GetJob(id string) (*JobStatus, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	job, ok := t.jobs[id]
	if !ok {
		return nil, false
	}
	snapshot := *job
	return &snapshot, true
}

// Subscribe returns a channel that receives the job's final status, together
// with the status at subscription time. A job that is already done is
// reported only through the returned snapshot.
func (t *JobTracker) Subscribe(id string) (chan JobStatus, *JobStatus, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	job, ok := t.jobs[id]
	if !ok {
		return nil, nil, false
	}
	snapshot := *job
	ch := make(chan JobStatus, 1)
	if !snapshot.done() {
		t.subs[id] = append(t.subs[id], ch)
	}
	return ch, &snapshot, true
}

// Unsubscribe removes a channel from subscribers.
func (t *JobTracker) Unsubscribe(id string, ch chan JobStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	subs := t.subs[id]
	for i, s := range subs {
		if s == ch {
			t.subs[id] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(t.subs[id]) == 0 {
		delete(t.subs, id)
	}
}

// JobsHandler handles job-related endpoints.
type JobsHandler struct {
	tracker    *JobTracker
	sseTimeout time.Duration
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(tracker *JobTracker) *JobsHandler {
	return &JobsHandler{tracker: tracker, sseTimeout: 30 * time.Minute}
}

// Register sets up job routes.
func (h *JobsHandler) Register(router fiber.Router) {
	jobs := router.Group("/jobs")
	jobs.Get("/:id", h.GetStatus)
	jobs.Get("/:id/stream", h.StreamSSE)
}

// GetStatus returns the current job status.
func (h *JobsHandler) GetStatus(c fiber.Ctx) error {
	job, ok := h.tracker.GetJob(c.Params("id"))
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "job not found"})
	}
	return c.JSON(job)
}

// StreamSSE streams the job status via Server-Sent Events until it is done.
func (h *JobsHandler) StreamSSE(c fiber.Ctx) error {
	id := c.Params("id")
	ch, job, ok := h.tracker.Subscribe(id)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "job not found"})
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")

	if job.done() {
		return c.SendString(sseEvent(job.Status, *job))
	}

	timeout := h.sseTimeout
	return c.SendStreamWriter(func(w *bufio.Writer) {
		defer h.tracker.Unsubscribe(id, ch)

		fmt.Fprint(w, sseEvent("progress", *job))
		if err := w.Flush(); err != nil {
			return
		}

		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		deadline := time.After(timeout)
		for {
			select {
			case update := <-ch:
				fmt.Fprint(w, sseEvent(update.Status, update))
				_ = w.Flush()
				return
			case <-ticker.C:
				// keep-alive comment; a failed flush means the client left
				fmt.Fprint(w, ": ping\n\n")
				if err := w.Flush(); err != nil {
					return
				}
			case <-deadline:
				slog.Warn("SSE timeout", "job_id", id)
				return
			}
		}
	})
}

func sseEvent(event string, job JobStatus) string {
	data, _ := json.Marshal(job)
	return fmt.Sprintf("event: %s\ndata: %s\n\n", event, data)
}
