package handler

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v3"

	"github.com/arturoeanton/go-sorrydb/internal/domain"
	"github.com/arturoeanton/go-sorrydb/internal/port"
	"github.com/arturoeanton/go-sorrydb/internal/service"
)

// Updater runs one crawl cycle.
type Updater interface {
	Update(ctx context.Context, opts service.UpdateOptions) (domain.UpdateReport, error)
}

// SorryVerifier checks a proof against the checkout of a stored sorry.
type SorryVerifier interface {
	VerifySorry(ctx context.Context, x domain.Sorry, proof string) (domain.VerifyResult, error)
}

// ActionsHandler starts verification and crawl jobs.
type ActionsHandler struct {
	store    port.SorryStore
	tracker  *JobTracker
	verifier SorryVerifier
	updater  Updater
	update   service.UpdateOptions
	guard    fiber.Handler
}

// NewActionsHandler creates a handler. opts are the defaults of every
// crawl started through POST /update. A nil updater leaves the crawl route
// unregistered.
func NewActionsHandler(store port.SorryStore, tracker *JobTracker, verifier SorryVerifier, updater Updater, opts service.UpdateOptions) *ActionsHandler {
	return &ActionsHandler{store: store, tracker: tracker, verifier: verifier, updater: updater, update: opts}
}

// Guard runs mw in front of every job-starting route.
func (h *ActionsHandler) Guard(mw fiber.Handler) *ActionsHandler {
	h.guard = mw
	return h
}

// Register sets up job-starting routes.
func (h *ActionsHandler) Register(router fiber.Router) {
	post := func(path string, fn fiber.Handler) {
		if h.guard != nil {
			router.Post(path, h.guard, fn)
			return
		}
		router.Post(path, fn)
	}
	post("/verify", h.Verify)
	if h.updater != nil {
		post("/update", h.Update)
	}
}

// Verify accepts {"sorry_id", "proof"} and returns 202 with the job ID. The
// job result is a VerifyResult.
func (h *ActionsHandler) Verify(c fiber.Ctx) error {
	var body struct {
		SorryID string `json:"sorry_id"`
		Proof   string `json:"proof"`
	}
	if err := c.Bind().JSON(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if body.SorryID == "" || body.Proof == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "sorry_id and proof are required"})
	}

	x, err := h.store.GetSorry(c.Context(), body.SorryID)
	if errors.Is(err, port.ErrSorryNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "sorry not found"})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	jobID, err := h.tracker.Start(JobVerify, x.ID, false, func(ctx context.Context) (any, error) {
		res, err := h.verifier.VerifySorry(ctx, *x, body.Proof)
		if err != nil {
			return nil, err
		}
		return res, nil
	})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"job_id":  jobID,
		"message": "verification started",
	})
}

// Update starts a crawl of every tracked repository. Only one crawl runs at
// a time; a second request gets 409.
func (h *ActionsHandler) Update(c fiber.Ctx) error {
	opts := h.update
	var body struct {
		Workers int `json:"workers"`
	}
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&body); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
		}
	}
	if body.Workers > 0 {
		opts.Workers = body.Workers
	}

	jobID, err := h.tracker.Start(JobUpdate, "", true, func(ctx context.Context) (any, error) {
		return h.updater.Update(ctx, opts)
	})
	if errors.Is(err, port.ErrJobRunning) {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"job_id":  jobID,
		"message": "update started",
	})
}
