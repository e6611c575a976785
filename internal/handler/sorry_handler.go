package handler

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/arturoeanton/go-sorrydb/internal/domain"
	"github.com/arturoeanton/go-sorrydb/internal/port"
	"github.com/arturoeanton/go-sorrydb/internal/service"
)

// Page size limits for /sorries.
const (
	defaultPageSize = 100
	maxPageSize     = 1000
)

// SorryHandler serves the read-only view of the database.
type SorryHandler struct {
	store port.SorryStore
	dedup *service.DedupService
}

// NewSorryHandler creates a new sorry handler.
func NewSorryHandler(store port.SorryStore, dedup *service.DedupService) *SorryHandler {
	return &SorryHandler{store: store, dedup: dedup}
}

// Register sets up database routes.
func (h *SorryHandler) Register(router fiber.Router) {
	router.Get("/repos", h.ListRepos)
	router.Get("/stats", h.Stats)

	sorries := router.Group("/sorries")
	sorries.Get("/", h.ListSorries)
	sorries.Get("/deduplicated", h.Deduplicated)
	sorries.Get("/:id", h.GetSorry)
}

// ListRepos returns every tracked repository.
func (h *SorryHandler) ListRepos(c fiber.Ctx) error {
	repos, err := h.store.ListRepos(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	if repos == nil {
		repos = []domain.Repository{}
	}
	return c.JSON(fiber.Map{"repos": repos, "count": len(repos)})
}

// sorryFilter matches sorries against the query string of /sorries.
type sorryFilter struct {
	repo   string
	commit string
	file   string
	goal   string
}

func (f sorryFilter) match(x domain.Sorry) bool {
	if f.repo != "" && x.Repo.Remote != f.repo {
		return false
	}
	if f.commit != "" && x.Repo.Commit != f.commit {
		return false
	}
	if f.file != "" && x.Location.File != f.file {
		return false
	}
	if f.goal != "" && !strings.Contains(x.DebugInfo.Goal, f.goal) {
		return false
	}
	return true
}

// ListSorries returns a page of sorries in insertion order. Supported
// filters: repo, commit, file (exact) and goal (substring).
func (h *SorryHandler) ListSorries(c fiber.Ctx) error {
	limit, err := queryInt(c, "limit", defaultPageSize)
	if err != nil || limit <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "limit must be a positive integer"})
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil || offset < 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "offset must be a non-negative integer"})
	}

	filter := sorryFilter{
		repo:   c.Query("repo"),
		commit: c.Query("commit"),
		file:   c.Query("file"),
		goal:   c.Query("goal"),
	}
	page := make([]domain.Sorry, 0, limit)
	total := 0
	err = h.store.IterateSorries(c.Context(), func(x domain.Sorry) error {
		if !filter.match(x) {
			return nil
		}
		if total >= offset && len(page) < limit {
			page = append(page, x)
		}
		total++
		return nil
	})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	return c.JSON(fiber.Map{
		"sorries": page,
		"count":   len(page),
		"total":   total,
		"limit":   limit,
		"offset":  offset,
	})
}

// GetSorry returns one sorry by ID.
func (h *SorryHandler) GetSorry(c fiber.Ctx) error {
	x, err := h.store.GetSorry(c.Context(), c.Params("id"))
	if errors.Is(err, port.ErrSorryNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "sorry not found"})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(x)
}

// Deduplicated returns one sorry per goal, sampled across repositories
// when max is given.
func (h *SorryHandler) Deduplicated(c fiber.Ctx) error {
	maxSorries, err := queryInt(c, "max", 0)
	if err != nil || maxSorries < 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "max must be a non-negative integer"})
	}
	doc, err := h.dedup.Query(c.Context(), maxSorries)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(doc)
}

// repoStats is the per-repository part of /stats.
type repoStats struct {
	Remote          string    `json:"remote"`
	Sorries         int       `json:"sorries"`
	LastTimeVisited time.Time `json:"last_time_visited"`
}

// Stats summarizes the database.
func (h *SorryHandler) Stats(c fiber.Ctx) error {
	ctx := c.Context()
	repos, err := h.store.ListRepos(ctx)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	perRepo := make(map[string]int, len(repos))
	goals := make(map[string]struct{})
	total := 0
	err = h.store.IterateSorries(ctx, func(x domain.Sorry) error {
		total++
		perRepo[x.Repo.Remote]++
		goals[x.DebugInfo.Goal] = struct{}{}
		return nil
	})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	stats := make([]repoStats, 0, len(repos))
	for _, r := range repos {
		stats = append(stats, repoStats{
			Remote:          r.RemoteURL,
			Sorries:         perRepo[r.RemoteURL],
			LastTimeVisited: r.LastTimeVisited,
		})
	}
	return c.JSON(fiber.Map{
		"repos":          len(repos),
		"sorries":        total,
		"distinct_goals": len(goals),
		"per_repo":       stats,
	})
}

func queryInt(c fiber.Ctx, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
