package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/plotmon/internal/store"
)

const (
	defaultJobLimit = 50
	maxJobLimit     = 500
	progressTimeout = 3 * time.Second
)

// ProgressHandler exposes read-only job snapshot endpoints.
type ProgressHandler struct {
	repo    store.SnapshotRepository
	timeout time.Duration
	logger  *zap.Logger
}

// NewProgressHandler wires the repository and logger.
func NewProgressHandler(repo store.SnapshotRepository, logger *zap.Logger) *ProgressHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProgressHandler{
		repo:    repo,
		timeout: progressTimeout,
		logger:  logger,
	}
}

// ListJobs handles GET /api/jobs?status=&limit=&offset=. It returns a JSON
// object {"jobs": [...]} ordered by name, 400 for invalid filters, 503 when
// the repo is unavailable, or 500 if the repository call fails.
func (h *ProgressHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "snapshot repository unavailable")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	limit, offset, err := parseLimitOffset(r, defaultJobLimit, maxJobLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var status *store.JobStatus
	if statusParam := strings.TrimSpace(r.URL.Query().Get("status")); statusParam != "" {
		statusVal, parseErr := parseStatus(statusParam)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, parseErr.Error())
			return
		}
		status = &statusVal
	}
	jobs, err := h.repo.ListJobs(ctx, status)
	if err != nil {
		h.logger.Error("list jobs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":  page(jobs, limit, offset),
		"total": len(jobs),
	})
}

// GetJob handles GET /api/jobs/{name}. It returns {"job": {...}} on success,
// 400 for a missing name, 404 when the repository reports store.ErrNotFound,
// 503 if the repo is not initialized, or 500 otherwise.
func (h *ProgressHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "snapshot repository unavailable")
		return
	}
	name := strings.TrimSpace(chi.URLParam(r, "name"))
	if name == "" {
		writeError(w, http.StatusBadRequest, "job name is required")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	job, err := h.repo.GetJob(ctx, name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		h.logger.Error("get job failed", zap.String("job", name), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func page(jobs []store.JobSnapshot, limit, offset int) []store.JobSnapshot {
	if offset >= len(jobs) {
		return []store.JobSnapshot{}
	}
	end := min(offset+limit, len(jobs))
	return jobs[offset:end]
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		limit = min(val, maxLimit)
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func parseStatus(input string) (store.JobStatus, error) {
	switch strings.ToLower(input) {
	case "running", "active":
		return store.StatusRunning, nil
	case "done", "complete", "completed":
		return store.StatusDone, nil
	case "failed", "error":
		return store.StatusFailed, nil
	case "not_started", "queued":
		return store.StatusNotStarted, nil
	default:
		return "", errors.New("invalid status")
	}
}
