package api

import (
	"context"
	stderrors "errors"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kurihiro0119/github-repo-archiver/internal/aggregator"
	"github.com/kurihiro0119/github-repo-archiver/internal/domain"
	apperrors "github.com/kurihiro0119/github-repo-archiver/internal/errors"
	"github.com/kurihiro0119/github-repo-archiver/internal/lifecycle"
	"github.com/kurihiro0119/github-repo-archiver/internal/logging"
)

// Service is the lifecycle surface exposed over HTTP; *lifecycle.Manager satisfies it
type Service interface {
	Discover(ctx context.Context, org, repoType, cutoff string) (*lifecycle.DiscoverResult, error)
	Repositories(ctx context.Context) ([]*domain.TrackedRepository, error)
	Repository(ctx context.Context, name string) (*domain.TrackedRepository, error)
	Eligible(ctx context.Context) ([]*domain.TrackedRepository, error)
	SetExemption(ctx context.Context, name string, until domain.Date, reason, by string) (*domain.TrackedRepository, error)
	ExemptFor(ctx context.Context, name string, months int, reason, by string) (*domain.TrackedRepository, error)
	ClearExemption(ctx context.Context, name string) (*domain.TrackedRepository, error)
	ClearRepositories(ctx context.Context) error
	Archive(ctx context.Context) (*lifecycle.ArchiveResult, error)
	Batches(ctx context.Context) ([]*domain.ArchiveBatch, error)
	Batch(ctx context.Context, id int) (*domain.ArchiveBatch, error)
	Undo(ctx context.Context, batchID int) (*lifecycle.UndoResult, error)
	Changes(ctx context.Context) (lifecycle.StoreChanges, error)
}

// Handler handles API requests
type Handler struct {
	service    Service
	aggregator aggregator.Aggregator
	logger     *zap.Logger
}

// NewHandler creates a new API handler
func NewHandler(service Service, agg aggregator.Aggregator, logger *zap.Logger) *Handler {
	return &Handler{
		service:    service,
		aggregator: agg,
		logger:     logging.OrNop(logger),
	}
}

// DiscoverRequest is the body of a discovery request
type DiscoverRequest struct {
	// Date is the cutoff, YYYY-MM-DD
	Date string `json:"date"`
	Type string `json:"type"`
}

// ExemptionRequest is the body of an exemption request; set Until or Months
type ExemptionRequest struct {
	Until  string `json:"until,omitempty"`
	Months int    `json:"months,omitempty"`
	Reason string `json:"reason"`
	By     string `json:"by"`
}

// Discover finds stale repositories and tracks the new ones
// POST /api/v1/orgs/:org/discover
func (h *Handler) Discover(c *gin.Context) {
	req := DiscoverRequest{
		Date: c.Query("date"),
		Type: c.DefaultQuery("type", domain.RepoTypeAll),
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, apperrors.NewBadRequestError("invalid request body: "+err.Error()))
			return
		}
	}

	result, err := h.service.Discover(c.Request.Context(), c.Param("org"), req.Type, req.Date)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": result,
	})
}

// GetRepositories returns every tracked repository
// GET /api/v1/repos
func (h *Handler) GetRepositories(c *gin.Context) {
	entries, err := h.service.Repositories(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": entries,
	})
}

// GetRepository returns one tracked repository
// GET /api/v1/repos/:name
func (h *Handler) GetRepository(c *gin.Context) {
	entry, err := h.service.Repository(c.Request.Context(), c.Param("name"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": entry,
	})
}

// ClearRepositories drops every tracked repository
// DELETE /api/v1/repos
func (h *Handler) ClearRepositories(c *gin.Context) {
	if err := h.service.ClearRepositories(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// GetEligible returns the repositories the next archive pass would archive
// GET /api/v1/eligible
func (h *Handler) GetEligible(c *gin.Context) {
	entries, err := h.service.Eligible(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": entries,
	})
}

// SetExemption exempts a repository from archiving
// PUT /api/v1/repos/:name/exemption
func (h *Handler) SetExemption(c *gin.Context) {
	var req ExemptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.NewBadRequestError("invalid request body: "+err.Error()))
		return
	}

	name := c.Param("name")
	var (
		entry *domain.TrackedRepository
		err   error
	)
	switch {
	case strings.TrimSpace(req.Until) != "":
		until, parseErr := domain.ParseDate(strings.TrimSpace(req.Until))
		if parseErr != nil {
			respondError(c, apperrors.NewBadRequestError(parseErr.Error()))
			return
		}
		entry, err = h.service.SetExemption(c.Request.Context(), name, until, req.Reason, req.By)
	case req.Months != 0:
		entry, err = h.service.ExemptFor(c.Request.Context(), name, req.Months, req.Reason, req.By)
	default:
		err = apperrors.NewBadRequestError("either until or months is required")
	}
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": entry,
	})
}

// ClearExemption removes a repository's exemption
// DELETE /api/v1/repos/:name/exemption
func (h *Handler) ClearExemption(c *gin.Context) {
	entry, err := h.service.ClearExemption(c.Request.Context(), c.Param("name"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": entry,
	})
}

// Archive runs an archive pass
// POST /api/v1/archive
func (h *Handler) Archive(c *gin.Context) {
	result, err := h.service.Archive(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": result,
	})
}

// GetBatches returns the batch history, newest first
// GET /api/v1/batches
func (h *Handler) GetBatches(c *gin.Context) {
	batches, err := h.service.Batches(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": batches,
	})
}

// GetBatch returns one batch
// GET /api/v1/batches/:id
func (h *Handler) GetBatch(c *gin.Context) {
	id, ok := parseBatchID(c)
	if !ok {
		return
	}

	batch, err := h.service.Batch(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": batch,
	})
}

// UndoBatch unarchives the repositories of a batch.
// A partial undo reports the error together with what was restored.
// POST /api/v1/batches/:id/undo
func (h *Handler) UndoBatch(c *gin.Context) {
	id, ok := parseBatchID(c)
	if !ok {
		return
	}

	result, err := h.service.Undo(c.Request.Context(), id)
	if err != nil {
		status, body := errorResponse(err)
		if result != nil {
			body["data"] = result
		}
		h.logger.Warn("undo failed", zap.Int("batch_id", id), zap.Error(err))
		c.JSON(status, body)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": result,
	})
}

// GetSummary returns the ledger and batch summary
// GET /api/v1/summary
func (h *Handler) GetSummary(c *gin.Context) {
	summary, err := h.aggregator.Summary(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": summary,
	})
}

// GetStoreChanges reports whether stored documents were edited by another writer
// GET /api/v1/store/changes
func (h *Handler) GetStoreChanges(c *gin.Context) {
	changes, err := h.service.Changes(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": changes,
	})
}

// HealthCheck returns the health status
// GET /health
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

func parseBatchID(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id < 1 {
		respondError(c, apperrors.NewBadRequestError("invalid batch id: "+c.Param("id")))
		return 0, false
	}
	return id, true
}

// respondError sends an error response
func respondError(c *gin.Context, err error) {
	status, body := errorResponse(err)
	if wait, ok := apperrors.RetryAfter(err); ok && status == http.StatusTooManyRequests {
		c.Header("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
	}
	c.JSON(status, body)
}

func errorResponse(err error) (int, gin.H) {
	if pe, ok := apperrors.AsPhaseError(err); ok {
		status, code := http.StatusBadGateway, apperrors.ErrCodeRemote
		if apperrors.IsRateLimited(err) {
			status, code = http.StatusTooManyRequests, apperrors.ErrCodeRateLimited
		}
		return status, gin.H{
			"error": gin.H{
				"code":         code,
				"message":      pe.Error(),
				"phase":        pe.Phase,
				"remoteStatus": pe.StatusCode,
			},
		}
	}

	var appErr *apperrors.AppError
	if stderrors.As(err, &appErr) {
		status := http.StatusInternalServerError
		switch appErr.Code {
		case apperrors.ErrCodeNotFound:
			status = http.StatusNotFound
		case apperrors.ErrCodeBadRequest:
			status = http.StatusBadRequest
		}
		return status, gin.H{
			"error": gin.H{
				"code":    appErr.Code,
				"message": appErr.Message,
			},
		}
	}

	return http.StatusInternalServerError, gin.H{
		"error": gin.H{
			"code":    apperrors.ErrCodeInternal,
			"message": err.Error(),
		},
	}
}
