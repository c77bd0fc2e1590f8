package handlers

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/medwatch/compliance-manager/internal/logger"
	"github.com/medwatch/compliance-manager/internal/models"
	"github.com/medwatch/compliance-manager/internal/repository"
)

const (
	defaultPageSize = 25
	maxPageSize     = 200
)

// actorFrom resolves the acting identity for audit attribution. Every
// mutating endpoint requires it so audit entries never carry an empty
// actor.
func actorFrom(c *gin.Context) string {
	if actor := c.GetHeader("X-Actor"); actor != "" {
		return actor
	}
	return ""
}

type SourceHandler struct {
	repo   *repository.SourceRepository
	logger logger.Logger
}

func NewSourceHandler(repo *repository.SourceRepository, log logger.Logger) *SourceHandler {
	return &SourceHandler{
		repo:   repo,
		logger: log,
	}
}

func (h *SourceHandler) Create(c *gin.Context) {
	actor := actorFrom(c)
	if actor == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "X-Actor header is required"})
		return
	}

	var source models.Source
	if err := c.ShouldBindJSON(&source); err != nil {
		h.logger.Debug("Invalid request body",
			logger.String("error", err.Error()),
		)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	if err := h.repo.Create(c.Request.Context(), &source, actor); err != nil {
		if isValidationError(err) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("Failed to create source",
			logger.String("source_name", source.Name),
			logger.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create source"})
		return
	}

	h.logger.Info("Source created",
		logger.String("source_id", source.ID),
		logger.String("source_name", source.Name),
		logger.String("actor", actor),
	)

	c.JSON(http.StatusCreated, source)
}

func (h *SourceHandler) GetByID(c *gin.Context) {
	id := c.Param("id")

	source, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		h.logger.Debug("Source not found",
			logger.String("source_id", id),
			logger.Error(err),
		)
		c.JSON(http.StatusNotFound, gin.H{"error": "Source not found"})
		return
	}

	c.JSON(http.StatusOK, source)
}

func (h *SourceHandler) List(c *gin.Context) {
	filter := repository.ListFilter{
		Limit:     defaultPageSize,
		SortBy:    c.Query("sort_by"),
		SortOrder: c.Query("sort_order"),
		Search:    c.Query("search"),
		Status:    models.SourceStatus(c.Query("status")),
		Risk:      models.RiskLevel(c.Query("risk_level")),
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxPageSize {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 200"})
			return
		}
		filter.Limit = n
	}
	if v := c.Query("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "offset must be non-negative"})
			return
		}
		filter.Offset = n
	}

	total, err := h.repo.Count(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to count sources",
			logger.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list sources"})
		return
	}

	sources, err := h.repo.ListPaginated(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list sources",
			logger.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list sources"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sources": sources,
		"count":   len(sources),
		"total":   total,
		"limit":   filter.Limit,
		"offset":  filter.Offset,
	})
}

// UpdateSourceRequest carries a partial update of the declared policy
// fields. Compliance state, counters, and lifecycle status are owned by
// their own endpoints and never writable here.
type UpdateSourceRequest struct {
	Name              *string            `json:"name"`
	BaseURL           *string            `json:"base_url"`
	Language          *string            `json:"language"`
	Country           *string            `json:"country"`
	ContentType       *string            `json:"content_type"`
	RetentionDays     *int               `json:"retention_days"`
	MaxArticlesPerRun *int               `json:"max_articles_per_run"`
	CrawlDelaySeconds *float64           `json:"crawl_delay_seconds"`
	TargetSections    models.StringArray `json:"target_sections"`
	LegalContactEmail *string            `json:"legal_contact_email"`
	ScraperType       *string            `json:"scraper_type"`
}

func (req *UpdateSourceRequest) apply(s *models.Source) {
	if req.Name != nil {
		s.Name = *req.Name
	}
	if req.BaseURL != nil {
		s.BaseURL = *req.BaseURL
	}
	if req.Language != nil {
		s.Language = *req.Language
	}
	if req.Country != nil {
		s.Country = *req.Country
	}
	if req.ContentType != nil {
		s.ContentType = models.ContentType(*req.ContentType)
	}
	if req.RetentionDays != nil {
		s.RetentionDays = *req.RetentionDays
	}
	if req.MaxArticlesPerRun != nil {
		s.MaxArticlesPerRun = *req.MaxArticlesPerRun
	}
	if req.CrawlDelaySeconds != nil {
		s.CrawlDelaySeconds = *req.CrawlDelaySeconds
	}
	if req.TargetSections != nil {
		s.TargetSections = req.TargetSections
	}
	if req.LegalContactEmail != nil {
		s.LegalContactEmail = *req.LegalContactEmail
	}
	if req.ScraperType != nil {
		s.ScraperType = *req.ScraperType
	}
}

func (h *SourceHandler) Update(c *gin.Context) {
	id := c.Param("id")
	actor := actorFrom(c)
	if actor == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "X-Actor header is required"})
		return
	}

	var req UpdateSourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Debug("Invalid request body",
			logger.String("source_id", id),
			logger.String("error", err.Error()),
		)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	updated, err := h.repo.Mutate(c.Request.Context(), id,
		repository.Mutation{Action: models.AuditUpdate, Actor: actor, LegalBasis: "source configuration update"},
		func(_ *sql.Tx, s *models.Source) error {
			req.apply(s)
			return s.Validate()
		},
	)
	if err != nil {
		h.respondMutationError(c, id, "Failed to update source", err)
		return
	}

	h.logger.Info("Source updated",
		logger.String("source_id", id),
		logger.String("source_name", updated.Name),
		logger.String("actor", actor),
	)

	c.JSON(http.StatusOK, updated)
}

func (h *SourceHandler) Delete(c *gin.Context) {
	id := c.Param("id")
	actor := actorFrom(c)
	if actor == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "X-Actor header is required"})
		return
	}

	_, err := h.repo.Transition(c.Request.Context(), id, models.StatusDeleted,
		repository.Mutation{Action: models.AuditDelete, Actor: actor, LegalBasis: "source removal"},
	)
	if err != nil {
		h.respondMutationError(c, id, "Failed to delete source", err)
		return
	}

	h.logger.Info("Source deleted",
		logger.String("source_id", id),
		logger.String("actor", actor),
	)

	c.JSON(http.StatusNoContent, nil)
}

func (h *SourceHandler) respondMutationError(c *gin.Context, id, msg string, err error) {
	switch {
	case errors.Is(err, repository.ErrSourceNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Source not found"})
	case errors.Is(err, repository.ErrSourceDeleted):
		c.JSON(http.StatusGone, gin.H{"error": "Source is deleted"})
	case errors.Is(err, models.ErrInvalidTransition), isValidationError(err):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		h.logger.Error(msg,
			logger.String("source_id", id),
			logger.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
	}
}

func isValidationError(err error) bool {
	for _, sentinel := range []error{
		models.ErrNameRequired,
		models.ErrBaseURLRequired,
		models.ErrInvalidContent,
		models.ErrCrawlDelayTooLow,
		models.ErrArticleCapBounds,
		models.ErrRetentionBounds,
		models.ErrInvalidLegalEmail,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}
