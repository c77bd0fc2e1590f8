package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/medwatch/compliance-manager/internal/compliance"
	"github.com/medwatch/compliance-manager/internal/logger"
	"github.com/medwatch/compliance-manager/internal/models"
	"github.com/medwatch/compliance-manager/internal/repository"
)

// ComplianceHandler serves the validation, legal review, lifecycle, and
// audit history endpoints.
type ComplianceHandler struct {
	validator   *compliance.Validator
	sources     *repository.SourceRepository
	validations *repository.ValidationRepository
	audit       *repository.AuditRepository
	notices     *repository.NoticeRepository
	automation  *repository.AutomationLogRepository
	logger      logger.Logger
}

func NewComplianceHandler(
	validator *compliance.Validator,
	sources *repository.SourceRepository,
	validations *repository.ValidationRepository,
	audit *repository.AuditRepository,
	notices *repository.NoticeRepository,
	automation *repository.AutomationLogRepository,
	log logger.Logger,
) *ComplianceHandler {
	return &ComplianceHandler{
		validator:   validator,
		sources:     sources,
		validations: validations,
		audit:       audit,
		notices:     notices,
		automation:  automation,
		logger:      log,
	}
}

// ValidateRequest is the body for POST /sources/:id/validate.
type ValidateRequest struct {
	Type     string `json:"validation_type" binding:"required"`
	Attested bool   `json:"attested"`
	Notes    string `json:"notes"`
}

func (h *ComplianceHandler) Validate(c *gin.Context) {
	id := c.Param("id")
	actor := actorFrom(c)
	if actor == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "X-Actor header is required"})
		return
	}

	var req ValidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	validation, err := h.validator.Validate(c.Request.Context(), id,
		models.ValidationType(req.Type),
		compliance.Request{Actor: actor, Attested: req.Attested, Notes: req.Notes},
	)
	if err != nil {
		switch {
		case errors.Is(err, compliance.ErrUnknownValidationType):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, repository.ErrSourceNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Source not found"})
		case errors.Is(err, repository.ErrSourceDeleted):
			c.JSON(http.StatusGone, gin.H{"error": "Source is deleted"})
		default:
			h.logger.Error("Validation run failed",
				logger.String("source_id", id),
				logger.String("validation_type", req.Type),
				logger.Error(err),
			)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to run validation"})
		}
		return
	}

	c.JSON(http.StatusOK, validation)
}

func (h *ComplianceHandler) ListValidations(c *gin.Context) {
	id := c.Param("id")

	validations, err := h.validations.ListBySource(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("Failed to list validations",
			logger.String("source_id", id),
			logger.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list validations"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"validations": validations,
		"count":       len(validations),
	})
}

func (h *ComplianceHandler) Approve(c *gin.Context) {
	id := c.Param("id")
	actor := actorFrom(c)
	if actor == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "X-Actor header is required"})
		return
	}

	source, err := h.validator.Approve(c.Request.Context(), id, actor)
	if err != nil {
		h.respondReviewError(c, id, "Failed to approve source", err)
		return
	}

	h.logger.Info("Legal review approved",
		logger.String("source_id", id),
		logger.String("actor", actor),
	)

	c.JSON(http.StatusOK, source)
}

// RejectRequest is the body for POST /sources/:id/reject.
type RejectRequest struct {
	Reason string `json:"reason" binding:"required"`
}

func (h *ComplianceHandler) Reject(c *gin.Context) {
	id := c.Param("id")
	actor := actorFrom(c)
	if actor == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "X-Actor header is required"})
		return
	}

	var req RejectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	source, err := h.validator.Reject(c.Request.Context(), id, actor, req.Reason)
	if err != nil {
		h.respondReviewError(c, id, "Failed to reject source", err)
		return
	}

	h.logger.Info("Legal review rejected",
		logger.String("source_id", id),
		logger.String("actor", actor),
	)

	c.JSON(http.StatusOK, source)
}

// TransitionRequest is the body for lifecycle endpoints.
type TransitionRequest struct {
	Reason string `json:"reason"`
}

func (h *ComplianceHandler) Suspend(c *gin.Context) {
	h.transition(c, models.StatusSuspended, models.AuditSuspend, "compliance suspension")
}

func (h *ComplianceHandler) Activate(c *gin.Context) {
	h.transition(c, models.StatusActive, models.AuditActivate, "source activation")
}

func (h *ComplianceHandler) transition(c *gin.Context, to models.SourceStatus, action models.AuditAction, basis string) {
	id := c.Param("id")
	actor := actorFrom(c)
	if actor == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "X-Actor header is required"})
		return
	}

	var req TransitionRequest
	_ = c.ShouldBindJSON(&req) // body is optional
	if req.Reason != "" {
		basis = basis + ": " + req.Reason
	}

	source, err := h.sources.Transition(c.Request.Context(), id, to,
		repository.Mutation{Action: action, Actor: actor, LegalBasis: basis},
	)
	if err != nil {
		h.respondReviewError(c, id, "Failed to change source status", err)
		return
	}

	h.logger.Info("Source status changed",
		logger.String("source_id", id),
		logger.String("status", string(to)),
		logger.String("actor", actor),
	)

	c.JSON(http.StatusOK, source)
}

func (h *ComplianceHandler) AuditHistory(c *gin.Context) {
	id := c.Param("id")

	entries, err := h.audit.ListByRecord(c.Request.Context(), "sources", id)
	if err != nil {
		h.logger.Error("Failed to list audit history",
			logger.String("source_id", id),
			logger.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list audit history"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"count":   len(entries),
	})
}

func (h *ComplianceHandler) AutomationLog(c *gin.Context) {
	id := c.Param("id")

	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	entries, err := h.automation.ListBySource(c.Request.Context(), id, limit)
	if err != nil {
		h.logger.Error("Failed to list automation log",
			logger.String("source_id", id),
			logger.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list automation log"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"count":   len(entries),
	})
}

func (h *ComplianceHandler) CreateNotice(c *gin.Context) {
	id := c.Param("id")
	actor := actorFrom(c)
	if actor == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "X-Actor header is required"})
		return
	}

	var notice models.LegalNotice
	if err := c.ShouldBindJSON(&notice); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}
	notice.SourceID = id

	if err := h.notices.Create(c.Request.Context(), &notice, actor); err != nil {
		h.logger.Error("Failed to create legal notice",
			logger.String("source_id", id),
			logger.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create legal notice"})
		return
	}

	h.logger.Info("Legal notice recorded",
		logger.String("source_id", id),
		logger.String("notice_id", notice.ID),
		logger.String("actor", actor),
	)

	c.JSON(http.StatusCreated, notice)
}

func (h *ComplianceHandler) ListNotices(c *gin.Context) {
	id := c.Param("id")

	notices, err := h.notices.ListBySource(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("Failed to list legal notices",
			logger.String("source_id", id),
			logger.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list legal notices"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"notices": notices,
		"count":   len(notices),
	})
}

// NoticeStatusRequest is the body for PATCH /notices/:id/status.
type NoticeStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

func (h *ComplianceHandler) UpdateNoticeStatus(c *gin.Context) {
	id := c.Param("id")
	actor := actorFrom(c)
	if actor == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "X-Actor header is required"})
		return
	}

	var req NoticeStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	if err := h.notices.UpdateStatus(c.Request.Context(), id, models.NoticeStatus(req.Status), actor); err != nil {
		if errors.Is(err, repository.ErrNoticeNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Legal notice not found"})
			return
		}
		h.logger.Error("Failed to update legal notice",
			logger.String("notice_id", id),
			logger.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update legal notice"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"id": id, "status": req.Status})
}

func (h *ComplianceHandler) respondReviewError(c *gin.Context, id, msg string, err error) {
	switch {
	case errors.Is(err, repository.ErrSourceNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Source not found"})
	case errors.Is(err, repository.ErrSourceDeleted):
		c.JSON(http.StatusGone, gin.H{"error": "Source is deleted"})
	case errors.Is(err, compliance.ErrApprovalBlocked), errors.Is(err, models.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		h.logger.Error(msg,
			logger.String("source_id", id),
			logger.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
	}
}
