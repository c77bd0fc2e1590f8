package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/medwatch/compliance-manager/internal/dashboard"
	"github.com/medwatch/compliance-manager/internal/logger"
	"github.com/medwatch/compliance-manager/internal/repository"
)

type DashboardHandler struct {
	aggregator *dashboard.Aggregator
	logger     logger.Logger
}

func NewDashboardHandler(aggregator *dashboard.Aggregator, log logger.Logger) *DashboardHandler {
	return &DashboardHandler{
		aggregator: aggregator,
		logger:     log,
	}
}

// Summary returns the compliance dashboard counters as one consistent
// snapshot.
func (h *DashboardHandler) Summary(c *gin.Context) {
	summary, err := h.aggregator.Summary(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to build dashboard summary",
			logger.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to build dashboard summary"})
		return
	}

	c.JSON(http.StatusOK, summary)
}

func (h *DashboardHandler) SourceDetail(c *gin.Context) {
	id := c.Param("id")

	detail, err := h.aggregator.Detail(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrSourceNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Source not found"})
			return
		}
		h.logger.Error("Failed to build source detail",
			logger.String("source_id", id),
			logger.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to build source detail"})
		return
	}

	c.JSON(http.StatusOK, detail)
}
