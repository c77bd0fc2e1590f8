package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/medwatch/compliance-manager/internal/logger"
	"github.com/medwatch/compliance-manager/internal/repository"
	"github.com/medwatch/compliance-manager/internal/scheduler"
)

// ScheduleHandler exposes scrape admission and on-demand runs. Regular
// runs are driven by the background runner; these endpoints cover
// operator-triggered runs and admission diagnostics.
type ScheduleHandler struct {
	scheduler *scheduler.Scheduler
	logger    logger.Logger
}

func NewScheduleHandler(s *scheduler.Scheduler, log logger.Logger) *ScheduleHandler {
	return &ScheduleHandler{
		scheduler: s,
		logger:    log,
	}
}

// Admission reports the decision the scheduler would make for the
// source right now. A run_now reservation taken while answering is
// released immediately; this endpoint never starts a run.
func (h *ScheduleHandler) Admission(c *gin.Context) {
	id := c.Param("id")

	decision, err := h.scheduler.Admit(c.Request.Context(), id)
	if err != nil {
		h.respondSchedulerError(c, id, "Failed to evaluate admission", err)
		return
	}
	if decision.Outcome == scheduler.OutcomeRunNow {
		h.scheduler.Release(id)
	}

	c.JSON(http.StatusOK, decision)
}

// Run executes one scrape run synchronously. Wait and denied decisions
// come back as 200 with the decision body; the caller inspects the
// outcome.
func (h *ScheduleHandler) Run(c *gin.Context) {
	id := c.Param("id")

	decision, err := h.scheduler.Run(c.Request.Context(), id)
	if err != nil {
		h.respondSchedulerError(c, id, "Scrape run failed", err)
		return
	}

	h.logger.Info("On-demand run finished",
		logger.String("source_id", id),
		logger.String("outcome", string(decision.Outcome)),
	)

	c.JSON(http.StatusOK, decision)
}

func (h *ScheduleHandler) respondSchedulerError(c *gin.Context, id, msg string, err error) {
	if errors.Is(err, repository.ErrSourceNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Source not found"})
		return
	}
	h.logger.Error(msg,
		logger.String("source_id", id),
		logger.Error(err),
	)
	c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
}
