package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/medwatch/compliance-manager/internal/importer"
	"github.com/medwatch/compliance-manager/internal/logger"
	"github.com/medwatch/compliance-manager/internal/repository"
)

// ImportHandler accepts the Excel bulk-registration template.
type ImportHandler struct {
	repo   *repository.SourceRepository
	logger logger.Logger
}

func NewImportHandler(repo *repository.SourceRepository, log logger.Logger) *ImportHandler {
	return &ImportHandler{
		repo:   repo,
		logger: log,
	}
}

func (h *ImportHandler) Import(c *gin.Context) {
	actor := actorFrom(c)
	if actor == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "X-Actor header is required"})
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "A spreadsheet must be uploaded as 'file'"})
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		h.logger.Error("Failed to open uploaded spreadsheet",
			logger.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read upload"})
		return
	}
	defer f.Close()

	rows, parseErrors, err := importer.ParseExcel(f)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to parse spreadsheet", "details": err.Error()})
		return
	}

	result := importer.Import(c.Request.Context(), h.repo, rows, actor, h.logger)
	result.Errors = append(parseErrors, result.Errors...)

	status := http.StatusOK
	if result.Created == 0 && len(result.Errors) > 0 {
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, result)
}
