// Package importer parses bulk source registrations from the Excel
// template and registers each row through the audited write path.
package importer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/medwatch/compliance-manager/internal/logger"
	"github.com/medwatch/compliance-manager/internal/models"
)

// SheetName is the worksheet holding source rows.
const SheetName = "Sources"

// Column indices for the import spreadsheet (0-based).
const (
	colName           = 0 // Column A
	colBaseURL        = 1 // Column B
	colCountry        = 2 // Column C
	colLanguage       = 3 // Column D
	colContentType    = 4 // Column E
	colCrawlDelay     = 5 // Column F
	colMaxArticles    = 6 // Column G
	colRetentionDays  = 7 // Column H
	colLegalContact   = 8 // Column I
	colTargetSections = 9 // Column J

	minRequiredColumns = 5
)

// SourceRow represents a parsed row from the spreadsheet.
type SourceRow struct {
	Row               int // Excel row number (for error reporting)
	Name              string
	BaseURL           string
	Country           string
	Language          string
	ContentType       string
	CrawlDelaySeconds float64
	MaxArticlesPerRun int
	RetentionDays     int
	LegalContactEmail string
	TargetSections    string // Raw JSON string
}

// ImportError represents a validation error for a specific row.
type ImportError struct {
	Row   int    `json:"row"`
	Error string `json:"error"`
}

// Result summarizes one import.
type Result struct {
	Created int           `json:"created"`
	Errors  []ImportError `json:"errors"`
}

// ValidateRow validates a single row and returns an error message or
// empty string. Bounds mirror the source model's declared policy.
func ValidateRow(row SourceRow) string {
	if strings.TrimSpace(row.Name) == "" {
		return "name is required"
	}
	if !strings.HasPrefix(row.BaseURL, "http://") && !strings.HasPrefix(row.BaseURL, "https://") {
		return "base_url must start with http:// or https://"
	}
	if row.ContentType != string(models.ContentMetadataOnly) && row.ContentType != string(models.ContentSummaryOnly) {
		return "content_type must be metadata_only or summary_only"
	}
	if row.CrawlDelaySeconds < models.MinCrawlDelaySeconds {
		return "crawl_delay_seconds must be at least 1.0"
	}
	if row.MaxArticlesPerRun < models.MinArticlesPerRun || row.MaxArticlesPerRun > models.MaxArticlesPerRun {
		return "max_articles_per_run must be between 1 and 500"
	}
	if row.RetentionDays < models.MinRetentionDays || row.RetentionDays > models.MaxRetentionDays {
		return "retention_days must be between 30 and 2555"
	}
	if row.TargetSections != "" {
		var sections []string
		if err := json.Unmarshal([]byte(row.TargetSections), &sections); err != nil {
			return "target_sections must be a valid JSON array"
		}
	}
	return ""
}

// ToSource converts a validated row to a source model.
func (r SourceRow) ToSource() (*models.Source, error) {
	source := &models.Source{
		Name:              strings.TrimSpace(r.Name),
		BaseURL:           strings.TrimSpace(r.BaseURL),
		Country:           strings.TrimSpace(r.Country),
		Language:          strings.TrimSpace(r.Language),
		ContentType:       models.ContentType(r.ContentType),
		CrawlDelaySeconds: r.CrawlDelaySeconds,
		MaxArticlesPerRun: r.MaxArticlesPerRun,
		RetentionDays:     r.RetentionDays,
		LegalContactEmail: strings.TrimSpace(r.LegalContactEmail),
	}
	if r.TargetSections != "" {
		if err := json.Unmarshal([]byte(r.TargetSections), &source.TargetSections); err != nil {
			return nil, fmt.Errorf("parse target_sections: %w", err)
		}
	}
	return source, nil
}

// ParseExcel reads source rows from the template. The header row is
// skipped; trailing empty rows are ignored.
func ParseExcel(r io.Reader) ([]SourceRow, []ImportError, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, nil, fmt.Errorf("open spreadsheet: %w", err)
	}
	defer f.Close()

	rows, err := f.GetRows(SheetName)
	if err != nil {
		return nil, nil, fmt.Errorf("read sheet %q: %w", SheetName, err)
	}

	var parsed []SourceRow
	var errs []ImportError
	for i, cells := range rows {
		if i == 0 {
			continue // header
		}
		rowNum := i + 1
		if isEmptyRow(cells) {
			continue
		}
		if len(cells) < minRequiredColumns {
			errs = append(errs, ImportError{Row: rowNum, Error: "too few columns"})
			continue
		}

		row, parseErr := parseRow(rowNum, cells)
		if parseErr != "" {
			errs = append(errs, ImportError{Row: rowNum, Error: parseErr})
			continue
		}
		if msg := ValidateRow(row); msg != "" {
			errs = append(errs, ImportError{Row: rowNum, Error: msg})
			continue
		}
		parsed = append(parsed, row)
	}
	return parsed, errs, nil
}

func parseRow(rowNum int, cells []string) (SourceRow, string) {
	row := SourceRow{
		Row:         rowNum,
		Name:        cell(cells, colName),
		BaseURL:     cell(cells, colBaseURL),
		Country:     cell(cells, colCountry),
		Language:    cell(cells, colLanguage),
		ContentType: cell(cells, colContentType),
	}

	var err error
	row.CrawlDelaySeconds, err = parseFloatCell(cell(cells, colCrawlDelay), models.MinCrawlDelaySeconds)
	if err != nil {
		return row, "crawl_delay_seconds must be a number"
	}
	row.MaxArticlesPerRun, err = parseIntCell(cell(cells, colMaxArticles), models.MaxArticlesPerRun)
	if err != nil {
		return row, "max_articles_per_run must be an integer"
	}
	row.RetentionDays, err = parseIntCell(cell(cells, colRetentionDays), models.MinRetentionDays)
	if err != nil {
		return row, "retention_days must be an integer"
	}
	row.LegalContactEmail = cell(cells, colLegalContact)
	row.TargetSections = cell(cells, colTargetSections)
	return row, ""
}

// Registrar is the audited registration path the importer writes through.
type Registrar interface {
	Create(ctx context.Context, source *models.Source, actor string) error
}

// Import registers each parsed row. Row failures are collected, not
// fatal: one bad row does not abort the batch, and every successful
// registration carries its own audit entry.
func Import(ctx context.Context, registrar Registrar, rows []SourceRow, actor string, log logger.Logger) Result {
	result := Result{Errors: make([]ImportError, 0)}
	for _, row := range rows {
		source, err := row.ToSource()
		if err != nil {
			result.Errors = append(result.Errors, ImportError{Row: row.Row, Error: err.Error()})
			continue
		}
		if err := registrar.Create(ctx, source, actor); err != nil {
			result.Errors = append(result.Errors, ImportError{Row: row.Row, Error: err.Error()})
			continue
		}
		result.Created++
	}

	log.Info("source import finished",
		logger.Int("created", result.Created),
		logger.Int("errors", len(result.Errors)),
	)
	return result
}

func isEmptyRow(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func cell(cells []string, idx int) string {
	if idx >= len(cells) {
		return ""
	}
	return strings.TrimSpace(cells[idx])
}

func parseFloatCell(s string, fallback float64) (float64, error) {
	if s == "" {
		return fallback, nil
	}
	return strconv.ParseFloat(s, 64)
}

func parseIntCell(s string, fallback int) (int, error) {
	if s == "" {
		return fallback, nil
	}
	return strconv.Atoi(s)
}
