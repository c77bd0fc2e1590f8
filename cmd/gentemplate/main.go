// Command gentemplate generates the Excel import template for sources.
// Usage: go run cmd/gentemplate/main.go
package main

import (
	"log"
	"os"

	"github.com/xuri/excelize/v2"
)

func main() {
	f := excelize.NewFile()

	// Rename Sheet1 to Sources
	if err := f.SetSheetName("Sheet1", "Sources"); err != nil {
		log.Fatal(err)
	}

	// Add headers
	headers := []string{
		"name", "base_url", "country", "language", "content_type",
		"crawl_delay_seconds", "max_articles_per_run", "retention_days",
		"legal_contact_email", "target_sections",
	}
	for i, h := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			log.Fatal(err)
		}
		if err := f.SetCellValue("Sources", cell, h); err != nil {
			log.Fatal(err)
		}
	}

	// Add example row 1
	row1 := []string{
		"NEJM Journal Watch",
		"https://www.jwatch.org",
		"US",
		"en",
		"metadata_only",
		"2.0",
		"100",
		"365",
		"permissions@jwatch.example",
		`["cardiology", "infectious-diseases"]`,
	}
	for i, v := range row1 {
		cell, err := excelize.CoordinatesToCellName(i+1, 2)
		if err != nil {
			log.Fatal(err)
		}
		if err := f.SetCellValue("Sources", cell, v); err != nil {
			log.Fatal(err)
		}
	}

	// Add example row 2
	row2 := []string{
		"Santé Médicale", "https://sante.example.fr", "FR", "fr",
		"summary_only", "1.5", "50", "90", "legal@sante.example.fr", "",
	}
	for i, v := range row2 {
		cell, err := excelize.CoordinatesToCellName(i+1, 3)
		if err != nil {
			log.Fatal(err)
		}
		if err := f.SetCellValue("Sources", cell, v); err != nil {
			log.Fatal(err)
		}
	}

	// Create Instructions sheet
	if _, err := f.NewSheet("Instructions"); err != nil {
		log.Fatal(err)
	}
	instructions := []string{
		"Column Descriptions:",
		"",
		"name - Required. Display name of the source",
		"base_url - Required. Base URL of the publication (must start with http:// or https://)",
		"country - Optional. ISO country code",
		"language - Optional. ISO language code",
		"content_type - Required. metadata_only or summary_only (full-text collection is never permitted)",
		"crawl_delay_seconds - Optional. Minimum delay between requests, at least 1.0 (default: 1.0)",
		"max_articles_per_run - Optional. Per-run article cap, 1-500 (default: 500)",
		"retention_days - Optional. Data retention window, 30-2555 days (default: 30)",
		"legal_contact_email - Optional. Publisher legal/permissions contact",
		`target_sections - Optional. JSON array of section slugs (e.g., '["oncology", "policy"]')`,
		"",
		"Imported sources start inactive with legal review pending.",
		"Each must pass compliance validation and legal approval before scheduling.",
	}
	for i, line := range instructions {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			log.Fatal(err)
		}
		if err := f.SetCellValue("Instructions", cell, line); err != nil {
			log.Fatal(err)
		}
	}

	// Ensure examples directory exists
	if err := os.MkdirAll("examples", 0755); err != nil {
		log.Fatal(err)
	}

	// Save the file
	if err := f.SaveAs("examples/source-import-template.xlsx"); err != nil {
		log.Fatal(err)
	}
	log.Println("Created examples/source-import-template.xlsx")
}
