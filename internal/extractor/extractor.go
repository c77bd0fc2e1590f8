// Package extractor defines the per-source extraction capability the
// scheduler invokes after admission, plus a default metadata-only
// implementation. Site-specific adapters satisfy the same interface.
package extractor

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/medwatch/compliance-manager/internal/logger"
	"github.com/medwatch/compliance-manager/internal/models"
)

// defaultHTTPTimeout is the default timeout for HTTP requests.
const defaultHTTPTimeout = 30 * time.Second

// Article is one extracted article record. Only metadata fields are
// carried; body text is never collected (data minimization).
type Article struct {
	Title       string     `json:"title"`
	URL         string     `json:"url"`
	Summary     string     `json:"summary,omitempty"`
	Section     string     `json:"section,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

// Extractor returns raw article records for a source given a fetch
// budget. Implementations must respect ctx cancellation and never
// return more than budget records.
type Extractor interface {
	Extract(ctx context.Context, source *models.Source, budget int) ([]Article, error)
}

// Func adapts a function to the Extractor interface.
type Func func(ctx context.Context, source *models.Source, budget int) ([]Article, error)

func (f Func) Extract(ctx context.Context, source *models.Source, budget int) ([]Article, error) {
	return f(ctx, source, budget)
}

// MetadataExtractor is the default extractor: it fetches each target
// section listing and collects anchor metadata (title, link) plus any
// description meta, up to the fetch budget.
type MetadataExtractor struct {
	logger    logger.Logger
	client    *http.Client
	userAgent string
}

func NewMetadataExtractor(log logger.Logger, client *http.Client, userAgent string) *MetadataExtractor {
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &MetadataExtractor{
		logger:    log,
		client:    client,
		userAgent: userAgent,
	}
}

// Extract fetches the source's target sections and collects article
// metadata until the budget is exhausted.
func (e *MetadataExtractor) Extract(ctx context.Context, source *models.Source, budget int) ([]Article, error) {
	if budget <= 0 {
		return nil, nil
	}

	base, err := url.Parse(source.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}

	sections := source.TargetSections
	if len(sections) == 0 {
		sections = models.StringArray{"/"}
	}

	articles := make([]Article, 0, budget)
	for _, section := range sections {
		if len(articles) >= budget {
			break
		}
		sectionURL := base.ResolveReference(&url.URL{Path: section})

		found, fetchErr := e.extractSection(ctx, sectionURL.String(), base, budget-len(articles))
		if fetchErr != nil {
			return articles, fmt.Errorf("extract section %s: %w", section, fetchErr)
		}
		articles = append(articles, found...)
	}

	e.logger.Debug("metadata extraction complete",
		logger.String("source_id", source.ID),
		logger.Int("articles", len(articles)),
		logger.Int("budget", budget),
	)
	return articles, nil
}

func (e *MetadataExtractor) extractSection(ctx context.Context, sectionURL string, base *url.URL, budget int) ([]Article, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sectionURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", e.userAgent)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch section: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse HTML: %w", err)
	}

	articles := make([]Article, 0, budget)
	doc.Find("article a[href], h2 a[href], h3 a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		title := strings.TrimSpace(sel.Text())
		href, _ := sel.Attr("href")
		if title == "" || href == "" {
			return true
		}
		link, parseErr := url.Parse(href)
		if parseErr != nil {
			return true
		}
		articles = append(articles, Article{
			Title: title,
			URL:   base.ResolveReference(link).String(),
		})
		return len(articles) < budget
	})

	return articles, nil
}
