// Package htmlspider is a reference Crawler implementation that parses a
// generic municipal gazette index page: an HTML page linking to dated PDF
// editions. Real per-source adapters are external to this system (see
// spec.md §1); this package only exists to exercise the abstract Crawler
// interface end to end, the way the teacher's goquery-based link
// discovery exercised its own Map/Scraper pair.
package htmlspider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/temoto/robotstxt"

	"gazette-pipeline/internal/crawler"
)

// dateFormats are tried in order against the link text/href surrounding
// each PDF anchor.
var dateFormats = []string{"2006-01-02", "02/01/2006", "02-01-2006"}

var editionRe = regexp.MustCompile(`(?i)edi[cç][aã]o\s*n?[ºo.]?\s*(\d+)`)
var extraRe = regexp.MustCompile(`(?i)extra`)

// Spider crawls a single municipality's gazette index page.
type Spider struct {
	territoryID   string
	indexURL      string
	power         string
	dateRange     crawler.DateRange
	client        *http.Client
	userAgent     string
	respectRobots bool
	requests      int
}

// New constructs a Spider from the generic plug-in Config. Config.Raw is
// expected to carry "indexUrl" and, optionally, "power" and "userAgent".
func New(cfg crawler.Config, dateRange crawler.DateRange) (crawler.Crawler, error) {
	indexURL, _ := cfg.Raw["indexUrl"].(string)
	if indexURL == "" {
		return nil, fmt.Errorf("htmlspider: config.raw.indexUrl is required")
	}
	power, _ := cfg.Raw["power"].(string)
	if power == "" {
		power = "executive"
	}
	userAgent, _ := cfg.Raw["userAgent"].(string)
	if userAgent == "" {
		userAgent = "gazette-pipeline-crawler/1.0"
	}
	respectRobots := true
	if v, ok := cfg.Raw["respectRobots"].(bool); ok {
		respectRobots = v
	}

	return &Spider{
		territoryID:   cfg.TerritoryID,
		indexURL:      indexURL,
		power:         power,
		dateRange:     dateRange,
		client:        &http.Client{Timeout: 30 * time.Second},
		userAgent:     userAgent,
		respectRobots: respectRobots,
	}, nil
}

// Crawl fetches the index page and returns one GazetteCandidate per PDF
// anchor whose inferred publication date falls within the configured range.
func (s *Spider) Crawl(ctx context.Context) ([]crawler.GazetteCandidate, error) {
	// An unreadable robots.txt is not fatal; treat it the same as an absent
	// one and fall back to crawling.
	if s.respectRobots {
		if allowed, err := s.checkRobots(ctx); err == nil && !allowed {
			return nil, fmt.Errorf("htmlspider: %s disallowed by robots.txt for %q", s.indexURL, s.userAgent)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.indexURL, nil)
	if err != nil {
		return nil, fmt.Errorf("htmlspider: build request: %w", err)
	}
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("htmlspider: fetch index: %w", err)
	}
	defer resp.Body.Close()
	s.requests++

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("htmlspider: index returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("htmlspider: read index: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("htmlspider: parse index: %w", err)
	}

	base, err := url.Parse(s.indexURL)
	if err != nil {
		return nil, fmt.Errorf("htmlspider: parse base url: %w", err)
	}

	now := time.Now().UTC()
	var out []crawler.GazetteCandidate

	doc.Find("a").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok || !strings.HasSuffix(strings.ToLower(strings.TrimSpace(href)), ".pdf") {
			return
		}
		text := strings.TrimSpace(sel.Text())

		pubDate, ok := extractDate(text, href)
		if !ok {
			return
		}
		if pubDate.Before(s.dateRange.Start) || pubDate.After(s.dateRange.End) {
			return
		}

		resolved, err := base.Parse(href)
		if err != nil {
			return
		}

		edition := ""
		if m := editionRe.FindStringSubmatch(text); len(m) == 2 {
			edition = m[1]
		}

		out = append(out, crawler.GazetteCandidate{
			TerritoryID:     s.territoryID,
			PublicationDate: pubDate,
			EditionNumber:   edition,
			PDFURL:          resolved.String(),
			IsExtraEdition:  extraRe.MatchString(text),
			Power:           s.power,
			ScrapedAt:       now,
			SourceText:      text,
		})
	})

	return out, nil
}

// checkRobots fetches the index host's robots.txt and reports whether
// s.indexURL may be fetched by s.userAgent.
func (s *Spider) checkRobots(ctx context.Context) (bool, error) {
	base, err := url.Parse(s.indexURL)
	if err != nil {
		return false, err
	}
	robotsURL := &url.URL{Scheme: base.Scheme, Host: base.Host, Path: "/robots.txt"}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL.String(), nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	s.requests++

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return false, err
	}

	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return false, err
	}

	group := data.FindGroup(s.userAgent)
	return group.Test(base.Path), nil
}

// RequestCount reports how many upstream HTTP requests this crawl made.
func (s *Spider) RequestCount() int {
	return s.requests
}

// extractDate tries every known date format against the anchor text and
// href, since municipal index pages rarely use a consistent format.
func extractDate(text, href string) (time.Time, bool) {
	candidates := []string{text, href}
	digitGroups := regexp.MustCompile(`\d{2}[-/]\d{2}[-/]\d{4}|\d{4}-\d{2}-\d{2}`)

	for _, c := range candidates {
		for _, match := range digitGroups.FindAllString(c, -1) {
			for _, layout := range dateFormats {
				if t, err := time.Parse(layout, match); err == nil {
					return t, true
				}
			}
		}
	}
	return time.Time{}, false
}

// parseEdition is exposed for tests that want to check edition number
// extraction directly without a full crawl.
func parseEdition(text string) (int, bool) {
	m := editionRe.FindStringSubmatch(text)
	if len(m) != 2 {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}
