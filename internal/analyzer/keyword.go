package analyzer

import (
	"context"
	"strings"
	"time"

	"gazette-pipeline/internal/model"
)

// KeywordAnalyzer flags configured terms found verbatim (case-insensitive)
// in the gazette text. It is the cheapest analyzer.
type KeywordAnalyzer struct {
	Keywords map[string]string // keyword -> category
}

func NewKeywordAnalyzer(keywords map[string]string) *KeywordAnalyzer {
	return &KeywordAnalyzer{Keywords: keywords}
}

func (a *KeywordAnalyzer) Name() string { return "keyword" }

func (a *KeywordAnalyzer) Analyze(ctx context.Context, in Input) (Output, error) {
	started := time.Now()
	lower := strings.ToLower(in.Text)

	var findings []model.Finding
	for kw, category := range a.Keywords {
		idx := strings.Index(lower, strings.ToLower(kw))
		if idx < 0 {
			continue
		}
		findings = append(findings, model.Finding{
			Type:       model.FindingKeyword,
			Category:   category,
			Confidence: 1.0,
			Data:       map[string]any{"keyword": kw},
			Context:    excerpt(in.Text, idx, len(kw)),
		})
	}

	return Output{Findings: findings, TimingMs: time.Since(started).Milliseconds()}, nil
}

// excerpt returns the text at [at, at+n) plus up to 40 bytes on each side,
// trimmed of surrounding whitespace, used to populate Finding.Context.
func excerpt(text string, at, n int) string {
	const radius = 40
	start := at - radius
	if start < 0 {
		start = 0
	}
	end := at + n + radius
	if end > len(text) {
		end = len(text)
	}
	return strings.TrimSpace(text[start:end])
}
