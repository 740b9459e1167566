// Package analyzer implements the pluggable analysis strategies run by
// the Analysis worker (C4c): keyword matching, public-competition
// ("concurso") extraction, named-entity recognition, and an optional
// LLM-backed analyzer. Each is grounded in the teacher's treatment of
// pluggable, config-gated strategies (internal/llm's provider switch)
// generalized from "LLM provider" to "analyzer kind".
package analyzer

import (
	"context"
	"time"

	"gazette-pipeline/internal/model"
)

// Input is the text and context handed to every analyzer.
type Input struct {
	Text            string
	TerritoryID     string
	GazetteID       string
	PublicationDate time.Time
}

// Output is what one analyzer run contributes to the aggregated
// AnalysisResult.
type Output struct {
	Findings []model.Finding
	TimingMs int64
}

// Analyzer is the contract each enabled strategy implements.
type Analyzer interface {
	Name() string
	Analyze(ctx context.Context, in Input) (Output, error)
}

// Config is the entry-config slice an Analyzer is built from.
type Config struct {
	Enabled         bool
	Priority        int
	Timeout         time.Duration
	UseAIExtraction bool
	Model           string
}
