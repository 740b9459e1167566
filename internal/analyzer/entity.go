package analyzer

import (
	"context"
	"regexp"
	"time"

	"gazette-pipeline/internal/model"
)

var (
	cpfRe   = regexp.MustCompile(`\b\d{3}\.\d{3}\.\d{3}-\d{2}\b`)
	cnpjRe  = regexp.MustCompile(`\b\d{2}\.\d{3}\.\d{3}/\d{4}-\d{2}\b`)
	moneyRe = regexp.MustCompile(`R\$\s?[\d.]+,\d{2}`)
)

// EntityAnalyzer extracts CPF/CNPJ identifiers and monetary values via
// regular expressions — a lightweight stand-in for full named-entity
// recognition, good enough to flag documents worth a closer look.
type EntityAnalyzer struct{}

func NewEntityAnalyzer() *EntityAnalyzer { return &EntityAnalyzer{} }

func (a *EntityAnalyzer) Name() string { return "entity" }

func (a *EntityAnalyzer) Analyze(ctx context.Context, in Input) (Output, error) {
	started := time.Now()
	var findings []model.Finding

	findings = append(findings, extractAll(in.Text, cpfRe, "cpf")...)
	findings = append(findings, extractAll(in.Text, cnpjRe, "cnpj")...)
	findings = append(findings, extractAll(in.Text, moneyRe, "monetary_value")...)

	return Output{Findings: findings, TimingMs: time.Since(started).Milliseconds()}, nil
}

func extractAll(text string, re *regexp.Regexp, category string) []model.Finding {
	locs := re.FindAllStringIndex(text, -1)
	findings := make([]model.Finding, 0, len(locs))
	for _, loc := range locs {
		match := text[loc[0]:loc[1]]
		findings = append(findings, model.Finding{
			Type:       model.FindingEntity,
			Category:   category,
			Confidence: 0.9,
			Data:       map[string]any{"value": match},
			Context:    excerpt(text, loc[0], loc[1]-loc[0]),
		})
	}
	return findings
}
