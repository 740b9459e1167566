package analyzer

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gazette-pipeline/internal/model"
)

var (
	editalRe = regexp.MustCompile(`(?i)edital\s*n?[ºo°.]?\s*([\d./-]+)`)
	vagasRe  = regexp.MustCompile(`(?i)(\d+)\s*vaga`)
	orgaoRe  = regexp.MustCompile(`(?i)(prefeitura|secretaria|câmara municipal|camara municipal)\s+[a-zçãõáéíóú ]{0,60}`)
	bancaRe  = regexp.MustCompile(`(?i)(cebraspe|fgv|fcc|vunesp|cespe|consulplan|ibfc|idecan|avan[çc]a)`)
	cargoRe  = regexp.MustCompile(`(?i)cargo[s]?\s*(?:de|:)?\s*([a-zçãõáéíóú /,-]{3,60})`)
)

// AIExtractor is the narrow seam through which ConcursoAnalyzer may
// delegate to an LLM when UseAIExtraction is set; AIAnalyzer implements it.
type AIExtractor interface {
	ExtractConcurso(ctx context.Context, text, model string) (map[string]any, error)
}

// ConcursoAnalyzer detects public-competition ("concurso público") notices
// and extracts their structured attributes. By default it uses regex
// heuristics over the gazette text; when UseAIExtraction is configured it
// delegates extraction to AIExtractor and keeps the regex pass only as a
// presence check.
type ConcursoAnalyzer struct {
	UseAIExtraction bool
	Model           string
	AI              AIExtractor
}

func NewConcursoAnalyzer(cfg Config, ai AIExtractor) *ConcursoAnalyzer {
	return &ConcursoAnalyzer{UseAIExtraction: cfg.UseAIExtraction, Model: cfg.Model, AI: ai}
}

func (a *ConcursoAnalyzer) Name() string { return "concurso" }

func (a *ConcursoAnalyzer) Analyze(ctx context.Context, in Input) (Output, error) {
	started := time.Now()

	editalMatch := editalRe.FindStringSubmatch(in.Text)
	if editalMatch == nil && !strings.Contains(strings.ToLower(in.Text), "concurso público") && !strings.Contains(strings.ToLower(in.Text), "concurso publico") {
		return Output{TimingMs: time.Since(started).Milliseconds()}, nil
	}

	data := a.extractRegex(in.Text)
	confidence := 0.6
	if editalMatch != nil {
		confidence = 0.75
	}

	extractionMethod := "regex"
	if a.UseAIExtraction && a.AI != nil {
		aiData, err := a.AI.ExtractConcurso(ctx, in.Text, a.Model)
		if err == nil && len(aiData) > 0 {
			data = aiData
			confidence = 0.9
			extractionMethod = "ai"
		}
	}
	data["_extractionMethod"] = extractionMethod

	finding := model.Finding{
		Type:       model.FindingConcurso,
		Category:   "concurso_publico",
		Confidence: confidence,
		Data:       data,
		Context:    excerpt(in.Text, indexOfAny(in.Text, editalMatch), 20),
	}

	return Output{Findings: []model.Finding{finding}, TimingMs: time.Since(started).Milliseconds()}, nil
}

func (a *ConcursoAnalyzer) extractRegex(text string) map[string]any {
	data := map[string]any{}

	if m := editalRe.FindStringSubmatch(text); m != nil {
		data["editalNumero"] = strings.TrimSpace(m[1])
	}
	if m := orgaoRe.FindString(text); m != "" {
		data["orgao"] = strings.TrimSpace(m)
	}
	if m := bancaRe.FindString(text); m != "" {
		data["banca"] = strings.ToUpper(strings.TrimSpace(m))
	}
	if m := vagasRe.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			data["totalVagas"] = n
		}
	}
	var cargos []string
	for _, m := range cargoRe.FindAllStringSubmatch(text, 5) {
		cargos = append(cargos, strings.TrimSpace(m[1]))
	}
	if len(cargos) > 0 {
		data["cargos"] = cargos
	}

	return data
}

func indexOfAny(text string, match []string) int {
	if match == nil {
		return 0
	}
	idx := strings.Index(text, match[0])
	if idx < 0 {
		return 0
	}
	return idx
}

// ToConcursoFinding projects a concurso model.Finding's Data map onto the
// dedicated ConcursoFinding row shape persisted by the store.
func ToConcursoFinding(f model.Finding, analysisJobID, gazetteID, territoryID string) model.ConcursoFinding {
	cf := model.ConcursoFinding{
		AnalysisJobID: analysisJobID,
		GazetteID:     gazetteID,
		TerritoryID:   territoryID,
		Confidence:    f.Confidence,
	}
	if v, ok := f.Data["orgao"].(string); ok {
		cf.Orgao = &v
	}
	if v, ok := f.Data["editalNumero"].(string); ok {
		cf.EditalNumero = &v
	}
	if v, ok := f.Data["banca"].(string); ok {
		cf.Banca = v
	}
	if v, ok := f.Data["totalVagas"].(int); ok {
		cf.TotalVagas = v
	} else if v, ok := f.Data["totalVagas"].(float64); ok {
		cf.TotalVagas = int(v)
	}
	if v, ok := f.Data["cargos"].([]string); ok {
		cf.Cargos = v
	}
	if v, ok := f.Data["datas"].([]string); ok {
		cf.Datas = v
	}
	if v, ok := f.Data["taxas"].([]string); ok {
		cf.Taxas = v
	}
	if v, ok := f.Data["_extractionMethod"].(string); ok {
		cf.ExtractionMethod = v
	} else {
		cf.ExtractionMethod = "regex"
	}
	return cf
}
