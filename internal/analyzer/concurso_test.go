package analyzer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"gazette-pipeline/internal/model"
)

func TestConcursoAnalyzer_ExtractsEditalAndVagas(t *testing.T) {
	a := NewConcursoAnalyzer(Config{}, nil)
	text := "A Prefeitura Municipal de Exemplo torna público o Edital nº 001/2026 do concurso público, oferecendo 15 vagas. Banca organizadora: CEBRASPE."
	out, err := a.Analyze(context.Background(), Input{Text: text})
	require.NoError(t, err)
	require.Len(t, out.Findings, 1)

	f := out.Findings[0]
	require.Equal(t, model.FindingConcurso, f.Type)
	require.Equal(t, "001/2026", f.Data["editalNumero"])
	require.Equal(t, 15, f.Data["totalVagas"])
	require.Equal(t, "CEBRASPE", f.Data["banca"])
}

func TestConcursoAnalyzer_NoConcursoSignalReturnsNoFindings(t *testing.T) {
	a := NewConcursoAnalyzer(Config{}, nil)
	out, err := a.Analyze(context.Background(), Input{Text: "Extrato de contrato de fornecimento de merenda escolar."})
	require.NoError(t, err)
	require.Empty(t, out.Findings)
}

type stubAIExtractor struct {
	data map[string]any
}

func (s stubAIExtractor) ExtractConcurso(ctx context.Context, text, model string) (map[string]any, error) {
	return s.data, nil
}

func TestConcursoAnalyzer_UsesAIWhenConfigured(t *testing.T) {
	ai := stubAIExtractor{data: map[string]any{"orgao": "Secretaria de Educação", "totalVagas": 3}}
	a := NewConcursoAnalyzer(Config{UseAIExtraction: true, Model: "gpt-4o-mini"}, ai)
	text := "Edital nº 002/2026 - concurso público para professores."
	out, err := a.Analyze(context.Background(), Input{Text: text})
	require.NoError(t, err)
	require.Len(t, out.Findings, 1)
	require.Equal(t, "Secretaria de Educação", out.Findings[0].Data["orgao"])
	require.Equal(t, "ai", out.Findings[0].Data["_extractionMethod"])
}

func TestToConcursoFinding_ProjectsDataFields(t *testing.T) {
	f := model.Finding{
		Type:       model.FindingConcurso,
		Confidence: 0.8,
		Data: map[string]any{
			"orgao":        "Prefeitura",
			"editalNumero": "01/2026",
			"totalVagas":   5,
			"banca":        "FGV",
			"cargos":       []string{"Professor"},
		},
	}
	cf := ToConcursoFinding(f, "analysis-1", "gazette-1", "territory-1")
	require.Equal(t, "analysis-1", cf.AnalysisJobID)
	require.Equal(t, "Prefeitura", *cf.Orgao)
	require.Equal(t, "01/2026", *cf.EditalNumero)
	require.Equal(t, 5, cf.TotalVagas)
	require.Equal(t, "FGV", cf.Banca)
	require.Equal(t, []string{"Professor"}, cf.Cargos)
	require.Equal(t, "regex", cf.ExtractionMethod)
}
