package analyzer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"gazette-pipeline/internal/model"
)

type stubStoreReader struct {
	results []model.AnalysisResult
}

func (s stubStoreReader) ListRecentFindingsForTerritory(ctx context.Context, territoryID string, windowHours, maxRows int) ([]model.AnalysisResult, error) {
	return s.results, nil
}

func TestDeduplicator_DropsExactRepeatWithinWindow(t *testing.T) {
	d := NewDeduplicator(stubStoreReader{}, 0.85, 24, 1000)
	ctx := context.Background()

	f := model.Finding{Type: model.FindingKeyword, Category: "procurement", Context: "licitação 01/2026"}

	survivors, dropped, err := d.Filter(ctx, "terr-1", []model.Finding{f})
	require.NoError(t, err)
	require.Len(t, survivors, 1)
	require.Equal(t, 0, dropped)

	survivors, dropped, err = d.Filter(ctx, "terr-1", []model.Finding{f})
	require.NoError(t, err)
	require.Empty(t, survivors)
	require.Equal(t, 1, dropped)
}

func TestDeduplicator_DifferentTerritoryNotDeduped(t *testing.T) {
	d := NewDeduplicator(stubStoreReader{}, 0.85, 24, 1000)
	ctx := context.Background()
	f := model.Finding{Type: model.FindingKeyword, Category: "procurement", Context: "licitação 01/2026"}

	_, _, err := d.Filter(ctx, "terr-1", []model.Finding{f})
	require.NoError(t, err)

	survivors, dropped, err := d.Filter(ctx, "terr-2", []model.Finding{f})
	require.NoError(t, err)
	require.Len(t, survivors, 1)
	require.Equal(t, 0, dropped)
}

func TestDeduplicator_ConsultsStoreForConcursoFindings(t *testing.T) {
	existing := model.Finding{
		Type: model.FindingConcurso,
		Data: map[string]any{"orgao": "Prefeitura", "editalNumero": "01/2026"},
	}
	store := stubStoreReader{results: []model.AnalysisResult{{Findings: []model.Finding{existing}}}}
	d := NewDeduplicator(store, 0.85, 24, 1000)

	incoming := model.Finding{
		Type: model.FindingConcurso,
		Data: map[string]any{"orgao": "Prefeitura", "editalNumero": "01/2026"},
	}
	survivors, dropped, err := d.Filter(context.Background(), "terr-1", []model.Finding{incoming})
	require.NoError(t, err)
	require.Empty(t, survivors)
	require.Equal(t, 1, dropped)
}

func TestFindingHash_StableForSameInputs(t *testing.T) {
	f := model.Finding{Type: model.FindingConcurso, Category: "concurso_publico", Data: map[string]any{"orgao": "X"}}
	h1 := FindingHash(f, "terr-1")
	h2 := FindingHash(f, "terr-1")
	require.Equal(t, h1, h2)

	h3 := FindingHash(f, "terr-2")
	require.NotEqual(t, h1, h3)
}
