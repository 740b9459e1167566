package analyzer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeywordAnalyzer_FindsConfiguredTerm(t *testing.T) {
	a := NewKeywordAnalyzer(map[string]string{"licitação": "procurement"})
	out, err := a.Analyze(context.Background(), Input{Text: "Aviso de LICITAÇÃO número 01/2026."})
	require.NoError(t, err)
	require.Len(t, out.Findings, 1)
	require.Equal(t, "procurement", out.Findings[0].Category)
}

func TestKeywordAnalyzer_NoMatch(t *testing.T) {
	a := NewKeywordAnalyzer(map[string]string{"licitação": "procurement"})
	out, err := a.Analyze(context.Background(), Input{Text: "Nada relevante aqui."})
	require.NoError(t, err)
	require.Empty(t, out.Findings)
}
