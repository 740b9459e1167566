package analyzer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"gazette-pipeline/internal/model"
)

func TestEntityAnalyzer_ExtractsCPFAndMoney(t *testing.T) {
	a := NewEntityAnalyzer()
	text := "Pagamento ao CPF 123.456.789-01 no valor de R$ 1.500,00 referente ao contrato."
	out, err := a.Analyze(context.Background(), Input{Text: text})
	require.NoError(t, err)
	require.Len(t, out.Findings, 2)

	categories := map[string]bool{}
	for _, f := range out.Findings {
		require.Equal(t, model.FindingEntity, f.Type)
		categories[f.Category] = true
	}
	require.True(t, categories["cpf"])
	require.True(t, categories["monetary_value"])
}

func TestEntityAnalyzer_NoMatches(t *testing.T) {
	a := NewEntityAnalyzer()
	out, err := a.Analyze(context.Background(), Input{Text: "texto sem identificadores"})
	require.NoError(t, err)
	require.Empty(t, out.Findings)
}
