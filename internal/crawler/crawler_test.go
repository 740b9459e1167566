package crawler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func fakeFactory(cfg Config, dateRange DateRange) (Crawler, error) {
	return nil, nil
}

func newTestRegistry() *Registry {
	r := NewRegistry()
	r.Register("htmlspider-a", fakeFactory,
		Descriptor{SpiderType: "htmlspider-a", TerritoryID: "city-1", Platform: "platform-x"},
		Descriptor{SpiderType: "htmlspider-a", TerritoryID: "city-2", Platform: "platform-x"},
	)
	r.Register("htmlspider-b", fakeFactory,
		Descriptor{SpiderType: "htmlspider-b", TerritoryID: "city-3", Platform: "platform-y"},
	)
	return r
}

func TestResolveTerritory_FindsAcrossSpiderTypes(t *testing.T) {
	r := newTestRegistry()

	desc, ok := r.ResolveTerritory("city-3", "")
	require.True(t, ok)
	require.Equal(t, "htmlspider-b", desc.SpiderType)
}

func TestResolveTerritory_PlatformFilterExcludesMismatch(t *testing.T) {
	r := newTestRegistry()

	_, ok := r.ResolveTerritory("city-1", "platform-y")
	require.False(t, ok)
}

func TestResolveTerritory_UnknownReturnsFalse(t *testing.T) {
	r := newTestRegistry()

	_, ok := r.ResolveTerritory("nowhere", "")
	require.False(t, ok)
}

func TestAllTerritories_NoFilterReturnsEverything(t *testing.T) {
	r := newTestRegistry()

	all := r.AllTerritories("")
	require.Len(t, all, 3)
}

func TestAllTerritories_FilteredByPlatform(t *testing.T) {
	r := newTestRegistry()

	filtered := r.AllTerritories("platform-x")
	require.Len(t, filtered, 2)
	for _, d := range filtered {
		require.Equal(t, "platform-x", d.Platform)
	}
}

func TestCountAndPlatformTotals(t *testing.T) {
	r := newTestRegistry()

	require.Equal(t, 2, r.Count())
	require.Equal(t, map[string]int{"platform-x": 2, "platform-y": 1}, r.PlatformTotals())
}

func TestResolve_UnknownSpiderTypeErrors(t *testing.T) {
	r := newTestRegistry()

	_, err := r.Resolve("nope", Config{}, DateRange{})
	require.Error(t, err)
}

func TestResolve_KnownSpiderTypeDelegatesToFactory(t *testing.T) {
	r := newTestRegistry()

	c, err := r.Resolve("htmlspider-a", Config{TerritoryID: "city-1"}, DateRange{})
	require.NoError(t, err)
	require.Nil(t, c)
}
