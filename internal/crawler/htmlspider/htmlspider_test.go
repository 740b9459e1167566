package htmlspider

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gazette-pipeline/internal/crawler"
)

func rangeAround(t time.Time) crawler.DateRange {
	return crawler.DateRange{Start: t.AddDate(0, 0, -3), End: t.AddDate(0, 0, 3)}
}

func TestCrawl_ParsesDatedPDFLinksWithinRange(t *testing.T) {
	pub := time.Date(2026, 7, 15, 0, 0, 0, 0, time.UTC)

	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/index.html", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`
			<html><body>
			<a href="/edicoes/2026-07-15-edicao-n123.pdf">Edição nº 123 - 2026-07-15</a>
			<a href="/edicoes/2020-01-01.pdf">Old edition</a>
			<a href="/about">About</a>
			</body></html>
		`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s, err := New(crawler.Config{
		TerritoryID: "city-1",
		Raw:         map[string]any{"indexUrl": srv.URL + "/index.html"},
	}, rangeAround(pub))
	require.NoError(t, err)

	candidates, err := s.Crawl(t.Context())
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	require.Equal(t, "city-1", candidates[0].TerritoryID)
	require.Equal(t, "123", candidates[0].EditionNumber)
	require.True(t, candidates[0].PublicationDate.Equal(pub))
	require.Equal(t, 2, s.RequestCount())
}

func TestCrawl_RobotsDisallowBlocksFetch(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("User-agent: *\nDisallow: /index.html\n"))
	})
	mux.HandleFunc("/index.html", func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("index.html should not be fetched when robots.txt disallows it")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s, err := New(crawler.Config{
		TerritoryID: "city-1",
		Raw:         map[string]any{"indexUrl": srv.URL + "/index.html"},
	}, rangeAround(time.Now()))
	require.NoError(t, err)

	_, err = s.Crawl(t.Context())
	require.Error(t, err)
}

func TestCrawl_RespectRobotsFalseSkipsCheck(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("User-agent: *\nDisallow: /index.html\n"))
	})
	mux.HandleFunc("/index.html", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body></body></html>`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s, err := New(crawler.Config{
		TerritoryID: "city-1",
		Raw:         map[string]any{"indexUrl": srv.URL + "/index.html", "respectRobots": false},
	}, rangeAround(time.Now()))
	require.NoError(t, err)

	candidates, err := s.Crawl(t.Context())
	require.NoError(t, err)
	require.Empty(t, candidates)
}

func TestNew_MissingIndexURLErrors(t *testing.T) {
	_, err := New(crawler.Config{TerritoryID: "city-1"}, crawler.DateRange{})
	require.Error(t, err)
}

func TestParseEdition(t *testing.T) {
	n, ok := parseEdition("Edição nº 456 de hoje")
	require.True(t, ok)
	require.Equal(t, 456, n)

	_, ok = parseEdition("sem numero de edicao")
	require.False(t, ok)
}
