package ocr

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"gazette-pipeline/internal/config"
)

func TestProcess_SuccessResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"success","extractedText":"hello","pagesProcessed":3,"processingTimeMs":120}`))
	}))
	defer srv.Close()

	client := NewHTTPClient(config.OcrConfig{ProviderURL: srv.URL, MistralAPIKey: "test-key", TimeoutSeconds: 5})
	result, err := client.Process(context.Background(), "https://example.com/a.pdf", nil)
	require.NoError(t, err)
	require.Equal(t, StatusSuccess, result.Status)
	require.Equal(t, "hello", result.ExtractedText)
	require.Equal(t, 3, result.PagesProcessed)
}

func TestProcess_ClientErrorIsDocumentedFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte("unsupported document"))
	}))
	defer srv.Close()

	client := NewHTTPClient(config.OcrConfig{ProviderURL: srv.URL, TimeoutSeconds: 5})
	result, err := client.Process(context.Background(), "https://example.com/a.pdf", nil)
	require.NoError(t, err)
	require.Equal(t, StatusFailure, result.Status)
	require.Equal(t, "PROVIDER_REJECTED", result.Error.Code)
}

func TestProcess_ServerErrorIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewHTTPClient(config.OcrConfig{ProviderURL: srv.URL, TimeoutSeconds: 5})
	_, err := client.Process(context.Background(), "https://example.com/a.pdf", nil)
	require.Error(t, err)
}
