// Package ocr is the HTTP client boundary to the OCR provider, an
// external collaborator out of scope per spec §1 — only its contract
// matters. It is modeled the way the teacher's internal/llm package
// talks to its provider APIs: a thin Client interface plus one HTTP
// implementation, documented failure modes returned as data rather
// than thrown.
package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"gazette-pipeline/internal/config"
)

// Status mirrors the {status, extractedText?, pagesProcessed,
// processingTimeMs, error?, pdfObjectKey?} contract from spec §6.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// ErrorDetail carries a documented OCR failure; these never come back as
// a Go error from Process — only transport failures do.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Result is the outcome of one OCR invocation.
type Result struct {
	Status           Status       `json:"status"`
	ExtractedText    string       `json:"extractedText,omitempty"`
	PagesProcessed   int          `json:"pagesProcessed"`
	ProcessingTimeMs int64        `json:"processingTimeMs"`
	Error            *ErrorDetail `json:"error,omitempty"`
	PDFObjectKey     string       `json:"pdfObjectKey,omitempty"`
}

// Client is the contract consumed by the OCR worker (C4b).
type Client interface {
	// Process submits pdfUrl for text extraction. Documented OCR
	// failures are returned as Result{Status: StatusFailure}, not as an
	// error; a non-nil error means the call itself could not be made
	// (transport failure, a 5xx or 429 from the provider, bad response
	// body). Any other 4xx comes back as a StatusFailure Result.
	Process(ctx context.Context, pdfURL string, metadata map[string]any) (Result, error)
}

// httpClient implements Client against an HTTP OCR provider configured
// with a base URL and a Mistral-compatible bearer API key.
type httpClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewHTTPClient builds a Client from OCR configuration.
func NewHTTPClient(cfg config.OcrConfig) Client {
	return &httpClient{
		baseURL: cfg.ProviderURL,
		apiKey:  cfg.MistralAPIKey,
		http:    &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
	}
}

type processRequest struct {
	URL      string         `json:"url"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type providerResponse struct {
	Status           string       `json:"status"`
	ExtractedText    string       `json:"extractedText"`
	PagesProcessed   int          `json:"pagesProcessed"`
	ProcessingTimeMs int64        `json:"processingTimeMs"`
	Error            *ErrorDetail `json:"error"`
	PDFObjectKey     string       `json:"pdfObjectKey"`
}

func (c *httpClient) Process(ctx context.Context, pdfURL string, metadata map[string]any) (Result, error) {
	started := time.Now()

	body, err := json.Marshal(processRequest{URL: pdfURL, Metadata: metadata})
	if err != nil {
		return Result{}, fmt.Errorf("ocr: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/ocr/process", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("ocr: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("ocr: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("ocr: read response: %w", err)
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return Result{}, fmt.Errorf("ocr: provider returned %d: %s", resp.StatusCode, string(raw))
	}
	if resp.StatusCode >= 400 {
		// Client-side rejection is a documented failure, not a transport error.
		return Result{
			Status:           StatusFailure,
			ProcessingTimeMs: time.Since(started).Milliseconds(),
			Error:            &ErrorDetail{Code: "PROVIDER_REJECTED", Message: fmt.Sprintf("provider returned %d", resp.StatusCode), Details: string(raw)},
		}, nil
	}

	var parsed providerResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Result{}, fmt.Errorf("ocr: decode response: %w", err)
	}

	result := Result{
		Status:           Status(parsed.Status),
		ExtractedText:    parsed.ExtractedText,
		PagesProcessed:   parsed.PagesProcessed,
		ProcessingTimeMs: parsed.ProcessingTimeMs,
		Error:            parsed.Error,
		PDFObjectKey:     parsed.PDFObjectKey,
	}
	if result.ProcessingTimeMs == 0 {
		result.ProcessingTimeMs = time.Since(started).Milliseconds()
	}
	return result, nil
}
