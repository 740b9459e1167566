package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"gazette-pipeline/internal/model"
)

// AIAnalyzer delegates general-purpose finding extraction to an
// OpenAI-compatible Chat Completions endpoint, following the same
// request/response shape as the teacher's internal/llm openAIClient —
// the teacher's LLM layer generalized from "field extraction for a
// crawler" to "analyzer producing Findings for a gazette".
type AIAnalyzer struct {
	apiKey  string
	baseURL string
	model   string
	http    *http.Client
}

func NewAIAnalyzer(apiKey, baseURL, model string) *AIAnalyzer {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &AIAnalyzer{
		apiKey:  apiKey,
		baseURL: baseURL,
		model:   model,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (a *AIAnalyzer) Name() string { return "ai" }

type chatRequest struct {
	Model          string              `json:"model"`
	Messages       []chatMessage       `json:"messages"`
	Temperature    float64             `json:"temperature"`
	ResponseFormat *chatResponseFormat `json:"response_format,omitempty"`
}

type chatResponseFormat struct {
	Type string `json:"type"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

const findingsPrompt = `You are a JSON-only extractor analyzing an official municipal gazette. Identify noteworthy findings (appointments, contracts, sanctions, budget items). Respond with a JSON object: {"findings":[{"category":"...","confidence":0-1,"data":{...},"context":"..."}]}.

Gazette text:
%s`

func (a *AIAnalyzer) Analyze(ctx context.Context, in Input) (Output, error) {
	started := time.Now()
	if a.apiKey == "" {
		return Output{}, errors.New("ai analyzer: no api key configured")
	}

	text := in.Text
	if len(text) > 12000 {
		text = text[:12000]
	}

	reqBody, err := json.Marshal(chatRequest{
		Model: a.model,
		Messages: []chatMessage{
			{Role: "user", Content: fmt.Sprintf(findingsPrompt, text)},
		},
		Temperature:    0,
		ResponseFormat: &chatResponseFormat{Type: "json_object"},
	})
	if err != nil {
		return Output{}, fmt.Errorf("ai analyzer: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return Output{}, fmt.Errorf("ai analyzer: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.http.Do(req)
	if err != nil {
		return Output{}, fmt.Errorf("ai analyzer: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Output{}, fmt.Errorf("ai analyzer: provider returned %d", resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Output{}, fmt.Errorf("ai analyzer: decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return Output{}, errors.New("ai analyzer: empty response")
	}

	findings, err := parseFindings(parsed.Choices[0].Message.Content)
	if err != nil {
		return Output{}, fmt.Errorf("ai analyzer: parse findings: %w", err)
	}

	return Output{Findings: findings, TimingMs: time.Since(started).Milliseconds()}, nil
}

type findingsEnvelope struct {
	Findings []struct {
		Category   string         `json:"category"`
		Confidence float64        `json:"confidence"`
		Data       map[string]any `json:"data"`
		Context    string         `json:"context"`
	} `json:"findings"`
}

func parseFindings(content string) ([]model.Finding, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end <= start {
		return nil, errors.New("no JSON object in ai response")
	}
	var env findingsEnvelope
	if err := json.Unmarshal([]byte(content[start:end+1]), &env); err != nil {
		return nil, err
	}
	findings := make([]model.Finding, 0, len(env.Findings))
	for _, f := range env.Findings {
		findings = append(findings, model.Finding{
			Type:       model.FindingAI,
			Category:   f.Category,
			Confidence: f.Confidence,
			Data:       f.Data,
			Context:    f.Context,
		})
	}
	return findings, nil
}

// ExtractConcurso implements AIExtractor for ConcursoAnalyzer, reusing the
// same chat-completions call with a concurso-specific extraction prompt.
func (a *AIAnalyzer) ExtractConcurso(ctx context.Context, text, modelName string) (map[string]any, error) {
	if a.apiKey == "" {
		return nil, errors.New("ai analyzer: no api key configured")
	}
	if modelName == "" {
		modelName = a.model
	}
	if len(text) > 12000 {
		text = text[:12000]
	}

	prompt := fmt.Sprintf(`Extract public-competition ("concurso público") attributes from this gazette text as JSON: {"orgao":"...","editalNumero":"...","totalVagas":N,"cargos":["..."],"datas":["..."],"taxas":["..."],"banca":"..."}.

Text:
%s`, text)

	reqBody, err := json.Marshal(chatRequest{
		Model:          modelName,
		Messages:       []chatMessage{{Role: "user", Content: prompt}},
		Temperature:    0,
		ResponseFormat: &chatResponseFormat{Type: "json_object"},
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ai analyzer: provider returned %d", resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}
	if len(parsed.Choices) == 0 {
		return nil, errors.New("ai analyzer: empty response")
	}

	start := strings.Index(parsed.Choices[0].Message.Content, "{")
	end := strings.LastIndex(parsed.Choices[0].Message.Content, "}")
	if start == -1 || end <= start {
		return nil, errors.New("no JSON object in ai response")
	}
	var data map[string]any
	if err := json.Unmarshal([]byte(parsed.Choices[0].Message.Content[start:end+1]), &data); err != nil {
		return nil, err
	}
	return data, nil
}
