package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"empathy/internal/domain"
	"empathy/internal/provider"
)

// OllamaProvider uses the non-streaming /api/generate endpoint, so the
// conversation is flattened into a single prompt.
type OllamaProvider struct {
	client  *http.Client
	baseURL string
}

func NewOllamaProvider(client *http.Client, baseURL string) *OllamaProvider {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &OllamaProvider{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

type ollamaRequest struct {
	Model   string         `json:"model"`
	System  string         `json:"system,omitempty"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

func (p *OllamaProvider) Complete(ctx context.Context, req domain.LLMRequest) (domain.LLMResponse, error) {
	payload := ollamaRequest{
		Model:  req.Model,
		System: req.System,
		Prompt: flattenPrompt(req.Messages),
	}
	if req.MaxTokens > 0 || req.Temperature > 0 {
		payload.Options = map[string]any{}
		if req.MaxTokens > 0 {
			payload.Options["num_predict"] = req.MaxTokens
		}
		if req.Temperature > 0 {
			payload.Options["temperature"] = req.Temperature
		}
	}

	buf, err := json.Marshal(payload)
	if err != nil {
		return domain.LLMResponse{}, fmt.Errorf("marshal ollama request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/generate", bytes.NewReader(buf))
	if err != nil {
		return domain.LLMResponse{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return domain.LLMResponse{}, fmt.Errorf("post to ollama: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if resp.StatusCode >= 300 {
		return domain.LLMResponse{}, provider.StatusError("ollama", resp.StatusCode, body)
	}

	var out ollamaResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return domain.LLMResponse{}, provider.Malformed("ollama", fmt.Errorf("decode ollama response: %w", err))
	}
	if out.Error != "" {
		return domain.LLMResponse{}, fmt.Errorf("ollama error: %s", out.Error)
	}
	return domain.LLMResponse{Content: out.Response}, nil
}

func flattenPrompt(msgs []domain.Message) string {
	if len(msgs) == 1 {
		return msgs[0].Content
	}
	var b strings.Builder
	for _, m := range msgs {
		switch m.Role {
		case domain.RoleUser:
			b.WriteString("User: ")
		case domain.RoleAssistant:
			b.WriteString("Assistant: ")
		}
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	b.WriteString("Assistant:")
	return b.String()
}
