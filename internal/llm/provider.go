package llm

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"empathy/internal/domain"
)

type Provider interface {
	Complete(ctx context.Context, req domain.LLMRequest) (domain.LLMResponse, error)
}

const (
	VendorOpenAI = "openai"
	VendorClaude = "claude"
	VendorOllama = "ollama"
)

type Credential struct {
	Name   string
	APIKey string
}

// PathConfig describes one vendor backend. Its attempts are every credential
// crossed with every model, credential-major.
type PathConfig struct {
	Vendor      string
	BaseURL     string
	Credentials []Credential
	Models      []string
}

func NewProvider(client *http.Client, vendor, baseURL, apiKey string) (Provider, error) {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}

	switch vendor {
	case VendorOpenAI:
		return NewOpenAIProvider(client, baseURL, apiKey), nil
	case VendorClaude:
		return NewClaudeProvider(client, baseURL, apiKey), nil
	case VendorOllama:
		return NewOllamaProvider(client, baseURL), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", vendor)
	}
}

// BuildPaths turns configuration into ordered vendor paths.
func BuildPaths(client *http.Client, cfgs []PathConfig) ([]Path, error) {
	paths := make([]Path, 0, len(cfgs))
	for _, cfg := range cfgs {
		if len(cfg.Models) == 0 {
			return nil, fmt.Errorf("vendor %s: no models configured", cfg.Vendor)
		}
		creds := cfg.Credentials
		if len(creds) == 0 {
			creds = []Credential{{Name: "default"}}
		}
		path := Path{Vendor: cfg.Vendor}
		for i, cred := range creds {
			name := cred.Name
			if name == "" {
				name = fmt.Sprintf("key%d", i+1)
			}
			p, err := NewProvider(client, cfg.Vendor, cfg.BaseURL, cred.APIKey)
			if err != nil {
				return nil, err
			}
			for _, model := range cfg.Models {
				path.Attempts = append(path.Attempts, Attempt{Credential: name, Model: model, Provider: p})
			}
		}
		paths = append(paths, path)
	}
	return paths, nil
}
