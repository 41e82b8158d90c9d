package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"empathy/internal/domain"
	"empathy/internal/language"
	"empathy/internal/provider"
)

// LibreTranslate speaks the /translate API with ISO codes.
type LibreTranslate struct {
	client  *http.Client
	baseURL string
	apiKey  string
}

func NewLibreTranslate(client *http.Client, baseURL, apiKey string) *LibreTranslate {
	return &LibreTranslate{client: client, baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey}
}

func (p *LibreTranslate) Name() string { return "libretranslate" }

func (p *LibreTranslate) Translate(ctx context.Context, text, from, to string) (string, error) {
	source, ok := language.ToDialect(from, language.DialectISO)
	if !ok {
		return "", &provider.Error{Provider: p.Name(), Class: provider.ClassNotFound, Err: fmt.Errorf("unsupported source language %q", from)}
	}
	target, ok := language.ToDialect(to, language.DialectISO)
	if !ok {
		return "", &provider.Error{Provider: p.Name(), Class: provider.ClassNotFound, Err: fmt.Errorf("unsupported target language %q", to)}
	}

	payload := map[string]string{
		"q":      text,
		"source": source,
		"target": target,
		"format": "text",
	}
	if p.apiKey != "" {
		payload["api_key"] = p.apiKey
	}
	buf, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/translate", bytes.NewReader(buf))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode >= 300 {
		return "", provider.StatusError(p.Name(), resp.StatusCode, body)
	}
	var parsed struct {
		TranslatedText string `json:"translatedText"`
		Error          string `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", provider.Malformed(p.Name(), err)
	}
	if parsed.Error != "" {
		return "", provider.Malformed(p.Name(), errors.New(parsed.Error))
	}
	return parsed.TranslatedText, nil
}

// DeepL speaks the v2 API with upper-case, region-qualified codes.
type DeepL struct {
	client  *http.Client
	baseURL string
	apiKey  string
}

func NewDeepL(client *http.Client, baseURL, apiKey string) *DeepL {
	return &DeepL{client: client, baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey}
}

func (p *DeepL) Name() string { return "deepl" }

func (p *DeepL) Translate(ctx context.Context, text, from, to string) (string, error) {
	target, ok := language.ToDialect(to, language.DialectDeepL)
	if !ok {
		return "", &provider.Error{Provider: p.Name(), Class: provider.ClassNotFound, Err: fmt.Errorf("unsupported target language %q", to)}
	}
	payload := map[string]any{
		"text":        []string{text},
		"target_lang": target,
	}
	// DeepL accepts only the base code for the source side.
	if source, ok := language.ToDialect(from, language.DialectDeepL); ok {
		payload["source_lang"] = strings.SplitN(source, "-", 2)[0]
	}
	buf, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v2/translate", bytes.NewReader(buf))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "DeepL-Auth-Key "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode == 456 {
		return "", &provider.Error{Provider: p.Name(), Status: resp.StatusCode, Class: provider.ClassQuota, Err: errors.New("quota exceeded")}
	}
	if resp.StatusCode >= 300 {
		return "", provider.StatusError(p.Name(), resp.StatusCode, body)
	}
	var parsed struct {
		Translations []struct {
			DetectedSourceLanguage string `json:"detected_source_language"`
			Text                   string `json:"text"`
		} `json:"translations"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", provider.Malformed(p.Name(), err)
	}
	if len(parsed.Translations) == 0 {
		return "", provider.Malformed(p.Name(), errors.New("no translations"))
	}
	return parsed.Translations[0].Text, nil
}

// Completer is the slice of a language model the translator needs.
type Completer interface {
	Complete(ctx context.Context, req domain.LLMRequest) (domain.LLMResponse, error)
}

// LLMTranslator prompts a general model to act as a translator.
type LLMTranslator struct {
	name  string
	llm   Completer
	model string
}

func NewLLMTranslator(name string, llm Completer, model string) *LLMTranslator {
	return &LLMTranslator{name: name, llm: llm, model: model}
}

func (p *LLMTranslator) Name() string { return p.name }

func (p *LLMTranslator) Translate(ctx context.Context, text, from, to string) (string, error) {
	system := fmt.Sprintf(
		"You are a translator. Translate the user's message from %s to %s. "+
			"Keep the tone and meaning. Reply with the translation only, no quotes or notes.",
		language.DisplayName(from), language.DisplayName(to),
	)
	resp, err := p.llm.Complete(ctx, domain.LLMRequest{
		Model:       p.model,
		System:      system,
		Messages:    []domain.Message{{Role: domain.RoleUser, Content: text}},
		MaxTokens:   1024,
		Temperature: 0,
	})
	if err != nil {
		return "", err
	}
	return strings.Trim(strings.TrimSpace(resp.Content), "\"“”"), nil
}
