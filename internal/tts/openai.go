package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"empathy/internal/language"
	"empathy/internal/provider"
)

type OpenAIConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Voice   string
	Voices  map[string]string
}

// OpenAISpeech calls /audio/speech. Its voices are multilingual, so every
// known language maps to the configured default voice unless overridden.
type OpenAISpeech struct {
	client  *http.Client
	baseURL string
	apiKey  string
	model   string
	voices  VoiceMap
}

func NewOpenAISpeech(client *http.Client, cfg OpenAIConfig) *OpenAISpeech {
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini-tts"
	}
	if cfg.Voice == "" {
		cfg.Voice = "alloy"
	}
	all := make(map[string]string)
	for _, code := range language.Supported() {
		all[code] = cfg.Voice
	}
	return &OpenAISpeech{
		client:  client,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		voices:  NewVoiceMap(all, "en").Merge(cfg.Voices),
	}
}

func (p *OpenAISpeech) Name() string { return "openai-tts" }

func (p *OpenAISpeech) Voices() VoiceMap { return p.voices }

func (p *OpenAISpeech) Synthesize(ctx context.Context, text string, opts Options) (Audio, error) {
	payload, err := json.Marshal(map[string]string{
		"model":           p.model,
		"input":           text,
		"voice":           opts.Voice,
		"response_format": "wav",
	})
	if err != nil {
		return Audio{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/audio/speech", bytes.NewReader(payload))
	if err != nil {
		return Audio{}, err
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return Audio{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return Audio{}, err
	}
	if resp.StatusCode >= 300 {
		return Audio{}, provider.StatusError(p.Name(), resp.StatusCode, body)
	}
	if len(body) == 0 {
		return Audio{}, provider.Malformed(p.Name(), errors.New("empty audio"))
	}
	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = "audio/wav"
	}
	return Audio{Data: body, ContentType: ct, SampleRate: 24000, Channels: 1}, nil
}
