package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"empathy/internal/domain"
	"empathy/internal/provider"
)

// Attempt is one (credential, model) pair on a vendor path.
type Attempt struct {
	Credential string
	Model      string
	Provider   Provider
}

func (a Attempt) name(vendor string) string {
	return vendor + "/" + a.Credential + "/" + a.Model
}

type Path struct {
	Vendor   string
	Attempts []Attempt
}

type GeneratorConfig struct {
	Timeout     time.Duration
	MaxTokens   int
	Temperature float64
}

// Generator walks vendor paths in order. Each attempt is tried once; a path
// that runs dry hands over to the next one.
type Generator struct {
	paths  []Path
	cfg    GeneratorConfig
	health *provider.Registry
	logger *slog.Logger
}

func NewGenerator(paths []Path, cfg GeneratorConfig, health *provider.Registry, logger *slog.Logger) *Generator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 512
	}
	if logger == nil {
		logger = slog.Default()
	}
	for _, path := range paths {
		for _, a := range path.Attempts {
			health.Register("generation", a.name(path.Vendor))
		}
	}
	return &Generator{paths: paths, cfg: cfg, health: health, logger: logger}
}

// Generate returns the first non-empty completion. Attempts are returned in
// chain order with indexes running across all paths.
func (g *Generator) Generate(ctx context.Context, req domain.GenerationRequest) (domain.GenerationResult, []domain.ProviderAttempt, error) {
	return g.run(ctx, g.paths, domain.LLMRequest{
		System:      req.System,
		Messages:    req.Messages,
		MaxTokens:   g.cfg.MaxTokens,
		Temperature: g.cfg.Temperature,
	})
}

// Complete runs req through the same chain as Generate, so callers such as
// the translator fallback get the same per-attempt fallback. A model set on
// req is tried first with each credential of the first path.
func (g *Generator) Complete(ctx context.Context, req domain.LLMRequest) (domain.LLMResponse, error) {
	paths := g.paths
	if req.Model != "" && len(paths) > 0 {
		paths = append([]Path{pinModel(paths[0], req.Model)}, paths...)
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = g.cfg.MaxTokens
	}
	res, _, err := g.run(ctx, paths, req)
	if err != nil {
		return domain.LLMResponse{}, err
	}
	return domain.LLMResponse{Content: res.Text}, nil
}

// pinModel returns path with one attempt per distinct credential, all on model.
func pinModel(path Path, model string) Path {
	pinned := Path{Vendor: path.Vendor}
	seen := make(map[string]bool)
	for _, a := range path.Attempts {
		if seen[a.Credential] {
			continue
		}
		seen[a.Credential] = true
		pinned.Attempts = append(pinned.Attempts, Attempt{Credential: a.Credential, Model: model, Provider: a.Provider})
	}
	return pinned
}

func (g *Generator) run(ctx context.Context, paths []Path, llmReq domain.LLMRequest) (domain.GenerationResult, []domain.ProviderAttempt, error) {
	var (
		attempts []domain.ProviderAttempt
		lastErr  error = provider.ErrNoProviders
	)

	runner := provider.Runner{
		Capability: "generation",
		Timeout:    g.cfg.Timeout,
		Health:     g.health,
		Logger:     g.logger,
	}

	for _, path := range paths {
		steps := make([]provider.Step[domain.GenerationResult], 0, len(path.Attempts))
		for _, a := range path.Attempts {
			steps = append(steps, provider.Step[domain.GenerationResult]{
				Name: a.name(path.Vendor),
				Call: func(ctx context.Context) (domain.GenerationResult, error) {
					r := llmReq
					r.Model = a.Model
					resp, err := a.Provider.Complete(ctx, r)
					if err != nil {
						return domain.GenerationResult{}, err
					}
					text := strings.TrimSpace(resp.Content)
					if text == "" {
						return domain.GenerationResult{}, provider.Malformed(path.Vendor, errors.New("empty completion"))
					}
					return domain.GenerationResult{
						Text:       text,
						Vendor:     path.Vendor,
						Credential: a.Credential,
						Model:      a.Model,
					}, nil
				},
			})
		}

		offset := len(attempts)
		out, err := provider.Run(ctx, runner, steps)
		for _, at := range out.Attempts {
			at.Index += offset
			attempts = append(attempts, at)
		}
		if err == nil {
			return out.Value, attempts, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.GenerationResult{}, attempts, fmt.Errorf("%w: %w", domain.ErrGenerationFailed, ctxErr)
		}
		g.logger.Warn("generation path exhausted", "vendor", path.Vendor, "attempts", len(out.Attempts))
		lastErr = err
	}
	return domain.GenerationResult{}, attempts, fmt.Errorf("%w: %w", domain.ErrGenerationFailed, lastErr)
}
