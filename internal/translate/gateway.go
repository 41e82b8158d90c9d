// Package translate moves text between the user's language and the pivot
// language. Providers are tried in order; when all fail the text passes
// through unchanged and the result is flagged degraded.
package translate

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"empathy/internal/domain"
	"empathy/internal/language"
	"empathy/internal/provider"
)

const (
	MethodIdentity    = "identity"
	MethodPassthrough = "passthrough"
)

// Provider translates between canonical language codes. Adapters convert to
// their own dialect through the language package.
type Provider interface {
	Name() string
	Translate(ctx context.Context, text, from, to string) (string, error)
}

type Result struct {
	Text     string
	Method   string
	Degraded bool
	Attempts []domain.ProviderAttempt
}

type Gateway struct {
	providers []Provider
	runner    provider.Runner
	logger    *slog.Logger
}

func NewGateway(providers []Provider, timeout time.Duration, health *provider.Registry, logger *slog.Logger) *Gateway {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	for _, p := range providers {
		health.Register("translation", p.Name())
	}
	return &Gateway{
		providers: providers,
		runner: provider.Runner{
			Capability: "translation",
			Timeout:    timeout,
			Health:     health,
			Logger:     logger,
		},
		logger: logger,
	}
}

// Translate never fails because providers failed. It returns an error only
// when the caller's context is done.
func (g *Gateway) Translate(ctx context.Context, text, from, to string) (Result, error) {
	if strings.TrimSpace(text) == "" || language.SameBase(from, to) {
		return Result{Text: text, Method: MethodIdentity}, nil
	}

	steps := make([]provider.Step[string], 0, len(g.providers))
	for _, p := range g.providers {
		steps = append(steps, provider.Step[string]{
			Name: p.Name(),
			Call: func(ctx context.Context) (string, error) {
				out, err := p.Translate(ctx, text, from, to)
				if err != nil {
					return "", err
				}
				if strings.TrimSpace(out) == "" {
					return "", provider.Malformed(p.Name(), errors.New("empty translation"))
				}
				return out, nil
			},
		})
	}

	out, err := provider.Run(ctx, g.runner, steps)
	if err == nil {
		return Result{Text: out.Value, Method: out.Provider, Attempts: out.Attempts}, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Result{Attempts: out.Attempts}, ctxErr
	}
	g.logger.Warn("translation degraded, passing text through",
		"from", from,
		"to", to,
		"attempts", len(out.Attempts),
		"error", err,
	)
	return Result{Text: text, Method: MethodPassthrough, Degraded: true, Attempts: out.Attempts}, nil
}
