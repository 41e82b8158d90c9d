package tts

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"empathy/internal/domain"
	"empathy/internal/provider"
)

type Result struct {
	Audio             []byte
	ContentType       string
	Provider          string
	RequestedLanguage string
	Language          string
	Voice             string
	Fallback          bool
	Attempts          []domain.ProviderAttempt
}

// HasAudio is false for a text-only outcome.
func (r Result) HasAudio() bool { return len(r.Audio) > 0 }

type Orchestrator struct {
	providers []Synthesizer
	runner    provider.Runner
	logger    *slog.Logger
}

func NewOrchestrator(providers []Synthesizer, timeout time.Duration, health *provider.Registry, logger *slog.Logger) *Orchestrator {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	for _, p := range providers {
		health.Register("synthesis", p.Name())
	}
	return &Orchestrator{
		providers: providers,
		runner: provider.Runner{
			Capability: "synthesis",
			Timeout:    timeout,
			Health:     health,
			Logger:     logger,
		},
		logger: logger,
	}
}

type synthesized struct {
	audio Audio
	sel   Selection
}

// Synthesize walks the chain. When every provider fails the result carries
// no audio and a nil error; only caller cancellation is returned.
func (o *Orchestrator) Synthesize(ctx context.Context, text, lang string) (Result, error) {
	if len(o.providers) == 0 || text == "" {
		return Result{RequestedLanguage: lang}, nil
	}

	steps := make([]provider.Step[synthesized], 0, len(o.providers))
	for _, p := range o.providers {
		steps = append(steps, provider.Step[synthesized]{
			Name: p.Name(),
			Call: func(ctx context.Context) (synthesized, error) {
				sel, ok := p.Voices().Resolve(lang)
				if !ok {
					return synthesized{}, &provider.Error{
						Provider: p.Name(),
						Class:    provider.ClassNotFound,
						Err:      fmt.Errorf("no voice for %q or any fallback", lang),
					}
				}
				if sel.Fallback {
					o.logger.Info("synthesis language fallback",
						"provider", p.Name(),
						"requested", sel.Requested,
						"used", sel.Language,
						"voice", sel.Voice,
					)
				}
				a, err := p.Synthesize(ctx, text, Options{Language: sel.Language, Voice: sel.Voice})
				if err != nil {
					return synthesized{}, err
				}
				return synthesized{audio: a, sel: sel}, nil
			},
		})
	}

	out, err := provider.Run(ctx, o.runner, steps)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{RequestedLanguage: lang, Attempts: out.Attempts}, ctxErr
		}
		o.logger.Warn("all synthesis providers failed, replying text only", "language", lang, "attempts", len(out.Attempts))
		return Result{RequestedLanguage: lang, Attempts: out.Attempts}, nil
	}
	return Result{
		Audio:             out.Value.audio.Data,
		ContentType:       out.Value.audio.ContentType,
		Provider:          out.Provider,
		RequestedLanguage: out.Value.sel.Requested,
		Language:          out.Value.sel.Language,
		Voice:             out.Value.sel.Voice,
		Fallback:          out.Value.sel.Fallback,
		Attempts:          out.Attempts,
	}, nil
}

// VoiceTables exposes each provider's language to voice table, in chain order.
func (o *Orchestrator) VoiceTables() map[string]map[string]string {
	out := make(map[string]map[string]string, len(o.providers))
	for _, p := range o.providers {
		vm := p.Voices()
		table := make(map[string]string)
		for _, lang := range vm.Languages() {
			table[lang] = vm.Voice(lang)
		}
		out[p.Name()] = table
	}
	return out
}
