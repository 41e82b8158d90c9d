// Package provider runs ordered fallback chains over interchangeable remote
// implementations and keeps a health view of every provider it has called.
package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"empathy/internal/domain"
)

var (
	ErrExhausted   = errors.New("all providers failed")
	ErrNoProviders = errors.New("no providers configured")
)

// Step is one entry of a chain. Call receives a context bounded by the
// runner's per-attempt timeout.
type Step[T any] struct {
	Name string
	Call func(ctx context.Context) (T, error)
}

type Runner struct {
	Capability string
	Timeout    time.Duration
	Health     *Registry
	Logger     *slog.Logger
}

type Outcome[T any] struct {
	Value    T
	Provider string
	Index    int
	Attempts []domain.ProviderAttempt
}

// Run tries steps in order and returns the first success. Attempts are
// recorded on the outcome whether or not the chain succeeds. Caller
// cancellation stops the chain before the next step.
func Run[T any](ctx context.Context, r Runner, steps []Step[T]) (Outcome[T], error) {
	out := Outcome[T]{Index: -1}
	if len(steps) == 0 {
		return out, fmt.Errorf("%s: %w", r.Capability, ErrNoProviders)
	}
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var lastErr error
	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			return out, fmt.Errorf("%s: %w", r.Capability, err)
		}

		attemptCtx, cancel := ctx, context.CancelFunc(func() {})
		if r.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, r.Timeout)
		}
		start := time.Now()
		val, err := step.Call(attemptCtx)
		cancel()
		latency := time.Since(start)

		attempt := domain.ProviderAttempt{
			Capability: r.Capability,
			Provider:   step.Name,
			Index:      i,
			LatencyMS:  roundMillis(latency),
		}
		if err == nil {
			attempt.Outcome = domain.OutcomeSuccess
			out.Attempts = append(out.Attempts, attempt)
			r.Health.Record(r.Capability, step.Name, nil, latency)
			out.Value = val
			out.Provider = step.Name
			out.Index = i
			return out, nil
		}

		class := Classify(err)
		if ctxErr := ctx.Err(); ctxErr != nil {
			class = ClassCanceled
			if errors.Is(ctxErr, context.DeadlineExceeded) {
				class = ClassTimeout
			}
		}
		attempt.Outcome = domain.OutcomeFailure
		attempt.Class = string(class)
		attempt.Error = err.Error()
		out.Attempts = append(out.Attempts, attempt)
		r.Health.Record(r.Capability, step.Name, err, latency)
		logger.Warn("provider attempt failed",
			"capability", r.Capability,
			"provider", step.Name,
			"index", i,
			"class", class,
			"latency_ms", attempt.LatencyMS,
			"error", err,
		)
		lastErr = err

		if ctxErr := ctx.Err(); ctxErr != nil {
			return out, fmt.Errorf("%s: %w", r.Capability, ctxErr)
		}
	}
	return out, fmt.Errorf("%s: %w: %w", r.Capability, ErrExhausted, lastErr)
}

func roundMillis(d time.Duration) float64 {
	return math.Round(float64(d.Microseconds())/10) / 100
}
