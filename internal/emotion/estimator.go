package emotion

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"empathy/internal/domain"
)

type EstimatorConfig struct {
	Fusion  FusionConfig
	Timeout time.Duration
}

// Estimator runs the local and remote text classifiers, plus the optional
// voice classifier, concurrently and fuses whatever came back.
type Estimator struct {
	local  Classifier
	remote Classifier
	voice  VoiceClassifier
	cfg    EstimatorConfig
	logger *slog.Logger
}

func NewEstimator(cfg EstimatorConfig, local, remote Classifier, voice VoiceClassifier, logger *slog.Logger) *Estimator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	if cfg.Fusion.RemoteWeight == 0 && cfg.Fusion.LocalWeight == 0 {
		cfg.Fusion = DefaultFusionConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Estimator{local: local, remote: remote, voice: voice, cfg: cfg, logger: logger}
}

type Estimation struct {
	Fused  domain.FusedEmotion
	Text   domain.FusedEmotion
	Remote *domain.EmotionEstimate
	Local  *domain.EmotionEstimate
	Voice  *domain.EmotionEstimate

	RemoteErr error
	LocalErr  error
	VoiceErr  error

	// Condition is ErrModelUnavailable when neither text classifier answered.
	Condition error
}

// VoiceProvider names the voice classifier when it contributed to Fused.
func (e *Estimation) VoiceProvider() string {
	if e.Voice == nil || e.Condition != nil {
		return ""
	}
	return e.Voice.Provenance
}

// Estimate never fails because a classifier failed. The returned error is
// reserved for fusion invariant violations.
func (e *Estimator) Estimate(ctx context.Context, text string, clip []byte, contentType string) (Estimation, error) {
	var (
		out Estimation
		g   errgroup.Group
	)

	g.Go(func() error {
		out.Local, out.LocalErr = e.classify(ctx, e.local, text)
		return nil
	})
	g.Go(func() error {
		out.Remote, out.RemoteErr = e.classify(ctx, e.remote, text)
		return nil
	})
	if e.voice != nil && len(clip) > 0 {
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
			defer cancel()
			est, err := e.voice.ClassifyAudio(callCtx, clip, contentType)
			if err != nil {
				out.VoiceErr = err
				return nil
			}
			out.Voice = &est
			return nil
		})
	}
	_ = g.Wait()

	if out.RemoteErr != nil {
		e.logger.Warn("remote emotion classifier failed", "error", out.RemoteErr)
	}
	if out.LocalErr != nil {
		e.logger.Warn("local emotion classifier failed", "error", out.LocalErr)
	}
	if out.VoiceErr != nil {
		e.logger.Warn("voice emotion classifier failed", "error", out.VoiceErr)
	}

	textFused, err := FuseText(out.Remote, out.Local, e.cfg.Fusion)
	if err != nil {
		if !errors.Is(err, domain.ErrModelUnavailable) {
			return out, err
		}
		out.Condition = err
		e.logger.Warn("emotion models unavailable, using neutral", "confidence", textFused.Confidence)
	}
	out.Text = textFused
	if out.Condition != nil {
		// the voice estimate is kept for reporting but does not lift the floor
		out.Fused = textFused
		return out, nil
	}

	fused, err := FuseVoice(textFused, out.Voice, e.cfg.Fusion)
	if err != nil {
		return out, err
	}
	out.Fused = fused
	return out, nil
}

func (e *Estimator) classify(ctx context.Context, c Classifier, text string) (*domain.EmotionEstimate, error) {
	if c == nil {
		return nil, errors.New("classifier not configured")
	}
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()
	est, err := c.Classify(callCtx, text)
	if err != nil {
		return nil, err
	}
	return &est, nil
}
