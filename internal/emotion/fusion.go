package emotion

import (
	"fmt"
	"math"

	"empathy/internal/domain"
)

type FusionConfig struct {
	RemoteWeight        float64
	LocalWeight         float64
	DisagreeLocalWeight float64
	TextWeight          float64
	VoiceWeight         float64
	ConfidenceBuckets   []float64
}

func DefaultFusionConfig() FusionConfig {
	return FusionConfig{
		RemoteWeight:        0.8,
		LocalWeight:         0.2,
		DisagreeLocalWeight: 0.02,
		TextWeight:          0.5,
		VoiceWeight:         0.5,
		ConfidenceBuckets:   []float64{0.2, 0.5, 0.8},
	}
}

// LowestBucket is the confidence reported when no estimator produced anything.
func (c FusionConfig) LowestBucket() float64 {
	if len(c.ConfidenceBuckets) == 0 {
		return 0.2
	}
	lo := c.ConfidenceBuckets[0]
	for _, b := range c.ConfidenceBuckets[1:] {
		lo = math.Min(lo, b)
	}
	return lo
}

type Weighted struct {
	Estimate domain.EmotionEstimate
	Weight   float64
}

// Fuse normalizes each distribution, applies the weights after rescaling them
// to sum to 1, sums, and renormalizes. Confidence is the weighted sum of the
// input confidences.
func Fuse(inputs []Weighted) (domain.FusedEmotion, error) {
	total := 0.0
	for _, in := range inputs {
		if in.Weight < 0 || math.IsNaN(in.Weight) {
			return domain.FusedEmotion{}, fmt.Errorf("weight %v for %s: %w", in.Weight, in.Estimate.Provenance, domain.ErrInvariant)
		}
		total += in.Weight
	}
	if total <= 0 {
		return domain.FusedEmotion{}, fmt.Errorf("no positive fusion weight: %w", domain.ErrInvariant)
	}

	fused := emptyScores()
	confidence := 0.0
	contributors := make([]domain.Contribution, 0, len(inputs))
	for _, in := range inputs {
		w := in.Weight / total
		dist, ok := normalize(in.Estimate.Scores)
		if !ok {
			return domain.FusedEmotion{}, fmt.Errorf("%s has an empty distribution: %w", in.Estimate.Provenance, domain.ErrInvariant)
		}
		for _, e := range domain.CanonicalEmotions {
			fused[e] += w * dist[e]
		}
		confidence += w * in.Estimate.Confidence
		contributors = append(contributors, domain.Contribution{Provenance: in.Estimate.Provenance, Weight: w})
	}

	scores, _ := normalize(fused)
	out := domain.FusedEmotion{
		Label:        argmax(scores),
		Confidence:   confidence,
		Scores:       scores,
		Contributors: contributors,
	}
	return out, Validate(out)
}

// FuseText combines the remote and local text estimates. Either may be nil.
// When their top labels differ the local weight drops to DisagreeLocalWeight
// and the fused label follows the remote estimate.
func FuseText(remote, local *domain.EmotionEstimate, cfg FusionConfig) (domain.FusedEmotion, error) {
	switch {
	case remote == nil && local == nil:
		return Neutral(cfg.LowestBucket()), domain.ErrModelUnavailable
	case remote == nil:
		return Fuse([]Weighted{{Estimate: *local, Weight: 1}})
	case local == nil:
		return Fuse([]Weighted{{Estimate: *remote, Weight: 1}})
	}

	localWeight := cfg.LocalWeight
	disagree := remote.Label != local.Label
	if disagree {
		localWeight = cfg.DisagreeLocalWeight
	}
	out, err := Fuse([]Weighted{
		{Estimate: *remote, Weight: cfg.RemoteWeight},
		{Estimate: *local, Weight: localWeight},
	})
	if err != nil {
		return out, err
	}
	if disagree && cfg.RemoteWeight >= localWeight {
		out.Label = remote.Label
	}
	return out, nil
}

// FuseVoice folds an optional voice estimate into the text result. A nil
// voice estimate returns the text result unchanged.
func FuseVoice(text domain.FusedEmotion, voice *domain.EmotionEstimate, cfg FusionConfig) (domain.FusedEmotion, error) {
	if voice == nil {
		return text, nil
	}
	textEstimate := domain.EmotionEstimate{
		Label:      text.Label,
		Confidence: text.Confidence,
		Scores:     text.Scores,
		Provenance: "text",
	}
	out, err := Fuse([]Weighted{
		{Estimate: textEstimate, Weight: cfg.TextWeight},
		{Estimate: *voice, Weight: cfg.VoiceWeight},
	})
	if err != nil {
		return text, err
	}
	if len(text.Contributors) > 0 {
		textShare := out.Contributors[0].Weight
		flat := make([]domain.Contribution, 0, len(text.Contributors)+1)
		for _, c := range text.Contributors {
			flat = append(flat, domain.Contribution{Provenance: c.Provenance, Weight: c.Weight * textShare})
		}
		out.Contributors = append(flat, out.Contributors[1])
	}
	out.Degraded = text.Degraded
	return out, Validate(out)
}

// Neutral is the fallback used when no estimator succeeded.
func Neutral(confidence float64) domain.FusedEmotion {
	scores := emptyScores()
	scores[domain.EmotionNeutral] = 1
	return domain.FusedEmotion{
		Label:      domain.EmotionNeutral,
		Confidence: confidence,
		Scores:     scores,
		Degraded:   true,
	}
}
