package emotion

import (
	"fmt"
	"math"
	"strings"

	"empathy/internal/domain"
)

const sumTolerance = 1e-6

// Remap translates one estimator's label vocabulary into the canonical set.
// Labels missing from the table are rejected rather than guessed.
type Remap map[string]domain.Emotion

// TextModelRemap covers the common text emotion model vocabularies.
var TextModelRemap = Remap{
	"anger":    domain.EmotionAngry,
	"angry":    domain.EmotionAngry,
	"disgust":  domain.EmotionDisgust,
	"fear":     domain.EmotionFear,
	"joy":      domain.EmotionHappy,
	"happy":    domain.EmotionHappy,
	"love":     domain.EmotionHappy,
	"neutral":  domain.EmotionNeutral,
	"sadness":  domain.EmotionSad,
	"sad":      domain.EmotionSad,
	"surprise": domain.EmotionSurprise,
}

// VoiceModelRemap covers the eight-label speech emotion model.
var VoiceModelRemap = Remap{
	"angry":    domain.EmotionAngry,
	"calm":     domain.EmotionNeutral,
	"disgust":  domain.EmotionDisgust,
	"fear":     domain.EmotionFear,
	"happy":    domain.EmotionHappy,
	"neutral":  domain.EmotionNeutral,
	"sad":      domain.EmotionSad,
	"surprise": domain.EmotionSurprise,
}

// Estimate folds raw label scores into a normalized canonical estimate.
func (m Remap) Estimate(provenance string, raw map[string]float64) (domain.EmotionEstimate, error) {
	scores := emptyScores()
	for label, v := range raw {
		target, ok := m[strings.ToLower(strings.TrimSpace(label))]
		if !ok {
			return domain.EmotionEstimate{}, fmt.Errorf("%s label %q: %w", provenance, label, domain.ErrForeignLabel)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return domain.EmotionEstimate{}, fmt.Errorf("%s score for %q is %v: %w", provenance, label, v, domain.ErrInvariant)
		}
		scores[target] += v
	}
	norm, ok := normalize(scores)
	if !ok {
		return domain.EmotionEstimate{}, fmt.Errorf("%s returned an empty distribution: %w", provenance, domain.ErrInvariant)
	}
	top := argmax(norm)
	return domain.EmotionEstimate{
		Label:      top,
		Confidence: norm[top],
		Scores:     norm,
		Provenance: provenance,
	}, nil
}

func emptyScores() map[domain.Emotion]float64 {
	out := make(map[domain.Emotion]float64, len(domain.CanonicalEmotions))
	for _, e := range domain.CanonicalEmotions {
		out[e] = 0
	}
	return out
}

func normalize(scores map[domain.Emotion]float64) (map[domain.Emotion]float64, bool) {
	total := 0.0
	for _, e := range domain.CanonicalEmotions {
		total += scores[e]
	}
	if total <= 1e-12 {
		return nil, false
	}
	out := make(map[domain.Emotion]float64, len(domain.CanonicalEmotions))
	for _, e := range domain.CanonicalEmotions {
		out[e] = scores[e] / total
	}
	return out, true
}

func argmax(scores map[domain.Emotion]float64) domain.Emotion {
	top := domain.CanonicalEmotions[0]
	for _, e := range domain.CanonicalEmotions[1:] {
		if scores[e] > scores[top] {
			top = e
		}
	}
	return top
}

// Validate checks a fused result before it leaves the emotion stage.
func Validate(f domain.FusedEmotion) error {
	if !domain.IsCanonical(f.Label) {
		return fmt.Errorf("fused label %q: %w", f.Label, domain.ErrForeignLabel)
	}
	if len(f.Scores) != len(domain.CanonicalEmotions) {
		return fmt.Errorf("fused scores cover %d labels: %w", len(f.Scores), domain.ErrInvariant)
	}
	sum := 0.0
	for _, e := range domain.CanonicalEmotions {
		v, ok := f.Scores[e]
		if !ok || v < 0 || v > 1+sumTolerance || math.IsNaN(v) {
			return fmt.Errorf("fused score %s=%v: %w", e, v, domain.ErrInvariant)
		}
		sum += v
	}
	if math.Abs(sum-1) > sumTolerance {
		return fmt.Errorf("fused scores sum to %v: %w", sum, domain.ErrInvariant)
	}
	if len(f.Contributors) > 0 {
		weights := 0.0
		for _, c := range f.Contributors {
			weights += c.Weight
		}
		if math.Abs(weights-1) > sumTolerance {
			return fmt.Errorf("fusion weights sum to %v: %w", weights, domain.ErrInvariant)
		}
	}
	if f.Confidence < 0 || f.Confidence > 1+sumTolerance || math.IsNaN(f.Confidence) {
		return fmt.Errorf("fused confidence %v: %w", f.Confidence, domain.ErrInvariant)
	}
	return nil
}
