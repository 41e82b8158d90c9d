package emotion

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"empathy/internal/domain"
)

func estimate(t *testing.T, provenance string, raw map[string]float64) domain.EmotionEstimate {
	t.Helper()
	est, err := TextModelRemap.Estimate(provenance, raw)
	if err != nil {
		t.Fatalf("estimate %s: %v", provenance, err)
	}
	return est
}

func randomEstimate(r *rand.Rand, provenance string) domain.EmotionEstimate {
	raw := make(map[domain.Emotion]float64)
	for _, e := range domain.CanonicalEmotions {
		raw[e] = r.Float64()
	}
	raw[domain.CanonicalEmotions[r.Intn(len(domain.CanonicalEmotions))]] += 2
	scores, _ := normalize(raw)
	top := argmax(scores)
	return domain.EmotionEstimate{Label: top, Confidence: scores[top], Scores: scores, Provenance: provenance}
}

func TestFuseTextAgreeingConfidenceIsWeightedSum(t *testing.T) {
	cfg := DefaultFusionConfig()
	r := rand.New(rand.NewSource(7))
	checked := 0
	for i := 0; i < 500 && checked < 50; i++ {
		remote := randomEstimate(r, "remote")
		local := randomEstimate(r, "local")
		if remote.Label != local.Label {
			continue
		}
		checked++
		got, err := FuseText(&remote, &local, cfg)
		if err != nil {
			t.Fatalf("fuse: %v", err)
		}
		want := 0.8*remote.Confidence + 0.2*local.Confidence
		if math.Abs(got.Confidence-want) > 1e-9 {
			t.Fatalf("confidence=%v, want %v", got.Confidence, want)
		}
		if got.Label != remote.Label {
			t.Fatalf("label=%s, want %s", got.Label, remote.Label)
		}
	}
	if checked == 0 {
		t.Fatal("no agreeing pairs generated")
	}
}

func TestFuseTextDisagreeingDefersToRemote(t *testing.T) {
	cfg := DefaultFusionConfig()
	r := rand.New(rand.NewSource(11))
	checked := 0
	for i := 0; i < 500 && checked < 50; i++ {
		remote := randomEstimate(r, "remote")
		local := randomEstimate(r, "local")
		if remote.Label == local.Label {
			continue
		}
		checked++
		got, err := FuseText(&remote, &local, cfg)
		if err != nil {
			t.Fatalf("fuse: %v", err)
		}
		if got.Label != remote.Label {
			t.Fatalf("label=%s, want remote %s", got.Label, remote.Label)
		}
		wRemote, wLocal := 0.8/0.82, 0.02/0.82
		want := wRemote*remote.Confidence + wLocal*local.Confidence
		if math.Abs(got.Confidence-want) > 1e-9 {
			t.Fatalf("confidence=%v, want %v", got.Confidence, want)
		}
		if math.Abs(got.Contributors[1].Weight-wLocal) > 1e-9 {
			t.Fatalf("local weight=%v, want %v", got.Contributors[1].Weight, wLocal)
		}
	}
	if checked == 0 {
		t.Fatal("no disagreeing pairs generated")
	}
}

func TestFuseTextSingleSurvivor(t *testing.T) {
	cfg := DefaultFusionConfig()
	local := estimate(t, "local", map[string]float64{"sadness": 0.7, "neutral": 0.3})

	got, err := FuseText(nil, &local, cfg)
	if err != nil {
		t.Fatalf("fuse: %v", err)
	}
	if got.Label != domain.EmotionSad || len(got.Contributors) != 1 || got.Contributors[0].Weight != 1 {
		t.Fatalf("fused=%+v", got)
	}
	if math.Abs(got.Confidence-local.Confidence) > 1e-9 {
		t.Fatalf("confidence=%v, want %v", got.Confidence, local.Confidence)
	}
}

func TestFuseTextBothMissing(t *testing.T) {
	cfg := DefaultFusionConfig()
	got, err := FuseText(nil, nil, cfg)
	if !errors.Is(err, domain.ErrModelUnavailable) {
		t.Fatalf("err=%v, want ErrModelUnavailable", err)
	}
	if got.Label != domain.EmotionNeutral || got.Confidence != 0.2 || !got.Degraded {
		t.Fatalf("fallback=%+v", got)
	}
	if err := Validate(got); err != nil {
		t.Fatalf("fallback invalid: %v", err)
	}
}

func TestFuseVoice(t *testing.T) {
	cfg := DefaultFusionConfig()
	remote := estimate(t, "remote", map[string]float64{"joy": 0.9, "neutral": 0.1})
	local := estimate(t, "local", map[string]float64{"joy": 0.6, "neutral": 0.4})
	text, err := FuseText(&remote, &local, cfg)
	if err != nil {
		t.Fatalf("fuse text: %v", err)
	}

	same, err := FuseVoice(text, nil, cfg)
	if err != nil || same.Confidence != text.Confidence {
		t.Fatalf("nil voice changed result: %+v err=%v", same, err)
	}

	voice, err := VoiceModelRemap.Estimate("voice", map[string]float64{"calm": 0.8, "happy": 0.2})
	if err != nil {
		t.Fatalf("voice: %v", err)
	}
	got, err := FuseVoice(text, &voice, cfg)
	if err != nil {
		t.Fatalf("fuse voice: %v", err)
	}
	if len(got.Contributors) != 3 {
		t.Fatalf("contributors=%+v", got.Contributors)
	}
	want := 0.5*text.Confidence + 0.5*voice.Confidence
	if math.Abs(got.Confidence-want) > 1e-9 {
		t.Fatalf("confidence=%v, want %v", got.Confidence, want)
	}
	if voice.Label != domain.EmotionNeutral {
		t.Fatalf("calm should remap to neutral, got %s", voice.Label)
	}
}

func TestRemapRejectsForeignLabel(t *testing.T) {
	_, err := TextModelRemap.Estimate("remote", map[string]float64{"joy": 0.5, "optimism": 0.5})
	if !errors.Is(err, domain.ErrForeignLabel) {
		t.Fatalf("err=%v, want ErrForeignLabel", err)
	}
}

func TestValidateCatchesBadVector(t *testing.T) {
	scores := emptyScores()
	scores[domain.EmotionHappy] = 0.7
	err := Validate(domain.FusedEmotion{Label: domain.EmotionHappy, Confidence: 0.7, Scores: scores})
	if !errors.Is(err, domain.ErrInvariant) {
		t.Fatalf("err=%v, want ErrInvariant", err)
	}
}
