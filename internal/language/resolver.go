package language

const (
	SourceDetected = "detected"
	SourceHint     = "hint"
	SourceDefault  = "default"
)

type Resolution struct {
	Code       string
	Confidence float64
	Source     string
}

// Hint is an externally supplied language, from the caller or the transcriber.
type Hint struct {
	Code       string
	Confidence float64
}

type Resolver struct {
	pivot     string
	threshold float64
	detect    func(string) Detection
}

func NewResolver(pivot string, threshold float64) *Resolver {
	code, ok := Canonical(pivot)
	if !ok {
		code = "en"
	}
	if threshold <= 0 || threshold > 1 {
		threshold = 0.5
	}
	return &Resolver{pivot: code, threshold: threshold, detect: Detect}
}

func (r *Resolver) Pivot() string { return r.pivot }

// Resolve always runs detection. A hint only wins when detection is below the
// threshold, and a hint more confident than detection wins either way. With
// no hint, a foreign guess below the threshold resolves to the pivot.
func (r *Resolver) Resolve(text string, hint Hint) Resolution {
	det := r.detect(text)
	hintCode, hintOK := Canonical(hint.Code)

	if det.Code != "" && det.Confidence >= r.threshold && (!hintOK || det.Confidence >= hint.Confidence) {
		return Resolution{Code: det.Code, Confidence: det.Confidence, Source: SourceDetected}
	}
	if hintOK {
		conf := hint.Confidence
		if det.Code == hintCode && det.Confidence > conf {
			conf = det.Confidence
		}
		return Resolution{Code: hintCode, Confidence: conf, Source: SourceHint}
	}
	if det.Code != "" && SameBase(det.Code, r.pivot) {
		return Resolution{Code: det.Code, Confidence: det.Confidence, Source: SourceDetected}
	}
	return Resolution{Code: r.pivot, Confidence: 0, Source: SourceDefault}
}

func (r *Resolver) NeedsTranslation(code string) bool {
	return !SameBase(code, r.pivot)
}
