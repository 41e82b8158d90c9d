package language

import (
	"math"
	"strings"
	"sync"
	"unicode"

	"github.com/pemistahl/lingua-go"
)

// Detection is a best-effort guess. Code is empty when nothing matched.
type Detection struct {
	Code       string
	Confidence float64
}

// minRelativeDistance makes the detector answer "unknown" when the two best
// candidates score too close, which is the common case for very short text.
const minRelativeDistance = 0.25

var (
	detectorOnce sync.Once
	detector     lingua.LanguageDetector
)

// linguaLanguages returns the detector languages that have a row in the code
// table, so every detection maps back through Canonical.
func linguaLanguages() []lingua.Language {
	var out []lingua.Language
	for _, lang := range lingua.AllLanguages() {
		if _, ok := byCode[isoCode(lang)]; ok {
			out = append(out, lang)
		}
	}
	return out
}

func isoCode(lang lingua.Language) string {
	return strings.ToLower(lang.IsoCode639_1().String())
}

func languageDetector() lingua.LanguageDetector {
	detectorOnce.Do(func() {
		detector = lingua.NewLanguageDetectorBuilder().
			FromLanguages(linguaLanguages()...).
			WithMinimumRelativeDistance(minRelativeDistance).
			Build()
	})
	return detector
}

// Detect guesses the language of text with n-gram models restricted to the
// supported languages. Ambiguous text yields an empty Detection.
func Detect(text string) Detection {
	text = strings.TrimSpace(text)
	if !strings.ContainsFunc(text, unicode.IsLetter) {
		return Detection{}
	}

	d := languageDetector()
	lang, ok := d.DetectLanguageOf(text)
	if !ok {
		return Detection{}
	}
	code, ok := Canonical(isoCode(lang))
	if !ok {
		return Detection{}
	}
	conf := d.ComputeLanguageConfidence(text, lang)
	return Detection{Code: code, Confidence: round2(math.Min(0.99, conf))}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
