package emotion

import (
	"context"
	"math"
	"strings"
	"unicode/utf8"

	"empathy/internal/domain"
)

const (
	Engine = "go-lexical-v2"

	// InputRunes is the fixed window the local classifier reads.
	InputRunes = 256
)

// Analyzer is the in-process lexical classifier. It reads a fixed-length
// window of the pivot text and scores fine-grained cues that roll up into the
// canonical labels.
type Analyzer struct {
	inputRunes int
}

func NewAnalyzer() *Analyzer {
	return &Analyzer{inputRunes: InputRunes}
}

func (a *Analyzer) Name() string { return "local" }

// fine label -> canonical label
var rollup = map[string]domain.Emotion{
	"calm":           domain.EmotionNeutral,
	"boredom":        domain.EmotionNeutral,
	"confusion":      domain.EmotionNeutral,
	"joy":            domain.EmotionHappy,
	"relief":         domain.EmotionHappy,
	"gratitude":      domain.EmotionHappy,
	"excitement":     domain.EmotionHappy,
	"hope":           domain.EmotionHappy,
	"pride":          domain.EmotionHappy,
	"sadness":        domain.EmotionSad,
	"disappointment": domain.EmotionSad,
	"guilt":          domain.EmotionSad,
	"embarrassment":  domain.EmotionSad,
	"loneliness":     domain.EmotionSad,
	"resignation":    domain.EmotionSad,
	"fear":           domain.EmotionFear,
	"anxiety":        domain.EmotionFear,
	"anger":          domain.EmotionAngry,
	"frustration":    domain.EmotionAngry,
	"disgust":        domain.EmotionDisgust,
	"surprise":       domain.EmotionSurprise,
}

var emotionHints = []struct {
	emotion string
	hints   []string
}{
	{emotion: "disgust", hints: []string{"disgusting", "gross", "revolting", "sickening", "恶心", "反胃"}},
	{emotion: "surprise", hints: []string{"surprised", "unexpected", "can't believe", "no way", "shocked", "没想到", "居然"}},
	{emotion: "calm", hints: []string{"calm", "fine", "okay", "nothing special", "平静", "还行"}},
	{emotion: "boredom", hints: []string{"bored", "boring", "nothing to do", "无聊"}},
	{emotion: "joy", hints: []string{"happy", "glad", "joyful", "great day", "wonderful", "delighted", "开心", "高兴"}},
	{emotion: "gratitude", hints: []string{"thank", "grateful", "appreciate", "感谢", "谢谢"}},
	{emotion: "relief", hints: []string{"relieved", "finally", "phew", "paid off", "松了一口气"}},
	{emotion: "excitement", hints: []string{"excited", "can't wait", "amazing", "awesome", "thrilled", "太棒了", "兴奋"}},
	{emotion: "hope", hints: []string{"hope", "hopeful", "looking forward", "希望"}},
	{emotion: "pride", hints: []string{"proud", "promoted", "i won", "achieved", "自豪"}},
	{emotion: "sadness", hints: []string{"sad", "unhappy", "crying", "cried", "heartbroken", "miserable", "depressed", "feeling down", "难过", "伤心"}},
	{emotion: "loneliness", hints: []string{"lonely", "alone", "no one", "nobody", "孤独"}},
	{emotion: "disappointment", hints: []string{"disappointed", "let down", "can't afford", "cannot afford", "failed", "失望"}},
	{emotion: "guilt", hints: []string{"guilty", "my fault", "sorry", "ashamed", "内疚"}},
	{emotion: "embarrassment", hints: []string{"embarrassed", "humiliated", "awkward", "尴尬"}},
	{emotion: "resignation", hints: []string{"give up", "whatever", "doesn't matter", "pointless", "算了"}},
	{emotion: "fear", hints: []string{"afraid", "scared", "terrified", "frightened", "害怕"}},
	{emotion: "anxiety", hints: []string{"anxious", "worried", "nervous", "stressed", "panic", "overwhelmed", "焦虑", "担心"}},
	{emotion: "anger", hints: []string{"angry", "furious", "hate", "mad at", "pissed", "生气", "愤怒"}},
	{emotion: "frustration", hints: []string{"frustrated", "annoyed", "fed up", "irritated", "烦"}},
	{emotion: "confusion", hints: []string{"confused", "don't understand", "not sure", "困惑"}},
}

var intensifiers = []string{"very", "so ", "really", "extremely", "incredibly", "super", "非常", "特别"}

var negations = []string{"not ", "n't ", "never ", "不"}

// window truncates or pads to exactly n runes.
func window(text string, n int) string {
	if n <= 0 {
		return text
	}
	count := utf8.RuneCountInString(text)
	if count == n {
		return text
	}
	if count > n {
		runes := []rune(text)
		return string(runes[:n])
	}
	return text + strings.Repeat(" ", n-count)
}

func fineScores(text string) map[string]float64 {
	scores := make(map[string]float64, len(rollup))
	for _, item := range emotionHints {
		for _, h := range item.hints {
			idx := strings.Index(text, h)
			if idx < 0 {
				continue
			}
			weight := 1.0 + math.Min(float64(utf8.RuneCountInString(h))/10.0, 1.0)
			if negated(text[:idx]) {
				weight *= 0.25
			}
			scores[item.emotion] += weight
		}
	}

	if strings.Contains(text, "!") || strings.Contains(text, "！") {
		scores["excitement"] += 0.6
		scores["anger"] += 0.2
		scores["surprise"] += 0.2
	}
	if strings.Contains(text, "?") || strings.Contains(text, "？") {
		scores["confusion"] += 0.5
		scores["surprise"] += 0.2
		scores["anxiety"] += 0.2
	}
	if containsAny(text, intensifiers) {
		for k, v := range scores {
			scores[k] = v * 1.25
		}
	}
	return scores
}

// negated looks a few words back from a cue for a negation.
func negated(prefix string) bool {
	words := strings.Fields(prefix)
	if len(words) > 3 {
		words = words[len(words)-3:]
	}
	tail := strings.Join(words, " ") + " "
	return containsAny(tail, negations)
}

func containsAny(text string, hints []string) bool {
	for _, h := range hints {
		if strings.Contains(text, h) {
			return true
		}
	}
	return false
}

// Analyze returns a canonical estimate. Unmatched text yields neutral.
func (a *Analyzer) Analyze(text string) domain.EmotionEstimate {
	t := strings.ToLower(window(strings.TrimSpace(text), a.inputRunes))
	canonical := emptyScores()
	for fine, v := range fineScores(t) {
		canonical[rollup[fine]] += v
	}

	total := 0.0
	for _, v := range canonical {
		total += v
	}
	if total <= 1e-9 {
		canonical[domain.EmotionNeutral] = 1
		total = 1
	}
	top := argmax(canonical)
	ratio := canonical[top] / total
	evidence := math.Min(1.0, total/3.0)
	conf := clamp(0.52+0.33*ratio+0.15*evidence, 0.55, 0.995)
	if top == domain.EmotionNeutral && total <= 1.01 {
		conf = 0.58
	}

	// Every label keeps a little mass.
	const floor = 0.05
	for _, e := range domain.CanonicalEmotions {
		canonical[e] += floor
	}
	scores, _ := normalize(canonical)
	return domain.EmotionEstimate{
		Label:      top,
		Confidence: round(conf, 6),
		Scores:     scores,
		Provenance: a.Name(),
	}
}

// Classify adapts Analyze to the Classifier interface.
func (a *Analyzer) Classify(ctx context.Context, text string) (domain.EmotionEstimate, error) {
	if err := ctx.Err(); err != nil {
		return domain.EmotionEstimate{}, err
	}
	return a.Analyze(text), nil
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

func round(v float64, precision int) float64 {
	p := math.Pow10(precision)
	return math.Round(v*p) / p
}
