package domain

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Emotion is a label from the canonical set. Estimators with their own label
// vocabularies remap into it before fusion.
type Emotion string

const (
	EmotionAngry    Emotion = "angry"
	EmotionDisgust  Emotion = "disgust"
	EmotionFear     Emotion = "fear"
	EmotionHappy    Emotion = "happy"
	EmotionNeutral  Emotion = "neutral"
	EmotionSad      Emotion = "sad"
	EmotionSurprise Emotion = "surprise"
)

// CanonicalEmotions is ordered; ties in argmax resolve to the earlier label.
var CanonicalEmotions = []Emotion{
	EmotionNeutral,
	EmotionHappy,
	EmotionSad,
	EmotionAngry,
	EmotionFear,
	EmotionSurprise,
	EmotionDisgust,
}

func IsCanonical(e Emotion) bool {
	for _, c := range CanonicalEmotions {
		if c == e {
			return true
		}
	}
	return false
}

// Utterance is built once per turn and passed by value after the language stage.
type Utterance struct {
	Text                string  `json:"text"`
	Audio               []byte  `json:"-"`
	ContentType         string  `json:"content_type,omitempty"`
	Language            string  `json:"language"`
	LanguageConfidence  float64 `json:"language_confidence"`
	PivotText           string  `json:"pivot_text"`
	TranslationDegraded bool    `json:"translation_degraded"`
}

type EmotionEstimate struct {
	Label      Emotion             `json:"label"`
	Confidence float64             `json:"confidence"`
	Scores     map[Emotion]float64 `json:"scores"`
	Provenance string              `json:"provenance"`
}

type Contribution struct {
	Provenance string  `json:"provenance"`
	Weight     float64 `json:"weight"`
}

type FusedEmotion struct {
	Label        Emotion             `json:"label"`
	Confidence   float64             `json:"confidence"`
	Scores       map[Emotion]float64 `json:"scores"`
	Contributors []Contribution      `json:"contributors"`
	Degraded     bool                `json:"degraded,omitempty"`
}

type Turn struct {
	Role    Role      `json:"role"`
	Text    string    `json:"text"`
	Emotion Emotion   `json:"emotion,omitempty"`
	At      time.Time `json:"at"`
}

type Message struct {
	Role    Role
	Content string
}

type LLMRequest struct {
	Model       string
	System      string
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

type LLMResponse struct {
	Content string
}

type GenerationRequest struct {
	Utterance  string
	Emotion    Emotion
	Confidence float64
	Topic      string
	History    []Turn
	System     string
	Messages   []Message
}

type GenerationResult struct {
	Text       string `json:"text"`
	Vendor     string `json:"vendor"`
	Credential string `json:"credential"`
	Model      string `json:"model"`
}

// ProviderAttempt records one call in a fallback chain.
type ProviderAttempt struct {
	Capability string  `json:"capability"`
	Provider   string  `json:"provider"`
	Index      int     `json:"index"`
	Outcome    string  `json:"outcome"`
	Class      string  `json:"class,omitempty"`
	Error      string  `json:"error,omitempty"`
	LatencyMS  float64 `json:"latency_ms"`
}

const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

type LanguageInfo struct {
	Detected            string  `json:"detected"`
	DetectionConfidence float64 `json:"detection_confidence"`
	Source              string  `json:"source"`
	Pivot               string  `json:"pivot"`
	TranslationMethod   string  `json:"translation_method,omitempty"`
	TranslationDegraded bool    `json:"translation_degraded"`
	SpeechRequested     string  `json:"speech_requested,omitempty"`
	SpeechUsed          string  `json:"speech_used,omitempty"`
	SpeechFallback      bool    `json:"speech_fallback,omitempty"`
}

type TurnRequest struct {
	SessionID    string `json:"session_id"`
	Text         string `json:"text,omitempty"`
	Audio        []byte `json:"audio,omitempty"`
	ContentType  string `json:"content_type,omitempty"`
	LanguageHint string `json:"language_hint,omitempty"`

	// Speak asks for a synthesized reply even for typed input.
	Speak bool `json:"speak,omitempty"`
}

type UsedProviders struct {
	Transcription string `json:"transcription,omitempty"`
	Translation   string `json:"translation,omitempty"`
	Generation    string `json:"generation,omitempty"`
	Synthesis     string `json:"synthesis,omitempty"`
	Voice         string `json:"voice,omitempty"`
}

type Degradation struct {
	Translation bool `json:"translation,omitempty"`
	Emotion     bool `json:"emotion,omitempty"`
	Voice       bool `json:"voice,omitempty"`
	Audio       bool `json:"audio,omitempty"`
}

type TurnResult struct {
	TurnID           string            `json:"turn_id"`
	SessionID        string            `json:"session_id"`
	Reply            string            `json:"reply"`
	ReplyAudio       []byte            `json:"reply_audio,omitempty"`
	ReplyContentType string            `json:"reply_content_type,omitempty"`
	Emotion          FusedEmotion      `json:"emotion"`
	Language         LanguageInfo      `json:"language"`
	Topic            string            `json:"topic"`
	UsedProviders    UsedProviders     `json:"used_providers"`
	Attempts         []ProviderAttempt `json:"attempts"`
	Degraded         Degradation       `json:"degraded"`
}
