package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"empathy/internal/domain"
	"empathy/internal/emotion"
	"empathy/internal/language"
	"empathy/internal/memory"
	"empathy/internal/prompt"
	"empathy/internal/speech"
	"empathy/internal/translate"
	"empathy/internal/tts"
)

// Transcriber turns a voice clip into text. A failure ends the turn.
type Transcriber interface {
	Transcribe(ctx context.Context, clip []byte, contentType string) (speech.Transcript, domain.ProviderAttempt, error)
}

// Translator moves text between the user language and the pivot.
type Translator interface {
	Translate(ctx context.Context, text, from, to string) (translate.Result, error)
}

// EmotionEstimator fuses the text and voice emotion signals of one utterance.
type EmotionEstimator interface {
	Estimate(ctx context.Context, text string, clip []byte, contentType string) (emotion.Estimation, error)
}

// Generator produces the reply through the ordered vendor chain.
type Generator interface {
	Generate(ctx context.Context, req domain.GenerationRequest) (domain.GenerationResult, []domain.ProviderAttempt, error)
}

// Synthesizer speaks the reply. An empty result means text only.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, lang string) (tts.Result, error)
}

// EventPublisher receives every completed turn. Failures are logged only.
type EventPublisher interface {
	PublishTurn(ctx context.Context, result domain.TurnResult) error
}

// Config holds the limits and switches of a turn.
type Config struct {
	MaxTextRunes    int
	MaxAudioBytes   int
	TurnTimeout     time.Duration
	AlwaysSpeak     bool
	DebugInvariants bool

	// TranscriptHintConfidence is the weight given to the transcriber's
	// language when it is fed to the resolver as a hint.
	TranscriptHintConfidence float64
}

// Deps are the pipeline stages. Transcriber, Synthesizer and Events may be nil.
type Deps struct {
	Resolver    *language.Resolver
	Transcriber Transcriber
	Translator  Translator
	Estimator   EmotionEstimator
	Assembler   *prompt.Assembler
	Generator   Generator
	Synthesizer Synthesizer
	Sessions    *memory.Store
	Events      EventPublisher
}

// Service runs turns. It is safe for concurrent use; turns on one session
// are serialized by the session store.
type Service struct {
	cfg  Config
	deps Deps
	now  func() time.Time

	logger *slog.Logger
}

// New fills zero limits with defaults.
func New(cfg Config, deps Deps, logger *slog.Logger) *Service {
	if cfg.MaxTextRunes <= 0 {
		cfg.MaxTextRunes = 4000
	}
	if cfg.MaxAudioBytes <= 0 {
		cfg.MaxAudioBytes = 25 << 20
	}
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = 90 * time.Second
	}
	if cfg.TranscriptHintConfidence <= 0 {
		cfg.TranscriptHintConfidence = 0.9
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{cfg: cfg, deps: deps, now: time.Now, logger: logger}
}

// Session returns the retained turns of a session, oldest first.
func (s *Service) Session(ctx context.Context, sessionID string) ([]domain.Turn, error) {
	return s.deps.Sessions.Get(ctx, sessionID)
}

// DeleteSession drops a session from memory and the archive.
func (s *Service) DeleteSession(ctx context.Context, sessionID string) error {
	return s.deps.Sessions.Delete(ctx, sessionID)
}

func (s *Service) validate(req domain.TurnRequest) (string, error) {
	if strings.TrimSpace(req.SessionID) == "" {
		return "", fmt.Errorf("%w: session_id is required", domain.ErrInvalidInput)
	}
	text := strings.TrimSpace(req.Text)
	hasText, hasAudio := text != "", len(req.Audio) > 0
	switch {
	case hasText == hasAudio:
		return "", fmt.Errorf("%w: exactly one of text or audio is required", domain.ErrInvalidInput)
	case hasText && utf8.RuneCountInString(text) > s.cfg.MaxTextRunes:
		return "", fmt.Errorf("%w: text longer than %d characters", domain.ErrInvalidInput, s.cfg.MaxTextRunes)
	case hasAudio && len(req.Audio) > s.cfg.MaxAudioBytes:
		return "", fmt.Errorf("%w: audio larger than %d bytes", domain.ErrInvalidInput, s.cfg.MaxAudioBytes)
	}
	return text, nil
}

// ProcessTurn runs one user turn end to end. Only invalid input, failed
// transcription, exhausted generation and cancellation surface as errors;
// every other provider failure degrades the result instead.
func (s *Service) ProcessTurn(ctx context.Context, req domain.TurnRequest) (domain.TurnResult, error) {
	turnStart := time.Now()
	var transcribeDur, translateInDur, emotionDur, generateDur, translateOutDur, synthDur time.Duration

	text, err := s.validate(req)
	if err != nil {
		return domain.TurnResult{}, &TurnError{Stage: StageInput, UserMessage: msgInvalidInput, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.TurnTimeout)
	defer cancel()

	turnID := uuid.NewString()
	result := domain.TurnResult{TurnID: turnID, SessionID: req.SessionID}

	sess, err := s.deps.Sessions.Lock(ctx, req.SessionID)
	if err != nil {
		return domain.TurnResult{}, s.stageErr(StageContext, err)
	}
	defer sess.Unlock()

	utt := domain.Utterance{Text: text, Audio: req.Audio, ContentType: req.ContentType}
	hint := language.Hint{Code: req.LanguageHint}

	if len(req.Audio) > 0 {
		if s.deps.Transcriber == nil {
			return domain.TurnResult{}, s.stageErr(StageTranscription, fmt.Errorf("%w: no transcriber configured", domain.ErrTranscriptionFailed))
		}
		start := time.Now()
		tr, attempt, err := s.deps.Transcriber.Transcribe(ctx, req.Audio, req.ContentType)
		transcribeDur = time.Since(start)
		if attempt.Provider != "" {
			result.Attempts = append(result.Attempts, attempt)
		}
		if err != nil {
			s.logger.Warn("transcription failed", "session_id", req.SessionID, "turn_id", turnID, "error", err)
			return domain.TurnResult{}, s.stageErr(StageTranscription, err)
		}
		utt.Text = strings.TrimSpace(tr.Text)
		result.UsedProviders.Transcription = tr.Provider
		if tr.Language != "" {
			hint = language.Hint{Code: tr.Language, Confidence: s.cfg.TranscriptHintConfidence}
		}
	}

	res := s.deps.Resolver.Resolve(utt.Text, hint)
	pivot := s.deps.Resolver.Pivot()
	utt.Language, utt.LanguageConfidence = res.Code, res.Confidence
	utt.PivotText = utt.Text
	result.Language = domain.LanguageInfo{
		Detected:            res.Code,
		DetectionConfidence: res.Confidence,
		Source:              res.Source,
		Pivot:               pivot,
		TranslationMethod:   translate.MethodIdentity,
	}

	if s.deps.Resolver.NeedsTranslation(utt.Language) {
		start := time.Now()
		tr, err := s.deps.Translator.Translate(ctx, utt.Text, utt.Language, pivot)
		translateInDur = time.Since(start)
		result.Attempts = append(result.Attempts, tr.Attempts...)
		if err != nil {
			return domain.TurnResult{}, s.stageErr(StageTranslation, err)
		}
		utt.PivotText = tr.Text
		utt.TranslationDegraded = tr.Degraded
		result.Language.TranslationMethod = tr.Method
		result.Language.TranslationDegraded = tr.Degraded
		if !tr.Degraded {
			result.UsedProviders.Translation = tr.Method
		}
	}

	history := sess.Turns()

	start := time.Now()
	est, err := s.deps.Estimator.Estimate(ctx, utt.PivotText, req.Audio, req.ContentType)
	emotionDur = time.Since(start)
	if err == nil {
		err = emotion.Validate(est.Fused)
	}
	if err != nil {
		return domain.TurnResult{}, s.stageErr(StageEmotion, err)
	}
	result.Emotion = est.Fused
	result.UsedProviders.Voice = est.VoiceProvider()
	result.Degraded.Emotion = est.Condition != nil || est.Fused.Degraded
	result.Degraded.Voice = est.VoiceErr != nil

	genReq := s.deps.Assembler.Assemble(utt.PivotText, est.Fused, history)
	result.Topic = genReq.Topic

	start = time.Now()
	gen, attempts, err := s.deps.Generator.Generate(ctx, genReq)
	generateDur = time.Since(start)
	result.Attempts = append(result.Attempts, attempts...)
	if err != nil {
		s.logger.Warn("generation failed", "session_id", req.SessionID, "turn_id", turnID, "attempts", len(attempts), "error", err)
		return domain.TurnResult{}, s.stageErr(StageGeneration, err)
	}
	result.UsedProviders.Generation = gen.Vendor + "/" + gen.Credential + "/" + gen.Model

	pivotReply := normalizeReply(gen.Text)
	if pivotReply == "" {
		return domain.TurnResult{}, s.stageErr(StageGeneration, fmt.Errorf("%w: empty reply", domain.ErrGenerationFailed))
	}
	result.Reply = pivotReply
	replyLang := pivot

	if s.deps.Resolver.NeedsTranslation(utt.Language) {
		start := time.Now()
		tr, err := s.deps.Translator.Translate(ctx, pivotReply, pivot, utt.Language)
		translateOutDur = time.Since(start)
		result.Attempts = append(result.Attempts, tr.Attempts...)
		if err != nil {
			return domain.TurnResult{}, s.stageErr(StageTranslation, err)
		}
		result.Reply = tr.Text
		if tr.Degraded {
			result.Language.TranslationDegraded = true
		} else {
			replyLang = utt.Language
		}
	}
	result.Degraded.Translation = result.Language.TranslationDegraded

	if s.deps.Synthesizer != nil && (req.Speak || len(req.Audio) > 0 || s.cfg.AlwaysSpeak) {
		start := time.Now()
		audio, err := s.deps.Synthesizer.Synthesize(ctx, result.Reply, replyLang)
		synthDur = time.Since(start)
		result.Attempts = append(result.Attempts, audio.Attempts...)
		if err != nil {
			return domain.TurnResult{}, s.stageErr(StageSynthesis, err)
		}
		result.Language.SpeechRequested = replyLang
		if audio.HasAudio() {
			result.ReplyAudio = audio.Audio
			result.ReplyContentType = audio.ContentType
			result.UsedProviders.Synthesis = audio.Provider
			result.Language.SpeechUsed = audio.Language
			result.Language.SpeechFallback = audio.Fallback
		} else {
			result.Degraded.Audio = true
		}
	}

	now := s.now()
	userTurn := domain.Turn{Role: domain.RoleUser, Text: utt.PivotText, Emotion: est.Fused.Label, At: now}
	assistantTurn := domain.Turn{Role: domain.RoleAssistant, Text: pivotReply, At: now}
	if err := sess.Append(ctx, turnID, userTurn, assistantTurn); err != nil {
		return domain.TurnResult{}, s.stageErr(StageContext, err)
	}

	if s.deps.Events != nil {
		if err := s.deps.Events.PublishTurn(ctx, result); err != nil {
			s.logger.Warn("publish turn failed", "session_id", req.SessionID, "turn_id", turnID, "error", err)
		}
	}

	s.logger.Info("turn timing",
		"session_id", req.SessionID,
		"turn_id", turnID,
		"language", utt.Language,
		"emotion", est.Fused.Label,
		"topic", result.Topic,
		"transcribe_ms", transcribeDur.Milliseconds(),
		"translate_in_ms", translateInDur.Milliseconds(),
		"emotion_ms", emotionDur.Milliseconds(),
		"generate_ms", generateDur.Milliseconds(),
		"translate_out_ms", translateOutDur.Milliseconds(),
		"synthesize_ms", synthDur.Milliseconds(),
		"total_ms", time.Since(turnStart).Milliseconds(),
	)
	return result, nil
}

// stageErr wraps a stage failure for the caller. Invariant violations are
// logged at error level and panic when DebugInvariants is set.
func (s *Service) stageErr(stage Stage, err error) error {
	if errors.Is(err, domain.ErrInvariant) || errors.Is(err, domain.ErrForeignLabel) {
		s.logger.Error("invariant violated", "stage", stage, "error", err)
		if s.cfg.DebugInvariants {
			panic(err)
		}
		return &TurnError{Stage: stage, UserMessage: msgInternal, Err: err}
	}
	return &TurnError{Stage: stage, UserMessage: userMessage(stage, err), Err: err}
}

// normalizeReply trims whitespace and a pair of wrapping quotes some models add.
func normalizeReply(reply string) string {
	reply = strings.TrimSpace(reply)
	if len(reply) >= 2 {
		first, last := reply[0], reply[len(reply)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
			reply = strings.TrimSpace(reply[1 : len(reply)-1])
		}
	}
	return reply
}
