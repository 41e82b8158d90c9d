package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"empathy/internal/domain"
)

type Stage string

const (
	StageInput         Stage = "input"
	StageContext       Stage = "context"
	StageTranscription Stage = "transcription"
	StageTranslation   Stage = "translation"
	StageEmotion       Stage = "emotion"
	StageGeneration    Stage = "generation"
	StageSynthesis     Stage = "synthesis"
)

const (
	msgInvalidInput  = "Please send either a text message or a voice message."
	msgTranscription = "Sorry, I couldn't make out your voice message. Could you try again, or type it instead?"
	msgGeneration    = "I'm sorry, I can't put a reply together right now. Please try again in a moment."
	msgCanceled      = "The request was cancelled before a reply was ready."
	msgTimeout       = "That took too long to answer. Please try again."
	msgInternal      = "Something went wrong on our side. Please try again."
)

// TurnError is returned by ProcessTurn for failures that end the turn.
// UserMessage is safe to show to the person who sent the turn.
type TurnError struct {
	Stage       Stage
	UserMessage string
	Err         error
}

func (e *TurnError) Error() string {
	return fmt.Sprintf("turn %s: %v", e.Stage, e.Err)
}

func (e *TurnError) Unwrap() error { return e.Err }

func userMessage(stage Stage, err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return msgCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return msgTimeout
	case errors.Is(err, domain.ErrTranscriptionFailed):
		return msgTranscription
	case errors.Is(err, domain.ErrGenerationFailed):
		return msgGeneration
	case errors.Is(err, domain.ErrInvalidInput):
		return msgInvalidInput
	}
	switch stage {
	case StageTranscription:
		return msgTranscription
	case StageGeneration:
		return msgGeneration
	}
	return msgInternal
}
