package domain

import "errors"

var (
	ErrInvalidInput        = errors.New("invalid turn input")
	ErrTranscriptionFailed = errors.New("transcription failed")
	ErrGenerationFailed    = errors.New("generation failed")
	ErrModelUnavailable    = errors.New("emotion models unavailable")
	ErrForeignLabel        = errors.New("label outside canonical set")
	ErrInvariant           = errors.New("invariant violated")
)
