// Package tts renders reply text as speech through an ordered chain of
// synthesis providers. Every provider owns its language to voice table and
// reports when it had to fall back to a neighbouring language.
package tts

import "context"

type Options struct {
	// Language is the canonical code the voice was chosen for.
	Language string
	Voice    string
}

type Audio struct {
	Data        []byte
	ContentType string
	SampleRate  int
	Channels    int
}

type Synthesizer interface {
	Name() string
	Voices() VoiceMap
	Synthesize(ctx context.Context, text string, opts Options) (Audio, error)
}
