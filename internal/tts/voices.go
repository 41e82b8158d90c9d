package tts

import (
	"sort"

	"empathy/internal/language"
)

// neighbours lists, per language, the languages a listener is most likely to
// follow when no native voice exists. Order matters.
var neighbours = map[string][]string{
	"pt": {"es", "it", "fr"},
	"es": {"pt", "it", "fr"},
	"it": {"es", "fr", "pt"},
	"fr": {"it", "es", "pt"},
	"uk": {"ru", "pl"},
	"ru": {"uk", "pl"},
	"pl": {"uk", "ru"},
	"nl": {"de", "en"},
	"de": {"nl", "en"},
	"sv": {"de", "nl", "en"},
	"zh": {"ja"},
	"ja": {"zh"},
	"ko": {"ja", "zh"},
	"ar": {"he"},
	"he": {"ar"},
}

type VoiceMap struct {
	voices   map[string]string
	fallback string
}

type Selection struct {
	Requested string
	Language  string
	Voice     string
	Fallback  bool
}

// NewVoiceMap canonicalizes keys; unknown language keys are dropped.
// fallback is the language used when neither the requested language nor any
// neighbour has a voice.
func NewVoiceMap(voices map[string]string, fallback string) VoiceMap {
	m := VoiceMap{voices: make(map[string]string, len(voices))}
	for lang, voice := range voices {
		code, ok := language.Canonical(lang)
		if !ok || voice == "" {
			continue
		}
		m.voices[code] = voice
	}
	if code, ok := language.Canonical(fallback); ok {
		m.fallback = code
	}
	return m
}

// Merge returns a copy with overrides applied on top.
func (m VoiceMap) Merge(overrides map[string]string) VoiceMap {
	merged := make(map[string]string, len(m.voices)+len(overrides))
	for k, v := range m.voices {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return NewVoiceMap(merged, m.fallback)
}

// Resolve picks the voice for lang, falling back to the closest supported
// language. The second return is false when the map cannot serve anything.
func (m VoiceMap) Resolve(lang string) (Selection, bool) {
	code, _ := language.Canonical(lang)
	sel := Selection{Requested: code}
	if sel.Requested == "" {
		sel.Requested = lang
	}

	if v, ok := m.voices[code]; ok {
		sel.Language, sel.Voice = code, v
		return sel, true
	}
	for _, n := range neighbours[code] {
		if v, ok := m.voices[n]; ok {
			sel.Language, sel.Voice, sel.Fallback = n, v, true
			return sel, true
		}
	}
	if v, ok := m.voices[m.fallback]; ok {
		sel.Language, sel.Voice, sel.Fallback = m.fallback, v, true
		return sel, true
	}
	return sel, false
}

func (m VoiceMap) Languages() []string {
	out := make([]string, 0, len(m.voices))
	for k := range m.voices {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (m VoiceMap) Voice(lang string) string {
	return m.voices[lang]
}
