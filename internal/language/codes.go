// Package language canonicalizes language codes and resolves the language of
// an utterance from detection plus an optional caller hint.
package language

import (
	"sort"
	"strings"

	"golang.org/x/text/language"
)

// Dialect is the code style a remote provider speaks.
type Dialect string

const (
	DialectISO   Dialect = "iso"   // ISO-639-1, "en"
	DialectBCP47 Dialect = "bcp47" // region tagged, "en-US"
	DialectDeepL Dialect = "deepl" // upper case, "EN-US"
	DialectName  Dialect = "name"  // English name, "english"
)

type entry struct {
	code   string
	name   string
	region string
	deepl  string
}

// One row per supported language. Every dialect conversion goes through here.
var table = []entry{
	{code: "en", name: "english", region: "en-US", deepl: "EN-US"},
	{code: "fr", name: "french", region: "fr-FR", deepl: "FR"},
	{code: "es", name: "spanish", region: "es-ES", deepl: "ES"},
	{code: "de", name: "german", region: "de-DE", deepl: "DE"},
	{code: "it", name: "italian", region: "it-IT", deepl: "IT"},
	{code: "pt", name: "portuguese", region: "pt-BR", deepl: "PT-BR"},
	{code: "nl", name: "dutch", region: "nl-NL", deepl: "NL"},
	{code: "pl", name: "polish", region: "pl-PL", deepl: "PL"},
	{code: "ru", name: "russian", region: "ru-RU", deepl: "RU"},
	{code: "ja", name: "japanese", region: "ja-JP", deepl: "JA"},
	{code: "ko", name: "korean", region: "ko-KR", deepl: "KO"},
	{code: "zh", name: "chinese", region: "zh-CN", deepl: "ZH"},
	{code: "ar", name: "arabic", region: "ar-SA", deepl: "AR"},
	{code: "hi", name: "hindi", region: "hi-IN", deepl: ""},
	{code: "tr", name: "turkish", region: "tr-TR", deepl: "TR"},
	{code: "el", name: "greek", region: "el-GR", deepl: "EL"},
	{code: "he", name: "hebrew", region: "he-IL", deepl: ""},
	{code: "th", name: "thai", region: "th-TH", deepl: ""},
	{code: "uk", name: "ukrainian", region: "uk-UA", deepl: "UK"},
	{code: "sv", name: "swedish", region: "sv-SE", deepl: "SV"},
}

var byCode, byName, byDeepL map[string]entry

func init() {
	byCode = make(map[string]entry, len(table))
	byName = make(map[string]entry, len(table))
	byDeepL = make(map[string]entry, len(table))
	for _, e := range table {
		byCode[e.code] = e
		byName[e.name] = e
		if e.deepl != "" {
			byDeepL[e.deepl] = e
			byDeepL[strings.SplitN(e.deepl, "-", 2)[0]] = e
		}
	}
}

// Canonical maps any accepted spelling ("EN-us", "english", "zh-Hans-CN")
// to the ISO-639-1 code. The second return is false for unknown languages.
func Canonical(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	if e, ok := byName[strings.ToLower(s)]; ok {
		return e.code, true
	}
	tag, err := language.Parse(s)
	if err != nil {
		return "", false
	}
	base, _ := tag.Base()
	code := base.String()
	if _, ok := byCode[code]; !ok {
		return "", false
	}
	return code, true
}

// SameBase reports whether two codes in any accepted spelling name the same language.
func SameBase(a, b string) bool {
	ca, okA := Canonical(a)
	cb, okB := Canonical(b)
	return okA && okB && ca == cb
}

// ToDialect converts a canonical code into the provider's spelling. Unknown
// codes and missing dialect entries return false.
func ToDialect(code string, d Dialect) (string, bool) {
	c, ok := Canonical(code)
	if !ok {
		return "", false
	}
	e := byCode[c]
	switch d {
	case DialectISO, "":
		return e.code, true
	case DialectBCP47:
		return e.region, true
	case DialectDeepL:
		return e.deepl, e.deepl != ""
	case DialectName:
		return e.name, true
	}
	return "", false
}

// FromDialect is the inverse of ToDialect.
func FromDialect(s string, d Dialect) (string, bool) {
	s = strings.TrimSpace(s)
	switch d {
	case DialectDeepL:
		if e, ok := byDeepL[strings.ToUpper(s)]; ok {
			return e.code, true
		}
		return "", false
	case DialectName:
		if e, ok := byName[strings.ToLower(s)]; ok {
			return e.code, true
		}
		return "", false
	}
	return Canonical(s)
}

// DisplayName returns the capitalized English name, used in prompts.
func DisplayName(code string) string {
	c, ok := Canonical(code)
	if !ok {
		return code
	}
	name := byCode[c].name
	return strings.ToUpper(name[:1]) + name[1:]
}

func Supported() []string {
	out := make([]string, 0, len(table))
	for _, e := range table {
		out = append(out, e.code)
	}
	sort.Strings(out)
	return out
}
