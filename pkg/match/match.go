// Package match implements the pure tag matcher: given raw message text
// and an owner's personas it finds the persona addressed by a proxy tag
// and strips the matched affixes. It never touches state.
package match

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"personaproxy/pkg/models"
)

// EscapeMarker suppresses proxying for a message when it appears at the
// start of the text.
const EscapeMarker = `\`

// Result is a successful tag match.
type Result struct {
	Persona *models.Persona
	Tag     models.ProxyTag
	// Content is the text with the matched prefix/suffix removed. When
	// the persona sets KeepTag the caller renders the original text
	// instead; Content is still the stripped middle.
	Content string
}

// Escaped reports whether text starts with the escape marker.
func Escaped(text string) bool {
	return strings.HasPrefix(strings.TrimLeft(text, " \t"), EscapeMarker)
}

// Unescape removes one leading escape marker from text.
func Unescape(text string) string {
	trimmed := strings.TrimLeft(text, " \t")
	if strings.HasPrefix(trimmed, EscapeMarker) {
		return strings.TrimPrefix(trimmed, EscapeMarker)
	}
	return text
}

// Find returns the first persona whose tag matches text, in persona then
// tag registration order. Affix comparison is case-insensitive; the
// enclosed middle is preserved verbatim. A match whose middle is empty
// after trimming whitespace and the escape marker is rejected. Returns
// nil when nothing matches.
func Find(text string, personas []*models.Persona) *Result {
	for _, p := range personas {
		for _, tag := range p.Tags {
			if tag.Empty() {
				continue
			}
			content, ok := strip(text, tag)
			if !ok {
				continue
			}
			return &Result{Persona: p, Tag: tag, Content: content}
		}
	}
	return nil
}

// strip removes tag's affixes from text if both match case-insensitively
// and the remaining middle is usable. Affixes are compared rune by rune
// so case folds that change byte length (Kelvin sign vs ASCII k) still
// cut the middle at a rune boundary of the original text.
func strip(text string, tag models.ProxyTag) (string, bool) {
	middle, ok := foldTrimPrefix(text, tag.Prefix)
	if !ok {
		return "", false
	}
	middle, ok = foldTrimSuffix(middle, tag.Suffix)
	if !ok {
		return "", false
	}
	if strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(middle), EscapeMarker)) == "" {
		return "", false
	}
	return middle, true
}

// foldTrimPrefix removes affix from the front of text, folding case per
// rune, and reports whether the whole affix matched.
func foldTrimPrefix(text, affix string) (string, bool) {
	for _, ar := range affix {
		r, size := utf8.DecodeRuneInString(text)
		if size == 0 || unicode.ToLower(r) != unicode.ToLower(ar) {
			return "", false
		}
		text = text[size:]
	}
	return text, true
}

// foldTrimSuffix is foldTrimPrefix from the tail end.
func foldTrimSuffix(text, affix string) (string, bool) {
	for len(affix) > 0 {
		ar, asize := utf8.DecodeLastRuneInString(affix)
		affix = affix[:len(affix)-asize]
		r, size := utf8.DecodeLastRuneInString(text)
		if size == 0 || unicode.ToLower(r) != unicode.ToLower(ar) {
			return "", false
		}
		text = text[:len(text)-size]
	}
	return text, true
}
