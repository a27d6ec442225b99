package synth

import (
	"sort"
	"strings"
)

// Voice describes one playback voice offered by the TTS backend.
type Voice struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Locale  string `json:"locale"`
	Default bool   `json:"default"`
}

// SelectVoice picks a voice deterministically: exact locale match first, then
// same-language match, then the backend default, then the first by ID. Purely
// cosmetic; callers must tolerate an empty result when no voices exist.
func SelectVoice(voices []Voice, locale string) (Voice, bool) {
	if len(voices) == 0 {
		return Voice{}, false
	}
	sorted := make([]Voice, len(voices))
	copy(sorted, voices)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	locale = strings.ToLower(strings.TrimSpace(locale))
	lang := locale
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}

	if locale != "" {
		for _, v := range sorted {
			if strings.EqualFold(v.Locale, locale) {
				return v, true
			}
		}
		for _, v := range sorted {
			vl := strings.ToLower(v.Locale)
			if vl == lang || strings.HasPrefix(vl, lang+"-") || strings.HasPrefix(vl, lang+"_") {
				return v, true
			}
		}
	}
	for _, v := range sorted {
		if v.Default {
			return v, true
		}
	}
	return sorted[0], true
}
