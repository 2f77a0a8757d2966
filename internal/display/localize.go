package display

import (
	"maps"
	"slices"

	"golang.org/x/text/language"
)

// FallbackLanguage is used when no requested language matches.
const FallbackLanguage = "en"

// Localize picks the entry of names that best matches lang. When nothing
// matches it falls back to English, then to the first language in sort
// order, then to fallback.
func Localize(names map[string]string, lang string, fallback string) string {
	if len(names) == 0 {
		return fallback
	}

	keys := slices.Sorted(maps.Keys(names))
	tags := make([]language.Tag, 0, len(keys))
	for _, k := range keys {
		tags = append(tags, language.Make(k))
	}

	_, idx, conf := language.NewMatcher(tags).Match(language.Make(lang))
	if conf != language.No {
		return names[keys[idx]]
	}
	if name, ok := names[FallbackLanguage]; ok {
		return name
	}
	return names[keys[0]]
}
