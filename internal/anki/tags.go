package anki

import (
	"strings"
	"unicode"

	"github.com/starford/decksync/internal/models"
)

// Provenance tag prefixes. Tags with these prefixes are regenerated on every
// update.
const (
	TitleTagPrefix    = "joplin_title_"
	NotebookTagPrefix = "joplin_notebook_"
)

// SanitizeTag keeps letters, digits, combining marks and emoji. Every other
// run of characters becomes a single underscore, trimmed from both ends.
func SanitizeTag(s string) string {
	var b strings.Builder
	pending := false
	for _, r := range s {
		if !tagRune(r) {
			pending = b.Len() > 0
			continue
		}
		if pending {
			b.WriteByte('_')
			pending = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

// tagRune also admits the zero-width joiner and skin tone modifiers so
// composed emoji survive intact.
func tagRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r) ||
		unicode.Is(unicode.So, r) || r == '\u200d' || (r >= 0x1f3fb && r <= 0x1f3ff)
}

// IsProvenanceTag reports whether t was derived from source metadata.
func IsProvenanceTag(t string) bool {
	return strings.HasPrefix(t, TitleTagPrefix) || strings.HasPrefix(t, NotebookTagPrefix)
}

// ItemTags returns the tag set written for an item: its source tags (spaces
// replaced, since Anki splits tags on whitespace) plus the title and notebook
// provenance tags.
func ItemTags(item *models.QuizItem) []string {
	out := make([]string, 0, len(item.Tags)+2)
	seen := make(map[string]struct{}, len(item.Tags)+2)
	add := func(t string) {
		if t == "" {
			return
		}
		if _, dup := seen[t]; dup {
			return
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	for _, t := range item.Tags {
		add(strings.Join(strings.Fields(t), "_"))
	}
	if s := SanitizeTag(item.SourceTitle); s != "" {
		add(TitleTagPrefix + s)
	}
	if s := SanitizeTag(item.SourceFolder); s != "" {
		add(NotebookTagPrefix + s)
	}
	return out
}
