package extractor

import "strings"

// DefaultDeck is used when neither tags nor folders name a deck.
const DefaultDeck = "Default"

const (
	deckTagPrefix    = "deck::"
	subdeckTagPrefix = "subdeck::"
	deckSeparator    = "::"
)

// DeckResolver maps a note's tags and folder path to a deck path. An injected
// resolver replaces the built-in precedence entirely.
type DeckResolver interface {
	ResolveDeck(tags, folderPath []string) string
}

// DeckResolverFunc adapts a function to DeckResolver.
type DeckResolverFunc func(tags, folderPath []string) string

func (f DeckResolverFunc) ResolveDeck(tags, folderPath []string) string { return f(tags, folderPath) }

// TagDeckResolver is the built-in resolver; see ResolveDeck.
type TagDeckResolver struct{}

func (TagDeckResolver) ResolveDeck(tags, folderPath []string) string {
	return ResolveDeck(tags, folderPath)
}

// ResolveDeck picks the deck path by precedence:
//  1. a `deck::<name>` tag, extended by a `subdeck::<name>` tag if present;
//  2. the folder path, root first, joined with "::";
//  3. DefaultDeck.
func ResolveDeck(tags, folderPath []string) string {
	deck := tagValue(tags, deckTagPrefix)
	if deck != "" {
		if sub := tagValue(tags, subdeckTagPrefix); sub != "" {
			return deck + deckSeparator + sub
		}
		return deck
	}

	var parts []string
	for _, p := range folderPath {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) > 0 {
		return strings.Join(parts, deckSeparator)
	}
	return DefaultDeck
}

// SplitFolderPath splits a slash-separated folder path ("Science/Bio").
func SplitFolderPath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

func tagValue(tags []string, prefix string) string {
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if len(t) > len(prefix) && strings.EqualFold(t[:len(prefix)], prefix) {
			if v := strings.TrimSpace(t[len(prefix):]); v != "" {
				return v
			}
		}
	}
	return ""
}
