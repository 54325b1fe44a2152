package models

import "time"

// StandardCardType is the card type used when a quiz block declares none.
const StandardCardType = "Joplin to Anki"

// Fields holds the card content of a quiz item. Either the standard shape
// (Question, Answer and the auxiliary fields) is set, or CardTypeName and
// Custom are set by a pluggable field mapper.
type Fields struct {
	Question    string `json:"question,omitempty"`
	Answer      string `json:"answer,omitempty"`
	Header      string `json:"header,omitempty"`
	Footer      string `json:"footer,omitempty"`
	Sources     string `json:"sources,omitempty"`
	Explanation string `json:"explanation,omitempty"`
	Correlation string `json:"correlation,omitempty"`

	CardTypeName string            `json:"card_type_name,omitempty"`
	Custom       map[string]string `json:"custom,omitempty"`
}

// IsCustom reports whether the fields came from a field mapper.
func (f Fields) IsCustom() bool {
	return f.CardTypeName != ""
}

// QuizItem is one quiz block converted into a flashcard record.
type QuizItem struct {
	Identifier        string     `json:"identifier"`
	ContentHash       string     `json:"content_hash"`
	DeckPath          string     `json:"deck_path"`
	Fields            Fields     `json:"fields"`
	Tags              []string   `json:"tags"`
	SourceTitle       string     `json:"source_title"`
	SourceFolder      string     `json:"source_folder"`
	SourceNoteID      string     `json:"source_note_id"`
	ResourcesToUpload []Resource `json:"resources_to_upload,omitempty"`
}

// DestinationNote mirrors a flashcard already present in the destination.
type DestinationNote struct {
	NoteID   int64             `json:"note_id"`
	CardType string            `json:"card_type"`
	Deck     string            `json:"deck"`
	Fields   map[string]string `json:"fields"`
	Tags     []string          `json:"tags"`
	CardIDs  []int64           `json:"card_ids"`
	Modified time.Time         `json:"modified"`
}
