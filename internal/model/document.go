package model

import "time"

// ReadStatus tracks how far the reader got through a document
type ReadStatus string

const (
	StatusUnread  ReadStatus = "unread"
	StatusReading ReadStatus = "reading"
	StatusRead    ReadStatus = "read"
)

// Valid reports whether s is one of the known read states
func (s ReadStatus) Valid() bool {
	switch s {
	case StatusUnread, StatusReading, StatusRead:
		return true
	}
	return false
}

// MaxRating is the upper bound of the reader's 0..5 rating scale
const MaxRating = 5

// Document is a library item: one ingested research document
type Document struct {
	ID         string     `json:"id"`
	UploadedAt time.Time  `json:"uploaded_at"`
	ReadStatus ReadStatus `json:"read_status"`
	Rating     int        `json:"rating"`
	SourceName string     `json:"source_name"`
	RawText    string     `json:"raw_text"`
	Metadata   Metadata   `json:"metadata"`
	Notes      []Note     `json:"notes"`
}

// Metadata is the structured summary produced by the metadata extraction service
type Metadata struct {
	Title          string   `json:"title"`
	Type           string   `json:"type"` // classification, e.g. empirical study, survey, methodology
	Year           int      `json:"year"`
	Venue          string   `json:"venue"`
	Authors        []string `json:"authors"`
	Affiliations   []string `json:"affiliations"`
	Keywords       []string `json:"keywords"`
	CitationCount  int      `json:"citation_count"` // estimate
	Abstract       string   `json:"abstract"`
	ProblemSolved  string   `json:"problem_solved"`
	MethodUsed     string   `json:"method_used"`
	Implementation string   `json:"implementation"`
	Results        string   `json:"results"`
	Impact         string   `json:"impact"`
	Comparison     string   `json:"comparison"`
	Takeaway       string   `json:"takeaway"`
	URL            string   `json:"url,omitempty"`
}

// Note is a reader annotation attached to a document
type Note struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Anchor    string    `json:"anchor,omitempty"` // highlighted span of the raw text
	CreatedAt time.Time `json:"created_at"`
}

// Clone returns a deep copy so callers cannot mutate library-owned slices
func (d Document) Clone() Document {
	out := d
	out.Metadata.Authors = cloneStrings(d.Metadata.Authors)
	out.Metadata.Affiliations = cloneStrings(d.Metadata.Affiliations)
	out.Metadata.Keywords = cloneStrings(d.Metadata.Keywords)
	// never nil: an empty list encodes as [] rather than null
	out.Notes = append(make([]Note, 0, len(d.Notes)), d.Notes...)
	return out
}

func cloneStrings(in []string) []string {
	return append(make([]string, 0, len(in)), in...)
}
