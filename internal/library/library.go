// Package library keeps the ingested documents, most recent first.
package library

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/decipher/internal/model"
)

var (
	ErrNotFound      = errors.New("document not found")
	ErrDuplicateID   = errors.New("document id already in library")
	ErrInvalidStatus = errors.New("invalid read status")
	ErrInvalidRating = errors.New("rating out of range")
)

// Library is an id-keyed collection of documents in prepend order
type Library struct {
	mu    sync.RWMutex
	docs  []*model.Document // index 0 is the most recent
	byID  map[string]*model.Document
	clock func() time.Time
}

// New creates an empty library
func New() *Library {
	return &Library{
		byID:  make(map[string]*model.Document),
		clock: time.Now,
	}
}

// Add prepends a document. The library keeps its own copy.
func (l *Library) Add(doc model.Document) error {
	if doc.ID == "" {
		return fmt.Errorf("add document: empty id")
	}
	if doc.ReadStatus == "" {
		doc.ReadStatus = model.StatusUnread
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.byID[doc.ID]; exists {
		return fmt.Errorf("add %s: %w", doc.ID, ErrDuplicateID)
	}
	d := doc.Clone()
	l.docs = append([]*model.Document{&d}, l.docs...)
	l.byID[d.ID] = &d
	return nil
}

// Get returns a copy of the document with the given id
func (l *Library) Get(id string) (model.Document, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	d, ok := l.byID[id]
	if !ok {
		return model.Document{}, fmt.Errorf("get %s: %w", id, ErrNotFound)
	}
	return d.Clone(), nil
}

// List returns copies of all documents, most recent first
func (l *Library) List() []model.Document {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]model.Document, 0, len(l.docs))
	for _, d := range l.docs {
		out = append(out, d.Clone())
	}
	return out
}

// Len returns the number of documents
func (l *Library) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.docs)
}

// SetReadStatus updates a document's read status
func (l *Library) SetReadStatus(id string, status model.ReadStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	return l.update(id, func(d *model.Document) {
		d.ReadStatus = status
	})
}

// SetRating sets the reader's 0..5 rating
func (l *Library) SetRating(id string, rating int) error {
	if rating < 0 || rating > model.MaxRating {
		return fmt.Errorf("%w: %d (allowed 0..%d)", ErrInvalidRating, rating, model.MaxRating)
	}
	return l.update(id, func(d *model.Document) {
		d.Rating = rating
	})
}

// AddNote attaches a note to a document. anchor may be empty.
func (l *Library) AddNote(id, text, anchor string) (model.Note, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return model.Note{}, fmt.Errorf("add note: empty text")
	}

	note := model.Note{
		ID:        uuid.NewString(),
		Text:      text,
		Anchor:    anchor,
		CreatedAt: l.clock(),
	}
	err := l.update(id, func(d *model.Document) {
		d.Notes = append(d.Notes, note)
	})
	if err != nil {
		return model.Note{}, err
	}
	return note, nil
}

// FindByConcept returns the most recent document whose keywords include the
// concept or whose raw text contains it
func (l *Library) FindByConcept(conceptID string) (model.Document, bool) {
	conceptID = strings.TrimSpace(conceptID)
	if conceptID == "" {
		return model.Document{}, false
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, d := range l.docs {
		for _, kw := range d.Metadata.Keywords {
			if strings.EqualFold(strings.TrimSpace(kw), conceptID) {
				return d.Clone(), true
			}
		}
		if strings.Contains(d.RawText, conceptID) {
			return d.Clone(), true
		}
	}
	return model.Document{}, false
}

func (l *Library) update(id string, fn func(*model.Document)) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	d, ok := l.byID[id]
	if !ok {
		return fmt.Errorf("update %s: %w", id, ErrNotFound)
	}
	fn(d)
	return nil
}
