package server

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/ppiankov/decipher/internal/library"
	"github.com/ppiankov/decipher/internal/model"
	"github.com/ppiankov/decipher/internal/pipeline"
)

// CreateBatchRequest submits documents inline or by source (path or URL)
type CreateBatchRequest struct {
	Documents []InlineDocument `json:"documents" validate:"omitempty,dive"`
	Sources   []string         `json:"sources" validate:"omitempty,dive,required"`
}

// InlineDocument is a document uploaded in the request body
type InlineDocument struct {
	Name        string `json:"name" validate:"required,max=512"`
	ContentType string `json:"content_type"`
	Content     string `json:"content"`
	Encoding    string `json:"encoding" validate:"omitempty,oneof=text base64"`
}

// UpdateDocumentRequest changes reader state of a document
type UpdateDocumentRequest struct {
	ReadStatus *string `json:"read_status" validate:"omitempty,oneof=unread reading read"`
	Rating     *int    `json:"rating" validate:"omitempty,min=0,max=5"`
}

// AddNoteRequest attaches a note to a document
type AddNoteRequest struct {
	Text   string `json:"text" validate:"required"`
	Anchor string `json:"anchor"`
}

// PinRequest places a dragged node
type PinRequest struct {
	X *float64 `json:"x" validate:"required"`
	Y *float64 `json:"y" validate:"required"`
}

// ExplainRequest selects a fragment of a library document
type ExplainRequest struct {
	Fragment   string `json:"fragment" validate:"required,max=500"`
	DocumentID string `json:"document_id" validate:"required"`
	Level      string `json:"level" validate:"omitempty,oneof=beginner standard expert"`
}

// BatchStatus is the response of GET /api/batches/current
type BatchStatus struct {
	Running  bool                   `json:"running"`
	Progress *pipeline.Progress     `json:"progress,omitempty"`
	Summary  *pipeline.BatchSummary `json:"summary,omitempty"`
	Error    string                 `json:"error,omitempty"`
}

func (s *Server) createBatch(w http.ResponseWriter, r *http.Request) {
	var req CreateBatchRequest
	if !s.decode(w, r, &req) {
		return
	}

	inputs := make([]pipeline.DocumentInput, 0, len(req.Documents)+len(req.Sources))
	for _, d := range req.Documents {
		data := []byte(d.Content)
		if d.Encoding == "base64" {
			decoded, err := base64.StdEncoding.DecodeString(d.Content)
			if err != nil {
				s.respondError(w, http.StatusBadRequest, fmt.Sprintf("document %s: invalid base64 content", d.Name))
				return
			}
			data = decoded
		}
		inputs = append(inputs, pipeline.DocumentInput{Name: d.Name, ContentType: d.ContentType, Data: data})
	}
	for _, src := range req.Sources {
		inputs = append(inputs, pipeline.DocumentInput{Source: src})
	}

	batch, err := s.deps.Pipeline.Begin(inputs)
	if err != nil {
		var tooLarge *pipeline.BatchTooLargeError
		switch {
		case errors.As(err, &tooLarge), errors.Is(err, pipeline.ErrEmptyBatch):
			s.respondError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, pipeline.ErrBatchInProgress):
			s.respondError(w, http.StatusConflict, err.Error())
		default:
			s.respondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	s.mu.Lock()
	s.progress = nil
	s.batchErr = ""
	s.mu.Unlock()

	s.batches.Add(1)
	go func() {
		defer s.batches.Done()
		_, err := batch.Run(s.baseCtx, s.onProgress)
		if err != nil {
			s.log.Warn("batch ended with error", "batch_id", batch.ID, "error", err)
			s.mu.Lock()
			s.batchErr = err.Error()
			s.mu.Unlock()
		}
	}()

	s.respondJSON(w, http.StatusAccepted, map[string]any{
		"batch_id":  batch.ID,
		"documents": len(inputs),
	})
}

func (s *Server) onProgress(p pipeline.Progress) {
	s.mu.Lock()
	s.progress = &p
	s.mu.Unlock()

	if p.Stage == pipeline.StageIngested && s.deps.Layout != nil {
		s.deps.Layout.Update(s.deps.Graph.Snapshot())
	}
}

func (s *Server) currentBatch(w http.ResponseWriter, r *http.Request) {
	status := BatchStatus{Running: s.deps.Pipeline.Running()}

	s.mu.RLock()
	if s.progress != nil {
		p := *s.progress
		status.Progress = &p
	}
	status.Error = s.batchErr
	s.mu.RUnlock()

	if summary, ok := s.deps.Pipeline.LastSummary(); ok {
		status.Summary = &summary
	}
	s.respondJSON(w, http.StatusOK, status)
}

func (s *Server) listDocuments(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{
		"documents": s.deps.Library.List(),
	})
}

func (s *Server) getDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.deps.Library.Get(chi.URLParam(r, "docID"))
	if err != nil {
		s.respondLibraryError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, doc)
}

func (s *Server) updateDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "docID")
	var req UpdateDocumentRequest
	if !s.decode(w, r, &req) {
		return
	}

	if req.ReadStatus != nil {
		if err := s.deps.Library.SetReadStatus(id, model.ReadStatus(*req.ReadStatus)); err != nil {
			s.respondLibraryError(w, err)
			return
		}
	}
	if req.Rating != nil {
		if err := s.deps.Library.SetRating(id, *req.Rating); err != nil {
			s.respondLibraryError(w, err)
			return
		}
	}

	s.getDocument(w, r)
}

func (s *Server) addNote(w http.ResponseWriter, r *http.Request) {
	var req AddNoteRequest
	if !s.decode(w, r, &req) {
		return
	}
	note, err := s.deps.Library.AddNote(chi.URLParam(r, "docID"), req.Text, req.Anchor)
	if err != nil {
		s.respondLibraryError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, note)
}

func (s *Server) respondLibraryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, library.ErrNotFound):
		s.respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, library.ErrInvalidStatus), errors.Is(err, library.ErrInvalidRating):
		s.respondError(w, http.StatusBadRequest, err.Error())
	default:
		s.respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) getGraph(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.deps.Graph.Snapshot())
}

func (s *Server) conceptDocument(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "conceptID")
	node, ok := s.deps.Graph.Node(id)
	if !ok {
		s.respondError(w, http.StatusNotFound, fmt.Sprintf("concept %q not found", id))
		return
	}
	doc, ok := s.deps.Library.FindByConcept(node.ID)
	if !ok {
		s.respondError(w, http.StatusNotFound, fmt.Sprintf("no document mentions %q", id))
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"concept":  node,
		"document": doc,
	})
}

func (s *Server) getLayout(w http.ResponseWriter, r *http.Request) {
	if s.deps.Layout == nil {
		s.respondError(w, http.StatusNotFound, "layout is not running")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"settled": s.deps.Layout.Settled(),
		"alpha":   s.deps.Layout.Alpha(),
		"ticks":   s.deps.Layout.Ticks(),
		"nodes":   s.deps.Layout.Positions(),
	})
}

func (s *Server) pinNode(w http.ResponseWriter, r *http.Request) {
	if s.deps.Layout == nil {
		s.respondError(w, http.StatusNotFound, "layout is not running")
		return
	}
	var req PinRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.deps.Layout.Pin(pathParam(r, "nodeID"), *req.X, *req.Y); err != nil {
		s.respondError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) releaseNode(w http.ResponseWriter, r *http.Request) {
	if s.deps.Layout == nil {
		s.respondError(w, http.StatusNotFound, "layout is not running")
		return
	}
	if err := s.deps.Layout.Release(pathParam(r, "nodeID")); err != nil {
		s.respondError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) requestExplanation(w http.ResponseWriter, r *http.Request) {
	var req ExplainRequest
	if !s.decode(w, r, &req) {
		return
	}
	doc, err := s.deps.Library.Get(req.DocumentID)
	if err != nil {
		s.respondLibraryError(w, err)
		return
	}

	level := model.ExplanationLevel(req.Level)
	if level == "" {
		level = s.deps.Resolver.View().Level
	}
	s.deps.Resolver.Request(req.Fragment, doc.RawText, level)
	s.respondJSON(w, http.StatusAccepted, s.deps.Resolver.View())
}

// getExplanation returns the resolver view; ?wait=true blocks up to 30s for a pending result
func (s *Server) getExplanation(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("wait") != "true" {
		s.respondJSON(w, http.StatusOK, s.deps.Resolver.View())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()
	view, _ := s.deps.Resolver.Await(ctx)
	s.respondJSON(w, http.StatusOK, view)
}

func pathParam(r *http.Request, key string) string {
	v := chi.URLParam(r, key)
	if unescaped, err := url.PathUnescape(v); err == nil {
		return unescaped
	}
	return v
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		field := strings.ToLower(e.Field())
		switch e.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s=%s", field, e.Tag(), e.Param()))
		}
	}
	return strings.Join(msgs, "; ")
}
