package pipeline

import (
	"fmt"
	"time"
)

// Stage of a progress event
type Stage string

const (
	StageStarted    Stage = "started"
	StageExtracting Stage = "extracting"
	StageIngested   Stage = "ingested"
	StageFailed     Stage = "failed"
	StageCooldown   Stage = "cooldown"
	StageFinished   Stage = "finished"
)

// Batch outcomes, as counted by the batches metric
const (
	OutcomeComplete = "complete"
	OutcomePartial  = "partial"
	OutcomeFailed   = "failed"
	OutcomeCanceled = "canceled"
	OutcomeRejected = "rejected"
)

// Progress is reported as a batch advances. Index is zero-based.
type Progress struct {
	BatchID    string `json:"batch_id"`
	Index      int    `json:"index"`
	Total      int    `json:"total"`
	Name       string `json:"name,omitempty"`
	Stage      Stage  `json:"stage"`
	DocumentID string `json:"document_id,omitempty"`
	Message    string `json:"message,omitempty"`
}

// String renders the progress line shown while a batch runs
func (p Progress) String() string {
	switch p.Stage {
	case StageStarted:
		return fmt.Sprintf("processing %d documents", p.Total)
	case StageExtracting:
		return fmt.Sprintf("parsing (%d/%d): %s", p.Index+1, p.Total, p.Name)
	case StageIngested:
		return fmt.Sprintf("added (%d/%d): %s", p.Index+1, p.Total, p.Name)
	case StageFailed:
		return fmt.Sprintf("skipped (%d/%d): %s: %s", p.Index+1, p.Total, p.Name, p.Message)
	case StageCooldown:
		return "rate limited, cooling down"
	case StageFinished:
		return p.Message
	}
	return string(p.Stage)
}

// DocumentFailure records a document dropped from a batch
type DocumentFailure struct {
	Index       int    `json:"index"`
	Name        string `json:"name"`
	Reason      string `json:"reason"`
	Message     string `json:"error"`
	RateLimited bool   `json:"rate_limited"`
	Err         error  `json:"-"`
}

// BatchSummary reports what a batch did
type BatchSummary struct {
	BatchID        string            `json:"batch_id"`
	Attempted      int               `json:"attempted"`
	Succeeded      int               `json:"succeeded"`
	Failures       []DocumentFailure `json:"failures,omitempty"`
	DocumentIDs    []string          `json:"document_ids"`
	NodesAdded     int               `json:"nodes_added"`
	RelationsAdded int               `json:"relations_added"`
	Canceled       bool              `json:"canceled,omitempty"`
	StartedAt      time.Time         `json:"started_at"`
	FinishedAt     time.Time         `json:"finished_at"`
}

// Outcome classifies the batch for metrics and display
func (s BatchSummary) Outcome() string {
	switch {
	case s.Canceled:
		return OutcomeCanceled
	case s.Succeeded == s.Attempted:
		return OutcomeComplete
	case s.Succeeded == 0:
		return OutcomeFailed
	}
	return OutcomePartial
}

// Duration is the wall time the batch took
func (s BatchSummary) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

func (s BatchSummary) String() string {
	return fmt.Sprintf("successfully processed %d of %d documents", s.Succeeded, s.Attempted)
}
