// Package assets defines the asset record, its lifecycle state machine and the
// storage contract shared by the Postgres and in-memory stores.
package assets

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusSubmitted            Status = "SUBMITTED"
	StatusProcessing           Status = "PROCESSING"
	StatusProcessingError      Status = "PROCESSING_ERROR"
	StatusProcessed            Status = "PROCESSED"
	StatusGeneratingEmbeddings Status = "GENERATING_EMBEDDINGS"
	StatusEmbeddingsError      Status = "EMBEDDINGS_ERROR"
	StatusSearchable           Status = "SEARCHABLE"
)

// transitions is the complete lifecycle graph. Anything not listed here is
// rejected by both stores.
var transitions = map[Status][]Status{
	StatusSubmitted:            {StatusProcessing, StatusProcessingError},
	StatusProcessing:           {StatusProcessed, StatusProcessingError},
	StatusProcessed:            {StatusGeneratingEmbeddings},
	StatusGeneratingEmbeddings: {StatusSearchable, StatusEmbeddingsError},
}

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{
	StatusSubmitted,
	StatusProcessing,
	StatusProcessingError,
	StatusProcessed,
	StatusGeneratingEmbeddings,
	StatusEmbeddingsError,
	StatusSearchable,
}

func (s Status) Valid() bool {
	return slices.Contains(AllStatuses, s)
}

// Terminal reports whether no further transition is possible from s.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

func (s Status) IsError() bool {
	return s == StatusProcessingError || s == StatusEmbeddingsError
}

// HasText reports whether an asset in status s carries a transcript.
func (s Status) HasText() bool {
	switch s {
	case StatusSubmitted, StatusProcessing, StatusProcessingError:
		return false
	}
	return true
}

// CanTransition reports whether to directly follows from in the lifecycle graph.
func CanTransition(from, to Status) bool {
	return slices.Contains(transitions[from], to)
}

// ParseStatus parses a status name case-insensitively.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToUpper(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("unknown asset status %q", raw)
	}
	return s, nil
}

// Asset is one submitted URL and its processing record.
type Asset struct {
	ID                   uuid.UUID         `json:"id"`
	URL                  string            `json:"url"`
	ContentType          string            `json:"content_type"`
	ContentLength        string            `json:"content_length"`
	Status               Status            `json:"status"`
	Text                 *string           `json:"text,omitempty"`
	Embedding            []float32         `json:"-"`
	TranscriptionJobRef  string            `json:"transcription_job_ref,omitempty"`
	EmbeddingJobRef      string            `json:"embedding_job_ref,omitempty"`
	Error                *string           `json:"error,omitempty"`
	RawProviderResponses []json.RawMessage `json:"-"`
	CreatedAt            time.Time         `json:"created_at"`
	UpdatedAt            time.Time         `json:"updated_at"`
}

// ContentBytes parses ContentLength. ok is false when the probe did not
// report a usable length.
func (a *Asset) ContentBytes() (n int64, ok bool) {
	n, err := strconv.ParseInt(strings.TrimSpace(a.ContentLength), 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// Clone returns a deep copy so callers never share slices with a store.
func (a *Asset) Clone() *Asset {
	if a == nil {
		return nil
	}
	out := *a
	if a.Text != nil {
		t := *a.Text
		out.Text = &t
	}
	if a.Error != nil {
		e := *a.Error
		out.Error = &e
	}
	out.Embedding = slices.Clone(a.Embedding)
	if a.RawProviderResponses != nil {
		out.RawProviderResponses = make([]json.RawMessage, len(a.RawProviderResponses))
		for i, r := range a.RawProviderResponses {
			out.RawProviderResponses[i] = slices.Clone(r)
		}
	}
	return &out
}

// Update describes the fields written by a status transition. Nil fields are
// left untouched.
type Update struct {
	Status              Status
	Text                *string
	Embedding           []float32
	TranscriptionJobRef *string
	EmbeddingJobRef     *string
	Error               *string
	// AppendRaw is appended to the provider audit trail when non-empty.
	AppendRaw json.RawMessage
}

// Validate checks that upd is a legal transition out of every status in from
// and that it keeps the record invariants.
func (upd Update) Validate(from []Status) error {
	if len(from) == 0 {
		return fmt.Errorf("%w: no source status", ErrIllegalTransition)
	}
	for _, f := range from {
		if !CanTransition(f, upd.Status) {
			return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, f, upd.Status)
		}
	}
	if upd.Status == StatusSearchable && len(upd.Embedding) == 0 {
		return fmt.Errorf("%w: %s requires an embedding", ErrIllegalTransition, upd.Status)
	}
	if upd.Status != StatusSearchable && upd.Embedding != nil {
		return fmt.Errorf("%w: embedding only allowed with %s", ErrIllegalTransition, StatusSearchable)
	}
	if upd.Status == StatusProcessed && upd.Text == nil {
		return fmt.Errorf("%w: %s requires text", ErrIllegalTransition, upd.Status)
	}
	if upd.Error != nil && !upd.Status.IsError() {
		return fmt.Errorf("%w: error detail only allowed in error states", ErrIllegalTransition)
	}
	if len(upd.AppendRaw) > 0 && !json.Valid(upd.AppendRaw) {
		return fmt.Errorf("%w: raw provider response is not valid json", ErrIllegalTransition)
	}
	return nil
}

// Apply writes upd onto a. Callers are expected to have validated it.
func (upd Update) Apply(a *Asset, now time.Time) {
	a.Status = upd.Status
	if upd.Text != nil {
		t := *upd.Text
		a.Text = &t
	}
	if upd.Embedding != nil {
		a.Embedding = slices.Clone(upd.Embedding)
	}
	if upd.TranscriptionJobRef != nil {
		a.TranscriptionJobRef = *upd.TranscriptionJobRef
	}
	if upd.EmbeddingJobRef != nil {
		a.EmbeddingJobRef = *upd.EmbeddingJobRef
	}
	if upd.Error != nil {
		e := *upd.Error
		a.Error = &e
	}
	if len(upd.AppendRaw) > 0 {
		a.RawProviderResponses = append(a.RawProviderResponses, slices.Clone(upd.AppendRaw))
	}
	a.UpdatedAt = now
}

// StringPtr is a small helper for building updates.
func StringPtr(s string) *string {
	return &s
}
