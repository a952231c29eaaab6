// Package jobs is the boundary to the external compute provider that runs
// transcription and embedding jobs.
package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Job type names. The provider addresses a job by name plus a pinned model
// version.
const (
	NameTranscription = "transcription"
	NameEmbedding     = "embedding"
)

// Default model versions (openai/whisper and nomic-ai embeddings on Replicate).
const (
	DefaultTranscriptionVersion = "cdd97b257f93cb89dede1c7584e3f3dfc969571b357dbcee08e793740bedd854"
	DefaultEmbeddingVersion     = "b6b7585c9640cd7a9572c6e129c9549d79c9c31f0d3fdce7baac7c67ca38f305"
)

type JobType struct {
	Name    string
	Version string
}

func (t JobType) String() string {
	return t.Name + "@" + t.Version
}

// Catalog holds the versioned job types this service dispatches.
type Catalog struct {
	Transcription JobType
	Embedding     JobType
}

func NewCatalog(transcriptionVersion, embeddingVersion string) Catalog {
	if transcriptionVersion == "" {
		transcriptionVersion = DefaultTranscriptionVersion
	}
	if embeddingVersion == "" {
		embeddingVersion = DefaultEmbeddingVersion
	}
	return Catalog{
		Transcription: JobType{Name: NameTranscription, Version: transcriptionVersion},
		Embedding:     JobType{Name: NameEmbedding, Version: embeddingVersion},
	}
}

// Input is the provider-specific job input document.
type Input map[string]any

// Ticket is returned once the provider accepted an asynchronous job. Ref
// correlates later callbacks; Raw is the provider's acceptance payload.
type Ticket struct {
	Ref string
	Raw json.RawMessage
}

// Client submits jobs. Implementations never retry: retry policy belongs to
// the relay in front of the webhooks.
type Client interface {
	// DispatchAsync submits a fire-and-forget job. The provider calls
	// callbackURL at least once when the job completes.
	DispatchAsync(ctx context.Context, jobType JobType, input Input, callbackURL string) (Ticket, error)
	// RunSync blocks until the job output is available or timeout elapses.
	RunSync(ctx context.Context, jobType JobType, input Input, timeout time.Duration) (json.RawMessage, error)
}

var (
	// ErrRejected means the provider refused the request or the job failed.
	ErrRejected = errors.New("provider rejected job")
	// ErrTimeout means no synchronous result arrived before the deadline.
	ErrTimeout = errors.New("timed out waiting for job result")
	// ErrDimensionMismatch means an embedding vector has the wrong length.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// DispatchError describes a failed provider call. Err is ErrRejected,
// ErrTimeout or the underlying transport error.
type DispatchError struct {
	Job        JobType
	StatusCode int
	Detail     string
	Err        error
}

func (e *DispatchError) Error() string {
	msg := fmt.Sprintf("dispatch %s", e.Job.Name)
	if e.StatusCode != 0 {
		msg += ": status " + strconv.Itoa(e.StatusCode)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DispatchError) Unwrap() error { return e.Err }

// TranscriptionInput builds the whisper input for a media URL.
func TranscriptionInput(mediaURL string) Input {
	return Input{
		"audio":                             mediaURL,
		"model":                             "large-v3",
		"language":                          "auto",
		"translate":                         false,
		"temperature":                       0,
		"transcription":                     "plain text",
		"suppress_tokens":                   "-1",
		"logprob_threshold":                 -1,
		"no_speech_threshold":               0.6,
		"condition_on_previous_text":        true,
		"compression_ratio_threshold":       2.4,
		"temperature_increment_on_fallback": 0.2,
	}
}

func EmbeddingInput(text string) Input {
	return Input{"text": text}
}

// EmbeddingOutput is the embedding job output: one entry per input text.
type EmbeddingOutput []struct {
	Embedding []float64 `json:"embedding"`
}

// DecodeEmbedding extracts the first vector from an embedding job output and
// checks it has exactly dims components.
func DecodeEmbedding(raw json.RawMessage, dims int) ([]float32, error) {
	var out EmbeddingOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode embedding output: %w", err)
	}
	if len(out) == 0 {
		return nil, errors.New("embedding output is empty")
	}
	v := out[0].Embedding
	if len(v) != dims {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(v), dims)
	}
	vec := make([]float32, len(v))
	for i, f := range v {
		vec[i] = float32(f)
	}
	return vec, nil
}

// ErrorMessage renders a provider error field, which may be null, a string or
// an arbitrary JSON value. fallback is returned when the field is empty.
func ErrorMessage(raw json.RawMessage, fallback string) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return fallback
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		if strings.TrimSpace(s) == "" {
			return fallback
		}
		return s
	}
	return string(trimmed)
}

// CallbackURL appends the asset id to a webhook base address. The id in the
// path is what correlates a callback with its asset.
func CallbackURL(base, assetID string) string {
	return strings.TrimRight(strings.TrimSpace(base), "/") + "/" + assetID
}
