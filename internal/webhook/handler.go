// Package webhook applies provider completion callbacks to assets.
//
// Every callback is authenticated, decoded and then applied with a single
// conditional store transition. Redelivered callbacks find the asset already
// past the expected status and are acknowledged without mutation.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
	"thirdcoast.systems/allthethings/internal/assets"
	"thirdcoast.systems/allthethings/internal/jobs"
)

var (
	ErrUnauthenticated     = errors.New("webhook signature verification failed")
	ErrCorrelationNotFound = errors.New("no asset matches callback")
	ErrMalformedPayload    = errors.New("malformed webhook payload")
	ErrOutOfOrder          = errors.New("callback arrived before its job was recorded")
	ErrJobMismatch         = errors.New("callback job does not match asset")
	ErrNotProcessed        = errors.New("asset is not processed")
)

const (
	DefaultDimensions      = 768
	defaultDispatchTimeout = 30 * time.Second
)

type Options struct {
	Store    assets.Store
	Jobs     jobs.Client
	Verifier *Verifier
	Catalog  jobs.Catalog
	// EmbeddingWebhookURL is the base callback address for embedding jobs.
	EmbeddingWebhookURL string
	Dimensions          int
	DispatchTimeout     time.Duration
}

type Handler struct {
	store           assets.Store
	jobs            jobs.Client
	verifier        *Verifier
	catalog         jobs.Catalog
	embeddingBase   string
	dims            int
	dispatchTimeout time.Duration
}

func NewHandler(opts Options) *Handler {
	dims := opts.Dimensions
	if dims <= 0 {
		dims = DefaultDimensions
	}
	timeout := opts.DispatchTimeout
	if timeout <= 0 {
		timeout = defaultDispatchTimeout
	}
	return &Handler{
		store:           opts.Store,
		jobs:            opts.Jobs,
		verifier:        opts.Verifier,
		catalog:         opts.Catalog,
		embeddingBase:   opts.EmbeddingWebhookURL,
		dims:            dims,
		dispatchTimeout: timeout,
	}
}

// Outcome describes an accepted callback.
type Outcome struct {
	Asset *assets.Asset
	// Replayed is set when the callback had already been applied.
	Replayed bool
	// Warning reports a follow-up step that failed after the asset advanced.
	Warning error
}

// HandleTranscription applies a transcription completion for assetID. On
// success the embedding job is dispatched straight away.
func (h *Handler) HandleTranscription(ctx context.Context, assetID string, body []byte, signature string) (*Outcome, error) {
	id, p, err := h.accept(assetID, body, signature, jobs.NameTranscription)
	if err != nil {
		return nil, err
	}

	upd := assets.Update{AppendRaw: body}
	if p.ID != "" {
		upd.TranscriptionJobRef = assets.StringPtr(p.ID)
	}
	if msg, failed := p.failed(); failed {
		upd.Status = assets.StatusProcessingError
		upd.Error = assets.StringPtr(msg)
	} else {
		text, err := p.transcription()
		if err != nil {
			slog.Warn("malformed transcription callback", "asset_id", id, "error", err)
			return h.rejectContent(ctx, id, p, jobs.NameTranscription, assets.StatusProcessing, err)
		}
		upd.Status = assets.StatusProcessed
		upd.Text = assets.StringPtr(norm.NFC.String(text))
	}

	asset, err := h.store.Transition(ctx, id, []assets.Status{assets.StatusProcessing}, upd)
	if err != nil {
		return h.settle(id, p, jobs.NameTranscription, err)
	}

	if asset.Status == assets.StatusProcessingError {
		slog.Info("transcription failed", "asset_id", id, "job_ref", p.ID, "error", *asset.Error)
		return &Outcome{Asset: asset}, nil
	}

	slog.Info("transcription stored", "asset_id", id, "job_ref", p.ID, "chars", len(*asset.Text))

	next, err := h.RequestEmbeddings(ctx, id)
	if err != nil {
		slog.Error("embedding dispatch failed", "asset_id", id, "error", err)
		return &Outcome{Asset: asset, Warning: err}, nil
	}
	return &Outcome{Asset: next}, nil
}

// HandleEmbedding applies an embedding completion for assetID. Vectors whose
// length differs from the configured dimension are rejected without mutation.
func (h *Handler) HandleEmbedding(ctx context.Context, assetID string, body []byte, signature string) (*Outcome, error) {
	id, p, err := h.accept(assetID, body, signature, jobs.NameEmbedding)
	if err != nil {
		return nil, err
	}

	upd := assets.Update{AppendRaw: body}
	if p.ID != "" {
		upd.EmbeddingJobRef = assets.StringPtr(p.ID)
	}
	if msg, failed := p.failed(); failed {
		upd.Status = assets.StatusEmbeddingsError
		upd.Error = assets.StringPtr(msg)
	} else {
		if isNull(p.Output) {
			return h.rejectContent(ctx, id, p, jobs.NameEmbedding, assets.StatusGeneratingEmbeddings,
				fmt.Errorf("%w: missing output", ErrMalformedPayload))
		}
		vec, err := jobs.DecodeEmbedding(p.Output, h.dims)
		if err != nil {
			slog.Warn("rejected embedding callback", "asset_id", id, "error", err)
			return h.rejectContent(ctx, id, p, jobs.NameEmbedding, assets.StatusGeneratingEmbeddings,
				fmt.Errorf("%w: %w", ErrMalformedPayload, err))
		}
		upd.Status = assets.StatusSearchable
		upd.Embedding = vec
	}

	asset, err := h.store.Transition(ctx, id, []assets.Status{assets.StatusGeneratingEmbeddings}, upd)
	if err != nil {
		return h.settle(id, p, jobs.NameEmbedding, err)
	}

	if asset.Status == assets.StatusEmbeddingsError {
		slog.Info("embedding failed", "asset_id", id, "job_ref", p.ID, "error", *asset.Error)
	} else {
		slog.Info("asset searchable", "asset_id", id, "job_ref", p.ID)
	}
	return &Outcome{Asset: asset}, nil
}

// RequestEmbeddings dispatches the embedding job for a PROCESSED asset and
// moves it to GENERATING_EMBEDDINGS. A failed dispatch leaves the asset in
// PROCESSED so it can be requested again.
func (h *Handler) RequestEmbeddings(ctx context.Context, id uuid.UUID) (*assets.Asset, error) {
	asset, err := h.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if asset.Status != assets.StatusProcessed {
		return nil, fmt.Errorf("%w: asset %s is %s", ErrNotProcessed, id, asset.Status)
	}

	var text string
	if asset.Text != nil {
		text = *asset.Text
	}

	// Once a job may be running at the provider its ref has to be recorded,
	// whatever happens to the caller.
	persistCtx := context.WithoutCancel(ctx)

	dispatchCtx, cancel := context.WithTimeout(persistCtx, h.dispatchTimeout)
	ticket, err := h.jobs.DispatchAsync(dispatchCtx, h.catalog.Embedding, jobs.EmbeddingInput(text), jobs.CallbackURL(h.embeddingBase, id.String()))
	cancel()
	if err != nil {
		return nil, err
	}

	next, err := h.store.Transition(persistCtx, id, []assets.Status{assets.StatusProcessed}, assets.Update{
		Status:          assets.StatusGeneratingEmbeddings,
		EmbeddingJobRef: assets.StringPtr(ticket.Ref),
		AppendRaw:       ticket.Raw,
	})
	if err != nil {
		var conflict *assets.StatusConflictError
		if errors.As(err, &conflict) {
			return nil, fmt.Errorf("%w: asset %s is %s", ErrNotProcessed, id, conflict.Current.Status)
		}
		return nil, fmt.Errorf("mark asset %s generating embeddings: %w", id, err)
	}

	slog.Info("embedding dispatched", "asset_id", id, "job_ref", ticket.Ref)
	return next, nil
}

// accept authenticates and decodes a callback. Nothing is read from the store
// before the signature has been checked.
func (h *Handler) accept(assetID string, body []byte, signature, stage string) (uuid.UUID, payload, error) {
	if !h.verifier.Verify(body, signature) {
		slog.Warn("webhook signature rejected", "event", "webhook_auth_failed", "stage", stage, "asset_id", assetID)
		return uuid.Nil, payload{}, ErrUnauthenticated
	}

	id, err := uuid.Parse(assetID)
	if err != nil {
		slog.Error("callback for malformed asset id", "stage", stage, "asset_id", assetID)
		return uuid.Nil, payload{}, fmt.Errorf("%w: %q", ErrCorrelationNotFound, assetID)
	}

	p, err := decodePayload(body)
	if err != nil {
		slog.Warn("undecodable callback", "stage", stage, "asset_id", id, "error", err)
		return uuid.Nil, payload{}, err
	}
	return id, p, nil
}

// rejectContent reports an unusable callback body only when the asset is
// actually waiting for it. Unknown assets, early callbacks and replays for a
// settled stage are answered the same way a well-formed body would be.
func (h *Handler) rejectContent(ctx context.Context, id uuid.UUID, p payload, stage string, from assets.Status, cause error) (*Outcome, error) {
	current, err := h.store.Get(ctx, id)
	if err != nil {
		return h.settle(id, p, stage, err)
	}
	if current.Status != from {
		return h.settle(id, p, stage, &assets.StatusConflictError{Current: current})
	}
	return nil, cause
}

// settle interprets a rejected transition. The asset may be unknown, still
// waiting for its job to be recorded, or already past this stage.
func (h *Handler) settle(id uuid.UUID, p payload, stage string, err error) (*Outcome, error) {
	if errors.Is(err, assets.ErrNotFound) {
		slog.Error("callback for unknown asset", "stage", stage, "asset_id", id, "job_ref", p.ID)
		return nil, fmt.Errorf("%w: %s", ErrCorrelationNotFound, id)
	}

	var conflict *assets.StatusConflictError
	if !errors.As(err, &conflict) {
		return nil, fmt.Errorf("apply %s callback to asset %s: %w", stage, id, err)
	}

	current := conflict.Current
	storedRef := current.TranscriptionJobRef
	if stage == jobs.NameEmbedding {
		storedRef = current.EmbeddingJobRef
	}

	if !reached(current.Status, stage) {
		if current.Status.IsError() {
			slog.Error("callback for asset that never ran this job", "stage", stage, "asset_id", id, "status", current.Status)
			return nil, fmt.Errorf("%w: asset %s is %s", ErrJobMismatch, id, current.Status)
		}
		slog.Info("callback arrived early", "stage", stage, "asset_id", id, "status", current.Status)
		return nil, fmt.Errorf("%w: asset %s is %s", ErrOutOfOrder, id, current.Status)
	}

	if p.ID != "" && storedRef != "" && p.ID != storedRef {
		slog.Error("callback job mismatch", "stage", stage, "asset_id", id, "job_ref", p.ID, "stored_ref", storedRef)
		return nil, fmt.Errorf("%w: got %s, asset %s has %s", ErrJobMismatch, p.ID, id, storedRef)
	}

	slog.Info("callback replay ignored", "stage", stage, "asset_id", id, "status", current.Status)
	return &Outcome{Asset: current, Replayed: true}, nil
}

// reached reports whether status is at or beyond the outcome of stage.
func reached(status assets.Status, stage string) bool {
	switch stage {
	case jobs.NameTranscription:
		switch status {
		case assets.StatusProcessingError, assets.StatusProcessed, assets.StatusGeneratingEmbeddings,
			assets.StatusEmbeddingsError, assets.StatusSearchable:
			return true
		}
	case jobs.NameEmbedding:
		switch status {
		case assets.StatusEmbeddingsError, assets.StatusSearchable:
			return true
		}
	}
	return false
}
