// Package ingest accepts media URLs, creates asset records and starts the
// first external processing stage.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"thirdcoast.systems/allthethings/internal/assets"
	"thirdcoast.systems/allthethings/internal/jobs"
	"thirdcoast.systems/allthethings/internal/sourceurl"
)

var (
	ErrInvalidURL      = errors.New("invalid url")
	ErrAlreadyIndexed  = errors.New("url has already been indexed")
	ErrUnreachable     = errors.New("url is not reachable")
	ErrUnsupportedType = errors.New("unsupported content type")
)

const defaultDispatchTimeout = 30 * time.Second

type Options struct {
	Store   assets.Store
	Jobs    jobs.Client
	Prober  Prober
	Catalog jobs.Catalog
	// TranscriptionWebhookURL is the base callback address; the asset id is
	// appended to it.
	TranscriptionWebhookURL string
	DispatchTimeout         time.Duration
}

type Controller struct {
	store           assets.Store
	jobs            jobs.Client
	prober          Prober
	catalog         jobs.Catalog
	callbackBase    string
	dispatchTimeout time.Duration
	newID           func() uuid.UUID
}

func NewController(opts Options) *Controller {
	timeout := opts.DispatchTimeout
	if timeout <= 0 {
		timeout = defaultDispatchTimeout
	}
	return &Controller{
		store:           opts.Store,
		jobs:            opts.Jobs,
		prober:          opts.Prober,
		catalog:         opts.Catalog,
		callbackBase:    opts.TranscriptionWebhookURL,
		dispatchTimeout: timeout,
		newID:           uuid.New,
	}
}

// Submission is the outcome of a submit call that produced or found a record.
type Submission struct {
	Asset     *assets.Asset
	Processor string
	// Warning is set when the asset was created but its first dispatch
	// failed; the asset is then in PROCESSING_ERROR.
	Warning error
}

// Submit validates and deduplicates rawURL, probes it, creates the asset and
// starts transcription. It performs at most one create and one update.
//
// ErrAlreadyIndexed is returned together with a Submission carrying the
// existing asset.
func (c *Controller) Submit(ctx context.Context, rawURL string) (*Submission, error) {
	url, err := sourceurl.Normalize(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	existing, err := c.store.GetByURL(ctx, url)
	switch {
	case err == nil:
		return &Submission{Asset: existing}, ErrAlreadyIndexed
	case !errors.Is(err, assets.ErrNotFound):
		return nil, fmt.Errorf("lookup asset by url: %w", err)
	}

	probe, err := c.prober.Probe(ctx, url)
	if err != nil {
		slog.Info("probe failed", "url", url, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	if probe.StatusCode != http.StatusOK {
		slog.Info("probe returned non-200", "url", url, "status", probe.StatusCode)
		return nil, fmt.Errorf("%w: status %d", ErrUnreachable, probe.StatusCode)
	}

	slog.Debug("processing url", "url", url, "content_type", probe.ContentType, "content_length", probe.ContentLength)

	processor := ProcessorFor(probe.ContentType, c.catalog)
	if !processor.Supported() {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, probe.ContentType)
	}

	asset := &assets.Asset{
		ID:            c.newID(),
		URL:           url,
		ContentType:   probe.ContentType,
		ContentLength: probe.ContentLength,
		Status:        assets.StatusSubmitted,
	}
	if err := c.store.Create(ctx, asset); err != nil {
		if errors.Is(err, assets.ErrDuplicateURL) {
			// Lost a race with a concurrent submission of the same url.
			if existing, getErr := c.store.GetByURL(ctx, url); getErr == nil {
				return &Submission{Asset: existing}, ErrAlreadyIndexed
			}
			return nil, ErrAlreadyIndexed
		}
		return nil, fmt.Errorf("create asset: %w", err)
	}

	slog.Info("asset created", "asset_id", asset.ID, "url", url, "processor", processor.Name())

	// The record exists now and must leave SUBMITTED even if the caller goes
	// away while the job is being dispatched.
	persistCtx := context.WithoutCancel(ctx)

	dispatchCtx, cancel := context.WithTimeout(persistCtx, c.dispatchTimeout)
	ticket, dispatchErr := processor.Start(dispatchCtx, c.jobs, asset, jobs.CallbackURL(c.callbackBase, asset.ID.String()))
	cancel()

	if dispatchErr != nil {
		slog.Error("transcription dispatch failed", "asset_id", asset.ID, "error", dispatchErr)
		failed, err := c.store.Transition(persistCtx, asset.ID, []assets.Status{assets.StatusSubmitted}, assets.Update{
			Status: assets.StatusProcessingError,
			Error:  assets.StringPtr(dispatchErr.Error()),
		})
		if err != nil {
			return nil, fmt.Errorf("record dispatch failure for asset %s: %w", asset.ID, err)
		}
		return &Submission{Asset: failed, Processor: processor.Name(), Warning: dispatchErr}, nil
	}

	processing, err := c.store.Transition(persistCtx, asset.ID, []assets.Status{assets.StatusSubmitted}, assets.Update{
		Status:              assets.StatusProcessing,
		TranscriptionJobRef: assets.StringPtr(ticket.Ref),
		AppendRaw:           ticket.Raw,
	})
	if err != nil {
		return nil, fmt.Errorf("mark asset %s processing: %w", asset.ID, err)
	}

	slog.Info("transcription dispatched", "asset_id", asset.ID, "job_ref", ticket.Ref)
	return &Submission{Asset: processing, Processor: processor.Name()}, nil
}
