// Package search turns free-text queries into vectors and ranks searchable
// assets by similarity.
package search

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/time/rate"
	"thirdcoast.systems/allthethings/internal/assets"
	"thirdcoast.systems/allthethings/internal/jobs"
)

var (
	// ErrUnavailable is returned when the query could not be embedded in time.
	ErrUnavailable = errors.New("search unavailable")
	ErrEmptyQuery  = errors.New("empty search query")
)

const (
	DefaultTopK            = 2
	MaxTopK                = 50
	DefaultTimeout         = 60 * time.Second
	DefaultCandidateFactor = 10
	minCandidates          = 10
)

type Options struct {
	Store      assets.NeighborSearcher
	Jobs       jobs.Client
	JobType    jobs.JobType
	Dimensions int
	// Timeout bounds the synchronous embedding call.
	Timeout time.Duration
	// CandidateFactor sizes the approximate candidate pool relative to topK.
	CandidateFactor int
	// RateLimit caps synchronous embedding calls per second. Zero disables it.
	RateLimit float64
}

type Engine struct {
	store   assets.NeighborSearcher
	jobs    jobs.Client
	jobType jobs.JobType
	dims    int
	timeout time.Duration
	factor  int
	limiter *rate.Limiter
	flight  singleflight.Group
}

func NewEngine(opts Options) *Engine {
	e := &Engine{
		store:   opts.Store,
		jobs:    opts.Jobs,
		jobType: opts.JobType,
		dims:    opts.Dimensions,
		timeout: opts.Timeout,
		factor:  opts.CandidateFactor,
	}
	if e.dims <= 0 {
		e.dims = 768
	}
	if e.timeout <= 0 {
		e.timeout = DefaultTimeout
	}
	if e.factor <= 0 {
		e.factor = DefaultCandidateFactor
	}
	if opts.RateLimit > 0 {
		burst := max(1, int(opts.RateLimit))
		e.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return e
}

// Query is one search request.
type Query struct {
	Text   string
	TopK   int
	Filter assets.Prefilter
	Post   Postfilter
}

// Postfilter is applied to projected results, after the index lookup. It can
// therefore return fewer than TopK results.
type Postfilter struct {
	MinScore *float64
	// Contains keeps results whose text contains this substring, ignoring case.
	Contains string
}

type Result struct {
	ID            uuid.UUID `json:"id"`
	Score         float64   `json:"score"`
	URL           string    `json:"url"`
	ContentType   string    `json:"content_type"`
	ContentLength string    `json:"content_length"`
	ContentSize   string    `json:"content_size,omitempty"`
	Text          string    `json:"text"`
}

// Search embeds q.Text and returns at most q.TopK results in descending score
// order. Embedding failures of any kind surface as ErrUnavailable.
func (e *Engine) Search(ctx context.Context, q Query) ([]Result, error) {
	text := norm.NFC.String(strings.TrimSpace(q.Text))
	if text == "" {
		return nil, ErrEmptyQuery
	}
	topK := q.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}
	topK = min(topK, MaxTopK)

	vec, err := e.embed(ctx, text)
	if err != nil {
		slog.Warn("search embedding failed", "error", err)
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	neighbors, err := e.store.NearestNeighbors(ctx, assets.NeighborQuery{
		Vector:     vec,
		Candidates: max(minCandidates, e.factor*topK),
		Limit:      topK,
		Filter:     q.Filter,
	})
	if err != nil {
		return nil, fmt.Errorf("nearest neighbors: %w", err)
	}

	results := make([]Result, 0, len(neighbors))
	for _, n := range neighbors {
		r := project(n)
		if !q.Post.match(r) {
			continue
		}
		results = append(results, r)
	}
	slices.SortStableFunc(results, func(a, b Result) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.ID.String(), b.ID.String())
	})
	return results, nil
}

// embed runs the synchronous embedding job. Concurrent identical queries
// share one provider call.
func (e *Engine) embed(ctx context.Context, text string) ([]float32, error) {
	ch := e.flight.DoChan(text, func() (any, error) {
		// Detached so that one caller going away does not fail the others.
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
		defer cancel()

		if e.limiter != nil {
			if err := e.limiter.Wait(callCtx); err != nil {
				return nil, fmt.Errorf("rate limited: %w", err)
			}
		}
		out, err := e.jobs.RunSync(callCtx, e.jobType, jobs.EmbeddingInput(text), e.timeout)
		if err != nil {
			return nil, err
		}
		return jobs.DecodeEmbedding(out, e.dims)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]float32), nil
	}
}

func project(n assets.Neighbor) Result {
	a := n.Asset
	r := Result{
		ID:            a.ID,
		Score:         Score(n.Distance),
		URL:           a.URL,
		ContentType:   a.ContentType,
		ContentLength: a.ContentLength,
	}
	if a.Text != nil {
		r.Text = *a.Text
	}
	if size, ok := a.ContentBytes(); ok {
		r.ContentSize = humanize.Bytes(uint64(size))
	}
	return r
}

// Score maps a Euclidean distance onto (0, 1]; identical vectors score 1.
func Score(distance float64) float64 {
	return 1 / (1 + distance)
}

func (p Postfilter) match(r Result) bool {
	if p.MinScore != nil && r.Score < *p.MinScore {
		return false
	}
	if p.Contains != "" {
		fold := cases.Fold()
		needle := fold.String(norm.NFC.String(p.Contains))
		if !strings.Contains(fold.String(r.Text), needle) {
			return false
		}
	}
	return true
}
