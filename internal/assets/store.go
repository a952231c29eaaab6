package assets

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrNotFound          = errors.New("asset not found")
	ErrDuplicateURL      = errors.New("asset url already exists")
	ErrStatusConflict    = errors.New("asset status does not allow this transition")
	ErrIllegalTransition = errors.New("illegal asset transition")
)

// StatusConflictError is returned by Store.Transition when the asset exists
// but is not in any of the expected source statuses. Current is a snapshot of
// the record at the time the conditional update was rejected.
type StatusConflictError struct {
	Current *Asset
}

func (e *StatusConflictError) Error() string {
	return fmt.Sprintf("%s: asset %s is %s", ErrStatusConflict, e.Current.ID, e.Current.Status)
}

func (e *StatusConflictError) Unwrap() error { return ErrStatusConflict }

// Store is durable keyed storage for assets.
//
// Transition is the only mutation after Create. It must be a single
// indivisible compare-and-swap on status: implementations never split it into
// a read followed by a write.
type Store interface {
	Create(ctx context.Context, a *Asset) error
	Get(ctx context.Context, id uuid.UUID) (*Asset, error)
	GetByURL(ctx context.Context, url string) (*Asset, error)
	List(ctx context.Context, params ListParams) ([]*Asset, error)
	Transition(ctx context.Context, id uuid.UUID, from []Status, upd Update) (*Asset, error)
	NeighborSearcher
}

// NeighborSearcher is the similarity-search capability of a store.
type NeighborSearcher interface {
	NearestNeighbors(ctx context.Context, q NeighborQuery) ([]Neighbor, error)
}

type ListParams struct {
	Status Status
	Limit  int
}

// DefaultListLimit caps List when no limit is given.
const DefaultListLimit = 200

// NeighborQuery is a nearest-neighbour lookup over SEARCHABLE assets.
type NeighborQuery struct {
	Vector []float32
	// Candidates is the size of the approximate candidate pool. Exact stores
	// may ignore it.
	Candidates int
	Limit      int
	Filter     Prefilter
}

// Prefilter constrains the index scan itself.
type Prefilter struct {
	ContentType   string
	ContentFamily string
	MinBytes      *int64
	MaxBytes      *int64
}

func (f Prefilter) Match(a *Asset) bool {
	if f.ContentType != "" && a.ContentType != f.ContentType {
		return false
	}
	if f.ContentFamily != "" && !HasFamily(a.ContentType, f.ContentFamily) {
		return false
	}
	if f.MinBytes != nil || f.MaxBytes != nil {
		n, ok := a.ContentBytes()
		if !ok {
			return false
		}
		if f.MinBytes != nil && n < *f.MinBytes {
			return false
		}
		if f.MaxBytes != nil && n > *f.MaxBytes {
			return false
		}
	}
	return true
}

// Neighbor is one projected similarity match. Asset carries only the listed
// projection: ID, URL, ContentType, ContentLength and Text.
type Neighbor struct {
	Asset    *Asset
	Distance float64
}
