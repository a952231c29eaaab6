package assets

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store. Every mutation runs inside one critical
// section, which gives Transition the same compare-and-swap semantics as the
// conditional UPDATE in Postgres. Similarity search is an exact scan.
type MemoryStore struct {
	mu    sync.RWMutex
	byID  map[uuid.UUID]*Asset
	byURL map[string]uuid.UUID
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:  map[uuid.UUID]*Asset{},
		byURL: map[string]uuid.UUID{},
		now:   time.Now,
	}
}

func (m *MemoryStore) Create(ctx context.Context, a *Asset) error {
	if a.ID == uuid.Nil {
		return fmt.Errorf("create asset: missing id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byURL[a.URL]; ok {
		return ErrDuplicateURL
	}
	if _, ok := m.byID[a.ID]; ok {
		return fmt.Errorf("create asset: id %s already exists", a.ID)
	}

	stored := a.Clone()
	now := m.now().UTC()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	m.byID[a.ID] = stored
	m.byURL[a.URL] = a.ID

	a.CreatedAt = now
	a.UpdatedAt = now
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id uuid.UUID) (*Asset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return a.Clone(), nil
}

func (m *MemoryStore) GetByURL(ctx context.Context, url string) (*Asset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byURL[url]
	if !ok {
		return nil, ErrNotFound
	}
	return m.byID[id].Clone(), nil
}

func (m *MemoryStore) List(ctx context.Context, params ListParams) ([]*Asset, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}

	m.mu.RLock()
	out := make([]*Asset, 0, len(m.byID))
	for _, a := range m.byID {
		if params.Status != "" && a.Status != params.Status {
			continue
		}
		out = append(out, a.Clone())
	}
	m.mu.RUnlock()

	slices.SortFunc(out, func(a, b *Asset) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID.String(), b.ID.String())
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) Transition(ctx context.Context, id uuid.UUID, from []Status, upd Update) (*Asset, error) {
	if err := upd.Validate(from); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !slices.Contains(from, a.Status) {
		return nil, &StatusConflictError{Current: a.Clone()}
	}
	upd.Apply(a, m.now().UTC())
	return a.Clone(), nil
}

func (m *MemoryStore) NearestNeighbors(ctx context.Context, q NeighborQuery) ([]Neighbor, error) {
	if q.Limit <= 0 {
		return []Neighbor{}, nil
	}

	m.mu.RLock()
	out := make([]Neighbor, 0, len(m.byID))
	for _, a := range m.byID {
		if a.Status != StatusSearchable || len(a.Embedding) != len(q.Vector) {
			continue
		}
		if !q.Filter.Match(a) {
			continue
		}
		out = append(out, Neighbor{
			Asset:    project(a),
			Distance: euclidean(q.Vector, a.Embedding),
		})
	}
	m.mu.RUnlock()

	slices.SortFunc(out, func(a, b Neighbor) int {
		if c := cmp.Compare(a.Distance, b.Distance); c != 0 {
			return c
		}
		return cmp.Compare(a.Asset.ID.String(), b.Asset.ID.String())
	})
	if len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func project(a *Asset) *Asset {
	p := &Asset{
		ID:            a.ID,
		URL:           a.URL,
		ContentType:   a.ContentType,
		ContentLength: a.ContentLength,
	}
	if a.Text != nil {
		t := *a.Text
		p.Text = &t
	}
	return p
}

func euclidean(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}
