package db

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
	"thirdcoast.systems/allthethings/internal/assets"
)

const assetsURLKey = "assets_url_key"

// AssetStore is the Postgres implementation of assets.Store.
type AssetStore struct {
	dbc *DatabaseConnection
}

var _ assets.Store = (*AssetStore)(nil)

func NewAssetStore(dbc *DatabaseConnection) *AssetStore {
	return &AssetStore{dbc: dbc}
}

func (s *AssetStore) Create(ctx context.Context, a *assets.Asset) error {
	if a.ID == uuid.Nil {
		return fmt.Errorf("create asset: missing id")
	}
	row, err := s.dbc.Queries(ctx).InsertAsset(ctx, InsertAssetParams{
		ID:                   a.ID,
		URL:                  a.URL,
		ContentType:          a.ContentType,
		ContentLength:        a.ContentLength,
		Status:               string(a.Status),
		Text:                 a.Text,
		TranscriptionJobRef:  a.TranscriptionJobRef,
		EmbeddingJobRef:      a.EmbeddingJobRef,
		Error:                a.Error,
		RawProviderResponses: ProviderResponses(a.RawProviderResponses),
	})
	if err != nil {
		if IsUniqueViolation(err, assetsURLKey) {
			return assets.ErrDuplicateURL
		}
		return wrapSchemaErr("insert asset", err)
	}
	a.CreatedAt = row.CreatedAt
	a.UpdatedAt = row.UpdatedAt
	return nil
}

func (s *AssetStore) Get(ctx context.Context, id uuid.UUID) (*assets.Asset, error) {
	row, err := s.dbc.Queries(ctx).GetAsset(ctx, id)
	if err != nil {
		return nil, notFound("get asset", err)
	}
	return row.toDomain(), nil
}

func (s *AssetStore) GetByURL(ctx context.Context, url string) (*assets.Asset, error) {
	row, err := s.dbc.Queries(ctx).GetAssetByURL(ctx, url)
	if err != nil {
		return nil, notFound("get asset by url", err)
	}
	return row.toDomain(), nil
}

func (s *AssetStore) List(ctx context.Context, params assets.ListParams) ([]*assets.Asset, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = assets.DefaultListLimit
	}
	rows, err := s.dbc.Queries(ctx).ListAssets(ctx, ListAssetsParams{
		Status: string(params.Status),
		Limit:  int32(limit),
	})
	if err != nil {
		return nil, wrapSchemaErr("list assets", err)
	}
	out := make([]*assets.Asset, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

// Transition applies upd with a single conditional UPDATE. When no row
// matches, a follow-up read only decides which error to report.
func (s *AssetStore) Transition(ctx context.Context, id uuid.UUID, from []assets.Status, upd assets.Update) (*assets.Asset, error) {
	if err := upd.Validate(from); err != nil {
		return nil, err
	}

	params := TransitionAssetParams{
		ID:                  id,
		FromStatuses:        make([]string, 0, len(from)),
		Status:              string(upd.Status),
		Text:                upd.Text,
		TranscriptionJobRef: upd.TranscriptionJobRef,
		EmbeddingJobRef:     upd.EmbeddingJobRef,
		Error:               upd.Error,
	}
	for _, f := range from {
		params.FromStatuses = append(params.FromStatuses, string(f))
	}
	if upd.Embedding != nil {
		v := pgvector.NewVector(upd.Embedding)
		params.Embedding = &v
	}
	if len(upd.AppendRaw) > 0 {
		raw := string(upd.AppendRaw)
		params.AppendRaw = &raw
	}

	q := s.dbc.Queries(ctx)
	row, err := q.TransitionAsset(ctx, params)
	if err == nil {
		return row.toDomain(), nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, wrapSchemaErr("transition asset", err)
	}

	current, err := q.GetAsset(ctx, id)
	if err != nil {
		return nil, notFound("transition asset", err)
	}
	return nil, &assets.StatusConflictError{Current: current.toDomain()}
}

// NearestNeighbors runs the similarity query in a read-only transaction so
// the candidate pool setting stays local to it.
func (s *AssetStore) NearestNeighbors(ctx context.Context, nq assets.NeighborQuery) ([]assets.Neighbor, error) {
	if nq.Limit <= 0 {
		return []assets.Neighbor{}, nil
	}

	q, tx, err := s.dbc.NewWithTX(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := q.SetSearchCandidates(ctx, strconv.Itoa(efSearch(nq.Candidates, nq.Limit))); err != nil {
		return nil, fmt.Errorf("set candidate pool: %w", err)
	}
	rows, err := q.NearestNeighbors(ctx, nq)
	if err != nil {
		return nil, wrapSchemaErr("nearest neighbors", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	out := make([]assets.Neighbor, 0, len(rows))
	for _, r := range rows {
		out = append(out, assets.Neighbor{
			Asset: &assets.Asset{
				ID:            r.ID,
				URL:           r.URL,
				ContentType:   r.ContentType,
				ContentLength: r.ContentLength,
				Text:          r.Text,
			},
			Distance: r.Distance,
		})
	}
	slices.SortStableFunc(out, func(a, b assets.Neighbor) int {
		if c := cmp.Compare(a.Distance, b.Distance); c != 0 {
			return c
		}
		return cmp.Compare(a.Asset.ID.String(), b.Asset.ID.String())
	})
	return out, nil
}

func (r *Asset) toDomain() *assets.Asset {
	a := &assets.Asset{
		ID:                   r.ID,
		URL:                  r.URL,
		ContentType:          r.ContentType,
		ContentLength:        r.ContentLength,
		Status:               assets.Status(r.Status),
		Text:                 r.Text,
		TranscriptionJobRef:  r.TranscriptionJobRef,
		EmbeddingJobRef:      r.EmbeddingJobRef,
		Error:                r.Error,
		RawProviderResponses: []json.RawMessage(r.RawProviderResponses),
		CreatedAt:            r.CreatedAt,
		UpdatedAt:            r.UpdatedAt,
	}
	if r.Embedding != nil {
		a.Embedding = r.Embedding.Slice()
	}
	return a
}

func notFound(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return assets.ErrNotFound
	}
	return wrapSchemaErr(op, err)
}

func wrapSchemaErr(op string, err error) error {
	if IsUndefinedColumnErr(err) {
		return fmt.Errorf("%s: schema is missing or outdated, run pg-migrator: %w", op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
