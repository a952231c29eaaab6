package db

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// Asset is one row of the assets table.
type Asset struct {
	ID                   uuid.UUID
	URL                  string
	ContentType          string
	ContentLength        string
	Status               string
	Text                 *string
	Embedding            *pgvector.Vector
	TranscriptionJobRef  string
	EmbeddingJobRef      string
	Error                *string
	RawProviderResponses ProviderResponses
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

const assetColumns = `id, url, content_type, content_length, status, text, embedding,
	transcription_job_ref, embedding_job_ref, error, raw_provider_responses,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAsset(row rowScanner) (*Asset, error) {
	var a Asset
	err := row.Scan(
		&a.ID,
		&a.URL,
		&a.ContentType,
		&a.ContentLength,
		&a.Status,
		&a.Text,
		&a.Embedding,
		&a.TranscriptionJobRef,
		&a.EmbeddingJobRef,
		&a.Error,
		&a.RawProviderResponses,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

const insertAsset = `-- name: InsertAsset :one
INSERT INTO assets (
	id, url, content_type, content_length, status, text,
	transcription_job_ref, embedding_job_ref, error, raw_provider_responses
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING ` + assetColumns

type InsertAssetParams struct {
	ID                   uuid.UUID
	URL                  string
	ContentType          string
	ContentLength        string
	Status               string
	Text                 *string
	TranscriptionJobRef  string
	EmbeddingJobRef      string
	Error                *string
	RawProviderResponses ProviderResponses
}

func (q *Queries) InsertAsset(ctx context.Context, arg InsertAssetParams) (*Asset, error) {
	row := q.db.QueryRow(ctx, insertAsset,
		arg.ID,
		arg.URL,
		arg.ContentType,
		arg.ContentLength,
		arg.Status,
		arg.Text,
		arg.TranscriptionJobRef,
		arg.EmbeddingJobRef,
		arg.Error,
		arg.RawProviderResponses,
	)
	return scanAsset(row)
}

const getAsset = `-- name: GetAsset :one
SELECT ` + assetColumns + `
FROM assets
WHERE id = $1`

func (q *Queries) GetAsset(ctx context.Context, id uuid.UUID) (*Asset, error) {
	return scanAsset(q.db.QueryRow(ctx, getAsset, id))
}

const getAssetByURL = `-- name: GetAssetByURL :one
SELECT ` + assetColumns + `
FROM assets
WHERE url = $1`

func (q *Queries) GetAssetByURL(ctx context.Context, url string) (*Asset, error) {
	return scanAsset(q.db.QueryRow(ctx, getAssetByURL, url))
}

const listAssets = `-- name: ListAssets :many
SELECT ` + assetColumns + `
FROM assets
WHERE ($1::text = '' OR status = $1::text)
ORDER BY created_at DESC, id
LIMIT $2`

type ListAssetsParams struct {
	Status string
	Limit  int32
}

func (q *Queries) ListAssets(ctx context.Context, arg ListAssetsParams) ([]*Asset, error) {
	rows, err := q.db.Query(ctx, listAssets, arg.Status, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// transitionAsset is the compare-and-swap on status. Nullable parameters leave
// their column untouched; $9 is appended to the provider audit trail.
const transitionAsset = `-- name: TransitionAsset :one
UPDATE assets SET
	status                 = $3,
	text                   = COALESCE($4, text),
	embedding              = COALESCE($5, embedding),
	transcription_job_ref  = COALESCE($6, transcription_job_ref),
	embedding_job_ref      = COALESCE($7, embedding_job_ref),
	error                  = COALESCE($8, error),
	raw_provider_responses = CASE
		WHEN $9::jsonb IS NULL THEN raw_provider_responses
		ELSE raw_provider_responses || jsonb_build_array($9::jsonb)
	END,
	updated_at             = now()
WHERE id = $1 AND status = ANY($2::text[])
RETURNING ` + assetColumns

type TransitionAssetParams struct {
	ID                  uuid.UUID
	FromStatuses        []string
	Status              string
	Text                *string
	Embedding           *pgvector.Vector
	TranscriptionJobRef *string
	EmbeddingJobRef     *string
	Error               *string
	AppendRaw           *string
}

func (q *Queries) TransitionAsset(ctx context.Context, arg TransitionAssetParams) (*Asset, error) {
	row := q.db.QueryRow(ctx, transitionAsset,
		arg.ID,
		arg.FromStatuses,
		arg.Status,
		arg.Text,
		arg.Embedding,
		arg.TranscriptionJobRef,
		arg.EmbeddingJobRef,
		arg.Error,
		arg.AppendRaw,
	)
	return scanAsset(row)
}

const setSearchCandidates = `-- name: SetSearchCandidates :exec
SELECT set_config('hnsw.ef_search', $1, true)`

// SetSearchCandidates sizes the HNSW candidate list for the current
// transaction only.
func (q *Queries) SetSearchCandidates(ctx context.Context, candidates string) error {
	_, err := q.db.Exec(ctx, setSearchCandidates, candidates)
	return err
}

const assetsTableExists = `-- name: AssetsTableExists :one
SELECT EXISTS (
	SELECT FROM information_schema.tables
	WHERE table_schema = current_schema() AND table_name = 'assets'
)`

func (q *Queries) AssetsTableExists(ctx context.Context) (bool, error) {
	var ok bool
	err := q.db.QueryRow(ctx, assetsTableExists).Scan(&ok)
	return ok, err
}
