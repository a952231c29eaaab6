package db

import (
	"context"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"thirdcoast.systems/allthethings/internal/assets"
)

// hnsw.ef_search accepts 1..1000.
const maxEfSearch = 1000

// Neighbor is one row of a nearest-neighbour query.
type Neighbor struct {
	ID            uuid.UUID
	URL           string
	ContentType   string
	ContentLength string
	Text          *string
	Distance      float64
}

// buildNeighborQuery renders the similarity query for q. Prefilters become
// WHERE clauses so the index scan itself applies them.
func buildNeighborQuery(q assets.NeighborQuery) (string, []any) {
	args := []any{pgvector.NewVector(q.Vector)}
	where := []string{"status = 'SEARCHABLE'"}

	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	f := q.Filter
	if f.ContentType != "" {
		where = append(where, "content_type = "+arg(f.ContentType))
	}
	if family := strings.ToLower(strings.TrimSpace(f.ContentFamily)); family != "" {
		where = append(where, "lower(btrim(split_part(content_type, '/', 1))) = "+arg(family))
	}
	if f.MinBytes != nil {
		where = append(where, "content_bytes >= "+arg(*f.MinBytes))
	}
	if f.MaxBytes != nil {
		where = append(where, "content_bytes <= "+arg(*f.MaxBytes))
	}

	var sb strings.Builder
	sb.WriteString("SELECT id, url, content_type, content_length, text, embedding <-> $1 AS distance\n")
	sb.WriteString("FROM assets\n")
	sb.WriteString("WHERE ")
	sb.WriteString(strings.Join(where, "\n  AND "))
	sb.WriteString("\nORDER BY embedding <-> $1\n")
	sb.WriteString("LIMIT ")
	sb.WriteString(arg(q.Limit))
	return sb.String(), args
}

// efSearch clamps a candidate pool size to what pgvector accepts.
func efSearch(candidates, limit int) int {
	return min(max(candidates, limit, 1), maxEfSearch)
}

// NearestNeighbors runs the similarity query on q.db. Callers that want a
// custom candidate pool call SetSearchCandidates in the same transaction.
func (q *Queries) NearestNeighbors(ctx context.Context, nq assets.NeighborQuery) ([]Neighbor, error) {
	sql, args := buildNeighborQuery(nq)
	rows, err := q.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Neighbor
	for rows.Next() {
		var n Neighbor
		if err := rows.Scan(&n.ID, &n.URL, &n.ContentType, &n.ContentLength, &n.Text, &n.Distance); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
