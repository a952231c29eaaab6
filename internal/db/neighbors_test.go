package db

import (
	"encoding/json"
	"testing"

	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/require"
	"thirdcoast.systems/allthethings/internal/assets"
)

func TestBuildNeighborQuery_NoFilter(t *testing.T) {
	t.Parallel()

	sql, args := buildNeighborQuery(assets.NeighborQuery{Vector: []float32{1, 2}, Limit: 3})
	require.Equal(t, "SELECT id, url, content_type, content_length, text, embedding <-> $1 AS distance\n"+
		"FROM assets\n"+
		"WHERE status = 'SEARCHABLE'\n"+
		"ORDER BY embedding <-> $1\n"+
		"LIMIT $2", sql)
	require.Len(t, args, 2)
	require.Equal(t, pgvector.NewVector([]float32{1, 2}), args[0])
	require.Equal(t, 3, args[1])
}

func TestBuildNeighborQuery_Prefilters(t *testing.T) {
	t.Parallel()

	minBytes, maxBytes := int64(10), int64(20)
	sql, args := buildNeighborQuery(assets.NeighborQuery{
		Vector: []float32{0},
		Limit:  5,
		Filter: assets.Prefilter{
			ContentType:   "audio/mpeg",
			ContentFamily: " Audio ",
			MinBytes:      &minBytes,
			MaxBytes:      &maxBytes,
		},
	})

	require.Contains(t, sql, "AND content_type = $2")
	require.Contains(t, sql, "AND lower(btrim(split_part(content_type, '/', 1))) = $3")
	require.Contains(t, sql, "AND content_bytes >= $4")
	require.Contains(t, sql, "AND content_bytes <= $5")
	require.Contains(t, sql, "LIMIT $6")
	require.Equal(t, []any{pgvector.NewVector([]float32{0}), "audio/mpeg", "audio", int64(10), int64(20), 5}, args)
}

func TestEfSearch(t *testing.T) {
	t.Parallel()

	require.Equal(t, 40, efSearch(40, 2))
	require.Equal(t, 50, efSearch(10, 50))
	require.Equal(t, 1, efSearch(0, 0))
	require.Equal(t, maxEfSearch, efSearch(5000, 2))
}

func TestProviderResponses(t *testing.T) {
	t.Parallel()

	var p ProviderResponses
	require.NoError(t, p.Scan([]byte(`[{"id":"a"},{"id":"b"}]`)))
	require.Equal(t, ProviderResponses{json.RawMessage(`{"id":"a"}`), json.RawMessage(`{"id":"b"}`)}, p)

	require.NoError(t, p.Scan("[]"))
	require.Nil(t, p)

	require.NoError(t, p.Scan(nil))
	require.Nil(t, p)

	require.Error(t, p.Scan(42))

	v, err := ProviderResponses(nil).Value()
	require.NoError(t, err)
	require.Equal(t, []byte("[]"), v)

	v, err = ProviderResponses{json.RawMessage(`{"id":"a"}`)}.Value()
	require.NoError(t, err)
	require.JSONEq(t, `[{"id":"a"}]`, string(v.([]byte)))
}
