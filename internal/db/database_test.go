package db

import (
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/require"
)

func TestRetryDelay(t *testing.T) {
	t.Parallel()

	require.Zero(t, retryDelay(0))
	require.InDelta(t, 1.618, retryDelay(1).Seconds(), 0.001)
	require.Greater(t, retryDelay(5), retryDelay(4))
	require.Less(t, retryDelay(10), 20*time.Second)
}

func TestMigrationTarget(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		env     map[string]string
		version int64
		down    bool
		wantErr bool
	}{
		{name: "latest", version: goose.MaxVersion},
		{name: "up to", env: map[string]string{"GOOSE_UP_TO": "1"}, version: 1},
		{name: "down to", env: map[string]string{"GOOSE_DOWN_TO": "0"}, version: 0, down: true},
		{name: "down wins", env: map[string]string{"GOOSE_DOWN_TO": "0", "GOOSE_UP_TO": "1"}, version: 0, down: true},
		{name: "bad up", env: map[string]string{"GOOSE_UP_TO": "latest"}, wantErr: true},
		{name: "bad down", env: map[string]string{"GOOSE_DOWN_TO": "-x"}, wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			lookup := func(key string) (string, bool) {
				v, ok := tt.env[key]
				return v, ok
			}
			version, down, err := migrationTarget(lookup)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.version, version)
			require.Equal(t, tt.down, down)
		})
	}
}

type stubTx struct {
	pgx.Tx
	name string
}

func TestQueriesWithTx(t *testing.T) {
	t.Parallel()

	tx := stubTx{name: "read-only"}
	q := New(nil).WithTx(tx)
	require.Equal(t, tx, q.db)
}
