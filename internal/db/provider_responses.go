package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// ProviderResponses is the append-only audit trail of raw provider documents,
// stored as a JSONB array.
type ProviderResponses []json.RawMessage

// Scan implements sql.Scanner for reading from the database.
func (p *ProviderResponses) Scan(value any) error {
	if value == nil {
		*p = nil
		return nil
	}

	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("db.ProviderResponses.Scan: expected []byte or string, got %T", value)
	}

	var out []json.RawMessage
	if err := json.Unmarshal(raw, &out); err != nil {
		return err
	}
	if len(out) == 0 {
		out = nil
	}
	*p = out
	return nil
}

// Value implements driver.Valuer for writing to the database.
func (p ProviderResponses) Value() (driver.Value, error) {
	if p == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]json.RawMessage(p))
}
