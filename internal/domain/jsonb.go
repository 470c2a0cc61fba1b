package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONBMap maps a postgres JSONB column (analysis results, configuration
// snapshots) onto a plain map. It implements sql.Scanner and driver.Valuer
// so repositories can select and insert it directly.
type JSONBMap map[string]any

// Scan decodes a JSONB value read from the database.
func (j *JSONBMap) Scan(value any) error {
	if value == nil {
		*j = nil
		return nil
	}

	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into JSONBMap", value)
	}

	if len(raw) == 0 {
		*j = JSONBMap{}
		return nil
	}
	return json.Unmarshal(raw, j)
}

// Value encodes the map for storage. Nil and empty maps store as an empty
// JSON object rather than SQL NULL so JSONB operators always apply.
func (j *JSONBMap) Value() (driver.Value, error) {
	if j == nil || len(*j) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(j)
}
