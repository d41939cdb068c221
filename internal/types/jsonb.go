package types

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Scan is on pointer receivers, Value on value receivers.
var (
	_ sql.Scanner   = (*JobParams)(nil)
	_ driver.Valuer = JobParams(nil)
	_ sql.Scanner   = (*JobResult)(nil)
	_ driver.Valuer = JobResult(nil)
)

// Scan implements sql.Scanner for JSONB columns.
func (p *JobParams) Scan(value any) error {
	if value == nil {
		*p = nil
		return nil
	}
	return scanJSONB(p, value)
}

// Value implements driver.Valuer for JSONB columns.
func (p JobParams) Value() (driver.Value, error) {
	if p == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]any(p))
}

// Scan implements sql.Scanner for JSONB columns.
func (r *JobResult) Scan(value any) error {
	if value == nil {
		*r = nil
		return nil
	}
	return scanJSONB(r, value)
}

// Value implements driver.Valuer for JSONB columns.
func (r JobResult) Value() (driver.Value, error) {
	if r == nil {
		return nil, nil
	}
	return json.Marshal(map[string]any(r))
}

// scanJSONB scans a JSONB database value into dest. It handles the []byte and
// string representations different drivers produce.
func scanJSONB(dest any, value any) error {
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	case map[string]any:
		// pgx decodes jsonb into map[string]any when scanning into any.
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		data = b
	default:
		return fmt.Errorf("jsonb: unsupported scan type %T", value)
	}
	return json.Unmarshal(data, dest)
}
