package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// jsonValue encodes v for a JSONB column.
func jsonValue(v interface{}) (driver.Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// jsonScan decodes a JSONB column into dest. NULL leaves dest untouched.
func jsonScan(src interface{}, dest interface{}) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dest)
	case string:
		return json.Unmarshal([]byte(v), dest)
	default:
		return fmt.Errorf("unsupported JSONB source type %T", src)
	}
}

// JSONMap is a free-form JSONB object (timeline context, profile documents).
type JSONMap map[string]interface{}

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return jsonValue(map[string]interface{}(m))
}

func (m *JSONMap) Scan(src interface{}) error {
	out := map[string]interface{}{}
	if err := jsonScan(src, &out); err != nil {
		return err
	}
	*m = out
	return nil
}
