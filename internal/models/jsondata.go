package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONData is a JSONB column value. It scans from the driver's bytes or
// string and encodes as raw JSON.
type JSONData []byte

// Scan implements sql.Scanner.
func (j *JSONData) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*j = nil
	case []byte:
		*j = append((*j)[:0:0], v...)
	case string:
		*j = JSONData(v)
	default:
		return fmt.Errorf("cannot scan %T into JSONData", src)
	}
	return nil
}

// Value implements driver.Valuer.
func (j JSONData) Value() (driver.Value, error) {
	if len(j) == 0 {
		return nil, nil
	}
	return []byte(j), nil
}

func (j JSONData) MarshalJSON() ([]byte, error) {
	if len(j) == 0 {
		return []byte("null"), nil
	}
	return []byte(j), nil
}

func (j *JSONData) UnmarshalJSON(data []byte) error {
	*j = append((*j)[:0:0], data...)
	return nil
}

// Decode unmarshals the stored JSON into v.
func (j JSONData) Decode(v interface{}) error {
	if len(j) == 0 {
		return fmt.Errorf("no JSON data")
	}
	return json.Unmarshal(j, v)
}
