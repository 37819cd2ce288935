package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// JSONMap is a free-form JSON object column: metadata, billing info and audit
// details. Postgres stores it as JSONB, SQLite as TEXT.
type JSONMap map[string]any

func (j JSONMap) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	raw, err := json.Marshal(j)
	if err != nil {
		return nil, fmt.Errorf("encode json column: %w", err)
	}
	return string(raw), nil
}

func (j *JSONMap) Scan(value any) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("json column: cannot scan %T", value)
	}
	if len(raw) == 0 {
		*j = nil
		return nil
	}
	decoded := JSONMap{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Errorf("decode json column: %w", err)
	}
	*j = decoded
	return nil
}

// GormDataType gives the schema parser a concrete type; a nil map's Value says nothing.
func (JSONMap) GormDataType() string { return "json" }

// GormDBDataType picks the column type per dialect for AutoMigrate in tests.
func (JSONMap) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	if db.Dialector.Name() == "postgres" {
		return "JSONB"
	}
	return "TEXT"
}

// String returns the string stored under key; missing or non-string values read as "".
func (j JSONMap) String(key string) string {
	s, _ := j[key].(string)
	return s
}
