package postgres

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/ocdataUS/GroomFlow-sub000/internal/models"
)

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	t := value.Time
	return &t
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}

func nullIfZero(value *time.Time) interface{} {
	if value == nil {
		return nil
	}
	return *value
}

func flagsJSON(flags []models.Flag) ([]byte, error) {
	if len(flags) == 0 {
		return []byte("[]"), nil
	}
	return json.Marshal(flags)
}

func parseFlags(raw []byte) []models.Flag {
	if len(raw) == 0 {
		return nil
	}
	var flags []models.Flag
	if err := json.Unmarshal(raw, &flags); err != nil {
		return nil
	}
	if len(flags) == 0 {
		return nil
	}
	return flags
}

func jsonBytes(payload map[string]interface{}) ([]byte, error) {
	return json.Marshal(payload)
}
