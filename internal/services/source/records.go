package source

import (
	"errors"
	"fmt"

	"mandi-prices/internal/models"

	"github.com/tidwall/gjson"
)

var errMissingRecords = errors.New("payload has no records array")

// parseRecords extracts the `records` array of a JSON payload as raw rows.
// Non-object entries are skipped.
func parseRecords(body []byte, src models.Source) ([]models.RawRecord, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("invalid JSON payload (%d bytes)", len(body))
	}
	arr := gjson.GetBytes(body, "records")
	if !arr.Exists() || !arr.IsArray() {
		return nil, errMissingRecords
	}

	out := make([]models.RawRecord, 0, len(arr.Array()))
	arr.ForEach(func(_, row gjson.Result) bool {
		if !row.IsObject() {
			return true
		}
		fields := make(map[string]any)
		row.ForEach(func(key, value gjson.Result) bool {
			fields[key.String()] = value.Value()
			return true
		})
		out = append(out, models.RawRecord{Source: src, Fields: fields})
		return true
	})
	return out, nil
}

// withDefaultState fills in the state for rows that omit it.
func withDefaultState(rows []models.RawRecord, state string) []models.RawRecord {
	if state == "" {
		return rows
	}
	for i := range rows {
		if v, ok := rows[i].Fields["state"]; ok && v != nil && v != "" {
			continue
		}
		if _, ok := rows[i].Fields["State"]; ok {
			continue
		}
		rows[i].Fields["state"] = state
	}
	return rows
}
