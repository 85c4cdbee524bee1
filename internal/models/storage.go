package models

import "time"

// SystemKV is a non-user-scoped key-value record (schema version and
// similar bookkeeping).
type SystemKV struct {
	Key      string    `json:"key"`
	Value    string    `json:"value"`
	DateTime time.Time `json:"datetime"`
}

// SchemaVersion is bumped whenever the position projection layout changes;
// a mismatch at startup triggers a rebuild from the trade log.
const SchemaVersion = "1"
