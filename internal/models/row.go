package models

import "time"

// RowRecord is one data row belonging to a FileRecord, addressed by its
// zero-based row index. Payload values are string, number, bool or nil.
type RowRecord struct {
	ID        int64          `json:"id"`
	FileID    string         `json:"file_id"`
	RowIndex  int            `json:"row_index"`
	Payload   map[string]any `json:"data"`
	CreatedAt time.Time      `json:"created_at"`
}
