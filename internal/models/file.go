package models

import "time"

// FileRecord is the persisted metadata describing one ingested tabular upload.
type FileRecord struct {
	ID           string         `json:"id"`
	Filename     string         `json:"filename"`
	OriginalName string         `json:"original_name"`
	FilePath     string         `json:"file_path"`
	FileSize     int64          `json:"file_size"`
	MimeType     string         `json:"mime_type"`
	RowCount     int            `json:"row_count"`
	ColumnCount  int            `json:"column_count"`
	Columns      []string       `json:"columns"`
	Metadata     map[string]any `json:"metadata"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}
