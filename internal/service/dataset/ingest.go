package dataset

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"datalens/internal/models"
	"datalens/internal/parser"
)

// Upload carries one raw upload into the ingestion pipeline.
type Upload struct {
	OriginalName string
	ContentType  string
	Data         []byte
}

// Ingest turns one upload into a durable FileRecord plus RowRecord set, or
// leaves no trace on failure. Pipeline: validate extension and size, stage
// the raw bytes on disk, parse, then persist metadata and rows in a single
// transaction. Any failure after staging removes the staged bytes.
func (s *Service) Ingest(ctx context.Context, up Upload) (*models.FileRecord, error) {
	ext := strings.ToLower(filepath.Ext(up.OriginalName))
	if _, ok := s.allowedExts[ext]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidFileType, ext)
	}
	if s.maxBytes > 0 && int64(len(up.Data)) > s.maxBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrFileTooLarge, len(up.Data))
	}

	storedName := fmt.Sprintf("%d_%s", time.Now().UnixNano(), filepath.Base(up.OriginalName))
	storedPath := filepath.Join(s.uploadDir, storedName)
	if err := os.WriteFile(storedPath, up.Data, 0o644); err != nil {
		return nil, fmt.Errorf("stage upload: %w", err)
	}

	columns, rows, err := parser.Parse(up.Data, ext)
	if err != nil {
		s.discardStaged(storedPath)
		return nil, err
	}

	mimeType := up.ContentType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	rec := &models.FileRecord{
		ID:           uuid.New().String(),
		Filename:     storedName,
		OriginalName: up.OriginalName,
		FilePath:     storedPath,
		FileSize:     int64(len(up.Data)),
		MimeType:     mimeType,
		RowCount:     len(rows),
		ColumnCount:  len(columns),
		Columns:      columns,
		Metadata: map[string]any{
			"field_name":   up.OriginalName,
			"content_type": up.ContentType,
		},
	}

	stored, err := s.saveDataset(ctx, rec, rows)
	if err != nil {
		s.discardStaged(storedPath)
		return nil, fmt.Errorf("persist dataset: %w", err)
	}
	return stored, nil
}

// saveDataset inserts the metadata record and all rows in one transaction, so
// no reader can observe a file whose row_count is set before its rows exist.
func (s *Service) saveDataset(ctx context.Context, rec *models.FileRecord, rows []map[string]any) (*models.FileRecord, error) {
	stored := *rec
	now := time.Now().UTC()
	stored.CreatedAt = now
	stored.UpdatedAt = now

	columnsJSON, metadataJSON, err := encodeFileJSON(&stored)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO files (id, filename, original_name, file_path, file_size, mime_type,
			row_count, column_count, columns, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		stored.ID, stored.Filename, stored.OriginalName, stored.FilePath, stored.FileSize,
		stored.MimeType, stored.RowCount, stored.ColumnCount, columnsJSON, metadataJSON,
		stored.CreatedAt, stored.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert file: %w", err)
	}
	if err := insertRowsTx(ctx, tx, stored.ID, rows); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit dataset: %w", err)
	}
	return &stored, nil
}

func (s *Service) discardStaged(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Printf("discard staged upload %s failed: %v", path, err)
	}
}
