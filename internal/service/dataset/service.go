package dataset

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"datalens/internal/models"
)

var (
	// ErrFileNotFound marks an unknown file identifier.
	ErrFileNotFound = errors.New("file not found")
	// ErrInvalidFileType marks an upload whose extension is not allowed.
	ErrInvalidFileType = errors.New("file type not allowed")
	// ErrFileTooLarge marks an upload beyond the configured size cap.
	ErrFileTooLarge = errors.New("file too large")
)

// Service persists file metadata and row records and owns the ingestion
// pipeline. All write paths are transactional: readers see either a complete
// dataset or none of it.
type Service struct {
	db          *sql.DB
	uploadDir   string
	maxBytes    int64
	allowedExts map[string]struct{}
}

// NewService constructs the dataset service and ensures the upload directory
// exists.
func NewService(db *sql.DB, uploadDir string, maxBytes int64, allowedExts []string) (*Service, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	if uploadDir == "" {
		uploadDir = "./data/uploads"
	}
	if err := os.MkdirAll(uploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload directory: %w", err)
	}
	exts := make(map[string]struct{}, len(allowedExts))
	for _, ext := range allowedExts {
		exts[strings.ToLower(strings.TrimSpace(ext))] = struct{}{}
	}
	return &Service{
		db:          db,
		uploadDir:   uploadDir,
		maxBytes:    maxBytes,
		allowedExts: exts,
	}, nil
}

// CreateFile assigns an identifier and persists the metadata record.
func (s *Service) CreateFile(ctx context.Context, rec *models.FileRecord) (*models.FileRecord, error) {
	if rec == nil {
		return nil, errors.New("record is required")
	}
	stored := *rec
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	stored.CreatedAt = now
	stored.UpdatedAt = now

	columnsJSON, metadataJSON, err := encodeFileJSON(&stored)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx,
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
	return &stored, nil
}

// AppendRows persists the full ordered row set for a file in one transaction.
// Row indices are assigned by position in the input.
func (s *Service) AppendRows(ctx context.Context, fileID string, rows []map[string]any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT 1 FROM files WHERE id = ?`, fileID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrFileNotFound
		}
		return fmt.Errorf("check file: %w", err)
	}
	if err := insertRowsTx(ctx, tx, fileID, rows); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit rows: %w", err)
	}
	return nil
}

// GetFile returns one file record or ErrFileNotFound.
func (s *Service) GetFile(ctx context.Context, id string) (*models.FileRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, filename, original_name, file_path, file_size, mime_type,
			row_count, column_count, columns, metadata, created_at, updated_at
		 FROM files WHERE id = ?`, id)
	rec, err := scanFile(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrFileNotFound
		}
		return nil, fmt.Errorf("get file: %w", err)
	}
	return rec, nil
}

// ListFiles returns one page of file records ordered newest first, plus the
// total count. The (created_at, id) ordering key is fixed at ingestion, so
// already-served pages keep their positions under concurrent inserts.
func (s *Service) ListFiles(ctx context.Context, offset, limit int) ([]models.FileRecord, int, error) {
	total, err := s.CountFiles(ctx)
	if err != nil {
		return nil, 0, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, filename, original_name, file_path, file_size, mime_type,
			row_count, column_count, columns, metadata, created_at, updated_at
		 FROM files ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	files := make([]models.FileRecord, 0, limit)
	for rows.Next() {
		rec, err := scanFile(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan file: %w", err)
		}
		files = append(files, *rec)
	}
	return files, total, rows.Err()
}

// GetRows returns one page of row records for a file ordered by row index,
// plus the file's total row count. ErrFileNotFound when the file is unknown.
func (s *Service) GetRows(ctx context.Context, fileID string, offset, limit int) ([]models.RowRecord, int, error) {
	var total int
	err := s.db.QueryRowContext(ctx, `SELECT row_count FROM files WHERE id = ?`, fileID).Scan(&total)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, 0, ErrFileNotFound
		}
		return nil, 0, fmt.Errorf("count rows: %w", err)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, file_id, row_index, payload, created_at
		 FROM file_rows WHERE file_id = ? ORDER BY row_index ASC LIMIT ? OFFSET ?`,
		fileID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("get rows: %w", err)
	}
	defer rows.Close()

	records := make([]models.RowRecord, 0, limit)
	for rows.Next() {
		var (
			rec     models.RowRecord
			payload []byte
		)
		if err := rows.Scan(&rec.ID, &rec.FileID, &rec.RowIndex, &payload, &rec.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan row: %w", err)
		}
		if err := json.Unmarshal(payload, &rec.Payload); err != nil {
			return nil, 0, fmt.Errorf("decode row payload: %w", err)
		}
		records = append(records, rec)
	}
	return records, total, rows.Err()
}

// DeleteFile removes the metadata record, all row records and the staged
// bytes as one operation. Returns false when the file did not exist.
func (s *Service) DeleteFile(ctx context.Context, id string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var filePath string
	if err := tx.QueryRowContext(ctx, `SELECT file_path FROM files WHERE id = ?`, id).Scan(&filePath); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("get file path: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM file_rows WHERE file_id = ?`, id); err != nil {
		return false, fmt.Errorf("delete rows: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM files WHERE id = ?`, id); err != nil {
		return false, fmt.Errorf("delete file: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit delete: %w", err)
	}
	if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
		return true, fmt.Errorf("remove staged bytes: %w", err)
	}
	return true, nil
}

// CountFiles returns the total number of file records.
func (s *Service) CountFiles(ctx context.Context) (int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM files`).Scan(&total); err != nil {
		return 0, fmt.Errorf("count files: %w", err)
	}
	return total, nil
}

func insertRowsTx(ctx context.Context, tx *sql.Tx, fileID string, rows []map[string]any) error {
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO file_rows (file_id, row_index, payload, created_at) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare row insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for idx, row := range rows {
		payload, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("encode row %d: %w", idx, err)
		}
		if _, err := stmt.ExecContext(ctx, fileID, idx, payload, now); err != nil {
			return fmt.Errorf("insert row %d: %w", idx, err)
		}
	}
	return nil
}

func encodeFileJSON(rec *models.FileRecord) (columnsJSON, metadataJSON []byte, err error) {
	columns := rec.Columns
	if columns == nil {
		columns = []string{}
	}
	columnsJSON, err = json.Marshal(columns)
	if err != nil {
		return nil, nil, fmt.Errorf("encode columns: %w", err)
	}
	metadata := rec.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadataJSON, err = json.Marshal(metadata)
	if err != nil {
		return nil, nil, fmt.Errorf("encode metadata: %w", err)
	}
	return columnsJSON, metadataJSON, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFile(row rowScanner) (*models.FileRecord, error) {
	var (
		rec      models.FileRecord
		columns  []byte
		metadata []byte
	)
	err := row.Scan(&rec.ID, &rec.Filename, &rec.OriginalName, &rec.FilePath, &rec.FileSize,
		&rec.MimeType, &rec.RowCount, &rec.ColumnCount, &columns, &metadata,
		&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(columns, &rec.Columns); err != nil {
		return nil, fmt.Errorf("decode columns: %w", err)
	}
	if err := json.Unmarshal(metadata, &rec.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return &rec, nil
}
