package dataset

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"testing"

	"datalens/internal/config"
	"datalens/internal/models"
	"datalens/internal/parser"
	"datalens/internal/storage"
)

func TestIngestPersistsDataset(t *testing.T) {
	svc, db, _ := newTestService(t)
	defer db.Close()

	rec := ingestCSV(t, svc, "cities.csv", "a,b\n1,2\n3,4\n")
	if rec.ID == "" {
		t.Fatalf("expected assigned file id")
	}
	if rec.RowCount != 2 || rec.ColumnCount != 2 {
		t.Fatalf("unexpected counts: rows=%d cols=%d", rec.RowCount, rec.ColumnCount)
	}
	if rec.OriginalName != "cities.csv" {
		t.Fatalf("unexpected original name %q", rec.OriginalName)
	}
	if _, err := os.Stat(rec.FilePath); err != nil {
		t.Fatalf("staged bytes missing: %v", err)
	}

	rows, total, err := svc.GetRows(context.Background(), rec.ID, 0, 10)
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if total != 2 || len(rows) != 2 {
		t.Fatalf("expected 2 rows, got total=%d len=%d", total, len(rows))
	}
	// numbers survive the JSON round trip as numbers
	if rows[0].Payload["a"] != float64(1) || rows[0].Payload["b"] != float64(2) {
		t.Fatalf("unexpected first row payload: %#v", rows[0].Payload)
	}
	if rows[0].RowIndex != 0 || rows[1].RowIndex != 1 {
		t.Fatalf("row indices out of order: %d, %d", rows[0].RowIndex, rows[1].RowIndex)
	}

	got, err := svc.GetFile(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("GetFile: %v", err)
	}
	if len(got.Columns) != 2 || got.Columns[0] != "a" || got.Columns[1] != "b" {
		t.Fatalf("unexpected columns: %v", got.Columns)
	}
}

func TestIngestHeaderOnlyLeavesNoTrace(t *testing.T) {
	svc, db, dir := newTestService(t)
	defer db.Close()

	_, err := svc.Ingest(context.Background(), Upload{
		OriginalName: "empty.csv",
		ContentType:  "text/csv",
		Data:         []byte("a,b\n"),
	})
	var parseErr *parser.ParseError
	if !errors.As(err, &parseErr) || parseErr.Kind != parser.KindNoDataRows {
		t.Fatalf("expected no_data_rows parse error, got %v", err)
	}

	total, err := svc.CountFiles(context.Background())
	if err != nil {
		t.Fatalf("CountFiles: %v", err)
	}
	if total != 0 {
		t.Fatalf("expected no file records after failed ingest, got %d", total)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read upload dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no staged bytes after failed ingest, found %d entries", len(entries))
	}
}

func TestIngestValidation(t *testing.T) {
	svc, db, _ := newTestService(t)
	defer db.Close()

	_, err := svc.Ingest(context.Background(), Upload{OriginalName: "data.txt", Data: []byte("a,b\n1,2\n")})
	if !errors.Is(err, ErrInvalidFileType) {
		t.Fatalf("expected ErrInvalidFileType, got %v", err)
	}

	big := make([]byte, 2<<20)
	_, err = svc.Ingest(context.Background(), Upload{OriginalName: "big.csv", Data: big})
	if !errors.Is(err, ErrFileTooLarge) {
		t.Fatalf("expected ErrFileTooLarge, got %v", err)
	}
}

func TestGetRowsPastEndIsEmpty(t *testing.T) {
	svc, db, _ := newTestService(t)
	defer db.Close()

	content := "n\n"
	for i := 0; i < 10; i++ {
		content += fmt.Sprintf("%d\n", i)
	}
	rec := ingestCSV(t, svc, "numbers.csv", content)

	rows, total, err := svc.GetRows(context.Background(), rec.ID, 100, 50)
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if total != 10 {
		t.Fatalf("expected total 10, got %d", total)
	}
	if len(rows) != 0 {
		t.Fatalf("expected empty page past the end, got %d rows", len(rows))
	}
}

func TestGetRowsUnknownFile(t *testing.T) {
	svc, db, _ := newTestService(t)
	defer db.Close()

	if _, _, err := svc.GetRows(context.Background(), "missing", 0, 10); !errors.Is(err, ErrFileNotFound) {
		t.Fatalf("expected ErrFileNotFound, got %v", err)
	}
	if _, err := svc.GetFile(context.Background(), "missing"); !errors.Is(err, ErrFileNotFound) {
		t.Fatalf("expected ErrFileNotFound, got %v", err)
	}
}

func TestAppendRowsUnknownFile(t *testing.T) {
	svc, db, _ := newTestService(t)
	defer db.Close()

	err := svc.AppendRows(context.Background(), "missing", []map[string]any{{"a": 1}})
	if !errors.Is(err, ErrFileNotFound) {
		t.Fatalf("expected ErrFileNotFound, got %v", err)
	}
}

func TestListFilesNewestFirst(t *testing.T) {
	svc, db, _ := newTestService(t)
	defer db.Close()

	first := ingestCSV(t, svc, "first.csv", "a\n1\n")
	second := ingestCSV(t, svc, "second.csv", "a\n2\n")

	files, total, err := svc.ListFiles(context.Background(), 0, 10)
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if total != 2 || len(files) != 2 {
		t.Fatalf("expected 2 files, got total=%d len=%d", total, len(files))
	}
	if files[0].ID != second.ID || files[1].ID != first.ID {
		t.Fatalf("expected newest first, got %s then %s", files[0].OriginalName, files[1].OriginalName)
	}
}

func TestDeleteFileRemovesEverything(t *testing.T) {
	svc, db, _ := newTestService(t)
	defer db.Close()

	rec := ingestCSV(t, svc, "gone.csv", "a\n1\n2\n")
	deleted, err := svc.DeleteFile(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("DeleteFile: %v", err)
	}
	if !deleted {
		t.Fatalf("expected delete to report success")
	}
	if _, err := svc.GetFile(context.Background(), rec.ID); !errors.Is(err, ErrFileNotFound) {
		t.Fatalf("expected file gone, got %v", err)
	}
	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM file_rows WHERE file_id = ?`, rec.ID).Scan(&count); err != nil {
		t.Fatalf("count rows: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected rows removed, found %d", count)
	}
	if _, err := os.Stat(rec.FilePath); !os.IsNotExist(err) {
		t.Fatalf("expected staged bytes removed, stat err: %v", err)
	}

	deleted, err = svc.DeleteFile(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("second DeleteFile: %v", err)
	}
	if deleted {
		t.Fatalf("expected second delete to report missing file")
	}
}

func TestSweepInconsistentFiles(t *testing.T) {
	svc, db, _ := newTestService(t)
	defer db.Close()

	rec := ingestCSV(t, svc, "keep.csv", "a\n1\n")

	// metadata written without rows, as if a two-step writer died in between
	broken, err := svc.CreateFile(context.Background(), &models.FileRecord{
		Filename:     "broken",
		OriginalName: "broken.csv",
		FilePath:     "/nonexistent/broken",
		MimeType:     "text/csv",
		RowCount:     3,
	})
	if err != nil {
		t.Fatalf("CreateFile: %v", err)
	}

	svc.sweepInconsistentFiles(context.Background())

	if _, err := svc.GetFile(context.Background(), broken.ID); !errors.Is(err, ErrFileNotFound) {
		t.Fatalf("expected inconsistent file swept, got %v", err)
	}
	if _, err := svc.GetFile(context.Background(), rec.ID); err != nil {
		t.Fatalf("expected consistent file kept: %v", err)
	}
}

func newTestService(t *testing.T) (*Service, *sql.DB, string) {
	t.Helper()
	db := openTestDB(t)
	dir := t.TempDir()
	svc, err := NewService(db, dir, 1<<20, []string{".csv", ".xlsx", ".xls"})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, db, dir
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	cfg := &config.Config{
		Databases: map[string]config.DatabaseConfig{
			"sqlite3": {
				DSN: ":memory:",
			},
		},
	}
	db, err := storage.Open("sqlite3", cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	// every in-memory connection is its own database
	db.SetMaxOpenConns(1)
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	return db
}

func ingestCSV(t *testing.T, svc *Service, name, content string) *models.FileRecord {
	t.Helper()
	rec, err := svc.Ingest(context.Background(), Upload{
		OriginalName: name,
		ContentType:  "text/csv",
		Data:         []byte(content),
	})
	if err != nil {
		t.Fatalf("ingest %s: %v", name, err)
	}
	return rec
}
