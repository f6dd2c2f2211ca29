package dataset

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"time"
)

const (
	DefaultOrphanSweepInterval = time.Hour

	// staged files younger than this are assumed to belong to an in-flight
	// ingestion and are left alone
	orphanGracePeriod = 10 * time.Minute
)

// StartOrphanSweeper runs a periodic reconciliation that removes staged files
// without a matching FileRecord and FileRecords whose persisted rows no
// longer match their row_count. It guarantees an interrupted ingestion is
// never left half-committed indefinitely.
func (s *Service) StartOrphanSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultOrphanSweepInterval
	}
	go s.sweepLoop(ctx, interval)
}

func (s *Service) sweepLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.sweepOrphans(ctx); err != nil {
				log.Printf("orphan sweep error: %v", err)
			}
		}
	}
}

func (s *Service) sweepOrphans(ctx context.Context) error {
	if err := s.sweepInconsistentFiles(ctx); err != nil {
		return err
	}
	return s.sweepStagedOrphans(ctx)
}

// sweepInconsistentFiles deletes file records whose stored rows do not match
// row_count. The single-transaction ingest path cannot produce these; the
// two-step CreateFile/AppendRows contract interrupted mid-way can.
func (s *Service) sweepInconsistentFiles(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.id FROM files f
		LEFT JOIN file_rows r ON r.file_id = f.id
		GROUP BY f.id, f.row_count
		HAVING COUNT(r.id) != f.row_count`)
	if err != nil {
		return err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, id := range ids {
		if _, err := s.DeleteFile(ctx, id); err != nil {
			log.Printf("sweep inconsistent file %s failed: %v", id, err)
		}
	}
	return nil
}

// sweepStagedOrphans removes files on disk that no FileRecord references.
func (s *Service) sweepStagedOrphans(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT filename FROM files`)
	if err != nil {
		return err
	}
	defer rows.Close()

	known := make(map[string]struct{})
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return err
		}
		known[name] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	entries, err := os.ReadDir(s.uploadDir)
	if err != nil {
		return err
	}
	cutoff := time.Now().Add(-orphanGracePeriod)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if _, ok := known[entry.Name()]; ok {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(s.uploadDir, entry.Name())
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Printf("remove orphaned upload %s failed: %v", path, err)
		}
	}
	return nil
}
