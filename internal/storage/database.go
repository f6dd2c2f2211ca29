package storage

import (
	"database/sql"
	"fmt"
	"strings"

	"datalens/internal/config"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
)

// Open connects to the configured database for the given driver name.
func Open(dbType string, cfg *config.Config) (*sql.DB, error) {
	dbCfg, ok := cfg.Databases[dbType]
	if !ok {
		return nil, fmt.Errorf("database config for %s not found", dbType)
	}

	var (
		db  *sql.DB
		err error
	)

	switch strings.ToLower(dbType) {
	case "sqlite", "sqlite3":
		if dbCfg.DSN == "" {
			return nil, fmt.Errorf("sqlite dsn must be provided")
		}
		db, err = sql.Open("sqlite3", dbCfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite database: %w", err)
		}
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable sqlite foreign keys: %w", err)
		}
	case "mysql":
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
			dbCfg.Username,
			dbCfg.Password,
			dbCfg.Host,
			dbCfg.Port,
			dbCfg.DBName,
			dbCfg.Params,
		)
		db, err = sql.Open("mysql", dsn)
		if err != nil {
			return nil, fmt.Errorf("open mysql database: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", dbType)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// Migrate ensures the required tables are present.
func Migrate(db *sql.DB, driver string) error {
	var stmts []string
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS files (
				id TEXT PRIMARY KEY,
				filename TEXT NOT NULL,
				original_name TEXT NOT NULL,
				file_path TEXT NOT NULL,
				file_size INTEGER NOT NULL,
				mime_type TEXT NOT NULL,
				row_count INTEGER NOT NULL DEFAULT 0,
				column_count INTEGER NOT NULL DEFAULT 0,
				columns TEXT NOT NULL DEFAULT '[]',
				metadata TEXT NOT NULL DEFAULT '{}',
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS file_rows (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				file_id TEXT NOT NULL,
				row_index INTEGER NOT NULL,
				payload TEXT NOT NULL,
				created_at DATETIME NOT NULL,
				UNIQUE(file_id, row_index),
				FOREIGN KEY(file_id) REFERENCES files(id) ON DELETE CASCADE
			)`,
			`CREATE INDEX IF NOT EXISTS idx_files_created_at ON files(created_at DESC, id DESC)`,
			`CREATE INDEX IF NOT EXISTS idx_file_rows_file ON file_rows(file_id, row_index)`,
		}
	case "mysql":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS files (
				id VARCHAR(36) NOT NULL,
				filename VARCHAR(255) NOT NULL,
				original_name VARCHAR(255) NOT NULL,
				file_path VARCHAR(500) NOT NULL,
				file_size BIGINT NOT NULL,
				mime_type VARCHAR(100) NOT NULL,
				row_count INT NOT NULL DEFAULT 0,
				column_count INT NOT NULL DEFAULT 0,
				columns JSON NOT NULL,
				metadata JSON NOT NULL,
				created_at DATETIME(3) NOT NULL,
				updated_at DATETIME(3) NOT NULL,
				PRIMARY KEY (id),
				INDEX idx_files_created_at (created_at DESC, id DESC)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS file_rows (
				id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
				file_id VARCHAR(36) NOT NULL,
				row_index INT NOT NULL,
				payload JSON NOT NULL,
				created_at DATETIME(3) NOT NULL,
				PRIMARY KEY (id),
				UNIQUE KEY uniq_file_row (file_id, row_index),
				INDEX idx_file_rows_file (file_id, row_index),
				CONSTRAINT fk_file_rows_file FOREIGN KEY (file_id) REFERENCES files(id) ON DELETE CASCADE
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		}
	default:
		return fmt.Errorf("unsupported driver for migration: %s", driver)
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate (%s): %w", driver, err)
		}
	}
	return nil
}
