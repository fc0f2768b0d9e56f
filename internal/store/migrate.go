package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ApplyMigrations runs every pending *.up.sql file in name order and returns the
// versions it applied.
func ApplyMigrations(ctx context.Context, db *sql.DB, migrationsDir string) ([]string, error) {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return nil, fmt.Errorf("ensure schema_migrations: %w", err)
	}

	files, err := migrationFiles(migrationsDir, ".up.sql")
	if err != nil {
		return nil, err
	}

	var applied []string
	for _, file := range files {
		version := filepath.Base(file)
		var done bool
		if err := db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version=$1)`, version).Scan(&done); err != nil {
			return applied, fmt.Errorf("check migration %s: %w", version, err)
		}
		if done {
			continue
		}
		if err := runMigration(ctx, db, file, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(version) VALUES($1)`, version)
			return err
		}); err != nil {
			return applied, err
		}
		log.Printf("store: applied migration %s", version)
		applied = append(applied, version)
	}
	return applied, nil
}

// RollbackLast undoes the most recently applied migration using its .down.sql twin.
func RollbackLast(ctx context.Context, db *sql.DB, migrationsDir string) (string, error) {
	var version string
	err := db.QueryRowContext(ctx, `SELECT version FROM schema_migrations ORDER BY version DESC LIMIT 1`).Scan(&version)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("find last migration: %w", err)
	}
	down := filepath.Join(migrationsDir, strings.TrimSuffix(version, ".up.sql")+".down.sql")
	if err := runMigration(ctx, db, down, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM schema_migrations WHERE version=$1`, version)
		return err
	}); err != nil {
		return "", err
	}
	return version, nil
}

func runMigration(ctx context.Context, db *sql.DB, file string, record func(*sql.Tx) error) error {
	name := filepath.Base(file)
	contents, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("read migration %s: %w", name, err)
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx %s: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, string(contents)); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("execute migration %s: %w", name, err)
	}
	if err := record(tx); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("record migration %s: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", name, err)
	}
	return nil
}

func migrationFiles(dir, suffix string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}
	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), suffix) {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}
