package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"
)

const migrationTable = "schema_migrations"

// applyMigrations executes each embedded .sql file at most once, in name order.
func applyMigrations(ctx context.Context, sqlDB *sql.DB, migrationFS fs.FS) error {
	entries, err := fs.ReadDir(migrationFS, ".")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	createSQL := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    name TEXT PRIMARY KEY,
    applied_at INTEGER NOT NULL
)`, migrationTable)
	if _, err := sqlDB.ExecContext(ctx, createSQL); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	for _, file := range files {
		var count int
		if err := sqlDB.QueryRowContext(ctx,
			fmt.Sprintf("SELECT COUNT(1) FROM %s WHERE name = ?", migrationTable), file,
		).Scan(&count); err != nil {
			return fmt.Errorf("check migration %s: %w", file, err)
		}
		if count > 0 {
			continue
		}

		content, err := fs.ReadFile(migrationFS, file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}
		upSQL := extractUp(string(content))
		if strings.TrimSpace(upSQL) == "" {
			continue
		}

		tx, err := sqlDB.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", file, err)
		}
		if _, err := tx.ExecContext(ctx, upSQL); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("exec migration %s: %w", file, err)
		}
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf("INSERT INTO %s (name, applied_at) VALUES (?, ?)", migrationTable),
			file, time.Now().UTC().UnixMilli(),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", file, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", file, err)
		}
	}

	return nil
}

// extractUp returns the SQL in the -- +migrate Up section, or the whole file
// when there are no markers.
func extractUp(content string) string {
	const up, down = "-- +migrate Up", "-- +migrate Down"
	upIdx := strings.Index(content, up)
	if upIdx == -1 {
		return content
	}
	rest := content[upIdx+len(up):]
	if downIdx := strings.Index(rest, down); downIdx != -1 {
		return rest[:downIdx]
	}
	return rest
}
