package store

import (
	"bufio"
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"
)

//go:embed migrations/001_initial_schema.sql
var initialSchema string

// orderedMigrations lists every schema migration in the order it must run.
// Versions are contiguous and never reused; a new migration goes at the end
// with the next version number and its own embedded script.
var orderedMigrations = []struct {
	version int
	name    string
	script  string
}{
	{1, "initial_schema", initialSchema},
}

// runMigrations brings the database up to the latest schema version. Applied
// versions are tracked in schema_version, so re-running on an up-to-date
// database is a no-op.
func runMigrations(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("ensure schema_version table: %w", err)
	}

	var applied int
	if err := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&applied); err != nil {
		return fmt.Errorf("read applied schema version: %w", err)
	}

	for _, m := range orderedMigrations {
		if m.version <= applied {
			continue
		}
		if err := applyMigration(ctx, db, m.version, m.name, m.script); err != nil {
			return fmt.Errorf("apply migration %q (version %d): %w", m.name, m.version, err)
		}
	}
	return nil
}

// applyMigration runs one migration script and records its version, all in a
// single transaction so a half-applied migration never counts as applied.
func applyMigration(ctx context.Context, db *sql.DB, version int, name, script string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range sqlStatements(script) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_version (version, name) VALUES (?, ?)`, version, name); err != nil {
		return err
	}
	return tx.Commit()
}

// sqlStatements breaks a migration script into individual statements the
// driver can execute one at a time. Statements end at a semicolon; blank
// lines and -- comment lines are dropped along the way.
func sqlStatements(script string) []string {
	var stmts []string
	var buf []string

	flush := func() {
		if len(buf) == 0 {
			return
		}
		stmts = append(stmts, strings.Join(buf, "\n"))
		buf = buf[:0]
	}

	sc := bufio.NewScanner(strings.NewReader(script))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "--") {
			continue
		}
		if done := strings.HasSuffix(line, ";"); done {
			buf = append(buf, strings.TrimSuffix(line, ";"))
			flush()
		} else {
			buf = append(buf, line)
		}
	}
	flush()
	return stmts
}
