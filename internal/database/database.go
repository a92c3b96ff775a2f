package database

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
)

// Database wraps the PostgreSQL store shared by all remediation
// components. It is the only shared mutable resource in the system;
// callers treat it as a remote service accessed via simple CRUD.
type Database struct {
	db *sql.DB
}

// NewPostgres creates a PostgreSQL database connection and initializes
// the schema.
func NewPostgres(dsn string) (*Database, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	d := &Database{db: db}

	if err := d.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return d, nil
}

// Close closes the database connection.
func (d *Database) Close() error {
	return d.db.Close()
}

// DB exposes the underlying handle for latency probes.
func (d *Database) DB() *sql.DB {
	return d.db
}

// rebind converts ? placeholders to $1, $2, ... for PostgreSQL.
// This is used throughout the database package for parameterized queries.
func rebind(query string) string {
	n := 1
	out := strings.Builder{}
	for _, ch := range query {
		if ch == '?' {
			out.WriteString(fmt.Sprintf("$%d", n))
			n++
		} else {
			out.WriteRune(ch)
		}
	}
	return out.String()
}

// initSchema creates the tables all components share.
func (d *Database) initSchema() error {
	if err := d.migrateProblems(); err != nil {
		return fmt.Errorf("failed to migrate problems: %w", err)
	}
	if err := d.migrateHypotheses(); err != nil {
		return fmt.Errorf("failed to migrate hypotheses: %w", err)
	}
	if err := d.migrateExperiences(); err != nil {
		return fmt.Errorf("failed to migrate experiences: %w", err)
	}
	if err := d.migrateLocks(); err != nil {
		return fmt.Errorf("failed to migrate locks: %w", err)
	}
	return nil
}
