package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jordanhubbard/mend/pkg/models"
)

// migrateProblems creates the problems table if it doesn't exist.
func (d *Database) migrateProblems() error {
	schema := `
	CREATE TABLE IF NOT EXISTS problems (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		severity TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL,
		evidence_json TEXT,
		impact TEXT,
		status TEXT NOT NULL DEFAULT 'detected',
		detected_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		resolved_at TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_problems_status ON problems(status);
	CREATE INDEX IF NOT EXISTS idx_problems_title ON problems(title);
	CREATE INDEX IF NOT EXISTS idx_problems_severity ON problems(severity);
	`
	_, err := d.db.Exec(schema)
	return err
}

// CreateProblem inserts a new problem in status "detected" and returns it.
// Dedup by title is the caller's responsibility (FindOpenProblemByTitle):
// the store does not carry a unique constraint on open titles, so the
// detector must check before insert.
func (d *Database) CreateProblem(ctx context.Context, data *models.DetectedProblemData) (*models.DetectedProblem, error) {
	if data == nil {
		return nil, fmt.Errorf("problem data cannot be nil")
	}

	p := &models.DetectedProblem{
		ID:          uuid.New().String(),
		Type:        data.Type,
		Severity:    data.Severity,
		Title:       data.Title,
		Description: data.Description,
		Evidence:    data.Evidence,
		Impact:      data.Impact,
		Status:      models.StatusDetected,
		DetectedAt:  time.Now(),
	}

	evidenceJSON := ""
	if p.Evidence != nil {
		b, err := json.Marshal(p.Evidence)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal evidence: %w", err)
		}
		evidenceJSON = string(b)
	}

	_, err := d.db.ExecContext(ctx, rebind(`
		INSERT INTO problems (id, type, severity, title, description, evidence_json, impact, status, detected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		p.ID, string(p.Type), string(p.Severity), p.Title, p.Description,
		evidenceJSON, p.Impact, string(p.Status), p.DetectedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create problem: %w", err)
	}

	return p, nil
}

// GetProblem retrieves a problem by ID.
func (d *Database) GetProblem(ctx context.Context, id string) (*models.DetectedProblem, error) {
	row := d.db.QueryRowContext(ctx, rebind(`
		SELECT id, type, severity, title, description, evidence_json, impact, status, detected_at, resolved_at
		FROM problems
		WHERE id = ?`), id)

	p, err := scanProblem(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("problem not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get problem: %w", err)
	}
	return p, nil
}

// FindOpenProblemByTitle returns the open (detected/analyzing) problem
// with the given title, or nil if none exists.
func (d *Database) FindOpenProblemByTitle(ctx context.Context, title string) (*models.DetectedProblem, error) {
	row := d.db.QueryRowContext(ctx, rebind(`
		SELECT id, type, severity, title, description, evidence_json, impact, status, detected_at, resolved_at
		FROM problems
		WHERE title = ? AND status IN ('detected', 'analyzing')
		LIMIT 1`), title)

	p, err := scanProblem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find open problem: %w", err)
	}
	return p, nil
}

// ListOpenProblems returns all detected/analyzing problems ordered by
// severity desc, then recency desc.
func (d *Database) ListOpenProblems(ctx context.Context) ([]*models.DetectedProblem, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, type, severity, title, description, evidence_json, impact, status, detected_at, resolved_at
		FROM problems
		WHERE status IN ('detected', 'analyzing')
		ORDER BY CASE severity
			WHEN 'critical' THEN 3
			WHEN 'high' THEN 2
			WHEN 'medium' THEN 1
			ELSE 0
		END DESC, detected_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list open problems: %w", err)
	}
	defer rows.Close()

	var problems []*models.DetectedProblem
	for rows.Next() {
		p, err := scanProblem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan problem: %w", err)
		}
		problems = append(problems, p)
	}
	return problems, rows.Err()
}

// UpdateProblemStatus transitions a problem's lifecycle state. Setting
// status "resolved" also stamps resolved_at.
func (d *Database) UpdateProblemStatus(ctx context.Context, id string, status models.ProblemStatus) error {
	var result sql.Result
	var err error

	if status == models.StatusResolved {
		result, err = d.db.ExecContext(ctx, rebind(`
			UPDATE problems SET status = ?, resolved_at = ? WHERE id = ?`),
			string(status), time.Now(), id)
	} else {
		result, err = d.db.ExecContext(ctx, rebind(`
			UPDATE problems SET status = ? WHERE id = ?`),
			string(status), id)
	}
	if err != nil {
		return fmt.Errorf("failed to update problem status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("problem not found: %s", id)
	}
	return nil
}

// CountOpenProblemsBySeverity counts detected/analyzing problems at the
// given severity.
func (d *Database) CountOpenProblemsBySeverity(ctx context.Context, severity models.ProblemSeverity) (int, error) {
	var count int
	err := d.db.QueryRowContext(ctx, rebind(`
		SELECT COUNT(*) FROM problems
		WHERE status IN ('detected', 'analyzing') AND severity = ?`),
		string(severity)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count open problems: %w", err)
	}
	return count, nil
}

// scanner abstracts sql.Row and sql.Rows for shared scan logic.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanProblem(s scanner) (*models.DetectedProblem, error) {
	p := &models.DetectedProblem{}
	var typ, severity, status string
	var evidenceJSON, impact sql.NullString
	var resolvedAt sql.NullTime

	err := s.Scan(&p.ID, &typ, &severity, &p.Title, &p.Description,
		&evidenceJSON, &impact, &status, &p.DetectedAt, &resolvedAt)
	if err != nil {
		return nil, err
	}

	p.Type = models.ProblemType(typ)
	p.Severity = models.ProblemSeverity(severity)
	p.Status = models.ProblemStatus(status)
	p.Impact = impact.String
	if evidenceJSON.Valid && evidenceJSON.String != "" {
		_ = json.Unmarshal([]byte(evidenceJSON.String), &p.Evidence)
	}
	if resolvedAt.Valid {
		p.ResolvedAt = &resolvedAt.Time
	}
	return p, nil
}
