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

// migrateExperiences creates the experiences table if it doesn't exist.
// The table is append-only: there are no UPDATE or DELETE paths.
func (d *Database) migrateExperiences() error {
	schema := `
	CREATE TABLE IF NOT EXISTS experiences (
		id TEXT PRIMARY KEY,
		hypothesis_id TEXT,
		type TEXT NOT NULL,
		action TEXT NOT NULL,
		context_json TEXT,
		outcome TEXT NOT NULL,
		results_json TEXT,
		lessons_learned TEXT,
		would_repeat BOOLEAN NOT NULL DEFAULT false,
		confidence INTEGER NOT NULL DEFAULT 50,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_experiences_type ON experiences(type);
	CREATE INDEX IF NOT EXISTS idx_experiences_outcome ON experiences(outcome);
	CREATE INDEX IF NOT EXISTS idx_experiences_created_at ON experiences(created_at);
	`
	_, err := d.db.Exec(schema)
	return err
}

// CreateExperience appends a new experience record and returns it.
func (d *Database) CreateExperience(ctx context.Context, data *models.ExperienceData) (*models.Experience, error) {
	if data == nil {
		return nil, fmt.Errorf("experience data cannot be nil")
	}

	e := &models.Experience{
		ID:             uuid.New().String(),
		HypothesisID:   data.HypothesisID,
		Type:           data.Type,
		Action:         data.Action,
		Context:        data.Context,
		Outcome:        data.Outcome,
		Results:        data.Results,
		LessonsLearned: data.LessonsLearned,
		WouldRepeat:    data.WouldRepeat,
		Confidence:     clampConfidence(data.Confidence),
		CreatedAt:      time.Now(),
	}

	contextJSON, err := json.Marshal(e.Context)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal context: %w", err)
	}
	resultsJSON := ""
	if e.Results != nil {
		b, err := json.Marshal(e.Results)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal results: %w", err)
		}
		resultsJSON = string(b)
	}

	_, err = d.db.ExecContext(ctx, rebind(`
		INSERT INTO experiences (id, hypothesis_id, type, action, context_json, outcome, results_json, lessons_learned, would_repeat, confidence, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		e.ID, nullIfEmpty(e.HypothesisID), string(e.Type), e.Action,
		string(contextJSON), string(e.Outcome), resultsJSON,
		e.LessonsLearned, e.WouldRepeat, e.Confidence, e.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create experience: %w", err)
	}

	return e, nil
}

// ExperienceFilter narrows experience queries.
type ExperienceFilter struct {
	Type           models.ExperienceType
	OnlySuccessful bool
	Since          time.Time
	Limit          int
}

// ListExperiences returns experiences matching the filter, ordered
// success-first, then confidence, then recency.
func (d *Database) ListExperiences(ctx context.Context, filter ExperienceFilter) ([]*models.Experience, error) {
	query := `
		SELECT id, hypothesis_id, type, action, context_json, outcome, results_json, lessons_learned, would_repeat, confidence, created_at
		FROM experiences
		WHERE 1=1`
	var args []interface{}

	if filter.Type != "" {
		query += ` AND type = ?`
		args = append(args, string(filter.Type))
	}
	if filter.OnlySuccessful {
		query += ` AND outcome = 'success'`
	}
	if !filter.Since.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, filter.Since)
	}

	query += `
		ORDER BY CASE outcome WHEN 'success' THEN 0 WHEN 'partial' THEN 1 ELSE 2 END,
			confidence DESC, created_at DESC`

	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := d.db.QueryContext(ctx, rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list experiences: %w", err)
	}
	defer rows.Close()

	var experiences []*models.Experience
	for rows.Next() {
		e, err := scanExperience(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan experience: %w", err)
		}
		experiences = append(experiences, e)
	}
	return experiences, rows.Err()
}

// CountExperiences returns ledger totals: all records and successes.
func (d *Database) CountExperiences(ctx context.Context) (total int, successes int, err error) {
	err = d.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE outcome = 'success')
		FROM experiences`).Scan(&total, &successes)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count experiences: %w", err)
	}
	return total, successes, nil
}

// CountRecentFailures counts failure-outcome experiences since the cutoff.
func (d *Database) CountRecentFailures(ctx context.Context, since time.Time) (int, error) {
	var count int
	err := d.db.QueryRowContext(ctx, rebind(`
		SELECT COUNT(*) FROM experiences
		WHERE outcome = 'failure' AND created_at >= ?`), since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count recent failures: %w", err)
	}
	return count, nil
}

// LatestExperienceOfType returns the newest experience of the given
// type, or nil if none exists.
func (d *Database) LatestExperienceOfType(ctx context.Context, typ models.ExperienceType) (*models.Experience, error) {
	row := d.db.QueryRowContext(ctx, rebind(`
		SELECT id, hypothesis_id, type, action, context_json, outcome, results_json, lessons_learned, would_repeat, confidence, created_at
		FROM experiences
		WHERE type = ?
		ORDER BY created_at DESC
		LIMIT 1`), string(typ))

	e, err := scanExperience(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest experience: %w", err)
	}
	return e, nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func scanExperience(s scanner) (*models.Experience, error) {
	e := &models.Experience{}
	var hypothesisID, contextJSON, resultsJSON, lessons sql.NullString
	var typ, outcome string

	err := s.Scan(&e.ID, &hypothesisID, &typ, &e.Action, &contextJSON,
		&outcome, &resultsJSON, &lessons, &e.WouldRepeat, &e.Confidence,
		&e.CreatedAt)
	if err != nil {
		return nil, err
	}

	e.HypothesisID = hypothesisID.String
	e.Type = models.ExperienceType(typ)
	e.Outcome = models.Outcome(outcome)
	e.LessonsLearned = lessons.String
	if contextJSON.Valid && contextJSON.String != "" {
		_ = json.Unmarshal([]byte(contextJSON.String), &e.Context)
	}
	if resultsJSON.Valid && resultsJSON.String != "" {
		_ = json.Unmarshal([]byte(resultsJSON.String), &e.Results)
	}
	return e, nil
}
