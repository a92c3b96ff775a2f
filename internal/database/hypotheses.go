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

// migrateHypotheses creates the hypotheses table if it doesn't exist.
func (d *Database) migrateHypotheses() error {
	schema := `
	CREATE TABLE IF NOT EXISTS hypotheses (
		id TEXT PRIMARY KEY,
		problem_id TEXT NOT NULL,
		proposed_solution TEXT NOT NULL,
		reasoning TEXT,
		expected_impact TEXT,
		confidence INTEGER NOT NULL DEFAULT 50,
		testing_strategy TEXT,
		risks_json TEXT,
		implementation_json TEXT,
		tested BOOLEAN NOT NULL DEFAULT false,
		test_results TEXT,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (problem_id) REFERENCES problems(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_hypotheses_problem_id ON hypotheses(problem_id);
	`
	_, err := d.db.Exec(schema)
	return err
}

// CreateHypothesis persists a generated hypothesis draft and returns it.
func (d *Database) CreateHypothesis(ctx context.Context, data *models.HypothesisData) (*models.Hypothesis, error) {
	if data == nil {
		return nil, fmt.Errorf("hypothesis data cannot be nil")
	}
	if data.ProblemID == "" {
		return nil, fmt.Errorf("hypothesis must reference a problem")
	}

	h := &models.Hypothesis{
		ID:               uuid.New().String(),
		ProblemID:        data.ProblemID,
		ProposedSolution: data.ProposedSolution,
		Reasoning:        data.Reasoning,
		ExpectedImpact:   data.ExpectedImpact,
		Confidence:       clampConfidence(data.Confidence),
		TestingStrategy:  data.TestingStrategy,
		Risks:            data.Risks,
		Implementation:   data.Implementation,
		CreatedAt:        time.Now(),
	}

	risksJSON, err := json.Marshal(h.Risks)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal risks: %w", err)
	}
	implJSON, err := json.Marshal(h.Implementation)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal implementation: %w", err)
	}

	_, err = d.db.ExecContext(ctx, rebind(`
		INSERT INTO hypotheses (id, problem_id, proposed_solution, reasoning, expected_impact, confidence, testing_strategy, risks_json, implementation_json, tested, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		h.ID, h.ProblemID, h.ProposedSolution, h.Reasoning, h.ExpectedImpact,
		h.Confidence, h.TestingStrategy, string(risksJSON), string(implJSON),
		h.Tested, h.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create hypothesis: %w", err)
	}

	return h, nil
}

// GetHypothesis retrieves a hypothesis by ID.
func (d *Database) GetHypothesis(ctx context.Context, id string) (*models.Hypothesis, error) {
	row := d.db.QueryRowContext(ctx, rebind(`
		SELECT id, problem_id, proposed_solution, reasoning, expected_impact, confidence, testing_strategy, risks_json, implementation_json, tested, test_results, created_at
		FROM hypotheses
		WHERE id = ?`), id)

	h, err := scanHypothesis(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("hypothesis not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get hypothesis: %w", err)
	}
	return h, nil
}

// ListHypothesesForProblem returns a problem's hypotheses ordered by
// confidence descending.
func (d *Database) ListHypothesesForProblem(ctx context.Context, problemID string) ([]*models.Hypothesis, error) {
	rows, err := d.db.QueryContext(ctx, rebind(`
		SELECT id, problem_id, proposed_solution, reasoning, expected_impact, confidence, testing_strategy, risks_json, implementation_json, tested, test_results, created_at
		FROM hypotheses
		WHERE problem_id = ?
		ORDER BY confidence DESC, created_at DESC`), problemID)
	if err != nil {
		return nil, fmt.Errorf("failed to list hypotheses: %w", err)
	}
	defer rows.Close()

	var hypotheses []*models.Hypothesis
	for rows.Next() {
		h, err := scanHypothesis(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan hypothesis: %w", err)
		}
		hypotheses = append(hypotheses, h)
	}
	return hypotheses, rows.Err()
}

// ApplyConfidenceDelta adjusts a hypothesis's confidence by delta,
// clamped to [0,100], and marks it tested. The clamp happens inside a
// single conditional UPDATE so concurrent recorders serialize on the
// row and each delta is applied exactly once.
func (d *Database) ApplyConfidenceDelta(ctx context.Context, id string, delta int, testResults string) error {
	result, err := d.db.ExecContext(ctx, rebind(`
		UPDATE hypotheses
		SET confidence = LEAST(100, GREATEST(0, confidence + ?)),
		    tested = true,
		    test_results = ?
		WHERE id = ?`),
		delta, testResults, id)
	if err != nil {
		return fmt.Errorf("failed to adjust confidence: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("hypothesis not found: %s", id)
	}
	return nil
}

func clampConfidence(c int) int {
	if c < 0 {
		return 0
	}
	if c > 100 {
		return 100
	}
	return c
}

func scanHypothesis(s scanner) (*models.Hypothesis, error) {
	h := &models.Hypothesis{}
	var reasoning, expectedImpact, testingStrategy, risksJSON, implJSON, testResults sql.NullString

	err := s.Scan(&h.ID, &h.ProblemID, &h.ProposedSolution, &reasoning,
		&expectedImpact, &h.Confidence, &testingStrategy, &risksJSON,
		&implJSON, &h.Tested, &testResults, &h.CreatedAt)
	if err != nil {
		return nil, err
	}

	h.Reasoning = reasoning.String
	h.ExpectedImpact = expectedImpact.String
	h.TestingStrategy = testingStrategy.String
	h.TestResults = testResults.String
	if risksJSON.Valid && risksJSON.String != "" {
		_ = json.Unmarshal([]byte(risksJSON.String), &h.Risks)
	}
	if implJSON.Valid && implJSON.String != "" {
		_ = json.Unmarshal([]byte(implJSON.String), &h.Implementation)
	}
	return h, nil
}
