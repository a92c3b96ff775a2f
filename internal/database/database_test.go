package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jordanhubbard/mend/pkg/models"
)

func TestMain(m *testing.M) {
	code := m.Run()
	if sharedDB != nil {
		sharedDB.Close()
	}
	if sharedDBName != "" && sharedAdmDSN != "" {
		if a, e := sql.Open("postgres", sharedAdmDSN); e == nil {
			a.Exec(`DROP DATABASE IF EXISTS "` + sharedDBName + `"`)
			a.Close()
		}
	}
	os.Exit(code)
}

// pgParams returns connection parameters from environment variables.
func pgParams() (host, port, user, password string) {
	host = os.Getenv("POSTGRES_HOST")
	if host == "" {
		host = "localhost"
	}
	port = os.Getenv("POSTGRES_PORT")
	if port == "" {
		port = "5432"
	}
	user = os.Getenv("POSTGRES_USER")
	if user == "" {
		user = "mend"
	}
	password = os.Getenv("POSTGRES_PASSWORD")
	if password == "" {
		password = "mend"
	}
	return
}

// One database per test run, reused across tests. Migrations run once;
// each test gets a clean slate via TRUNCATE.
var (
	sharedDB     *Database
	sharedDBOnce sync.Once
	sharedDBErr  error
	sharedDBName string
	sharedAdmDSN string
)

// newTestDB returns a shared PostgreSQL database with all tables
// truncated. Skips the test if postgres is not available.
func newTestDB(t *testing.T) *Database {
	t.Helper()

	sharedDBOnce.Do(func() {
		host, port, user, password := pgParams()
		sharedAdmDSN = fmt.Sprintf(
			"host=%s port=%s user=%s password=%s dbname=postgres sslmode=disable connect_timeout=5",
			host, port, user, password,
		)

		adminDB, err := sql.Open("postgres", sharedAdmDSN)
		if err != nil {
			sharedDBErr = fmt.Errorf("postgres not available: %w", err)
			return
		}
		if err := adminDB.Ping(); err != nil {
			adminDB.Close()
			sharedDBErr = fmt.Errorf("postgres not reachable: %w", err)
			return
		}

		sharedDBName = fmt.Sprintf("mend_test_%d", time.Now().UnixNano())
		if _, err := adminDB.Exec(`CREATE DATABASE "` + sharedDBName + `"`); err != nil {
			adminDB.Close()
			sharedDBErr = fmt.Errorf("cannot create test database %q: %w", sharedDBName, err)
			return
		}
		adminDB.Close()

		dsn := fmt.Sprintf(
			"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable connect_timeout=5",
			host, port, user, password, sharedDBName,
		)
		sharedDB, sharedDBErr = NewPostgres(dsn)
	})

	if sharedDBErr != nil {
		t.Skipf("Skipping: %v", sharedDBErr)
		return nil
	}

	for _, table := range []string{"experiences", "hypotheses", "detected_problems", "distributed_locks"} {
		if _, err := sharedDB.db.Exec(`TRUNCATE "` + table + `" CASCADE`); err != nil {
			t.Fatalf("Failed to truncate %s: %v", table, err)
		}
	}
	return sharedDB
}

func testProblemData(title string) *models.DetectedProblemData {
	return &models.DetectedProblemData{
		Type:        models.ProblemPerformance,
		Severity:    models.SeverityHigh,
		Title:       title,
		Description: "store latency degraded",
		Evidence:    map[string]interface{}{"latency_ms": 1500},
		Impact:      "slow responses for all operations",
	}
}

func TestProblemRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	created, err := db.CreateProblem(ctx, testProblemData("store latency degraded"))
	if err != nil {
		t.Fatalf("CreateProblem failed: %v", err)
	}
	if created.Status != models.StatusDetected {
		t.Errorf("Expected status detected, got %s", created.Status)
	}

	got, err := db.GetProblem(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetProblem failed: %v", err)
	}
	if got.Type != models.ProblemPerformance || got.Severity != models.SeverityHigh || got.Title != created.Title {
		t.Errorf("Round trip mismatch: got %+v", got)
	}
}

func TestFindOpenProblemByTitle(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	found, err := db.FindOpenProblemByTitle(ctx, "no such problem")
	if err != nil {
		t.Fatalf("FindOpenProblemByTitle failed: %v", err)
	}
	if found != nil {
		t.Errorf("Expected nil for missing title, got %+v", found)
	}

	created, err := db.CreateProblem(ctx, testProblemData("duplicate title"))
	if err != nil {
		t.Fatalf("CreateProblem failed: %v", err)
	}

	found, err = db.FindOpenProblemByTitle(ctx, "duplicate title")
	if err != nil {
		t.Fatalf("FindOpenProblemByTitle failed: %v", err)
	}
	if found == nil || found.ID != created.ID {
		t.Errorf("Expected to find %s, got %+v", created.ID, found)
	}

	// Resolved problems do not count as open.
	if err := db.UpdateProblemStatus(ctx, created.ID, models.StatusResolved); err != nil {
		t.Fatalf("UpdateProblemStatus failed: %v", err)
	}
	found, err = db.FindOpenProblemByTitle(ctx, "duplicate title")
	if err != nil {
		t.Fatalf("FindOpenProblemByTitle failed: %v", err)
	}
	if found != nil {
		t.Errorf("Resolved problem still reported open: %+v", found)
	}
}

func TestListOpenProblemsOrdering(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	for _, p := range []struct {
		title    string
		severity models.ProblemSeverity
	}{
		{"low issue", models.SeverityLow},
		{"critical issue", models.SeverityCritical},
		{"medium issue", models.SeverityMedium},
	} {
		data := testProblemData(p.title)
		data.Severity = p.severity
		if _, err := db.CreateProblem(ctx, data); err != nil {
			t.Fatalf("CreateProblem failed: %v", err)
		}
	}

	open, err := db.ListOpenProblems(ctx)
	if err != nil {
		t.Fatalf("ListOpenProblems failed: %v", err)
	}
	if len(open) != 3 {
		t.Fatalf("Expected 3 open problems, got %d", len(open))
	}
	if open[0].Severity != models.SeverityCritical {
		t.Errorf("Expected critical first, got %s", open[0].Severity)
	}
	if open[2].Severity != models.SeverityLow {
		t.Errorf("Expected low last, got %s", open[2].Severity)
	}
}

func TestUpdateProblemStatusStampsResolvedAt(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	created, err := db.CreateProblem(ctx, testProblemData("resolvable"))
	if err != nil {
		t.Fatalf("CreateProblem failed: %v", err)
	}

	if err := db.UpdateProblemStatus(ctx, created.ID, models.StatusResolved); err != nil {
		t.Fatalf("UpdateProblemStatus failed: %v", err)
	}

	got, err := db.GetProblem(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetProblem failed: %v", err)
	}
	if got.Status != models.StatusResolved {
		t.Errorf("Expected resolved, got %s", got.Status)
	}
	if got.ResolvedAt == nil {
		t.Error("Expected resolved_at to be set")
	}
}

func testHypothesisData(problemID string, confidence int) *models.HypothesisData {
	return &models.HypothesisData{
		ProblemID:        problemID,
		ProposedSolution: "add an index on detected_at",
		Reasoning:        "sequential scans dominate query time",
		ExpectedImpact:   "latency below threshold",
		Confidence:       confidence,
		TestingStrategy:  "replay slow queries against a staging copy",
		Risks:            []string{"index maintenance cost"},
		Implementation: models.Implementation{
			FilesAffected: []string{"schema.sql"},
			Complexity:    models.ComplexityLow,
			Dependencies:  []string{},
		},
	}
}

func TestApplyConfidenceDelta(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	problem, err := db.CreateProblem(ctx, testProblemData("confidence target"))
	if err != nil {
		t.Fatalf("CreateProblem failed: %v", err)
	}

	tests := []struct {
		name  string
		start int
		delta int
		want  int
	}{
		{"success delta", 50, 10, 60},
		{"failure delta", 50, -20, 30},
		{"clamped at 100", 95, 10, 100},
		{"clamped at 0", 10, -20, 0},
		{"partial leaves unchanged", 50, 0, 50},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h, err := db.CreateHypothesis(ctx, testHypothesisData(problem.ID, tc.start))
			if err != nil {
				t.Fatalf("CreateHypothesis failed: %v", err)
			}

			if err := db.ApplyConfidenceDelta(ctx, h.ID, tc.delta, "outcome recorded"); err != nil {
				t.Fatalf("ApplyConfidenceDelta failed: %v", err)
			}

			got, err := db.GetHypothesis(ctx, h.ID)
			if err != nil {
				t.Fatalf("GetHypothesis failed: %v", err)
			}
			if got.Confidence != tc.want {
				t.Errorf("Expected confidence %d, got %d", tc.want, got.Confidence)
			}
			if !got.Tested {
				t.Error("Expected hypothesis to be marked tested")
			}
		})
	}
}

func TestListHypothesesForProblemOrdering(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	problem, err := db.CreateProblem(ctx, testProblemData("ranked"))
	if err != nil {
		t.Fatalf("CreateProblem failed: %v", err)
	}

	for _, c := range []int{40, 90, 65} {
		if _, err := db.CreateHypothesis(ctx, testHypothesisData(problem.ID, c)); err != nil {
			t.Fatalf("CreateHypothesis failed: %v", err)
		}
	}

	hs, err := db.ListHypothesesForProblem(ctx, problem.ID)
	if err != nil {
		t.Fatalf("ListHypothesesForProblem failed: %v", err)
	}
	if len(hs) != 3 {
		t.Fatalf("Expected 3 hypotheses, got %d", len(hs))
	}
	if hs[0].Confidence != 90 || hs[2].Confidence != 40 {
		t.Errorf("Expected confidence-descending order, got %d, %d, %d",
			hs[0].Confidence, hs[1].Confidence, hs[2].Confidence)
	}
}

func TestExperienceRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	exp, err := db.CreateExperience(ctx, &models.ExperienceData{
		Type:   models.ExperienceFix,
		Action: "installed missing dependency",
		Context: models.ExperienceContext{
			Situation: "build failure",
			Problem:   "cannot find module",
		},
		Outcome:        models.OutcomeSuccess,
		Results:        map[string]interface{}{"package": "lodash"},
		LessonsLearned: "pin dependencies in the lockfile",
		WouldRepeat:    true,
		Confidence:     85,
	})
	if err != nil {
		t.Fatalf("CreateExperience failed: %v", err)
	}
	if exp.ID == "" {
		t.Fatal("Expected experience id")
	}
	if exp.HypothesisID != "" {
		t.Errorf("Expected empty hypothesis reference, got %q", exp.HypothesisID)
	}

	listed, err := db.ListExperiences(ctx, ExperienceFilter{Type: models.ExperienceFix})
	if err != nil {
		t.Fatalf("ListExperiences failed: %v", err)
	}
	if len(listed) != 1 || listed[0].Action != exp.Action {
		t.Errorf("Round trip mismatch: %+v", listed)
	}
}

func TestCountExperiences(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	outcomes := []models.Outcome{models.OutcomeSuccess, models.OutcomeSuccess, models.OutcomeFailure, models.OutcomePartial}
	for i, o := range outcomes {
		_, err := db.CreateExperience(ctx, &models.ExperienceData{
			Type:        models.ExperienceFix,
			Action:      fmt.Sprintf("attempt %d", i),
			Outcome:     o,
			WouldRepeat: o == models.OutcomeSuccess,
			Confidence:  50,
		})
		if err != nil {
			t.Fatalf("CreateExperience failed: %v", err)
		}
	}

	total, successes, err := db.CountExperiences(ctx)
	if err != nil {
		t.Fatalf("CountExperiences failed: %v", err)
	}
	if total != 4 || successes != 2 {
		t.Errorf("Expected 4 total / 2 successes, got %d / %d", total, successes)
	}

	failures, err := db.CountRecentFailures(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("CountRecentFailures failed: %v", err)
	}
	if failures != 1 {
		t.Errorf("Expected 1 recent failure, got %d", failures)
	}
}

func TestLatestExperienceOfType(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	latest, err := db.LatestExperienceOfType(ctx, models.ExperienceLearningCycle)
	if err != nil {
		t.Fatalf("LatestExperienceOfType failed: %v", err)
	}
	if latest != nil {
		t.Errorf("Expected nil with empty ledger, got %+v", latest)
	}

	for i := 0; i < 2; i++ {
		_, err := db.CreateExperience(ctx, &models.ExperienceData{
			Type:       models.ExperienceLearningCycle,
			Action:     fmt.Sprintf("cycle %d", i),
			Outcome:    models.OutcomeSuccess,
			Confidence: 70,
		})
		if err != nil {
			t.Fatalf("CreateExperience failed: %v", err)
		}
	}

	latest, err = db.LatestExperienceOfType(ctx, models.ExperienceLearningCycle)
	if err != nil {
		t.Fatalf("LatestExperienceOfType failed: %v", err)
	}
	if latest == nil {
		t.Fatal("Expected latest cycle experience")
	}
}

func TestDistributedLock(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	lock, err := db.AcquireLock(ctx, "rollback:v1", time.Minute)
	if err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}

	if _, err := db.AcquireLock(ctx, "rollback:v1", time.Minute); err != ErrLockHeld {
		t.Errorf("Expected ErrLockHeld for second acquire, got %v", err)
	}

	// A different name is independent.
	other, err := db.AcquireLock(ctx, "rollback:v2", time.Minute)
	if err != nil {
		t.Fatalf("AcquireLock for other name failed: %v", err)
	}
	other.Release(ctx)

	if err := lock.Release(ctx); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	// Released locks can be re-acquired.
	again, err := db.AcquireLock(ctx, "rollback:v1", time.Minute)
	if err != nil {
		t.Fatalf("Re-acquire after release failed: %v", err)
	}
	again.Release(ctx)
}

func TestExpiredLockIsStolen(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if _, err := db.AcquireLock(ctx, "rollback:v3", -time.Second); err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}

	stolen, err := db.AcquireLock(ctx, "rollback:v3", time.Minute)
	if err != nil {
		t.Fatalf("Expected expired lock to be stolen, got %v", err)
	}
	stolen.Release(ctx)
}

func TestProbeLatency(t *testing.T) {
	db := newTestDB(t)

	latency, err := db.ProbeLatency(context.Background())
	if err != nil {
		t.Fatalf("ProbeLatency failed: %v", err)
	}
	if latency <= 0 {
		t.Errorf("Expected positive latency, got %v", latency)
	}
}

func TestRebind(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"SELECT 1", "SELECT 1"},
		{"WHERE id = ?", "WHERE id = $1"},
		{"VALUES (?, ?, ?)", "VALUES ($1, $2, $3)"},
	}
	for _, tc := range tests {
		if got := rebind(tc.in); got != tc.want {
			t.Errorf("rebind(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestCountOpenProblemsBySeverity(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		data := testProblemData(fmt.Sprintf("critical %d", i))
		data.Severity = models.SeverityCritical
		if _, err := db.CreateProblem(ctx, data); err != nil {
			t.Fatalf("CreateProblem failed: %v", err)
		}
	}

	n, err := db.CountOpenProblemsBySeverity(ctx, models.SeverityCritical)
	if err != nil {
		t.Fatalf("CountOpenProblemsBySeverity failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 critical, got %d", n)
	}

	n, err = db.CountOpenProblemsBySeverity(ctx, models.SeverityLow)
	if err != nil {
		t.Fatalf("CountOpenProblemsBySeverity failed: %v", err)
	}
	if n != 0 {
		t.Errorf("Expected 0 low, got %d", n)
	}
}
