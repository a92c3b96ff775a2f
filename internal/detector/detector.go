package detector

import (
	"context"
	"fmt"
	"log"

	"github.com/jordanhubbard/mend/internal/metrics"
	"github.com/jordanhubbard/mend/pkg/models"
)

// Store is the persistence surface the detector needs.
type Store interface {
	FindOpenProblemByTitle(ctx context.Context, title string) (*models.DetectedProblem, error)
	CreateProblem(ctx context.Context, data *models.DetectedProblemData) (*models.DetectedProblem, error)
}

// Scanner is one stateless, read-only probe over an operational signal
// source. Scanners return zero or more problem drafts and never mutate
// anything.
type Scanner interface {
	Name() string
	Scan(ctx context.Context) ([]models.DetectedProblemData, error)
}

// Publisher receives detection events. Optional; nil disables
// publishing.
type Publisher interface {
	PublishProblemDetected(ctx context.Context, problem *models.DetectedProblem) error
}

// Detector unions drafts from all scanners and records each as a
// DetectedProblem, deduplicating by title against open problems.
type Detector struct {
	store     Store
	scanners  []Scanner
	publisher Publisher
}

// New creates a detector over the given scanners.
func New(store Store, scanners ...Scanner) *Detector {
	return &Detector{store: store, scanners: scanners}
}

// SetPublisher attaches an event publisher for newly recorded problems.
func (d *Detector) SetPublisher(p Publisher) {
	d.publisher = p
}

// DetectAndRecordProblems runs every scanner, unions the drafts and
// inserts each one for which no open problem shares the title. Existing
// open problems are never touched: this path does not update evidence
// on a prior detection (a known current limitation, kept on purpose).
// A failing scanner is logged and skipped; the rest still run.
func (d *Detector) DetectAndRecordProblems(ctx context.Context) ([]*models.DetectedProblem, error) {
	var drafts []models.DetectedProblemData
	for _, s := range d.scanners {
		found, err := s.Scan(ctx)
		if err != nil {
			log.Printf("[Detector] Scanner %s failed: %v", s.Name(), err)
			continue
		}
		drafts = append(drafts, found...)
	}

	var created []*models.DetectedProblem
	for i := range drafts {
		draft := &drafts[i]

		existing, err := d.store.FindOpenProblemByTitle(ctx, draft.Title)
		if err != nil {
			return created, fmt.Errorf("failed dedup check for %q: %w", draft.Title, err)
		}
		if existing != nil {
			continue
		}

		p, err := d.store.CreateProblem(ctx, draft)
		if err != nil {
			return created, fmt.Errorf("failed to record problem %q: %w", draft.Title, err)
		}
		log.Printf("[Detector] Recorded %s problem: %s (severity %s)", p.Type, p.Title, p.Severity)
		metrics.ProblemsDetected.WithLabelValues(string(p.Type), string(p.Severity)).Inc()
		if d.publisher != nil {
			if err := d.publisher.PublishProblemDetected(ctx, p); err != nil {
				log.Printf("[Detector] Failed to publish problem event: %v", err)
			}
		}
		created = append(created, p)
	}

	return created, nil
}
