package scanner

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lafoncedalle/reviewlink/internal/links"
	"github.com/lafoncedalle/reviewlink/internal/models"
	"github.com/lafoncedalle/reviewlink/internal/orders"
	"github.com/lafoncedalle/reviewlink/internal/ratings"
)

// Reminder age window. Both boundaries are exclusive: an order exactly 3 or
// exactly 30 days old is not eligible.
const (
	MinOrderAge = 3 * 24 * time.Hour
	MaxOrderAge = 30 * 24 * time.Hour
)

// Candidate is an identity that should receive a review reminder right now,
// with the product titles still unrated on its most recent order.
type Candidate struct {
	IdentityID    string   `json:"identity_id"`
	DisplayName   string   `json:"display_name"`
	Email         string   `json:"email"`
	OrderID       string   `json:"order_id"`
	UnratedTitles []string `json:"unrated_titles"`
}

// Report summarizes one scan pass.
type Report struct {
	RunID      string      `json:"run_id"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt time.Time   `json:"finished_at"`
	Scanned    int         `json:"scanned"`
	Failed     int         `json:"failed"`
	Candidates []Candidate `json:"candidates"`
}

// EventSink receives scan summary events.
type EventSink interface {
	Broadcast(msgType string, payload interface{}) error
}

// Scanner computes the reminder worklist. Each pass is read-mostly and
// re-entrant: identical results until MarkNotified records a pair.
type Scanner struct {
	store   *links.Store
	source  orders.Source
	ratings ratings.Lookup
	events  EventSink

	workers  int
	deadline time.Duration
	now      func() time.Time

	mu sync.Mutex // one pass at a time
}

// New creates an eligibility scanner
func New(store *links.Store, source orders.Source, lookup ratings.Lookup, events EventSink, workers int, deadline time.Duration) *Scanner {
	if workers < 1 {
		workers = 1
	}
	return &Scanner{
		store:    store,
		source:   source,
		ratings:  lookup,
		events:   events,
		workers:  workers,
		deadline: deadline,
		now:      time.Now,
	}
}

// SetClock overrides the scanner's clock.
func (s *Scanner) SetClock(now func() time.Time) {
	s.now = now
}

// Run performs one eligibility pass over all active, unsuppressed links.
// Order-source calls run on a bounded worker pool; a failing or slow call
// only costs its own identity, never the pass. The pass-level deadline keeps
// a stalled remote from hanging the scan indefinitely.
func (s *Scanner) Run(ctx context.Context) (*Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.deadline)
		defer cancel()
	}

	report := &Report{
		RunID:      uuid.NewString(),
		StartedAt:  s.now(),
		Candidates: []Candidate{},
	}

	targets, err := s.store.ListScanTargets()
	if err != nil {
		return nil, err
	}

	log.Printf("Scan %s: checking %d active links", report.RunID, len(targets))

	jobs := make(chan models.UserLink)
	var wg sync.WaitGroup
	var resultMu sync.Mutex

	workers := s.workers
	if workers > len(targets) {
		workers = len(targets)
	}

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for link := range jobs {
				candidate, err := s.evaluate(ctx, &link)

				resultMu.Lock()
				report.Scanned++
				if err != nil {
					// Per-identity failures never abort the pass.
					report.Failed++
					log.Printf("Scan %s: link %s skipped: %v", report.RunID, link.IdentityID, err)
				} else if candidate != nil {
					report.Candidates = append(report.Candidates, *candidate)
				}
				resultMu.Unlock()
			}
		}()
	}

	for _, link := range targets {
		jobs <- link
	}
	close(jobs)
	wg.Wait()

	// Workers finish in arbitrary order; identical passes must report
	// identical lists.
	sort.Slice(report.Candidates, func(i, j int) bool {
		return report.Candidates[i].IdentityID < report.Candidates[j].IdentityID
	})

	report.FinishedAt = s.now()
	log.Printf("Scan %s: done, %d candidates, %d failed, %s",
		report.RunID, len(report.Candidates), report.Failed, report.FinishedAt.Sub(report.StartedAt))

	if s.events != nil {
		if err := s.events.Broadcast("scan.completed", report); err != nil {
			log.Printf("Failed to broadcast scan report: %v", err)
		}
	}

	return report, nil
}

// evaluate applies the eligibility predicate to one link.
func (s *Scanner) evaluate(ctx context.Context, link *models.UserLink) (*Candidate, error) {
	found, err := s.source.FindOrders(ctx, link.Email, "any", 1, "created_at desc")
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, nil
	}

	order := found[0]
	if !Eligible(&order, s.now()) {
		return nil, nil
	}

	// At most one reminder per order.
	notified, err := s.store.HasReminder(link.IdentityID, order.OrderID())
	if err != nil {
		return nil, err
	}
	if notified {
		return nil, nil
	}

	rated, err := s.ratings.RatedProductNames(ctx, link.IdentityID)
	if err != nil {
		return nil, err
	}

	unrated := make([]string, 0)
	for _, title := range order.DistinctTitles() {
		if _, ok := rated[title]; !ok {
			unrated = append(unrated, title)
		}
	}
	if len(unrated) == 0 {
		return nil, nil
	}

	return &Candidate{
		IdentityID:    link.IdentityID,
		DisplayName:   link.Name(),
		Email:         link.Email,
		OrderID:       order.OrderID(),
		UnratedTitles: unrated,
	}, nil
}

// Eligible reports whether an order qualifies for a reminder at the given
// instant: paid, fulfilled, and strictly inside the age window.
func Eligible(order *orders.Order, now time.Time) bool {
	if order.FinancialStatus != orders.FinancialStatusPaid {
		return false
	}
	if order.FulfillmentStatus != orders.FulfillmentStatusFulfilled {
		return false
	}
	age := now.Sub(order.CreatedAt)
	return age > MinOrderAge && age < MaxOrderAge
}
