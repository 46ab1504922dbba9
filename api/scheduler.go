/*
scheduler.go - Automated year-end promotion scheduler

PURPOSE:
  Runs the promotion engine automatically when the academic year ends.
  A daily cron job compares today against the configured end-of-year date;
  on a match it executes one promotion run per served tenant, targeting the
  next calendar year's first term.

DESIGN:
  - robfig/cron drives the daily check (midnight UTC)
  - Skips tenants whose target year/term already has a completed run
  - A failed tenant run is logged and does not stop the remaining tenants

USAGE:
  scheduler := NewPromotionScheduler(store, engine, scopes, cfg)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: RunPromotion endpoint (manual runs)
  - promotion/engine.go: the run itself
*/
package api

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/brightpath/fee-engine/config"
	"github.com/brightpath/fee-engine/ledger"
	"github.com/brightpath/fee-engine/promotion"
	"github.com/brightpath/fee-engine/store/sqlite"
)

// PromotionScheduler triggers year-end promotion runs.
type PromotionScheduler struct {
	Store  *sqlite.Store
	Engine *promotion.Engine

	// Scopes lists the tenants this deployment serves.
	Scopes []ledger.Scope

	// EndOfYear is "MM-DD"; the daily check fires a run on that date.
	EndOfYear    string
	CarryForward bool

	// Currency is the billing currency new records are created in. A run
	// changes grades, so exactly one currency per tenant per year-end.
	Currency ledger.Currency

	cron *cron.Cron
}

// NewPromotionScheduler creates a scheduler from the runtime config.
func NewPromotionScheduler(store *sqlite.Store, engine *promotion.Engine, scopes []ledger.Scope, cfg config.Config) *PromotionScheduler {
	return &PromotionScheduler{
		Store:        store,
		Engine:       engine,
		Scopes:       scopes,
		EndOfYear:    cfg.EndOfYearDate,
		CarryForward: cfg.CarryForwardBalances,
		Currency:     ledger.Currency(cfg.BillingCurrency),
		cron:         cron.New(cron.WithLocation(time.UTC)),
	}
}

// Start registers the daily check and begins the cron loop.
func (ps *PromotionScheduler) Start() {
	if _, err := ps.cron.AddFunc("0 0 * * *", ps.checkAndRun); err != nil {
		log.Printf("[Scheduler] Failed to register daily check: %v", err)
		return
	}
	ps.cron.Start()
	log.Printf("[Scheduler] Started, end-of-year date %s, %d tenant(s)", ps.EndOfYear, len(ps.Scopes))
}

// Stop halts the cron loop, waiting for a running job to finish.
func (ps *PromotionScheduler) Stop() {
	<-ps.cron.Stop().Done()
	log.Println("[Scheduler] Stopped")
}

// RunNow triggers an immediate check (for testing/admin).
func (ps *PromotionScheduler) RunNow() {
	ps.checkAndRun()
}

func (ps *PromotionScheduler) checkAndRun() {
	now := time.Now().UTC()
	if now.Format("01-02") != ps.EndOfYear {
		return
	}

	// Promotion targets the next calendar year's first term.
	targetYear := ledger.AcademicYear(now.Year() + 1)
	targetTerm := ledger.Term(1)

	ctx := context.Background()
	for _, scope := range ps.Scopes {
		done, err := ps.Store.IsPromotionComplete(ctx, scope.Tenant, targetYear, targetTerm)
		if err != nil {
			log.Printf("[Scheduler] Error checking promotion status for %s: %v", scope.Tenant, err)
			continue
		}
		if done {
			log.Printf("[Scheduler] Promotion already complete for %s %d term %d, skipping", scope.Tenant, targetYear, targetTerm)
			continue
		}

		outcome, err := ps.Engine.Execute(ctx, scope, promotion.RunInput{
			Year:                 targetYear,
			Term:                 targetTerm,
			Currency:             ps.Currency,
			CarryForwardBalances: ps.CarryForward,
			Actor:                "scheduler",
		})
		if err != nil {
			log.Printf("[Scheduler] Promotion run failed for %s: %v", scope.Tenant, err)
			continue
		}
		log.Printf("[Scheduler] Promotion run for %s: %d promoted, %d completed, %d errored",
			scope.Tenant, outcome.Promoted, outcome.Completed, outcome.Errored)
	}
}
