/*
engine.go - Promotion runs and demotion

PURPOSE:
  A promotion run freezes the cohort (CohortSnapshot), then processes each
  snapshot entry independently: table lookup on the PRE-RUN grade, completion
  marker or grade update + new fee record, per-student error capture. The run
  as a whole is never rolled back on partial failure, but no single student
  sees a half-applied state.

SNAPSHOT CONSISTENCY:
  Progression decisions read the snapshot's grade, never the student's live
  grade. This is what prevents a student promoted earlier in the same run
  from being promoted a second time.

CANCELLATION:
  A run has no mid-run cancellation contract. Once started it runs to
  completion over the snapshot.

SEE ALSO:
  - progression.go: the per-track progression tables
  - feestructure.go: fee templates for the target grade
*/
package promotion

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/brightpath/fee-engine/directory"
	"github.com/brightpath/fee-engine/ledger"
)

// =============================================================================
// COLLABORATOR INTERFACES
// =============================================================================

// Store is the persistence surface the engine needs.
type Store interface {
	StructureStore

	// CreateFeeRecord persists a new record. Returns ledger.ErrDuplicateRecord
	// if one already exists for (tenant, student, year, term, currency).
	CreateFeeRecord(ctx context.Context, r ledger.FeeRecord) error

	// LatestOutstanding returns the outstanding balance of the student's most
	// recent active fee record in the currency, or zero if none exists.
	LatestOutstanding(ctx context.Context, tenant ledger.TenantID, student ledger.StudentID, currency ledger.Currency) (decimal.Decimal, error)

	SavePromotionRun(ctx context.Context, run Run) error

	// IsPromotionComplete reports whether a completed run already exists for
	// the tenant's target year and term. Used by the scheduler to skip.
	IsPromotionComplete(ctx context.Context, tenant ledger.TenantID, year ledger.AcademicYear, term ledger.Term) (bool, error)

	AppendAudit(ctx context.Context, entry ledger.AuditEntry) error
}

// StudentDirectory combines the read and write surfaces the engine uses.
type StudentDirectory interface {
	directory.Directory
	directory.Mutator
}

// =============================================================================
// SNAPSHOT & OUTCOME
// =============================================================================

// SnapshotEntry is one student's frozen pre-run state.
type SnapshotEntry struct {
	Student     ledger.StudentID
	Grade       string
	Class       string
	Outstanding decimal.Decimal
}

// CohortSnapshot is the immutable pre-run view of the cohort. It exists only
// for the duration of one run and is never persisted.
type CohortSnapshot struct {
	TakenAt time.Time
	Entries []SnapshotEntry
}

// StudentError is one per-student failure captured during a run.
type StudentError struct {
	Student ledger.StudentID
	Grade   string
	Message string
}

// Outcome is the run summary: counts plus the full error list.
type Outcome struct {
	RunID     string
	Promoted  int
	Completed int
	Errored   int
	Errors    []StudentError
}

// Run is the persisted record of one promotion run.
type Run struct {
	ID          string
	Tenant      ledger.TenantID
	Year        ledger.AcademicYear
	Term        ledger.Term
	Currency    ledger.Currency
	Status      string // "running", "completed", "failed"
	Promoted    int
	Completed   int
	Errored     int
	Error       string
	StartedAt   time.Time
	CompletedAt *time.Time
}

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	store Store
	dir   StudentDirectory
}

func NewEngine(store Store, dir StudentDirectory) *Engine {
	return &Engine{store: store, dir: dir}
}

// RunInput describes one promotion run. Year, term, and currency identify
// the fee records created for promoted students; a structurally invalid
// input fails the whole run up front.
type RunInput struct {
	Year     ledger.AcademicYear
	Term     ledger.Term
	Currency ledger.Currency

	// CarryForwardBalances seeds each new record's PreviousBalance with the
	// snapshot's pre-run outstanding.
	CarryForwardBalances bool

	// Exclude lists students who receive no grade change and no new record.
	Exclude []ledger.StudentID

	Actor string
}

func (in RunInput) validate() error {
	if !in.Year.Valid() {
		return &ledger.ValidationError{Field: "year", Message: "academic year out of range"}
	}
	if !in.Term.Valid() {
		return &ledger.ValidationError{Field: "term", Message: "term must be 1, 2, or 3"}
	}
	if !in.Currency.Recognized() {
		return &ledger.ValidationError{Field: "currency", Message: "unrecognized currency: " + string(in.Currency)}
	}
	return nil
}

// Snapshot builds the immutable pre-run view: every active, non-excluded
// student with their current grade and outstanding balance.
func (e *Engine) Snapshot(ctx context.Context, scope ledger.Scope, input RunInput) (*CohortSnapshot, error) {
	students, err := e.dir.ListActiveStudents(ctx, scope.Tenant)
	if err != nil {
		return nil, err
	}

	excluded := make(map[ledger.StudentID]bool, len(input.Exclude))
	for _, id := range input.Exclude {
		excluded[id] = true
	}

	snap := &CohortSnapshot{TakenAt: time.Now().UTC()}
	for _, s := range students {
		if excluded[s.ID] {
			continue
		}
		outstanding, err := e.store.LatestOutstanding(ctx, scope.Tenant, s.ID, input.Currency)
		if err != nil {
			return nil, err
		}
		snap.Entries = append(snap.Entries, SnapshotEntry{
			Student:     s.ID,
			Grade:       s.Grade,
			Class:       s.Class,
			Outstanding: outstanding,
		})
	}
	return snap, nil
}

// Execute performs a full promotion run: snapshot, per-student processing,
// and a persisted run record with the summary.
//
// Per-student failures are captured in the outcome and never abort the run.
// Only a structurally invalid input fails the operation up front.
func (e *Engine) Execute(ctx context.Context, scope ledger.Scope, input RunInput) (*Outcome, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}

	snap, err := e.Snapshot(ctx, scope, input)
	if err != nil {
		return nil, err
	}

	run := Run{
		ID:        uuid.NewString(),
		Tenant:    scope.Tenant,
		Year:      input.Year,
		Term:      input.Term,
		Currency:  input.Currency,
		Status:    "running",
		StartedAt: time.Now().UTC(),
	}
	if err := e.store.SavePromotionRun(ctx, run); err != nil {
		return nil, err
	}

	outcome := &Outcome{RunID: run.ID}
	for _, entry := range snap.Entries {
		if err := e.processEntry(ctx, scope, input, entry, outcome); err != nil {
			outcome.Errored++
			outcome.Errors = append(outcome.Errors, StudentError{
				Student: entry.Student,
				Grade:   entry.Grade,
				Message: err.Error(),
			})
		}
	}

	now := time.Now().UTC()
	run.Status = "completed"
	run.Promoted = outcome.Promoted
	run.Completed = outcome.Completed
	run.Errored = outcome.Errored
	run.CompletedAt = &now
	if err := e.store.SavePromotionRun(ctx, run); err != nil {
		return outcome, err
	}

	e.audit(ctx, scope, input.Actor, ledger.AuditPromotionRun, "", map[string]string{
		"run_id":    run.ID,
		"promoted":  fmt.Sprint(outcome.Promoted),
		"completed": fmt.Sprint(outcome.Completed),
		"errored":   fmt.Sprint(outcome.Errored),
	})

	log.Printf("[Promotion] run %s: %d promoted, %d completed, %d errored",
		run.ID, outcome.Promoted, outcome.Completed, outcome.Errored)
	return outcome, nil
}

// processEntry handles one snapshot entry. The progression lookup uses the
// entry's pre-run grade, never the student's live grade.
func (e *Engine) processEntry(ctx context.Context, scope ledger.Scope, input RunInput, entry SnapshotEntry, outcome *Outcome) error {
	step, ok := NextStep(scope.Track, entry.Grade, scope.ContinueToALevel)
	if !ok {
		return fmt.Errorf("grade %q has no progression entry for track %s", entry.Grade, scope.Track)
	}

	if step.Completes() {
		// Terminal level: completion marker, deactivate, no new record.
		if err := e.dir.SetStudentCompletion(ctx, scope.Tenant, entry.Student, step.Completion); err != nil {
			return err
		}
		if err := e.dir.SetStudentActive(ctx, scope.Tenant, entry.Student, false); err != nil {
			return err
		}
		outcome.Completed++
		return nil
	}

	fs, err := resolveStructure(ctx, e.store, scope.Tenant, step.NextGrade, input.Currency)
	if err != nil {
		if errors.Is(err, ErrNoFeeStructure) {
			return fmt.Errorf("grade %q: %w", step.NextGrade, err)
		}
		return err
	}

	rec, err := ledger.NewRecord(scope, entry.Student, input.Year, input.Term, input.Currency, fs.Components)
	if err != nil {
		return err
	}
	rec.ID = ledger.RecordID(uuid.NewString())
	if input.CarryForwardBalances {
		rec.PreviousBalance = entry.Outstanding
		rec = ledger.Recompute(rec)
	}

	// The record is created before the grade moves. A failure here, including
	// the duplicate from a re-run over the same (year, term), leaves the
	// student's grade exactly as the snapshot saw it.
	if err := e.store.CreateFeeRecord(ctx, rec); err != nil {
		return err
	}

	if err := e.dir.UpdateStudentGrade(ctx, scope.Tenant, entry.Student, step.NextGrade, entry.Class); err != nil {
		return err
	}

	outcome.Promoted++
	return nil
}

// =============================================================================
// DEMOTION
// =============================================================================

// DemoteInput describes the structural inverse of a promotion: a student who
// must repeat a grade after an incorrect or undesired promotion.
type DemoteInput struct {
	Student  ledger.StudentID
	ToGrade  string
	ToClass  string
	Year     ledger.AcademicYear
	Term     ledger.Term
	Currency ledger.Currency
	Actor    string
}

// Demote reverts the student's grade/class, clears any completion status,
// reactivates the student, and creates a fee record for the specified term.
func (e *Engine) Demote(ctx context.Context, scope ledger.Scope, input DemoteInput) (*ledger.FeeRecord, error) {
	if !input.Year.Valid() || !input.Term.Valid() {
		return nil, &ledger.ValidationError{Field: "year/term", Message: "year and term are required"}
	}
	if !input.Currency.Recognized() {
		return nil, &ledger.ValidationError{Field: "currency", Message: "unrecognized currency: " + string(input.Currency)}
	}

	s, err := e.dir.GetStudent(ctx, scope.Tenant, input.Student)
	if err != nil {
		return nil, err
	}

	toGrade := input.ToGrade
	if toGrade == "" {
		prev, ok := PreviousGrade(scope.Track, s.Grade)
		if !ok {
			return nil, &ledger.ValidationError{Field: "to_grade", Message: fmt.Sprintf("grade %q has no previous level; specify to_grade", s.Grade)}
		}
		toGrade = prev
	}
	toClass := input.ToClass
	if toClass == "" {
		toClass = s.Class
	}

	fs, err := resolveStructure(ctx, e.store, scope.Tenant, toGrade, input.Currency)
	if err != nil {
		return nil, err
	}
	rec, err := ledger.NewRecord(scope, input.Student, input.Year, input.Term, input.Currency, fs.Components)
	if err != nil {
		return nil, err
	}
	rec.ID = ledger.RecordID(uuid.NewString())

	// Same ordering as a promotion run: the record lands before the grade
	// moves, so a duplicate from a repeated demotion leaves the student as-is.
	if err := e.store.CreateFeeRecord(ctx, rec); err != nil {
		return nil, err
	}

	if err := e.dir.UpdateStudentGrade(ctx, scope.Tenant, input.Student, toGrade, toClass); err != nil {
		return nil, err
	}
	if err := e.dir.SetStudentCompletion(ctx, scope.Tenant, input.Student, directory.CompletionNone); err != nil {
		return nil, err
	}
	if err := e.dir.SetStudentActive(ctx, scope.Tenant, input.Student, true); err != nil {
		return nil, err
	}

	e.audit(ctx, scope, input.Actor, ledger.AuditStudentDemoted, input.Student, map[string]string{
		"to_grade": toGrade,
		"year":     fmt.Sprint(input.Year),
		"term":     fmt.Sprint(input.Term),
	})
	return &rec, nil
}

func (e *Engine) audit(ctx context.Context, scope ledger.Scope, actor string, action ledger.AuditAction, student ledger.StudentID, payload map[string]string) {
	_ = e.store.AppendAudit(ctx, ledger.AuditEntry{
		ID:        uuid.NewString(),
		Tenant:    scope.Tenant,
		Actor:     actor,
		Action:    action,
		Student:   student,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	})
}
