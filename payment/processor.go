/*
processor.go - Payment recording and reversal

PURPOSE:
  The Processor is the single entry point for recording payments. It resolves
  the target FeeRecord, validates currency and amount before any row is
  created, and routes by channel: school payments complete and hit the ledger
  in one store transaction; bank payments are persisted PENDING and handed to
  the settlement gateway synchronously.

CONCURRENCY:
  Mutations on a single FeeRecord are serialized with a per-record lock so
  two concurrent payments against the same record cannot lose an update on
  AmountPaid/Outstanding.

SEE ALSO:
  - types.go: Payment and the status transition table
  - settlement: the Gateway implementation for bank-channel payments
*/
package payment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/brightpath/fee-engine/ledger"
)

// =============================================================================
// COLLABORATOR INTERFACES
// =============================================================================

// Store is the persistence surface the processor needs.
type Store interface {
	// GetFeeRecord resolves the unique record for (student, year, term,
	// currency) within the tenant. Returns ledger.ErrRecordNotFound if absent.
	GetFeeRecord(ctx context.Context, tenant ledger.TenantID, student ledger.StudentID, year ledger.AcademicYear, term ledger.Term, currency ledger.Currency) (*ledger.FeeRecord, error)

	// ListFeeRecordsByStudent returns all of a student's fee records. The
	// processor uses it to tell a genuinely missing record apart from a
	// record billed in a different currency.
	ListFeeRecordsByStudent(ctx context.Context, tenant ledger.TenantID, student ledger.StudentID) ([]ledger.FeeRecord, error)

	GetPayment(ctx context.Context, tenant ledger.TenantID, id PaymentID) (*Payment, error)

	// CreatePayment persists a new payment row.
	CreatePayment(ctx context.Context, p Payment) error

	// FinalizePayment updates the payment and, when rec is non-nil, the fee
	// record in a single database transaction. This is the only path through
	// which a payment's ledger effect is persisted.
	FinalizePayment(ctx context.Context, p Payment, rec *ledger.FeeRecord) error

	AppendAudit(ctx context.Context, entry ledger.AuditEntry) error
}

// Gateway drives a PENDING bank-channel payment to a terminal state.
// Implemented by the settlement package.
type Gateway interface {
	Settle(ctx context.Context, scope ledger.Scope, p *Payment, rec ledger.FeeRecord) error
}

// Notifier dispatches payment notifications. The platform's dispatcher is
// not implemented yet; NopNotifier stands in.
type Notifier interface {
	PaymentCompleted(ctx context.Context, p Payment)
	PaymentFailed(ctx context.Context, p Payment)
}

type NopNotifier struct{}

func (NopNotifier) PaymentCompleted(ctx context.Context, p Payment) {}
func (NopNotifier) PaymentFailed(ctx context.Context, p Payment)    {}

// =============================================================================
// PROCESSOR
// =============================================================================

type Processor struct {
	store    Store
	gateway  Gateway
	notifier Notifier

	mu    sync.Mutex
	locks map[ledger.RecordID]*sync.Mutex
}

func NewProcessor(store Store, gateway Gateway, notifier Notifier) *Processor {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Processor{
		store:    store,
		gateway:  gateway,
		notifier: notifier,
		locks:    make(map[ledger.RecordID]*sync.Mutex),
	}
}

// recordLock returns the mutex serializing mutations on one fee record.
func (pr *Processor) recordLock(id ledger.RecordID) *sync.Mutex {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	l, ok := pr.locks[id]
	if !ok {
		l = &sync.Mutex{}
		pr.locks[id] = l
	}
	return l
}

// recordInOtherCurrency returns an active record for the same student, year,
// and term billed in a different currency, or nil if none exists.
func (pr *Processor) recordInOtherCurrency(ctx context.Context, tenant ledger.TenantID, input RecordPaymentInput) *ledger.FeeRecord {
	records, err := pr.store.ListFeeRecordsByStudent(ctx, tenant, input.Student)
	if err != nil {
		return nil
	}
	for i := range records {
		r := &records[i]
		if r.Active && r.Year == input.Year && r.Term == input.Term && r.Currency != input.Currency {
			return r
		}
	}
	return nil
}

// RecordPaymentInput carries everything needed to record one payment.
// Year, term, and currency are always explicit: a payment can never be
// applied against an unspecified or ambiguous term.
type RecordPaymentInput struct {
	Student       ledger.StudentID
	Year          ledger.AcademicYear
	Term          ledger.Term
	Currency      ledger.Currency
	Amount        decimal.Decimal
	Method        Method
	SourceAccount string
	ExternalRef   string
	Actor         string
}

// RecordPayment validates, creates the Payment, and routes by channel.
//
// SCHOOL channel: the payment is COMPLETED immediately and the ledger is
// applied in the same store transaction.
//
// BANK channel: the payment is persisted PENDING and handed to the gateway
// before returning; the ledger is NOT updated here. A gateway error leaves
// the payment FAILED and is returned to the caller alongside the payment.
func (pr *Processor) RecordPayment(ctx context.Context, scope ledger.Scope, input RecordPaymentInput) (*Payment, error) {
	// All validation happens before any row is created.
	rec, err := pr.store.GetFeeRecord(ctx, scope.Tenant, input.Student, input.Year, input.Term, input.Currency)
	if err != nil {
		// Records are keyed by currency, so a payment in the wrong currency
		// misses the lookup. Distinguish that from a missing record.
		if errors.Is(err, ledger.ErrRecordNotFound) {
			if other := pr.recordInOtherCurrency(ctx, scope.Tenant, input); other != nil {
				return nil, &ledger.CurrencyMismatchError{Record: other.ID, Want: other.Currency, Got: input.Currency}
			}
		}
		return nil, err
	}
	if !input.Amount.IsPositive() {
		return nil, &ledger.InvalidAmountError{Amount: input.Amount, Reason: "payment amount must be positive"}
	}
	if input.Method.Name == "" {
		return nil, &ledger.ValidationError{Field: "method", Message: "payment method required"}
	}
	if input.Method.RequiresExternalRef && input.ExternalRef == "" {
		return nil, &ledger.ValidationError{Field: "external_ref", Message: fmt.Sprintf("method %s requires an external reference", input.Method.Name)}
	}

	lock := pr.recordLock(rec.ID)
	lock.Lock()
	defer lock.Unlock()

	// Re-read under the lock; a concurrent payment may have moved the record.
	rec, err = pr.store.GetFeeRecord(ctx, scope.Tenant, input.Student, input.Year, input.Term, input.Currency)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	p := Payment{
		ID:            PaymentID(uuid.NewString()),
		Tenant:        scope.Tenant,
		Record:        rec.ID,
		Student:       input.Student,
		Amount:        input.Amount,
		Currency:      input.Currency,
		Method:        input.Method,
		Status:        StatusPending,
		SourceAccount: input.SourceAccount,
		ExternalRef:   input.ExternalRef,
		CorrelationID: uuid.NewString(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	switch input.Method.Channel {
	case ChannelSchool:
		if err := p.Transition(StatusCompleted); err != nil {
			return nil, err
		}
		updated, err := ledger.ApplyPayment(*rec, p.Amount)
		if err != nil {
			return nil, err
		}
		if err := pr.store.CreatePayment(ctx, p); err != nil {
			return nil, err
		}
		if err := pr.store.FinalizePayment(ctx, p, &updated); err != nil {
			return nil, err
		}
		pr.notifier.PaymentCompleted(ctx, p)

	case ChannelBank:
		if err := pr.store.CreatePayment(ctx, p); err != nil {
			return nil, err
		}
		if err := pr.gateway.Settle(ctx, scope, &p, *rec); err != nil {
			pr.notifier.PaymentFailed(ctx, p)
			pr.audit(ctx, scope, input.Actor, ledger.AuditPaymentRecorded, &p)
			return &p, err
		}
		pr.notifier.PaymentCompleted(ctx, p)

	default:
		return nil, &ledger.ValidationError{Field: "channel", Message: "unknown payment channel: " + string(input.Method.Channel)}
	}

	pr.audit(ctx, scope, input.Actor, ledger.AuditPaymentRecorded, &p)
	return &p, nil
}

// ReversePayment marks a COMPLETED payment REVERSED and records the reason
// and timestamp. Only legal on COMPLETED payments not already reversed.
//
// NOTE: reversal does NOT decrement the fee record's AmountPaid or
// Outstanding. This mirrors the observed production behavior, where reversed
// payments are reconciled manually against the ledger. Changing this is an
// explicit product decision, not a cleanup.
func (pr *Processor) ReversePayment(ctx context.Context, scope ledger.Scope, id PaymentID, reason, actor string) (*Payment, error) {
	p, err := pr.store.GetPayment(ctx, scope.Tenant, id)
	if err != nil {
		return nil, err
	}

	lock := pr.recordLock(p.Record)
	lock.Lock()
	defer lock.Unlock()

	if err := p.Transition(StatusReversed); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	p.ReversalReason = reason
	p.ReversedAt = &now
	p.UpdatedAt = now

	if err := pr.store.FinalizePayment(ctx, *p, nil); err != nil {
		return nil, err
	}
	pr.audit(ctx, scope, actor, ledger.AuditPaymentReversed, p)
	return p, nil
}

func (pr *Processor) audit(ctx context.Context, scope ledger.Scope, actor string, action ledger.AuditAction, p *Payment) {
	entry := ledger.AuditEntry{
		ID:      uuid.NewString(),
		Tenant:  scope.Tenant,
		Actor:   actor,
		Action:  action,
		Student: p.Student,
		Payload: map[string]string{
			"payment_id": string(p.ID),
			"amount":     p.Amount.String(),
			"currency":   string(p.Currency),
			"method":     p.Method.Name,
			"status":     string(p.Status),
		},
		CreatedAt: time.Now().UTC(),
	}
	// Audit failures never fail the payment; the sink is best-effort.
	_ = pr.store.AppendAudit(ctx, entry)
}
