/*
Package payment records settlement attempts against fee records and enforces
the payment state machine.

PURPOSE:
  A Payment is one settlement attempt: amount, currency, channel, method,
  external references, and a status that moves one way only. School-channel
  payments complete immediately; bank-channel payments stay PENDING until the
  settlement gateway confirms or rejects them.

CRITICAL INVARIANTS:
  1. MONOTONIC: PENDING -> {COMPLETED, FAILED}; COMPLETED -> REVERSED.
     No other transition is legal.
  2. LEDGER COUPLING: a FeeRecord's AmountPaid is incremented if and only if
     a Payment reaches COMPLETED - never on PENDING or FAILED.
  3. IMMUTABLE WHEN TERMINAL: a REVERSED or FAILED payment only accepts
     annotation fields.

SEE ALSO:
  - processor.go: RecordPayment / ReversePayment
  - settlement: drives PENDING bank payments to a terminal state
*/
package payment

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/brightpath/fee-engine/ledger"
)

// =============================================================================
// STATUS - One-directional state machine
// =============================================================================

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusReversed  Status = "REVERSED"
)

// Terminal reports whether the status accepts no further settlement driving.
// COMPLETED is terminal for settlement purposes but still admits reversal.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusReversed
}

// CanTransitionTo enforces the one-directional transition table.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusCompleted || next == StatusFailed
	case StatusCompleted:
		return next == StatusReversed
	default:
		return false
	}
}

// =============================================================================
// CHANNEL & METHOD - Tagged variants with per-value metadata
// =============================================================================

type Channel string

const (
	ChannelSchool Channel = "SCHOOL"
	ChannelBank   Channel = "BANK"
)

// Method is a payment method with its associated metadata. Methods are a
// closed set of tagged values, not a bag of boolean helpers keyed off name.
type Method struct {
	Name                string
	DisplayName         string
	Channel             Channel
	RequiresExternalRef bool
}

var (
	MethodCash = Method{
		Name:        "cash",
		DisplayName: "Cash at school",
		Channel:     ChannelSchool,
	}
	MethodSchoolPOS = Method{
		Name:                "school_pos",
		DisplayName:         "Card at school POS",
		Channel:             ChannelSchool,
		RequiresExternalRef: true,
	}
	MethodBankTransfer = Method{
		Name:                "bank_transfer",
		DisplayName:         "Bank transfer",
		Channel:             ChannelBank,
		RequiresExternalRef: true,
	}
	MethodMobileBanking = Method{
		Name:                "mobile_banking",
		DisplayName:         "Mobile banking",
		Channel:             ChannelBank,
		RequiresExternalRef: true,
	}
)

var methodsByName = map[string]Method{
	MethodCash.Name:          MethodCash,
	MethodSchoolPOS.Name:     MethodSchoolPOS,
	MethodBankTransfer.Name:  MethodBankTransfer,
	MethodMobileBanking.Name: MethodMobileBanking,
}

// MethodByName resolves a method name to its tagged value.
func MethodByName(name string) (Method, bool) {
	m, ok := methodsByName[name]
	return m, ok
}

// =============================================================================
// PAYMENT
// =============================================================================

type PaymentID string

// Payment is one settlement attempt against a FeeRecord.
type Payment struct {
	ID       PaymentID
	Tenant   ledger.TenantID
	Record   ledger.RecordID
	Student  ledger.StudentID
	Amount   decimal.Decimal
	Currency ledger.Currency
	Method   Method
	Status   Status

	// SourceAccount is the payer's (parent's) debit account for bank-channel
	// payments.
	SourceAccount string

	// ExternalRef is the caller-supplied reference (receipt number, bank
	// slip). SettlementRef is assigned by the settlement system on success.
	ExternalRef   string
	SettlementRef string

	// CorrelationID ties the payment to its settlement narration.
	CorrelationID string

	// Annotation fields. Writable even after a terminal state.
	FailureReason  string
	ReversalReason string
	ReversedAt     *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Transition moves the payment to next, enforcing the transition table.
func (p *Payment) Transition(next Status) error {
	if !p.Status.CanTransitionTo(next) {
		if p.Status.Terminal() && next != StatusReversed {
			return ledger.ErrAlreadyFinalized
		}
		return ledger.ErrIllegalTransition
	}
	p.Status = next
	return nil
}
