/*
errors.go - Centralized error types for the fee engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Domain packages (payment, settlement, promotion) wrap these with
  additional context.

ERROR CATEGORIES:
  1. Validation errors - malformed input, rejected before any state changes
  2. Not-found errors - unknown student/record/tenant
  3. Settlement errors - external gateway failures
  4. Conflict errors - duplicate records, terminal-state violations

USAGE:
  Callers classify with errors.Is():

    if errors.Is(err, ledger.ErrCurrencyMismatch) {
        // reject before creating any payment row
    }
*/
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidAmount is returned for non-positive payments or negative
	// discounts/components. No state is mutated.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrRecordNotFound is returned when no FeeRecord exists for the
	// requested (student, year, term, currency).
	ErrRecordNotFound = errors.New("fee record not found")

	// ErrStudentNotFound is returned when the directory has no such student.
	ErrStudentNotFound = errors.New("student not found")

	// ErrPaymentNotFound is returned when a referenced payment doesn't exist.
	ErrPaymentNotFound = errors.New("payment not found")

	// ErrCurrencyMismatch is returned when a payment's currency differs from
	// its target record's currency. Surfaced before any Payment row exists.
	ErrCurrencyMismatch = errors.New("currency mismatch")

	// ErrDuplicateRecord is returned when creating a FeeRecord that would
	// violate uniqueness on (tenant, student, year, term, currency).
	ErrDuplicateRecord = errors.New("duplicate fee record")

	// ErrAuthFailure is returned when the settlement system rejects the
	// credential exchange or returns an empty token.
	ErrAuthFailure = errors.New("settlement authentication failed")

	// ErrSettlement is returned when the settlement system declines or the
	// round-trip fails. The linked payment transitions to FAILED.
	ErrSettlement = errors.New("settlement failed")

	// ErrAlreadyFinalized rejects settlement attempts on a payment that has
	// already reached a terminal state.
	ErrAlreadyFinalized = errors.New("payment already finalized")

	// ErrIllegalTransition is returned for any payment status change outside
	// PENDING->{COMPLETED,FAILED} and COMPLETED->REVERSED.
	ErrIllegalTransition = errors.New("illegal payment status transition")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError reports malformed input. Nothing was mutated.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
}

// InvalidAmountError carries the offending amount.
type InvalidAmountError struct {
	Amount decimal.Decimal
	Reason string
}

func (e *InvalidAmountError) Error() string {
	return fmt.Sprintf("invalid amount %s: %s", e.Amount, e.Reason)
}

func (e *InvalidAmountError) Unwrap() error { return ErrInvalidAmount }

// CurrencyMismatchError carries both sides of a rejected currency pair.
type CurrencyMismatchError struct {
	Record RecordID
	Want   Currency
	Got    Currency
}

func (e *CurrencyMismatchError) Error() string {
	return fmt.Sprintf("currency mismatch on record %s: record is %s, payment is %s", e.Record, e.Want, e.Got)
}

func (e *CurrencyMismatchError) Unwrap() error { return ErrCurrencyMismatch }

// RecordNotFoundError identifies the lookup that failed.
type RecordNotFoundError struct {
	Student  StudentID
	Year     AcademicYear
	Term     Term
	Currency Currency
}

func (e *RecordNotFoundError) Error() string {
	return fmt.Sprintf("no fee record for student %s year %d term %d currency %s",
		e.Student, e.Year, e.Term, e.Currency)
}

func (e *RecordNotFoundError) Unwrap() error { return ErrRecordNotFound }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	var ve *ValidationError
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrCurrencyMismatch) ||
		errors.Is(err, ErrDuplicateRecord) ||
		errors.Is(err, ErrIllegalTransition) ||
		errors.Is(err, ErrAlreadyFinalized) ||
		errors.As(err, &ve)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRecordNotFound) ||
		errors.Is(err, ErrStudentNotFound) ||
		errors.Is(err, ErrPaymentNotFound)
}
