/*
ledger.go - Derived-field computation and mutating operations

PURPOSE:
  Recompute is the single place derived fields are calculated. Every mutator
  (payment application, discount application, balance carry-forward) funnels
  through it, so no caller can leave a stale Gross/Net/Outstanding/Status in
  place after changing an input.

CRITICAL INVARIANTS:
  1. PURE: Recompute reads only the record it is given
  2. IDEMPOTENT: Recompute(Recompute(r)) == Recompute(r)
  3. NO CLAMPING: a discount larger than gross yields a negative net

SEE ALSO:
  - types.go: FeeRecord and the input types
  - errors.go: ErrInvalidAmount and friends
*/
package ledger

import "github.com/shopspring/decimal"

// Recompute recalculates Gross, Net, Outstanding, and Status from the
// record's current inputs and returns the updated record.
//
//	Gross       = Tuition + Boarding + Levy + Exam + Other
//	Net         = Gross - (Scholarship + Sibling + EarlyPayment)
//	Outstanding = Net + PreviousBalance - AmountPaid
//
// Classification:
//
//	Outstanding <= 0                  -> PAID
//	Outstanding > 0 && AmountPaid > 0 -> PARTIALLY_PAID
//	otherwise                         -> ARREARS
func Recompute(r FeeRecord) FeeRecord {
	r.Gross = r.Components.Sum()
	r.Net = r.Gross.Sub(r.Discounts.Sum())
	r.Outstanding = r.Net.Add(r.PreviousBalance).Sub(r.AmountPaid)

	switch {
	case r.Outstanding.LessThanOrEqual(decimal.Zero):
		r.Status = StatusPaid
	case r.AmountPaid.IsPositive():
		r.Status = StatusPartiallyPaid
	default:
		r.Status = StatusArrears
	}
	return r
}

// ApplyPayment increments AmountPaid by amount and recomputes.
// The amount must be strictly positive.
func ApplyPayment(r FeeRecord, amount decimal.Decimal) (FeeRecord, error) {
	if !amount.IsPositive() {
		return r, &InvalidAmountError{Amount: amount, Reason: "payment amount must be positive"}
	}
	r.AmountPaid = r.AmountPaid.Add(amount)
	return Recompute(r), nil
}

// ApplyDiscount sets the named discount field and recomputes.
// The amount must be non-negative; setting zero clears the discount.
func ApplyDiscount(r FeeRecord, kind DiscountKind, amount decimal.Decimal) (FeeRecord, error) {
	if amount.IsNegative() {
		return r, &InvalidAmountError{Amount: amount, Reason: "discount amount must not be negative"}
	}
	switch kind {
	case DiscountScholarship:
		r.Discounts.Scholarship = amount
	case DiscountSibling:
		r.Discounts.Sibling = amount
	case DiscountEarlyPayment:
		r.Discounts.EarlyPayment = amount
	default:
		return r, &ValidationError{Field: "discount_kind", Message: "unknown discount kind: " + string(kind)}
	}
	return Recompute(r), nil
}

// SetComponent sets the named fee component and recomputes.
// Components are non-negative monetary amounts.
func SetComponent(r FeeRecord, kind ComponentKind, amount decimal.Decimal) (FeeRecord, error) {
	if amount.IsNegative() {
		return r, &InvalidAmountError{Amount: amount, Reason: "fee component must not be negative"}
	}
	switch kind {
	case ComponentTuition:
		r.Components.Tuition = amount
	case ComponentBoarding:
		r.Components.Boarding = amount
	case ComponentLevy:
		r.Components.Levy = amount
	case ComponentExam:
		r.Components.Exam = amount
	case ComponentOther:
		r.Components.Other = amount
	default:
		return r, &ValidationError{Field: "component_kind", Message: "unknown component kind: " + string(kind)}
	}
	return Recompute(r), nil
}

// NewRecord builds a FeeRecord from its inputs with derived fields computed.
func NewRecord(scope Scope, student StudentID, year AcademicYear, term Term, currency Currency, components Components) (FeeRecord, error) {
	if !currency.Recognized() {
		return FeeRecord{}, &ValidationError{Field: "currency", Message: "unrecognized currency: " + string(currency)}
	}
	if !year.Valid() {
		return FeeRecord{}, &ValidationError{Field: "year", Message: "academic year out of range"}
	}
	if !term.Valid() {
		return FeeRecord{}, &ValidationError{Field: "term", Message: "term must be 1, 2, or 3"}
	}
	if student == "" {
		return FeeRecord{}, &ValidationError{Field: "student", Message: "student id required"}
	}
	r := FeeRecord{
		Tenant:     scope.Tenant,
		Student:    student,
		Year:       year,
		Term:       term,
		Currency:   currency,
		Components: components,
		Active:     true,
	}
	return Recompute(r), nil
}
