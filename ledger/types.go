/*
Package ledger provides the pure fee computation engine.

PURPOSE:
  This package contains the types and algorithms for a student's financial
  obligation for a term: fee components, discounts, carried-forward balance,
  payments received, and the derived gross/net/outstanding amounts with a
  payment-status classification. It performs no I/O.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: A decimal amount with a currency
  - FeeRecord: One per (tenant, student, year, term, currency)
  - ComponentKind / DiscountKind: The named inputs to the calculation
  - Scope: Explicit tenant context passed to every operation

DESIGN PRINCIPLES:
  1. Purity: Derived fields are always a function of the stored inputs
  2. Precision: Uses decimal.Decimal to avoid floating-point errors
  3. Explicit scope: Tenant identity is an argument, never ambient state

SEE ALSO:
  - ledger.go: Recompute and the mutating operations
  - errors.go: Error types shared across the engine
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CURRENCY & MONEY
// =============================================================================

// Currency is one of the two currencies the platform recognizes.
type Currency string

const (
	CurrencyUSD Currency = "USD"
	CurrencyZWG Currency = "ZWG"
)

// Recognized reports whether c is one of the supported currencies.
func (c Currency) Recognized() bool {
	return c == CurrencyUSD || c == CurrencyZWG
}

type Money struct {
	Value    decimal.Decimal
	Currency Currency
}

func NewMoney(value float64, currency Currency) Money {
	return Money{Value: decimal.NewFromFloat(value), Currency: currency}
}

func NewMoneyFromInt(value int, currency Currency) Money {
	return Money{Value: decimal.NewFromInt(int64(value)), Currency: currency}
}

func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func (m Money) Zero() Money              { return Money{Value: decimal.Zero, Currency: m.Currency} }
func (m Money) Add(b Money) Money        { return Money{Value: m.Value.Add(b.Value), Currency: m.Currency} }
func (m Money) Sub(b Money) Money        { return Money{Value: m.Value.Sub(b.Value), Currency: m.Currency} }
func (m Money) Neg() Money               { return Money{Value: m.Value.Neg(), Currency: m.Currency} }
func (m Money) IsNegative() bool         { return m.Value.IsNegative() }
func (m Money) IsZero() bool             { return m.Value.IsZero() }
func (m Money) IsPositive() bool         { return m.Value.IsPositive() }
func (m Money) GreaterThan(b Money) bool { return m.Value.GreaterThan(b.Value) }
func (m Money) LessThan(b Money) bool    { return m.Value.LessThan(b.Value) }

// =============================================================================
// IDENTIFIERS & SCOPE
// =============================================================================

type TenantID string
type StudentID string
type RecordID string

// Term is the academic term a FeeRecord belongs to. Exactly one of 1..3.
type Term int

// AcademicYear is the calendar year the term falls in, e.g. 2025.
type AcademicYear int

func (t Term) Valid() bool         { return t >= 1 && t <= 3 }
func (y AcademicYear) Valid() bool { return y >= 2000 && y <= 2100 }

// TrackType selects which grade progression table a tenant uses.
type TrackType string

const (
	TrackPrimary   TrackType = "PRIMARY"
	TrackSecondary TrackType = "SECONDARY"
	TrackCombined  TrackType = "COMBINED"
)

// Scope carries the tenant context for a single call chain. It replaces the
// call-stack-bound global the original system threaded tenant identity
// through; every ledger, payment, and promotion operation takes it explicitly.
type Scope struct {
	Tenant            TenantID
	CollectionAccount string
	BranchCode        string
	Track             TrackType
	ContinueToALevel  bool
}

// =============================================================================
// FEE COMPONENTS & DISCOUNTS
// =============================================================================

type ComponentKind string

const (
	ComponentTuition  ComponentKind = "tuition"
	ComponentBoarding ComponentKind = "boarding"
	ComponentLevy     ComponentKind = "development_levy"
	ComponentExam     ComponentKind = "exam"
	ComponentOther    ComponentKind = "other"
)

type DiscountKind string

const (
	DiscountScholarship  DiscountKind = "scholarship"
	DiscountSibling      DiscountKind = "sibling"
	DiscountEarlyPayment DiscountKind = "early_payment"
)

// Components holds the non-negative fee amounts charged for a term.
type Components struct {
	Tuition  decimal.Decimal
	Boarding decimal.Decimal
	Levy     decimal.Decimal
	Exam     decimal.Decimal
	Other    decimal.Decimal
}

func (c Components) Sum() decimal.Decimal {
	return c.Tuition.Add(c.Boarding).Add(c.Levy).Add(c.Exam).Add(c.Other)
}

// Discounts holds the reductions applied against the gross amount.
type Discounts struct {
	Scholarship  decimal.Decimal
	Sibling      decimal.Decimal
	EarlyPayment decimal.Decimal
}

func (d Discounts) Sum() decimal.Decimal {
	return d.Scholarship.Add(d.Sibling).Add(d.EarlyPayment)
}

// =============================================================================
// PAYMENT STATUS CLASSIFICATION
// =============================================================================

type RecordStatus string

const (
	StatusArrears       RecordStatus = "ARREARS"
	StatusPartiallyPaid RecordStatus = "PARTIALLY_PAID"
	StatusPaid          RecordStatus = "PAID"
)

// =============================================================================
// FEE RECORD
// =============================================================================

// FeeRecord is the per-student, per-term financial obligation. One exists per
// (tenant, student, year, term, currency).
//
// INVARIANTS (after every mutation, maintained by Recompute):
//   - Gross = Sum(Components)
//   - Net = Gross - Sum(Discounts)
//   - Outstanding = Net + PreviousBalance - AmountPaid
//
// Net and Outstanding are NOT clamped to zero: a discount larger than gross
// produces a negative net amount.
//
// Records are never physically deleted, only soft-deactivated.
type FeeRecord struct {
	ID       RecordID
	Tenant   TenantID
	Student  StudentID
	Year     AcademicYear
	Term     Term
	Currency Currency

	Components Components
	Discounts  Discounts

	// PreviousBalance is the outstanding amount carried forward from the
	// prior term/year (seeded by the promotion engine when configured).
	PreviousBalance decimal.Decimal

	// AmountPaid is cumulative. It only ever increases, and only when a
	// payment reaches COMPLETED.
	AmountPaid decimal.Decimal

	// Derived fields. Always refreshed via Recompute, never set directly.
	Gross       decimal.Decimal
	Net         decimal.Decimal
	Outstanding decimal.Decimal
	Status      RecordStatus

	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}
