/*
dto.go - Request/response types for the HTTP API

PURPOSE:
  Defines the JSON shapes exchanged with clients and the converters between
  them and the core types. Requests carry validator tags and are checked
  before any core call; monetary amounts travel as strings so clients never
  see float rounding.
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/brightpath/fee-engine/directory"
	"github.com/brightpath/fee-engine/ledger"
	"github.com/brightpath/fee-engine/payment"
	"github.com/brightpath/fee-engine/promotion"
	"github.com/brightpath/fee-engine/store/sqlite"
)

// ErrorResponse is the standard error shape.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// REQUESTS
// =============================================================================

// ComponentsRequest carries the five fee components as decimal strings.
type ComponentsRequest struct {
	Tuition  string `json:"tuition"`
	Boarding string `json:"boarding"`
	Levy     string `json:"levy"`
	Exam     string `json:"exam"`
	Other    string `json:"other"`
}

func (c ComponentsRequest) toComponents() ledger.Components {
	return ledger.Components{
		Tuition:  decimalOrZero(c.Tuition),
		Boarding: decimalOrZero(c.Boarding),
		Levy:     decimalOrZero(c.Levy),
		Exam:     decimalOrZero(c.Exam),
		Other:    decimalOrZero(c.Other),
	}
}

// CreateFeeRecordRequest creates one fee record directly.
type CreateFeeRecordRequest struct {
	Student    string            `json:"student" validate:"required"`
	Year       int               `json:"year" validate:"required,min=2000,max=2100"`
	Term       int               `json:"term" validate:"required,min=1,max=3"`
	Currency   string            `json:"currency" validate:"required,oneof=USD ZWG"`
	Components ComponentsRequest `json:"components"`
	Actor      string            `json:"actor"`
}

// SetComponentRequest updates one fee component on a record.
type SetComponentRequest struct {
	Student  string `json:"student" validate:"required"`
	Year     int    `json:"year" validate:"required,min=2000,max=2100"`
	Term     int    `json:"term" validate:"required,min=1,max=3"`
	Currency string `json:"currency" validate:"required,oneof=USD ZWG"`
	Kind     string `json:"kind" validate:"required,oneof=tuition boarding development_levy exam other"`
	Amount   string `json:"amount" validate:"required"`
	Actor    string `json:"actor"`
}

// ApplyDiscountRequest applies or clears one discount on a record.
type ApplyDiscountRequest struct {
	Student  string `json:"student" validate:"required"`
	Year     int    `json:"year" validate:"required,min=2000,max=2100"`
	Term     int    `json:"term" validate:"required,min=1,max=3"`
	Currency string `json:"currency" validate:"required,oneof=USD ZWG"`
	Kind     string `json:"kind" validate:"required,oneof=scholarship sibling early_payment"`
	Amount   string `json:"amount" validate:"required"`
	Actor    string `json:"actor"`
}

// RecordPaymentRequest records one payment against a fee record.
type RecordPaymentRequest struct {
	Student       string `json:"student" validate:"required"`
	Year          int    `json:"year" validate:"required,min=2000,max=2100"`
	Term          int    `json:"term" validate:"required,min=1,max=3"`
	Currency      string `json:"currency" validate:"required,oneof=USD ZWG"`
	Amount        string `json:"amount" validate:"required"`
	Method        string `json:"method" validate:"required"`
	SourceAccount string `json:"source_account"`
	ExternalRef   string `json:"external_ref"`
	Actor         string `json:"actor"`
}

// ReversePaymentRequest reverses a completed payment.
type ReversePaymentRequest struct {
	Reason string `json:"reason" validate:"required"`
	Actor  string `json:"actor"`
}

// RunPromotionRequest starts a promotion run.
type RunPromotionRequest struct {
	Year         int      `json:"year" validate:"required,min=2000,max=2100"`
	Term         int      `json:"term" validate:"required,min=1,max=3"`
	Currency     string   `json:"currency" validate:"required,oneof=USD ZWG"`
	CarryForward bool     `json:"carry_forward"`
	Exclude      []string `json:"exclude"`
	Actor        string   `json:"actor"`
}

// DemoteStudentRequest reverts one student's promotion.
type DemoteStudentRequest struct {
	Student  string `json:"student" validate:"required"`
	ToGrade  string `json:"to_grade"`
	ToClass  string `json:"to_class"`
	Year     int    `json:"year" validate:"required,min=2000,max=2100"`
	Term     int    `json:"term" validate:"required,min=1,max=3"`
	Currency string `json:"currency" validate:"required,oneof=USD ZWG"`
	Actor    string `json:"actor"`
}

// SaveFeeStructureRequest creates or updates a grade-keyed fee template.
// An empty grade marks the tenant default.
type SaveFeeStructureRequest struct {
	Grade      string            `json:"grade"`
	Currency   string            `json:"currency" validate:"required,oneof=USD ZWG"`
	Components ComponentsRequest `json:"components"`
}

// BulkAssignRequest creates fee records for a list of students from the
// tenant's fee structure for each student's grade.
type BulkAssignRequest struct {
	Students []string `json:"students" validate:"required,min=1"`
	Year     int      `json:"year" validate:"required,min=2000,max=2100"`
	Term     int      `json:"term" validate:"required,min=1,max=3"`
	Currency string   `json:"currency" validate:"required,oneof=USD ZWG"`
	Actor    string   `json:"actor"`
}

// SaveStudentRequest registers or updates a directory student.
type SaveStudentRequest struct {
	ID            string `json:"id" validate:"required"`
	FullName      string `json:"full_name" validate:"required"`
	Grade         string `json:"grade" validate:"required"`
	Class         string `json:"class"`
	Active        *bool  `json:"active"`
	ParentAccount string `json:"parent_account"`
}

// =============================================================================
// RESPONSES
// =============================================================================

// FeeRecordDTO is the client view of a fee record.
type FeeRecordDTO struct {
	ID       string `json:"id"`
	Student  string `json:"student"`
	Year     int    `json:"year"`
	Term     int    `json:"term"`
	Currency string `json:"currency"`

	Components map[string]string `json:"components"`
	Discounts  map[string]string `json:"discounts"`

	PreviousBalance string `json:"previous_balance"`
	AmountPaid      string `json:"amount_paid"`
	Gross           string `json:"gross"`
	Net             string `json:"net"`
	Outstanding     string `json:"outstanding"`
	Status          string `json:"status"`
	Active          bool   `json:"active"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toFeeRecordDTO(r ledger.FeeRecord) FeeRecordDTO {
	return FeeRecordDTO{
		ID:       string(r.ID),
		Student:  string(r.Student),
		Year:     int(r.Year),
		Term:     int(r.Term),
		Currency: string(r.Currency),
		Components: map[string]string{
			"tuition":  r.Components.Tuition.String(),
			"boarding": r.Components.Boarding.String(),
			"levy":     r.Components.Levy.String(),
			"exam":     r.Components.Exam.String(),
			"other":    r.Components.Other.String(),
		},
		Discounts: map[string]string{
			"scholarship":   r.Discounts.Scholarship.String(),
			"sibling":       r.Discounts.Sibling.String(),
			"early_payment": r.Discounts.EarlyPayment.String(),
		},
		PreviousBalance: r.PreviousBalance.String(),
		AmountPaid:      r.AmountPaid.String(),
		Gross:           r.Gross.String(),
		Net:             r.Net.String(),
		Outstanding:     r.Outstanding.String(),
		Status:          string(r.Status),
		Active:          r.Active,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

// PaymentDTO is the client view of a payment.
type PaymentDTO struct {
	ID             string     `json:"id"`
	Record         string     `json:"record"`
	Student        string     `json:"student"`
	Amount         string     `json:"amount"`
	Currency       string     `json:"currency"`
	Method         string     `json:"method"`
	Channel        string     `json:"channel"`
	Status         string     `json:"status"`
	ExternalRef    string     `json:"external_ref,omitempty"`
	SettlementRef  string     `json:"settlement_ref,omitempty"`
	FailureReason  string     `json:"failure_reason,omitempty"`
	ReversalReason string     `json:"reversal_reason,omitempty"`
	ReversedAt     *time.Time `json:"reversed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

func toPaymentDTO(p payment.Payment) PaymentDTO {
	return PaymentDTO{
		ID:             string(p.ID),
		Record:         string(p.Record),
		Student:        string(p.Student),
		Amount:         p.Amount.String(),
		Currency:       string(p.Currency),
		Method:         p.Method.Name,
		Channel:        string(p.Method.Channel),
		Status:         string(p.Status),
		ExternalRef:    p.ExternalRef,
		SettlementRef:  p.SettlementRef,
		FailureReason:  p.FailureReason,
		ReversalReason: p.ReversalReason,
		ReversedAt:     p.ReversedAt,
		CreatedAt:      p.CreatedAt,
	}
}

// OutcomeDTO summarizes one promotion run.
type OutcomeDTO struct {
	RunID     string            `json:"run_id"`
	Promoted  int               `json:"promoted"`
	Completed int               `json:"completed"`
	Errored   int               `json:"errored"`
	Errors    []StudentErrorDTO `json:"errors,omitempty"`
}

type StudentErrorDTO struct {
	Student string `json:"student"`
	Grade   string `json:"grade,omitempty"`
	Message string `json:"message"`
}

func toOutcomeDTO(o promotion.Outcome) OutcomeDTO {
	dto := OutcomeDTO{
		RunID:     o.RunID,
		Promoted:  o.Promoted,
		Completed: o.Completed,
		Errored:   o.Errored,
	}
	for _, e := range o.Errors {
		dto.Errors = append(dto.Errors, StudentErrorDTO{
			Student: string(e.Student),
			Grade:   e.Grade,
			Message: e.Message,
		})
	}
	return dto
}

// RunDTO is one promotion run history row.
type RunDTO struct {
	ID          string     `json:"id"`
	Year        int        `json:"year"`
	Term        int        `json:"term"`
	Currency    string     `json:"currency"`
	Status      string     `json:"status"`
	Promoted    int        `json:"promoted"`
	Completed   int        `json:"completed"`
	Errored     int        `json:"errored"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func toRunDTO(r promotion.Run) RunDTO {
	return RunDTO{
		ID:          r.ID,
		Year:        int(r.Year),
		Term:        int(r.Term),
		Currency:    string(r.Currency),
		Status:      r.Status,
		Promoted:    r.Promoted,
		Completed:   r.Completed,
		Errored:     r.Errored,
		Error:       r.Error,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
	}
}

// SettledTotalDTO is one line of the reconciliation report.
type SettledTotalDTO struct {
	Currency string `json:"currency"`
	Channel  string `json:"channel"`
	Count    int    `json:"count"`
	Total    string `json:"total"`
}

func toSettledTotalDTOs(totals []sqlite.SettledTotal) []SettledTotalDTO {
	dtos := make([]SettledTotalDTO, 0, len(totals))
	for _, t := range totals {
		dtos = append(dtos, SettledTotalDTO{
			Currency: string(t.Currency),
			Channel:  string(t.Channel),
			Count:    t.Count,
			Total:    t.Total.String(),
		})
	}
	return dtos
}

// StudentDTO is the client view of a directory student.
type StudentDTO struct {
	ID            string `json:"id"`
	FullName      string `json:"full_name"`
	Grade         string `json:"grade"`
	Class         string `json:"class,omitempty"`
	Active        bool   `json:"active"`
	Completion    string `json:"completion,omitempty"`
	ParentAccount string `json:"parent_account,omitempty"`
}

func toStudentDTO(s directory.Student) StudentDTO {
	return StudentDTO{
		ID:            string(s.ID),
		FullName:      s.FullName,
		Grade:         s.Grade,
		Class:         s.Class,
		Active:        s.Active,
		Completion:    string(s.Completion),
		ParentAccount: s.ParentAccount,
	}
}

// BulkAssignResultDTO reports bulk fee assignment per-student results.
type BulkAssignResultDTO struct {
	Created int               `json:"created"`
	Errors  []StudentErrorDTO `json:"errors,omitempty"`
}

// decimalOrZero parses a client decimal string, treating empty as zero.
func decimalOrZero(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	return ledger.MustParseDecimal(s)
}
