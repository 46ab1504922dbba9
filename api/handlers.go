/*
handlers.go - HTTP handler implementations

PURPOSE:
  Thin JSON layer over the core engines. Handlers decode and validate a
  request, resolve the tenant scope from headers, call exactly one core
  operation, and translate errors to status codes. No fee arithmetic or
  state-machine logic lives here.

SCOPE RESOLUTION:
  Tenant context is explicit on every request:
    X-Tenant-ID             required
    X-Collection-Account    tenant's settlement collection account
    X-Branch-Code           tenant's bank branch
    X-Track                 PRIMARY | SECONDARY | COMBINED (default COMBINED)
    X-Continue-A-Level      "true" promotes S4 into S5 instead of O-level exit

ERROR MAPPING:
  Validation / client errors -> 400
  Not found                  -> 404
  Duplicate record           -> 409
  Everything else            -> 500

SEE ALSO:
  - dto.go: request/response shapes
  - server.go: routing
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/brightpath/fee-engine/directory"
	"github.com/brightpath/fee-engine/ledger"
	"github.com/brightpath/fee-engine/payment"
	"github.com/brightpath/fee-engine/promotion"
	"github.com/brightpath/fee-engine/store/sqlite"
)

// Handler holds the dependencies for all HTTP handlers.
type Handler struct {
	Store     *sqlite.Store
	Processor *payment.Processor
	Engine    *promotion.Engine

	validate *validator.Validate
}

func NewHandler(store *sqlite.Store, processor *payment.Processor, engine *promotion.Engine) *Handler {
	return &Handler{
		Store:     store,
		Processor: processor,
		Engine:    engine,
		validate:  validator.New(),
	}
}

// scopeFromRequest builds the tenant scope from request headers.
func scopeFromRequest(r *http.Request) (ledger.Scope, error) {
	tenant := r.Header.Get("X-Tenant-ID")
	if tenant == "" {
		return ledger.Scope{}, errors.New("missing X-Tenant-ID header")
	}

	track := ledger.TrackType(r.Header.Get("X-Track"))
	switch track {
	case ledger.TrackPrimary, ledger.TrackSecondary, ledger.TrackCombined:
	case "":
		track = ledger.TrackCombined
	default:
		return ledger.Scope{}, errors.New("invalid X-Track header")
	}

	return ledger.Scope{
		Tenant:            ledger.TenantID(tenant),
		CollectionAccount: r.Header.Get("X-Collection-Account"),
		BranchCode:        r.Header.Get("X-Branch-Code"),
		Track:             track,
		ContinueToALevel:  r.Header.Get("X-Continue-A-Level") == "true",
	}, nil
}

// decodeAndValidate decodes the JSON body into dst and runs validator tags.
func (h *Handler) decodeAndValidate(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return err
	}
	return h.validate.Struct(dst)
}

// =============================================================================
// FEE RECORDS
// =============================================================================

// CreateFeeRecord creates one fee record directly (outside a promotion run).
func (h *Handler) CreateFeeRecord(w http.ResponseWriter, r *http.Request) {
	scope, err := scopeFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid scope", err)
		return
	}

	var req CreateFeeRecordRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request", err)
		return
	}

	rec, err := ledger.NewRecord(scope, ledger.StudentID(req.Student),
		ledger.AcademicYear(req.Year), ledger.Term(req.Term),
		ledger.Currency(req.Currency), req.Components.toComponents())
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid fee record", err)
		return
	}
	rec.ID = ledger.RecordID(uuid.NewString())

	if err := h.Store.CreateFeeRecord(r.Context(), rec); err != nil {
		if errors.Is(err, ledger.ErrDuplicateRecord) {
			writeError(w, http.StatusConflict, "fee record already exists", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to create fee record", err)
		return
	}

	h.audit(r, scope, req.Actor, ledger.AuditFeeAssigned, ledger.StudentID(req.Student), map[string]string{
		"record": string(rec.ID),
		"gross":  rec.Gross.String(),
	})
	writeJSON(w, http.StatusCreated, toFeeRecordDTO(rec))
}

// GetFeeRecord resolves a record by (student, year, term, currency) from
// query parameters.
func (h *Handler) GetFeeRecord(w http.ResponseWriter, r *http.Request) {
	scope, err := scopeFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid scope", err)
		return
	}

	student := r.URL.Query().Get("student")
	year, _ := strconv.Atoi(r.URL.Query().Get("year"))
	term, _ := strconv.Atoi(r.URL.Query().Get("term"))
	currency := r.URL.Query().Get("currency")
	if student == "" || year == 0 || term == 0 || currency == "" {
		writeError(w, http.StatusBadRequest, "student, year, term, and currency are required", nil)
		return
	}

	rec, err := h.Store.GetFeeRecord(r.Context(), scope.Tenant,
		ledger.StudentID(student), ledger.AcademicYear(year), ledger.Term(term), ledger.Currency(currency))
	if err != nil {
		h.writeCoreError(w, "failed to get fee record", err)
		return
	}
	writeJSON(w, http.StatusOK, toFeeRecordDTO(*rec))
}

// ListStudentFeeRecords returns every record for one student.
func (h *Handler) ListStudentFeeRecords(w http.ResponseWriter, r *http.Request) {
	scope, err := scopeFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid scope", err)
		return
	}

	student := chi.URLParam(r, "id")
	records, err := h.Store.ListFeeRecordsByStudent(r.Context(), scope.Tenant, ledger.StudentID(student))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list fee records", err)
		return
	}

	dtos := make([]FeeRecordDTO, 0, len(records))
	for _, rec := range records {
		dtos = append(dtos, toFeeRecordDTO(rec))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// SetFeeComponent updates one fee component on a record, recomputing the
// derived fields. Mid-term levy corrections come through here.
func (h *Handler) SetFeeComponent(w http.ResponseWriter, r *http.Request) {
	scope, err := scopeFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid scope", err)
		return
	}

	var req SetComponentRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request", err)
		return
	}

	rec, err := h.Store.GetFeeRecord(r.Context(), scope.Tenant,
		ledger.StudentID(req.Student), ledger.AcademicYear(req.Year),
		ledger.Term(req.Term), ledger.Currency(req.Currency))
	if err != nil {
		h.writeCoreError(w, "failed to get fee record", err)
		return
	}

	updated, err := ledger.SetComponent(*rec, ledger.ComponentKind(req.Kind), decimalOrZero(req.Amount))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid component", err)
		return
	}

	if err := h.Store.UpdateFeeRecord(r.Context(), updated); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update fee record", err)
		return
	}

	h.audit(r, scope, req.Actor, ledger.AuditFeeAssigned, updated.Student, map[string]string{
		"record": string(updated.ID),
		"kind":   req.Kind,
		"amount": req.Amount,
	})
	writeJSON(w, http.StatusOK, toFeeRecordDTO(updated))
}

// ApplyDiscount applies (or clears, with amount 0) one discount.
func (h *Handler) ApplyDiscount(w http.ResponseWriter, r *http.Request) {
	scope, err := scopeFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid scope", err)
		return
	}

	var req ApplyDiscountRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request", err)
		return
	}

	rec, err := h.Store.GetFeeRecord(r.Context(), scope.Tenant,
		ledger.StudentID(req.Student), ledger.AcademicYear(req.Year),
		ledger.Term(req.Term), ledger.Currency(req.Currency))
	if err != nil {
		h.writeCoreError(w, "failed to get fee record", err)
		return
	}

	updated, err := ledger.ApplyDiscount(*rec, ledger.DiscountKind(req.Kind), decimalOrZero(req.Amount))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid discount", err)
		return
	}

	if err := h.Store.UpdateFeeRecord(r.Context(), updated); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update fee record", err)
		return
	}

	h.audit(r, scope, req.Actor, ledger.AuditDiscountApplied, updated.Student, map[string]string{
		"record": string(updated.ID),
		"kind":   req.Kind,
		"amount": req.Amount,
	})
	writeJSON(w, http.StatusOK, toFeeRecordDTO(updated))
}

// DeactivateFeeRecord soft-deactivates a record.
func (h *Handler) DeactivateFeeRecord(w http.ResponseWriter, r *http.Request) {
	scope, err := scopeFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid scope", err)
		return
	}

	id := ledger.RecordID(chi.URLParam(r, "id"))
	if err := h.Store.DeactivateFeeRecord(r.Context(), scope.Tenant, id); err != nil {
		h.writeCoreError(w, "failed to deactivate fee record", err)
		return
	}

	h.audit(r, scope, r.URL.Query().Get("actor"), ledger.AuditRecordDeactivated, "", map[string]string{
		"record": string(id),
	})
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// PAYMENTS
// =============================================================================

// RecordPayment records one payment. School-channel payments return
// COMPLETED; bank-channel payments return the settlement result.
func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	scope, err := scopeFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid scope", err)
		return
	}

	var req RecordPaymentRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request", err)
		return
	}

	method, ok := payment.MethodByName(req.Method)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown payment method", nil)
		return
	}

	p, err := h.Processor.RecordPayment(r.Context(), scope, payment.RecordPaymentInput{
		Student:       ledger.StudentID(req.Student),
		Year:          ledger.AcademicYear(req.Year),
		Term:          ledger.Term(req.Term),
		Currency:      ledger.Currency(req.Currency),
		Amount:        decimalOrZero(req.Amount),
		Method:        method,
		SourceAccount: req.SourceAccount,
		ExternalRef:   req.ExternalRef,
		Actor:         req.Actor,
	})
	if err != nil {
		// A failed bank settlement still produced a payment row; return it
		// alongside the error status so the client can see FAILED + reason.
		if p != nil {
			writeJSON(w, http.StatusBadGateway, toPaymentDTO(*p))
			return
		}
		h.writeCoreError(w, "failed to record payment", err)
		return
	}
	writeJSON(w, http.StatusCreated, toPaymentDTO(*p))
}

// GetPayment retrieves one payment.
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	scope, err := scopeFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid scope", err)
		return
	}

	p, err := h.Store.GetPayment(r.Context(), scope.Tenant, payment.PaymentID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeCoreError(w, "failed to get payment", err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTO(*p))
}

// ListRecordPayments returns all payments against one fee record.
func (h *Handler) ListRecordPayments(w http.ResponseWriter, r *http.Request) {
	scope, err := scopeFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid scope", err)
		return
	}

	payments, err := h.Store.ListPaymentsByRecord(r.Context(), scope.Tenant, ledger.RecordID(chi.URLParam(r, "id")))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list payments", err)
		return
	}

	dtos := make([]PaymentDTO, 0, len(payments))
	for _, p := range payments {
		dtos = append(dtos, toPaymentDTO(p))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ReversePayment marks a completed payment REVERSED.
func (h *Handler) ReversePayment(w http.ResponseWriter, r *http.Request) {
	scope, err := scopeFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid scope", err)
		return
	}

	var req ReversePaymentRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request", err)
		return
	}

	p, err := h.Processor.ReversePayment(r.Context(), scope,
		payment.PaymentID(chi.URLParam(r, "id")), req.Reason, req.Actor)
	if err != nil {
		h.writeCoreError(w, "failed to reverse payment", err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTO(*p))
}

// =============================================================================
// PROMOTION
// =============================================================================

// RunPromotion executes a promotion run for the tenant.
func (h *Handler) RunPromotion(w http.ResponseWriter, r *http.Request) {
	scope, err := scopeFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid scope", err)
		return
	}

	var req RunPromotionRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request", err)
		return
	}

	exclude := make([]ledger.StudentID, 0, len(req.Exclude))
	for _, id := range req.Exclude {
		exclude = append(exclude, ledger.StudentID(id))
	}

	outcome, err := h.Engine.Execute(r.Context(), scope, promotion.RunInput{
		Year:                 ledger.AcademicYear(req.Year),
		Term:                 ledger.Term(req.Term),
		Currency:             ledger.Currency(req.Currency),
		CarryForwardBalances: req.CarryForward,
		Exclude:              exclude,
		Actor:                req.Actor,
	})
	if err != nil {
		h.writeCoreError(w, "promotion run failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toOutcomeDTO(*outcome))
}

// DemoteStudent reverts one student's promotion.
func (h *Handler) DemoteStudent(w http.ResponseWriter, r *http.Request) {
	scope, err := scopeFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid scope", err)
		return
	}

	var req DemoteStudentRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request", err)
		return
	}

	rec, err := h.Engine.Demote(r.Context(), scope, promotion.DemoteInput{
		Student:  ledger.StudentID(req.Student),
		ToGrade:  req.ToGrade,
		ToClass:  req.ToClass,
		Year:     ledger.AcademicYear(req.Year),
		Term:     ledger.Term(req.Term),
		Currency: ledger.Currency(req.Currency),
		Actor:    req.Actor,
	})
	if err != nil {
		h.writeCoreError(w, "failed to demote student", err)
		return
	}
	writeJSON(w, http.StatusOK, toFeeRecordDTO(*rec))
}

// ListPromotionRuns returns the tenant's run history, newest first.
func (h *Handler) ListPromotionRuns(w http.ResponseWriter, r *http.Request) {
	scope, err := scopeFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid scope", err)
		return
	}

	runs, err := h.Store.ListPromotionRuns(r.Context(), scope.Tenant)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list promotion runs", err)
		return
	}

	dtos := make([]RunDTO, 0, len(runs))
	for _, run := range runs {
		dtos = append(dtos, toRunDTO(run))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// FEE STRUCTURES & BULK ASSIGNMENT
// =============================================================================

// SaveFeeStructure creates or updates a grade-keyed fee template.
func (h *Handler) SaveFeeStructure(w http.ResponseWriter, r *http.Request) {
	scope, err := scopeFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid scope", err)
		return
	}

	var req SaveFeeStructureRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request", err)
		return
	}

	fs := promotion.FeeStructure{
		Tenant:     scope.Tenant,
		Grade:      req.Grade,
		Currency:   ledger.Currency(req.Currency),
		Components: req.Components.toComponents(),
	}
	if err := h.Store.SaveFeeStructure(r.Context(), fs); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save fee structure", err)
		return
	}
	writeJSON(w, http.StatusOK, fs)
}

// GetFeeStructure returns the structure for a grade and currency.
func (h *Handler) GetFeeStructure(w http.ResponseWriter, r *http.Request) {
	scope, err := scopeFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid scope", err)
		return
	}

	grade := r.URL.Query().Get("grade")
	currency := r.URL.Query().Get("currency")
	if currency == "" {
		writeError(w, http.StatusBadRequest, "currency is required", nil)
		return
	}

	fs, err := h.Store.GetFeeStructure(r.Context(), scope.Tenant, grade, ledger.Currency(currency))
	if err != nil {
		if errors.Is(err, promotion.ErrNoFeeStructure) {
			writeError(w, http.StatusNotFound, "no fee structure for grade", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get fee structure", err)
		return
	}
	writeJSON(w, http.StatusOK, fs)
}

// BulkAssignFees creates fee records for a list of students, pulling each
// student's components from the fee structure for their grade. Per-student
// failures are collected; the rest of the batch proceeds.
func (h *Handler) BulkAssignFees(w http.ResponseWriter, r *http.Request) {
	scope, err := scopeFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid scope", err)
		return
	}

	var req BulkAssignRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request", err)
		return
	}

	result := BulkAssignResultDTO{}
	for _, id := range req.Students {
		student := ledger.StudentID(id)

		fail := func(grade string, cause error) {
			result.Errors = append(result.Errors, StudentErrorDTO{
				Student: id,
				Grade:   grade,
				Message: cause.Error(),
			})
		}

		st, err := h.Store.GetStudent(r.Context(), scope.Tenant, student)
		if err != nil {
			fail("", err)
			continue
		}

		fs, err := h.Store.FeeStructureForGrade(r.Context(), scope.Tenant, st.Grade, ledger.Currency(req.Currency))
		if err != nil {
			fail(st.Grade, err)
			continue
		}

		rec, err := ledger.NewRecord(scope, student, ledger.AcademicYear(req.Year),
			ledger.Term(req.Term), ledger.Currency(req.Currency), fs.Components)
		if err != nil {
			fail(st.Grade, err)
			continue
		}
		rec.ID = ledger.RecordID(uuid.NewString())

		if err := h.Store.CreateFeeRecord(r.Context(), rec); err != nil {
			fail(st.Grade, err)
			continue
		}

		h.audit(r, scope, req.Actor, ledger.AuditFeeAssigned, student, map[string]string{
			"record": string(rec.ID),
			"gross":  rec.Gross.String(),
		})
		result.Created++
	}
	writeJSON(w, http.StatusOK, result)
}

// =============================================================================
// STUDENTS
// =============================================================================

// SaveStudent registers or updates a directory student.
func (h *Handler) SaveStudent(w http.ResponseWriter, r *http.Request) {
	scope, err := scopeFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid scope", err)
		return
	}

	var req SaveStudentRequest
	if err := h.decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request", err)
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	st := directory.Student{
		ID:            ledger.StudentID(req.ID),
		Tenant:        scope.Tenant,
		FullName:      req.FullName,
		Grade:         req.Grade,
		Class:         req.Class,
		Active:        active,
		ParentAccount: req.ParentAccount,
	}
	if err := h.Store.SaveStudent(r.Context(), st); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save student", err)
		return
	}
	writeJSON(w, http.StatusOK, toStudentDTO(st))
}

// GetStudent retrieves one student.
func (h *Handler) GetStudent(w http.ResponseWriter, r *http.Request) {
	scope, err := scopeFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid scope", err)
		return
	}

	st, err := h.Store.GetStudent(r.Context(), scope.Tenant, ledger.StudentID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeCoreError(w, "failed to get student", err)
		return
	}
	writeJSON(w, http.StatusOK, toStudentDTO(*st))
}

// ListStudents returns the tenant's active students.
func (h *Handler) ListStudents(w http.ResponseWriter, r *http.Request) {
	scope, err := scopeFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid scope", err)
		return
	}

	students, err := h.Store.ListActiveStudents(r.Context(), scope.Tenant)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list students", err)
		return
	}

	dtos := make([]StudentDTO, 0, len(students))
	for _, st := range students {
		dtos = append(dtos, toStudentDTO(st))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// RECONCILIATION & HEALTH
// =============================================================================

// ReconciliationReport returns the settled totals for one day, split by
// currency and channel. Day defaults to today; ?date=YYYY-MM-DD overrides.
func (h *Handler) ReconciliationReport(w http.ResponseWriter, r *http.Request) {
	scope, err := scopeFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid scope", err)
		return
	}

	day := time.Now().UTC()
	if d := r.URL.Query().Get("date"); d != "" {
		day, err = time.Parse("2006-01-02", d)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid date, expected YYYY-MM-DD", err)
			return
		}
	}

	totals, err := h.Store.SettledTotals(r.Context(), scope.Tenant, day)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to build reconciliation report", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"date":   day.Format("2006-01-02"),
		"totals": toSettledTotalDTOs(totals),
	})
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) audit(r *http.Request, scope ledger.Scope, actor string, action ledger.AuditAction, student ledger.StudentID, payload map[string]string) {
	_ = h.Store.AppendAudit(r.Context(), ledger.AuditEntry{
		ID:        uuid.NewString(),
		Tenant:    scope.Tenant,
		Actor:     actor,
		Action:    action,
		Student:   student,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	})
}

// writeCoreError maps core errors to HTTP statuses.
func (h *Handler) writeCoreError(w http.ResponseWriter, message string, err error) {
	switch {
	case ledger.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case errors.Is(err, ledger.ErrDuplicateRecord):
		writeError(w, http.StatusConflict, message, err)
	case ledger.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	case errors.Is(err, ledger.ErrSettlement), errors.Is(err, ledger.ErrAuthFailure):
		writeError(w, http.StatusBadGateway, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
