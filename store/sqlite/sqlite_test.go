package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightpath/fee-engine/directory"
	"github.com/brightpath/fee-engine/ledger"
	"github.com/brightpath/fee-engine/payment"
	"github.com/brightpath/fee-engine/promotion"
	"github.com/brightpath/fee-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func testRecord(id, student string) ledger.FeeRecord {
	rec, err := ledger.NewRecord(ledger.Scope{Tenant: "school-1"}, ledger.StudentID(student),
		2025, 1, ledger.CurrencyUSD, ledger.Components{Tuition: dec("500"), Levy: dec("50")})
	if err != nil {
		panic(err)
	}
	rec.ID = ledger.RecordID(id)
	return rec
}

func testPayment(id, record, student string, amount string, status payment.Status) payment.Payment {
	now := time.Now().UTC()
	return payment.Payment{
		ID:        payment.PaymentID(id),
		Tenant:    "school-1",
		Record:    ledger.RecordID(record),
		Student:   ledger.StudentID(student),
		Amount:    dec(amount),
		Currency:  ledger.CurrencyUSD,
		Method:    payment.MethodCash,
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// =============================================================================
// FEE RECORDS
// =============================================================================

func TestFeeRecord_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := testRecord("rec-1", "stu-1")
	rec.Discounts.Scholarship = dec("100")
	rec = ledger.Recompute(rec)
	require.NoError(t, store.CreateFeeRecord(ctx, rec))

	got, err := store.GetFeeRecord(ctx, "school-1", "stu-1", 2025, 1, ledger.CurrencyUSD)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.True(t, got.Gross.Equal(dec("550")))
	assert.True(t, got.Net.Equal(dec("450")))
	assert.True(t, got.Outstanding.Equal(dec("450")))
	assert.Equal(t, ledger.StatusArrears, got.Status)
	assert.True(t, got.Active)

	byID, err := store.GetFeeRecordByID(ctx, "school-1", "rec-1")
	require.NoError(t, err)
	assert.Equal(t, got.ID, byID.ID)
}

func TestFeeRecord_NotFound(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.GetFeeRecord(ctx, "school-1", "ghost", 2025, 1, ledger.CurrencyUSD)
	assert.ErrorIs(t, err, ledger.ErrRecordNotFound)

	var nfe *ledger.RecordNotFoundError
	assert.ErrorAs(t, err, &nfe)
	assert.Equal(t, ledger.StudentID("ghost"), nfe.Student)

	_, err = store.GetFeeRecordByID(ctx, "school-1", "nope")
	assert.ErrorIs(t, err, ledger.ErrRecordNotFound)
}

func TestFeeRecord_UniquePerStudentTermCurrency(t *testing.T) {
	// GIVEN: A record for (stu-1, 2025, term 1, USD)
	// WHEN: Inserting a second record for the same key
	// THEN: ErrDuplicateRecord; a different term or currency is fine

	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateFeeRecord(ctx, testRecord("rec-1", "stu-1")))

	dup := testRecord("rec-2", "stu-1")
	assert.ErrorIs(t, store.CreateFeeRecord(ctx, dup), ledger.ErrDuplicateRecord)

	term2 := testRecord("rec-3", "stu-1")
	term2.Term = 2
	assert.NoError(t, store.CreateFeeRecord(ctx, term2))

	zwg := testRecord("rec-4", "stu-1")
	zwg.Currency = ledger.CurrencyZWG
	assert.NoError(t, store.CreateFeeRecord(ctx, zwg))
}

func TestFeeRecord_TenantIsolation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateFeeRecord(ctx, testRecord("rec-1", "stu-1")))

	_, err := store.GetFeeRecord(ctx, "other-school", "stu-1", 2025, 1, ledger.CurrencyUSD)
	assert.ErrorIs(t, err, ledger.ErrRecordNotFound)

	// Same key under a different tenant is a distinct record, not a duplicate.
	other := testRecord("rec-2", "stu-1")
	other.Tenant = "other-school"
	assert.NoError(t, store.CreateFeeRecord(ctx, other))
}

func TestFeeRecord_UpdateRecomputesDerivedFields(t *testing.T) {
	// GIVEN: A stored record with stale derived fields on the struct
	// WHEN: UpdateFeeRecord runs
	// THEN: The stored row carries recomputed gross/net/outstanding/status

	store := newTestStore(t)
	ctx := context.Background()

	rec := testRecord("rec-1", "stu-1")
	require.NoError(t, store.CreateFeeRecord(ctx, rec))

	rec.AmountPaid = dec("550")
	rec.Gross = dec("9999") // stale on purpose
	require.NoError(t, store.UpdateFeeRecord(ctx, rec))

	got, err := store.GetFeeRecord(ctx, "school-1", "stu-1", 2025, 1, ledger.CurrencyUSD)
	require.NoError(t, err)
	assert.True(t, got.Gross.Equal(dec("550")), "derived fields are recomputed before write")
	assert.True(t, got.Outstanding.IsZero())
	assert.Equal(t, ledger.StatusPaid, got.Status)
}

func TestLatestOutstanding(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// No records: zero, not an error.
	out, err := store.LatestOutstanding(ctx, "school-1", "stu-1", ledger.CurrencyUSD)
	require.NoError(t, err)
	assert.True(t, out.IsZero())

	older := testRecord("rec-1", "stu-1")
	older.Year, older.Term = 2024, 3
	require.NoError(t, store.CreateFeeRecord(ctx, older))

	newer := testRecord("rec-2", "stu-1")
	newer.AmountPaid = dec("430")
	newer = ledger.Recompute(newer)
	require.NoError(t, store.CreateFeeRecord(ctx, newer))

	out, err = store.LatestOutstanding(ctx, "school-1", "stu-1", ledger.CurrencyUSD)
	require.NoError(t, err)
	assert.True(t, out.Equal(dec("120")), "most recent record wins, got %s", out)
}

func TestDeactivateFeeRecord(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateFeeRecord(ctx, testRecord("rec-1", "stu-1")))
	require.NoError(t, store.DeactivateFeeRecord(ctx, "school-1", "rec-1"))

	got, err := store.GetFeeRecordByID(ctx, "school-1", "rec-1")
	require.NoError(t, err)
	assert.False(t, got.Active)

	// Deactivated records no longer feed carry-forward.
	out, err := store.LatestOutstanding(ctx, "school-1", "stu-1", ledger.CurrencyUSD)
	require.NoError(t, err)
	assert.True(t, out.IsZero())

	assert.ErrorIs(t, store.DeactivateFeeRecord(ctx, "school-1", "ghost"), ledger.ErrRecordNotFound)
}

// =============================================================================
// PAYMENTS
// =============================================================================

func TestPayment_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	p := testPayment("pay-1", "rec-1", "stu-1", "200", payment.StatusPending)
	p.SourceAccount = "parent-acct"
	p.ExternalRef = "slip-1"
	p.CorrelationID = "corr-1"
	require.NoError(t, store.CreatePayment(ctx, p))

	got, err := store.GetPayment(ctx, "school-1", "pay-1")
	require.NoError(t, err)
	assert.Equal(t, payment.StatusPending, got.Status)
	assert.Equal(t, payment.MethodCash, got.Method, "method resolves back to its tagged value")
	assert.Equal(t, "slip-1", got.ExternalRef)
	assert.True(t, got.Amount.Equal(dec("200")))

	_, err = store.GetPayment(ctx, "school-1", "ghost")
	assert.ErrorIs(t, err, ledger.ErrPaymentNotFound)
}

func TestFinalizePayment_AtomicWithRecord(t *testing.T) {
	// GIVEN: A PENDING payment and its record
	// WHEN: FinalizePayment persists COMPLETED together with the moved record
	// THEN: Both changes are visible afterwards

	store := newTestStore(t)
	ctx := context.Background()

	rec := testRecord("rec-1", "stu-1")
	require.NoError(t, store.CreateFeeRecord(ctx, rec))
	p := testPayment("pay-1", "rec-1", "stu-1", "200", payment.StatusPending)
	require.NoError(t, store.CreatePayment(ctx, p))

	p.Status = payment.StatusCompleted
	p.SettlementRef = "CBS-1"
	updated, err := ledger.ApplyPayment(rec, dec("200"))
	require.NoError(t, err)

	require.NoError(t, store.FinalizePayment(ctx, p, &updated))

	gotP, err := store.GetPayment(ctx, "school-1", "pay-1")
	require.NoError(t, err)
	assert.Equal(t, payment.StatusCompleted, gotP.Status)
	assert.Equal(t, "CBS-1", gotP.SettlementRef)

	gotR, err := store.GetFeeRecordByID(ctx, "school-1", "rec-1")
	require.NoError(t, err)
	assert.True(t, gotR.AmountPaid.Equal(dec("200")))
}

func TestFinalizePayment_UnknownPayment(t *testing.T) {
	store := newTestStore(t)

	p := testPayment("ghost", "rec-1", "stu-1", "200", payment.StatusCompleted)
	err := store.FinalizePayment(context.Background(), p, nil)
	assert.ErrorIs(t, err, ledger.ErrPaymentNotFound)
}

func TestListPaymentsByRecord(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	p1 := testPayment("pay-1", "rec-1", "stu-1", "100", payment.StatusCompleted)
	p1.CreatedAt = time.Now().UTC().Add(-time.Hour)
	p2 := testPayment("pay-2", "rec-1", "stu-1", "50", payment.StatusPending)
	other := testPayment("pay-3", "rec-2", "stu-2", "70", payment.StatusCompleted)
	require.NoError(t, store.CreatePayment(ctx, p1))
	require.NoError(t, store.CreatePayment(ctx, p2))
	require.NoError(t, store.CreatePayment(ctx, other))

	payments, err := store.ListPaymentsByRecord(ctx, "school-1", "rec-1")
	require.NoError(t, err)
	require.Len(t, payments, 2)
	assert.Equal(t, payment.PaymentID("pay-1"), payments[0].ID, "chronological order")
}

func TestSettledTotals(t *testing.T) {
	// GIVEN: Completed payments across channels plus a pending one
	// WHEN: Building today's reconciliation report
	// THEN: Totals group by currency and channel; PENDING is excluded

	store := newTestStore(t)
	ctx := context.Background()

	cash1 := testPayment("pay-1", "rec-1", "stu-1", "100", payment.StatusCompleted)
	cash2 := testPayment("pay-2", "rec-2", "stu-2", "60", payment.StatusCompleted)
	bank := testPayment("pay-3", "rec-3", "stu-3", "200", payment.StatusCompleted)
	bank.Method = payment.MethodBankTransfer
	pending := testPayment("pay-4", "rec-4", "stu-4", "999", payment.StatusPending)

	for _, p := range []payment.Payment{cash1, cash2, bank, pending} {
		require.NoError(t, store.CreatePayment(ctx, p))
	}
	// FinalizePayment stamps updated_at with the settlement time; the three
	// completed rows land on today.
	for _, id := range []payment.PaymentID{"pay-1", "pay-2", "pay-3"} {
		p, err := store.GetPayment(ctx, "school-1", id)
		require.NoError(t, err)
		require.NoError(t, store.FinalizePayment(ctx, *p, nil))
	}

	totals, err := store.SettledTotals(ctx, "school-1", time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, totals, 2)

	byChannel := map[payment.Channel]sqlite.SettledTotal{}
	for _, tot := range totals {
		byChannel[tot.Channel] = tot
	}
	assert.Equal(t, 2, byChannel[payment.ChannelSchool].Count)
	assert.True(t, byChannel[payment.ChannelSchool].Total.Equal(dec("160")))
	assert.Equal(t, 1, byChannel[payment.ChannelBank].Count)
	assert.True(t, byChannel[payment.ChannelBank].Total.Equal(dec("200")))
}

// =============================================================================
// STUDENTS
// =============================================================================

func TestStudent_SaveAndMutate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	st := directory.Student{
		ID: "stu-1", Tenant: "school-1", FullName: "Tawanda M",
		Grade: "S1", Class: "A", Active: true, ParentAccount: "acct-9",
	}
	require.NoError(t, store.SaveStudent(ctx, st))

	got, err := store.GetStudent(ctx, "school-1", "stu-1")
	require.NoError(t, err)
	assert.Equal(t, "S1", got.Grade)
	assert.Equal(t, "acct-9", got.ParentAccount)

	require.NoError(t, store.UpdateStudentGrade(ctx, "school-1", "stu-1", "S2", "B"))
	require.NoError(t, store.SetStudentCompletion(ctx, "school-1", "stu-1", directory.CompletionOLevel))
	require.NoError(t, store.SetStudentActive(ctx, "school-1", "stu-1", false))

	got, err = store.GetStudent(ctx, "school-1", "stu-1")
	require.NoError(t, err)
	assert.Equal(t, "S2", got.Grade)
	assert.Equal(t, "B", got.Class)
	assert.Equal(t, directory.CompletionOLevel, got.Completion)
	assert.False(t, got.Active)

	assert.ErrorIs(t, store.UpdateStudentGrade(ctx, "school-1", "ghost", "S2", ""), ledger.ErrStudentNotFound)
	_, err = store.GetStudent(ctx, "school-1", "ghost")
	assert.ErrorIs(t, err, ledger.ErrStudentNotFound)
}

func TestListActiveStudents_OrderedAndFiltered(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, st := range []directory.Student{
		{ID: "stu-2", Tenant: "school-1", FullName: "B", Grade: "S1", Active: true},
		{ID: "stu-1", Tenant: "school-1", FullName: "A", Grade: "S1", Active: true},
		{ID: "stu-3", Tenant: "school-1", FullName: "C", Grade: "S1", Active: false},
		{ID: "stu-4", Tenant: "other", FullName: "D", Grade: "S1", Active: true},
	} {
		require.NoError(t, store.SaveStudent(ctx, st))
	}

	students, err := store.ListActiveStudents(ctx, "school-1")
	require.NoError(t, err)
	require.Len(t, students, 2)
	assert.Equal(t, ledger.StudentID("stu-1"), students[0].ID, "deterministic order by ID")
	assert.Equal(t, ledger.StudentID("stu-2"), students[1].ID)
}

// =============================================================================
// FEE STRUCTURES
// =============================================================================

func TestFeeStructure_UpsertAndFallback(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.GetFeeStructure(ctx, "school-1", "S2", ledger.CurrencyUSD)
	assert.ErrorIs(t, err, promotion.ErrNoFeeStructure)

	require.NoError(t, store.SaveFeeStructure(ctx, promotion.FeeStructure{
		Tenant: "school-1", Grade: "", Currency: ledger.CurrencyUSD,
		Components: ledger.Components{Tuition: dec("300")},
	}))
	require.NoError(t, store.SaveFeeStructure(ctx, promotion.FeeStructure{
		Tenant: "school-1", Grade: "S2", Currency: ledger.CurrencyUSD,
		Components: ledger.Components{Tuition: dec("400")},
	}))

	// Grade-specific wins.
	fs, err := store.FeeStructureForGrade(ctx, "school-1", "S2", ledger.CurrencyUSD)
	require.NoError(t, err)
	assert.True(t, fs.Components.Tuition.Equal(dec("400")))

	// Uncovered grade falls back to the default.
	fs, err = store.FeeStructureForGrade(ctx, "school-1", "S5", ledger.CurrencyUSD)
	require.NoError(t, err)
	assert.True(t, fs.Components.Tuition.Equal(dec("300")))

	// Upsert replaces in place.
	require.NoError(t, store.SaveFeeStructure(ctx, promotion.FeeStructure{
		Tenant: "school-1", Grade: "S2", Currency: ledger.CurrencyUSD,
		Components: ledger.Components{Tuition: dec("420")},
	}))
	fs, err = store.GetFeeStructure(ctx, "school-1", "S2", ledger.CurrencyUSD)
	require.NoError(t, err)
	assert.True(t, fs.Components.Tuition.Equal(dec("420")))
}

// =============================================================================
// AUDIT LOG
// =============================================================================

func TestAudit_AppendAndList(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i, action := range []ledger.AuditAction{ledger.AuditFeeAssigned, ledger.AuditPaymentRecorded} {
		require.NoError(t, store.AppendAudit(ctx, ledger.AuditEntry{
			ID:        "audit-" + string(rune('a'+i)),
			Tenant:    "school-1",
			Actor:     "bursar",
			Action:    action,
			Student:   "stu-1",
			Payload:   map[string]string{"n": "1"},
			CreatedAt: time.Now().UTC().Add(time.Duration(i) * time.Second),
		}))
	}

	entries, err := store.ListAudit(ctx, "school-1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, ledger.AuditPaymentRecorded, entries[0].Action, "newest first")
	assert.Equal(t, "1", entries[0].Payload["n"])
}
