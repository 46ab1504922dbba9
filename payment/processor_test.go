package payment_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightpath/fee-engine/ledger"
	"github.com/brightpath/fee-engine/payment"
	"github.com/brightpath/fee-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func testScope() ledger.Scope {
	return ledger.Scope{
		Tenant:            "school-1",
		CollectionAccount: "100200300",
		BranchCode:        "HRE01",
		Track:             ledger.TrackCombined,
	}
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// stubGateway lets bank-channel tests control the settlement outcome.
type stubGateway struct {
	settle func(ctx context.Context, scope ledger.Scope, p *payment.Payment, rec ledger.FeeRecord) error
	calls  int
}

func (g *stubGateway) Settle(ctx context.Context, scope ledger.Scope, p *payment.Payment, rec ledger.FeeRecord) error {
	g.calls++
	if g.settle != nil {
		return g.settle(ctx, scope, p, rec)
	}
	return nil
}

func newTestProcessor(t *testing.T, gw payment.Gateway) (*payment.Processor, *sqlite.Store) {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return payment.NewProcessor(store, gw, nil), store
}

// seedRecord creates a fee record owing 725 USD (875 gross, 150 discounts).
func seedRecord(t *testing.T, store *sqlite.Store, student string) ledger.FeeRecord {
	scope := testScope()
	rec, err := ledger.NewRecord(scope, ledger.StudentID(student), 2025, 1, ledger.CurrencyUSD, ledger.Components{
		Tuition:  dec("500"),
		Boarding: dec("300"),
		Levy:     dec("50"),
		Exam:     dec("25"),
	})
	require.NoError(t, err)
	rec.ID = ledger.RecordID("rec-" + student)
	rec.Discounts = ledger.Discounts{Scholarship: dec("100"), Sibling: dec("50")}
	rec = ledger.Recompute(rec)

	require.NoError(t, store.CreateFeeRecord(context.Background(), rec))
	return rec
}

// =============================================================================
// SCHOOL CHANNEL
// =============================================================================

func TestRecordPayment_SchoolChannel_CompletesImmediately(t *testing.T) {
	// GIVEN: A record owing 725 USD
	// WHEN: A cash payment of 725 is recorded
	// THEN: The payment is COMPLETED and the record is PAID with outstanding 0

	gw := &stubGateway{}
	processor, store := newTestProcessor(t, gw)
	ctx := context.Background()
	seedRecord(t, store, "stu-1")

	p, err := processor.RecordPayment(ctx, testScope(), payment.RecordPaymentInput{
		Student:  "stu-1",
		Year:     2025,
		Term:     1,
		Currency: ledger.CurrencyUSD,
		Amount:   dec("725"),
		Method:   payment.MethodCash,
		Actor:    "bursar",
	})
	require.NoError(t, err)
	assert.Equal(t, payment.StatusCompleted, p.Status)
	assert.Equal(t, 0, gw.calls, "school channel must not touch the gateway")

	rec, err := store.GetFeeRecord(ctx, "school-1", "stu-1", 2025, 1, ledger.CurrencyUSD)
	require.NoError(t, err)
	assert.True(t, rec.Outstanding.IsZero(), "outstanding should be zero, got %s", rec.Outstanding)
	assert.Equal(t, ledger.StatusPaid, rec.Status)
	assert.True(t, rec.AmountPaid.Equal(dec("725")))
}

func TestRecordPayment_PartialPayment_PartiallyPaid(t *testing.T) {
	// GIVEN: A record owing 725 USD
	// WHEN: A cash payment of 300 is recorded
	// THEN: Outstanding drops to 425 and the record is PARTIALLY_PAID

	processor, store := newTestProcessor(t, &stubGateway{})
	ctx := context.Background()
	seedRecord(t, store, "stu-1")

	_, err := processor.RecordPayment(ctx, testScope(), payment.RecordPaymentInput{
		Student:  "stu-1",
		Year:     2025,
		Term:     1,
		Currency: ledger.CurrencyUSD,
		Amount:   dec("300"),
		Method:   payment.MethodCash,
	})
	require.NoError(t, err)

	rec, err := store.GetFeeRecord(ctx, "school-1", "stu-1", 2025, 1, ledger.CurrencyUSD)
	require.NoError(t, err)
	assert.True(t, rec.Outstanding.Equal(dec("425")))
	assert.Equal(t, ledger.StatusPartiallyPaid, rec.Status)
}

func TestRecordPayment_TwoPayments_CumulativeLedgerEffect(t *testing.T) {
	// GIVEN: A record owing 725 USD
	// WHEN: Two cash payments of 300 and 425 are recorded
	// THEN: AmountPaid accumulates to 725 and the record becomes PAID

	processor, store := newTestProcessor(t, &stubGateway{})
	ctx := context.Background()
	seedRecord(t, store, "stu-1")
	scope := testScope()

	for _, amount := range []string{"300", "425"} {
		_, err := processor.RecordPayment(ctx, scope, payment.RecordPaymentInput{
			Student:  "stu-1",
			Year:     2025,
			Term:     1,
			Currency: ledger.CurrencyUSD,
			Amount:   dec(amount),
			Method:   payment.MethodCash,
		})
		require.NoError(t, err)
	}

	rec, err := store.GetFeeRecord(ctx, "school-1", "stu-1", 2025, 1, ledger.CurrencyUSD)
	require.NoError(t, err)
	assert.True(t, rec.AmountPaid.Equal(dec("725")))
	assert.Equal(t, ledger.StatusPaid, rec.Status)
}

// =============================================================================
// VALIDATION - no rows created on rejection
// =============================================================================

func TestRecordPayment_NonPositiveAmount_Rejected(t *testing.T) {
	// GIVEN: A valid fee record
	// WHEN: Recording a zero and a negative payment
	// THEN: Both are rejected with ErrInvalidAmount and no payment row exists

	processor, store := newTestProcessor(t, &stubGateway{})
	ctx := context.Background()
	rec := seedRecord(t, store, "stu-1")

	for _, amount := range []string{"0", "-50"} {
		_, err := processor.RecordPayment(ctx, testScope(), payment.RecordPaymentInput{
			Student:  "stu-1",
			Year:     2025,
			Term:     1,
			Currency: ledger.CurrencyUSD,
			Amount:   dec(amount),
			Method:   payment.MethodCash,
		})
		assert.ErrorIs(t, err, ledger.ErrInvalidAmount)
	}

	payments, err := store.ListPaymentsByRecord(ctx, "school-1", rec.ID)
	require.NoError(t, err)
	assert.Empty(t, payments, "rejected payments must not leave rows behind")
}

func TestRecordPayment_WrongCurrency_NoRowPersisted(t *testing.T) {
	// GIVEN: A record that exists only in USD
	// WHEN: A ZWG payment is attempted against it
	// THEN: ErrCurrencyMismatch, and no payment row is created

	processor, store := newTestProcessor(t, &stubGateway{})
	ctx := context.Background()
	rec := seedRecord(t, store, "stu-1")

	_, err := processor.RecordPayment(ctx, testScope(), payment.RecordPaymentInput{
		Student:  "stu-1",
		Year:     2025,
		Term:     1,
		Currency: ledger.CurrencyZWG,
		Amount:   dec("100"),
		Method:   payment.MethodCash,
	})
	assert.ErrorIs(t, err, ledger.ErrCurrencyMismatch)

	var cme *ledger.CurrencyMismatchError
	require.ErrorAs(t, err, &cme)
	assert.Equal(t, rec.ID, cme.Record)
	assert.Equal(t, ledger.CurrencyUSD, cme.Want)
	assert.Equal(t, ledger.CurrencyZWG, cme.Got)

	payments, err := store.ListPaymentsByRecord(ctx, "school-1", rec.ID)
	require.NoError(t, err)
	assert.Empty(t, payments)
}

func TestRecordPayment_NoRecordInAnyCurrency_NotFound(t *testing.T) {
	// GIVEN: A student with a USD record for term 1 only
	// WHEN: A USD payment targets term 2
	// THEN: Plain not-found, not a currency mismatch

	processor, store := newTestProcessor(t, &stubGateway{})
	seedRecord(t, store, "stu-1")

	_, err := processor.RecordPayment(context.Background(), testScope(), payment.RecordPaymentInput{
		Student:  "stu-1",
		Year:     2025,
		Term:     2,
		Currency: ledger.CurrencyUSD,
		Amount:   dec("100"),
		Method:   payment.MethodCash,
	})
	assert.ErrorIs(t, err, ledger.ErrRecordNotFound)
	assert.NotErrorIs(t, err, ledger.ErrCurrencyMismatch)
}

func TestRecordPayment_MissingExternalRef_Rejected(t *testing.T) {
	// GIVEN: A method that requires an external reference (bank transfer)
	// WHEN: Recording without one
	// THEN: The payment is rejected before any row or gateway call

	gw := &stubGateway{}
	processor, store := newTestProcessor(t, gw)
	seedRecord(t, store, "stu-1")

	_, err := processor.RecordPayment(context.Background(), testScope(), payment.RecordPaymentInput{
		Student:  "stu-1",
		Year:     2025,
		Term:     1,
		Currency: ledger.CurrencyUSD,
		Amount:   dec("100"),
		Method:   payment.MethodBankTransfer,
	})
	var verr *ledger.ValidationError
	assert.ErrorAs(t, err, &verr)
	assert.Equal(t, 0, gw.calls)
}

func TestRecordPayment_UnknownRecord_NotFound(t *testing.T) {
	// GIVEN: No fee record for the student
	// WHEN: Recording a payment
	// THEN: ErrRecordNotFound

	processor, _ := newTestProcessor(t, &stubGateway{})

	_, err := processor.RecordPayment(context.Background(), testScope(), payment.RecordPaymentInput{
		Student:  "ghost",
		Year:     2025,
		Term:     1,
		Currency: ledger.CurrencyUSD,
		Amount:   dec("100"),
		Method:   payment.MethodCash,
	})
	assert.ErrorIs(t, err, ledger.ErrRecordNotFound)
}

// =============================================================================
// BANK CHANNEL
// =============================================================================

func TestRecordPayment_BankChannel_GatewayDrivesOutcome(t *testing.T) {
	// GIVEN: A gateway that confirms settlement
	// WHEN: A bank transfer is recorded
	// THEN: The gateway is handed the PENDING payment exactly once

	gw := &stubGateway{
		settle: func(ctx context.Context, scope ledger.Scope, p *payment.Payment, rec ledger.FeeRecord) error {
			assert.Equal(t, payment.StatusPending, p.Status, "gateway receives the payment PENDING")
			return p.Transition(payment.StatusCompleted)
		},
	}
	processor, store := newTestProcessor(t, gw)
	seedRecord(t, store, "stu-1")

	p, err := processor.RecordPayment(context.Background(), testScope(), payment.RecordPaymentInput{
		Student:       "stu-1",
		Year:          2025,
		Term:          1,
		Currency:      ledger.CurrencyUSD,
		Amount:        dec("200"),
		Method:        payment.MethodBankTransfer,
		SourceAccount: "parent-acct",
		ExternalRef:   "slip-42",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, gw.calls)
	assert.Equal(t, payment.StatusCompleted, p.Status)
}

func TestRecordPayment_BankChannel_GatewayError_ReturnsPayment(t *testing.T) {
	// GIVEN: A gateway that rejects settlement
	// WHEN: A bank transfer is recorded
	// THEN: The error propagates alongside the payment, and the ledger is
	//       untouched because the payment never reached COMPLETED

	cause := errors.New("core banking unavailable")
	gw := &stubGateway{
		settle: func(ctx context.Context, scope ledger.Scope, p *payment.Payment, rec ledger.FeeRecord) error {
			return cause
		},
	}
	processor, store := newTestProcessor(t, gw)
	ctx := context.Background()
	seedRecord(t, store, "stu-1")

	p, err := processor.RecordPayment(ctx, testScope(), payment.RecordPaymentInput{
		Student:     "stu-1",
		Year:        2025,
		Term:        1,
		Currency:    ledger.CurrencyUSD,
		Amount:      dec("200"),
		Method:      payment.MethodBankTransfer,
		ExternalRef: "slip-43",
	})
	assert.ErrorIs(t, err, cause)
	require.NotNil(t, p, "the failed payment is returned for inspection")

	rec, err := store.GetFeeRecord(ctx, "school-1", "stu-1", 2025, 1, ledger.CurrencyUSD)
	require.NoError(t, err)
	assert.True(t, rec.AmountPaid.IsZero(), "ledger must not move on a failed settlement")
	assert.Equal(t, ledger.StatusArrears, rec.Status)
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestRecordPayment_ConcurrentPayments_NoLostUpdate(t *testing.T) {
	// GIVEN: A record owing 725 USD
	// WHEN: 20 school-channel payments of 5 run concurrently
	// THEN: AmountPaid is exactly 100; the per-record lock loses no update

	processor, store := newTestProcessor(t, &stubGateway{})
	ctx := context.Background()
	seedRecord(t, store, "stu-1")
	scope := testScope()

	const workers = 20
	errs := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := processor.RecordPayment(ctx, scope, payment.RecordPaymentInput{
				Student:  "stu-1",
				Year:     2025,
				Term:     1,
				Currency: ledger.CurrencyUSD,
				Amount:   dec("5"),
				Method:   payment.MethodCash,
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	rec, err := store.GetFeeRecord(ctx, "school-1", "stu-1", 2025, 1, ledger.CurrencyUSD)
	require.NoError(t, err)
	assert.True(t, rec.AmountPaid.Equal(dec("100")), "amountPaid: got %s", rec.AmountPaid)
	assert.True(t, rec.Outstanding.Equal(dec("625")))

	payments, err := store.ListPaymentsByRecord(ctx, "school-1", rec.ID)
	require.NoError(t, err)
	assert.Len(t, payments, workers)
}

// =============================================================================
// REVERSAL
// =============================================================================

func TestReversePayment_CompletedOnly(t *testing.T) {
	// GIVEN: A completed cash payment
	// WHEN: It is reversed with a reason
	// THEN: Status becomes REVERSED with reason and timestamp, and a second
	//       reversal is rejected

	processor, store := newTestProcessor(t, &stubGateway{})
	ctx := context.Background()
	seedRecord(t, store, "stu-1")
	scope := testScope()

	p, err := processor.RecordPayment(ctx, scope, payment.RecordPaymentInput{
		Student:  "stu-1",
		Year:     2025,
		Term:     1,
		Currency: ledger.CurrencyUSD,
		Amount:   dec("100"),
		Method:   payment.MethodCash,
	})
	require.NoError(t, err)

	reversed, err := processor.ReversePayment(ctx, scope, p.ID, "duplicate receipt", "bursar")
	require.NoError(t, err)
	assert.Equal(t, payment.StatusReversed, reversed.Status)
	assert.Equal(t, "duplicate receipt", reversed.ReversalReason)
	assert.NotNil(t, reversed.ReversedAt)

	_, err = processor.ReversePayment(ctx, scope, p.ID, "again", "bursar")
	assert.ErrorIs(t, err, ledger.ErrIllegalTransition)
}

func TestReversePayment_LedgerUntouched(t *testing.T) {
	// GIVEN: A completed payment of 300 applied to the ledger
	// WHEN: The payment is reversed
	// THEN: AmountPaid and Outstanding are unchanged; reversal is an
	//       annotation on the payment, not a ledger adjustment

	processor, store := newTestProcessor(t, &stubGateway{})
	ctx := context.Background()
	seedRecord(t, store, "stu-1")
	scope := testScope()

	p, err := processor.RecordPayment(ctx, scope, payment.RecordPaymentInput{
		Student:  "stu-1",
		Year:     2025,
		Term:     1,
		Currency: ledger.CurrencyUSD,
		Amount:   dec("300"),
		Method:   payment.MethodCash,
	})
	require.NoError(t, err)

	before, err := store.GetFeeRecord(ctx, "school-1", "stu-1", 2025, 1, ledger.CurrencyUSD)
	require.NoError(t, err)

	_, err = processor.ReversePayment(ctx, scope, p.ID, "bank recall", "bursar")
	require.NoError(t, err)

	after, err := store.GetFeeRecord(ctx, "school-1", "stu-1", 2025, 1, ledger.CurrencyUSD)
	require.NoError(t, err)
	assert.True(t, after.AmountPaid.Equal(before.AmountPaid))
	assert.True(t, after.Outstanding.Equal(before.Outstanding))
	assert.Equal(t, before.Status, after.Status)
}

func TestReversePayment_PendingRejected(t *testing.T) {
	// GIVEN: A bank payment whose settlement errored, leaving the stored
	//        row non-COMPLETED
	// WHEN: Reversing that payment
	// THEN: The transition is illegal

	cause := errors.New("timeout")
	var failedID payment.PaymentID
	gw := &stubGateway{
		settle: func(ctx context.Context, scope ledger.Scope, p *payment.Payment, rec ledger.FeeRecord) error {
			failedID = p.ID
			return cause
		},
	}
	processor, store := newTestProcessor(t, gw)
	ctx := context.Background()
	seedRecord(t, store, "stu-1")
	scope := testScope()

	_, err := processor.RecordPayment(ctx, scope, payment.RecordPaymentInput{
		Student:     "stu-1",
		Year:        2025,
		Term:        1,
		Currency:    ledger.CurrencyUSD,
		Amount:      dec("50"),
		Method:      payment.MethodBankTransfer,
		ExternalRef: "slip-9",
	})
	require.Error(t, err)

	_, err = processor.ReversePayment(ctx, scope, failedID, "should not work", "bursar")
	assert.Error(t, err)
}
