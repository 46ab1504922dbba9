/*
Package sqlite provides a SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements persistence for fee records, payments, students, fee
  structures, promotion runs, and the audit log. In production the same
  patterns apply to PostgreSQL - only minor SQL dialect differences.

INTERFACES IMPLEMENTED:
  payment.Store           Fee record lookup, payment rows, finalization
  settlement.Finalizer    Atomic payment + record finalization
  promotion.Store         Record creation, structures, run history
  directory.Directory     Student lookup
  directory.Mutator       Grade/completion/active mutation

KEY TABLES:
  fee_records:     One per (tenant, student, year, term, currency); derived
                   fields stored for query but always recomputed before write
  payments:        One per settlement attempt; status transitions only
  students:        Directory records (co-located deployments)
  fee_structures:  Grade-keyed fee templates; '' grade = tenant default
  promotion_runs:  Run history for audit and the scheduler's skip check
  audit_log:       Append-only action trail

UNIQUENESS:
  idx_fee_records_unique enforces one record per (tenant, student, year,
  term, currency). A violating insert surfaces as ledger.ErrDuplicateRecord,
  which is how a re-run of the promotion engine reports duplicates instead
  of double-creating records.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. In production with PostgreSQL,
  database-level concurrency control handles this instead.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency.

USAGE:
  store, err := sqlite.New("./data/fees.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/brightpath/fee-engine/directory"
	"github.com/brightpath/fee-engine/ledger"
	"github.com/brightpath/fee-engine/payment"
	"github.com/brightpath/fee-engine/promotion"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	-- Fee records: one per (tenant, student, year, term, currency)
	CREATE TABLE IF NOT EXISTS fee_records (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		student_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		term INTEGER NOT NULL,
		currency TEXT NOT NULL,
		tuition TEXT NOT NULL,
		boarding TEXT NOT NULL,
		levy TEXT NOT NULL,
		exam TEXT NOT NULL,
		other TEXT NOT NULL,
		scholarship TEXT NOT NULL,
		sibling TEXT NOT NULL,
		early_payment TEXT NOT NULL,
		previous_balance TEXT NOT NULL,
		amount_paid TEXT NOT NULL,
		gross TEXT NOT NULL,
		net TEXT NOT NULL,
		outstanding TEXT NOT NULL,
		status TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- CRITICAL: one record per (tenant, student, year, term, currency).
	-- A second promotion run over the same target surfaces per-student
	-- duplicate errors instead of double-charging.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_fee_records_unique
		ON fee_records(tenant_id, student_id, year, term, currency);

	CREATE INDEX IF NOT EXISTS idx_fee_records_student
		ON fee_records(tenant_id, student_id);
	CREATE INDEX IF NOT EXISTS idx_fee_records_status
		ON fee_records(tenant_id, status);

	-- Payments: one per settlement attempt
	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		record_id TEXT NOT NULL,
		student_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		method TEXT NOT NULL,
		channel TEXT NOT NULL,
		status TEXT NOT NULL,
		source_account TEXT,
		external_ref TEXT,
		settlement_ref TEXT,
		correlation_id TEXT,
		failure_reason TEXT,
		reversal_reason TEXT,
		reversed_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_payments_record
		ON payments(record_id);
	CREATE INDEX IF NOT EXISTS idx_payments_tenant_status
		ON payments(tenant_id, status);

	-- Students (directory, for co-located deployments)
	CREATE TABLE IF NOT EXISTS students (
		id TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		full_name TEXT NOT NULL,
		grade TEXT NOT NULL,
		class TEXT NOT NULL DEFAULT '',
		active BOOLEAN NOT NULL DEFAULT TRUE,
		completion TEXT NOT NULL DEFAULT '',
		parent_account TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (tenant_id, id)
	);

	CREATE INDEX IF NOT EXISTS idx_students_tenant_active
		ON students(tenant_id, active);

	-- Fee structures: grade-keyed templates, '' grade = tenant default
	CREATE TABLE IF NOT EXISTS fee_structures (
		tenant_id TEXT NOT NULL,
		grade TEXT NOT NULL DEFAULT '',
		currency TEXT NOT NULL,
		tuition TEXT NOT NULL,
		boarding TEXT NOT NULL,
		levy TEXT NOT NULL,
		exam TEXT NOT NULL,
		other TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (tenant_id, grade, currency)
	);

	-- Promotion runs (for the scheduler's skip check and history)
	CREATE TABLE IF NOT EXISTS promotion_runs (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		term INTEGER NOT NULL,
		currency TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'running',
		promoted INTEGER DEFAULT 0,
		completed INTEGER DEFAULT 0,
		errored INTEGER DEFAULT 0,
		error TEXT,
		started_at TEXT NOT NULL,
		completed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_promotion_runs_tenant
		ON promotion_runs(tenant_id, year, term);

	-- Audit log (append-only)
	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		actor TEXT,
		action TEXT NOT NULL,
		student_id TEXT,
		payload_json TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_tenant_action
		ON audit_log(tenant_id, action);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// FEE RECORDS
// =============================================================================

const feeRecordColumns = `id, tenant_id, student_id, year, term, currency,
	tuition, boarding, levy, exam, other,
	scholarship, sibling, early_payment,
	previous_balance, amount_paid, gross, net, outstanding, status, active,
	created_at, updated_at`

// CreateFeeRecord inserts a new record. Derived fields are recomputed before
// the write so the stored row can never carry stale values.
func (s *Store) CreateFeeRecord(ctx context.Context, r ledger.FeeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertFeeRecord(ctx, s.db, r)
}

func (s *Store) insertFeeRecord(ctx context.Context, db execer, r ledger.FeeRecord) error {
	r = ledger.Recompute(r)
	now := time.Now().UTC().Format(time.RFC3339)

	query := `
		INSERT INTO fee_records (` + feeRecordColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := db.ExecContext(ctx, query,
		r.ID, r.Tenant, r.Student, r.Year, r.Term, r.Currency,
		r.Components.Tuition.String(), r.Components.Boarding.String(),
		r.Components.Levy.String(), r.Components.Exam.String(), r.Components.Other.String(),
		r.Discounts.Scholarship.String(), r.Discounts.Sibling.String(), r.Discounts.EarlyPayment.String(),
		r.PreviousBalance.String(), r.AmountPaid.String(),
		r.Gross.String(), r.Net.String(), r.Outstanding.String(), r.Status, r.Active,
		now, now,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.ErrDuplicateRecord
		}
		return fmt.Errorf("failed to insert fee record: %w", err)
	}
	return nil
}

// UpdateFeeRecord rewrites a record's inputs and derived fields.
func (s *Store) UpdateFeeRecord(ctx context.Context, r ledger.FeeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateFeeRecord(ctx, s.db, r)
}

func (s *Store) updateFeeRecord(ctx context.Context, db execer, r ledger.FeeRecord) error {
	r = ledger.Recompute(r)

	query := `
		UPDATE fee_records SET
			tuition = ?, boarding = ?, levy = ?, exam = ?, other = ?,
			scholarship = ?, sibling = ?, early_payment = ?,
			previous_balance = ?, amount_paid = ?,
			gross = ?, net = ?, outstanding = ?, status = ?, active = ?,
			updated_at = ?
		WHERE id = ? AND tenant_id = ?
	`
	res, err := db.ExecContext(ctx, query,
		r.Components.Tuition.String(), r.Components.Boarding.String(),
		r.Components.Levy.String(), r.Components.Exam.String(), r.Components.Other.String(),
		r.Discounts.Scholarship.String(), r.Discounts.Sibling.String(), r.Discounts.EarlyPayment.String(),
		r.PreviousBalance.String(), r.AmountPaid.String(),
		r.Gross.String(), r.Net.String(), r.Outstanding.String(), r.Status, r.Active,
		time.Now().UTC().Format(time.RFC3339),
		r.ID, r.Tenant,
	)
	if err != nil {
		return fmt.Errorf("failed to update fee record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.ErrRecordNotFound
	}
	return nil
}

// GetFeeRecord resolves the unique record for (student, year, term, currency).
func (s *Store) GetFeeRecord(ctx context.Context, tenant ledger.TenantID, student ledger.StudentID, year ledger.AcademicYear, term ledger.Term, currency ledger.Currency) (*ledger.FeeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT `+feeRecordColumns+` FROM fee_records
		WHERE tenant_id = ? AND student_id = ? AND year = ? AND term = ? AND currency = ?
	`, tenant, student, year, term, currency)

	r, err := scanFeeRecord(row)
	if err == sql.ErrNoRows {
		return nil, &ledger.RecordNotFoundError{Student: student, Year: year, Term: term, Currency: currency}
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// GetFeeRecordByID retrieves a record by primary key.
func (s *Store) GetFeeRecordByID(ctx context.Context, tenant ledger.TenantID, id ledger.RecordID) (*ledger.FeeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT `+feeRecordColumns+` FROM fee_records
		WHERE id = ? AND tenant_id = ?
	`, id, tenant)

	r, err := scanFeeRecord(row)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// ListFeeRecordsByStudent returns a student's records, newest year first.
func (s *Store) ListFeeRecordsByStudent(ctx context.Context, tenant ledger.TenantID, student ledger.StudentID) ([]ledger.FeeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+feeRecordColumns+` FROM fee_records
		WHERE tenant_id = ? AND student_id = ?
		ORDER BY year DESC, term DESC
	`, tenant, student)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []ledger.FeeRecord
	for rows.Next() {
		r, err := scanFeeRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *r)
	}
	return records, rows.Err()
}

// LatestOutstanding returns the outstanding balance of the student's most
// recent active record in the currency, or zero if none exists.
func (s *Store) LatestOutstanding(ctx context.Context, tenant ledger.TenantID, student ledger.StudentID, currency ledger.Currency) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var outstanding string
	err := s.db.QueryRowContext(ctx, `
		SELECT outstanding FROM fee_records
		WHERE tenant_id = ? AND student_id = ? AND currency = ? AND active = TRUE
		ORDER BY year DESC, term DESC
		LIMIT 1
	`, tenant, student, currency).Scan(&outstanding)

	if err == sql.ErrNoRows {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return ledger.MustParseDecimal(outstanding), nil
}

// DeactivateFeeRecord soft-deactivates a record. Records are never deleted.
func (s *Store) DeactivateFeeRecord(ctx context.Context, tenant ledger.TenantID, id ledger.RecordID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE fee_records SET active = FALSE, updated_at = ?
		WHERE id = ? AND tenant_id = ?
	`, time.Now().UTC().Format(time.RFC3339), id, tenant)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.ErrRecordNotFound
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanFeeRecord(row scannable) (*ledger.FeeRecord, error) {
	var (
		r                                    ledger.FeeRecord
		tuition, boarding, levy, exam, other string
		scholarship, sibling, earlyPayment   string
		previousBalance, amountPaid          string
		gross, net, outstanding              string
		createdAt, updatedAt                 string
	)

	err := row.Scan(
		&r.ID, &r.Tenant, &r.Student, &r.Year, &r.Term, &r.Currency,
		&tuition, &boarding, &levy, &exam, &other,
		&scholarship, &sibling, &earlyPayment,
		&previousBalance, &amountPaid, &gross, &net, &outstanding, &r.Status, &r.Active,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	r.Components = ledger.Components{
		Tuition:  ledger.MustParseDecimal(tuition),
		Boarding: ledger.MustParseDecimal(boarding),
		Levy:     ledger.MustParseDecimal(levy),
		Exam:     ledger.MustParseDecimal(exam),
		Other:    ledger.MustParseDecimal(other),
	}
	r.Discounts = ledger.Discounts{
		Scholarship:  ledger.MustParseDecimal(scholarship),
		Sibling:      ledger.MustParseDecimal(sibling),
		EarlyPayment: ledger.MustParseDecimal(earlyPayment),
	}
	r.PreviousBalance = ledger.MustParseDecimal(previousBalance)
	r.AmountPaid = ledger.MustParseDecimal(amountPaid)
	r.Gross = ledger.MustParseDecimal(gross)
	r.Net = ledger.MustParseDecimal(net)
	r.Outstanding = ledger.MustParseDecimal(outstanding)
	r.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	r.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &r, nil
}

// =============================================================================
// PAYMENTS
// =============================================================================

const paymentColumns = `id, tenant_id, record_id, student_id, amount, currency,
	method, channel, status, source_account, external_ref, settlement_ref,
	correlation_id, failure_reason, reversal_reason, reversed_at,
	created_at, updated_at`

// CreatePayment inserts a new payment row.
func (s *Store) CreatePayment(ctx context.Context, p payment.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO payments (` + paymentColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	var reversedAt sql.NullString
	if p.ReversedAt != nil {
		reversedAt = sql.NullString{String: p.ReversedAt.UTC().Format(time.RFC3339), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, query,
		p.ID, p.Tenant, p.Record, p.Student, p.Amount.String(), p.Currency,
		p.Method.Name, p.Method.Channel, p.Status,
		nullString(p.SourceAccount), nullString(p.ExternalRef), nullString(p.SettlementRef),
		nullString(p.CorrelationID), nullString(p.FailureReason), nullString(p.ReversalReason),
		reversedAt,
		p.CreatedAt.UTC().Format(time.RFC3339), p.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	return nil
}

// FinalizePayment updates the payment and, when rec is non-nil, the fee
// record in a single database transaction. This is the only path through
// which a payment's ledger effect is persisted, so a payment row can never
// show a terminal state the ledger missed or vice versa.
func (s *Store) FinalizePayment(ctx context.Context, p payment.Payment, rec *ledger.FeeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	var reversedAt sql.NullString
	if p.ReversedAt != nil {
		reversedAt = sql.NullString{String: p.ReversedAt.UTC().Format(time.RFC3339), Valid: true}
	}

	res, err := sqlTx.ExecContext(ctx, `
		UPDATE payments SET
			status = ?, settlement_ref = ?, failure_reason = ?,
			reversal_reason = ?, reversed_at = ?, updated_at = ?
		WHERE id = ? AND tenant_id = ?
	`,
		p.Status, nullString(p.SettlementRef), nullString(p.FailureReason),
		nullString(p.ReversalReason), reversedAt,
		time.Now().UTC().Format(time.RFC3339),
		p.ID, p.Tenant,
	)
	if err != nil {
		return fmt.Errorf("failed to finalize payment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.ErrPaymentNotFound
	}

	if rec != nil {
		if err := s.updateFeeRecord(ctx, sqlTx, *rec); err != nil {
			return err
		}
	}
	return sqlTx.Commit()
}

// GetPayment retrieves a payment by ID within a tenant.
func (s *Store) GetPayment(ctx context.Context, tenant ledger.TenantID, id payment.PaymentID) (*payment.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT `+paymentColumns+` FROM payments WHERE id = ? AND tenant_id = ?
	`, id, tenant)

	p, err := scanPayment(row)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ListPaymentsByRecord returns all payments against one fee record,
// chronologically.
func (s *Store) ListPaymentsByRecord(ctx context.Context, tenant ledger.TenantID, record ledger.RecordID) ([]payment.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+paymentColumns+` FROM payments
		WHERE tenant_id = ? AND record_id = ?
		ORDER BY created_at ASC
	`, tenant, record)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []payment.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, *p)
	}
	return payments, rows.Err()
}

// SettledTotal is one line of the daily reconciliation report.
type SettledTotal struct {
	Currency ledger.Currency
	Channel  payment.Channel
	Count    int
	Total    decimal.Decimal
}

// SettledTotals returns the completed-payment totals for a tenant on a given
// day, split by currency and channel.
func (s *Store) SettledTotals(ctx context.Context, tenant ledger.TenantID, day time.Time) ([]SettledTotal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT currency, channel, amount FROM payments
		WHERE tenant_id = ? AND status = ? AND DATE(updated_at) = DATE(?)
	`, tenant, payment.StatusCompleted, day.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	// Amounts are stored as TEXT so the sum happens here, not in SQL.
	type groupKey struct {
		currency ledger.Currency
		channel  payment.Channel
	}
	type bucket struct {
		count int
		total decimal.Decimal
	}
	buckets := make(map[groupKey]*bucket)

	for rows.Next() {
		var currency, channel, amount string
		if err := rows.Scan(&currency, &channel, &amount); err != nil {
			return nil, err
		}
		k := groupKey{currency: ledger.Currency(currency), channel: payment.Channel(channel)}
		b, ok := buckets[k]
		if !ok {
			b = &bucket{total: decimal.Zero}
			buckets[k] = b
		}
		b.count++
		b.total = b.total.Add(ledger.MustParseDecimal(amount))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var totals []SettledTotal
	for k, b := range buckets {
		totals = append(totals, SettledTotal{
			Currency: k.currency,
			Channel:  k.channel,
			Count:    b.count,
			Total:    b.total,
		})
	}
	return totals, nil
}

func scanPayment(row scannable) (*payment.Payment, error) {
	var (
		p                             payment.Payment
		amount, method, channel       string
		sourceAccount, externalRef    sql.NullString
		settlementRef, correlationID  sql.NullString
		failureReason, reversalReason sql.NullString
		reversedAt                    sql.NullString
		createdAt, updatedAt          string
	)

	err := row.Scan(
		&p.ID, &p.Tenant, &p.Record, &p.Student, &amount, &p.Currency,
		&method, &channel, &p.Status,
		&sourceAccount, &externalRef, &settlementRef,
		&correlationID, &failureReason, &reversalReason, &reversedAt,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.Amount = ledger.MustParseDecimal(amount)
	if m, ok := payment.MethodByName(method); ok {
		p.Method = m
	} else {
		// Unknown method name in storage: keep what we can.
		p.Method = payment.Method{Name: method, Channel: payment.Channel(channel)}
	}
	p.SourceAccount = sourceAccount.String
	p.ExternalRef = externalRef.String
	p.SettlementRef = settlementRef.String
	p.CorrelationID = correlationID.String
	p.FailureReason = failureReason.String
	p.ReversalReason = reversalReason.String
	if reversedAt.Valid {
		t, _ := time.Parse(time.RFC3339, reversedAt.String)
		p.ReversedAt = &t
	}
	p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	p.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &p, nil
}

// =============================================================================
// STUDENTS
// =============================================================================

// SaveStudent inserts or replaces a student record.
func (s *Store) SaveStudent(ctx context.Context, st directory.Student) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC().Format(time.RFC3339)
	query := `
		INSERT INTO students (id, tenant_id, full_name, grade, class, active, completion, parent_account, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, id) DO UPDATE SET
			full_name = excluded.full_name,
			grade = excluded.grade,
			class = excluded.class,
			active = excluded.active,
			completion = excluded.completion,
			parent_account = excluded.parent_account,
			updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, query,
		st.ID, st.Tenant, st.FullName, st.Grade, st.Class, st.Active, st.Completion, st.ParentAccount,
		now, now,
	)
	return err
}

func (s *Store) GetStudent(ctx context.Context, tenant ledger.TenantID, id ledger.StudentID) (*directory.Student, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var st directory.Student
	var createdAt, updatedAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, full_name, grade, class, active, completion, parent_account, created_at, updated_at
		FROM students WHERE tenant_id = ? AND id = ?
	`, tenant, id).Scan(&st.ID, &st.Tenant, &st.FullName, &st.Grade, &st.Class, &st.Active, &st.Completion, &st.ParentAccount, &createdAt, &updatedAt)

	if err == sql.ErrNoRows {
		return nil, ledger.ErrStudentNotFound
	}
	if err != nil {
		return nil, err
	}
	st.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	st.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &st, nil
}

// ListActiveStudents returns active students ordered by ID so promotion runs
// process them deterministically.
func (s *Store) ListActiveStudents(ctx context.Context, tenant ledger.TenantID) ([]directory.Student, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, full_name, grade, class, active, completion, parent_account, created_at, updated_at
		FROM students WHERE tenant_id = ? AND active = TRUE
		ORDER BY id
	`, tenant)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var students []directory.Student
	for rows.Next() {
		var st directory.Student
		var createdAt, updatedAt string
		if err := rows.Scan(&st.ID, &st.Tenant, &st.FullName, &st.Grade, &st.Class, &st.Active, &st.Completion, &st.ParentAccount, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		st.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		st.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		students = append(students, st)
	}
	return students, rows.Err()
}

func (s *Store) UpdateStudentGrade(ctx context.Context, tenant ledger.TenantID, id ledger.StudentID, grade, class string) error {
	return s.mutateStudent(ctx, tenant, id, "grade = ?, class = ?", grade, class)
}

func (s *Store) SetStudentCompletion(ctx context.Context, tenant ledger.TenantID, id ledger.StudentID, status directory.CompletionStatus) error {
	return s.mutateStudent(ctx, tenant, id, "completion = ?", string(status))
}

func (s *Store) SetStudentActive(ctx context.Context, tenant ledger.TenantID, id ledger.StudentID, active bool) error {
	return s.mutateStudent(ctx, tenant, id, "active = ?", active)
}

func (s *Store) mutateStudent(ctx context.Context, tenant ledger.TenantID, id ledger.StudentID, set string, args ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := "UPDATE students SET " + set + ", updated_at = ? WHERE tenant_id = ? AND id = ?"
	args = append(args, time.Now().UTC().Format(time.RFC3339), tenant, id)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.ErrStudentNotFound
	}
	return nil
}

// =============================================================================
// FEE STRUCTURES
// =============================================================================

// SaveFeeStructure inserts or replaces a fee structure.
func (s *Store) SaveFeeStructure(ctx context.Context, fs promotion.FeeStructure) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC().Format(time.RFC3339)
	query := `
		INSERT INTO fee_structures (tenant_id, grade, currency, tuition, boarding, levy, exam, other, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, grade, currency) DO UPDATE SET
			tuition = excluded.tuition,
			boarding = excluded.boarding,
			levy = excluded.levy,
			exam = excluded.exam,
			other = excluded.other,
			updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, query,
		fs.Tenant, fs.Grade, fs.Currency,
		fs.Components.Tuition.String(), fs.Components.Boarding.String(),
		fs.Components.Levy.String(), fs.Components.Exam.String(), fs.Components.Other.String(),
		now, now,
	)
	return err
}

func (s *Store) GetFeeStructure(ctx context.Context, tenant ledger.TenantID, grade string, currency ledger.Currency) (*promotion.FeeStructure, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		fs                                   promotion.FeeStructure
		tuition, boarding, levy, exam, other string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT tenant_id, grade, currency, tuition, boarding, levy, exam, other
		FROM fee_structures WHERE tenant_id = ? AND grade = ? AND currency = ?
	`, tenant, grade, currency).Scan(&fs.Tenant, &fs.Grade, &fs.Currency, &tuition, &boarding, &levy, &exam, &other)

	if err == sql.ErrNoRows {
		return nil, promotion.ErrNoFeeStructure
	}
	if err != nil {
		return nil, err
	}

	fs.Components = ledger.Components{
		Tuition:  ledger.MustParseDecimal(tuition),
		Boarding: ledger.MustParseDecimal(boarding),
		Levy:     ledger.MustParseDecimal(levy),
		Exam:     ledger.MustParseDecimal(exam),
		Other:    ledger.MustParseDecimal(other),
	}
	return &fs, nil
}

// FeeStructureForGrade resolves the grade-specific structure, falling back
// to the tenant default (empty grade key).
func (s *Store) FeeStructureForGrade(ctx context.Context, tenant ledger.TenantID, grade string, currency ledger.Currency) (*promotion.FeeStructure, error) {
	fs, err := s.GetFeeStructure(ctx, tenant, grade, currency)
	if err == nil {
		return fs, nil
	}
	if err != promotion.ErrNoFeeStructure {
		return nil, err
	}
	return s.GetFeeStructure(ctx, tenant, "", currency)
}

// =============================================================================
// PROMOTION RUNS
// =============================================================================

// SavePromotionRun inserts or updates a run record.
func (s *Store) SavePromotionRun(ctx context.Context, run promotion.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var completedAt sql.NullString
	if run.CompletedAt != nil {
		completedAt = sql.NullString{String: run.CompletedAt.UTC().Format(time.RFC3339), Valid: true}
	}

	query := `
		INSERT INTO promotion_runs (id, tenant_id, year, term, currency, status, promoted, completed, errored, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			promoted = excluded.promoted,
			completed = excluded.completed,
			errored = excluded.errored,
			error = excluded.error,
			completed_at = excluded.completed_at
	`
	_, err := s.db.ExecContext(ctx, query,
		run.ID, run.Tenant, run.Year, run.Term, run.Currency, run.Status,
		run.Promoted, run.Completed, run.Errored, nullString(run.Error),
		run.StartedAt.UTC().Format(time.RFC3339), completedAt,
	)
	return err
}

// ListPromotionRuns returns a tenant's runs, newest first.
func (s *Store) ListPromotionRuns(ctx context.Context, tenant ledger.TenantID) ([]promotion.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, year, term, currency, status, promoted, completed, errored, error, started_at, completed_at
		FROM promotion_runs WHERE tenant_id = ?
		ORDER BY started_at DESC
	`, tenant)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []promotion.Run
	for rows.Next() {
		var (
			run                 promotion.Run
			errMsg, completedAt sql.NullString
			startedAt           string
		)
		if err := rows.Scan(&run.ID, &run.Tenant, &run.Year, &run.Term, &run.Currency, &run.Status,
			&run.Promoted, &run.Completed, &run.Errored, &errMsg, &startedAt, &completedAt); err != nil {
			return nil, err
		}
		run.Error = errMsg.String
		run.StartedAt, _ = time.Parse(time.RFC3339, startedAt)
		if completedAt.Valid {
			t, _ := time.Parse(time.RFC3339, completedAt.String)
			run.CompletedAt = &t
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// IsPromotionComplete reports whether a completed run exists for the
// tenant's target year and term.
func (s *Store) IsPromotionComplete(ctx context.Context, tenant ledger.TenantID, year ledger.AcademicYear, term ledger.Term) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM promotion_runs
		WHERE tenant_id = ? AND year = ? AND term = ? AND status = 'completed'
	`, tenant, year, term).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// =============================================================================
// AUDIT LOG
// =============================================================================

// AppendAudit stores one audit entry. Append-only; there is no update or
// delete path.
func (s *Store) AppendAudit(ctx context.Context, entry ledger.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payloadJSON, _ := json.Marshal(entry.Payload)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, tenant_id, actor, action, student_id, payload_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		entry.ID, entry.Tenant, nullString(entry.Actor), entry.Action,
		nullString(string(entry.Student)), string(payloadJSON),
		entry.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// ListAudit returns the most recent entries for a tenant.
func (s *Store) ListAudit(ctx context.Context, tenant ledger.TenantID, limit int) ([]ledger.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, actor, action, student_id, payload_json, created_at
		FROM audit_log WHERE tenant_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, tenant, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []ledger.AuditEntry
	for rows.Next() {
		var (
			entry          ledger.AuditEntry
			actor, student sql.NullString
			payloadJSON    sql.NullString
			createdAt      string
		)
		if err := rows.Scan(&entry.ID, &entry.Tenant, &actor, &entry.Action, &student, &payloadJSON, &createdAt); err != nil {
			return nil, err
		}
		entry.Actor = actor.String
		entry.Student = ledger.StudentID(student.String)
		if payloadJSON.Valid && payloadJSON.String != "" {
			json.Unmarshal([]byte(payloadJSON.String), &entry.Payload)
		}
		entry.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
