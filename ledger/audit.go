package ledger

import (
	"context"
	"time"
)

// =============================================================================
// AUDIT LOG - Separate from the fee records, tracks who did what when
// =============================================================================

// AuditEntry records who did what. The sink is append-only.
type AuditEntry struct {
	ID        string
	Tenant    TenantID
	Actor     string
	Action    AuditAction
	Student   StudentID
	Payload   map[string]string
	CreatedAt time.Time
}

type AuditAction string

const (
	AuditFeeAssigned      AuditAction = "fee_assigned"
	AuditDiscountApplied  AuditAction = "discount_applied"
	AuditPaymentRecorded  AuditAction = "payment_recorded"
	AuditPaymentReversed  AuditAction = "payment_reversed"
	AuditPromotionRun     AuditAction = "promotion_run"
	AuditStudentDemoted   AuditAction = "student_demoted"
	AuditRecordDeactivated AuditAction = "record_deactivated"
)

// AuditSink stores audit entries. Append-only; failures are best-effort and
// never fail the audited operation.
type AuditSink interface {
	AppendAudit(ctx context.Context, entry AuditEntry) error
}
