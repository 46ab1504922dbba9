/*
Package directory defines the student directory collaborator.

PURPOSE:
  The fee engine does not own student identity. It consumes a directory
  providing identity, current grade, and active/excluded status, and - for
  promotion and demotion - a narrow mutation surface for grade and completion
  changes. The production directory lives in the surrounding platform; the
  sqlite store implements these interfaces for deployments that co-locate
  students, and the Memory implementation backs tests.
*/
package directory

import (
	"context"
	"time"

	"github.com/brightpath/fee-engine/ledger"
)

// CompletionStatus is a terminal academic status reached instead of a
// further grade progression.
type CompletionStatus string

const (
	CompletionNone    CompletionStatus = ""
	CompletionPrimary CompletionStatus = "PRIMARY_COMPLETE"
	CompletionOLevel  CompletionStatus = "O_LEVEL_COMPLETE"
	CompletionALevel  CompletionStatus = "A_LEVEL_COMPLETE"
)

// Student is the directory's view of one learner.
type Student struct {
	ID         ledger.StudentID
	Tenant     ledger.TenantID
	FullName   string
	Grade      string
	Class      string
	Active     bool
	Completion CompletionStatus

	// ParentAccount is the payer's bank account used as the debit side of
	// bank-channel settlements.
	ParentAccount string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Directory is the read-only lookup surface.
type Directory interface {
	GetStudent(ctx context.Context, tenant ledger.TenantID, id ledger.StudentID) (*Student, error)

	// ListActiveStudents returns every active student for the tenant.
	// Excluded/deactivated students are absent.
	ListActiveStudents(ctx context.Context, tenant ledger.TenantID) ([]Student, error)
}

// Mutator is the narrow write surface promotion and demotion need.
type Mutator interface {
	UpdateStudentGrade(ctx context.Context, tenant ledger.TenantID, id ledger.StudentID, grade, class string) error
	SetStudentCompletion(ctx context.Context, tenant ledger.TenantID, id ledger.StudentID, status CompletionStatus) error
	SetStudentActive(ctx context.Context, tenant ledger.TenantID, id ledger.StudentID, active bool) error
}
