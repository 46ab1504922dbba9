/*
feestructure.go - Grade-keyed fee templates

PURPOSE:
  When a student is promoted into a grade, the new fee record's components
  come from the tenant's fee structure for that grade. A tenant may define a
  default structure (empty grade key) used as a fallback for grades without
  a specific entry. A student whose target grade has neither is recorded as
  a per-student error in the run summary.
*/
package promotion

import (
	"context"
	"errors"

	"github.com/brightpath/fee-engine/ledger"
)

// ErrNoFeeStructure is returned when neither a grade-specific nor a default
// fee structure exists.
var ErrNoFeeStructure = errors.New("no fee structure for grade")

// FeeStructure is a tenant's fee template for one grade and currency.
// An empty Grade marks the tenant's default structure.
type FeeStructure struct {
	Tenant     ledger.TenantID
	Grade      string
	Currency   ledger.Currency
	Components ledger.Components
}

// StructureStore provides fee structure lookup.
type StructureStore interface {
	// GetFeeStructure returns the structure for (tenant, grade, currency),
	// or ErrNoFeeStructure if absent. The default structure has grade "".
	GetFeeStructure(ctx context.Context, tenant ledger.TenantID, grade string, currency ledger.Currency) (*FeeStructure, error)
}

// resolveStructure looks up the grade-specific structure, falling back to
// the tenant default.
func resolveStructure(ctx context.Context, store StructureStore, tenant ledger.TenantID, grade string, currency ledger.Currency) (*FeeStructure, error) {
	fs, err := store.GetFeeStructure(ctx, tenant, grade, currency)
	if err == nil {
		return fs, nil
	}
	if !errors.Is(err, ErrNoFeeStructure) {
		return nil, err
	}
	return store.GetFeeStructure(ctx, tenant, "", currency)
}
