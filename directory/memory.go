package directory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/brightpath/fee-engine/ledger"
)

// =============================================================================
// MEMORY DIRECTORY - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu       sync.RWMutex
	students map[key]Student
}

type key struct {
	Tenant ledger.TenantID
	ID     ledger.StudentID
}

func NewMemory() *Memory {
	return &Memory{students: make(map[key]Student)}
}

// Put inserts or replaces a student record.
func (m *Memory) Put(s Student) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	s.UpdatedAt = time.Now().UTC()
	m.students[key{Tenant: s.Tenant, ID: s.ID}] = s
}

func (m *Memory) GetStudent(_ context.Context, tenant ledger.TenantID, id ledger.StudentID) (*Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.students[key{Tenant: tenant, ID: id}]
	if !ok {
		return nil, ledger.ErrStudentNotFound
	}
	return &s, nil
}

func (m *Memory) ListActiveStudents(_ context.Context, tenant ledger.TenantID) ([]Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Student
	for k, s := range m.students {
		if k.Tenant == tenant && s.Active {
			out = append(out, s)
		}
	}
	// Deterministic order for reproducible promotion runs.
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) UpdateStudentGrade(_ context.Context, tenant ledger.TenantID, id ledger.StudentID, grade, class string) error {
	return m.mutate(tenant, id, func(s *Student) {
		s.Grade = grade
		s.Class = class
	})
}

func (m *Memory) SetStudentCompletion(_ context.Context, tenant ledger.TenantID, id ledger.StudentID, status CompletionStatus) error {
	return m.mutate(tenant, id, func(s *Student) {
		s.Completion = status
	})
}

func (m *Memory) SetStudentActive(_ context.Context, tenant ledger.TenantID, id ledger.StudentID, active bool) error {
	return m.mutate(tenant, id, func(s *Student) {
		s.Active = active
	})
}

func (m *Memory) mutate(tenant ledger.TenantID, id ledger.StudentID, fn func(*Student)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key{Tenant: tenant, ID: id}
	s, ok := m.students[k]
	if !ok {
		return ledger.ErrStudentNotFound
	}
	fn(&s)
	s.UpdatedAt = time.Now().UTC()
	m.students[k] = s
	return nil
}
