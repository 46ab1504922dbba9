/*
Package promotion performs atomic, snapshot-based bulk grade progression.

PURPOSE:
  At year-end, every active student in a cohort either moves to the next
  grade (and receives a new fee record for the target term) or reaches a
  terminal completion marker. Decisions are made from an immutable pre-run
  snapshot so a student promoted earlier in a run can never be promoted
  twice by the same run.

KEY CONCEPTS IN THIS FILE (progression.go):
  - The deterministic progression table per track type
  - Completion markers (end of primary, O-level, A-level)

TRACKS:
  PRIMARY:   P1..P7, P7 ends in the primary-completion marker
  SECONDARY: S1..S6; S4 ends in the O-level marker unless the tenant's
             continuation flag routes the student to S5; S6 ends in the
             A-level marker
  COMBINED:  the union of both tables, disambiguated by the level naming

SEE ALSO:
  - engine.go: the promotion run and demotion
  - feestructure.go: grade-keyed fee templates with default fallback
*/
package promotion

import (
	"github.com/brightpath/fee-engine/directory"
	"github.com/brightpath/fee-engine/ledger"
)

// =============================================================================
// PROGRESSION TABLE
// =============================================================================

// Step is one entry of the progression table: either the next grade or a
// completion marker, never both.
type Step struct {
	NextGrade  string
	Completion directory.CompletionStatus
}

func (s Step) Completes() bool { return s.Completion != directory.CompletionNone }

var primaryTable = map[string]Step{
	"P1": {NextGrade: "P2"},
	"P2": {NextGrade: "P3"},
	"P3": {NextGrade: "P4"},
	"P4": {NextGrade: "P5"},
	"P5": {NextGrade: "P6"},
	"P6": {NextGrade: "P7"},
	"P7": {Completion: directory.CompletionPrimary},
}

var secondaryTable = map[string]Step{
	"S1": {NextGrade: "S2"},
	"S2": {NextGrade: "S3"},
	"S3": {NextGrade: "S4"},
	// S4 is special-cased in NextStep: O-level completion unless the
	// tenant's continuation flag routes the student to S5.
	"S5": {NextGrade: "S6"},
	"S6": {Completion: directory.CompletionALevel},
}

// NextStep looks up the progression for a grade under the given track.
// Returns false if the grade has no entry in the track's table.
func NextStep(track ledger.TrackType, grade string, continueToALevel bool) (Step, bool) {
	lookupSecondary := func() (Step, bool) {
		if grade == "S4" {
			if continueToALevel {
				return Step{NextGrade: "S5"}, true
			}
			return Step{Completion: directory.CompletionOLevel}, true
		}
		s, ok := secondaryTable[grade]
		return s, ok
	}

	switch track {
	case ledger.TrackPrimary:
		s, ok := primaryTable[grade]
		return s, ok
	case ledger.TrackSecondary:
		return lookupSecondary()
	case ledger.TrackCombined:
		// The two tables are disjoint by level naming (P* vs S*), so the
		// union needs no further disambiguation.
		if s, ok := primaryTable[grade]; ok {
			return s, ok
		}
		return lookupSecondary()
	default:
		return Step{}, false
	}
}

// PreviousGrade returns the grade one level below, for demotion. Returns
// false for the lowest level of a track or an unknown grade.
func PreviousGrade(track ledger.TrackType, grade string) (string, bool) {
	var tables []map[string]Step
	secondary := false
	switch track {
	case ledger.TrackPrimary:
		tables = []map[string]Step{primaryTable}
	case ledger.TrackSecondary:
		tables, secondary = []map[string]Step{secondaryTable}, true
	case ledger.TrackCombined:
		tables, secondary = []map[string]Step{primaryTable, secondaryTable}, true
	}
	// S5 never appears as a table target: it is only reachable via the
	// continuation-flag path out of S4.
	if secondary && grade == "S5" {
		return "S4", true
	}
	for _, table := range tables {
		for from, step := range table {
			if step.NextGrade == grade {
				return from, true
			}
		}
	}
	return "", false
}
