// Package retention implements the record lifecycle state machine and the
// idempotent batch sweeps that apply it against a store.
package retention

import (
	"fmt"
	"time"

	"github.com/chirino/memory-policy/internal/model"
)

// Request carries the per-record evaluation inputs that are not part of the
// record itself.
type Request struct {
	// DeletionRequested marks an explicit user deletion request (GDPR).
	DeletionRequested bool

	// SessionEnded marks that the owning session has completed. Only
	// meaningful for Session-scope records.
	SessionEnded bool
}

// Decision is the outcome of evaluating one record against its policy.
type Decision struct {
	// Transition is the target state, or empty when no transition applies.
	Transition model.RecordState

	// Reason explains the decision for sweep summaries and audit logs.
	Reason string
}

// None reports whether the decision leaves the record unchanged.
func (d Decision) None() bool { return d.Transition == "" }

// Evaluate runs the retention state machine for one record. Deletion rules
// are checked before archival; a Deleted record is never transitioned again.
// Session-scope records skip Archived and go straight to Deleted.
func Evaluate(record *model.MemoryRecord, policy model.RetentionPolicy, now time.Time, req Request) Decision {
	if record.State == model.StateDeleted {
		return Decision{}
	}

	age := record.Age(now)

	switch {
	case req.DeletionRequested:
		return Decision{Transition: model.StateDeleted, Reason: "explicit deletion request"}
	case record.Scope == model.ScopeSession && req.SessionEnded:
		return Decision{Transition: model.StateDeleted, Reason: "session ended"}
	case age >= policy.ArchivalWindow():
		return Decision{
			Transition: model.StateDeleted,
			Reason:     fmt.Sprintf("age %s past archival window %dd", age.Truncate(time.Hour), policy.ArchivalDays),
		}
	case record.RelevanceScore < policy.MinRelevanceScore && age >= policy.ActiveWindow()/2:
		return Decision{
			Transition: model.StateDeleted,
			Reason: fmt.Sprintf("relevance %.2f below minimum %.2f after half the active window",
				record.RelevanceScore, policy.MinRelevanceScore),
		}
	}

	if record.Scope != model.ScopeSession && record.State == model.StateActive && age >= policy.ActiveWindow() {
		return Decision{
			Transition: model.StateArchived,
			Reason:     fmt.Sprintf("age %s past active window %dd", age.Truncate(time.Hour), policy.ActiveDays),
		}
	}

	return Decision{}
}
