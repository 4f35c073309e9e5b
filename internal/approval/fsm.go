// Package approval is the state machine for governed tool calls.
//
//	PENDING --approve--> APPROVED --dispatch ok--> EXECUTED
//	                              --dispatch err-> EXECUTION_FAILED
//	PENDING --deny-----> DENIED
//
// ALLOW decisions are created directly in EXECUTED or EXECUTION_FAILED and
// BLOCK decisions directly in BLOCKED; neither ever passes through PENDING.
package approval

import (
	"errors"
	"fmt"
	"time"

	"github.com/ppiankov/sentinel/internal/model"
)

var (
	// ErrStateConflict is returned when a transition is attempted from a
	// state other than the one it requires. The record is left unchanged.
	ErrStateConflict = errors.New("state conflict")
	// ErrNotFound is returned for an unknown tool call id.
	ErrNotFound = errors.New("tool call not found")
	// ErrInvalidTransition is returned for an edge the machine does not have.
	ErrInvalidTransition = errors.New("invalid transition")
)

// DefaultApprover is recorded when the caller gives no approver identity.
const DefaultApprover = "manual"

// CanTransition reports whether from → to is an edge of the machine.
func CanTransition(from, to model.Status) bool {
	switch from {
	case model.StatusPending:
		return to == model.StatusApproved || to == model.StatusDenied
	case model.StatusApproved:
		return to == model.StatusExecuted || to == model.StatusExecutionFailed
	default:
		return false
	}
}

// InitialStatus returns the status a new record starts in for a decision
// and, for ALLOW, the outcome of its immediate dispatch.
func InitialStatus(kind model.DecisionKind, dispatched bool, dispatchErr error) model.Status {
	switch kind {
	case model.Allow:
		if !dispatched || dispatchErr != nil {
			return model.StatusExecutionFailed
		}
		return model.StatusExecuted
	case model.ApprovalRequired:
		return model.StatusPending
	default:
		return model.StatusBlocked
	}
}

// Transition is one requested status change, applied with compare-and-set
// semantics: it only takes effect if the record is still in From.
type Transition struct {
	ID     string
	From   model.Status
	To     model.Status
	At     time.Time
	Actor  string
	Note   string
	Result *string
	Error  *string
}

// Approve builds the PENDING → APPROVED transition.
func Approve(id, note, approver string, at time.Time) Transition {
	return resolve(id, model.StatusApproved, note, approver, at)
}

// Deny builds the PENDING → DENIED transition.
func Deny(id, note, approver string, at time.Time) Transition {
	return resolve(id, model.StatusDenied, note, approver, at)
}

func resolve(id string, to model.Status, note, approver string, at time.Time) Transition {
	if approver == "" {
		approver = DefaultApprover
	}
	return Transition{ID: id, From: model.StatusPending, To: to, At: at.UTC(), Actor: approver, Note: note}
}

// Executed builds the APPROVED → EXECUTED transition.
func Executed(id, result string, at time.Time) Transition {
	return Transition{ID: id, From: model.StatusApproved, To: model.StatusExecuted, At: at.UTC(), Result: &result}
}

// Failed builds the APPROVED → EXECUTION_FAILED transition.
func Failed(id string, cause error, at time.Time) Transition {
	msg := "dispatch failed"
	if cause != nil {
		msg = cause.Error()
	}
	return Transition{ID: id, From: model.StatusApproved, To: model.StatusExecutionFailed, At: at.UTC(), Error: &msg}
}

// Apply performs t on rec in place. It returns a *ConflictError if rec is
// not in t.From and leaves rec untouched on any error. Approval metadata
// set on the way to APPROVED is retained through the execution outcome.
func Apply(rec *model.Record, t Transition) error {
	if !CanTransition(t.From, t.To) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.From, t.To)
	}
	if rec.ToolCall.Status != t.From {
		return &ConflictError{ID: rec.ToolCall.ID, Current: rec.ToolCall.Status, Attempted: t.To}
	}

	rec.ToolCall.Status = t.To
	switch t.To {
	case model.StatusApproved, model.StatusDenied:
		at := t.At
		actor := t.Actor
		note := t.Note
		rec.ToolCall.ApprovedAt = &at
		rec.ToolCall.ApprovedBy = &actor
		if note != "" {
			rec.ToolCall.ApprovalNote = &note
		}
	case model.StatusExecuted:
		if t.Result != nil {
			v := *t.Result
			rec.ToolCall.Result = &v
		}
	case model.StatusExecutionFailed:
		if t.Error != nil {
			v := *t.Error
			rec.ToolCall.Error = &v
		}
	}
	return nil
}

// ConflictError describes a rejected transition.
type ConflictError struct {
	ID        string
	Current   model.Status
	Attempted model.Status
}

func (e *ConflictError) Error() string {
	if e.Attempted == model.StatusApproved || e.Attempted == model.StatusDenied {
		return fmt.Sprintf("tool call %s is not pending (status=%s)", e.ID, e.Current)
	}
	return fmt.Sprintf("tool call %s cannot move to %s (status=%s)", e.ID, e.Attempted, e.Current)
}

// Unwrap lets errors.Is match ErrStateConflict.
func (e *ConflictError) Unwrap() error { return ErrStateConflict }
