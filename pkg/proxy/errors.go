package proxy

import (
	"errors"
	"fmt"

	"personaproxy/pkg/sink"
	"personaproxy/pkg/store"
)

// Failure classes surfaced to the command layer. Everything the engine
// returns wraps one of these; callers classify with errors.Is.
var (
	// ErrValidation covers bad input rejected before any side effect:
	// unknown owner/persona, malformed ids, bad tag syntax.
	ErrValidation = errors.New("validation failed")
	// ErrTransient covers platform rate limits and timeouts. One bounded
	// retry is allowed for stale handles only; everything else surfaces.
	ErrTransient = errors.New("transient platform failure")
	// ErrPermanent covers missing permissions and deleted channels.
	ErrPermanent = errors.New("permanent platform failure")
	// ErrConsistency marks a rejected mutation, e.g. a monotonic-front
	// breach. Nothing was changed.
	ErrConsistency = errors.New("consistency violation")
	// ErrNotFound covers unknown substituted messages and switch
	// records on edit/reproxy/delete/move.
	ErrNotFound = errors.New("not found")
)

// ErrNoSwitch is returned by the ledger operations when the owner has
// no switches recorded.
var ErrNoSwitch = fmt.Errorf("%w: no switches recorded", ErrNotFound)

// StepError names the pipeline step that failed so operators can tell
// "nothing happened" from "posted but original not removed".
type StepError struct {
	Step string // resolve | post | record | delete
	Err  error
}

func (e *StepError) Error() string { return e.Step + ": " + e.Err.Error() }

func (e *StepError) Unwrap() error { return e.Err }

func stepErr(step string, err error) error { return &StepError{Step: step, Err: err} }

// classify maps sink and store failures onto the engine taxonomy.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrValidation), errors.Is(err, ErrTransient),
		errors.Is(err, ErrPermanent), errors.Is(err, ErrConsistency),
		errors.Is(err, ErrNotFound):
		return err
	case errors.Is(err, sink.ErrPermission):
		return fmt.Errorf("%w: %v", ErrPermanent, err)
	case errors.Is(err, sink.ErrRateLimited):
		return fmt.Errorf("%w: %v", ErrTransient, err)
	case errors.Is(err, sink.ErrIdentityNotFound), errors.Is(err, sink.ErrMessageNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	default:
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
}

// OutcomeKind is the terminal state of one inbound message.
type OutcomeKind string

const (
	// OutcomeNoAction means the message passed through unmodified.
	OutcomeNoAction OutcomeKind = "no_action"
	// OutcomeSubstituted means the original was replaced.
	OutcomeSubstituted OutcomeKind = "substituted"
	// OutcomeFailed means the pipeline stopped on an error; Err and
	// Step carry the detail.
	OutcomeFailed OutcomeKind = "failed"
)

// Outcome is the result of ResolveAndSubstitute.
type Outcome struct {
	Kind OutcomeKind
	// MessageID is the substituted platform message id when Kind is
	// OutcomeSubstituted.
	MessageID string
	// Step names the failing pipeline step when Kind is OutcomeFailed.
	Step string
	Err  error
}

func noAction() Outcome { return Outcome{Kind: OutcomeNoAction} }

func failed(step string, err error) Outcome {
	return Outcome{Kind: OutcomeFailed, Step: step, Err: stepErr(step, classify(err))}
}
