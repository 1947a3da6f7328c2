package bridge

import (
	"time"

	"github.com/speedrun-hq/offramp-settler/pkg/models"
)

// DefaultCompletionTimeout is how long a pending execution with a transaction
// reference may stay pending before it is treated as settled
const DefaultCompletionTimeout = 5 * time.Minute

// ProviderContext is what the classifier knows about the running execution
type ProviderContext struct {
	Expectation Expectation
	// FirstRefAt is when the first non-placeholder reference was seen, zero if none yet
	FirstRefAt time.Time
	Timeout    time.Duration
	// Failed is set once the provider reported a terminal error after a reference was seen
	Failed bool
}

// Decision is the outcome of classifying a progress event
type Decision struct {
	Complete bool
	Signal   models.CompletionSignal
	// Refs are the non-placeholder references counted for the decision
	Refs []models.TransactionRef
}

// RealRefs drops placeholder references
func RealRefs(refs []models.TransactionRef) []models.TransactionRef {
	out := make([]models.TransactionRef, 0, len(refs))
	for _, ref := range refs {
		if !ref.IsPlaceholder() {
			out = append(out, ref)
		}
	}
	return out
}

// Classify decides whether an execution is complete given the latest event.
// A complete status or a validating one with every expected reference is standard completion.
// Standard completion wins over reduced-signal, which wins over timeout.
// Error events never complete, nor does anything after a terminal provider error.
func Classify(ev models.ProgressEvent, pc ProviderContext, now time.Time) Decision {
	refs := RealRefs(ev.TxRefs)
	if ev.Err != nil || pc.Failed || len(refs) == 0 {
		return Decision{Refs: refs}
	}

	expected := pc.Expectation.TxRefs
	if expected <= 0 {
		expected = 1
	}

	// complete is the provider's final verdict, the destination reference may never be reported
	if ev.Status == models.StepComplete || (ev.Status == models.StepValidating && len(refs) >= expected) {
		return Decision{Complete: true, Signal: models.SignalStandard, Refs: refs}
	}

	if pc.Expectation.SingleHashOnly && len(refs) == 1 {
		return Decision{Complete: true, Signal: models.SignalReducedSignal, Refs: refs}
	}

	timeout := pc.Timeout
	if timeout <= 0 {
		timeout = DefaultCompletionTimeout
	}
	if !pc.FirstRefAt.IsZero() && now.Sub(pc.FirstRefAt) >= timeout {
		return Decision{Complete: true, Signal: models.SignalTimeout, Refs: refs}
	}

	return Decision{Refs: refs}
}
