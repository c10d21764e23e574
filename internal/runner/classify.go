package runner

import (
	"time"

	"blog-content-engine/internal/ai"
)

// Action is the runner's decision for one processing outcome.
type Action int

const (
	// ActionHold keeps the claimed job in processing and retries it
	// after a backoff window; the attempt is not spent.
	ActionHold Action = iota
	// ActionFail hands the job to MarkFailed, which decides retry vs
	// permanent from the attempt count.
	ActionFail
)

// Class identifies why a provider call failed, as far as backoff cares.
type Class int

const (
	ClassOther Class = iota
	ClassRateLimited
	ClassPaymentRequired
)

// Classify inspects a processing error for the provider conditions
// that mean "wait, do not burn an attempt".
func Classify(err error) Class {
	switch {
	case ai.IsPaymentRequired(err):
		return ClassPaymentRequired
	case ai.IsRateLimited(err):
		return ClassRateLimited
	default:
		return ClassOther
	}
}

// Decide maps (classification, holds so far) to the runner's action.
// Rate-limit and billing errors are a holding pattern up to maxHolds;
// past that, or for any other error, the failure is genuine.
func Decide(class Class, holds, maxHolds int) Action {
	if class == ClassOther {
		return ActionFail
	}
	if holds >= maxHolds {
		return ActionFail
	}
	return ActionHold
}

// HoldDelay picks the backoff window for a hold. Billing problems take
// longer to clear than per-minute rate limits, so they wait longer.
func HoldDelay(class Class, rateLimitBackoff, paymentBackoff time.Duration) time.Duration {
	if class == ClassPaymentRequired {
		return paymentBackoff
	}
	return rateLimitBackoff
}
