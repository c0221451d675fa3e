package guard

import (
	"errors"
	"time"

	subscriptiondomain "github.com/recurhq/recur/internal/subscription/domain"
)

var (
	ErrNotRenewable   = errors.New("subscription_not_renewable")
	ErrPeriodOpen     = errors.New("billing_period_still_open")
	ErrTrialStillOpen = errors.New("trial_still_open")
	ErrNotPaused      = errors.New("subscription_not_paused")
)

// EnsureRenewable checks that a subscription is in a state the billing cycle
// may close and roll forward.
func EnsureRenewable(status subscriptiondomain.Status, periodEnd time.Time, now time.Time) error {
	if status != subscriptiondomain.StatusActive && status != subscriptiondomain.StatusPastDue {
		return ErrNotRenewable
	}
	if now.Before(periodEnd) {
		return ErrPeriodOpen
	}
	return nil
}

// EnsureTrialEnded checks that a trialing subscription has run out its trial
// window and is due for conversion.
func EnsureTrialEnded(status subscriptiondomain.Status, trialEnd *time.Time, now time.Time) error {
	if status != subscriptiondomain.StatusTrialing {
		return ErrNotRenewable
	}
	if trialEnd == nil || trialEnd.After(now) {
		return ErrTrialStillOpen
	}
	return nil
}

// PauseAction is what the pause sweep should do with a paused row.
type PauseAction int

const (
	PauseHold PauseAction = iota
	PauseResume
	PauseCancel
)

// PauseDisposition decides the fate of a paused subscription. A due resume
// timestamp wins over the auto-cancel cutoff so a subscriber who scheduled
// a resume is never cancelled by the same sweep.
func PauseDisposition(status subscriptiondomain.Status, pausedAt, resumesAt *time.Time, now time.Time, autoCancelAfter time.Duration) (PauseAction, error) {
	if status != subscriptiondomain.StatusPaused {
		return PauseHold, ErrNotPaused
	}
	if resumesAt != nil && !resumesAt.After(now) {
		return PauseResume, nil
	}
	if autoCancelAfter > 0 && pausedAt != nil && !pausedAt.Add(autoCancelAfter).After(now) {
		return PauseCancel, nil
	}
	return PauseHold, nil
}
