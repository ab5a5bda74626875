package model

import "errors"

var (
	// ErrInvalidInput marks a malformed upstream payload. The cycle fails immediately.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidTransition is returned for any status change outside the fixed edge lists.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrReplayIntegrity means the event history (or a snapshot it references) cannot be
	// reconstructed faithfully.
	ErrReplayIntegrity = errors.New("replay integrity violation")
	// ErrConflict is returned when a write loses an optimistic sequence or claim race.
	ErrConflict = errors.New("concurrent modification")
	// ErrPlanClosed is returned when advancing a completed, failed or cancelled plan.
	ErrPlanClosed = errors.New("plan is closed")
	// ErrNotCancellable is returned when cancellation is requested outside Paused or a waiting state.
	ErrNotCancellable = errors.New("plan cannot be cancelled in its current state")
)
