package challenge

import "errors"

var (
	// ErrInvalidReward rejects creation with a non-positive reward.
	ErrInvalidReward = errors.New("challenge: reward amount must be greater than 0")

	// ErrInvalidMinimumCount rejects creation with a non-positive
	// minimum activity count.
	ErrInvalidMinimumCount = errors.New("challenge: minimum activity count must be greater than 0")

	// ErrInvalidChallengerAddress rejects creation with a malformed
	// account address.
	ErrInvalidChallengerAddress = errors.New("challenge: invalid challenger address")

	// ErrIllegalTransition is returned by state-machine mutators invoked
	// outside their legal source state.
	ErrIllegalTransition = errors.New("challenge: illegal status transition")

	// ErrNotFound is returned by the repository when no challenge or
	// activity matches the lookup key.
	ErrNotFound = errors.New("challenge: not found")

	// ErrConflict marks a re-creation attempt for a challenge that has
	// already left INIT.
	ErrConflict = errors.New("challenge: already registered")

	// ErrDuplicateActivity marks a second submission of identical
	// evidence for the same challenge.
	ErrDuplicateActivity = errors.New("challenge: activity already submitted")

	// ErrNotEligible gates operations against the state-machine
	// predicates (submission window closed, completion conditions unmet).
	ErrNotEligible = errors.New("challenge: operation not available in current state")
)
