// Package registry hosts the use-case orchestrators composing the
// domain state machine with the repository, grader, object storage and
// ledger collaborators. All collaborators arrive through constructor
// injection; there is no ambient service state.
package registry

import (
	"context"
	"errors"
	"io"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"oguogu/core/challenge"
)

var (
	// ErrExternalService wraps grader or object-storage failures. These
	// are retryable by the caller.
	ErrExternalService = errors.New("registry: external service failure")

	// ErrSignatureMismatch is returned when a submitted signature does
	// not recover to the challenge's owner.
	ErrSignatureMismatch = errors.New("registry: signature does not match challenger")

	// ErrForbidden is returned when an authenticated caller asks for a
	// challenge owned by someone else.
	ErrForbidden = errors.New("registry: challenge belongs to another challenger")
)

// RejectedError carries the grader's verdict verbatim when evidence does
// not satisfy the challenge conditions.
type RejectedError struct {
	Message string
}

func (e *RejectedError) Error() string {
	return "registry: evidence rejected: " + e.Message
}

// Repository is the persistence contract for challenges and activities.
// Implementations must surface challenge.ErrNotFound for missing rows,
// challenge.ErrConflict for duplicate challenge hashes and
// challenge.ErrDuplicateActivity for uniqueness violations on the
// activity composite key.
type Repository interface {
	Get(ctx context.Context, hash common.Hash) (*challenge.Challenge, error)
	GetByTokenID(ctx context.Context, tokenID *big.Int) (*challenge.Challenge, error)
	ListByChallenger(ctx context.Context, challenger common.Address, statuses []challenge.Status) ([]*challenge.Challenge, error)
	Create(ctx context.Context, ch *challenge.Challenge) error
	UpdateOpen(ctx context.Context, ch *challenge.Challenge) error
	UpdateTerminal(ctx context.Context, ch *challenge.Challenge) error
	FindActivity(ctx context.Context, challengeHash, activityHash common.Hash) (*challenge.Activity, error)
	AddActivity(ctx context.Context, challengeHash common.Hash, activity *challenge.Activity) error
	CompleteActivity(ctx context.Context, challengeHash common.Hash, activity *challenge.Activity) error
}

// TxRelay submits operator transactions and resolves their receipts.
// *ledger.Orchestrator satisfies it.
type TxRelay interface {
	Submit(ctx context.Context, calldata []byte) (*types.Receipt, error)
	WaitForReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BlockTime(ctx context.Context, receipt *types.Receipt) (time.Time, error)
}

// ObjectStore persists opaque evidence payloads.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Stream(ctx context.Context, key string) (io.ReadCloser, string, error)
}

// Grader classifies submitted evidence against the challenge conditions.
type Grader interface {
	Grade(ctx context.Context, ch *challenge.Challenge, content *PhotoContent) (*GradeResult, error)
}

// GradeResult is the grader's verdict: accept/reject plus a
// human-readable message surfaced verbatim to the caller.
type GradeResult struct {
	IsCorrect bool   `json:"is_correct"`
	Message   string `json:"message"`
}
