package challenge

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"oguogu/crypto"
)

// Activity is a proof-of-performance record owned by a challenge. Its key
// is content-derived, so a client can compute it before submission and
// identical evidence collides on the composite (challenge, activity) key.
type Activity struct {
	ActivityHash common.Hash

	ActivityTransaction *common.Hash // set once confirmed on-ledger
	ActivityDate        *time.Time   // confirming block timestamp

	Content map[string]string
}

// NewActivity hashes the evidence content into a fresh, uncompleted
// activity record.
func NewActivity(content map[string]string) *Activity {
	return &Activity{
		ActivityHash: crypto.ActivityHash(content),
		Content:      content,
	}
}

// Completed reports whether the activity has been confirmed on-ledger.
func (a *Activity) Completed() bool {
	return a.ActivityTransaction != nil
}

// Complete records the confirming transaction and its block timestamp.
// An activity completes exactly once.
func (a *Activity) Complete(tx common.Hash, activityDate time.Time) error {
	if a.Completed() {
		return fmt.Errorf("%w: activity %s", ErrDuplicateActivity, a.ActivityHash.Hex())
	}
	a.ActivityTransaction = &tx
	a.ActivityDate = &activityDate
	return nil
}

// Signature is the transient commitment handed back to a caller so they
// can submit the ledger transaction themselves. Payload carries the exact
// field order the contract's createChallenge entry point expects.
type Signature struct {
	ChallengeHash common.Hash
	Signature     []byte
	Payload       SignaturePayload
}

// SignaturePayload mirrors createChallenge(reward, challengeHash,
// dueDate, minimumProofCount, receipent) on the contract.
type SignaturePayload struct {
	Reward            string `json:"reward"`
	ChallengeHash     string `json:"challengeHash"`
	DueDate           int64  `json:"dueDate"`
	MinimumProofCount uint64 `json:"minimumProofCount"`
	Recipient         string `json:"receipent"`
}
