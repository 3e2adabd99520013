package challenge

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"oguogu/crypto"
)

// Status tracks a challenge through its lifecycle. Transitions only move
// forward: INIT -> OPEN -> SUCCESS | FAILED.
type Status string

const (
	// StatusInit marks a challenge whose commitment has been signed but
	// not yet confirmed on the ledger.
	StatusInit Status = "INIT"
	// StatusOpen marks a challenge with a confirmed on-ledger creation.
	StatusOpen Status = "OPEN"
	// StatusSuccess marks a settled challenge whose reward was paid out.
	StatusSuccess Status = "SUCCESS"
	// StatusFailed marks a settled challenge that missed its goal.
	StatusFailed Status = "FAILED"
)

// Terminal reports whether no further transitions are legal.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// Challenge is the aggregate root of the registry. Its hash is computed
// once at creation from the immutable commitment fields and is never
// recomputed; mutating any of those fields afterwards would desynchronize
// the local record from the on-ledger commitment.
type Challenge struct {
	Hash    common.Hash
	TokenID *big.Int // ledger-assigned id, nil until OPEN
	Nonce   uint32
	Status  Status

	ChallengerAddress common.Address
	RewardAmount      *big.Int

	Title string
	Type  crypto.ChallengeType

	StartDate            time.Time
	EndDate              time.Time
	MinimumActivityCount uint8

	Activities []*Activity

	PaymentTransaction *common.Hash
	PaymentReward      *big.Int
	CompleteDate       *time.Time
}

// New validates creation input, computes the commitment hash and returns
// a challenge in INIT. Invalid input never yields a half-built value.
func New(
	nonce uint32,
	challengerAddress string,
	rewardAmount *big.Int,
	title string,
	typ crypto.ChallengeType,
	startDate, endDate time.Time,
	minimumActivityCount uint8,
) (*Challenge, error) {
	if rewardAmount == nil || rewardAmount.Sign() <= 0 {
		return nil, ErrInvalidReward
	}
	if minimumActivityCount == 0 {
		return nil, ErrInvalidMinimumCount
	}
	if !common.IsHexAddress(challengerAddress) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidChallengerAddress, challengerAddress)
	}
	challenger := common.HexToAddress(challengerAddress)

	hash, err := crypto.ChallengeHash(title, rewardAmount, typ, challenger, startDate, endDate, nonce, minimumActivityCount)
	if err != nil {
		return nil, err
	}

	return &Challenge{
		Hash:                 hash,
		TokenID:              nil,
		Nonce:                nonce,
		Status:               StatusInit,
		ChallengerAddress:    challenger,
		RewardAmount:         new(big.Int).Set(rewardAmount),
		Title:                title,
		Type:                 typ,
		StartDate:            startDate,
		EndDate:              endDate,
		MinimumActivityCount: minimumActivityCount,
		Activities:           nil,
		PaymentReward:        new(big.Int),
	}, nil
}

// Open drives INIT -> OPEN in response to a confirmed ledger creation
// event. The event payload, not the original request, is the source of
// truth for the token id and the challenger address.
func (c *Challenge) Open(tokenID *big.Int, challenger common.Address) error {
	if c.Status != StatusInit {
		return fmt.Errorf("%w: open from %s", ErrIllegalTransition, c.Status)
	}
	if tokenID == nil {
		return fmt.Errorf("open: token id required")
	}
	c.TokenID = new(big.Int).Set(tokenID)
	c.ChallengerAddress = challenger
	c.Status = StatusOpen
	return nil
}

// AvailableToSubmitActivity reports whether a new activity may be
// registered: the challenge is OPEN, the deadline has not passed and the
// activity quota is not yet met.
func (c *Challenge) AvailableToSubmitActivity() bool {
	return c.Status == StatusOpen &&
		!c.EndDate.Before(time.Now().UTC()) &&
		len(c.Activities) < int(c.MinimumActivityCount)
}

// AvailableToComplete reports whether the challenge may be settled: it is
// OPEN and either enough activities were confirmed or the deadline passed.
func (c *Challenge) AvailableToComplete() bool {
	if c.Status != StatusOpen {
		return false
	}
	if len(c.Activities) >= int(c.MinimumActivityCount) {
		return true
	}
	return c.EndDate.Before(time.Now().UTC())
}

// Succeed drives OPEN -> SUCCESS with the settlement transaction, the
// paid reward and the confirming block's timestamp.
func (c *Challenge) Succeed(paymentTx common.Hash, paymentReward *big.Int, completeDate time.Time) error {
	return c.settle(StatusSuccess, paymentTx, paymentReward, completeDate)
}

// Fail drives OPEN -> FAILED.
func (c *Challenge) Fail(paymentTx common.Hash, paymentReward *big.Int, completeDate time.Time) error {
	return c.settle(StatusFailed, paymentTx, paymentReward, completeDate)
}

func (c *Challenge) settle(status Status, paymentTx common.Hash, paymentReward *big.Int, completeDate time.Time) error {
	if c.Status != StatusOpen {
		return fmt.Errorf("%w: settle from %s", ErrIllegalTransition, c.Status)
	}
	if completeDate.IsZero() {
		completeDate = time.Now().UTC()
	}
	if paymentReward == nil {
		paymentReward = new(big.Int)
	}
	c.Status = status
	c.PaymentTransaction = &paymentTx
	c.PaymentReward = new(big.Int).Set(paymentReward)
	c.CompleteDate = &completeDate
	return nil
}

// FindActivity returns the owned activity with the given hash, or nil.
func (c *Challenge) FindActivity(activityHash common.Hash) *Activity {
	for _, a := range c.Activities {
		if a.ActivityHash == activityHash {
			return a
		}
	}
	return nil
}
