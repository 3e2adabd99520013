package registry

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"oguogu/core/challenge"
	"oguogu/ledger"
)

// RewardService settles challenges on the ledger once their outcome is
// decided and reconciles the settlement event into local state.
type RewardService struct {
	repo     Repository
	relay    TxRelay
	contract *ledger.Contract
	logger   *slog.Logger
}

// NewRewardService wires the service's collaborators.
func NewRewardService(repo Repository, relay TxRelay, contract *ledger.Contract, logger *slog.Logger) *RewardService {
	if logger == nil {
		logger = slog.Default()
	}
	return &RewardService{repo: repo, relay: relay, contract: contract, logger: logger}
}

// CompleteChallenge submits the settlement transaction for an eligible
// challenge and records the outcome the contract decided. The contract
// is the arbiter: the local record only mirrors the status and payout
// carried by the settlement event.
//
// Completing an already-settled challenge returns the stored record
// unchanged.
func (s *RewardService) CompleteChallenge(ctx context.Context, challengeHash common.Hash) (*challenge.Challenge, error) {
	ch, err := s.repo.Get(ctx, challengeHash)
	if err != nil {
		return nil, err
	}
	if ch.Status.Terminal() {
		s.logger.Info("challenge already settled", "challenge", ch.Hash.Hex(), "status", string(ch.Status))
		return ch, nil
	}
	if !ch.AvailableToComplete() {
		return nil, challenge.ErrNotEligible
	}

	data, err := s.contract.PackCompleteChallenge(ch.TokenID)
	if err != nil {
		return nil, err
	}
	receipt, err := s.relay.Submit(ctx, data)
	if err != nil {
		return nil, err
	}

	events := s.contract.ChallengeCompletedEvents(receipt)
	if len(events) == 0 {
		return nil, fmt.Errorf("settlement %s emitted no completion event", receipt.TxHash.Hex())
	}
	settledAt, err := s.relay.BlockTime(ctx, receipt)
	if err != nil {
		return nil, err
	}

	// One outcome event is expected per settlement; repeats carrying the
	// same outcome are tolerated as no-ops.
	for _, ev := range events {
		target := challenge.StatusFailed
		if ev.Status == ledger.CompletedStatusSuccess {
			target = challenge.StatusSuccess
		}
		if ch.Status == target {
			continue
		}
		if target == challenge.StatusSuccess {
			err = ch.Succeed(receipt.TxHash, ev.PaymentReward, settledAt)
		} else {
			err = ch.Fail(receipt.TxHash, ev.PaymentReward, settledAt)
		}
		if err != nil {
			return nil, err
		}
	}
	if err := s.repo.UpdateTerminal(ctx, ch); err != nil {
		return nil, err
	}
	s.logger.Info("challenge settled",
		"challenge", ch.Hash.Hex(),
		"status", string(ch.Status),
		"reward", ch.PaymentReward,
		"tx", receipt.TxHash.Hex())
	return ch, nil
}
