package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"oguogu/core/challenge"
	"oguogu/crypto"
	"oguogu/ledger"
)

// ChallengeService registers challenge commitments and reconciles them
// against ledger creation events.
//
// The flow is split between the caller and the service: the service
// counter-signs the commitment, the caller submits the actual
// createChallenge transaction from their own wallet, then reports the
// transaction hash back for reconciliation.
type ChallengeService struct {
	repo     Repository
	signer   *crypto.Signer
	relay    TxRelay
	contract *ledger.Contract
	logger   *slog.Logger
}

// NewChallengeService wires the service's collaborators.
func NewChallengeService(repo Repository, signer *crypto.Signer, relay TxRelay, contract *ledger.Contract, logger *slog.Logger) *ChallengeService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChallengeService{repo: repo, signer: signer, relay: relay, contract: contract, logger: logger}
}

// SignNewChallenge persists a freshly constructed challenge and issues
// the operator counter-signature over its commitment hash.
//
// A repeat request for a hash still in INIT re-issues the signature
// instead of erroring: the caller may have lost the first response
// before submitting on-ledger. Once the challenge is OPEN or settled a
// repeat is a conflict.
func (s *ChallengeService) SignNewChallenge(ctx context.Context, ch *challenge.Challenge) (*challenge.Signature, error) {
	existing, err := s.repo.Get(ctx, ch.Hash)
	switch {
	case err == nil:
		if existing.Status != challenge.StatusInit {
			return nil, fmt.Errorf("%w: status %s", challenge.ErrConflict, existing.Status)
		}
		s.logger.Info("re-issuing challenge signature", "challenge", ch.Hash.Hex())
	case errors.Is(err, challenge.ErrNotFound):
		s.logger.Info("creating challenge", "challenge", ch.Hash.Hex(), "challenger", ch.ChallengerAddress.Hex())
		if err := s.repo.Create(ctx, ch); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	sig, err := s.signer.Sign(ch.Hash)
	if err != nil {
		return nil, err
	}
	return &challenge.Signature{
		ChallengeHash: ch.Hash,
		Signature:     sig,
		Payload: challenge.SignaturePayload{
			Reward:            ch.RewardAmount.String(),
			ChallengeHash:     ch.Hash.Hex(),
			DueDate:           ch.EndDate.Unix(),
			MinimumProofCount: uint64(ch.MinimumActivityCount),
			Recipient:         ch.ChallengerAddress.Hex(),
		},
	}, nil
}

// RegisterChallenge reconciles local state with the creation events
// emitted by a caller-submitted transaction. The event payload is the
// source of truth for the token id and challenger address.
//
// Replaying a transaction hash against already-OPEN challenges is a
// no-op; client retries are expected.
func (s *ChallengeService) RegisterChallenge(ctx context.Context, txHash common.Hash) error {
	s.logger.Info("registering challenge", "tx", txHash.Hex())
	receipt, err := s.relay.WaitForReceipt(ctx, txHash)
	if err != nil {
		return err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return &ledger.TransactionFailedError{TxHash: txHash, Status: receipt.Status}
	}

	events := s.contract.ChallengeCreatedEvents(receipt)
	if len(events) == 0 {
		return fmt.Errorf("transaction %s emitted no creation event", txHash.Hex())
	}
	for _, ev := range events {
		if err := s.applyCreated(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

func (s *ChallengeService) applyCreated(ctx context.Context, ev *ledger.ChallengeCreatedEvent) error {
	ch, err := s.repo.Get(ctx, ev.ChallengeHash)
	if err != nil {
		if errors.Is(err, challenge.ErrNotFound) {
			// The transaction may create challenges this instance never
			// signed; they are not ours to track.
			s.logger.Warn("creation event for unknown challenge", "challenge", ev.ChallengeHash.Hex())
			return nil
		}
		return err
	}
	if ch.Status != challenge.StatusInit {
		s.logger.Info("challenge already reconciled", "challenge", ch.Hash.Hex(), "status", string(ch.Status))
		return nil
	}
	if err := ch.Open(ev.TokenID, ev.Challenger); err != nil {
		return err
	}
	if err := s.repo.UpdateOpen(ctx, ch); err != nil {
		return err
	}
	s.logger.Info("challenge opened", "challenge", ch.Hash.Hex(), "token", ev.TokenID)
	return nil
}

// GetChallenge loads a challenge by commitment hash.
func (s *ChallengeService) GetChallenge(ctx context.Context, hash common.Hash) (*challenge.Challenge, error) {
	return s.repo.Get(ctx, hash)
}

// GetUserChallenge loads a challenge and verifies the caller owns it.
func (s *ChallengeService) GetUserChallenge(ctx context.Context, caller common.Address, hash common.Hash) (*challenge.Challenge, error) {
	ch, err := s.repo.Get(ctx, hash)
	if err != nil {
		return nil, err
	}
	if ch.ChallengerAddress != caller {
		return nil, ErrForbidden
	}
	return ch, nil
}

// ListChallenges returns the caller's challenges, optionally filtered by
// status.
func (s *ChallengeService) ListChallenges(ctx context.Context, caller common.Address, statuses []challenge.Status) ([]*challenge.Challenge, error) {
	return s.repo.ListByChallenger(ctx, caller, statuses)
}
