package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"oguogu/core/challenge"
	"oguogu/crypto"
	"oguogu/ledger"
)

// ActivityService handles evidence intake, grading, and on-ledger
// submission of accepted activities.
type ActivityService struct {
	repo     Repository
	relay    TxRelay
	contract *ledger.Contract
	store    ObjectStore
	grader   Grader
	logger   *slog.Logger
}

// NewActivityService wires the service's collaborators.
func NewActivityService(repo Repository, relay TxRelay, contract *ledger.Contract, store ObjectStore, grader Grader, logger *slog.Logger) *ActivityService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ActivityService{repo: repo, relay: relay, contract: contract, store: store, grader: grader, logger: logger}
}

// RegisterActivity grades photo evidence against an open challenge and,
// when accepted, records the activity and archives the image. The
// returned activity is not yet anchored on the ledger; the caller signs
// its hash and calls SubmitActivity to anchor it. Resubmitting evidence
// that already produced an activity is a conflict.
func (s *ActivityService) RegisterActivity(ctx context.Context, caller common.Address, challengeHash common.Hash, photo *PhotoContent) (*challenge.Activity, error) {
	ch, err := s.repo.Get(ctx, challengeHash)
	if err != nil {
		return nil, err
	}
	if ch.ChallengerAddress != caller {
		return nil, ErrForbidden
	}
	if !ch.AvailableToSubmitActivity() {
		return nil, challenge.ErrNotEligible
	}

	// The activity hash is content-derived, so a duplicate is detectable
	// before spending a grader call.
	activity := challenge.NewActivity(photo.Map())
	if _, err := s.repo.FindActivity(ctx, ch.Hash, activity.ActivityHash); err == nil {
		return nil, fmt.Errorf("%w: %s", challenge.ErrDuplicateActivity, activity.ActivityHash.Hex())
	} else if !errors.Is(err, challenge.ErrNotFound) {
		return nil, err
	}

	verdict, err := s.grader.Grade(ctx, ch, photo)
	if err != nil {
		return nil, err
	}
	if !verdict.IsCorrect {
		s.logger.Info("activity rejected", "challenge", ch.Hash.Hex(), "message", verdict.Message)
		return nil, &RejectedError{Message: verdict.Message}
	}

	key := objectKey(ch.Hash, activity.ActivityHash)
	if err := s.store.Put(ctx, key, photo.Image, photo.ContentType); err != nil {
		return nil, fmt.Errorf("%w: object store: %v", ErrExternalService, err)
	}
	if err := s.repo.AddActivity(ctx, ch.Hash, activity); err != nil {
		return nil, err
	}
	s.logger.Info("activity registered", "challenge", ch.Hash.Hex(), "activity", activity.ActivityHash.Hex())
	return activity, nil
}

// SubmitActivity anchors a registered activity on the ledger. The
// signature must be the challenger's over the activity hash; it is
// forwarded to the contract, which performs the same recovery.
// Anchoring an already-anchored activity is a conflict, detected before
// any ledger call.
func (s *ActivityService) SubmitActivity(ctx context.Context, caller common.Address, challengeHash, activityHash common.Hash, signature []byte) (*challenge.Activity, error) {
	ch, err := s.repo.Get(ctx, challengeHash)
	if err != nil {
		return nil, err
	}
	if ch.ChallengerAddress != caller {
		return nil, ErrForbidden
	}

	recovered, err := crypto.RecoverDigest(activityHash, signature)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignatureMismatch, err)
	}
	if recovered != ch.ChallengerAddress {
		return nil, ErrSignatureMismatch
	}

	activity := ch.FindActivity(activityHash)
	if activity == nil {
		return nil, fmt.Errorf("%w: activity %s", challenge.ErrNotFound, activityHash.Hex())
	}
	if activity.Completed() {
		return nil, fmt.Errorf("%w: anchored by %s", challenge.ErrDuplicateActivity, activity.ActivityTransaction.Hex())
	}
	if ch.Status != challenge.StatusOpen {
		return nil, challenge.ErrNotEligible
	}

	data, err := s.contract.PackSubmitActivity(ch.TokenID, activityHash, signature)
	if err != nil {
		return nil, err
	}
	receipt, err := s.relay.Submit(ctx, data)
	if err != nil {
		return nil, err
	}
	anchoredAt, err := s.relay.BlockTime(ctx, receipt)
	if err != nil {
		return nil, err
	}

	if err := activity.Complete(receipt.TxHash, anchoredAt); err != nil {
		return nil, err
	}
	if err := s.repo.CompleteActivity(ctx, ch.Hash, activity); err != nil {
		return nil, err
	}
	s.logger.Info("activity anchored", "challenge", ch.Hash.Hex(), "activity", activityHash.Hex(), "tx", receipt.TxHash.Hex())
	return activity, nil
}

// FindActivity loads one of the caller's activities.
func (s *ActivityService) FindActivity(ctx context.Context, caller common.Address, challengeHash, activityHash common.Hash) (*challenge.Activity, error) {
	ch, err := s.repo.Get(ctx, challengeHash)
	if err != nil {
		return nil, err
	}
	if ch.ChallengerAddress != caller {
		return nil, ErrForbidden
	}
	return s.repo.FindActivity(ctx, challengeHash, activityHash)
}

// StreamActivityImage streams the archived evidence image.
func (s *ActivityService) StreamActivityImage(ctx context.Context, challengeHash, activityHash common.Hash) (io.ReadCloser, string, error) {
	if _, err := s.repo.FindActivity(ctx, challengeHash, activityHash); err != nil {
		return nil, "", err
	}
	body, contentType, err := s.store.Stream(ctx, objectKey(challengeHash, activityHash))
	if err != nil {
		return nil, "", fmt.Errorf("%w: object store: %v", ErrExternalService, err)
	}
	return body, contentType, nil
}

func objectKey(challengeHash, activityHash common.Hash) string {
	return fmt.Sprintf("%s/%s", challengeHash.Hex(), activityHash.Hex())
}
