package storage

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"oguogu/core/challenge"
	"oguogu/crypto"
)

// ChallengeRepository is the sole writer of persisted challenge state.
type ChallengeRepository struct {
	db *gorm.DB
}

// NewChallengeRepository wraps a gorm handle.
func NewChallengeRepository(db *gorm.DB) *ChallengeRepository {
	return &ChallengeRepository{db: db}
}

// Get loads a challenge with its activities by commitment hash.
func (r *ChallengeRepository) Get(ctx context.Context, hash common.Hash) (*challenge.Challenge, error) {
	var record ChallengeRecord
	err := r.db.WithContext(ctx).
		Preload("Activities", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		First(&record, "hash = ?", hash.Hex()).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", challenge.ErrNotFound, hash.Hex())
		}
		return nil, fmt.Errorf("load challenge: %w", err)
	}
	return record.toDomain()
}

// GetByTokenID loads a challenge by its ledger-assigned id.
func (r *ChallengeRepository) GetByTokenID(ctx context.Context, tokenID *big.Int) (*challenge.Challenge, error) {
	if tokenID == nil {
		return nil, fmt.Errorf("%w: nil token id", challenge.ErrNotFound)
	}
	var record ChallengeRecord
	err := r.db.WithContext(ctx).
		Preload("Activities", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		First(&record, "token_id = ?", tokenID.Int64()).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: token %s", challenge.ErrNotFound, tokenID)
		}
		return nil, fmt.Errorf("load challenge: %w", err)
	}
	return record.toDomain()
}

// ListByChallenger returns the challenger's challenges, optionally
// filtered by status.
func (r *ChallengeRepository) ListByChallenger(ctx context.Context, challenger common.Address, statuses []challenge.Status) ([]*challenge.Challenge, error) {
	query := r.db.WithContext(ctx).
		Preload("Activities", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		Where("challenger_address = ?", challenger.Hex())
	if len(statuses) > 0 {
		values := make([]string, 0, len(statuses))
		for _, s := range statuses {
			values = append(values, string(s))
		}
		query = query.Where("status IN ?", values)
	}

	var records []ChallengeRecord
	if err := query.Order("created_at ASC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list challenges: %w", err)
	}
	challenges := make([]*challenge.Challenge, 0, len(records))
	for i := range records {
		ch, err := records[i].toDomain()
		if err != nil {
			return nil, err
		}
		challenges = append(challenges, ch)
	}
	return challenges, nil
}

// Create persists a freshly signed challenge in INIT.
func (r *ChallengeRepository) Create(ctx context.Context, ch *challenge.Challenge) error {
	record := recordFromChallenge(ch)
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&record).Error; err != nil {
			if isDuplicate(err) {
				return fmt.Errorf("%w: %s", challenge.ErrConflict, ch.Hash.Hex())
			}
			return fmt.Errorf("create challenge: %w", err)
		}
		return appendAudit(tx, ch.Hash, "challenge.created", fmt.Sprintf("challenger=%s reward=%s", ch.ChallengerAddress.Hex(), ch.RewardAmount))
	})
}

// UpdateOpen persists the INIT -> OPEN transition driven by a ledger
// creation event.
func (r *ChallengeRepository) UpdateOpen(ctx context.Context, ch *challenge.Challenge) error {
	if ch.TokenID == nil {
		return fmt.Errorf("update open: token id required")
	}
	tokenID := ch.TokenID.Int64()
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&ChallengeRecord{}).
			Where("hash = ?", ch.Hash.Hex()).
			Updates(map[string]any{
				"status":             string(ch.Status),
				"challenger_address": ch.ChallengerAddress.Hex(),
				"token_id":           tokenID,
			})
		if result.Error != nil {
			return fmt.Errorf("open challenge: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: %s", challenge.ErrNotFound, ch.Hash.Hex())
		}
		return appendAudit(tx, ch.Hash, "challenge.opened", fmt.Sprintf("token=%d", tokenID))
	})
}

// UpdateTerminal persists a settlement transition (SUCCESS or FAILED).
func (r *ChallengeRepository) UpdateTerminal(ctx context.Context, ch *challenge.Challenge) error {
	if !ch.Status.Terminal() {
		return fmt.Errorf("update terminal: status %s is not terminal", ch.Status)
	}
	var paymentTx *string
	if ch.PaymentTransaction != nil {
		hex := ch.PaymentTransaction.Hex()
		paymentTx = &hex
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&ChallengeRecord{}).
			Where("hash = ?", ch.Hash.Hex()).
			Updates(map[string]any{
				"status":              string(ch.Status),
				"payment_transaction": paymentTx,
				"payment_reward":      bigIntString(ch.PaymentReward),
				"complete_date":       ch.CompleteDate,
			})
		if result.Error != nil {
			return fmt.Errorf("settle challenge: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: %s", challenge.ErrNotFound, ch.Hash.Hex())
		}
		return appendAudit(tx, ch.Hash, "challenge.settled", fmt.Sprintf("status=%s reward=%s", ch.Status, bigIntString(ch.PaymentReward)))
	})
}

// FindActivity loads one activity by its composite key.
func (r *ChallengeRepository) FindActivity(ctx context.Context, challengeHash, activityHash common.Hash) (*challenge.Activity, error) {
	var record ActivityRecord
	err := r.db.WithContext(ctx).
		First(&record, "challenge_hash = ? AND activity_hash = ?", challengeHash.Hex(), activityHash.Hex()).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: activity %s", challenge.ErrNotFound, activityHash.Hex())
		}
		return nil, fmt.Errorf("load activity: %w", err)
	}
	return record.toDomain(), nil
}

// AddActivity inserts a graded but not yet confirmed activity. A
// concurrent duplicate loses on the composite primary key and surfaces
// as ErrDuplicateActivity.
func (r *ChallengeRepository) AddActivity(ctx context.Context, challengeHash common.Hash, activity *challenge.Activity) error {
	record := recordFromActivity(challengeHash, activity)
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&record).Error; err != nil {
			if isDuplicate(err) {
				return fmt.Errorf("%w: %s", challenge.ErrDuplicateActivity, activity.ActivityHash.Hex())
			}
			return fmt.Errorf("add activity: %w", err)
		}
		return appendAudit(tx, challengeHash, "activity.registered", activity.ActivityHash.Hex())
	})
}

// CompleteActivity stores the confirming transaction and block timestamp.
func (r *ChallengeRepository) CompleteActivity(ctx context.Context, challengeHash common.Hash, activity *challenge.Activity) error {
	if activity.ActivityTransaction == nil || activity.ActivityDate == nil {
		return fmt.Errorf("complete activity: confirmation data required")
	}
	txHash := activity.ActivityTransaction.Hex()
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&ActivityRecord{}).
			Where("challenge_hash = ? AND activity_hash = ?", challengeHash.Hex(), activity.ActivityHash.Hex()).
			Updates(map[string]any{
				"activity_transaction": txHash,
				"activity_date":        activity.ActivityDate,
			})
		if result.Error != nil {
			return fmt.Errorf("complete activity: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: activity %s", challenge.ErrNotFound, activity.ActivityHash.Hex())
		}
		return appendAudit(tx, challengeHash, "activity.completed", fmt.Sprintf("tx=%s", txHash))
	})
}

func appendAudit(tx *gorm.DB, challengeHash common.Hash, action, details string) error {
	event := AuditEvent{
		ID:            uuid.New(),
		ChallengeHash: challengeHash.Hex(),
		Action:        action,
		Details:       details,
		CreatedAt:     time.Now().UTC(),
	}
	if err := tx.Create(&event).Error; err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value")
}

func recordFromChallenge(ch *challenge.Challenge) ChallengeRecord {
	var tokenID *int64
	if ch.TokenID != nil {
		v := ch.TokenID.Int64()
		tokenID = &v
	}
	var paymentTx *string
	if ch.PaymentTransaction != nil {
		hex := ch.PaymentTransaction.Hex()
		paymentTx = &hex
	}
	activities := make([]ActivityRecord, 0, len(ch.Activities))
	for _, a := range ch.Activities {
		activities = append(activities, recordFromActivity(ch.Hash, a))
	}
	return ChallengeRecord{
		Hash:                 ch.Hash.Hex(),
		TokenID:              tokenID,
		Nonce:                ch.Nonce,
		Status:               string(ch.Status),
		ChallengerAddress:    ch.ChallengerAddress.Hex(),
		RewardAmount:         bigIntString(ch.RewardAmount),
		Title:                ch.Title,
		Type:                 string(ch.Type),
		StartDate:            ch.StartDate,
		EndDate:              ch.EndDate,
		MinimumActivityCount: ch.MinimumActivityCount,
		PaymentTransaction:   paymentTx,
		PaymentReward:        bigIntString(ch.PaymentReward),
		CompleteDate:         ch.CompleteDate,
		Activities:           activities,
	}
}

func (r *ChallengeRecord) toDomain() (*challenge.Challenge, error) {
	reward, ok := new(big.Int).SetString(r.RewardAmount, 10)
	if !ok {
		return nil, fmt.Errorf("challenge %s: malformed reward amount %q", r.Hash, r.RewardAmount)
	}
	paymentReward := new(big.Int)
	if r.PaymentReward != "" {
		paymentReward, ok = new(big.Int).SetString(r.PaymentReward, 10)
		if !ok {
			return nil, fmt.Errorf("challenge %s: malformed payment reward %q", r.Hash, r.PaymentReward)
		}
	}
	var tokenID *big.Int
	if r.TokenID != nil {
		tokenID = big.NewInt(*r.TokenID)
	}
	var paymentTx *common.Hash
	if r.PaymentTransaction != nil {
		hash := common.HexToHash(*r.PaymentTransaction)
		paymentTx = &hash
	}
	activities := make([]*challenge.Activity, 0, len(r.Activities))
	for i := range r.Activities {
		activities = append(activities, r.Activities[i].toDomain())
	}
	return &challenge.Challenge{
		Hash:                 common.HexToHash(r.Hash),
		TokenID:              tokenID,
		Nonce:                r.Nonce,
		Status:               challenge.Status(r.Status),
		ChallengerAddress:    common.HexToAddress(r.ChallengerAddress),
		RewardAmount:         reward,
		Title:                r.Title,
		Type:                 crypto.ChallengeType(r.Type),
		StartDate:            r.StartDate.UTC(),
		EndDate:              r.EndDate.UTC(),
		MinimumActivityCount: r.MinimumActivityCount,
		Activities:           activities,
		PaymentTransaction:   paymentTx,
		PaymentReward:        paymentReward,
		CompleteDate:         utcTimePtr(r.CompleteDate),
	}, nil
}

func recordFromActivity(challengeHash common.Hash, a *challenge.Activity) ActivityRecord {
	var activityTx *string
	if a.ActivityTransaction != nil {
		hex := a.ActivityTransaction.Hex()
		activityTx = &hex
	}
	return ActivityRecord{
		ChallengeHash:       challengeHash.Hex(),
		ActivityHash:        a.ActivityHash.Hex(),
		ActivityTransaction: activityTx,
		ActivityDate:        a.ActivityDate,
		ContentType:         a.Content["content_type"],
		Image:               a.Content["image"],
		ScreenshotDate:      a.Content["screenshot_date"],
	}
}

func (r *ActivityRecord) toDomain() *challenge.Activity {
	var activityTx *common.Hash
	if r.ActivityTransaction != nil {
		hash := common.HexToHash(*r.ActivityTransaction)
		activityTx = &hash
	}
	content := map[string]string{}
	if r.ContentType != "" {
		content["content_type"] = r.ContentType
	}
	if r.Image != "" {
		content["image"] = r.Image
	}
	if r.ScreenshotDate != "" {
		content["screenshot_date"] = r.ScreenshotDate
	}
	return &challenge.Activity{
		ActivityHash:        common.HexToHash(r.ActivityHash),
		ActivityTransaction: activityTx,
		ActivityDate:        utcTimePtr(r.ActivityDate),
		Content:             content,
	}
}

func bigIntString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func utcTimePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	utc := t.UTC()
	return &utc
}
