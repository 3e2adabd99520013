package storage

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ChallengeRecord is the persisted form of a challenge. The commitment
// hash is the primary key; the ledger token id arrives later and is kept
// nullable until the creation event confirms.
type ChallengeRecord struct {
	Hash    string `gorm:"primaryKey;size:66"`
	TokenID *int64 `gorm:"index"`
	Nonce   uint32
	Status  string `gorm:"size:16;index"`

	// Reward magnitudes are stored as decimal text. NUMERIC affinity on
	// sqlite coerces large values to float; postgres upgrades these
	// columns to exact numerics in AutoMigrate.
	ChallengerAddress string `gorm:"size:42;index"`
	RewardAmount      string `gorm:"type:text"`

	Title string `gorm:"size:256"`
	Type  string `gorm:"size:16"`

	StartDate            time.Time
	EndDate              time.Time
	MinimumActivityCount uint8

	PaymentTransaction *string `gorm:"size:66"`
	PaymentReward      string  `gorm:"type:text"`
	CompleteDate       *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time

	Activities []ActivityRecord `gorm:"foreignKey:ChallengeHash;references:Hash"`
}

// ActivityRecord is a proof-of-performance row. The composite primary key
// is what turns a duplicate submission race into a uniqueness violation
// instead of a second row.
type ActivityRecord struct {
	ChallengeHash string `gorm:"primaryKey;size:66"`
	ActivityHash  string `gorm:"primaryKey;size:66"`

	ActivityTransaction *string `gorm:"size:66"`
	ActivityDate        *time.Time

	ContentType    string `gorm:"size:64"`
	Image          string `gorm:"type:text"` // base64 data URL
	ScreenshotDate string `gorm:"size:64"`

	CreatedAt time.Time
}

// AuditEvent is an append-only trail of lifecycle transitions.
type AuditEvent struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	ChallengeHash string    `gorm:"size:66;index"`
	Action        string    `gorm:"size:64"`
	Details       string    `gorm:"type:text"`
	CreatedAt     time.Time
}

// AutoMigrate performs all schema migrations for the service.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&ChallengeRecord{},
		&ActivityRecord{},
		&AuditEvent{},
	); err != nil {
		return err
	}
	if db.Dialector.Name() != "postgres" {
		return nil
	}
	for _, stmt := range []string{
		`ALTER TABLE challenge_records ALTER COLUMN reward_amount TYPE numeric(78,0) USING reward_amount::numeric`,
		`ALTER TABLE challenge_records ALTER COLUMN payment_reward TYPE numeric(78,0) USING payment_reward::numeric`,
	} {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}
