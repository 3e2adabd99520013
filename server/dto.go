package server

import (
	"time"

	"oguogu/core/challenge"
)

type challengeDTO struct {
	Hash   string `json:"hash"`
	ID     *int64 `json:"id"`
	Nonce  uint32 `json:"nonce"`
	Status string `json:"status"`

	ChallengerAddress string `json:"challenger_address"`
	RewardAmount      string `json:"reward_amount"`

	Title string `json:"title"`
	Type  string `json:"type"`

	StartDate            time.Time `json:"start_date"`
	EndDate              time.Time `json:"end_date"`
	MinimumActivityCount uint8     `json:"minimum_activity_count"`

	Activities []activityDTO `json:"activities"`

	PaymentTransaction *string    `json:"payment_transaction"`
	PaymentReward      string     `json:"payment_reward"`
	CompleteDate       *time.Time `json:"complete_date"`
}

type activityDTO struct {
	ActivityHash        string     `json:"activity_hash"`
	ActivityTransaction *string    `json:"activity_transaction"`
	ActivityDate        *time.Time `json:"activity_date"`

	ContentType    string `json:"content_type"`
	Image          string `json:"image"`
	ScreenshotDate string `json:"screenshot_date"`
}

type challengeListDTO struct {
	Challenges []challengeDTO `json:"challenges"`
}

type challengeCreateDTO struct {
	Nonce                uint32    `json:"nonce"`
	Title                string    `json:"title"`
	Type                 string    `json:"type"`
	RewardAmount         string    `json:"reward_amount"`
	StartDate            time.Time `json:"start_date"`
	EndDate              time.Time `json:"end_date"`
	MinimumActivityCount uint8     `json:"minimum_activity_count"`
}

type challengeSignatureDTO struct {
	ChallengeHash string                     `json:"challenge_hash"`
	Signature     string                     `json:"signature"`
	Payload       challenge.SignaturePayload `json:"payload"`
}

type challengeRegisterDTO struct {
	TransactionHash string `json:"transaction_hash"`
}

type activityHashDTO struct {
	ActivityHash string `json:"activity_hash"`
}

type okResponse struct {
	OK bool `json:"ok"`
}

func challengeToDTO(ch *challenge.Challenge) challengeDTO {
	dto := challengeDTO{
		Hash:                 ch.Hash.Hex(),
		Nonce:                ch.Nonce,
		Status:               string(ch.Status),
		ChallengerAddress:    ch.ChallengerAddress.Hex(),
		RewardAmount:         ch.RewardAmount.String(),
		Title:                ch.Title,
		Type:                 string(ch.Type),
		StartDate:            ch.StartDate,
		EndDate:              ch.EndDate,
		MinimumActivityCount: ch.MinimumActivityCount,
		Activities:           make([]activityDTO, 0, len(ch.Activities)),
		PaymentReward:        ch.PaymentReward.String(),
		CompleteDate:         ch.CompleteDate,
	}
	if ch.TokenID != nil {
		id := ch.TokenID.Int64()
		dto.ID = &id
	}
	if ch.PaymentTransaction != nil {
		tx := ch.PaymentTransaction.Hex()
		dto.PaymentTransaction = &tx
	}
	for _, a := range ch.Activities {
		dto.Activities = append(dto.Activities, activityToDTO(a))
	}
	return dto
}

func activityToDTO(a *challenge.Activity) activityDTO {
	dto := activityDTO{
		ActivityHash:   a.ActivityHash.Hex(),
		ActivityDate:   a.ActivityDate,
		ContentType:    a.Content["content_type"],
		Image:          a.Content["image"],
		ScreenshotDate: a.Content["screenshot_date"],
	}
	if a.ActivityTransaction != nil {
		tx := a.ActivityTransaction.Hex()
		dto.ActivityTransaction = &tx
	}
	return dto
}
