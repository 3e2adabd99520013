package ledger

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// contractABI covers the challenge registry entry points and the events
// the service reconciles against. The schema must stay aligned with the
// deployed contract; the event field layout is what the reconciliation
// loop decodes, so changes here are breaking.
const contractABI = `[
  {"type":"function","name":"createChallenge","stateMutability":"nonpayable","inputs":[
    {"name":"reward","type":"uint256"},
    {"name":"challengeHash","type":"bytes32"},
    {"name":"dueDate","type":"uint256"},
    {"name":"minimumProofCount","type":"uint64"},
    {"name":"receipent","type":"address"}],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"submitActivity","stateMutability":"nonpayable","inputs":[
    {"name":"tokenId","type":"uint256"},
    {"name":"activityHash","type":"bytes32"},
    {"name":"signature","type":"bytes"}],
   "outputs":[]},
  {"type":"function","name":"completeChallenge","stateMutability":"nonpayable","inputs":[
    {"name":"tokenId","type":"uint256"}],
   "outputs":[]},
  {"type":"event","name":"ChallengeCreated","anonymous":false,"inputs":[
    {"name":"tokenId","type":"uint256","indexed":true},
    {"name":"challengeHash","type":"bytes32","indexed":false},
    {"name":"challenger","type":"address","indexed":false}]},
  {"type":"event","name":"ChallengeCompleted","anonymous":false,"inputs":[
    {"name":"tokenId","type":"uint256","indexed":true},
    {"name":"status","type":"uint8","indexed":false},
    {"name":"paymentReward","type":"uint256","indexed":false}]}
]`

// Challenge completion status codes emitted by the contract.
const (
	CompletedStatusSuccess uint8 = 1
	CompletedStatusFailed  uint8 = 2
)

// Contract binds the registry contract's address and ABI.
type Contract struct {
	address common.Address
	abi     abi.ABI
}

// NewContract parses the embedded ABI for the contract at address.
func NewContract(address common.Address) (*Contract, error) {
	parsed, err := abi.JSON(strings.NewReader(contractABI))
	if err != nil {
		return nil, fmt.Errorf("parse contract abi: %w", err)
	}
	return &Contract{address: address, abi: parsed}, nil
}

// Address returns the deployed contract address.
func (c *Contract) Address() common.Address {
	return c.address
}

// PackSubmitActivity encodes a submitActivity call.
func (c *Contract) PackSubmitActivity(tokenID *big.Int, activityHash common.Hash, signature []byte) ([]byte, error) {
	if tokenID == nil {
		return nil, fmt.Errorf("token id required")
	}
	data, err := c.abi.Pack("submitActivity", tokenID, [32]byte(activityHash), signature)
	if err != nil {
		return nil, fmt.Errorf("pack submitActivity: %w", err)
	}
	return data, nil
}

// PackCompleteChallenge encodes a completeChallenge call.
func (c *Contract) PackCompleteChallenge(tokenID *big.Int) ([]byte, error) {
	if tokenID == nil {
		return nil, fmt.Errorf("token id required")
	}
	data, err := c.abi.Pack("completeChallenge", tokenID)
	if err != nil {
		return nil, fmt.Errorf("pack completeChallenge: %w", err)
	}
	return data, nil
}

// ChallengeCreatedEvent is the decoded creation event.
type ChallengeCreatedEvent struct {
	TokenID       *big.Int
	ChallengeHash common.Hash
	Challenger    common.Address
}

// ChallengeCompletedEvent is the decoded settlement event.
type ChallengeCompletedEvent struct {
	TokenID       *big.Int
	Status        uint8
	PaymentReward *big.Int
}

// ParseChallengeCreated decodes a single log entry, or errors when the
// entry does not carry a ChallengeCreated event from this contract.
func (c *Contract) ParseChallengeCreated(entry *types.Log) (*ChallengeCreatedEvent, error) {
	ev := c.abi.Events["ChallengeCreated"]
	if err := c.matchEvent(entry, ev.ID); err != nil {
		return nil, err
	}
	values, err := c.abi.Unpack("ChallengeCreated", entry.Data)
	if err != nil {
		return nil, fmt.Errorf("unpack ChallengeCreated: %w", err)
	}
	if len(values) != 2 {
		return nil, fmt.Errorf("unpack ChallengeCreated: %d values", len(values))
	}
	hashBytes, ok := values[0].([32]byte)
	if !ok {
		return nil, fmt.Errorf("unpack ChallengeCreated: unexpected hash type %T", values[0])
	}
	challenger, ok := values[1].(common.Address)
	if !ok {
		return nil, fmt.Errorf("unpack ChallengeCreated: unexpected challenger type %T", values[1])
	}
	return &ChallengeCreatedEvent{
		TokenID:       new(big.Int).SetBytes(entry.Topics[1].Bytes()),
		ChallengeHash: common.Hash(hashBytes),
		Challenger:    challenger,
	}, nil
}

// ParseChallengeCompleted decodes a single settlement log entry.
func (c *Contract) ParseChallengeCompleted(entry *types.Log) (*ChallengeCompletedEvent, error) {
	ev := c.abi.Events["ChallengeCompleted"]
	if err := c.matchEvent(entry, ev.ID); err != nil {
		return nil, err
	}
	values, err := c.abi.Unpack("ChallengeCompleted", entry.Data)
	if err != nil {
		return nil, fmt.Errorf("unpack ChallengeCompleted: %w", err)
	}
	if len(values) != 2 {
		return nil, fmt.Errorf("unpack ChallengeCompleted: %d values", len(values))
	}
	status, ok := values[0].(uint8)
	if !ok {
		return nil, fmt.Errorf("unpack ChallengeCompleted: unexpected status type %T", values[0])
	}
	reward, ok := values[1].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unpack ChallengeCompleted: unexpected reward type %T", values[1])
	}
	return &ChallengeCompletedEvent{
		TokenID:       new(big.Int).SetBytes(entry.Topics[1].Bytes()),
		Status:        status,
		PaymentReward: reward,
	}, nil
}

// ChallengeCreatedEvents decodes every matching event in the receipt,
// skipping unrelated log entries. A transaction may interleave logs from
// other contracts; those are expected noise, not errors.
func (c *Contract) ChallengeCreatedEvents(receipt *types.Receipt) []*ChallengeCreatedEvent {
	var events []*ChallengeCreatedEvent
	for _, entry := range receipt.Logs {
		if entry == nil {
			continue
		}
		ev, err := c.ParseChallengeCreated(entry)
		if err != nil {
			continue
		}
		events = append(events, ev)
	}
	return events
}

// ChallengeCompletedEvents decodes every matching settlement event.
func (c *Contract) ChallengeCompletedEvents(receipt *types.Receipt) []*ChallengeCompletedEvent {
	var events []*ChallengeCompletedEvent
	for _, entry := range receipt.Logs {
		if entry == nil {
			continue
		}
		ev, err := c.ParseChallengeCompleted(entry)
		if err != nil {
			continue
		}
		events = append(events, ev)
	}
	return events
}

func (c *Contract) matchEvent(entry *types.Log, id common.Hash) error {
	if entry.Address != c.address {
		return fmt.Errorf("log from foreign contract %s", entry.Address.Hex())
	}
	if len(entry.Topics) < 2 {
		return fmt.Errorf("log missing topics")
	}
	if entry.Topics[0] != id {
		return fmt.Errorf("log topic mismatch")
	}
	return nil
}
