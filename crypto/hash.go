package crypto

import (
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// ChallengeType discriminates how a challenge is proven. The on-chain
// verifier encodes the type as a uint8, so every variant carries a fixed
// discriminant that must never change.
type ChallengeType string

const (
	// ChallengeTypePhotos is proven with photo evidence graded off-chain.
	ChallengeTypePhotos ChallengeType = "photos"
)

// Discriminant returns the uint8 value the contract packs for the type.
// Unknown types are rejected rather than silently encoding as zero.
func (t ChallengeType) Discriminant() (uint8, error) {
	switch t {
	case ChallengeTypePhotos:
		return 0, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownChallengeType, string(t))
	}
}

// ChallengeHash computes the canonical commitment hash for a challenge.
// The layout mirrors the contract's abi.encodePacked call byte for byte:
//
//	string ++ uint256 ++ uint8 ++ address ++ uint256 ++ uint256 ++ uint32 ++ uint8
//
// covering title, reward, type discriminant, challenger, start and end
// timestamps, nonce and minimum activity count. Variable-length fields are
// not length-prefixed; the encoding must stay aligned with the deployed
// verifier even though that leaves a theoretical ambiguity between the
// title and the fields that follow it.
func ChallengeHash(
	title string,
	reward *big.Int,
	typ ChallengeType,
	challenger common.Address,
	startDate, endDate time.Time,
	nonce uint32,
	minimumActivityCount uint8,
) (common.Hash, error) {
	disc, err := typ.Discriminant()
	if err != nil {
		return common.Hash{}, err
	}
	if reward == nil || reward.Sign() < 0 {
		return common.Hash{}, fmt.Errorf("reward must be a non-negative integer")
	}

	packed := make([]byte, 0, len(title)+32+1+20+32+32+4+1)
	packed = append(packed, []byte(title)...)
	packed = append(packed, packUint256(reward)...)
	packed = append(packed, disc)
	packed = append(packed, challenger.Bytes()...)
	packed = append(packed, packUint256(big.NewInt(startDate.Unix()))...)
	packed = append(packed, packUint256(big.NewInt(endDate.Unix()))...)
	packed = append(packed, byte(nonce>>24), byte(nonce>>16), byte(nonce>>8), byte(nonce))
	packed = append(packed, minimumActivityCount)

	return ethcrypto.Keccak256Hash(packed), nil
}

// ActivityHash derives the commitment over submitted evidence content.
// Content fields are sorted by key and concatenated as "key:value" pairs
// before hashing, so any client holding the same fields computes the same
// hash without a server round trip.
func ActivityHash(content map[string]string) common.Hash {
	keys := make([]string, 0, len(content))
	for k := range content {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var data []byte
	for _, k := range keys {
		data = append(data, k...)
		data = append(data, ':')
		data = append(data, content[k]...)
	}
	return ethcrypto.Keccak256Hash(data)
}

func packUint256(v *big.Int) []byte {
	out := make([]byte, 32)
	v.FillBytes(out)
	return out
}
