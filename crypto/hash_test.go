package crypto

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

func TestChallengeHashDeterministic(t *testing.T) {
	challenger := common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(7 * 24 * time.Hour)

	first, err := ChallengeHash("run every morning", big.NewInt(100), ChallengeTypePhotos, challenger, start, end, 1, 7)
	if err != nil {
		t.Fatalf("hash challenge: %v", err)
	}
	second, err := ChallengeHash("run every morning", big.NewInt(100), ChallengeTypePhotos, challenger, start, end, 1, 7)
	if err != nil {
		t.Fatalf("hash challenge: %v", err)
	}
	if first != second {
		t.Fatalf("hash not deterministic: %s != %s", first.Hex(), second.Hex())
	}
}

func TestChallengeHashMatchesPackedEncoding(t *testing.T) {
	challenger := common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	start := time.Unix(1735689600, 0).UTC()
	end := time.Unix(1736294400, 0).UTC()

	got, err := ChallengeHash("t", big.NewInt(5), ChallengeTypePhotos, challenger, start, end, 3, 2)
	if err != nil {
		t.Fatalf("hash challenge: %v", err)
	}

	// Reference encoding assembled field by field, the way the contract's
	// abi.encodePacked lays it out.
	var packed []byte
	packed = append(packed, 't')
	reward := make([]byte, 32)
	big.NewInt(5).FillBytes(reward)
	packed = append(packed, reward...)
	packed = append(packed, 0) // photos discriminant
	packed = append(packed, challenger.Bytes()...)
	ts := make([]byte, 32)
	big.NewInt(1735689600).FillBytes(ts)
	packed = append(packed, ts...)
	te := make([]byte, 32)
	big.NewInt(1736294400).FillBytes(te)
	packed = append(packed, te...)
	packed = append(packed, 0, 0, 0, 3)
	packed = append(packed, 2)

	if want := ethcrypto.Keccak256Hash(packed); got != want {
		t.Fatalf("packed encoding mismatch: got %s want %s", got.Hex(), want.Hex())
	}
}

func TestChallengeHashNonceChangesHash(t *testing.T) {
	challenger := common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	a, err := ChallengeHash("same", big.NewInt(1), ChallengeTypePhotos, challenger, start, end, 1, 1)
	if err != nil {
		t.Fatalf("hash challenge: %v", err)
	}
	b, err := ChallengeHash("same", big.NewInt(1), ChallengeTypePhotos, challenger, start, end, 2, 1)
	if err != nil {
		t.Fatalf("hash challenge: %v", err)
	}
	if a == b {
		t.Fatal("nonce did not perturb the hash")
	}
}

func TestChallengeHashRejectsUnknownType(t *testing.T) {
	_, err := ChallengeHash("x", big.NewInt(1), ChallengeType("videos"), common.Address{}, time.Now(), time.Now(), 1, 1)
	if !errors.Is(err, ErrUnknownChallengeType) {
		t.Fatalf("want ErrUnknownChallengeType, got %v", err)
	}
}

func TestActivityHashSortsKeys(t *testing.T) {
	a := ActivityHash(map[string]string{"b": "2", "a": "1"})
	b := ActivityHash(map[string]string{"a": "1", "b": "2"})
	if a != b {
		t.Fatalf("key order changed hash: %s != %s", a.Hex(), b.Hex())
	}
	if want := ethcrypto.Keccak256Hash([]byte("a:1b:2")); a != want {
		t.Fatalf("canonicalization mismatch: got %s want %s", a.Hex(), want.Hex())
	}
}

func TestActivityHashDistinguishesContent(t *testing.T) {
	a := ActivityHash(map[string]string{"test": "x"})
	b := ActivityHash(map[string]string{"test": "y"})
	if a == b {
		t.Fatal("different content hashed identically")
	}
}
