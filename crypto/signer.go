package crypto

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

var (
	// ErrInvalidSignature marks signatures that cannot be parsed or whose
	// recovery id is out of range.
	ErrInvalidSignature = errors.New("crypto: invalid signature")

	// ErrUnknownChallengeType marks an unsupported challenge type
	// discriminant.
	ErrUnknownChallengeType = errors.New("crypto: unknown challenge type")
)

// Signer holds the operator key used to counter-sign challenge commitments.
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewSigner parses a hex-encoded secp256k1 private key.
func NewSigner(privKeyHex string) (*Signer, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(privKeyHex), "0x")
	if trimmed == "" {
		return nil, fmt.Errorf("empty operator key")
	}
	key, err := ethcrypto.HexToECDSA(trimmed)
	if err != nil {
		return nil, fmt.Errorf("load operator key: %w", err)
	}
	return newSigner(key), nil
}

// GenerateSigner creates a signer backed by a fresh random key.
func GenerateSigner() (*Signer, error) {
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate operator key: %w", err)
	}
	return newSigner(key), nil
}

func newSigner(key *ecdsa.PrivateKey) *Signer {
	return &Signer{
		key:     key,
		address: ethcrypto.PubkeyToAddress(key.PublicKey),
	}
}

// Address returns the operator's account address.
func (s *Signer) Address() common.Address {
	return s.address
}

// Key exposes the underlying private key for transaction signing.
func (s *Signer) Key() *ecdsa.PrivateKey {
	return s.key
}

// Sign produces an EIP-191 personal-message signature over the digest.
// The prefix scheme keeps the signature from doubling as a raw ledger
// transaction. V is returned as 27/28 per wallet convention.
func (s *Signer) Sign(hash common.Hash) ([]byte, error) {
	sig, err := ethcrypto.Sign(personalHash(hash.Bytes()).Bytes(), s.key)
	if err != nil {
		return nil, fmt.Errorf("sign commitment: %w", err)
	}
	sig[64] += 27
	return sig, nil
}

// RecoverAddress recovers the signer of a personal-message signature.
// A message starting with 0x is interpreted as hex-encoded bytes; anything
// else is signed as its UTF-8 bytes. This mirrors what wallet tooling does
// on the client side.
func RecoverAddress(message string, signature []byte) (common.Address, error) {
	var payload []byte
	if strings.HasPrefix(message, "0x") || strings.HasPrefix(message, "0X") {
		decoded, err := hexutil.Decode("0x" + message[2:])
		if err != nil {
			return common.Address{}, fmt.Errorf("decode message: %w", err)
		}
		payload = decoded
	} else {
		payload = []byte(message)
	}
	return recover(personalHash(payload), signature)
}

// RecoverDigest recovers the signer of a personal-message signature over a
// known 32-byte digest.
func RecoverDigest(hash common.Hash, signature []byte) (common.Address, error) {
	return recover(personalHash(hash.Bytes()), signature)
}

// Verify reports whether signature was produced by claimed over hash.
// Address comparison happens on the raw 20 bytes, so checksum casing on
// either side cannot skew the result.
func Verify(claimed common.Address, hash common.Hash, signature []byte) bool {
	recovered, err := RecoverDigest(hash, signature)
	if err != nil {
		return false
	}
	return recovered == claimed
}

// ParseSignature validates a hex or raw signature and returns the
// 65-byte wire form with a 27/28 recovery id. On-chain ecrecover only
// accepts that form, so the wire form is what gets forwarded to the
// contract; local recovery shifts the id back down.
func ParseSignature(signature []byte) ([]byte, error) {
	raw := signature
	if len(raw) > 2 && (raw[0] == '0' && (raw[1] == 'x' || raw[1] == 'X')) {
		decoded, err := hexutil.Decode("0x" + string(raw[2:]))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
		raw = decoded
	}
	if len(raw) != 65 {
		return nil, fmt.Errorf("%w: length %d", ErrInvalidSignature, len(raw))
	}
	wire := make([]byte, 65)
	copy(wire, raw)
	if wire[64] < 27 {
		wire[64] += 27
	}
	if wire[64] != 27 && wire[64] != 28 {
		return nil, fmt.Errorf("%w: recovery id %d", ErrInvalidSignature, raw[64])
	}
	return wire, nil
}

func recover(digest common.Hash, signature []byte) (common.Address, error) {
	wire, err := ParseSignature(signature)
	if err != nil {
		return common.Address{}, err
	}
	normalized := make([]byte, 65)
	copy(normalized, wire)
	normalized[64] -= 27
	pub, err := ethcrypto.SigToPub(digest.Bytes(), normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

func personalHash(message []byte) common.Hash {
	prefixed := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(message), message)
	return ethcrypto.Keccak256Hash([]byte(prefixed))
}
