package crypto

import (
	"path/filepath"
	"testing"
)

func TestKeystoreRoundtrip(t *testing.T) {
	signer, err := NewSigner("ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80")
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}

	path := filepath.Join(t.TempDir(), "keys", "operator.json")
	if err := SaveToKeystore(path, signer, "passphrase"); err != nil {
		t.Fatalf("save keystore: %v", err)
	}

	loaded, err := SignerFromKeystore(path, "passphrase")
	if err != nil {
		t.Fatalf("load keystore: %v", err)
	}
	if loaded.Address() != signer.Address() {
		t.Fatalf("address mismatch: %s != %s", loaded.Address().Hex(), signer.Address().Hex())
	}

	if _, err := SignerFromKeystore(path, "wrong"); err == nil {
		t.Fatal("wrong passphrase accepted")
	}
}

func TestGeneratedSignerKeystoreRoundtrip(t *testing.T) {
	signer, err := GenerateSigner()
	if err != nil {
		t.Fatalf("generate signer: %v", err)
	}

	path := filepath.Join(t.TempDir(), "operator.json")
	if err := SaveToKeystore(path, signer, ""); err != nil {
		t.Fatalf("save keystore: %v", err)
	}

	loaded, err := SignerFromKeystore(path, "")
	if err != nil {
		t.Fatalf("load keystore: %v", err)
	}
	if loaded.Address() != signer.Address() {
		t.Fatalf("address mismatch: %s != %s", loaded.Address().Hex(), signer.Address().Hex())
	}
}

func TestSignerFromKeystoreMissingFile(t *testing.T) {
	if _, err := SignerFromKeystore(filepath.Join(t.TempDir(), "absent.json"), "x"); err == nil {
		t.Fatal("missing file accepted")
	}
}
