package crypto

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/google/uuid"
)

// SaveToKeystore writes the signer's key to an Ethereum v3 keystore file
// at the given path. The file is written atomically via a same-directory
// temp file and ends up with 0600 permissions.
func SaveToKeystore(path string, signer *Signer, passphrase string) error {
	if signer == nil {
		return errors.New("crypto: nil signer")
	}
	if path == "" {
		return errors.New("crypto: empty keystore path")
	}

	keyJSON, err := keystore.EncryptKey(&keystore.Key{
		Id:         uuid.New(),
		Address:    signer.address,
		PrivateKey: signer.key,
	}, passphrase, keystore.StandardScryptN, keystore.StandardScryptP)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".keystore-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(keyJSON); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// SignerFromKeystore decrypts an Ethereum v3 keystore file using the
// supplied passphrase and wraps the key as an operator signer.
func SignerFromKeystore(path, passphrase string) (*Signer, error) {
	if path == "" {
		return nil, errors.New("crypto: empty keystore path")
	}

	keyJSON, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	decrypted, err := keystore.DecryptKey(keyJSON, passphrase)
	if err != nil {
		return nil, err
	}
	return newSigner(decrypted.PrivateKey), nil
}
