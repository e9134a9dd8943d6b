package crypto

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/accounts/keystore"
)

// Keystore reads and writes passphrase-encrypted operator keys. Files use the
// Ethereum v3 keystore format so standard tooling can inspect them.
type Keystore struct {
	// Path is the location of the encrypted key file.
	Path string
}

// Save encrypts the private key under the passphrase and writes it to the
// configured path. The parent directory is created with 0700 permissions when
// missing and the file itself ends up 0600.
func (ks Keystore) Save(key *PrivateKey, passphrase string) error {
	if key == nil {
		return errors.New("crypto: nil private key")
	}
	if ks.Path == "" {
		return errors.New("crypto: empty keystore path")
	}
	dir := filepath.Dir(ks.Path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmpDir, err := os.MkdirTemp(dir, "keystore-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmpDir)

	store := keystore.NewKeyStore(tmpDir, keystore.StandardScryptN, keystore.StandardScryptP)
	if _, err := store.ImportECDSA(key.PrivateKey, passphrase); err != nil {
		return err
	}

	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return errors.New("crypto: failed to create keystore file")
	}

	src := filepath.Join(tmpDir, entries[0].Name())
	if err := os.Remove(ks.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := os.Rename(src, ks.Path); err != nil {
		return err
	}
	return os.Chmod(ks.Path, 0o600)
}

// Load decrypts the key file using the supplied passphrase.
func (ks Keystore) Load(passphrase string) (*PrivateKey, error) {
	if ks.Path == "" {
		return nil, errors.New("crypto: empty keystore path")
	}

	keyJSON, err := os.ReadFile(ks.Path)
	if err != nil {
		return nil, err
	}

	decrypted, err := keystore.DecryptKey(keyJSON, passphrase)
	if err != nil {
		return nil, err
	}

	return &PrivateKey{PrivateKey: decrypted.PrivateKey}, nil
}
