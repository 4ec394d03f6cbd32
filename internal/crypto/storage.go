package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/argon2"

	"github.com/aura-protocol/aura/pkg/protocol"
	"github.com/aura-protocol/aura/pkg/zkproof"
)

const saltLength = 16

// ErrWrongPassphrase is returned when a keystore cannot be decrypted.
var ErrWrongPassphrase = errors.New("crypto: decryption failed (wrong passphrase?)")

// serializedIdentity is the JSON structure for storage.
type serializedIdentity struct {
	SigningKey []byte                  `json:"signing_key"`
	Address    protocol.Address        `json:"address"`
	Opening    *zkproof.ProfileOpening `json:"opening,omitempty"`
	Nullifier  protocol.NullifierHash  `json:"nullifier"`
}

// deriveKey uses Argon2id to derive an AES-256 key from passphrase.
func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
}

// KeystorePath returns the keystore file of a named identity in dir.
func KeystorePath(dir, name string) string {
	return filepath.Join(dir, name+".key")
}

// SaveIdentity encrypts and saves identity to file.
func SaveIdentity(id *Identity, path, passphrase string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := json.Marshal(serializedIdentity{
		SigningKey: id.SigningKey,
		Address:    id.Address,
		Opening:    id.Opening,
		Nullifier:  id.Nullifier,
	})
	if err != nil {
		return fmt.Errorf("failed to serialize identity: %w", err)
	}

	salt := make([]byte, saltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return fmt.Errorf("failed to generate salt: %w", err)
	}
	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}

	// Layout: salt || nonce || ciphertext.
	out := make([]byte, 0, len(salt)+len(nonce)+len(data)+gcm.Overhead())
	out = append(out, salt...)
	out = append(out, nonce...)
	out = gcm.Seal(out, nonce, data, nil)

	// Write to a temporary file first so a crash never leaves a truncated
	// keystore behind.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, out, 0600); err != nil {
		return fmt.Errorf("failed to write keystore: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace keystore: %w", err)
	}
	return nil
}

// LoadIdentity decrypts and loads identity from file.
func LoadIdentity(path, passphrase string) (*Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if len(data) < saltLength {
		return nil, fmt.Errorf("keystore %s too short", path)
	}

	gcm, err := newGCM(passphrase, data[:saltLength])
	if err != nil {
		return nil, err
	}
	rest := data[saltLength:]
	if len(rest) < gcm.NonceSize()+gcm.Overhead() {
		return nil, fmt.Errorf("keystore %s too short", path)
	}
	nonce, ciphertext := rest[:gcm.NonceSize()], rest[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrWrongPassphrase
	}

	var stored serializedIdentity
	if err := json.Unmarshal(plaintext, &stored); err != nil {
		return nil, fmt.Errorf("failed to deserialize identity: %w", err)
	}
	if len(stored.SigningKey) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("keystore %s holds a %d-byte key", path, len(stored.SigningKey))
	}

	priv := ed25519.PrivateKey(stored.SigningKey)
	pub := priv.Public().(ed25519.PublicKey)
	if addr := protocol.AddressFromPublicKey(pub); addr != stored.Address {
		return nil, fmt.Errorf("keystore %s: address %s does not match key (%s)", path, stored.Address, addr)
	}
	return &Identity{
		SigningKey: priv,
		VerifyKey:  pub,
		Address:    stored.Address,
		Opening:    stored.Opening,
		Nullifier:  stored.Nullifier,
	}, nil
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(deriveKey(passphrase, salt))
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}
