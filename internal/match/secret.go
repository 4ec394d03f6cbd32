package match

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/hkdf"

	"github.com/aura-protocol/aura/pkg/protocol"
)

const (
	// SecretInfo is the HKDF info prefix for chat secret hashes.
	SecretInfo = "aura-chat-secret-v1"

	// SecretNonceLength is the length of the random unlock nonce in bytes.
	SecretNonceLength = 32

	// SecretHashLength is the length of the derived secret hash in bytes.
	SecretHashLength = 32
)

// ErrInvalidSecretNonce is returned when the unlock nonce is empty.
var ErrInvalidSecretNonce = errors.New("match: secret nonce must not be empty")

// NewSecretNonce draws a random unlock nonce.
func NewSecretNonce() ([]byte, error) {
	nonce := make([]byte, SecretNonceLength)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("draw secret nonce: %w", err)
	}
	return nonce, nil
}

// DeriveSecretHash derives the shared secret hash recorded at chat unlock.
// The nonce is the input key material, the pair ID is the salt and the two
// principals plus the unlock time form the info, so the hash is bound to one
// pair at one moment.
func DeriveSecretHash(nonce []byte, r *protocol.SwipeRecord, at time.Time) ([]byte, error) {
	if len(nonce) == 0 {
		return nil, ErrInvalidSecretNonce
	}

	info := make([]byte, 0, len(SecretInfo)+len(r.User1)+len(r.User2)+10)
	info = append(info, SecretInfo...)
	info = append(info, r.User1...)
	info = append(info, 0)
	info = append(info, r.User2...)
	info = append(info, 0)
	info = binary.BigEndian.AppendUint64(info, uint64(at.UnixNano()))

	reader := hkdf.New(sha256.New, nonce, []byte(r.PairID), info)
	hash := make([]byte, SecretHashLength)
	if _, err := io.ReadFull(reader, hash); err != nil {
		return nil, fmt.Errorf("derive secret hash: %w", err)
	}
	return hash, nil
}
