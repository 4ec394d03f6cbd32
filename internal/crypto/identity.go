package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"

	"github.com/aura-protocol/aura/pkg/protocol"
	"github.com/aura-protocol/aura/pkg/zkproof"
)

// nullifierDomain separates identity nullifiers from other SHA-256 uses.
const nullifierDomain = "aura-identity-nullifier-v1"

// ErrEmptyDocument is returned when no identity document is given.
var ErrEmptyDocument = errors.New("crypto: identity document must not be empty")

// Identity is a principal's local key material together with the private
// opening of its profile commitments. None of it is sent to the ledger except
// the address and the commitments derived from the opening.
type Identity struct {
	SigningKey ed25519.PrivateKey
	VerifyKey  ed25519.PublicKey
	Address    protocol.Address

	// Opening is set once the principal registers a profile.
	Opening   *zkproof.ProfileOpening
	Nullifier protocol.NullifierHash
}

// GenerateIdentity creates a new Ed25519 keypair and derives the address.
func GenerateIdentity() (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate Ed25519 keypair: %w", err)
	}
	return &Identity{
		SigningKey: priv,
		VerifyKey:  pub,
		Address:    protocol.AddressFromPublicKey(pub),
	}, nil
}

// Sign signs msg with the identity key.
func (i *Identity) Sign(msg []byte) []byte {
	return ed25519.Sign(i.SigningKey, msg)
}

// Verify checks a signature by the holder of pub over msg.
func Verify(pub ed25519.PublicKey, msg, sig []byte) bool {
	return len(pub) == ed25519.PublicKeySize && ed25519.Verify(pub, msg, sig)
}

// DeriveNullifier maps an identity document number to its nullifier. The
// same document always yields the same nullifier, which is what makes a
// second registration with it fail.
func DeriveNullifier(document string) (protocol.NullifierHash, error) {
	doc := strings.ToUpper(strings.Join(strings.Fields(document), ""))
	if doc == "" {
		return protocol.NullifierHash{}, ErrEmptyDocument
	}
	h := sha256.New()
	h.Write([]byte(nullifierDomain))
	h.Write([]byte{0})
	h.Write([]byte(doc))

	var n protocol.NullifierHash
	copy(n[:], h.Sum(nil))
	return n, nil
}
