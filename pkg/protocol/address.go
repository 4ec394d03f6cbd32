// Package protocol defines the domain types of the Aura matching protocol:
// principals, profiles, pair records and their match state machine, the Aura
// transaction model, disclosure tiers, ledger events and the error taxonomy.
package protocol

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/mr-tron/base58"
)

// AddressPrefix starts every principal address.
const AddressPrefix = "aura"

// addressHashLen is the number of SHA-256 bytes kept in an address.
const addressHashLen = 20

// Address is a principal identifier: AddressPrefix followed by the base58
// encoding of the first 20 bytes of SHA-256 over the principal's public key.
type Address string

// AddressFromPublicKey derives the address of a public key.
func AddressFromPublicKey(pub []byte) Address {
	sum := sha256.Sum256(pub)
	return Address(AddressPrefix + base58.Encode(sum[:addressHashLen]))
}

// ParseAddress validates s and returns it as an Address.
func ParseAddress(s string) (Address, error) {
	a := Address(s)
	if err := a.Validate(); err != nil {
		return "", err
	}
	return a, nil
}

// Validate checks the prefix and the encoded hash length.
func (a Address) Validate() error {
	rest, ok := strings.CutPrefix(string(a), AddressPrefix)
	if !ok {
		return fmt.Errorf("%w: %q lacks prefix %q", ErrInvalidAddress, a, AddressPrefix)
	}
	raw, err := base58.Decode(rest)
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidAddress, a, err)
	}
	if len(raw) != addressHashLen {
		return fmt.Errorf("%w: %q encodes %d bytes", ErrInvalidAddress, a, len(raw))
	}
	return nil
}

// String returns the address text.
func (a Address) String() string {
	return string(a)
}

// PairID identifies the unordered pair of two principals.
type PairID string

// Canonical orders two addresses lexicographically.
func Canonical(a, b Address) (lo, hi Address) {
	if a <= b {
		return a, b
	}
	return b, a
}

// NewPairID returns hex(SHA-256(lo || 0x00 || hi)) over the canonically
// ordered addresses, so NewPairID(a, b) == NewPairID(b, a).
func NewPairID(a, b Address) PairID {
	lo, hi := Canonical(a, b)
	h := sha256.New()
	h.Write([]byte(lo))
	h.Write([]byte{0})
	h.Write([]byte(hi))
	return PairID(hex.EncodeToString(h.Sum(nil)))
}

// NullifierHash is the opaque one-time identity token supplied by the
// identity collaborator.
type NullifierHash [32]byte

// ParseNullifierHash decodes a hex nullifier hash.
func ParseNullifierHash(s string) (NullifierHash, error) {
	var n NullifierHash
	if err := n.UnmarshalText([]byte(s)); err != nil {
		return NullifierHash{}, err
	}
	return n, nil
}

// IsZero reports whether the hash is all zeros.
func (n NullifierHash) IsZero() bool {
	return n == NullifierHash{}
}

// String returns the hex encoding.
func (n NullifierHash) String() string {
	return hex.EncodeToString(n[:])
}

// MarshalText encodes the hash as hex.
func (n NullifierHash) MarshalText() ([]byte, error) {
	return []byte(n.String()), nil
}

// UnmarshalText decodes a hex hash.
func (n *NullifierHash) UnmarshalText(text []byte) error {
	b, err := hex.DecodeString(string(text))
	if err != nil || len(b) != len(n) {
		return fmt.Errorf("%w: nullifier must be %d hex bytes", ErrInvalidInput, len(n))
	}
	copy(n[:], b)
	return nil
}

// MessageHash references a message stored off the ledger.
type MessageHash [32]byte

// IsZero reports whether the hash is all zeros.
func (m MessageHash) IsZero() bool {
	return m == MessageHash{}
}

// MarshalText encodes the hash as hex.
func (m MessageHash) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(m[:])), nil
}

// UnmarshalText decodes a hex hash.
func (m *MessageHash) UnmarshalText(text []byte) error {
	b, err := hex.DecodeString(string(text))
	if err != nil || len(b) != len(m) {
		return fmt.Errorf("%w: message hash must be %d hex bytes", ErrInvalidInput, len(m))
	}
	copy(m[:], b)
	return nil
}

// Clock returns the current time. Components take one so tests can pin time.
type Clock func() time.Time

// Now calls c, or time.Now if c is nil.
func (c Clock) Now() time.Time {
	if c == nil {
		return time.Now().UTC()
	}
	return c()
}
