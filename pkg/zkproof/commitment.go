package zkproof

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
)

// Codec errors.
var (
	// ErrZeroSalt is returned when a salt is the zero field element.
	ErrZeroSalt = errors.New("zkproof: salt must not be zero")

	// ErrSaltReuse is returned when two field groups of one profile share a salt.
	ErrSaltReuse = errors.New("zkproof: salt reused across field groups")

	// ErrTooManyHobbies is returned when more than MaxHobbies hobbies are given.
	ErrTooManyHobbies = errors.New("zkproof: too many hobbies")

	// ErrEmptyHobby is returned for a blank hobby entry.
	ErrEmptyHobby = errors.New("zkproof: empty hobby")

	// ErrDuplicateHobby is returned when a hobby appears twice in one set.
	ErrDuplicateHobby = errors.New("zkproof: duplicate hobby")

	// ErrInvalidCommitment is returned when commitment bytes are not a
	// canonical non-zero field element.
	ErrInvalidCommitment = errors.New("zkproof: invalid commitment encoding")
)

// FieldValue is a private value mapped into the BN254 scalar field.
type FieldValue struct {
	e fr.Element
}

// FieldUint maps an unsigned integer into the field.
func FieldUint(v uint64) FieldValue {
	var f FieldValue
	f.e.SetUint64(v)
	return f
}

// FieldString maps a string into the field as SHA-256(s) mod r.
func FieldString(s string) FieldValue {
	return FieldBytes([]byte(s))
}

// FieldBytes maps arbitrary bytes into the field as SHA-256(b) mod r.
func FieldBytes(b []byte) FieldValue {
	digest := sha256.Sum256(b)
	var f FieldValue
	f.e.SetBytes(digest[:])
	return f
}

// BigInt returns the value as a canonical integer.
func (f FieldValue) BigInt() *big.Int {
	return f.e.BigInt(new(big.Int))
}

// IsZero reports whether the value is the zero element.
func (f FieldValue) IsZero() bool {
	return f.e.IsZero()
}

// Salt is a 32-byte big-endian field element used to blind a commitment.
type Salt [fr.Bytes]byte

// NewSalt draws a uniformly random non-zero salt from crypto/rand.
func NewSalt() (Salt, error) {
	var e fr.Element
	for e.IsZero() {
		if _, err := e.SetRandom(); err != nil {
			return Salt{}, fmt.Errorf("draw salt: %w", err)
		}
	}
	return Salt(e.Bytes()), nil
}

// IsZero reports whether the salt is all zeros.
func (s Salt) IsZero() bool {
	return s == Salt{}
}

func (s Salt) element() fr.Element {
	var e fr.Element
	e.SetBytes(s[:])
	return e
}

// BigInt returns the salt as an integer, reduced into the field.
func (s Salt) BigInt() *big.Int {
	e := s.element()
	return e.BigInt(new(big.Int))
}

// MarshalText encodes the salt as hex.
func (s Salt) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(s[:])), nil
}

// UnmarshalText decodes a hex salt.
func (s *Salt) UnmarshalText(text []byte) error {
	return decodeFixedHex(text, s[:])
}

// Commitment is the 32-byte big-endian MiMC digest binding private fields and
// a salt.
type Commitment [fr.Bytes]byte

// CommitmentFromBigInt converts a field integer into a Commitment.
// It fails for zero or non-canonical values.
func CommitmentFromBigInt(v *big.Int) (Commitment, error) {
	if v == nil || v.Sign() <= 0 || v.Cmp(fr.Modulus()) >= 0 {
		return Commitment{}, ErrInvalidCommitment
	}
	var e fr.Element
	e.SetBigInt(v)
	return Commitment(e.Bytes()), nil
}

// BigInt returns the commitment as an integer.
func (c Commitment) BigInt() *big.Int {
	return new(big.Int).SetBytes(c[:])
}

// IsZero reports whether the commitment is all zeros.
func (c Commitment) IsZero() bool {
	return c == Commitment{}
}

// Validate checks the commitment is a canonical non-zero field element.
func (c Commitment) Validate() error {
	_, err := CommitmentFromBigInt(c.BigInt())
	return err
}

// String returns the hex encoding.
func (c Commitment) String() string {
	return hex.EncodeToString(c[:])
}

// MarshalText encodes the commitment as hex.
func (c Commitment) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText decodes a hex commitment.
func (c *Commitment) UnmarshalText(text []byte) error {
	return decodeFixedHex(text, c[:])
}

// Commit computes MiMC(fields || salt). It is deterministic: the same fields
// and salt always produce the same commitment.
func Commit(fields []FieldValue, salt Salt) (Commitment, error) {
	if salt.IsZero() {
		return Commitment{}, ErrZeroSalt
	}

	h := mimc.NewMiMC()
	for _, f := range fields {
		b := f.e.Bytes()
		h.Write(b[:])
	}
	s := salt.element()
	sb := s.Bytes()
	h.Write(sb[:])

	var result fr.Element
	result.SetBytes(h.Sum(nil))
	return Commitment(result.Bytes()), nil
}

// GroupSalts holds one salt per profile field group. Salts must be distinct.
type GroupSalts struct {
	Profile  Salt `json:"profile"`
	Location Salt `json:"location"`
	Hobbies  Salt `json:"hobbies"`
	Age      Salt `json:"age"`
}

// NewGroupSalts draws four fresh salts.
func NewGroupSalts() (GroupSalts, error) {
	var gs GroupSalts
	for _, s := range []*Salt{&gs.Profile, &gs.Location, &gs.Hobbies, &gs.Age} {
		salt, err := NewSalt()
		if err != nil {
			return GroupSalts{}, err
		}
		*s = salt
	}
	return gs, nil
}

// Validate rejects zero salts and any salt used by more than one group.
// Only the digests are ever published, so this is a caller contract rather
// than a secrecy requirement; the codec enforces it anyway.
func (gs GroupSalts) Validate() error {
	all := []Salt{gs.Profile, gs.Location, gs.Hobbies, gs.Age}
	seen := make(map[Salt]struct{}, len(all))
	for _, s := range all {
		if s.IsZero() {
			return ErrZeroSalt
		}
		if _, dup := seen[s]; dup {
			return ErrSaltReuse
		}
		seen[s] = struct{}{}
	}
	return nil
}

// ProfileCommitments is the public set of commitments registered for a profile.
type ProfileCommitments struct {
	Profile  Commitment `json:"profile"`
	Location Commitment `json:"location"`
	Hobbies  Commitment `json:"hobbies"`
	Age      Commitment `json:"age"`
}

// Validate checks all four commitments are canonical and non-zero.
func (pc ProfileCommitments) Validate() error {
	for name, c := range map[string]Commitment{
		"profile":  pc.Profile,
		"location": pc.Location,
		"hobbies":  pc.Hobbies,
		"age":      pc.Age,
	} {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("%s commitment: %w", name, err)
		}
	}
	return nil
}

// ProfileOpening is the private data behind a profile's commitments. It never
// leaves the client except as witness input to the prover.
type ProfileOpening struct {
	DisplayName string     `json:"display_name"`
	Bio         string     `json:"bio"`
	AvatarRef   string     `json:"avatar_ref"`
	City        string     `json:"city"`
	Hobbies     []string   `json:"hobbies"`
	Age         uint64     `json:"age"`
	Salts       GroupSalts `json:"salts"`
}

// Commitments computes the four group commitments.
func (o ProfileOpening) Commitments() (ProfileCommitments, error) {
	if err := o.Salts.Validate(); err != nil {
		return ProfileCommitments{}, err
	}
	hobbies, err := HobbySlots(o.Hobbies)
	if err != nil {
		return ProfileCommitments{}, err
	}

	var pc ProfileCommitments
	if pc.Profile, err = Commit([]FieldValue{
		FieldString(o.DisplayName),
		FieldString(o.Bio),
		FieldString(o.AvatarRef),
	}, o.Salts.Profile); err != nil {
		return ProfileCommitments{}, err
	}
	if pc.Location, err = Commit([]FieldValue{LocationField(o.City)}, o.Salts.Location); err != nil {
		return ProfileCommitments{}, err
	}
	if pc.Hobbies, err = Commit(hobbies[:], o.Salts.Hobbies); err != nil {
		return ProfileCommitments{}, err
	}
	if pc.Age, err = Commit([]FieldValue{FieldUint(o.Age)}, o.Salts.Age); err != nil {
		return ProfileCommitments{}, err
	}
	return pc, nil
}

// Party extracts the opening needed for a compatibility witness.
func (o ProfileOpening) Party() PartyOpening {
	return PartyOpening{
		City:         o.City,
		Hobbies:      o.Hobbies,
		LocationSalt: o.Salts.Location,
		HobbiesSalt:  o.Salts.Hobbies,
	}
}

// LocationField normalizes a city name and maps it into the field.
func LocationField(city string) FieldValue {
	return FieldString(normalize(city))
}

// HobbySlots maps a hobby list into the fixed MaxHobbies slot layout, padding
// with zeros. Hobbies are normalized before hashing.
func HobbySlots(hobbies []string) ([MaxHobbies]FieldValue, error) {
	var slots [MaxHobbies]FieldValue
	if len(hobbies) > MaxHobbies {
		return slots, fmt.Errorf("%w: %d > %d", ErrTooManyHobbies, len(hobbies), MaxHobbies)
	}
	seen := make(map[string]struct{}, len(hobbies))
	for i, h := range hobbies {
		n := normalize(h)
		if n == "" {
			return slots, ErrEmptyHobby
		}
		if _, dup := seen[n]; dup {
			return slots, fmt.Errorf("%w: %q", ErrDuplicateHobby, h)
		}
		seen[n] = struct{}{}
		slots[i] = FieldString(n)
	}
	return slots, nil
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func decodeFixedHex(text []byte, dst []byte) error {
	b, err := hex.DecodeString(string(text))
	if err != nil {
		return err
	}
	if len(b) != len(dst) {
		return fmt.Errorf("expected %d bytes, got %d", len(dst), len(b))
	}
	copy(dst, b)
	return nil
}
