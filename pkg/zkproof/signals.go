package zkproof

import (
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

// CircuitKind identifies one of the protocol circuits.
type CircuitKind int

const (
	// CircuitCommitmentValidity proves an age commitment is well formed and in range.
	CircuitCommitmentValidity CircuitKind = iota + 1
	// CircuitCompatibility proves location equality and hobby overlap.
	CircuitCompatibility
)

// String returns a human-readable name for the circuit kind.
func (k CircuitKind) String() string {
	switch k {
	case CircuitCommitmentValidity:
		return "commitment-validity"
	case CircuitCompatibility:
		return "compatibility"
	default:
		return fmt.Sprintf("Unknown(%d)", int(k))
	}
}

// Kinds lists every supported circuit.
func Kinds() []CircuitKind {
	return []CircuitKind{CircuitCommitmentValidity, CircuitCompatibility}
}

// PublicSignals is the ordered list of public inputs of a proof.
type PublicSignals []*big.Int

// SignalType constrains the value domain of one public signal.
type SignalType int

const (
	// SignalCommitment is a non-zero canonical field element.
	SignalCommitment SignalType = iota
	// SignalBool is 0 or 1.
	SignalBool
	// SignalAge is an age bound in [0, MaxAgeBound].
	SignalAge
	// SignalScore is a compatibility score in [0, MaxScore].
	SignalScore
	// SignalNonce is a non-zero canonical field element.
	SignalNonce
)

// MaxAgeBound is the largest age value accepted as a public bound.
const MaxAgeBound = 255

type signalSpec struct {
	name string
	typ  SignalType
}

// signalLayouts fixes the arity and types of each circuit's public signals.
// The order matches the public field order of the circuit structs.
var signalLayouts = map[CircuitKind][]signalSpec{
	CircuitCommitmentValidity: {
		{"commitment", SignalCommitment},
		{"minAge", SignalAge},
		{"maxAge", SignalAge},
		{"ageValidFlag", SignalBool},
	},
	CircuitCompatibility: {
		{"user1LocationCommitment", SignalCommitment},
		{"user2LocationCommitment", SignalCommitment},
		{"user1HobbiesCommitment", SignalCommitment},
		{"user2HobbiesCommitment", SignalCommitment},
		{"isCompatible", SignalBool},
		{"compatibilityScore", SignalScore},
		{"sessionNonce", SignalNonce},
	},
}

// Arity returns the number of public signals of a circuit kind, or 0 if the
// kind is unknown.
func Arity(kind CircuitKind) int {
	return len(signalLayouts[kind])
}

// checkSignals validates arity, per-signal types and cross-signal rules.
func checkSignals(kind CircuitKind, signals PublicSignals) error {
	layout, ok := signalLayouts[kind]
	if !ok {
		return fmt.Errorf("%w: unknown circuit %s", ErrUnknownCircuit, kind)
	}
	if len(signals) != len(layout) {
		return fmt.Errorf("%w: %s expects %d signals, got %d",
			ErrSignalArityMismatch, kind, len(layout), len(signals))
	}
	for i, spec := range layout {
		if err := checkSignal(spec, signals[i]); err != nil {
			return err
		}
	}

	if kind == CircuitCompatibility {
		compatible, score := signals[4], signals[5]
		if compatible.Sign() == 0 && score.Sign() > 0 {
			return fmt.Errorf("%w: score %s claimed for incompatible pair", ErrMalformedProof, score)
		}
	}
	return nil
}

func checkSignal(spec signalSpec, v *big.Int) error {
	if v == nil {
		return fmt.Errorf("%w: %s is missing", ErrSignalArityMismatch, spec.name)
	}
	if v.Sign() < 0 || v.Cmp(fr.Modulus()) >= 0 {
		return fmt.Errorf("%w: %s is not a canonical field element", ErrSignalArityMismatch, spec.name)
	}

	var ok bool
	switch spec.typ {
	case SignalCommitment, SignalNonce:
		ok = v.Sign() > 0
	case SignalBool:
		ok = v.IsUint64() && v.Uint64() <= 1
	case SignalAge:
		ok = v.IsUint64() && v.Uint64() <= MaxAgeBound
	case SignalScore:
		ok = v.IsUint64() && v.Uint64() <= MaxScore
	}
	if !ok {
		return fmt.Errorf("%w: %s has invalid value %s", ErrSignalArityMismatch, spec.name, v)
	}
	return nil
}

// CommitmentValiditySignals is the typed form of the commitment-validity
// public signals.
type CommitmentValiditySignals struct {
	Commitment Commitment
	MinAge     uint64
	MaxAge     uint64
	AgeValid   bool
}

// Encode returns the ordered public signals.
func (s CommitmentValiditySignals) Encode() PublicSignals {
	return PublicSignals{
		s.Commitment.BigInt(),
		new(big.Int).SetUint64(s.MinAge),
		new(big.Int).SetUint64(s.MaxAge),
		boolSignal(s.AgeValid),
	}
}

// DecodeCommitmentValiditySignals parses and validates commitment-validity
// signals.
func DecodeCommitmentValiditySignals(signals PublicSignals) (CommitmentValiditySignals, error) {
	if err := checkSignals(CircuitCommitmentValidity, signals); err != nil {
		return CommitmentValiditySignals{}, err
	}
	commitment, err := CommitmentFromBigInt(signals[0])
	if err != nil {
		return CommitmentValiditySignals{}, err
	}
	return CommitmentValiditySignals{
		Commitment: commitment,
		MinAge:     signals[1].Uint64(),
		MaxAge:     signals[2].Uint64(),
		AgeValid:   signals[3].Uint64() == 1,
	}, nil
}

// CompatibilitySignals is the typed form of the compatibility public signals.
type CompatibilitySignals struct {
	User1Location Commitment
	User2Location Commitment
	User1Hobbies  Commitment
	User2Hobbies  Commitment
	IsCompatible  bool
	Score         uint64
	SessionNonce  *big.Int
}

// Encode returns the ordered public signals.
func (s CompatibilitySignals) Encode() PublicSignals {
	nonce := s.SessionNonce
	if nonce == nil {
		nonce = new(big.Int)
	}
	return PublicSignals{
		s.User1Location.BigInt(),
		s.User2Location.BigInt(),
		s.User1Hobbies.BigInt(),
		s.User2Hobbies.BigInt(),
		boolSignal(s.IsCompatible),
		new(big.Int).SetUint64(s.Score),
		new(big.Int).Set(nonce),
	}
}

// DecodeCompatibilitySignals parses and validates compatibility signals.
func DecodeCompatibilitySignals(signals PublicSignals) (CompatibilitySignals, error) {
	if err := checkSignals(CircuitCompatibility, signals); err != nil {
		return CompatibilitySignals{}, err
	}
	var s CompatibilitySignals
	var err error
	for i, dst := range []*Commitment{&s.User1Location, &s.User2Location, &s.User1Hobbies, &s.User2Hobbies} {
		if *dst, err = CommitmentFromBigInt(signals[i]); err != nil {
			return CompatibilitySignals{}, err
		}
	}
	s.IsCompatible = signals[4].Uint64() == 1
	s.Score = signals[5].Uint64()
	s.SessionNonce = new(big.Int).Set(signals[6])
	return s, nil
}

// NonceSignal converts raw nonce bytes into a session-nonce signal value.
func NonceSignal(nonce []byte) (*big.Int, error) {
	if len(nonce) == 0 || len(nonce) >= fr.Bytes {
		return nil, fmt.Errorf("%w: nonce must be 1..%d bytes", ErrSignalArityMismatch, fr.Bytes-1)
	}
	v := new(big.Int).SetBytes(nonce)
	if v.Sign() == 0 {
		return nil, fmt.Errorf("%w: nonce must not be zero", ErrSignalArityMismatch)
	}
	return v, nil
}

func boolSignal(b bool) *big.Int {
	if b {
		return big.NewInt(1)
	}
	return big.NewInt(0)
}
