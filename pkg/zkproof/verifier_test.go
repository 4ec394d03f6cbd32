package zkproof

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/consensys/gnark-crypto/ecc"
	bn254 "github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark/backend/plonk"
	plonkbn254 "github.com/consensys/gnark/backend/plonk/bn254"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProverVerifier(t *testing.T) (*Prover, *Verifier) {
	t.Helper()
	compiled, err := GetCompiledCircuits()
	require.NoError(t, err)
	return NewProver(compiled...), NewVerifier(compiled...)
}

func TestVerify_CommitmentValidity(t *testing.T) {
	prover, verifier := newTestProverVerifier(t)
	salt, err := NewSalt()
	require.NoError(t, err)

	result, err := prover.ProveCommitmentValidity(25, salt, 18, 120)
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.Signals[3].Int64())
	assert.NoError(t, verifier.Verify(CircuitCommitmentValidity, result.Proof, result.Signals))

	// The proof does not transfer to different bounds.
	tampered := append(PublicSignals(nil), result.Signals...)
	tampered[1] = big.NewInt(30)
	err = verifier.Verify(CircuitCommitmentValidity, result.Proof, tampered)
	assert.ErrorIs(t, err, ErrCryptographicRejection)
}

func TestVerify_MinorGetsZeroFlag(t *testing.T) {
	prover, verifier := newTestProverVerifier(t)
	salt, err := NewSalt()
	require.NoError(t, err)

	result, err := prover.ProveCommitmentValidity(16, salt, 18, 120)
	require.NoError(t, err)
	assert.Equal(t, int64(0), result.Signals[3].Int64())
	require.NoError(t, verifier.Verify(CircuitCommitmentValidity, result.Proof, result.Signals))

	claimed := append(PublicSignals(nil), result.Signals...)
	claimed[3] = big.NewInt(1)
	assert.ErrorIs(t, verifier.Verify(CircuitCommitmentValidity, result.Proof, claimed), ErrCryptographicRejection)
}

func TestVerify_Compatibility(t *testing.T) {
	prover, verifier := newTestProverVerifier(t)
	u1 := testParty(t, "Lisbon", "jazz", "chess")
	u2 := testParty(t, "Lisbon", "chess", "jazz", "surf")

	result, signals, err := prover.ProveCompatibility(CompatibilityWitness{User1: u1, User2: u2}, big.NewInt(1001))
	require.NoError(t, err)
	assert.True(t, signals.IsCompatible)
	assert.Equal(t, uint64(70), signals.Score)
	require.NoError(t, verifier.Verify(CircuitCompatibility, result.Proof, result.Signals))

	decoded, err := DecodeCompatibilitySignals(result.Signals)
	require.NoError(t, err)
	assert.Equal(t, signals, decoded)
}

// A proof is bound to its session nonce and to the exact commitments.
func TestVerify_CompatibilityBinding(t *testing.T) {
	prover, verifier := newTestProverVerifier(t)
	u1 := testParty(t, "Lisbon", "jazz")
	u2 := testParty(t, "Lisbon", "jazz")
	u3 := testParty(t, "Lisbon", "jazz")

	result, signals, err := prover.ProveCompatibility(CompatibilityWitness{User1: u1, User2: u2}, big.NewInt(77))
	require.NoError(t, err)

	otherNonce := signals
	otherNonce.SessionNonce = big.NewInt(78)
	assert.ErrorIs(t, verifier.Verify(CircuitCompatibility, result.Proof, otherNonce.Encode()), ErrCryptographicRejection)

	loc3, hob3, err := u3.Commitments()
	require.NoError(t, err)
	otherPair := signals
	otherPair.User2Location, otherPair.User2Hobbies = loc3, hob3
	assert.ErrorIs(t, verifier.Verify(CircuitCompatibility, result.Proof, otherPair.Encode()), ErrCryptographicRejection)

	inflated := signals
	inflated.Score = 90
	assert.ErrorIs(t, verifier.Verify(CircuitCompatibility, result.Proof, inflated.Encode()), ErrCryptographicRejection)
}

func TestVerify_SignalArity(t *testing.T) {
	_, verifier := newTestProverVerifier(t)

	err := verifier.Verify(CircuitCompatibility, []byte{1}, PublicSignals{big.NewInt(1)})
	assert.ErrorIs(t, err, ErrSignalArityMismatch)

	signals := make(PublicSignals, Arity(CircuitCommitmentValidity))
	for i := range signals {
		signals[i] = big.NewInt(1)
	}
	signals[3] = big.NewInt(2)
	err = verifier.Verify(CircuitCommitmentValidity, []byte{1}, signals)
	assert.ErrorIs(t, err, ErrSignalArityMismatch)
}

func TestVerify_ScoreWithoutCompatibility(t *testing.T) {
	_, verifier := newTestProverVerifier(t)

	s := CompatibilitySignals{
		User1Location: Commitment{31: 1},
		User2Location: Commitment{31: 2},
		User1Hobbies:  Commitment{31: 3},
		User2Hobbies:  Commitment{31: 4},
		IsCompatible:  false,
		Score:         60,
		SessionNonce:  big.NewInt(5),
	}
	err := verifier.Verify(CircuitCompatibility, []byte("not a proof"), s.Encode())
	assert.ErrorIs(t, err, ErrMalformedProof)
}

func TestVerify_MalformedProof(t *testing.T) {
	prover, verifier := newTestProverVerifier(t)
	salt, err := NewSalt()
	require.NoError(t, err)
	result, err := prover.ProveCommitmentValidity(40, salt, 18, 120)
	require.NoError(t, err)

	assert.ErrorIs(t, verifier.Verify(CircuitCommitmentValidity, nil, result.Signals), ErrMalformedProof)
	assert.ErrorIs(t, verifier.Verify(CircuitCommitmentValidity, result.Proof[:10], result.Signals), ErrMalformedProof)

	// Replace one commitment with the point at infinity.
	proof := plonk.NewProof(ecc.BN254)
	_, err = proof.ReadFrom(bytes.NewReader(result.Proof))
	require.NoError(t, err)
	proof.(*plonkbn254.Proof).Z = bn254.G1Affine{}

	var buf bytes.Buffer
	_, err = proof.WriteTo(&buf)
	require.NoError(t, err)
	assert.ErrorIs(t, verifier.Verify(CircuitCommitmentValidity, buf.Bytes(), result.Signals), ErrMalformedProof)
}

func TestVerify_UnknownCircuit(t *testing.T) {
	compiled, err := GetCompiledCircuit(CircuitCommitmentValidity)
	require.NoError(t, err)
	verifier := NewVerifier(compiled)

	err = verifier.Verify(CircuitCompatibility, []byte{1}, nil)
	assert.ErrorIs(t, err, ErrUnknownCircuit)
}

func TestProveCompatibility_RejectsBadInput(t *testing.T) {
	prover, _ := newTestProverVerifier(t)
	u := testParty(t, "Lisbon", "jazz")

	_, _, err := prover.ProveCompatibility(CompatibilityWitness{User1: u, User2: u}, big.NewInt(0))
	assert.ErrorIs(t, err, ErrWitnessInvalid)

	reused := u
	reused.HobbiesSalt = reused.LocationSalt
	_, _, err = prover.ProveCompatibility(CompatibilityWitness{User1: reused, User2: u}, big.NewInt(3))
	assert.ErrorIs(t, err, ErrWitnessInvalid)
	assert.ErrorIs(t, err, ErrSaltReuse)
}

func TestCompatibilityOutcome(t *testing.T) {
	tests := []struct {
		name       string
		u1, u2     PartyOpening
		compatible bool
		score      uint64
	}{
		{"one shared", PartyOpening{City: "A", Hobbies: []string{"x"}}, PartyOpening{City: "a", Hobbies: []string{"x", "y"}}, true, 60},
		{"all shared", PartyOpening{City: "A", Hobbies: []string{"a", "b", "c", "d", "e"}}, PartyOpening{City: "A", Hobbies: []string{"e", "d", "c", "b", "a"}}, true, 100},
		{"other city", PartyOpening{City: "A", Hobbies: []string{"x"}}, PartyOpening{City: "B", Hobbies: []string{"x"}}, false, 0},
		{"no overlap", PartyOpening{City: "A", Hobbies: []string{"x"}}, PartyOpening{City: "A", Hobbies: []string{"y"}}, false, 0},
		{"empty", PartyOpening{City: "A"}, PartyOpening{City: "A"}, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			compatible, score, err := CompatibilityOutcome(tt.u1, tt.u2)
			require.NoError(t, err)
			assert.Equal(t, tt.compatible, compatible)
			assert.Equal(t, tt.score, score)
		})
	}
}

func TestDecodeCommitmentValiditySignals(t *testing.T) {
	salt, err := NewSalt()
	require.NoError(t, err)
	c, err := Commit([]FieldValue{FieldUint(40)}, salt)
	require.NoError(t, err)

	in := CommitmentValiditySignals{Commitment: c, MinAge: 18, MaxAge: 120, AgeValid: true}
	out, err := DecodeCommitmentValiditySignals(in.Encode())
	require.NoError(t, err)
	assert.Equal(t, in, out)

	bad := in.Encode()
	bad[3] = big.NewInt(2)
	_, err = DecodeCommitmentValiditySignals(bad)
	assert.ErrorIs(t, err, ErrSignalArityMismatch)

	_, err = DecodeCommitmentValiditySignals(bad[:3])
	assert.ErrorIs(t, err, ErrSignalArityMismatch)
}
