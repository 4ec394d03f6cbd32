package zkproof

import (
	"bytes"
	"fmt"

	"github.com/consensys/gnark-crypto/ecc"
	bn254 "github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark/backend/plonk"
	plonkbn254 "github.com/consensys/gnark/backend/plonk/bn254"
	"github.com/consensys/gnark/backend/witness"
	"github.com/consensys/gnark/frontend"
)

// Verifier validates proofs against public signals. Checks run cheapest
// first: signal arity and types, then proof decoding and structure, and only
// then the pairing check.
type Verifier struct {
	compiled map[CircuitKind]*CompiledCircuit
}

// NewVerifier creates a Verifier for the given compiled circuits.
func NewVerifier(compiled ...*CompiledCircuit) *Verifier {
	v := &Verifier{compiled: make(map[CircuitKind]*CompiledCircuit, len(compiled))}
	for _, c := range compiled {
		v.compiled[c.Kind] = c
	}
	return v
}

// Verify checks proof against signals for the given circuit kind.
//
// Errors wrap one of ErrSignalArityMismatch, ErrMalformedProof,
// ErrUnknownCircuit or ErrCryptographicRejection.
func (v *Verifier) Verify(kind CircuitKind, proofBytes []byte, signals PublicSignals) error {
	compiled, ok := v.compiled[kind]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCircuit, kind)
	}
	if err := checkSignals(kind, signals); err != nil {
		return err
	}

	proof, err := decodeProof(proofBytes)
	if err != nil {
		return err
	}

	publicWitness, err := publicWitness(kind, signals)
	if err != nil {
		return fmt.Errorf("%w: build public witness: %w", ErrSignalArityMismatch, err)
	}

	if err := plonk.Verify(proof, compiled.VerifyingKey, publicWitness); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrCryptographicRejection, kind, err)
	}
	return nil
}

// decodeProof deserializes a proof and rejects structurally degenerate ones.
func decodeProof(proofBytes []byte) (plonk.Proof, error) {
	if len(proofBytes) == 0 {
		return nil, fmt.Errorf("%w: empty proof", ErrMalformedProof)
	}

	proof := plonk.NewProof(ecc.BN254)
	if _, err := proof.ReadFrom(bytes.NewReader(proofBytes)); err != nil {
		return nil, fmt.Errorf("%w: decode: %w", ErrMalformedProof, err)
	}

	p, ok := proof.(*plonkbn254.Proof)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected proof type %T", ErrMalformedProof, proof)
	}
	if hasInfinity(p) {
		return nil, fmt.Errorf("%w: group element at infinity", ErrMalformedProof)
	}
	return proof, nil
}

// hasInfinity reports whether any commitment or opening in the proof is the
// point at infinity. An honest prover never produces one.
func hasInfinity(p *plonkbn254.Proof) bool {
	points := []*bn254.G1Affine{
		&p.LRO[0], &p.LRO[1], &p.LRO[2],
		&p.Z,
		&p.H[0], &p.H[1], &p.H[2],
		&p.BatchedProof.H,
		&p.ZShiftedOpening.H,
	}
	for i := range p.Bsb22Commitments {
		points = append(points, &p.Bsb22Commitments[i])
	}
	for _, pt := range points {
		if pt.IsInfinity() {
			return true
		}
	}
	return false
}

// publicWitness builds the public-only witness from signals.
func publicWitness(kind CircuitKind, s PublicSignals) (witness.Witness, error) {
	var assignment frontend.Circuit
	switch kind {
	case CircuitCommitmentValidity:
		assignment = &CommitmentValidityCircuit{
			Commitment:   s[0],
			MinAge:       s[1],
			MaxAge:       s[2],
			AgeValidFlag: s[3],
		}
	case CircuitCompatibility:
		assignment = &CompatibilityCircuit{
			User1LocationCommitment: s[0],
			User2LocationCommitment: s[1],
			User1HobbiesCommitment:  s[2],
			User2HobbiesCommitment:  s[3],
			IsCompatible:            s[4],
			CompatibilityScore:      s[5],
			SessionNonce:            s[6],
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownCircuit, kind)
	}
	return frontend.NewWitness(assignment, ecc.BN254.ScalarField(), frontend.PublicOnly())
}
