package zkproof

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark/backend/plonk"
	"github.com/consensys/gnark/frontend"
)

// Prover generates proofs for the protocol circuits. It only needs the
// circuits it will be asked to prove; missing kinds fail with
// ErrUnknownCircuit.
type Prover struct {
	compiled map[CircuitKind]*CompiledCircuit
}

// ProofResult contains a serialized proof and the public signals it binds.
type ProofResult struct {
	// Proof is the serialized PLONK proof.
	Proof []byte

	// Signals are the public inputs, in circuit order.
	Signals PublicSignals
}

// PartyOpening is one user's side of a compatibility witness: the plaintext
// location and hobbies together with the salts of their commitments.
type PartyOpening struct {
	City         string   `json:"city"`
	Hobbies      []string `json:"hobbies"`
	LocationSalt Salt     `json:"location_salt"`
	HobbiesSalt  Salt     `json:"hobbies_salt"`
}

// Commitments returns the location and hobbies commitments of the opening.
func (o PartyOpening) Commitments() (location, hobbies Commitment, err error) {
	if o.LocationSalt == o.HobbiesSalt {
		return Commitment{}, Commitment{}, ErrSaltReuse
	}
	slots, err := HobbySlots(o.Hobbies)
	if err != nil {
		return Commitment{}, Commitment{}, err
	}
	if location, err = Commit([]FieldValue{LocationField(o.City)}, o.LocationSalt); err != nil {
		return Commitment{}, Commitment{}, err
	}
	if hobbies, err = Commit(slots[:], o.HobbiesSalt); err != nil {
		return Commitment{}, Commitment{}, err
	}
	return location, hobbies, nil
}

// CompatibilityWitness holds both parties' openings. User1 is the party
// producing the proof.
type CompatibilityWitness struct {
	User1 PartyOpening
	User2 PartyOpening
}

// CompatibilityOutcome computes natively what the compatibility circuit
// outputs for two openings: whether they are compatible and the score.
func CompatibilityOutcome(user1, user2 PartyOpening) (compatible bool, score uint64, err error) {
	h1, err := HobbySlots(user1.Hobbies)
	if err != nil {
		return false, 0, fmt.Errorf("user1 hobbies: %w", err)
	}
	h2, err := HobbySlots(user2.Hobbies)
	if err != nil {
		return false, 0, fmt.Errorf("user2 hobbies: %w", err)
	}

	var shared uint64
	for _, a := range h1 {
		if a.IsZero() {
			continue
		}
		for _, b := range h2 {
			if a == b {
				shared++
				break
			}
		}
	}

	sameLocation := LocationField(user1.City) == LocationField(user2.City)
	if !sameLocation || shared == 0 {
		return false, 0, nil
	}
	return true, ScoreBase + ScorePerHobby*shared, nil
}

// NewProver creates a Prover for the given compiled circuits.
func NewProver(compiled ...*CompiledCircuit) *Prover {
	p := &Prover{compiled: make(map[CircuitKind]*CompiledCircuit, len(compiled))}
	for _, c := range compiled {
		p.compiled[c.Kind] = c
	}
	return p
}

// ProveCommitmentValidity proves knowledge of (age, salt) behind the age
// commitment. The public flag reports whether minAge <= age <= maxAge; it is
// computed honestly, so an out-of-range age yields a valid proof with flag 0.
func (p *Prover) ProveCommitmentValidity(age uint64, salt Salt, minAge, maxAge uint64) (*ProofResult, error) {
	if minAge > maxAge || maxAge > MaxAgeBound {
		return nil, fmt.Errorf("%w: age bounds [%d, %d]", ErrWitnessInvalid, minAge, maxAge)
	}
	if age > MaxAgeBound {
		return nil, fmt.Errorf("%w: age %d exceeds %d", ErrWitnessInvalid, age, MaxAgeBound)
	}

	commitment, err := Commit([]FieldValue{FieldUint(age)}, salt)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrWitnessInvalid, err)
	}

	signals := CommitmentValiditySignals{
		Commitment: commitment,
		MinAge:     minAge,
		MaxAge:     maxAge,
		AgeValid:   age >= minAge && age <= maxAge,
	}

	assignment := &CommitmentValidityCircuit{
		Age:          age,
		Salt:         salt.BigInt(),
		Commitment:   commitment.BigInt(),
		MinAge:       minAge,
		MaxAge:       maxAge,
		AgeValidFlag: boolSignal(signals.AgeValid),
	}

	proof, err := p.prove(CircuitCommitmentValidity, assignment)
	if err != nil {
		return nil, err
	}
	return &ProofResult{Proof: proof, Signals: signals.Encode()}, nil
}

// ProveCompatibility proves the compatibility outcome of two openings, bound
// to sessionNonce. Both parties' commitments are recomputed from the witness,
// so the proof only verifies against the commitments actually registered.
func (p *Prover) ProveCompatibility(w CompatibilityWitness, sessionNonce *big.Int) (*ProofResult, CompatibilitySignals, error) {
	if sessionNonce == nil || sessionNonce.Sign() <= 0 || sessionNonce.Cmp(fr.Modulus()) >= 0 {
		return nil, CompatibilitySignals{}, fmt.Errorf("%w: session nonce must be a non-zero field element", ErrWitnessInvalid)
	}

	loc1, hob1, err := w.User1.Commitments()
	if err != nil {
		return nil, CompatibilitySignals{}, fmt.Errorf("%w: user1: %w", ErrWitnessInvalid, err)
	}
	loc2, hob2, err := w.User2.Commitments()
	if err != nil {
		return nil, CompatibilitySignals{}, fmt.Errorf("%w: user2: %w", ErrWitnessInvalid, err)
	}
	compatible, score, err := CompatibilityOutcome(w.User1, w.User2)
	if err != nil {
		return nil, CompatibilitySignals{}, fmt.Errorf("%w: %w", ErrWitnessInvalid, err)
	}

	signals := CompatibilitySignals{
		User1Location: loc1,
		User2Location: loc2,
		User1Hobbies:  hob1,
		User2Hobbies:  hob2,
		IsCompatible:  compatible,
		Score:         score,
		SessionNonce:  new(big.Int).Set(sessionNonce),
	}

	assignment, err := compatibilityAssignment(w, signals)
	if err != nil {
		return nil, CompatibilitySignals{}, err
	}

	proof, err := p.prove(CircuitCompatibility, assignment)
	if err != nil {
		return nil, CompatibilitySignals{}, err
	}
	return &ProofResult{Proof: proof, Signals: signals.Encode()}, signals, nil
}

// compatibilityAssignment fills private and public circuit values.
func compatibilityAssignment(w CompatibilityWitness, s CompatibilitySignals) (*CompatibilityCircuit, error) {
	h1, err := HobbySlots(w.User1.Hobbies)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrWitnessInvalid, err)
	}
	h2, err := HobbySlots(w.User2.Hobbies)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrWitnessInvalid, err)
	}

	c := &CompatibilityCircuit{
		User1Location:     LocationField(w.User1.City).BigInt(),
		User1LocationSalt: w.User1.LocationSalt.BigInt(),
		User2Location:     LocationField(w.User2.City).BigInt(),
		User2LocationSalt: w.User2.LocationSalt.BigInt(),
		User1HobbiesSalt:  w.User1.HobbiesSalt.BigInt(),
		User2HobbiesSalt:  w.User2.HobbiesSalt.BigInt(),

		User1LocationCommitment: s.User1Location.BigInt(),
		User2LocationCommitment: s.User2Location.BigInt(),
		User1HobbiesCommitment:  s.User1Hobbies.BigInt(),
		User2HobbiesCommitment:  s.User2Hobbies.BigInt(),
		IsCompatible:            boolSignal(s.IsCompatible),
		CompatibilityScore:      s.Score,
		SessionNonce:            s.SessionNonce,
	}
	for i := 0; i < MaxHobbies; i++ {
		c.User1Hobbies[i] = h1[i].BigInt()
		c.User2Hobbies[i] = h2[i].BigInt()
	}
	return c, nil
}

// prove runs the PLONK prover and serializes the proof.
func (p *Prover) prove(kind CircuitKind, assignment frontend.Circuit) ([]byte, error) {
	compiled, ok := p.compiled[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCircuit, kind)
	}

	fullWitness, err := frontend.NewWitness(assignment, ecc.BN254.ScalarField())
	if err != nil {
		return nil, fmt.Errorf("%w: build witness: %w", ErrWitnessInvalid, err)
	}

	proof, err := plonk.Prove(compiled.ConstraintSystem, compiled.ProvingKey, fullWitness)
	if err != nil {
		return nil, fmt.Errorf("%w: generate %s proof: %w", ErrWitnessInvalid, kind, err)
	}

	var buf bytes.Buffer
	if _, err := proof.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("serialize proof: %w", err)
	}
	return buf.Bytes(), nil
}
