// Package zkproof provides the zero-knowledge layer of the Aura protocol.
//
// Two PLONK circuits over BN254 are defined:
//
//   - CommitmentValidityCircuit proves "I know (age, salt) such that
//     MiMC(age, salt) = C and the flag reports whether MinAge <= age <= MaxAge".
//   - CompatibilityCircuit proves, for two committed profiles, whether their
//     location commitments open to the same value and how many hobbies the two
//     committed hobby sets share, without revealing city or hobbies.
//
// The package also holds the native commitment codec, circuit setup, prover and
// verifier. Any backend satisfying the public-signal layouts in signals.go can
// be substituted for the PLONK implementation.
package zkproof

import (
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/hash/mimc"
)

const (
	// MaxHobbies is the fixed number of hobby slots in a hobbies commitment.
	// Unused slots hold zero.
	MaxHobbies = 5

	// ScoreBase is the score awarded for a compatible pair before hobby bonuses.
	ScoreBase = 50

	// ScorePerHobby is added for every shared hobby. With MaxHobbies slots the
	// score never exceeds MaxScore.
	ScorePerHobby = 10

	// MaxScore is the upper bound of a compatibility score.
	MaxScore = ScoreBase + ScorePerHobby*MaxHobbies
)

// CommitmentValidityCircuit proves that an age commitment binds an age within
// [MinAge, MaxAge] without revealing it.
type CommitmentValidityCircuit struct {
	// Private witness
	Age  frontend.Variable `gnark:",secret"`
	Salt frontend.Variable `gnark:",secret"`

	// Public inputs, in signal order
	Commitment   frontend.Variable `gnark:",public"`
	MinAge       frontend.Variable `gnark:",public"`
	MaxAge       frontend.Variable `gnark:",public"`
	AgeValidFlag frontend.Variable `gnark:",public"`
}

// Define implements frontend.Circuit.
func (c *CommitmentValidityCircuit) Define(api frontend.API) error {
	h, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}
	h.Write(c.Age, c.Salt)
	api.AssertIsEqual(h.Sum(), c.Commitment)

	// Cmp yields -1, 0 or 1. Age is in range iff Cmp(age, min) != -1 and
	// Cmp(age, max) != 1.
	notBelow := api.Sub(1, api.IsZero(api.Add(api.Cmp(c.Age, c.MinAge), 1)))
	notAbove := api.Sub(1, api.IsZero(api.Sub(api.Cmp(c.Age, c.MaxAge), 1)))
	api.AssertIsEqual(api.Mul(notBelow, notAbove), c.AgeValidFlag)

	return nil
}

// CompatibilityCircuit proves location equality and hobby overlap between two
// committed profiles.
type CompatibilityCircuit struct {
	// Private witness
	User1Location     frontend.Variable             `gnark:",secret"`
	User1LocationSalt frontend.Variable             `gnark:",secret"`
	User2Location     frontend.Variable             `gnark:",secret"`
	User2LocationSalt frontend.Variable             `gnark:",secret"`
	User1Hobbies      [MaxHobbies]frontend.Variable `gnark:",secret"`
	User1HobbiesSalt  frontend.Variable             `gnark:",secret"`
	User2Hobbies      [MaxHobbies]frontend.Variable `gnark:",secret"`
	User2HobbiesSalt  frontend.Variable             `gnark:",secret"`

	// Public inputs, in signal order
	User1LocationCommitment frontend.Variable `gnark:",public"`
	User2LocationCommitment frontend.Variable `gnark:",public"`
	User1HobbiesCommitment  frontend.Variable `gnark:",public"`
	User2HobbiesCommitment  frontend.Variable `gnark:",public"`
	IsCompatible            frontend.Variable `gnark:",public"`
	CompatibilityScore      frontend.Variable `gnark:",public"`
	SessionNonce            frontend.Variable `gnark:",public"`
}

// Define implements frontend.Circuit.
func (c *CompatibilityCircuit) Define(api frontend.API) error {
	if err := assertCommitment(api, c.User1LocationCommitment, c.User1Location, c.User1LocationSalt); err != nil {
		return err
	}
	if err := assertCommitment(api, c.User2LocationCommitment, c.User2Location, c.User2LocationSalt); err != nil {
		return err
	}
	if err := assertCommitment(api, c.User1HobbiesCommitment, append(c.User1Hobbies[:], c.User1HobbiesSalt)...); err != nil {
		return err
	}
	if err := assertCommitment(api, c.User2HobbiesCommitment, append(c.User2Hobbies[:], c.User2HobbiesSalt)...); err != nil {
		return err
	}

	assertDistinctHobbies(api, c.User1Hobbies)
	assertDistinctHobbies(api, c.User2Hobbies)

	sameLocation := api.IsZero(api.Sub(c.User1Location, c.User2Location))
	shared := c.countSharedHobbies(api)
	hasShared := api.Sub(1, api.IsZero(shared))

	compatible := api.Mul(sameLocation, hasShared)
	api.AssertIsEqual(compatible, c.IsCompatible)

	score := api.Mul(compatible, api.Add(ScoreBase, api.Mul(shared, ScorePerHobby)))
	api.AssertIsEqual(score, c.CompatibilityScore)

	// A zero nonce would let one proof serve every session.
	api.AssertIsDifferent(c.SessionNonce, 0)

	return nil
}

// countSharedHobbies counts the non-empty slots of user1 that appear anywhere
// in user2's set. Each user1 slot contributes at most 1 and the slots are
// distinct, so the result is the size of the intersection.
func (c *CompatibilityCircuit) countSharedHobbies(api frontend.API) frontend.Variable {
	var shared frontend.Variable = 0
	for i := 0; i < MaxHobbies; i++ {
		var hits frontend.Variable = 0
		for j := 0; j < MaxHobbies; j++ {
			hits = api.Add(hits, api.IsZero(api.Sub(c.User1Hobbies[i], c.User2Hobbies[j])))
		}
		nonEmpty := api.Sub(1, api.IsZero(c.User1Hobbies[i]))
		matched := api.Mul(nonEmpty, api.Sub(1, api.IsZero(hits)))
		shared = api.Add(shared, matched)
	}
	return shared
}

// assertDistinctHobbies constrains every non-empty slot to differ from all
// later slots. Empty slots may repeat.
func assertDistinctHobbies(api frontend.API, slots [MaxHobbies]frontend.Variable) {
	for i := 0; i < MaxHobbies; i++ {
		nonEmpty := api.Sub(1, api.IsZero(slots[i]))
		for j := i + 1; j < MaxHobbies; j++ {
			same := api.IsZero(api.Sub(slots[i], slots[j]))
			api.AssertIsEqual(api.Mul(nonEmpty, same), 0)
		}
	}
}

// assertCommitment constrains commitment == MiMC(values...).
func assertCommitment(api frontend.API, commitment frontend.Variable, values ...frontend.Variable) error {
	h, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}
	h.Write(values...)
	api.AssertIsEqual(h.Sum(), commitment)
	return nil
}
