package zkproof

import (
	"fmt"
	"sync"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/plonk"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/scs"
	"github.com/consensys/gnark/test/unsafekzg"
)

var (
	// compiledCircuits caches one compiled circuit per kind.
	compiledCircuits = make(map[CircuitKind]*CompiledCircuit)
	// compileMu protects concurrent access to compiledCircuits.
	compileMu sync.Mutex
)

// CompiledCircuit contains the compiled constraint system and cryptographic keys
// needed to generate and verify proofs for one circuit kind.
type CompiledCircuit struct {
	// Kind identifies which circuit was compiled.
	Kind CircuitKind

	// ConstraintSystem is the compiled circuit in sparse constraint form.
	ConstraintSystem constraint.ConstraintSystem

	// ProvingKey is used to generate proofs.
	ProvingKey plonk.ProvingKey

	// VerifyingKey is used to verify proofs.
	VerifyingKey plonk.VerifyingKey
}

// newCircuit returns an empty circuit definition for the kind.
func newCircuit(kind CircuitKind) (frontend.Circuit, error) {
	switch kind {
	case CircuitCommitmentValidity:
		return &CommitmentValidityCircuit{}, nil
	case CircuitCompatibility:
		return &CompatibilityCircuit{}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownCircuit, kind)
	}
}

// CompileCircuit compiles the circuit of the given kind and generates its
// proving and verifying keys. This is expensive and should be done once at
// startup.
//
// The SRS comes from unsafekzg and is only suitable for development and tests.
// A deployment needs keys from a trusted setup ceremony.
func CompileCircuit(kind CircuitKind) (*CompiledCircuit, error) {
	circuit, err := newCircuit(kind)
	if err != nil {
		return nil, err
	}

	cs, err := frontend.Compile(ecc.BN254.ScalarField(), scs.NewBuilder, circuit)
	if err != nil {
		return nil, fmt.Errorf("compile %s circuit: %w", kind, err)
	}

	srs, srsLagrange, err := unsafekzg.NewSRS(cs)
	if err != nil {
		return nil, fmt.Errorf("generate SRS for %s: %w", kind, err)
	}

	pk, vk, err := plonk.Setup(cs, srs, srsLagrange)
	if err != nil {
		return nil, fmt.Errorf("setup %s keys: %w", kind, err)
	}

	return &CompiledCircuit{
		Kind:             kind,
		ConstraintSystem: cs,
		ProvingKey:       pk,
		VerifyingKey:     vk,
	}, nil
}

// GetCompiledCircuit returns the cached compiled circuit for kind, compiling
// it on first use. All callers share the same instance.
func GetCompiledCircuit(kind CircuitKind) (*CompiledCircuit, error) {
	compileMu.Lock()
	defer compileMu.Unlock()

	if c, ok := compiledCircuits[kind]; ok {
		return c, nil
	}

	compiled, err := CompileCircuit(kind)
	if err != nil {
		return nil, err
	}

	compiledCircuits[kind] = compiled
	return compiled, nil
}

// GetCompiledCircuits returns every circuit kind, compiled and cached.
func GetCompiledCircuits() ([]*CompiledCircuit, error) {
	out := make([]*CompiledCircuit, 0, len(Kinds()))
	for _, kind := range Kinds() {
		c, err := GetCompiledCircuit(kind)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// ResetCompiledCircuits clears the cache.
// This is mainly useful for testing.
func ResetCompiledCircuits() {
	compileMu.Lock()
	defer compileMu.Unlock()
	compiledCircuits = make(map[CircuitKind]*CompiledCircuit)
}
