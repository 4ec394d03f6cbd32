package zkproof

// ZKError is a categorized failure of the proof layer. Values can be matched
// with errors.Is after wrapping.
type ZKError string

const (
	// ErrMalformedProof indicates a structurally invalid proof: undecodable
	// bytes, a group element at infinity, or contradictory claimed outputs.
	// It is detected before any pairing work.
	ErrMalformedProof ZKError = "malformed_proof"

	// ErrSignalArityMismatch indicates the public signals do not match the
	// circuit's expected count or value types.
	ErrSignalArityMismatch ZKError = "signal_arity_mismatch"

	// ErrCryptographicRejection indicates the PLONK verification failed.
	ErrCryptographicRejection ZKError = "cryptographic_rejection"

	// ErrWitnessInvalid indicates the prover was given a witness that does not
	// satisfy the circuit or does not match the requested public parameters.
	ErrWitnessInvalid ZKError = "witness_invalid"

	// ErrUnknownCircuit indicates a circuit kind with no compiled keys.
	ErrUnknownCircuit ZKError = "unknown_circuit"
)

// Error implements the error interface.
func (e ZKError) Error() string {
	return string(e)
}
