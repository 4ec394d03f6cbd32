package zkproof

// ZKError is a failure of the proof service itself, as opposed to a proof
// being rejected.
type ZKError string

const (
	// ErrProofTimeout indicates that proof generation exceeded the
	// configured timeout.
	ErrProofTimeout ZKError = "proof_timeout"

	// ErrServiceClosed indicates that the service was closed.
	ErrServiceClosed ZKError = "service_closed"
)

// Error implements the error interface for ZKError.
func (e ZKError) Error() string {
	return string(e)
}
