package protocol

import (
	"errors"
	"fmt"

	"github.com/aura-protocol/aura/pkg/zkproof"
)

// Error categories. Every rejection returned by the protocol wraps exactly one
// of these, so callers can branch with errors.Is. A rejected operation never
// leaves partial effects in the ledger.
var (
	// ErrInvalidInput covers malformed commitments, proofs, signals and arguments.
	ErrInvalidInput = errors.New("invalid input")

	// ErrAuthorization covers inactive profiles, self actions and actions the
	// pair's state does not permit.
	ErrAuthorization = errors.New("authorization failure")

	// ErrCryptographicRejection covers proofs that fail verification or are
	// not bound to the expected commitments or nonce.
	ErrCryptographicRejection = errors.New("cryptographic rejection")

	// ErrConflictingState covers double swipes, nullifier reuse, repeat
	// payments and repeat one-time unlocks.
	ErrConflictingState = errors.New("conflicting state")

	// ErrInsufficientBalance is returned when a debit exceeds the balance.
	ErrInsufficientBalance = errors.New("insufficient aura balance")
)

// Specific errors.
var (
	ErrProfileNotFound   = fmt.Errorf("%w: profile not found", ErrInvalidInput)
	ErrInvalidAddress    = fmt.Errorf("%w: invalid address", ErrInvalidInput)
	ErrInvalidAmount     = fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	ErrInvalidTier       = fmt.Errorf("%w: unknown disclosure tier", ErrInvalidInput)
	ErrInvalidReason     = fmt.Errorf("%w: unknown transaction reason", ErrInvalidInput)
	ErrInvalidNullifier  = fmt.Errorf("%w: nullifier hash must not be zero", ErrInvalidInput)
	ErrProofRequired     = fmt.Errorf("%w: a like requires a compatibility proof", ErrInvalidInput)
	ErrInvalidMessage    = fmt.Errorf("%w: message hash must not be zero", ErrInvalidInput)
	ErrInvalidTransition = fmt.Errorf("%w: invalid match state transition", ErrConflictingState)

	ErrProfileInactive = fmt.Errorf("%w: profile is not active", ErrAuthorization)
	ErrSelfAction      = fmt.Errorf("%w: actor and target are the same principal", ErrAuthorization)
	ErrNotMatched      = fmt.Errorf("%w: no mutual match between the principals", ErrAuthorization)
	ErrChatLocked      = fmt.Errorf("%w: chat is not unlocked", ErrAuthorization)
	ErrNotCompatible   = fmt.Errorf("%w: proof does not attest compatibility", ErrAuthorization)
	ErrAgeNotValid     = fmt.Errorf("%w: age commitment is outside the allowed range", ErrAuthorization)

	ErrSignalMismatch = fmt.Errorf("%w: public signals do not match registered commitments", ErrCryptographicRejection)
	ErrStaleNonce     = fmt.Errorf("%w: session nonce is unknown, expired or issued for another pair", ErrCryptographicRejection)

	ErrProfileExists   = fmt.Errorf("%w: profile already exists", ErrConflictingState)
	ErrNullifierUsed   = fmt.Errorf("%w: identity nullifier already used", ErrConflictingState)
	ErrAlreadySwiped   = fmt.Errorf("%w: swipe already recorded", ErrConflictingState)
	ErrProofReplayed   = fmt.Errorf("%w: compatibility event already consumed", ErrConflictingState)
	ErrAlreadyPaid     = fmt.Errorf("%w: chat unlock already paid", ErrConflictingState)
	ErrChatUnlocked    = fmt.Errorf("%w: chat already unlocked", ErrConflictingState)
	ErrTierUnlocked    = fmt.Errorf("%w: tier already unlocked", ErrConflictingState)
	ErrAlreadyActive   = fmt.Errorf("%w: profile already active", ErrConflictingState)
	ErrAlreadyInactive = fmt.Errorf("%w: profile already suspended", ErrConflictingState)
)

var categories = []error{
	ErrInvalidInput,
	ErrAuthorization,
	ErrCryptographicRejection,
	ErrConflictingState,
	ErrInsufficientBalance,
}

// Category returns the category sentinel wrapped by err, or nil if err is not
// a protocol rejection.
func Category(err error) error {
	for _, c := range categories {
		if errors.Is(err, c) {
			return c
		}
	}
	return nil
}

// ProofError maps a proof-layer failure into the protocol taxonomy. The
// original error stays in the chain.
func ProofError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, zkproof.ErrCryptographicRejection):
		return fmt.Errorf("%w: %w", ErrCryptographicRejection, err)
	case errors.Is(err, zkproof.ErrMalformedProof),
		errors.Is(err, zkproof.ErrSignalArityMismatch),
		errors.Is(err, zkproof.ErrUnknownCircuit),
		errors.Is(err, zkproof.ErrInvalidCommitment):
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	default:
		return err
	}
}
