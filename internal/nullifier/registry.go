// Package nullifier tracks consumed identity nullifiers and compatibility
// events. Each entry moves from unused to used exactly once and is never
// released.
//
// The registry does not know the identity behind a nullifier; sybil resistance
// is only as strong as the uniqueness of the upstream nullifier derivation.
package nullifier

import (
	"fmt"

	"github.com/aura-protocol/aura/internal/ledger"
	"github.com/aura-protocol/aura/pkg/protocol"
)

// Registry operates on the nullifier state of a ledger transaction.
type Registry struct{}

// NewRegistry creates a Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// ConsumeIdentityNullifier marks hash as used by owner. It fails with
// protocol.ErrNullifierUsed if hash was consumed before, by anyone.
func (r *Registry) ConsumeIdentityNullifier(st *ledger.State, hash protocol.NullifierHash, owner protocol.Address) error {
	if hash.IsZero() {
		return protocol.ErrInvalidNullifier
	}
	used, err := r.IsIdentityNullifierUsed(st, hash)
	if err != nil {
		return err
	}
	if used {
		return fmt.Errorf("%w: %s", protocol.ErrNullifierUsed, hash)
	}
	return st.PutNullifier(hash, owner)
}

// IsIdentityNullifierUsed reports whether hash was consumed.
func (r *Registry) IsIdentityNullifierUsed(st *ledger.State, hash protocol.NullifierHash) (bool, error) {
	_, used, err := st.NullifierOwner(hash)
	return used, err
}

// ConsumeCompatibilityEvent marks (pair, epoch) as used. It returns false,
// and changes nothing, if the event was consumed before.
func (r *Registry) ConsumeCompatibilityEvent(st *ledger.State, pair protocol.PairID, epoch string) (bool, error) {
	if epoch == "" {
		return false, fmt.Errorf("%w: empty compatibility epoch", protocol.ErrInvalidInput)
	}
	used, err := st.CompatEventUsed(pair, epoch)
	if err != nil || used {
		return false, err
	}
	if err := st.PutCompatEvent(pair, epoch); err != nil {
		return false, err
	}
	return true, nil
}
