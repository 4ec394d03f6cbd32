package disclosure

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-protocol/aura/internal/aura"
	"github.com/aura-protocol/aura/internal/ledger"
	"github.com/aura-protocol/aura/internal/nullifier"
	"github.com/aura-protocol/aura/internal/profile"
	"github.com/aura-protocol/aura/pkg/protocol"
)

var (
	alice = protocol.AddressFromPublicKey([]byte("alice"))
	bob   = protocol.AddressFromPublicKey([]byte("bob"))
	carol = protocol.AddressFromPublicKey([]byte("carol"))
)

func newTestGate(allowRepurchase bool) *Gate {
	l := aura.NewLedger()
	profiles := profile.NewRegistry(profile.Config{}, nil, nullifier.NewRegistry(), l, nil)
	return NewGate(Config{Economy: protocol.DefaultEconomy(), AllowRepurchase: allowRepurchase}, profiles, l, nil)
}

// seed creates active profiles holding balance Aura and a mutual match
// between alice and bob.
func seed(t *testing.T, store ledger.Store, balance uint64) {
	t.Helper()
	l := aura.NewLedger()
	_, err := ledger.Update(context.Background(), store, nil, func(st *ledger.State) error {
		for _, addr := range []protocol.Address{alice, bob, carol} {
			p := &protocol.Profile{Owner: addr, IsActive: true}
			if _, err := l.Credit(st, p, balance, protocol.ReasonProfileCreation, nil); err != nil {
				return err
			}
		}
		record := protocol.NewSwipeRecord(alice, bob, st.Now())
		if _, err := record.RecordSwipe(alice, true, st.Now()); err != nil {
			return err
		}
		if _, err := record.RecordSwipe(bob, true, st.Now()); err != nil {
			return err
		}
		return st.PutPair(record)
	})
	require.NoError(t, err)
}

func unlock(store ledger.Store, g *Gate, actor, target protocol.Address, tier protocol.Tier) (*Disclosure, []protocol.Event, error) {
	var d *Disclosure
	events, err := ledger.Update(context.Background(), store, nil, func(st *ledger.State) error {
		var err error
		d, err = g.Unlock(st, actor, target, tier)
		return err
	})
	return d, events, err
}

func balanceOf(t *testing.T, store ledger.Store, addr protocol.Address) uint64 {
	t.Helper()
	var b uint64
	require.NoError(t, ledger.View(context.Background(), store, nil, func(st *ledger.State) error {
		var err error
		b, err = aura.NewLedger().Balance(st, addr)
		return err
	}))
	return b
}

func TestUnlock(t *testing.T) {
	store := ledger.NewMemStore()
	seed(t, store, 100)
	g := newTestGate(false)

	d, events, err := unlock(store, g, alice, bob, protocol.TierBasic)
	require.NoError(t, err)
	assert.Equal(t, []string{"display_name", "age"}, d.Fields)
	assert.Equal(t, int64(-20), d.Transaction.Amount)
	assert.Equal(t, protocol.ReasonUnlockBasic, d.Transaction.Reason)

	require.Len(t, events, 2)
	assert.Equal(t, protocol.EventAuraSpent, events[0].Kind)
	assert.Equal(t, protocol.EventDetailUnlocked, events[1].Kind)
	assert.Equal(t, protocol.TierBasic, events[1].Tier)
	assert.Equal(t, d.Fields, events[1].Fields)
	assert.Equal(t, uint64(80), balanceOf(t, store, alice))

	_, _, err = unlock(store, g, alice, bob, protocol.TierBasic)
	assert.ErrorIs(t, err, protocol.ErrTierUnlocked)
	assert.ErrorIs(t, err, protocol.ErrConflictingState)
	assert.Equal(t, uint64(80), balanceOf(t, store, alice))

	// Tiers are per actor: bob can still buy basic on alice.
	_, _, err = unlock(store, g, bob, alice, protocol.TierBasic)
	require.NoError(t, err)

	_, _, err = unlock(store, g, alice, bob, protocol.TierAvatar)
	require.NoError(t, err)
	assert.Equal(t, uint64(20), balanceOf(t, store, alice))

	require.NoError(t, ledger.View(context.Background(), store, nil, func(st *ledger.State) error {
		tiers, err := g.Unlocked(st, alice, bob)
		require.NoError(t, err)
		assert.Equal(t, []protocol.Tier{protocol.TierBasic, protocol.TierAvatar}, tiers)
		return aura.NewLedger().Reconcile(st, alice)
	}))
}

func TestUnlock_Repurchase(t *testing.T) {
	store := ledger.NewMemStore()
	seed(t, store, 100)
	g := newTestGate(true)

	for i := 0; i < 2; i++ {
		_, _, err := unlock(store, g, alice, bob, protocol.TierBio)
		require.NoError(t, err)
	}
	assert.Equal(t, uint64(20), balanceOf(t, store, alice))
}

func TestUnlock_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		balance uint64
		actor   protocol.Address
		target  protocol.Address
		tier    protocol.Tier
		wantErr error
	}{
		{"not matched", 100, alice, carol, protocol.TierBasic, protocol.ErrNotMatched},
		{"self", 100, alice, alice, protocol.TierBasic, protocol.ErrSelfAction},
		{"unknown tier", 100, alice, bob, protocol.Tier(9), protocol.ErrInvalidTier},
		{"insufficient", 59, alice, bob, protocol.TierAvatar, protocol.ErrInsufficientBalance},
		{"unknown target", 100, alice, protocol.AddressFromPublicKey([]byte("x")), protocol.TierBasic, protocol.ErrProfileNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := ledger.NewMemStore()
			seed(t, store, tt.balance)
			g := newTestGate(false)

			_, events, err := unlock(store, g, tt.actor, tt.target, tt.tier)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, events)
			assert.Equal(t, tt.balance, balanceOf(t, store, alice))
		})
	}
}

func TestUnlock_SuspendedTarget(t *testing.T) {
	store := ledger.NewMemStore()
	seed(t, store, 100)
	g := newTestGate(false)

	_, err := ledger.Update(context.Background(), store, nil, func(st *ledger.State) error {
		return g.profiles.Suspend(st, bob)
	})
	require.NoError(t, err)

	_, _, err = unlock(store, g, alice, bob, protocol.TierBasic)
	assert.ErrorIs(t, err, protocol.ErrProfileInactive)
	assert.Equal(t, uint64(100), balanceOf(t, store, alice))
}
