package match

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-protocol/aura/internal/aura"
	"github.com/aura-protocol/aura/internal/ledger"
	"github.com/aura-protocol/aura/internal/nullifier"
	"github.com/aura-protocol/aura/internal/profile"
	"github.com/aura-protocol/aura/pkg/protocol"
	"github.com/aura-protocol/aura/pkg/zkproof"
)

type stubVerifier struct {
	err error
}

func (s *stubVerifier) Verify(zkproof.CircuitKind, []byte, zkproof.PublicSignals) error {
	return s.err
}

type stubNonces struct {
	err   error
	calls int
}

func (s *stubNonces) Consume(signal *big.Int, _, _ protocol.Address) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return signal.Text(16), nil
}

type fixture struct {
	t        *testing.T
	store    ledger.Store
	clock    protocol.Clock
	verifier *stubVerifier
	nonces   *stubNonces
	profiles *profile.Registry
	engine   *Engine
	nextNull byte
}

func newFixture(t *testing.T, config Config) *fixture {
	t.Helper()
	f := &fixture{
		t:        t,
		store:    ledger.NewMemStore(),
		clock:    func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) },
		verifier: &stubVerifier{},
		nonces:   &stubNonces{},
	}
	nullifiers := nullifier.NewRegistry()
	ledg := aura.NewLedger()
	f.profiles = profile.NewRegistry(profile.Config{CreationCredit: 100, MinAge: 18, MaxAge: 120}, f.verifier, nullifiers, ledg, nil)
	f.engine = NewEngine(config, f.verifier, f.nonces, f.profiles, nullifiers, ledg, nil)
	return f
}

func defaultConfig() Config {
	return Config{MatchBonus: 50, ChatUnlockCost: 80, ChatUnlock: protocol.ChatUnlockSingle}
}

func (f *fixture) register(name string) protocol.Address {
	f.t.Helper()
	salts, err := zkproof.NewGroupSalts()
	require.NoError(f.t, err)
	commitments, err := zkproof.ProfileOpening{
		DisplayName: name,
		City:        "Lisbon",
		Hobbies:     []string{"jazz", "chess"},
		Age:         30,
		Salts:       salts,
	}.Commitments()
	require.NoError(f.t, err)

	f.nextNull++
	owner := protocol.AddressFromPublicKey([]byte(name))
	_, err = f.update(func(st *ledger.State) error {
		_, err := f.profiles.Create(st, profile.CreateRequest{
			Owner:       owner,
			Commitments: commitments,
			Nullifier:   protocol.NullifierHash{f.nextNull},
			AgeProof:    []byte{1},
			AgeSignals: zkproof.CommitmentValiditySignals{
				Commitment: commitments.Age, MinAge: 18, MaxAge: 120, AgeValid: true,
			}.Encode(),
		})
		return err
	})
	require.NoError(f.t, err)
	return owner
}

func (f *fixture) update(fn func(*ledger.State) error) ([]protocol.Event, error) {
	return ledger.Update(context.Background(), f.store, f.clock, fn)
}

func (f *fixture) view(fn func(*ledger.State) error) {
	f.t.Helper()
	require.NoError(f.t, ledger.View(context.Background(), f.store, f.clock, fn))
}

func (f *fixture) profile(addr protocol.Address) *protocol.Profile {
	f.t.Helper()
	var p *protocol.Profile
	f.view(func(st *ledger.State) error {
		var err error
		p, err = st.Profile(addr)
		return err
	})
	return p
}

func (f *fixture) like(actor, target protocol.Address, nonce int64, score uint64) SwipeRequest {
	f.t.Helper()
	a, b := f.profile(actor), f.profile(target)
	return SwipeRequest{
		Actor:  actor,
		Target: target,
		IsLike: true,
		Proof:  []byte{1},
		Signals: zkproof.CompatibilitySignals{
			User1Location: a.Commitments.Location,
			User2Location: b.Commitments.Location,
			User1Hobbies:  a.Commitments.Hobbies,
			User2Hobbies:  b.Commitments.Hobbies,
			IsCompatible:  score > 0,
			Score:         score,
			SessionNonce:  big.NewInt(nonce),
		}.Encode(),
	}
}

func (f *fixture) swipe(req SwipeRequest) (*SwipeResult, []protocol.Event, error) {
	var result *SwipeResult
	events, err := f.update(func(st *ledger.State) error {
		var err error
		result, err = f.engine.Swipe(st, req)
		return err
	})
	return result, events, err
}

func (f *fixture) match(a, b protocol.Address) {
	f.t.Helper()
	_, _, err := f.swipe(f.like(a, b, 1, 70))
	require.NoError(f.t, err)
	_, _, err = f.swipe(f.like(b, a, 2, 70))
	require.NoError(f.t, err)
}

func (f *fixture) unlock(actor, peer protocol.Address) (*UnlockResult, []protocol.Event, error) {
	var result *UnlockResult
	events, err := f.update(func(st *ledger.State) error {
		var err error
		result, err = f.engine.UnlockChat(st, actor, peer)
		return err
	})
	return result, events, err
}

func kinds(events []protocol.Event) []protocol.EventKind {
	out := make([]protocol.EventKind, len(events))
	for i, e := range events {
		out[i] = e.Kind
	}
	return out
}

func TestSwipe_MutualMatch(t *testing.T) {
	f := newFixture(t, defaultConfig())
	alice, bob := f.register("alice"), f.register("bob")

	result, events, err := f.swipe(f.like(alice, bob, 1, 70))
	require.NoError(t, err)
	assert.Equal(t, protocol.StateOneSidedLike, result.State)
	assert.Equal(t, []protocol.EventKind{protocol.EventSwipeRecorded}, kinds(events))
	assert.Equal(t, uint64(70), events[0].Score)

	// The score is fixed by the first swipe.
	result, events, err = f.swipe(f.like(bob, alice, 2, 60))
	require.NoError(t, err)
	assert.Equal(t, protocol.StateMutualMatch, result.State)
	assert.Equal(t, []protocol.EventKind{
		protocol.EventSwipeRecorded,
		protocol.EventMatchCreated,
		protocol.EventAuraEarned,
		protocol.EventAuraEarned,
	}, kinds(events))
	assert.Equal(t, uint64(70), result.Record.CompatibilityScore)
	assert.True(t, result.Record.IsMatched)
	assert.Equal(t, f.clock(), result.Record.MatchedAt)

	for _, addr := range []protocol.Address{alice, bob} {
		p := f.profile(addr)
		assert.Equal(t, uint64(150), p.AuraBalance)
		assert.Equal(t, uint64(1), p.TotalMatches)
	}

	f.view(func(st *ledger.State) error {
		state, err := f.engine.State(st, bob, alice)
		require.NoError(t, err)
		assert.Equal(t, protocol.StateMutualMatch, state)
		return nil
	})
}

func TestSwipe_Pass(t *testing.T) {
	f := newFixture(t, defaultConfig())
	alice, bob := f.register("alice"), f.register("bob")

	result, _, err := f.swipe(SwipeRequest{Actor: alice, Target: bob})
	require.NoError(t, err)
	assert.Equal(t, protocol.StatePassed, result.State)
	assert.Zero(t, result.Record.CompatibilityScore)
	assert.Zero(t, f.nonces.calls)

	_, _, err = f.swipe(SwipeRequest{Actor: alice, Target: bob, IsLike: true})
	assert.ErrorIs(t, err, protocol.ErrAlreadySwiped)

	_, _, err = f.swipe(f.like(bob, alice, 1, 70))
	assert.ErrorIs(t, err, protocol.ErrInvalidTransition)
	assert.ErrorIs(t, err, protocol.ErrConflictingState)
	assert.Zero(t, f.nonces.calls, "a swipe rejected on state must not redeem its nonce")
}

func TestSwipe_AlreadySwipedLeavesRecord(t *testing.T) {
	f := newFixture(t, defaultConfig())
	alice, bob := f.register("alice"), f.register("bob")

	first, _, err := f.swipe(f.like(alice, bob, 1, 70))
	require.NoError(t, err)

	_, events, err := f.swipe(f.like(alice, bob, 2, 90))
	assert.ErrorIs(t, err, protocol.ErrAlreadySwiped)
	assert.Empty(t, events)

	f.view(func(st *ledger.State) error {
		record, found, err := f.engine.Pair(st, alice, bob)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, first.Record, record)
		return nil
	})
}

func TestSwipe_Rejections(t *testing.T) {
	stale := fmt.Errorf("%w: test", protocol.ErrStaleNonce)

	tests := []struct {
		name    string
		setup   func(f *fixture, alice, bob, carol protocol.Address) SwipeRequest
		wantErr error
	}{
		{
			name: "self",
			setup: func(f *fixture, alice, _, _ protocol.Address) SwipeRequest {
				return SwipeRequest{Actor: alice, Target: alice}
			},
			wantErr: protocol.ErrSelfAction,
		},
		{
			name: "unknown target",
			setup: func(f *fixture, alice, _, _ protocol.Address) SwipeRequest {
				return SwipeRequest{Actor: alice, Target: protocol.AddressFromPublicKey([]byte("ghost"))}
			},
			wantErr: protocol.ErrProfileNotFound,
		},
		{
			name: "suspended target",
			setup: func(f *fixture, alice, bob, _ protocol.Address) SwipeRequest {
				_, err := f.update(func(st *ledger.State) error { return f.profiles.Suspend(st, bob) })
				require.NoError(t, err)
				return SwipeRequest{Actor: alice, Target: bob}
			},
			wantErr: protocol.ErrProfileInactive,
		},
		{
			name: "like without proof",
			setup: func(f *fixture, alice, bob, _ protocol.Address) SwipeRequest {
				return SwipeRequest{Actor: alice, Target: bob, IsLike: true}
			},
			wantErr: protocol.ErrProofRequired,
		},
		{
			name: "proof over another pair",
			setup: func(f *fixture, alice, bob, carol protocol.Address) SwipeRequest {
				req := f.like(alice, carol, 1, 70)
				req.Target = bob
				return req
			},
			wantErr: protocol.ErrSignalMismatch,
		},
		{
			name: "roles swapped",
			setup: func(f *fixture, alice, bob, _ protocol.Address) SwipeRequest {
				req := f.like(bob, alice, 1, 70)
				req.Actor, req.Target = alice, bob
				return req
			},
			wantErr: protocol.ErrSignalMismatch,
		},
		{
			name: "not compatible",
			setup: func(f *fixture, alice, bob, _ protocol.Address) SwipeRequest {
				return f.like(alice, bob, 1, 0)
			},
			wantErr: protocol.ErrNotCompatible,
		},
		{
			name: "verifier rejects",
			setup: func(f *fixture, alice, bob, _ protocol.Address) SwipeRequest {
				f.verifier.err = zkproof.ErrCryptographicRejection
				return f.like(alice, bob, 1, 70)
			},
			wantErr: protocol.ErrCryptographicRejection,
		},
		{
			name: "malformed signals",
			setup: func(f *fixture, alice, bob, _ protocol.Address) SwipeRequest {
				req := f.like(alice, bob, 1, 70)
				req.Signals = req.Signals[:6]
				return req
			},
			wantErr: protocol.ErrInvalidInput,
		},
		{
			name: "stale nonce",
			setup: func(f *fixture, alice, bob, _ protocol.Address) SwipeRequest {
				f.nonces.err = stale
				return f.like(alice, bob, 1, 70)
			},
			wantErr: protocol.ErrStaleNonce,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, defaultConfig())
			alice, bob, carol := f.register("alice"), f.register("bob"), f.register("carol")
			req := tt.setup(f, alice, bob, carol)

			_, events, err := f.swipe(req)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, events)

			f.view(func(st *ledger.State) error {
				_, found, err := st.Pair(protocol.NewPairID(alice, bob))
				require.NoError(t, err)
				assert.False(t, found)
				return nil
			})
		})
	}
}

func TestSwipe_ReplayedEvent(t *testing.T) {
	f := newFixture(t, defaultConfig())
	alice, bob := f.register("alice"), f.register("bob")

	_, _, err := f.swipe(f.like(alice, bob, 7, 70))
	require.NoError(t, err)

	// Same epoch for the pair: the compatibility event was consumed.
	_, _, err = f.swipe(f.like(bob, alice, 7, 70))
	assert.ErrorIs(t, err, protocol.ErrProofReplayed)
	assert.ErrorIs(t, err, protocol.ErrConflictingState)
}

func TestUnlockChat_Single(t *testing.T) {
	f := newFixture(t, defaultConfig())
	alice, bob, carol := f.register("alice"), f.register("bob"), f.register("carol")

	_, _, err := f.unlock(alice, bob)
	assert.ErrorIs(t, err, protocol.ErrNotMatched)
	assert.Equal(t, uint64(100), f.profile(alice).AuraBalance)

	f.match(alice, bob)

	result, events, err := f.unlock(alice, bob)
	require.NoError(t, err)
	assert.True(t, result.Unlocked)
	assert.Len(t, result.SecretNonce, SecretNonceLength)
	assert.Equal(t, []protocol.EventKind{protocol.EventAuraSpent, protocol.EventChatUnlocked}, kinds(events))
	assert.Len(t, events[1].SharedSecretHash, SecretHashLength)

	expected, err := DeriveSecretHash(result.SecretNonce, result.Record, f.clock())
	require.NoError(t, err)
	assert.Equal(t, expected, result.Record.SharedSecretHash)

	a, b := f.profile(alice), f.profile(bob)
	assert.Equal(t, uint64(70), a.AuraBalance)
	assert.Equal(t, uint64(150), b.AuraBalance)
	assert.Equal(t, uint64(1), a.SuccessfulChats)
	assert.Equal(t, uint64(1), b.SuccessfulChats)

	_, _, err = f.unlock(bob, alice)
	assert.ErrorIs(t, err, protocol.ErrChatUnlocked)

	_, _, err = f.unlock(alice, carol)
	assert.ErrorIs(t, err, protocol.ErrNotMatched)
	assert.ErrorIs(t, err, protocol.ErrAuthorization)
}

func TestUnlockChat_Dual(t *testing.T) {
	config := defaultConfig()
	config.ChatUnlock = protocol.ChatUnlockDual
	f := newFixture(t, config)
	alice, bob := f.register("alice"), f.register("bob")
	f.match(alice, bob)

	result, events, err := f.unlock(alice, bob)
	require.NoError(t, err)
	assert.False(t, result.Unlocked)
	assert.Nil(t, result.SecretNonce)
	assert.Equal(t, []protocol.Address{alice}, result.Record.ChatPaidBy)
	assert.Equal(t, []protocol.EventKind{protocol.EventAuraSpent}, kinds(events))

	_, _, err = f.unlock(alice, bob)
	assert.ErrorIs(t, err, protocol.ErrAlreadyPaid)
	assert.Equal(t, uint64(70), f.profile(alice).AuraBalance)

	result, events, err = f.unlock(bob, alice)
	require.NoError(t, err)
	assert.True(t, result.Unlocked)
	assert.Equal(t, []protocol.EventKind{protocol.EventAuraSpent, protocol.EventChatUnlocked}, kinds(events))
	assert.Equal(t, uint64(70), f.profile(bob).AuraBalance)
	assert.Equal(t, protocol.StateChatUnlocked, result.Record.State())
}

func TestUnlockChat_InsufficientBalance(t *testing.T) {
	config := defaultConfig()
	config.ChatUnlockCost = 151
	f := newFixture(t, config)
	alice, bob := f.register("alice"), f.register("bob")
	f.match(alice, bob)

	_, events, err := f.unlock(alice, bob)
	assert.ErrorIs(t, err, protocol.ErrInsufficientBalance)
	assert.Empty(t, events)
	assert.Equal(t, uint64(150), f.profile(alice).AuraBalance)

	f.view(func(st *ledger.State) error {
		record, _, err := f.engine.Pair(st, alice, bob)
		require.NoError(t, err)
		assert.False(t, record.ChatUnlocked)
		assert.Empty(t, record.ChatPaidBy)
		return nil
	})
}

func TestSwipe_MatchCompletionIsAtomic(t *testing.T) {
	config := defaultConfig()
	config.MatchBonus = math.MaxInt64 - 100
	f := newFixture(t, config)
	alice, bob := f.register("alice"), f.register("bob")

	// Bob ends one above what the bonus can be added to.
	_, err := f.update(func(st *ledger.State) error {
		p, err := st.Profile(bob)
		if err != nil {
			return err
		}
		_, err = aura.NewLedger().Credit(st, p, 1, protocol.ReasonProfileCreation, nil)
		return err
	})
	require.NoError(t, err)

	_, _, err = f.swipe(f.like(bob, alice, 1, 70))
	require.NoError(t, err)

	// Alice is credited first and succeeds; bob's credit overflows.
	_, events, err := f.swipe(f.like(alice, bob, 2, 70))
	assert.ErrorIs(t, err, protocol.ErrInvalidInput)
	assert.Empty(t, events)

	a, b := f.profile(alice), f.profile(bob)
	assert.Equal(t, uint64(100), a.AuraBalance)
	assert.Equal(t, uint64(101), b.AuraBalance)
	assert.Zero(t, a.TotalMatches)
	assert.Zero(t, b.TotalMatches)

	f.view(func(st *ledger.State) error {
		record, found, err := f.engine.Pair(st, alice, bob)
		require.NoError(t, err)
		require.True(t, found)
		assert.False(t, record.IsMatched)
		assert.Equal(t, protocol.LikeUnset, record.LikeOf(alice))
		assert.Equal(t, protocol.StateOneSidedLike, record.State())

		history, err := st.Transactions(alice)
		require.NoError(t, err)
		assert.Len(t, history, 1)
		return nil
	})
}

func TestPostMessage(t *testing.T) {
	f := newFixture(t, defaultConfig())
	alice, bob := f.register("alice"), f.register("bob")
	f.match(alice, bob)

	var posted []protocol.Event
	post := func(actor, peer protocol.Address, hash protocol.MessageHash) (*protocol.MessageRef, error) {
		var ref *protocol.MessageRef
		var err error
		posted, err = f.update(func(st *ledger.State) error {
			var err error
			ref, err = f.engine.PostMessage(st, actor, peer, hash)
			return err
		})
		return ref, err
	}

	_, err := post(alice, bob, protocol.MessageHash{1})
	assert.ErrorIs(t, err, protocol.ErrChatLocked)

	_, _, err = f.unlock(alice, bob)
	require.NoError(t, err)

	_, err = post(alice, bob, protocol.MessageHash{})
	assert.ErrorIs(t, err, protocol.ErrInvalidMessage)

	first, err := post(alice, bob, protocol.MessageHash{1})
	require.NoError(t, err)
	second, err := post(bob, alice, protocol.MessageHash{2})
	require.NoError(t, err)
	require.Len(t, posted, 1)
	assert.Equal(t, bob, posted[0].Actor)
	assert.Equal(t, alice, posted[0].Target)
	assert.Equal(t, uint64(1), first.Seq)
	assert.Equal(t, uint64(2), second.Seq)

	f.view(func(st *ledger.State) error {
		refs, err := f.engine.Messages(st, bob, alice)
		require.NoError(t, err)
		require.Len(t, refs, 2)
		assert.Equal(t, alice, refs[0].Sender)
		assert.Equal(t, protocol.MessageHash{2}, refs[1].Hash)

		record, _, err := f.engine.Pair(st, alice, bob)
		require.NoError(t, err)
		assert.Equal(t, uint64(2), record.Messages)
		return nil
	})
}

func TestDeriveSecretHash(t *testing.T) {
	a := protocol.AddressFromPublicKey([]byte("a"))
	b := protocol.AddressFromPublicKey([]byte("b"))
	record := protocol.NewSwipeRecord(a, b, time.Unix(0, 0))
	at := time.Unix(100, 0)
	nonce := []byte("0123456789abcdef0123456789abcdef")

	h1, err := DeriveSecretHash(nonce, record, at)
	require.NoError(t, err)
	h2, err := DeriveSecretHash(nonce, record, at)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, SecretHashLength)

	h3, err := DeriveSecretHash(nonce, record, at.Add(time.Second))
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)

	other := protocol.NewSwipeRecord(a, protocol.AddressFromPublicKey([]byte("c")), time.Unix(0, 0))
	h4, err := DeriveSecretHash(nonce, other, at)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h4)

	_, err = DeriveSecretHash(nil, record, at)
	assert.True(t, errors.Is(err, ErrInvalidSecretNonce))
}
