// Package engine wires the protocol components over one ledger store.
//
// Every mutating method runs in a single ledger transaction. Events emitted
// by the transaction are published to subscribers only after it commits, so
// a rejected operation is invisible to both the ledger and its observers.
//
// # Thread Safety
//
// Engine is safe for concurrent use. Writers are serialized by the store.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/aura-protocol/aura/internal/aura"
	"github.com/aura-protocol/aura/internal/config"
	"github.com/aura-protocol/aura/internal/disclosure"
	"github.com/aura-protocol/aura/internal/freshness"
	"github.com/aura-protocol/aura/internal/ledger"
	"github.com/aura-protocol/aura/internal/match"
	"github.com/aura-protocol/aura/internal/nullifier"
	"github.com/aura-protocol/aura/internal/profile"
	"github.com/aura-protocol/aura/internal/zkproof"
	"github.com/aura-protocol/aura/pkg/protocol"
)

// subscriberBuffer is the channel capacity of each subscriber.
const subscriberBuffer = 100

// ErrClosed is returned by every method after Close.
var ErrClosed = errors.New("engine: closed")

// Engine is the protocol facade.
type Engine struct {
	config    config.Config
	store     ledger.Store
	ownsStore bool
	clock     protocol.Clock
	log       *slog.Logger

	proofs     *zkproof.Service
	nonces     *freshness.Store
	nullifiers *nullifier.Registry
	aura       *aura.Ledger
	profiles   *profile.Registry
	matches    *match.Engine
	gate       *disclosure.Gate

	eventsMu    sync.RWMutex
	subscribers []chan protocol.Event
	closed      atomic.Bool
}

// Open opens the ledger store named by cfg.Storage and builds an Engine over
// it. The store is closed with the Engine.
func Open(cfg config.Config, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	store, err := ledger.OpenGormStore(cfg.Storage.Driver, cfg.Storage.DSN, logger)
	if err != nil {
		return nil, err
	}
	e, err := New(cfg, store, nil, logger)
	if err != nil {
		store.Close()
		return nil, err
	}
	e.ownsStore = true
	return e, nil
}

// New builds an Engine over store. The caller keeps ownership of store. A
// nil clock uses the wall clock and a nil logger uses slog.Default().
func New(cfg config.Config, store ledger.Store, clock protocol.Clock, logger *slog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	proofs, err := zkproof.NewService(cfg.ZK, logger.With("component", "zkproof"))
	if err != nil {
		return nil, err
	}

	freshCfg := cfg.Freshness.Store()
	freshCfg.Now = clock

	e := &Engine{
		config:     cfg,
		store:      store,
		clock:      clock,
		log:        logger,
		proofs:     proofs,
		nonces:     freshness.NewStore(freshCfg),
		nullifiers: nullifier.NewRegistry(),
		aura:       aura.NewLedger(),
	}
	e.profiles = profile.NewRegistry(profile.Config{
		CreationCredit: cfg.Economy.ProfileCreationCredit,
		MinAge:         cfg.ZK.MinAge,
		MaxAge:         cfg.ZK.MaxAge,
	}, proofs, e.nullifiers, e.aura, logger.With("component", "profile"))
	e.matches = match.NewEngine(match.Config{
		MatchBonus:     cfg.Economy.MatchBonus,
		ChatUnlockCost: cfg.Economy.ChatUnlockCost,
		ChatUnlock:     cfg.Policy.ChatUnlock,
	}, proofs, e.nonces, e.profiles, e.nullifiers, e.aura, logger.With("component", "match"))
	e.gate = disclosure.NewGate(disclosure.Config{
		Economy:         cfg.Economy,
		AllowRepurchase: cfg.Policy.AllowTierRepurchase,
	}, e.profiles, e.aura, logger.With("component", "disclosure"))

	return e, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() config.Config {
	return e.config
}

// Proofs returns the proof service, for clients that prove in-process.
func (e *Engine) Proofs() *zkproof.Service {
	return e.proofs
}

// update runs fn in a write transaction and publishes its events on commit.
func (e *Engine) update(ctx context.Context, op string, fn func(*ledger.State) error) error {
	if e.closed.Load() {
		return ErrClosed
	}
	events, err := ledger.Update(ctx, e.store, e.clock, fn)
	if err != nil {
		if protocol.Category(err) != nil {
			e.log.Info("operation rejected", "op", op, "error", err)
		} else {
			e.log.Error("operation failed", "op", op, "error", err)
		}
		return err
	}
	e.log.Debug("operation committed", "op", op, "events", len(events))
	for _, ev := range events {
		e.publish(ev)
	}
	return nil
}

func (e *Engine) view(ctx context.Context, fn func(*ledger.State) error) error {
	if e.closed.Load() {
		return ErrClosed
	}
	return ledger.View(ctx, e.store, e.clock, fn)
}

// CreateProfile registers a profile.
func (e *Engine) CreateProfile(ctx context.Context, req profile.CreateRequest) (*protocol.Profile, error) {
	var p *protocol.Profile
	err := e.update(ctx, "create_profile", func(st *ledger.State) error {
		var err error
		p, err = e.profiles.Create(st, req)
		return err
	})
	return p, err
}

// SuspendProfile deactivates a profile.
func (e *Engine) SuspendProfile(ctx context.Context, owner protocol.Address) error {
	return e.update(ctx, "suspend_profile", func(st *ledger.State) error {
		return e.profiles.Suspend(st, owner)
	})
}

// ReactivateProfile reactivates a suspended profile.
func (e *Engine) ReactivateProfile(ctx context.Context, owner protocol.Address) error {
	return e.update(ctx, "reactivate_profile", func(st *ledger.State) error {
		return e.profiles.Reactivate(st, owner)
	})
}

// Profile returns the profile of owner.
func (e *Engine) Profile(ctx context.Context, owner protocol.Address) (*protocol.Profile, error) {
	var p *protocol.Profile
	err := e.view(ctx, func(st *ledger.State) error {
		var err error
		p, err = e.profiles.Get(st, owner)
		return err
	})
	return p, err
}

// IssueNonce issues the session nonce actor must bind its compatibility
// proof for target to. Both principals must hold active profiles, and actor
// must still be able to like target.
func (e *Engine) IssueNonce(ctx context.Context, actor, target protocol.Address) (*freshness.Nonce, error) {
	if actor == target {
		return nil, protocol.ErrSelfAction
	}
	err := e.view(ctx, func(st *ledger.State) error {
		for _, addr := range []protocol.Address{actor, target} {
			if _, err := e.profiles.Active(st, addr); err != nil {
				return err
			}
		}
		record, found, err := st.Pair(protocol.NewPairID(actor, target))
		if err != nil || !found {
			return err
		}
		if record.LikeOf(actor) != protocol.LikeUnset {
			return fmt.Errorf("%w: %s on pair %s", protocol.ErrAlreadySwiped, actor, record.PairID)
		}
		if _, err := protocol.Next(record.State(), protocol.ActionLike); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return e.nonces.Issue(actor, target)
}

// Swipe records a like or pass.
func (e *Engine) Swipe(ctx context.Context, req match.SwipeRequest) (*match.SwipeResult, error) {
	var result *match.SwipeResult
	err := e.update(ctx, "swipe", func(st *ledger.State) error {
		var err error
		result, err = e.matches.Swipe(st, req)
		return err
	})
	return result, err
}

// UnlockChat pays for actor's side of the chat unlock with peer.
func (e *Engine) UnlockChat(ctx context.Context, actor, peer protocol.Address) (*match.UnlockResult, error) {
	var result *match.UnlockResult
	err := e.update(ctx, "unlock_chat", func(st *ledger.State) error {
		var err error
		result, err = e.matches.UnlockChat(st, actor, peer)
		return err
	})
	return result, err
}

// UnlockDetails buys a disclosure tier of target for actor.
func (e *Engine) UnlockDetails(ctx context.Context, actor, target protocol.Address, tier protocol.Tier) (*disclosure.Disclosure, error) {
	var d *disclosure.Disclosure
	err := e.update(ctx, "unlock_details", func(st *ledger.State) error {
		var err error
		d, err = e.gate.Unlock(st, actor, target, tier)
		return err
	})
	return d, err
}

// UnlockedTiers returns the tiers actor holds on target.
func (e *Engine) UnlockedTiers(ctx context.Context, actor, target protocol.Address) ([]protocol.Tier, error) {
	var tiers []protocol.Tier
	err := e.view(ctx, func(st *ledger.State) error {
		var err error
		tiers, err = e.gate.Unlocked(st, actor, target)
		return err
	})
	return tiers, err
}

// PostMessage records the hash of a chat message from actor to peer.
func (e *Engine) PostMessage(ctx context.Context, actor, peer protocol.Address, hash protocol.MessageHash) (*protocol.MessageRef, error) {
	var ref *protocol.MessageRef
	err := e.update(ctx, "post_message", func(st *ledger.State) error {
		var err error
		ref, err = e.matches.PostMessage(st, actor, peer, hash)
		return err
	})
	return ref, err
}

// Balance returns the Aura balance of user.
func (e *Engine) Balance(ctx context.Context, user protocol.Address) (uint64, error) {
	var balance uint64
	err := e.view(ctx, func(st *ledger.State) error {
		var err error
		balance, err = e.aura.Balance(st, user)
		return err
	})
	return balance, err
}

// History returns the Aura transactions of user, oldest first.
func (e *Engine) History(ctx context.Context, user protocol.Address) ([]protocol.AuraTransaction, error) {
	var history []protocol.AuraTransaction
	err := e.view(ctx, func(st *ledger.State) error {
		var err error
		history, err = e.aura.History(st, user)
		return err
	})
	return history, err
}

// Reconcile checks that the balance of user equals the sum of its history.
func (e *Engine) Reconcile(ctx context.Context, user protocol.Address) error {
	return e.view(ctx, func(st *ledger.State) error {
		return e.aura.Reconcile(st, user)
	})
}

// MatchState returns the state of the pair (a, b).
func (e *Engine) MatchState(ctx context.Context, a, b protocol.Address) (protocol.MatchState, error) {
	var state protocol.MatchState
	err := e.view(ctx, func(st *ledger.State) error {
		var err error
		state, err = e.matches.State(st, a, b)
		return err
	})
	return state, err
}

// Pair returns the swipe record of (a, b) and whether it exists.
func (e *Engine) Pair(ctx context.Context, a, b protocol.Address) (*protocol.SwipeRecord, bool, error) {
	var (
		record *protocol.SwipeRecord
		ok     bool
	)
	err := e.view(ctx, func(st *ledger.State) error {
		var err error
		record, ok, err = e.matches.Pair(st, a, b)
		return err
	})
	return record, ok, err
}

// Messages returns the message references of the pair (a, b).
func (e *Engine) Messages(ctx context.Context, a, b protocol.Address) ([]protocol.MessageRef, error) {
	var refs []protocol.MessageRef
	err := e.view(ctx, func(st *ledger.State) error {
		var err error
		refs, err = e.matches.Messages(st, a, b)
		return err
	})
	return refs, err
}

// Events returns committed events with sequence greater than after.
func (e *Engine) Events(ctx context.Context, after uint64) ([]protocol.Event, error) {
	var events []protocol.Event
	err := e.view(ctx, func(st *ledger.State) error {
		var err error
		events, err = st.EventLog(after)
		return err
	})
	return events, err
}

// Subscribe returns a channel that receives committed events. The channel is
// closed by Close.
func (e *Engine) Subscribe() <-chan protocol.Event {
	e.eventsMu.Lock()
	defer e.eventsMu.Unlock()

	ch := make(chan protocol.Event, subscriberBuffer)
	if e.closed.Load() {
		close(ch)
		return ch
	}
	e.subscribers = append(e.subscribers, ch)
	return ch
}

// publish sends ev to all subscribers. Events are dropped for a subscriber
// whose channel is full; the event log still holds them.
func (e *Engine) publish(ev protocol.Event) {
	e.eventsMu.RLock()
	defer e.eventsMu.RUnlock()

	for _, ch := range e.subscribers {
		select {
		case ch <- ev:
		default:
			e.log.Warn("dropped event due to full subscriber channel",
				"kind", ev.Kind,
				"seq", ev.Seq,
			)
		}
	}
}

// Close stops the nonce store, closes the proof service and subscriber
// channels, and closes the ledger store if the Engine opened it.
func (e *Engine) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	e.nonces.Stop()
	e.proofs.Close()

	e.eventsMu.Lock()
	for _, ch := range e.subscribers {
		close(ch)
	}
	e.subscribers = nil
	e.eventsMu.Unlock()

	if e.ownsStore {
		if err := e.store.Close(); err != nil {
			return fmt.Errorf("close ledger: %w", err)
		}
	}
	return nil
}
