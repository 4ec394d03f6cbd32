// Package match runs the swipe and match lifecycle of principal pairs.
//
// A like must carry a compatibility proof produced by the actor (as user1 of
// the circuit) over both parties' registered location and hobby commitments,
// bound to a session nonce issued for this actor and target. A pass needs no
// proof. The second like of a pair completes the match and pays the match
// bonus to both sides within the same ledger transaction.
package match

import (
	"fmt"
	"log/slog"
	"math/big"

	"github.com/aura-protocol/aura/internal/aura"
	"github.com/aura-protocol/aura/internal/ledger"
	"github.com/aura-protocol/aura/internal/nullifier"
	"github.com/aura-protocol/aura/internal/profile"
	"github.com/aura-protocol/aura/pkg/protocol"
	"github.com/aura-protocol/aura/pkg/zkproof"
)

// Verifier checks a proof against its public signals.
type Verifier interface {
	Verify(kind zkproof.CircuitKind, proof []byte, signals zkproof.PublicSignals) error
}

// NonceConsumer redeems session nonces. Consume returns the epoch naming the
// nonce, or an error wrapping protocol.ErrStaleNonce.
type NonceConsumer interface {
	Consume(signal *big.Int, actor, target protocol.Address) (string, error)
}

// Config holds the match economics and policy.
type Config struct {
	MatchBonus     uint64
	ChatUnlockCost uint64
	ChatUnlock     protocol.ChatUnlockPolicy
}

// SwipeRequest is a swipe submitted by Actor on Target. Proof and Signals are
// required for a like and ignored for a pass.
type SwipeRequest struct {
	Actor   protocol.Address
	Target  protocol.Address
	IsLike  bool
	Proof   []byte
	Signals zkproof.PublicSignals
}

// SwipeResult reports the pair after a swipe.
type SwipeResult struct {
	State  protocol.MatchState
	Record *protocol.SwipeRecord
}

// UnlockResult reports the pair after a chat unlock payment. SecretNonce is
// only set when the payment completed the unlock; it is handed to the caller
// and never stored.
type UnlockResult struct {
	Unlocked    bool
	SecretNonce []byte
	Record      *protocol.SwipeRecord
}

// Engine applies swipes, chat unlocks and message posts to ledger state.
type Engine struct {
	config     Config
	verifier   Verifier
	nonces     NonceConsumer
	profiles   *profile.Registry
	nullifiers *nullifier.Registry
	aura       *aura.Ledger
	logger     *slog.Logger
}

// NewEngine creates an Engine. A nil logger uses slog.Default().
func NewEngine(config Config, verifier Verifier, nonces NonceConsumer, profiles *profile.Registry, nullifiers *nullifier.Registry, ledger *aura.Ledger, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		config:     config,
		verifier:   verifier,
		nonces:     nonces,
		profiles:   profiles,
		nullifiers: nullifiers,
		aura:       ledger,
		logger:     logger,
	}
}

// Swipe records a like or pass. The pair record is created on the first
// swipe, which also fixes the compatibility score. Decisions are write-once;
// a repeat fails with protocol.ErrAlreadySwiped and changes nothing.
//
// State checks run before the proof is examined, so a rejected swipe never
// burns the session nonce. Once the nonce is redeemed it stays redeemed even
// if the surrounding transaction later aborts.
func (e *Engine) Swipe(st *ledger.State, req SwipeRequest) (*SwipeResult, error) {
	actor, target, err := e.parties(st, req.Actor, req.Target)
	if err != nil {
		return nil, err
	}

	id := protocol.NewPairID(req.Actor, req.Target)
	record, found, err := st.Pair(id)
	if err != nil {
		return nil, err
	}
	if !found {
		record = protocol.NewSwipeRecord(req.Actor, req.Target, st.Now())
	}

	if record.LikeOf(req.Actor) != protocol.LikeUnset {
		return nil, fmt.Errorf("%w: %s on pair %s", protocol.ErrAlreadySwiped, req.Actor, id)
	}
	action := protocol.ActionPass
	if req.IsLike {
		action = protocol.ActionLike
	}
	if _, err := protocol.Next(record.State(), action); err != nil {
		return nil, err
	}

	var score uint64
	if req.IsLike {
		if score, err = e.checkLikeProof(st, actor, target, id, req); err != nil {
			return nil, err
		}
	}
	if !found {
		record.CompatibilityScore = score
	}

	state, err := record.RecordSwipe(req.Actor, req.IsLike, st.Now())
	if err != nil {
		return nil, err
	}
	if err := profile.Touch(st, actor); err != nil {
		return nil, err
	}
	if err := st.Emit(protocol.Event{
		Kind:   protocol.EventSwipeRecorded,
		Actor:  req.Actor,
		Target: req.Target,
		Pair:   id,
		Liked:  req.IsLike,
		Score:  record.CompatibilityScore,
	}); err != nil {
		return nil, err
	}

	if state == protocol.StateMutualMatch {
		if err := e.completeMatch(st, record, actor, target); err != nil {
			return nil, err
		}
	}
	if err := st.PutPair(record); err != nil {
		return nil, err
	}

	e.logger.Debug("swipe recorded", "actor", req.Actor, "target", req.Target, "like", req.IsLike, "state", state)
	return &SwipeResult{State: state, Record: record}, nil
}

// checkLikeProof validates the compatibility proof of a like and consumes
// its session nonce and compatibility event. It returns the proven score.
func (e *Engine) checkLikeProof(st *ledger.State, actor, target *protocol.Profile, id protocol.PairID, req SwipeRequest) (uint64, error) {
	if len(req.Proof) == 0 {
		return 0, protocol.ErrProofRequired
	}
	signals, err := zkproof.DecodeCompatibilitySignals(req.Signals)
	if err != nil {
		return 0, protocol.ProofError(err)
	}
	if signals.User1Location != actor.Commitments.Location ||
		signals.User1Hobbies != actor.Commitments.Hobbies ||
		signals.User2Location != target.Commitments.Location ||
		signals.User2Hobbies != target.Commitments.Hobbies {
		return 0, fmt.Errorf("%w: proof is not over %s and %s", protocol.ErrSignalMismatch, req.Actor, req.Target)
	}
	if err := e.verifier.Verify(zkproof.CircuitCompatibility, req.Proof, req.Signals); err != nil {
		return 0, protocol.ProofError(err)
	}
	if !signals.IsCompatible {
		return 0, protocol.ErrNotCompatible
	}

	epoch, err := e.nonces.Consume(signals.SessionNonce, req.Actor, req.Target)
	if err != nil {
		return 0, err
	}
	fresh, err := e.nullifiers.ConsumeCompatibilityEvent(st, id, epoch)
	if err != nil {
		return 0, err
	}
	if !fresh {
		return 0, fmt.Errorf("%w: pair %s epoch %s", protocol.ErrProofReplayed, id, epoch)
	}
	return signals.Score, nil
}

func (e *Engine) completeMatch(st *ledger.State, record *protocol.SwipeRecord, actor, target *protocol.Profile) error {
	if err := st.Emit(protocol.Event{
		Kind:   protocol.EventMatchCreated,
		Actor:  actor.Owner,
		Target: target.Owner,
		Pair:   record.PairID,
		Score:  record.CompatibilityScore,
	}); err != nil {
		return err
	}
	id := record.PairID
	for _, p := range []*protocol.Profile{actor, target} {
		p.TotalMatches++
		if _, err := e.aura.Credit(st, p, e.config.MatchBonus, protocol.ReasonMatchBonus, &id); err != nil {
			return err
		}
	}
	e.logger.Info("match created", "pair", id)
	return nil
}

// UnlockChat pays the chat unlock cost for actor on a matched pair. Under the
// single policy the first payment unlocks the chat; under the dual policy
// each principal pays once and the second payment unlocks it. A repeat
// payment by the same principal fails with protocol.ErrAlreadyPaid.
func (e *Engine) UnlockChat(st *ledger.State, actorAddr, peerAddr protocol.Address) (*UnlockResult, error) {
	actor, peer, err := e.parties(st, actorAddr, peerAddr)
	if err != nil {
		return nil, err
	}
	record, err := matchedPair(st, actorAddr, peerAddr)
	if err != nil {
		return nil, err
	}
	if record.ChatUnlocked {
		return nil, fmt.Errorf("%w: pair %s", protocol.ErrChatUnlocked, record.PairID)
	}
	if record.HasPaid(actorAddr) {
		return nil, fmt.Errorf("%w: %s on pair %s", protocol.ErrAlreadyPaid, actorAddr, record.PairID)
	}

	id := record.PairID
	if _, err := e.aura.Debit(st, actor, e.config.ChatUnlockCost, protocol.ReasonChatUnlock, &id); err != nil {
		return nil, err
	}
	record.RecordPayment(actorAddr)

	result := &UnlockResult{Record: record}
	if e.config.ChatUnlock != protocol.ChatUnlockDual || len(record.ChatPaidBy) == 2 {
		nonce, err := e.unlock(st, record, actor, peer)
		if err != nil {
			return nil, err
		}
		result.Unlocked = true
		result.SecretNonce = nonce
	}

	if err := profile.Touch(st, actor); err != nil {
		return nil, err
	}
	if err := st.PutPair(record); err != nil {
		return nil, err
	}
	return result, nil
}

func (e *Engine) unlock(st *ledger.State, record *protocol.SwipeRecord, actor, peer *protocol.Profile) ([]byte, error) {
	nonce, err := NewSecretNonce()
	if err != nil {
		return nil, err
	}
	hash, err := DeriveSecretHash(nonce, record, st.Now())
	if err != nil {
		return nil, err
	}
	if err := record.UnlockChat(hash, st.Now()); err != nil {
		return nil, err
	}

	actor.SuccessfulChats++
	peer.SuccessfulChats++
	if err := st.PutProfile(peer); err != nil {
		return nil, err
	}
	if err := st.Emit(protocol.Event{
		Kind:             protocol.EventChatUnlocked,
		Actor:            actor.Owner,
		Target:           peer.Owner,
		Pair:             record.PairID,
		SharedSecretHash: hash,
	}); err != nil {
		return nil, err
	}
	e.logger.Info("chat unlocked", "pair", record.PairID)
	return nonce, nil
}

// PostMessage appends the hash of a message sent by actor to peer. Only the
// hash and its metadata reach the ledger.
func (e *Engine) PostMessage(st *ledger.State, actorAddr, peerAddr protocol.Address, hash protocol.MessageHash) (*protocol.MessageRef, error) {
	if hash.IsZero() {
		return nil, protocol.ErrInvalidMessage
	}
	actor, _, err := e.parties(st, actorAddr, peerAddr)
	if err != nil {
		return nil, err
	}
	record, err := matchedPair(st, actorAddr, peerAddr)
	if err != nil {
		return nil, err
	}
	if !record.ChatUnlocked {
		return nil, fmt.Errorf("%w: pair %s", protocol.ErrChatLocked, record.PairID)
	}

	ref := protocol.MessageRef{
		Pair:      record.PairID,
		Sender:    actorAddr,
		Hash:      hash,
		Timestamp: st.Now(),
	}
	seq, err := st.AppendMessage(ref)
	if err != nil {
		return nil, err
	}
	ref.Seq = seq
	record.Messages++
	if err := st.PutPair(record); err != nil {
		return nil, err
	}
	if err := profile.Touch(st, actor); err != nil {
		return nil, err
	}
	if err := st.Emit(protocol.Event{
		Kind:        protocol.EventMessagePosted,
		Actor:       actorAddr,
		Target:      record.Other(actorAddr),
		Pair:        record.PairID,
		MessageHash: hash,
	}); err != nil {
		return nil, err
	}
	return &ref, nil
}

// State returns the lifecycle state of the pair of a and b.
func (e *Engine) State(st *ledger.State, a, b protocol.Address) (protocol.MatchState, error) {
	record, found, err := st.Pair(protocol.NewPairID(a, b))
	if err != nil {
		return protocol.StateNoInteraction, err
	}
	if !found {
		return protocol.StateNoInteraction, nil
	}
	return record.State(), nil
}

// Pair returns the record of the pair of a and b, if they interacted.
func (e *Engine) Pair(st *ledger.State, a, b protocol.Address) (*protocol.SwipeRecord, bool, error) {
	return st.Pair(protocol.NewPairID(a, b))
}

// Messages returns the message references of the pair of a and b.
func (e *Engine) Messages(st *ledger.State, a, b protocol.Address) ([]protocol.MessageRef, error) {
	return st.Messages(protocol.NewPairID(a, b))
}

// parties loads the active profiles of actor and target.
func (e *Engine) parties(st *ledger.State, actorAddr, targetAddr protocol.Address) (actor, target *protocol.Profile, err error) {
	if err := actorAddr.Validate(); err != nil {
		return nil, nil, err
	}
	if err := targetAddr.Validate(); err != nil {
		return nil, nil, err
	}
	if actorAddr == targetAddr {
		return nil, nil, protocol.ErrSelfAction
	}
	if actor, err = e.profiles.Active(st, actorAddr); err != nil {
		return nil, nil, err
	}
	if target, err = e.profiles.Active(st, targetAddr); err != nil {
		return nil, nil, err
	}
	return actor, target, nil
}

// matchedPair loads the pair of a and b and requires a mutual match.
func matchedPair(st *ledger.State, a, b protocol.Address) (*protocol.SwipeRecord, error) {
	record, found, err := st.Pair(protocol.NewPairID(a, b))
	if err != nil {
		return nil, err
	}
	if !found || !record.IsMatched {
		return nil, fmt.Errorf("%w: %s and %s", protocol.ErrNotMatched, a, b)
	}
	return record, nil
}
