package engine

import (
	"context"
	"fmt"

	"github.com/aura-protocol/aura/internal/match"
	"github.com/aura-protocol/aura/internal/profile"
	"github.com/aura-protocol/aura/pkg/protocol"
	"github.com/aura-protocol/aura/pkg/zkproof"
)

// Register commits opening, proves the age commitment and creates the
// profile of owner. The opening itself never reaches the ledger.
func (e *Engine) Register(ctx context.Context, owner protocol.Address, opening zkproof.ProfileOpening, nullifier protocol.NullifierHash) (*protocol.Profile, error) {
	commitments, err := opening.Commitments()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", protocol.ErrInvalidInput, err)
	}
	ageProof, err := e.proofs.ProveCommitmentValidity(ctx, opening.Age, opening.Salts.Age)
	if err != nil {
		return nil, fmt.Errorf("prove age: %w", err)
	}
	return e.CreateProfile(ctx, profile.CreateRequest{
		Owner:       owner,
		Commitments: commitments,
		Nullifier:   nullifier,
		AgeProof:    ageProof.Proof,
		AgeSignals:  ageProof.Signals,
	})
}

// Like issues a session nonce, proves compatibility between the two openings
// bound to it and submits the like. Both openings must be known to the
// caller, which is the case when both principals prove locally.
func (e *Engine) Like(ctx context.Context, actor, target protocol.Address, actorOpening, targetOpening zkproof.PartyOpening) (*match.SwipeResult, error) {
	nonce, err := e.IssueNonce(ctx, actor, target)
	if err != nil {
		return nil, err
	}
	signal, err := nonce.Signal()
	if err != nil {
		return nil, err
	}
	result, _, err := e.proofs.ProveCompatibility(ctx, zkproof.CompatibilityWitness{
		User1: actorOpening,
		User2: targetOpening,
	}, signal)
	if err != nil {
		return nil, fmt.Errorf("prove compatibility: %w", err)
	}
	return e.Swipe(ctx, match.SwipeRequest{
		Actor:   actor,
		Target:  target,
		IsLike:  true,
		Proof:   result.Proof,
		Signals: result.Signals,
	})
}

// Pass submits a pass. No proof is needed.
func (e *Engine) Pass(ctx context.Context, actor, target protocol.Address) (*match.SwipeResult, error) {
	return e.Swipe(ctx, match.SwipeRequest{Actor: actor, Target: target})
}
