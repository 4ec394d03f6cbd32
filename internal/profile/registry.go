// Package profile registers principals and manages their activity status.
//
// Registration binds a principal to its four field-group commitments, a
// one-time identity nullifier and an age proof, and credits the creation
// bonus. Commitments and nullifier are immutable afterwards.
package profile

import (
	"fmt"
	"log/slog"

	"github.com/aura-protocol/aura/internal/aura"
	"github.com/aura-protocol/aura/internal/ledger"
	"github.com/aura-protocol/aura/internal/nullifier"
	"github.com/aura-protocol/aura/pkg/protocol"
	"github.com/aura-protocol/aura/pkg/zkproof"
)

// Verifier checks a proof against its public signals.
type Verifier interface {
	Verify(kind zkproof.CircuitKind, proof []byte, signals zkproof.PublicSignals) error
}

// Config holds the registration parameters.
type Config struct {
	// CreationCredit is the Aura granted on registration.
	CreationCredit uint64
	// MinAge and MaxAge are the bounds the age proof must attest.
	MinAge uint64
	MaxAge uint64
}

// CreateRequest is a registration submitted by a principal.
type CreateRequest struct {
	Owner       protocol.Address
	Commitments zkproof.ProfileCommitments
	Nullifier   protocol.NullifierHash

	// AgeProof is a commitment-validity proof over Commitments.Age.
	AgeProof   []byte
	AgeSignals zkproof.PublicSignals
}

// Registry creates and administers profiles.
type Registry struct {
	config     Config
	verifier   Verifier
	nullifiers *nullifier.Registry
	aura       *aura.Ledger
	logger     *slog.Logger
}

// NewRegistry creates a Registry. A nil logger uses slog.Default().
func NewRegistry(config Config, verifier Verifier, nullifiers *nullifier.Registry, ledger *aura.Ledger, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		config:     config,
		verifier:   verifier,
		nullifiers: nullifiers,
		aura:       ledger,
		logger:     logger,
	}
}

// Create registers a profile. It checks the request, verifies the age proof
// against the submitted age commitment and the configured bounds, consumes
// the identity nullifier and credits the creation bonus. It emits
// ProfileCreated followed by AuraEarned.
func (r *Registry) Create(st *ledger.State, req CreateRequest) (*protocol.Profile, error) {
	if err := req.Owner.Validate(); err != nil {
		return nil, err
	}
	if err := req.Commitments.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", protocol.ErrInvalidInput, err)
	}
	if req.Nullifier.IsZero() {
		return nil, protocol.ErrInvalidNullifier
	}

	exists, err := st.HasProfile(req.Owner)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: %s", protocol.ErrProfileExists, req.Owner)
	}

	if err := r.checkAgeProof(req); err != nil {
		return nil, err
	}
	if err := r.nullifiers.ConsumeIdentityNullifier(st, req.Nullifier, req.Owner); err != nil {
		return nil, err
	}

	now := st.Now()
	p := &protocol.Profile{
		Owner:         req.Owner,
		Commitments:   req.Commitments,
		NullifierHash: req.Nullifier,
		IsActive:      true,
		CreatedAt:     now,
		LastActiveAt:  now,
	}
	if err := st.PutProfile(p); err != nil {
		return nil, err
	}
	if err := st.Emit(protocol.Event{Kind: protocol.EventProfileCreated, Actor: p.Owner}); err != nil {
		return nil, err
	}
	if _, err := r.aura.Credit(st, p, r.config.CreationCredit, protocol.ReasonProfileCreation, nil); err != nil {
		return nil, err
	}

	r.logger.Info("profile created", "owner", p.Owner)
	return p, nil
}

func (r *Registry) checkAgeProof(req CreateRequest) error {
	if len(req.AgeProof) == 0 {
		return fmt.Errorf("%w: missing age proof", protocol.ErrInvalidInput)
	}
	signals, err := zkproof.DecodeCommitmentValiditySignals(req.AgeSignals)
	if err != nil {
		return protocol.ProofError(err)
	}
	if signals.Commitment != req.Commitments.Age {
		return fmt.Errorf("%w: age proof is over a different commitment", protocol.ErrSignalMismatch)
	}
	if signals.MinAge != r.config.MinAge || signals.MaxAge != r.config.MaxAge {
		return fmt.Errorf("%w: age proof bounds [%d, %d], want [%d, %d]",
			protocol.ErrSignalMismatch, signals.MinAge, signals.MaxAge, r.config.MinAge, r.config.MaxAge)
	}
	if err := r.verifier.Verify(zkproof.CircuitCommitmentValidity, req.AgeProof, req.AgeSignals); err != nil {
		return protocol.ProofError(err)
	}
	if !signals.AgeValid {
		return protocol.ErrAgeNotValid
	}
	return nil
}

// Get returns the profile of owner.
func (r *Registry) Get(st *ledger.State, owner protocol.Address) (*protocol.Profile, error) {
	return st.Profile(owner)
}

// Active returns the profile of owner, failing with
// protocol.ErrProfileInactive if it is suspended.
func (r *Registry) Active(st *ledger.State, owner protocol.Address) (*protocol.Profile, error) {
	p, err := st.Profile(owner)
	if err != nil {
		return nil, err
	}
	if !p.IsActive {
		return nil, fmt.Errorf("%w: %s", protocol.ErrProfileInactive, owner)
	}
	return p, nil
}

// Suspend deactivates a profile. Suspended profiles cannot act or be acted
// upon; balances and history are kept.
func (r *Registry) Suspend(st *ledger.State, owner protocol.Address) error {
	p, err := st.Profile(owner)
	if err != nil {
		return err
	}
	if !p.IsActive {
		return fmt.Errorf("%w: %s", protocol.ErrAlreadyInactive, owner)
	}
	p.IsActive = false
	if err := st.PutProfile(p); err != nil {
		return err
	}
	r.logger.Info("profile suspended", "owner", owner)
	return st.Emit(protocol.Event{Kind: protocol.EventProfileSuspended, Actor: owner})
}

// Reactivate lifts a suspension.
func (r *Registry) Reactivate(st *ledger.State, owner protocol.Address) error {
	p, err := st.Profile(owner)
	if err != nil {
		return err
	}
	if p.IsActive {
		return fmt.Errorf("%w: %s", protocol.ErrAlreadyActive, owner)
	}
	p.IsActive = true
	p.LastActiveAt = st.Now()
	if err := st.PutProfile(p); err != nil {
		return err
	}
	r.logger.Info("profile reactivated", "owner", owner)
	return st.Emit(protocol.Event{Kind: protocol.EventProfileReactivated, Actor: owner})
}

// Touch records activity by p at the transaction time and stores it.
func Touch(st *ledger.State, p *protocol.Profile) error {
	p.LastActiveAt = st.Now()
	return st.PutProfile(p)
}
