// Package disclosure gates the progressive reveal of profile details behind
// Aura payments between matched principals.
package disclosure

import (
	"fmt"
	"log/slog"

	"github.com/aura-protocol/aura/internal/aura"
	"github.com/aura-protocol/aura/internal/ledger"
	"github.com/aura-protocol/aura/internal/profile"
	"github.com/aura-protocol/aura/pkg/protocol"
)

// Config holds tier pricing and the repurchase policy.
type Config struct {
	Economy protocol.Economy
	// AllowRepurchase lets a principal buy a tier again, paying again.
	AllowRepurchase bool
}

// Disclosure is the outcome of a tier unlock.
type Disclosure struct {
	Tier        protocol.Tier
	Fields      []string
	Transaction *protocol.AuraTransaction
}

// Gate sells disclosure tiers.
type Gate struct {
	config   Config
	profiles *profile.Registry
	aura     *aura.Ledger
	logger   *slog.Logger
}

// NewGate creates a Gate. A nil logger uses slog.Default().
func NewGate(config Config, profiles *profile.Registry, ledger *aura.Ledger, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{config: config, profiles: profiles, aura: ledger, logger: logger}
}

// Unlock charges actor the cost of tier and releases the tier's fields of
// target. The pair must be mutually matched; otherwise nothing is charged.
func (g *Gate) Unlock(st *ledger.State, actorAddr, targetAddr protocol.Address, tier protocol.Tier) (*Disclosure, error) {
	cost, err := g.config.Economy.TierCost(tier)
	if err != nil {
		return nil, err
	}
	reason, err := tier.Reason()
	if err != nil {
		return nil, err
	}
	fields, err := tier.RevealedFields()
	if err != nil {
		return nil, err
	}

	if actorAddr == targetAddr {
		return nil, protocol.ErrSelfAction
	}
	actor, err := g.profiles.Active(st, actorAddr)
	if err != nil {
		return nil, err
	}
	if _, err := g.profiles.Active(st, targetAddr); err != nil {
		return nil, err
	}

	id := protocol.NewPairID(actorAddr, targetAddr)
	record, found, err := st.Pair(id)
	if err != nil {
		return nil, err
	}
	if !found || !record.IsMatched {
		return nil, fmt.Errorf("%w: %s and %s", protocol.ErrNotMatched, actorAddr, targetAddr)
	}
	if record.TierUnlocked(actorAddr, tier) && !g.config.AllowRepurchase {
		return nil, fmt.Errorf("%w: %s already holds %s on pair %s", protocol.ErrTierUnlocked, actorAddr, tier, id)
	}

	tx, err := g.aura.Debit(st, actor, cost, reason, &id)
	if err != nil {
		return nil, err
	}
	record.RecordTier(actorAddr, tier)
	if err := st.PutPair(record); err != nil {
		return nil, err
	}
	if err := profile.Touch(st, actor); err != nil {
		return nil, err
	}
	if err := st.Emit(protocol.Event{
		Kind:   protocol.EventDetailUnlocked,
		Actor:  actorAddr,
		Target: targetAddr,
		Pair:   id,
		Tier:   tier,
		Fields: fields,
	}); err != nil {
		return nil, err
	}

	g.logger.Debug("detail unlocked", "actor", actorAddr, "target", targetAddr, "tier", tier)
	return &Disclosure{Tier: tier, Fields: fields, Transaction: tx}, nil
}

// Unlocked returns the tiers actor bought on the pair with target.
func (g *Gate) Unlocked(st *ledger.State, actorAddr, targetAddr protocol.Address) ([]protocol.Tier, error) {
	record, found, err := st.Pair(protocol.NewPairID(actorAddr, targetAddr))
	if err != nil || !found {
		return nil, err
	}
	return record.UnlockedTiers[actorAddr], nil
}
