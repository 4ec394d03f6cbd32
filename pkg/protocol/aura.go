package protocol

import (
	"errors"
	"fmt"
	"time"
)

// Reason tags an Aura transaction. The set is closed.
type Reason int

const (
	ReasonProfileCreation Reason = iota + 1
	ReasonMatchBonus
	ReasonChatUnlock
	ReasonUnlockBasic
	ReasonUnlockBio
	ReasonUnlockAvatar
)

var reasonNames = map[Reason]string{
	ReasonProfileCreation: "profile_creation",
	ReasonMatchBonus:      "match_bonus",
	ReasonChatUnlock:      "chat_unlock",
	ReasonUnlockBasic:     "unlock_basic",
	ReasonUnlockBio:       "unlock_bio",
	ReasonUnlockAvatar:    "unlock_avatar",
}

// String returns the wire name of the reason.
func (r Reason) String() string {
	if name, ok := reasonNames[r]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", int(r))
}

// Valid reports whether r is a known reason.
func (r Reason) Valid() bool {
	_, ok := reasonNames[r]
	return ok
}

// MarshalText encodes the reason by name.
func (r Reason) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidReason, int(r))
	}
	return []byte(r.String()), nil
}

// UnmarshalText decodes a reason name.
func (r *Reason) UnmarshalText(text []byte) error {
	for reason, name := range reasonNames {
		if name == string(text) {
			*r = reason
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrInvalidReason, text)
}

// AuraTransaction is an append-only ledger entry attributed to one user.
type AuraTransaction struct {
	ID           string    `json:"id"`
	User         Address   `json:"user"`
	Amount       int64     `json:"amount"`
	Reason       Reason    `json:"reason"`
	Timestamp    time.Time `json:"timestamp"`
	RelatedMatch *PairID   `json:"related_match,omitempty"`
	// BalanceAfter is the user's balance once this entry applied.
	BalanceAfter uint64 `json:"balance_after"`
}

// Tier is a disclosure level purchasable after a mutual match.
type Tier int

const (
	TierBasic Tier = iota + 1
	TierBio
	TierAvatar
)

// Tiers lists every tier from cheapest to most expensive.
func Tiers() []Tier {
	return []Tier{TierBasic, TierBio, TierAvatar}
}

// String returns the tier name.
func (t Tier) String() string {
	switch t {
	case TierBasic:
		return "basic"
	case TierBio:
		return "bio"
	case TierAvatar:
		return "avatar"
	default:
		return fmt.Sprintf("Unknown(%d)", int(t))
	}
}

// ParseTier parses a tier name.
func ParseTier(s string) (Tier, error) {
	for _, t := range Tiers() {
		if t.String() == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidTier, s)
}

// MarshalText encodes the tier by name.
func (t Tier) MarshalText() ([]byte, error) {
	if _, err := ParseTier(t.String()); err != nil {
		return nil, err
	}
	return []byte(t.String()), nil
}

// UnmarshalText decodes a tier name.
func (t *Tier) UnmarshalText(text []byte) error {
	parsed, err := ParseTier(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Reason returns the transaction reason charged for the tier.
func (t Tier) Reason() (Reason, error) {
	switch t {
	case TierBasic:
		return ReasonUnlockBasic, nil
	case TierBio:
		return ReasonUnlockBio, nil
	case TierAvatar:
		return ReasonUnlockAvatar, nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrInvalidTier, int(t))
	}
}

// RevealedFields lists the profile fields a tier makes visible to the buyer.
// Each tier reveals its own fields; the renderer composes tiers.
func (t Tier) RevealedFields() ([]string, error) {
	switch t {
	case TierBasic:
		return []string{"display_name", "age"}, nil
	case TierBio:
		return []string{"bio", "hobbies"}, nil
	case TierAvatar:
		return []string{"avatar_ref"}, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrInvalidTier, int(t))
	}
}

// Economy holds the fixed Aura amounts of the protocol.
type Economy struct {
	ProfileCreationCredit uint64 `toml:"profile_creation_credit"`
	MatchBonus            uint64 `toml:"match_bonus"`
	ChatUnlockCost        uint64 `toml:"chat_unlock_cost"`
	TierBasicCost         uint64 `toml:"tier_basic_cost"`
	TierBioCost           uint64 `toml:"tier_bio_cost"`
	TierAvatarCost        uint64 `toml:"tier_avatar_cost"`
}

// DefaultEconomy returns the standard amounts.
func DefaultEconomy() Economy {
	return Economy{
		ProfileCreationCredit: 100,
		MatchBonus:            50,
		ChatUnlockCost:        80,
		TierBasicCost:         20,
		TierBioCost:           40,
		TierAvatarCost:        60,
	}
}

// Validate checks all amounts are positive and tier costs strictly increase.
func (e Economy) Validate() error {
	if e.ProfileCreationCredit == 0 || e.MatchBonus == 0 || e.ChatUnlockCost == 0 {
		return errors.New("economy: credits and chat cost must be positive")
	}
	if e.TierBasicCost == 0 {
		return errors.New("economy: tier costs must be positive")
	}
	if !(e.TierBasicCost < e.TierBioCost && e.TierBioCost < e.TierAvatarCost) {
		return fmt.Errorf("economy: tier costs must strictly increase (basic %d, bio %d, avatar %d)",
			e.TierBasicCost, e.TierBioCost, e.TierAvatarCost)
	}
	return nil
}

// TierCost returns the Aura charged for tier.
func (e Economy) TierCost(t Tier) (uint64, error) {
	switch t {
	case TierBasic:
		return e.TierBasicCost, nil
	case TierBio:
		return e.TierBioCost, nil
	case TierAvatar:
		return e.TierAvatarCost, nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrInvalidTier, int(t))
	}
}

// ChatUnlockPolicy decides who pays for a chat unlock.
type ChatUnlockPolicy string

const (
	// ChatUnlockSingle lets the first payer unlock the chat for the pair.
	ChatUnlockSingle ChatUnlockPolicy = "single"
	// ChatUnlockDual requires both principals to pay once each. The chat
	// unlocks when the second payment lands; neither payment waits on the other.
	ChatUnlockDual ChatUnlockPolicy = "dual"
)

// Policy holds the protocol choices left open by the economics.
type Policy struct {
	ChatUnlock          ChatUnlockPolicy `toml:"chat_unlock_policy"`
	AllowTierRepurchase bool             `toml:"allow_tier_repurchase"`
}

// DefaultPolicy returns single-payer unlocks and one-time tiers.
func DefaultPolicy() Policy {
	return Policy{ChatUnlock: ChatUnlockSingle}
}

// Validate checks the policy values.
func (p Policy) Validate() error {
	switch p.ChatUnlock {
	case ChatUnlockSingle, ChatUnlockDual:
		return nil
	default:
		return fmt.Errorf("policy: unknown chat_unlock_policy %q", p.ChatUnlock)
	}
}
