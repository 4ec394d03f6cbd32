package protocol

import (
	"fmt"
	"slices"
	"time"
)

// LikeState is one side's write-once swipe decision.
type LikeState int

const (
	// LikeUnset means the principal has not swiped on the pair yet.
	LikeUnset LikeState = iota
	// LikeYes records a like.
	LikeYes
	// LikeNo records a pass.
	LikeNo
)

// String returns a human-readable name for the like state.
func (l LikeState) String() string {
	switch l {
	case LikeUnset:
		return "Unset"
	case LikeYes:
		return "Yes"
	case LikeNo:
		return "No"
	default:
		return fmt.Sprintf("Unknown(%d)", l)
	}
}

// MatchState is the lifecycle state of a pair.
type MatchState int

const (
	// StateNoInteraction means neither principal has swiped.
	StateNoInteraction MatchState = iota
	// StateOneSidedLike means exactly one principal liked and the other has
	// not decided.
	StateOneSidedLike
	// StateMutualMatch means both principals liked.
	StateMutualMatch
	// StateChatUnlocked means the chat unlock completed. Terminal.
	StateChatUnlocked
	// StatePassed means at least one principal passed. Terminal for matching.
	StatePassed
)

// String returns a human-readable name for the state.
func (s MatchState) String() string {
	switch s {
	case StateNoInteraction:
		return "NoInteraction"
	case StateOneSidedLike:
		return "OneSidedLike"
	case StateMutualMatch:
		return "MutualMatch"
	case StateChatUnlocked:
		return "ChatUnlocked"
	case StatePassed:
		return "Passed"
	default:
		return fmt.Sprintf("Unknown(%d)", s)
	}
}

// IsTerminal reports whether no further transition leaves the state.
func (s MatchState) IsTerminal() bool {
	return s == StateChatUnlocked || s == StatePassed
}

// IsMatched reports whether the state implies a mutual match.
func (s MatchState) IsMatched() bool {
	return s == StateMutualMatch || s == StateChatUnlocked
}

// Action is an input to the pair state machine.
type Action int

const (
	// ActionLike is a like by a principal that has not swiped yet.
	ActionLike Action = iota
	// ActionPass is a pass by a principal that has not swiped yet.
	ActionPass
	// ActionUnlockChat completes the chat unlock.
	ActionUnlockChat
)

// String returns a human-readable name for the action.
func (a Action) String() string {
	switch a {
	case ActionLike:
		return "Like"
	case ActionPass:
		return "Pass"
	case ActionUnlockChat:
		return "UnlockChat"
	default:
		return fmt.Sprintf("Unknown(%d)", a)
	}
}

// transition represents a valid state transition.
type transition struct {
	from   MatchState
	action Action
	to     MatchState
}

// validTransitions defines all allowed pair transitions. A like in
// OneSidedLike is only reachable for the principal that has not swiped;
// write-once is enforced by SwipeRecord before the table is consulted.
var validTransitions = []transition{
	{StateNoInteraction, ActionLike, StateOneSidedLike},
	{StateNoInteraction, ActionPass, StatePassed},

	{StateOneSidedLike, ActionLike, StateMutualMatch},
	{StateOneSidedLike, ActionPass, StatePassed},

	{StateMutualMatch, ActionUnlockChat, StateChatUnlocked},
}

// transitionMap provides O(1) lookup for valid transitions.
var transitionMap map[MatchState]map[Action]MatchState

func init() {
	transitionMap = make(map[MatchState]map[Action]MatchState)
	for _, t := range validTransitions {
		if transitionMap[t.from] == nil {
			transitionMap[t.from] = make(map[Action]MatchState)
		}
		transitionMap[t.from][t.action] = t.to
	}
}

// Next returns the state reached from s by action a.
func Next(s MatchState, a Action) (MatchState, error) {
	if s.IsTerminal() {
		return s, fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, s)
	}
	next, ok := transitionMap[s][a]
	if !ok {
		return s, fmt.Errorf("%w: %s not valid in %s", ErrInvalidTransition, a, s)
	}
	return next, nil
}

// SwipeRecord is the ledger record of a pair. It carries the swipe decisions
// and, once both principals liked, the match and unlock state.
type SwipeRecord struct {
	PairID             PairID    `json:"pair_id"`
	User1              Address   `json:"user1"`
	User2              Address   `json:"user2"`
	User1Liked         LikeState `json:"user1_liked"`
	User2Liked         LikeState `json:"user2_liked"`
	CompatibilityScore uint64    `json:"compatibility_score"`
	CreatedAt          time.Time `json:"created_at"`

	IsMatched        bool      `json:"is_matched"`
	MatchedAt        time.Time `json:"matched_at"`
	ChatUnlocked     bool      `json:"chat_unlocked"`
	ChatUnlockedAt   time.Time `json:"chat_unlocked_at"`
	SharedSecretHash []byte    `json:"shared_secret_hash,omitempty"`

	// ChatPaidBy lists the principals that paid for the chat unlock.
	ChatPaidBy []Address `json:"chat_paid_by,omitempty"`
	// UnlockedTiers lists the disclosure tiers each principal bought.
	UnlockedTiers map[Address][]Tier `json:"unlocked_tiers,omitempty"`
	// Messages counts posted message references.
	Messages uint64 `json:"messages"`
}

// NewSwipeRecord creates an empty record for the pair of a and b.
func NewSwipeRecord(a, b Address, createdAt time.Time) *SwipeRecord {
	lo, hi := Canonical(a, b)
	return &SwipeRecord{
		PairID:    NewPairID(a, b),
		User1:     lo,
		User2:     hi,
		CreatedAt: createdAt,
	}
}

// Has reports whether addr is one of the two principals.
func (r *SwipeRecord) Has(addr Address) bool {
	return addr == r.User1 || addr == r.User2
}

// Other returns the counterpart of addr.
func (r *SwipeRecord) Other(addr Address) Address {
	if addr == r.User1 {
		return r.User2
	}
	return r.User1
}

// LikeOf returns the decision recorded for addr.
func (r *SwipeRecord) LikeOf(addr Address) LikeState {
	if addr == r.User1 {
		return r.User1Liked
	}
	return r.User2Liked
}

// State derives the lifecycle state from the record.
func (r *SwipeRecord) State() MatchState {
	switch {
	case r.ChatUnlocked:
		return StateChatUnlocked
	case r.IsMatched:
		return StateMutualMatch
	case r.User1Liked == LikeNo || r.User2Liked == LikeNo:
		return StatePassed
	case r.User1Liked == LikeYes || r.User2Liked == LikeYes:
		return StateOneSidedLike
	default:
		return StateNoInteraction
	}
}

// RecordSwipe writes actor's decision and returns the new state. The
// decision is write-once per principal; a repeat returns ErrAlreadySwiped and
// leaves the record unchanged.
func (r *SwipeRecord) RecordSwipe(actor Address, like bool, at time.Time) (MatchState, error) {
	if !r.Has(actor) {
		return r.State(), fmt.Errorf("%w: %s is not part of pair %s", ErrInvalidInput, actor, r.PairID)
	}
	if r.LikeOf(actor) != LikeUnset {
		return r.State(), fmt.Errorf("%w: %s on pair %s", ErrAlreadySwiped, actor, r.PairID)
	}

	action, decision := ActionPass, LikeNo
	if like {
		action, decision = ActionLike, LikeYes
	}
	next, err := Next(r.State(), action)
	if err != nil {
		return r.State(), err
	}

	if actor == r.User1 {
		r.User1Liked = decision
	} else {
		r.User2Liked = decision
	}
	if next == StateMutualMatch {
		r.IsMatched = true
		r.MatchedAt = at
	}
	return next, nil
}

// HasPaid reports whether addr paid for the chat unlock.
func (r *SwipeRecord) HasPaid(addr Address) bool {
	return slices.Contains(r.ChatPaidBy, addr)
}

// RecordPayment adds addr to the chat payers.
func (r *SwipeRecord) RecordPayment(addr Address) {
	if !r.HasPaid(addr) {
		r.ChatPaidBy = append(r.ChatPaidBy, addr)
	}
}

// UnlockChat moves the pair to ChatUnlocked.
func (r *SwipeRecord) UnlockChat(secretHash []byte, at time.Time) error {
	if _, err := Next(r.State(), ActionUnlockChat); err != nil {
		return err
	}
	r.ChatUnlocked = true
	r.ChatUnlockedAt = at
	r.SharedSecretHash = secretHash
	return nil
}

// TierUnlocked reports whether addr already bought tier on this pair.
func (r *SwipeRecord) TierUnlocked(addr Address, tier Tier) bool {
	return slices.Contains(r.UnlockedTiers[addr], tier)
}

// RecordTier marks tier as bought by addr.
func (r *SwipeRecord) RecordTier(addr Address, tier Tier) {
	if r.TierUnlocked(addr, tier) {
		return
	}
	if r.UnlockedTiers == nil {
		r.UnlockedTiers = make(map[Address][]Tier)
	}
	r.UnlockedTiers[addr] = append(r.UnlockedTiers[addr], tier)
}
