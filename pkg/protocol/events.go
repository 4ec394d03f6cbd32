package protocol

import "time"

// EventKind names a ledger event.
type EventKind string

const (
	EventProfileCreated     EventKind = "ProfileCreated"
	EventProfileSuspended   EventKind = "ProfileSuspended"
	EventProfileReactivated EventKind = "ProfileReactivated"
	EventSwipeRecorded      EventKind = "SwipeRecorded"
	EventMatchCreated       EventKind = "MatchCreated"
	EventChatUnlocked       EventKind = "ChatUnlocked"
	EventAuraEarned         EventKind = "AuraEarned"
	EventAuraSpent          EventKind = "AuraSpent"
	EventDetailUnlocked     EventKind = "DetailUnlocked"
	EventMessagePosted      EventKind = "MessagePosted"
)

// Event is emitted by a committed ledger transaction. Fields not relevant to
// the kind are left empty.
type Event struct {
	ID        string    `json:"id"`
	Seq       uint64    `json:"seq"`
	Kind      EventKind `json:"kind"`
	Timestamp time.Time `json:"timestamp"`

	Actor  Address `json:"actor,omitempty"`
	Target Address `json:"target,omitempty"`
	Pair   PairID  `json:"pair,omitempty"`

	// SwipeRecorded
	Liked bool   `json:"liked,omitempty"`
	Score uint64 `json:"score,omitempty"`

	// AuraEarned, AuraSpent
	Amount        uint64 `json:"amount,omitempty"`
	Reason        Reason `json:"reason,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`

	// DetailUnlocked
	Tier   Tier     `json:"tier,omitempty"`
	Fields []string `json:"fields,omitempty"`

	// ChatUnlocked
	SharedSecretHash []byte `json:"shared_secret_hash,omitempty"`

	// MessagePosted
	MessageHash MessageHash `json:"message_hash,omitempty"`
}
