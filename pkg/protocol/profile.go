package protocol

import (
	"time"

	"github.com/aura-protocol/aura/pkg/zkproof"
)

// Profile is the ledger record of a principal. Commitments and the nullifier
// never change after creation; only the economic and activity fields do.
type Profile struct {
	Owner           Address                    `json:"owner"`
	Commitments     zkproof.ProfileCommitments `json:"commitments"`
	NullifierHash   NullifierHash              `json:"nullifier_hash"`
	AuraBalance     uint64                     `json:"aura_balance"`
	TotalMatches    uint64                     `json:"total_matches"`
	SuccessfulChats uint64                     `json:"successful_chats"`
	IsActive        bool                       `json:"is_active"`
	CreatedAt       time.Time                  `json:"created_at"`
	LastActiveAt    time.Time                  `json:"last_active_at"`
}

// MessageRef is the audit record of a chat message. The plaintext never
// reaches the ledger.
type MessageRef struct {
	Seq       uint64      `json:"seq"`
	Pair      PairID      `json:"pair"`
	Sender    Address     `json:"sender"`
	Hash      MessageHash `json:"hash"`
	Timestamp time.Time   `json:"timestamp"`
}
