package model

import "time"

// TriggerCheckIn is the reward rule trigger consulted after a check-in.
const TriggerCheckIn = "checkin"

type TransactionType string

const (
	TransactionCredit TransactionType = "credit"
	TransactionDebit  TransactionType = "debit"
)

type RewardRule struct {
	ID           string    `json:"id"`
	TriggerEvent string    `json:"trigger_event"`
	Amount       int64     `json:"amount"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

// LedgerTransaction is an immutable, signed currency movement.
type LedgerTransaction struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	Amount      int64           `json:"amount"`
	Type        TransactionType `json:"type"`
	Source      string          `json:"source"`
	Reason      string          `json:"reason"`
	Metadata    map[string]any  `json:"metadata"`
	ReferenceID string          `json:"reference_id,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// WalletBalance caches the sum of a user's ledger transactions.
type WalletBalance struct {
	UserID    string    `json:"user_id"`
	Balance   int64     `json:"balance"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RewardIssued is published on the bus after a credit is appended.
type RewardIssued struct {
	TransactionID string    `json:"transaction_id"`
	UserID        string    `json:"user_id"`
	EventID       string    `json:"event_id"`
	CheckInID     string    `json:"checkin_id"`
	Amount        int64     `json:"amount"`
	CreatedAt     time.Time `json:"created_at"`
}
