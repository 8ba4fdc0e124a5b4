package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Role controls access to the administrative read paths.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
)

// User is the account holder. The account fields (number, balance) live on
// the same row; Account is the projection the transfer engine works with.
type User struct {
	ID            string          `json:"id"`
	Email         string          `json:"email"`
	PasswordHash  string          `json:"-"`
	FirstName     string          `json:"first_name"`
	LastName      string          `json:"last_name"`
	Role          Role            `json:"role"`
	AccountNumber string          `json:"account_number"`
	Balance       decimal.Decimal `json:"balance"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Account is the balance-bearing view of a user row. Balance is never
// negative outside an uncommitted unit of work.
type Account struct {
	ID            string          `json:"id"`
	AccountNumber string          `json:"account_number"`
	Balance       decimal.Decimal `json:"balance"`
}

// TransferStatus is the lifecycle state of a ledger row.
type TransferStatus string

const (
	StatusPending   TransferStatus = "pending"
	StatusCompleted TransferStatus = "completed"
	StatusFailed    TransferStatus = "failed"
)

// TransferKind distinguishes peer transfers from administrative movements.
type TransferKind string

const (
	KindTransfer   TransferKind = "transfer"
	KindDeposit    TransferKind = "deposit"
	KindWithdrawal TransferKind = "withdrawal"
)

// Transfer is a ledger row. Reference is unique; IdempotencyKey is unique
// when present (empty string means none was recorded).
type Transfer struct {
	ID             string          `json:"id"`
	SenderID       string          `json:"sender_id"`
	ReceiverID     string          `json:"receiver_id"`
	Amount         decimal.Decimal `json:"amount"`
	Kind           TransferKind    `json:"kind"`
	Status         TransferStatus  `json:"status"`
	Reference      string          `json:"reference"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Description    string          `json:"description,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// HistoryEntry is a Transfer enriched with counterparty display fields for
// the read path.
type HistoryEntry struct {
	Transfer
	SenderName            string `json:"sender_name"`
	SenderAccountNumber   string `json:"sender_account_number"`
	ReceiverName          string `json:"receiver_name"`
	ReceiverAccountNumber string `json:"receiver_account_number"`
}

// TransferResult is the public view of a completed (or replayed) transfer.
type TransferResult struct {
	ID                    string         `json:"id"`
	Amount                string         `json:"amount"`
	Reference             string         `json:"reference"`
	ReceiverAccountNumber string         `json:"receiver_account_number"`
	CreatedAt             time.Time      `json:"created_at"`
	IdempotencyKey        string         `json:"idempotency_key"`
	Status                TransferStatus `json:"status"`
}
