package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TransactionDeposit    TransactionType = "deposit"
	TransactionWithdrawal TransactionType = "withdrawal"
	TransactionTransfer   TransactionType = "transfer"
)

// Transaction is an append-only record of a money movement. Deposits carry
// only to_account_id, withdrawals only from_account_id, transfers both.
type Transaction struct {
	ID              string          `json:"id" db:"id"`
	TransactionType TransactionType `json:"transaction_type" db:"transaction_type"`
	Amount          decimal.Decimal `json:"amount" db:"amount"`
	Description     string          `json:"description" db:"description"`
	UserID          string          `json:"user_id" db:"user_id"`
	FromAccountID   *string         `json:"from_account_id,omitempty" db:"from_account_id"`
	ToAccountID     *string         `json:"to_account_id,omitempty" db:"to_account_id"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
}
