package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountType is the closed set of account kinds a user can hold.
type AccountType string

const (
	AccountTypeChecking AccountType = "checking"
	AccountTypeSavings  AccountType = "savings"
)

func (t AccountType) Valid() bool {
	return t == AccountTypeChecking || t == AccountTypeSavings
}

type Account struct {
	ID            string          `json:"id" db:"id"`
	UserID        string          `json:"user_id" db:"user_id"`
	AccountNumber string          `json:"account_number" db:"account_number"`
	AccountType   AccountType     `json:"account_type" db:"account_type"`
	Balance       decimal.Decimal `json:"balance" db:"balance"`
	IsActive      bool            `json:"is_active" db:"is_active"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}
