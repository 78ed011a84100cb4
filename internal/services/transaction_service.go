package services

import (
	"database/sql"
	"log"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/seubank/backend/internal/middleware"
	"github.com/seubank/backend/internal/models"
)

type TransactionService struct {
	db        *sql.DB
	validator *validator.Validate
}

// DepositRequest covers both deposits and withdrawals: the client names the
// affected account as to_account_id in either case.
type DepositRequest struct {
	ToAccountID string          `json:"to_account_id" validate:"required,uuid4"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description" validate:"max=200"`
}

// TransferRequest represents the transfer payload
type TransferRequest struct {
	FromAccountID string          `json:"from_account_id" validate:"required,uuid4"`
	ToAccountID   string          `json:"to_account_id" validate:"required,uuid4"`
	Amount        decimal.Decimal `json:"amount"`
	Description   string          `json:"description" validate:"max=200"`
}

func NewTransactionService(db *sql.DB) *TransactionService {
	return &TransactionService{
		db:        db,
		validator: validator.New(),
	}
}

// lockedAccount is the row image taken under FOR UPDATE.
type lockedAccount struct {
	ID      string
	UserID  string
	Balance decimal.Decimal
}

// lockAccount takes a row lock on the account so concurrent balance updates
// against the same account serialize.
func lockAccount(tx *sql.Tx, accountID string) (*lockedAccount, error) {
	var account lockedAccount
	err := tx.QueryRow(
		"SELECT id, user_id, balance FROM accounts WHERE id = $1 FOR UPDATE",
		accountID).Scan(&account.ID, &account.UserID, &account.Balance)
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// Deposit increases the account balance and appends a deposit record, both
// inside one database transaction.
func (s *TransactionService) Deposit(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req DepositRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.Struct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if !req.Amount.IsPositive() {
		SendErrorResponse(w, "Amount must be positive", http.StatusBadRequest, nil)
		return
	}
	amount := req.Amount.Round(2)

	tx, err := s.db.Begin()
	if err != nil {
		log.Printf("[TRANSACTION] Failed to begin transaction: %v", err)
		SendErrorResponse(w, "Failed to process deposit", http.StatusInternalServerError, nil)
		return
	}
	defer tx.Rollback()

	account, err := lockAccount(tx, req.ToAccountID)
	if err != nil {
		if err != sql.ErrNoRows {
			log.Printf("[TRANSACTION] Account lock failed: %v", err)
			SendErrorResponse(w, "Failed to process deposit", http.StatusInternalServerError, nil)
			return
		}
		SendErrorResponse(w, "Account not found", http.StatusNotFound, nil)
		return
	}
	if account.UserID != user.ID {
		SendErrorResponse(w, "Account not found", http.StatusNotFound, nil)
		return
	}

	newBalance := account.Balance.Add(amount)
	if _, err := tx.Exec("UPDATE accounts SET balance = $1 WHERE id = $2", newBalance, account.ID); err != nil {
		log.Printf("[TRANSACTION] Failed to credit account %s: %v", account.ID, err)
		SendErrorResponse(w, "Failed to process deposit", http.StatusInternalServerError, nil)
		return
	}

	if err := appendTransaction(tx, models.Transaction{
		ID:              uuid.New().String(),
		TransactionType: models.TransactionDeposit,
		Amount:          amount,
		Description:     req.Description,
		UserID:          user.ID,
		ToAccountID:     &account.ID,
	}); err != nil {
		log.Printf("[TRANSACTION] Failed to record deposit: %v", err)
		SendErrorResponse(w, "Failed to process deposit", http.StatusInternalServerError, nil)
		return
	}

	if err := tx.Commit(); err != nil {
		log.Printf("[TRANSACTION] Failed to commit deposit: %v", err)
		SendErrorResponse(w, "Failed to process deposit", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[TRANSACTION] Deposit of %s to account %s by user %s", amount, account.ID, user.ID)
	SendJSON(w, map[string]any{
		"message":     "Deposit successful",
		"new_balance": newBalance,
	})
}

// Withdraw decreases the account balance after a sufficiency check and
// appends a withdrawal record, both inside one database transaction.
func (s *TransactionService) Withdraw(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req DepositRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.Struct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if !req.Amount.IsPositive() {
		SendErrorResponse(w, "Amount must be positive", http.StatusBadRequest, nil)
		return
	}
	amount := req.Amount.Round(2)

	tx, err := s.db.Begin()
	if err != nil {
		log.Printf("[TRANSACTION] Failed to begin transaction: %v", err)
		SendErrorResponse(w, "Failed to process withdrawal", http.StatusInternalServerError, nil)
		return
	}
	defer tx.Rollback()

	account, err := lockAccount(tx, req.ToAccountID)
	if err != nil {
		if err != sql.ErrNoRows {
			log.Printf("[TRANSACTION] Account lock failed: %v", err)
			SendErrorResponse(w, "Failed to process withdrawal", http.StatusInternalServerError, nil)
			return
		}
		SendErrorResponse(w, "Account not found", http.StatusNotFound, nil)
		return
	}
	if account.UserID != user.ID {
		SendErrorResponse(w, "Account not found", http.StatusNotFound, nil)
		return
	}

	if account.Balance.LessThan(amount) {
		SendErrorResponse(w, "Insufficient balance", http.StatusBadRequest, nil)
		return
	}

	newBalance := account.Balance.Sub(amount)
	if _, err := tx.Exec("UPDATE accounts SET balance = $1 WHERE id = $2", newBalance, account.ID); err != nil {
		log.Printf("[TRANSACTION] Failed to debit account %s: %v", account.ID, err)
		SendErrorResponse(w, "Failed to process withdrawal", http.StatusInternalServerError, nil)
		return
	}

	if err := appendTransaction(tx, models.Transaction{
		ID:              uuid.New().String(),
		TransactionType: models.TransactionWithdrawal,
		Amount:          amount,
		Description:     req.Description,
		UserID:          user.ID,
		FromAccountID:   &account.ID,
	}); err != nil {
		log.Printf("[TRANSACTION] Failed to record withdrawal: %v", err)
		SendErrorResponse(w, "Failed to process withdrawal", http.StatusInternalServerError, nil)
		return
	}

	if err := tx.Commit(); err != nil {
		log.Printf("[TRANSACTION] Failed to commit withdrawal: %v", err)
		SendErrorResponse(w, "Failed to process withdrawal", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[TRANSACTION] Withdrawal of %s from account %s by user %s", amount, account.ID, user.ID)
	SendJSON(w, map[string]any{
		"message":     "Withdrawal successful",
		"new_balance": newBalance,
	})
}

// Transfer debits the source, credits the destination and appends one
// transfer record as a single atomic unit. Both rows are locked FOR UPDATE
// in consistent id order to avoid deadlocks between opposing transfers.
func (s *TransactionService) Transfer(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req TransferRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.Struct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if !req.Amount.IsPositive() {
		SendErrorResponse(w, "Amount must be positive", http.StatusBadRequest, nil)
		return
	}
	if req.FromAccountID == req.ToAccountID {
		SendErrorResponse(w, "Cannot transfer to same account", http.StatusBadRequest, nil)
		return
	}
	amount := req.Amount.Round(2)

	tx, err := s.db.Begin()
	if err != nil {
		log.Printf("[TRANSACTION] Failed to begin transaction: %v", err)
		SendErrorResponse(w, "Failed to process transfer", http.StatusInternalServerError, nil)
		return
	}
	defer tx.Rollback()

	// Lock accounts in consistent order to prevent deadlocks.
	firstLock, secondLock := req.FromAccountID, req.ToAccountID
	if firstLock > secondLock {
		firstLock, secondLock = secondLock, firstLock
	}

	first, err := lockAccount(tx, firstLock)
	if err != nil {
		s.transferAccountNotFound(w, err, firstLock == req.FromAccountID)
		return
	}

	second, err := lockAccount(tx, secondLock)
	if err != nil {
		s.transferAccountNotFound(w, err, secondLock == req.FromAccountID)
		return
	}

	fromAccount, toAccount := first, second
	if first.ID != req.FromAccountID {
		fromAccount, toAccount = second, first
	}

	// The source must belong to the caller; the destination may belong to
	// anyone, which is what makes cross-user transfers work.
	if fromAccount.UserID != user.ID {
		SendErrorResponse(w, "From account not found", http.StatusNotFound, nil)
		return
	}

	if fromAccount.Balance.LessThan(amount) {
		SendErrorResponse(w, "Insufficient balance", http.StatusBadRequest, nil)
		return
	}

	newFromBalance := fromAccount.Balance.Sub(amount)
	newToBalance := toAccount.Balance.Add(amount)

	if _, err := tx.Exec("UPDATE accounts SET balance = $1 WHERE id = $2", newFromBalance, fromAccount.ID); err != nil {
		log.Printf("[TRANSACTION] Failed to debit account %s: %v", fromAccount.ID, err)
		SendErrorResponse(w, "Failed to process transfer", http.StatusInternalServerError, nil)
		return
	}

	if _, err := tx.Exec("UPDATE accounts SET balance = $1 WHERE id = $2", newToBalance, toAccount.ID); err != nil {
		log.Printf("[TRANSACTION] Failed to credit account %s: %v", toAccount.ID, err)
		SendErrorResponse(w, "Failed to process transfer", http.StatusInternalServerError, nil)
		return
	}

	if err := appendTransaction(tx, models.Transaction{
		ID:              uuid.New().String(),
		TransactionType: models.TransactionTransfer,
		Amount:          amount,
		Description:     req.Description,
		UserID:          user.ID,
		FromAccountID:   &fromAccount.ID,
		ToAccountID:     &toAccount.ID,
	}); err != nil {
		log.Printf("[TRANSACTION] Failed to record transfer: %v", err)
		SendErrorResponse(w, "Failed to process transfer", http.StatusInternalServerError, nil)
		return
	}

	if err := tx.Commit(); err != nil {
		log.Printf("[TRANSACTION] Failed to commit transfer: %v", err)
		SendErrorResponse(w, "Failed to process transfer", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[TRANSACTION] Transfer of %s from %s to %s by user %s", amount, fromAccount.ID, toAccount.ID, user.ID)
	SendJSON(w, map[string]any{
		"message":          "Transfer successful",
		"new_from_balance": newFromBalance,
	})
}

func (s *TransactionService) transferAccountNotFound(w http.ResponseWriter, err error, isSource bool) {
	if err != sql.ErrNoRows {
		log.Printf("[TRANSACTION] Account lock failed: %v", err)
		SendErrorResponse(w, "Failed to process transfer", http.StatusInternalServerError, nil)
		return
	}
	if isSource {
		SendErrorResponse(w, "From account not found", http.StatusNotFound, nil)
	} else {
		SendErrorResponse(w, "To account not found", http.StatusNotFound, nil)
	}
}

// ListTransactions returns the caller's transactions, newest first.
func (s *TransactionService) ListTransactions(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	transactions, err := fetchTransactions(s.db,
		"SELECT id, transaction_type, amount, description, user_id, from_account_id, to_account_id, created_at FROM transactions WHERE user_id = $1 ORDER BY created_at DESC LIMIT 100",
		user.ID)
	if err != nil {
		log.Printf("[TRANSACTION] Failed to list transactions for user %s: %v", user.ID, err)
		SendErrorResponse(w, "Failed to fetch transactions", http.StatusInternalServerError, nil)
		return
	}

	SendJSON(w, transactions)
}

func appendTransaction(tx *sql.Tx, record models.Transaction) error {
	_, err := tx.Exec(
		"INSERT INTO transactions (id, transaction_type, amount, description, user_id, from_account_id, to_account_id) VALUES ($1, $2, $3, $4, $5, $6, $7)",
		record.ID, string(record.TransactionType), record.Amount, record.Description,
		record.UserID, record.FromAccountID, record.ToAccountID)
	return err
}

func fetchTransactions(db *sql.DB, query string, args ...any) ([]models.Transaction, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	transactions := []models.Transaction{}
	for rows.Next() {
		var record models.Transaction
		var fromID, toID sql.NullString
		if err := rows.Scan(&record.ID, &record.TransactionType, &record.Amount, &record.Description,
			&record.UserID, &fromID, &toID, &record.CreatedAt); err != nil {
			return nil, err
		}
		if fromID.Valid {
			record.FromAccountID = &fromID.String
		}
		if toID.Valid {
			record.ToAccountID = &toID.String
		}
		transactions = append(transactions, record)
	}

	return transactions, rows.Err()
}
