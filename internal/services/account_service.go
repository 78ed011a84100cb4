package services

import (
	"database/sql"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/seubank/backend/internal/middleware"
	"github.com/seubank/backend/internal/models"
)

type AccountService struct {
	db        *sql.DB
	validator *validator.Validate
}

// CreateAccountRequest represents the account creation payload
type CreateAccountRequest struct {
	AccountType models.AccountType `json:"account_type" validate:"required,oneof=checking savings"`
}

func NewAccountService(db *sql.DB) *AccountService {
	return &AccountService{
		db:        db,
		validator: validator.New(),
	}
}

// ListAccounts returns all accounts owned by the caller.
func (s *AccountService) ListAccounts(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	rows, err := s.db.Query(
		"SELECT id, user_id, account_number, account_type, balance, is_active, created_at FROM accounts WHERE user_id = $1 ORDER BY created_at",
		user.ID)
	if err != nil {
		log.Printf("[ACCOUNT] Failed to list accounts for user %s: %v", user.ID, err)
		SendErrorResponse(w, "Failed to fetch accounts", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	accounts := []models.Account{}
	for rows.Next() {
		var account models.Account
		if err := rows.Scan(&account.ID, &account.UserID, &account.AccountNumber,
			&account.AccountType, &account.Balance, &account.IsActive, &account.CreatedAt); err != nil {
			log.Printf("[ACCOUNT] Failed to scan account row: %v", err)
			SendErrorResponse(w, "Failed to fetch accounts", http.StatusInternalServerError, nil)
			return
		}
		accounts = append(accounts, account)
	}

	SendJSON(w, accounts)
}

// CreateAccount opens a new account for the caller with a freshly generated
// unique account number and a zero balance.
func (s *AccountService) CreateAccount(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req CreateAccountRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.Struct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	// The account number is random, so a concurrent insert can win the same
	// one. Let the unique index arbitrate and retry with a fresh number.
	var account models.Account
	var err error
	for attempt := 0; attempt < 5; attempt++ {
		err = s.db.QueryRow(
			"INSERT INTO accounts (id, user_id, account_number, account_type, balance) VALUES ($1, $2, $3, $4, 0) RETURNING id, user_id, account_number, account_type, balance, is_active, created_at",
			uuid.New().String(), user.ID, generateAccountNumber(), string(req.AccountType)).Scan(
			&account.ID, &account.UserID, &account.AccountNumber, &account.AccountType,
			&account.Balance, &account.IsActive, &account.CreatedAt)
		if err == nil || !isUniqueViolation(err) {
			break
		}
	}
	if err != nil {
		log.Printf("[ACCOUNT] Account creation failed for user %s: %v", user.ID, err)
		SendErrorResponse(w, "Failed to create account", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[ACCOUNT] Created %s account %s for user %s", account.AccountType, account.AccountNumber, user.ID)
	SendJSON(w, account)
}

// GetAccount returns a single account. A foreign account id yields the same
// 404 as an unknown one so callers cannot probe other users' accounts.
func (s *AccountService) GetAccount(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	accountID := chi.URLParam(r, "id")

	var account models.Account
	err := s.db.QueryRow(
		"SELECT id, user_id, account_number, account_type, balance, is_active, created_at FROM accounts WHERE id = $1 AND user_id = $2",
		accountID, user.ID).Scan(
		&account.ID, &account.UserID, &account.AccountNumber, &account.AccountType,
		&account.Balance, &account.IsActive, &account.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "Account not found", http.StatusNotFound, nil)
		} else {
			log.Printf("[ACCOUNT] Failed to fetch account %s: %v", accountID, err)
			SendErrorResponse(w, "Failed to fetch account", http.StatusInternalServerError, nil)
		}
		return
	}

	SendJSON(w, account)
}
