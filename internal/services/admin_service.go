package services

import (
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"

	"github.com/seubank/backend/internal/models"
)

type AdminService struct {
	db        *sql.DB
	redis     *redis.Client
	validator *validator.Validate
}

const statsCacheKey = "admin:stats"
const statsCacheTTL = 30 * time.Second

// Stats holds the aggregate counters shown on the admin dashboard.
type Stats struct {
	TotalUsers         int             `json:"total_users"`
	ActiveUsers        int             `json:"active_users"`
	TotalAccounts      int             `json:"total_accounts"`
	TotalTransactions  int             `json:"total_transactions"`
	TotalBalance       decimal.Decimal `json:"total_balance"`
	RecentTransactions int             `json:"recent_transactions"`
}

// UserOverview is one row of the admin user listing.
type UserOverview struct {
	User             models.User      `json:"user"`
	Accounts         []models.Account `json:"accounts"`
	TotalBalance     decimal.Decimal  `json:"total_balance"`
	TransactionCount int              `json:"transaction_count"`
}

// CreateUserRequest represents the admin user creation payload
type CreateUserRequest struct {
	Email    string      `json:"email" validate:"required,email"`
	Password string      `json:"password" validate:"required,min=6"`
	FullName string      `json:"full_name" validate:"required,min=2"`
	Phone    string      `json:"phone" validate:"required"`
	Role     models.Role `json:"role" validate:"required,oneof=user admin"`
}

// UpdateUserRequest represents the partial admin user update payload.
// Nil fields are left unchanged.
type UpdateUserRequest struct {
	FullName *string      `json:"full_name" validate:"omitempty,min=2"`
	Phone    *string      `json:"phone"`
	Role     *models.Role `json:"role" validate:"omitempty,oneof=user admin"`
	IsActive *bool        `json:"is_active"`
}

func NewAdminService(db *sql.DB, redisClient *redis.Client) *AdminService {
	return &AdminService{
		db:        db,
		redis:     redisClient,
		validator: validator.New(),
	}
}

// GetStats returns system-wide aggregate counters, cached briefly in Redis
// when it is available.
func (s *AdminService) GetStats(w http.ResponseWriter, r *http.Request) {
	if s.redis != nil {
		if cached, err := s.redis.Get(r.Context(), statsCacheKey).Bytes(); err == nil {
			var stats Stats
			if err := json.Unmarshal(cached, &stats); err == nil {
				SendJSON(w, stats)
				return
			}
		}
	}

	var stats Stats
	err := s.db.QueryRow(`
		SELECT
			(SELECT COUNT(*) FROM users),
			(SELECT COUNT(*) FROM users WHERE is_active),
			(SELECT COUNT(*) FROM accounts),
			(SELECT COUNT(*) FROM transactions),
			(SELECT COALESCE(SUM(balance), 0) FROM accounts),
			(SELECT COUNT(*) FROM transactions WHERE created_at > NOW() - INTERVAL '7 days')
	`).Scan(&stats.TotalUsers, &stats.ActiveUsers, &stats.TotalAccounts,
		&stats.TotalTransactions, &stats.TotalBalance, &stats.RecentTransactions)
	if err != nil {
		log.Printf("[ADMIN] Failed to compute stats: %v", err)
		SendErrorResponse(w, "Failed to fetch stats", http.StatusInternalServerError, nil)
		return
	}

	if s.redis != nil {
		if payload, err := json.Marshal(stats); err == nil {
			if err := s.redis.Set(r.Context(), statsCacheKey, payload, statsCacheTTL).Err(); err != nil {
				log.Printf("[ADMIN] Failed to cache stats: %v", err)
			}
		}
	}

	SendJSON(w, stats)
}

// ListUsers returns every user with their accounts, summed balance and the
// count of transactions touching any of their accounts.
func (s *AdminService) ListUsers(w http.ResponseWriter, r *http.Request) {
	rows, err := s.db.Query(
		"SELECT id, email, full_name, phone, role, is_active, created_at FROM users ORDER BY created_at")
	if err != nil {
		log.Printf("[ADMIN] Failed to list users: %v", err)
		SendErrorResponse(w, "Failed to fetch users", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	overviews := []UserOverview{}
	index := map[string]int{}
	for rows.Next() {
		var user models.User
		if err := rows.Scan(&user.ID, &user.Email, &user.FullName, &user.Phone,
			&user.Role, &user.IsActive, &user.CreatedAt); err != nil {
			log.Printf("[ADMIN] Failed to scan user row: %v", err)
			SendErrorResponse(w, "Failed to fetch users", http.StatusInternalServerError, nil)
			return
		}
		index[user.ID] = len(overviews)
		overviews = append(overviews, UserOverview{
			User:         user,
			Accounts:     []models.Account{},
			TotalBalance: decimal.Zero,
		})
	}
	if err := rows.Err(); err != nil {
		log.Printf("[ADMIN] Failed to iterate users: %v", err)
		SendErrorResponse(w, "Failed to fetch users", http.StatusInternalServerError, nil)
		return
	}

	accountRows, err := s.db.Query(
		"SELECT id, user_id, account_number, account_type, balance, is_active, created_at FROM accounts ORDER BY created_at")
	if err != nil {
		log.Printf("[ADMIN] Failed to list accounts: %v", err)
		SendErrorResponse(w, "Failed to fetch users", http.StatusInternalServerError, nil)
		return
	}
	defer accountRows.Close()

	for accountRows.Next() {
		var account models.Account
		if err := accountRows.Scan(&account.ID, &account.UserID, &account.AccountNumber,
			&account.AccountType, &account.Balance, &account.IsActive, &account.CreatedAt); err != nil {
			log.Printf("[ADMIN] Failed to scan account row: %v", err)
			SendErrorResponse(w, "Failed to fetch users", http.StatusInternalServerError, nil)
			return
		}
		if i, ok := index[account.UserID]; ok {
			overviews[i].Accounts = append(overviews[i].Accounts, account)
			overviews[i].TotalBalance = overviews[i].TotalBalance.Add(account.Balance)
		}
	}

	// A transaction involves a user when it touches any account they own,
	// so a received transfer counts for the recipient too.
	countRows, err := s.db.Query(`
		SELECT a.user_id, COUNT(DISTINCT t.id)
		FROM transactions t
		JOIN accounts a ON a.id IN (t.from_account_id, t.to_account_id)
		GROUP BY a.user_id`)
	if err != nil {
		log.Printf("[ADMIN] Failed to count transactions: %v", err)
		SendErrorResponse(w, "Failed to fetch users", http.StatusInternalServerError, nil)
		return
	}
	defer countRows.Close()

	for countRows.Next() {
		var userID string
		var count int
		if err := countRows.Scan(&userID, &count); err != nil {
			log.Printf("[ADMIN] Failed to scan transaction count: %v", err)
			SendErrorResponse(w, "Failed to fetch users", http.StatusInternalServerError, nil)
			return
		}
		if i, ok := index[userID]; ok {
			overviews[i].TransactionCount = count
		}
	}

	SendJSON(w, overviews)
}

// CreateUser is registration with a caller-chosen role. The new user gets
// the same default checking account.
func (s *AdminService) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.Struct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	tx, err := s.db.Begin()
	if err != nil {
		log.Printf("[ADMIN] Transaction start failed: %v", err)
		SendErrorResponse(w, "Failed to create user", http.StatusInternalServerError, nil)
		return
	}
	defer tx.Rollback()

	user, err := createUserWithDefaultAccount(tx, newUserParams{
		Email:    req.Email,
		Password: req.Password,
		FullName: req.FullName,
		Phone:    req.Phone,
		Role:     req.Role,
	})
	if err != nil {
		if isUniqueViolation(err) {
			SendErrorResponse(w, "Email already registered", http.StatusConflict, nil)
			return
		}
		log.Printf("[ADMIN] User creation failed for %s: %v", req.Email, err)
		SendErrorResponse(w, "Failed to create user", http.StatusInternalServerError, nil)
		return
	}

	if err := tx.Commit(); err != nil {
		log.Printf("[ADMIN] Transaction commit failed: %v", err)
		SendErrorResponse(w, "Failed to create user", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[ADMIN] Created user %s with role %s", user.ID, user.Role)
	SendJSON(w, user)
}

// UpdateUser applies a partial update to full_name, phone, role and
// is_active.
func (s *AdminService) UpdateUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")

	var req UpdateUserRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		SendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.Struct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	var user models.User
	err := s.db.QueryRow(`
		UPDATE users SET
			full_name = COALESCE($1, full_name),
			phone = COALESCE($2, phone),
			role = COALESCE($3, role),
			is_active = COALESCE($4, is_active)
		WHERE id = $5
		RETURNING id, email, full_name, phone, role, is_active, created_at`,
		req.FullName, req.Phone, (*string)(req.Role), req.IsActive, userID).Scan(
		&user.ID, &user.Email, &user.FullName, &user.Phone, &user.Role, &user.IsActive, &user.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "User not found", http.StatusNotFound, nil)
		} else {
			log.Printf("[ADMIN] Failed to update user %s: %v", userID, err)
			SendErrorResponse(w, "Failed to update user", http.StatusInternalServerError, nil)
		}
		return
	}

	log.Printf("[ADMIN] Updated user %s", user.ID)
	SendJSON(w, user)
}

// DeleteUser soft-deletes: the user and all their accounts are deactivated
// in one database transaction, so no transaction history is orphaned.
// Admins cannot be deleted through this path.
func (s *AdminService) DeleteUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")

	var role models.Role
	err := s.db.QueryRow("SELECT role FROM users WHERE id = $1", userID).Scan(&role)
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "User not found", http.StatusNotFound, nil)
		} else {
			log.Printf("[ADMIN] Failed to fetch user %s: %v", userID, err)
			SendErrorResponse(w, "Failed to delete user", http.StatusInternalServerError, nil)
		}
		return
	}

	if role.IsAdmin() {
		SendErrorResponse(w, "Admin users cannot be deleted", http.StatusForbidden, nil)
		return
	}

	tx, err := s.db.Begin()
	if err != nil {
		log.Printf("[ADMIN] Transaction start failed: %v", err)
		SendErrorResponse(w, "Failed to delete user", http.StatusInternalServerError, nil)
		return
	}
	defer tx.Rollback()

	if _, err := tx.Exec("UPDATE users SET is_active = FALSE WHERE id = $1", userID); err != nil {
		log.Printf("[ADMIN] Failed to deactivate user %s: %v", userID, err)
		SendErrorResponse(w, "Failed to delete user", http.StatusInternalServerError, nil)
		return
	}

	if _, err := tx.Exec("UPDATE accounts SET is_active = FALSE WHERE user_id = $1", userID); err != nil {
		log.Printf("[ADMIN] Failed to deactivate accounts for user %s: %v", userID, err)
		SendErrorResponse(w, "Failed to delete user", http.StatusInternalServerError, nil)
		return
	}

	if err := tx.Commit(); err != nil {
		log.Printf("[ADMIN] Failed to commit user delete %s: %v", userID, err)
		SendErrorResponse(w, "Failed to delete user", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[ADMIN] Deactivated user %s and their accounts", userID)
	SendJSON(w, map[string]string{"message": "User deleted"})
}

// ListTransactions returns the most recent transactions system-wide.
func (s *AdminService) ListTransactions(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		l, err := strconv.Atoi(limitStr)
		if err != nil || l < 1 || l > 500 {
			SendErrorResponse(w, "Invalid limit", http.StatusBadRequest, nil)
			return
		}
		limit = l
	}

	transactions, err := fetchTransactions(s.db,
		"SELECT id, transaction_type, amount, description, user_id, from_account_id, to_account_id, created_at FROM transactions ORDER BY created_at DESC LIMIT $1",
		limit)
	if err != nil {
		log.Printf("[ADMIN] Failed to list transactions: %v", err)
		SendErrorResponse(w, "Failed to fetch transactions", http.StatusInternalServerError, nil)
		return
	}

	SendJSON(w, transactions)
}
