package services

import (
	"context"
	cryptorand "crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/spf13/viper"
	"golang.org/x/crypto/argon2"

	"github.com/seubank/backend/internal/middleware"
	"github.com/seubank/backend/internal/models"
)

type AuthService struct {
	db        *sql.DB
	redis     *redis.Client
	validator *validator.Validate
}

// RegisterRequest represents the registration request payload
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
	FullName string `json:"full_name" validate:"required,min=2"`
	Phone    string `json:"phone" validate:"required"`
}

// LoginRequest represents the login request payload
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// AuthResponse represents the authentication response
type AuthResponse struct {
	Token string      `json:"token"`
	User  models.User `json:"user"`
}

func NewAuthService(db *sql.DB, redisClient *redis.Client) *AuthService {
	return &AuthService{
		db:        db,
		redis:     redisClient,
		validator: validator.New(),
	}
}

// Register handles user registration. The user row and its default checking
// account are created in one database transaction.
func (s *AuthService) Register(w http.ResponseWriter, r *http.Request) {
	log.Printf("[AUTH] Registration attempt from IP: %s", r.RemoteAddr)

	var req RegisterRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		log.Printf("[AUTH] Registration failed - invalid request: %v", err)
		SendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.Struct(&req); err != nil {
		log.Printf("[AUTH] Registration validation failed: %v", err)
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	tx, err := s.db.Begin()
	if err != nil {
		log.Printf("[AUTH] Transaction start failed for %s: %v", req.Email, err)
		SendErrorResponse(w, "Failed to create user", http.StatusInternalServerError, nil)
		return
	}
	defer tx.Rollback()

	user, err := createUserWithDefaultAccount(tx, newUserParams{
		Email:    req.Email,
		Password: req.Password,
		FullName: req.FullName,
		Phone:    req.Phone,
		Role:     models.RoleUser,
	})
	if err != nil {
		if isUniqueViolation(err) {
			log.Printf("[AUTH] Duplicate email: %s", req.Email)
			SendErrorResponse(w, "Email already registered", http.StatusConflict, nil)
			return
		}
		log.Printf("[AUTH] User creation failed for %s: %v", req.Email, err)
		SendErrorResponse(w, "Failed to create user", http.StatusInternalServerError, nil)
		return
	}

	if err := tx.Commit(); err != nil {
		log.Printf("[AUTH] Transaction commit failed for %s: %v", req.Email, err)
		SendErrorResponse(w, "Failed to create user", http.StatusInternalServerError, nil)
		return
	}

	token, err := generateToken(user.ID)
	if err != nil {
		log.Printf("[AUTH] Token generation failed for user %s: %v", user.ID, err)
		SendErrorResponse(w, "Failed to generate token", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[AUTH] Registration successful for user %s", user.ID)
	SendJSON(w, AuthResponse{Token: token, User: *user})
}

// Login handles user authentication. Unknown email and wrong password yield
// the identical response to avoid user enumeration.
func (s *AuthService) Login(w http.ResponseWriter, r *http.Request) {
	log.Printf("[AUTH] Login attempt from IP: %s", r.RemoteAddr)

	var req LoginRequest
	if err := DecodeJSONBody(w, r, &req); err != nil {
		log.Printf("[AUTH] Login failed - invalid request: %v", err)
		SendErrorResponse(w, "Invalid request", http.StatusBadRequest, nil)
		return
	}

	if err := s.validator.Struct(&req); err != nil {
		log.Printf("[AUTH] Login validation failed: %v", err)
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	// Email matching is exact, including case.
	var user models.User
	var hashedPassword string
	err := s.db.QueryRow(
		"SELECT id, email, full_name, phone, role, is_active, created_at, password FROM users WHERE email = $1",
		req.Email).Scan(
		&user.ID, &user.Email, &user.FullName, &user.Phone, &user.Role, &user.IsActive, &user.CreatedAt, &hashedPassword)
	if err != nil {
		log.Printf("[AUTH] User not found for email: %s", req.Email)
		SendErrorResponse(w, "Invalid credentials", http.StatusUnauthorized, nil)
		return
	}

	if !verifyPassword(req.Password, hashedPassword) {
		log.Printf("[AUTH] Invalid password for user: %s", user.ID)
		SendErrorResponse(w, "Invalid credentials", http.StatusUnauthorized, nil)
		return
	}

	if !user.IsActive {
		log.Printf("[AUTH] Login rejected for deactivated user: %s", user.ID)
		SendErrorResponse(w, "Account is deactivated", http.StatusForbidden, nil)
		return
	}

	token, err := generateToken(user.ID)
	if err != nil {
		log.Printf("[AUTH] Token generation failed for user %s: %v", user.ID, err)
		SendErrorResponse(w, "Failed to generate token", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[AUTH] Login successful for user %s", user.ID)
	SendJSON(w, AuthResponse{Token: token, User: user})
}

// Logout blacklists the presented token until its natural expiry.
func (s *AuthService) Logout(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get("Authorization")
	if token != "" && len(token) > 7 {
		token = token[7:] // Remove "Bearer " prefix

		if s.redis != nil {
			ctx := context.Background()
			key := fmt.Sprintf("blacklist:%s", token)
			expiry := time.Duration(viper.GetInt("jwt.expiry_hours")) * time.Hour
			if err := s.redis.Set(ctx, key, "1", expiry).Err(); err != nil {
				log.Printf("[AUTH] Failed to blacklist token: %v", err)
			}
		}
	}

	SendJSON(w, map[string]string{"message": "Logout successful"})
}

// GetProfile returns the authenticated user's record.
func (s *AuthService) GetProfile(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}
	SendJSON(w, user)
}

type newUserParams struct {
	Email    string
	Password string
	FullName string
	Phone    string
	Role     models.Role
}

// createUserWithDefaultAccount inserts the user and a zero-balance checking
// account inside the caller's transaction. Unique-violation errors are
// returned as-is so callers can map them to Conflict.
func createUserWithDefaultAccount(tx *sql.Tx, p newUserParams) (*models.User, error) {
	hashedPassword, err := hashPassword(p.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	var user models.User
	err = tx.QueryRow(
		"INSERT INTO users (id, email, password, full_name, phone, role) VALUES ($1, $2, $3, $4, $5, $6) RETURNING id, email, full_name, phone, role, is_active, created_at",
		uuid.New().String(), p.Email, hashedPassword, p.FullName, p.Phone, string(p.Role)).Scan(
		&user.ID, &user.Email, &user.FullName, &user.Phone, &user.Role, &user.IsActive, &user.CreatedAt)
	if err != nil {
		return nil, err
	}

	accountNumber, err := uniqueAccountNumber(tx)
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(
		"INSERT INTO accounts (id, user_id, account_number, account_type, balance) VALUES ($1, $2, $3, $4, 0)",
		uuid.New().String(), user.ID, accountNumber, string(models.AccountTypeChecking))
	if err != nil {
		return nil, err
	}

	return &user, nil
}

type queryRower interface {
	QueryRow(query string, args ...any) *sql.Row
}

// uniqueAccountNumber generates a 10-digit account number not yet present
// in the accounts table.
func uniqueAccountNumber(q queryRower) (string, error) {
	for attempt := 0; attempt < 5; attempt++ {
		number := generateAccountNumber()
		var exists bool
		err := q.QueryRow("SELECT EXISTS(SELECT 1 FROM accounts WHERE account_number = $1)", number).Scan(&exists)
		if err != nil {
			return "", err
		}
		if !exists {
			return number, nil
		}
	}
	return "", fmt.Errorf("could not generate unique account number")
}

func generateAccountNumber() string {
	const digits = "0123456789"
	b := make([]byte, 10)
	for i := range b {
		b[i] = digits[rand.Intn(len(digits))]
	}
	return string(b)
}

func generateToken(userID string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"exp":     time.Now().Add(time.Duration(viper.GetInt("jwt.expiry_hours")) * time.Hour).Unix(),
	})

	return token.SignedString([]byte(viper.GetString("jwt.secret_key")))
}

func hashPassword(password string) (string, error) {
	salt := make([]byte, viper.GetInt("argon2.salt_length"))
	if _, err := cryptorand.Read(salt); err != nil {
		return "", err
	}

	hash := argon2.IDKey([]byte(password), salt,
		uint32(viper.GetInt("argon2.time")),
		uint32(viper.GetInt("argon2.memory")),
		uint8(viper.GetInt("argon2.threads")),
		uint32(viper.GetInt("argon2.key_length")))
	return fmt.Sprintf("%s$%s", base64.StdEncoding.EncodeToString(salt), base64.StdEncoding.EncodeToString(hash)), nil
}

func verifyPassword(password, hashedPassword string) bool {
	parts := strings.Split(hashedPassword, "$")
	if len(parts) != 2 {
		return false
	}

	salt, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return false
	}

	hash, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return false
	}

	computedHash := argon2.IDKey([]byte(password), salt,
		uint32(viper.GetInt("argon2.time")),
		uint32(viper.GetInt("argon2.memory")),
		uint8(viper.GetInt("argon2.threads")),
		uint32(viper.GetInt("argon2.key_length")))
	return string(hash) == string(computedHash)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
