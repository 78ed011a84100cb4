package services

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupAuthConfig() {
	viper.Set("argon2.salt_length", 16)
	viper.Set("argon2.time", 1)
	viper.Set("argon2.memory", 64*1024)
	viper.Set("argon2.threads", 4)
	viper.Set("argon2.key_length", 32)
	viper.Set("jwt.secret_key", "test-secret")
	viper.Set("jwt.expiry_hours", 24)
}

func userRows(id, email, fullName string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "email", "full_name", "phone", "role", "is_active", "created_at"}).
		AddRow(id, email, fullName, "+15550001111", "user", true, time.Now())
}

func TestAuthService_Register(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	setupAuthConfig()
	service := NewAuthService(db, nil)

	t.Run("successful registration", func(t *testing.T) {
		req := RegisterRequest{
			Email:    "alice@example.com",
			Password: "password123",
			FullName: "Alice Example",
			Phone:    "+15550001111",
		}

		mock.ExpectBegin()
		mock.ExpectQuery("INSERT INTO users").
			WithArgs(sqlmock.AnyArg(), req.Email, sqlmock.AnyArg(), req.FullName, req.Phone, "user").
			WillReturnRows(userRows("user-1", req.Email, req.FullName))
		mock.ExpectQuery("SELECT EXISTS").
			WithArgs(sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectExec("INSERT INTO accounts").
			WithArgs(sqlmock.AnyArg(), "user-1", sqlmock.AnyArg(), "checking").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		body, _ := json.Marshal(req)
		r := httptest.NewRequest("POST", "/api/auth/register", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.Register(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		var response AuthResponse
		json.Unmarshal(w.Body.Bytes(), &response)
		assert.NotEmpty(t, response.Token)
		assert.Equal(t, req.Email, response.User.Email)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("stores email exactly as given", func(t *testing.T) {
		req := RegisterRequest{
			Email:    "Alice@Example.com",
			Password: "password123",
			FullName: "Alice Example",
			Phone:    "+15550001111",
		}

		mock.ExpectBegin()
		mock.ExpectQuery("INSERT INTO users").
			WithArgs(sqlmock.AnyArg(), "Alice@Example.com", sqlmock.AnyArg(), req.FullName, req.Phone, "user").
			WillReturnRows(userRows("user-5", "Alice@Example.com", req.FullName))
		mock.ExpectQuery("SELECT EXISTS").
			WithArgs(sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectExec("INSERT INTO accounts").
			WithArgs(sqlmock.AnyArg(), "user-5", sqlmock.AnyArg(), "checking").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		body, _ := json.Marshal(req)
		r := httptest.NewRequest("POST", "/api/auth/register", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.Register(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		var response AuthResponse
		json.Unmarshal(w.Body.Bytes(), &response)
		assert.Equal(t, "Alice@Example.com", response.User.Email)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate email", func(t *testing.T) {
		req := RegisterRequest{
			Email:    "alice@example.com",
			Password: "password123",
			FullName: "Alice Example",
			Phone:    "+15550001111",
		}

		mock.ExpectBegin()
		mock.ExpectQuery("INSERT INTO users").
			WillReturnError(&pq.Error{Code: "23505"})
		mock.ExpectRollback()

		body, _ := json.Marshal(req)
		r := httptest.NewRequest("POST", "/api/auth/register", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.Register(w, r)

		assert.Equal(t, http.StatusConflict, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("invalid request body", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/api/auth/register", bytes.NewBuffer([]byte("invalid")))
		w := httptest.NewRecorder()

		service.Register(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("validation failure", func(t *testing.T) {
		body, _ := json.Marshal(RegisterRequest{Email: "not-an-email", Password: "x"})
		r := httptest.NewRequest("POST", "/api/auth/register", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.Register(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestAuthService_Login(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	setupAuthConfig()
	service := NewAuthService(db, nil)

	loginRows := func(active bool, hashedPassword string) *sqlmock.Rows {
		return sqlmock.NewRows([]string{"id", "email", "full_name", "phone", "role", "is_active", "created_at", "password"}).
			AddRow("user-1", "alice@example.com", "Alice Example", "+15550001111", "user", active, time.Now(), hashedPassword)
	}

	t.Run("successful login", func(t *testing.T) {
		hashedPassword, _ := hashPassword("password123")

		mock.ExpectQuery("SELECT id, email, full_name, phone, role, is_active, created_at, password FROM users").
			WithArgs("alice@example.com").
			WillReturnRows(loginRows(true, hashedPassword))

		body, _ := json.Marshal(LoginRequest{Email: "alice@example.com", Password: "password123"})
		r := httptest.NewRequest("POST", "/api/auth/login", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.Login(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		var response AuthResponse
		json.Unmarshal(w.Body.Bytes(), &response)
		assert.NotEmpty(t, response.Token)
	})

	t.Run("unknown email", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, email, full_name, phone, role, is_active, created_at, password FROM users").
			WithArgs("nobody@example.com").
			WillReturnError(sql.ErrNoRows)

		body, _ := json.Marshal(LoginRequest{Email: "nobody@example.com", Password: "password123"})
		r := httptest.NewRequest("POST", "/api/auth/login", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.Login(w, r)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("email lookup is case-sensitive", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, email, full_name, phone, role, is_active, created_at, password FROM users").
			WithArgs("ALICE@example.com").
			WillReturnError(sql.ErrNoRows)

		body, _ := json.Marshal(LoginRequest{Email: "ALICE@example.com", Password: "password123"})
		r := httptest.NewRequest("POST", "/api/auth/login", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.Login(w, r)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("wrong password", func(t *testing.T) {
		hashedPassword, _ := hashPassword("password123")

		mock.ExpectQuery("SELECT id, email, full_name, phone, role, is_active, created_at, password FROM users").
			WithArgs("alice@example.com").
			WillReturnRows(loginRows(true, hashedPassword))

		body, _ := json.Marshal(LoginRequest{Email: "alice@example.com", Password: "wrongpassword"})
		r := httptest.NewRequest("POST", "/api/auth/login", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.Login(w, r)

		assert.Equal(t, http.StatusUnauthorized, w.Code)

		// Same response body as the unknown-email case.
		var resp ErrorResponse
		json.Unmarshal(w.Body.Bytes(), &resp)
		assert.Equal(t, "Invalid credentials", resp.Error)
	})

	t.Run("deactivated user", func(t *testing.T) {
		hashedPassword, _ := hashPassword("password123")

		mock.ExpectQuery("SELECT id, email, full_name, phone, role, is_active, created_at, password FROM users").
			WithArgs("alice@example.com").
			WillReturnRows(loginRows(false, hashedPassword))

		body, _ := json.Marshal(LoginRequest{Email: "alice@example.com", Password: "password123"})
		r := httptest.NewRequest("POST", "/api/auth/login", bytes.NewBuffer(body))
		w := httptest.NewRecorder()

		service.Login(w, r)

		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}

func TestPasswordHashing(t *testing.T) {
	setupAuthConfig()

	password := "testpassword"

	hashed, err := hashPassword(password)
	assert.NoError(t, err)
	assert.NotEmpty(t, hashed)

	assert.True(t, verifyPassword(password, hashed))
	assert.False(t, verifyPassword("wrongpassword", hashed))
}

func TestGenerateToken(t *testing.T) {
	setupAuthConfig()

	token, err := generateToken("user-123")
	assert.NoError(t, err)
	assert.NotEmpty(t, token)
}

func TestGenerateAccountNumber(t *testing.T) {
	number := generateAccountNumber()
	assert.Len(t, number, 10)
	for _, c := range number {
		assert.True(t, c >= '0' && c <= '9')
	}
}
