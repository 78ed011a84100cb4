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
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seubank/backend/internal/middleware"
	"github.com/seubank/backend/internal/models"
)

func testUser(id string) *models.User {
	return &models.User{
		ID:       id,
		Email:    "alice@example.com",
		FullName: "Alice Example",
		Role:     models.RoleUser,
		IsActive: true,
	}
}

func authedRequest(method, target string, body []byte, user *models.User) *http.Request {
	r := httptest.NewRequest(method, target, bytes.NewBuffer(body))
	return r.WithContext(middleware.ContextWithUser(r.Context(), user))
}

func accountRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "user_id", "account_number", "account_type", "balance", "is_active", "created_at"})
}

func TestAccountService_ListAccounts(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewAccountService(db)
	user := testUser("user-1")

	t.Run("returns caller's accounts", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, user_id, account_number, account_type, balance, is_active, created_at FROM accounts WHERE user_id").
			WithArgs("user-1").
			WillReturnRows(accountRows().
				AddRow("acct-1", "user-1", "1234567890", "checking", "100.00", true, time.Now()).
				AddRow("acct-2", "user-1", "0987654321", "savings", "25.50", true, time.Now()))

		r := authedRequest("GET", "/api/accounts", nil, user)
		w := httptest.NewRecorder()

		service.ListAccounts(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		var accounts []models.Account
		json.Unmarshal(w.Body.Bytes(), &accounts)
		assert.Len(t, accounts, 2)
		assert.Equal(t, "1234567890", accounts[0].AccountNumber)
		assert.True(t, accounts[0].Balance.Equal(mustDecimal(t, "100.00")))
	})

	t.Run("empty list for new user", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, user_id, account_number, account_type, balance, is_active, created_at FROM accounts WHERE user_id").
			WithArgs("user-1").
			WillReturnRows(accountRows())

		r := authedRequest("GET", "/api/accounts", nil, user)
		w := httptest.NewRecorder()

		service.ListAccounts(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, "[]", w.Body.String())
	})
}

func TestAccountService_CreateAccount(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewAccountService(db)
	user := testUser("user-1")

	t.Run("creates savings account", func(t *testing.T) {
		mock.ExpectQuery("INSERT INTO accounts").
			WithArgs(sqlmock.AnyArg(), "user-1", sqlmock.AnyArg(), "savings").
			WillReturnRows(accountRows().
				AddRow("acct-3", "user-1", "5555555555", "savings", "0.00", true, time.Now()))

		body, _ := json.Marshal(CreateAccountRequest{AccountType: models.AccountTypeSavings})
		r := authedRequest("POST", "/api/accounts", body, user)
		w := httptest.NewRecorder()

		service.CreateAccount(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		var account models.Account
		json.Unmarshal(w.Body.Bytes(), &account)
		assert.Equal(t, models.AccountTypeSavings, account.AccountType)
		assert.True(t, account.Balance.IsZero())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("retries with a fresh number when the unique index loses a race", func(t *testing.T) {
		mock.ExpectQuery("INSERT INTO accounts").
			WithArgs(sqlmock.AnyArg(), "user-1", sqlmock.AnyArg(), "checking").
			WillReturnError(&pq.Error{Code: "23505"})
		mock.ExpectQuery("INSERT INTO accounts").
			WithArgs(sqlmock.AnyArg(), "user-1", sqlmock.AnyArg(), "checking").
			WillReturnRows(accountRows().
				AddRow("acct-4", "user-1", "7777777777", "checking", "0.00", true, time.Now()))

		body, _ := json.Marshal(CreateAccountRequest{AccountType: models.AccountTypeChecking})
		r := authedRequest("POST", "/api/accounts", body, user)
		w := httptest.NewRecorder()

		service.CreateAccount(w, r)

		assert.Equal(t, http.StatusOK, w.Code)
		var account models.Account
		json.Unmarshal(w.Body.Bytes(), &account)
		assert.Equal(t, "7777777777", account.AccountNumber)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects unknown account type", func(t *testing.T) {
		body := []byte(`{"account_type": "bitcoin"}`)
		r := authedRequest("POST", "/api/accounts", body, user)
		w := httptest.NewRecorder()

		service.CreateAccount(w, r)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestAccountService_GetAccount(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewAccountService(db)
	user := testUser("user-1")

	getAccount := func(accountID string, user *models.User) *httptest.ResponseRecorder {
		r := authedRequest("GET", "/api/accounts/"+accountID, nil, user)
		r = withURLParam(r, "id", accountID)
		w := httptest.NewRecorder()
		service.GetAccount(w, r)
		return w
	}

	t.Run("returns owned account", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, user_id, account_number, account_type, balance, is_active, created_at FROM accounts WHERE id").
			WithArgs("acct-1", "user-1").
			WillReturnRows(accountRows().
				AddRow("acct-1", "user-1", "1234567890", "checking", "70.00", true, time.Now()))

		w := getAccount("acct-1", user)

		assert.Equal(t, http.StatusOK, w.Code)
		var account models.Account
		json.Unmarshal(w.Body.Bytes(), &account)
		assert.Equal(t, "acct-1", account.ID)
	})

	t.Run("foreign account reads as not found", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, user_id, account_number, account_type, balance, is_active, created_at FROM accounts WHERE id").
			WithArgs("acct-other", "user-1").
			WillReturnError(sql.ErrNoRows)

		w := getAccount("acct-other", user)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}
