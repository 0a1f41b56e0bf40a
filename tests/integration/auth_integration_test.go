package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/domuslabs/smart-home/assistant-core/internal/auth"
	"github.com/domuslabs/smart-home/assistant-core/tests/helpers"
)

func TestAuthenticationIntegration(t *testing.T) {
	// Setup test environment with real infrastructure
	testDB := helpers.NewTestDatabase(t)
	defer testDB.Close()

	// Use transaction-based isolation instead of table cleanup
	txCtx, rollback := testDB.BeginTransaction(t)
	defer rollback()

	env := newTestEnv(t, testDB)

	t.Run("JWT Token Generation and Validation", func(t *testing.T) {
		userID := "test-user-123"
		email := "test@example.com"
		householdID := "household-auth-1"

		// Generate token
		token, err := env.JWT.GenerateToken(context.Background(), userID, email, householdID, []string{"user"}, 24*time.Hour)
		require.NoError(t, err)
		assert.NotEmpty(t, token)

		// Validate token
		claims, err := env.JWT.ValidateToken(context.Background(), token)
		require.NoError(t, err)
		assert.Equal(t, userID, claims.UserID)
		assert.Equal(t, email, claims.Email)
		assert.Equal(t, householdID, claims.HouseholdID)
		assert.True(t, claims.ExpiresAt.After(time.Now()))
	})

	t.Run("Login Flow", func(t *testing.T) {
		email := fmt.Sprintf("login-%d@example.com", time.Now().UnixNano())
		password := "integration-pass-1"
		hashed, err := testDB.HashPassword(password)
		require.NoError(t, err)
		householdID := "household-login-1"
		userID := testDB.CreateTestUserWithContext(t, txCtx, email, hashed, householdID)

		body, _ := json.Marshal(helpers.CreateTestLoginRequest(email, password))
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		env.Router.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)

		var response map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, userID, response["user_id"])
		assert.Equal(t, householdID, response["household_id"])
		assert.NotEmpty(t, response["token"])

		// The issued token carries the household claim
		claims, err := env.JWT.ValidateToken(context.Background(), response["token"].(string))
		require.NoError(t, err)
		assert.Equal(t, householdID, claims.HouseholdID)
	})

	t.Run("Login Rejects Wrong Password", func(t *testing.T) {
		email := fmt.Sprintf("wrongpass-%d@example.com", time.Now().UnixNano())
		hashed, err := testDB.HashPassword("correct-pass-1")
		require.NoError(t, err)
		testDB.CreateTestUserWithContext(t, txCtx, email, hashed, "household-login-2")

		body, _ := json.Marshal(helpers.CreateTestLoginRequest(email, "wrong-pass-1"))
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		env.Router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("Protected Endpoint Access", func(t *testing.T) {
		token, err := env.JWT.GenerateToken(context.Background(), "user-inv", "inv@example.com", "household-inv-1", []string{"user"}, 24*time.Hour)
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/api/household/inventory", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		env.Router.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)

		var response map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, "household-inv-1", response["household_id"])
		assert.Equal(t, float64(0), response["item_count"])
	})

	t.Run("Authentication Required", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/household/inventory", nil)
		w := httptest.NewRecorder()
		env.Router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("Invalid Token Formats", func(t *testing.T) {
		testCases := []struct {
			name   string
			header string
		}{
			{"Missing Bearer prefix", "invalid-token"},
			{"Empty Bearer", "Bearer "},
			{"Invalid JWT format", "Bearer invalid.jwt.token"},
			{"Malformed header", "NotBearer token"},
		}

		for _, tc := range testCases {
			t.Run(tc.name, func(t *testing.T) {
				req := httptest.NewRequest(http.MethodGet, "/api/household/inventory", nil)
				req.Header.Set("Authorization", tc.header)
				w := httptest.NewRecorder()
				env.Router.ServeHTTP(w, req)

				assert.Equal(t, http.StatusUnauthorized, w.Code)
			})
		}
	})

	t.Run("Device Token Required for Captures", func(t *testing.T) {
		body, _ := json.Marshal(map[string]string{"image_base64": helpers.TestCaptureImageBase64()})

		// No token
		req := httptest.NewRequest(http.MethodPost, "/api/devices/fridge-cam-1/captures", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		env.Router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)

		// Wrong token
		req = httptest.NewRequest(http.MethodPost, "/api/devices/fridge-cam-1/captures", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(auth.DeviceTokenHeader, "not-the-token")
		w = httptest.NewRecorder()
		env.Router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)

		// A JWT is not accepted on the device route
		token, err := env.JWT.GenerateToken(context.Background(), "user-dev", "dev@example.com", "household-dev-1", []string{"user"}, 24*time.Hour)
		require.NoError(t, err)
		req = httptest.NewRequest(http.MethodPost, "/api/devices/fridge-cam-1/captures", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)
		w = httptest.NewRecorder()
		env.Router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestJWTManagerEdgeCases(t *testing.T) {
	t.Setenv("JWT_SECRET", "integration-test-secret")

	jwtManager, err := auth.NewJWTManager()
	require.NoError(t, err)

	t.Run("Empty User ID", func(t *testing.T) {
		token, err := jwtManager.GenerateToken(context.Background(), "", "test@example.com", "household-1", []string{}, 24*time.Hour)
		require.NoError(t, err)
		assert.NotEmpty(t, token)

		claims, err := jwtManager.ValidateToken(context.Background(), token)
		require.NoError(t, err)
		assert.Equal(t, "", claims.UserID)
	})

	t.Run("Special Characters in Claims", func(t *testing.T) {
		userID := "user-with-special-chars-!@#$%"
		email := "test+special@example-domain.co.uk"

		token, err := jwtManager.GenerateToken(context.Background(), userID, email, "household-1", []string{}, 24*time.Hour)
		require.NoError(t, err)
		assert.NotEmpty(t, token)

		claims, err := jwtManager.ValidateToken(context.Background(), token)
		require.NoError(t, err)
		assert.Equal(t, userID, claims.UserID)
		assert.Equal(t, email, claims.Email)
	})

	t.Run("Malformed Token Validation", func(t *testing.T) {
		malformedTokens := []string{
			"",
			"not.a.jwt",
			"header.payload", // Missing signature
			"too.many.parts.here.invalid",
			"invalid-base64.invalid-base64.invalid-base64",
		}

		for _, token := range malformedTokens {
			_, err := jwtManager.ValidateToken(context.Background(), token)
			assert.Error(t, err, "Should fail for token: %s", token)
		}
	})
}
