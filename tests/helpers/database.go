package helpers

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"
)

// GetTestDatabasePool creates a database connection pool for testing
func GetTestDatabasePool(ctx context.Context) (*pgxpool.Pool, error) {
	return GetTestDatabasePoolWithURL(ctx, buildDatabaseURL())
}

// GetTestDatabasePoolWithURL creates a pool against an explicit database URL
// (used when the integration suite resolves infrastructure itself)
func GetTestDatabasePoolWithURL(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test the connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}

// buildDatabaseURL constructs the database URL from environment variables
func buildDatabaseURL() string {
	host := os.Getenv("POSTGRES_HOST")
	if host == "" {
		host = "assistant-core-db-rw.smart-home.svc"
	}

	port := os.Getenv("POSTGRES_PORT")
	if port == "" {
		port = "5432"
	}

	user := os.Getenv("POSTGRES_USER")
	if user == "" {
		user = "postgres"
	}

	password := os.Getenv("POSTGRES_PASSWORD")
	if password == "" {
		password = "postgres"
	}

	dbname := os.Getenv("POSTGRES_DB")
	if dbname == "" {
		dbname = "assistant_core"
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=prefer",
		user, password, host, port, dbname)
}

// TestDatabase provides database utilities for testing
type TestDatabase struct {
	Pool *pgxpool.Pool
	ctx  context.Context
}

// NewTestDatabase creates a new test database instance
func NewTestDatabase(t *testing.T) *TestDatabase {
	ctx := context.Background()

	pool, err := GetTestDatabasePool(ctx)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	return &TestDatabase{
		Pool: pool,
		ctx:  ctx,
	}
}

// NewTestDatabaseWithURL creates a test database instance against the URL the
// caller resolved (e.g. from the in-cluster configuration)
func NewTestDatabaseWithURL(t *testing.T, databaseURL string) *TestDatabase {
	ctx := context.Background()

	pool, err := GetTestDatabasePoolWithURL(ctx, databaseURL)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	return &TestDatabase{
		Pool: pool,
		ctx:  ctx,
	}
}

// Close closes the database connection
func (db *TestDatabase) Close() {
	if db.Pool != nil {
		db.Pool.Close()
	}
}

// BeginTransaction starts a new transaction for test isolation
// Tests should use transaction rollback instead of deleting data
func (db *TestDatabase) BeginTransaction(t *testing.T) (context.Context, func()) {
	tx, err := db.Pool.Begin(db.ctx)
	if err != nil {
		t.Fatalf("Failed to begin transaction: %v", err)
	}

	// Create a context with the transaction
	txCtx := context.WithValue(db.ctx, "tx", tx)

	// Return rollback function
	rollback := func() {
		if err := tx.Rollback(db.ctx); err != nil {
			t.Logf("Warning: Failed to rollback transaction: %v", err)
		}
	}

	return txCtx, rollback
}

// CreateTestUser creates a test user and returns the user ID
func (db *TestDatabase) CreateTestUser(t *testing.T, email, hashedPassword, householdID string) string {
	return db.CreateTestUserWithContext(t, db.ctx, email, hashedPassword, householdID)
}

// CreateTestUserWithContext creates a test user with a specific context (for transactions)
func (db *TestDatabase) CreateTestUserWithContext(t *testing.T, ctx context.Context, email, hashedPassword, householdID string) string {
	var userID string

	err := db.Pool.QueryRow(ctx, `
		INSERT INTO users (name, email, hashed_password, household_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		RETURNING id
	`, "Test User", email, hashedPassword, householdID).Scan(&userID)

	if err != nil {
		t.Fatalf("Failed to create test user: %v", err)
	}

	return userID
}

// CreateTestDevice registers a camera device row and returns its device ID
func (db *TestDatabase) CreateTestDevice(t *testing.T, ctx context.Context, deviceID, householdID string, windowSeconds int) string {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO devices (device_id, household_id, window_seconds, registered_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (device_id) DO UPDATE
		SET household_id = EXCLUDED.household_id, window_seconds = EXCLUDED.window_seconds
	`, deviceID, householdID, windowSeconds)

	if err != nil {
		t.Fatalf("Failed to create test device: %v", err)
	}

	return deviceID
}

// GetNotificationCount returns the number of stored notifications for a household
func (db *TestDatabase) GetNotificationCount(t *testing.T, householdID string) int {
	var count int
	err := db.Pool.QueryRow(db.ctx, "SELECT COUNT(*) FROM notifications WHERE household_id = $1", householdID).Scan(&count)
	if err != nil {
		t.Fatalf("Failed to get notification count: %v", err)
	}
	return count
}

// GetUserCount returns the number of users in the database
func (db *TestDatabase) GetUserCount(t *testing.T) int {
	var count int
	err := db.Pool.QueryRow(db.ctx, "SELECT COUNT(*) FROM users").Scan(&count)
	if err != nil {
		t.Fatalf("Failed to get user count: %v", err)
	}
	return count
}

// HashPassword hashes a password using bcrypt for testing
func (db *TestDatabase) HashPassword(password string) (string, error) {
	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashedBytes), nil
}

// WaitForDatabase waits for database to be ready
func WaitForDatabase(ctx context.Context, maxAttempts int) error {
	for i := 0; i < maxAttempts; i++ {
		pool, err := GetTestDatabasePool(ctx)
		if err == nil {
			pool.Close()
			return nil
		}

		if i < maxAttempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}
	}

	return fmt.Errorf("database not ready after %d attempts", maxAttempts)
}
