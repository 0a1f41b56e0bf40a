// Package postgres holds the persistence layer: the device registry backing
// the ingestion boundary and the notification history.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("not found")

// Device is a registered ingestion device.
type Device struct {
	DeviceID      string    `json:"device_id"`
	HouseholdID   string    `json:"household_id"`
	WindowSeconds int       `json:"window_seconds"`
	RegisteredAt  time.Time `json:"registered_at"`
}

// NotificationRecord is one delivered (or attempted) notification.
type NotificationRecord struct {
	ID          uuid.UUID `json:"id"`
	HouseholdID string    `json:"household_id"`
	Kind        string    `json:"kind"`
	Title       string    `json:"title"`
	Message     string    `json:"message"`
	Severity    string    `json:"severity"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store wraps the connection pool for device and notification persistence.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new store over an existing pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// RegisterDevice upserts a device registration. Re-registering an existing
// device updates its household and window.
func (s *Store) RegisterDevice(ctx context.Context, deviceID, householdID string, windowSeconds int) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO devices (device_id, household_id, window_seconds)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (device_id)
		 DO UPDATE SET household_id = $2, window_seconds = $3`,
		deviceID, householdID, windowSeconds,
	)
	if err != nil {
		return fmt.Errorf("failed to register device: %w", err)
	}
	return nil
}

// DeregisterDevice removes a device registration.
func (s *Store) DeregisterDevice(ctx context.Context, deviceID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM devices WHERE device_id = $1`,
		deviceID,
	)
	if err != nil {
		return fmt.Errorf("failed to deregister device: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetDevice looks up a device registration.
func (s *Store) GetDevice(ctx context.Context, deviceID string) (Device, error) {
	var d Device
	err := s.pool.QueryRow(ctx,
		`SELECT device_id, household_id, window_seconds, registered_at
		 FROM devices WHERE device_id = $1`,
		deviceID,
	).Scan(&d.DeviceID, &d.HouseholdID, &d.WindowSeconds, &d.RegisteredAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Device{}, ErrNotFound
	}
	if err != nil {
		return Device{}, fmt.Errorf("failed to get device: %w", err)
	}
	return d, nil
}

// ListDevices returns every registered device, most recent first.
func (s *Store) ListDevices(ctx context.Context) ([]Device, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT device_id, household_id, window_seconds, registered_at
		FROM devices
		ORDER BY registered_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		var d Device
		if err := rows.Scan(&d.DeviceID, &d.HouseholdID, &d.WindowSeconds, &d.RegisteredAt); err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// SaveNotification appends one notification to the household's history.
func (s *Store) SaveNotification(ctx context.Context, n NotificationRecord) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.pool.QueryRow(ctx,
		`INSERT INTO notifications (household_id, kind, title, message, severity)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id`,
		n.HouseholdID, n.Kind, n.Title, n.Message, n.Severity,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to save notification: %w", err)
	}
	return id, nil
}

// RecentNotifications returns a household's newest notifications.
func (s *Store) RecentNotifications(ctx context.Context, householdID string, limit int) ([]NotificationRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, household_id, kind, title, message, severity, created_at
		FROM notifications
		WHERE household_id = $1
		ORDER BY created_at DESC
		LIMIT $2`,
		householdID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	var records []NotificationRecord
	for rows.Next() {
		var r NotificationRecord
		if err := rows.Scan(&r.ID, &r.HouseholdID, &r.Kind, &r.Title, &r.Message, &r.Severity, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
