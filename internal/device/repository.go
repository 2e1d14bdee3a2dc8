package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines the interface for device persistence operations.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// GetByID retrieves a device by its unique identifier.
	// Returns ErrDeviceNotFound if the device does not exist.
	GetByID(ctx context.Context, id string) (*Device, error)

	// List retrieves all devices.
	List(ctx context.Context) ([]Device, error)

	// Create inserts a new device.
	// Returns ErrDeviceExists if a device with the same ID already exists.
	Create(ctx context.Context, dev *Device) error

	// Update modifies an existing device.
	// Returns ErrDeviceNotFound if the device does not exist.
	Update(ctx context.Context, dev *Device) error

	// Delete removes a device by ID.
	// Returns ErrDeviceNotFound if the device does not exist.
	Delete(ctx context.Context, id string) error

	// UpdateProperties merges the given property changes into the
	// device's stored properties. Keys not present in changes are
	// preserved. Optimised for frequent state changes from plugins.
	UpdateProperties(ctx context.Context, id string, changes Properties) error

	// UpdateOnline updates the availability flag and last seen timestamp.
	UpdateOnline(ctx context.Context, id string, online bool, lastSeen time.Time) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const deviceColumns = `id, name, room, manufacturer, model, firmware_version,
	type, plugin, capabilities, properties, online, last_seen, created_at, updated_at`

// GetByID retrieves a device by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE id = ?`

	row := r.db.QueryRowContext(ctx, query, id)
	dev, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by id: %w", err)
	}
	return dev, nil
}

// List retrieves all devices.
func (r *SQLiteRepository) List(ctx context.Context) ([]Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices ORDER BY name`
	return r.queryDevices(ctx, query)
}

// Create inserts a new device.
func (r *SQLiteRepository) Create(ctx context.Context, dev *Device) error {
	capsJSON, err := json.Marshal(dev.Capabilities)
	if err != nil {
		return fmt.Errorf("marshalling capabilities: %w", err)
	}

	propsJSON, err := json.Marshal(dev.Properties)
	if err != nil {
		return fmt.Errorf("marshalling properties: %w", err)
	}

	now := time.Now().UTC()
	if dev.CreatedAt.IsZero() {
		dev.CreatedAt = now
	}
	dev.UpdatedAt = now

	query := `
		INSERT INTO devices (
			id, name, room, manufacturer, model, firmware_version,
			type, plugin, capabilities, properties, online, last_seen,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, query,
		dev.ID,
		dev.Name,
		dev.Room,
		dev.Manufacturer,
		dev.Model,
		dev.FirmwareVersion,
		string(dev.Type),
		dev.Plugin,
		string(capsJSON),
		string(propsJSON),
		boolToInt(dev.Online),
		nullableTime(dev.LastSeen),
		dev.CreatedAt.Format(time.RFC3339),
		dev.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrDeviceExists
		}
		return fmt.Errorf("inserting device: %w", err)
	}

	return nil
}

// Update modifies an existing device.
func (r *SQLiteRepository) Update(ctx context.Context, dev *Device) error {
	capsJSON, err := json.Marshal(dev.Capabilities)
	if err != nil {
		return fmt.Errorf("marshalling capabilities: %w", err)
	}

	propsJSON, err := json.Marshal(dev.Properties)
	if err != nil {
		return fmt.Errorf("marshalling properties: %w", err)
	}

	dev.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE devices SET
			name = ?, room = ?, manufacturer = ?, model = ?, firmware_version = ?,
			type = ?, plugin = ?, capabilities = ?, properties = ?,
			online = ?, last_seen = ?, updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		dev.Name,
		dev.Room,
		dev.Manufacturer,
		dev.Model,
		dev.FirmwareVersion,
		string(dev.Type),
		dev.Plugin,
		string(capsJSON),
		string(propsJSON),
		boolToInt(dev.Online),
		nullableTime(dev.LastSeen),
		dev.UpdatedAt.Format(time.RFC3339),
		dev.ID,
	)
	if err != nil {
		return fmt.Errorf("updating device: %w", err)
	}

	return checkRowsAffected(result)
}

// Delete removes a device by ID.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM devices WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}
	return checkRowsAffected(result)
}

// UpdateProperties merges the given changes into the device's stored
// properties. Uses json_patch so keys absent from changes are preserved
// (e.g. updating "power" without losing "brightness").
func (r *SQLiteRepository) UpdateProperties(ctx context.Context, id string, changes Properties) error {
	changesJSON, err := json.Marshal(changes)
	if err != nil {
		return fmt.Errorf("marshalling properties: %w", err)
	}

	now := time.Now().UTC()
	query := `
		UPDATE devices
		SET properties = json_patch(COALESCE(properties, '{}'), ?),
		    last_seen = ?,
		    updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		string(changesJSON),
		now.Format(time.RFC3339),
		now.Format(time.RFC3339),
		id,
	)
	if err != nil {
		return fmt.Errorf("updating device properties: %w", err)
	}

	return checkRowsAffected(result)
}

// UpdateOnline updates the availability flag and last seen timestamp.
func (r *SQLiteRepository) UpdateOnline(ctx context.Context, id string, online bool, lastSeen time.Time) error {
	query := `
		UPDATE devices
		SET online = ?, last_seen = ?, updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		boolToInt(online),
		lastSeen.UTC().Format(time.RFC3339),
		time.Now().UTC().Format(time.RFC3339),
		id,
	)
	if err != nil {
		return fmt.Errorf("updating device availability: %w", err)
	}

	return checkRowsAffected(result)
}

// queryDevices executes a query and returns a slice of devices.
func (r *SQLiteRepository) queryDevices(ctx context.Context, query string, args ...any) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close() //nolint:errcheck // Read-only cursor

	var devices []Device
	for rows.Next() {
		dev, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *dev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}

	return devices, nil
}

// checkRowsAffected maps a zero-row write result to ErrDeviceNotFound.
func checkRowsAffected(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanDevice scans a row or rows result into a Device.
func scanDevice(scanner rowScanner) (*Device, error) {
	var d Device
	var capsJSON, propsJSON string
	var online int
	var lastSeen sql.NullString
	var deviceType string
	var createdAt, updatedAt string

	err := scanner.Scan(
		&d.ID,
		&d.Name,
		&d.Room,
		&d.Manufacturer,
		&d.Model,
		&d.FirmwareVersion,
		&deviceType,
		&d.Plugin,
		&capsJSON,
		&propsJSON,
		&online,
		&lastSeen,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	d.Type = DeviceType(deviceType)
	d.Online = online != 0

	if lastSeen.Valid {
		t, err := time.Parse(time.RFC3339, lastSeen.String)
		if err == nil {
			d.LastSeen = &t
		}
	}

	var parseErr error
	d.CreatedAt, parseErr = time.Parse(time.RFC3339, createdAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing created_at: %w", parseErr)
	}
	d.UpdatedAt, parseErr = time.Parse(time.RFC3339, updatedAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", parseErr)
	}

	if err := json.Unmarshal([]byte(capsJSON), &d.Capabilities); err != nil {
		return nil, fmt.Errorf("unmarshalling capabilities: %w", err)
	}

	if err := json.Unmarshal([]byte(propsJSON), &d.Properties); err != nil {
		return nil, fmt.Errorf("unmarshalling properties: %w", err)
	}

	return &d, nil
}

// nullableTime returns a sql.NullString for optional time pointers (as RFC3339 strings).
func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

// boolToInt converts a boolean to 0/1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueConstraintError checks if an error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "unique constraint")
}
