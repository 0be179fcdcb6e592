// Package repository persists audit events in SQLite.
package repository

import (
	"context"
	"fmt"
	"io/fs"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/mirthy/kubernetes-aad-dashboard-proxy/internal/models"
)

// SQLiteRepository implements the audit event store using SQLite.
type SQLiteRepository struct {
	db *sqlx.DB
}

// NewSQLiteRepository opens (or creates) the audit database.
func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	db, err := sqlx.Connect("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SQLite: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

// Close closes the database connection.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

// RunMigrations applies every *.sql file in the given filesystem, in name order.
func (r *SQLiteRepository) RunMigrations(migrationsFS fs.FS) error {
	entries, err := fs.Glob(migrationsFS, "*.sql")
	if err != nil {
		return fmt.Errorf("failed to list migrations: %w", err)
	}
	for _, name := range entries {
		sqlBytes, err := fs.ReadFile(migrationsFS, name)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", name, err)
		}
		if _, err := r.db.Exec(string(sqlBytes)); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", name, err)
		}
	}
	return nil
}

// CreateAuthEvent appends one audit event.
func (r *SQLiteRepository) CreateAuthEvent(ctx context.Context, e *models.AuthEvent) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	query := `
		INSERT INTO auth_events (id, subject_id, principal, event_type, ip_address, path, verb, timestamp, details)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		e.ID, e.SubjectID, e.Principal, e.EventType, e.IPAddress, e.Path, e.Verb, e.Timestamp, e.Details)
	if err != nil {
		return fmt.Errorf("failed to create auth event: %w", err)
	}
	return nil
}

// ListAuthEvents returns the most recent events, newest first.
func (r *SQLiteRepository) ListAuthEvents(ctx context.Context, limit int) ([]*models.AuthEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, subject_id, principal, event_type, ip_address, path, verb, timestamp, details
		FROM auth_events ORDER BY timestamp DESC LIMIT ?
	`
	var events []*models.AuthEvent
	if err := r.db.SelectContext(ctx, &events, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list auth events: %w", err)
	}
	return events, nil
}
