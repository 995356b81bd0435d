package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/Timothy-py/Candexa-ATS-Intelligence-system/internal/models"
)

// ErrConnectorNotFound is returned when a connector id resolves to nothing.
var ErrConnectorNotFound = errors.New("connector not found")

// CreateConnector inserts a new integration in the disconnected state.
func (s *Store) CreateConnector(ctx context.Context, name, subdomain, apiKey string) (models.Connector, error) {
	id := uuid.New().String()
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO connectors (id, name, subdomain, api_key, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
	`, id, name, subdomain, apiKey, models.ConnectorDisconnected, now)
	if err != nil {
		return models.Connector{}, fmt.Errorf("insert connector: %w", err)
	}
	return models.Connector{
		ID:        id,
		Name:      name,
		Subdomain: subdomain,
		APIKey:    apiKey,
		Status:    models.ConnectorDisconnected,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// GetConnector fetches a connector by id.
func (s *Store) GetConnector(ctx context.Context, id string) (models.Connector, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, subdomain, api_key, status, last_full_sync_at, last_delta_sync_at, created_at, updated_at
		FROM connectors WHERE id = $1
	`, id)

	var c models.Connector
	var lastFull, lastDelta pgtype.Timestamptz
	err := row.Scan(&c.ID, &c.Name, &c.Subdomain, &c.APIKey, &c.Status, &lastFull, &lastDelta, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Connector{}, ErrConnectorNotFound
	}
	if err != nil {
		return models.Connector{}, fmt.Errorf("scan connector: %w", err)
	}
	c.LastFullSyncAt = tsPtr(lastFull)
	c.LastDeltaSyncAt = tsPtr(lastDelta)
	return c, nil
}

// SetConnectorStatus updates only the status column.
func (s *Store) SetConnectorStatus(ctx context.Context, id, status string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE connectors SET status = $2, updated_at = NOW() WHERE id = $1
	`, id, status)
	return err
}

// MarkFullSync records a successful full sync. The delta cursor is cleared
// because a full import supersedes it.
func (s *Store) MarkFullSync(ctx context.Context, id string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE connectors
		SET status = $2, last_full_sync_at = $3, last_delta_sync_at = NULL, updated_at = NOW()
		WHERE id = $1
	`, id, models.ConnectorConnected, at)
	return err
}

// MarkDeltaSync records a successful delta sync.
func (s *Store) MarkDeltaSync(ctx context.Context, id string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE connectors
		SET status = $2, last_delta_sync_at = $3, updated_at = NOW()
		WHERE id = $1
	`, id, models.ConnectorConnected, at)
	return err
}
