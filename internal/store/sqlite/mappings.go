package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kchartio/kchart/internal/domain"
	"github.com/kchartio/kchart/internal/store"
)

// mappingTable returns the table and entity column for a kind.
func mappingTable(kind domain.EntityKind) (table, column string, err error) {
	switch kind {
	case domain.EntityArtist:
		return "service_artists", "artist_id", nil
	case domain.EntityAlbum:
		return "service_albums", "album_id", nil
	case domain.EntitySong:
		return "service_songs", "song_id", nil
	default:
		return "", "", store.ErrInvalidInput.WithCause(fmt.Errorf("unknown entity kind %q", kind))
	}
}

func (s *Store) getMapping(ctx context.Context, kind domain.EntityKind, serviceID, where, value string) (*domain.ServiceMapping, error) {
	table, column, err := mappingTable(kind)
	if err != nil {
		return nil, err
	}
	m := domain.ServiceMapping{Kind: kind}
	err = s.db.QueryRowContext(ctx,
		`SELECT service_id, `+column+`, local_id FROM `+table+` WHERE service_id = ? AND `+where+` = ?`,
		serviceID, value,
	).Scan(&m.ServiceID, &m.EntityID, &m.LocalID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	return &m, nil
}

// GetServiceMapping looks a mapping up by the service-local ID.
func (s *Store) GetServiceMapping(ctx context.Context, kind domain.EntityKind, serviceID, localID string) (*domain.ServiceMapping, error) {
	return s.getMapping(ctx, kind, serviceID, "local_id", localID)
}

// GetServiceMappingByEntity looks a mapping up by the canonical entity.
func (s *Store) GetServiceMappingByEntity(ctx context.Context, kind domain.EntityKind, serviceID, entityID string) (*domain.ServiceMapping, error) {
	_, column, err := mappingTable(kind)
	if err != nil {
		return nil, err
	}
	return s.getMapping(ctx, kind, serviceID, column, entityID)
}

// CreateServiceMapping inserts a mapping. Either uniqueness direction
// colliding yields store.ErrAlreadyExists, which callers treat as "someone
// else mapped it first".
func (s *Store) CreateServiceMapping(ctx context.Context, m *domain.ServiceMapping) error {
	table, column, err := mappingTable(m.Kind)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO `+table+` (service_id, `+column+`, local_id) VALUES (?, ?, ?)`,
		m.ServiceID, m.EntityID, m.LocalID)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrAlreadyExists
		}
		return fmt.Errorf("insert %s: %w", table, err)
	}
	return nil
}

// ListServiceMappingsForEntity returns every service's ID for one entity.
func (s *Store) ListServiceMappingsForEntity(ctx context.Context, kind domain.EntityKind, entityID string) ([]*domain.ServiceMapping, error) {
	table, column, err := mappingTable(kind)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT m.service_id, m.`+column+`, m.local_id FROM `+table+` m
		 JOIN services sv ON sv.id = m.service_id
		 WHERE m.`+column+` = ? ORDER BY sv.is_reference DESC, sv.slug`, entityID)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	var out []*domain.ServiceMapping
	for rows.Next() {
		m := &domain.ServiceMapping{Kind: kind}
		if err := rows.Scan(&m.ServiceID, &m.EntityID, &m.LocalID); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
