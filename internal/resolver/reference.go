package resolver

import (
	"context"
	"errors"
	"fmt"

	"github.com/kchartio/kchart/internal/domain"
	"github.com/kchartio/kchart/internal/store"
)

// EnsureReferenceSong returns the canonical song for a reference search
// hit, creating its artists, album and the song itself with reference
// mappings when they are new. Reference chart rows go straight through
// here without any searching.
func (r *Resolver) EnsureReferenceSong(ctx context.Context, ref *domain.Service, hit SongHit) (*domain.Song, error) {
	if m, err := r.store.GetServiceMapping(ctx, domain.EntitySong, ref.ID, hit.ID); err == nil {
		return r.store.GetSong(ctx, m.EntityID)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("lookup reference song: %w", err)
	}

	artistIDs := make([]string, 0, len(hit.Artists))
	for _, a := range hit.Artists {
		artistID, err := r.ensure(ctx, ref, domain.EntityArtist, a.ID, func() (string, error) {
			artist := &domain.Artist{Name: a.Name}
			if err := r.store.CreateArtist(ctx, artist); err != nil {
				return "", fmt.Errorf("create artist %q: %w", a.Name, err)
			}
			return artist.ID, nil
		})
		if err != nil {
			return nil, err
		}
		artistIDs = append(artistIDs, artistID)
	}

	albumID, err := r.ensure(ctx, ref, domain.EntityAlbum, hit.AlbumID, func() (string, error) {
		album := &domain.Album{Name: hit.AlbumName, ReleaseDate: hit.ReleaseDate, ArtistIDs: artistIDs}
		if err := r.store.CreateAlbum(ctx, album); err != nil {
			return "", fmt.Errorf("create album %q: %w", hit.AlbumName, err)
		}
		return album.ID, nil
	})
	if err != nil {
		return nil, err
	}

	songID, err := r.ensure(ctx, ref, domain.EntitySong, hit.ID, func() (string, error) {
		song := &domain.Song{
			Name:        hit.Name,
			ReleaseDate: hit.ReleaseDate,
			AlbumID:     albumID,
			ArtistIDs:   artistIDs,
		}
		if err := r.store.CreateSong(ctx, song); err != nil {
			return "", fmt.Errorf("create song %q: %w", hit.Name, err)
		}
		r.logger.Info("new song",
			"song_id", song.ID, "name", song.Name, "reference_id", hit.ID)
		return song.ID, nil
	})
	if err != nil {
		return nil, err
	}
	return r.store.GetSong(ctx, songID)
}

// ensure returns the entity mapped to the reference local ID, creating it
// with create when unmapped. A concurrent creator winning the mapping race
// leaves our row orphaned and we adopt theirs.
func (r *Resolver) ensure(ctx context.Context, ref *domain.Service, kind domain.EntityKind, localID string, create func() (string, error)) (string, error) {
	m, err := r.store.GetServiceMapping(ctx, kind, ref.ID, localID)
	if err == nil {
		return m.EntityID, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("lookup reference %s %s: %w", kind, localID, err)
	}

	entityID, err := create()
	if err != nil {
		return "", err
	}
	err = r.store.CreateServiceMapping(ctx, &domain.ServiceMapping{
		Kind: kind, ServiceID: ref.ID, EntityID: entityID, LocalID: localID,
	})
	if errors.Is(err, store.ErrAlreadyExists) {
		m, err := r.store.GetServiceMapping(ctx, kind, ref.ID, localID)
		if err != nil {
			return "", fmt.Errorf("reread reference %s %s: %w", kind, localID, err)
		}
		r.logger.Warn("lost reference mapping race",
			"kind", kind, "local_id", localID, "orphan", entityID)
		return m.EntityID, nil
	}
	if err != nil {
		return "", fmt.Errorf("map reference %s %s: %w", kind, localID, err)
	}
	return entityID, nil
}
