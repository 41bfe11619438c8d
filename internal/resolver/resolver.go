// Package resolver matches songs scraped from an alternate service to
// canonical songs, using the reference service's search as the anchor.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kchartio/kchart/internal/domain"
	"github.com/kchartio/kchart/internal/logger"
	"github.com/kchartio/kchart/internal/normalize"
	"github.com/kchartio/kchart/internal/store"
	"github.com/kchartio/kchart/internal/vendors"
)

// attempt is one step of the search escalation.
type attempt struct {
	withArtists bool
	withAlbum   bool
}

// escalation is tried in order until one attempt matches.
var escalation = []attempt{
	{false, false},
	{true, false},
	{false, true},
	{true, true},
}

// Resolver finds or creates the canonical song for a raw chart row.
type Resolver struct {
	store   store.Catalog
	catalog ReferenceCatalog
	logger  *slog.Logger
}

// New creates a resolver.
func New(catalog store.Catalog, ref ReferenceCatalog, log *slog.Logger) *Resolver {
	return &Resolver{store: catalog, catalog: ref, logger: logger.OrDiscard(log)}
}

// artistState is a raw artist as it evolves across attempts.
type artistState struct {
	raw   vendor.RawArtist
	name  string // search name: reference name once mapped
	refID string // known reference ID, if any
	hits  []ArtistHit
}

// albumState is the raw album as it evolves across attempts.
type albumState struct {
	raw   vendor.RawRow
	name  string
	refID string
	hits  []AlbumHit
}

// resolution carries the state of one Resolve call.
type resolution struct {
	ref, alt *domain.Service
	row      vendor.RawRow
	artists  []*artistState
	album    *albumState
	searches *searchMemo
}

// Resolve returns the canonical song for row, which was scraped from alt.
// A row that cannot be matched returns (nil, nil); the caller logs and
// drops it. Errors are store or reference search failures.
func (r *Resolver) Resolve(ctx context.Context, ref, alt *domain.Service, row vendor.RawRow) (*domain.Song, error) {
	if m, err := r.store.GetServiceMapping(ctx, domain.EntitySong, alt.ID, row.SongID); err == nil {
		return r.store.GetSong(ctx, m.EntityID)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("lookup song mapping: %w", err)
	}

	res := &resolution{
		ref:      ref,
		alt:      alt,
		row:      row,
		album:    &albumState{raw: row, name: row.AlbumName},
		searches: newSearchMemo(r.catalog),
	}
	for _, a := range row.Artists {
		res.artists = append(res.artists, &artistState{raw: a, name: a.Name})
	}

	var hit *SongHit
	for _, step := range escalation {
		var err error
		if hit, err = r.match(ctx, res, step); err != nil {
			return nil, err
		}
		if hit != nil {
			break
		}
	}

	if hit == nil && res.dropParens() {
		r.logger.Debug("retrying match without artist parentheticals",
			"service", alt.Slug, "song", row.SongName)
		var err error
		if hit, err = r.match(ctx, res, attempt{true, true}); err != nil {
			return nil, err
		}
	}

	if hit == nil {
		r.logger.Warn("no match for song",
			"service", alt.Slug,
			"song", row.SongName,
			"song_id", row.SongID,
			"artists", res.artistNames(),
		)
		return nil, nil
	}

	song, err := r.EnsureReferenceSong(ctx, ref, *hit)
	if err != nil {
		return nil, err
	}
	if err := r.mapAlternate(ctx, res, song); err != nil {
		return nil, err
	}
	return song, nil
}

// match runs one escalation step. It returns nil when this step found
// nothing, including when any prerequisite search came back empty.
func (r *Resolver) match(ctx context.Context, res *resolution, step attempt) (*SongHit, error) {
	for _, a := range res.artists {
		known, err := r.knownArtist(ctx, res, a)
		if err != nil {
			return nil, err
		}
		if known {
			continue
		}
		hits, err := res.searches.artists(ctx, a.name)
		if err != nil {
			return nil, err
		}
		if len(hits) == 0 {
			return nil, nil
		}
		a.hits = hits
	}

	var artistNames []string
	if step.withArtists {
		artistNames = res.artistNames()
	}

	known, err := r.knownAlbum(ctx, res)
	if err != nil {
		return nil, err
	}
	if !known {
		hits, err := res.searches.albums(ctx, res.album.name, artistNames)
		if err != nil {
			return nil, err
		}
		if len(hits) == 0 {
			return nil, nil
		}
		res.album.hits = hits
	}

	q := SongQuery{Name: res.row.SongName, ArtistNames: artistNames}
	if step.withAlbum {
		q.AlbumName = res.album.name
	}
	candidates, err := res.searches.songs(ctx, q)
	if err != nil {
		return nil, err
	}

	instrumental := normalize.IsInstrumental(res.row.SongName)
	for i := range candidates {
		c := &candidates[i]
		if normalize.IsInstrumental(c.Name) != instrumental {
			continue
		}
		if res.album.refID != "" {
			if c.AlbumID == res.album.refID {
				return c, nil
			}
			continue
		}
		for _, album := range res.album.hits {
			if c.AlbumID != album.ID {
				continue
			}
			matched := compareArtistSets(c.ArtistIDs(), res.artistSlots())
			if matched == nil {
				continue
			}
			res.album.refID = album.ID
			res.recordArtistIDs(matched)
			return c, nil
		}
	}
	return nil, nil
}

// knownArtist substitutes the reference name and ID when the alternate
// artist is already mapped.
func (r *Resolver) knownArtist(ctx context.Context, res *resolution, a *artistState) (bool, error) {
	if a.refID != "" {
		return true, nil
	}
	entityID, refID, err := r.crossMapping(ctx, domain.EntityArtist, res.alt.ID, res.ref.ID, a.raw.LocalID)
	if err != nil || entityID == "" {
		return false, err
	}
	artist, err := r.store.GetArtist(ctx, entityID)
	if err != nil {
		return false, fmt.Errorf("get mapped artist: %w", err)
	}
	a.name = artist.Name
	a.refID = refID
	return true, nil
}

// knownAlbum is knownArtist for the row's album.
func (r *Resolver) knownAlbum(ctx context.Context, res *resolution) (bool, error) {
	if res.album.refID != "" {
		return true, nil
	}
	entityID, refID, err := r.crossMapping(ctx, domain.EntityAlbum, res.alt.ID, res.ref.ID, res.row.AlbumID)
	if err != nil || entityID == "" {
		return false, err
	}
	album, err := r.store.GetAlbum(ctx, entityID)
	if err != nil {
		return false, fmt.Errorf("get mapped album: %w", err)
	}
	res.album.name = album.Name
	res.album.refID = refID
	return true, nil
}

// crossMapping follows alt local ID -> canonical entity -> reference local
// ID. Empty results mean either hop is missing.
func (r *Resolver) crossMapping(ctx context.Context, kind domain.EntityKind, altID, refID, localID string) (entityID, refLocalID string, err error) {
	m, err := r.store.GetServiceMapping(ctx, kind, altID, localID)
	if errors.Is(err, store.ErrNotFound) {
		return "", "", nil
	}
	if err != nil {
		return "", "", fmt.Errorf("lookup %s mapping: %w", kind, err)
	}
	rm, err := r.store.GetServiceMappingByEntity(ctx, kind, refID, m.EntityID)
	if errors.Is(err, store.ErrNotFound) {
		return "", "", nil
	}
	if err != nil {
		return "", "", fmt.Errorf("lookup reference %s mapping: %w", kind, err)
	}
	return m.EntityID, rm.LocalID, nil
}

// mapAlternate records the alternate service's IDs for the matched song,
// its album and every artist whose reference ID is known. Existing
// mappings are left alone.
func (r *Resolver) mapAlternate(ctx context.Context, res *resolution, song *domain.Song) error {
	mappings := []*domain.ServiceMapping{
		{Kind: domain.EntitySong, ServiceID: res.alt.ID, EntityID: song.ID, LocalID: res.row.SongID},
		{Kind: domain.EntityAlbum, ServiceID: res.alt.ID, EntityID: song.AlbumID, LocalID: res.row.AlbumID},
	}
	for _, a := range res.artists {
		if a.refID == "" {
			continue
		}
		rm, err := r.store.GetServiceMapping(ctx, domain.EntityArtist, res.ref.ID, a.refID)
		if err != nil {
			return fmt.Errorf("lookup reference artist %s: %w", a.refID, err)
		}
		mappings = append(mappings, &domain.ServiceMapping{
			Kind: domain.EntityArtist, ServiceID: res.alt.ID, EntityID: rm.EntityID, LocalID: a.raw.LocalID,
		})
	}

	for _, m := range mappings {
		err := r.store.CreateServiceMapping(ctx, m)
		if errors.Is(err, store.ErrAlreadyExists) {
			r.logger.Debug("service mapping already present",
				"kind", m.Kind, "service", res.alt.Slug, "local_id", m.LocalID)
			continue
		}
		if err != nil {
			return fmt.Errorf("map %s %s: %w", m.Kind, m.LocalID, err)
		}
	}
	return nil
}

// dropParens strips a trailing parenthetical from every artist name that
// has one. It reports whether anything changed.
func (res *resolution) dropParens() bool {
	changed := false
	for _, a := range res.artists {
		if name, ok := normalize.DropParens(a.name); ok {
			a.name = strings.TrimSpace(name)
			a.hits = nil
			changed = true
		}
	}
	return changed
}

func (res *resolution) artistNames() []string {
	names := make([]string, len(res.artists))
	for i, a := range res.artists {
		names[i] = a.name
	}
	return names
}

// artistSlots returns one candidate ID set per raw artist.
func (res *resolution) artistSlots() []map[string]struct{} {
	slots := make([]map[string]struct{}, len(res.artists))
	for i, a := range res.artists {
		slot := make(map[string]struct{})
		if a.refID != "" {
			slot[a.refID] = struct{}{}
		} else {
			for _, h := range a.hits {
				slot[h.ID] = struct{}{}
			}
		}
		slots[i] = slot
	}
	return slots
}

// recordArtistIDs assigns each matched reference ID to the first unmapped
// artist whose search results contain it.
func (res *resolution) recordArtistIDs(ids []string) {
	for _, id := range ids {
		for _, a := range res.artists {
			if a.refID != "" {
				continue
			}
			if containsArtist(a.hits, id) {
				a.refID = id
				break
			}
		}
	}
}

func containsArtist(hits []ArtistHit, id string) bool {
	for _, h := range hits {
		if h.ID == id {
			return true
		}
	}
	return false
}
