package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kchartio/kchart/internal/domain"
	"github.com/kchartio/kchart/internal/id"
	"github.com/kchartio/kchart/internal/store"
)

const dateLayout = "2006-01-02"

func nullDate(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(dateLayout), Valid: true}
}

func parseNullableDate(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// stamp fills in the ID and timestamps of a new catalog row.
func stamp(idField *string, prefix string, created, updated *time.Time) {
	if *idField == "" {
		*idField = id.MustGenerate(prefix)
	}
	now := time.Now().UTC()
	if created.IsZero() {
		*created = now
	}
	if updated.IsZero() {
		*updated = *created
	}
}

// --- artists ---

const artistColumns = `id, name, debut_date, created_at, updated_at`

func scanArtist(scanner interface{ Scan(dest ...any) error }) (*domain.Artist, error) {
	var (
		a         domain.Artist
		debut     sql.NullString
		createdAt string
		updatedAt string
	)
	if err := scanner.Scan(&a.ID, &a.Name, &debut, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	var err error
	if a.DebutDate, err = parseNullableDate(debut); err != nil {
		return nil, err
	}
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if a.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

// CreateArtist inserts a canonical artist, assigning an ID when empty.
func (s *Store) CreateArtist(ctx context.Context, a *domain.Artist) error {
	stamp(&a.ID, id.PrefixArtist, &a.CreatedAt, &a.UpdatedAt)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO artists (`+artistColumns+`) VALUES (?, ?, ?, ?, ?)`,
		a.ID, a.Name, nullDate(a.DebutDate), formatTime(a.CreatedAt), formatTime(a.UpdatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrAlreadyExists
		}
		return fmt.Errorf("insert artist: %w", err)
	}
	if err := s.indexer().IndexArtist(ctx, a); err != nil {
		s.logger.Warn("failed to index artist", "artist_id", a.ID, "error", err)
	}
	return nil
}

// GetArtist returns store.ErrNotFound for unknown IDs.
func (s *Store) GetArtist(ctx context.Context, artistID string) (*domain.Artist, error) {
	a, err := scanArtist(s.db.QueryRowContext(ctx,
		`SELECT `+artistColumns+` FROM artists WHERE id = ?`, artistID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	return a, err
}

// GetArtistsByIDs returns the artists found, in the order requested.
func (s *Store) GetArtistsByIDs(ctx context.Context, ids []string) ([]*domain.Artist, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+artistColumns+` FROM artists WHERE id IN (`+placeholders(len(ids))+`)`,
		stringArgs(ids)...)
	if err != nil {
		return nil, fmt.Errorf("query artists: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]*domain.Artist, len(ids))
	for rows.Next() {
		a, err := scanArtist(rows)
		if err != nil {
			return nil, err
		}
		byID[a.ID] = a
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*domain.Artist, 0, len(byID))
	for _, artistID := range ids {
		if a, ok := byID[artistID]; ok {
			out = append(out, a)
		}
	}
	return out, nil
}

// --- albums ---

const albumColumns = `id, name, release_date, created_at, updated_at`

func scanAlbum(scanner interface{ Scan(dest ...any) error }) (*domain.Album, error) {
	var (
		a         domain.Album
		release   sql.NullString
		createdAt string
		updatedAt string
	)
	if err := scanner.Scan(&a.ID, &a.Name, &release, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	var err error
	if a.ReleaseDate, err = parseNullableDate(release); err != nil {
		return nil, err
	}
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if a.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

// CreateAlbum inserts an album and its artist credits in one transaction.
func (s *Store) CreateAlbum(ctx context.Context, a *domain.Album) error {
	stamp(&a.ID, id.PrefixAlbum, &a.CreatedAt, &a.UpdatedAt)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO albums (`+albumColumns+`) VALUES (?, ?, ?, ?, ?)`,
		a.ID, a.Name, nullDate(a.ReleaseDate), formatTime(a.CreatedAt), formatTime(a.UpdatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrAlreadyExists
		}
		return fmt.Errorf("insert album: %w", err)
	}
	for i, artistID := range a.ArtistIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO album_artists (album_id, artist_id, ordinal) VALUES (?, ?, ?)`,
			a.ID, artistID, i); err != nil {
			return fmt.Errorf("insert album artist: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	if err := s.indexer().IndexAlbum(ctx, a); err != nil {
		s.logger.Warn("failed to index album", "album_id", a.ID, "error", err)
	}
	return nil
}

// GetAlbum returns the album with its artist IDs.
func (s *Store) GetAlbum(ctx context.Context, albumID string) (*domain.Album, error) {
	a, err := scanAlbum(s.db.QueryRowContext(ctx,
		`SELECT `+albumColumns+` FROM albums WHERE id = ?`, albumID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a.ArtistIDs, err = s.creditedArtists(ctx, `SELECT artist_id FROM album_artists WHERE album_id = ? ORDER BY ordinal`, a.ID)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// --- songs ---

const songColumns = `id, name, release_date, album_id, created_at, updated_at`

func scanSong(scanner interface{ Scan(dest ...any) error }) (*domain.Song, error) {
	var (
		song      domain.Song
		release   sql.NullString
		createdAt string
		updatedAt string
	)
	if err := scanner.Scan(&song.ID, &song.Name, &release, &song.AlbumID, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	var err error
	if song.ReleaseDate, err = parseNullableDate(release); err != nil {
		return nil, err
	}
	if song.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if song.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &song, nil
}

// CreateSong inserts a song and its artist credits. The album must exist.
func (s *Store) CreateSong(ctx context.Context, song *domain.Song) error {
	stamp(&song.ID, id.PrefixSong, &song.CreatedAt, &song.UpdatedAt)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO songs (`+songColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		song.ID, song.Name, nullDate(song.ReleaseDate), song.AlbumID,
		formatTime(song.CreatedAt), formatTime(song.UpdatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrAlreadyExists
		}
		return fmt.Errorf("insert song: %w", err)
	}
	for i, artistID := range song.ArtistIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO song_artists (song_id, artist_id, ordinal) VALUES (?, ?, ?)`,
			song.ID, artistID, i); err != nil {
			return fmt.Errorf("insert song artist: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	if err := s.indexer().IndexSong(ctx, song); err != nil {
		s.logger.Warn("failed to index song", "song_id", song.ID, "error", err)
	}
	return nil
}

// GetSong returns the song with its artist IDs.
func (s *Store) GetSong(ctx context.Context, songID string) (*domain.Song, error) {
	song, err := scanSong(s.db.QueryRowContext(ctx,
		`SELECT `+songColumns+` FROM songs WHERE id = ?`, songID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	song.ArtistIDs, err = s.creditedArtists(ctx, `SELECT artist_id FROM song_artists WHERE song_id = ? ORDER BY ordinal`, song.ID)
	if err != nil {
		return nil, err
	}
	return song, nil
}

// ListSongs pages through the catalog in creation order.
func (s *Store) ListSongs(ctx context.Context, offset, limit int) ([]*domain.Song, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+songColumns+` FROM songs ORDER BY created_at, id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query songs: %w", err)
	}
	defer rows.Close()

	var songs []*domain.Song
	for rows.Next() {
		song, err := scanSong(rows)
		if err != nil {
			return nil, err
		}
		songs = append(songs, song)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, song := range songs {
		song.ArtistIDs, err = s.creditedArtists(ctx, `SELECT artist_id FROM song_artists WHERE song_id = ? ORDER BY ordinal`, song.ID)
		if err != nil {
			return nil, err
		}
	}
	return songs, nil
}

// GetSongDetails loads songs with their albums and artists, keyed by song ID.
// Missing IDs are absent from the result.
func (s *Store) GetSongDetails(ctx context.Context, ids []string) (map[string]*domain.SongDetail, error) {
	out := make(map[string]*domain.SongDetail, len(ids))
	albums := make(map[string]*domain.Album)
	artists := make(map[string]*domain.Artist)

	for _, songID := range ids {
		if _, seen := out[songID]; seen {
			continue
		}
		song, err := s.GetSong(ctx, songID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}

		album, ok := albums[song.AlbumID]
		if !ok {
			album, err = s.GetAlbum(ctx, song.AlbumID)
			if err != nil {
				return nil, fmt.Errorf("album of song %s: %w", song.ID, err)
			}
			albums[album.ID] = album
		}

		var missing []string
		for _, artistID := range song.ArtistIDs {
			if _, ok := artists[artistID]; !ok {
				missing = append(missing, artistID)
			}
		}
		loaded, err := s.GetArtistsByIDs(ctx, missing)
		if err != nil {
			return nil, err
		}
		for _, a := range loaded {
			artists[a.ID] = a
		}

		detail := &domain.SongDetail{Song: *song, Album: album}
		for _, artistID := range song.ArtistIDs {
			if a, ok := artists[artistID]; ok {
				detail.Artists = append(detail.Artists, a)
			}
		}
		out[songID] = detail
	}
	return out, nil
}

func (s *Store) creditedArtists(ctx context.Context, query, ownerID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query credits: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var artistID string
		if err := rows.Scan(&artistID); err != nil {
			return nil, err
		}
		ids = append(ids, artistID)
	}
	return ids, rows.Err()
}
