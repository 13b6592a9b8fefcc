package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var ErrAlbumNotFound = errors.New("album not found")

type AlbumRepository struct {
	db *sql.DB
}

func NewAlbumRepository(database *sql.DB) *AlbumRepository {
	return &AlbumRepository{db: database}
}

func (r *AlbumRepository) GetByID(ctx context.Context, id string) (Album, error) {
	var album Album
	err := r.db.QueryRowContext(
		ctx,
		"SELECT id, name, artist_id FROM albums WHERE id = ?",
		id,
	).Scan(&album.ID, &album.Name, &album.ArtistID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Album{}, ErrAlbumNotFound
		}
		return Album{}, fmt.Errorf("get album %s: %w", id, err)
	}

	return album, nil
}

// GetOrCreate looks an album up by its (artist, name) natural key. The second
// return value reports whether a new row was created.
func (r *AlbumRepository) GetOrCreate(ctx context.Context, artistID string, name string) (Album, bool, error) {
	var album Album
	err := r.db.QueryRowContext(
		ctx,
		"SELECT id, name, artist_id FROM albums WHERE artist_id = ? AND name = ?",
		artistID,
		name,
	).Scan(&album.ID, &album.Name, &album.ArtistID)
	if err == nil {
		return album, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Album{}, false, fmt.Errorf("get album %q of artist %s: %w", name, artistID, err)
	}

	album = Album{ID: uuid.NewString(), Name: name, ArtistID: artistID}
	if _, err := r.db.ExecContext(
		ctx,
		"INSERT INTO albums(id, name, artist_id) VALUES (?, ?, ?)",
		album.ID,
		album.Name,
		album.ArtistID,
	); err != nil {
		return Album{}, false, fmt.Errorf("insert album %q: %w", name, err)
	}

	return album, true, nil
}

// Prune deletes albums that have no tracks left.
func (r *AlbumRepository) Prune(ctx context.Context) (int, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM albums
		WHERE NOT EXISTS (SELECT 1 FROM tracks WHERE tracks.album_id = albums.id)
	`)
	if err != nil {
		return 0, fmt.Errorf("prune albums: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("read pruned album count: %w", err)
	}

	return int(deleted), nil
}
