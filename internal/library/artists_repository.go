package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var ErrArtistNotFound = errors.New("artist not found")

type ArtistRepository struct {
	db *sql.DB
}

func NewArtistRepository(database *sql.DB) *ArtistRepository {
	return &ArtistRepository{db: database}
}

func (r *ArtistRepository) GetByName(ctx context.Context, name string) (Artist, error) {
	var artist Artist
	err := r.db.QueryRowContext(
		ctx,
		"SELECT id, name FROM artists WHERE name = ?",
		name,
	).Scan(&artist.ID, &artist.Name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Artist{}, ErrArtistNotFound
		}
		return Artist{}, fmt.Errorf("get artist %q: %w", name, err)
	}

	return artist, nil
}

// GetOrCreate looks an artist up by its name, the natural key used during
// scans. The second return value reports whether a new row was created.
func (r *ArtistRepository) GetOrCreate(ctx context.Context, name string) (Artist, bool, error) {
	artist, err := r.GetByName(ctx, name)
	if err == nil {
		return artist, false, nil
	}
	if !errors.Is(err, ErrArtistNotFound) {
		return Artist{}, false, err
	}

	artist = Artist{ID: uuid.NewString(), Name: name}
	if _, err := r.db.ExecContext(
		ctx,
		"INSERT INTO artists(id, name) VALUES (?, ?)",
		artist.ID,
		artist.Name,
	); err != nil {
		return Artist{}, false, fmt.Errorf("insert artist %q: %w", name, err)
	}

	return artist, true, nil
}

// Prune deletes artists that no album or track references anymore.
func (r *ArtistRepository) Prune(ctx context.Context) (int, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM artists
		WHERE NOT EXISTS (SELECT 1 FROM albums WHERE albums.artist_id = artists.id)
		  AND NOT EXISTS (SELECT 1 FROM tracks WHERE tracks.artist_id = artists.id)
	`)
	if err != nil {
		return 0, fmt.Errorf("prune artists: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("read pruned artist count: %w", err)
	}

	return int(deleted), nil
}
