package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var ErrTrackNotFound = errors.New("track not found")

type TrackRepository struct {
	db *sql.DB
}

func NewTrackRepository(database *sql.DB) *TrackRepository {
	return &TrackRepository{db: database}
}

const trackColumns = `id, disc, number, title, year, genre, duration, bitrate, has_art,
	path, content_type, created, last_modification, play_count, last_play,
	album_id, artist_id, folder_id, root_folder_id`

func scanTrack(row interface{ Scan(...any) error }) (Track, error) {
	var track Track
	var year sql.NullInt64
	var genre sql.NullString
	var hasArtInt int
	var created string
	var lastPlay sql.NullString

	err := row.Scan(
		&track.ID, &track.Disc, &track.Number, &track.Title, &year, &genre,
		&track.Duration, &track.Bitrate, &hasArtInt, &track.Path, &track.ContentType,
		&created, &track.LastModification, &track.PlayCount, &lastPlay,
		&track.AlbumID, &track.ArtistID, &track.FolderID, &track.RootFolderID,
	)
	if err != nil {
		return Track{}, err
	}

	if year.Valid {
		value := int(year.Int64)
		track.Year = &value
	}
	track.Genre = genre.String
	track.HasArt = hasArtInt == 1
	if parsed, parseErr := time.Parse(time.RFC3339, created); parseErr == nil {
		track.Created = parsed
	}
	if lastPlay.Valid {
		if parsed, parseErr := time.Parse(time.RFC3339, lastPlay.String); parseErr == nil {
			track.LastPlay = &parsed
		}
	}

	return track, nil
}

func (r *TrackRepository) GetByID(ctx context.Context, id string) (Track, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+trackColumns+" FROM tracks WHERE id = ?", id)
	track, err := scanTrack(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Track{}, ErrTrackNotFound
		}
		return Track{}, fmt.Errorf("get track %s: %w", id, err)
	}

	return track, nil
}

func (r *TrackRepository) GetByPath(ctx context.Context, path string) (Track, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+trackColumns+" FROM tracks WHERE path = ?", path)
	track, err := scanTrack(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Track{}, ErrTrackNotFound
		}
		return Track{}, fmt.Errorf("get track at %s: %w", path, err)
	}

	return track, nil
}

// FirstInFolder returns any one track directly inside the folder, used to
// look up the album name when choosing cover art.
func (r *TrackRepository) FirstInFolder(ctx context.Context, folderID int64) (Track, error) {
	row := r.db.QueryRowContext(
		ctx,
		"SELECT "+trackColumns+" FROM tracks WHERE folder_id = ? ORDER BY path LIMIT 1",
		folderID,
	)
	track, err := scanTrack(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Track{}, ErrTrackNotFound
		}
		return Track{}, fmt.Errorf("get track in folder %d: %w", folderID, err)
	}

	return track, nil
}

// PathsUnderRoot lists the stored paths of every track belonging to a root
// folder. The full scan diffs this list against the disk.
func (r *TrackRepository) PathsUnderRoot(ctx context.Context, rootFolderID int64) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT path FROM tracks WHERE root_folder_id = ?", rootFolderID)
	if err != nil {
		return nil, fmt.Errorf("list track paths under root %d: %w", rootFolderID, err)
	}
	defer rows.Close()

	paths := make([]string, 0)
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, fmt.Errorf("scan track path row: %w", err)
		}
		paths = append(paths, path)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate track path rows: %w", err)
	}

	return paths, nil
}

func (r *TrackRepository) Create(ctx context.Context, track Track) (Track, error) {
	if track.ID == "" {
		track.ID = uuid.NewString()
	}
	if track.Created.IsZero() {
		track.Created = time.Now().UTC()
	}

	if _, err := r.db.ExecContext(
		ctx,
		`INSERT INTO tracks(
			id, disc, number, title, year, genre, duration, bitrate, has_art,
			path, content_type, created, last_modification,
			album_id, artist_id, folder_id, root_folder_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		track.ID, track.Disc, track.Number, track.Title, nullableIntPtr(track.Year),
		nullableString(track.Genre), track.Duration, track.Bitrate, boolToInt(track.HasArt),
		track.Path, track.ContentType, track.Created.Format(time.RFC3339), track.LastModification,
		track.AlbumID, track.ArtistID, track.FolderID, track.RootFolderID,
	); err != nil {
		return Track{}, fmt.Errorf("insert track %s: %w", track.Path, err)
	}

	return track, nil
}

// Update rewrites every mutable field of an existing track in place,
// preserving its identity, play count and last-play bookkeeping.
func (r *TrackRepository) Update(ctx context.Context, track Track) error {
	result, err := r.db.ExecContext(
		ctx,
		`UPDATE tracks SET
			disc = ?, number = ?, title = ?, year = ?, genre = ?, duration = ?,
			bitrate = ?, has_art = ?, path = ?, content_type = ?, last_modification = ?,
			album_id = ?, artist_id = ?, folder_id = ?, root_folder_id = ?
		WHERE id = ?`,
		track.Disc, track.Number, track.Title, nullableIntPtr(track.Year),
		nullableString(track.Genre), track.Duration, track.Bitrate, boolToInt(track.HasArt),
		track.Path, track.ContentType, track.LastModification,
		track.AlbumID, track.ArtistID, track.FolderID, track.RootFolderID,
		track.ID,
	)
	if err != nil {
		return fmt.Errorf("update track %s: %w", track.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("read updated track count: %w", err)
	}
	if affected == 0 {
		return ErrTrackNotFound
	}

	return nil
}

func (r *TrackRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM tracks WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete track %s: %w", id, err)
	}

	return nil
}

// RecordPlay increments the play count and stamps the last play time.
func (r *TrackRepository) RecordPlay(ctx context.Context, id string, playedAt time.Time) error {
	if _, err := r.db.ExecContext(
		ctx,
		"UPDATE tracks SET play_count = play_count + 1, last_play = ? WHERE id = ?",
		playedAt.UTC().Format(time.RFC3339),
		id,
	); err != nil {
		return fmt.Errorf("record play of track %s: %w", id, err)
	}

	return nil
}

func nullableIntPtr(value *int) any {
	if value == nil {
		return nil
	}

	return *value
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}

	return value
}

func boolToInt(value bool) int {
	if value {
		return 1
	}

	return 0
}
