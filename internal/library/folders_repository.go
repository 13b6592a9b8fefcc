package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var ErrFolderNotFound = errors.New("folder not found")

type FolderRepository struct {
	db *sql.DB
}

func NewFolderRepository(database *sql.DB) *FolderRepository {
	return &FolderRepository{db: database}
}

const folderColumns = "id, root, name, path, parent_id, created, cover_art, last_scan"

func scanFolder(row interface{ Scan(...any) error }) (Folder, error) {
	var folder Folder
	var rootInt int
	var parentID sql.NullInt64
	var created string
	var coverArt sql.NullString

	err := row.Scan(&folder.ID, &rootInt, &folder.Name, &folder.Path, &parentID, &created, &coverArt, &folder.LastScan)
	if err != nil {
		return Folder{}, err
	}

	folder.Root = rootInt == 1
	if parentID.Valid {
		folder.ParentID = &parentID.Int64
	}
	folder.CoverArt = coverArt.String
	if parsed, parseErr := time.Parse(time.RFC3339, created); parseErr == nil {
		folder.Created = parsed
	}

	return folder, nil
}

func (r *FolderRepository) GetByID(ctx context.Context, id int64) (Folder, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+folderColumns+" FROM folders WHERE id = ?", id)
	folder, err := scanFolder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Folder{}, ErrFolderNotFound
		}
		return Folder{}, fmt.Errorf("get folder %d: %w", id, err)
	}

	return folder, nil
}

func (r *FolderRepository) GetByPath(ctx context.Context, path string) (Folder, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+folderColumns+" FROM folders WHERE path = ?", path)
	folder, err := scanFolder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Folder{}, ErrFolderNotFound
		}
		return Folder{}, fmt.Errorf("get folder %s: %w", path, err)
	}

	return folder, nil
}

func (r *FolderRepository) GetRootByName(ctx context.Context, name string) (Folder, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+folderColumns+" FROM folders WHERE root = 1 AND name = ?", name)
	folder, err := scanFolder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Folder{}, ErrFolderNotFound
		}
		return Folder{}, fmt.Errorf("get root folder %s: %w", name, err)
	}

	return folder, nil
}

func (r *FolderRepository) Roots(ctx context.Context) ([]Folder, error) {
	return r.list(ctx, "SELECT "+folderColumns+" FROM folders WHERE root = 1 ORDER BY name")
}

func (r *FolderRepository) Children(ctx context.Context, parentID int64) ([]Folder, error) {
	return r.list(ctx, "SELECT "+folderColumns+" FROM folders WHERE parent_id = ? ORDER BY path", parentID)
}

func (r *FolderRepository) list(ctx context.Context, query string, args ...any) ([]Folder, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list folders: %w", err)
	}
	defer rows.Close()

	folders := make([]Folder, 0)
	for rows.Next() {
		folder, err := scanFolder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan folder row: %w", err)
		}
		folders = append(folders, folder)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate folder rows: %w", err)
	}

	return folders, nil
}

func (r *FolderRepository) Create(ctx context.Context, folder Folder) (Folder, error) {
	created := folder.Created
	if created.IsZero() {
		created = time.Now().UTC()
	}

	rootInt := 0
	if folder.Root {
		rootInt = 1
	}

	var parentID any
	if folder.ParentID != nil {
		parentID = *folder.ParentID
	}

	result, err := r.db.ExecContext(
		ctx,
		"INSERT INTO folders(root, name, path, parent_id, created) VALUES (?, ?, ?, ?, ?)",
		rootInt,
		folder.Name,
		folder.Path,
		parentID,
		created.Format(time.RFC3339),
	)
	if err != nil {
		return Folder{}, fmt.Errorf("insert folder %s: %w", folder.Path, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return Folder{}, fmt.Errorf("read folder id %s: %w", folder.Path, err)
	}

	return r.GetByID(ctx, id)
}

func (r *FolderRepository) SetCoverArt(ctx context.Context, id int64, coverArt string) error {
	var value any
	if coverArt != "" {
		value = coverArt
	}

	if _, err := r.db.ExecContext(ctx, "UPDATE folders SET cover_art = ? WHERE id = ?", value, id); err != nil {
		return fmt.Errorf("update folder %d cover art: %w", id, err)
	}

	return nil
}

func (r *FolderRepository) SetLastScan(ctx context.Context, id int64, lastScan int64) error {
	if _, err := r.db.ExecContext(ctx, "UPDATE folders SET last_scan = ? WHERE id = ?", lastScan, id); err != nil {
		return fmt.Errorf("update folder %d last scan: %w", id, err)
	}

	return nil
}

// DeleteTree removes a folder and everything below it. Descendants are
// collected first and deleted deepest-first so the walk stays iterative no
// matter how deep the tree is.
func (r *FolderRepository) DeleteTree(ctx context.Context, id int64) error {
	pending := []int64{id}
	ordered := make([]int64, 0, 8)

	for len(pending) > 0 {
		current := pending[len(pending)-1]
		pending = pending[:len(pending)-1]
		ordered = append(ordered, current)

		children, err := r.Children(ctx, current)
		if err != nil {
			return err
		}
		for _, child := range children {
			pending = append(pending, child.ID)
		}
	}

	for i := len(ordered) - 1; i >= 0; i-- {
		if _, err := r.db.ExecContext(ctx, "DELETE FROM tracks WHERE folder_id = ?", ordered[i]); err != nil {
			return fmt.Errorf("delete tracks of folder %d: %w", ordered[i], err)
		}
		if _, err := r.db.ExecContext(ctx, "DELETE FROM folders WHERE id = ?", ordered[i]); err != nil {
			return fmt.Errorf("delete folder %d: %w", ordered[i], err)
		}
	}

	return nil
}

// Prune removes non-root folders that have neither tracks nor child folders,
// repeating until the tree stops shrinking so emptied parents go too.
func (r *FolderRepository) Prune(ctx context.Context) (int, error) {
	total := 0
	for {
		result, err := r.db.ExecContext(ctx, `
			DELETE FROM folders
			WHERE root = 0
			  AND NOT EXISTS (SELECT 1 FROM tracks WHERE tracks.folder_id = folders.id)
			  AND NOT EXISTS (SELECT 1 FROM folders AS child WHERE child.parent_id = folders.id)
		`)
		if err != nil {
			return total, fmt.Errorf("prune folders: %w", err)
		}

		deleted, err := result.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("read pruned folder count: %w", err)
		}
		if deleted == 0 {
			return total, nil
		}
		total += int(deleted)
	}
}
