package library

import "time"

// Folder is a directory known to the library. Root folders are the
// registered top-level music directories; every other folder hangs off a
// root through ParentID.
type Folder struct {
	ID       int64
	Root     bool
	Name     string
	Path     string
	ParentID *int64
	Created  time.Time
	CoverArt string
	LastScan int64
}

type Artist struct {
	ID   string
	Name string
}

type Album struct {
	ID       string
	Name     string
	ArtistID string
}

type Track struct {
	ID               string
	Disc             int
	Number           int
	Title            string
	Year             *int
	Genre            string
	Duration         int
	Bitrate          int
	HasArt           bool
	Path             string
	ContentType      string
	Created          time.Time
	LastModification int64
	PlayCount        int
	LastPlay         *time.Time
	AlbumID          string
	ArtistID         string
	FolderID         int64
	RootFolderID     int64
}
