package store

import "time"

// Canvas is the metadata row for one workspace graph. HeadVersion is nil
// until a first snapshot exists; LegacyStateKey points at a pre-versioning
// document blob when the canvas predates snapshot versioning.
type Canvas struct {
	ID             string
	OwnerID        string
	HeadVersion    *int64
	LegacyStateKey *string
	DeletedAt      *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// CanvasVersion is one immutable row per committed snapshot. Rows are
// append-only; they are only removed as part of whole-canvas teardown.
type CanvasVersion struct {
	CanvasID    string
	Version     int64
	BlobKey     string
	ContentHash string
	CreatedAt   time.Time
}
