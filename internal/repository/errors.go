package repository

import "errors"

var (
	// ErrSnapshotNotFound is returned by sinks that hold no snapshot yet.
	ErrSnapshotNotFound = errors.New("repository: snapshot not found")
	ErrSnapshotCorrupt  = errors.New("repository: snapshot corrupt")
)
