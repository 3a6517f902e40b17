package room

import "errors"

var (
	ErrSnapshotNotFound = errors.New("snapshot not found")
	ErrStaleSnapshot    = errors.New("snapshot revision is older than stored")
)
