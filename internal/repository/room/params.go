package room

type SaveSnapshotParams struct {
	RoomID   string
	Snapshot Snapshot
}

type AddContentParams struct {
	ContentIDs []string
}
