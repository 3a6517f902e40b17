package domain

import "time"

type SnapshotKind int

const (
	KindPresence SnapshotKind = iota
	KindState
)

func (k SnapshotKind) String() string {
	if k == KindState {
		return "STATE_SYNC"
	}

	return "PRESENCE_UPDATE"
}

type ParticipantView struct {
	ID          string        `json:"clientId"`
	DisplayName string        `json:"displayName"`
	State       ConnState     `json:"state"`
	IsHost      bool          `json:"isHost"`
	Latency     time.Duration `json:"-"`
}

// Snapshot is an immutable copy of a room taken under its lock.
type Snapshot struct {
	RoomID   string
	Revision int64
	// Seq orders snapshots of one room, including presence-only changes that keep Revision.
	Seq             uint64
	Kind            SnapshotKind
	Host            string
	ContentID       string
	Position        int64
	IsPlaying       bool
	Participants    []ParticipantView
	ServerTimestamp time.Time
}

// Merge folds an older snapshot's kind into a newer one so a coalesced emission
// still reports a timeline change.
func (s Snapshot) Merge(older Snapshot) Snapshot {
	if older.Kind > s.Kind {
		s.Kind = older.Kind
	}

	return s
}
