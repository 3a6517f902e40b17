package room

// Snapshot is the persisted form of a room's authoritative state. UpdatedAt is unix
// milliseconds of the moment Position was computed.
type Snapshot struct {
	Revision  int64  `redis:"revision"`
	ContentID string `redis:"content_id"`
	Position  int64  `redis:"position"`
	IsPlaying bool   `redis:"is_playing"`
	UpdatedAt int64  `redis:"updated_at"`
	Host      string `redis:"host"`
}
