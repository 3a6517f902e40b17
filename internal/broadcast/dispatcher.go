package broadcast

import (
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sharetube/syncserver/internal/domain"
	"github.com/sharetube/syncserver/internal/protocol"
	"github.com/sharetube/syncserver/internal/repository/connection"
)

type iConnRepo interface {
	RoomConns(roomID string) []connection.Conn
}

type iMetrics interface {
	SnapshotEmitted(kind string)
	ConnectionOverflowed()
}

type nopMetrics struct{}

func (nopMetrics) SnapshotEmitted(string) {}
func (nopMetrics) ConnectionOverflowed() {}

type roomState struct {
	pending   *domain.Snapshot
	timer     clockwork.Timer
	lastEmit  time.Time
	holdUntil time.Time
	takenSeq  uint64

	// emitMu serializes sends for one room; sentSeq only grows under it.
	emitMu  sync.Mutex
	sentSeq uint64
	// floors holds, per connection id, the seq the connection was synced at
	// before it was attached.
	floors map[string]uint64
}

// Dispatcher fans room snapshots out to attached connections. It keeps only the
// latest snapshot per room and emits at most once per interval.
type Dispatcher struct {
	mu       sync.Mutex
	rooms    map[string]*roomState
	interval time.Duration
	clock    clockwork.Clock
	connRepo iConnRepo
	metrics  iMetrics
	logger   *slog.Logger
}

type Config struct {
	// Rate is the maximum number of emissions per room per second.
	Rate  int
	Clock clockwork.Clock
}

func NewDispatcher(connRepo iConnRepo, m iMetrics, cfg Config, logger *slog.Logger) *Dispatcher {
	interval := time.Duration(0)
	if cfg.Rate > 0 {
		interval = time.Second / time.Duration(cfg.Rate)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if m == nil {
		m = nopMetrics{}
	}

	return &Dispatcher{
		rooms:    make(map[string]*roomState),
		interval: interval,
		clock:    clock,
		connRepo: connRepo,
		metrics:  m,
		logger:   logger,
	}
}

// Publish hands a snapshot to the dispatcher. Snapshots older than what is already
// pending or sent are folded in or dropped.
func (d *Dispatcher) Publish(s domain.Snapshot) {
	d.publish(s, 0)
}

// Hold publishes a snapshot but keeps the room's emission back for window, so a
// later snapshot published within the window replaces it before anyone sees it.
// Every Hold extends the window.
func (d *Dispatcher) Hold(s domain.Snapshot, window time.Duration) {
	d.publish(s, window)
}

// Seed records that the connection connID already received the room state at seq,
// so pending snapshots at or below seq are never sent to it.
func (d *Dispatcher) Seed(roomID, connID string, seq uint64) {
	d.mu.Lock()
	rs := d.roomLocked(roomID)
	d.mu.Unlock()

	rs.emitMu.Lock()
	defer rs.emitMu.Unlock()

	if seq <= rs.sentSeq {
		return
	}
	if rs.floors == nil {
		rs.floors = make(map[string]uint64)
	}
	rs.floors[connID] = seq
}

// roomLocked must be called with d.mu held.
func (d *Dispatcher) roomLocked(roomID string) *roomState {
	rs, ok := d.rooms[roomID]
	if !ok {
		rs = &roomState{}
		d.rooms[roomID] = rs
	}

	return rs
}

func (d *Dispatcher) publish(s domain.Snapshot, hold time.Duration) {
	d.mu.Lock()

	rs := d.roomLocked(s.RoomID)
	if s.Seq <= rs.takenSeq {
		d.mu.Unlock()
		return
	}

	switch {
	case rs.pending == nil:
		rs.pending = &s
	case s.Seq > rs.pending.Seq:
		merged := s.Merge(*rs.pending)
		rs.pending = &merged
	default:
		merged := rs.pending.Merge(s)
		rs.pending = &merged
	}

	extended := false
	if hold > 0 {
		if until := d.clock.Now().Add(hold); until.After(rs.holdUntil) {
			rs.holdUntil = until
			extended = true
		}
	}

	if rs.timer != nil {
		if extended {
			rs.timer.Reset(d.wait(rs))
		}
		d.mu.Unlock()
		return
	}

	if wait := d.wait(rs); wait > 0 {
		rs.timer = d.schedule(s.RoomID, wait)
		d.mu.Unlock()
		return
	}

	snap := d.take(rs)
	d.mu.Unlock()

	d.emit(rs, snap)
}

// wait returns how long the room must stay quiet before its next emission. It must
// be called with d.mu held.
func (d *Dispatcher) wait(rs *roomState) time.Duration {
	now := d.clock.Now()

	var wait time.Duration
	if !rs.lastEmit.IsZero() {
		wait = d.interval - now.Sub(rs.lastEmit)
	}
	if held := rs.holdUntil.Sub(now); held > wait {
		wait = held
	}

	return wait
}

func (d *Dispatcher) schedule(roomID string, wait time.Duration) clockwork.Timer {
	return d.clock.AfterFunc(wait, func() {
		d.flush(roomID)
	})
}

// Forget drops pending state and timers of a room.
func (d *Dispatcher) Forget(roomID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	rs, ok := d.rooms[roomID]
	if !ok {
		return
	}
	if rs.timer != nil {
		rs.timer.Stop()
	}
	delete(d.rooms, roomID)
}

func (d *Dispatcher) flush(roomID string) {
	d.mu.Lock()

	rs, ok := d.rooms[roomID]
	if !ok {
		d.mu.Unlock()
		return
	}
	rs.timer = nil
	if rs.pending == nil {
		d.mu.Unlock()
		return
	}
	if wait := d.wait(rs); wait > 0 {
		rs.timer = d.schedule(roomID, wait)
		d.mu.Unlock()
		return
	}

	snap := d.take(rs)
	d.mu.Unlock()

	d.emit(rs, snap)
}

// take must be called with d.mu held.
func (d *Dispatcher) take(rs *roomState) domain.Snapshot {
	snap := *rs.pending
	rs.pending = nil
	rs.lastEmit = d.clock.Now()
	rs.takenSeq = snap.Seq

	return snap
}

func (d *Dispatcher) emit(rs *roomState, snap domain.Snapshot) {
	rs.emitMu.Lock()
	if snap.Seq <= rs.sentSeq {
		rs.emitMu.Unlock()
		return
	}
	rs.sentSeq = snap.Seq

	data, err := protocol.EncodeSnapshot(snap)
	if err != nil {
		rs.emitMu.Unlock()
		d.logger.Error("failed to encode snapshot", "room_id", snap.RoomID, "error", err)
		return
	}

	var overflowed []connection.Conn
	for _, conn := range d.connRepo.RoomConns(snap.RoomID) {
		if floor, ok := rs.floors[conn.ID()]; ok && snap.Seq <= floor {
			continue
		}
		if !conn.Send(data) {
			overflowed = append(overflowed, conn)
		}
	}
	for connID, floor := range rs.floors {
		if floor < snap.Seq {
			delete(rs.floors, connID)
		}
	}
	rs.emitMu.Unlock()

	d.metrics.SnapshotEmitted(snap.Kind.String())
	d.logger.Debug("snapshot emitted",
		"room_id", snap.RoomID,
		"revision", snap.Revision,
		"kind", snap.Kind.String(),
	)

	if len(overflowed) == 0 {
		return
	}

	// closing the connection ends its read loop, which reports the disconnect
	frame, _ := protocol.EncodeError(snap.RoomID, d.clock.Now().UnixMilli(), protocol.CodeConnectionTimeout, "")
	for _, conn := range overflowed {
		d.logger.Warn("outbound queue overflow", "room_id", snap.RoomID, "conn_id", conn.ID())
		d.metrics.ConnectionOverflowed()
		conn.Close(frame, protocol.CloseConnectionTimeout, "outbound queue overflow")
	}
}
