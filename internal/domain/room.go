package domain

import (
	"fmt"
	"sync"
	"time"
)

type Config struct {
	Capacity          int
	CoalesceWindow    time.Duration
	HeartbeatInterval time.Duration
	ReconnectGrace    time.Duration
}

func DefaultConfig() Config {
	return Config{
		Capacity:          9,
		CoalesceWindow:    250 * time.Millisecond,
		HeartbeatInterval: 5 * time.Second,
		ReconnectGrace:    60 * time.Second,
	}
}

// HeartbeatTimeout is how long a participant may stay silent before it is disconnected.
func (c Config) HeartbeatTimeout() time.Duration {
	return 3 * c.HeartbeatInterval
}

type Result struct {
	Snapshot    Snapshot
	Changed     bool
	Outcome     CommandOutcome
	HostChanged bool
	Resumed     bool
}

type SweepResult struct {
	Result
	TimedOut []string
	Removed  []string
}

type controlMark struct {
	participantID string
	receivedAt    time.Time
	baseRevision  int64
	logIdx        int
}

// Room is the single writer for one watch party. Every exported method takes the
// room lock for its whole duration and returns copies.
type Room struct {
	mu sync.Mutex

	id  string
	cfg Config

	host         string
	priorHost    string
	hostAssigned bool
	participants participants

	playback PlaybackState
	revision int64
	seq      uint64

	createdAt      time.Time
	lastActivityAt time.Time
	emptySince     time.Time

	lastControl *controlMark
	log         commandLog
	broken      bool
}

func NewRoom(id, contentID string, cfg Config, now time.Time) *Room {
	return &Room{
		id:  id,
		cfg: cfg,
		playback: PlaybackState{
			ContentID: contentID,
			UpdatedAt: now,
		},
		revision:       1,
		createdAt:      now,
		lastActivityAt: now,
		emptySince:     now,
	}
}

// RestoreRoom recreates a room from a persisted snapshot so revisions keep growing
// across restarts. Playback is restored paused at its last computed position.
func RestoreRoom(id string, playback PlaybackState, revision int64, cfg Config, now time.Time) *Room {
	r := NewRoom(id, playback.ContentID, cfg, now)
	r.playback = PlaybackState{
		ContentID: playback.ContentID,
		Position:  playback.PositionAt(now),
		UpdatedAt: now,
	}
	if revision > r.revision {
		r.revision = revision
	}

	return r
}

func (r *Room) ID() string {
	return r.id
}

func (r *Room) Revision() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.revision
}

func (r *Room) Host() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.host
}

func (r *Room) Participant(id string) (Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, _ := r.participants.get(id)
	if p == nil {
		return Participant{}, ErrParticipantNotFound
	}

	return *p, nil
}

func (r *Room) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.participants.len()
}

func (r *Room) Broken() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.broken
}

// Idle reports whether the room has been empty for at least window.
func (r *Room) Idle(now time.Time, window time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.participants.len() == 0 && now.Sub(r.emptySince) >= window
}

func (r *Room) LastActivity() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.lastActivityAt
}

func (r *Room) CommandLog() []CommandRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.log.list()
}

func (r *Room) Snapshot(now time.Time, kind SnapshotKind) Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.snapshotLocked(now, kind)
}

func (r *Room) snapshotLocked(now time.Time, kind SnapshotKind) Snapshot {
	views := make([]ParticipantView, 0, r.participants.len())
	for _, p := range r.participants.list {
		views = append(views, ParticipantView{
			ID:          p.ID,
			DisplayName: p.DisplayName,
			State:       p.State,
			IsHost:      p.ID == r.host,
			Latency:     p.Latency,
		})
	}

	return Snapshot{
		RoomID:          r.id,
		Revision:        r.revision,
		Seq:             r.seq,
		Kind:            kind,
		Host:            r.host,
		ContentID:       r.playback.ContentID,
		Position:        r.playback.PositionAt(now),
		IsPlaying:       r.playback.IsPlaying,
		Participants:    views,
		ServerTimestamp: now,
	}
}

// Apply runs one command through the transition table.
func (r *Room) Apply(cmd Command) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.broken {
		return Result{}, fmt.Errorf("room %s: %w", r.id, ErrInternal)
	}

	prevRevision := r.revision
	r.lastActivityAt = cmd.ReceivedAt

	var (
		res Result
		err error
	)
	switch cmd.Type {
	case CommandJoin:
		res, err = r.join(cmd)
	case CommandLeave:
		res, err = r.leave(cmd)
	case CommandHeartbeat:
		res, err = r.heartbeat(cmd)
	case CommandPlay, CommandPause, CommandSeek:
		res, err = r.control(cmd)
	default:
		err = fmt.Errorf("unknown command type %q: %w", cmd.Type, ErrInvalidCommand)
	}
	if err != nil {
		return Result{}, err
	}

	if err := r.checkInvariants(prevRevision); err != nil {
		return Result{}, err
	}

	return res, nil
}

func (r *Room) join(cmd Command) (Result, error) {
	if p, _ := r.participants.get(cmd.ParticipantID); p != nil {
		if cmd.DisplayName != "" {
			p.DisplayName = cmd.DisplayName
		}
		if p.State == StateDisconnected {
			p.State = StateConnecting
			p.DisconnectedAt = time.Time{}
		}
		p.LastHeartbeat = cmd.ReceivedAt
		r.log.add(CommandRecord{Command: cmd, Outcome: OutcomeApplied, BaseRevision: r.revision})

		return r.changed(cmd.ReceivedAt, KindPresence, Result{Resumed: true}), nil
	}

	if r.cfg.Capacity > 0 && r.participants.len() >= r.cfg.Capacity {
		r.log.add(CommandRecord{Command: cmd, Outcome: OutcomeRejected, BaseRevision: r.revision})
		return Result{}, fmt.Errorf("room %s has %d participants: %w", r.id, r.participants.len(), ErrRoomFull)
	}

	r.participants.add(&Participant{
		ID:            cmd.ParticipantID,
		DisplayName:   cmd.DisplayName,
		State:         StateConnecting,
		JoinedAt:      cmd.ReceivedAt,
		LastHeartbeat: cmd.ReceivedAt,
	})
	r.emptySince = time.Time{}
	r.log.add(CommandRecord{Command: cmd, Outcome: OutcomeApplied, BaseRevision: r.revision})

	res := Result{}
	if r.host == "" {
		res.HostChanged = r.setHost(cmd.ParticipantID)
	}

	return r.changed(cmd.ReceivedAt, KindPresence, res), nil
}

func (r *Room) leave(cmd Command) (Result, error) {
	if !r.participants.remove(cmd.ParticipantID) {
		return Result{}, fmt.Errorf("leave %s: %w", cmd.ParticipantID, ErrParticipantNotFound)
	}
	r.log.add(CommandRecord{Command: cmd, Outcome: OutcomeApplied, BaseRevision: r.revision})

	if r.priorHost == cmd.ParticipantID {
		r.priorHost = ""
	}
	if r.participants.len() == 0 {
		r.emptySince = cmd.ReceivedAt
	}

	res := Result{HostChanged: r.reconcileHost()}

	return r.changed(cmd.ReceivedAt, KindPresence, res), nil
}

func (r *Room) heartbeat(cmd Command) (Result, error) {
	p, _ := r.participants.get(cmd.ParticipantID)
	if p == nil {
		return Result{}, fmt.Errorf("heartbeat %s: %w", cmd.ParticipantID, ErrParticipantNotFound)
	}

	p.LastHeartbeat = cmd.ReceivedAt
	p.observeRTT(cmd.RTT)

	res := Result{Outcome: OutcomeApplied}
	switch {
	case cmd.Revision == 0:
	case cmd.Revision < r.revision:
		// a late acknowledgement never moves anything backwards
		res.Outcome = OutcomeStale
	case cmd.Revision <= r.revision && cmd.Revision > p.AckedRevision:
		p.AckedRevision = cmd.Revision
	}

	return res, nil
}

func (r *Room) control(cmd Command) (Result, error) {
	p, _ := r.participants.get(cmd.ParticipantID)
	if p == nil {
		return Result{}, fmt.Errorf("control %s: %w", cmd.ParticipantID, ErrParticipantNotFound)
	}
	p.LastHeartbeat = cmd.ReceivedAt

	lc := r.lastControl
	concurrent := lc != nil &&
		lc.participantID != cmd.ParticipantID &&
		cmd.ReceivedAt.Sub(lc.receivedAt) < r.cfg.CoalesceWindow

	if lc != nil {
		superseded := cmd.ReceivedAt.Before(lc.receivedAt) ||
			(cmd.ReceivedAt.Equal(lc.receivedAt) &&
				lc.participantID != cmd.ParticipantID &&
				!r.winsTie(cmd.ParticipantID, lc.participantID))
		if superseded {
			r.log.add(CommandRecord{Command: cmd, Outcome: OutcomeSuperseded, BaseRevision: r.revision})
			return Result{Outcome: OutcomeSuperseded}, nil
		}
	}

	if cmd.Revision > 0 && cmd.Revision < r.revision && !(concurrent && cmd.Revision >= lc.baseRevision) {
		r.log.add(CommandRecord{Command: cmd, Outcome: OutcomeStale, BaseRevision: r.revision})
		return Result{Outcome: OutcomeStale}, nil
	}

	next, err := r.playback.apply(cmd)
	if err != nil {
		r.log.add(CommandRecord{Command: cmd, Outcome: OutcomeRejected, BaseRevision: r.revision})
		return Result{}, err
	}

	baseRevision := r.revision
	if concurrent {
		// the earlier command of the window never gets a standalone timeline of its own
		if rec := r.log.records[lc.logIdx]; rec.Command.ParticipantID == lc.participantID && rec.Command.ReceivedAt.Equal(lc.receivedAt) {
			r.log.mark(lc.logIdx, OutcomeSuperseded)
		}
		baseRevision = lc.baseRevision
	}

	r.playback = next
	r.revision++
	idx := r.log.add(CommandRecord{Command: cmd, Outcome: OutcomeApplied, BaseRevision: r.revision - 1})
	r.lastControl = &controlMark{
		participantID: cmd.ParticipantID,
		receivedAt:    cmd.ReceivedAt,
		baseRevision:  baseRevision,
		logIdx:        idx,
	}

	return r.changed(cmd.ReceivedAt, KindState, Result{Outcome: OutcomeApplied}), nil
}

// winsTie breaks exact receipt time ties: host first, then the greater client id.
func (r *Room) winsTie(challenger, incumbent string) bool {
	if challenger == r.host {
		return true
	}
	if incumbent == r.host {
		return false
	}

	return challenger > incumbent
}

// Confirm promotes a connecting participant after its first successful state exchange.
func (r *Room) Confirm(id string, now time.Time) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.broken {
		return Result{}, fmt.Errorf("room %s: %w", r.id, ErrInternal)
	}

	p, _ := r.participants.get(id)
	if p == nil {
		return Result{}, fmt.Errorf("confirm %s: %w", id, ErrParticipantNotFound)
	}

	prevRevision := r.revision
	r.lastActivityAt = now
	if p.State != StateConnected {
		p.State = StateConnected
		p.ConnectedSince = now
	}
	p.LastHeartbeat = now

	res := Result{}
	if r.priorHost == id {
		r.priorHost = ""
		res.HostChanged = r.setHost(id)
	} else {
		res.HostChanged = r.reconcileHost()
	}

	if err := r.checkInvariants(prevRevision); err != nil {
		return Result{}, err
	}

	return r.changed(now, KindPresence, res), nil
}

// Disconnect marks a participant disconnected right away, without waiting for the
// heartbeat timeout. The record is kept for the reconnection grace period.
func (r *Room) Disconnect(id string, now time.Time) (Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.broken {
		return Result{}, fmt.Errorf("room %s: %w", r.id, ErrInternal)
	}

	p, _ := r.participants.get(id)
	if p == nil {
		return Result{}, fmt.Errorf("disconnect %s: %w", id, ErrParticipantNotFound)
	}
	if p.State == StateDisconnected {
		return Result{Snapshot: r.snapshotLocked(now, KindPresence)}, nil
	}

	prevRevision := r.revision
	p.State = StateDisconnected
	p.DisconnectedAt = now

	res := Result{HostChanged: r.reconcileHost()}
	if err := r.checkInvariants(prevRevision); err != nil {
		return Result{}, err
	}

	return r.changed(now, KindPresence, res), nil
}

// Sweep applies heartbeat timeouts and reconnection grace expiry.
func (r *Room) Sweep(now time.Time) (SweepResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.broken {
		return SweepResult{}, fmt.Errorf("room %s: %w", r.id, ErrInternal)
	}

	prevRevision := r.revision
	var out SweepResult

	kept := r.participants.list[:0]
	for _, p := range r.participants.list {
		switch {
		case p.State != StateDisconnected && now.Sub(p.LastHeartbeat) >= r.cfg.HeartbeatTimeout():
			p.State = StateDisconnected
			p.DisconnectedAt = now
			out.TimedOut = append(out.TimedOut, p.ID)
		case p.State == StateDisconnected && now.Sub(p.DisconnectedAt) >= r.cfg.ReconnectGrace:
			out.Removed = append(out.Removed, p.ID)
			if r.priorHost == p.ID {
				r.priorHost = ""
			}
			continue
		}
		kept = append(kept, p)
	}
	r.participants.list = kept

	if len(out.TimedOut) == 0 && len(out.Removed) == 0 {
		return out, nil
	}

	if len(out.Removed) > 0 && r.participants.len() == 0 {
		r.emptySince = now
	}

	out.HostChanged = r.reconcileHost()
	if err := r.checkInvariants(prevRevision); err != nil {
		return SweepResult{}, err
	}
	out.Result = r.changed(now, KindPresence, out.Result)

	return out, nil
}

// reconcileHost hands the host role to the longest connected participant when the
// current host is gone or disconnected. A disconnected host is remembered as prior host.
func (r *Room) reconcileHost() bool {
	current, _ := r.participants.get(r.host)
	if current != nil && current.State != StateDisconnected {
		return false
	}

	next := r.participants.longestConnected(r.host)
	if next == nil {
		if current == nil && r.host != "" {
			return r.setHost("")
		}
		return false
	}

	if current != nil {
		r.priorHost = current.ID
	}

	return r.setHost(next.ID)
}

// setHost bumps the revision on every host change except the first assignment.
func (r *Room) setHost(id string) bool {
	if id == r.host {
		return false
	}

	r.host = id
	if r.hostAssigned {
		r.revision++
	}
	if id != "" {
		r.hostAssigned = true
	}

	return true
}

func (r *Room) changed(now time.Time, kind SnapshotKind, res Result) Result {
	r.seq++
	res.Changed = true
	if res.Outcome == "" {
		res.Outcome = OutcomeApplied
	}
	res.Snapshot = r.snapshotLocked(now, kind)

	return res
}

func (r *Room) checkInvariants(prevRevision int64) error {
	var violation string
	switch {
	case r.revision < prevRevision:
		violation = fmt.Sprintf("revision went from %d to %d", prevRevision, r.revision)
	case r.playback.Position < 0:
		violation = fmt.Sprintf("negative position %d", r.playback.Position)
	case r.host != "":
		if p, _ := r.participants.get(r.host); p == nil {
			violation = fmt.Sprintf("host %s is not a participant", r.host)
		}
	}

	if violation == "" {
		seen := make(map[string]struct{}, r.participants.len())
		for _, p := range r.participants.list {
			if _, ok := seen[p.ID]; ok {
				violation = fmt.Sprintf("duplicate participant %s", p.ID)
				break
			}
			seen[p.ID] = struct{}{}
		}
	}

	if violation != "" {
		r.broken = true
		return fmt.Errorf("room %s: %s: %w", r.id, violation, ErrInternal)
	}

	return nil
}
