package room

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/sharetube/syncserver/internal/auth"
	"github.com/sharetube/syncserver/internal/broadcast"
	"github.com/sharetube/syncserver/internal/domain"
	"github.com/sharetube/syncserver/internal/protocol"
	"github.com/sharetube/syncserver/internal/registry"
	"github.com/sharetube/syncserver/internal/repository/connection/inmemory"
	roomRepo "github.com/sharetube/syncserver/internal/repository/room"
	roomRedis "github.com/sharetube/syncserver/internal/repository/room/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

type stubConn struct {
	id string

	mu        sync.Mutex
	frames    [][]byte
	closed    bool
	closeCode int
}

func newStubConn(id string) *stubConn {
	return &stubConn{id: id}
}

func (c *stubConn) ID() string { return c.id }

func (c *stubConn) Send(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.frames = append(c.frames, msg)
	return true
}

func (c *stubConn) Close(final []byte, code int, _ string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if final != nil {
		c.frames = append(c.frames, final)
	}
	c.closed = true
	c.closeCode = code
}

type frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func (c *stubConn) last(t *testing.T) (string, protocol.SnapshotOutput) {
	t.Helper()

	c.mu.Lock()
	defer c.mu.Unlock()

	require.NotEmpty(t, c.frames)
	var f frame
	require.NoError(t, json.Unmarshal(c.frames[len(c.frames)-1], &f))

	var out protocol.SnapshotOutput
	if f.Type != protocol.TypeError {
		require.NoError(t, json.Unmarshal(f.Payload, &out))
	}

	return f.Type, out
}

type sentFrame struct {
	Type     string
	Snapshot protocol.SnapshotOutput
}

// sent decodes every frame so far. It never fails the test, so it is safe to
// call from assert.Eventually.
func (c *stubConn) sent() []sentFrame {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]sentFrame, 0, len(c.frames))
	for _, data := range c.frames {
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			continue
		}

		sf := sentFrame{Type: f.Type}
		if f.Type != protocol.TypeError {
			json.Unmarshal(f.Payload, &sf.Snapshot)
		}
		out = append(out, sf)
	}

	return out
}

// lastIs reports whether the newest frame is a snapshot of msgType at revision.
func (c *stubConn) lastIs(msgType string, revision int64) func() bool {
	return func() bool {
		frames := c.sent()
		if len(frames) == 0 {
			return false
		}
		last := frames[len(frames)-1]
		return last.Type == msgType && last.Snapshot.Revision == revision
	}
}

type closedRoom struct {
	roomID string
	reason string
}

type recordingEvents struct {
	mu        sync.Mutex
	snapshots int
	closed    []closedRoom
}

func (e *recordingEvents) PublishSnapshot(context.Context, domain.Snapshot) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.snapshots++
	return nil
}

func (e *recordingEvents) PublishRoomClosed(_ context.Context, roomID, reason string, _ time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.closed = append(e.closed, closedRoom{roomID: roomID, reason: reason})
	return nil
}

func (e *recordingEvents) closedRooms() []closedRoom {
	e.mu.Lock()
	defer e.mu.Unlock()

	return append([]closedRoom(nil), e.closed...)
}

func (c *stubConn) closedWith() (bool, int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.closed, c.closeCode
}

type testEnv struct {
	service  *service
	clock    *clockwork.FakeClock
	auth     *auth.Authenticator
	registry *registry.Registry
	redis    *redis.Client
}

type envOptions struct {
	rate   int
	events iEvents
}

type envOption func(*envOptions)

// withBroadcastRate limits the dispatcher to rate emissions per second. Without
// it every snapshot not held back goes out right away.
func withBroadcastRate(rate int) envOption {
	return func(o *envOptions) {
		o.rate = rate
	}
}

func withEvents(events iEvents) envOption {
	return func(o *envOptions) {
		o.events = events
	}
}

func newTestEnv(t *testing.T, rc *redis.Client, clock *clockwork.FakeClock, opts ...envOption) *testEnv {
	t.Helper()

	var o envOptions
	for _, opt := range opts {
		opt(&o)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := domain.DefaultConfig()

	reg := registry.New(cfg, 10*time.Minute, clock, logger)
	connRepo := inmemory.NewRepo(logger)
	dispatcher := broadcast.NewDispatcher(connRepo, nil, broadcast.Config{Rate: o.rate, Clock: clock}, logger)
	authenticator := auth.New(testSecret)

	deps := Deps{
		Registry:   reg,
		ConnRepo:   connRepo,
		Dispatcher: dispatcher,
		Auth:       authenticator,
		Events:     o.events,
	}
	if rc != nil {
		repo := roomRedis.NewRepo(rc, time.Hour, logger)
		deps.RoomRepo = repo
		deps.Catalog = repo
	}

	s := NewService(deps, &Config{
		HeartbeatInterval: cfg.HeartbeatInterval,
		CoalesceWindow:    cfg.CoalesceWindow,
		Clock:             clock,
	}, logger)

	return &testEnv{service: s, clock: clock, auth: authenticator, registry: reg, redis: rc}
}

func newClock() *clockwork.FakeClock {
	return clockwork.NewFakeClockAt(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
}

func (e *testEnv) connect(t *testing.T, roomID, clientID, contentID string) *stubConn {
	t.Helper()
	ctx := context.Background()

	token, err := e.auth.SignToken(clientID, "", time.Hour)
	require.NoError(t, err)

	_, err = e.service.Join(ctx, &JoinParams{
		RoomID:     roomID,
		ClientID:   clientID,
		Token:      token,
		ContentID:  contentID,
		ReceivedAt: e.clock.Now(),
	})
	require.NoError(t, err)

	conn := newStubConn(fmt.Sprintf("%s-%d", clientID, e.clock.Now().UnixNano()))
	require.NoError(t, e.service.Confirm(ctx, &ConfirmParams{RoomID: roomID, ClientID: clientID, Conn: conn}))

	return conn
}

func position(ms int64) *int64 {
	return &ms
}

func TestPauseBroadcastsStateToEveryone(t *testing.T) {
	env := newTestEnv(t, nil, newClock())
	ctx := context.Background()

	connA := env.connect(t, "r1", "A", "video-1")
	connB := env.connect(t, "r1", "B", "")

	env.clock.Advance(time.Second)
	resp, err := env.service.Control(ctx, &ControlParams{
		RoomID:     "r1",
		ClientID:   "A",
		Action:     "PAUSE",
		Position:   position(120000),
		Revision:   1,
		ReceivedAt: env.clock.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApplied, resp.Outcome)
	assert.Equal(t, int64(2), resp.Revision)

	env.clock.Advance(domain.DefaultConfig().CoalesceWindow)
	for _, conn := range []*stubConn{connA, connB} {
		assert.Eventually(t, conn.lastIs(protocol.TypeStateSync, 2), time.Second, time.Millisecond)

		typ, out := conn.last(t)
		assert.Equal(t, protocol.TypeStateSync, typ)
		assert.Equal(t, int64(2), out.Revision)
		assert.False(t, out.IsPlaying)
		assert.Equal(t, int64(120000), out.Position)
		assert.Equal(t, "A", out.Host)
	}
}

func TestHeartbeatTimeoutPromotesNextHost(t *testing.T) {
	env := newTestEnv(t, nil, newClock())
	ctx := context.Background()

	connA := env.connect(t, "r1", "A", "video-1")
	connB := env.connect(t, "r1", "B", "")

	env.clock.Advance(10 * time.Second)
	_, err := env.service.Heartbeat(ctx, &HeartbeatParams{RoomID: "r1", ClientID: "B", ReceivedAt: env.clock.Now()})
	require.NoError(t, err)

	env.clock.Advance(5 * time.Second)
	env.service.SweepPresence(ctx)

	closed, code := connA.closedWith()
	assert.True(t, closed)
	assert.Equal(t, protocol.CloseConnectionTimeout, code)

	typ, out := connB.last(t)
	assert.Equal(t, protocol.TypePresenceUpdate, typ)
	assert.Equal(t, "B", out.Host)
	assert.Equal(t, int64(2), out.Revision)

	closed, _ = connB.closedWith()
	assert.False(t, closed)
}

// Two seeks from different clients 5 ms apart with an idle dispatcher: only the
// later one reaches clients, and the earlier one is logged as superseded.
func TestConcurrentSeeksLaterArrivalWins(t *testing.T) {
	env := newTestEnv(t, nil, newClock(), withBroadcastRate(10))
	ctx := context.Background()

	connA := env.connect(t, "r1", "A", "video-1")
	connB := env.connect(t, "r1", "B", "")

	env.clock.Advance(2 * time.Second)
	assert.Eventually(t, connA.lastIs(protocol.TypePresenceUpdate, 1), time.Second, time.Millisecond)

	resp, err := env.service.Control(ctx, &ControlParams{
		RoomID: "r1", ClientID: "A", Action: "SEEK", Position: position(50000), Revision: 1,
		ReceivedAt: env.clock.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), resp.Revision)

	env.clock.Advance(5 * time.Millisecond)
	resp, err = env.service.Control(ctx, &ControlParams{
		RoomID: "r1", ClientID: "B", Action: "SEEK", Position: position(60000), Revision: 1,
		ReceivedAt: env.clock.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeApplied, resp.Outcome)
	assert.Equal(t, int64(3), resp.Revision)

	env.clock.Advance(time.Second)
	for _, conn := range []*stubConn{connA, connB} {
		assert.Eventually(t, conn.lastIs(protocol.TypeStateSync, 3), time.Second, time.Millisecond)

		var syncs []protocol.SnapshotOutput
		for _, f := range conn.sent() {
			if f.Type == protocol.TypeStateSync {
				syncs = append(syncs, f.Snapshot)
			}
		}
		require.Len(t, syncs, 1, "the earlier seek must not be broadcast on its own")
		assert.Equal(t, int64(60000), syncs[0].Position)
	}

	room, err := env.registry.Get("r1")
	require.NoError(t, err)
	log := room.CommandLog()
	require.GreaterOrEqual(t, len(log), 2)
	assert.Equal(t, domain.OutcomeSuperseded, log[len(log)-2].Outcome)
	assert.Equal(t, "A", log[len(log)-2].Command.ParticipantID)
}

func TestStaleControlIsNotBroadcast(t *testing.T) {
	env := newTestEnv(t, nil, newClock())
	ctx := context.Background()

	connA := env.connect(t, "r1", "A", "video-1")
	env.connect(t, "r1", "B", "")

	_, err := env.service.Control(ctx, &ControlParams{
		RoomID: "r1", ClientID: "A", Action: "SEEK", Position: position(1000), Revision: 1,
		ReceivedAt: env.clock.Now(),
	})
	require.NoError(t, err)
	env.clock.Advance(time.Second)
	assert.Eventually(t, connA.lastIs(protocol.TypeStateSync, 2), time.Second, time.Millisecond)
	seen := len(connA.sent())

	resp, err := env.service.Control(ctx, &ControlParams{
		RoomID: "r1", ClientID: "B", Action: "PAUSE", Revision: 1, ReceivedAt: env.clock.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeStale, resp.Outcome)
	assert.ErrorIs(t, resp.Outcome.Err(), domain.ErrStaleCommand)
	assert.Equal(t, int64(2), resp.Revision)

	env.clock.Advance(time.Second)
	time.Sleep(10 * time.Millisecond)
	assert.Len(t, connA.sent(), seen)
}

func TestControlRejectsUnknownAction(t *testing.T) {
	env := newTestEnv(t, nil, newClock())
	env.connect(t, "r1", "A", "video-1")

	_, err := env.service.Control(context.Background(), &ControlParams{
		RoomID: "r1", ClientID: "A", Action: "REWIND", ReceivedAt: env.clock.Now(),
	})
	assert.ErrorIs(t, err, domain.ErrInvalidCommand)
}

func TestJoinErrors(t *testing.T) {
	s := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { rc.Close() })

	env := newTestEnv(t, rc, newClock())
	ctx := context.Background()

	_, err := env.service.Join(ctx, &JoinParams{RoomID: "r1", ClientID: "A", Token: "garbage", ContentID: "video-1"})
	assert.ErrorIs(t, err, domain.ErrAuth)

	token, err := env.auth.SignToken("A", "Alice", time.Hour)
	require.NoError(t, err)

	_, err = env.service.Join(ctx, &JoinParams{RoomID: "r1", ClientID: "A", Token: token})
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)

	_, err = env.service.Join(ctx, &JoinParams{RoomID: "r1", ClientID: "A", Token: token, ContentID: "video-1"})
	assert.ErrorIs(t, err, domain.ErrContentNotFound)

	repo := roomRedis.NewRepo(rc, time.Hour, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, repo.AddContent(ctx, &roomRepo.AddContentParams{ContentIDs: []string{"video-1"}}))

	resp, err := env.service.Join(ctx, &JoinParams{RoomID: "r1", ClientID: "A", Token: token, ContentID: "video-1", ReceivedAt: env.clock.Now()})
	require.NoError(t, err)
	assert.Equal(t, "A", resp.Snapshot.Host)
	assert.Equal(t, "Alice", resp.Snapshot.Participants[0].DisplayName)
	assert.Equal(t, domain.KindState, resp.Snapshot.Kind)
}

func TestRoomFull(t *testing.T) {
	env := newTestEnv(t, nil, newClock())
	ctx := context.Background()

	for i := 0; i < domain.DefaultConfig().Capacity; i++ {
		env.connect(t, "r1", fmt.Sprintf("c%d", i), "video-1")
	}

	token, err := env.auth.SignToken("late", "", time.Hour)
	require.NoError(t, err)

	_, err = env.service.Join(ctx, &JoinParams{RoomID: "r1", ClientID: "late", Token: token, ReceivedAt: env.clock.Now()})
	assert.ErrorIs(t, err, domain.ErrRoomFull)
}

func TestReconnectReplacesConnection(t *testing.T) {
	env := newTestEnv(t, nil, newClock())
	ctx := context.Background()

	first := env.connect(t, "r1", "A", "video-1")
	env.connect(t, "r1", "B", "")

	env.clock.Advance(time.Second)
	second := env.connect(t, "r1", "A", "")

	closed, code := first.closedWith()
	assert.True(t, closed)
	assert.Equal(t, protocol.CloseReplaced, code)

	// the replaced connection going away must not touch its successor
	require.NoError(t, env.service.Disconnect(ctx, &DisconnectParams{RoomID: "r1", ClientID: "A", Conn: first}))

	room, err := env.registry.Get("r1")
	require.NoError(t, err)
	p, err := room.Participant("A")
	require.NoError(t, err)
	assert.Equal(t, domain.StateConnected, p.State)
	assert.Equal(t, "A", room.Host())

	require.NoError(t, env.service.Disconnect(ctx, &DisconnectParams{RoomID: "r1", ClientID: "A", Conn: second}))
	p, err = room.Participant("A")
	require.NoError(t, err)
	assert.Equal(t, domain.StateDisconnected, p.State)
	assert.Equal(t, "B", room.Host())

	env.clock.Advance(10 * time.Second)
	env.connect(t, "r1", "A", "")
	assert.Equal(t, "A", room.Host(), "prior host reclaims within grace")
}

func TestLeaveAndEviction(t *testing.T) {
	events := &recordingEvents{}
	env := newTestEnv(t, nil, newClock(), withEvents(events))
	ctx := context.Background()

	env.connect(t, "r1", "A", "video-1")
	require.NoError(t, env.service.Leave(ctx, &LeaveParams{RoomID: "r1", ClientID: "A", ReceivedAt: env.clock.Now()}))

	env.clock.Advance(10 * time.Minute)
	env.service.SweepPresence(ctx)

	_, err := env.registry.Get("r1")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
	assert.Equal(t, []closedRoom{{roomID: "r1", reason: "idle"}}, events.closedRooms())
}

func TestTeardownClosesEveryConnection(t *testing.T) {
	events := &recordingEvents{}
	env := newTestEnv(t, nil, newClock(), withEvents(events))
	ctx := context.Background()

	connA := env.connect(t, "r1", "A", "video-1")
	connB := env.connect(t, "r1", "B", "")

	cause := fmt.Errorf("room r1: %w", domain.ErrInternal)
	assert.ErrorIs(t, env.service.fail(ctx, "r1", cause), domain.ErrInternal)

	for _, conn := range []*stubConn{connA, connB} {
		closed, code := conn.closedWith()
		assert.True(t, closed)
		assert.Equal(t, protocol.CloseInternal, code)

		typ, _ := conn.last(t)
		assert.Equal(t, protocol.TypeError, typ)
	}

	_, err := env.registry.Get("r1")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
	assert.Equal(t, []closedRoom{{roomID: "r1", reason: "internal_error"}}, events.closedRooms())
	assert.NotZero(t, events.snapshots, "joins are mirrored to the event feed")
}

func TestRoomRestoredFromSnapshot(t *testing.T) {
	s := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { rc.Close() })
	ctx := context.Background()

	clock := newClock()
	env := newTestEnv(t, rc, clock)

	repo := roomRedis.NewRepo(rc, time.Hour, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, repo.AddContent(ctx, &roomRepo.AddContentParams{ContentIDs: []string{"video-1"}}))

	created, err := env.service.CreateRoom(ctx, &CreateRoomParams{ContentID: "video-1"})
	require.NoError(t, err)
	roomID := created.RoomID

	env.connect(t, roomID, "A", "")
	_, err = env.service.Control(ctx, &ControlParams{
		RoomID: roomID, ClientID: "A", Action: "PLAY", Position: position(1000), Revision: 1,
		ReceivedAt: clock.Now(),
	})
	require.NoError(t, err)

	// a fresh process sharing the same store
	clock.Advance(2 * time.Second)
	restarted := newTestEnv(t, rc, clock)

	state, err := restarted.service.GetRoomState(ctx, roomID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), state.Revision)
	assert.Equal(t, int64(3000), state.Position)

	conn := restarted.connect(t, roomID, "B", "")
	_, out := conn.last(t)
	assert.Equal(t, int64(2), out.Revision)
	assert.False(t, out.IsPlaying)
	assert.Equal(t, int64(3000), out.Position)
	assert.Equal(t, "B", out.Host)

	_, err = restarted.service.CreateRoom(ctx, &CreateRoomParams{RoomID: roomID, ContentID: "video-1"})
	assert.ErrorIs(t, err, domain.ErrRoomExists)
}
