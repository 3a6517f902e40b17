package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()

	m.CommandHandled("SEEK", "applied")
	m.CommandHandled("SEEK", "applied")
	m.CommandHandled("SEEK", "superseded")
	m.SnapshotEmitted("STATE_SYNC")
	m.HeartbeatTimedOut(2)
	m.SetActiveRooms(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.commands.WithLabelValues("SEEK", "applied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.commands.WithLabelValues("SEEK", "superseded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.snapshots.WithLabelValues("STATE_SYNC")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.heartbeatTimeout))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.activeRooms))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "watchparty_commands_total")
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.CommandHandled("PLAY", "applied")
		m.SnapshotEmitted("PRESENCE_UPDATE")
		m.ConnectionOverflowed()
		m.SetConnections(1)
	})
}
