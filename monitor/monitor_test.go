package monitor

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMonitor_Counters(t *testing.T) {
	m := NewMonitor("geoguess")

	m.GameStarted()
	m.GameStarted()
	m.GameFinished("completed")
	m.GuessAccepted(3 * time.Millisecond)
	m.RoundClosed("timeout")
	m.RoundClosed("timeout")
	m.RoundClosed("all_guessed")

	if got := testutil.ToFloat64(m.metrics.ActiveGames); got != 1 {
		t.Errorf("Expected 1 active game, got %v", got)
	}
	if got := testutil.ToFloat64(m.metrics.RoundsClosed.WithLabelValues("timeout")); got != 2 {
		t.Errorf("Expected 2 timeout closures, got %v", got)
	}
	if got := testutil.ToFloat64(m.metrics.GamesFinished.WithLabelValues("completed")); got != 1 {
		t.Errorf("Expected 1 completed game, got %v", got)
	}
	if got := testutil.ToFloat64(m.metrics.GuessesTotal); got != 1 {
		t.Errorf("Expected 1 guess, got %v", got)
	}
}

func TestMonitor_NilSafe(t *testing.T) {
	var m *Monitor
	m.IncConnections()
	m.DecConnections()
	m.GameStarted()
	m.GameFinished("aborted")
	m.GuessAccepted(time.Millisecond)
	m.RoundClosed("aborted")
	m.SetActiveRooms(3)
	m.IncDropped()
}

func TestMonitor_Handler(t *testing.T) {
	m := NewMonitor("geoguess")
	m.IncConnections()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	for _, name := range []string{"geoguess_online_connections 1", "geoguess_uptime_seconds"} {
		if !strings.Contains(string(body), name) {
			t.Errorf("Expected %q in metrics output", name)
		}
	}
}

func TestMonitor_SeparateRegistries(t *testing.T) {
	// Two monitors in one process must not collide on registration.
	NewMonitor("geoguess")
	NewMonitor("geoguess")
}
