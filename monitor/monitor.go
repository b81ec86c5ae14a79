package monitor

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	OnlineConnections prometheus.Gauge
	ActiveRooms       prometheus.Gauge
	ActiveGames       prometheus.Gauge
	GuessesTotal      prometheus.Counter
	RoundsClosed      *prometheus.CounterVec
	GamesFinished     *prometheus.CounterVec
	GuessLatency      prometheus.Histogram
	BroadcastDropped  prometheus.Counter
}

func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OnlineConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online_connections",
			Help:      "Number of open websocket connections",
		}),
		ActiveRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_rooms",
			Help:      "Number of broadcast rooms with at least one connection",
		}),
		ActiveGames: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_games",
			Help:      "Number of games in progress",
		}),
		GuessesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guesses_total",
			Help:      "Total number of accepted guesses",
		}),
		RoundsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rounds_closed_total",
			Help:      "Rounds closed, by close reason",
		}, []string{"reason"}),
		GamesFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "games_finished_total",
			Help:      "Games that reached a terminal status",
		}, []string{"status"}),
		GuessLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "guess_latency_seconds",
			Help:      "Guess processing latency",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 10),
		}),
		BroadcastDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_dropped_sessions_total",
			Help:      "Sessions dropped after a failed send",
		}),
	}

	reg.MustRegister(
		m.OnlineConnections,
		m.ActiveRooms,
		m.ActiveGames,
		m.GuessesTotal,
		m.RoundsClosed,
		m.GamesFinished,
		m.GuessLatency,
		m.BroadcastDropped,
	)

	return m
}

// Monitor owns a private registry so several servers can live in one process.
// All methods are safe on a nil *Monitor.
type Monitor struct {
	metrics   *Metrics
	registry  *prometheus.Registry
	startTime time.Time
}

func NewMonitor(namespace string) *Monitor {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := &Monitor{
		metrics:   NewMetrics(namespace, reg),
		registry:  reg,
		startTime: time.Now(),
	}
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "uptime_seconds",
		Help:      "Seconds since the server started",
	}, func() float64 {
		return time.Since(m.startTime).Seconds()
	}))
	return m
}

func (m *Monitor) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// StartServer serves /metrics on its own listener.
func (m *Monitor) StartServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}

func (m *Monitor) IncConnections() {
	if m != nil {
		m.metrics.OnlineConnections.Inc()
	}
}

func (m *Monitor) DecConnections() {
	if m != nil {
		m.metrics.OnlineConnections.Dec()
	}
}

func (m *Monitor) SetActiveRooms(count int) {
	if m != nil {
		m.metrics.ActiveRooms.Set(float64(count))
	}
}

func (m *Monitor) IncDropped() {
	if m != nil {
		m.metrics.BroadcastDropped.Inc()
	}
}

func (m *Monitor) GameStarted() {
	if m != nil {
		m.metrics.ActiveGames.Inc()
	}
}

func (m *Monitor) GameFinished(status string) {
	if m != nil {
		m.metrics.ActiveGames.Dec()
		m.metrics.GamesFinished.WithLabelValues(status).Inc()
	}
}

func (m *Monitor) GuessAccepted(latency time.Duration) {
	if m != nil {
		m.metrics.GuessesTotal.Inc()
		m.metrics.GuessLatency.Observe(latency.Seconds())
	}
}

func (m *Monitor) RoundClosed(reason string) {
	if m != nil {
		m.metrics.RoundsClosed.WithLabelValues(reason).Inc()
	}
}
