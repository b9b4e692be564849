package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Refresh metrics
	RefreshesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "detoxmine_refreshes_total",
			Help: "Total usage refreshes by result",
		},
		[]string{"result"},
	)

	ProviderQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "detoxmine_provider_query_duration_seconds",
			Help:    "Usage provider query duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"frequency"},
	)

	ScreenTimeToday = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "detoxmine_screen_time_today_seconds",
			Help: "Total foreground time of displayed applications in the current window",
		},
	)

	DisplayedApps = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "detoxmine_displayed_apps",
			Help: "Number of applications in the current display list",
		},
	)

	// Permission metrics
	PermissionGranted = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "detoxmine_permission_granted",
			Help: "Whether usage access is currently granted (1) or not (0)",
		},
	)

	PermissionRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "detoxmine_permission_requests_total",
			Help: "Total permission requests by outcome",
		},
		[]string{"outcome"},
	)

	// Goal metrics
	GoalReportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "detoxmine_goal_reports_total",
			Help: "Total daily goal reports by result",
		},
		[]string{"result"},
	)

	GoalsFinalizedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "detoxmine_goals_finalized_total",
			Help: "Total finalized goals by status",
		},
		[]string{"status"},
	)

	// Storage metrics
	SnapshotsPruned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "detoxmine_snapshots_pruned_total",
			Help: "Total daily snapshots removed by retention",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		RefreshesTotal,
		ProviderQueryDuration,
		ScreenTimeToday,
		DisplayedApps,
		PermissionGranted,
		PermissionRequestsTotal,
		GoalReportsTotal,
		GoalsFinalizedTotal,
		SnapshotsPruned,
	)
}

// Server is the metrics HTTP server
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// HealthCheck reports whether the service can do useful work.
type HealthCheck func() error

// NewServer creates a new metrics server. health may be nil.
func NewServer(addr string, health HealthCheck, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if health != nil {
			if err := health(); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(err.Error()))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the metrics server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	go func() {
		var err error
		if s.listener != nil {
			// Use systemd socket-activated listener
			s.logger.Debug().Msg("Using systemd socket-activated metrics listener")
			err = s.server.Serve(s.listener)
		} else {
			// Create and bind listener ourselves
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Close()
}
