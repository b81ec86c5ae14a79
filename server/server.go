package server

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/gorilla/websocket"

	"github.com/wfunc/geoguess/auth"
	"github.com/wfunc/geoguess/broadcast"
	"github.com/wfunc/geoguess/catalog"
	"github.com/wfunc/geoguess/config"
	"github.com/wfunc/geoguess/logger"
	"github.com/wfunc/geoguess/monitor"
	"github.com/wfunc/geoguess/persistence"
	"github.com/wfunc/geoguess/rpc"
	"github.com/wfunc/geoguess/services"
)

const defaultHeartbeat = 60 * time.Second

// Deps are the collaborators the server is assembled from. Relay and
// Monitor are optional.
type Deps struct {
	Config  *config.Config
	Auth    auth.Provider
	Store   persistence.Store
	Catalog catalog.Catalog
	Relay   broadcast.Relay
	Monitor *monitor.Monitor
}

type GameServer struct {
	cfg       *config.Config
	auth      auth.Provider
	store     persistence.Store
	catalog   catalog.Catalog
	monitor   *monitor.Monitor
	hub       *broadcast.Hub
	parties   *services.PartyService
	games     *services.GameService
	upgrader  websocket.Upgrader
	heartbeat time.Duration
	router    chi.Router

	httpServer    *http.Server
	rpcServer     *rpc.Server
	metricsServer *http.Server
}

// NewGameServer builds the connection hub and the party and game services
// around it, and mounts the HTTP routes.
func NewGameServer(d Deps) (*GameServer, error) {
	s := &GameServer{
		cfg:       d.Config,
		auth:      d.Auth,
		store:     d.Store,
		catalog:   d.Catalog,
		monitor:   d.Monitor,
		heartbeat: defaultHeartbeat,
	}

	s.hub = broadcast.NewHub(broadcast.WithMonitor(d.Monitor))
	if d.Relay != nil {
		if err := s.hub.SetRelay(d.Relay); err != nil {
			return nil, err
		}
	}

	locks := services.NewKeyedMutex()
	s.parties = services.NewPartyService(d.Store, s.hub, locks, d.Config.Game.CodeLength)
	opts := []services.GameOption{}
	if d.Monitor != nil {
		opts = append(opts, services.WithMetrics(d.Monitor))
	}
	s.games = services.NewGameService(d.Store, d.Catalog, s.hub, locks, d.Config.Game, opts...)
	s.parties.SetGameHooks(s.games)

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	s.router = s.routes()
	return s, nil
}

func (s *GameServer) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	if s.cfg.Server.RateLimit > 0 {
		r.Use(httprate.LimitByIP(s.cfg.Server.RateLimit, time.Minute))
	}

	r.Get("/health", s.handleHealth)
	r.Get("/maps", s.handleMaps)
	r.Get("/websocket/stats", s.handleStats)
	r.Get("/party/code/{code}/qr", s.handlePartyQR)
	r.Get("/ws", s.handleWebSocket)
	if s.monitor != nil {
		r.Handle("/metrics", s.monitor.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(s.auth))

		r.Post("/party", s.handleCreateParty)
		r.Post("/party/join", s.handleJoinParty)
		r.Post("/party/leave", s.handleLeaveParty)
		r.Get("/party/{id}", s.handleGetParty)

		r.Post("/game/start", s.handleStartGame)
		r.Get("/game/{id}", s.handleGetGame)
		r.Post("/game/{id}/round/{roundId}/guess", s.handleGuess)
		r.Post("/game/{id}/abort", s.handleAbort)
	})
	return r
}

func (s *GameServer) Handler() http.Handler {
	return s.router
}

func (s *GameServer) Hub() *broadcast.Hub {
	return s.hub
}

func (s *GameServer) Games() *services.GameService {
	return s.games
}

func (s *GameServer) Parties() *services.PartyService {
	return s.parties
}

// Start recovers running games, starts the RPC and metrics listeners when
// configured, and serves HTTP until Shutdown.
func (s *GameServer) Start(ctx context.Context) error {
	if err := s.games.Recover(ctx); err != nil {
		return err
	}

	if addr := s.cfg.Server.RPCAddress; addr != "" {
		rpcServer, err := rpc.NewServer(addr, s.hub, s.store)
		if err != nil {
			return err
		}
		s.rpcServer = rpcServer
		go rpcServer.Start()
	}
	if addr := s.cfg.Server.MetricsAddress; addr != "" && s.monitor != nil {
		s.metricsServer = s.monitor.StartServer(addr)
	}

	s.httpServer = &http.Server{
		Addr:              s.cfg.Server.HTTPAddress,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	logger.Log.Infof("Game server listening on %s", s.cfg.Server.HTTPAddress)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, then closes every session, timer and listener.
func (s *GameServer) Shutdown(ctx context.Context) error {
	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}
	if s.rpcServer != nil {
		s.rpcServer.Stop()
	}
	if s.metricsServer != nil {
		_ = s.metricsServer.Shutdown(ctx)
	}
	s.hub.Close()
	s.games.Close()
	logger.Log.Info("Game server stopped")
	return err
}

func (s *GameServer) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	allowed := s.cfg.Server.CORSOrigins
	return slices.Contains(allowed, "*") || slices.Contains(allowed, origin)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		defer func() {
			logger.Log.Infow("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"remote", r.RemoteAddr,
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}
