// Package rpc serves the internal gRPC surface: the standard health service
// and a diagnostics service for operators.
package rpc

import (
	"context"
	"errors"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/wfunc/geoguess/broadcast"
	"github.com/wfunc/geoguess/logger"
	"github.com/wfunc/geoguess/models"
	"github.com/wfunc/geoguess/persistence"
)

const (
	DiagnosticsService = "geoguess.Diagnostics"
	statsMethod        = "/" + DiagnosticsService + "/Stats"
)

// StatsSource is the part of the hub diagnostics reads.
type StatsSource interface {
	Stats() broadcast.Stats
}

type StatsRequest struct{}

type StatsReply struct {
	Connections int            `json:"connections"`
	Rooms       int            `json:"rooms"`
	PerRoom     map[string]int `json:"per_room"`
	ActiveGames int            `json:"active_games"`
}

// DiagnosticsServer is the handler type of the diagnostics service.
type DiagnosticsServer interface {
	Stats(ctx context.Context, req *StatsRequest) (*StatsReply, error)
}

type diagnostics struct {
	hub   StatsSource
	store persistence.Store
}

func (d *diagnostics) Stats(ctx context.Context, _ *StatsRequest) (*StatsReply, error) {
	stats := d.hub.Stats()
	reply := &StatsReply{
		Connections: stats.Connections,
		Rooms:       stats.Rooms,
		PerRoom:     stats.PerRoom,
	}
	if d.store != nil {
		games, err := d.store.ListGamesByStatus(ctx, models.GameStatusInProgress)
		if err != nil {
			return nil, err
		}
		reply.ActiveGames = len(games)
	}
	return reply, nil
}

func statsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(StatsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DiagnosticsServer).Stats(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: statsMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(DiagnosticsServer).Stats(ctx, req.(*StatsRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var diagnosticsDesc = grpc.ServiceDesc{
	ServiceName: DiagnosticsService,
	HandlerType: (*DiagnosticsServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Stats", Handler: statsHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "geoguess/diagnostics",
}

// Server manages the gRPC listener.
type Server struct {
	grpc     *grpc.Server
	health   *health.Server
	listener net.Listener
	address  string
}

// NewServer listens on addr and registers the health and diagnostics services.
func NewServer(addr string, hub StatsSource, store persistence.Store) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	g := grpc.NewServer(grpc.UnaryInterceptor(logCalls))
	h := health.NewServer()
	healthpb.RegisterHealthServer(g, h)
	g.RegisterService(&diagnosticsDesc, &diagnostics{hub: hub, store: store})
	h.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	h.SetServingStatus(DiagnosticsService, healthpb.HealthCheckResponse_SERVING)

	return &Server{
		grpc:     g,
		health:   h,
		listener: listener,
		address:  listener.Addr().String(),
	}, nil
}

// Addr is the bound address, useful when listening on port 0.
func (s *Server) Addr() string {
	return s.address
}

// Start serves until Stop is called.
func (s *Server) Start() {
	logger.Log.Infof("RPC server listening on %s", s.address)
	if err := s.grpc.Serve(s.listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		logger.Log.Errorf("RPC server error: %v", err)
	}
}

// Stop marks the server not serving and drains in-flight calls.
func (s *Server) Stop() {
	logger.Log.Info("Stopping RPC server.")
	s.health.Shutdown()
	s.grpc.GracefulStop()
}

func logCalls(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	resp, err := handler(ctx, req)
	if err != nil {
		logger.Log.Warnw("rpc call failed", "method", info.FullMethod, "error", err)
	}
	return resp, err
}

// Client calls the diagnostics service.
type Client struct {
	conn *grpc.ClientConn
}

func NewClient(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Stats(ctx context.Context) (*StatsReply, error) {
	reply := new(StatsReply)
	err := c.conn.Invoke(ctx, statsMethod, &StatsRequest{}, reply, grpc.CallContentSubtype(jsonCodecName))
	if err != nil {
		return nil, err
	}
	return reply, nil
}

// Health checks the overall serving status.
func (c *Client) Health(ctx context.Context) (healthpb.HealthCheckResponse_ServingStatus, error) {
	resp, err := healthpb.NewHealthClient(c.conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.GetStatus(), nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}
