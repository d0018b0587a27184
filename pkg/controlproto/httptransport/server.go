// Package httptransport exposes ToolSurface over HTTP with gin, plus a
// durable-cursor-then-live-tail SSE endpoint for job events (spec §6).
//
// The route shape — a health endpoint aggregating store/worker/index
// state, a body-size-limited POST path that binds a request, validates
// it, calls into the service layer, and maps the resulting error through
// a single mapServiceError-style function — is grounded on tarsy's
// pkg/api/server.go and handler_alert.go. Those files are themselves
// written against echo v5 despite tarsy's own go.mod declaring gin as
// its direct HTTP dependency; this package follows tarsy's go.mod (and
// this module's) rather than the echo import actually present in the
// retrieved source.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/corvid-labs/orchestrator/pkg/config"
	"github.com/corvid-labs/orchestrator/pkg/controlproto"
	"github.com/corvid-labs/orchestrator/pkg/events"
	"github.com/corvid-labs/orchestrator/pkg/store"
)

// Server is the HTTP front end for ToolSurface.
type Server struct {
	engine      *gin.Engine
	httpServer  *http.Server
	dispatcher  *controlproto.Dispatcher
	store       *store.Store
	broadcaster *events.Broadcaster
	cfg         config.ControlProtoConfig
	log         *slog.Logger
}

// New builds a Server. pool may be nil, in which case no broadcaster is
// created and the job
// events endpoint serves only the durable backlog and never live-tails
// (acceptable for an in-memory Store, which has no LISTEN/NOTIFY).
func New(dispatcher *controlproto.Dispatcher, s *store.Store, pool *pgxpool.Pool, cfg config.ControlProtoConfig, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	gin.SetMode(gin.ReleaseMode)
	e := gin.New()
	e.Use(gin.Recovery())
	e.MaxMultipartMemory = 2 << 20 // 2 MiB, mirrors the body-size ceiling below

	var broadcaster *events.Broadcaster
	if pool != nil {
		broadcaster = events.NewBroadcaster(pool, log)
	}

	srv := &Server{
		engine: e, store: s, dispatcher: dispatcher,
		broadcaster: broadcaster, cfg: cfg, log: log,
	}
	srv.setupRoutes()
	return srv
}

// bodyLimit rejects request bodies above 2 MiB, set above any plausible
// attachment payload to account for JSON envelope overhead.
const bodyLimit = 2 * 1024 * 1024

func (s *Server) setupRoutes() {
	s.engine.Use(func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, bodyLimit)
		c.Next()
	})

	s.engine.GET("/health", s.healthHandler)

	v1 := s.engine.Group("/api/v1")
	v1.POST("/tools/:name", s.toolHandler)
	v1.POST("/jobs/:id/cancel", s.cancelJobHandler)
	v1.GET("/jobs/:id/events", s.jobEventsHandler)
}

// Start serves on addr, blocking until the server stops or ctx is done.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.engine, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- s.httpServer.ListenAndServe() }()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) healthHandler(c *gin.Context) {
	resp, verr := s.dispatcher.Dispatch(c.Request.Context(), "get_server_status", nil, 0)
	if verr != nil {
		writeError(c, verr)
		return
	}
	c.JSON(http.StatusOK, resp)
}
