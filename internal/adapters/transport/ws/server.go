// Package ws serves the deployment console over HTTP: a health endpoint, the
// websocket session channel and, optionally, Prometheus metrics.
package ws

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/bnema/deployctl/internal/application"
	"github.com/bnema/deployctl/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	HealthPath  = "/api/health"
	SocketPath  = "/socket"
	MetricsPath = "/metrics"

	// timestampLayout matches JavaScript's Date.toISOString.
	timestampLayout = "2006-01-02T15:04:05.000Z07:00"
)

// Supervisor is the part of the application the transport drives.
type Supervisor interface {
	Connect(id domain.SessionID) *application.Session
	WorkspaceDir() string
}

type Options struct {
	Addr string
	// AllowedOrigins lists origins allowed to open a session; "*" allows
	// any.
	AllowedOrigins []string
	Metrics        http.Handler
	Logger         *slog.Logger
	Now            func() time.Time
	NewSessionID   func() domain.SessionID
}

type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Workspace string `json:"workspace"`
}

type Server struct {
	sup      Supervisor
	router   *gin.Engine
	server   *http.Server
	upgrader websocket.Upgrader
	opts     Options
	log      *slog.Logger

	mu       sync.Mutex
	conns    map[*websocket.Conn]struct{}
	closing  bool
	channels sync.WaitGroup
}

func NewServer(sup Supervisor, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewSessionID == nil {
		opts.NewSessionID = func() domain.SessionID { return domain.SessionID(uuid.NewString()) }
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(opts.Logger), cors(opts.AllowedOrigins))

	s := &Server{
		sup:    sup,
		router: router,
		opts:   opts,
		log:    opts.Logger,
		conns:  make(map[*websocket.Conn]struct{}),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	s.server = &http.Server{
		Addr:              opts.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.router.GET(HealthPath, s.handleHealth)
	s.router.GET(SocketPath, s.handleSocket)
	if s.opts.Metrics != nil {
		s.router.GET(MetricsPath, gin.WrapH(s.opts.Metrics))
	}
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve accepts connections on l until Shutdown.
func (s *Server) Serve(l net.Listener) error {
	s.log.Info("http server listening", "addr", l.Addr().String(), "workspace", s.sup.WorkspaceDir())
	if err := s.server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) ListenAndServe() error {
	l, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	return s.Serve(l)
}

// Shutdown stops accepting requests, closes every session channel and waits
// for their sessions to disconnect.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("http server shutting down")
	err := s.server.Shutdown(ctx)

	s.mu.Lock()
	s.closing = true
	for conn := range s.conns {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		_ = conn.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.channels.Wait()
		close(done)
	}()
	select {
	case <-done:
		return err
	case <-ctx.Done():
		return errors.Join(err, ctx.Err())
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: s.opts.Now().UTC().Format(timestampLayout),
		Workspace: s.sup.WorkspaceDir(),
	})
}

func (s *Server) handleSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "remote", c.ClientIP(), "error", err)
		return
	}
	if !s.track(conn) {
		_ = conn.Close()
		return
	}
	defer s.untrack(conn)

	id := s.opts.NewSessionID()
	ch := &channel{
		conn:    conn,
		session: s.sup.Connect(id),
		log:     s.log,
	}
	ch.serve(context.WithoutCancel(c.Request.Context()))
}

func (s *Server) track(conn *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.conns[conn] = struct{}{}
	s.channels.Add(1)
	return true
}

func (s *Server) untrack(conn *websocket.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	s.channels.Done()
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if slices.Contains(s.opts.AllowedOrigins, "*") {
		return true
	}
	origin := r.Header.Get("Origin")
	return origin == "" || slices.Contains(s.opts.AllowedOrigins, origin)
}

func cors(allowed []string) gin.HandlerFunc {
	allowAll := slices.Contains(allowed, "*")
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		switch {
		case allowAll:
			c.Header("Access-Control-Allow-Origin", "*")
		case origin != "" && slices.Contains(allowed, origin):
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
		}
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func requestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
