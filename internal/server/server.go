// Package server exposes the macro store and the interaction log over
// WebSocket RPC sessions and a small read-only HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sackio/unibrowse-sub002/internal/browser"
	"github.com/sackio/unibrowse-sub002/internal/config"
	"github.com/sackio/unibrowse-sub002/internal/interaction"
	"github.com/sackio/unibrowse-sub002/internal/macro"
	"github.com/sackio/unibrowse-sub002/internal/rpc"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Server owns the HTTP listener and every RPC session opened through it.
type Server struct {
	cfg          config.ServerConfig
	rpcOpts      rpc.Options
	macros       *macro.Store
	interactions *interaction.Log
	extension    *browser.ExtensionExecutor
	dispatcher   *Dispatcher
	logger       *zap.Logger

	router   *gin.Engine
	upgrader websocket.Upgrader

	ctx      context.Context
	cancel   context.CancelFunc
	sessions sync.WaitGroup

	// mu orders sessions.Add against Close so no session starts after Wait.
	mu     sync.Mutex
	closed bool
}

// New wires the routes. extension may be nil, in which case /extension is
// refused.
func New(cfg config.Interface, macros *macro.Store, interactions *interaction.Log, extension *browser.ExtensionExecutor, logger *zap.Logger) *Server {
	log := logger.Named("server")
	rpcCfg := cfg.RPC()
	serverCfg := cfg.Server()

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:          serverCfg,
		macros:       macros,
		interactions: interactions,
		extension:    extension,
		dispatcher:   NewDispatcher(macros, interactions, logger),
		logger:       log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browser extensions connect from chrome-extension:// origins.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		ctx:    ctx,
		cancel: cancel,
	}
	s.rpcOpts = rpc.Options{
		Timeouts:   rpc.Timeouts{Default: rpcCfg.DefaultTimeout, Execute: rpcCfg.ExecuteTimeout},
		Handler:    s.dispatcher,
		RateLimit:  rpcCfg.RateLimit,
		RateBurst:  rpcCfg.RateBurst,
		SendBuffer: rpcCfg.SendBuffer,
		ReadLimit:  serverCfg.ReadLimit,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	router := gin.New()
	router.Use(requestLogger(s.logger), gin.Recovery(), corsMiddleware())

	router.GET("/health", s.health)
	router.GET("/ws", s.serveClient)
	router.GET("/extension", s.serveExtension)

	api := router.Group("/api")
	{
		api.GET("/macros", s.listMacros)
		api.GET("/macros/:id", s.getMacro)
		api.GET("/interactions", s.listInteractions)
	}
	return router
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler { return s.router }

// Run listens on the configured address until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then shuts the
// HTTP server down and closes every open session.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("Server listening.", zap.String("addr", ln.Addr().String()))
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		timeout := s.cfg.ShutdownTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		s.logger.Info("Shutting down server.")
		err := httpServer.Shutdown(shutdownCtx)
		s.Close()
		if err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// Close ends every open session and waits for them to finish.
// Hijacked websocket connections are not tracked by http.Server.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	s.cancel()
	s.mu.Unlock()
	s.sessions.Wait()
}

// track registers a session with the server. It returns false once Close
// has been called; the caller must call sessions.Done otherwise.
func (s *Server) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.ctx.Err() != nil {
		return false
	}
	s.sessions.Add(1)
	return true
}

func refuseShutdown(c *gin.Context) {
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": "server is shutting down"})
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":       "ok",
		"macros":       s.macros.Len(),
		"interactions": s.interactions.Len(),
		"extension":    s.extension != nil && s.extension.Attached(),
	})
}

// openSession upgrades the request and starts a session bound to the
// server's lifetime. It returns nil if the upgrade failed.
func (s *Server) openSession(c *gin.Context) *rpc.Session {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// The upgrader has already written an HTTP error.
		s.logger.Warn("Failed to upgrade connection.", zap.Error(err), zap.String("remote_addr", c.Request.RemoteAddr))
		return nil
	}
	session := rpc.NewSession(conn, s.logger, s.rpcOpts)
	session.Start(s.ctx)
	return session
}

func (s *Server) serveClient(c *gin.Context) {
	if !s.track() {
		refuseShutdown(c)
		return
	}
	defer s.sessions.Done()

	session := s.openSession(c)
	if session == nil {
		return
	}
	s.logger.Info("Client connected.", zap.String("session_id", session.ID()))
	<-session.Done()
	session.Wait()
	s.logger.Info("Client disconnected.", zap.String("session_id", session.ID()), zap.Error(session.Err()))
}

func (s *Server) serveExtension(c *gin.Context) {
	if s.extension == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "browser extension executor is disabled"})
		return
	}
	if !s.track() {
		refuseShutdown(c)
		return
	}
	defer s.sessions.Done()

	session := s.openSession(c)
	if session == nil {
		return
	}
	s.extension.Attach(session)
	<-session.Done()
	s.extension.Detach(session)
	session.Wait()
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("HTTP request.",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
