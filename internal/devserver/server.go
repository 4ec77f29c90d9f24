// Package devserver serves a directory over HTTP and pushes live-reload
// commands to connected pages when files under it change.
package devserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/lawnchairsociety/livereload/internal/config"
	"github.com/lawnchairsociety/livereload/internal/logger"
	"github.com/lawnchairsociety/livereload/internal/notify"
)

type Server struct {
	cfg         *config.ServerConfig
	broadcaster *notify.Broadcaster
	connLimiter *ConnLimiter
	upgrader    websocket.Upgrader
	httpServer  *http.Server
	watcher     *Watcher

	mu       sync.Mutex // Protects clients and listener
	clients  map[string]*client
	listener net.Listener
	wg       sync.WaitGroup

	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// New creates a Server for cfg. Call Start to listen.
func New(cfg *config.ServerConfig) *Server {
	s := &Server{
		cfg:         cfg,
		broadcaster: notify.NewBroadcaster(notify.DefaultBuffer),
		connLimiter: NewConnLimiter(cfg.Connections),
		clients:     make(map[string]*client),
		shutdown:    make(chan struct{}),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			allowed := s.cfg.WebSocket.IsOriginAllowed(origin, r.Host)
			if !allowed {
				logger.Warning("WebSocket connection rejected - origin not allowed",
					"origin", origin,
					"host", r.Host,
					"remote_addr", r.RemoteAddr)
			}
			return allowed
		},
	}
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler routes the live-reload endpoint and serves static files for
// everything else.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Path, s.handleWebSocketUpgrade)
	mux.Handle("/", noCache(http.FileServer(http.Dir(s.cfg.Root))))
	return mux
}

// Start watches the root (if enabled) and serves until Shutdown.
func (s *Server) Start() error {
	if s.cfg.Watch.Enabled {
		w, err := NewWatcher(s.cfg.Root, s.cfg.Watch.Ignore, s.broadcaster)
		if err != nil {
			return err
		}
		s.mu.Lock()
		select {
		case <-s.shutdown:
			s.mu.Unlock()
			w.Close()
			return nil
		default:
		}
		s.watcher = w
		s.mu.Unlock()
		go w.Run()
	}

	listener, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	logger.Info("Dev server listening",
		"address", listener.Addr().String(),
		"root", s.cfg.Root,
		"path", s.cfg.Path)

	if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr returns the listen address once Start is running.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Notify asks every connected page to reload.
func (s *Server) Notify() int {
	return s.broadcaster.Notify()
}

// NotifyCSS asks every connected page to refresh the stylesheet at path.
func (s *Server) NotifyCSS(path string) int {
	return s.broadcaster.NotifyCSS(path)
}

// ClientCount returns the number of connected pages.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Shutdown stops the watcher, tells every client the server is going away
// and waits for them to disconnect or ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		close(s.shutdown)

		s.mu.Lock()
		if s.watcher != nil {
			s.watcher.Close()
		}
		clients := make([]*client, 0, len(s.clients))
		for _, c := range s.clients {
			clients = append(clients, c)
		}
		s.mu.Unlock()

		for _, c := range clients {
			c.goAway()
		}
		s.broadcaster.Close()

		err = s.httpServer.Shutdown(ctx)

		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			if err == nil {
				err = ctx.Err()
			}
		}

		logger.Info("Dev server shutdown complete", "clients", len(clients))
	})
	return err
}

// handleWebSocketUpgrade upgrades a page's live-reload request.
func (s *Server) handleWebSocketUpgrade(w http.ResponseWriter, r *http.Request) {
	select {
	case <-s.shutdown:
		http.Error(w, "Server is shutting down.", http.StatusServiceUnavailable)
		return
	default:
	}

	ip := clientIP(r)
	if !s.connLimiter.TryAcquire(ip) {
		logger.Warning("WebSocket connection rejected - limit exceeded",
			"remote_addr", r.RemoteAddr,
			"client_ip", ip)
		http.Error(w, "Too many connections. Please try again later.", http.StatusTooManyRequests)
		return
	}

	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("WebSocket upgrade failed", "error", err)
		s.connLimiter.Release(ip)
		return
	}

	c := &client{
		id:   uuid.NewString(),
		ip:   ip,
		conn: wsConn,
		sub:  s.broadcaster.Subscribe(),
		done: make(chan struct{}),
	}

	if !s.register(c) {
		logger.Info("Client rejected - server shutting down", "remote_addr", r.RemoteAddr)
		c.goAway()
		c.sub.Close()
		wsConn.Close()
		s.connLimiter.Release(ip)
		return
	}

	go s.handleClient(c)
}

// register adds c to the client set unless Shutdown has started. Shutdown
// takes the same lock before it snapshots clients and waits on wg, so every
// registered client gets going-away and is waited for.
func (s *Server) register(c *client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.shutdown:
		return false
	default:
	}
	s.clients[c.id] = c
	s.wg.Add(1)
	return true
}

// handleClient runs a client's pumps and cleans up when it disconnects.
func (s *Server) handleClient(c *client) {
	defer func() {
		s.mu.Lock()
		delete(s.clients, c.id)
		s.mu.Unlock()

		c.sub.Close()
		c.conn.Close()
		s.connLimiter.Release(c.ip)
		s.wg.Done()
	}()

	logger.Info("Client connected", "client", c.id, "remote_addr", c.conn.RemoteAddr().String())

	go c.writePump()
	code := c.readPump(s.cfg.WebSocket.MaxMessageSize)

	logger.Info("Client disconnected", "client", c.id, "code", code)
}

// noCache keeps browsers from serving stale files between reloads.
func noCache(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache")
		next.ServeHTTP(w, r)
	})
}
