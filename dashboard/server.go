// Package dashboard serves a local ops surface for the pipeline: delivery
// stats, Prometheus metrics and a websocket live tail of delivered entries.
package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opsmith/beacon/logging"
	"github.com/opsmith/beacon/transport"
)

// StatsSource is a snapshot provider; the cmd wiring adapts the pipeline
// components into one.
type StatsSource func() map[string]interface{}

type Server struct {
	addr       string
	registry   *prometheus.Registry
	stats      StatsSource
	transport  *transport.Transport
	httpServer *http.Server

	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]chan []logging.Entry
}

type ServerConfig struct {
	Addr      string
	Registry  *prometheus.Registry
	Stats     StatsSource
	Transport *transport.Transport
}

func NewServer(cfg ServerConfig) *Server {
	return &Server{
		addr:      cfg.Addr,
		registry:  cfg.Registry,
		stats:     cfg.Stats,
		transport: cfg.Transport,
		upgrader: websocket.Upgrader{
			// Local-only ops surface; same-origin enforcement is not
			// useful on localhost.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]chan []logging.Entry),
	}
}

func (s *Server) buildMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/ws/tail", s.handleTail)
	if s.registry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}
	return mux
}

func (s *Server) testHandler() http.Handler {
	return s.buildMux()
}

func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:    s.addr,
		Handler: s.buildMux(),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{}
	if s.stats != nil {
		stats = s.stats()
	}
	if s.transport != nil {
		stats["transport"] = s.transport.Stats()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// handleTail upgrades to a websocket and streams delivered batches until the
// client goes away. Slow clients drop batches rather than stall the
// pipeline.
func (s *Server) handleTail(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	ch := make(chan []logging.Entry, 16)
	s.mu.Lock()
	s.clients[conn] = ch
	s.mu.Unlock()

	// The read pump is what notices a disconnect: a write to a freshly
	// closed peer can still land in the socket buffer, so the write loop
	// alone cannot be trusted to fail promptly. Dropping the client closes
	// ch, which ends the write loop below.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.dropClient(conn)
				return
			}
		}
	}()

	for batch := range ch {
		if err := conn.WriteJSON(batch); err != nil {
			break
		}
	}
	s.dropClient(conn)
}

// dropClient deregisters conn and closes its channel. Safe to call from both
// the read pump and the write loop; only the first call does the work.
func (s *Server) dropClient(conn *websocket.Conn) {
	s.mu.Lock()
	ch, ok := s.clients[conn]
	if ok {
		delete(s.clients, conn)
	}
	s.mu.Unlock()

	if ok {
		close(ch)
	}
	conn.Close()
}

// Broadcast fans a delivered batch out to every tail client. Wire it to the
// transport's OnSend hook.
func (s *Server) Broadcast(batch []logging.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.clients {
		select {
		case ch <- batch:
		default:
		}
	}
}
