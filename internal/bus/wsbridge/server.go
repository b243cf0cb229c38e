package wsbridge

import (
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/hay-kot/databus/internal/core/messaging"
)

// ServerOptions configures a Server.
type ServerOptions struct {
	// AllowedOrigins lists the Origin header values accepted on upgrade.
	// Empty allows same-host origins and clients that send no Origin.
	AllowedOrigins []string
	Settings       Settings
}

// Server is an http.Handler that bridges websocket clients onto a bus.
// The pattern query parameter limits which bus envelopes a client
// receives; it defaults to "**".
type Server struct {
	bus      messaging.Bus
	log      zerolog.Logger
	opts     ServerOptions
	upgrader websocket.Upgrader

	mu     sync.Mutex
	conns  map[string]*conn
	closed bool
	wg     sync.WaitGroup
}

func NewServer(bus messaging.Bus, log zerolog.Logger, opts ServerOptions) *Server {
	opts.Settings = opts.Settings.withDefaults()

	s := &Server{
		bus:   bus,
		log:   log.With().Str("component", "wsbridge").Logger(),
		opts:  opts,
		conns: make(map[string]*conn),
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(s.opts.AllowedOrigins) == 0 {
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return strings.EqualFold(u.Host, r.Host)
	}

	return slices.ContainsFunc(s.opts.AllowedOrigins, func(allowed string) bool {
		return allowed == "*" || strings.EqualFold(allowed, origin)
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	pattern, err := normalizePattern(r.URL.Query().Get("pattern"))
	if err != nil {
		http.Error(w, "invalid pattern", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		http.Error(w, "bridge closed", http.StatusServiceUnavailable)
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response
		s.log.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("upgrade failed")
		return
	}

	c := newConn(ws, s.bus, s.log, s.opts.Settings)
	if err := c.start(pattern); err != nil {
		s.log.Warn().Err(err).Msg("tap bus")
		_ = ws.Close()
		return
	}

	if !s.track(c) {
		_ = c.close()
		return
	}
	defer s.untrack(c)

	s.log.Info().Str("conn", c.id).Str("remote", r.RemoteAddr).Str("pattern", pattern).Msg("client connected")

	<-c.done()
	if err := c.close(); err != nil {
		s.log.Debug().Err(err).Str("conn", c.id).Msg("close connection")
	}

	s.log.Info().Str("conn", c.id).Msg("client disconnected")
}

func (s *Server) track(c *conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[c.id] = c
	return true
}

func (s *Server) untrack(c *conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, c.id)
}

// Len returns the number of connected clients.
func (s *Server) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Close disconnects every client and waits for their handlers to return.
// It does not close the bus.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conns := make([]*conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.shutdown()
	}
	s.wg.Wait()
	return nil
}
