package transport

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"edgecloud/internal/dto"
	"edgecloud/internal/logger"
)

// Handler answers one detection request sent by identity.
type Handler func(ctx context.Context, identity string, req dto.DetectionRequest) dto.DetectionResponse

// upgrader accepts every origin; the detect endpoint is not browser facing.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server dispatches detection requests to a Handler and routes every response
// to the connection registered for the requesting identity.
type Server struct {
	handler Handler
	logger  *logger.Logger

	mu    sync.RWMutex
	conns map[string]*peer
}

type peer struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// NewServer creates a server dispatching to handler.
func NewServer(handler Handler, logger *logger.Logger) *Server {
	return &Server{
		handler: handler,
		logger:  logger,
		conns:   make(map[string]*peer),
	}
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity := r.Header.Get(IdentityHeader)
	if identity == "" {
		identity = uuid.NewString()
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("WebSocket upgrade error: %v", err)
		return
	}

	p := s.register(identity, conn)
	defer s.unregister(identity, p)

	s.logger.Info("Client %s connected", identity)

	for {
		var req dto.DetectionRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Info("Client %s disconnected", identity)
			} else {
				s.logger.Error("Client %s disconnected with error: %v", identity, err)
			}
			return
		}

		resp := s.handler(r.Context(), identity, req)
		if err := s.Route(identity, resp); err != nil {
			s.logger.Warning("Dropping response for frame %d: %v", resp.FrameID, err)
		}
	}
}

// Route writes a response to the connection currently registered for identity.
func (s *Server) Route(identity string, resp dto.DetectionResponse) error {
	s.mu.RLock()
	p, ok := s.conns[identity]
	s.mu.RUnlock()
	if !ok {
		return errors.Newf("unknown identity %s", identity)
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return errors.Wrapf(p.conn.WriteJSON(resp), "write to %s", identity)
}

// Identities lists the connected identities.
func (s *Server) Identities() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.conns))
	for id := range s.conns {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Serve accepts connections on the endpoint until ctx is cancelled. handler
// serves every request and must route DetectPath to s; nil serves detection
// requests only.
func (s *Server) Serve(ctx context.Context, address string, handler http.Handler) error {
	endpoint, err := ParseEndpoint(address)
	if err != nil {
		return err
	}
	listener, err := endpoint.Listen(ctx)
	if err != nil {
		return err
	}

	if handler == nil {
		mux := http.NewServeMux()
		mux.Handle(DetectPath, s)
		handler = mux
	}

	srv := &http.Server{Handler: handler}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
		s.closeConnections()
	}()

	s.logger.Info("Edge server listening on %s", endpoint)
	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "serve")
	}
	return nil
}

// register replaces an older connection with the same identity.
func (s *Server) register(identity string, conn *websocket.Conn) *peer {
	p := &peer{conn: conn}

	s.mu.Lock()
	old := s.conns[identity]
	s.conns[identity] = p
	s.mu.Unlock()

	if old != nil {
		s.logger.Warning("Client %s reconnected, closing previous connection", identity)
		old.conn.Close()
	}
	return p
}

func (s *Server) unregister(identity string, p *peer) {
	s.mu.Lock()
	if s.conns[identity] == p {
		delete(s.conns, identity)
	}
	s.mu.Unlock()
	p.conn.Close()
}

// closeConnections drops every registered connection. Shutdown leaves
// hijacked websocket connections open.
func (s *Server) closeConnections() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.conns {
		p.conn.Close()
	}
}
