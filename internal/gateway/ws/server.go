package ws

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
)

const writeTimeout = 10 * time.Second

// Server upgrades HTTP connections and streams run events to clients.
type Server struct {
	bus     *Bus
	apiKeys []string // Empty = no authentication.
	logger  *slog.Logger
}

// NewServer creates a WebSocket server over the given event bus.
func NewServer(bus *Bus, apiKeys []string, logger *slog.Logger) *Server {
	return &Server{bus: bus, apiKeys: apiKeys, logger: logger}
}

// Bus returns the event bus so run handlers can publish into it.
// Nil-safe; publishing into a nil bus is a no-op.
func (s *Server) Bus() *Bus {
	if s == nil {
		return nil
	}
	return s.bus
}

// Handler returns the http.Handler for /v1/runs/{id}/events.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.handleUpgrade)
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	sessionID := sessionIDFromPath(r.URL.Path)
	if sessionID == "" {
		http.Error(w, "session id is required", http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{"crucible-events-v1"},
	})
	if err != nil {
		s.logger.Error("websocket accept failed", slog.String("error", err.Error()))
		return
	}

	s.streamEvents(r.Context(), conn, sessionID)
}

func (s *Server) streamEvents(ctx context.Context, conn *websocket.Conn, sessionID string) {
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	events, cancel := s.bus.Subscribe(sessionID)
	defer cancel()

	// Drain client frames so pings and close frames are processed.
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	s.logger.Debug("event stream opened", slog.String("session_id", sessionID))

	if err := s.writeEvent(ctx, conn, Event{
		Type:      EventSubscribed,
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
	}); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-readDone:
			s.logger.Debug("event stream client disconnected", slog.String("session_id", sessionID))
			return
		case ev := <-events:
			if err := s.writeEvent(ctx, conn, ev); err != nil {
				return
			}
			// The run is over; nothing more will arrive for this session.
			if ev.Type == EventRunFinished {
				return
			}
		}
	}
}

func (s *Server) writeEvent(ctx context.Context, conn *websocket.Conn, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}

// authorized checks the Bearer header or token query parameter against
// the configured API keys. Open when no keys are configured.
func (s *Server) authorized(r *http.Request) bool {
	if len(s.apiKeys) == 0 {
		return true
	}

	token := r.URL.Query().Get("token")
	if token == "" {
		auth := r.Header.Get("Authorization")
		if strings.HasPrefix(auth, "Bearer ") {
			token = strings.TrimPrefix(auth, "Bearer ")
		}
	}
	if token == "" {
		return false
	}

	for _, key := range s.apiKeys {
		if subtle.ConstantTimeCompare([]byte(token), []byte(key)) == 1 {
			return true
		}
	}
	return false
}

// sessionIDFromPath extracts the id segment of /v1/runs/{id}/events.
func sessionIDFromPath(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	// v1 / runs / {id} / events
	if len(parts) != 4 || parts[0] != "v1" || parts[1] != "runs" || parts[3] != "events" {
		return ""
	}
	return parts[2]
}
