package dashboard

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/yamux"
	"github.com/rs/zerolog"

	"github.com/codex-switch/supervisor/internal/autoswitch"
	"github.com/codex-switch/supervisor/internal/profilestore"
)

// Hub accepts websocket connections on /ws, multiplexes each one via
// yamux, and fans every published Event out to one stream per
// connected client. Adapted from the teacher's bridge.Server, with the
// gRPC service swapped for a direct newline-JSON stream writer.
type Hub struct {
	log      zerolog.Logger
	addr     string
	upgrader websocket.Upgrader

	mu      sync.Mutex
	streams map[*yamux.Stream]struct{}
}

// NewHub builds a dashboard push server bound to addr (e.g. "127.0.0.1:4598").
func NewHub(log zerolog.Logger, addr string) *Hub {
	return &Hub{
		log:  log.With().Str("component", "dashboard").Logger(),
		addr: addr,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		streams: map[*yamux.Stream]struct{}{},
	}
}

// Serve runs the HTTP+websocket listener until ctx is cancelled.
func (h *Hub) Serve(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.handleWebSocket)

	server := &http.Server{Addr: h.addr, Handler: mux}

	go func() {
		<-ctx.Done()
		server.Close()
	}()

	h.log.Info().Str("addr", h.addr).Msg("dashboard push server listening")
	err := server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (h *Hub) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	session, err := yamux.Server(newWSConn(conn), nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("yamux server handshake failed")
		conn.Close()
		return
	}

	go h.acceptStreams(session)
}

func (h *Hub) acceptStreams(session *yamux.Session) {
	for {
		stream, err := session.AcceptStream()
		if err != nil {
			return
		}
		h.mu.Lock()
		h.streams[stream] = struct{}{}
		h.mu.Unlock()
	}
}

// PublishTick fans an autoswitch.TickResult out to every connected stream.
func (h *Hub) PublishTick(now time.Time, result autoswitch.TickResult) {
	h.broadcast(tickEvent(now, result))
}

// PublishProfiles fans a profile store snapshot out to every connected stream.
func (h *Hub) PublishProfiles(now time.Time, root profilestore.Root) {
	h.broadcast(profileEvent(now, root))
}

// Ping sends a liveness heartbeat event, mirroring the teacher's
// gRPC heartbeat handshake with a flat JSON event instead.
func (h *Hub) Ping(now time.Time) {
	h.broadcast(pingEvent(now))
}

func (h *Hub) broadcast(e Event) {
	data, err := encodeEvent(e)
	if err != nil {
		h.log.Warn().Err(err).Msg("failed to encode dashboard event")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for stream := range h.streams {
		if _, err := stream.Write(data); err != nil {
			delete(h.streams, stream)
			stream.Close()
		}
	}
}

// ConnectionCount reports how many dashboard streams are currently attached.
func (h *Hub) ConnectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.streams)
}
