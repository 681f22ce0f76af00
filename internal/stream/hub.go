package stream

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/lozlokesh-lgtm/taxi/internal/logging"
	"github.com/lozlokesh-lgtm/taxi/internal/observability"
	"github.com/lozlokesh-lgtm/taxi/internal/views"
)

const writeWait = 10 * time.Second

// Source is a session as seen by a stream.
type Source interface {
	View() views.Page
	Changed() <-chan struct{}
	Done() <-chan struct{}
}

// conn serializes writes; gorilla connections allow one concurrent writer.
type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *conn) send(p views.Page) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(p)
}

// feed renders one session for every connection watching it.
type feed struct {
	src   Source
	conns map[*conn]struct{}
	stop  chan struct{}
}

// Hub pushes session views to websocket clients: on every change and on a
// fixed refresh tick, which is what advances call timers and picks up trips
// other sessions touched.
type Hub struct {
	clock   clockwork.Clock
	refresh time.Duration
	logger  *slog.Logger

	mu    sync.Mutex
	feeds map[string]*feed
}

func NewHub(clock clockwork.Clock, refresh time.Duration, logger *slog.Logger) *Hub {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if refresh <= 0 {
		refresh = time.Second
	}
	return &Hub{
		clock:   clock,
		refresh: refresh,
		logger:  logging.Component(logger, "stream"),
		feeds:   make(map[string]*feed),
	}
}

// Connections reports how many clients are attached across all sessions.
func (h *Hub) Connections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, f := range h.feeds {
		n += len(f.conns)
	}
	return n
}

// Serve streams src to ws until the client disconnects, the session is torn
// down or ctx ends. It owns ws and closes it on return.
func (h *Hub) Serve(ctx context.Context, sessionID string, src Source, ws *websocket.Conn) error {
	defer ws.Close()
	c := &conn{ws: ws}
	if err := c.send(src.View()); err != nil {
		return err
	}
	h.attach(sessionID, src, c)
	defer h.detach(sessionID, c)

	// Clients never send anything we act on; reading only surfaces the close.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	select {
	case <-gone:
	case <-src.Done():
		c.mu.Lock()
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"),
			time.Now().Add(writeWait))
		c.mu.Unlock()
	case <-ctx.Done():
	}
	return nil
}

func (h *Hub) attach(id string, src Source, c *conn) {
	h.mu.Lock()
	f, ok := h.feeds[id]
	if !ok {
		f = &feed{src: src, conns: make(map[*conn]struct{}), stop: make(chan struct{})}
		h.feeds[id] = f
		go h.pump(id, f)
	}
	f.conns[c] = struct{}{}
	h.mu.Unlock()
	observability.WSConnections.Inc()
	h.logger.Debug("stream attached", "session_id", id)
}

func (h *Hub) detach(id string, c *conn) {
	h.mu.Lock()
	if f, ok := h.feeds[id]; ok {
		delete(f.conns, c)
		if len(f.conns) == 0 {
			close(f.stop)
			delete(h.feeds, id)
		}
	}
	h.mu.Unlock()
	observability.WSConnections.Dec()
	h.logger.Debug("stream detached", "session_id", id)
}

func (h *Hub) pump(id string, f *feed) {
	ticker := h.clock.NewTicker(h.refresh)
	defer ticker.Stop()
	for {
		select {
		case <-f.stop:
			return
		case <-f.src.Done():
			return
		case <-f.src.Changed():
		case <-ticker.Chan():
		}
		h.broadcast(id, f, f.src.View())
	}
}

func (h *Hub) broadcast(id string, f *feed, p views.Page) {
	h.mu.Lock()
	targets := make([]*conn, 0, len(f.conns))
	for c := range f.conns {
		targets = append(targets, c)
	}
	h.mu.Unlock()
	for _, c := range targets {
		if err := c.send(p); err != nil {
			// The reader sees the closed socket and detaches the client.
			h.logger.Debug("stream write failed", "session_id", id, "error", err)
			c.ws.Close()
		}
	}
}
