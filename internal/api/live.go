package api

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/shubhsaxena/cinesearch/internal/models"
	"github.com/shubhsaxena/cinesearch/internal/observability"
	"github.com/shubhsaxena/cinesearch/internal/resolver"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
)

// Frame types exchanged on the live search socket.
const (
	frameQuery   = "query"
	frameResolve = "resolve"
	frameClear   = "clear"
	framePing    = "ping"
	framePong    = "pong"
	frameState   = "state"
	frameError   = "error"
)

type clientFrame struct {
	Type  string `json:"type"`
	Query string `json:"query,omitempty"`
}

type serverFrame struct {
	Type  string              `json:"type"`
	Data  *models.SearchState `json:"data,omitempty"`
	Error string              `json:"error,omitempty"`
}

// LiveHandler serves search-as-you-type sessions over a WebSocket. Each
// connection owns one resolver.Session; "query" frames go through its
// debouncer and every published state is pushed back as a "state" frame.
type LiveHandler struct {
	ctx      context.Context
	resolver *resolver.Resolver
	debounce time.Duration
	upgrader websocket.Upgrader
	logger   *zap.Logger

	mu       sync.Mutex
	draining bool
	sessions sync.WaitGroup
}

// NewLiveHandler builds the live endpoint. Sessions are bound to ctx and end
// when it is cancelled.
func NewLiveHandler(ctx context.Context, r *resolver.Resolver, debounceWindow time.Duration, allowedOrigins []string, logger *zap.Logger) *LiveHandler {
	allowAll, allowed := originSet(allowedOrigins)
	return &LiveHandler{
		ctx:      ctx,
		resolver: r,
		debounce: debounceWindow,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return originAllowed(r, allowAll, allowed)
			},
		},
		logger: logger,
	}
}

func (h *LiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.track() {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}
	defer h.sessions.Done()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error response.
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	sessionID := uuid.New().String()
	logger := h.logger.With(zap.String("session_id", sessionID))

	session := resolver.NewSession(h.ctx, h.resolver, h.debounce, logger)
	states, unsubscribe := session.Subscribe()

	observability.LiveSessions.Inc()
	logger.Info("live session opened", zap.String("remote_addr", r.RemoteAddr))

	control := make(chan serverFrame, 8)
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.writePump(conn, states, control, logger)
	}()

	go func() {
		select {
		case <-h.ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	h.readPump(conn, session, control, logger)

	unsubscribe()
	session.Close()
	<-done
	_ = conn.Close()

	// Resolutions already running finish detached so their results are
	// cached and recorded before the session is released.
	session.Wait()

	observability.LiveSessions.Dec()
	logger.Info("live session closed")
}

func (h *LiveHandler) track() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.draining {
		return false
	}
	h.sessions.Add(1)
	return true
}

// Wait refuses new sessions and blocks until every open session, including
// its in-flight resolutions, has ended or ctx is done. Cancel the context
// passed to NewLiveHandler first, or open sockets keep their sessions alive.
func (h *LiveHandler) Wait(ctx context.Context) error {
	h.mu.Lock()
	h.draining = true
	h.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		h.sessions.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// readPump runs on the handler goroutine until the peer goes away or stops
// answering pings.
func (h *LiveHandler) readPump(conn *websocket.Conn, session *resolver.Session, control chan<- serverFrame, logger *zap.Logger) {
	conn.SetReadLimit(maxMessageSize)
	if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logger.Error("failed to set read deadline", zap.Error(err))
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logger.Warn("unexpected websocket close", zap.Error(err))
			}
			return
		}

		var frame clientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			sendControl(control, serverFrame{Type: frameError, Error: "malformed frame"})
			continue
		}

		switch frame.Type {
		case frameQuery:
			session.Input(truncateQuery(frame.Query))
		case frameResolve:
			session.Resolve(strings.TrimSpace(truncateQuery(frame.Query)))
		case frameClear:
			session.Clear()
		case framePing:
			sendControl(control, serverFrame{Type: framePong})
		default:
			sendControl(control, serverFrame{Type: frameError, Error: "unknown frame type " + frame.Type})
		}
	}
}

// writePump is the only writer on conn. It exits when the session closes its
// subscription or a write fails.
func (h *LiveHandler) writePump(conn *websocket.Conn, states <-chan models.SearchState, control <-chan serverFrame, logger *zap.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		// Unblocks readPump if the write side failed first.
		_ = conn.Close()
	}()

	for {
		select {
		case st, ok := <-states:
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := writeFrame(conn, serverFrame{Type: frameState, Data: &st}); err != nil {
				logger.Debug("failed to write state frame", zap.Error(err))
				return
			}

		case frame := <-control:
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := writeFrame(conn, frame); err != nil {
				logger.Debug("failed to write control frame", zap.Error(err))
				return
			}

		case <-ticker.C:
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeFrame(conn *websocket.Conn, frame serverFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

// sendControl drops the frame when the writer is backed up.
func sendControl(control chan<- serverFrame, frame serverFrame) {
	select {
	case control <- frame:
	default:
	}
}

func truncateQuery(q string) string {
	if r := []rune(q); len(r) > maxQueryLen {
		return string(r[:maxQueryLen])
	}
	return q
}

// originAllowed accepts requests without an Origin header (non-browser
// clients) and same-host origins in addition to the configured list.
func originAllowed(r *http.Request, allowAll bool, allowed map[string]bool) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || allowAll {
		return true
	}
	if allowed[strings.TrimRight(origin, "/")] {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}
