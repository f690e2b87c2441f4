package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/shubhsaxena/cinesearch/internal/cache"
	"github.com/shubhsaxena/cinesearch/internal/models"
	"github.com/shubhsaxena/cinesearch/internal/observability"
	"github.com/shubhsaxena/cinesearch/internal/resolver"
)

func dialLive(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/search/live"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) serverFrame {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("set read deadline: %v", err)
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var frame serverFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("decoding frame %q: %v", data, err)
	}
	return frame
}

// readUntilState skips frames until a state with the given status arrives.
func readUntilState(t *testing.T, conn *websocket.Conn, want models.Status) models.SearchState {
	t.Helper()
	for i := 0; i < 20; i++ {
		frame := readFrame(t, conn)
		if frame.Type == frameState && frame.Data != nil && frame.Data.Status == want {
			return *frame.Data
		}
	}
	t.Fatalf("no %s state received", want)
	return models.SearchState{}
}

func sendFrame(t *testing.T, conn *websocket.Conn, frame clientFrame) {
	t.Helper()
	if err := conn.WriteJSON(frame); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

func TestLive_InitialStateIsIdle(t *testing.T) {
	conn := dialLive(t, newTestServer(t, newTestHandler()))

	frame := readFrame(t, conn)
	if frame.Type != frameState {
		t.Fatalf("expected state frame, got %q", frame.Type)
	}
	if frame.Data.Status != models.StatusIdle {
		t.Errorf("expected idle, got %s", frame.Data.Status)
	}
	if frame.Data.Results == nil || len(frame.Data.Results) != 0 {
		t.Errorf("expected empty results, got %v", frame.Data.Results)
	}
}

func TestLive_QueryResolves(t *testing.T) {
	conn := dialLive(t, newTestServer(t, newTestHandler()))
	readUntilState(t, conn, models.StatusIdle)

	sendFrame(t, conn, clientFrame{Type: frameQuery, Query: "bat"})
	sendFrame(t, conn, clientFrame{Type: frameQuery, Query: "Batman"})

	st := readUntilState(t, conn, models.StatusResolved)
	if st.Query != "batman" {
		t.Errorf("expected query 'batman', got %q", st.Query)
	}
	if len(st.Results) != 2 {
		t.Errorf("expected 2 results, got %d", len(st.Results))
	}
}

func TestLive_ResolveSkipsDebounce(t *testing.T) {
	h := newTestHandler()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	live := NewLiveHandler(ctx, h.resolver, time.Hour, nil, zap.NewNop())
	srv := httptest.NewServer(http.HandlerFunc(live.ServeHTTP))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()
	readUntilState(t, conn, models.StatusIdle)

	sendFrame(t, conn, clientFrame{Type: frameResolve, Query: "batman"})

	if st := readUntilState(t, conn, models.StatusResolved); len(st.Results) != 2 {
		t.Errorf("expected 2 results, got %d", len(st.Results))
	}
}

func TestLive_WaitDrainsInFlightResolutions(t *testing.T) {
	cat := &stubCatalogue{results: map[string][]models.MovieSummary{}}
	gate := make(chan struct{})
	gen := &stubGenerator{
		reply: `{"results":[{"title":"Primer","release_date":"2004-10-08"}]}`,
		gate:  gate,
	}
	writer := &stubEventWriter{}
	recorder := observability.NewResolutionRecorder(time.Second, 2*time.Second, zap.NewNop(), writer)
	mc := cache.NewMemoryCache(0)
	res := resolver.New(cat, gen, mc, recorder, resolver.Options{
		MinQueryLength:  2,
		PageSize:        8,
		PrimaryTimeout:  time.Second,
		FallbackTimeout: 5 * time.Second,
	}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	live := NewLiveHandler(ctx, res, 20*time.Millisecond, nil, zap.NewNop())
	srv := httptest.NewServer(http.HandlerFunc(live.ServeHTTP))
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()
	readUntilState(t, conn, models.StatusIdle)

	sendFrame(t, conn, clientFrame{Type: frameResolve, Query: "time travel garage"})
	readUntilState(t, conn, models.StatusSearchingFallback)

	cancel()

	short, shortCancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer shortCancel()
	if err := live.Wait(short); err == nil {
		t.Fatal("expected Wait to block while a resolution is in flight")
	}

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("expected new sessions to be refused while draining")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503 while draining, got %+v", resp)
	}
	if resp != nil {
		resp.Body.Close()
	}

	close(gate)

	long, longCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer longCancel()
	if err := live.Wait(long); err != nil {
		t.Fatalf("expected sessions to drain, got %v", err)
	}

	if mc.Len() != 1 {
		t.Errorf("expected the drained resolution to be cached, got %d entries", mc.Len())
	}
	recorder.Close()
	if got := writer.count(); got != 1 {
		t.Errorf("expected 1 resolution event, got %d", got)
	}
	if cat.callCount() != 1 {
		t.Errorf("expected 1 catalogue call, got %d", cat.callCount())
	}
}

func TestLive_ClearReturnsToIdle(t *testing.T) {
	conn := dialLive(t, newTestServer(t, newTestHandler()))
	readUntilState(t, conn, models.StatusIdle)

	sendFrame(t, conn, clientFrame{Type: frameResolve, Query: "batman"})
	readUntilState(t, conn, models.StatusResolved)

	sendFrame(t, conn, clientFrame{Type: frameClear})
	st := readUntilState(t, conn, models.StatusIdle)
	if len(st.Results) != 0 {
		t.Errorf("expected no results after clear, got %d", len(st.Results))
	}
}

func TestLive_PingPong(t *testing.T) {
	conn := dialLive(t, newTestServer(t, newTestHandler()))
	readFrame(t, conn)

	sendFrame(t, conn, clientFrame{Type: framePing})

	if frame := readFrame(t, conn); frame.Type != framePong {
		t.Errorf("expected pong, got %q", frame.Type)
	}
}

func TestLive_BadFrames(t *testing.T) {
	conn := dialLive(t, newTestServer(t, newTestHandler()))
	readFrame(t, conn)

	tests := []struct {
		name    string
		payload string
	}{
		{"malformed", "{not json"},
		{"unknown type", `{"type":"subscribe"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(tt.payload)); err != nil {
				t.Fatalf("write failed: %v", err)
			}
			frame := readFrame(t, conn)
			if frame.Type != frameError || frame.Error == "" {
				t.Errorf("expected error frame, got %+v", frame)
			}
		})
	}
}

func TestLive_RejectsForeignOrigin(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	live := NewLiveHandler(ctx, newTestHandler().resolver, 0, []string{"https://films.example.com"}, zap.NewNop())
	srv := httptest.NewServer(http.HandlerFunc(live.ServeHTTP))
	defer srv.Close()

	header := http.Header{}
	header.Set("Origin", "https://evil.example.com")
	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), header)
	if err == nil {
		t.Fatal("expected handshake to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403 response, got %v", resp)
	}
}

func TestOriginAllowed(t *testing.T) {
	allowAll, allowed := originSet([]string{"https://films.example.com"})

	tests := []struct {
		name   string
		origin string
		host   string
		want   bool
	}{
		{"no origin header", "", "api.example.com", true},
		{"listed origin", "https://films.example.com", "api.example.com", true},
		{"same host", "https://api.example.com", "api.example.com", true},
		{"foreign origin", "https://evil.example.com", "api.example.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/search/live", nil)
			req.Host = tt.host
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if got := originAllowed(req, allowAll, allowed); got != tt.want {
				t.Errorf("originAllowed() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTruncateQuery(t *testing.T) {
	if got := truncateQuery("batman"); got != "batman" {
		t.Errorf("short query changed: %q", got)
	}
	long := strings.Repeat("ü", maxQueryLen+1)
	if got := []rune(truncateQuery(long)); len(got) != maxQueryLen {
		t.Errorf("expected %d runes, got %d", maxQueryLen, len(got))
	}
}
