package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/lightlink/internal/actuator"
	"github.com/nerrad567/lightlink/internal/controller"
	"github.com/nerrad567/lightlink/internal/infrastructure/config"
	"github.com/nerrad567/lightlink/internal/infrastructure/logging"
	"github.com/nerrad567/lightlink/internal/infrastructure/mqtt"
	"github.com/nerrad567/lightlink/internal/journal"
)

// fakeState is a StateSource with a fixed snapshot.
type fakeState struct {
	mu   sync.Mutex
	snap controller.Snapshot
}

func (f *fakeState) Snapshot() controller.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

// fakeJournal records the last filter and returns canned entries.
type fakeJournal struct {
	entries []journal.Entry
	err     error
	last    journal.Filter
}

func (f *fakeJournal) Record(_ context.Context, _ *journal.Entry) error { return nil }

func (f *fakeJournal) List(_ context.Context, filter journal.Filter) (*journal.ListResult, error) {
	f.last = filter
	if f.err != nil {
		return nil, f.err
	}
	return &journal.ListResult{Entries: f.entries, Total: len(f.entries), Limit: filter.Limit}, nil
}

type checkFunc func(ctx context.Context) error

func (f checkFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

func testWSConfig() config.WebSocketConfig {
	return config.WebSocketConfig{Path: "/ws", MaxMessageSize: 4096, PingInterval: 30, PongTimeout: 10}
}

// testServer creates a Server around a connected snapshot.
func testServer(t *testing.T, mutate func(*Deps)) (*Server, *fakeState) {
	t.Helper()

	state := &fakeState{snap: controller.Snapshot{
		Connected:   true,
		Lights:      actuator.On,
		ReasonCode:  int(mqtt.ReasonConnected),
		Reason:      mqtt.ReasonConnected.String(),
		LastCommand: "on",
		LastResult:  controller.ResultApplied,
		Counters:    controller.Counters{Received: 3, Applied: 2, ParseErrors: 1},
	}}

	deps := Deps{
		Config: config.APIConfig{
			Host:     "127.0.0.1",
			Port:     0,
			Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
		},
		WS:       testWSConfig(),
		Logger:   logging.Discard(),
		State:    state,
		DeviceID: "nucleo-test",
		Version:  "test",

		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  5 * time.Second,
	}
	if mutate != nil {
		mutate(&deps)
	}

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return srv, state
}

func doGet(t *testing.T, srv *Server, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
	return v
}

func TestNew_RequiresDeps(t *testing.T) {
	if _, err := New(Deps{State: &fakeState{}}); err == nil {
		t.Error("New() without logger should fail")
	}
	if _, err := New(Deps{Logger: logging.Discard()}); err == nil {
		t.Error("New() without state should fail")
	}
}

// ─── Health ────────────────────────────────────────────────────────

func TestHealth(t *testing.T) {
	srv, _ := testServer(t, nil)

	w := doGet(t, srv, "/api/v1/health")
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	resp := decode[healthResponse](t, w)
	if resp.Status != "ok" || resp.Version != "test" || resp.MQTT != "connected" || resp.DeviceID != "nucleo-test" {
		t.Errorf("health = %+v", resp)
	}
}

func TestHealth_Degraded(t *testing.T) {
	tests := []struct {
		name       string
		connected  bool
		checkErr   error
		wantMQTT   string
		wantDBText string
	}{
		{"mqtt disconnected", false, nil, "disconnected", "ok"},
		{"database failing", true, errors.New("disk I/O error"), "connected", "disk I/O error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, state := testServer(t, func(d *Deps) {
				d.Checks = map[string]HealthChecker{
					"database": checkFunc(func(context.Context) error { return tt.checkErr }),
				}
			})
			state.snap.Connected = tt.connected

			w := doGet(t, srv, "/api/v1/health")
			if w.Code != http.StatusServiceUnavailable {
				t.Errorf("status = %d, want 503", w.Code)
			}
			resp := decode[healthResponse](t, w)
			if resp.Status != "degraded" {
				t.Errorf("status = %q, want degraded", resp.Status)
			}
			if resp.MQTT != tt.wantMQTT {
				t.Errorf("mqtt = %q, want %q", resp.MQTT, tt.wantMQTT)
			}
			if resp.Components["database"] != tt.wantDBText {
				t.Errorf("database = %q, want %q", resp.Components["database"], tt.wantDBText)
			}
		})
	}
}

// ─── State ─────────────────────────────────────────────────────────

func TestState(t *testing.T) {
	srv, _ := testServer(t, nil)

	w := doGet(t, srv, "/api/v1/state")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	resp := decode[map[string]any](t, w)
	if resp["lights_state"] != "on" {
		t.Errorf("lights_state = %v, want on", resp["lights_state"])
	}
	if resp["connected"] != true {
		t.Errorf("connected = %v", resp["connected"])
	}
	if resp["last_command"] != "on" || resp["last_result"] != "applied" {
		t.Errorf("last command/result = %v/%v", resp["last_command"], resp["last_result"])
	}
	counters, ok := resp["counters"].(map[string]any)
	if !ok {
		t.Fatalf("counters = %v", resp["counters"])
	}
	if counters["received"] != float64(3) || counters["parse_errors"] != float64(1) {
		t.Errorf("counters = %v", counters)
	}
}

// ─── Journal ───────────────────────────────────────────────────────

func TestJournal_Disabled(t *testing.T) {
	srv, _ := testServer(t, nil)

	tests := []struct {
		target    string
		wantLimit int
	}{
		{"/api/v1/journal", journal.DefaultLimit},
		{"/api/v1/journal?limit=10", 10},
		{"/api/v1/journal?limit=5000", journal.MaxLimit},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			w := doGet(t, srv, tt.target)
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", w.Code)
			}
			resp := decode[journal.ListResult](t, w)
			if resp.Entries == nil || len(resp.Entries) != 0 {
				t.Errorf("entries = %v, want empty list", resp.Entries)
			}
			if resp.Limit != tt.wantLimit {
				t.Errorf("limit = %d, want %d", resp.Limit, tt.wantLimit)
			}
			if !strings.Contains(w.Body.String(), `"entries":[]`) {
				t.Errorf("body %q should carry an empty array", w.Body.String())
			}
		})
	}
}

func TestJournal_PassesFilter(t *testing.T) {
	repo := &fakeJournal{entries: []journal.Entry{{ID: "cmd-1", Topic: "gdg/test", Result: "applied"}}}
	srv, _ := testServer(t, func(d *Deps) { d.Journal = repo })

	w := doGet(t, srv, "/api/v1/journal?result=applied&limit=5")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if repo.last.Result != "applied" || repo.last.Limit != 5 {
		t.Errorf("filter = %+v", repo.last)
	}
	resp := decode[journal.ListResult](t, w)
	if len(resp.Entries) != 1 || resp.Entries[0].ID != "cmd-1" {
		t.Errorf("entries = %+v", resp.Entries)
	}
}

func TestJournal_BadRequest(t *testing.T) {
	srv, _ := testServer(t, func(d *Deps) { d.Journal = &fakeJournal{} })

	for _, target := range []string{
		"/api/v1/journal?result=exploded",
		"/api/v1/journal?limit=abc",
		"/api/v1/journal?limit=0",
		"/api/v1/journal?limit=-3",
	} {
		t.Run(target, func(t *testing.T) {
			w := doGet(t, srv, target)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
			if e := decode[Error](t, w); e.Code != ErrCodeBadRequest {
				t.Errorf("code = %q", e.Code)
			}
		})
	}
}

func TestJournal_RepositoryError(t *testing.T) {
	srv, _ := testServer(t, func(d *Deps) { d.Journal = &fakeJournal{err: errors.New("database is locked")} })

	w := doGet(t, srv, "/api/v1/journal")
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

// ─── Middleware and routing ────────────────────────────────────────

func TestRequestID(t *testing.T) {
	srv, _ := testServer(t, nil)

	w := doGet(t, srv, "/api/v1/health")
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	w = httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)
	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want client-123", got)
	}
}

func TestCORS(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    string
	}{
		{"any origin when unset", nil, "http://localhost:3000", "http://localhost:3000"},
		{"listed origin", []string{"http://panel.local"}, "http://panel.local", "http://panel.local"},
		{"unlisted origin", []string{"http://panel.local"}, "http://evil.example", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := testServer(t, func(d *Deps) { d.Config.CORS.AllowedOrigins = tt.allowed })

			req := httptest.NewRequest(http.MethodOptions, "/api/v1/state", nil)
			req.Header.Set("Origin", tt.origin)
			w := httptest.NewRecorder()
			srv.buildRouter().ServeHTTP(w, req)

			if w.Code != http.StatusNoContent {
				t.Errorf("preflight status = %d, want 204", w.Code)
			}
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.want {
				t.Errorf("ACAO = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRouting_Errors(t *testing.T) {
	srv, _ := testServer(t, nil)

	w := doGet(t, srv, "/api/v1/devices")
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want 404", w.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/state", strings.NewReader(`{"lights_state":"on"}`))
	w = httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST /state status = %d, want 405", w.Code)
	}
}

// ─── Lifecycle ─────────────────────────────────────────────────────

func TestStartClose(t *testing.T) {
	srv, _ := testServer(t, nil)

	if srv.Addr() != "" {
		t.Error("Addr() should be empty before Start")
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if srv.Addr() == "" {
		t.Fatal("Addr() empty after Start")
	}
	resp, err := http.Get("http://" + srv.Addr() + "/api/v1/state")
	if err != nil {
		t.Fatalf("GET /state: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}

	if err := srv.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := srv.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestStart_AppliesTimeouts(t *testing.T) {
	srv, _ := testServer(t, func(d *Deps) {
		d.ReadTimeout = 7 * time.Second
		d.WriteTimeout = 8 * time.Second
		d.IdleTimeout = 9 * time.Second
	})
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer srv.Close()

	srv.mu.Lock()
	hs := srv.server
	srv.mu.Unlock()
	if hs.ReadTimeout != 7*time.Second || hs.ReadHeaderTimeout != 7*time.Second {
		t.Errorf("read timeouts = %v/%v, want 7s", hs.ReadTimeout, hs.ReadHeaderTimeout)
	}
	if hs.WriteTimeout != 8*time.Second {
		t.Errorf("WriteTimeout = %v, want 8s", hs.WriteTimeout)
	}
	if hs.IdleTimeout != 9*time.Second {
		t.Errorf("IdleTimeout = %v, want 9s", hs.IdleTimeout)
	}
}

func TestStart_PortInUse(t *testing.T) {
	first, _ := testServer(t, nil)
	if err := first.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer first.Close()

	_, portStr, err := net.SplitHostPort(first.Addr())
	if err != nil {
		t.Fatalf("SplitHostPort: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("Atoi: %v", err)
	}
	second, _ := testServer(t, func(d *Deps) { d.Config.Port = port })
	if err := second.Start(context.Background()); err == nil {
		second.Close()
		t.Error("Start() on a bound port should fail")
	}
}

// ─── WebSocket stream ──────────────────────────────────────────────

func newWatcher(channels ...string) *watcher {
	w := &watcher{frames: make(chan []byte, watcherQueue)}
	if len(channels) > 0 {
		w.channels = make(map[string]bool, len(channels))
		for _, ch := range channels {
			w.channels[ch] = true
		}
	}
	return w
}

func nextFrame(t *testing.T, w *watcher) (Frame, bool) {
	t.Helper()
	select {
	case data, ok := <-w.frames:
		if !ok {
			return Frame{}, false
		}
		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		return f, true
	case <-time.After(100 * time.Millisecond):
		return Frame{}, false
	}
}

func TestHub_PublishFiltersByChannel(t *testing.T) {
	hub := NewHub(testWSConfig(), logging.Discard())
	light := newWatcher(ChannelLightState)
	session := newWatcher(ChannelSession)
	all := newWatcher()
	for _, w := range []*watcher{light, session, all} {
		if !hub.join(w) {
			t.Fatal("join() = false on an open hub")
		}
	}

	hub.Publish(ChannelLightState, LightStateEvent{LightsState: "on"})

	f, ok := nextFrame(t, light)
	if !ok || f.Channel != ChannelLightState || f.Seq == 0 || f.At.IsZero() {
		t.Errorf("light watcher frame = %+v, ok=%v", f, ok)
	}
	if _, ok := nextFrame(t, all); !ok {
		t.Error("unfiltered watcher should receive every channel")
	}
	if _, ok := nextFrame(t, session); ok {
		t.Error("session watcher should not receive light frames")
	}
}

func TestHub_SequenceIncreases(t *testing.T) {
	hub := NewHub(testWSConfig(), logging.Discard())
	w := newWatcher()
	hub.join(w)

	hub.Publish(ChannelSession, SessionEvent{Event: "connected"})
	hub.Publish(ChannelLightState, LightStateEvent{LightsState: "off"})

	first, _ := nextFrame(t, w)
	second, _ := nextFrame(t, w)
	if second.Seq != first.Seq+1 {
		t.Errorf("seq = %d then %d, want consecutive", first.Seq, second.Seq)
	}
}

func TestHub_LaggingWatcherDisconnected(t *testing.T) {
	hub := NewHub(testWSConfig(), logging.Discard())
	slow := newWatcher()
	hub.join(slow)

	for i := 0; i <= watcherQueue; i++ {
		hub.Publish(ChannelSession, SessionEvent{Event: "connect_failed", Attempt: i + 1})
	}

	if hub.Watchers() != 0 {
		t.Errorf("Watchers() = %d, want lagging watcher removed", hub.Watchers())
	}
	n := 0
	for range slow.frames {
		n++
	}
	if n != watcherQueue {
		t.Errorf("buffered frames = %d, want %d before disconnect", n, watcherQueue)
	}
}

func TestHub_LeaveIsIdempotent(t *testing.T) {
	hub := NewHub(testWSConfig(), logging.Discard())
	w := newWatcher()

	hub.join(w)
	if hub.Watchers() != 1 {
		t.Errorf("after join Watchers() = %d, want 1", hub.Watchers())
	}
	if !hub.leave(w) {
		t.Error("first leave() = false")
	}
	if hub.leave(w) {
		t.Error("second leave() = true")
	}
	if hub.Watchers() != 0 {
		t.Errorf("after leave Watchers() = %d, want 0", hub.Watchers())
	}
}

func TestHub_OnDispatch(t *testing.T) {
	hub := NewHub(testWSConfig(), logging.Discard())
	w := newWatcher(ChannelLightState)
	hub.join(w)

	hub.OnDispatch(controller.Outcome{
		Topic: "gdg/test", Command: "on", Result: controller.ResultApplied,
		Before: actuator.On, After: actuator.On,
	})
	if _, ok := nextFrame(t, w); ok {
		t.Error("unchanged state should not be published")
	}

	hub.OnDispatch(controller.Outcome{
		Topic: "gdg/test", Command: "toggle", Result: controller.ResultApplied,
		Before: actuator.On, After: actuator.Off,
	})
	f, ok := nextFrame(t, w)
	if !ok {
		t.Fatal("state change not published")
	}
	data, _ := f.Data.(map[string]any) //nolint:errcheck // checked below
	if data["lights_state"] != "off" || data["previous"] != "on" || data["command"] != "toggle" {
		t.Errorf("data = %v", f.Data)
	}
}

func TestHub_OnSession(t *testing.T) {
	hub := NewHub(testWSConfig(), logging.Discard())
	w := newWatcher(ChannelSession)
	hub.join(w)

	hub.OnSession(controller.SessionEvent{
		Type: controller.SessionConnectFailed, Attempt: 2, ReasonCode: mqtt.ReasonConnectFailed,
	})

	f, ok := nextFrame(t, w)
	if !ok {
		t.Fatal("session event not published")
	}
	data, _ := f.Data.(map[string]any) //nolint:errcheck // checked below
	if data["event"] != "connect_failed" || data["reason"] != "connect_failed" ||
		data["reason_code"] != float64(-2) || data["attempt"] != float64(2) {
		t.Errorf("data = %v", f.Data)
	}
}

func TestHub_RunClosesWatchers(t *testing.T) {
	hub := NewHub(testWSConfig(), logging.Discard())
	w := newWatcher()
	hub.join(w)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if _, ok := <-w.frames; ok {
		t.Error("frame queue should be closed")
	}
	if hub.join(newWatcher()) {
		t.Error("join() after shutdown should fail")
	}
}

func TestParseChannels(t *testing.T) {
	tests := []struct {
		raw     string
		want    []string
		wantErr bool
	}{
		{raw: "", want: nil},
		{raw: ChannelSession, want: []string{ChannelSession}},
		{raw: " light.state_changed , session.changed ,", want: []string{ChannelLightState, ChannelSession}},
		{raw: "device.state_changed", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := parseChannels(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseChannels(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			}
			if tt.want == nil {
				if got != nil {
					t.Errorf("parseChannels(%q) = %v, want nil", tt.raw, got)
				}
				return
			}
			if len(got) != len(tt.want) {
				t.Fatalf("parseChannels(%q) = %v, want %v", tt.raw, got, tt.want)
			}
			for _, ch := range tt.want {
				if !got[ch] {
					t.Errorf("parseChannels(%q) missing %q", tt.raw, ch)
				}
			}
		})
	}
}

func TestWebSocket_StreamsSnapshotThenEvents(t *testing.T) {
	srv, _ := testServer(t, nil)
	ts := httptest.NewServer(srv.buildRouter())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws?channels=" + ChannelLightState
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	resp.Body.Close()

	read := func() Frame {
		t.Helper()
		//nolint:errcheck // test deadline
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var f Frame
		if err := conn.ReadJSON(&f); err != nil {
			t.Fatalf("read: %v", err)
		}
		return f
	}

	snap := read()
	if snap.Channel != ChannelSnapshot {
		t.Fatalf("first frame channel = %q, want %q", snap.Channel, ChannelSnapshot)
	}
	data, _ := snap.Data.(map[string]any) //nolint:errcheck // checked below
	if data["lights_state"] != "on" || data["connected"] != true {
		t.Errorf("snapshot data = %v", snap.Data)
	}

	// The watcher joins the hub before its first frame is written.
	if srv.Hub().Watchers() != 1 {
		t.Fatalf("Watchers() = %d, want 1", srv.Hub().Watchers())
	}

	srv.Hub().OnSession(controller.SessionEvent{Type: controller.SessionConnected})
	srv.Hub().OnDispatch(controller.Outcome{
		Topic: "gdg/test", Command: "off", Result: controller.ResultApplied,
		Before: actuator.On, After: actuator.Off,
	})

	ev := read()
	if ev.Channel != ChannelLightState {
		t.Errorf("event channel = %q, want %q (session frames are filtered)", ev.Channel, ChannelLightState)
	}
	if ev.Seq <= snap.Seq {
		t.Errorf("event seq %d not after snapshot seq %d", ev.Seq, snap.Seq)
	}
}

func TestWebSocket_UnknownChannelRejected(t *testing.T) {
	srv, _ := testServer(t, nil)
	w := doGet(t, srv, "/api/v1/ws?channels=bogus")
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestRecoverJSON(t *testing.T) {
	srv, _ := testServer(t, nil)
	h := srv.recoverJSON(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/state", nil))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	if !strings.Contains(w.Body.String(), "internal server error") {
		t.Errorf("body = %q", w.Body.String())
	}
}
