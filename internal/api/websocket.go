package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/lightlink/internal/controller"
	"github.com/nerrad567/lightlink/internal/infrastructure/config"
	"github.com/nerrad567/lightlink/internal/infrastructure/logging"
)

// Stream channels. A watcher picks channels with ?channels=a,b at connect
// time; no parameter means every channel.
const (
	ChannelSnapshot   = "state.snapshot"
	ChannelLightState = "light.state_changed"
	ChannelSession    = "session.changed"
)

// watcherQueue is the number of frames buffered per watcher. A watcher
// that falls this far behind is disconnected.
const watcherQueue = 64

var streamChannels = map[string]bool{
	ChannelSnapshot:   true,
	ChannelLightState: true,
	ChannelSession:    true,
}

// Frame is one message on the state stream.
type Frame struct {
	Seq     uint64    `json:"seq"`
	Channel string    `json:"channel"`
	At      time.Time `json:"at"`
	Data    any       `json:"data"`
}

// LightStateEvent is the data of a light.state_changed frame.
type LightStateEvent struct {
	Topic       string `json:"topic"`
	Command     string `json:"command"`
	LightsState string `json:"lights_state"`
	Previous    string `json:"previous"`
}

// SessionEvent is the data of a session.changed frame.
type SessionEvent struct {
	Event      string `json:"event"`
	Attempt    int    `json:"attempt,omitempty"`
	ReasonCode int    `json:"reason_code"`
	Reason     string `json:"reason"`
}

// Hub fans controller events out to connected watchers. It implements
// controller.Observer; its methods never block the control loop.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger
	seq    atomic.Uint64

	mu       sync.RWMutex
	watchers map[*watcher]struct{}
	closed   bool
}

// watcher is one stream connection. channels is fixed at connect time and
// nil selects everything.
type watcher struct {
	conn     *websocket.Conn
	frames   chan []byte
	channels map[string]bool
}

func (w *watcher) wants(channel string) bool {
	return w.channels == nil || w.channels[channel]
}

// NewHub creates an empty hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:      cfg,
		logger:   logger,
		watchers: make(map[*watcher]struct{}),
	}
}

// Run blocks until ctx is done, then disconnects every watcher.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for w := range h.watchers {
		close(w.frames)
		delete(h.watchers, w)
	}
}

// Watchers returns the number of connected watchers.
func (h *Hub) Watchers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.watchers)
}

// join registers w. It reports false once the hub has shut down.
func (h *Hub) join(w *watcher) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.watchers[w] = struct{}{}
	return true
}

// leave removes w and closes its queue. Only the first call has effect.
func (h *Hub) leave(w *watcher) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.watchers[w]; !ok {
		return false
	}
	delete(h.watchers, w)
	close(w.frames)
	return true
}

func (h *Hub) frame(channel string, data any) ([]byte, error) {
	return json.Marshal(Frame{
		Seq:     h.seq.Add(1),
		Channel: channel,
		At:      time.Now().UTC(),
		Data:    data,
	})
}

// Publish queues one frame for every watcher of channel. Queues are only
// closed under the write lock, so sending under the read lock is safe.
func (h *Hub) Publish(channel string, data any) {
	msg, err := h.frame(channel, data)
	if err != nil {
		h.logger.Error("encoding stream frame", "channel", channel, "error", err)
		return
	}

	var lagging []*watcher
	h.mu.RLock()
	for w := range h.watchers {
		if !w.wants(channel) {
			continue
		}
		select {
		case w.frames <- msg:
		default:
			lagging = append(lagging, w)
		}
	}
	h.mu.RUnlock()

	// A gap in a state stream is worse than a reconnect.
	for _, w := range lagging {
		if h.leave(w) {
			h.logger.Warn("websocket watcher lagging, disconnected", "channel", channel)
		}
	}
}

// OnDispatch publishes actuator transitions. Dispatches that leave the
// light as it was are not sent.
func (h *Hub) OnDispatch(o controller.Outcome) {
	if !o.Changed() {
		return
	}
	h.Publish(ChannelLightState, LightStateEvent{
		Topic:       o.Topic,
		Command:     o.Command,
		LightsState: o.After.String(),
		Previous:    o.Before.String(),
	})
}

// OnSession publishes every broker session transition.
func (h *Hub) OnSession(e controller.SessionEvent) {
	h.Publish(ChannelSession, SessionEvent{
		Event:      string(e.Type),
		Attempt:    e.Attempt,
		ReasonCode: int(e.ReasonCode),
		Reason:     e.ReasonCode.String(),
	})
}

// parseChannels reads the channels query value. Empty selects all.
func parseChannels(raw string) (map[string]bool, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	out := make(map[string]bool)
	for _, name := range strings.Split(raw, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if !streamChannels[name] {
			return nil, fmt.Errorf("unknown channel %q", name)
		}
		out[name] = true
	}
	return out, nil
}

// handleWebSocket upgrades to the state stream. The first frame is always
// the current snapshot.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	channels, err := parseChannels(r.URL.Query().Get("channels"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.originAllowed(origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	hub := s.Hub()
	wt := &watcher{
		conn:     conn,
		frames:   make(chan []byte, watcherQueue),
		channels: channels,
	}
	if first, err := hub.frame(ChannelSnapshot, s.state.Snapshot()); err == nil {
		wt.frames <- first
	}
	if !hub.join(wt) {
		conn.Close()
		return
	}
	s.logger.Debug("websocket watcher connected", "watchers", hub.Watchers())

	go hub.write(wt)
	go hub.drain(wt)
}

// wsTimings returns the ping interval and pong wait, falling back to
// 30s and 10s when unset.
func wsTimings(cfg config.WebSocketConfig) (time.Duration, time.Duration) {
	ping := time.Duration(cfg.PingInterval) * time.Second
	if ping <= 0 {
		ping = 30 * time.Second
	}
	pong := time.Duration(cfg.PongTimeout) * time.Second
	if pong <= 0 {
		pong = 10 * time.Second
	}
	return ping, pong
}

// drain discards inbound messages. It exists to process control frames
// and to notice when the peer goes away.
func (h *Hub) drain(w *watcher) {
	defer func() {
		h.leave(w)
		w.conn.Close()
	}()

	if h.cfg.MaxMessageSize > 0 {
		w.conn.SetReadLimit(int64(h.cfg.MaxMessageSize))
	}
	ping, pong := wsTimings(h.cfg)
	extend := func() error {
		return w.conn.SetReadDeadline(time.Now().Add(ping + pong))
	}
	_ = extend() //nolint:errcheck // a failed deadline surfaces as a read error
	w.conn.SetPongHandler(func(string) error { return extend() })

	for {
		if _, _, err := w.conn.NextReader(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket watcher dropped", "error", err)
			}
			return
		}
		_ = extend() //nolint:errcheck // see above
	}
}

// write sends queued frames and keepalive pings until the queue closes
// or a write fails.
func (h *Hub) write(w *watcher) {
	ping, pong := wsTimings(h.cfg)
	ticker := time.NewTicker(ping)
	defer func() {
		ticker.Stop()
		w.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-w.frames:
			_ = w.conn.SetWriteDeadline(time.Now().Add(pong)) //nolint:errcheck // write reports it
			if !ok {
				_ = w.conn.WriteMessage(websocket.CloseMessage, //nolint:errcheck // closing anyway
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := w.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = w.conn.SetWriteDeadline(time.Now().Add(pong)) //nolint:errcheck // write reports it
			if err := w.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
