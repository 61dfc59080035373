package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/lightlink/internal/actuator"
	"github.com/nerrad567/lightlink/internal/infrastructure/mqtt"
)

// Defaults applied to zero-valued Config fields.
const (
	DefaultBackoff    = 5 * time.Second
	DefaultPollWindow = 100 * time.Millisecond
	DefaultMaxPayload = 200

	// shutdownPublishTimeout bounds the best-effort offline publish on exit.
	shutdownPublishTimeout = 2 * time.Second
)

// Config holds the loop's settings.
type Config struct {
	ClientID     string
	CommandTopic string
	StateTopic   string
	StatusTopic  string

	// Backoff is the fixed wait between failed connection attempts.
	Backoff time.Duration

	// PollWindow bounds how long Service waits for a message.
	PollWindow time.Duration

	// MaxPayload is the document capacity in bytes; larger payloads are parse failures.
	MaxPayload int
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Controller is the connection and dispatch loop.
//
// One goroutine runs Run (or calls EnsureConnected/Service directly);
// Snapshot may be called from any goroutine.
type Controller struct {
	cfg       Config
	transport Transport
	driver    actuator.Driver
	logger    Logger
	sleep     SleepFunc
	now       func() time.Time

	observers []Observer

	mu    sync.RWMutex
	state loopState
}

// loopState is the mutable state owned by the loop.
type loopState struct {
	connected      bool
	lights         actuator.State
	reason         mqtt.ReasonCode
	connectedSince time.Time
	lastCommand    string
	lastResult     Result
	lastMessageAt  time.Time
	counters       Counters
}

// New creates a Controller. The actuator state starts at initial; call
// Prime to drive it before running the loop.
func New(cfg Config, transport Transport, driver actuator.Driver, initial actuator.State) *Controller {
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	if cfg.PollWindow <= 0 {
		cfg.PollWindow = DefaultPollWindow
	}
	if cfg.MaxPayload <= 0 {
		cfg.MaxPayload = DefaultMaxPayload
	}

	return &Controller{
		cfg:       cfg,
		transport: transport,
		driver:    driver,
		logger:    noopLogger{},
		sleep:     sleepContext,
		now:       time.Now,
		state: loopState{
			lights: initial,
			reason: mqtt.ReasonDisconnected,
		},
	}
}

// SetLogger sets the logger.
func (c *Controller) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	c.logger = logger
}

// AddObserver registers an observer. Must be called before Run.
func (c *Controller) AddObserver(o Observer) {
	c.observers = append(c.observers, o)
}

// Prime drives the actuator to the current state once at startup.
func (c *Controller) Prime(ctx context.Context) error {
	s := c.Snapshot().Lights
	if err := c.driver.Drive(ctx, s); err != nil {
		return fmt.Errorf("driving initial state %s: %w", s, err)
	}
	c.logger.Info("actuator initialised", "driver", c.driver.Name(), "lights_state", s.String())
	return nil
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		Connected:   c.state.connected,
		Lights:      c.state.lights,
		ReasonCode:  int(c.state.reason),
		Reason:      c.state.reason.String(),
		LastCommand: c.state.lastCommand,
		LastResult:  c.state.lastResult,
		Counters:    c.state.counters,
	}
	if c.state.connected {
		t := c.state.connectedSince
		s.ConnectedSince = &t
	}
	if !c.state.lastMessageAt.IsZero() {
		t := c.state.lastMessageAt
		s.LastMessageAt = &t
	}
	return s
}

// Connected reports whether the loop considers the session up.
func (c *Controller) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.connected
}

// Run drives the loop until ctx is cancelled, then publishes a graceful
// offline status (best effort) and returns nil.
func (c *Controller) Run(ctx context.Context) error {
	c.logger.Info("control loop started",
		"topic", c.cfg.CommandTopic,
		"backoff", c.cfg.Backoff,
	)

	for ctx.Err() == nil {
		if !c.Connected() {
			if err := c.EnsureConnected(ctx); err != nil {
				break
			}
		}
		c.Service(ctx)
	}

	c.publishOffline()
	c.logger.Info("control loop stopped")
	return nil
}

// EnsureConnected blocks until the session is connected or ctx is done.
//
// Each failed attempt is logged with the transport's reason code and
// followed by one fixed backoff wait. After a successful connect the
// command topic is subscribed; a subscribe failure is logged and does not
// trigger a reconnect. Returns ctx.Err() on cancellation.
func (c *Controller) EnsureConnected(ctx context.Context) error {
	for attempt := 1; !c.Connected(); attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		c.mu.Lock()
		c.state.counters.ConnectAttempts++
		c.mu.Unlock()

		c.logger.Info("attempting MQTT connection", "attempt", attempt)

		if err := c.transport.Connect(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}

			rc := c.transport.State()
			c.setReason(rc)
			c.logger.Warn("MQTT connection failed",
				"attempt", attempt,
				"reason_code", int(rc),
				"reason", rc.String(),
				"retry_in", c.cfg.Backoff,
				"error", err,
			)
			c.notifySession(SessionEvent{Type: SessionConnectFailed, Attempt: attempt, ReasonCode: rc, At: c.now()})

			if err := c.sleep(ctx, c.cfg.Backoff); err != nil {
				return err
			}
			continue
		}

		c.onConnected(ctx, attempt)
	}
	return nil
}

// onConnected records the new session, subscribes and announces state.
func (c *Controller) onConnected(ctx context.Context, attempt int) {
	now := c.now()

	c.mu.Lock()
	c.state.connected = true
	c.state.reason = mqtt.ReasonConnected
	c.state.connectedSince = now
	c.state.counters.Connects++
	lights := c.state.lights
	c.mu.Unlock()

	c.logger.Info("connected to MQTT broker", "attempt", attempt)
	c.notifySession(SessionEvent{Type: SessionConnected, Attempt: attempt, ReasonCode: mqtt.ReasonConnected, At: now})

	if err := c.transport.Subscribe(ctx, c.cfg.CommandTopic); err != nil {
		c.logger.Error("failed to subscribe", "topic", c.cfg.CommandTopic, "error", err)
		c.notifySession(SessionEvent{Type: SessionSubscribeFailed, Attempt: attempt, ReasonCode: c.transport.State(), At: c.now()})
	} else {
		c.logger.Info("subscribed", "topic", c.cfg.CommandTopic)
	}

	if c.cfg.StatusTopic != "" {
		if err := c.transport.Publish(ctx, c.cfg.StatusTopic, mqtt.BuildOnlinePayload(c.cfg.ClientID), true); err != nil {
			c.logger.Warn("failed to publish online status", "topic", c.cfg.StatusTopic, "error", err)
		}
	}
	c.publishState(ctx, lights)
}

// Service waits up to the poll window for one message and dispatches it,
// then checks whether the transport is still connected.
func (c *Controller) Service(ctx context.Context) {
	pollCtx, cancel := context.WithTimeout(ctx, c.cfg.PollWindow)
	msg, ok := c.transport.Receive(pollCtx)
	cancel()

	if ok {
		c.Dispatch(ctx, msg)
	}

	if c.Connected() && !c.transport.IsConnected() {
		c.onConnectionLost()
	}
}

func (c *Controller) onConnectionLost() {
	rc := c.transport.State()
	now := c.now()

	c.mu.Lock()
	c.state.connected = false
	c.state.reason = rc
	c.state.counters.Disconnects++
	c.mu.Unlock()

	c.logger.Warn("MQTT connection lost", "reason_code", int(rc), "reason", rc.String())
	c.notifySession(SessionEvent{Type: SessionDisconnected, ReasonCode: rc, At: now})
}

// Dispatch applies one message to the actuator state.
//
// The payload is parsed into a fresh document every time. Parse failures
// and unrecognised commands leave the state unchanged. A driver failure
// also leaves the state unchanged.
func (c *Controller) Dispatch(ctx context.Context, msg mqtt.Message) Outcome {
	c.mu.RLock()
	before := c.state.lights
	c.mu.RUnlock()

	out := Outcome{
		Topic:   msg.Topic,
		Payload: msg.Payload,
		Before:  before,
		After:   before,
		At:      c.now(),
	}

	command, err := parseCommand(msg.Payload, c.cfg.MaxPayload)
	switch {
	case err != nil:
		out.Result = ResultParseError
		c.logger.Warn("failed to parse command", "topic", msg.Topic, "bytes", len(msg.Payload), "error", err)
	default:
		out.Command = command
		c.apply(ctx, &out)
	}

	c.record(out)

	if out.Result == ResultApplied {
		c.publishState(ctx, out.After)
	}
	for _, o := range c.observers {
		o.OnDispatch(out)
	}
	return out
}

// apply maps the command onto a new state and drives the actuator.
func (c *Controller) apply(ctx context.Context, out *Outcome) {
	var next actuator.State
	switch out.Command {
	case CommandOn:
		next = actuator.On
	case CommandOff:
		next = actuator.Off
	case CommandToggle:
		next = out.Before.Toggle()
	default:
		out.Result = ResultUnknownCommand
		c.logger.Warn("unknown parameter", "topic", out.Topic, "lights_state", out.Command)
		return
	}

	if err := c.driver.Drive(ctx, next); err != nil {
		out.Result = ResultActuatorError
		c.logger.Error("failed to drive actuator", "driver", c.driver.Name(), "target", next.String(), "error", err)
		return
	}

	out.After = next
	out.Result = ResultApplied
	c.logger.Info("lights", "command", out.Command, "lights_state", next.String())
}

// record commits the outcome into the loop state.
func (c *Controller) record(out Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state.lights = out.After
	c.state.lastCommand = out.Command
	c.state.lastResult = out.Result
	c.state.lastMessageAt = out.At
	c.state.counters.Received++

	switch out.Result {
	case ResultApplied:
		c.state.counters.Applied++
	case ResultParseError:
		c.state.counters.ParseErrors++
	case ResultUnknownCommand:
		c.state.counters.UnknownCommands++
	case ResultActuatorError:
		c.state.counters.ActuatorErrors++
	}
}

// stateDocument is published retained on the state topic.
type stateDocument struct {
	LightsState actuator.State `json:"lights_state"`
}

func (c *Controller) publishState(ctx context.Context, s actuator.State) {
	if c.cfg.StateTopic == "" {
		return
	}
	payload, err := json.Marshal(stateDocument{LightsState: s})
	if err != nil {
		c.logger.Error("failed to encode state", "error", err)
		return
	}
	if err := c.transport.Publish(ctx, c.cfg.StateTopic, payload, true); err != nil {
		c.logger.Warn("failed to publish state", "topic", c.cfg.StateTopic, "error", err)
	}
}

// publishOffline announces a graceful shutdown. The loop's ctx is already
// done at this point, so a fresh bounded context is used.
func (c *Controller) publishOffline() {
	if c.cfg.StatusTopic == "" || !c.Connected() || !c.transport.IsConnected() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownPublishTimeout)
	defer cancel()

	if err := c.transport.Publish(ctx, c.cfg.StatusTopic, mqtt.BuildOfflinePayload(c.cfg.ClientID), true); err != nil {
		c.logger.Warn("failed to publish offline status", "error", err)
	}
}

func (c *Controller) setReason(rc mqtt.ReasonCode) {
	c.mu.Lock()
	c.state.reason = rc
	c.mu.Unlock()
}

func (c *Controller) notifySession(e SessionEvent) {
	for _, o := range c.observers {
		o.OnSession(e)
	}
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
