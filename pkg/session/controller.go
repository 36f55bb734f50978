// Package session drives the voice session lifecycle: Idle, Connecting,
// Open and back to Idle. It owns the AI channel and the audio bridge of the
// current session and releases both on a single teardown path.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/teslashibe/go-fleet/pkg/activity"
	"github.com/teslashibe/go-fleet/pkg/audiobridge"
	"github.com/teslashibe/go-fleet/pkg/audioio"
	"github.com/teslashibe/go-fleet/pkg/credential"
	"github.com/teslashibe/go-fleet/pkg/device"
	"github.com/teslashibe/go-fleet/pkg/dispatch"
	"github.com/teslashibe/go-fleet/pkg/live"
)

// State is the session lifecycle state.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateOpen       State = "open"
)

var (
	// ErrBusy is returned by Toggle and Connect while a connection attempt
	// is in progress.
	ErrBusy = errors.New("session: connection in progress")
	// ErrAlreadyOpen is returned by Connect when a session is open.
	ErrAlreadyOpen = errors.New("session: already open")
	// ErrCredentialRequired means no credential could be resolved.
	ErrCredentialRequired = errors.New("session: credential required")
	// ErrAborted means the session was torn down while connecting.
	ErrAborted = errors.New("session: aborted while connecting")
)

// Channel is the open AI connection as the controller uses it.
type Channel interface {
	SendRealtimeAudio(pcm []byte, rate int) error
	SendToolResponse(responses ...live.FunctionResponse) error
	Close() error
}

// DialFunc opens a channel. Handlers may fire before it returns.
type DialFunc func(ctx context.Context, cred credential.Credential, setup live.SetupConfig, h live.Handlers) (Channel, error)

// LiveDialer adapts a live.Dialer.
func LiveDialer(d *live.Dialer) DialFunc {
	return func(ctx context.Context, cred credential.Credential, setup live.SetupConfig, h live.Handlers) (Channel, error) {
		s, err := d.Dial(ctx, cred, setup, h)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// Endpoints provides the microphone and speaker for a new session.
type Endpoints func() (audioio.Source, audioio.Sink, error)

// Config holds controller settings.
type Config struct {
	Model string
	Voice string
	Audio audiobridge.Config
}

// Status is a snapshot for the dashboard.
type Status struct {
	State              State     `json:"state"`
	Speaking           bool      `json:"speaking"`
	CredentialRequired bool      `json:"credential_required"`
	Since              time.Time `json:"since"`
}

// Controller is the session state machine. Only one session may be
// Connecting or Open at a time.
type Controller struct {
	cfg        Config
	registry   *device.Registry
	dispatcher *dispatch.Dispatcher
	log        *activity.Log
	creds      credential.Resolver
	dial       DialFunc
	endpoints  Endpoints
	logger     *slog.Logger
	bridgeOpts []audiobridge.Option

	mu           sync.Mutex
	state        State
	since        time.Time
	gen          uint64
	ch           Channel
	bridge       *audiobridge.Bridge
	channelOpen  bool
	credRequired bool

	subsMu sync.RWMutex
	subs   []func(Status)

	calls sync.WaitGroup
}

// Deps are the controller's collaborators.
type Deps struct {
	Registry   *device.Registry
	Dispatcher *dispatch.Dispatcher
	Log        *activity.Log
	Resolver   credential.Resolver
	Dial       DialFunc
	Endpoints  Endpoints
	Logger     *slog.Logger
	// BridgeOptions are passed to every session's audio bridge.
	BridgeOptions []audiobridge.Option
}

// New creates an idle controller.
func New(cfg Config, deps Deps) *Controller {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Audio == (audiobridge.Config{}) {
		cfg.Audio = audiobridge.DefaultConfig()
	}
	return &Controller{
		cfg:        cfg,
		registry:   deps.Registry,
		dispatcher: deps.Dispatcher,
		log:        deps.Log,
		creds:      deps.Resolver,
		dial:       deps.Dial,
		endpoints:  deps.Endpoints,
		logger:     logger,
		bridgeOpts: append([]audiobridge.Option{audiobridge.WithLogger(logger)}, deps.BridgeOptions...),
		state:      StateIdle,
		since:      time.Now(),
	}
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Speaking reports whether the assistant's audio is playing.
func (c *Controller) Speaking() bool {
	c.mu.Lock()
	b := c.bridge
	c.mu.Unlock()
	return b != nil && b.Speaking()
}

// Status returns a snapshot of the session.
func (c *Controller) Status() Status {
	c.mu.Lock()
	st := Status{State: c.state, CredentialRequired: c.credRequired, Since: c.since}
	b := c.bridge
	c.mu.Unlock()
	st.Speaking = b != nil && b.Speaking()
	return st
}

// Subscribe registers fn for status changes.
func (c *Controller) Subscribe(fn func(Status)) {
	c.subsMu.Lock()
	c.subs = append(c.subs, fn)
	c.subsMu.Unlock()
}

func (c *Controller) notify() {
	st := c.Status()
	c.subsMu.RLock()
	subs := slices.Clone(c.subs)
	c.subsMu.RUnlock()
	for _, fn := range subs {
		fn(st)
	}
}

// CredentialProvided clears the credential-required flag after a key was
// submitted. The next Connect resolves it again.
func (c *Controller) CredentialProvided() {
	c.mu.Lock()
	changed := c.credRequired
	c.credRequired = false
	c.mu.Unlock()
	if changed {
		c.notify()
	}
}

// Toggle connects when idle and disconnects when open. A toggle while
// connecting is rejected with ErrBusy.
func (c *Controller) Toggle(ctx context.Context) error {
	switch c.State() {
	case StateIdle:
		return c.Connect(ctx)
	case StateOpen:
		c.Disconnect()
		return nil
	default:
		c.log.System("Connection already in progress; ignoring toggle.", activity.Warning)
		return ErrBusy
	}
}

// Connect opens a new session. Every failure is logged and leaves the
// controller Idle.
func (c *Controller) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateConnecting:
		c.mu.Unlock()
		return ErrBusy
	case StateOpen:
		c.mu.Unlock()
		return ErrAlreadyOpen
	}
	c.gen++
	gen := c.gen
	c.setStateLocked(StateConnecting)
	c.channelOpen = false
	c.mu.Unlock()
	c.notify()

	c.log.System("Connecting to voice assistant...", activity.Info)

	err := c.connect(ctx, gen)
	if err != nil {
		c.abort(gen)
	}
	return err
}

func (c *Controller) connect(ctx context.Context, gen uint64) (err error) {
	defer func() {
		if r := recover(); r != nil {
			c.log.System(fmt.Sprintf("Unexpected error while connecting: %v", r), activity.Error)
			err = fmt.Errorf("session: connect panic: %v", r)
		}
	}()

	cred, err := c.creds.Resolve(ctx)
	if err != nil {
		if errors.Is(err, credential.ErrNotFound) {
			c.mu.Lock()
			c.credRequired = true
			c.mu.Unlock()
			c.log.System("API key required. Enter a key to start a voice session.", activity.Error)
			return fmt.Errorf("%w: %w", ErrCredentialRequired, err)
		}
		c.log.System("Failed to resolve credential: "+err.Error(), activity.Error)
		return err
	}
	c.mu.Lock()
	c.credRequired = false
	c.mu.Unlock()

	src, sink, err := c.endpoints()
	if err != nil {
		c.log.System("Audio unavailable: "+err.Error(), activity.Error)
		return err
	}
	bridge := audiobridge.New(c.cfg.Audio, src, sink, c.bridgeOpts...)

	// Capture must outlive the request that triggered the toggle.
	if err := bridge.Acquire(context.WithoutCancel(ctx)); err != nil {
		bridge.Close()
		c.log.System("Microphone access denied: "+err.Error(), activity.Error)
		return err
	}
	bridge.OnSpeaking(func(bool) { c.notify() })

	if !c.attachBridge(gen, bridge) {
		bridge.Close()
		return ErrAborted
	}

	setup := live.SetupConfig{
		Model:              c.cfg.Model,
		ResponseModalities: []string{"AUDIO"},
		Voice:              c.cfg.Voice,
		SystemInstruction:  SystemPrompt(c.registry.List()),
		Tools: []live.FunctionDeclaration{{
			Name:        dispatch.ToolName,
			Description: dispatch.ToolDescription,
			Parameters:  dispatch.ToolParameters(),
		}},
	}
	handlers := live.Handlers{
		OnOpen:    func() { c.onOpen(gen) },
		OnMessage: func(m live.ServerMessage) { c.onMessage(gen, m) },
		OnError:   func(err error) { c.onError(gen, err) },
		OnClose:   func(err error) { c.onClose(gen, err) },
	}

	ch, err := c.dial(ctx, cred, setup, handlers)
	if err != nil {
		c.log.System("Failed to connect: "+err.Error(), activity.Error)
		return err
	}

	c.mu.Lock()
	if gen != c.gen || c.state != StateConnecting {
		c.mu.Unlock()
		ch.Close()
		return ErrAborted
	}
	c.ch = ch
	opened := c.maybeOpenLocked()
	c.mu.Unlock()
	if opened {
		c.opened()
	}
	return nil
}

func (c *Controller) attachBridge(gen uint64, b *audiobridge.Bridge) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.state != StateConnecting {
		return false
	}
	c.bridge = b
	return true
}

// abort returns a failed connection attempt to Idle.
func (c *Controller) abort(gen uint64) {
	c.teardown(gen, "")
}

func (c *Controller) setStateLocked(s State) {
	c.state = s
	c.since = time.Now()
}

// maybeOpenLocked moves to Open once both the channel handle is stored
// and the server has acknowledged the setup, in whichever order they
// happen. It reports whether the transition happened.
func (c *Controller) maybeOpenLocked() bool {
	if c.state != StateConnecting || c.ch == nil || !c.channelOpen {
		return false
	}
	ch := c.ch
	rate := c.cfg.Audio.InputSampleRate
	if err := c.bridge.StartOutbound(func(frame []byte) error {
		return ch.SendRealtimeAudio(frame, rate)
	}); err != nil {
		c.logger.Warn("outbound audio not started", "error", err)
	}
	c.setStateLocked(StateOpen)
	return true
}

func (c *Controller) opened() {
	c.log.System(fmt.Sprintf("Voice session open. Managing %d device(s).", c.registry.Len()), activity.Success)
	c.notify()
}

func (c *Controller) onOpen(gen uint64) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.channelOpen = true
	opened := c.maybeOpenLocked()
	c.mu.Unlock()
	if opened {
		c.opened()
	}
}

// current returns the channel and bridge of session gen, or ok=false when
// that session has ended.
func (c *Controller) current(gen uint64) (Channel, *audiobridge.Bridge, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.state == StateIdle {
		return nil, nil, false
	}
	return c.ch, c.bridge, true
}

func (c *Controller) onMessage(gen uint64, m live.ServerMessage) {
	ch, bridge, ok := c.current(gen)
	if !ok {
		return
	}

	if m.Interrupted && bridge != nil {
		bridge.Interrupt()
	}
	for _, part := range m.Audio {
		if !part.IsAudio() || bridge == nil {
			continue
		}
		if _, err := bridge.HandleInbound(part.Data); err != nil && !errors.Is(err, audiobridge.ErrClosed) {
			c.log.System("Dropped undecodable audio chunk: "+err.Error(), activity.Warning)
		}
	}
	if t := strings.TrimSpace(m.InputTranscript); t != "" {
		c.log.User(t, activity.Info)
	}
	if t := strings.TrimSpace(m.OutputTranscript + strings.Join(m.Text, "")); t != "" {
		c.log.AI(t, activity.Info)
	}
	for _, id := range m.CancelledCalls {
		c.logger.Debug("tool call cancelled by server; dispatch continues", "call_id", id)
	}

	if len(m.ToolCalls) > 0 && ch == nil {
		for _, call := range m.ToolCalls {
			c.log.AI(fmt.Sprintf("Ignored %s call %s: session is still connecting", call.Name, call.ID), activity.Warning)
		}
		return
	}
	if len(m.ToolCalls) > 0 {
		calls := slices.Clone(m.ToolCalls)
		c.calls.Add(1)
		go func() {
			defer c.calls.Done()
			c.runToolCalls(gen, ch, calls)
		}()
	}
}

// runToolCalls processes the calls of one message in order, each awaited
// before the next. Dispatch is never cancelled; when the session that
// issued a call is gone by the time it finishes, its response is dropped.
func (c *Controller) runToolCalls(gen uint64, ch Channel, calls []live.FunctionCall) {
	for _, call := range calls {
		result := c.runToolCall(call)

		if _, _, ok := c.current(gen); !ok {
			c.logger.Debug("session closed; dropping tool response", "call_id", call.ID, "tool", call.Name)
			continue
		}
		if err := ch.SendToolResponse(live.TextResponse(call, result)); err != nil {
			c.log.System("Failed to send tool response: "+err.Error(), activity.Warning)
		}
	}
}

func (c *Controller) runToolCall(call live.FunctionCall) string {
	if call.Name != dispatch.ToolName {
		msg := fmt.Sprintf("unknown tool %q", call.Name)
		c.log.AI("Requested "+msg, activity.Error)
		return "Error: " + msg
	}
	cmd, err := dispatch.CommandFromArgs(call.Args)
	if err != nil {
		c.log.AI("Could not understand command: "+err.Error(), activity.Error)
		return "Error: " + err.Error()
	}

	c.log.AI(describeIntent(cmd), activity.Command)
	return c.dispatcher.Execute(context.Background(), cmd)
}

func describeIntent(cmd dispatch.Command) string {
	var b strings.Builder
	b.WriteString("Intent: ")
	b.WriteString(cmd.Action.Label())
	if cmd.Argument != "" {
		fmt.Fprintf(&b, " %q", cmd.Argument)
	}
	b.WriteString(" on ")
	b.WriteString(strings.Join(cmd.Targets, ", "))
	return b.String()
}

func (c *Controller) onError(gen uint64, err error) {
	if _, _, ok := c.current(gen); !ok {
		return
	}
	c.log.System("Connection error: "+err.Error(), activity.Error)
	c.teardown(gen, "Voice session ended after an error.")
}

func (c *Controller) onClose(gen uint64, err error) {
	if _, _, ok := c.current(gen); !ok {
		return
	}
	msg := "Voice session closed by the server."
	if err != nil {
		msg = "Voice session closed by the server: " + err.Error()
	}
	c.teardown(gen, msg)
}

// Disconnect ends the current session, if any.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	gen, state := c.gen, c.state
	c.mu.Unlock()
	if state == StateIdle {
		return
	}
	c.teardown(gen, "Voice session ended.")
}

// teardown is the only path back to Idle. It releases the microphone,
// closes the audio bridge and the channel, and invalidates callbacks of
// the ended session. An empty reason skips the log entry.
func (c *Controller) teardown(gen uint64, reason string) bool {
	c.mu.Lock()
	if gen != c.gen || c.state == StateIdle {
		c.mu.Unlock()
		return false
	}
	ch, bridge := c.ch, c.bridge
	c.ch, c.bridge = nil, nil
	c.channelOpen = false
	c.gen++
	c.setStateLocked(StateIdle)
	c.mu.Unlock()

	if bridge != nil {
		if err := bridge.Close(); err != nil {
			c.logger.Debug("audio bridge close", "error", err)
		}
	}
	if ch != nil {
		if err := ch.Close(); err != nil {
			c.logger.Debug("channel close", "error", err)
		}
	}
	if reason != "" {
		c.log.System(reason, activity.Info)
	}
	c.notify()
	return true
}

// Wait blocks until every in-flight tool call has finished.
func (c *Controller) Wait() {
	c.calls.Wait()
}
