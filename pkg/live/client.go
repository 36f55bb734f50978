// Package live is a client for the Gemini Live bidirectional streaming API.
//
// A Session is opened with a setup message declaring the response modality,
// voice, system instruction and tools. Afterwards the client streams
// microphone audio and tool responses while the server streams synthesized
// audio, tool calls and turn events.
package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-fleet/pkg/credential"
)

// DefaultURL is the Gemini Live websocket endpoint.
const DefaultURL = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

var (
	// ErrClosed is returned when sending on a closed session.
	ErrClosed = errors.New("live: session closed")
	// ErrNoCredential is returned when dialing without a key or token.
	ErrNoCredential = errors.New("live: no credential")
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultWriteTimeout     = 10 * time.Second
	defaultPingInterval     = 30 * time.Second
)

// Handlers receive session lifecycle events. They are called from the
// session's read goroutine and must not block for long.
type Handlers struct {
	// OnOpen fires once the server acknowledges the setup.
	OnOpen func()
	// OnMessage fires for every decoded server message.
	OnMessage func(ServerMessage)
	// OnError fires for transport failures other than a close.
	OnError func(error)
	// OnClose fires exactly once when the session ends. err is nil when
	// the session was closed locally.
	OnClose func(err error)
}

// Dialer opens sessions.
type Dialer struct {
	URL              string
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration
	Logger           *slog.Logger
}

// Dial connects, sends the setup message and starts reading. It returns
// as soon as the setup is written; Handlers.OnOpen reports readiness.
func (d *Dialer) Dial(ctx context.Context, cred credential.Credential, setup SetupConfig, h Handlers) (*Session, error) {
	if !cred.Valid() {
		return nil, ErrNoCredential
	}

	target := d.URL
	if target == "" {
		target = DefaultURL
	}
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("live: parse url: %w", err)
	}

	header := make(http.Header)
	if cred.APIKey != "" {
		q := u.Query()
		q.Set("key", cred.APIKey)
		u.RawQuery = q.Encode()
	} else {
		tok, err := cred.TokenSource.Token()
		if err != nil {
			return nil, fmt.Errorf("live: token: %w", err)
		}
		tok.SetAuthHeader(&http.Request{Header: header})
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: orDefault(d.HandshakeTimeout, defaultHandshakeTimeout),
		Proxy:            http.ProxyFromEnvironment,
	}
	conn, resp, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("live: connect: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("live: connect: %w", err)
	}

	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		conn:         conn,
		handlers:     h,
		logger:       logger,
		writeTimeout: orDefault(d.WriteTimeout, defaultWriteTimeout),
		done:         make(chan struct{}),
	}

	if err := s.writeJSON(buildSetup(setup)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("live: send setup: %w", err)
	}

	go s.readLoop()
	go s.keepalive(orDefault(d.PingInterval, defaultPingInterval))

	logger.Debug("live session dialed", "model", setup.Model, "tools", len(setup.Tools))
	return s, nil
}

func orDefault(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

// Session is an open Live connection. Send methods are safe for
// concurrent use.
type Session struct {
	conn         *websocket.Conn
	handlers     Handlers
	logger       *slog.Logger
	writeTimeout time.Duration

	writeMu sync.Mutex

	mu     sync.Mutex
	closed bool
	opened bool

	done      chan struct{}
	closeOnce sync.Once
}

// SendRealtimeAudio streams one frame of little-endian PCM16 at rate.
func (s *Session) SendRealtimeAudio(pcm []byte, rate int) error {
	var msg realtimeInputMessage
	msg.RealtimeInput.MediaChunks = []mediaChunk{{
		MimeType: fmt.Sprintf("audio/pcm;rate=%d", rate),
		Data:     pcm,
	}}
	return s.writeJSON(msg)
}

// SendToolResponse answers one or more tool calls.
func (s *Session) SendToolResponse(responses ...FunctionResponse) error {
	var msg toolResponseMessage
	msg.ToolResponse.FunctionResponses = responses
	return s.writeJSON(msg)
}

func (s *Session) writeJSON(v any) error {
	if s.Closed() {
		return ErrClosed
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	return s.conn.WriteJSON(v)
}

// Closed reports whether Close was called or the connection dropped.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Done is closed when the read loop exits.
func (s *Session) Done() <-chan struct{} { return s.done }

// Close sends a close frame and tears the connection down. It does not
// wait for the read loop and is safe to call from a handler.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.writeMu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	s.writeMu.Unlock()

	return s.conn.Close()
}

func (s *Session) readLoop() {
	var closeErr error
	defer func() {
		s.mu.Lock()
		local := s.closed
		s.closed = true
		s.mu.Unlock()
		s.conn.Close()
		close(s.done)

		if local {
			closeErr = nil
		}
		s.closeOnce.Do(func() {
			if s.handlers.OnClose != nil {
				s.handlers.OnClose(closeErr)
			}
		})
	}()

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if !errors.As(err, &ce) && !s.Closed() && s.handlers.OnError != nil {
				s.handlers.OnError(err)
			}
			closeErr = err
			return
		}

		msg, err := ParseServerMessage(raw)
		if err != nil {
			s.logger.Debug("live: dropping undecodable message", "error", err)
			continue
		}

		if msg.SetupComplete {
			s.mu.Lock()
			first := !s.opened
			s.opened = true
			s.mu.Unlock()
			if first && s.handlers.OnOpen != nil {
				s.handlers.OnOpen()
			}
		}
		if s.handlers.OnMessage != nil && !msg.Empty() {
			s.handlers.OnMessage(msg)
		}
	}
}

func (s *Session) keepalive(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.writeTimeout))
			s.writeMu.Unlock()
			if err != nil {
				s.logger.Debug("live: ping failed", "error", err)
				return
			}
		}
	}
}
