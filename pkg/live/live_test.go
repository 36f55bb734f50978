package live

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/teslashibe/go-fleet/pkg/credential"
)

func TestParseServerMessage(t *testing.T) {
	audio := base64.StdEncoding.EncodeToString([]byte{1, 2, 3, 4})

	tests := []struct {
		name  string
		raw   string
		check func(t *testing.T, m ServerMessage)
	}{
		{
			name: "setup complete",
			raw:  `{"setupComplete": {}}`,
			check: func(t *testing.T, m ServerMessage) {
				assert.True(t, m.SetupComplete)
			},
		},
		{
			name: "inline audio",
			raw:  `{"serverContent":{"modelTurn":{"parts":[{"inlineData":{"mimeType":"audio/pcm;rate=24000","data":"` + audio + `"}},{"text":"hi"}]}}}`,
			check: func(t *testing.T, m ServerMessage) {
				require.Len(t, m.Audio, 1)
				assert.True(t, m.Audio[0].IsAudio())
				assert.Equal(t, []byte{1, 2, 3, 4}, m.Audio[0].Data)
				assert.Equal(t, []string{"hi"}, m.Text)
			},
		},
		{
			name: "tool calls",
			raw:  `{"toolCall":{"functionCalls":[{"id":"c1","name":"execute_ios_script","args":{"action":"go_home","targetDevices":["all"]}},{"id":"c2","name":"execute_ios_script","args":{}}]}}`,
			check: func(t *testing.T, m ServerMessage) {
				require.Len(t, m.ToolCalls, 2)
				assert.Equal(t, "c1", m.ToolCalls[0].ID)
				assert.Equal(t, "go_home", m.ToolCalls[0].Args["action"])
			},
		},
		{
			name: "turn events",
			raw:  `{"serverContent":{"interrupted":true,"turnComplete":true,"inputTranscription":{"text":"go home"}}}`,
			check: func(t *testing.T, m ServerMessage) {
				assert.True(t, m.Interrupted)
				assert.True(t, m.TurnComplete)
				assert.Equal(t, "go home", m.InputTranscript)
			},
		},
		{
			name: "cancellation",
			raw:  `{"toolCallCancellation":{"ids":["c9"]}}`,
			check: func(t *testing.T, m ServerMessage) {
				assert.Equal(t, []string{"c9"}, m.CancelledCalls)
			},
		},
		{
			name: "unknown",
			raw:  `{"usageMetadata":{}}`,
			check: func(t *testing.T, m ServerMessage) {
				assert.True(t, m.Empty())
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := ParseServerMessage([]byte(tt.raw))
			require.NoError(t, err)
			tt.check(t, m)
		})
	}

	_, err := ParseServerMessage([]byte("not json"))
	assert.Error(t, err)
}

func TestBuildSetup(t *testing.T) {
	msg := buildSetup(SetupConfig{
		Model:             "models/test",
		Voice:             "Puck",
		SystemInstruction: "be brief",
		Tools:             []FunctionDeclaration{{Name: "execute_ios_script", Parameters: map[string]any{"type": "object"}}},
	})

	raw, err := json.Marshal(msg)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	setup := doc["setup"].(map[string]any)
	assert.Equal(t, "models/test", setup["model"])

	gen := setup["generation_config"].(map[string]any)
	assert.Equal(t, []any{"AUDIO"}, gen["response_modalities"])

	tools := setup["tools"].([]any)
	decls := tools[0].(map[string]any)["function_declarations"].([]any)
	assert.Equal(t, "execute_ios_script", decls[0].(map[string]any)["name"])

	sys := setup["system_instruction"].(map[string]any)["parts"].([]any)
	assert.Equal(t, "be brief", sys[0].(map[string]any)["text"])
}

// fakeServer is a scripted Live endpoint.
type fakeServer struct {
	t        *testing.T
	srv      *httptest.Server
	received chan map[string]any
	conns    chan *websocket.Conn
	query    chan string
	auth     chan string
}

func newFakeServer(t *testing.T) *fakeServer {
	f := &fakeServer{
		t:        t,
		received: make(chan map[string]any, 64),
		conns:    make(chan *websocket.Conn, 1),
		query:    make(chan string, 1),
		auth:     make(chan string, 1),
	}
	upgrader := websocket.Upgrader{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.query <- r.URL.Query().Get("key")
		f.auth <- r.Header.Get("Authorization")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		f.conns <- conn
		for {
			var msg map[string]any
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			f.received <- msg
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeServer) url() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http")
}

func (f *fakeServer) conn() *websocket.Conn {
	select {
	case c := <-f.conns:
		return c
	case <-time.After(2 * time.Second):
		f.t.Fatal("no connection")
		return nil
	}
}

func (f *fakeServer) next() map[string]any {
	select {
	case m := <-f.received:
		return m
	case <-time.After(2 * time.Second):
		f.t.Fatal("no client message")
		return nil
	}
}

type recorder struct {
	mu       sync.Mutex
	opened   chan struct{}
	messages []ServerMessage
	errs     []error
	closed   chan error
}

func newRecorder() *recorder {
	return &recorder{opened: make(chan struct{}, 1), closed: make(chan error, 1)}
}

func (r *recorder) handlers() Handlers {
	return Handlers{
		OnOpen: func() { r.opened <- struct{}{} },
		OnMessage: func(m ServerMessage) {
			r.mu.Lock()
			r.messages = append(r.messages, m)
			r.mu.Unlock()
		},
		OnError: func(err error) {
			r.mu.Lock()
			r.errs = append(r.errs, err)
			r.mu.Unlock()
		},
		OnClose: func(err error) { r.closed <- err },
	}
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

func TestSessionRoundTrip(t *testing.T) {
	fs := newFakeServer(t)
	rec := newRecorder()

	d := &Dialer{URL: fs.url()}
	s, err := d.Dial(context.Background(), credential.Credential{APIKey: "secret"}, SetupConfig{
		Model: "models/test",
		Tools: []FunctionDeclaration{{Name: "execute_ios_script"}},
	}, rec.handlers())
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, "secret", <-fs.query)
	server := fs.conn()

	setup := fs.next()
	require.Contains(t, setup, "setup")

	require.NoError(t, server.WriteJSON(map[string]any{"setupComplete": map[string]any{}}))
	select {
	case <-rec.opened:
	case <-time.After(2 * time.Second):
		t.Fatal("OnOpen not called")
	}

	require.NoError(t, s.SendRealtimeAudio([]byte{0, 1}, 16000))
	audio := fs.next()
	chunk := audio["realtime_input"].(map[string]any)["media_chunks"].([]any)[0].(map[string]any)
	assert.Equal(t, "audio/pcm;rate=16000", chunk["mime_type"])
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte{0, 1}), chunk["data"])

	require.NoError(t, server.WriteJSON(map[string]any{
		"toolCall": map[string]any{"functionCalls": []any{
			map[string]any{"id": "call-1", "name": "execute_ios_script", "args": map[string]any{"action": "screenshot"}},
		}},
	}))
	require.Eventually(t, func() bool { return rec.count() == 2 }, 2*time.Second, 5*time.Millisecond)

	rec.mu.Lock()
	call := rec.messages[1].ToolCalls[0]
	rec.mu.Unlock()
	require.NoError(t, s.SendToolResponse(TextResponse(call, "done")))

	resp := fs.next()
	fr := resp["tool_response"].(map[string]any)["function_responses"].([]any)[0].(map[string]any)
	assert.Equal(t, "call-1", fr["id"])
	assert.Equal(t, "execute_ios_script", fr["name"])
	assert.Equal(t, "done", fr["response"].(map[string]any)["result"])
}

func TestSessionRemoteClose(t *testing.T) {
	fs := newFakeServer(t)
	rec := newRecorder()

	s, err := (&Dialer{URL: fs.url()}).Dial(context.Background(), credential.Credential{APIKey: "k"}, SetupConfig{}, rec.handlers())
	require.NoError(t, err)
	server := fs.conn()
	fs.next()

	server.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(1008, "quota exceeded"))
	server.Close()

	select {
	case err := <-rec.closed:
		var ce *websocket.CloseError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, 1008, ce.Code)
	case <-time.After(2 * time.Second):
		t.Fatal("OnClose not called")
	}
	assert.True(t, s.Closed())
	assert.ErrorIs(t, s.SendRealtimeAudio([]byte{0, 0}, 16000), ErrClosed)
}

func TestSessionLocalClose(t *testing.T) {
	fs := newFakeServer(t)
	rec := newRecorder()

	s, err := (&Dialer{URL: fs.url()}).Dial(context.Background(), credential.Credential{APIKey: "k"}, SetupConfig{}, rec.handlers())
	require.NoError(t, err)
	fs.conn()

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	select {
	case err := <-rec.closed:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("OnClose not called")
	}
	<-s.Done()
	rec.mu.Lock()
	assert.Empty(t, rec.errs)
	rec.mu.Unlock()
}

func TestDialWithTokenSource(t *testing.T) {
	fs := newFakeServer(t)
	cred := credential.Credential{TokenSource: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "tok", TokenType: "Bearer"})}

	s, err := (&Dialer{URL: fs.url()}).Dial(context.Background(), cred, SetupConfig{}, Handlers{})
	require.NoError(t, err)
	defer s.Close()

	assert.Empty(t, <-fs.query)
	assert.Equal(t, "Bearer tok", <-fs.auth)
}

func TestDialRequiresCredential(t *testing.T) {
	_, err := (&Dialer{}).Dial(context.Background(), credential.Credential{}, SetupConfig{}, Handlers{})
	assert.ErrorIs(t, err, ErrNoCredential)
}

func TestDialFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := (&Dialer{URL: "ws" + strings.TrimPrefix(srv.URL, "http")}).Dial(context.Background(), credential.Credential{APIKey: "bad"}, SetupConfig{}, Handlers{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}
