package web

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-fleet/pkg/activity"
	"github.com/teslashibe/go-fleet/pkg/device"
	"github.com/teslashibe/go-fleet/pkg/hub"
	"github.com/teslashibe/go-fleet/pkg/protocol"
)

func (s *Server) hubs() []*hub.Hub {
	return []*hub.Hub{s.statusHub, s.logHub, s.deviceHub, s.speakerHub}
}

func (s *Server) registerWebsockets(app *fiber.App) {
	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/status", websocket.New(s.handleStatusWS))
	app.Get("/ws/logs", websocket.New(s.handleLogsWS))
	app.Get("/ws/devices", websocket.New(s.handleDevicesWS))
	app.Get("/ws/speaker", websocket.New(s.handleSpeakerWS))
	app.Get("/ws/mic", s.micHandler())
}

// attach registers conn with h, greeting it with the snapshot, and blocks
// until the connection closes.
func (s *Server) attach(h *hub.Hub, conn *websocket.Conn, snapshot func() (*protocol.Event, error)) {
	if client := s.register(h, conn, snapshot); client != nil {
		client.Run()
	}
}

func (s *Server) register(h *hub.Hub, conn *websocket.Conn, snapshot func() (*protocol.Event, error)) *hub.Client {
	opts := []hub.ClientOption{hub.WithReceiver(s.receive)}
	if snapshot != nil {
		data, err := encodeEvent(snapshot)
		if err != nil {
			s.logger.Warn("encode snapshot", "hub", h.Name(), "error", err)
		} else {
			opts = append(opts, hub.WithGreeting(hub.NewJSONMessage(data)))
		}
	}
	return hub.NewClient(h, conn, opts...)
}

// receive answers dashboard pings; anything else is ignored.
func (s *Server) receive(c *hub.Client, messageType int, data []byte) {
	if messageType != websocket.TextMessage {
		return
	}
	e, err := protocol.ParseEvent(data)
	if err != nil || e.Type != protocol.TypePing {
		return
	}
	ping, err := e.GetPingData()
	if err != nil {
		return
	}
	pong, err := protocol.NewPongEvent(ping.ID, ping.Timestamp, time.Now().UnixMilli())
	if err != nil {
		return
	}
	if b, err := pong.Bytes(); err == nil {
		c.Send(hub.NewJSONMessage(b))
	}
}

// handleStatusWS streams status events, starting with the current one.
func (s *Server) handleStatusWS(conn *websocket.Conn) {
	s.attach(s.statusHub, conn, func() (*protocol.Event, error) {
		return protocol.NewStatusEvent(s.status())
	})
}

// handleLogsWS replays the activity log and then streams new entries.
// Registration happens inside Watch so no entry is sent twice or skipped.
func (s *Server) handleLogsWS(conn *websocket.Conn) {
	var client *hub.Client
	s.deps.Log.Watch(func(entries []activity.Entry) {
		client = s.register(s.logHub, conn, func() (*protocol.Event, error) {
			return protocol.NewHistoryEvent(entries)
		})
	})
	if client != nil {
		client.Run()
	}
}

// handleDevicesWS streams the device list on every change, starting with
// the current one.
func (s *Server) handleDevicesWS(conn *websocket.Conn) {
	var client *hub.Client
	s.deps.Registry.Watch(func(devices []device.Device) {
		client = s.register(s.deviceHub, conn, func() (*protocol.Event, error) {
			return protocol.NewDevicesEvent(devices)
		})
	})
	if client != nil {
		client.Run()
	}
}

// handleSpeakerWS streams synthesized audio as binary PCM16 frames.
func (s *Server) handleSpeakerWS(conn *websocket.Conn) {
	s.attach(s.speakerHub, conn, nil)
}
