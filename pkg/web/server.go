// Package web provides the fleet console dashboard: a REST API for buttons
// and configuration, and websocket streams for status, devices, the
// activity log and speaker audio.
package web

import (
	"context"
	"errors"
	"log/slog"
	"net"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/teslashibe/go-fleet/pkg/activity"
	"github.com/teslashibe/go-fleet/pkg/audioio"
	"github.com/teslashibe/go-fleet/pkg/credential"
	"github.com/teslashibe/go-fleet/pkg/device"
	"github.com/teslashibe/go-fleet/pkg/dispatch"
	"github.com/teslashibe/go-fleet/pkg/hub"
	"github.com/teslashibe/go-fleet/pkg/protocol"
	"github.com/teslashibe/go-fleet/pkg/session"
)

// Config holds dashboard settings.
type Config struct {
	// Port to listen on.
	Port string
	// StaticDir is served at / when set.
	StaticDir string
	// AccessLog enables per-request logging.
	AccessLog bool
}

// Deps are the components the dashboard exposes.
type Deps struct {
	Registry   *device.Registry
	Dispatcher *dispatch.Dispatcher
	Log        *activity.Log
	Session    *session.Controller
	// Prompt receives keys entered in the dashboard. Optional.
	Prompt *credential.Prompt
	// Mic receives browser microphone frames. Optional.
	Mic    *audioio.PushSource
	Logger *slog.Logger
}

// Server is the web dashboard server
type Server struct {
	app    *fiber.App
	cfg    Config
	deps   Deps
	logger *slog.Logger

	// Hubs for websocket broadcast
	statusHub  *hub.Hub
	logHub     *hub.Hub
	deviceHub  *hub.Hub
	speakerHub *hub.Hub
}

// NewServer creates the dashboard and subscribes it to registry, log and
// session changes.
func NewServer(cfg Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "web")

	s := &Server{
		cfg:        cfg,
		deps:       deps,
		logger:     logger,
		statusHub:  hub.New("status", logger),
		logHub:     hub.New("logs", logger),
		deviceHub:  hub.New("devices", logger),
		speakerHub: hub.New("speaker", logger),
	}

	app := fiber.New(fiber.Config{
		AppName:               "Fleet Console",
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})

	app.Use(recover.New())
	app.Use(cors.New())
	if cfg.AccessLog {
		app.Use(fiberlogger.New())
	}

	if cfg.StaticDir != "" {
		app.Static("/", cfg.StaticDir)
	}

	app.Get("/health", s.handleHealth)
	app.Get("/metrics", s.handleMetrics)

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/devices", s.handleDevices)
	api.Post("/devices/config", s.handleReplaceDevices)
	api.Post("/devices/:id/reconnect", s.handleReconnect)
	api.Post("/commands", s.handleCommand)
	api.Post("/session/toggle", s.handleToggle)
	api.Post("/credential", s.handleCredential)
	api.Get("/logs", s.handleLogs)
	api.Get("/tools", s.handleTools)

	s.registerWebsockets(app)

	s.app = app
	s.subscribe()
	return s
}

func (s *Server) subscribe() {
	s.deps.Registry.Subscribe(func(devices []device.Device) {
		s.publish(s.deviceHub, func() (*protocol.Event, error) { return protocol.NewDevicesEvent(devices) })
		s.publishStatus()
	})
	s.deps.Log.Subscribe(func(e activity.Entry) {
		s.publish(s.logHub, func() (*protocol.Event, error) { return protocol.NewLogEvent(e) })
	})
	if s.deps.Session != nil {
		s.deps.Session.Subscribe(func(session.Status) { s.publishStatus() })
	}
}

func (s *Server) publishStatus() {
	s.publish(s.statusHub, func() (*protocol.Event, error) { return protocol.NewStatusEvent(s.status()) })
}

func (s *Server) publish(h *hub.Hub, build func() (*protocol.Event, error)) {
	data, err := encodeEvent(build)
	if err != nil {
		s.logger.Warn("encode event", "hub", h.Name(), "error", err)
		return
	}
	h.Broadcast(hub.NewJSONMessage(data))
}

func encodeEvent(build func() (*protocol.Event, error)) ([]byte, error) {
	e, err := build()
	if err != nil {
		return nil, err
	}
	return e.Bytes()
}

// status builds the dashboard status snapshot.
func (s *Server) status() protocol.StatusData {
	devices := s.deps.Registry.List()
	online := 0
	for _, d := range devices {
		if d.Online() {
			online++
		}
	}
	st := protocol.StatusData{
		Session: string(session.StateIdle),
		Devices: len(devices),
		Online:  online,
	}
	if s.deps.Session != nil {
		ss := s.deps.Session.Status()
		st.Session = string(ss.State)
		st.Speaking = ss.Speaking
		st.CredentialRequired = ss.CredentialRequired
		st.Since = ss.Since.UnixMilli()
	}
	return st
}

// PlayAudio relays synthesized audio to every /ws/speaker client as
// little-endian PCM16. It is the relay of the browser speaker sink.
func (s *Server) PlayAudio(chunk audioio.AudioChunk) error {
	s.speakerHub.BroadcastBinary(chunk.Bytes())
	return nil
}

// App returns the fiber app, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Run starts the hubs and serves until ctx is cancelled or the listener fails.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", ":"+s.cfg.Port)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	for _, h := range []*hub.Hub{s.statusHub, s.logHub, s.deviceHub, s.speakerHub} {
		go h.Run(ctx)
	}

	s.logger.Info("dashboard listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() { errCh <- s.app.Listener(ln) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return nil
	}
}

// Shutdown gracefully stops the web server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// errorHandler renders errors as {"error": "..."}.
func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}
