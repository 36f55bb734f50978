// Package console wires the fleet console together: device registry,
// dispatcher, activity log, voice session and dashboard.
package console

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/teslashibe/go-fleet/internal/config"
	"github.com/teslashibe/go-fleet/internal/log"
	"github.com/teslashibe/go-fleet/pkg/activity"
	"github.com/teslashibe/go-fleet/pkg/audiobridge"
	"github.com/teslashibe/go-fleet/pkg/audioio"
	"github.com/teslashibe/go-fleet/pkg/credential"
	"github.com/teslashibe/go-fleet/pkg/device"
	"github.com/teslashibe/go-fleet/pkg/devicecfg"
	"github.com/teslashibe/go-fleet/pkg/dispatch"
	"github.com/teslashibe/go-fleet/pkg/live"
	"github.com/teslashibe/go-fleet/pkg/session"
	"github.com/teslashibe/go-fleet/pkg/web"
)

// ErrNotInitialized is returned by Run before Init.
var ErrNotInitialized = errors.New("console: not initialized")

// shutdownTimeout bounds the dashboard's graceful stop.
const shutdownTimeout = 5 * time.Second

// App is the fleet console orchestrator.
// It manages all components and their lifecycle.
type App struct {
	config config.Config
	logger *slog.Logger

	// Fleet
	registry   *device.Registry
	activity   *activity.Log
	dispatcher *dispatch.Dispatcher

	// Voice
	prompt   *credential.Prompt
	resolver credential.Resolver
	mic      *audioio.PushSource
	session  *session.Controller
	dial     session.DialFunc

	// Web dashboard
	webServer *web.Server
}

// Option customizes an App, mainly for tests.
type Option func(*App)

// WithDialer replaces the Gemini Live dialer.
func WithDialer(d session.DialFunc) Option {
	return func(a *App) { a.dial = d }
}

// WithResolver replaces the credential chain. The dashboard prompt is
// still consulted first.
func WithResolver(r credential.Resolver) Option {
	return func(a *App) { a.resolver = r }
}

// New creates a console with the given configuration.
func New(cfg config.Config, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	app := &App{
		config: cfg,
		logger: log.Component("console"),
		prompt: &credential.Prompt{},
	}
	for _, opt := range opts {
		opt(app)
	}
	return app, nil
}

// Init loads the device list and builds every component.
// Call this after New() and before Run().
func (a *App) Init(ctx context.Context) error {
	a.activity = activity.New(log.Component("activity"))

	devices, err := a.loadDevices(ctx)
	if err != nil {
		return fmt.Errorf("device config: %w", err)
	}
	a.registry = device.NewRegistry(devices, log.Component("registry"))
	a.dispatcher = dispatch.New(a.registry, a.activity, dispatch.WithSettleDelay(a.config.SettleDelay))

	if err := a.initVoice(); err != nil {
		return fmt.Errorf("voice: %w", err)
	}

	a.webServer = web.NewServer(web.Config{
		Port:      a.config.Port,
		StaticDir: a.config.StaticDir,
		AccessLog: log.ParseLevel(a.config.LogLevel) == slog.LevelDebug,
	}, web.Deps{
		Registry:   a.registry,
		Dispatcher: a.dispatcher,
		Log:        a.activity,
		Session:    a.session,
		Prompt:     a.prompt,
		Mic:        a.mic,
		Logger:     a.logger,
	})

	a.logger.Info("console initialized",
		"devices", a.registry.Len(),
		"speaker", a.config.SpeakerBackend,
		"model", a.config.Model,
	)
	return nil
}

func (a *App) loadDevices(ctx context.Context) ([]device.Device, error) {
	if a.config.DeviceConfig == "" {
		a.activity.System("No device configuration given; the registry is empty.", activity.Warning)
		return nil, nil
	}

	devices, lineErrs, err := devicecfg.Load(ctx, a.config.DeviceConfig)
	if err != nil {
		return nil, err
	}
	for _, le := range lineErrs {
		a.activity.System("Skipped device config "+le.Error(), activity.Warning)
	}
	a.activity.System(fmt.Sprintf("Loaded %d device(s) from %s", len(devices), a.config.DeviceConfig), activity.Info)
	return devices, nil
}

func (a *App) initVoice() error {
	micCfg := audioio.CaptureConfig()
	micCfg.SampleRate = a.config.InputSampleRate
	micCfg.BufferDuration = a.config.FrameDuration
	src, err := audioio.NewSource(micCfg, log.Component("mic"))
	if err != nil {
		return err
	}
	mic, ok := src.(*audioio.PushSource)
	if !ok {
		return fmt.Errorf("microphone backend %s cannot receive dashboard audio", src.Name())
	}
	a.mic = mic

	if a.resolver == nil {
		a.resolver = credential.Chain{
			credential.DefaultEnv(),
			credential.File{Path: a.config.CredentialFile},
			credential.GoogleDefault{},
		}
	}
	// Keys typed into the dashboard win over everything else.
	resolver := credential.Chain{a.prompt, a.resolver}

	if a.dial == nil {
		a.dial = session.LiveDialer(&live.Dialer{
			URL:    a.config.LiveURL,
			Logger: log.Component("live"),
		})
	}

	a.session = session.New(session.Config{
		Model: a.config.Model,
		Voice: a.config.Voice,
		Audio: audiobridge.Config{
			InputSampleRate:  a.config.InputSampleRate,
			OutputSampleRate: a.config.OutputSampleRate,
			QueueSize:        audiobridge.DefaultConfig().QueueSize,
		},
	}, session.Deps{
		Registry:   a.registry,
		Dispatcher: a.dispatcher,
		Log:        a.activity,
		Resolver:   resolver,
		Dial:       a.dial,
		Endpoints:  a.endpoints,
		Logger:     log.Component("session"),
	})
	return nil
}

// endpoints provides the shared dashboard microphone and a fresh speaker
// for each session.
func (a *App) endpoints() (audioio.Source, audioio.Sink, error) {
	backend, err := audioio.ParseBackend(a.config.SpeakerBackend)
	if err != nil {
		return nil, nil, err
	}
	speakerCfg := audioio.DefaultConfig()
	speakerCfg.Backend = backend
	speakerCfg.SampleRate = a.config.OutputSampleRate
	speakerCfg.Target = a.config.RTPTarget

	sink, err := audioio.NewSink(speakerCfg, a.webServer.PlayAudio, log.Component("speaker"))
	if err != nil {
		return nil, nil, err
	}
	return a.mic, sink, nil
}

// Run serves the dashboard until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	if a.webServer == nil {
		return ErrNotInitialized
	}
	a.activity.System(fmt.Sprintf("Fleet console ready with %d device(s).", a.registry.Len()), activity.Success)
	a.logger.Info("dashboard", "url", "http://localhost:"+a.config.Port)
	return a.webServer.Run(ctx)
}

// Shutdown ends the voice session, waits for in-flight commands and stops
// the dashboard.
func (a *App) Shutdown() {
	if a.session != nil {
		a.session.Disconnect()
		a.session.Wait()
	}
	if a.webServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.webServer.Shutdown(ctx); err != nil {
			a.logger.Warn("dashboard shutdown", "error", err)
		}
	}
	a.logger.Info("console stopped")
}

// Registry returns the device registry.
func (a *App) Registry() *device.Registry { return a.registry }

// Activity returns the activity log.
func (a *App) Activity() *activity.Log { return a.activity }

// Session returns the voice session controller.
func (a *App) Session() *session.Controller { return a.session }

// Web returns the dashboard server.
func (a *App) Web() *web.Server { return a.webServer }
