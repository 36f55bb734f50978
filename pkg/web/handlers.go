package web

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-fleet/pkg/activity"
	"github.com/teslashibe/go-fleet/pkg/device"
	"github.com/teslashibe/go-fleet/pkg/devicecfg"
	"github.com/teslashibe/go-fleet/pkg/dispatch"
	"github.com/teslashibe/go-fleet/pkg/session"
)

// ToolInfo describes the tool the assistant can call.
type ToolInfo struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Parameters  map[string]any    `json:"parameters"`
	Actions     []dispatch.Action `json:"actions"`
}

// handleHealth reports liveness.
func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "ok",
		"devices": s.deps.Registry.Len(),
	})
}

// handleMetrics exposes gauges in the Prometheus text format.
func (s *Server) handleMetrics(c *fiber.Ctx) error {
	counts := map[device.Status]int{}
	for _, d := range s.deps.Registry.List() {
		counts[d.Status]++
	}
	open := 0
	if s.status().Session == string(session.StateOpen) {
		open = 1
	}

	var b strings.Builder
	b.WriteString("# HELP fleet_devices Devices by status\n# TYPE fleet_devices gauge\n")
	for _, st := range []device.Status{device.StatusConnected, device.StatusBusy, device.StatusOffline} {
		fmt.Fprintf(&b, "fleet_devices{status=%q} %d\n", st, counts[st])
	}
	fmt.Fprintf(&b, "\n# HELP fleet_activity_entries Activity log entries\n# TYPE fleet_activity_entries counter\nfleet_activity_entries %d\n", s.deps.Log.Len())
	fmt.Fprintf(&b, "\n# HELP fleet_voice_session_open Voice session open\n# TYPE fleet_voice_session_open gauge\nfleet_voice_session_open %d\n", open)
	fmt.Fprintf(&b, "\n# HELP fleet_dashboard_clients Connected dashboard websockets\n# TYPE fleet_dashboard_clients gauge\n")
	for _, h := range s.hubs() {
		fmt.Fprintf(&b, "fleet_dashboard_clients{stream=%q} %d\n", h.Name(), h.ClientCount())
	}
	return c.SendString(b.String())
}

// handleStatus returns the session and fleet summary.
func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.status())
}

// handleDevices returns the device list in registry order.
func (s *Server) handleDevices(c *fiber.Ctx) error {
	devices := s.deps.Registry.List()
	if devices == nil {
		devices = []device.Device{}
	}
	return c.JSON(fiber.Map{"devices": devices})
}

// handleReconnect brings an offline device back.
func (s *Server) handleReconnect(c *fiber.Ctx) error {
	id := c.Params("id")
	before, ok := s.deps.Registry.Get(id)
	if !ok {
		return fiber.NewError(fiber.StatusNotFound, fmt.Sprintf("unknown device %q", id))
	}

	d, err := s.deps.Registry.Reconnect(id)
	if err != nil {
		return err
	}
	if before.Status == device.StatusOffline {
		s.deps.Log.User(fmt.Sprintf("Reconnected %s", d.Name), activity.Success)
	}
	return c.JSON(d)
}

// ConfigLineError is a rejected line of a posted device list.
type ConfigLineError struct {
	Line  int    `json:"line"`
	Text  string `json:"text"`
	Error string `json:"error"`
}

// handleReplaceDevices replaces the registry from a posted device list.
// Malformed lines are skipped and reported; a list without any valid
// device is rejected and leaves the registry unchanged.
func (s *Server) handleReplaceDevices(c *fiber.Ctx) error {
	devices, lineErrs := devicecfg.Parse(bytes.NewReader(c.Body()))

	rejected := make([]ConfigLineError, 0, len(lineErrs))
	for _, le := range lineErrs {
		rejected = append(rejected, ConfigLineError{Line: le.Line, Text: le.Text, Error: le.Err.Error()})
	}
	if len(devices) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":    "no valid devices in configuration",
			"rejected": rejected,
		})
	}

	after := s.deps.Registry.Replace(devices)
	sev := activity.Success
	if len(rejected) > 0 {
		sev = activity.Warning
	}
	s.deps.Log.System(fmt.Sprintf("Loaded %d device(s) from configuration, %d line(s) skipped", len(after), len(rejected)), sev)

	return c.JSON(fiber.Map{"devices": after, "rejected": rejected})
}

// CommandRequest is a button-triggered command.
type CommandRequest struct {
	Action   string   `json:"action"`
	Argument string   `json:"argument"`
	Targets  []string `json:"targets"`
}

// handleCommand runs a command from a dashboard button and waits for it to settle.
func (s *Server) handleCommand(c *fiber.Ctx) error {
	var req CommandRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid command body")
	}
	action, err := dispatch.ParseAction(req.Action)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	cmd := dispatch.Command{Action: action, Argument: req.Argument, Targets: req.Targets}
	s.deps.Log.User(fmt.Sprintf("Button: %s on %s", action.Label(), strings.Join(req.Targets, ", ")), activity.Command)

	res, err := s.deps.Dispatcher.Run(c.UserContext(), cmd)
	switch {
	case errors.Is(err, dispatch.ErrNoEligibleTargets), errors.Is(err, dispatch.ErrTargetsLost):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": res.Message})
	case err != nil:
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(res)
}

// handleToggle starts or ends the voice session.
func (s *Server) handleToggle(c *fiber.Ctx) error {
	if s.deps.Session == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "voice session not configured")
	}

	err := s.deps.Session.Toggle(c.UserContext())
	switch {
	case err == nil:
		return c.JSON(s.status())
	case errors.Is(err, session.ErrBusy):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error(), "status": s.status()})
	case errors.Is(err, session.ErrCredentialRequired):
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": err.Error(), "status": s.status()})
	default:
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": err.Error(), "status": s.status()})
	}
}

// CredentialRequest carries a key typed into the dashboard.
type CredentialRequest struct {
	APIKey string `json:"api_key"`
}

// handleCredential stores a key for the next session.
func (s *Server) handleCredential(c *fiber.Ctx) error {
	if s.deps.Prompt == nil {
		return fiber.NewError(fiber.StatusNotImplemented, "credential entry disabled")
	}
	var req CredentialRequest
	if err := c.BodyParser(&req); err != nil || strings.TrimSpace(req.APIKey) == "" {
		return fiber.NewError(fiber.StatusBadRequest, "api_key is required")
	}

	s.deps.Prompt.Set(req.APIKey)
	if s.deps.Session != nil {
		s.deps.Session.CredentialProvided()
	}
	s.deps.Log.System("API key saved for this run.", activity.Success)
	return c.SendStatus(fiber.StatusNoContent)
}

// handleLogs returns the activity log in append order.
func (s *Server) handleLogs(c *fiber.Ctx) error {
	entries := s.deps.Log.Entries()
	if entries == nil {
		entries = []activity.Entry{}
	}
	return c.JSON(entries)
}

// handleTools describes the assistant's tool.
func (s *Server) handleTools(c *fiber.Ctx) error {
	return c.JSON([]ToolInfo{{
		Name:        dispatch.ToolName,
		Description: dispatch.ToolDescription,
		Parameters:  dispatch.ToolParameters(),
		Actions:     dispatch.Actions,
	}})
}
