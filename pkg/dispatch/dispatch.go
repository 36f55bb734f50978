// Package dispatch validates device commands against the registry and runs
// them through the busy -> settled cycle.
//
// Devices are simulated: a command waits a fixed settle delay and then
// applies its field effects. A real backend would replace the settle step
// with a per-device request/response round trip.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-fleet/pkg/activity"
	"github.com/teslashibe/go-fleet/pkg/device"
)

// AllDevices is the target sentinel for every online device.
const AllDevices = "all"

// DefaultSettleDelay models command latency.
const DefaultSettleDelay = 1500 * time.Millisecond

// DefaultLaunchApp is used when launch_app has no argument.
const DefaultLaunchApp = "App"

var (
	// ErrNoEligibleTargets means every requested device is offline or unknown.
	ErrNoEligibleTargets = errors.New("dispatch: no eligible target devices")
	// ErrTargetsLost means every target went offline while the command ran.
	ErrTargetsLost = errors.New("dispatch: targets went offline")
)

// Command is a request to run an action on a set of devices.
type Command struct {
	Action   Action   `json:"action"`
	Argument string   `json:"argument,omitempty"`
	Targets  []string `json:"targets"`
}

// All reports whether the command targets every online device.
func (c Command) All() bool {
	for _, t := range c.Targets {
		if strings.EqualFold(strings.TrimSpace(t), AllDevices) {
			return true
		}
	}
	return false
}

// Result describes a finished command.
type Result struct {
	Action  Action          `json:"action"`
	Devices []device.Device `json:"devices"` // state after settling
	Message string          `json:"message"`
}

// Sleeper waits out the settle delay. It is not cancellable: once a
// command has marked its devices busy it always settles them.
type Sleeper func(time.Duration)

// Dispatcher executes commands against a registry.
type Dispatcher struct {
	registry *device.Registry
	log      *activity.Log
	settle   time.Duration
	sleep    Sleeper
	newShot  func(device.Device) string
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithSettleDelay overrides DefaultSettleDelay.
func WithSettleDelay(d time.Duration) Option {
	return func(x *Dispatcher) { x.settle = d }
}

// WithSleeper replaces time.Sleep, mainly for tests.
func WithSleeper(s Sleeper) Option {
	return func(x *Dispatcher) { x.sleep = s }
}

// WithScreenshotRef replaces the screenshot reference generator.
func WithScreenshotRef(fn func(device.Device) string) Option {
	return func(x *Dispatcher) { x.newShot = fn }
}

// New creates a dispatcher.
func New(registry *device.Registry, log *activity.Log, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		log:      log,
		settle:   DefaultSettleDelay,
		sleep:    time.Sleep,
		newShot:  placeholderShot,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func placeholderShot(d device.Device) string {
	return fmt.Sprintf("placeholder://screenshots/%s/%s.png", d.ID, uuid.NewString())
}

// Execute runs cmd and returns the human-readable outcome. Failures are
// reported in the returned text, never as a panic or error.
func (d *Dispatcher) Execute(ctx context.Context, cmd Command) string {
	res, err := d.Run(ctx, cmd)
	if err != nil {
		return "Error: " + res.Message
	}
	return res.Message
}

// Run executes cmd. Targets are selected and marked busy in one registry
// update, so a device going offline concurrently is either claimed or left
// alone. ErrNoEligibleTargets and ErrUnknownAction leave the registry
// untouched; ErrTargetsLost means every claimed device went offline before
// the command settled.
func (d *Dispatcher) Run(ctx context.Context, cmd Command) (Result, error) {
	res := Result{Action: cmd.Action}

	if _, err := ParseAction(string(cmd.Action)); err != nil {
		res.Message = fmt.Sprintf("unknown action %q.", cmd.Action)
		d.log.System("Rejected command: "+res.Message, activity.Error)
		return res, err
	}

	// Cancellation is honored only before any device turns busy.
	if err := ctx.Err(); err != nil {
		res.Message = "command canceled."
		return res, err
	}

	match := matcher(cmd)
	targets := d.registry.UpdateWhere(func(cur device.Device) device.Patch {
		if !match(cur) {
			return device.Patch{}
		}
		return device.SetStatus(device.StatusBusy)
	})
	if len(targets) == 0 {
		res.Message = fmt.Sprintf("no online devices match %s for %s.", describeTargets(cmd.Targets), cmd.Action.Label())
		d.log.System("No eligible targets: "+res.Message, activity.Error)
		return res, ErrNoEligibleTargets
	}

	ids := device.IDs(targets)
	d.log.System(describeCommand(cmd, strings.Join(device.Names(targets), ", ")), activity.Command)

	d.sleep(d.settle)

	settled := make(map[string]bool, len(ids))
	after := d.registry.UpdateEach(ids, func(cur device.Device) device.Patch {
		if !cur.Online() {
			return device.Patch{}
		}
		settled[cur.ID] = true
		return d.settlePatch(cmd, cur)
	})
	res.Devices = pick(after, ids)

	var done, lost []device.Device
	for _, t := range targets {
		if settled[t.ID] {
			done = append(done, t)
		} else {
			lost = append(lost, t)
		}
	}
	for _, t := range lost {
		d.log.System(fmt.Sprintf("%s went offline before %s completed", t.Name, cmd.Action.Label()), activity.Warning)
	}
	if len(done) == 0 {
		res.Message = fmt.Sprintf("%s did not complete: %s went offline.", cmd.Action.Label(), strings.Join(device.Names(lost), ", "))
		d.log.System(res.Message, activity.Error)
		return res, ErrTargetsLost
	}

	if cmd.Action == ActionSendText {
		for _, t := range done {
			d.log.System(fmt.Sprintf("Sent text %q to %s", cmd.Argument, t.Name), activity.Success)
		}
	}

	d.log.System(fmt.Sprintf("%s completed on %d device(s)", cmd.Action.Label(), len(done)), activity.Success)

	res.Message = fmt.Sprintf("Successfully executed %s on %s.", cmd.Action.Label(), strings.Join(device.Names(done), ", "))
	if len(lost) > 0 {
		res.Message += fmt.Sprintf(" %s went offline before finishing.", strings.Join(device.Names(lost), ", "))
	}
	if cmd.Action == ActionRestart {
		res.Message += " Devices are restarting and must be reconnected."
	}
	return res, nil
}

// matcher reports whether a device is an eligible target of cmd.
func matcher(cmd Command) func(device.Device) bool {
	if cmd.All() {
		return device.Device.Online
	}
	want := make(map[string]bool, len(cmd.Targets))
	for _, t := range cmd.Targets {
		want[strings.TrimSpace(t)] = true
	}
	return func(dev device.Device) bool {
		return want[dev.ID] && dev.Online()
	}
}

// settlePatch returns the post-delay patch for one device that is still
// online. A device moved out of busy meanwhile keeps its status and only
// receives field effects.
func (d *Dispatcher) settlePatch(cmd Command, cur device.Device) device.Patch {
	var p device.Patch

	if cur.Status == device.StatusBusy {
		next := device.StatusConnected
		if cmd.Action == ActionRestart {
			next = device.StatusOffline
		}
		p.Status = &next
	}

	switch cmd.Action {
	case ActionOpenURL:
		p.ActiveApp = ptr("Safari")
	case ActionLaunchApp:
		app := cmd.Argument
		if app == "" {
			app = DefaultLaunchApp
		}
		p.ActiveApp = &app
	case ActionKillApp, ActionGoHome:
		p.ActiveApp = ptr(device.HomeScreen)
	case ActionScreenshot:
		ref := d.newShot(cur)
		p.ScreenImage = &ref
	}
	return p
}

func describeCommand(cmd Command, names string) string {
	var b strings.Builder
	b.WriteString("Executing ")
	b.WriteString(cmd.Action.Label())
	if cmd.Argument != "" {
		fmt.Fprintf(&b, " %q", cmd.Argument)
	}
	b.WriteString(" on ")
	b.WriteString(names)
	return b.String()
}

func describeTargets(targets []string) string {
	if len(targets) == 0 {
		return "[]"
	}
	return "[" + strings.Join(targets, ", ") + "]"
}

func pick(devices []device.Device, ids []string) []device.Device {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []device.Device
	for _, d := range devices {
		if want[d.ID] {
			out = append(out, d)
		}
	}
	return out
}

func ptr[T any](v T) *T {
	return &v
}
