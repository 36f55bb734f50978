// Package device defines the iOS device record and the in-memory registry
// that owns every record in the fleet.
package device

import (
	"errors"
	"fmt"
)

// Status is the lifecycle state of a device.
type Status string

const (
	StatusConnected Status = "connected"
	StatusBusy      Status = "busy"
	StatusOffline   Status = "offline"
)

// HomeScreen is the active-app value of a device sitting on its home screen.
const HomeScreen = "SpringBoard"

// ErrInvalidTransition is returned when a patch asks for a disallowed status change.
var ErrInvalidTransition = errors.New("device: invalid status transition")

// Device is a single simulated iOS device.
type Device struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Model       string `json:"model"`
	OSVersion   string `json:"os_version"`
	Host        string `json:"host"`
	Status      Status `json:"status"`
	Battery     int    `json:"battery"`                // 0-100
	ActiveApp   string `json:"active_app,omitempty"`   // bundle or display name
	ScreenImage string `json:"screen_image,omitempty"` // reference to last capture
}

// Online reports whether the device may be targeted by commands.
func (d Device) Online() bool {
	return d.Status != StatusOffline
}

func (d Device) String() string {
	return fmt.Sprintf("%s (%s, %s)", d.Name, d.ID, d.Status)
}

// transitions lists the allowed status changes. Staying in the same state is always allowed.
var transitions = map[Status][]Status{
	StatusConnected: {StatusBusy, StatusOffline},
	StatusBusy:      {StatusConnected, StatusOffline},
	StatusOffline:   {StatusConnected},
}

// ValidTransition reports whether a device may move from one status to another.
func ValidTransition(from, to Status) bool {
	if from == to {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ParseStatus maps config and API spellings onto a Status.
func ParseStatus(s string) (Status, error) {
	switch s {
	case "connected", "online", "":
		return StatusConnected, nil
	case "busy":
		return StatusBusy, nil
	case "offline":
		return StatusOffline, nil
	default:
		return "", fmt.Errorf("device: unknown status %q", s)
	}
}

// Patch is a partial update. Nil fields are left untouched; the identifier is never patchable.
type Patch struct {
	Status      *Status
	Battery     *int
	ActiveApp   *string
	ScreenImage *string
}

// SetStatus returns a patch that only changes status.
func SetStatus(s Status) Patch {
	return Patch{Status: &s}
}

// IsZero reports whether the patch changes nothing.
func (p Patch) IsZero() bool {
	return p.Status == nil && p.Battery == nil && p.ActiveApp == nil && p.ScreenImage == nil
}

// Apply returns d with the patch applied. A disallowed status change leaves d untouched.
func (p Patch) Apply(d Device) (Device, error) {
	if p.Status != nil && !ValidTransition(d.Status, *p.Status) {
		return d, fmt.Errorf("%w: %s -> %s on %s", ErrInvalidTransition, d.Status, *p.Status, d.ID)
	}
	if p.Status != nil {
		d.Status = *p.Status
	}
	if p.Battery != nil {
		d.Battery = clampBattery(*p.Battery)
	}
	if p.ActiveApp != nil {
		d.ActiveApp = *p.ActiveApp
	}
	if p.ScreenImage != nil {
		d.ScreenImage = *p.ScreenImage
	}
	return d, nil
}

func clampBattery(v int) int {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}
