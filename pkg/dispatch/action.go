package dispatch

import (
	"errors"
	"fmt"
	"strings"
)

// Action is a device command kind.
type Action string

const (
	ActionOpenURL    Action = "open_url"
	ActionLaunchApp  Action = "launch_app"
	ActionKillApp    Action = "kill_app"
	ActionGoHome     Action = "go_home"
	ActionRestart    Action = "restart"
	ActionScreenshot Action = "screenshot"
	ActionSendText   Action = "send_text"

	// Reserved: no modeled effect beyond the busy -> connected cycle.
	ActionInstall   Action = "install"
	ActionUninstall Action = "uninstall"
	ActionListApps  Action = "list_apps"
	ActionQuit      Action = "quit"
)

// Actions lists every action in schema order.
var Actions = []Action{
	ActionOpenURL,
	ActionLaunchApp,
	ActionKillApp,
	ActionGoHome,
	ActionRestart,
	ActionScreenshot,
	ActionSendText,
	ActionInstall,
	ActionUninstall,
	ActionListApps,
	ActionQuit,
}

// ErrUnknownAction is returned for an action outside Actions.
var ErrUnknownAction = errors.New("dispatch: unknown action")

// ParseAction accepts either open_url or open-url spellings.
func ParseAction(s string) (Action, error) {
	norm := Action(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	for _, a := range Actions {
		if a == norm {
			return a, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownAction, s)
}

// Reserved reports whether the action has no field effect.
func (a Action) Reserved() bool {
	switch a {
	case ActionInstall, ActionUninstall, ActionListApps, ActionQuit:
		return true
	}
	return false
}

// Label is the human form used in log lines and results.
func (a Action) Label() string {
	return strings.ReplaceAll(string(a), "_", "-")
}
