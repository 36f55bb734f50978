package dispatch

import (
	"errors"
	"fmt"
	"strings"
)

// ToolName is the function the AI channel invokes for device commands.
const ToolName = "execute_ios_script"

// ToolDescription is sent with the declaration.
const ToolDescription = "Execute an action on one or more connected iOS devices. " +
	"Use targetDevices [\"all\"] when the request applies to every device."

// ErrInvalidArgs is returned when tool-call arguments do not match the schema.
var ErrInvalidArgs = errors.New("dispatch: invalid tool arguments")

// ToolParameters returns the JSON schema of the tool's arguments.
func ToolParameters() map[string]any {
	actions := make([]string, len(Actions))
	for i, a := range Actions {
		actions[i] = string(a)
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"action": map[string]any{
				"type":        "string",
				"enum":        actions,
				"description": "The action to perform.",
			},
			"argument": map[string]any{
				"type":        "string",
				"description": "URL for open_url, app name for launch_app or kill_app, text for send_text.",
			},
			"targetDevices": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Device identifiers to target, or [\"all\"] for every device.",
			},
		},
		"required": []string{"action", "targetDevices"},
	}
}

// CommandFromArgs decodes tool-call arguments into a Command.
func CommandFromArgs(args map[string]any) (Command, error) {
	rawAction, _ := args["action"].(string)
	if rawAction == "" {
		return Command{}, fmt.Errorf("%w: action is required", ErrInvalidArgs)
	}
	action, err := ParseAction(rawAction)
	if err != nil {
		return Command{}, err
	}

	var targets []string
	switch v := args["targetDevices"].(type) {
	case []any:
		for _, t := range v {
			s, ok := t.(string)
			if !ok {
				return Command{}, fmt.Errorf("%w: targetDevices must contain strings", ErrInvalidArgs)
			}
			targets = append(targets, strings.TrimSpace(s))
		}
	case []string:
		targets = v
	case string:
		targets = []string{strings.TrimSpace(v)}
	case nil:
		return Command{}, fmt.Errorf("%w: targetDevices is required", ErrInvalidArgs)
	default:
		return Command{}, fmt.Errorf("%w: targetDevices has type %T", ErrInvalidArgs, v)
	}

	argument, _ := args["argument"].(string)
	return Command{Action: action, Argument: argument, Targets: targets}, nil
}
