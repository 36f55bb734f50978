package session

import (
	"fmt"
	"strings"

	"github.com/teslashibe/go-fleet/pkg/device"
	"github.com/teslashibe/go-fleet/pkg/dispatch"
)

// SystemPrompt builds the instruction sent when a session opens. It lists
// every device in the registry so the model can map spoken names to ids.
func SystemPrompt(devices []device.Device) string {
	var b strings.Builder

	b.WriteString("You are the voice operator of a fleet of iOS devices. ")
	b.WriteString("The user speaks requests such as opening a website, launching or closing an app, ")
	b.WriteString("going to the home screen, restarting, taking screenshots or typing text.\n\n")

	b.WriteString("Devices:\n")
	if len(devices) == 0 {
		b.WriteString("- (none configured)\n")
	}
	for _, d := range devices {
		fmt.Fprintf(&b, "- %s: id %q, %s, %s, status %s\n", d.Name, d.ID, d.Model, d.OSVersion, d.Status)
	}

	b.WriteString("\nRules:\n")
	fmt.Fprintf(&b, "- For every actionable request, call the %s tool. Do not claim an action happened without calling it.\n", dispatch.ToolName)
	b.WriteString("- Map the device names the user says to the ids listed above.\n")
	fmt.Fprintf(&b, "- When the request covers every device, pass targetDevices [%q].\n", dispatch.AllDevices)
	b.WriteString("- Offline devices cannot run commands; say so if the user targets one.\n")
	b.WriteString("- After the tool returns, confirm the outcome in one short sentence.\n")

	return b.String()
}
