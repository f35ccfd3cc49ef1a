package ui

import "fmt"

// ANSI256 color codes matching the Ayu palette.
const (
	colorAccent = 74  // blue
	colorCmd    = 250 // light gray
	colorMuted  = 245 // medium gray
	colorPass   = 114 // green
	colorWarn   = 179 // amber
	colorFail   = 203 // red
)

var noColor bool

func render(code int, s string) string {
	if noColor {
		return s
	}
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", code, s)
}

// RenderAccent returns s in the accent (blue) color.
func RenderAccent(s string) string { return render(colorAccent, s) }

// RenderMuted returns s in the muted (gray) color.
func RenderMuted(s string) string { return render(colorMuted, s) }

// RenderCommand returns s styled as a command name (light gray).
func RenderCommand(s string) string { return render(colorCmd, s) }

// RenderPass returns s in the success (green) color.
func RenderPass(s string) string { return render(colorPass, s) }

// RenderWarn returns s in the warning (amber) color.
func RenderWarn(s string) string { return render(colorWarn, s) }

// RenderFail returns s in the failure (red) color.
func RenderFail(s string) string { return render(colorFail, s) }

// RenderStatus colors a vault or recipient record status. Unknown values
// are returned unchanged.
func RenderStatus(status string) string {
	switch status {
	case "created", "pending":
		return RenderMuted(status)
	case "funding":
		return RenderAccent(status)
	case "ready", "submitted", "ok":
		return RenderPass(status)
	case "unlocking":
		return RenderWarn(status)
	case "destroyed", "failed":
		return RenderFail(status)
	default:
		return status
	}
}

// ForceNoColor disables color output globally.
func ForceNoColor() {
	noColor = true
}
