package main

import (
	"bytes"
	"fmt"
	"regexp"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/splitvault/internal/ui"
)

// helpRule restyles every match of re. Group 1, when present, is kept
// unstyled as a prefix and group 2 is styled.
type helpRule struct {
	re     *regexp.Regexp
	render func(string) string
}

var helpRules = []helpRule{
	// Section headers such as "Vaults:" or "Flags:".
	{regexp.MustCompile(`(?m)^()([A-Z][^\n]*:)[ \t]*$`), ui.RenderAccent},
	// Command names: two-space indent, a word, then the padding before the description.
	{regexp.MustCompile(`(?m)^(  )(\S+)(?:  )`), ui.RenderCommand},
	// Flag type annotations, e.g. "--url string".
	{regexp.MustCompile(`(--?\S+\s+)(string|int|duration|stringArray|stringSlice)\b`), ui.RenderMuted},
	// Defaults, e.g. (default "http://localhost:8080").
	{regexp.MustCompile(`()(\(default [^)]*\))`), ui.RenderMuted},
}

// colorizedHelpFunc returns a Cobra help function that post-processes the
// default help text with ANSI colors when the terminal supports it.
func colorizedHelpFunc() func(*cobra.Command, []string) {
	return func(cmd *cobra.Command, args []string) {
		orig := cmd.OutOrStdout()
		if !ui.ShouldUseColor() {
			_ = cmd.Usage()
			return
		}

		var buf bytes.Buffer
		cmd.SetOut(&buf)
		_ = cmd.Usage()
		cmd.SetOut(orig)

		fmt.Fprint(orig, colorizeHelpOutput(buf.String()))
	}
}

// colorizeHelpOutput applies every help rule in order.
func colorizeHelpOutput(s string) string {
	for _, rule := range helpRules {
		s = rule.re.ReplaceAllStringFunc(s, func(match string) string {
			parts := rule.re.FindStringSubmatch(match)
			if len(parts) < 3 {
				return match
			}
			rest := match[len(parts[1])+len(parts[2]):]
			return parts[1] + rule.render(parts[2]) + rest
		})
	}
	return s
}
