package inline

import (
	"fmt"
	"strings"
)

// FormatHelp renders a plain-text help listing of commands visible under
// config (blocked commands are omitted; if AllowedCommands is non-empty,
// only those are shown), grouped by category in a fixed order.
func FormatHelp(config Config) string {
	prefix := config.prefix()
	commands := AvailableCommands()

	visible := make([]CommandInfo, 0, len(commands))
	for _, cmd := range commands {
		if containsFold(config.BlockedCommands, cmd.Name) {
			continue
		}
		if len(config.AllowedCommands) > 0 && !containsFold(config.AllowedCommands, cmd.Name) {
			continue
		}
		visible = append(visible, cmd)
	}

	var b strings.Builder
	b.WriteString("Available commands:\n")

	for _, group := range categoryOrder {
		var lines []string
		for _, cmd := range visible {
			if cmd.Category != group.cat {
				continue
			}
			if cmd.Args != "" {
				lines = append(lines, fmt.Sprintf("  %s%s %s - %s", prefix, cmd.Name, cmd.Args, cmd.Description))
			} else {
				lines = append(lines, fmt.Sprintf("  %s%s - %s", prefix, cmd.Name, cmd.Description))
			}
		}
		if len(lines) == 0 {
			continue
		}
		b.WriteString("\n")
		b.WriteString(group.title)
		b.WriteString(":\n")
		for _, l := range lines {
			b.WriteString(l)
			b.WriteString("\n")
		}
	}

	return strings.TrimRight(b.String(), "\n") + "\n"
}
