package bot

import (
	"fmt"
	"strings"

	"github.com/lithammer/dedent"
)

func formatReplyText(text string, a ...any) string {
	if len(a) == 0 {
		return strings.TrimSpace(dedent.Dedent(text))
	}
	return fmt.Sprintf(strings.TrimSpace(dedent.Dedent(text)), a...)
}

// parseCommand splits "/cmd@botname arg1 arg2" into "/cmd" and its arguments.
func parseCommand(s string) (string, []string) {
	parts := strings.Fields(s)
	if len(parts) == 0 {
		return "", nil
	}
	command, _, _ := strings.Cut(parts[0], "@")
	return command, parts[1:]
}

func humanBytes(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.0f KB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
