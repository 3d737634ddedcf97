package bot

import "fmt"

// pluralize formats a count with its noun, e.g. "1 keyword" or "50 keywords".
func pluralize(noun string, count int) string {
	if count != 1 {
		noun += "s"
	}
	return fmt.Sprintf("%d %s", count, noun)
}
