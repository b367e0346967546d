package format

import (
	"fmt"
	"time"

	"snapwatch/internal/copr"
)

// StateMark renders a build state as a compact table cell.
func StateMark(s copr.State) string {
	switch s {
	case copr.StateSucceeded:
		return "✓"
	case copr.StateFailed:
		return "✗ failed"
	case copr.StateCanceled:
		return "✗ canceled"
	}
	return string(s)
}

// Age says how long ago t was, coarsely: "just now", "12m ago",
// "3h ago", "2d ago".
func Age(t, now time.Time) string {
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	}
	return fmt.Sprintf("%dd ago", int(d.Hours()/24))
}
