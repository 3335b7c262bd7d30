package model

import "time"

// FormatRelative renders t for a message list, relative to now.
func FormatRelative(t, now time.Time) string {
	t = t.In(now.Location())
	age := now.Sub(t)
	switch {
	case age < 24*time.Hour:
		return t.Format("15:04")
	case age < 48*time.Hour:
		return "Yesterday"
	case age < 7*24*time.Hour:
		return t.Weekday().String()
	default:
		return t.Format("02/01")
	}
}
