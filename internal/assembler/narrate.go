package assembler

import (
	"fmt"
	"time"
)

// Narrate renders the time-gap block injected into the system prompt: one
// line for the previous user message's timing, one for the current message,
// with a relative offset like "3 hours later". A nil previous timestamp
// produces a first-interaction variant. All formatting is done in UTC.
func Narrate(previous *time.Time, current time.Time) string {
	current = current.UTC()
	if previous == nil {
		return fmt.Sprintf(
			"This is the first interaction with the user.\nCurrent message timing: %s",
			formatStamp(current, current))
	}

	prev := previous.UTC()
	return fmt.Sprintf(
		"Previous message timing: %s\nCurrent message timing: %s (%s)",
		formatStamp(prev, current),
		formatStamp(current, current),
		relativeOffset(prev, current))
}

// formatStamp renders a timestamp with weekday, date, clock time, and a
// relative-day label computed against ref.
func formatStamp(t, ref time.Time) string {
	return fmt.Sprintf("%s (%s)", t.Format("Monday, January 2, 2006 at 3:04 PM"), dayLabel(t, ref))
}

// dayLabel is "Today", "Yesterday", or the bare date relative to ref.
func dayLabel(t, ref time.Time) string {
	ty, tm, td := t.Date()
	ry, rm, rd := ref.Date()
	if ty == ry && tm == rm && td == rd {
		return "Today"
	}
	yesterday := ref.AddDate(0, 0, -1)
	yy, ym, yd := yesterday.Date()
	if ty == yy && tm == ym && td == yd {
		return "Yesterday"
	}
	return t.Format("Jan 2, 2006")
}

// relativeOffset renders the gap between two timestamps as a coarse
// human-readable phrase. Sub-minute gaps read as "Now".
func relativeOffset(prev, current time.Time) string {
	gap := current.Sub(prev)
	switch {
	case gap < time.Minute:
		return "Now"
	case gap < time.Hour:
		return plural(int(gap.Minutes()), "minute") + " later"
	case gap < 24*time.Hour:
		return plural(int(gap.Hours()), "hour") + " later"
	default:
		return plural(int(gap.Hours()/24), "day") + " later"
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
