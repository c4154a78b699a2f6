package assembler

import (
	"strings"
	"testing"
	"time"
)

func TestNarrate(t *testing.T) {
	current := time.Date(2026, 3, 15, 14, 30, 0, 0, time.UTC) // a Sunday

	tests := []struct {
		name     string
		previous *time.Time
		contains []string
	}{
		{
			name:     "first interaction",
			previous: nil,
			contains: []string{
				"first interaction",
				"Current message timing: Sunday, March 15, 2026 at 2:30 PM (Today)",
			},
		},
		{
			name:     "same minute reads as Now",
			previous: stamp(current.Add(-30 * time.Second)),
			contains: []string{"(Now)"},
		},
		{
			name:     "minutes later",
			previous: stamp(current.Add(-5 * time.Minute)),
			contains: []string{"(5 minutes later)", "Previous message timing:"},
		},
		{
			name:     "singular hour",
			previous: stamp(current.Add(-90 * time.Minute)),
			contains: []string{"(1 hour later)"},
		},
		{
			name:     "yesterday labelled and days offset",
			previous: stamp(current.Add(-26 * time.Hour)),
			contains: []string{"(Yesterday)", "(1 day later)"},
		},
		{
			name:     "old date falls back to bare date label",
			previous: stamp(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)),
			contains: []string{"(Mar 1, 2026)", "(14 days later)"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Narrate(tt.previous, current)
			for _, want := range tt.contains {
				if !strings.Contains(got, want) {
					t.Errorf("narration missing %q:\n%s", want, got)
				}
			}
		})
	}
}

func TestNarrateTwoLines(t *testing.T) {
	current := time.Date(2026, 3, 15, 14, 30, 0, 0, time.UTC)
	got := Narrate(stamp(current.Add(-time.Hour)), current)
	if lines := strings.Split(got, "\n"); len(lines) != 2 {
		t.Fatalf("got %d lines, want 2:\n%s", len(lines), got)
	}
}

func stamp(t time.Time) *time.Time {
	return &t
}
