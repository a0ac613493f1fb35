// Package advice turns a forecast into a short SMS recommendation.
package advice

import (
	"fmt"
	"math"
	"strings"

	"github.com/scalytics/skytext/internal/intent"
	"github.com/scalytics/skytext/internal/weather"
)

// DefaultMaxChars keeps a reply within three concatenated SMS segments.
const DefaultMaxChars = 480

// Options controls formatting.
type Options struct {
	IncludeRefID bool
	TraceID      string
	MaxChars     int
}

// Compose builds the reply text. It performs no I/O.
func Compose(in intent.Intent, snap weather.Snapshot, opts Options) string {
	suggestions := make([]string, 0, 4)
	if snap.PrecipProb >= 0.4 {
		suggestions = append(suggestions, "Bring an umbrella or rain jacket")
	}
	if snap.TempHighC >= 28 {
		suggestions = append(suggestions, "Light breathable clothes + water")
	}
	if snap.TempLowC <= 5 {
		suggestions = append(suggestions, "Warm layers and a jacket")
	}
	if snap.WindKph != nil && *snap.WindKph >= 30 {
		suggestions = append(suggestions, "Windy: secure hats and outer layers")
	}
	if len(suggestions) < 2 {
		suggestions = append(suggestions, "Comfortable shoes")
	}
	if len(suggestions) > 2 {
		suggestions = suggestions[:2]
	}

	hint := ""
	if in.Activity != "" {
		hint = " for your " + in.Activity
	}

	activity := "Good for outdoor plans."
	switch {
	case snap.PrecipProb >= 0.6:
		activity = "Consider indoor activities."
	case snap.TempHighC >= 30:
		activity = "Best to stay in shade mid-day."
	}

	summary := fmt.Sprintf("%s. High %dC / Low %dC. Rain chance %d%%.",
		snap.ConditionSummary, round(snap.TempHighC), round(snap.TempLowC), round(snap.PrecipProb*100))
	if snap.LocationName != "" {
		summary = snap.LocationName + ": " + summary
	}
	tip := strings.Join(suggestions, " · ") + hint + "."

	msg := strings.TrimSpace(summary + " " + tip + " " + activity)
	if opts.IncludeRefID && opts.TraceID != "" {
		msg += " (ref: " + opts.TraceID + ")"
	}
	return Truncate(msg, opts.MaxChars)
}

// Truncate caps s at max runes, replacing the tail with "...".
// A max of zero or less selects DefaultMaxChars.
func Truncate(s string, max int) string {
	if max <= 0 {
		max = DefaultMaxChars
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max <= 3 {
		return string(runes[:max])
	}
	return strings.TrimRight(string(runes[:max-3]), " \t\n") + "..."
}

// round matches half-up rounding of displayed values (-2.5 rounds to -2).
func round(v float64) int {
	return int(math.Floor(v + 0.5))
}
