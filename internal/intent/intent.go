// Package intent extracts the date, activity and location text from a weather
// question.
package intent

import (
	"regexp"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// DateLayout is the ISO calendar date used across the pipeline.
const DateLayout = "2006-01-02"

// Intent is what a question asks for.
type Intent struct {
	Question     string `json:"question"`
	Date         string `json:"date"`
	Activity     string `json:"activity,omitempty"`
	LocationText string `json:"location_text,omitempty"`
}

var activities = []string{"hike", "run", "work", "walk", "picnic", "bike", "commute"}

var (
	reInAt    = regexp.MustCompile(`(?i)\b(?:in|at)\s+([^?.,]+)(?:[?.,]|$)`)
	reWeather = regexp.MustCompile(`(?i)\bweather\s+(?:in\s+)?([^?.,]+)(?:[?.,]|$)`)
)

// Parse reads body relative to now. Dates are computed in UTC.
func Parse(body string, now time.Time) Intent {
	text := strings.TrimSpace(norm.NFC.String(body))
	lower := strings.ToLower(text)

	day := now.UTC()
	if strings.Contains(lower, "tomorrow") {
		day = day.AddDate(0, 0, 1)
	}

	in := Intent{
		Question: text,
		Date:     day.Format(DateLayout),
	}
	for _, a := range activities {
		if strings.Contains(lower, a) {
			in.Activity = a
			break
		}
	}
	in.LocationText = locationText(text)
	return in
}

func locationText(text string) string {
	for _, re := range []*regexp.Regexp{reInAt, reWeather} {
		m := re.FindStringSubmatchIndex(text)
		if m == nil {
			continue
		}
		return strings.TrimSpace(text[m[2]:m[3]])
	}
	return ""
}
