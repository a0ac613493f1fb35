package intent

import (
	"testing"
	"time"
)

var refTime = time.Date(2026, 10, 17, 15, 0, 0, 0, time.UTC)

func TestParse(t *testing.T) {
	cases := []struct {
		name     string
		body     string
		date     string
		activity string
		location string
	}{
		{"in location", "Weather in Seattle today?", "2026-10-17", "", "Seattle today"},
		{"tomorrow no location", "What about tomorrow?", "2026-10-18", "", ""},
		{"at with activity", "Going for a hike at Mount Rainier tomorrow, what to wear?", "2026-10-18", "hike", "Mount Rainier tomorrow"},
		{"weather prefix", "weather Boston", "2026-10-17", "", "Boston"},
		{"keeps case", "Should I bike in San Francisco.", "2026-10-17", "bike", "San Francisco"},
		{"nothing", "hello", "2026-10-17", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Parse(tc.body, refTime)
			if got.Date != tc.date {
				t.Fatalf("date: expected %s, got %s", tc.date, got.Date)
			}
			if got.Activity != tc.activity {
				t.Fatalf("activity: expected %q, got %q", tc.activity, got.Activity)
			}
			if got.LocationText != tc.location {
				t.Fatalf("location: expected %q, got %q", tc.location, got.LocationText)
			}
		})
	}
}

func TestParseUsesUTCDate(t *testing.T) {
	loc := time.FixedZone("UTC-8", -8*3600)
	now := time.Date(2026, 10, 17, 20, 0, 0, 0, loc) // 2026-10-18 04:00 UTC
	if got := Parse("weather in Reno", now).Date; got != "2026-10-18" {
		t.Fatalf("expected UTC date 2026-10-18, got %s", got)
	}
}

func TestParseNormalizesBody(t *testing.T) {
	decomposed := "weather in Zu\u0308rich"
	got := Parse(decomposed, refTime)
	if got.LocationText != "Z\u00fcrich" {
		t.Fatalf("expected NFC location text, got %q", got.LocationText)
	}
}
