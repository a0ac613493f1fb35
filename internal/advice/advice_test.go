package advice

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/scalytics/skytext/internal/intent"
	"github.com/scalytics/skytext/internal/weather"
)

func ptr(v float64) *float64 { return &v }

func TestComposeMildDay(t *testing.T) {
	snap := weather.Snapshot{
		LocationName:     "Seattle, Washington, United States",
		TempHighC:        20,
		TempLowC:         10,
		PrecipProb:       0.1,
		ConditionSummary: "Partly cloudy",
	}
	got := Compose(intent.Intent{}, snap, Options{})
	want := "Seattle, Washington, United States: Partly cloudy. High 20C / Low 10C. Rain chance 10%. Comfortable shoes. Good for outdoor plans."
	if got != want {
		t.Fatalf("unexpected text\n got: %s\nwant: %s", got, want)
	}
	if strings.Contains(got, "umbrella") {
		t.Fatal("did not expect umbrella advice")
	}
}

func TestComposeWetWindyWithActivity(t *testing.T) {
	snap := weather.Snapshot{
		LocationName:     "Boston",
		TempHighC:        12.6,
		TempLowC:         4.5,
		PrecipProb:       0.65,
		WindKph:          ptr(35),
		ConditionSummary: "Rain",
	}
	got := Compose(intent.Intent{Activity: "run"}, snap, Options{IncludeRefID: true, TraceID: "trace_abc"})
	want := "Boston: Rain. High 13C / Low 5C. Rain chance 65%. Bring an umbrella or rain jacket · Warm layers and a jacket for your run. Consider indoor activities. (ref: trace_abc)"
	if got != want {
		t.Fatalf("unexpected text\n got: %s\nwant: %s", got, want)
	}
}

func TestComposeHotDay(t *testing.T) {
	snap := weather.Snapshot{TempHighC: 31, TempLowC: 20, PrecipProb: 0.2, ConditionSummary: "Clear sky"}
	got := Compose(intent.Intent{}, snap, Options{})
	if !strings.Contains(got, "Light breathable clothes + water · Comfortable shoes.") {
		t.Fatalf("expected heat advice, got %q", got)
	}
	if !strings.HasSuffix(got, "Best to stay in shade mid-day.") {
		t.Fatalf("expected shade advice, got %q", got)
	}
}

func TestTruncate(t *testing.T) {
	long := strings.Repeat("a", 500)
	got := Truncate(long, 480)
	if utf8.RuneCountInString(got) != 480 || !strings.HasSuffix(got, "...") {
		t.Fatalf("unexpected truncation: %d runes", utf8.RuneCountInString(got))
	}
	if Truncate("short", 480) != "short" {
		t.Fatal("short text must be unchanged")
	}
}

func TestTruncateProperties(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("result never exceeds max runes", prop.ForAll(
		func(s string, max int) bool {
			return utf8.RuneCountInString(Truncate(s, max)) <= max
		},
		gen.AnyString(),
		gen.IntRange(4, 600),
	))

	properties.Property("text within the limit is unchanged", prop.ForAll(
		func(s string) bool {
			return Truncate(s, utf8.RuneCountInString(s)+1) == s
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}
