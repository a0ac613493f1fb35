package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/fatih/color"

	"github.com/scalytics/skytext/internal/tracestore"
)

type runSummary struct {
	Response string             `json:"response"`
	TraceID  string             `json:"trace_id"`
	Events   []tracestore.Event `json:"events"`
}

// printRun writes the response and its event list, as text or JSON.
func printRun(w io.Writer, response string, tr *tracestore.Trace, asJSON bool) error {
	sum := runSummary{Response: response}
	if tr != nil {
		sum.TraceID = tr.TraceID
		sum.Events = tr.Events
	}
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(sum)
	}

	fmt.Fprintln(w, "Response:")
	fmt.Fprintln(w, response)
	fmt.Fprintf(w, "\nTrace %s events:\n", sum.TraceID)
	for _, ev := range sum.Events {
		var ms int64
		if ev.DurationMS != nil {
			ms = *ev.DurationMS
		}
		fmt.Fprintf(w, "- %s %s (%dms)\n", ev.Type, ev.Step, ms)
	}
	return nil
}

// renderTimeline writes a stored trace as a colored timeline. Offsets are
// relative to the trace's creation time.
func renderTimeline(w io.Writer, tr *tracestore.Trace) {
	bold := color.New(color.Bold)
	dim := color.New(color.Faint)
	ok := color.New(color.FgGreen)
	fail := color.New(color.FgRed)
	start := color.New(color.FgCyan)

	bold.Fprintf(w, "Trace %s\n", tr.TraceID)
	fmt.Fprintf(w, "Created:  %s\n", tr.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"))
	fmt.Fprintf(w, "Message:  %s\n", tr.Input.MessageID)
	if tr.Input.FromRedacted != "" {
		fmt.Fprintf(w, "From:     %s\n", tr.Input.FromRedacted)
	}
	fmt.Fprintf(w, "Body:     %q\n\n", tr.Input.Body)

	for _, ev := range tr.Events {
		offset := ev.Timestamp.Sub(tr.CreatedAt).Milliseconds()
		dim.Fprintf(w, "%+6dms ", offset)
		switch ev.Type {
		case tracestore.StepStarted:
			start.Fprintf(w, "▶ %-24s", ev.Step)
			fmt.Fprintln(w, formatFields(ev.Input))
		case tracestore.StepSucceeded:
			ok.Fprintf(w, "✔ %-24s", ev.Step)
			fmt.Fprintln(w, durationLabel(ev)+formatFields(ev.Output))
		case tracestore.StepFailed:
			fail.Fprintf(w, "✘ %-24s", ev.Step)
			fmt.Fprintln(w, durationLabel(ev)+ev.Error)
		default:
			fmt.Fprintf(w, "? %-24s\n", ev.Step)
		}
	}

	fmt.Fprintln(w)
	if tr.Output == nil {
		fail.Fprintln(w, "No response recorded")
		return
	}
	bold.Fprint(w, "Response: ")
	fmt.Fprintln(w, tr.Output.ResponseText)
	if snap := tr.Output.WeatherSnapshot; snap != nil {
		dim.Fprintf(w, "Weather:  %s %s, %s\n", snap.LocationName, snap.Date, snap.ConditionSummary)
	}
}

func durationLabel(ev tracestore.Event) string {
	if ev.DurationMS == nil {
		return ""
	}
	return fmt.Sprintf("%dms  ", *ev.DurationMS)
}

func formatFields(f tracestore.Fields) string {
	if len(f) == 0 {
		return ""
	}
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%q", k, f[k]))
	}
	return strings.Join(parts, " ")
}
