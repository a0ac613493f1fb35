package agent

import (
	"strconv"
	"strings"

	"github.com/scalytics/skytext/internal/intent"
	"github.com/scalytics/skytext/internal/tracestore"
	"github.com/scalytics/skytext/internal/weather"
)

// Per-step serializers. Each reduces a step result to the flat projection
// stored on its step_succeeded event.

func intentFields(in intent.Intent) tracestore.Fields {
	f := tracestore.Fields{
		"question": in.Question,
		"date":     in.Date,
	}
	if in.Activity != "" {
		f["activity"] = in.Activity
	}
	if in.LocationText != "" {
		f["location_text"] = in.LocationText
	}
	return f
}

func locationFields(loc weather.Location) tracestore.Fields {
	return tracestore.Fields{
		"name":      loc.Name,
		"latitude":  formatFloat(loc.Latitude),
		"longitude": formatFloat(loc.Longitude),
	}
}

func snapshotFields(s weather.Snapshot) tracestore.Fields {
	f := tracestore.Fields{
		"location_name":     s.LocationName,
		"date":              s.Date,
		"temp_high_c":       formatFloat(s.TempHighC),
		"temp_low_c":        formatFloat(s.TempLowC),
		"precip_prob":       formatFloat(s.PrecipProb),
		"condition_summary": s.ConditionSummary,
	}
	if s.WindKph != nil {
		f["wind_kph"] = formatFloat(*s.WindKph)
	}
	if len(s.Alerts) > 0 {
		f["alerts"] = strings.Join(s.Alerts, "; ")
	}
	return f
}

func textFields(text string) tracestore.Fields {
	return tracestore.Fields{"value": text}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
