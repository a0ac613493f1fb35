package weather

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

const (
	// DefaultForecastURL is the Open-Meteo daily forecast endpoint.
	DefaultForecastURL = "https://api.open-meteo.com/v1/forecast"
	// DefaultGeocodeURL is the Open-Meteo place search endpoint.
	DefaultGeocodeURL = "https://geocoding-api.open-meteo.com/v1/search"

	dailyFields = "temperature_2m_max,temperature_2m_min,precipitation_probability_max,windspeed_10m_max,weathercode"
)

// OpenMeteo is the live forecast provider.
type OpenMeteo struct {
	baseURL string
	client  *http.Client
	fetch   FetchConfig
}

// NewOpenMeteo creates a provider. An empty baseURL selects DefaultForecastURL.
func NewOpenMeteo(baseURL string, client *http.Client, fetch FetchConfig) *OpenMeteo {
	if baseURL == "" {
		baseURL = DefaultForecastURL
	}
	return &OpenMeteo{baseURL: baseURL, client: client, fetch: fetch}
}

// Name identifies the provider in traces.
func (p *OpenMeteo) Name() string { return "open-meteo" }

// Forecast fetches the daily forecast and picks the entry for date.
func (p *OpenMeteo) Forecast(ctx context.Context, loc Location, date string) (Snapshot, error) {
	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(loc.Latitude, 'f', -1, 64))
	q.Set("longitude", strconv.FormatFloat(loc.Longitude, 'f', -1, 64))
	q.Set("daily", dailyFields)
	q.Set("timezone", "auto")

	var payload forecastResponse
	if err := fetchJSON(ctx, p.client, p.fetch, p.baseURL+"?"+q.Encode(), &payload); err != nil {
		return Snapshot{}, fmt.Errorf("open-meteo forecast: %w", err)
	}
	return normalizeForecast(loc.Name, date, payload)
}

type forecastResponse struct {
	Timezone string        `json:"timezone"`
	Daily    forecastDaily `json:"daily"`
}

type forecastDaily struct {
	Time         []string   `json:"time"`
	TempMax      []float64  `json:"temperature_2m_max"`
	TempMin      []float64  `json:"temperature_2m_min"`
	PrecipMax    []float64  `json:"precipitation_probability_max"`
	WindspeedMax []*float64 `json:"windspeed_10m_max"`
	WeatherCode  []int      `json:"weathercode"`
}

func normalizeForecast(locationName, date string, payload forecastResponse) (Snapshot, error) {
	d := payload.Daily
	idx := -1
	for i, day := range d.Time {
		if day == date {
			idx = i
			break
		}
	}
	if idx < 0 || idx >= len(d.TempMax) || idx >= len(d.TempMin) || idx >= len(d.PrecipMax) {
		return Snapshot{}, fmt.Errorf("%w: No forecast for date %s", ErrNoForecast, date)
	}

	snap := Snapshot{
		LocationName:     locationName,
		Date:             date,
		TempHighC:        d.TempMax[idx],
		TempLowC:         d.TempMin[idx],
		PrecipProb:       d.PrecipMax[idx] / 100,
		ConditionSummary: "Unknown conditions",
	}
	if idx < len(d.WindspeedMax) && d.WindspeedMax[idx] != nil {
		wind := *d.WindspeedMax[idx]
		snap.WindKph = &wind
	}
	if idx < len(d.WeatherCode) {
		snap.ConditionSummary = ConditionSummary(d.WeatherCode[idx])
	}
	return snap, nil
}

var conditionSummaries = map[int]string{
	0:  "Clear sky",
	1:  "Mostly clear",
	2:  "Partly cloudy",
	3:  "Overcast",
	45: "Fog",
	48: "Rime fog",
	51: "Light drizzle",
	53: "Drizzle",
	55: "Dense drizzle",
	56: "Freezing drizzle",
	57: "Freezing drizzle",
	61: "Light rain",
	63: "Rain",
	65: "Heavy rain",
	66: "Freezing rain",
	67: "Freezing rain",
	71: "Light snow",
	73: "Snow",
	75: "Heavy snow",
	77: "Snow grains",
	80: "Rain showers",
	81: "Rain showers",
	82: "Heavy showers",
	85: "Snow showers",
	86: "Snow showers",
	95: "Thunderstorm",
	96: "Thunderstorm with hail",
	99: "Thunderstorm with hail",
}

// ConditionSummary maps a WMO weather code to a short description.
func ConditionSummary(code int) string {
	if s, ok := conditionSummaries[code]; ok {
		return s
	}
	return "Unknown conditions"
}
