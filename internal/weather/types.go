// Package weather provides geocoding and forecast collaborators for the SMS
// pipeline, backed by Open-Meteo or by local fixture files.
package weather

import (
	"context"
	"errors"
)

var (
	// ErrLocationNotFound is returned when no geocoding candidate matched.
	ErrLocationNotFound = errors.New("location not found")
	// ErrNoForecast is returned when the provider has no entry for the requested date.
	ErrNoForecast = errors.New("no forecast")
)

// Location is a resolved place.
type Location struct {
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Snapshot is a normalized daily forecast for one location.
type Snapshot struct {
	LocationName     string   `json:"location_name"`
	Date             string   `json:"date"`
	TempHighC        float64  `json:"temp_high_c"`
	TempLowC         float64  `json:"temp_low_c"`
	PrecipProb       float64  `json:"precip_prob"`
	WindKph          *float64 `json:"wind_kph,omitempty"`
	ConditionSummary string   `json:"condition_summary"`
	Alerts           []string `json:"alerts,omitempty"`
}

// Provider returns forecasts for a location and an ISO date (YYYY-MM-DD).
type Provider interface {
	Name() string
	Forecast(ctx context.Context, loc Location, date string) (Snapshot, error)
}

// Resolver turns free-form location text into a Location.
type Resolver interface {
	Resolve(ctx context.Context, text string) (Location, error)
}
