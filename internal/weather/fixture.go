package weather

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	// LocationsFixture is the file name of the fixture gazetteer.
	LocationsFixture = "locations.yaml"
	// WeatherFixture is the file name of the fixture forecasts.
	WeatherFixture = "weather.yaml"
)

type fixtureLocation struct {
	Name string  `yaml:"name"`
	Lat  float64 `yaml:"lat"`
	Lon  float64 `yaml:"lon"`
	TZ   string  `yaml:"tz,omitempty"`
}

type fixtureForecast struct {
	TempHighC        float64  `yaml:"temp_high_c"`
	TempLowC         float64  `yaml:"temp_low_c"`
	PrecipProb       float64  `yaml:"precip_prob"`
	WindKph          *float64 `yaml:"wind_kph,omitempty"`
	ConditionSummary string   `yaml:"condition_summary"`
	Alerts           []string `yaml:"alerts,omitempty"`
}

// FixtureResolver resolves locations from a YAML (or JSON) gazetteer keyed by
// lowercase place text.
type FixtureResolver struct {
	locations map[string]fixtureLocation
}

// LoadFixtureResolver reads dir/locations.yaml.
func LoadFixtureResolver(dir string) (*FixtureResolver, error) {
	raw := map[string]fixtureLocation{}
	if err := readYAML(filepath.Join(dir, LocationsFixture), &raw); err != nil {
		return nil, err
	}
	locs := make(map[string]fixtureLocation, len(raw))
	for k, v := range raw {
		locs[normalizeKey(k)] = v
	}
	return &FixtureResolver{locations: locs}, nil
}

// Resolve looks up the sanitized text, then the raw text.
func (r *FixtureResolver) Resolve(_ context.Context, text string) (Location, error) {
	raw := text
	for _, cand := range []string{SanitizeLocationText(raw), raw} {
		if normalizeKey(cand) == "" {
			continue
		}
		if loc, ok := r.locations[normalizeKey(cand)]; ok {
			return Location{Name: loc.Name, Latitude: loc.Lat, Longitude: loc.Lon}, nil
		}
	}
	return Location{}, fmt.Errorf("%w: missing location fixture for %q", ErrLocationNotFound, text)
}

// FixtureProvider serves forecasts from weather.yaml keyed by location name.
// The requested date is stamped onto every snapshot.
type FixtureProvider struct {
	forecasts map[string]fixtureForecast
}

// LoadFixtureProvider reads dir/weather.yaml.
func LoadFixtureProvider(dir string) (*FixtureProvider, error) {
	raw := map[string]fixtureForecast{}
	if err := readYAML(filepath.Join(dir, WeatherFixture), &raw); err != nil {
		return nil, err
	}
	forecasts := make(map[string]fixtureForecast, len(raw))
	for k, v := range raw {
		forecasts[normalizeKey(k)] = v
	}
	return &FixtureProvider{forecasts: forecasts}, nil
}

// Name identifies the provider in traces.
func (p *FixtureProvider) Name() string { return "fixture" }

// Forecast returns the fixture forecast for loc.
func (p *FixtureProvider) Forecast(_ context.Context, loc Location, date string) (Snapshot, error) {
	f, ok := p.forecasts[normalizeKey(loc.Name)]
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: No forecast for date %s", ErrNoForecast, date)
	}
	return Snapshot{
		LocationName:     loc.Name,
		Date:             date,
		TempHighC:        f.TempHighC,
		TempLowC:         f.TempLowC,
		PrecipProb:       f.PrecipProb,
		WindKph:          f.WindKph,
		ConditionSummary: f.ConditionSummary,
		Alerts:           f.Alerts,
	}, nil
}

func readYAML(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read fixture %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse fixture %s: %w", path, err)
	}
	return nil
}
