package weather

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

var aliases = map[string]string{
	"nyc":           "New York, NY",
	"new york city": "New York, NY",
	"sf":            "San Francisco, CA",
	"san fran":      "San Francisco, CA",
	"la":            "Los Angeles, CA",
	"los angeles":   "Los Angeles, CA",
	"dc":            "Washington, DC",
	"washington dc": "Washington, DC",
}

var (
	reDashSplit   = regexp.MustCompile(`[\x{2014}\x{2013}\-:]`)
	rePunct       = regexp.MustCompile(`[?!.]`)
	reTimeWords   = regexp.MustCompile(`(?i)\b(today|tomorrow|tonight)\b.*$`)
	reAdviceWords = regexp.MustCompile(`(?i)\b(what\s+should\s+i\s+(wear|do|bring)|do\s+i\s+need\s+a\s+coat)\b.*$`)
	reTopicWords  = regexp.MustCompile(`(?i)\b(rain|snow|forecast|weather)\b.*$`)
	reAnd         = regexp.MustCompile(`(?i)\band\b`)
	reSpaces      = regexp.MustCompile(`\s+`)
)

// SanitizeLocationText strips trailing question words from free text,
// e.g. "Seattle today?" becomes "Seattle".
func SanitizeLocationText(raw string) string {
	text := strings.TrimSpace(raw)
	if text == "" {
		return text
	}
	text = strings.TrimSpace(reDashSplit.Split(text, 2)[0])
	text = rePunct.ReplaceAllString(text, " ")
	text = strings.TrimSpace(reTimeWords.ReplaceAllString(text, ""))
	text = strings.TrimSpace(reAdviceWords.ReplaceAllString(text, ""))
	text = strings.TrimSpace(reTopicWords.ReplaceAllString(text, ""))
	text = strings.TrimSpace(reAnd.Split(text, 2)[0])
	text = strings.TrimSpace(reSpaces.ReplaceAllString(text, " "))
	return text
}

func normalizeKey(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

// candidates returns the lookup order for raw: alias or sanitized text first,
// then the raw text, then the sanitized text, without duplicates.
func candidates(raw string) []string {
	raw = strings.TrimSpace(raw)
	sanitized := SanitizeLocationText(raw)
	primary, ok := aliases[normalizeKey(sanitized)]
	if !ok {
		primary, ok = aliases[normalizeKey(raw)]
	}
	if !ok {
		primary = sanitized
		if primary == "" {
			primary = raw
		}
	}
	out := []string{primary}
	if raw != "" && raw != primary {
		out = append(out, raw)
	}
	if sanitized != "" && sanitized != primary && sanitized != raw {
		out = append(out, sanitized)
	}
	return out
}

// Geocoder resolves place names through the Open-Meteo search API.
// Results are cached for the life of the process.
type Geocoder struct {
	baseURL         string
	client          *http.Client
	fetch           FetchConfig
	limiter         *rate.Limiter
	defaultLocation string

	mu    sync.RWMutex
	cache map[string]Location
}

// GeocoderOptions configures a Geocoder.
type GeocoderOptions struct {
	BaseURL         string
	Client          *http.Client
	Fetch           FetchConfig
	RatePerSecond   float64
	DefaultLocation string
}

// NewGeocoder creates a Geocoder. RatePerSecond <= 0 disables limiting.
func NewGeocoder(opts GeocoderOptions) *Geocoder {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultGeocodeURL
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), 1)
	}
	return &Geocoder{
		baseURL:         opts.BaseURL,
		client:          opts.Client,
		fetch:           opts.Fetch,
		limiter:         limiter,
		defaultLocation: opts.DefaultLocation,
		cache:           make(map[string]Location),
	}
}

// Resolve returns the first match among the candidates for text, falling back
// to the configured default location.
func (g *Geocoder) Resolve(ctx context.Context, text string) (Location, error) {
	key := normalizeKey(text)
	g.mu.RLock()
	cached, ok := g.cache[key]
	g.mu.RUnlock()
	if ok {
		return cached, nil
	}

	cands := candidates(text)
	for _, name := range cands {
		loc, found, err := g.search(ctx, name)
		if err != nil {
			return Location{}, err
		}
		if found {
			g.store(key, loc)
			return loc, nil
		}
	}

	if g.defaultLocation != "" && normalizeKey(g.defaultLocation) != normalizeKey(cands[0]) {
		slog.Debug("Geocoding fell back to default location", "query", text, "default", g.defaultLocation)
		loc, found, err := g.search(ctx, g.defaultLocation)
		if err != nil {
			return Location{}, err
		}
		if found {
			g.store(key, loc)
			return loc, nil
		}
	}
	return Location{}, fmt.Errorf("%w: No geocoding result for %s", ErrLocationNotFound, text)
}

func (g *Geocoder) store(key string, loc Location) {
	g.mu.Lock()
	g.cache[key] = loc
	g.mu.Unlock()
}

type geocodeResponse struct {
	Results []struct {
		Name      string  `json:"name"`
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
		Country   string  `json:"country"`
		Admin1    string  `json:"admin1"`
	} `json:"results"`
}

func (g *Geocoder) search(ctx context.Context, name string) (Location, bool, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return Location{}, false, fmt.Errorf("geocode rate limit: %w", err)
	}
	q := url.Values{}
	q.Set("name", name)
	q.Set("count", "1")
	q.Set("language", "en")
	q.Set("format", "json")

	var payload geocodeResponse
	if err := fetchJSON(ctx, g.client, g.fetch, g.baseURL+"?"+q.Encode(), &payload); err != nil {
		return Location{}, false, fmt.Errorf("geocode %q: %w", name, err)
	}
	if len(payload.Results) == 0 {
		return Location{}, false, nil
	}
	r := payload.Results[0]
	parts := make([]string, 0, 3)
	for _, p := range []string{r.Name, r.Admin1, r.Country} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return Location{
		Name:      strings.Join(parts, ", "),
		Latitude:  r.Latitude,
		Longitude: r.Longitude,
	}, true, nil
}
