// Package weather supplies current conditions for the weather content blocks.
package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/BTreeMap/SymptomPipe/internal/flow"
)

// Default settings for the Open-Meteo provider.
const (
	DefaultBaseURL  = "https://api.open-meteo.com/v1/forecast"
	DefaultCacheTTL = 15 * time.Minute
	DefaultTimeout  = 10 * time.Second
)

var (
	ErrNoCoordinates = errors.New("weather coordinates are not configured")
	ErrBadResponse   = errors.New("unexpected weather response")
)

// Opts holds configuration for the Open-Meteo provider.
type Opts struct {
	Latitude   float64
	Longitude  float64
	HasCoords  bool
	BaseURL    string
	HTTPClient *http.Client
	CacheTTL   time.Duration
}

// Option configures a Provider.
type Option func(*Opts)

// WithCoordinates sets the location to report weather for.
func WithCoordinates(lat, lon float64) Option {
	return func(o *Opts) {
		o.Latitude = lat
		o.Longitude = lon
		o.HasCoords = true
	}
}

// WithBaseURL overrides the forecast endpoint.
func WithBaseURL(u string) Option {
	return func(o *Opts) { o.BaseURL = u }
}

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// WithCacheTTL sets how long a reading is reused. Zero disables caching.
func WithCacheTTL(ttl time.Duration) Option {
	return func(o *Opts) { o.CacheTTL = ttl }
}

// Provider fetches current conditions from Open-Meteo and caches the last
// reading for the configured TTL.
type Provider struct {
	lat, lon float64
	baseURL  string
	http     *http.Client
	ttl      time.Duration
	now      func() time.Time

	mu        sync.Mutex
	cached    flow.Weather
	fetchedAt time.Time
}

// NewProvider builds an Open-Meteo provider.
func NewProvider(opts ...Option) (*Provider, error) {
	cfg := Opts{
		BaseURL:  DefaultBaseURL,
		CacheTTL: DefaultCacheTTL,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if !cfg.HasCoords {
		return nil, ErrNoCoordinates
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &Provider{
		lat:     cfg.Latitude,
		lon:     cfg.Longitude,
		baseURL: cfg.BaseURL,
		http:    cfg.HTTPClient,
		ttl:     cfg.CacheTTL,
		now:     time.Now,
	}, nil
}

type forecastResponse struct {
	Current *struct {
		Temperature     float64 `json:"temperature_2m"`
		Humidity        float64 `json:"relative_humidity_2m"`
		SurfacePressure float64 `json:"surface_pressure"`
		WeatherCode     int     `json:"weather_code"`
	} `json:"current"`
}

// Current returns the current conditions, served from cache while fresh.
func (p *Provider) Current(ctx context.Context) (flow.Weather, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ttl > 0 && !p.fetchedAt.IsZero() && p.now().Sub(p.fetchedAt) < p.ttl {
		return p.cached, nil
	}
	w, err := p.fetch(ctx)
	if err != nil {
		slog.Error("weather.Provider Current failed", "error", err)
		return flow.Weather{}, err
	}
	p.cached = w
	p.fetchedAt = p.now()
	slog.Debug("weather.Provider Current fetched", "condition", w.Condition, "temperature_c", w.TemperatureC)
	return w, nil
}

func (p *Provider) fetch(ctx context.Context) (flow.Weather, error) {
	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(p.lat, 'f', 4, 64))
	q.Set("longitude", strconv.FormatFloat(p.lon, 'f', 4, 64))
	q.Set("current", "temperature_2m,relative_humidity_2m,surface_pressure,weather_code")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return flow.Weather{}, fmt.Errorf("build weather request: %w", err)
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return flow.Weather{}, fmt.Errorf("weather request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return flow.Weather{}, fmt.Errorf("%w: status %d", ErrBadResponse, resp.StatusCode)
	}
	var body forecastResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return flow.Weather{}, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	if body.Current == nil {
		return flow.Weather{}, fmt.Errorf("%w: missing current block", ErrBadResponse)
	}
	return flow.Weather{
		TemperatureC: body.Current.Temperature,
		Condition:    Condition(body.Current.WeatherCode),
		HumidityPct:  body.Current.Humidity,
		PressureHPa:  body.Current.SurfacePressure,
	}, nil
}

// Condition maps a WMO weather interpretation code to a short description.
func Condition(code int) string {
	switch {
	case code == 0:
		return "Clear"
	case code >= 1 && code <= 2:
		return "Partly cloudy"
	case code == 3:
		return "Overcast"
	case code == 45 || code == 48:
		return "Fog"
	case code >= 51 && code <= 57:
		return "Drizzle"
	case code >= 61 && code <= 67, code >= 80 && code <= 82:
		return "Rain"
	case code >= 71 && code <= 77, code == 85 || code == 86:
		return "Snow"
	case code >= 95:
		return "Thunderstorm"
	default:
		return "Unknown"
	}
}

// Static always reports the same reading.
type Static flow.Weather

// Current returns s.
func (s Static) Current(context.Context) (flow.Weather, error) {
	return flow.Weather(s), nil
}
