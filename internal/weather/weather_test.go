package weather

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BTreeMap/SymptomPipe/internal/flow"
)

const sampleResponse = `{"latitude":43.65,"longitude":-79.38,"current":{"time":"2025-03-01T08:00","temperature_2m":4.6,"relative_humidity_2m":81,"surface_pressure":1002.4,"weather_code":61}}`

func newTestServer(t *testing.T, status int, body string) (*httptest.Server, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if r.URL.Query().Get("latitude") == "" || r.URL.Query().Get("current") == "" {
			t.Errorf("missing query parameters: %s", r.URL.RawQuery)
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestProvider_Current(t *testing.T) {
	srv, hits := newTestServer(t, http.StatusOK, sampleResponse)
	p, err := NewProvider(WithCoordinates(43.65, -79.38), WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("NewProvider failed: %v", err)
	}

	w, err := p.Current(context.Background())
	if err != nil {
		t.Fatalf("Current failed: %v", err)
	}
	want := flow.Weather{TemperatureC: 4.6, Condition: "Rain", HumidityPct: 81, PressureHPa: 1002.4}
	if w != want {
		t.Errorf("expected %+v, got %+v", want, w)
	}

	if _, err := p.Current(context.Background()); err != nil {
		t.Fatalf("second Current failed: %v", err)
	}
	if got := atomic.LoadInt32(hits); got != 1 {
		t.Errorf("expected cached reading, server hit %d times", got)
	}
}

func TestProvider_CacheExpires(t *testing.T) {
	srv, hits := newTestServer(t, http.StatusOK, sampleResponse)
	p, err := NewProvider(WithCoordinates(1, 2), WithBaseURL(srv.URL), WithCacheTTL(time.Minute))
	if err != nil {
		t.Fatalf("NewProvider failed: %v", err)
	}
	now := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	_, _ = p.Current(context.Background())
	now = now.Add(2 * time.Minute)
	_, _ = p.Current(context.Background())
	if got := atomic.LoadInt32(hits); got != 2 {
		t.Errorf("expected 2 fetches after expiry, got %d", got)
	}
}

func TestProvider_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusInternalServerError, `{}`},
		{"malformed json", http.StatusOK, `{"current":`},
		{"missing current", http.StatusOK, `{"latitude":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newTestServer(t, tt.status, tt.body)
			p, err := NewProvider(WithCoordinates(1, 2), WithBaseURL(srv.URL))
			if err != nil {
				t.Fatalf("NewProvider failed: %v", err)
			}
			if _, err := p.Current(context.Background()); !errors.Is(err, ErrBadResponse) {
				t.Errorf("expected ErrBadResponse, got %v", err)
			}
		})
	}
}

func TestNewProvider_RequiresCoordinates(t *testing.T) {
	if _, err := NewProvider(); !errors.Is(err, ErrNoCoordinates) {
		t.Errorf("expected ErrNoCoordinates, got %v", err)
	}
}

func TestCondition(t *testing.T) {
	tests := map[int]string{0: "Clear", 2: "Partly cloudy", 3: "Overcast", 45: "Fog", 53: "Drizzle", 81: "Rain", 73: "Snow", 96: "Thunderstorm", 42: "Unknown"}
	for code, want := range tests {
		if got := Condition(code); got != want {
			t.Errorf("Condition(%d) = %q, want %q", code, got, want)
		}
	}
}

func TestStatic(t *testing.T) {
	s := Static{TemperatureC: 20, Condition: "Clear"}
	var src flow.WeatherSource = s
	w, err := src.Current(context.Background())
	if err != nil || w.Condition != "Clear" {
		t.Errorf("unexpected reading %+v, %v", w, err)
	}
}
