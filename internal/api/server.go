package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BTreeMap/SymptomPipe/internal/genai"
	"github.com/BTreeMap/SymptomPipe/internal/notify"
	"github.com/BTreeMap/SymptomPipe/internal/store"
	"github.com/BTreeMap/SymptomPipe/internal/symptoms"
	"github.com/BTreeMap/SymptomPipe/internal/weather"
	"github.com/BTreeMap/SymptomPipe/internal/wizard"
)

// Default server settings.
const (
	DefaultServerAddress      = ":8080"
	DefaultDraftRetention     = 7 * 24 * time.Hour
	DefaultSessionIdleTimeout = 30 * time.Minute
	DefaultShutdownTimeout    = 10 * time.Second
	DefaultReadHeaderTimeout  = 10 * time.Second
	// maxRequestBodyBytes caps JSON request bodies.
	maxRequestBodyBytes = 1 << 20
)

// Opts holds API server configuration.
type Opts struct {
	Addr               string
	CaregiverPhone     string
	AlertThreshold     int
	DraftRetention     time.Duration
	SessionIdleTimeout time.Duration
}

// Option configures the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithCaregiverPhone sets the number alerted about severe logs.
func WithCaregiverPhone(phone string) Option {
	return func(o *Opts) { o.CaregiverPhone = phone }
}

// WithAlertThreshold sets the severity that triggers a caregiver alert.
func WithAlertThreshold(n int) Option {
	return func(o *Opts) { o.AlertThreshold = n }
}

// WithDraftRetention sets how long unfinished drafts are kept.
func WithDraftRetention(d time.Duration) Option {
	return func(o *Opts) { o.DraftRetention = d }
}

// WithSessionIdleTimeout sets how long an idle session stays in memory.
func WithSessionIdleTimeout(d time.Duration) Option {
	return func(o *Opts) { o.SessionIdleTimeout = d }
}

// Server serves the HTTP API.
type Server struct {
	catalog *symptoms.Catalog
	st      store.Store
	wizards *wizard.Manager
	now     func() time.Time
}

// NewServer wires the handlers to their dependencies.
func NewServer(catalog *symptoms.Catalog, st store.Store, wizards *wizard.Manager) *Server {
	return &Server{catalog: catalog, st: st, wizards: wizards, now: time.Now}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.healthHandler)
	mux.HandleFunc("GET /flows", s.listFlowsHandler)
	mux.HandleFunc("GET /flows/{id}", s.getFlowHandler)
	mux.HandleFunc("POST /sessions", s.startSessionHandler)
	mux.HandleFunc("GET /sessions/{id}", s.getSessionHandler)
	mux.HandleFunc("POST /sessions/{id}/fields/{field}", s.updateFieldHandler)
	mux.HandleFunc("POST /sessions/{id}/next", s.nextStepHandler)
	mux.HandleFunc("POST /sessions/{id}/previous", s.previousStepHandler)
	mux.HandleFunc("POST /sessions/{id}/goto", s.goToStepHandler)
	mux.HandleFunc("POST /sessions/{id}/validate", s.validateStepHandler)
	mux.HandleFunc("POST /sessions/{id}/save", s.saveHandler)
	mux.HandleFunc("POST /sessions/{id}/save-early", s.saveEarlyHandler)
	mux.HandleFunc("POST /sessions/{id}/cancel", s.cancelSessionHandler)
	mux.HandleFunc("GET /logs", s.listLogsHandler)
	return mux
}

// Run opens the store, starts the background workers and serves until
// SIGINT or SIGTERM.
func Run(storeOpts []store.Option, genaiOpts []genai.Option, notifyOpts []notify.Option, weatherOpts []weather.Option, apiOpts []Option) error {
	cfg := Opts{
		Addr:               DefaultServerAddress,
		AlertThreshold:     wizard.DefaultAlertThreshold,
		DraftRetention:     DefaultDraftRetention,
		SessionIdleTimeout: DefaultSessionIdleTimeout,
	}
	for _, opt := range apiOpts {
		opt(&cfg)
	}
	slog.Debug("api.Run: configuration", "addr", cfg.Addr, "alertThreshold", cfg.AlertThreshold, "caregiverSet", cfg.CaregiverPhone != "")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(storeOpts...)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			slog.Error("api.Run: store close failed", "error", cerr)
		}
	}()

	if n, err := st.PurgeDrafts(ctx, time.Now().Add(-cfg.DraftRetention)); err != nil {
		slog.Warn("api.Run: draft purge failed", "error", err)
	} else if n > 0 {
		slog.Info("api.Run: purged stale drafts", "count", n)
	}

	catalog, err := symptoms.Load()
	if err != nil {
		return fmt.Errorf("load flows: %w", err)
	}

	wizOpts := []wizard.Option{wizard.WithAlertThreshold(cfg.AlertThreshold)}
	if gc, err := genai.NewClient(genaiOpts...); err != nil {
		slog.Warn("api.Run: summaries disabled", "error", err)
	} else {
		wizOpts = append(wizOpts, wizard.WithSummarizer(gc))
	}
	if len(weatherOpts) > 0 {
		if wp, err := weather.NewProvider(weatherOpts...); err != nil {
			slog.Warn("api.Run: weather disabled", "error", err)
		} else {
			wizOpts = append(wizOpts, wizard.WithWeather(wp))
		}
	}
	if cfg.CaregiverPhone != "" {
		notifier, err := notify.NewTwilioNotifier(notifyOpts...)
		if err != nil {
			slog.Warn("api.Run: caregiver alerts disabled", "error", err)
		} else {
			wizOpts = append(wizOpts, wizard.WithCaregiverPhone(cfg.CaregiverPhone))
			sender := store.NewOutboxSender(st, notify.SendFunc(notifier), store.DefaultOutboxPollInterval)
			if err := sender.RecoverStaleMessages(ctx); err != nil {
				slog.Warn("api.Run: outbox recovery failed", "error", err)
			}
			go sender.Run(ctx)
		}
	}

	manager := wizard.NewManager(catalog, st, wizOpts...)
	go sweepIdleSessions(ctx, manager, cfg.SessionIdleTimeout)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           NewServer(catalog, st, manager).Handler(),
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("SymptomPipe API listening", "addr", cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	slog.Info("api.Run: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func sweepIdleSessions(ctx context.Context, m *wizard.Manager, idle time.Duration) {
	if idle <= 0 {
		return
	}
	ticker := time.NewTicker(idle / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.Sweep(now.Add(-idle))
		}
	}
}
