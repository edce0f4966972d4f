// Package wizard runs symptom-logging flows as resumable sessions.
//
// A Manager owns one flow controller and renderer per session, persists a
// draft after every change and turns a successful save into a stored
// symptom log, an optional summary and, for severe logs, a caregiver alert.
package wizard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/SymptomPipe/internal/flow"
	"github.com/BTreeMap/SymptomPipe/internal/models"
	"github.com/BTreeMap/SymptomPipe/internal/notify"
	"github.com/BTreeMap/SymptomPipe/internal/store"
	"github.com/BTreeMap/SymptomPipe/internal/symptoms"
	"github.com/BTreeMap/SymptomPipe/internal/util"
	"github.com/google/uuid"
)

// DefaultAlertThreshold is the severity at or above which a caregiver is alerted.
const DefaultAlertThreshold = 8

// ErrSessionNotFound is returned for unknown, saved or cancelled sessions.
var ErrSessionNotFound = errors.New("session not found")

// Summarizer writes a narrative summary of a saved log.
type Summarizer interface {
	Summarize(ctx context.Context, log models.SymptomLog) (string, error)
}

// Opts holds Manager configuration.
type Opts struct {
	Summarizer     Summarizer
	Weather        flow.WeatherSource
	CaregiverPhone string
	AlertThreshold int
	Clock          func() time.Time
}

// Option configures a Manager.
type Option func(*Opts)

// WithSummarizer attaches summaries to saved logs.
func WithSummarizer(s Summarizer) Option {
	return func(o *Opts) { o.Summarizer = s }
}

// WithWeather seeds weather content blocks from src.
func WithWeather(src flow.WeatherSource) Option {
	return func(o *Opts) { o.Weather = src }
}

// WithCaregiverPhone enables severe-log alerts to phone.
func WithCaregiverPhone(phone string) Option {
	return func(o *Opts) { o.CaregiverPhone = phone }
}

// WithAlertThreshold sets the minimum severity that triggers an alert.
func WithAlertThreshold(n int) Option {
	return func(o *Opts) { o.AlertThreshold = n }
}

// WithClock overrides the clock used for timestamps and field visibility.
func WithClock(clock func() time.Time) Option {
	return func(o *Opts) { o.Clock = clock }
}

// Manager tracks live sessions.
type Manager struct {
	catalog *symptoms.Catalog
	store   store.Store
	opts    Opts

	mu       sync.Mutex
	sessions map[string]*session
}

type session struct {
	id            string
	participantID string
	flowID        models.FlowID
	createdAt     time.Time
	ctrl          *flow.Controller
	renderer      *flow.Renderer

	// mu serialises draft writes; it is never held while the controller saves.
	mu          sync.Mutex
	closed      bool
	lastActive  time.Time
	persistedAt uint64
	persistStep int
	saved       *models.SymptomLog
}

// View is what a client needs to draw the current step.
type View struct {
	SessionID     string            `json:"session_id"`
	ParticipantID string            `json:"participant_id"`
	FlowID        models.FlowID     `json:"flow_id"`
	State         flow.State        `json:"state"`
	Step          flow.RenderedStep `json:"step"`
}

// SaveResult is returned by Save and SaveEarly. Log is nil when validation failed.
type SaveResult struct {
	Validation flow.ValidationResult `json:"validation"`
	View       *View                 `json:"view,omitempty"`
	Log        *models.SymptomLog    `json:"log,omitempty"`
}

// NewManager creates a Manager over the given catalog and store.
func NewManager(catalog *symptoms.Catalog, st store.Store, opts ...Option) *Manager {
	cfg := Opts{AlertThreshold: DefaultAlertThreshold, Clock: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.CaregiverPhone != "" {
		phone, err := notify.CanonicalizePhone(cfg.CaregiverPhone)
		if err != nil {
			slog.Warn("wizard.NewManager: caregiver phone invalid, alerts disabled", "error", err)
			phone = ""
		}
		cfg.CaregiverPhone = phone
	}
	return &Manager{
		catalog:  catalog,
		store:    st,
		opts:     cfg,
		sessions: make(map[string]*session),
	}
}

// Start mounts a new session for req.
func (m *Manager) Start(ctx context.Context, req models.StartSessionRequest) (View, error) {
	if err := req.Validate(); err != nil {
		return View{}, err
	}
	cfg, err := m.catalog.Flow(req.FlowID)
	if err != nil {
		return View{}, err
	}
	now := m.opts.Clock()
	s := &session{
		id:            uuid.NewString(),
		participantID: req.ParticipantID,
		flowID:        req.FlowID,
		createdAt:     now,
		lastActive:    now,
	}
	if err := m.mount(s, cfg, req.SizeHint); err != nil {
		return View{}, err
	}
	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()

	slog.Info("wizard.Start: session started", "sessionID", s.id, "flowID", req.FlowID, "participantID", req.ParticipantID)
	return m.view(ctx, s)
}

func (m *Manager) mount(s *session, cfg *flow.FlowConfig, sizeHint string, extra ...flow.Option) error {
	opts := append(m.catalog.ControllerOptions(s.flowID),
		flow.WithOnSave(func(ctx context.Context, data flow.FormData) error {
			return m.record(ctx, s, data)
		}),
		flow.WithOnCancel(func() { m.forget(s.id) }),
	)
	opts = append(opts, extra...)
	ctrl, err := flow.NewController(cfg, opts...)
	if err != nil {
		return fmt.Errorf("mount flow %s: %w", s.flowID, err)
	}
	rOpts := []flow.RendererOption{
		flow.WithVisualizations(m.catalog.Visualizations()),
		flow.WithClock(m.opts.Clock),
		flow.WithSizeHint(sizeHint),
	}
	if m.opts.Weather != nil {
		rOpts = append(rOpts, flow.WithWeather(m.opts.Weather))
	}
	s.ctrl = ctrl
	s.renderer = flow.NewRenderer(ctrl, rOpts...)
	return nil
}

// Get returns the current view of a session, resuming it from its draft if
// it is not live.
func (m *Manager) Get(ctx context.Context, id string) (View, error) {
	s, err := m.lookup(ctx, id)
	if err != nil {
		return View{}, err
	}
	return m.view(ctx, s)
}

// Resume remounts a session from its stored draft. A live session is returned as is.
func (m *Manager) Resume(ctx context.Context, id string) (View, error) {
	return m.Get(ctx, id)
}

func (m *Manager) lookup(ctx context.Context, id string) (*session, error) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		m.touch(s)
	}
	m.mu.Unlock()
	if ok {
		return s, nil
	}

	draft, err := m.store.GetDraft(ctx, id)
	if errors.Is(err, store.ErrDraftNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	cfg, err := m.catalog.Flow(draft.FlowID)
	if err != nil {
		return nil, err
	}
	s = &session{
		id:            draft.SessionID,
		participantID: draft.ParticipantID,
		flowID:        draft.FlowID,
		createdAt:     draft.CreatedAt,
		lastActive:    m.opts.Clock(),
	}
	if err := m.mount(s, cfg, "", flow.WithRestoredState(flow.FormData(draft.Data), draft.CurrentStep)); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if live, ok := m.sessions[id]; ok {
		m.touch(live)
		return live, nil
	}
	m.sessions[id] = s
	slog.Info("wizard.Resume: session restored from draft", "sessionID", id, "flowID", draft.FlowID, "step", draft.CurrentStep)
	return s, nil
}

// Apply writes a widget value to fieldID on the current step.
func (m *Manager) Apply(ctx context.Context, id, fieldID string, value any) (View, error) {
	s, err := m.lookup(ctx, id)
	if err != nil {
		return View{}, err
	}
	if err := s.renderer.Apply(fieldID, value); err != nil {
		return View{}, err
	}
	return m.view(ctx, s)
}

// Next validates the current step and advances when it passes. A failing
// step is reported in the result and navigation does not happen.
func (m *Manager) Next(ctx context.Context, id string) (View, flow.ValidationResult, error) {
	s, err := m.lookup(ctx, id)
	if err != nil {
		return View{}, flow.ValidationResult{}, err
	}
	res := s.ctrl.ValidateStep()
	if res.IsValid {
		s.ctrl.GoToNextStep()
	}
	v, err := m.view(ctx, s)
	return v, res, err
}

// Previous moves back one step without validating.
func (m *Manager) Previous(ctx context.Context, id string) (View, error) {
	s, err := m.lookup(ctx, id)
	if err != nil {
		return View{}, err
	}
	s.ctrl.GoToPreviousStep()
	return m.view(ctx, s)
}

// GoTo jumps to a 1-based step. Out-of-range steps leave the session unchanged.
func (m *Manager) GoTo(ctx context.Context, id string, step int) (View, error) {
	s, err := m.lookup(ctx, id)
	if err != nil {
		return View{}, err
	}
	s.ctrl.GoToStep(step)
	return m.view(ctx, s)
}

// Validate runs the current step's validators.
func (m *Manager) Validate(ctx context.Context, id string) (View, flow.ValidationResult, error) {
	s, err := m.lookup(ctx, id)
	if err != nil {
		return View{}, flow.ValidationResult{}, err
	}
	res := s.ctrl.ValidateStep()
	v, err := m.view(ctx, s)
	return v, res, err
}

// Save validates the current step and records the log. On success the
// session is closed and its draft removed.
func (m *Manager) Save(ctx context.Context, id string) (SaveResult, error) {
	s, err := m.lookup(ctx, id)
	if err != nil {
		return SaveResult{}, err
	}
	return m.save(ctx, s)
}

// SaveEarly validates every step first. If one fails the session jumps to
// it and nothing is saved.
func (m *Manager) SaveEarly(ctx context.Context, id string) (SaveResult, error) {
	s, err := m.lookup(ctx, id)
	if err != nil {
		return SaveResult{}, err
	}
	res := s.ctrl.ValidateAllSteps()
	if !res.IsValid {
		s.ctrl.GoToStep(res.StepIndex)
		v, err := m.view(ctx, s)
		if err != nil {
			return SaveResult{}, err
		}
		slog.Debug("wizard.SaveEarly: validation failed", "sessionID", id, "step", res.StepIndex)
		return SaveResult{Validation: res, View: &v}, nil
	}
	return m.save(ctx, s)
}

func (m *Manager) save(ctx context.Context, s *session) (SaveResult, error) {
	res, err := s.ctrl.Save(ctx)
	if err != nil {
		return SaveResult{}, err
	}
	if !res.IsValid {
		v, err := m.view(ctx, s)
		if err != nil {
			return SaveResult{}, err
		}
		return SaveResult{Validation: res, View: &v}, nil
	}

	s.mu.Lock()
	saved := s.saved
	s.mu.Unlock()
	m.close(ctx, s)
	return SaveResult{Validation: res, Log: saved}, nil
}

// Cancel discards a session and its draft.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	s, err := m.lookup(ctx, id)
	if err != nil {
		return err
	}
	s.ctrl.Cancel()
	m.close(ctx, s)
	slog.Info("wizard.Cancel: session cancelled", "sessionID", id)
	return nil
}

// Sweep unloads sessions idle since before. Sessions with a save in flight
// are kept. Drafts stay, so swept sessions can be resumed later.
func (m *Manager) Sweep(before time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, s := range m.sessions {
		s.mu.Lock()
		idle := s.lastActive.Before(before)
		s.mu.Unlock()
		if idle && !s.ctrl.IsSaving() {
			delete(m.sessions, id)
			n++
		}
	}
	if n > 0 {
		slog.Debug("wizard.Sweep: unloaded idle sessions", "count", n)
	}
	return n
}

// Live reports the number of sessions held in memory.
func (m *Manager) Live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// touch marks s as in use. Caller holds m.mu so Sweep cannot evict s between
// lookup and use.
func (m *Manager) touch(s *session) {
	s.mu.Lock()
	s.lastActive = m.opts.Clock()
	s.mu.Unlock()
}

func (m *Manager) forget(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

// close removes the session and its draft. Later draft writes are dropped.
func (m *Manager) close(ctx context.Context, s *session) {
	m.forget(s.id)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if err := m.store.DeleteDraft(ctx, s.id); err != nil {
		slog.Error("wizard: draft delete failed", "sessionID", s.id, "error", err)
	}
}

// view renders the current step and persists a draft when the state moved
// since the last write.
func (m *Manager) view(ctx context.Context, s *session) (View, error) {
	step, err := s.renderer.Render(ctx)
	if err != nil {
		return View{}, err
	}
	state := s.ctrl.Snapshot()
	m.persist(ctx, s, state)
	return View{
		SessionID:     s.id,
		ParticipantID: s.participantID,
		FlowID:        s.flowID,
		State:         state,
		Step:          step,
	}, nil
}

func (m *Manager) persist(ctx context.Context, s *session, state flow.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActive = m.opts.Clock()
	if s.closed {
		return
	}
	if s.persistStep != 0 && s.persistedAt == state.Revision && s.persistStep == state.CurrentStep {
		return
	}
	draft := models.FlowDraft{
		SessionID:     s.id,
		ParticipantID: s.participantID,
		FlowID:        s.flowID,
		CurrentStep:   state.CurrentStep,
		Data:          state.FormData,
		CreatedAt:     s.createdAt,
		UpdatedAt:     s.lastActive,
	}
	if err := m.store.SaveDraft(ctx, draft); err != nil {
		slog.Error("wizard: draft save failed", "sessionID", s.id, "error", err)
		return
	}
	s.persistedAt = state.Revision
	s.persistStep = state.CurrentStep
}

// record is the controller's save callback.
func (m *Manager) record(ctx context.Context, s *session, data flow.FormData) error {
	log := models.SymptomLog{
		ID:            util.GenerateLogID(),
		ParticipantID: s.participantID,
		FlowID:        s.flowID,
		Data:          data,
		SeverityLabel: data.String(models.DataKeySeverityLabel),
		LoggedAt:      m.opts.Clock(),
	}
	if sev, ok := data.Int(models.DataKeySeverity); ok {
		log.Severity = &sev
	}

	if m.opts.Summarizer != nil {
		summary, err := m.opts.Summarizer.Summarize(ctx, log)
		if err != nil {
			slog.Warn("wizard: summary skipped", "sessionID", s.id, "error", err)
		} else {
			log.Summary = summary
		}
	}

	if err := m.store.AddLog(ctx, log); err != nil {
		return fmt.Errorf("add log: %w", err)
	}
	slog.Info("wizard: symptom log recorded", "sessionID", s.id, "logID", log.ID, "flowID", s.flowID)
	m.alert(ctx, log)

	s.mu.Lock()
	s.saved = &log
	s.mu.Unlock()
	return nil
}

func (m *Manager) alert(ctx context.Context, log models.SymptomLog) {
	if m.opts.CaregiverPhone == "" || log.Severity == nil || *log.Severity < m.opts.AlertThreshold {
		return
	}
	payload := notify.AlertPayload{To: m.opts.CaregiverPhone, Body: AlertBody(m.flowTitle(log.FlowID), log)}
	id, err := notify.Enqueue(ctx, m.store, log.ParticipantID, log.ID, payload)
	if err != nil {
		slog.Error("wizard: caregiver alert enqueue failed", "logID", log.ID, "error", err)
		return
	}
	slog.Info("wizard: caregiver alert queued", "logID", log.ID, "outboxID", id)
}

func (m *Manager) flowTitle(id models.FlowID) string {
	cfg, err := m.catalog.Flow(id)
	if err != nil || cfg.Title == "" {
		return strings.ReplaceAll(string(id), "_", " ")
	}
	return cfg.Title
}

// AlertBody is the SMS text sent to a caregiver for a severe log.
func AlertBody(flowTitle string, log models.SymptomLog) string {
	sev := 0
	if log.Severity != nil {
		sev = *log.Severity
	}
	label := log.SeverityLabel
	if label == "" {
		label = "severe"
	}
	return fmt.Sprintf("SymptomPipe: %s logged %s at %d/10 (%s) on %s.",
		log.ParticipantID, strings.ToLower(flowTitle), sev, strings.ToLower(label), log.LoggedAt.Format("Jan 2 15:04"))
}
