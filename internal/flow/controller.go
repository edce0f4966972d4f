package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
)

// ErrSaveInProgress is returned by Save while an earlier save is still running.
var ErrSaveInProgress = errors.New("save already in progress")

// Transform recomputes derived slots from the whole form data.
type Transform func(data FormData) FormData

// StepValidator is a flow-level validator; stepNumber is 1-based.
type StepValidator func(data FormData, stepNumber int) ValidationResult

// SaveFunc receives a copy of the final form data.
type SaveFunc func(ctx context.Context, data FormData) error

// Opts holds controller configuration.
type Opts struct {
	Validations      *ValidationRegistry
	Validator        StepValidator
	OnFormDataChange Transform
	OnSave           SaveFunc
	OnCancel         func()

	restoredData FormData
	restoredStep int
}

// Option configures a Controller.
type Option func(*Opts)

// WithValidationRegistry resolves step validation keys against reg.
func WithValidationRegistry(reg *ValidationRegistry) Option {
	return func(o *Opts) { o.Validations = reg }
}

// WithValidator adds a flow-level validator run after a step's keyed validator passes.
func WithValidator(v StepValidator) Option {
	return func(o *Opts) { o.Validator = v }
}

// WithFormDataChange applies t to the whole form data after every write.
func WithFormDataChange(t Transform) Option {
	return func(o *Opts) { o.OnFormDataChange = t }
}

// WithOnSave sets the save callback.
func WithOnSave(fn SaveFunc) Option {
	return func(o *Opts) { o.OnSave = fn }
}

// WithOnCancel sets the cancel callback.
func WithOnCancel(fn func()) Option {
	return func(o *Opts) { o.OnCancel = fn }
}

// WithRestoredState mounts the controller from a saved draft instead of the
// flow's initial data. step is 1-based; out-of-range values fall back to step 1.
func WithRestoredState(data FormData, step int) Option {
	return func(o *Opts) {
		o.restoredData = data
		o.restoredStep = step
	}
}

// State is the presentation-facing view of a controller.
type State struct {
	FormData    FormData          `json:"form_data"`
	CurrentStep int               `json:"current_step"`
	TotalSteps  int               `json:"total_steps"`
	Errors      map[string]string `json:"errors"`
	IsSaving    bool              `json:"is_saving"`
	CanGoNext   bool              `json:"can_go_next"`
	CanGoBack   bool              `json:"can_go_back"`
	IsFirstStep bool              `json:"is_first_step"`
	IsLastStep  bool              `json:"is_last_step"`
	Revision    uint64            `json:"revision"`
}

// Controller owns the live state of one flow instance.
//
// Form data is only ever replaced by a fresh copy; Revision increases on every
// replacement so consumers can detect change without comparing contents.
type Controller struct {
	mu   sync.Mutex
	cfg  *FlowConfig
	opts Opts

	formData  FormData
	stepIndex int
	errors    map[string]string
	isSaving  bool
	revision  uint64
	seeded    map[string]struct{}
}

// NewController mounts a controller for cfg. It fails if the flow is
// malformed or references a validation key the registry does not know.
func NewController(cfg *FlowConfig, opts ...Option) (*Controller, error) {
	var o Opts
	for _, opt := range opts {
		opt(&o)
	}
	if cfg == nil {
		return nil, fmt.Errorf("flow config is nil")
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("NewController invalid flow", "error", err)
		return nil, err
	}
	if err := o.Validations.CheckFlow(cfg); err != nil {
		slog.Error("NewController validation key check failed", "flowID", cfg.ID, "error", err)
		return nil, err
	}

	c := &Controller{
		cfg:      cfg,
		opts:     o,
		formData: cfg.InitialData.Clone(),
		errors:   map[string]string{},
		seeded:   map[string]struct{}{},
	}
	if o.restoredData != nil {
		c.formData = o.restoredData.Clone()
		if o.restoredStep >= 1 && o.restoredStep <= len(cfg.Steps) {
			c.stepIndex = o.restoredStep - 1
		}
	}
	slog.Debug("Controller mounted", "flowID", cfg.ID, "steps", len(cfg.Steps), "step", c.stepIndex+1)
	return c, nil
}

// Config returns the flow definition.
func (c *Controller) Config() *FlowConfig {
	return c.cfg
}

// FormData returns a copy of the current form data.
func (c *Controller) FormData() FormData {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.formData.Clone()
}

// CurrentStep returns the 1-based current step.
func (c *Controller) CurrentStep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stepIndex + 1
}

// CurrentStepConfig returns the definition of the current step.
func (c *Controller) CurrentStepConfig() StepConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.Steps[c.stepIndex]
}

// TotalSteps returns the number of steps.
func (c *Controller) TotalSteps() int {
	return len(c.cfg.Steps)
}

// Errors returns a copy of the current validation errors.
func (c *Controller) Errors() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return maps.Clone(c.errors)
}

// IsSaving reports whether a save is in flight.
func (c *Controller) IsSaving() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isSaving
}

// Snapshot returns the presentation view of the controller.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	last := len(c.cfg.Steps) - 1
	return State{
		FormData:    c.formData.Clone(),
		CurrentStep: c.stepIndex + 1,
		TotalSteps:  len(c.cfg.Steps),
		Errors:      maps.Clone(c.errors),
		IsSaving:    c.isSaving,
		CanGoNext:   c.stepIndex < last,
		CanGoBack:   c.stepIndex > 0,
		IsFirstStep: c.stepIndex == 0,
		IsLastStep:  c.stepIndex == last,
		Revision:    c.revision,
	}
}

// UpdateField writes value into key and recomputes derived slots in the same update.
func (c *Controller) UpdateField(key string, value any) {
	c.UpdateFields(map[string]any{key: value})
}

// UpdateFields writes several slots as one logical update.
func (c *Controller) UpdateFields(values map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := maps.Clone(c.formData)
	if next == nil {
		next = FormData{}
	}
	for k, v := range values {
		next[k] = v
	}
	c.replace(next)
}

// UpdateFieldsFrom computes slot writes from the latest form data and
// applies them as one update. If fn returns an error nothing is written.
func (c *Controller) UpdateFieldsFrom(fn func(current FormData) (map[string]any, error)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	writes, err := fn(c.formData.Clone())
	if err != nil {
		return err
	}
	next := maps.Clone(c.formData)
	if next == nil {
		next = FormData{}
	}
	for k, v := range writes {
		next[k] = v
	}
	c.replace(next)
	return nil
}

// SetFormData replaces the whole form data.
func (c *Controller) SetFormData(data FormData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.replace(data.Clone())
}

// UpdateFormData applies fn to a copy of the latest form data. Use it when
// several updates may be issued back to back so none is lost.
func (c *Controller) UpdateFormData(fn func(prev FormData) FormData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := fn(c.formData.Clone())
	if next == nil {
		next = FormData{}
	}
	c.replace(next)
}

// replace installs next as the form data. Caller holds mu.
func (c *Controller) replace(next FormData) {
	if c.opts.OnFormDataChange != nil {
		next = c.opts.OnFormDataChange(next)
	}
	c.formData = next
	c.revision++
}

// NeedsSeed reports whether key is still unset and has never been seeded.
func (c *Controller) NeedsSeed(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, done := c.seeded[key]; done {
		return false
	}
	return c.formData[key] == nil
}

// SeedIfUnset atomically writes value into key if the slot is still unset.
// Each key is seeded at most once per controller; later calls are no-ops.
func (c *Controller) SeedIfUnset(key string, value any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, done := c.seeded[key]; done {
		return false
	}
	c.seeded[key] = struct{}{}
	if c.formData[key] != nil {
		return false
	}
	next := maps.Clone(c.formData)
	if next == nil {
		next = FormData{}
	}
	next[key] = value
	c.replace(next)
	slog.Debug("Controller seeded slot", "flowID", c.cfg.ID, "key", key)
	return true
}

// GoToNextStep advances one step; no-op on the last step.
func (c *Controller) GoToNextStep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stepIndex < len(c.cfg.Steps)-1 {
		c.stepIndex++
	}
	slog.Debug("Controller GoToNextStep", "flowID", c.cfg.ID, "step", c.stepIndex+1)
}

// GoToPreviousStep goes back one step; no-op on the first step.
func (c *Controller) GoToPreviousStep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stepIndex > 0 {
		c.stepIndex--
	}
	slog.Debug("Controller GoToPreviousStep", "flowID", c.cfg.ID, "step", c.stepIndex+1)
}

// GoToStep jumps to the 1-based step n. Out-of-range requests are ignored.
func (c *Controller) GoToStep(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n < 1 || n > len(c.cfg.Steps) {
		slog.Debug("Controller GoToStep ignored out of range", "flowID", c.cfg.ID, "requested", n)
		return
	}
	c.stepIndex = n - 1
}

// CanGoNext reports whether a next step exists.
func (c *Controller) CanGoNext() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stepIndex < len(c.cfg.Steps)-1
}

// CanGoBack reports whether a previous step exists.
func (c *Controller) CanGoBack() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stepIndex > 0
}

// IsFirstStep reports whether the current step is the first.
func (c *Controller) IsFirstStep() bool {
	return !c.CanGoBack()
}

// IsLastStep reports whether the current step is the last.
func (c *Controller) IsLastStep() bool {
	return !c.CanGoNext()
}

// ValidateStep validates the current step and stores its errors.
func (c *Controller) ValidateStep() ValidationResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	res := c.validateIndex(c.stepIndex)
	c.errors = maps.Clone(res.Errors)
	return res
}

// ValidateAllSteps validates every step in order from the first and stops at
// the first failure, whose 1-based index is reported in StepIndex. Only that
// step's errors are kept. On success errors are cleared.
func (c *Controller) ValidateAllSteps() ValidationResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.cfg.Steps {
		res := c.validateIndex(i)
		if !res.IsValid {
			res.StepIndex = i + 1
			c.errors = maps.Clone(res.Errors)
			slog.Debug("Controller ValidateAllSteps failed", "flowID", c.cfg.ID, "step", i+1, "errors", len(res.Errors))
			return res
		}
	}
	c.errors = map[string]string{}
	return Valid()
}

// validateIndex runs step i's keyed validator, then the flow-level validator.
// Caller holds mu. Panics from validators are not recovered.
func (c *Controller) validateIndex(i int) ValidationResult {
	step := c.cfg.Steps[i]
	data := c.formData.Clone()
	if step.ValidationKey != "" {
		res := c.opts.Validations.MustLookup(step.ValidationKey)(data)
		if !res.IsValid {
			return normalize(res)
		}
	}
	if c.opts.Validator != nil {
		if res := c.opts.Validator(data, i+1); !res.IsValid {
			return normalize(res)
		}
	}
	return Valid()
}

func normalize(res ValidationResult) ValidationResult {
	if res.Errors == nil {
		res.Errors = map[string]string{}
	}
	return res
}

// Save validates the current step and, if it passes, hands a copy of the
// form data to the save callback. At most one save runs at a time; a call
// made while another is in flight returns ErrSaveInProgress and changes nothing.
// A failing validation is returned as data with a nil error.
func (c *Controller) Save(ctx context.Context) (ValidationResult, error) {
	res, data, err := c.beginSave()
	if err != nil {
		slog.Debug("Controller Save ignored, save in flight", "flowID", c.cfg.ID)
		return ValidationResult{}, err
	}
	if !res.IsValid {
		slog.Debug("Controller Save aborted by validation", "flowID", c.cfg.ID, "step", c.CurrentStep())
		return res, nil
	}

	defer func() {
		c.mu.Lock()
		c.isSaving = false
		c.mu.Unlock()
	}()

	if c.opts.OnSave != nil {
		if err := c.opts.OnSave(ctx, data); err != nil {
			slog.Error("Controller Save callback failed", "flowID", c.cfg.ID, "error", err)
			return res, fmt.Errorf("save flow %s: %w", c.cfg.ID, err)
		}
	}
	slog.Debug("Controller Save succeeded", "flowID", c.cfg.ID)
	return res, nil
}

// beginSave validates the current step under mu and, when it passes, marks
// the controller as saving and returns a copy of the form data.
func (c *Controller) beginSave() (ValidationResult, FormData, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isSaving {
		return ValidationResult{}, nil, ErrSaveInProgress
	}
	res := c.validateIndex(c.stepIndex)
	c.errors = maps.Clone(res.Errors)
	if !res.IsValid {
		return res, nil, nil
	}
	c.isSaving = true
	return res, c.formData.Clone(), nil
}

// Cancel invokes the cancel callback. Controller state is left unchanged.
func (c *Controller) Cancel() {
	slog.Debug("Controller Cancel", "flowID", c.cfg.ID)
	if c.opts.OnCancel != nil {
		c.opts.OnCancel()
	}
}
