// Package symptoms holds the built-in symptom-logging flows and the
// validators, visualizations and derived-field transforms they reference.
package symptoms

import (
	"embed"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/SymptomPipe/internal/flow"
	"github.com/BTreeMap/SymptomPipe/internal/models"
	"gopkg.in/yaml.v3"
)

//go:embed flows/*.yaml
var flowFiles embed.FS

// Catalog is the loaded set of flows. It is read-only after Load.
type Catalog struct {
	flows       map[models.FlowID]*flow.FlowConfig
	order       []models.FlowID
	validations *flow.ValidationRegistry
	visuals     *flow.VisualizationRegistry
}

// Load parses every embedded flow and checks that all validation and
// visualization keys they name are registered.
func Load() (*Catalog, error) {
	c := &Catalog{
		flows:       make(map[models.FlowID]*flow.FlowConfig, len(models.AllFlowIDs)),
		validations: Validations(),
		visuals:     Visualizations(),
	}
	for _, id := range models.AllFlowIDs {
		cfg, err := loadFlow(id)
		if err != nil {
			slog.Error("symptoms.Load: flow failed to load", "flowID", id, "error", err)
			return nil, err
		}
		if err := c.validations.CheckFlow(cfg); err != nil {
			return nil, err
		}
		if err := c.visuals.CheckFlow(cfg); err != nil {
			return nil, err
		}
		c.flows[id] = cfg
		c.order = append(c.order, id)
	}
	slog.Debug("symptoms.Load succeeded", "flows", len(c.order))
	return c, nil
}

func loadFlow(id models.FlowID) (*flow.FlowConfig, error) {
	raw, err := flowFiles.ReadFile("flows/" + string(id) + ".yaml")
	if err != nil {
		return nil, fmt.Errorf("read flow %s: %w", id, err)
	}
	var cfg flow.FlowConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse flow %s: %w", id, err)
	}
	if cfg.ID != string(id) {
		return nil, fmt.Errorf("flow file %s declares id %q", id, cfg.ID)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Flow returns the flow with the given ID.
func (c *Catalog) Flow(id models.FlowID) (*flow.FlowConfig, error) {
	cfg, ok := c.flows[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrUnknownFlow, id)
	}
	return cfg, nil
}

// Flows lists the loaded flows in display order.
func (c *Catalog) Flows() []*flow.FlowConfig {
	out := make([]*flow.FlowConfig, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.flows[id])
	}
	return out
}

// Visualizations returns the registry the catalog's flows were checked against.
func (c *Catalog) Visualizations() *flow.VisualizationRegistry {
	return c.visuals
}

// ControllerOptions returns the options every controller for id needs:
// the validation registry and the flow's derived-field transform.
func (c *Catalog) ControllerOptions(id models.FlowID) []flow.Option {
	return []flow.Option{
		flow.WithValidationRegistry(c.validations),
		flow.WithFormDataChange(Transform(id)),
	}
}

// Transform returns the derived-field transform for a flow. Every built-in
// flow derives the severity label from its 0-10 severity score.
func Transform(id models.FlowID) flow.Transform {
	switch id {
	case models.FlowMigraine:
		return flow.SeverityLabel(models.DataKeySeverity, models.DataKeySeverityLabel, MigraineThresholds)
	default:
		return flow.SeverityLabel(models.DataKeySeverity, models.DataKeySeverityLabel, nil)
	}
}

// MigraineThresholds grades migraine attacks; anything above 8 is disabling.
var MigraineThresholds = []flow.Threshold{
	{Min: 0, Label: "Mild"},
	{Min: 4, Label: "Moderate"},
	{Min: 7, Label: "Severe"},
	{Min: 9, Label: "Disabling"},
}
