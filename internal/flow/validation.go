package flow

import (
	"errors"
	"fmt"
	"maps"
)

// ErrUnknownValidationKey is returned when a step names a validator that is not registered.
var ErrUnknownValidationKey = errors.New("unknown validation key")

// ValidatorFunc validates form data for one step. It must be pure and
// synchronous since whole-flow validation calls it for unvisited steps too.
type ValidatorFunc func(data FormData) ValidationResult

// ValidationRegistry maps validation keys to validator functions.
// It is immutable after construction.
type ValidationRegistry struct {
	validators map[string]ValidatorFunc
}

// NewValidationRegistry copies the given table into a new registry.
func NewValidationRegistry(validators map[string]ValidatorFunc) *ValidationRegistry {
	return &ValidationRegistry{validators: maps.Clone(validators)}
}

// Lookup returns the validator registered under key.
func (r *ValidationRegistry) Lookup(key string) (ValidatorFunc, error) {
	if r != nil {
		if fn, ok := r.validators[key]; ok {
			return fn, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownValidationKey, key)
}

// MustLookup is Lookup for keys already checked at load time. It panics on a
// missing key since that means the flow was never checked.
func (r *ValidationRegistry) MustLookup(key string) ValidatorFunc {
	fn, err := r.Lookup(key)
	if err != nil {
		panic(err)
	}
	return fn
}

// Len returns the number of registered validators.
func (r *ValidationRegistry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.validators)
}

// CheckFlow verifies that every validation key referenced by cfg is registered.
func (r *ValidationRegistry) CheckFlow(cfg *FlowConfig) error {
	for _, step := range cfg.Steps {
		if step.ValidationKey == "" {
			continue
		}
		if _, err := r.Lookup(step.ValidationKey); err != nil {
			return fmt.Errorf("flow %s step %s: %w", cfg.ID, step.ID, err)
		}
	}
	return nil
}

// RequireNonEmpty fails when key is missing, nil, an empty string or an empty list.
func RequireNonEmpty(key, message string) ValidatorFunc {
	return func(data FormData) ValidationResult {
		if isEmptyValue(data[key]) {
			return Invalid(map[string]string{key: message})
		}
		return Valid()
	}
}

// RequireRange fails when key is not a number within [min, max].
func RequireRange(key string, min, max float64, message string) ValidatorFunc {
	return func(data FormData) ValidationResult {
		n, ok := toFloat(data[key])
		if !ok || n < min || n > max {
			return Invalid(map[string]string{key: message})
		}
		return Valid()
	}
}

// RequireSelection fails unless key holds a list with at least min entries.
func RequireSelection(key string, min int, message string) ValidatorFunc {
	return func(data FormData) ValidationResult {
		if len(toStrings(data[key])) < min {
			return Invalid(map[string]string{key: message})
		}
		return Valid()
	}
}

// All runs every validator and merges their errors.
func All(validators ...ValidatorFunc) ValidatorFunc {
	return func(data FormData) ValidationResult {
		errs := map[string]string{}
		for _, v := range validators {
			res := v(data)
			if res.IsValid {
				continue
			}
			for k, msg := range res.Errors {
				if _, seen := errs[k]; !seen {
					errs[k] = msg
				}
			}
		}
		if len(errs) > 0 {
			return Invalid(errs)
		}
		return Valid()
	}
}

func isEmptyValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []any:
		return len(t) == 0
	case []string:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	default:
		return false
	}
}
