// Package skills provides the skill orchestration runtime: the capability
// contract, a concurrency-safe registry, an intent classifier, a managed
// executor, and the manager facade that ties them together.
package skills

import (
	"context"
	"fmt"
	"regexp"
)

// Skill is the capability contract every skill implements. Execute must not
// panic outward for normal failures — it catches its own faults into a
// failed Result. Hooks run after execution; Cleanup always runs.
type Skill interface {
	// Metadata returns the skill's immutable description.
	Metadata() Metadata

	// Parameters returns the ordered parameter declarations.
	Parameters() []Parameter

	// Execute runs the skill. Implementations should honor ctx cancellation.
	Execute(ctx context.Context, params map[string]any) *Result

	// OnSuccess is invoked after a successful execution.
	OnSuccess(ctx context.Context, result *Result) error

	// OnError is invoked after a failed execution.
	OnError(ctx context.Context, result *Result) error

	// Cleanup is invoked after every execution, regardless of outcome.
	Cleanup(ctx context.Context) error
}

// BaseHooks provides no-op lifecycle hooks that skill implementations may
// embed when they have nothing to do on success, error, or cleanup.
type BaseHooks struct{}

func (BaseHooks) OnSuccess(context.Context, *Result) error { return nil }
func (BaseHooks) OnError(context.Context, *Result) error   { return nil }
func (BaseHooks) Cleanup(context.Context) error            { return nil }

// ValidateParameters checks params against the declared parameter list:
// required-field presence, type conformance, and constraint satisfaction.
// It returns a human-readable description of the first violation found, or
// "" when the parameters are valid. Skills opt into this shared validation;
// it is not forced on them through inheritance.
func ValidateParameters(decls []Parameter, params map[string]any) string {
	for _, p := range decls {
		val, present := params[p.Name]
		if !present || val == nil {
			if p.Required {
				return fmt.Sprintf("missing required parameter %q", p.Name)
			}
			continue
		}
		if msg := checkType(p, val); msg != "" {
			return msg
		}
		if msg := checkConstraints(p, val); msg != "" {
			return msg
		}
	}
	return ""
}

// checkType verifies the value matches the declared type. Numeric values
// arrive as float64 when decoded from JSON, so integer parameters accept
// whole-valued floats.
func checkType(p Parameter, val any) string {
	switch p.Type {
	case TypeString:
		if _, ok := val.(string); !ok {
			return fmt.Sprintf("parameter %q must be a string", p.Name)
		}
	case TypeInteger:
		switch v := val.(type) {
		case int, int32, int64:
		case float64:
			if v != float64(int64(v)) {
				return fmt.Sprintf("parameter %q must be an integer", p.Name)
			}
		default:
			return fmt.Sprintf("parameter %q must be an integer", p.Name)
		}
	case TypeNumber:
		switch val.(type) {
		case int, int32, int64, float32, float64:
		default:
			return fmt.Sprintf("parameter %q must be a number", p.Name)
		}
	case TypeBoolean:
		if _, ok := val.(bool); !ok {
			return fmt.Sprintf("parameter %q must be a boolean", p.Name)
		}
	case TypeArray:
		if _, ok := val.([]any); !ok {
			return fmt.Sprintf("parameter %q must be an array", p.Name)
		}
	case TypeObject:
		if _, ok := val.(map[string]any); !ok {
			return fmt.Sprintf("parameter %q must be an object", p.Name)
		}
	}
	return ""
}

func checkConstraints(p Parameter, val any) string {
	c := p.Constraints

	if len(c.Choices) > 0 {
		found := false
		for _, choice := range c.Choices {
			if choice == val {
				found = true
				break
			}
		}
		if !found {
			return fmt.Sprintf("parameter %q must be one of %v", p.Name, c.Choices)
		}
	}

	if num, ok := asFloat(val); ok {
		if c.Min != nil && num < *c.Min {
			return fmt.Sprintf("parameter %q must be >= %v", p.Name, *c.Min)
		}
		if c.Max != nil && num > *c.Max {
			return fmt.Sprintf("parameter %q must be <= %v", p.Name, *c.Max)
		}
	}

	if s, ok := val.(string); ok {
		if c.MinLength != nil && len(s) < *c.MinLength {
			return fmt.Sprintf("parameter %q must be at least %d characters", p.Name, *c.MinLength)
		}
		if c.MaxLength != nil && len(s) > *c.MaxLength {
			return fmt.Sprintf("parameter %q must be at most %d characters", p.Name, *c.MaxLength)
		}
		if c.Pattern != "" {
			re, err := regexp.Compile(c.Pattern)
			if err != nil {
				return fmt.Sprintf("parameter %q has an invalid pattern constraint", p.Name)
			}
			if !re.MatchString(s) {
				return fmt.Sprintf("parameter %q does not match pattern %s", p.Name, c.Pattern)
			}
		}
	}

	if items, ok := val.([]any); ok && c.ItemsType != "" {
		elem := Parameter{Name: p.Name + "[]", Type: c.ItemsType}
		for _, item := range items {
			if msg := checkType(elem, item); msg != "" {
				return msg
			}
		}
	}

	return ""
}

func asFloat(val any) (float64, bool) {
	switch v := val.(type) {
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}

// ApplyDefaults returns a copy of params with declared defaults filled in
// for absent optional parameters.
func ApplyDefaults(decls []Parameter, params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}
	for _, p := range decls {
		if _, present := out[p.Name]; !present && p.Default != nil {
			out[p.Name] = p.Default
		}
	}
	return out
}
