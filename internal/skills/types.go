package skills

import (
	"fmt"
	"regexp"
	"time"
)

// Permission is a capability a skill may require. The set is closed; skills
// declare required permissions in metadata, the Manager owns which ones are
// actually granted.
type Permission string

const (
	PermFileRead       Permission = "file_read"
	PermFileWrite      Permission = "file_write"
	PermFileDelete     Permission = "file_delete"
	PermNetwork        Permission = "network"
	PermVendorAccess   Permission = "vendor_access"
	PermClipboard      Permission = "clipboard"
	PermScreenCapture  Permission = "screen_capture"
	PermSystemInfo     Permission = "system_info"
	PermProcessControl Permission = "process_control"
)

// Status tracks a skill's lifecycle in the registry.
type Status string

const (
	StatusLoaded   Status = "loaded"
	StatusEnabled  Status = "enabled"
	StatusDisabled Status = "disabled"
)

var skillIDPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Metadata describes a skill. Created once at construction, never mutated.
type Metadata struct {
	SkillID              string       `yaml:"skill_id" json:"skill_id"`
	Name                 string       `yaml:"name" json:"name"`
	Description          string       `yaml:"description" json:"description"`
	Category             string       `yaml:"category" json:"category"`
	Icon                 string       `yaml:"icon,omitempty" json:"icon,omitempty"`
	EnabledByDefault     bool         `yaml:"enabled_by_default" json:"enabled_by_default"`
	RequiresConfirmation bool         `yaml:"requires_confirmation" json:"requires_confirmation"`
	PermissionsRequired  []Permission `yaml:"permissions_required" json:"permissions_required"`
	AICallable           bool         `yaml:"ai_callable" json:"ai_callable"`
	Version              string       `yaml:"version" json:"version"`
	Author               string       `yaml:"author" json:"author"`
}

// Validate checks the metadata invariants.
func (m *Metadata) Validate() error {
	if m.SkillID == "" {
		return fmt.Errorf("skill_id is required")
	}
	if !skillIDPattern.MatchString(m.SkillID) {
		return fmt.Errorf("skill_id %q is not identifier-shaped", m.SkillID)
	}
	if m.Name == "" {
		return fmt.Errorf("skill %q: name is required", m.SkillID)
	}
	if m.Description == "" {
		return fmt.Errorf("skill %q: description is required", m.SkillID)
	}
	return nil
}

// ParamType enumerates declared parameter types.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeInteger ParamType = "integer"
	TypeNumber  ParamType = "number"
	TypeBoolean ParamType = "boolean"
	TypeArray   ParamType = "array"
	TypeObject  ParamType = "object"
)

// Constraints bound a parameter's accepted values. Zero-value fields are
// inactive.
type Constraints struct {
	Min       *float64 `yaml:"min,omitempty" json:"min,omitempty"`
	Max       *float64 `yaml:"max,omitempty" json:"max,omitempty"`
	MinLength *int     `yaml:"min_length,omitempty" json:"min_length,omitempty"`
	MaxLength *int     `yaml:"max_length,omitempty" json:"max_length,omitempty"`
	Pattern   string   `yaml:"pattern,omitempty" json:"pattern,omitempty"`
	Choices   []any    `yaml:"choices,omitempty" json:"choices,omitempty"`
	ItemsType ParamType `yaml:"items_type,omitempty" json:"items_type,omitempty"`
}

// Parameter declares one skill parameter. Immutable after construction.
// Invariant: a required parameter has no default.
type Parameter struct {
	Name        string      `yaml:"name" json:"name"`
	Type        ParamType   `yaml:"type" json:"type"`
	Required    bool        `yaml:"required" json:"required"`
	Description string      `yaml:"description" json:"description"`
	Default     any         `yaml:"default,omitempty" json:"default,omitempty"`
	Constraints Constraints `yaml:"constraints,omitempty" json:"constraints,omitempty"`
}

// Result is the outcome of one skill invocation. Immutable after
// construction: success implies no error, and Message is always set.
type Result struct {
	Success     bool           `json:"success"`
	Message     string         `json:"message"`
	Data        map[string]any `json:"data,omitempty"`
	Error       string         `json:"error,omitempty"`
	ActionTaken string         `json:"action_taken,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Ok builds a successful result.
func Ok(message string) *Result {
	if message == "" {
		message = "ok"
	}
	return &Result{Success: true, Message: message, CreatedAt: time.Now()}
}

// OkData builds a successful result with a data payload.
func OkData(message string, data map[string]any) *Result {
	r := Ok(message)
	r.Data = data
	return r
}

// Fail builds a failed result.
func Fail(message, errDetail string) *Result {
	if message == "" {
		message = "skill execution failed"
	}
	return &Result{Success: false, Message: message, Error: errDetail, CreatedAt: time.Now()}
}

// Intent is the classifier's verdict for one input.
type Intent struct {
	SkillID         string         `json:"skill_id"`
	Confidence      float64        `json:"confidence"`
	Parameters      map[string]any `json:"parameters,omitempty"`
	RawInput        string         `json:"raw_input"`
	MatchedPatterns []string       `json:"matched_patterns,omitempty"`
}

// ExecutionRecord is one entry of the executor's append-only history.
type ExecutionRecord struct {
	ID         string         `json:"id"`
	SkillID    string         `json:"skill_id"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Result     *Result        `json:"result"`
	Timestamp  time.Time      `json:"timestamp"`
	DurationMs int64          `json:"duration_ms"`
	Error      string         `json:"error,omitempty"`
}

// ExecutionError signals a programming or environment fault escaping a
// skill's execute method. It is the only error the executor propagates.
type ExecutionError struct {
	SkillID string
	Message string
	Cause   error
}

func (e *ExecutionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("skill %s: %s: %v", e.SkillID, e.Message, e.Cause)
	}
	return fmt.Sprintf("skill %s: %s", e.SkillID, e.Message)
}

func (e *ExecutionError) Unwrap() error { return e.Cause }
