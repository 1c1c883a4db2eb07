package skills

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// defaultGrantedPermissions are considered safe enough to grant without
// asking. Anything destructive or privacy-sensitive starts denied.
var defaultGrantedPermissions = []Permission{
	PermFileRead,
	PermNetwork,
	PermClipboard,
	PermSystemInfo,
}

// Manager is the single entry point the rest of the application talks to:
// it owns the registry, the intent classifier, the executor, and the
// granted-permission set.
type Manager struct {
	logger    *slog.Logger
	registry  *Registry
	classify  *Classifier
	executor  *Executor
	startedAt time.Time

	mu      sync.Mutex
	granted map[Permission]bool
}

// ManagerOption configures a Manager.
type ManagerOption func(*managerConfig)

type managerConfig struct {
	threshold     float64
	maxHistory    int
	execTimeout   time.Duration
	completion    CompletionFunc
	aiTimeout     time.Duration
	confirm       ConfirmFunc
	sink          RecordSink
	extraGrants   []Permission
	defaultGrants bool
}

// WithConfidenceThreshold sets the intent acceptance threshold.
func WithConfidenceThreshold(v float64) ManagerOption {
	return func(c *managerConfig) { c.threshold = v }
}

// WithMaxHistory bounds the in-memory execution history.
func WithMaxHistory(n int) ManagerOption {
	return func(c *managerConfig) { c.maxHistory = n }
}

// WithExecutionTimeout overrides the per-execution ceiling.
func WithExecutionTimeout(d time.Duration) ManagerOption {
	return func(c *managerConfig) { c.execTimeout = d }
}

// WithCompletion wires the model call for AI intent fallback.
func WithCompletion(fn CompletionFunc, timeout time.Duration) ManagerOption {
	return func(c *managerConfig) {
		c.completion = fn
		c.aiTimeout = timeout
	}
}

// WithConfirmFunc wires the user-confirmation prompt.
func WithConfirmFunc(fn ConfirmFunc) ManagerOption {
	return func(c *managerConfig) { c.confirm = fn }
}

// WithHistorySink mirrors execution records to durable storage.
func WithHistorySink(sink RecordSink) ManagerOption {
	return func(c *managerConfig) { c.sink = sink }
}

// WithGrantedPermissions grants additional permissions at startup.
func WithGrantedPermissions(perms ...Permission) ManagerOption {
	return func(c *managerConfig) { c.extraGrants = append(c.extraGrants, perms...) }
}

// WithoutDefaultGrants starts with an empty permission set.
func WithoutDefaultGrants() ManagerOption {
	return func(c *managerConfig) { c.defaultGrants = false }
}

// NewManager wires the registry, classifier and executor together.
func NewManager(logger *slog.Logger, opts ...ManagerOption) *Manager {
	cfg := &managerConfig{
		threshold:     0.75,
		maxHistory:    100,
		defaultGrants: true,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	m := &Manager{
		logger:    logger.With("component", "skill-manager"),
		registry:  NewRegistry(logger),
		startedAt: time.Now(),
		granted:   make(map[Permission]bool),
	}
	if cfg.defaultGrants {
		for _, p := range defaultGrantedPermissions {
			m.granted[p] = true
		}
	}
	for _, p := range cfg.extraGrants {
		m.granted[p] = true
	}

	classifierOpts := []ClassifierOption{
		WithEnabledFilter(m.IsEnabled),
	}
	if cfg.completion != nil {
		classifierOpts = append(classifierOpts, WithAIFallback(cfg.completion, cfg.aiTimeout))
	}
	m.classify = NewClassifier(logger, cfg.threshold, classifierOpts...)

	executorOpts := []ExecutorOption{
		WithPermissionCheck(m.HasPermission),
	}
	if cfg.confirm != nil {
		executorOpts = append(executorOpts, WithConfirmation(cfg.confirm))
	}
	if cfg.execTimeout > 0 {
		executorOpts = append(executorOpts, WithTimeout(cfg.execTimeout))
	}
	if cfg.sink != nil {
		executorOpts = append(executorOpts, WithRecordSink(cfg.sink))
	}
	m.executor = NewExecutor(logger, cfg.maxHistory, executorOpts...)

	return m
}

// RegisterSkill adds a skill and enables it when its metadata says so.
func (m *Manager) RegisterSkill(skill Skill) error {
	if err := m.registry.Register(skill); err != nil {
		return err
	}
	meta := skill.Metadata()
	if meta.EnabledByDefault {
		m.registry.SetStatus(meta.SkillID, StatusEnabled)
	}
	return nil
}

// UnregisterSkill removes a skill and its trigger patterns.
func (m *Manager) UnregisterSkill(skillID string) bool {
	m.classify.UnregisterPatterns(skillID)
	return m.registry.Unregister(skillID)
}

// RegisterPatterns adds intent trigger patterns for a registered skill.
func (m *Manager) RegisterPatterns(set *PatternSet) error {
	if !m.registry.Exists(set.SkillID) {
		return fmt.Errorf("cannot register patterns for unknown skill %q", set.SkillID)
	}
	return m.classify.RegisterPatterns(set)
}

// DetectIntent classifies free-text input against registered patterns.
func (m *Manager) DetectIntent(ctx context.Context, input string) *Intent {
	return m.classify.Classify(ctx, input)
}

// ConfidenceScores exposes the raw pattern scores for diagnostics.
func (m *Manager) ConfidenceScores(input string) map[string]float64 {
	return m.classify.ConfidenceScores(input)
}

// SetConfidenceThreshold updates the intent acceptance threshold.
func (m *Manager) SetConfidenceThreshold(v float64) error {
	return m.classify.SetConfidenceThreshold(v)
}

// ExecuteSkill runs a registered, enabled skill through the managed
// execution protocol. The enablement gate runs before anything else —
// a disabled skill never validates parameters or checks permissions.
func (m *Manager) ExecuteSkill(ctx context.Context, skillID string, params map[string]any) (*Result, error) {
	skill, ok := m.registry.Get(skillID)
	if !ok {
		return Fail("unknown skill "+skillID, "not registered"), nil
	}
	if !m.IsEnabled(skillID) {
		return Fail("skill "+skillID+" is not enabled", "disabled"), nil
	}
	return m.executor.Execute(ctx, skill, params, ExecOptions{})
}

// ExecuteIntent resolves an intent to its skill and executes it.
func (m *Manager) ExecuteIntent(ctx context.Context, intent *Intent) (*Result, error) {
	if intent == nil {
		return Fail("no intent to execute", "nil intent"), nil
	}
	return m.ExecuteSkill(ctx, intent.SkillID, intent.Parameters)
}

// Enable marks a skill enabled. Reports false for unknown skills.
func (m *Manager) Enable(skillID string) bool {
	return m.registry.SetStatus(skillID, StatusEnabled)
}

// Disable marks a skill disabled. Reports false for unknown skills.
func (m *Manager) Disable(skillID string) bool {
	return m.registry.SetStatus(skillID, StatusDisabled)
}

// IsEnabled reports whether a skill is registered and enabled.
func (m *Manager) IsEnabled(skillID string) bool {
	status, ok := m.registry.GetStatus(skillID)
	return ok && status == StatusEnabled
}

// Grant adds a permission to the granted set.
func (m *Manager) Grant(p Permission) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.granted[p] = true
}

// Revoke removes a permission from the granted set.
func (m *Manager) Revoke(p Permission) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.granted, p)
}

// HasPermission reports whether a permission is currently granted.
func (m *Manager) HasPermission(p Permission) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.granted[p]
}

// GrantedPermissions returns a copy of the granted set.
func (m *Manager) GrantedPermissions() []Permission {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Permission, 0, len(m.granted))
	for p := range m.granted {
		out = append(out, p)
	}
	return out
}

// Registry exposes the underlying registry for listing and lookups.
func (m *Manager) Registry() *Registry { return m.registry }

// Subscribe registers a post-execution callback.
func (m *Manager) Subscribe(cb ExecutionCallback) {
	m.executor.Subscribe(cb)
}

// History returns the in-memory execution records, oldest first.
func (m *Manager) History() []ExecutionRecord {
	return m.executor.History()
}

// ClearHistory drops the in-memory execution records.
func (m *Manager) ClearHistory() {
	m.executor.ClearHistory()
}

// ManagerStatistics aggregates registry and execution counters.
type ManagerStatistics struct {
	Registry        Statistics     `json:"registry"`
	Executions      int            `json:"executions"`
	Successes       int            `json:"successes"`
	Failures        int            `json:"failures"`
	PatternSets     int            `json:"pattern_sets"`
	UptimeSeconds   int64          `json:"uptime_seconds"`
	AvgDurationMs   int64          `json:"avg_duration_ms"`
	ByExecutedSkill map[string]int `json:"by_skill"`
}

// Statistics returns an aggregate snapshot across all subsystems.
func (m *Manager) Statistics() ManagerStatistics {
	history := m.executor.History()

	stats := ManagerStatistics{
		Registry:        m.registry.GetStatistics(),
		Executions:      len(history),
		PatternSets:     m.classify.PatternSetCount(),
		UptimeSeconds:   int64(time.Since(m.startedAt).Seconds()),
		ByExecutedSkill: make(map[string]int),
	}

	var totalMs int64
	for _, rec := range history {
		stats.ByExecutedSkill[rec.SkillID]++
		totalMs += rec.DurationMs
		if rec.Result != nil && rec.Result.Success {
			stats.Successes++
		} else {
			stats.Failures++
		}
	}
	if len(history) > 0 {
		stats.AvgDurationMs = totalMs / int64(len(history))
	}
	return stats
}
