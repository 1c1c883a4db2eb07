package skills

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// ErrDuplicateSkill is returned when registering a skill whose ID is taken.
var ErrDuplicateSkill = errors.New("skill already registered")

// Registry is the authoritative, concurrency-safe mapping from skill ID to
// instance, metadata, and lifecycle status. Every mutating and iterating
// operation holds the same lock so concurrent register/unregister never
// produce torn reads.
type Registry struct {
	mu       sync.Mutex
	skills   map[string]Skill
	metadata map[string]Metadata
	status   map[string]Status
	logger   *slog.Logger
}

// ListFilter narrows List results. Zero values match everything.
type ListFilter struct {
	Category string
	Status   Status
}

// Statistics summarizes registry contents.
type Statistics struct {
	Total      int            `json:"total"`
	ByCategory map[string]int `json:"by_category"`
	ByStatus   map[Status]int `json:"by_status"`
}

// NewRegistry creates an empty skill registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		skills:   make(map[string]Skill),
		metadata: make(map[string]Metadata),
		status:   make(map[string]Status),
		logger:   logger.With("component", "skill-registry"),
	}
}

// Register adds a skill under its metadata's skill ID with initial status
// LOADED. A duplicate ID is rejected and the first registration is kept.
func (r *Registry) Register(skill Skill) error {
	meta := skill.Metadata()
	if err := meta.Validate(); err != nil {
		return fmt.Errorf("invalid skill metadata: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.skills[meta.SkillID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateSkill, meta.SkillID)
	}

	r.skills[meta.SkillID] = skill
	r.metadata[meta.SkillID] = meta
	r.status[meta.SkillID] = StatusLoaded

	r.logger.Info("skill registered",
		"skill", meta.SkillID,
		"category", meta.Category,
		"version", meta.Version,
	)
	return nil
}

// Unregister removes a skill and reports whether it existed.
func (r *Registry) Unregister(skillID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, existed := r.skills[skillID]
	delete(r.skills, skillID)
	delete(r.metadata, skillID)
	delete(r.status, skillID)

	if existed {
		r.logger.Info("skill unregistered", "skill", skillID)
	}
	return existed
}

// Get returns a skill instance by ID.
func (r *Registry) Get(skillID string) (Skill, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.skills[skillID]
	return s, ok
}

// GetMetadata returns a skill's metadata by ID.
func (r *Registry) GetMetadata(skillID string) (Metadata, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.metadata[skillID]
	return m, ok
}

// GetStatus returns a skill's lifecycle status by ID.
func (r *Registry) GetStatus(skillID string) (Status, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.status[skillID]
	return s, ok
}

// SetStatus updates a skill's status. Returns false if the skill is absent.
func (r *Registry) SetStatus(skillID string, status Status) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.skills[skillID]; !ok {
		return false
	}
	r.status[skillID] = status
	return true
}

// List returns metadata for all skills matching the filter, sorted by
// (category, name).
func (r *Registry) List(filter ListFilter) []Metadata {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Metadata, 0, len(r.metadata))
	for id, meta := range r.metadata {
		if filter.Category != "" && meta.Category != filter.Category {
			continue
		}
		if filter.Status != "" && r.status[id] != filter.Status {
			continue
		}
		out = append(out, meta)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Exists reports whether a skill ID is registered.
func (r *Registry) Exists(skillID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.skills[skillID]
	return ok
}

// Count returns the number of registered skills.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.skills)
}

// Clear removes all skills.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.skills = make(map[string]Skill)
	r.metadata = make(map[string]Metadata)
	r.status = make(map[string]Status)
}

// GetStatistics returns counts by category and status.
func (r *Registry) GetStatistics() Statistics {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := Statistics{
		Total:      len(r.skills),
		ByCategory: make(map[string]int),
		ByStatus:   make(map[Status]int),
	}
	for id, meta := range r.metadata {
		stats.ByCategory[meta.Category]++
		stats.ByStatus[r.status[id]]++
	}
	return stats
}
