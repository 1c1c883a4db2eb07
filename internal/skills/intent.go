package skills

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"
)

const (
	// patternConfidenceCeiling short-circuits the AI fallback: a pattern
	// match at or above it is returned immediately.
	patternConfidenceCeiling = 0.85

	// aiCalibrationFactor discounts the model's self-reported confidence,
	// which runs high in practice.
	aiCalibrationFactor = 0.85

	patternMatchScore = 0.5
	extractorScore    = 0.1
)

// Extractor pulls a parameter value out of the raw input. A nil return
// means no value was found.
type Extractor func(input string) any

// PatternSet declares how one skill is triggered from free text.
type PatternSet struct {
	SkillID string
	// Patterns are regular expressions matched case-insensitively against
	// the input. A pattern that fails to compile is treated as a plain
	// keyword (case-folded substring).
	Patterns []string
	// ConfidenceBoost lets a single unambiguous trigger word reach the
	// immediate-return ceiling.
	ConfidenceBoost float64
	// Extractors derive parameters from the input; each non-nil value adds
	// a small score bonus.
	Extractors map[string]Extractor
	// Examples are shown to the model in the AI-fallback prompt.
	Examples []string

	compiled []compiledPattern
}

type compiledPattern struct {
	raw     string
	re      *regexp.Regexp // nil means keyword match
	keyword string
}

// CompletionFunc asks the model for a single text completion. Wired by the
// owner; the classifier never talks to the transport directly.
type CompletionFunc func(ctx context.Context, prompt string) (string, error)

// Classifier maps free-text input to a skill Intent using a deterministic
// pattern stage with an optional LLM fallback.
type Classifier struct {
	logger *slog.Logger

	sets    []*PatternSet // scan order = registration order
	bySkill map[string][]*PatternSet

	threshold  float64
	aiFallback bool
	aiTimeout  time.Duration
	complete   CompletionFunc

	// enabledFilter narrows the AI-fallback prompt to enabled skills.
	// A nil filter includes everything.
	enabledFilter func(skillID string) bool
}

// ClassifierOption configures a Classifier.
type ClassifierOption func(*Classifier)

// WithAIFallback wires the model call used when patterns are inconclusive.
func WithAIFallback(fn CompletionFunc, timeout time.Duration) ClassifierOption {
	return func(c *Classifier) {
		c.complete = fn
		c.aiFallback = fn != nil
		if timeout > 0 {
			c.aiTimeout = timeout
		}
	}
}

// WithEnabledFilter restricts the AI-fallback skill listing.
func WithEnabledFilter(fn func(skillID string) bool) ClassifierOption {
	return func(c *Classifier) { c.enabledFilter = fn }
}

// NewClassifier creates a classifier with the given confidence threshold.
// A threshold outside [0,1] falls back to the 0.75 default.
func NewClassifier(logger *slog.Logger, threshold float64, opts ...ClassifierOption) *Classifier {
	if threshold < 0 || threshold > 1 {
		threshold = 0.75
	}
	c := &Classifier{
		logger:    logger.With("component", "intent-classifier"),
		bySkill:   make(map[string][]*PatternSet),
		threshold: threshold,
		aiTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RegisterPatterns adds a pattern set for a skill. Sets are scanned in
// registration order, which keeps tie-breaking deterministic.
func (c *Classifier) RegisterPatterns(set *PatternSet) error {
	if set.SkillID == "" {
		return fmt.Errorf("pattern set requires a skill_id")
	}
	set.compile()
	c.sets = append(c.sets, set)
	c.bySkill[set.SkillID] = append(c.bySkill[set.SkillID], set)
	return nil
}

// UnregisterPatterns removes all pattern sets for a skill and reports
// whether any existed.
func (c *Classifier) UnregisterPatterns(skillID string) bool {
	if _, ok := c.bySkill[skillID]; !ok {
		return false
	}
	delete(c.bySkill, skillID)
	kept := c.sets[:0]
	for _, s := range c.sets {
		if s.SkillID != skillID {
			kept = append(kept, s)
		}
	}
	c.sets = kept
	return true
}

// SetConfidenceThreshold updates the acceptance threshold.
func (c *Classifier) SetConfidenceThreshold(v float64) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("confidence threshold must be in [0,1], got %v", v)
	}
	c.threshold = v
	return nil
}

// Threshold returns the current acceptance threshold.
func (c *Classifier) Threshold() float64 { return c.threshold }

// PatternSetCount returns the number of registered pattern sets.
func (c *Classifier) PatternSetCount() int { return len(c.sets) }

func (ps *PatternSet) compile() {
	ps.compiled = make([]compiledPattern, 0, len(ps.Patterns))
	for _, raw := range ps.Patterns {
		re, err := regexp.Compile("(?i)" + raw)
		if err != nil {
			ps.compiled = append(ps.compiled, compiledPattern{raw: raw, keyword: strings.ToLower(raw)})
			continue
		}
		ps.compiled = append(ps.compiled, compiledPattern{raw: raw, re: re})
	}
}

// score evaluates one pattern set against the input. It returns the clipped
// confidence, the extracted parameters, and the matched pattern sources.
func (ps *PatternSet) score(input string) (float64, map[string]any, []string) {
	folded := strings.ToLower(input)
	var score float64
	var matched []string
	params := make(map[string]any)

	for _, cp := range ps.compiled {
		if cp.re != nil {
			m := cp.re.FindStringSubmatch(input)
			if m == nil {
				continue
			}
			score += patternMatchScore
			matched = append(matched, cp.raw)
			for i, name := range cp.re.SubexpNames() {
				if name != "" && i < len(m) && m[i] != "" {
					params[name] = m[i]
				}
			}
		} else if strings.Contains(folded, cp.keyword) {
			score += patternMatchScore
			matched = append(matched, cp.raw)
		}
	}

	if len(matched) == 0 {
		return 0, nil, nil
	}

	for name, extract := range ps.Extractors {
		if v := extract(input); v != nil {
			params[name] = v
			score += extractorScore
		}
	}

	score += ps.ConfidenceBoost
	if score > 1.0 {
		score = 1.0
	}
	return score, params, matched
}

// Classify runs the two-stage pipeline and returns the winning intent, or
// nil when nothing clears the confidence threshold.
func (c *Classifier) Classify(ctx context.Context, input string) *Intent {
	pattern := c.classifyPatterns(input)

	// A confident pattern match never pays for a model call.
	if pattern != nil && pattern.Confidence >= patternConfidenceCeiling {
		return pattern
	}

	candidate := pattern
	if c.aiFallback && c.complete != nil {
		if ai := c.classifyAI(ctx, input); ai != nil {
			if candidate == nil || ai.Confidence > candidate.Confidence {
				candidate = ai
			}
		}
	}

	if candidate == nil || candidate.Confidence < c.threshold {
		return nil
	}
	return candidate
}

// classifyPatterns runs the deterministic stage. The first maximum in scan
// order wins ties.
func (c *Classifier) classifyPatterns(input string) *Intent {
	var best *Intent
	for _, set := range c.sets {
		score, params, matched := set.score(input)
		if score == 0 {
			continue
		}
		if best == nil || score > best.Confidence {
			best = &Intent{
				SkillID:         set.SkillID,
				Confidence:      score,
				Parameters:      params,
				RawInput:        input,
				MatchedPatterns: matched,
			}
		}
	}
	return best
}

// ConfidenceScores exposes the raw per-skill pattern scores for diagnostics.
func (c *Classifier) ConfidenceScores(input string) map[string]float64 {
	scores := make(map[string]float64)
	for _, set := range c.sets {
		score, _, _ := set.score(input)
		if score > scores[set.SkillID] {
			scores[set.SkillID] = score
		}
	}
	return scores
}

// aiVerdict is the JSON object the fallback prompt asks the model for.
type aiVerdict struct {
	SkillID    string          `json:"skill_id"`
	Confidence *float64        `json:"confidence"`
	Parameters json.RawMessage `json:"parameters"`
	Reasoning  string          `json:"reasoning"`
}

// classifyAI runs the LLM fallback under its own timeout. Any fault —
// timeout, malformed JSON, unknown skill — degrades to a nil result.
func (c *Classifier) classifyAI(ctx context.Context, input string) *Intent {
	prompt := c.buildPrompt(input)

	ctx, cancel := context.WithTimeout(ctx, c.aiTimeout)
	defer cancel()

	raw, err := c.complete(ctx, prompt)
	if err != nil {
		c.logger.Debug("ai fallback failed", "error", err)
		return nil
	}

	verdict, err := parseVerdict(raw)
	if err != nil {
		c.logger.Debug("ai fallback returned malformed verdict", "error", err)
		return nil
	}

	if verdict.SkillID == "" || verdict.SkillID == "none" {
		return nil
	}
	if _, known := c.bySkill[verdict.SkillID]; !known {
		c.logger.Debug("ai fallback proposed unknown skill", "skill", verdict.SkillID)
		return nil
	}
	if verdict.Confidence == nil || *verdict.Confidence < 0 || *verdict.Confidence > 1 {
		return nil
	}

	params := make(map[string]any)
	if len(verdict.Parameters) > 0 {
		if err := json.Unmarshal(verdict.Parameters, &params); err != nil {
			c.logger.Debug("ai fallback parameters not an object", "error", err)
			return nil
		}
	}
	// Drop null-valued parameters the model sometimes emits.
	for k, v := range params {
		if v == nil {
			delete(params, k)
		}
	}

	reasoning := verdict.Reasoning
	if reasoning == "" {
		reasoning = "model classification"
	}

	return &Intent{
		SkillID:         verdict.SkillID,
		Confidence:      *verdict.Confidence * aiCalibrationFactor,
		Parameters:      params,
		RawInput:        input,
		MatchedPatterns: []string{"AI: " + reasoning},
	}
}

func (c *Classifier) buildPrompt(input string) string {
	var b strings.Builder
	b.WriteString("You classify a user request into one of the available skills.\n")
	b.WriteString("Available skills:\n")

	seen := make(map[string]bool)
	for _, set := range c.sets {
		if seen[set.SkillID] {
			continue
		}
		if c.enabledFilter != nil && !c.enabledFilter(set.SkillID) {
			continue
		}
		seen[set.SkillID] = true
		b.WriteString("- " + set.SkillID)
		if len(set.Examples) > 0 {
			b.WriteString(" (e.g. \"" + strings.Join(set.Examples, "\", \"") + "\")")
		}
		b.WriteString("\n")
	}

	b.WriteString("\nUser request: " + input + "\n\n")
	b.WriteString(`Respond with a single JSON object and nothing else: ` +
		`{"skill_id": "<id or none>", "confidence": <0..1>, "parameters": {...}, "reasoning": "<short>"}`)
	return b.String()
}

// parseVerdict extracts the JSON object from model output, tolerating
// markdown fences and surrounding prose.
func parseVerdict(raw string) (*aiVerdict, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end == -1 || end < start {
		return nil, fmt.Errorf("no JSON object in model output")
	}
	s = s[start : end+1]

	var v aiVerdict
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, fmt.Errorf("parse verdict: %w", err)
	}
	return &v, nil
}
