package skills

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Manifest is a declarative skill description parsed from a SKILL.md file:
// YAML frontmatter carrying metadata and parameter declarations, with the
// markdown body left to the skill package itself.
type Manifest struct {
	Metadata   Metadata    `yaml:",inline"`
	Parameters []Parameter `yaml:"parameters"`
}

// ManifestSkill bundles what the loader found in one skill directory.
type ManifestSkill struct {
	Manifest    Manifest
	PatternSets []*PatternSet
	Dir         string
}

// Loader discovers declarative skill packages under a directory. Each
// package is a subdirectory containing SKILL.md and, optionally, a
// patterns.toml with intent trigger definitions.
type Loader struct {
	skillsDir string
	logger    *slog.Logger
}

// NewLoader creates a loader that scans the given directory.
func NewLoader(skillsDir string, logger *slog.Logger) *Loader {
	return &Loader{
		skillsDir: skillsDir,
		logger:    logger.With("component", "skill-loader"),
	}
}

// DefaultSkillsDir returns the default ~/.deskclaw/skills/ path.
func DefaultSkillsDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".deskclaw", "skills")
	}
	return filepath.Join(home, ".deskclaw", "skills")
}

// LoadAll discovers and loads all skill packages from the skills directory.
func (l *Loader) LoadAll() ([]*ManifestSkill, error) {
	entries, err := os.ReadDir(l.skillsDir)
	if err != nil {
		if os.IsNotExist(err) {
			l.logger.Info("skills directory does not exist, skipping", "dir", l.skillsDir)
			return nil, nil
		}
		return nil, fmt.Errorf("read skills dir: %w", err)
	}

	var out []*ManifestSkill
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(l.skillsDir, entry.Name())
		ms, err := l.loadOne(dir)
		if err != nil {
			l.logger.Warn("failed to load skill package", "dir", dir, "error", err)
			continue
		}
		out = append(out, ms)
		l.logger.Info("loaded skill package",
			"skill", ms.Manifest.Metadata.SkillID,
			"version", ms.Manifest.Metadata.Version,
			"patterns", len(ms.PatternSets),
		)
	}
	return out, nil
}

func (l *Loader) loadOne(dir string) (*ManifestSkill, error) {
	manifest, err := l.parseManifest(filepath.Join(dir, "SKILL.md"))
	if err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if err := manifest.Metadata.Validate(); err != nil {
		return nil, err
	}

	sets, err := loadPatternsTOML(filepath.Join(dir, "patterns.toml"), manifest.Metadata.SkillID)
	if err != nil {
		// patterns.toml is optional; skill may rely on AI classification only
		l.logger.Debug("no patterns.toml for skill", "dir", dir, "error", err)
		sets = nil
	}

	return &ManifestSkill{
		Manifest:    *manifest,
		PatternSets: sets,
		Dir:         dir,
	}, nil
}

// parseManifest extracts YAML frontmatter from SKILL.md.
func (l *Loader) parseManifest(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	var inFrontmatter bool
	var yamlLines []string

	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "---" {
			if inFrontmatter {
				break // end of frontmatter
			}
			inFrontmatter = true
			continue
		}
		if inFrontmatter {
			yamlLines = append(yamlLines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if len(yamlLines) == 0 {
		return nil, fmt.Errorf("no YAML frontmatter found in %s", path)
	}

	var manifest Manifest
	if err := yaml.Unmarshal([]byte(strings.Join(yamlLines, "\n")), &manifest); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}
	return &manifest, nil
}

// patternsFile is the on-disk shape of patterns.toml.
type patternsFile struct {
	Patterns []patternsEntry `toml:"patterns"`
}

type patternsEntry struct {
	SkillID         string   `toml:"skill_id"`
	Patterns        []string `toml:"patterns"`
	ConfidenceBoost float64  `toml:"confidence_boost"`
	Examples        []string `toml:"examples"`
}

func loadPatternsTOML(path, defaultSkillID string) ([]*PatternSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParsePatternsTOML(data, defaultSkillID)
}

// ParsePatternsTOML parses pattern-set definitions. Entries without an
// explicit skill_id inherit the manifest's.
func ParsePatternsTOML(data []byte, defaultSkillID string) ([]*PatternSet, error) {
	var pf patternsFile
	if err := toml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parse patterns TOML: %w", err)
	}

	var sets []*PatternSet
	for _, entry := range pf.Patterns {
		skillID := entry.SkillID
		if skillID == "" {
			skillID = defaultSkillID
		}
		if skillID == "" {
			return nil, fmt.Errorf("pattern entry missing skill_id")
		}
		if len(entry.Patterns) == 0 {
			continue
		}
		sets = append(sets, &PatternSet{
			SkillID:         skillID,
			Patterns:        entry.Patterns,
			ConfidenceBoost: entry.ConfidenceBoost,
			Examples:        entry.Examples,
		})
	}
	return sets, nil
}
