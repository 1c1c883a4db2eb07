package skills

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleManifest = `---
skill_id: weather_report
name: Weather Report
description: Fetches the current weather for a location
category: information
enabled_by_default: true
ai_callable: true
permissions_required:
  - network
version: 1.2.0
author: deskclaw
parameters:
  - name: location
    type: string
    required: true
    description: City or place name
  - name: units
    type: string
    default: metric
    constraints:
      choices: [metric, imperial]
---

# Weather Report

Markdown body describing the skill. The loader only reads the frontmatter.
`

const samplePatterns = `
[[patterns]]
patterns = ["weather\\s+in\\s+(?P<location>.+)", "forecast"]
confidence_boost = 0.3
examples = ["weather in Berlin", "what's the forecast"]

[[patterns]]
skill_id = "other_skill"
patterns = ["something else"]
`

func writeSkillPackage(t *testing.T, root, name, manifest, patterns string) string {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if manifest != "" {
		if err := os.WriteFile(filepath.Join(dir, "SKILL.md"), []byte(manifest), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if patterns != "" {
		if err := os.WriteFile(filepath.Join(dir, "patterns.toml"), []byte(patterns), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestLoaderLoadAll(t *testing.T) {
	root := t.TempDir()
	writeSkillPackage(t, root, "weather", sampleManifest, samplePatterns)

	loader := NewLoader(root, testLogger())
	loaded, err := loader.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("loaded %d packages, want 1", len(loaded))
	}

	ms := loaded[0]
	meta := ms.Manifest.Metadata
	if meta.SkillID != "weather_report" || meta.Version != "1.2.0" {
		t.Errorf("metadata = %+v", meta)
	}
	if !meta.EnabledByDefault || !meta.AICallable {
		t.Error("boolean frontmatter fields not parsed")
	}
	if len(meta.PermissionsRequired) != 1 || meta.PermissionsRequired[0] != PermNetwork {
		t.Errorf("permissions = %v", meta.PermissionsRequired)
	}

	if len(ms.Manifest.Parameters) != 2 {
		t.Fatalf("parameters = %d, want 2", len(ms.Manifest.Parameters))
	}
	loc := ms.Manifest.Parameters[0]
	if loc.Name != "location" || !loc.Required || loc.Type != TypeString {
		t.Errorf("location parameter = %+v", loc)
	}
	units := ms.Manifest.Parameters[1]
	if units.Default != "metric" || len(units.Constraints.Choices) != 2 {
		t.Errorf("units parameter = %+v", units)
	}

	if len(ms.PatternSets) != 2 {
		t.Fatalf("pattern sets = %d, want 2", len(ms.PatternSets))
	}
	if ms.PatternSets[0].SkillID != "weather_report" {
		t.Errorf("entry without skill_id should inherit the manifest's, got %q", ms.PatternSets[0].SkillID)
	}
	if ms.PatternSets[1].SkillID != "other_skill" {
		t.Errorf("explicit skill_id overridden: %q", ms.PatternSets[1].SkillID)
	}
}

func TestLoaderSkipsBrokenPackages(t *testing.T) {
	root := t.TempDir()
	writeSkillPackage(t, root, "good", sampleManifest, "")
	writeSkillPackage(t, root, "no_manifest", "", samplePatterns)
	writeSkillPackage(t, root, "bad_yaml", "---\nskill_id: [\n---\n", "")

	loader := NewLoader(root, testLogger())
	loaded, err := loader.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if len(loaded) != 1 || loaded[0].Manifest.Metadata.SkillID != "weather_report" {
		t.Errorf("expected only the good package, got %d", len(loaded))
	}
}

func TestLoaderMissingDirIsNotAnError(t *testing.T) {
	loader := NewLoader(filepath.Join(t.TempDir(), "absent"), testLogger())
	loaded, err := loader.LoadAll()
	if err != nil {
		t.Errorf("missing skills dir should be tolerated: %v", err)
	}
	if loaded != nil {
		t.Errorf("expected no packages, got %d", len(loaded))
	}
}

func TestParsePatternsTOMLRequiresSkillID(t *testing.T) {
	_, err := ParsePatternsTOML([]byte(`
[[patterns]]
patterns = ["orphan"]
`), "")
	if err == nil {
		t.Error("entry with no skill_id and no default must fail")
	}
}

func TestParsePatternsTOMLSkipsEmptyEntries(t *testing.T) {
	sets, err := ParsePatternsTOML([]byte(`
[[patterns]]
skill_id = "empty"
patterns = []
`), "")
	if err != nil {
		t.Fatalf("ParsePatternsTOML: %v", err)
	}
	if len(sets) != 0 {
		t.Errorf("empty pattern list should be skipped, got %d sets", len(sets))
	}
}
