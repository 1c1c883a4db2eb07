package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/clawinfra/deskclaw/internal/skills"
)

// registerBuiltinSkills installs the small set of skills that ship with
// the binary. Everything heavier comes from external skill packages.
func registerBuiltinSkills(manager *skills.Manager, logger *slog.Logger) {
	for _, skill := range []skills.Skill{
		newSystemInfoSkill(),
		newTaskTrackerSkill(),
	} {
		if err := manager.RegisterSkill(skill); err != nil {
			logger.Warn("failed to register builtin skill", "error", err)
		}
	}

	for _, set := range skills.DefaultPatternSets() {
		// only wire patterns for skills that are actually installed
		if err := manager.RegisterPatterns(set); err != nil {
			continue
		}
	}
}

// systemInfoSkill reports basic host information.
type systemInfoSkill struct {
	skills.BaseHooks
}

func newSystemInfoSkill() *systemInfoSkill { return &systemInfoSkill{} }

func (s *systemInfoSkill) Metadata() skills.Metadata {
	return skills.Metadata{
		SkillID:             "system_info",
		Name:                "System Info",
		Description:         "Reports the host operating system, architecture, and process details",
		Category:            "system",
		EnabledByDefault:    true,
		AICallable:          true,
		PermissionsRequired: []skills.Permission{skills.PermSystemInfo},
		Version:             "1.0.0",
		Author:              "deskclaw",
	}
}

func (s *systemInfoSkill) Parameters() []skills.Parameter { return nil }

func (s *systemInfoSkill) Execute(ctx context.Context, params map[string]any) *skills.Result {
	hostname, _ := os.Hostname()
	return skills.OkData("collected system information", map[string]any{
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"cpus":       runtime.NumCPU(),
		"go_version": runtime.Version(),
		"hostname":   hostname,
		"pid":        os.Getpid(),
	})
}

// taskTrackerSkill keeps an in-memory task list for the session.
type taskTrackerSkill struct {
	skills.BaseHooks
	mu    sync.Mutex
	tasks []trackedTask
	next  int
}

type trackedTask struct {
	ID      int
	Text    string
	Done    bool
	Created time.Time
}

func newTaskTrackerSkill() *taskTrackerSkill { return &taskTrackerSkill{next: 1} }

func (s *taskTrackerSkill) Metadata() skills.Metadata {
	return skills.Metadata{
		SkillID:          "task_tracker",
		Name:             "Task Tracker",
		Description:      "Adds, lists, and completes simple session tasks",
		Category:         "productivity",
		EnabledByDefault: true,
		AICallable:       true,
		Version:          "1.0.0",
		Author:           "deskclaw",
	}
}

func (s *taskTrackerSkill) Parameters() []skills.Parameter {
	return []skills.Parameter{
		{
			Name:        "action",
			Type:        skills.TypeString,
			Required:    true,
			Description: "What to do with the task list",
			Constraints: skills.Constraints{Choices: []any{"add", "list", "done"}},
		},
		{
			Name:        "task",
			Type:        skills.TypeString,
			Description: "Task text for add, or task id for done",
		},
	}
}

func (s *taskTrackerSkill) Execute(ctx context.Context, params map[string]any) *skills.Result {
	action, _ := params["action"].(string)
	text, _ := params["task"].(string)

	s.mu.Lock()
	defer s.mu.Unlock()

	switch action {
	case "add":
		if text == "" {
			return skills.Fail("cannot add an empty task", "task text required")
		}
		t := trackedTask{ID: s.next, Text: text, Created: time.Now()}
		s.next++
		s.tasks = append(s.tasks, t)
		return skills.OkData(fmt.Sprintf("added task #%d: %s", t.ID, t.Text), map[string]any{
			"id": t.ID,
		})

	case "list":
		items := make([]map[string]any, 0, len(s.tasks))
		for _, t := range s.tasks {
			items = append(items, map[string]any{"id": t.ID, "task": t.Text, "done": t.Done})
		}
		sort.Slice(items, func(i, j int) bool { return items[i]["id"].(int) < items[j]["id"].(int) })
		return skills.OkData(fmt.Sprintf("%d tasks tracked", len(items)), map[string]any{
			"tasks": items,
		})

	case "done":
		for i := range s.tasks {
			if fmt.Sprintf("%d", s.tasks[i].ID) == text || s.tasks[i].Text == text {
				s.tasks[i].Done = true
				return skills.Ok(fmt.Sprintf("marked task #%d done", s.tasks[i].ID))
			}
		}
		return skills.Fail("task not found: "+text, "no matching task")

	default:
		return skills.Fail("unknown action "+action, "use add, list, or done")
	}
}
