package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/clawinfra/deskclaw/internal/config"
	"github.com/clawinfra/deskclaw/internal/models"
	"github.com/clawinfra/deskclaw/internal/orchestrator"
	"github.com/clawinfra/deskclaw/internal/scheduler"
	"github.com/clawinfra/deskclaw/internal/skills"
)

var version = "0.1.0"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "deskclaw.json", "path to config file")
	stream := flag.Bool("stream", false, "use the streaming transport")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("deskclaw", version)
		return 0
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		return 1
	}

	logger := newLogger(cfg.Server.LogLevel)
	logger.Info("starting deskclaw", "version", version, "model", cfg.AI.Model)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	client := models.NewClient(cfg.AI, logger)

	historyPath := cfg.Executor.HistoryDB
	if historyPath == "" {
		historyPath = filepath.Join(cfg.Server.DataDir, "history.db")
	}
	store, err := skills.OpenHistoryStore(historyPath)
	if err != nil {
		logger.Warn("execution history will not be persisted", "error", err)
		store = nil
	} else {
		defer store.Close()
	}

	manager := buildManager(cfg, client, store, logger)
	registerBuiltinSkills(manager, logger)
	loadSkillPackages(manager, logger)

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched = scheduler.New(manager, logger)
		sched.LoadConfig(cfg.Scheduler)
		sched.Start(ctx)
		defer sched.Stop()
	}

	service := orchestrator.NewService(cfg, client, manager, logger)
	defer service.Shutdown()

	if !service.Ready() {
		logger.Warn("AI service not fully configured; chat will be unavailable until it is")
	}

	repl(ctx, service, manager, *stream)
	logger.Info("shutting down")
	return 0
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func buildManager(cfg *config.Config, client *models.Client, store *skills.HistoryStore, logger *slog.Logger) *skills.Manager {
	opts := []skills.ManagerOption{
		skills.WithConfidenceThreshold(cfg.Intent.ConfidenceThreshold),
		skills.WithMaxHistory(cfg.Executor.MaxHistory),
		skills.WithConfirmFunc(confirmOnTerminal),
	}
	if store != nil {
		opts = append(opts, skills.WithHistorySink(store))
	}
	if cfg.Intent.AIFallback {
		timeout := time.Duration(cfg.Intent.TimeoutSecs) * time.Second
		opts = append(opts, skills.WithCompletion(classifierCompletion(cfg, client), timeout))
	}
	return skills.NewManager(logger, opts...)
}

// classifierCompletion adapts the chat client to the classifier's
// single-prompt completion shape.
func classifierCompletion(cfg *config.Config, client *models.Client) skills.CompletionFunc {
	return func(ctx context.Context, prompt string) (string, error) {
		res := client.ChatCompletion(ctx, models.ChatRequest{
			Model:     cfg.AI.Model,
			Messages:  []models.ChatMessage{{Role: "user", Content: prompt}},
			MaxTokens: 512,
		})
		if !res.Success {
			return "", fmt.Errorf("classification call failed: %s", res.Error)
		}
		return res.Content(), nil
	}
}

// confirmOnTerminal asks the user to approve a confirmation-required skill.
func confirmOnTerminal(meta skills.Metadata, params map[string]any) bool {
	fmt.Printf("skill %q wants to run with %v — allow? [y/N] ", meta.SkillID, params)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

// loadSkillPackages discovers declarative skill packages and registers
// their trigger patterns for skills that are actually installed.
func loadSkillPackages(manager *skills.Manager, logger *slog.Logger) {
	loader := skills.NewLoader(skills.DefaultSkillsDir(), logger)
	loaded, err := loader.LoadAll()
	if err != nil {
		logger.Warn("skill package discovery failed", "error", err)
		return
	}
	for _, ms := range loaded {
		for _, set := range ms.PatternSets {
			if err := manager.RegisterPatterns(set); err != nil {
				logger.Debug("skipping patterns for uninstalled skill", "skill", set.SkillID)
			}
		}
	}
}

func repl(ctx context.Context, service *orchestrator.Service, manager *skills.Manager, stream bool) {
	fmt.Println("deskclaw — type a message, or /help for commands")
	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if ctx.Err() != nil {
			return
		}

		switch {
		case line == "/quit" || line == "/exit":
			return

		case line == "/help":
			fmt.Println("/intent <text>  classify without executing")
			fmt.Println("/skills         list installed skills")
			fmt.Println("/stats          runtime statistics")
			fmt.Println("/history        recent executions")
			fmt.Println("/clear          reset the conversation")
			fmt.Println("/quit           exit")

		case strings.HasPrefix(line, "/intent "):
			printIntent(ctx, manager, strings.TrimPrefix(line, "/intent "))

		case line == "/skills":
			printSkills(manager)

		case line == "/stats":
			printStats(manager)

		case line == "/history":
			printHistory(manager)

		case line == "/clear":
			service.ClearConversation()
			fmt.Println("conversation cleared")

		default:
			var reply string
			if stream {
				reply = service.SendMessageStream(ctx, line)
			} else {
				reply = service.SendMessage(ctx, line)
			}
			fmt.Println(reply)
		}
	}
}

func printIntent(ctx context.Context, manager *skills.Manager, text string) {
	intent := manager.DetectIntent(ctx, text)
	if intent == nil {
		fmt.Println("no skill matched above the confidence threshold")
		return
	}
	fmt.Printf("skill: %s (confidence %.2f)\n", intent.SkillID, intent.Confidence)
	if len(intent.Parameters) > 0 {
		fmt.Printf("parameters: %v\n", intent.Parameters)
	}
	for _, p := range intent.MatchedPatterns {
		fmt.Printf("  matched: %s\n", p)
	}
}

func printSkills(manager *skills.Manager) {
	for _, meta := range manager.Registry().List(skills.ListFilter{}) {
		state := "disabled"
		if manager.IsEnabled(meta.SkillID) {
			state = "enabled"
		}
		fmt.Printf("%-20s %-12s %-8s %s\n", meta.SkillID, meta.Category, state, meta.Description)
	}
}

func printStats(manager *skills.Manager) {
	stats := manager.Statistics()
	fmt.Printf("skills: %d registered, %d pattern sets\n", stats.Registry.Total, stats.PatternSets)
	fmt.Printf("executions: %d (%d ok, %d failed), avg %dms\n",
		stats.Executions, stats.Successes, stats.Failures, stats.AvgDurationMs)
	fmt.Printf("uptime: %ds\n", stats.UptimeSeconds)
	for skillID, count := range stats.ByExecutedSkill {
		fmt.Printf("  %s: %d\n", skillID, count)
	}
}

func printHistory(manager *skills.Manager) {
	records := manager.History()
	if len(records) == 0 {
		fmt.Println("no executions yet")
		return
	}
	for _, rec := range records {
		status := "ok"
		if rec.Result == nil || !rec.Result.Success {
			status = "failed"
		}
		fmt.Printf("%s  %-20s %-6s %dms\n",
			rec.Timestamp.Format("15:04:05"), rec.SkillID, status, rec.DurationMs)
	}
}
