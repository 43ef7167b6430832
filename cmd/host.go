package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/EdibleTuber/Mother/internal/agent"
	"github.com/EdibleTuber/Mother/internal/bootstrap"
	"github.com/EdibleTuber/Mother/internal/chat"
	"github.com/EdibleTuber/Mother/internal/chat/cli"
	"github.com/EdibleTuber/Mother/internal/chat/discord"
	"github.com/EdibleTuber/Mother/internal/config"
	"github.com/EdibleTuber/Mother/internal/events"
	"github.com/EdibleTuber/Mother/internal/guard"
	"github.com/EdibleTuber/Mother/internal/orchestrator"
	"github.com/EdibleTuber/Mother/internal/providers"
	"github.com/EdibleTuber/Mother/internal/queue"
	"github.com/EdibleTuber/Mother/internal/sandbox"
	"github.com/EdibleTuber/Mother/internal/skills"
	"github.com/EdibleTuber/Mother/internal/store"
	"github.com/EdibleTuber/Mother/internal/telemetry"
	"github.com/EdibleTuber/Mother/internal/tools"
)

const maxQueueDepth = 5

// runHost wires the whole process and blocks until shutdown. The returned
// value is the process exit code.
func runHost(f config.Flags) int {
	level := slog.LevelInfo
	if f.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := config.Load(f)
	if err != nil {
		logger.Error("configuration error", "error", err)
		return exitUsage
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(ctx, cfg.OTLPEndpoint, Version)
	if err != nil {
		logger.Error("tracing setup failed", "error", err)
		return exitUsage
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	seeded, err := bootstrap.EnsureWorkspace(cfg.Workspace)
	if err != nil {
		logger.Error("workspace bootstrap failed", "workspace", cfg.Workspace, "error", err)
		return exitUsage
	}
	if len(seeded) > 0 {
		logger.Info("workspace seeded", "files", seeded)
	}

	exec, err := sandbox.New(ctx, cfg.Sandbox, cfg.Workspace)
	if err != nil {
		logger.Error("sandbox validation failed", "sandbox", cfg.Sandbox, "error", err)
		return exitSandbox
	}

	pathGuard := guard.NewPathGuard(exec.WorkspacePath(), cfg.AllowedPaths...)
	cmdGuard := guard.NewCommandGuard(guard.ParseCommandsEnv(strings.Join(cfg.AllowedCommands, ",")))

	registry, err := loadModels(cfg)
	if err != nil {
		logger.Error("models registry error", "error", err)
		return exitUsage
	}
	provider := buildProvider(cfg)
	modelID := cfg.ModelID
	if modelID == "" {
		modelID = provider.DefaultModel()
	}
	model := registry.Lookup(modelID, cfg.Provider)
	logger.Info("model selected", "provider", provider.Name(), "model", model.ID, "window", model.ContextWindow)

	channelStore := store.New(cfg.Workspace)
	workQueue := queue.New(maxQueueDepth, logger)
	defer workQueue.Close()

	transport, identity, err := buildTransport(cfg, logger)
	if err != nil {
		logger.Error("transport setup failed", "error", err)
		return exitUsage
	}

	newRunner := func(channelID, stopHint string) orchestrator.Runner {
		botName, botUserID := identity()
		reg := tools.NewRegistry()
		reg.Register(tools.NewReadTool(pathGuard, exec))
		reg.Register(tools.NewWriteTool(pathGuard, exec))
		reg.Register(tools.NewEditTool(pathGuard, exec))
		reg.Register(tools.NewBashTool(cmdGuard, exec))
		reg.Register(tools.NewDelegateTool(pathGuard, cfg.Workspace, delegateArgv(cfg.DelegateCmd)))

		engine := agent.NewEngine(provider, model, reg, logger)
		runner := agent.NewRunner(agent.RunnerConfig{
			ChannelID: channelID,
			Store:     channelStore,
			Transport: transport,
			Engine:    engine,
			Model:     model,
			Exec:      exec,
			Skills: skills.NewLoader(
				filepath.Join(cfg.Workspace, "skills"),
				filepath.Join(cfg.Workspace, channelID, "skills"),
			),
			BotName:          botName,
			BotUserID:        botUserID,
			StopHint:         stopHint,
			Sandbox:          cfg.Sandbox,
			ThinkingInThread: model.ThinkingInThread,
			Logger:           logger,
		})
		// The attach tool feeds the runner's upload queue, so it registers
		// after the runner exists.
		reg.Register(tools.NewAttachTool(pathGuard, exec, runner.QueueUpload))
		return runner
	}

	orch := orchestrator.New(orchestrator.Config{
		Store:     channelStore,
		Transport: transport,
		Queue:     workQueue,
		NewRunner: newRunner,
		Started:   time.Now(),
		Logger:    logger,
	})

	scheduler := events.NewScheduler(filepath.Join(cfg.Workspace, "events"), orch.EnqueuePrompt, logger)

	g, ctx := errgroup.WithContext(ctx)
	ctx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	g.Go(func() error {
		// The transport returning (EOF on --cli) ends the process.
		defer cancelRun()
		return transport.Run(ctx, orch.HandleInbound)
	})
	g.Go(func() error { return scheduler.Run(ctx) })
	g.Go(func() error { return channelStore.RunDownloads(ctx) })

	logger.Info("mother started",
		"workspace", cfg.Workspace, "sandbox", cfg.Sandbox, "transport", transport.Name())

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("host stopped", "error", err)
		return exitUsage
	}
	logger.Info("mother stopped")
	return exitOK
}

// loadModels builds the registry: inline MODELS_JSON wins over the
// workspace models.json file.
func loadModels(cfg *config.Config) (*providers.ModelRegistry, error) {
	if cfg.ModelsJSON != "" {
		return providers.ParseModelRegistry([]byte(cfg.ModelsJSON))
	}
	return providers.LoadModelRegistry(cfg.ModelsPath)
}

func buildProvider(cfg *config.Config) providers.Provider {
	switch cfg.Provider {
	case "openai":
		return providers.NewOpenAIProvider("openai", cfg.OpenAIKey, cfg.LLMURL, cfg.ModelID)
	default:
		var opts []providers.AnthropicOption
		if cfg.LLMURL != "" {
			opts = append(opts, providers.WithAnthropicBaseURL(cfg.LLMURL))
		}
		if cfg.ModelID != "" {
			opts = append(opts, providers.WithAnthropicModel(cfg.ModelID))
		}
		return providers.NewAnthropicProvider(cfg.AnthropicKey, opts...)
	}
}

// buildTransport returns the transport plus an identity func resolved
// lazily, since Discord only knows the bot user after connecting.
func buildTransport(cfg *config.Config, logger *slog.Logger) (chat.Transport, func() (name, userID string), error) {
	if cfg.CLI {
		t := cli.New(os.Stdin, os.Stdout, "mother", logger)
		return t, func() (string, string) { return t.BotName(), t.BotName() }, nil
	}
	t, err := discord.New(cfg.BotToken, cfg.GuildID, logger)
	if err != nil {
		return nil, nil, err
	}
	return t, func() (string, string) { return t.BotName(), t.BotUserID() }, nil
}

// delegateArgv maps the DELEGATE_AGENT_CMD value to the delegate tool's
// argv. The bare default binary name keeps the tool's built-in one-shot
// flags; anything longer is taken as the full command line.
func delegateArgv(cmd string) []string {
	argv := strings.Fields(cmd)
	if len(argv) == 1 && argv[0] == tools.DefaultDelegateArgv[0] {
		return nil
	}
	return argv
}
