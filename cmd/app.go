package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"github.com/nextlevelbuilder/querydesk/internal/agent"
	"github.com/nextlevelbuilder/querydesk/internal/awsx"
	"github.com/nextlevelbuilder/querydesk/internal/config"
	"github.com/nextlevelbuilder/querydesk/internal/history"
	"github.com/nextlevelbuilder/querydesk/internal/knowledge"
	"github.com/nextlevelbuilder/querydesk/internal/memory"
	"github.com/nextlevelbuilder/querydesk/internal/providers"
	"github.com/nextlevelbuilder/querydesk/internal/scheduler"
	"github.com/nextlevelbuilder/querydesk/internal/store/pg"
	"github.com/nextlevelbuilder/querydesk/internal/tools"
	"github.com/nextlevelbuilder/querydesk/internal/tracing"
	"github.com/nextlevelbuilder/querydesk/internal/turn"
)

// app holds every long-lived component of a running querydesk.
type app struct {
	cfg     *config.Config
	db      *sqlx.DB
	exec    *pg.Executor
	tools   *tools.Registry
	loop    *agent.Loop
	memory  *memory.Manager
	history history.Store
	tracer  *tracing.Collector
	turns   *turn.Orchestrator
	sched   *scheduler.Scheduler
}

// newApp wires provider, database, memory, history, tools, agent loop and
// turn orchestrator from cfg. Call close when done.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			a.close()
		}
	}()

	// 1. Provider
	provider, err := providers.New(cfg.Provider)
	if err != nil {
		return nil, fmt.Errorf("provider: %w", err)
	}

	// 2. Database
	if a.db, err = pg.OpenDB(cfg.Database); err != nil {
		return nil, err
	}
	a.exec = pg.NewExecutor(a.db, cfg.Database)

	// 3. Memory + history
	backend, err := memory.NewBackend(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("memory: %w", err)
	}
	a.memory = memory.NewManager(backend, cfg.Memory)
	if a.history, err = history.New(cfg.History); err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}

	// 4. Tools
	if a.tools, err = buildTools(ctx, cfg, a.exec, a.memory); err != nil {
		return nil, err
	}

	// 5. Agent loop
	prompt, err := agent.LoadSystemPrompt(cfg.Agent.SystemPromptFile)
	if err != nil {
		return nil, err
	}
	a.loop = agent.NewLoop(agent.LoopConfig{
		ID:              "querydesk",
		Provider:        provider,
		Model:           cfg.Provider.Model,
		Tools:           a.tools,
		SystemPrompt:    prompt,
		MaxIterations:   cfg.Agent.MaxIterations,
		InjectionAction: cfg.Agent.InjectionAction,
	})

	// 6. Tracing
	a.tracer = tracing.NewCollector()
	initOTelExporter(ctx, cfg, a.tracer)
	a.tracer.Start()

	// 7. Turn orchestrator
	a.turns, err = turn.New(turn.Options{
		Agent:       a.loop,
		Memory:      a.memory,
		History:     a.history,
		Builder:     turn.NewBuilder(cfg.History, cfg.Context),
		Tracer:      a.tracer,
		ActorPrefix: cfg.Memory.ActorPrefix,
	})
	if err != nil {
		return nil, err
	}
	a.sched = scheduler.New(scheduler.Config{
		MaxConcurrent: cfg.Server.MaxConcurrentTurns,
		QueueCap:      cfg.Server.SessionQueueCap,
		Drop:          scheduler.DropPolicy(cfg.Server.SessionQueueDrop),
	}, a.turns.Handle)

	slog.Info("querydesk ready",
		"provider", provider.Name(),
		"model", a.loop.Model(),
		"tools", a.tools.List(),
		"memory", a.memory.BackendName(),
		"history", cfg.History.Backend,
	)
	ok = true
	return a, nil
}

// buildTools registers the agent's tools. search_knowledge_base is added only
// when a knowledge base id is configured.
func buildTools(ctx context.Context, cfg *config.Config, exec *pg.Executor, mem *memory.Manager) (*tools.Registry, error) {
	reg := tools.NewRegistry()
	reg.SetRateLimiter(tools.NewToolRateLimiter(cfg.Agent.ToolRatePerHour))

	reg.Register(tools.NewDescribeSchemaTool(exec))
	reg.Register(tools.NewRunSQLQueryTool(exec))
	reg.Register(tools.NewEscalateTool(mem))

	clock, err := tools.NewCurrentTimeTool(cfg.Agent.Timezone)
	if err != nil {
		return nil, fmt.Errorf("agent.timezone: %w", err)
	}
	reg.Register(clock)

	if cfg.Knowledge.BaseID != "" {
		awsCfg, err := awsx.Load(ctx, cfg.AWS)
		if err != nil {
			return nil, fmt.Errorf("knowledge base: %w", err)
		}
		reg.Register(tools.NewSearchKnowledgeTool(knowledge.NewBedrockRetriever(awsCfg, cfg.Knowledge)))
	}
	return reg, nil
}

// applyConfig pushes hot-reloadable settings into the running components.
func (a *app) applyConfig(cfg *config.Config) {
	a.loop.Apply(cfg.Agent)
	a.tools.SetToolRate(cfg.Agent.ToolRatePerHour)
}

func (a *app) close() {
	if a.tools != nil {
		a.tools.Close()
	}
	if a.tracer != nil {
		a.tracer.Stop()
	}
	if a.memory != nil {
		if err := a.memory.Close(); err != nil {
			slog.Warn("memory close failed", "error", err)
		}
	}
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			slog.Warn("history close failed", "error", err)
		}
	}
	if a.db != nil {
		a.db.Close()
	}
}

// openExecutor opens only the database, for commands that need nothing else.
func openExecutor(cfg *config.Config) (*pg.Executor, func(), error) {
	db, err := pg.OpenDB(cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	return pg.NewExecutor(db, cfg.Database), func() { db.Close() }, nil
}

// openMemory opens only the memory manager.
func openMemory(ctx context.Context, cfg *config.Config) (*memory.Manager, error) {
	backend, err := memory.NewBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return memory.NewManager(backend, cfg.Memory), nil
}
