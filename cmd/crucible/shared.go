package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/crucible-ai/crucible/internal/agent"
	"github.com/crucible-ai/crucible/internal/config"
	"github.com/crucible-ai/crucible/internal/guardrails"
	"github.com/crucible-ai/crucible/internal/llm"
	"github.com/crucible-ai/crucible/internal/llm/anthropic"
	"github.com/crucible-ai/crucible/internal/llm/openai"
	"github.com/crucible-ai/crucible/internal/observability"
	"github.com/crucible-ai/crucible/internal/runtime"
	"github.com/crucible-ai/crucible/internal/sandbox"
	"github.com/crucible-ai/crucible/internal/storage"
	pgstore "github.com/crucible-ai/crucible/internal/storage/postgres"
	sqlitestore "github.com/crucible-ai/crucible/internal/storage/sqlite"
	"github.com/crucible-ai/crucible/internal/tools"
	"github.com/crucible-ai/crucible/internal/tools/git"
	"github.com/crucible-ai/crucible/internal/tools/project"
	"github.com/crucible-ai/crucible/internal/tools/sandboxexec"
	"github.com/crucible-ai/crucible/internal/tools/terminal"
	"github.com/crucible-ai/crucible/internal/workspace"
)

// SharedComponents holds all initialized subsystems that both serve and
// run modes require. Built once by initShared, torn down by Cleanup.
type SharedComponents struct {
	Config    *config.Config
	Logger    *slog.Logger
	Workspace *workspace.Workspace
	Store     storage.Store

	Obs        *observability.Observability
	Provider   llm.Provider
	Sandbox    *sandbox.Manager
	Registry   *tools.Registry
	Guardrails *guardrails.Middleware
	Totals     *llm.Totals
	Loop       *agent.Loop

	cleanups []func()
}

// Cleanup runs all deferred cleanup functions in reverse order.
func (sc *SharedComponents) Cleanup() {
	for i := len(sc.cleanups) - 1; i >= 0; i-- {
		sc.cleanups[i]()
	}
}

func (sc *SharedComponents) addCleanup(fn func()) {
	sc.cleanups = append(sc.cleanups, fn)
}

// initShared performs all common initialization shared between serve
// and run modes. Callers must call sc.Cleanup() when done.
func initShared(cfg *config.Config, logger *slog.Logger) (*SharedComponents, error) {
	sc := &SharedComponents{
		Config: cfg,
		Logger: logger,
	}

	// Workspace.
	ws, err := initWorkspace(cfg)
	if err != nil {
		return nil, fmt.Errorf("initializing workspace: %w", err)
	}
	if err := ws.EnsureAll(); err != nil {
		return nil, fmt.Errorf("preparing workspace directories: %w", err)
	}
	sc.Workspace = ws
	logger.Debug("workspace initialized", slog.String("root", ws.Root))

	// Observability.
	obs, err := observability.New(cfg.Observability, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing observability: %w", err)
	}
	sc.Obs = obs
	sc.addCleanup(func() {
		if obs != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			obs.Shutdown(shutdownCtx)
		}
	})
	recorders := observability.NewRecorders(obs)

	// LLM provider.
	provider, err := newLLMProvider(cfg, logger)
	if err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("initializing LLM provider: %w", err)
	}
	logger.Debug("llm provider initialized", slog.String("provider", provider.Name()))

	if obs != nil && obs.Metrics != nil {
		provider = observability.NewInstrumentedProvider(
			provider, obs.Metrics, obs.TracerOrNil(), obs.AnomalyOrNil(),
		)
	}
	sc.Provider = provider

	// Storage.
	store, err := initStore(cfg, ws, logger)
	if err != nil {
		sc.Cleanup()
		return nil, fmt.Errorf("initializing storage: %w", err)
	}
	sc.Store = store
	sc.addCleanup(func() {
		if err := store.Close(); err != nil {
			logger.Error("closing store", slog.String("error", err.Error()))
		}
	})
	logger.Debug("storage initialized", slog.String("driver", store.Driver()))

	// Sandbox manager over the Docker engine.
	dockerClient := runtime.NewDockerClient(logger)
	manager := sandbox.NewManager(dockerClient, sandbox.Config{
		StagingRoot:    ws.StagingDir(),
		DefaultTimeout: cfg.Sandbox.Timeout(),
		MemoryMB:       cfg.Sandbox.MemoryMB(),
		CPUCores:       cfg.Sandbox.Cores(),
		PIDsLimit:      cfg.Sandbox.PIDs(),
	}, logger, sandbox.WithRecorder(recorders))
	sc.Sandbox = manager
	logger.Debug("sandbox manager initialized",
		slog.Duration("timeout", cfg.Sandbox.Timeout()),
		slog.Int("max_memory_mb", cfg.Sandbox.MemoryMB()),
	)

	// Generator tools operate on the project directory.
	projectRoot := cfg.ResolvedProjectRoot()
	projectCfg := project.Config{Root: projectRoot}
	procSandbox := sandbox.NewProcessSandbox(cfg.Sandbox.ShellTimeout(), logger)

	genReg := tools.NewRegistry()
	genReg.Register(project.NewContextTool(projectCfg, logger))
	genReg.Register(project.NewListDirTool(projectCfg, logger))
	genReg.Register(project.NewReadFileTool(projectCfg, logger))
	genReg.Register(project.NewWriteFileTool(projectCfg, logger))
	genReg.Register(project.NewSearchTool(projectCfg, logger))
	genReg.Register(project.NewReplaceTool(projectCfg, logger))
	genReg.Register(git.NewOperationsTool(projectRoot, procSandbox, logger))
	genReg.Register(terminal.NewRunCommandTool(projectRoot, procSandbox, logger))

	// Executor tools run inside the Docker sandbox.
	execReg := tools.NewRegistry()
	execReg.Register(sandboxexec.NewPythonTool(manager, logger))
	execReg.Register(sandboxexec.NewJavaScriptTool(manager, logger))
	execReg.Register(sandboxexec.NewJavaTool(manager, logger))
	execReg.Register(sandboxexec.NewShellTool(manager, logger))
	execReg.Register(sandboxexec.NewTestTool(manager, logger))
	execReg.Register(sandboxexec.NewStatusTool(manager, logger))

	// The dispatcher sees every tool; the role split happens through
	// the definitions offered on each turn.
	allReg := tools.NewRegistry()
	for _, t := range genReg.All() {
		allReg.Register(t)
	}
	for _, t := range execReg.All() {
		allReg.Register(t)
	}
	sc.Registry = allReg
	logger.Debug("tools registered", slog.Any("tools", allReg.List()))

	dispatcher := tools.NewDispatcher(allReg, logger, tools.WithRecorder(recorders))

	// Guardrails.
	sc.Guardrails = guardrails.New(guardrails.Config{
		ValidateInput:  !cfg.Guardrails.DisableInputValidation,
		SanitizeOutput: !cfg.Guardrails.DisableOutputSanitization,
		DetectPII:      !cfg.Guardrails.DisablePIIDetection,
	})

	// Health checks.
	if obs != nil && obs.Health != nil && cfg.Observability != nil && cfg.Observability.Health != nil {
		if cfg.Observability.Health.IncludeDB {
			obs.Health.AddCheck("database", store.Ping)
		}
		if cfg.Observability.Health.IncludeSandbox {
			obs.Health.AddCheck("sandbox", func(ctx context.Context) error {
				if !manager.Available(ctx) {
					return fmt.Errorf("docker engine unavailable")
				}
				return nil
			})
		}
	}

	// Orchestration loop.
	sc.Totals = &llm.Totals{}
	sc.Loop = agent.NewLoop(provider, dispatcher, logger).
		WithGeneratorTools(tools.ToLLMDefinitions(genReg)).
		WithExecutorTools(tools.ToLLMDefinitions(execReg)).
		WithMaxIterations(cfg.Agent.Iterations()).
		WithTotals(sc.Totals).
		WithRecorder(recorders).
		WithStore(store)

	return sc, nil
}

// initWorkspace creates and returns the workspace, resolving the root
// from config or defaults.
func initWorkspace(cfg *config.Config) (*workspace.Workspace, error) {
	if cfg.Workspace == "" {
		return workspace.Default()
	}
	return workspace.New(cfg.Workspace)
}

// initStore creates the appropriate storage backend from config.
func initStore(cfg *config.Config, ws *workspace.Workspace, logger *slog.Logger) (storage.Store, error) {
	switch driver := cfg.StorageDriverName(); driver {
	case storage.DriverPostgres:
		return initPostgresStore(cfg, logger)
	case storage.DriverSQLite:
		return initSQLiteStore(cfg, ws, logger)
	case storage.DriverMemory:
		return storage.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver: %q", driver)
	}
}

func initSQLiteStore(cfg *config.Config, ws *workspace.Workspace, logger *slog.Logger) (storage.Store, error) {
	dbPath := ws.DatabasePath()
	if cfg.Storage != nil && cfg.Storage.SQLite != nil && cfg.Storage.SQLite.Path != "" {
		dbPath = cfg.Storage.SQLite.Path
	}
	return sqlitestore.Open(sqlitestore.Config{Path: dbPath}, logger)
}

func initPostgresStore(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	if cfg.Storage == nil || cfg.Storage.Postgres == nil || cfg.Storage.Postgres.DSN == "" {
		return nil, fmt.Errorf("postgres DSN is required (set storage.postgres.dsn or CRUCIBLE_DB_DSN)")
	}
	pg := cfg.Storage.Postgres
	return pgstore.Open(pgstore.Config{
		DSN:             pg.DSN,
		MaxOpenConns:    pg.MaxOpenConns,
		MaxIdleConns:    pg.MaxIdleConns,
		ConnMaxLifetime: time.Duration(pg.ConnMaxLifetimeS) * time.Second,
	}, logger)
}

// newLLMProvider creates the LLM provider based on the configured default.
func newLLMProvider(cfg *config.Config, logger *slog.Logger) (llm.Provider, error) {
	switch name := cfg.Providers.Default; name {
	case "openai", "":
		var opts []openai.Option
		if cfg.Providers.OpenAI.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.Providers.OpenAI.BaseURL))
		}
		return openai.NewClient(
			cfg.Providers.OpenAI.APIKey,
			cfg.Providers.OpenAI.Model,
			logger,
			opts...,
		), nil
	case "anthropic":
		return anthropic.NewClient(
			cfg.Providers.Anthropic.APIKey,
			cfg.Providers.Anthropic.Model,
			logger,
		), nil
	case "ollama":
		baseURL := cfg.Providers.Ollama.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		return openai.NewClient(
			"",
			cfg.Providers.Ollama.Model,
			logger,
			openai.WithBaseURL(baseURL),
			openai.WithName("ollama"),
		), nil
	default:
		return nil, fmt.Errorf("unknown provider: %q", name)
	}
}
