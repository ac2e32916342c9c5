// Package main wires every task-execution component into one process: the
// Tool Registry and Description Cache, the Invocation Router, the Task
// Store, Step Decomposer and Executor, the Multi-Step Orchestrator, the
// Screenshot Pipeline, the Event Bus, the JSON-RPC and HTTP surfaces, the
// background sweepers, and the Evaluation Harness.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/browsecore/browseserver/internal/apperr"
	"github.com/browsecore/browseserver/internal/browserdriver"
	"github.com/browsecore/browseserver/internal/config"
	"github.com/browsecore/browseserver/internal/decomposer"
	"github.com/browsecore/browseserver/internal/evalharness"
	"github.com/browsecore/browseserver/internal/eventbus"
	"github.com/browsecore/browseserver/internal/executor"
	"github.com/browsecore/browseserver/internal/httpapi"
	"github.com/browsecore/browseserver/internal/llm"
	"github.com/browsecore/browseserver/internal/llm/anthropic"
	"github.com/browsecore/browseserver/internal/llm/openai"
	"github.com/browsecore/browseserver/internal/mcp"
	"github.com/browsecore/browseserver/internal/orchestrator"
	"github.com/browsecore/browseserver/internal/registry"
	"github.com/browsecore/browseserver/internal/router"
	"github.com/browsecore/browseserver/internal/rpcserver"
	"github.com/browsecore/browseserver/internal/screenshot"
	"github.com/browsecore/browseserver/internal/session"
	"github.com/browsecore/browseserver/internal/store"
	"github.com/browsecore/browseserver/internal/sweeper"
	"github.com/browsecore/browseserver/internal/telemetry"
	"github.com/browsecore/browseserver/internal/tool"
	"github.com/browsecore/browseserver/internal/tool/builtin"
)

const (
	serverName    = "browseserver"
	serverVersion = "0.1.0"
)

var (
	cfgFile string

	sessionTTL      = 30 * time.Minute
	sessionMaxTurns = 20
)

func main() {
	config.LoadEnv()

	root := &cobra.Command{
		Use:   serverName,
		Short: "Task execution core for an AI-agent web-automation MCP server",
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "path to an optional YAML config file")
	config.BindFlags(root.PersistentFlags())

	root.AddCommand(newServeCmd(), newMigrateCmd(), newEvalCmd())

	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}

func printBanner(settings *config.Settings) {
	bold := color.New(color.Bold, color.FgCyan).SprintFunc()
	dim := color.New(color.FgHiBlack).SprintFunc()
	fmt.Println(bold("╔══════════════════════════════════════════╗"))
	fmt.Println(bold("║") + "  browseserver — browse task execution core" + bold("║"))
	fmt.Println(bold("╚══════════════════════════════════════════╝"))
	fmt.Printf("  %s %s\n", dim("model:"), settings.CurrentModelID)
	fmt.Printf("  %s %s\n", dim("db:"), settings.DBPath)
	fmt.Printf("  %s %s\n", dim("http:"), settings.HTTPAddr)
	fmt.Printf("  %s %s\n", dim("screenshots:"), settings.ScreenshotsDir)
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the JSON-RPC and HTTP surfaces, the sweepers, and the evaluation promotion loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := config.Load(cfgFile, cmd.Flags())
			if err != nil {
				return err
			}
			return runServe(settings)
		},
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := config.Load(cfgFile, cmd.Flags())
			if err != nil {
				return err
			}
			db, err := store.Open(settings.DBPath)
			if err != nil {
				return err
			}
			defer store.Close(db)
			if err := store.Migrate(db); err != nil {
				return err
			}
			color.Green("✓ migrations applied against %s", settings.DBPath)
			return nil
		},
	}
}

func newEvalCmd() *cobra.Command {
	evalCmd := &cobra.Command{Use: "eval", Short: "Evaluation harness commands"}

	runCmd := &cobra.Command{
		Use:   "run [spec-id]",
		Short: "Run every registered evaluation spec, or a single spec-id, against a live catalog",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := config.Load(cfgFile, cmd.Flags())
			if err != nil {
				return err
			}
			var specID string
			if len(args) == 1 {
				specID = args[0]
			}
			return runEval(settings, specID)
		},
	}
	evalCmd.AddCommand(runCmd)
	return evalCmd
}

// deps bundles every long-lived component built by buildDeps, shared between
// the serve and eval-run entry points so both run against identical wiring.
type deps struct {
	settings  *config.Settings
	db        *sql.DB
	tasks     *store.TaskStore
	evals     *store.EvalStore
	bus       *eventbus.Bus
	catalog   *registry.Catalog
	rtr       *router.Router
	harness   *evalharness.Harness
	specs     *evalharness.SpecRegistry
	pipeline  *screenshot.Pipeline
	metrics   *telemetry.Metrics
	promReg   *prometheus.Registry
	sessions  *session.Store
	mcpMgr    *mcp.Manager
	shutdowns []func()
}

func buildDeps(settings *config.Settings) (*deps, error) {
	sqlDB, err := store.Open(settings.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	promReg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(promReg)

	tasks := store.NewTaskStore(sqlDB)
	evals := store.NewEvalStore(sqlDB)
	descStore := store.NewToolDescriptionStore(sqlDB)

	bus := eventbus.New()

	pipeline := screenshot.NewPipeline(settings.ScreenshotsDir, "")

	provider, providerName, err := buildLLMProvider(settings)
	if err != nil {
		return nil, err
	}
	log.Printf("[browseserver] LLM provider: %s", providerName)

	toolRegistry := tool.NewRegistry()

	sessions := session.NewStore(sessionTTL, sessionMaxTurns)

	sessionPool := browserdriver.NewSessionPool(settings.MaxConcurrentBrowserSessions, func(context.Context) (browserdriver.Driver, error) {
		return browserdriver.NewStubDriver(), nil
	})
	exec := executor.New(pipeline)
	dec := decomposer.New(llm.NewPlanCollaborator(provider), "https://www.google.com/search")

	toolRegistry.Register(builtin.NewWebReaderTool())
	toolRegistry.Register(builtin.NewTimeTool())
	if os.Getenv("TOOL_HTTP_ENABLED") != "false" {
		toolRegistry.Register(builtin.NewHTTPRequestTool(os.Getenv("TOOL_HTTP_ALLOW_INTERNAL") == "true"))
	}

	var mcpMgr *mcp.Manager
	if settings.MCPConfig != "" {
		if _, err := os.Stat(settings.MCPConfig); err == nil {
			mcpMgr = mcp.NewManager(settings.MCPConfig)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			connected, errs := mcpMgr.ConnectAll(ctx)
			cancel()
			for _, e := range errs {
				log.Printf("[browseserver] mcp connect error: %v", e)
			}
			log.Printf("[browseserver] mcp servers connected: %d", connected)
			if err := mcpMgr.RegisterTools(context.Background(), toolRegistry); err != nil {
				log.Printf("[browseserver] mcp tool registration error: %v", err)
			}
			toolRegistry.Register(mcp.NewReloadTool(mcpMgr, toolRegistry))
		}
	}

	// The tools prompt browseWebAndReturnText hands its decomposer is
	// generated once every other tool (including any MCP-supplied ones) has
	// registered, so it lists the rest of the catalog; browseWebAndReturnText
	// itself registers afterwards and is not in it.
	toolsPrompt := toolRegistry.GenerateToolsPrompt()
	browseTask := builtin.NewBrowseTaskTool(dec, exec, sessionPool, toolsPrompt).WithSessionHistory(sessions)
	toolRegistry.Register(browseTask)

	cache := registry.NewDescriptionCache(descStore).WithMetrics(metrics)
	generator := llm.NewDescriptionCollaborator(provider)
	catalog := registry.NewCatalog(toolRegistry, cache, generator, settings.CurrentModelID)
	if err := catalog.Initialize(context.Background()); err != nil {
		return nil, fmt.Errorf("initialize catalog: %w", err)
	}

	orc := orchestrator.New(tasks, bus, exec, dec, sessionPool, toolsPrompt).WithMetrics(metrics)
	rtr := router.New(catalog, tasks, bus, orc, settings.MaxConcurrentBrowserSessions).WithMetrics(metrics)

	harness := evalharness.New(rtr, tasks, evals)
	specFiles, specErrs := evalharness.LoadSpecsDir(settings.EvalSpecsDir)
	for _, e := range specErrs {
		log.Printf("[browseserver] eval spec load error: %v", e)
	}
	specs := evalharness.NewSpecRegistry(specFiles...)

	d := &deps{
		settings: settings,
		db:       sqlDB,
		tasks:    tasks,
		evals:    evals,
		bus:      bus,
		catalog:  catalog,
		rtr:      rtr,
		harness:  harness,
		specs:    specs,
		pipeline: pipeline,
		metrics:  metrics,
		promReg:  promReg,
		sessions: sessions,
		mcpMgr:   mcpMgr,
	}
	d.shutdowns = append(d.shutdowns, func() { sessions.Close() })
	if mcpMgr != nil {
		d.shutdowns = append(d.shutdowns, mcpMgr.CloseAll)
	}
	return d, nil
}

func buildLLMProvider(settings *config.Settings) (llm.LLMProvider, string, error) {
	switch settings.LLMProvider {
	case "anthropic":
		client, err := anthropic.NewClientFromEnv()
		if err != nil {
			return nil, "", fmt.Errorf("anthropic client: %w", err)
		}
		return client, "anthropic", nil
	default:
		client, err := openai.NewClientFromEnv()
		if err != nil {
			return nil, "", fmt.Errorf("openai client: %w", err)
		}
		return client, "openai", nil
	}
}

func runServe(settings *config.Settings) error {
	printBanner(settings)

	d, err := buildDeps(settings)
	if err != nil {
		return err
	}
	defer func() {
		for _, fn := range d.shutdowns {
			fn()
		}
		store.Close(d.db)
	}()

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(cors.Default())

	rpcserver.NewServer(d.catalog, d.rtr, rpcserver.ServerInfo{Name: serverName, Version: serverVersion}).Register(engine)
	httpapi.NewServer(d.tasks, d.bus, d.pipeline).Register(engine)
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.promReg, promhttp.HandlerOpts{})))

	httpSrv := &http.Server{
		Addr:    d.settings.HTTPAddr,
		Handler: engine,
	}

	scheduler := sweeper.NewScheduler()
	perStepTimeout := time.Duration(settings.PerStepTimeoutSeconds) * time.Second
	taskGrace := time.Duration(settings.TaskGraceSeconds) * time.Second
	retention := time.Duration(settings.ScreenshotRetentionHours) * time.Hour

	scheduler.AddJob(sweeper.NewTaskTimeoutJob(d.tasks, d.bus, perStepTimeout, taskGrace), perStepTimeout)
	scheduler.AddJob(sweeper.NewScreenshotGCJob(settings.ScreenshotsDir, retention), time.Hour)
	scheduler.AddJob(sweeper.NewTaskPruneJob(d.tasks, 7*24*time.Hour), time.Hour)
	scheduler.AddJob(sweeper.NewEvalPromotionJob(d.evals, d.harness, d.specs, 3), time.Minute)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	scheduler.Start(ctx)
	defer scheduler.Stop()

	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[browseserver] http server error: %v", err)
		}
	}()
	color.Green("✓ listening on %s", settings.HTTPAddr)

	<-ctx.Done()
	log.Println("[browseserver] shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

func runEval(settings *config.Settings, specID string) error {
	d, err := buildDeps(settings)
	if err != nil {
		return err
	}
	defer func() {
		for _, fn := range d.shutdowns {
			fn()
		}
		store.Close(d.db)
	}()

	ctx := context.Background()
	specsToRun := d.specs

	runOne := func(spec evalharness.EvaluationSpec) error {
		runID := evalharness.NewRunID()
		_, err := d.evals.CreateRun(ctx, store.EvalRun{RunID: runID, SpecID: spec.ID, ModelID: d.catalog.CurrentModelID()})
		if err == nil {
			err = d.evals.StartRun(ctx, runID)
		}
		if err != nil {
			color.Red("✗ %s: %v", spec.ID, err)
			return err
		}
		result, err := d.harness.Run(ctx, runID, spec)
		if err != nil {
			color.Red("✗ %s: %v", spec.ID, err)
			return err
		}
		color.Green("✓ %s: score=%.2f tasks=%d", spec.ID, result.AverageScore, len(result.Outcomes))
		return nil
	}

	if specID != "" {
		spec, ok := specsToRun.Get(specID)
		if !ok {
			return apperr.Newf(apperr.Internal, "no registered evaluation spec %q", specID)
		}
		return runOne(spec)
	}

	for _, spec := range allSpecs(settings.EvalSpecsDir) {
		if err := runOne(spec); err != nil {
			return err
		}
	}
	return nil
}

func allSpecs(dir string) []evalharness.EvaluationSpec {
	specs, errs := evalharness.LoadSpecsDir(dir)
	for _, e := range errs {
		log.Printf("[browseserver] eval spec load error: %v", e)
	}
	return specs
}
