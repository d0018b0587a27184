// Command orchestrator runs the LLM research orchestrator: it loads
// configuration, wires every component (store, embedder, provider
// adapters, router, index, cache, research pipeline, job engine), and
// serves the Control Protocol over HTTP (default) or line-delimited
// stdio, plus a read-only admin gRPC surface.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/corvid-labs/orchestrator/pkg/adminrpc"
	"github.com/corvid-labs/orchestrator/pkg/cache"
	"github.com/corvid-labs/orchestrator/pkg/config"
	"github.com/corvid-labs/orchestrator/pkg/controlproto"
	"github.com/corvid-labs/orchestrator/pkg/controlproto/httptransport"
	"github.com/corvid-labs/orchestrator/pkg/controlproto/stdiotransport"
	"github.com/corvid-labs/orchestrator/pkg/embedding"
	"github.com/corvid-labs/orchestrator/pkg/events"
	"github.com/corvid-labs/orchestrator/pkg/index"
	"github.com/corvid-labs/orchestrator/pkg/provider"
	"github.com/corvid-labs/orchestrator/pkg/provider/anthropic"
	"github.com/corvid-labs/orchestrator/pkg/provider/bedrock"
	"github.com/corvid-labs/orchestrator/pkg/provider/openai"
	"github.com/corvid-labs/orchestrator/pkg/queue"
	"github.com/corvid-labs/orchestrator/pkg/research"
	"github.com/corvid-labs/orchestrator/pkg/router"
	"github.com/corvid-labs/orchestrator/pkg/store"
)

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func main() {
	configPath := flag.String("config", getEnv("CONFIG_PATH", "./deploy/config/config.yaml"), "Path to configuration file")
	envPath := flag.String("env-file", getEnv("ENV_FILE", "./deploy/config/.env"), "Path to .env file")
	transportFlag := flag.String("transport", getEnv("TRANSPORT", "http"), "Control Protocol transport: http or stdio")
	podID := flag.String("pod-id", getEnv("POD_ID", ""), "Stable identity for job-claim logging and worker-pool health reports")
	flag.Parse()

	if err := godotenv.Load(*envPath); err != nil {
		log.Printf("warning: could not load %s: %v", *envPath, err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *podID == "" {
		hostname, _ := os.Hostname()
		*podID = fmt.Sprintf("orchestrator-%s-%d", hostname, os.Getpid())
	}

	// 1. Persistence.
	s := store.New(cfg.Store, logger)
	if err := s.WaitForInit(ctx); err != nil {
		log.Fatalf("store initialization failed: %v", err)
	}
	logger.Info("store ready", "in_memory", s.IsInMemory())

	// 2. Embedder.
	embed := buildEmbedder(cfg.Embedder, logger)

	// 3. Provider adapters + router dispatcher.
	clients := buildProviderClients(ctx, cfg.Providers, logger)
	routerTable := router.New(cfg.Router)
	dispatcher := router.NewDispatcher(routerTable, clients, cfg.Providers)

	classifyModel, ok := routerTable.GetModel(router.CostVeryLow, 0, "classification", router.ComplexitySimple)
	if !ok {
		log.Fatalf("router catalog has no models configured for classification/planning")
	}
	synthesisModel, ok := routerTable.GetModel(router.CostHigh, 0, "", router.ComplexityNormal)
	if !ok {
		synthesisModel = classifyModel
	}

	// 4. Hybrid index and semantic cache.
	var idx *index.Index
	if cfg.Index.Enabled {
		var rerank provider.Client
		if cfg.Index.RerankEnabled {
			rerank = clients["anthropic"]
		}
		idx = index.New(s, embed, cfg.Index, cfg.Store.BM25K1, cfg.Store.BM25B, logger, rerank)
	}
	semanticCache := cache.New(cfg.Cache, embed)

	// 5. Research pipeline stages.
	classifier := research.NewClassifier(dispatcher.Complete, classifyModel)
	planning := research.NewPlanningStage(dispatcher.Complete, classifyModel)
	budget := research.NewTokenBudget(cfg.Pipeline)
	researchStage := research.NewResearchStage(dispatcher.Complete, routerTable, cfg.Pipeline.Parallelism, budget)
	synthesis := research.NewSynthesisStage(dispatcher.Stream, synthesisModel, budget)
	pipeline := research.NewPipeline(s, embed, semanticCache, idx, classifier, planning, researchStage, synthesis, cfg.Pipeline, cfg.Index)

	// 6. Async job engine, bound to the pipeline via a thin JobRunner adapter.
	runner := pipelineJobRunner{pipeline: pipeline}
	engine := queue.NewEngine(s, *podID, cfg.Queue, runner, logger)
	engine.Pool().Start(ctx)
	defer engine.Pool().Stop()

	// 7. Control Protocol: tool surface + recursion-guarded dispatcher.
	surface := controlproto.New(s, embed, idx, pipeline, engine, routerTable, cfg.Pipeline, logger)
	cpDispatcher := controlproto.NewDispatcher(surface, cfg.ControlProto)

	// 8. Admin RPC (gRPC health/status), always on regardless of the
	// primary transport choice.
	var pool *pgxpool.Pool
	if !s.IsInMemory() {
		pool = buildEventsPool(ctx, cfg.Store, logger)
		if pool != nil {
			defer pool.Close()
		}
	}
	adminSrv := adminrpc.New(s, engine.Pool(), logger)
	go func() {
		if err := adminSrv.Start(ctx, getEnv("ADMIN_RPC_ADDR", ":9090"), 0); err != nil {
			logger.Error("admin rpc server stopped", "error", err)
		}
	}()

	// 9. Primary transport.
	switch *transportFlag {
	case "stdio":
		logger.Info("serving Control Protocol over stdio")
		stdioSrv := stdiotransport.New(cpDispatcher, logger)
		if err := stdioSrv.Run(ctx, os.Stdin, os.Stdout); err != nil {
			log.Fatalf("stdio transport exited: %v", err)
		}
	default:
		addr := getEnv("HTTP_ADDR", cfg.ControlProto.HTTPAddr)
		if addr == "" {
			addr = ":8080"
		}
		logger.Info("serving Control Protocol over HTTP", "addr", addr)
		httpSrv := httptransport.New(cpDispatcher, s, pool, cfg.ControlProto, logger)
		if err := httpSrv.Start(ctx, addr); err != nil {
			log.Fatalf("http transport exited: %v", err)
		}
	}

	logger.Info("shutdown complete")
}

// pipelineJobRunner adapts research.Pipeline.Run to queue.JobRunner so
// pkg/queue need not import pkg/research.
type pipelineJobRunner struct {
	pipeline *research.Pipeline
}

func (r pipelineJobRunner) Run(ctx context.Context, jobType string, params map[string]any, jobID string, onEvent queue.EventFunc) (map[string]any, error) {
	opts := research.Options{}
	if v, ok := params["query"].(string); ok {
		opts.Query = v
	}
	if v, ok := params["costPreference"].(string); ok {
		opts.CostPreference = router.CostPreference(v)
	}
	if v, ok := params["audienceLevel"].(string); ok {
		opts.AudienceLevel = research.AudienceLevel(v)
	}
	if v, ok := params["outputFormat"].(string); ok {
		opts.OutputFormat = research.OutputFormat(v)
	}
	if v, ok := params["includeSources"].(bool); ok {
		opts.IncludeSources = v
	}
	if v, ok := params["attachments"]; ok {
		opts.Attachments = research.AttachmentsFromParams(v)
	}

	result, err := r.pipeline.Run(ctx, opts, func(t events.Type, payload map[string]any) {
		if onEvent != nil {
			onEvent(string(t), payload)
		}
	})
	if err != nil {
		return nil, err
	}
	out := map[string]any{"finalReport": result.FinalReport, "fromCache": result.FromCache}
	if result.ReportID != nil {
		out["reportId"] = *result.ReportID
	}
	if result.Warning != "" {
		out["warning"] = result.Warning
	}
	return out, nil
}

func buildEmbedder(cfg config.EmbedderConfig, logger *slog.Logger) embedding.Embedder {
	apiKey := os.Getenv(cfg.APIKeyEnv)
	if apiKey == "" {
		logger.Warn("no embedder API key configured; falling back to Noop embedder", "env", cfg.APIKeyEnv)
		return embedding.NewNoop(cfg.Dimension)
	}
	embed, err := embedding.NewRemote(apiKey, cfg.Model, cfg.Dimension)
	if err != nil {
		logger.Warn("failed to build remote embedder; falling back to Noop", "error", err)
		return embedding.NewNoop(cfg.Dimension)
	}
	return embed
}

func buildProviderClients(ctx context.Context, cfg config.ProvidersConfig, logger *slog.Logger) map[string]provider.Client {
	clients := make(map[string]provider.Client)

	if cfg.Anthropic.Enabled {
		if apiKey := os.Getenv(cfg.Anthropic.APIKeyEnv); apiKey != "" {
			if c, err := anthropic.New(apiKey, ""); err == nil {
				clients["anthropic"] = c
			} else {
				logger.Warn("anthropic client disabled", "error", err)
			}
		}
	}
	if cfg.OpenAI.Enabled {
		if apiKey := os.Getenv(cfg.OpenAI.APIKeyEnv); apiKey != "" {
			if c, err := openai.New(apiKey, ""); err == nil {
				clients["openai"] = c
			} else {
				logger.Warn("openai client disabled", "error", err)
			}
		}
	}
	if cfg.Bedrock.Enabled {
		if c, err := bedrock.New(ctx, cfg.Bedrock.Region, ""); err == nil {
			clients["bedrock"] = c
		} else {
			logger.Warn("bedrock client disabled", "error", err)
		}
	}
	return clients
}

// buildEventsPool opens a dedicated pgx pool for LISTEN/NOTIFY, used by
// events.Broadcaster and skipped entirely when Store fell back to its
// in-memory mode (there is no Postgres to listen on).
func buildEventsPool(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) *pgxpool.Pool {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database, cfg.SSLMode)
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		logger.Warn("events broadcaster disabled: failed to open notify pool", "error", err)
		return nil
	}
	if err := pool.Ping(ctx); err != nil {
		logger.Warn("events broadcaster disabled: notify pool unreachable", "error", err)
		pool.Close()
		return nil
	}
	return pool
}
