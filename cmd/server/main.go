// Command server runs the askdb HTTP service: the agent, its tools, and the
// query endpoint.
package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/askdb-ai/askdb"
	"github.com/askdb-ai/askdb/internal/cache"
	"github.com/askdb-ai/askdb/internal/config"
	"github.com/askdb-ai/askdb/internal/eventbus"
	"github.com/askdb-ai/askdb/internal/httpapi"
	"github.com/askdb-ai/askdb/internal/logger"
	"github.com/askdb-ai/askdb/internal/meili"
	"github.com/askdb-ai/askdb/internal/metrics"
	"github.com/askdb-ai/askdb/internal/planner"
	"github.com/askdb-ai/askdb/internal/tools"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to the YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		log.Fatal(err)
	}
}

func run(configPath string) error {
	ctx := context.Background()
	appLog := logger.New("server")

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	g, err := genkit.Init(ctx,
		genkit.WithPlugins(&googlegenai.GoogleAI{}),
		genkit.WithDefaultModel(cfg.Model.Name),
	)
	if err != nil {
		return err
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		return err
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
	if err := db.PingContext(ctx); err != nil {
		return err
	}

	searchClient := meili.NewClient(meili.Config{
		Host:    cfg.Meilisearch.Host,
		APIKey:  cfg.Meilisearch.APIKey,
		Timeout: cfg.Meilisearch.Timeout,
	})
	if err := searchClient.Health(ctx); err != nil {
		// Search degrades gracefully at request time; report and keep going.
		appLog.Warn("", "meilisearch unavailable at startup", map[string]interface{}{"error": err.Error()})
	}

	registry := askdb.NewRegistry()
	if err := tools.Register(registry, tools.Dependencies{
		DB:           db,
		Meili:        searchClient,
		ChartDir:     cfg.Charts.Dir,
		ChartBaseURL: cfg.Charts.BaseURL,
		Logger:       logger.New("tools"),
	}); err != nil {
		return err
	}

	agentCfg := askdb.DefaultConfig()
	agentCfg.MaxRounds = cfg.Agent.MaxRounds
	agentCfg.MaxPlannerRetries = cfg.Agent.MaxPlannerRetries
	agentCfg.MaxConcurrentDispatch = cfg.Agent.MaxConcurrentDispatch
	agentCfg.PlannerTimeout = cfg.Agent.PlannerTimeout
	agentCfg.ToolTimeout = cfg.Agent.ToolTimeout
	agentCfg.EnableAnswerCache = cfg.Cache.Enabled

	opts := []askdb.Option{
		askdb.WithConfig(agentCfg),
		askdb.WithDecider(planner.NewGenkitDecider(g, cfg.Model.Name, logger.New("planner"))),
		askdb.WithRegistry(registry),
	}
	if cfg.Cache.Enabled {
		switch cfg.Cache.Kind {
		case "file":
			opts = append(opts, askdb.WithCache(cache.NewFilePersistentCache(cfg.Cache.TTL, cfg.Cache.Path)))
		default:
			memCache := cache.NewInMemoryCache(cfg.Cache.TTL)
			defer memCache.Close()
			opts = append(opts, askdb.WithCache(memCache))
		}
	}

	agent, err := askdb.New(ctx, opts...)
	if err != nil {
		return err
	}
	defer agent.Close()

	if bus := agent.EventBus(); bus != nil {
		collector := metrics.NewCollector(prometheus.DefaultRegisterer)
		if err := collector.Attach(bus); err != nil {
			return err
		}
		attachEventLogger(bus, logger.New("events"))
	}

	server := httpapi.NewServer(agent, httpapi.Config{
		Addr:           cfg.Server.Addr,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		ChartsDir:      cfg.Charts.Dir,
	}, appLog, map[string]httpapi.HealthProbe{
		"database":    db.PingContext,
		"meilisearch": searchClient.Health,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		appLog.Info("", "shutting down", map[string]interface{}{"signal": sig.String()})
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// attachEventLogger mirrors planner and dispatch failures into the log.
func attachEventLogger(bus eventbus.Bus, log *logger.Logger) {
	_, _ = bus.Subscribe([]eventbus.EventType{
		eventbus.EventPlanningFailure,
		eventbus.EventToolInvocationFailure,
		eventbus.EventRoundBudgetExhausted,
		eventbus.EventRequestFailure,
	}, func(_ context.Context, event eventbus.Event) error {
		requestID, _ := event.Metadata()["request_id"].(string)
		log.Warn(requestID, string(event.Type()), event.Metadata())
		return nil
	})
}
