package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/soyeahso/helpdesk/internal/accounting"
	"github.com/soyeahso/helpdesk/internal/agent"
	"github.com/soyeahso/helpdesk/internal/cache"
	"github.com/soyeahso/helpdesk/internal/config"
	"github.com/soyeahso/helpdesk/internal/events"
	"github.com/soyeahso/helpdesk/internal/knowledge"
	"github.com/soyeahso/helpdesk/internal/llm"
	"github.com/soyeahso/helpdesk/internal/logging"
	"github.com/soyeahso/helpdesk/internal/store"
	"github.com/soyeahso/helpdesk/internal/storefront"
)

// loadConfig reads and validates the config file. The --log-level flag wins
// over the configured level.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(paths.Config)
	if err != nil {
		return cfg, err
	}
	if logLevel == "" {
		log = logging.NewWithOptions(logging.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	}
	if issues := config.Validate(&cfg); len(issues) > 0 {
		for _, issue := range issues {
			log.Error().Str("path", issue.Path).Msg(issue.Message)
		}
		return cfg, fmt.Errorf("config validation failed with %d issue(s)", len(issues))
	}
	return cfg, nil
}

// openDB opens the SQLite database, creating the data directory first.
func openDB(cfg config.Config) (*store.DB, error) {
	if err := paths.EnsureDirs(); err != nil {
		return nil, fmt.Errorf("creating data directories: %w", err)
	}
	dbPath := paths.DatabasePath(cfg.Storage)
	db, err := store.Open(dbPath, log)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	log.Debug().Str("path", dbPath).Msg("database open")
	return db, nil
}

// app holds the processing stack shared by serve, message send and kb seed.
type app struct {
	cfg          config.Config
	db           *store.DB
	interactions *store.InteractionStore
	escalations  *store.EscalationStore
	ledger       *accounting.Ledger
	registry     *llm.Registry
	embedder     knowledge.Embedder
	kbProvider   knowledge.Provider
	retriever    *knowledge.Retriever
	bus          *events.Bus
	orchestrator *agent.Orchestrator

	closers []func() error
}

func (a *app) onClose(fn func() error) { a.closers = append(a.closers, fn) }

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	// async event handlers may still be writing to the sinks closed below
	a.bus.Wait()
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// newEmbedder uses the OpenAI embedding model when a key is configured and
// the offline hash embedder otherwise. Seeding and querying must use the same
// one.
func newEmbedder(cfg config.Config) knowledge.Embedder {
	if p := cfg.Providers.OpenAI; p.APIKey != "" && cfg.Models.Embedding != "" {
		return llm.NewOpenAIEmbedder(p.APIKey, p.BaseURL, cfg.Models.Embedding, cfg.Models.EmbeddingDims)
	}
	log.Warn().Msg("no embedding provider configured, using offline hash embeddings")
	return knowledge.HashEmbedder{}
}

// newKnowledge opens the configured retrieval backend.
func (a *app) newKnowledge(ctx context.Context) error {
	a.embedder = newEmbedder(a.cfg)
	switch a.cfg.RAG.Backend {
	case "pgvector":
		pg, err := knowledge.NewPgvectorProvider(ctx, a.cfg.RAG.PostgresURL, a.cfg.RAG.Table)
		if err != nil {
			return err
		}
		a.onClose(func() error { pg.Close(); return nil })
		a.kbProvider = pg
	default:
		a.kbProvider = knowledge.NewSQLiteProvider(store.NewKnowledgeStore(a.db))
	}
	a.retriever = knowledge.NewRetriever(a.embedder, a.kbProvider, a.cfg.RAG.TopK, a.cfg.RAG.SimilarityThreshold, log)
	return nil
}

// newCache returns nil when caching is disabled.
func (a *app) newCache(ctx context.Context) (*cache.Cache, error) {
	if !a.cfg.Cache.Enabled {
		return nil, nil
	}
	var backend cache.Backend
	switch a.cfg.Cache.Backend {
	case "redis":
		client, err := cache.DialRedis(ctx, a.cfg.Cache.RedisAddr, a.cfg.Cache.RedisPassword, a.cfg.Cache.RedisDB)
		if err != nil {
			return nil, err
		}
		a.onClose(client.Close)
		backend = cache.NewRedisBackend(client, a.cfg.Cache.KeyPrefix)
	default:
		backend = store.NewCacheStore(a.db)
	}
	return cache.New(backend, a.cfg.Cache.TTL(), log), nil
}

func (a *app) newStorefront() (storefront.Provider, error) {
	mock, err := storefront.NewMockProvider(a.cfg.Storefront.OrdersFile)
	if err != nil {
		return nil, err
	}
	return storefront.NewRateLimited(mock, a.cfg.Storefront.RateLimit, a.cfg.Storefront.Burst), nil
}

// newBaseApp opens storage and the knowledge backend only.
func newBaseApp(ctx context.Context, cfg config.Config) (*app, error) {
	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	a := &app{
		cfg:          cfg,
		db:           db,
		interactions: store.NewInteractionStore(db),
		escalations:  store.NewEscalationStore(db),
		ledger:       accounting.NewLedger(store.NewSpendStore(db), cfg.Accounting.DailyBudgetUSD, log),
		registry:     llm.NewRegistryFromConfig(&cfg, log),
	}
	a.onClose(db.Close)
	if err := a.newKnowledge(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("opening knowledge base: %w", err)
	}
	return a, nil
}

// newApp wires the full processing stack.
func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	a, err := newBaseApp(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := a.wireOrchestrator(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wireOrchestrator(ctx context.Context) error {
	cfg := a.cfg
	if providers := a.registry.List(); len(providers) > 0 {
		log.Info().Strs("providers", providers).Msg("model providers available")
	} else {
		log.Warn().Msg("no model providers configured, model tiers will escalate")
	}

	a.bus = events.NewBus(log)
	if cfg.Events.Enabled && len(cfg.Events.Brokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.Events.Brokers, cfg.Events.InteractionTopic, cfg.Events.EscalationTopic, log)
		kp.Attach(a.bus)
		a.onClose(kp.Close)
		log.Info().Strs("brokers", cfg.Events.Brokers).Msg("publishing records to kafka")
	}

	shop, err := a.newStorefront()
	if err != nil {
		return fmt.Errorf("opening storefront: %w", err)
	}

	tools := agent.NewToolRegistry(cfg.Agent.ToolTimeout())
	agent.RegisterBuiltinTools(tools, a.retriever, shop, a.escalations)

	cm := cfg.Models.Classifier
	classifier := agent.NewClassifier(
		agent.NewFailoverClient(a.registry, llm.Ref(cm), cm.Fallbacks, log.With("tier", "classifier")),
		cm.MaxTokens, cm.Temperature, cfg.Agent.ClassifierTimeout(), log,
	)

	opts := agent.Options{
		Classifier:              classifier,
		Router:                  agent.NewRouter(cfg.Agent),
		Tools:                   tools,
		Models:                  agent.TierModelsFromConfig(a.registry, cfg.Models, log),
		Interactions:            a.interactions,
		Budget:                  a.ledger,
		Spend:                   a.ledger,
		Events:                  a.bus,
		Threshold:               cfg.RAG.SimilarityThreshold,
		EscalateBelowConfidence: cfg.Agent.EscalateBelowConfidence,
		ModelTimeout:            cfg.Agent.ModelTimeout(),
	}
	c, err := a.newCache(ctx)
	if err != nil {
		return fmt.Errorf("opening response cache: %w", err)
	}
	if c != nil {
		opts.Cache = c
	}

	a.orchestrator, err = agent.NewOrchestrator(opts, log)
	return err
}
