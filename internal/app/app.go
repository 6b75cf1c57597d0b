// Package app wires every component of the document pipeline from a Config.
// Construction and shutdown order are explicit; nothing here is global.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	eventadapter "github.com/d-kimanthi/multi-agent-document-processor/internal/adapters/events"
	"github.com/d-kimanthi/multi-agent-document-processor/internal/agents"
	"github.com/d-kimanthi/multi-agent-document-processor/internal/api"
	"github.com/d-kimanthi/multi-agent-document-processor/internal/bus"
	"github.com/d-kimanthi/multi-agent-document-processor/internal/config"
	"github.com/d-kimanthi/multi-agent-document-processor/internal/core/domain"
	"github.com/d-kimanthi/multi-agent-document-processor/internal/core/ports"
	"github.com/d-kimanthi/multi-agent-document-processor/internal/core/service"
	natsevents "github.com/d-kimanthi/multi-agent-document-processor/internal/events/nats"
	"github.com/d-kimanthi/multi-agent-document-processor/internal/index"
	"github.com/d-kimanthi/multi-agent-document-processor/internal/nlp"
	"github.com/d-kimanthi/multi-agent-document-processor/internal/nlp/llm"
	"github.com/d-kimanthi/multi-agent-document-processor/internal/status"
	"github.com/d-kimanthi/multi-agent-document-processor/internal/store"
	"github.com/d-kimanthi/multi-agent-document-processor/internal/store/cache"
	redisstore "github.com/d-kimanthi/multi-agent-document-processor/internal/store/redis"
	"github.com/d-kimanthi/multi-agent-document-processor/internal/store/sqlite"
)

const OrchestratorID = "orchestrator"

type App struct {
	Config       *config.Config
	Logger       *slog.Logger
	Bus          *bus.Bus
	Registry     *agents.Registry
	Orchestrator *service.Orchestrator
	Status       *status.Service
	Index        *index.Index
	Extractor    *nlp.FileExtractor
	Store        store.SnapshotStore

	// nil when NATS is disabled
	Events *eventadapter.EventBusImpl
	tap    *eventadapter.Tap
	nats   *natsevents.NATSBus

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Build constructs the full runtime. Nothing runs until Start.
func Build(cfg *config.Config, logger *slog.Logger) (a *App, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	a = &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			a.Close()
			a = nil
		}
	}()

	if a.Store, err = openStore(cfg); err != nil {
		return a, err
	}

	if cfg.NATS.Enabled {
		if err = a.connectNATS(); err != nil {
			return a, err
		}
	}

	busCfg := bus.Config{HistorySize: cfg.Bus.HistorySize}
	if a.tap != nil {
		busCfg.Tap = a.tap
	}
	if a.Bus, err = bus.New(busCfg, logger); err != nil {
		return a, err
	}

	if a.Index, err = index.NewMemory(); err != nil {
		return a, err
	}

	completer, err := llm.New(llm.Config{
		Provider:  cfg.LLM.Provider,
		Model:     cfg.LLM.Model,
		APIKey:    cfg.LLM.APIKey,
		BaseURL:   cfg.LLM.BaseURL,
		MaxTokens: cfg.LLM.MaxTokens,
	})
	if err != nil {
		return a, err
	}

	a.Extractor = nlp.NewFileExtractor(cfg.NLP.MaxDocumentBytes, cfg.NLP.ChunkSize, cfg.NLP.ChunkOverlap)
	analyzer := nlp.NewHeuristicAnalyzer(cfg.NLP.Keywords, cfg.NLP.Topics)
	summarizer := nlp.NewSummarizer(completer)

	a.Registry = agents.NewRegistry(a.Bus, agents.Options{
		QueueCapacity:  cfg.Bus.QueueCapacity,
		HandlerTimeout: cfg.Agents.HandlerTimeout,
	}, logger)
	a.Registry.Register(domain.AgentCurator, func(string) (ports.Handler, error) {
		return agents.NewCurator(a.Extractor), nil
	})
	a.Registry.Register(domain.AgentAnalyzer, func(string) (ports.Handler, error) {
		return agents.NewAnalyzer(analyzer), nil
	})
	a.Registry.Register(domain.AgentSummarizer, func(string) (ports.Handler, error) {
		return agents.NewSummarizer(summarizer), nil
	})
	a.Registry.Register(domain.AgentQuery, func(string) (ports.Handler, error) {
		return agents.NewQuery(a.Index), nil
	})

	replicas := []struct {
		typ domain.AgentType
		n   int
	}{
		{domain.AgentCurator, cfg.Agents.Curator},
		{domain.AgentAnalyzer, cfg.Agents.Analyzer},
		{domain.AgentSummarizer, cfg.Agents.Summarizer},
		{domain.AgentQuery, cfg.Agents.Query},
	}
	for _, r := range replicas {
		if _, err = a.Registry.Spawn(r.typ, max(r.n, 1)); err != nil {
			return a, err
		}
	}

	a.Orchestrator = service.NewOrchestrator(OrchestratorID, a.Bus, a.Registry, a.Store, service.Config{
		MaxRetries:      cfg.Orchestrator.MaxRetries,
		StepTimeout:     cfg.Orchestrator.StepTimeout,
		RetryBackoff:    cfg.Orchestrator.RetryBackoff,
		RetryBackoffMax: cfg.Orchestrator.RetryBackoffMax,
	}, logger)
	if _, err = a.Registry.Add(OrchestratorID, domain.AgentOrchestrator, a.Orchestrator); err != nil {
		return a, err
	}

	a.Status = status.New(a.Registry, a.Orchestrator, a.Bus, a.Store)

	logger.Info("runtime built",
		"agents", len(a.Registry.All()),
		"store", cfg.Store.Driver,
		"nats", cfg.NATS.Enabled,
		"llm", cfg.LLM.Provider,
	)
	return a, nil
}

func openStore(cfg *config.Config) (store.SnapshotStore, error) {
	var inner store.SnapshotStore
	switch cfg.Store.Driver {
	case "redis":
		r, err := redisstore.New(redisstore.Config{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			DefaultTTL: cfg.Redis.TTL,
		})
		if err != nil {
			return nil, fmt.Errorf("redis store: %w", err)
		}
		inner = r
	case "sqlite":
		s, err := sqlite.Open(cfg.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("sqlite store: %w", err)
		}
		inner = s
	default:
		return nil, nil
	}

	if cfg.Store.CacheSize <= 0 {
		return inner, nil
	}
	cached, err := cache.New(inner, cfg.Store.CacheSize)
	if err != nil {
		_ = inner.Close()
		return nil, err
	}
	return cached, nil
}

func (a *App) connectNATS() error {
	cfg := a.Config.NATS
	nb, err := natsevents.New(natsevents.Config{
		URL:           cfg.URL,
		Name:          a.Config.App.NodeID,
		MaxReconnects: cfg.MaxReconnects,
	})
	if err != nil {
		return err
	}
	a.nats = nb
	if err := nb.SetupStreams(cfg.SubjectPrefix); err != nil {
		return fmt.Errorf("setup streams: %w", err)
	}

	a.Events = eventadapter.NewEventBus(nb, cfg.SubjectPrefix, a.Logger)
	mirror := make([]domain.MessageType, 0, len(cfg.Mirror))
	for _, t := range cfg.Mirror {
		mirror = append(mirror, domain.MessageType(t))
	}
	a.tap = eventadapter.NewTap(a.Events, eventadapter.DefaultTapBuffer).Only(mirror...)
	return nil
}

// Start runs every agent and the periodic status snapshots. The runtime stops
// with ctx or Close.
func (a *App) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)
	a.Registry.StartAll(ctx)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.Status.Run(ctx, a.Config.Store.SnapshotInterval, func(err error) {
			a.Logger.Warn("persist agent status", "error", err)
		})
	}()
}

// Handler is the HTTP API over this runtime.
func (a *App) Handler() http.Handler {
	return api.NewServer(api.Deps{
		Trigger:   a.Orchestrator,
		Status:    a.Status,
		Agents:    a.Registry,
		Validator: a.Extractor,
		Index:     a.Index,
		NodeID:    a.Config.App.NodeID,
	})
}

// ServeIngest pushes NATS ingest commands into the orchestrator.
func (a *App) ServeIngest() (func() error, error) {
	if a.Events == nil {
		return nil, errors.New("nats is disabled")
	}
	sub, err := a.Events.SubscribeIngest(a.Orchestrator.Trigger)
	if err != nil {
		return nil, err
	}
	return sub.Unsubscribe, nil
}

// ConsumeIngest pulls NATS ingest commands until ctx is done.
func (a *App) ConsumeIngest(ctx context.Context) error {
	if a.Events == nil {
		return errors.New("nats is disabled")
	}
	_, commands := natsevents.StreamNames(a.Config.NATS.SubjectPrefix)
	return a.Events.ConsumeIngest(ctx, commands, a.Config.NATS.Durable, max(a.Config.NATS.Batch, 1), a.Orchestrator.Trigger)
}

// Close stops agents, flushes the tap and closes every external connection.
func (a *App) Close() error {
	var errs []error
	a.closeOnce.Do(func() {
		if a.cancel != nil {
			a.cancel()
		}
		if a.Registry != nil {
			a.Registry.StopAll()
		}
		if a.Orchestrator != nil {
			a.Orchestrator.Close()
		}
		a.wg.Wait()

		if a.Status != nil && a.Store != nil {
			if err := a.Status.Persist(context.Background()); err != nil {
				errs = append(errs, err)
			}
		}
		if a.tap != nil {
			a.tap.Close()
			if n := a.tap.Dropped(); n > 0 {
				a.Logger.Warn("tap dropped messages", "count", n)
			}
		}
		if a.nats != nil {
			errs = append(errs, a.nats.Close())
		}
		if a.Index != nil {
			errs = append(errs, a.Index.Close())
		}
		if a.Store != nil {
			errs = append(errs, a.Store.Close())
		}
	})
	return errors.Join(errs...)
}
