// Package service wires the adapters into the domain and implements the
// dependencies required by the HTTP API and the CLI.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/okian/revroute/internal/adapters/eventlog"
	"github.com/okian/revroute/internal/adapters/kv"
	"github.com/okian/revroute/internal/adapters/llm"
	"github.com/okian/revroute/internal/adapters/mq/worker"
	"github.com/okian/revroute/internal/adapters/prompts"
	"github.com/okian/revroute/internal/adapters/registrystore"
	"github.com/okian/revroute/internal/adapters/repository"
	"github.com/okian/revroute/internal/adapters/semcache"
	"github.com/okian/revroute/internal/config"
	"github.com/okian/revroute/internal/domain/champion"
	"github.com/okian/revroute/internal/domain/eval"
	"github.com/okian/revroute/internal/domain/features"
	"github.com/okian/revroute/internal/domain/history"
	"github.com/okian/revroute/internal/domain/model"
	"github.com/okian/revroute/internal/domain/operators"
	"github.com/okian/revroute/internal/domain/router"
	"github.com/okian/revroute/pkg/logger"
	"github.com/okian/revroute/pkg/metrics"
)

// ErrNotStarted is returned by every call made before Start.
var ErrNotStarted = errors.New("service not started")

// Service owns the registries, stores and caches of one process.
type Service struct {
	mu sync.RWMutex

	cfg *config.Config

	// Injected or built on Start.
	events    history.Source
	generator operators.Generator
	prompts   operators.PromptStore

	feats     *features.Registry
	ops       *operators.Registry
	champions champion.Store
	router    *router.Router
	runs      eval.RunStore
	cache     *semcache.Cache
	rerank    *operators.LLMRerank
	harness   *eval.Harness

	closers []io.Closer
	started bool

	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithEvents replaces the event stream read from history_path.
func WithEvents(src history.Source) Option {
	return func(s *Service) {
		s.events = src
	}
}

// WithGenerator replaces the OpenAI client used when the LLM is enabled.
func WithGenerator(g operators.Generator) Option {
	return func(s *Service) {
		s.generator = g
	}
}

// WithPromptStore replaces the prompt directory.
func WithPromptStore(p operators.PromptStore) Option {
	return func(s *Service) {
		s.prompts = p
	}
}

// New constructs a Service for cfg. Nothing is opened until Start.
func New(cfg *config.Config, opts ...Option) *Service {
	if cfg == nil {
		cfg = config.New()
	}
	s := &Service{cfg: cfg}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start opens stores and builds the registries, router and harness.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get()
	}
	s.logger.Info(ctx, "starting revroute service...")

	if err := s.open(ctx); err != nil {
		s.closeAll(ctx)
		return err
	}
	s.started = true
	s.logger.Info(ctx, "revroute service started",
		logger.String("task", s.cfg.DefaultTask),
		logger.Strings("operators", idStrings(s.ops.IDs(operators.TaskID(s.cfg.DefaultTask)))),
		logger.String("cache", s.cfg.CacheBackend),
		logger.String("run_store", s.cfg.RunStore),
		logger.Bool("llm", s.rerank != nil),
	)
	return nil
}

func (s *Service) open(ctx context.Context) error {
	cfg := s.cfg
	task := operators.TaskID(cfg.DefaultTask)

	if s.events == nil {
		if cfg.HistoryPath != "" {
			src, err := eventlog.Load(ctx, cfg.HistoryPath)
			if err != nil {
				return fmt.Errorf("load history: %w", err)
			}
			s.logger.Info(ctx, "history loaded", logger.String("path", cfg.HistoryPath), logger.Int("events", src.Len()))
			s.events = src
		} else {
			s.logger.Warn(ctx, "no history_path configured; starting with an empty event stream")
			s.events = history.NewMemorySource()
		}
	}

	s.feats = features.NewRegistry()
	if err := features.RegisterBuiltins(s.feats); err != nil {
		return err
	}

	backend, err := semcache.OpenBackend(cfg.CacheBackend, cfg.CacheDir, func(dir string) (*badger.DB, error) {
		return kv.Open(kv.Config{Path: dir, SyncWrites: true, Logger: s.logger.Named("badger")})
	})
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}
	s.cache = semcache.New(backend, semcache.WithLogger(s.logger.Named("semcache")))
	s.closers = append(s.closers, s.cache)

	if cfg.LLMEnabled {
		gen := s.generator
		if gen == nil {
			client, err := llm.New(cfg.LLMAPIKey,
				llm.WithBaseURL(cfg.LLMBaseURL),
				llm.WithMaxRetries(cfg.LLMMaxRetries),
				llm.WithLogger(s.logger.Named("llm")))
			if err != nil {
				return err
			}
			gen = client
		}
		ps := s.prompts
		if ps == nil {
			ps = prompts.New(cfg.PromptsDir)
		}
		s.rerank = operators.NewLLMRerank(
			llm.NewReplaying(gen, semcache.NewReplay(backend),
				llm.WithAccept(operators.CheckRerankReply),
				llm.WithReplayLogger(s.logger.Named("llm.replay"))),
			ps, s.cache,
			operators.LLMConfig{
				Model:         cfg.LLMModel,
				PromptID:      cfg.PromptID,
				PromptVersion: cfg.PromptVersion,
				Temperature:   cfg.LLMTemperature,
				MaxTokens:     cfg.LLMMaxTokens,
				Timeout:       cfg.OperatorTimeout(),
				BestEffort:    cfg.LLMBestEffort,
			})
	}

	s.ops = operators.NewRegistry()
	if err := operators.RegisterBuiltins(s.ops, task, s.rerank); err != nil {
		return err
	}

	if cfg.RegistryPath != "" {
		st, err := registrystore.Open(cfg.RegistryPath, registrystore.WithLogger(s.logger.Named("registry")))
		if err != nil {
			return fmt.Errorf("open registry: %w", err)
		}
		s.champions = st
	} else {
		s.champions = champion.NewMemoryStore()
	}
	s.closers = append(s.closers, s.champions)

	norm, err := router.ParseNormalization(cfg.Normalization)
	if err != nil {
		return err
	}
	weights := make(map[operators.ID]float64, len(cfg.OperatorWeights))
	for id, w := range cfg.OperatorWeights {
		weights[operators.ID(id)] = w
	}
	params := features.Params{HalfLifeDays: cfg.HalfLifeDays, NeighborCount: cfg.NeighborCount}
	s.router = router.New(s.ops, s.feats, s.events,
		router.WithChampions(s.champions),
		router.WithFeatureParams(params),
		router.WithConcurrency(cfg.OperatorConcurrency),
		router.WithOperatorTimeout(cfg.OperatorTimeout()),
		router.WithNormalization(norm),
		router.WithWeights(weights),
		router.WithLogger(s.logger.Named("router")),
	)

	switch cfg.RunStore {
	case "badger":
		db, err := kv.Open(kv.Config{Path: cfg.RunStorePath, SyncWrites: true, Logger: s.logger.Named("badger")})
		if err != nil {
			return fmt.Errorf("open run store: %w", err)
		}
		s.runs = repository.NewBadgerStore(db, repository.WithOwnedDB(), repository.WithLogger(s.logger.Named("runs")))
	default:
		s.runs = repository.NewMemoryStore(repository.WithLogger(s.logger.Named("runs")))
	}
	s.closers = append(s.closers, s.runs)

	hopts := []eval.Option{
		eval.WithChampions(s.champions),
		eval.WithHorizonMargin(cfg.HorizonMargin()),
		eval.WithLogger(s.logger.Named("eval")),
	}
	if s.rerank != nil {
		hopts = append(hopts, eval.WithReranker(s.rerank))
	}
	s.harness = eval.NewHarness(s.router, s.events, s.runs,
		worker.Batch{Workers: cfg.EvalWorkers, Logger: s.logger.Named("eval.worker")},
		hopts...)
	return nil
}

// Stop closes every store in reverse opening order.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	ctx := context.Background()
	s.logger.Info(ctx, "stopping revroute service...")
	s.closeAll(ctx)
	s.started = false
	s.logger.Info(ctx, "revroute service stopped")
}

func (s *Service) closeAll(ctx context.Context) {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			s.logger.Warn(ctx, "close failed", logger.Error(err))
		}
	}
	s.closers = nil
}

func (s *Service) ready() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return ErrNotStarted
	}
	return nil
}

func (s *Service) task(task operators.TaskID) operators.TaskID {
	if task == "" {
		return operators.TaskID(s.cfg.DefaultTask)
	}
	return task
}

// Route ranks candidates for sc with the task's live profile.
func (s *Service) Route(ctx context.Context, task operators.TaskID, sc model.ScoringContext, source string) (router.Decision, error) {
	if err := s.ready(); err != nil {
		return router.Decision{}, err
	}
	src, err := router.ParseSource(source)
	if err != nil {
		return router.Decision{}, err
	}
	return s.router.Route(ctx, s.task(task), sc, src)
}

// RunEval executes or reuses a backtest.
func (s *Service) RunEval(ctx context.Context, cfg eval.RunConfig) (eval.Run, error) {
	if err := s.ready(); err != nil {
		return eval.Run{}, err
	}
	cfg.Task = s.task(cfg.Task)
	return s.harness.Run(ctx, cfg)
}

// ShowRun returns a stored run.
func (s *Service) ShowRun(ctx context.Context, id string) (eval.Run, error) {
	if err := s.ready(); err != nil {
		return eval.Run{}, err
	}
	return s.harness.Show(ctx, id)
}

// ListRuns returns stored runs, newest first.
func (s *Service) ListRuns(ctx context.Context, f eval.ListFilter) ([]eval.Run, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.harness.List(ctx, f)
}

// ExplainRun returns the stored trail of one context of a run.
func (s *Service) ExplainRun(ctx context.Context, id string, ref eval.ContextRef) (eval.Explanation, error) {
	if err := s.ready(); err != nil {
		return eval.Explanation{}, err
	}
	return s.harness.Explain(ctx, id, ref)
}

// CheckHorizon runs the advisory cutoff check.
func (s *Service) CheckHorizon(ctx context.Context, req eval.HorizonRequest) eval.HorizonResult {
	if err := s.ready(); err != nil {
		return eval.HorizonResult{Status: eval.HorizonFail, Reason: err.Error(), Err: err}
	}
	return s.harness.CheckHorizon(ctx, req)
}

// Backfill warms rerank artifacts for a repo.
func (s *Service) Backfill(ctx context.Context, req eval.BackfillRequest) (eval.BackfillReport, error) {
	if err := s.ready(); err != nil {
		return eval.BackfillReport{}, err
	}
	return s.harness.Backfill(ctx, req)
}

// Register adds a candidate ref for task.
func (s *Service) Register(ctx context.Context, task operators.TaskID, ref champion.Ref) error {
	if err := s.ready(); err != nil {
		return err
	}
	task = s.task(task)
	n, err := ref.Normalize()
	if err != nil {
		return err
	}
	if _, err := router.ParseNormalization(n.Normalization); err != nil {
		return fmt.Errorf("%w: %v", champion.ErrInvalidRef, err)
	}
	ids := n.Operators
	if len(ids) == 0 {
		ids = s.ops.IDs(task)
	}
	pinnable := false
	for _, id := range ids {
		op, err := s.ops.Get(task, id)
		if err != nil {
			return fmt.Errorf("%w: %v", champion.ErrInvalidRef, err)
		}
		if _, ok := op.(operators.Variant); ok {
			pinnable = true
		}
	}
	if n.Model != "" || n.PromptVersion != "" {
		if !pinnable {
			return fmt.Errorf("%w: model or prompt version set but no enabled operator accepts them", champion.ErrInvalidRef)
		}
		if n.PromptVersion != "" && s.rerank != nil {
			if err := s.rerank.ForPrompt("", n.PromptVersion).CheckPrompt(ctx); err != nil {
				return fmt.Errorf("%w: %v", champion.ErrInvalidRef, err)
			}
		}
	}
	return s.champions.Register(ctx, task, n)
}

// Promote makes a registered candidate the task's champion.
func (s *Service) Promote(ctx context.Context, task operators.TaskID, name string) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.champions.Promote(ctx, s.task(task), name)
}

// Registry returns the registry state of task.
func (s *Service) Registry(ctx context.Context, task operators.TaskID) (champion.State, error) {
	if err := s.ready(); err != nil {
		return champion.State{}, err
	}
	return s.champions.Get(ctx, s.task(task))
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]any{
		"started":      s.started,
		"default_task": s.cfg.DefaultTask,
		"cache":        s.cfg.CacheBackend,
		"run_store":    s.cfg.RunStore,
		"llm_enabled":  s.rerank != nil,
	}
	if s.started {
		task := operators.TaskID(s.cfg.DefaultTask)
		stats["operators"] = idStrings(s.ops.IDs(task))
		stats["features"] = len(s.feats.Keys())
		if st, err := s.champions.Get(context.Background(), task); err == nil {
			stats["champion"] = st.Champion
			stats["candidates"] = len(st.Entries)
		}
		metrics.UpdateWorkerCount(s.cfg.EvalWorkers)
	}
	return stats
}

func idStrings(ids []operators.ID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}
