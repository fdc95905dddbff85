package eval

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/revroute/internal/domain/dedupe"
	"github.com/okian/revroute/internal/domain/model"
	"github.com/okian/revroute/internal/domain/router"
	"github.com/okian/revroute/pkg/logger"
	"github.com/okian/revroute/pkg/metrics"
)

// BackfillRequest selects the entities whose rerank artifacts are warmed.
// Empty prompt fields keep the reranker's configured prompt.
type BackfillRequest struct {
	Repo          string    `json:"repo" validate:"required"`
	PromptID      string    `json:"prompt_id,omitempty"`
	PromptVersion string    `json:"prompt_version,omitempty"`
	Since         time.Time `json:"since"`
	DryRun        bool      `json:"dry_run"`
	Source        string    `json:"source,omitempty"`
}

// BackfillReport counts what a backfill did. In a dry run WouldCompute
// counts misses and Computed stays zero.
type BackfillReport struct {
	JobID         string   `json:"job_id"`
	Repo          string   `json:"repo"`
	PromptID      string   `json:"prompt_id"`
	PromptVersion string   `json:"prompt_version"`
	DryRun        bool     `json:"dry_run"`
	Entities      int      `json:"entities"`
	WouldCompute  int      `json:"would_compute"`
	Computed      int      `json:"computed"`
	CacheHits     int      `json:"cache_hits"`
	Empty         int      `json:"empty"`
	Failed        int      `json:"failed"`
	Errors        []string `json:"errors,omitempty"`
}

// Backfill walks the entities of req.Repo opened at or after req.Since and
// makes sure a rerank artifact is cached for each one at its opening time.
func (h *Harness) Backfill(ctx context.Context, req BackfillRequest) (BackfillReport, error) {
	if h.rerank == nil {
		return BackfillReport{}, ErrNoReranker
	}
	if err := validate.Struct(req); err != nil {
		return BackfillReport{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	source, err := router.ParseSource(req.Source)
	if err != nil {
		return BackfillReport{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	rr := h.rerank.ForPrompt(req.PromptID, req.PromptVersion)
	cfg := rr.Config()
	rep := BackfillReport{
		JobID:         uuid.NewString(),
		Repo:          req.Repo,
		PromptID:      cfg.PromptID,
		PromptVersion: cfg.PromptVersion,
		DryRun:        req.DryRun,
	}
	log := h.log.With(logger.String("job_id", rep.JobID), logger.String("repo", req.Repo))

	contexts, err := h.opened(ctx, req.Repo, req.Since)
	if err != nil {
		return rep, err
	}
	rep.Entities = len(contexts)

	var mu sync.Mutex
	count := func(f func()) {
		mu.Lock()
		f()
		mu.Unlock()
	}
	err = h.exec.Execute(ctx, len(contexts), func(ctx context.Context, i int) error {
		sc := contexts[i]
		cands, res, err := h.router.Candidates(ctx, sc, source)
		if err == nil && len(cands) == 0 {
			count(func() { rep.Empty++ })
			return nil
		}
		var hit bool
		if err == nil {
			hit, err = rr.Cached(ctx, sc, cands)
		}
		if err == nil && !hit && !req.DryRun {
			hit, err = rr.Ensure(ctx, sc, cands, res)
		}
		if err != nil {
			count(func() {
				rep.Failed++
				rep.Errors = append(rep.Errors, sc.String()+": "+err.Error())
			})
			return err
		}
		count(func() {
			switch {
			case hit:
				rep.CacheHits++
			case req.DryRun:
				rep.WouldCompute++
			default:
				rep.Computed++
			}
		})
		return nil
	})
	if err != nil {
		return rep, fmt.Errorf("backfill %s: %w", req.Repo, err)
	}

	metrics.RecordBackfill("cache_hit", rep.CacheHits)
	metrics.RecordBackfill("computed", rep.Computed)
	metrics.RecordBackfill("would_compute", rep.WouldCompute)
	metrics.RecordBackfill("failed", rep.Failed)
	log.Info(ctx, "backfill finished",
		logger.Bool("dry_run", req.DryRun),
		logger.Int("entities", rep.Entities),
		logger.Int("computed", rep.Computed),
		logger.Int("would_compute", rep.WouldCompute),
		logger.Int("cache_hits", rep.CacheHits),
		logger.Int("failed", rep.Failed))
	return rep, nil
}

// opened lists one scoring context per entity opened since since, cut off
// at its opening time, in stream order.
func (h *Harness) opened(ctx context.Context, repo string, since time.Time) ([]model.ScoringContext, error) {
	latest, ok, err := h.events.Latest(ctx, repo)
	if err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	if !ok {
		return nil, nil
	}
	evs, err := h.events.Events(ctx, repo, since, latest)
	if err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	seen := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(0))
	var out []model.ScoringContext
	for i := range evs {
		e := &evs[i]
		if e.Type != model.EventOpened || e.SubjectID == "" {
			continue
		}
		if seen.SeenAndRecord(ctx, string(e.SubjectType)+"/"+e.SubjectID) {
			continue
		}
		sc, err := model.NewScoringContext(repo, e.SubjectType, e.SubjectID, e.OccurredAt)
		if err != nil {
			h.log.Warn(ctx, "skipping entity", logger.String("event", e.ID), logger.Error(err))
			continue
		}
		out = append(out, sc)
	}
	return out, nil
}
