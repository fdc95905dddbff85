package operators

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"text/template"
	"time"

	json "github.com/goccy/go-json"

	"github.com/okian/revroute/internal/domain/artifact"
	"github.com/okian/revroute/internal/domain/features"
	"github.com/okian/revroute/internal/domain/model"
	"github.com/okian/revroute/pkg/logger"
)

// Prompt is one versioned prompt from the prompt store.
type Prompt struct {
	ID           string
	Version      string
	Template     string
	InputSchema  string
	OutputSchema string
}

// PromptStore serves versioned prompts.
type PromptStore interface {
	Get(ctx context.Context, id, version string) (Prompt, error)
}

// GenerateRequest is one completion call.
type GenerateRequest struct {
	Model       string
	Prompt      string
	Temperature float32
	MaxTokens   int
}

// Generator performs completion calls against an LLM endpoint.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}

// ArtifactCache is the slice of the semantic cache the reranker uses.
type ArtifactCache interface {
	Get(ctx context.Context, key artifact.Key) (json.RawMessage, bool, error)
	Put(ctx context.Context, key artifact.Key, value json.RawMessage) error
}

// LLMConfig selects the model and prompt. Every field except Timeout and
// BestEffort feeds the cache version key.
type LLMConfig struct {
	Model         string
	PromptID      string
	PromptVersion string
	Temperature   float32
	MaxTokens     int
	Timeout       time.Duration
	BestEffort    bool
}

// LLMRerank asks an LLM to rank the candidates. It consults the semantic
// cache before every generation call and caches validated responses.
type LLMRerank struct {
	gen     Generator
	prompts PromptStore
	cache   ArtifactCache
	cfg     LLMConfig
	log     logger.Logger
}

// NewLLMRerank wires the operator.
func NewLLMRerank(gen Generator, prompts PromptStore, cache ArtifactCache, cfg LLMConfig) *LLMRerank {
	return &LLMRerank{gen: gen, prompts: prompts, cache: cache, cfg: cfg, log: logger.For("llm_rerank")}
}

// ForPrompt returns a copy bound to another prompt id and version.
func (o *LLMRerank) ForPrompt(id, version string) *LLMRerank {
	cp := *o
	if id != "" {
		cp.cfg.PromptID = id
	}
	if version != "" {
		cp.cfg.PromptVersion = version
	}
	return &cp
}

// Variant implements Variant.
func (o *LLMRerank) Variant(model, promptVersion string) Operator {
	cp := o.ForPrompt("", promptVersion)
	if model != "" {
		cp.cfg.Model = model
	}
	return cp
}

// CheckPrompt reports whether the configured prompt can be loaded.
func (o *LLMRerank) CheckPrompt(ctx context.Context) error {
	_, err := o.prompts.Get(ctx, o.cfg.PromptID, o.cfg.PromptVersion)
	return err
}

// Config returns the operator configuration.
func (o *LLMRerank) Config() LLMConfig { return o.cfg }

// Requires implements Operator.
func (*LLMRerank) Requires() []features.Key {
	return []features.Key{features.PRBoundarySet, features.PRMentions}
}

// BestEffort implements BestEffort.
func (o *LLMRerank) BestEffort() bool { return o.cfg.BestEffort }

// RequiresEvidence implements EvidenceRequired.
func (*LLMRerank) RequiresEvidence() bool { return true }

// VersionKey encodes every input that shapes the response for candidates.
func (o *LLMRerank) VersionKey(candidates []model.Target) string {
	keys := make([]string, len(candidates))
	for i, c := range candidates {
		keys[i] = c.Key()
	}
	sum := sha256.Sum256([]byte(strings.Join(keys, "\n")))
	return artifact.Version(map[string]string{
		"model":          o.cfg.Model,
		"prompt_id":      o.cfg.PromptID,
		"prompt_version": o.cfg.PromptVersion,
		"temperature":    strconv.FormatFloat(float64(o.cfg.Temperature), 'g', -1, 32),
		"max_tokens":     strconv.Itoa(o.cfg.MaxTokens),
		"candidates":     hex.EncodeToString(sum[:8]),
	})
}

// Key returns the cache key for sc and candidates.
func (o *LLMRerank) Key(sc model.ScoringContext, candidates []model.Target) artifact.Key {
	return artifact.KeyFor(sc, artifact.TypeLLMRerank, o.VersionKey(candidates))
}

// Cached reports whether a response for sc and candidates is stored.
func (o *LLMRerank) Cached(ctx context.Context, sc model.ScoringContext, candidates []model.Target) (bool, error) {
	_, ok, err := o.cache.Get(ctx, o.Key(sc, candidates))
	return ok, err
}

// Ensure makes sure a response is cached, generating one on a miss. It
// reports whether the entry was already present.
func (o *LLMRerank) Ensure(ctx context.Context, sc model.ScoringContext, candidates []model.Target, lookup features.Lookup) (bool, error) {
	_, hit, err := o.response(ctx, sc, candidates, lookup)
	return hit, err
}

// Score implements Operator.
func (o *LLMRerank) Score(ctx context.Context, sc model.ScoringContext, candidates []model.Target, lookup features.Lookup) ([]Result, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	resp, _, err := o.response(ctx, sc, candidates, lookup)
	if err != nil {
		return nil, err
	}

	known := make(map[model.Target]struct{}, len(candidates))
	for _, c := range candidates {
		known[c] = struct{}{}
	}
	out := make([]Result, 0, len(resp.Items))
	for _, it := range resp.Items {
		t, err := model.ParseTarget(it.Candidate)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidOutput, err)
		}
		if _, ok := known[t]; !ok {
			o.log.Warn(ctx, "reranker named a non-candidate", logger.String("candidate", it.Candidate))
			continue
		}
		delete(known, t)
		out = append(out, Result{Candidate: t, Score: it.Score, Evidence: it.Evidence})
	}
	return out, nil
}

func (o *LLMRerank) response(ctx context.Context, sc model.ScoringContext, candidates []model.Target, lookup features.Lookup) (artifact.RerankResponse, bool, error) {
	key := o.Key(sc, candidates)
	raw, ok, err := o.cache.Get(ctx, key)
	if err != nil {
		return artifact.RerankResponse{}, false, err
	}
	if ok {
		resp, err := artifact.DecodeRerank(raw)
		if err != nil {
			return artifact.RerankResponse{}, false, fmt.Errorf("%w: %v", ErrInvalidOutput, err)
		}
		return resp, true, nil
	}

	prompt, err := o.render(ctx, sc, candidates, lookup)
	if err != nil {
		return artifact.RerankResponse{}, false, err
	}

	gctx := ctx
	if o.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		gctx, cancel = context.WithTimeout(ctx, o.cfg.Timeout)
		defer cancel()
	}
	text, err := o.gen.Generate(gctx, GenerateRequest{
		Model:       o.cfg.Model,
		Prompt:      prompt,
		Temperature: o.cfg.Temperature,
		MaxTokens:   o.cfg.MaxTokens,
	})
	if err != nil {
		if errors.Is(gctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
			return artifact.RerankResponse{}, false, fmt.Errorf("%w: %s after %s", ErrOperatorTimeout, LLMRerankID, o.cfg.Timeout)
		}
		return artifact.RerankResponse{}, false, fmt.Errorf("generate: %w", err)
	}

	body := []byte(extractJSON(text))
	resp, err := artifact.DecodeRerank(body)
	if err != nil {
		return artifact.RerankResponse{}, false, fmt.Errorf("%w: %v", ErrInvalidOutput, err)
	}
	if err := o.cache.Put(ctx, key, json.RawMessage(body)); err != nil {
		return artifact.RerankResponse{}, false, fmt.Errorf("store rerank: %w", err)
	}
	o.log.Debug(ctx, "rerank generated",
		logger.String("context", sc.String()), logger.Int("items", len(resp.Items)))
	return resp, false, nil
}

type schema struct {
	Required []string `json:"required"`
}

func (o *LLMRerank) render(ctx context.Context, sc model.ScoringContext, candidates []model.Target, lookup features.Lookup) (string, error) {
	p, err := o.prompts.Get(ctx, o.cfg.PromptID, o.cfg.PromptVersion)
	if err != nil {
		return "", err
	}
	boundaries, err := lookup.Lookup(ctx, features.PRBoundarySet)
	if err != nil {
		return "", err
	}
	mentions, err := lookup.Lookup(ctx, features.PRMentions)
	if err != nil {
		return "", err
	}
	names := make([]string, len(candidates))
	for i, c := range candidates {
		names[i] = c.Key()
	}
	data := map[string]any{
		"repo":          sc.Repo,
		"entity_type":   string(sc.EntityType),
		"entity_id":     sc.EntityID,
		"cutoff":        sc.Cutoff.Format(time.RFC3339),
		"candidates":    names,
		"boundaries":    boundaries.Set,
		"mentions":      mentions.Set,
		"output_schema": p.OutputSchema,
	}
	if strings.TrimSpace(p.InputSchema) != "" {
		var in schema
		if err := json.Unmarshal([]byte(p.InputSchema), &in); err != nil {
			return "", fmt.Errorf("prompt %s@%s: input schema: %w", p.ID, p.Version, err)
		}
		for _, field := range in.Required {
			if _, ok := data[field]; !ok {
				return "", fmt.Errorf("prompt %s@%s: input %q is not provided", p.ID, p.Version, field)
			}
		}
	}

	tmpl, err := template.New(p.ID).Option("missingkey=error").Parse(p.Template)
	if err != nil {
		return "", fmt.Errorf("prompt %s@%s: %w", p.ID, p.Version, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("prompt %s@%s: %w", p.ID, p.Version, err)
	}
	return buf.String(), nil
}

// extractJSON strips a markdown code fence around a JSON body, if any.
// CheckRerankReply reports whether text, as returned by a generator,
// decodes into a valid rerank response.
func CheckRerankReply(text string) error {
	if _, err := artifact.DecodeRerank([]byte(extractJSON(text))); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOutput, err)
	}
	return nil
}

func extractJSON(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
