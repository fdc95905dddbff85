package llm

import (
	"context"
	"strconv"
	"strings"

	"github.com/okian/revroute/internal/domain/operators"
	"github.com/okian/revroute/pkg/logger"
)

// ReplayStore is the opaque key/value cache exchanges are recorded in.
type ReplayStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
}

// Replaying answers repeated identical requests from a replay store and
// records fresh responses that pass its acceptance check. It sits below
// the semantic cache, which keys on the scoring context; this layer keys
// on the exact request.
type Replaying struct {
	next   operators.Generator
	store  ReplayStore
	accept func(string) error
	log    logger.Logger
}

var _ operators.Generator = (*Replaying)(nil)

// ReplayOption applies a configuration option to Replaying.
type ReplayOption func(*Replaying)

// WithAccept sets the check a response must pass to be recorded or
// replayed. Stored responses that fail it are generated again.
func WithAccept(fn func(string) error) ReplayOption {
	return func(r *Replaying) {
		if fn != nil {
			r.accept = fn
		}
	}
}

// WithReplayLogger sets the replay logger.
func WithReplayLogger(l logger.Logger) ReplayOption {
	return func(r *Replaying) {
		if l != nil {
			r.log = l
		}
	}
}

// NewReplaying wraps next. Without WithAccept every response is recorded.
func NewReplaying(next operators.Generator, store ReplayStore, opts ...ReplayOption) *Replaying {
	r := &Replaying{
		next:   next,
		store:  store,
		accept: func(string) error { return nil },
		log:    logger.For("llm.replay"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RequestKey renders every field of req that shapes the response.
func RequestKey(req operators.GenerateRequest) string {
	var b strings.Builder
	b.WriteString("model=")
	b.WriteString(req.Model)
	b.WriteString("\ntemperature=")
	b.WriteString(strconv.FormatFloat(float64(req.Temperature), 'g', -1, 32))
	b.WriteString("\nmax_tokens=")
	b.WriteString(strconv.Itoa(req.MaxTokens))
	b.WriteString("\n\n")
	b.WriteString(req.Prompt)
	return b.String()
}

// Generate implements operators.Generator. A failing store never fails
// the call.
func (r *Replaying) Generate(ctx context.Context, req operators.GenerateRequest) (string, error) {
	key := RequestKey(req)
	if v, ok, err := r.store.Get(ctx, key); err != nil {
		r.log.Warn(ctx, "replay lookup failed", logger.Error(err))
	} else if ok {
		rejected := r.accept(string(v))
		if rejected == nil {
			return string(v), nil
		}
		r.log.Warn(ctx, "discarding rejected replay", logger.Error(rejected))
	}
	out, err := r.next.Generate(ctx, req)
	if err != nil {
		return "", err
	}
	if err := r.accept(out); err != nil {
		r.log.Warn(ctx, "response not recorded", logger.Error(err))
		return out, nil
	}
	if err := r.store.Put(ctx, key, []byte(out)); err != nil {
		r.log.Warn(ctx, "replay record failed", logger.Error(err))
	}
	return out, nil
}
