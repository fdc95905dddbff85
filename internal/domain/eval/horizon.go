package eval

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/revroute/pkg/logger"
	"github.com/okian/revroute/pkg/metrics"
)

// DefaultHorizonMargin is the safety margin applied when a request sets none.
const DefaultHorizonMargin = 24 * time.Hour

// Horizon check outcomes.
const (
	HorizonPass = "pass"
	HorizonFail = "fail"
)

// HorizonRequest asks whether Cutoff is safe to backtest. Repo, when set,
// bounds the reference by the repo's newest ingested event.
type HorizonRequest struct {
	Repo   string        `json:"repo,omitempty"`
	Cutoff time.Time     `json:"cutoff"`
	Margin time.Duration `json:"margin,omitempty"`
}

// HorizonResult is the advisory outcome. Err is ErrLeakageRisk on fail.
type HorizonResult struct {
	Status    string        `json:"status"`
	Reason    string        `json:"reason"`
	Cutoff    time.Time     `json:"cutoff"`
	Reference time.Time     `json:"reference"`
	Margin    time.Duration `json:"margin"`
	Err       error         `json:"-"`
}

// Passed reports whether the check passed.
func (r HorizonResult) Passed() bool { return r.Status == HorizonPass }

// CheckHorizon passes when cutoff plus the margin is not after the
// reference, the earlier of now and the latest ingested event. It never
// returns an error; an unreadable event stream falls back to now.
func (h *Harness) CheckHorizon(ctx context.Context, req HorizonRequest) HorizonResult {
	margin := req.Margin
	if margin <= 0 {
		margin = h.margin
	}
	ref := h.now().UTC()
	basis := "now"
	if req.Repo != "" {
		latest, ok, err := h.events.Latest(ctx, req.Repo)
		switch {
		case err != nil:
			h.log.Warn(ctx, "horizon check falls back to now",
				logger.String("repo", req.Repo), logger.Error(err))
		case ok && latest.Before(ref):
			ref = latest.UTC()
			basis = "latest event of " + req.Repo
		}
	}

	res := HorizonResult{Cutoff: req.Cutoff.UTC(), Reference: ref, Margin: margin}
	switch {
	case req.Cutoff.IsZero():
		res.Status = HorizonFail
		res.Reason = "cutoff is not set"
	case req.Cutoff.Add(margin).After(ref):
		res.Status = HorizonFail
		res.Reason = fmt.Sprintf("cutoff %s is within %s of %s (%s)",
			res.Cutoff.Format(time.RFC3339), margin, basis, ref.Format(time.RFC3339))
	default:
		res.Status = HorizonPass
		res.Reason = fmt.Sprintf("cutoff %s leaves %s before %s (%s)",
			res.Cutoff.Format(time.RFC3339), ref.Sub(res.Cutoff).Truncate(time.Second), basis, ref.Format(time.RFC3339))
	}
	if res.Status == HorizonFail {
		res.Err = fmt.Errorf("%w: %s", ErrLeakageRisk, res.Reason)
	}
	metrics.RecordHorizonCheck(res.Status)
	return res
}
