package external

import (
	"context"
	"log/slog"

	"github.com/entitymesh/resolve/internal/model"
	"github.com/entitymesh/resolve/internal/ratelimit"
)

// RateLimited wraps an Analyzer with a shared rate budget and the "never
// propagate" error policy: a denied/cancelled wait, or any error from the
// wrapped analyzer, degrades to a nil signal rather than an error the
// pipeline would have to special-case.
type RateLimited struct {
	Inner   Analyzer
	Limiter ratelimit.Limiter
	Logger  *slog.Logger
}

// NewRateLimited wraps inner with limiter. A nil logger uses slog.Default.
func NewRateLimited(inner Analyzer, limiter ratelimit.Limiter, logger *slog.Logger) *RateLimited {
	if logger == nil {
		logger = slog.Default()
	}
	return &RateLimited{Inner: inner, Limiter: limiter, Logger: logger}
}

// Analyze waits for the shared budget, then delegates. Any failure along
// the way — rate-limit wait cancelled, or the inner analyzer erroring —
// yields (nil, nil): the core proceeds without a second opinion.
func (r *RateLimited) Analyze(ctx context.Context, a, b model.Record, entityType model.EntityType) (*model.AISignal, error) {
	if err := r.Limiter.Wait(ctx); err != nil {
		r.Logger.Debug("external: rate limit wait did not complete", "error", err)
		return nil, nil
	}

	signal, err := r.Inner.Analyze(ctx, a, b, entityType)
	if err != nil {
		r.Logger.Warn("external: analyzer call failed, proceeding without a signal", "error", err)
		return nil, nil
	}
	return signal, nil
}
