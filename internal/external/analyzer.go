// Package external defines the adapter boundary (C6) between the
// deduplication core and an optional, rate-limited second-opinion analyzer.
// The core must function identically when Analyzer always returns nil.
package external

import (
	"context"

	"github.com/entitymesh/resolve/internal/model"
)

// Analyzer is a stateless callable that offers a second opinion on a
// candidate pair. It is optional: callers must treat a nil result (with no
// error) as "no opinion", not as a failure.
type Analyzer interface {
	Analyze(ctx context.Context, a, b model.Record, entityType model.EntityType) (*model.AISignal, error)
}

// Noop is the default Analyzer: it never produces a signal. The pipeline
// runs unchanged with this wired in, satisfying spec's "must function with
// None always" requirement without special-casing a nil interface value.
type Noop struct{}

// Analyze always returns (nil, nil).
func (Noop) Analyze(context.Context, model.Record, model.Record, model.EntityType) (*model.AISignal, error) {
	return nil, nil
}
