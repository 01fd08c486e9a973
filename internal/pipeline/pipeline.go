// Package pipeline implements the DedupPipeline (C7): the entry point that
// wires the SimilarityScorer, EntityProcessor registry, optional
// GraphAnalyzer and ExternalAnalyzer, and MergeEngine/AuditStore into one
// analyze-and-route operation over a collection of records.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"go.opentelemetry.io/otel/trace"

	"github.com/entitymesh/resolve/internal/audit"
	"github.com/entitymesh/resolve/internal/config"
	"github.com/entitymesh/resolve/internal/entityproc"
	"github.com/entitymesh/resolve/internal/external"
	"github.com/entitymesh/resolve/internal/graph"
	"github.com/entitymesh/resolve/internal/merge"
	"github.com/entitymesh/resolve/internal/model"
	"github.com/entitymesh/resolve/internal/similarity"
	"github.com/entitymesh/resolve/internal/telemetry"
)

// maxConsecutiveStoreFailures is the circuit breaker threshold (§7): after
// this many consecutive audit-store write failures, the pipeline aborts
// the run rather than silently losing more results.
const maxConsecutiveStoreFailures = 5

// ErrStoreCircuitOpen is returned when the audit store has failed too many
// consecutive writes; the run stops rather than treating every remaining
// pair as unprocessed one at a time.
var ErrStoreCircuitOpen = errors.New("pipeline: audit store failed too many consecutive writes")

// ConfidenceDistribution buckets processed pairs by confidence (§4.7).
type ConfidenceDistribution struct {
	GTE90      int // confidence >= 90
	Between70  int // 70 <= confidence < 90
	Between50  int // 50 <= confidence < 70
	LT50       int // confidence < 50
}

func (d *ConfidenceDistribution) add(confidence float64) {
	switch {
	case confidence >= 90:
		d.GTE90++
	case confidence >= 70:
		d.Between70++
	case confidence >= 50:
		d.Between50++
	default:
		d.LT50++
	}
}

// DedupResult is the outcome of one Analyze run.
type DedupResult struct {
	Collection     string
	TotalRecords   int
	SkippedRecords int
	CandidatePairs int
	Processed      int

	AutoMerge []model.PairCandidate
	Review    []model.PairCandidate
	Low       []model.PairCandidate

	AutoMerged         int
	ReviewTasksCreated int
	FailedPairs        int

	ConfidenceDistribution ConfidenceDistribution
	ProcessingTime         time.Duration
	Cancelled              bool
}

// Pipeline is the DedupPipeline (C7). A zero Pipeline is not usable; build
// one with New.
type Pipeline struct {
	registry *entityproc.Registry
	scorer   *similarity.Scorer
	graph    *graph.Analyzer
	analyzer external.Analyzer
	store    *audit.Store
	merger   *merge.Engine
	cfg      config.Config
	logger   *slog.Logger
	metrics  *pipelineMetrics
	tracer   trace.Tracer
}

// Option customizes a Pipeline at construction time.
type Option func(*Pipeline)

// WithGraph attaches a GraphAnalyzer already built over the same data; its
// Disambiguate output is attached to scored pairs for audit but never
// re-weights confidence (§4.7 step 5).
func WithGraph(g *graph.Analyzer) Option {
	return func(p *Pipeline) { p.graph = g }
}

// WithAnalyzer replaces the default no-op ExternalAnalyzer (C6).
func WithAnalyzer(a external.Analyzer) Option {
	return func(p *Pipeline) { p.analyzer = a }
}

// WithScorer replaces the default SimilarityScorer, e.g. to supply custom
// nickname/abbreviation tables.
func WithScorer(s *similarity.Scorer) Option {
	return func(p *Pipeline) { p.scorer = s }
}

// WithLogger replaces the default slog.Default() logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// New builds a Pipeline over store using cfg. Without WithAnalyzer/WithGraph
// the run proceeds with no external signal and no graph signal, which must
// (and does) produce identical classification to a run with either wired in
// but declining to answer.
func New(store *audit.Store, cfg config.Config, opts ...Option) *Pipeline {
	p := &Pipeline{
		registry: entityproc.NewRegistry(),
		scorer:   similarity.New(),
		analyzer: external.Noop{},
		store:    store,
		merger:   merge.New(),
		cfg:      cfg,
		logger:   slog.Default(),
		metrics:  registerMetrics(),
		tracer:   telemetry.Tracer("resolve/pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type candidatePair struct {
	a, b model.Record
}

// Analyze runs the full dedup pass over records, which are assumed to all
// belong to collection and entityType. enableExternal gates whether the
// ExternalAnalyzer may be consulted at all for this run, independent of the
// configured enable_external_analyzer key (both must allow it).
func (p *Pipeline) Analyze(ctx context.Context, collection string, entityType model.EntityType, records []model.Record, enableExternal bool) (DedupResult, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.Analyze")
	defer span.End()

	start := time.Now()
	result := DedupResult{Collection: collection, TotalRecords: len(records)}

	clean := make([]model.Record, 0, len(records))
	for _, r := range records {
		if r.ID == "" {
			result.SkippedRecords++
			p.logger.Warn("pipeline: skipping record with empty id", "collection", collection)
			continue
		}
		clean = append(clean, r)
	}

	processor := p.registry.For(entityType)

	var candidates []candidatePair
	for i := 0; i < len(clean); i++ {
		for j := i + 1; j < len(clean); j++ {
			if processor.IsCandidate(clean[i], clean[j]) {
				candidates = append(candidates, candidatePair{clean[i], clean[j]})
			}
		}
	}
	result.CandidatePairs = len(candidates)
	p.metrics.candidatePairs.Add(ctx, int64(len(candidates)))

	scored := make([]model.PairCandidate, len(candidates))
	done := make([]bool, len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, runtime.GOMAXPROCS(0)))

	for idx, pair := range candidates {
		idx, pair := idx, pair
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			pc := p.scorePair(gctx, collection, entityType, processor, pair, enableExternal)
			scored[idx] = pc
			done[idx] = true
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if ctx.Err() == nil {
			return result, fmt.Errorf("pipeline: score candidates: %w", err)
		}
		result.Cancelled = true
	}

	var consecutiveFailures int
	for idx, pc := range scored {
		if !done[idx] {
			continue
		}
		result.Processed++
		result.ConfidenceDistribution.add(pc.Confidence)
		p.metrics.confidence.Record(ctx, pc.Confidence)

		aborted, err := p.route(ctx, collection, pc, &result, &consecutiveFailures)
		if err != nil {
			result.ProcessingTime = time.Since(start)
			return result, err
		}
		if aborted {
			break
		}
	}

	result.ProcessingTime = time.Since(start)
	return result, nil
}

// scorePair computes SimilarityScorer output, processor confidence, the
// optional external-analyzer blend, and the optional graph signal for one
// candidate pair, returning it fully classified (§4.7 steps 3-6).
func (p *Pipeline) scorePair(ctx context.Context, collection string, entityType model.EntityType, processor entityproc.Processor, pair candidatePair, enableExternal bool) model.PairCandidate {
	scores := p.scorer.Score(pair.a, pair.b, processor.ComparisonFields())
	confidence := processor.Confidence(scores, pair.a, pair.b)

	pc := model.PairCandidate{
		EntityA:    pair.a,
		EntityB:    pair.b,
		EntityType: entityType,
		Scores:     scores,
		Confidence: confidence,
	}

	if enableExternal && p.cfg.EnableExternalAnalyzer && confidence >= p.cfg.HumanReviewThreshold {
		signal, err := p.analyzer.Analyze(ctx, pair.a, pair.b, entityType)
		if err != nil {
			p.logger.Debug("pipeline: external analyzer errored, proceeding without a signal", "error", err)
		} else if signal != nil {
			pc.AISignal = signal
			pc.Confidence = 0.4*confidence + 0.6*signal.Confidence
		}
	}

	if p.graph != nil {
		idA := collection + ":" + pair.a.ID
		idB := collection + ":" + pair.b.ID
		pc.GraphSignal = p.graph.Disambiguate(idA, idB)
	}

	pc.Classification = classify(pc.Confidence, p.cfg)
	return pc
}

// classify buckets confidence into the three outcomes §4.7 step 6 names.
// model.ClassReject exists in the data model for adapters that record an
// explicit human or AI "separate" decision elsewhere; Analyze itself never
// produces it, since the spec's classification step is a three-way split.
func classify(confidence float64, cfg config.Config) model.Classification {
	switch {
	case confidence >= cfg.AutoMergeThreshold:
		return model.ClassAutoMerge
	case confidence >= cfg.HumanReviewThreshold:
		return model.ClassReview
	default:
		return model.ClassLow
	}
}

// route appends pc to its classified bucket and performs step 7/8's
// routing: AutoMerge pairs either execute (safety mode off) or become a
// High-priority ReviewTask (safety mode on); Review pairs always become a
// Med/Low-priority ReviewTask. It returns aborted=true if the store circuit
// breaker tripped.
func (p *Pipeline) route(ctx context.Context, collection string, pc model.PairCandidate, result *DedupResult, consecutiveFailures *int) (aborted bool, err error) {
	recordOutcome := func(storeErr error) (bool, error) {
		if storeErr == nil {
			*consecutiveFailures = 0
			return false, nil
		}
		result.FailedPairs++
		p.metrics.failedPairs.Add(ctx, 1)
		*consecutiveFailures++
		p.logger.Error("pipeline: audit store write failed", "error", storeErr, "consecutive", *consecutiveFailures)
		if *consecutiveFailures >= maxConsecutiveStoreFailures {
			return true, fmt.Errorf("%w: %v", ErrStoreCircuitOpen, storeErr)
		}
		return false, nil
	}

	switch pc.Classification {
	case model.ClassAutoMerge:
		result.AutoMerge = append(result.AutoMerge, pc)
		if p.cfg.SafetyMode {
			_, storeErr := p.store.CreateTask(ctx, collection, snapshot(pc), model.PriorityHigh, pc.AISignal)
			if storeErr == nil {
				result.ReviewTasksCreated++
				p.metrics.reviewTasks.Add(ctx, 1)
			}
			return recordOutcome(storeErr)
		}
		return p.executeMerge(ctx, collection, pc, result, recordOutcome)

	case model.ClassReview:
		result.Review = append(result.Review, pc)
		priority := model.PriorityLow
		if pc.Confidence >= 80 {
			priority = model.PriorityMed
		}
		_, storeErr := p.store.CreateTask(ctx, collection, snapshot(pc), priority, pc.AISignal)
		if storeErr == nil {
			result.ReviewTasksCreated++
			p.metrics.reviewTasks.Add(ctx, 1)
		}
		return recordOutcome(storeErr)

	default: // model.ClassLow
		result.Low = append(result.Low, pc)
		return false, nil
	}
}

func (p *Pipeline) executeMerge(ctx context.Context, collection string, pc model.PairCandidate, result *DedupResult, recordOutcome func(error) (bool, error)) (bool, error) {
	proposal := p.merger.CreateProposal(pc.EntityA, pc.EntityB, pc.EntityType, pc.Confidence, evidence(pc), pc.AISignal)
	execResult := p.merger.Execute(&proposal, true)
	if !execResult.Success {
		result.FailedPairs++
		p.metrics.failedPairs.Add(ctx, 1)
		p.logger.Warn("pipeline: auto-merge blocked or failed", "errors", execResult.Errors,
			"entity_a", pc.EntityA.ID, "entity_b", pc.EntityB.ID)
		return false, nil
	}

	before, err := json.Marshal([]model.Record{pc.EntityA, pc.EntityB})
	if err != nil {
		return false, fmt.Errorf("pipeline: marshal before-state: %w", err)
	}
	after, err := json.Marshal(execResult.Merged)
	if err != nil {
		return false, fmt.Errorf("pipeline: marshal after-state: %w", err)
	}

	_, storeErr := p.store.RecordMerge(ctx, collection, []string{pc.EntityA.ID, pc.EntityB.ID},
		"pipeline", pc.Confidence, evidence(pc), before, after, pc.AISignal)
	if storeErr == nil {
		result.AutoMerged++
		p.metrics.autoMerged.Add(ctx, 1)
	}
	return recordOutcome(storeErr)
}

// snapshot projects a scored PairCandidate down to the serializable form
// the audit store persists alongside a ReviewTask.
func snapshot(pc model.PairCandidate) model.PairSnapshot {
	return model.PairSnapshot{
		EntityAID:  pc.EntityA.ID,
		EntityBID:  pc.EntityB.ID,
		EntityType: pc.EntityType,
		Confidence: pc.Confidence,
		Evidence:   evidence(pc),
		AISignal:   pc.AISignal,
	}
}

// evidence summarizes the per-field composite scores that drove a
// classification, in deterministic field order.
func evidence(pc model.PairCandidate) []string {
	fields := make([]string, 0, len(pc.Scores))
	for field := range pc.Scores {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	out := make([]string, 0, len(fields))
	for _, field := range fields {
		out = append(out, fmt.Sprintf("%s: %.1f", field, pc.Scores[field].Composite))
	}
	return out
}
