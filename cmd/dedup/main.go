// Command dedup runs the entity-resolution pipeline over a JSON input file
// of record collections and prints a summary of the classified pairs.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/entitymesh/resolve/internal/audit"
	"github.com/entitymesh/resolve/internal/config"
	"github.com/entitymesh/resolve/internal/external"
	"github.com/entitymesh/resolve/internal/graph"
	"github.com/entitymesh/resolve/internal/model"
	"github.com/entitymesh/resolve/internal/pipeline"
	"github.com/entitymesh/resolve/internal/ratelimit"
	"github.com/entitymesh/resolve/internal/telemetry"
	"github.com/entitymesh/resolve/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

// Exit codes per spec.md §6.
const (
	exitSuccess       = 0
	exitAnalysisError = 1
	exitConfigError   = 2
	exitCancelled     = 130
)

func main() {
	os.Exit(run0())
}

func run0() int {
	level := parseLogLevel(os.Getenv("DEDUP_LOG_LEVEL"))
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	code, err := run(ctx, logger)
	if err != nil {
		logger.Error("fatal error", "error", err)
	}
	return code
}

func run(ctx context.Context, logger *slog.Logger) (int, error) {
	inputPath := flag.String("input", "", "path to a JSON file of record collections (required)")
	configPath := flag.String("config", "dedup-config.json", "path to the pipeline's JSON config file")
	auditPath := flag.String("audit-db", "dedup-audit.db", "path to the SQLite audit store")
	enableExternal := flag.Bool("enable-external", false, "consult the configured external analyzer for pairs at or above the review threshold")
	flag.Parse()

	if *inputPath == "" {
		return exitConfigError, fmt.Errorf("dedup: -input is required")
	}

	_ = godotenv.Load()

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		return exitConfigError, fmt.Errorf("config: %w", err)
	}

	otelShutdown, err := telemetry.Init(ctx, os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"), "dedup", version, true)
	if err != nil {
		return exitConfigError, fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	store, err := audit.Open(ctx, *auditPath, migrations.FS)
	if err != nil {
		return exitConfigError, fmt.Errorf("audit store: %w", err)
	}
	defer store.Close()

	collections, err := loadCollections(*inputPath)
	if err != nil {
		return exitConfigError, fmt.Errorf("input: %w", err)
	}

	var opts []pipeline.Option
	if cfg.EnableExternalAnalyzer {
		limiter := ratelimit.NewMemoryLimiter(float64(cfg.MaxExternalRatePerMin), cfg.MaxExternalRatePerMin)
		defer func() { _ = limiter.Close() }()
		opts = append(opts, pipeline.WithAnalyzer(external.NewRateLimited(external.Noop{}, limiter, logger)))
	}
	if len(collections) > 0 {
		grouped := make([]graph.CollectionRecords, 0, len(collections))
		for name, coll := range collections {
			grouped = append(grouped, graph.CollectionRecords{Collection: name, Records: coll.records, EntityType: coll.entityType})
		}
		g := graph.New()
		g.Build(grouped)
		opts = append(opts, pipeline.WithGraph(g))
	}
	opts = append(opts, pipeline.WithLogger(logger))

	p := pipeline.New(store, cfg, opts...)

	exitCode := exitSuccess
	for name, coll := range collections {
		logger.Info("dedup: analyzing collection", "collection", name, "records", len(coll.records))

		result, err := p.Analyze(ctx, name, coll.entityType, coll.records, *enableExternal)
		if err != nil {
			logger.Error("dedup: analysis failed", "collection", name, "error", err)
			return exitAnalysisError, err
		}

		printSummary(logger, result)
		if result.Cancelled {
			exitCode = exitCancelled
		}
	}

	return exitCode, nil
}

func printSummary(logger *slog.Logger, result pipeline.DedupResult) {
	logger.Info("dedup: collection complete",
		"collection", result.Collection,
		"total_records", result.TotalRecords,
		"skipped_records", result.SkippedRecords,
		"candidate_pairs", result.CandidatePairs,
		"processed", result.Processed,
		"auto_merge", len(result.AutoMerge),
		"review", len(result.Review),
		"low", len(result.Low),
		"auto_merged", result.AutoMerged,
		"review_tasks_created", result.ReviewTasksCreated,
		"failed_pairs", result.FailedPairs,
		"confidence_gte_90", result.ConfidenceDistribution.GTE90,
		"confidence_70_90", result.ConfidenceDistribution.Between70,
		"confidence_50_70", result.ConfidenceDistribution.Between50,
		"confidence_lt_50", result.ConfidenceDistribution.LT50,
		"processing_time", result.ProcessingTime.Round(time.Millisecond).String(),
		"cancelled", result.Cancelled,
	)
}

func parseLogLevel(raw string) slog.Level {
	switch raw {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// collectionInput is one named collection's parsed records and entity type.
type collectionInput struct {
	entityType model.EntityType
	records    []model.Record
}

// inputFile is the on-disk shape loadCollections expects: a JSON object
// keyed by collection name, each holding its entity type and records. This
// shape is local to the CLI driver — the core pipeline prescribes no wire
// format (spec.md §6).
type inputFile map[string]struct {
	EntityType model.EntityType `json:"entity_type"`
	Records    []struct {
		ID         string         `json:"id"`
		Attributes map[string]any `json:"attributes"`
	} `json:"records"`
}

func loadCollections(path string) (map[string]collectionInput, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var raw inputFile
	if err := json.NewDecoder(f).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	out := make(map[string]collectionInput, len(raw))
	for name, coll := range raw {
		records := make([]model.Record, 0, len(coll.Records))
		for _, r := range coll.Records {
			attrs := make(map[string]model.Value, len(r.Attributes))
			for field, v := range r.Attributes {
				attrs[field] = valueFromJSON(v)
			}
			records = append(records, model.NewRecord(r.ID, attrs))
		}
		out[name] = collectionInput{entityType: coll.EntityType, records: records}
	}
	return out, nil
}

// valueFromJSON converts a decoded JSON value into a model.Value. Strings,
// numbers, and booleans map to their matching scalar kind; a JSON array
// maps to a string set (coercing each element via fmt.Sprint); null or an
// unrecognized shape yields the zero Value (missing), never an error —
// scoring treats a missing field as a zero composite, not a fault (§7).
func valueFromJSON(v any) model.Value {
	switch t := v.(type) {
	case string:
		return model.StringValue(t)
	case float64:
		return model.NumberValue(t)
	case bool:
		return model.BoolValue(t)
	case []any:
		items := make([]string, 0, len(t))
		for _, elem := range t {
			if s, ok := elem.(string); ok {
				items = append(items, s)
			} else {
				items = append(items, fmt.Sprint(elem))
			}
		}
		return model.SetValue(items...)
	default:
		return model.Value{}
	}
}
