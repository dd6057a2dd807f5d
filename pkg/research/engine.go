package research

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mikeboe/sales-research/pkg/metrics"
)

// EmitFunc receives engine events in emission order.
type EmitFunc func(Event)

// ResearchEngine runs the bounded search/extract loop for a single target.
// It keeps no state between runs and may be shared by concurrent sessions.
type ResearchEngine struct {
	Resolver  IdentityResolver
	Search    SearchProvider
	Extractor Extractor
	Sink      ResultSink
	Logger    *slog.Logger

	now func() time.Time
}

func NewEngine(resolver IdentityResolver, search SearchProvider, extractor Extractor, sink ResultSink) *ResearchEngine {
	return &ResearchEngine{
		Resolver:  resolver,
		Search:    search,
		Extractor: extractor,
		Sink:      sink,
		Logger:    slog.Default(),
		now:       time.Now,
	}
}

// WithLogger returns a copy of the engine that logs to l.
func (e *ResearchEngine) WithLogger(l *slog.Logger) *ResearchEngine {
	cp := *e
	cp.Logger = l
	return &cp
}

// Run researches targetID and returns the validated FieldSet.
//
// When the target cannot be resolved Run fails before any iteration and emits
// nothing. Every completed iteration emits a progress event. The run ends with
// exactly one completed or error event; a failed search, extract or save is
// reported through that error event and returned, with the partial results
// gathered so far.
func (e *ResearchEngine) Run(ctx context.Context, targetID string, emit EmitFunc) (FieldSet, error) {
	if emit == nil {
		emit = func(Event) {}
	}

	target, err := e.Resolver.Resolve(ctx, targetID)
	if err != nil {
		return FieldSet{}, fmt.Errorf("failed to resolve target %s: %w", targetID, err)
	}

	e.logger().Info("Starting research loop", "target_id", target.ID, "name", target.Name)

	var (
		results FieldSet
		records []IterationRecord
		sources []string
	)

	for iteration := 0; iteration < MaxIterations; iteration++ {
		query := PlanQuery(target, results, iteration)
		e.logger().Info("Starting iteration", "iteration", iteration+1, "max", MaxIterations, "query", query)

		hits, err := e.search(ctx, query)
		if err != nil {
			return e.fail(emit, iteration, query, results, fmt.Errorf("%w: search %q: %w", ErrTransientSearch, query, err))
		}

		extracted, err := e.extract(ctx, hits, target)
		if err != nil {
			return e.fail(emit, iteration, query, results, fmt.Errorf("%w: extract: %w", ErrTransientSearch, err))
		}

		merged := Merge(results, extracted)
		records = append(records, IterationRecord{
			Iteration: iteration,
			Query:     query,
			Hits:      hits,
			Found:     newlyFound(results, merged),
		})
		results = merged
		sources = appendSources(sources, hits)
		metrics.IterationsTotal.Inc()

		emit(Event{
			Kind:            EventProgress,
			Iteration:       iteration,
			TotalIterations: MaxIterations,
			Query:           query,
			FieldsFound:     results.Found(),
			FieldsMissing:   results.Missing(),
			Results:         results.Validated(),
			Timestamp:       e.clock(),
		})

		if results.Complete() {
			e.logger().Info("All fields found", "iteration", iteration+1)
			break
		}
	}

	validated := results.Validated()
	if e.Sink != nil {
		start := time.Now()
		err := e.Sink.Save(ctx, target, validated, sources, records)
		metrics.ObserveCall("save", start, err)
		if err != nil {
			return e.fail(emit, len(records)-1, "", results, fmt.Errorf("%w: %w", ErrPersistence, err))
		}
	}

	e.logger().Info("Research complete", "found", len(validated.Found()), "missing", len(validated.Missing()))
	emit(Event{
		Kind:            EventCompleted,
		Iteration:       len(records) - 1,
		TotalIterations: MaxIterations,
		FieldsFound:     validated.Found(),
		FieldsMissing:   validated.Missing(),
		Results:         validated,
		Timestamp:       e.clock(),
	})
	return validated, nil
}

func (e *ResearchEngine) search(ctx context.Context, query string) ([]SearchHit, error) {
	start := time.Now()
	hits, err := e.Search.Search(ctx, query)
	metrics.ObserveCall("search", start, err)
	if err != nil {
		e.logger().Error("Search failed", "query", query, "error", err)
		return nil, err
	}
	e.logger().Info("Search successful", "query", query, "count", len(hits))
	return hits, nil
}

func (e *ResearchEngine) extract(ctx context.Context, hits []SearchHit, target Target) (FieldSet, error) {
	start := time.Now()
	fs, err := e.Extractor.Extract(ctx, hits, target)
	metrics.ObserveCall("extract", start, err)
	if err != nil {
		e.logger().Error("Extraction failed", "error", err)
		return FieldSet{}, err
	}
	return fs, nil
}

func (e *ResearchEngine) fail(emit EmitFunc, iteration int, query string, results FieldSet, err error) (FieldSet, error) {
	partial := results.Validated()
	e.logger().Error("Research failed", "iteration", iteration+1, "error", err)
	emit(Event{
		Kind:            EventError,
		Iteration:       iteration,
		TotalIterations: MaxIterations,
		Query:           query,
		FieldsFound:     partial.Found(),
		FieldsMissing:   partial.Missing(),
		Results:         partial,
		Err:             err.Error(),
		Timestamp:       e.clock(),
	})
	return partial, err
}

func (e *ResearchEngine) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}

func (e *ResearchEngine) clock() time.Time {
	if e.now == nil {
		return time.Now().UTC()
	}
	return e.now().UTC()
}

func newlyFound(before, after FieldSet) []Field {
	var added []Field
	for _, f := range RequiredFields {
		if !before.Has(f) && after.Has(f) {
			added = append(added, f)
		}
	}
	return added
}

func appendSources(sources []string, hits []SearchHit) []string {
	urls := make([]string, 0, len(hits))
	for _, h := range hits {
		urls = append(urls, h.URL)
	}
	return dedupe(sources, urls)
}
