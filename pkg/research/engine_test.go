package research

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResolver map[string]Target

func (r fakeResolver) Resolve(_ context.Context, id string) (Target, error) {
	t, ok := r[id]
	if !ok {
		return Target{}, ErrNotFound
	}
	return t, nil
}

type fakeSearch struct {
	mu      sync.Mutex
	queries []string
	failAt  int
	err     error
}

func (s *fakeSearch) Search(_ context.Context, query string) ([]SearchHit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, query)
	if s.err != nil && len(s.queries)-1 == s.failAt {
		return nil, s.err
	}
	return []SearchHit{{Snippet: query, URL: "https://acme.com/" + string(rune('a'+len(s.queries)-1))}}, nil
}

// scriptedExtractor returns one FieldSet per call, then empty sets.
type scriptedExtractor struct {
	script []FieldSet
	calls  int
}

func (x *scriptedExtractor) Extract(context.Context, []SearchHit, Target) (FieldSet, error) {
	defer func() { x.calls++ }()
	if x.calls < len(x.script) {
		return x.script[x.calls], nil
	}
	return FieldSet{}, nil
}

type fakeSink struct {
	err     error
	saved   FieldSet
	sources []string
	records []IterationRecord
	calls   int
}

func (s *fakeSink) Save(_ context.Context, _ Target, fields FieldSet, sourceURLs []string, records []IterationRecord) error {
	s.calls++
	s.saved = fields
	s.sources = sourceURLs
	s.records = records
	return s.err
}

func collect() (*[]Event, EmitFunc) {
	var events []Event
	return &events, func(ev Event) { events = append(events, ev) }
}

var acme = fakeResolver{"p1": {ID: "p1", Name: "Acme", Domain: "acme.com"}}

func TestRunFillsFieldsAcrossIterations(t *testing.T) {
	search := &fakeSearch{}
	extractor := &scriptedExtractor{script: []FieldSet{
		{ValueProp: "Acme provides widgets.", Domain: "acme.com"},
		{PricingModel: "Subscription-based pricing model", ProductNames: []string{"Software"}},
		{Competitors: []string{"IBM", "Oracle"}},
	}}
	sink := &fakeSink{}
	engine := NewEngine(acme, search, extractor, sink)

	events, emit := collect()
	got, err := engine.Run(context.Background(), "p1", emit)
	require.NoError(t, err)

	assert.True(t, got.Complete())
	assert.Equal(t, []string{
		"Acme company overview products pricing",
		"Acme pricing plans cost subscription",
		"Acme competitors alternatives vs",
	}, search.queries)

	require.Len(t, *events, 4)
	for i, ev := range (*events)[:3] {
		assert.Equal(t, EventProgress, ev.Kind)
		assert.Equal(t, i, ev.Iteration)
		assert.Equal(t, MaxIterations, ev.TotalIterations)
		assert.Equal(t, search.queries[i], ev.Query)
	}
	assert.Equal(t, []Field{FieldValueProp, FieldDomain}, (*events)[0].FieldsFound)
	assert.Equal(t, []Field{FieldProductNames, FieldPricingModel, FieldCompetitors}, (*events)[0].FieldsMissing)

	last := (*events)[3]
	assert.Equal(t, EventCompleted, last.Kind)
	assert.Equal(t, 2, last.Iteration)
	assert.Equal(t, got, last.Results)
	assert.Empty(t, last.FieldsMissing)

	assert.Equal(t, 1, sink.calls)
	assert.Equal(t, got, sink.saved)
	require.Len(t, sink.records, 3)
	assert.Equal(t, []Field{FieldCompetitors}, sink.records[2].Found)
	assert.Equal(t, []string{"https://acme.com/a", "https://acme.com/b", "https://acme.com/c"}, sink.sources)
}

func TestRunStopsEarlyWhenComplete(t *testing.T) {
	search := &fakeSearch{}
	extractor := &scriptedExtractor{script: []FieldSet{{
		ValueProp:    "Acme provides widgets.",
		ProductNames: []string{"Software"},
		PricingModel: "Freemium pricing model",
		Competitors:  []string{"Google"},
		Domain:       "acme.com",
	}}}
	engine := NewEngine(acme, search, extractor, nil)

	events, emit := collect()
	got, err := engine.Run(context.Background(), "p1", emit)
	require.NoError(t, err)

	assert.True(t, got.Complete())
	assert.Len(t, search.queries, 1)
	require.Len(t, *events, 2)
	assert.Equal(t, EventProgress, (*events)[0].Kind)
	assert.Equal(t, EventCompleted, (*events)[1].Kind)
	assert.Equal(t, 0, (*events)[1].Iteration)
}

func TestRunStopsAtMaxIterations(t *testing.T) {
	search := &fakeSearch{}
	sink := &fakeSink{}
	engine := NewEngine(acme, search, &scriptedExtractor{}, sink)

	events, emit := collect()
	got, err := engine.Run(context.Background(), "p1", emit)
	require.NoError(t, err)

	assert.True(t, got.IsEmpty())
	assert.Len(t, search.queries, MaxIterations)
	require.Len(t, *events, MaxIterations+1)
	assert.Equal(t, EventCompleted, (*events)[MaxIterations].Kind)
	assert.Equal(t, RequiredFields, (*events)[MaxIterations].FieldsMissing)
	assert.Len(t, sink.records, MaxIterations)
}

func TestRunUnknownTargetEmitsNothing(t *testing.T) {
	search := &fakeSearch{}
	engine := NewEngine(acme, search, &scriptedExtractor{}, nil)

	events, emit := collect()
	_, err := engine.Run(context.Background(), "missing", emit)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, *events)
	assert.Empty(t, search.queries)
}

func TestRunSearchFailureReportsPartialResults(t *testing.T) {
	search := &fakeSearch{failAt: 1, err: errors.New("timeout")}
	extractor := &scriptedExtractor{script: []FieldSet{{ValueProp: "Acme provides widgets."}}}
	sink := &fakeSink{}
	engine := NewEngine(acme, search, extractor, sink)

	events, emit := collect()
	got, err := engine.Run(context.Background(), "p1", emit)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransientSearch)
	assert.Equal(t, "Acme provides widgets.", got.ValueProp)
	assert.Zero(t, sink.calls)

	require.Len(t, *events, 2)
	assert.Equal(t, EventProgress, (*events)[0].Kind)
	failed := (*events)[1]
	assert.Equal(t, EventError, failed.Kind)
	assert.Equal(t, 1, failed.Iteration)
	assert.Equal(t, "Acme provides widgets.", failed.Results.ValueProp)
	assert.Contains(t, failed.Err, "timeout")
}

func TestRunSinkFailure(t *testing.T) {
	sink := &fakeSink{err: errors.New("connection refused")}
	engine := NewEngine(acme, &fakeSearch{}, &scriptedExtractor{}, sink)

	events, emit := collect()
	_, err := engine.Run(context.Background(), "p1", emit)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPersistence)
	require.NotEmpty(t, *events)
	assert.Equal(t, EventError, (*events)[len(*events)-1].Kind)
	for _, ev := range *events {
		assert.NotEqual(t, EventCompleted, ev.Kind)
	}
}

func TestRunKeepsFirstScalarValue(t *testing.T) {
	extractor := &scriptedExtractor{script: []FieldSet{
		{ValueProp: "Acme provides widgets."},
		{ValueProp: "Acme offers gadgets.", ProductNames: []string{"Software"}},
		{ProductNames: []string{"Software", "Consulting"}},
	}}
	engine := NewEngine(acme, &fakeSearch{}, extractor, nil)

	got, err := engine.Run(context.Background(), "p1", nil)
	require.NoError(t, err)

	assert.Equal(t, "Acme provides widgets.", got.ValueProp)
	assert.ElementsMatch(t, []string{"Software", "Consulting"}, got.ProductNames)
}

func TestWithLoggerCopiesEngine(t *testing.T) {
	engine := NewEngine(acme, &fakeSearch{}, &scriptedExtractor{}, nil)
	cp := engine.WithLogger(nil)

	assert.NotSame(t, engine, cp)
	assert.NotNil(t, engine.Logger)
	assert.Nil(t, cp.Logger)
	assert.NotNil(t, cp.logger())
}
