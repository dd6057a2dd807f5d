package session

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mikeboe/sales-research/pkg/research"
)

func newTestController(run RunnerFunc) *Controller {
	return NewController(NewRegistry(), NewBroadcaster(), func(string) Runner { return run })
}

// gatedRunner waits for release before replaying script through emit.
func gatedRunner(release <-chan struct{}, script []research.Event, err error) RunnerFunc {
	return func(ctx context.Context, targetID string, emit research.EmitFunc) (research.FieldSet, error) {
		<-release
		var last research.FieldSet
		for _, ev := range script {
			emit(ev)
			last = ev.Results
		}
		return last, err
	}
}

func progressEvent(iteration int, fs research.FieldSet) research.Event {
	return research.Event{
		Kind:            research.EventProgress,
		Iteration:       iteration,
		TotalIterations: research.MaxIterations,
		FieldsFound:     fs.Found(),
		FieldsMissing:   fs.Missing(),
		Results:         fs,
	}
}

func TestControllerRunsSessionToCompletion(t *testing.T) {
	partial := research.FieldSet{ValueProp: "Acme provides widgets."}
	full := research.FieldSet{
		ValueProp:    "Acme provides widgets.",
		ProductNames: []string{"Software"},
		PricingModel: "Freemium pricing model",
		Competitors:  []string{"IBM"},
		Domain:       "acme.com",
	}

	release := make(chan struct{})
	c := newTestController(gatedRunner(release, []research.Event{
		progressEvent(0, partial),
		progressEvent(1, full),
		{Kind: research.EventCompleted, Iteration: 1, Results: full},
	}, nil))

	id := c.Start(research.Target{ID: "p1", Name: "Jane Doe"})
	snap, ok := c.Progress(id)
	require.True(t, ok)
	assert.Equal(t, StatusStarting, snap.Status)

	sub, ok := c.Subscribe(id)
	require.True(t, ok)
	close(release)

	events := drain(t, sub)
	c.Wait()

	require.Equal(t, []EventKind{EventStarted, EventProgress, EventProgress, EventCompleted}, kinds(events))

	first := events[1].Snapshot
	assert.Equal(t, StatusInProgress, first.Status)
	assert.Equal(t, 25, first.Progress)
	assert.Equal(t, 1, first.StepsCompleted)
	assert.Equal(t, "Iteration 1/3: 1 of 5 fields found", first.CurrentStep)
	assert.Equal(t, []research.Field{research.FieldValueProp}, first.FieldsFound)

	assert.Equal(t, 50, events[2].Snapshot.Progress)

	done := events[3].Snapshot
	assert.Equal(t, StatusCompleted, done.Status)
	assert.Equal(t, 100, done.Progress)
	assert.Equal(t, "Research completed successfully!", done.CurrentStep)
	assert.Equal(t, full, done.Results)
	assert.Empty(t, done.FieldsMissing)
	assert.NotNil(t, done.CompletionTime)

	for i := 1; i < len(events); i++ {
		assert.False(t, events[i].Snapshot.UpdatedAt.Before(events[i-1].Snapshot.UpdatedAt))
	}

	snap, ok = c.Progress(id)
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, snap.Status)
}

func TestControllerRunFailsBeforeEvents(t *testing.T) {
	release := make(chan struct{})
	c := newTestController(gatedRunner(release, nil, fmt.Errorf("failed to resolve target p1: %w", research.ErrNotFound)))

	id := c.Start(research.Target{ID: "p1"})
	sub, _ := c.Subscribe(id)
	close(release)

	events := drain(t, sub)
	c.Wait()

	require.Equal(t, []EventKind{EventStarted, EventError}, kinds(events))
	failed := events[1].Snapshot
	assert.Equal(t, StatusError, failed.Status)
	assert.Contains(t, failed.ErrorMessage, "not found")
	assert.Equal(t, "Error: "+failed.ErrorMessage, failed.CurrentStep)
	assert.NotNil(t, failed.ErrorTime)
}

func TestControllerSingleTerminalEvent(t *testing.T) {
	partial := research.FieldSet{Domain: "acme.com"}
	release := make(chan struct{})
	c := newTestController(gatedRunner(release, []research.Event{
		progressEvent(0, partial),
		{Kind: research.EventError, Iteration: 1, Results: partial, Err: "search timed out"},
	}, research.ErrTransientSearch))

	id := c.Start(research.Target{ID: "p1"})
	sub, _ := c.Subscribe(id)
	close(release)

	events := drain(t, sub)
	c.Wait()

	require.Equal(t, []EventKind{EventStarted, EventProgress, EventError}, kinds(events))
	failed := events[2].Snapshot
	assert.Equal(t, "search timed out", failed.ErrorMessage)
	assert.Equal(t, "acme.com", failed.Results.Domain)
}

func TestControllerRecoversPanic(t *testing.T) {
	c := newTestController(func(context.Context, string, research.EmitFunc) (research.FieldSet, error) {
		panic("boom")
	})

	id := c.Start(research.Target{ID: "p1"})
	c.Wait()

	snap, ok := c.Progress(id)
	require.True(t, ok)
	assert.Equal(t, StatusError, snap.Status)
	assert.Contains(t, snap.ErrorMessage, "boom")
}

func TestControllerExternalComplete(t *testing.T) {
	release := make(chan struct{})
	c := newTestController(gatedRunner(release, []research.Event{
		progressEvent(0, research.FieldSet{ValueProp: "late"}),
		{Kind: research.EventCompleted},
	}, nil))

	id := c.Start(research.Target{ID: "p1"})
	sub, _ := c.Subscribe(id)

	results := research.FieldSet{PricingModel: "Freemium pricing model"}
	assert.True(t, c.Complete(id, results))
	assert.False(t, c.Complete(id, results))
	assert.False(t, c.Fail(id, "too late"))

	close(release)
	events := drain(t, sub)
	c.Wait()

	require.Equal(t, []EventKind{EventStarted, EventCompleted}, kinds(events))
	snap, _ := c.Progress(id)
	assert.Equal(t, StatusCompleted, snap.Status)
	assert.Equal(t, "Freemium pricing model", snap.Results.PricingModel)
	assert.Empty(t, snap.Results.ValueProp)
}

func TestControllerUnknownSession(t *testing.T) {
	c := newTestController(nil)

	_, ok := c.Progress("nope")
	assert.False(t, ok)
	_, ok = c.Subscribe("nope")
	assert.False(t, ok)
	assert.False(t, c.Complete("nope", research.FieldSet{}))
	assert.False(t, c.Fail("nope", "x"))
	c.Cleanup("nope")
}

func TestControllerCleanup(t *testing.T) {
	release := make(chan struct{})
	c := newTestController(gatedRunner(release, []research.Event{
		progressEvent(0, research.FieldSet{}),
	}, nil))

	id := c.Start(research.Target{ID: "p1"})
	sub, _ := c.Subscribe(id)

	c.Cleanup(id)
	c.Cleanup(id)

	drain(t, sub)
	_, ok := c.Progress(id)
	assert.False(t, ok)
	_, ok = c.Subscribe(id)
	assert.False(t, ok)
	assert.Zero(t, c.Registry.Len())

	close(release)
	c.Wait()
}

func TestControllerIndependentSessions(t *testing.T) {
	var (
		mu  sync.Mutex
		ids []string
	)
	c := NewController(NewRegistry(), NewBroadcaster(), func(sessionID string) Runner {
		mu.Lock()
		ids = append(ids, sessionID)
		mu.Unlock()
		return RunnerFunc(func(_ context.Context, targetID string, emit research.EmitFunc) (research.FieldSet, error) {
			fs := research.FieldSet{ValueProp: targetID}
			emit(progressEvent(0, fs))
			emit(research.Event{Kind: research.EventCompleted, Results: fs})
			return fs, nil
		})
	})

	started := make(map[string]string)
	for i := 0; i < 10; i++ {
		target := fmt.Sprintf("p%d", i)
		started[c.Start(research.Target{ID: target})] = target
	}
	c.Wait()

	assert.Len(t, ids, 10)
	for id, target := range started {
		snap, ok := c.Progress(id)
		require.True(t, ok)
		assert.Equal(t, StatusCompleted, snap.Status)
		assert.Equal(t, target, snap.Results.ValueProp)
		assert.Equal(t, target, snap.TargetID)
	}
}

func TestControllerStartSubscribedSeesWholeRun(t *testing.T) {
	fs := research.FieldSet{Domain: "acme.com"}
	c := newTestController(func(_ context.Context, _ string, emit research.EmitFunc) (research.FieldSet, error) {
		emit(progressEvent(0, fs))
		emit(research.Event{Kind: research.EventCompleted, Results: fs})
		return fs, nil
	})

	id, sub := c.StartSubscribed(research.Target{ID: "p1"})
	require.NotNil(t, sub)
	events := drain(t, sub)
	c.Wait()

	assert.Equal(t, []EventKind{EventStarted, EventProgress, EventCompleted}, kinds(events))
	assert.Equal(t, id, events[0].Snapshot.SessionID)
}

func TestControllerStartSubscribedFastFailure(t *testing.T) {
	c := newTestController(func(context.Context, string, research.EmitFunc) (research.FieldSet, error) {
		return research.FieldSet{}, research.ErrNotFound
	})

	_, sub := c.StartSubscribed(research.Target{ID: "missing"})
	events := drain(t, sub)
	c.Wait()

	assert.Equal(t, []EventKind{EventStarted, EventError}, kinds(events))
}
