package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mikeboe/sales-research/pkg/metrics"
	"github.com/mikeboe/sales-research/pkg/research"
)

// Runner executes one research run, emitting events as it goes.
type Runner interface {
	Run(ctx context.Context, targetID string, emit research.EmitFunc) (research.FieldSet, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, targetID string, emit research.EmitFunc) (research.FieldSet, error)

func (f RunnerFunc) Run(ctx context.Context, targetID string, emit research.EmitFunc) (research.FieldSet, error) {
	return f(ctx, targetID, emit)
}

// Controller is the public entry point for research sessions. It launches one
// run per session and turns the run's events into snapshot updates and
// broadcasts.
type Controller struct {
	Registry    *Registry
	Broadcaster *Broadcaster
	Logger      *slog.Logger

	newRunner func(sessionID string) Runner
	wg        sync.WaitGroup
}

// NewController creates a controller. newRunner is called once per session,
// letting callers attach a per-session logger to the run.
func NewController(registry *Registry, broadcaster *Broadcaster, newRunner func(sessionID string) Runner) *Controller {
	return &Controller{
		Registry:    registry,
		Broadcaster: broadcaster,
		Logger:      slog.Default(),
		newRunner:   newRunner,
	}
}

// Start creates a session for target and runs it in the background. It returns
// the session id without waiting for the run.
func (c *Controller) Start(target research.Target) string {
	id, _ := c.start(target, false)
	return id
}

// StartSubscribed is Start with a subscription opened before the run begins,
// so the caller observes every event of the session from "started" on.
func (c *Controller) StartSubscribed(target research.Target) (string, *Subscription) {
	return c.start(target, true)
}

func (c *Controller) start(target research.Target, subscribe bool) (string, *Subscription) {
	snap := c.Registry.Create(target)
	c.Broadcaster.Open(snap.SessionID)
	c.Broadcaster.Publish(snap.SessionID, Event{Kind: EventStarted, Snapshot: snap, Timestamp: snap.UpdatedAt})
	metrics.SessionsStartedTotal.Inc()

	var sub *Subscription
	if subscribe {
		sub, _ = c.Broadcaster.Subscribe(snap.SessionID)
	}

	c.Logger.Info("Research session started", "session_id", snap.SessionID, "target_id", target.ID)

	runner := c.newRunner(snap.SessionID)
	c.wg.Add(1)
	go c.run(snap.SessionID, target.ID, runner)
	return snap.SessionID, sub
}

// Progress returns the current snapshot of a session.
func (c *Controller) Progress(sessionID string) (Snapshot, bool) {
	return c.Registry.Get(sessionID)
}

// Subscribe opens a push subscription for a session.
func (c *Controller) Subscribe(sessionID string) (*Subscription, bool) {
	return c.Broadcaster.Subscribe(sessionID)
}

// Unsubscribe closes a subscription. It is idempotent.
func (c *Controller) Unsubscribe(sessionID string, sub *Subscription) {
	c.Broadcaster.Unsubscribe(sessionID, sub)
}

// Complete marks a session completed with results reported by an outside
// caller. It returns false when the session is unknown or already terminal.
func (c *Controller) Complete(sessionID string, results research.FieldSet) bool {
	return c.update(sessionID, EventCompleted, Patch{
		Status:         ptr(StatusCompleted),
		Progress:       ptr(100),
		CurrentStep:    ptr("Research completed successfully!"),
		StepsCompleted: ptr(research.MaxIterations + 1),
		Results:        &results,
	})
}

// Fail marks a session as failed. It returns false when the session is
// unknown or already terminal.
func (c *Controller) Fail(sessionID, message string) bool {
	return c.update(sessionID, EventError, Patch{
		Status:       ptr(StatusError),
		CurrentStep:  ptr("Error: " + message),
		ErrorMessage: ptr(message),
	})
}

// Cleanup forgets a session and closes its subscriptions. Unknown ids are ignored.
func (c *Controller) Cleanup(sessionID string) {
	c.Registry.Remove(sessionID)
	c.Broadcaster.Close(sessionID)
	c.Logger.Info("Research session cleaned up", "session_id", sessionID)
}

// Wait blocks until every started run has returned.
func (c *Controller) Wait() {
	c.wg.Wait()
}

func (c *Controller) run(sessionID, targetID string, runner Runner) {
	defer c.wg.Done()
	metrics.SessionsActive.Inc()
	defer metrics.SessionsActive.Dec()

	defer func() {
		if r := recover(); r != nil {
			c.Logger.Error("Research run panicked", "session_id", sessionID, "panic", r)
			c.Fail(sessionID, fmt.Sprintf("internal error: %v", r))
		}
	}()

	_, err := runner.Run(context.Background(), targetID, func(ev research.Event) {
		c.apply(sessionID, ev)
	})
	if err != nil {
		// Resolution failures end the run before any event; make sure the
		// session still reaches a terminal state. No-op if it already has.
		if c.Fail(sessionID, err.Error()) {
			c.Logger.Warn("Research run failed before emitting events", "session_id", sessionID, "error", err)
		}
	}
}

func (c *Controller) apply(sessionID string, ev research.Event) {
	results := ev.Results
	switch ev.Kind {
	case research.EventProgress:
		steps := ev.Iteration + 1
		total := research.MaxIterations + 1
		c.update(sessionID, EventProgress, Patch{
			Status:         ptr(StatusInProgress),
			Progress:       ptr(steps * 100 / total),
			CurrentStep:    ptr(fmt.Sprintf("Iteration %d/%d: %d of %d fields found", steps, ev.TotalIterations, len(ev.FieldsFound), len(research.RequiredFields))),
			StepsCompleted: ptr(steps),
			Results:        &results,
		})
	case research.EventCompleted:
		c.update(sessionID, EventCompleted, Patch{
			Status:         ptr(StatusCompleted),
			Progress:       ptr(100),
			CurrentStep:    ptr("Research completed successfully!"),
			StepsCompleted: ptr(research.MaxIterations + 1),
			Results:        &results,
		})
	case research.EventError:
		c.update(sessionID, EventError, Patch{
			Status:       ptr(StatusError),
			CurrentStep:  ptr("Error: " + ev.Err),
			ErrorMessage: ptr(ev.Err),
			Results:      &results,
		})
	}
}

// update patches the snapshot and publishes the result while the session is
// still locked, keeping broadcast order identical to update order.
func (c *Controller) update(sessionID string, kind EventKind, patch Patch) bool {
	_, ok := c.Registry.Update(sessionID, patch, func(snap Snapshot) {
		c.Broadcaster.Publish(sessionID, Event{Kind: kind, Snapshot: snap, Timestamp: snap.UpdatedAt})
	})
	if ok && kind.Terminal() {
		metrics.SessionsFinishedTotal.WithLabelValues(string(kind)).Inc()
		c.Logger.Info("Research session finished", "session_id", sessionID, "status", kind)
	}
	return ok
}

