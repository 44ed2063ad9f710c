// Package progress maintains the live registry of transcription operations:
// state transitions, progress clamping, subscriber fanout, and the persisted
// snapshots that make jobs crash-recoverable.
package progress

import (
	"sync"
	"time"

	"github.com/skillsenselab/scribe/errors"
	"github.com/skillsenselab/scribe/logger"
)

// RestartMessage is recorded against operations found non-terminal after a
// process restart.
const RestartMessage = "interrupted by restart"

// EventAll is the catch-all subscription channel receiving every update.
const EventAll = "progress"

// EventFor returns the status-keyed subscription channel name.
func EventFor(s Status) string {
	return "progress_" + string(s)
}

// Callback receives a snapshot of the updated operation.
type Callback func(Operation)

// DefaultGraceWindow is how long a completed operation stays visible in the
// registry before scheduled cleanup.
const DefaultGraceWindow = 5 * time.Second

// Tracker is the operation registry. All mutations clamp progress, derive
// the cancellable/retryable capabilities from the new status, persist a
// recovery snapshot, and fan the update out to subscribers in order.
type Tracker struct {
	mu      sync.Mutex
	ops     map[string]*Operation
	subs    map[string]map[int]Callback
	events  map[string]map[int]Callback
	timers  map[string]*time.Timer
	nextSub int

	store Store
	grace time.Duration
	log   *logger.Logger
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithStore sets the persistence store used for crash recovery.
func WithStore(store Store) TrackerOption {
	return func(t *Tracker) { t.store = store }
}

// WithGraceWindow overrides the completed-operation visibility window.
func WithGraceWindow(d time.Duration) TrackerOption {
	return func(t *Tracker) { t.grace = d }
}

// WithLogger sets the tracker logger.
func WithLogger(log *logger.Logger) TrackerOption {
	return func(t *Tracker) { t.log = log }
}

// NewTracker creates a Tracker and runs restart recovery against the store:
// persisted non-terminal operations are rewritten to failed with
// RestartMessage and loaded into the registry as retryable; persisted
// terminal operations are discarded.
func NewTracker(opts ...TrackerOption) (*Tracker, error) {
	t := &Tracker{
		ops:    make(map[string]*Operation),
		subs:   make(map[string]map[int]Callback),
		events: make(map[string]map[int]Callback),
		timers: make(map[string]*time.Timer),
		store:  NewMemoryStore(),
		grace:  DefaultGraceWindow,
		log:    logger.Nop(),
	}
	for _, o := range opts {
		o(t)
	}
	t.log = t.log.WithComponent("tracker")

	if err := t.recover(); err != nil {
		return nil, err
	}
	return t, nil
}

// recover rewrites interrupted snapshots and drops finished ones.
func (t *Tracker) recover() error {
	persisted, err := t.store.Load()
	if err != nil {
		return err
	}
	for _, op := range persisted {
		if op.Status.IsTerminal() {
			if err := t.store.Delete(op.ID); err != nil {
				return err
			}
			continue
		}
		op.Status = StatusFailed
		op.Message = RestartMessage
		op.Error = RestartMessage
		op.Retryable = true
		op.Cancellable = false
		op.LastUpdate = time.Now()
		if err := t.store.Save(op); err != nil {
			return err
		}
		recovered := op
		t.ops[op.ID] = &recovered
		t.log.WithJob(op.ID).Warn("recovered interrupted operation as failed")
	}
	return nil
}

// Start registers a new operation in the initializing state at 0%.
func (t *Tracker) Start(id, opType, description string) (Operation, error) {
	t.mu.Lock()
	if existing, ok := t.ops[id]; ok && !existing.Status.IsTerminal() {
		t.mu.Unlock()
		return Operation{}, errors.New(errors.CodeConfiguration, "operation id already live: "+id)
	}

	now := time.Now()
	op := &Operation{
		ID:          id,
		Type:        opType,
		Description: description,
		Status:      StatusInitializing,
		Progress:    0,
		Message:     "Initializing",
		StartTime:   now,
		LastUpdate:  now,
		Cancellable: true,
		Retryable:   false,
	}
	t.ops[id] = op
	snapshot := *op
	persistErr := t.store.Save(snapshot)
	t.mu.Unlock()

	if persistErr != nil {
		t.log.WithJob(id).WithError(persistErr).Warn("persist snapshot failed")
	}
	t.dispatch(snapshot)
	return snapshot, nil
}

// Update transitions the operation to status with the given progress and
// message. Out-of-range progress is clamped; updates against terminal or
// unknown operations are rejected.
func (t *Tracker) Update(id string, status Status, progressPct int, message string) (Operation, error) {
	return t.mutate(id, status, progressPct, message, "", status.Retryable())
}

// Complete marks the operation completed at 100% and schedules its removal
// from the registry after the grace window.
func (t *Tracker) Complete(id, message string) (Operation, error) {
	op, err := t.mutate(id, StatusCompleted, 100, message, "", false)
	if err != nil {
		return op, err
	}
	t.scheduleCleanup(id)
	return op, nil
}

// Fail marks the operation failed with the error message. retryable is
// recorded as given so cancellation-driven failures can opt out.
func (t *Tracker) Fail(id, errMsg string, retryable bool) (Operation, error) {
	return t.mutate(id, StatusFailed, -1, errMsg, errMsg, retryable)
}

// Cancel marks the operation cancelled.
func (t *Tracker) Cancel(id, message string) (Operation, error) {
	return t.mutate(id, StatusCancelled, -1, message, "", true)
}

// mutate applies one registry mutation atomically, then fans out.
// progressPct < 0 keeps the current progress.
func (t *Tracker) mutate(id string, status Status, progressPct int, message, errMsg string, retryable bool) (Operation, error) {
	t.mu.Lock()
	op, ok := t.ops[id]
	if !ok {
		t.mu.Unlock()
		return Operation{}, errors.NotFound(id)
	}
	if op.Status.IsTerminal() {
		t.mu.Unlock()
		return Operation{}, errors.New(errors.CodeConfiguration, "operation already terminal: "+id)
	}

	op.Status = status
	if progressPct >= 0 {
		op.Progress = clampProgress(progressPct)
	}
	op.Message = message
	op.Error = errMsg
	op.LastUpdate = time.Now()
	op.Cancellable = status.Cancellable()
	op.Retryable = retryable && status.Retryable()
	if status == StatusFailed {
		op.Retryable = retryable
	}

	snapshot := *op
	persistErr := t.store.Save(snapshot)
	t.mu.Unlock()

	if persistErr != nil {
		t.log.WithJob(id).WithError(persistErr).Warn("persist snapshot failed")
	}
	t.dispatch(snapshot)
	return snapshot, nil
}

// Reopen resets a terminal retryable operation back to initializing at 0%
// for a fresh attempt.
func (t *Tracker) Reopen(id string) (Operation, error) {
	t.mu.Lock()
	op, ok := t.ops[id]
	if !ok {
		t.mu.Unlock()
		return Operation{}, errors.NotFound(id)
	}
	if !op.Retryable {
		t.mu.Unlock()
		return Operation{}, errors.New(errors.CodeConfiguration, "operation not retryable: "+id)
	}
	if timer, ok := t.timers[id]; ok {
		timer.Stop()
		delete(t.timers, id)
	}

	op.Status = StatusInitializing
	op.Progress = 0
	op.Message = "Retrying"
	op.Error = ""
	op.LastUpdate = time.Now()
	op.Cancellable = true
	op.Retryable = false

	snapshot := *op
	persistErr := t.store.Save(snapshot)
	t.mu.Unlock()

	if persistErr != nil {
		t.log.WithJob(id).WithError(persistErr).Warn("persist snapshot failed")
	}
	t.dispatch(snapshot)
	return snapshot, nil
}

// Get returns a snapshot of the operation.
func (t *Tracker) Get(id string) (Operation, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	op, ok := t.ops[id]
	if !ok {
		return Operation{}, false
	}
	return *op, true
}

// List returns snapshots of all live operations.
func (t *Tracker) List() []Operation {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Operation, 0, len(t.ops))
	for _, op := range t.ops {
		out = append(out, *op)
	}
	return out
}

// Subscribe registers cb for updates to one operation id. The returned
// function unsubscribes.
func (t *Tracker) Subscribe(id string, cb Callback) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.subs[id] == nil {
		t.subs[id] = make(map[int]Callback)
	}
	key := t.nextSub
	t.nextSub++
	t.subs[id][key] = cb
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.subs[id], key)
	}
}

// SubscribeEvent registers cb on a named channel: EventAll for every update
// or EventFor(status) for updates entering that status.
func (t *Tracker) SubscribeEvent(event string, cb Callback) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.events[event] == nil {
		t.events[event] = make(map[int]Callback)
	}
	key := t.nextSub
	t.nextSub++
	t.events[event][key] = cb
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.events[event], key)
	}
}

// Remove drops the operation, its callbacks, and its persisted snapshot.
func (t *Tracker) Remove(id string) {
	t.mu.Lock()
	if timer, ok := t.timers[id]; ok {
		timer.Stop()
		delete(t.timers, id)
	}
	delete(t.ops, id)
	delete(t.subs, id)
	err := t.store.Delete(id)
	t.mu.Unlock()

	if err != nil {
		t.log.WithJob(id).WithError(err).Warn("delete snapshot failed")
	}
}

// scheduleCleanup removes the operation after the grace window so consumers
// can observe the terminal state first.
func (t *Tracker) scheduleCleanup(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if timer, ok := t.timers[id]; ok {
		timer.Stop()
	}
	t.timers[id] = time.AfterFunc(t.grace, func() {
		t.Remove(id)
	})
}

// dispatch fans a snapshot out to per-id and global subscribers. Updates for
// one id are produced by a single goroutine, so delivery order follows
// production order.
func (t *Tracker) dispatch(op Operation) {
	t.mu.Lock()
	var cbs []Callback
	for _, cb := range t.subs[op.ID] {
		cbs = append(cbs, cb)
	}
	for _, cb := range t.events[EventFor(op.Status)] {
		cbs = append(cbs, cb)
	}
	for _, cb := range t.events[EventAll] {
		cbs = append(cbs, cb)
	}
	t.mu.Unlock()

	for _, cb := range cbs {
		cb(op)
	}
}
