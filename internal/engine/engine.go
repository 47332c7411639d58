package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"gridsync/engine/internal/cache"
	"gridsync/engine/internal/client"
	"gridsync/engine/internal/patch"
	"gridsync/engine/internal/table"
)

const (
	DefaultDebounce   = 1500 * time.Millisecond
	DefaultMaxHistory = 50
)

// Transport is the slice of the backend client the engine needs.
type Transport interface {
	FetchTable(ctx context.Context, orgID, tableID string) (table.RawTable, error)
	SendPatch(ctx context.Context, orgID, tableID string, ops []patch.Operation) ([]patch.Operation, error)
}

// Notifier receives irrecoverable sync errors for user display. The toast
// UI behind it is not this package's concern.
type Notifier interface {
	Notify(message string)
}

type noopNotifier struct{}

func (noopNotifier) Notify(string) {}

// Options configures an Engine. Zero values fall back to defaults; only
// Transport is required.
type Options struct {
	User       string
	Transport  Transport
	Cache      cache.Store
	Notifier   Notifier
	Publisher  *Publisher
	Debounce   time.Duration
	MaxHistory int
}

// Engine owns the sync loop for one (organization, table) pair. All table
// state lives in the injected cache as a Snapshot; the engine is the only
// logical writer, mutual exclusion coming from the scheduler's in-flight
// guard plus the engine mutex around snapshot swaps.
type Engine struct {
	orgID   string
	tableID string
	user    string

	transport Transport
	cache     cache.Store
	notifier  Notifier
	publisher *Publisher
	history   *History
	sched     *Scheduler

	// mu serializes every get-modify-set cycle on the snapshot. Push and
	// reconcile run on different goroutines (user calls vs the debounce
	// timer and websocket feed); without the mutex, one publishing a
	// snapshot cloned before the other's write would silently drop it.
	mu sync.Mutex
}

// New validates the identifiers up front: a bad organization or table id
// must fail before any network traffic.
func New(orgID, tableID string, opts Options) (*Engine, error) {
	if orgID == "" {
		return nil, errors.New("engine: organization id is required")
	}
	if tableID == "" {
		return nil, errors.New("engine: table id is required")
	}
	if opts.Transport == nil {
		return nil, errors.New("engine: transport is required")
	}
	if opts.Cache == nil {
		opts.Cache = cache.NewMemory()
	}
	if opts.Notifier == nil {
		opts.Notifier = noopNotifier{}
	}
	if opts.Publisher == nil {
		opts.Publisher = NewPublisher()
	}

	e := &Engine{
		orgID:     orgID,
		tableID:   tableID,
		user:      opts.User,
		transport: opts.Transport,
		cache:     opts.Cache,
		notifier:  opts.Notifier,
		publisher: opts.Publisher,
		history:   NewHistory(opts.MaxHistory),
	}
	e.sched = NewScheduler(opts.Debounce, e.syncOnce)
	return e, nil
}

func (e *Engine) Publisher() *Publisher { return e.publisher }
func (e *Engine) History() *History     { return e.history }

// updateSnapshot runs one atomic get-modify-set cycle under the engine
// mutex. fn receives the live snapshot and returns its replacement.
func (e *Engine) updateSnapshot(ctx context.Context, fn func(*cache.Snapshot) (*cache.Snapshot, error)) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap, err := e.cache.Get(ctx, e.orgID, e.tableID)
	if err != nil {
		return err
	}
	next, err := fn(snap)
	if err != nil {
		return err
	}
	return e.cache.Set(ctx, e.orgID, e.tableID, next)
}

// Load fetches the table and seeds both snapshot halves. Any previous
// snapshot for the pair is discarded wholesale.
func (e *Engine) Load(ctx context.Context) error {
	raw, err := e.transport.FetchTable(ctx, e.orgID, e.tableID)
	if err != nil {
		return fmt.Errorf("load table %s/%s: %w", e.orgID, e.tableID, err)
	}
	current := table.Normalize(raw)
	snap := &cache.Snapshot{Current: current, Server: table.Clone(current)}

	e.mu.Lock()
	err = e.cache.Set(ctx, e.orgID, e.tableID, snap)
	e.mu.Unlock()
	if err != nil {
		return fmt.Errorf("cache table %s/%s: %w", e.orgID, e.tableID, err)
	}
	e.publishRefresh()
	return nil
}

// Table returns the current optimistic table, or nil before Load.
func (e *Engine) Table(ctx context.Context) *table.Table {
	snap, err := e.cache.Get(ctx, e.orgID, e.tableID)
	if err != nil {
		return nil
	}
	return snap.Current
}

// ServerSnapshot returns the diff baseline, or nil before Load.
func (e *Engine) ServerSnapshot(ctx context.Context) *table.Table {
	snap, err := e.cache.Get(ctx, e.orgID, e.tableID)
	if err != nil {
		return nil
	}
	return snap.Server
}

// Push is the sole write path from user interaction: it applies the
// entry's redo operations optimistically, records the entry, fires the
// refresh signal and triggers sync — immediately or debounced.
func (e *Engine) Push(ctx context.Context, entry Entry, immediate bool) error {
	err := e.updateSnapshot(ctx, func(snap *cache.Snapshot) (*cache.Snapshot, error) {
		next, _ := patch.Apply(snap.Current, entry.Redos, e.user)
		return &cache.Snapshot{Current: next, Server: snap.Server}, nil
	})
	if err != nil {
		return fmt.Errorf("push on table %s/%s: %w", e.orgID, e.tableID, err)
	}

	e.history.Push(entry)
	e.publishRefresh()

	if immediate {
		e.sched.RunNow(ctx)
	} else {
		e.sched.Schedule()
	}
	return nil
}

// Undo reverts the most recent entry. Deletions only ever reach the
// backend through this path and Redo, so the sync runs immediately.
func (e *Engine) Undo(ctx context.Context) error {
	entry, ok := e.history.Undo()
	if !ok {
		return nil
	}
	return e.applyHistoryOps(ctx, entry.Undos)
}

// Redo re-applies the most recently undone entry.
func (e *Engine) Redo(ctx context.Context) error {
	entry, ok := e.history.Redo()
	if !ok {
		return nil
	}
	return e.applyHistoryOps(ctx, entry.Redos)
}

func (e *Engine) applyHistoryOps(ctx context.Context, ops []patch.Operation) error {
	err := e.updateSnapshot(ctx, func(snap *cache.Snapshot) (*cache.Snapshot, error) {
		next, _ := patch.Apply(snap.Current, ops, e.user)
		return &cache.Snapshot{Current: next, Server: snap.Server}, nil
	})
	if err != nil {
		return fmt.Errorf("history on table %s/%s: %w", e.orgID, e.tableID, err)
	}
	e.publishRefresh()
	e.sched.RunNow(ctx)
	return nil
}

// ApplyRemote reconciles a batch of backend-confirmed operations arriving
// out of band (the websocket broadcast). Stale broadcasts are safe: local
// application is timestamp-gated.
func (e *Engine) ApplyRemote(ops []patch.Operation) {
	if err := e.reconcile(context.Background(), ops); err != nil {
		e.notifier.Notify(err.Error())
		log.Printf("engine: remote reconciliation failed: %v", err)
	}
}

// Sync forces an immediate diff+send cycle, bypassing the debounce.
func (e *Engine) Sync(ctx context.Context) {
	e.sched.RunNow(ctx)
}

// Close stops the debounce timer. An in-flight request is left to settle.
func (e *Engine) Close() {
	e.sched.Stop()
}

// syncOnce is the scheduler's run body: diff the current table against the
// server snapshot, send the delta, reconcile the confirmation.
func (e *Engine) syncOnce(ctx context.Context) {
	// Published tables are immutable, so the pair read here stays coherent
	// after the lock is dropped; the send must not hold it.
	e.mu.Lock()
	snap, err := e.cache.Get(ctx, e.orgID, e.tableID)
	e.mu.Unlock()
	if err != nil {
		return
	}

	ops := patch.Diff(snap.Server, snap.Current)
	if len(ops) == 0 {
		return
	}

	confirmed, err := e.transport.SendPatch(ctx, e.orgID, e.tableID, ops)
	if err != nil {
		if errors.Is(err, client.ErrConflict) {
			// Benign race on a unique index: throw away the optimistic
			// state and refetch. Not surfaced to the user.
			log.Printf("engine: conflict on %s/%s, refetching", e.orgID, e.tableID)
			if err := e.Load(ctx); err != nil {
				e.notifier.Notify(fmt.Sprintf("refetch after conflict failed: %v", err))
			}
			return
		}
		// Optimistic state is deliberately not rolled back; the next
		// successful cycle or a manual refresh converges it.
		e.notifier.Notify(fmt.Sprintf("sync failed: %v", err))
		log.Printf("engine: patch for %s/%s failed: %v", e.orgID, e.tableID, err)
		return
	}

	if err := e.reconcile(ctx, confirmed); err != nil {
		e.notifier.Notify(err.Error())
		log.Printf("engine: reconciliation for %s/%s failed: %v", e.orgID, e.tableID, err)
	}
}

func (e *Engine) publishRefresh() {
	e.publisher.Publish(Refresh{OrganizationID: e.orgID, BatchTableID: e.tableID})
}
