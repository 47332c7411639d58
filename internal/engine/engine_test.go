package engine

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"gridsync/engine/internal/cache"
	"gridsync/engine/internal/client"
	"gridsync/engine/internal/patch"
	"gridsync/engine/internal/table"
)

// fakeTransport echoes patches back as confirmations, optionally blocking
// so tests can hold a request in flight.
type fakeTransport struct {
	mu         sync.Mutex
	raw        table.RawTable
	patches    [][]patch.Operation
	fetchCount int
	sendErr    error
	entered    chan struct{}
	release    chan struct{}
}

func (f *fakeTransport) FetchTable(_ context.Context, _, _ string) (table.RawTable, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchCount++
	return f.raw, nil
}

func (f *fakeTransport) SendPatch(_ context.Context, _, _ string, ops []patch.Operation) ([]patch.Operation, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.patches = append(f.patches, ops)
	// The backend confirms entity-first, whatever order the patch used.
	return patch.OrderAddsFirst(ops), nil
}

func (f *fakeTransport) sent() [][]patch.Operation {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]patch.Operation, len(f.patches))
	copy(out, f.patches)
	return out
}

func (f *fakeTransport) fetches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetchCount
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) Notify(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, msg)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.messages)
}

func seededRaw() table.RawTable {
	stamp := time.Unix(1700000000, 0).UTC()
	return table.RawTable{
		OrganizationID: "org",
		ID:             "tbl",
		Mode:           table.ModeTable,
		Columns: []table.Column{
			{ColumnIndex: 0, UUID: "col-a", Type: table.TypeSingleLineText, Name: "A", UpdatedAt: stamp},
			{ColumnIndex: 1, UUID: "col-b", Type: table.TypeNumber, Name: "B", UpdatedAt: stamp},
		},
		Rows: []table.Row{
			{RowIndex: 0, UUID: "row-0", UpdatedAt: stamp},
			{RowIndex: 1, UUID: "row-1", UpdatedAt: stamp},
		},
		Cells: []table.Cell{
			{RowIndex: 0, ColumnIndex: 0, UUID: "cell-00", ColumnUUID: "col-a", RowUUID: "row-0", UpdatedAt: stamp},
			{RowIndex: 0, ColumnIndex: 1, UUID: "cell-01", ColumnUUID: "col-b", RowUUID: "row-0", UpdatedAt: stamp},
			{RowIndex: 1, ColumnIndex: 0, UUID: "cell-10", ColumnUUID: "col-a", RowUUID: "row-1", UpdatedAt: stamp},
			{RowIndex: 1, ColumnIndex: 1, UUID: "cell-11", ColumnUUID: "col-b", RowUUID: "row-1", UpdatedAt: stamp},
		},
	}
}

func newTestEngine(t *testing.T, transport Transport) *Engine {
	t.Helper()
	eng, err := New("org", "tbl", Options{
		User:      "tester",
		Transport: transport,
		Debounce:  10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(eng.Close)
	if err := eng.Load(context.Background()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	return eng
}

func cellEditEntry(row, col int, value any) Entry {
	return Entry{
		Redos: []patch.Operation{patch.UpdateCell{Data: table.CellPatch{RowIndex: row, ColumnIndex: col, Value: &value}}},
	}
}

func TestNewValidatesIdentifiers(t *testing.T) {
	if _, err := New("", "tbl", Options{Transport: &fakeTransport{}}); err == nil {
		t.Error("empty organization id must be rejected")
	}
	if _, err := New("org", "", Options{Transport: &fakeTransport{}}); err == nil {
		t.Error("empty table id must be rejected")
	}
	if _, err := New("org", "tbl", Options{}); err == nil {
		t.Error("missing transport must be rejected")
	}
}

func TestPushSendsSingleCellUpdate(t *testing.T) {
	transport := &fakeTransport{raw: seededRaw()}
	eng := newTestEngine(t, transport)
	ctx := context.Background()

	if err := eng.Push(ctx, cellEditEntry(0, 0, "hi"), true); err != nil {
		t.Fatalf("Push failed: %v", err)
	}

	sent := transport.sent()
	if len(sent) != 1 {
		t.Fatalf("sent %d requests, want 1", len(sent))
	}
	if len(sent[0]) != 1 {
		t.Fatalf("request carried %d ops, want 1: %v", len(sent[0]), sent[0])
	}
	up, ok := sent[0][0].(patch.UpdateCell)
	if !ok {
		t.Fatalf("op is %T, want UpdateCell", sent[0][0])
	}
	if up.Data.RowIndex != 0 || up.Data.ColumnIndex != 0 {
		t.Errorf("op coordinate = (%d,%d), want (0,0)", up.Data.RowIndex, up.Data.ColumnIndex)
	}
	if up.Data.Value == nil || *up.Data.Value != "hi" {
		t.Errorf("op value = %v, want hi", up.Data.Value)
	}

	// Reconciliation advanced the baseline: nothing left to send.
	server := eng.ServerSnapshot(ctx)
	if got := server.Cells[table.CoordKey(0, 0)].Value; got != "hi" {
		t.Errorf("server snapshot value = %v, want hi", got)
	}
	if ops := patch.Diff(server, eng.Table(ctx)); len(ops) != 0 {
		t.Errorf("post-sync diff not empty: %v", ops)
	}
}

func TestSchedulerCoalescesBursts(t *testing.T) {
	transport := &fakeTransport{
		raw:     seededRaw(),
		entered: make(chan struct{}, 8),
		release: make(chan struct{}),
	}
	eng := newTestEngine(t, transport)
	ctx := context.Background()

	first := make(chan error, 1)
	go func() {
		first <- eng.Push(ctx, cellEditEntry(0, 0, "one"), true)
	}()
	<-transport.entered // request one is in flight

	// Burst while in flight: all three must coalesce into one follow-up.
	for i, v := range []string{"two", "three", "four"} {
		if err := eng.Push(ctx, cellEditEntry(1, i%2, v), true); err != nil {
			t.Fatalf("burst push failed: %v", err)
		}
	}

	close(transport.release)
	if err := <-first; err != nil {
		t.Fatalf("first push failed: %v", err)
	}
	<-transport.entered // drain run

	deadline := time.After(2 * time.Second)
	for {
		if len(transport.sent()) == 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("sent %d requests, want exactly 2", len(transport.sent()))
		case <-time.After(5 * time.Millisecond):
		}
	}

	sent := transport.sent()
	if len(sent[1]) == 0 {
		t.Error("drain request carried no ops")
	}
	// The drain diff covers every burst edit at once.
	coords := map[string]bool{}
	for _, op := range sent[1] {
		if up, ok := op.(patch.UpdateCell); ok {
			coords[table.CoordKey(up.Data.RowIndex, up.Data.ColumnIndex)] = true
		}
	}
	if !coords[table.CoordKey(1, 0)] || !coords[table.CoordKey(1, 1)] {
		t.Errorf("drain request missing burst edits: %v", coords)
	}
}

func TestDebouncedPush(t *testing.T) {
	transport := &fakeTransport{raw: seededRaw()}
	eng := newTestEngine(t, transport)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := eng.Push(ctx, cellEditEntry(0, 0, fmt.Sprintf("v%d", i)), false); err != nil {
			t.Fatalf("Push failed: %v", err)
		}
	}

	deadline := time.After(2 * time.Second)
	for len(transport.sent()) == 0 {
		select {
		case <-deadline:
			t.Fatal("debounced sync never ran")
		case <-time.After(5 * time.Millisecond):
		}
	}
	time.Sleep(50 * time.Millisecond)
	if got := len(transport.sent()); got != 1 {
		t.Errorf("debounced burst produced %d requests, want 1", got)
	}
}

func TestConflictTriggersRefetch(t *testing.T) {
	transport := &fakeTransport{raw: seededRaw(), sendErr: client.ErrConflict}
	notifier := &recordingNotifier{}
	eng, err := New("org", "tbl", Options{User: "tester", Transport: transport, Notifier: notifier})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(eng.Close)
	ctx := context.Background()
	if err := eng.Load(ctx); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if err := eng.Push(ctx, cellEditEntry(0, 0, "doomed"), true); err != nil {
		t.Fatalf("Push failed: %v", err)
	}

	if transport.fetches() != 2 {
		t.Errorf("fetch count = %d, want 2 (initial + conflict refetch)", transport.fetches())
	}
	// Optimistic state was discarded wholesale.
	if got := eng.Table(ctx).Cells[table.CoordKey(0, 0)].Value; got != nil {
		t.Errorf("optimistic edit survived the refetch: %v", got)
	}
	if notifier.count() != 0 {
		t.Error("benign conflicts must not be surfaced to the user")
	}
}

func TestSendFailureKeepsOptimisticState(t *testing.T) {
	transport := &fakeTransport{raw: seededRaw(), sendErr: fmt.Errorf("backend down")}
	notifier := &recordingNotifier{}
	eng, err := New("org", "tbl", Options{User: "tester", Transport: transport, Notifier: notifier})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(eng.Close)
	ctx := context.Background()
	if err := eng.Load(ctx); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if err := eng.Push(ctx, cellEditEntry(0, 0, "kept"), true); err != nil {
		t.Fatalf("Push failed: %v", err)
	}

	if got := eng.Table(ctx).Cells[table.CoordKey(0, 0)].Value; got != "kept" {
		t.Errorf("optimistic edit rolled back on failure: %v", got)
	}
	if notifier.count() != 1 {
		t.Errorf("notifier received %d messages, want 1", notifier.count())
	}
	if transport.fetches() != 1 {
		t.Error("non-conflict failures must not refetch")
	}
}

func TestPushPublishesScopedRefresh(t *testing.T) {
	transport := &fakeTransport{raw: seededRaw()}
	eng := newTestEngine(t, transport)
	ctx := context.Background()

	var got []Refresh
	var mu sync.Mutex
	unsubscribe := eng.Publisher().Subscribe(func(r Refresh) {
		mu.Lock()
		got = append(got, r)
		mu.Unlock()
	})
	defer unsubscribe()

	if err := eng.Push(ctx, cellEditEntry(0, 0, "hi"), true); err != nil {
		t.Fatalf("Push failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) == 0 {
		t.Fatal("no refresh published")
	}
	for _, r := range got {
		if r.OrganizationID != "org" || r.BatchTableID != "tbl" {
			t.Errorf("refresh scope = %+v, want org/tbl", r)
		}
	}
}

func TestImplicitCreationSyncsFreshCoordinate(t *testing.T) {
	transport := &fakeTransport{raw: seededRaw()}
	notifier := &recordingNotifier{}
	eng, err := New("org", "tbl", Options{User: "tester", Transport: transport, Notifier: notifier})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(eng.Close)
	ctx := context.Background()
	if err := eng.Load(ctx); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	// (3,5) names a row and a column the table does not have yet; the edit
	// must create both on the way through and still converge cleanly.
	if err := eng.Push(ctx, cellEditEntry(3, 5, "fresh"), true); err != nil {
		t.Fatalf("Push failed: %v", err)
	}

	if notifier.count() != 0 {
		t.Fatalf("sync surfaced errors: %v", notifier.messages)
	}
	server := eng.ServerSnapshot(ctx)
	if _, ok := server.Columns[5]; !ok {
		t.Error("server snapshot missing the created column")
	}
	if _, ok := server.Rows[3]; !ok {
		t.Error("server snapshot missing the created row")
	}
	if got := server.Cells[table.CoordKey(3, 5)].Value; got != "fresh" {
		t.Errorf("server snapshot value = %v, want fresh", got)
	}
	if ops := patch.Diff(server, eng.Table(ctx)); len(ops) != 0 {
		t.Errorf("post-sync diff not empty: %v", ops)
	}
}

// gatedStore wraps a snapshot store so a test can hold one Set open and
// observe what a write landing in that window does to the snapshot.
type gatedStore struct {
	cache.Store
	mu      sync.Mutex
	armed   bool
	entered chan struct{}
	release chan struct{}
}

func (g *gatedStore) arm() {
	g.mu.Lock()
	g.armed = true
	g.mu.Unlock()
}

func (g *gatedStore) Set(ctx context.Context, orgID, tableID string, snap *cache.Snapshot) error {
	g.mu.Lock()
	armed := g.armed
	g.armed = false
	g.mu.Unlock()
	if armed {
		g.entered <- struct{}{}
		<-g.release
	}
	return g.Store.Set(ctx, orgID, tableID, snap)
}

func TestPushDuringReconcileIsNotLost(t *testing.T) {
	transport := &fakeTransport{raw: seededRaw()}
	gs := &gatedStore{
		Store:   cache.NewMemory(),
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	eng, err := New("org", "tbl", Options{
		User:      "tester",
		Transport: transport,
		Cache:     gs,
		Debounce:  time.Minute, // sync is driven by hand below
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(eng.Close)
	ctx := context.Background()
	if err := eng.Load(ctx); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if err := eng.Push(ctx, cellEditEntry(0, 0, "first"), false); err != nil {
		t.Fatalf("Push failed: %v", err)
	}

	// Hold the reconciliation's snapshot publish open...
	gs.arm()
	syncDone := make(chan struct{})
	go func() {
		eng.Sync(ctx)
		close(syncDone)
	}()
	<-gs.entered

	// ...and land a second edit while it is open. It must wait for the
	// reconciled pair rather than being cloned over.
	pushDone := make(chan error, 1)
	go func() {
		pushDone <- eng.Push(ctx, cellEditEntry(1, 1, "second"), false)
	}()
	time.Sleep(20 * time.Millisecond)

	close(gs.release)
	<-syncDone
	if err := <-pushDone; err != nil {
		t.Fatalf("racing push failed: %v", err)
	}

	if got := eng.Table(ctx).Cells[table.CoordKey(1, 1)].Value; got != "second" {
		t.Errorf("cell (1,1) = %v, want second", got)
	}
	if got := eng.Table(ctx).Cells[table.CoordKey(0, 0)].Value; got != "first" {
		t.Errorf("cell (0,0) = %v, want first", got)
	}
}

func TestInsertColumnUndoRestoresMapping(t *testing.T) {
	raw := table.RawTable{
		OrganizationID: "org",
		ID:             "tbl",
		Mode:           table.ModeTable,
		Columns:        []table.Column{{ColumnIndex: 1, UUID: "col-b", Type: table.TypeNumber, Name: "B"}},
	}
	transport := &fakeTransport{raw: raw}
	eng := newTestEngine(t, transport)
	ctx := context.Background()

	original := eng.Table(ctx).Columns
	idx := 0
	newUUID := "col-inserted"
	entry := Entry{
		Redos: []patch.Operation{patch.AddColumn{Data: table.ColumnPatch{ColumnIndex: &idx, UUID: &newUUID}}},
		Undos: []patch.Operation{patch.DeleteColumn{UUID: newUUID}},
	}

	if err := eng.Push(ctx, entry, true); err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	if _, ok := eng.Table(ctx).Columns[0]; !ok {
		t.Fatal("inserted column missing after redo")
	}

	if err := eng.Undo(ctx); err != nil {
		t.Fatalf("Undo failed: %v", err)
	}
	if !reflect.DeepEqual(eng.Table(ctx).Columns, original) {
		t.Errorf("column mapping not restored:\n got %+v\nwant %+v", eng.Table(ctx).Columns, original)
	}
}

func TestUndoRedoRoundTrip(t *testing.T) {
	transport := &fakeTransport{raw: seededRaw()}
	eng := newTestEngine(t, transport)
	ctx := context.Background()

	prev := any(nil)
	next := any("edited")
	entry := Entry{
		Redos: []patch.Operation{patch.UpdateCell{Data: table.CellPatch{RowIndex: 0, ColumnIndex: 0, Value: &next}}},
		Undos: []patch.Operation{patch.UpdateCell{Data: table.CellPatch{RowIndex: 0, ColumnIndex: 0, Value: &prev}}},
	}
	if err := eng.Push(ctx, entry, true); err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	if err := eng.Undo(ctx); err != nil {
		t.Fatalf("Undo failed: %v", err)
	}
	if got := eng.Table(ctx).Cells[table.CoordKey(0, 0)].Value; got != nil {
		t.Errorf("value after undo = %v, want nil", got)
	}
	if err := eng.Redo(ctx); err != nil {
		t.Fatalf("Redo failed: %v", err)
	}
	if got := eng.Table(ctx).Cells[table.CoordKey(0, 0)].Value; got != "edited" {
		t.Errorf("value after redo = %v, want edited", got)
	}
}
