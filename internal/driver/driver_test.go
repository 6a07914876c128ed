package driver

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/Kat-CeDe/ucr2-integration-requests/internal/history"
	"github.com/Kat-CeDe/ucr2-integration-requests/internal/setup"
	"github.com/Kat-CeDe/ucr2-integration-requests/internal/ucapi"
)

type fakeFramework struct {
	available *ucapi.Entities
	handlers  map[ucapi.Event]ucapi.EventHandler
	states    []ucapi.DeviceState
	updates   map[string]map[string]any
}

func newFakeFramework() *fakeFramework {
	return &fakeFramework{
		available: ucapi.NewEntities("available"),
		handlers:  map[ucapi.Event]ucapi.EventHandler{},
		updates:   map[string]map[string]any{},
	}
}

func (f *fakeFramework) AvailableEntities() *ucapi.Entities { return f.available }

func (f *fakeFramework) SetDeviceState(_ context.Context, s ucapi.DeviceState) error {
	f.states = append(f.states, s)
	return nil
}

func (f *fakeFramework) ListensTo(ev ucapi.Event, h ucapi.EventHandler) { f.handlers[ev] = h }

func (f *fakeFramework) UpdateEntityAttributes(_ context.Context, id string, attrs map[string]any) error {
	f.updates[id] = attrs
	return nil
}

type fakeStore struct {
	cmds    []string
	values  map[string]any
	sets    int
	cmdsErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		cmds: []string{"a", "b"},
		values: map[string]any{
			"id-a": "p1", "name-a": "Device 1",
			"id-b": "p2", "name-b": "Device 2",
		},
	}
}

func (s *fakeStore) Commands() ([]string, error) { return s.cmds, s.cmdsErr }

func (s *fakeStore) GetString(key string) (string, error) {
	v, ok := s.values[key].(string)
	if !ok {
		return "", setup.ErrKeyNotFound
	}
	return v, nil
}

func (s *fakeStore) Set(key string, value any) error {
	s.sets++
	s.values[key] = value
	return nil
}

type fakeDispatcher struct {
	code   ucapi.StatusCode
	calls  int
	entity string
	cmd    string
	params map[string]any
}

func (d *fakeDispatcher) Dispatch(_ context.Context, entityID, cmdID string, params map[string]any) ucapi.StatusCode {
	d.calls++
	d.entity, d.cmd, d.params = entityID, cmdID, params
	return d.code
}

type fakeRecorder struct {
	recs []*history.CommandRecord
}

func (r *fakeRecorder) Insert(_ context.Context, rec *history.CommandRecord) error {
	r.recs = append(r.recs, rec)
	return nil
}

type fakeCache struct {
	mu    sync.Mutex
	attrs map[string]map[string]any
}

func (c *fakeCache) SaveAttributes(_ context.Context, id string, attrs map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attrs[id] = attrs
	return nil
}

func (c *fakeCache) LoadAttributes(_ context.Context, id string) (map[string]any, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.attrs[id]
	return a, ok, nil
}

func TestStartCheckRegistersEachCommandOnce(t *testing.T) {
	fw, store := newFakeFramework(), newFakeStore()
	d := New(fw, store, &fakeDispatcher{}, Options{})
	ctx := context.Background()

	if err := d.StartCheck(ctx); err != nil {
		t.Fatalf("start check: %v", err)
	}
	if err := d.StartCheck(ctx); err != nil {
		t.Fatalf("second start check: %v", err)
	}
	all := fw.available.All()
	if len(all) != 2 || all[0].ID != "p1" || all[1].ID != "p2" {
		t.Fatalf("unexpected entities: %+v", all)
	}
	e := all[0]
	if e.Name != "Device 1" || e.Type != ucapi.EntityTypeMediaPlayer {
		t.Fatalf("unexpected definition: %+v", e)
	}
	if len(e.Features) != 1 || e.Features[0] != string(ucapi.FeatureSelectSource) {
		t.Fatalf("unexpected features: %v", e.Features)
	}
	if len(e.Attributes) != 0 {
		t.Fatalf("expected no attributes, got %v", e.Attributes)
	}
	if e.Handler() == nil {
		t.Fatalf("expected bound command handler")
	}
}

func TestStartCheckSkipsExistingEntity(t *testing.T) {
	fw, store := newFakeFramework(), newFakeStore()
	existing := ucapi.NewMediaPlayer("p1", "Old", nil, nil, nil)
	if err := fw.available.Add(existing); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := New(fw, store, &fakeDispatcher{}, Options{}).StartCheck(context.Background()); err != nil {
		t.Fatalf("start check: %v", err)
	}
	got, _ := fw.available.Get("p1")
	if got != existing {
		t.Fatalf("existing entity was replaced")
	}
	if !fw.available.Contains("p2") {
		t.Fatalf("expected p2 to be added")
	}
}

func TestStartCheckPropagatesLookupError(t *testing.T) {
	fw, store := newFakeFramework(), newFakeStore()
	delete(store.values, "name-b")
	err := New(fw, store, &fakeDispatcher{}, Options{}).StartCheck(context.Background())
	if !errors.Is(err, setup.ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
	if !fw.available.Contains("p1") || fw.available.Contains("p2") {
		t.Fatalf("expected registration to stop at the failing command")
	}

	store = newFakeStore()
	store.cmdsErr = setup.ErrKeyNotFound
	if err := New(newFakeFramework(), store, &fakeDispatcher{}, Options{}).StartCheck(context.Background()); !errors.Is(err, setup.ErrKeyNotFound) {
		t.Fatalf("expected command list error, got %v", err)
	}
}

func TestHandleCommandReturnsDispatcherCode(t *testing.T) {
	for _, code := range []ucapi.StatusCode{ucapi.StatusOK, ucapi.StatusTimeout, ucapi.StatusServiceUnavailable, ucapi.StatusNotImplemented} {
		fw := newFakeFramework()
		disp := &fakeDispatcher{code: code}
		d := New(fw, newFakeStore(), disp, Options{})
		e := ucapi.NewMediaPlayer("p1", "Device 1", nil, nil, nil)
		params := map[string]any{"source": "http://example"}

		if got := d.HandleCommand(context.Background(), e, ucapi.CmdSelectSource, params); got != code {
			t.Fatalf("expected %v, got %v", code, got)
		}
		if disp.calls != 1 || disp.entity != "p1" || disp.cmd != ucapi.CmdSelectSource || disp.params["source"] != "http://example" {
			t.Fatalf("dispatcher got %+v", disp)
		}
	}
}

func TestHandleCommandWithoutParams(t *testing.T) {
	disp := &fakeDispatcher{code: ucapi.StatusNotImplemented}
	d := New(newFakeFramework(), newFakeStore(), disp, Options{})
	e := ucapi.NewMediaPlayer("p1", "Device 1", nil, nil, nil)
	if got := d.HandleCommand(context.Background(), e, ucapi.CmdOn, nil); got != ucapi.StatusNotImplemented {
		t.Fatalf("unexpected code %v", got)
	}
	if disp.params != nil {
		t.Fatalf("expected nil params, got %v", disp.params)
	}
}

func TestHandleCommandRecordsAndPushesAttributes(t *testing.T) {
	fw := newFakeFramework()
	rec := &fakeRecorder{}
	cache := &fakeCache{attrs: map[string]map[string]any{}}
	d := New(fw, newFakeStore(), &fakeDispatcher{code: ucapi.StatusOK}, Options{History: rec, Cache: cache})
	e := ucapi.NewMediaPlayer("p1", "Device 1", nil, nil, nil)

	d.HandleCommand(context.Background(), e, ucapi.CmdSelectSource, map[string]any{"source": "AA:BB:CC:DD:EE:FF"})

	if len(rec.recs) != 1 || rec.recs[0].EntityID != "p1" || rec.recs[0].Code != 200 {
		t.Fatalf("unexpected history: %+v", rec.recs)
	}
	if string(rec.recs[0].Params) != `{"source":"AA:BB:CC:DD:EE:FF"}` {
		t.Fatalf("unexpected params: %s", rec.recs[0].Params)
	}
	if fw.updates["p1"][ucapi.AttrState] != ucapi.StateOn || fw.updates["p1"][ucapi.AttrSource] != "AA:BB:CC:DD:EE:FF" {
		t.Fatalf("unexpected attributes: %v", fw.updates["p1"])
	}
	if _, ok := cache.attrs["p1"]; !ok {
		t.Fatalf("expected cached attributes")
	}
}

func TestHandleCommandFailureSkipsAttributes(t *testing.T) {
	fw := newFakeFramework()
	rec := &fakeRecorder{}
	d := New(fw, newFakeStore(), &fakeDispatcher{code: ucapi.StatusBadRequest}, Options{History: rec})
	e := ucapi.NewMediaPlayer("p1", "Device 1", nil, nil, nil)

	if got := d.HandleCommand(context.Background(), e, ucapi.CmdSelectSource, map[string]any{"source": ""}); got != ucapi.StatusBadRequest {
		t.Fatalf("unexpected code %v", got)
	}
	if len(fw.updates) != 0 {
		t.Fatalf("expected no attribute update, got %v", fw.updates)
	}
	if len(rec.recs) != 1 || rec.recs[0].Code != 400 {
		t.Fatalf("failed command should still be recorded: %+v", rec.recs)
	}
}

func TestLifecycleEvents(t *testing.T) {
	fw, store := newFakeFramework(), newFakeStore()
	d := New(fw, store, &fakeDispatcher{}, Options{})
	d.Register()
	ctx := context.Background()

	for _, ev := range []ucapi.Event{ucapi.EventConnect, ucapi.EventDisconnect, ucapi.EventEnterStandby, ucapi.EventExitStandby, ucapi.EventSubscribeEntities, ucapi.EventUnsubscribeEntities} {
		if fw.handlers[ev] == nil {
			t.Fatalf("no handler registered for %s", ev)
		}
	}

	if err := fw.handlers[ucapi.EventConnect](ctx, nil); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := fw.handlers[ucapi.EventDisconnect](ctx, nil); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if len(fw.states) != 2 || fw.states[0] != ucapi.DeviceConnected || fw.states[1] != ucapi.DeviceDisconnected {
		t.Fatalf("unexpected device states: %v", fw.states)
	}

	if err := fw.handlers[ucapi.EventEnterStandby](ctx, nil); err != nil {
		t.Fatalf("enter standby: %v", err)
	}
	if store.values[setup.KeyStandby] != true {
		t.Fatalf("expected standby=true")
	}
	if err := fw.handlers[ucapi.EventExitStandby](ctx, nil); err != nil {
		t.Fatalf("exit standby: %v", err)
	}
	if store.values[setup.KeyStandby] != false {
		t.Fatalf("expected standby=false")
	}

	store.values[setup.KeyStandby] = true
	if err := fw.handlers[ucapi.EventSubscribeEntities](ctx, []string{"p1"}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if store.values[setup.KeyStandby] != false {
		t.Fatalf("subscribe should clear standby")
	}

	sets := store.sets
	if err := fw.handlers[ucapi.EventUnsubscribeEntities](ctx, []string{"p1"}); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	if store.sets != sets {
		t.Fatalf("unsubscribe must not touch the store")
	}
}

func TestEnterStandbyIsIdempotent(t *testing.T) {
	store := newFakeStore()
	d := New(newFakeFramework(), store, &fakeDispatcher{}, Options{})
	for range 2 {
		if err := d.OnEnterStandby(context.Background(), nil); err != nil {
			t.Fatalf("enter standby: %v", err)
		}
	}
	if store.values[setup.KeyStandby] != true {
		t.Fatalf("expected standby=true")
	}
}

func TestSubscribeReplaysCachedAttributes(t *testing.T) {
	fw := newFakeFramework()
	cache := &fakeCache{attrs: map[string]map[string]any{
		"p1": {ucapi.AttrState: ucapi.StateOn, ucapi.AttrSource: "http://x"},
	}}
	d := New(fw, newFakeStore(), &fakeDispatcher{}, Options{Cache: cache})

	if err := d.OnSubscribe(context.Background(), []string{"p1", "p2"}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if fw.updates["p1"][ucapi.AttrSource] != "http://x" {
		t.Fatalf("expected replayed attributes, got %v", fw.updates)
	}
	if _, ok := fw.updates["p2"]; ok {
		t.Fatalf("p2 has no cached state")
	}
}
