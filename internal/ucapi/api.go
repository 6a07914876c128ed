package ucapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Kat-CeDe/ucr2-integration-requests/internal/logging"
)

type Options struct {
	Interface   string
	Port        int
	DisableMDNS bool
	// DriverFile is the path of the driver metadata JSON (driver.json).
	DriverFile string
}

// API is the integration side of the hub connection. Driver callbacks are
// registered with ListensTo and run one at a time.
type API struct {
	opts Options
	log  *slog.Logger

	available  *Entities
	configured *Entities

	mu       sync.Mutex
	handlers map[Event]EventHandler
	state    DeviceState
	metadata map[string]any

	// loop serialises driver callbacks; each one runs to completion before
	// the next event or command is delivered.
	loop sync.Mutex

	upgrader   websocket.Upgrader
	sessionsMu sync.Mutex
	sessions   map[*session]struct{}
}

func New(opts Options) *API {
	return &API{
		opts:       opts,
		log:        logging.Named("ucapi.api"),
		available:  NewEntities("available"),
		configured: NewEntities("configured"),
		handlers:   map[Event]EventHandler{},
		state:      DeviceDisconnected,
		metadata:   map[string]any{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(_ *http.Request) bool {
				// The remote connects from the local network without an Origin.
				return true
			},
		},
		sessions: map[*session]struct{}{},
	}
}

// Init loads the driver metadata file. A missing file leaves the metadata
// empty; a malformed one is an error.
func (a *API) Init(_ context.Context) error {
	if a.opts.DriverFile == "" {
		return nil
	}
	b, err := os.ReadFile(a.opts.DriverFile)
	if errors.Is(err, os.ErrNotExist) {
		a.log.Warn("driver metadata not found", "path", a.opts.DriverFile)
		return nil
	}
	if err != nil {
		return fmt.Errorf("read driver metadata: %w", err)
	}
	md := map[string]any{}
	if err := json.Unmarshal(b, &md); err != nil {
		return fmt.Errorf("decode driver metadata %s: %w", a.opts.DriverFile, err)
	}
	a.mu.Lock()
	a.metadata = md
	a.mu.Unlock()
	a.log.Debug("driver metadata loaded", "driver_id", a.DriverID(), "version", a.driverVersionString())
	return nil
}

func (a *API) AvailableEntities() *Entities  { return a.available }
func (a *API) ConfiguredEntities() *Entities { return a.configured }

// ListensTo registers h for ev, replacing any previous handler.
func (a *API) ListensTo(ev Event, h EventHandler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handlers[ev] = h
}

func (a *API) DeviceState() DeviceState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// SetDeviceState records state and notifies every connected hub session.
func (a *API) SetDeviceState(_ context.Context, state DeviceState) error {
	a.mu.Lock()
	a.state = state
	a.mu.Unlock()
	a.log.Debug("device state changed", "state", state)
	return a.broadcast(newEvent(msgDeviceState, catDevice, map[string]any{"state": state}))
}

// UpdateEntityAttributes merges attrs into the entity in both registries and
// sends an entity_change event.
func (a *API) UpdateEntityAttributes(_ context.Context, entityID string, attrs map[string]any) error {
	inAvailable := a.available.UpdateAttributes(entityID, attrs)
	inConfigured := a.configured.UpdateAttributes(entityID, attrs)
	if !inAvailable && !inConfigured {
		return fmt.Errorf("update attributes %s: %w", entityID, ErrEntityNotFound)
	}
	e, _ := a.lookupEntity(entityID)
	return a.broadcast(newEvent(msgEntityChange, catEntity, map[string]any{
		"entity_type": e.Type,
		"entity_id":   entityID,
		"attributes":  attrs,
	}))
}

func (a *API) DriverID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if v, ok := a.metadata["driver_id"].(string); ok {
		return v
	}
	return "intg-requests"
}

func (a *API) driverVersionString() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if v, ok := a.metadata["version"].(string); ok {
		return v
	}
	return "0.0.0"
}

func (a *API) driverName() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if n, ok := a.metadata["name"].(map[string]any); ok {
		if en, ok := n["en"].(string); ok {
			return en
		}
	}
	return "intg-requests"
}

func (a *API) metadataCopy() map[string]any {
	a.mu.Lock()
	defer a.mu.Unlock()
	return maps.Clone(a.metadata)
}

// Serve runs the WebSocket endpoint until ctx is done.
func (a *API) Serve(ctx context.Context) error {
	addr := net.JoinHostPort(a.opts.Interface, strconv.Itoa(a.opts.Port))
	srv := &http.Server{Addr: addr, Handler: a, ReadHeaderTimeout: 5 * time.Second}

	if !a.opts.DisableMDNS {
		stop, err := publishMDNS(a.DriverID(), a.driverName(), a.driverVersionString(), a.opts.Port)
		if err != nil {
			a.log.Warn("mdns publish failed", "error", err)
		} else {
			defer stop()
		}
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		a.closeSessions()
	}()

	a.log.Info("integration api listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("integration api: %w", err)
	}
	return nil
}

func (a *API) emit(ctx context.Context, ev Event, entityIDs []string) {
	a.mu.Lock()
	h := a.handlers[ev]
	a.mu.Unlock()
	if h == nil {
		a.log.Debug("no handler for event", "event", ev)
		return
	}
	a.loop.Lock()
	defer a.loop.Unlock()
	if err := h(ctx, entityIDs); err != nil {
		a.log.Error("event handler failed", "event", ev, "error", err)
	}
}

func (a *API) lookupEntity(id string) (*Entity, bool) {
	if e, ok := a.configured.Get(id); ok {
		return e, true
	}
	return a.available.Get(id)
}

// ExecuteCommand runs the entity's command handler under the event loop.
func (a *API) ExecuteCommand(ctx context.Context, entityID, cmdID string, params map[string]any) StatusCode {
	e, ok := a.lookupEntity(entityID)
	if !ok {
		a.log.Warn("command for unknown entity", "entity_id", entityID, "cmd_id", cmdID)
		return StatusNotFound
	}
	h := e.Handler()
	if h == nil {
		return StatusNotImplemented
	}
	a.loop.Lock()
	defer a.loop.Unlock()
	return h(ctx, e, cmdID, params)
}

func (a *API) subscribe(ctx context.Context, ids []string) {
	for _, id := range ids {
		e, ok := a.available.Snapshot(id)
		if !ok {
			a.log.Warn("subscribe for unknown entity", "entity_id", id)
			continue
		}
		_ = a.configured.Add(e)
	}
	a.emit(ctx, EventSubscribeEntities, ids)
}

func (a *API) unsubscribe(ctx context.Context, ids []string) {
	for _, id := range ids {
		a.configured.Remove(id)
	}
	a.emit(ctx, EventUnsubscribeEntities, ids)
}

func (a *API) handleRequest(ctx context.Context, s *session, in inbound) {
	switch in.Msg {
	case msgGetDriverVersion:
		s.respond(in.ID, StatusOK, msgDriverVersion, driverVersion{
			Name:    a.DriverID(),
			Version: map[string]string{"api": APIVersion, "driver": a.driverVersionString()},
		})
	case msgGetDriverMetadata:
		s.respond(in.ID, StatusOK, msgDriverMetadata, a.metadataCopy())
	case msgGetDeviceState:
		s.sendEvent(newEvent(msgDeviceState, catDevice, map[string]any{"state": a.DeviceState()}))
	case msgGetAvailableEntities:
		s.respond(in.ID, StatusOK, msgAvailableEntities, map[string]any{"available_entities": a.available.definitions()})
	case msgGetEntityStates:
		s.respond(in.ID, StatusOK, msgEntityStates, a.configured.states())
	case msgSubscribeEvents, msgUnsubscribeEvents:
		var data entityIDsData
		if len(in.MsgData) > 0 {
			if err := json.Unmarshal(in.MsgData, &data); err != nil {
				s.respond(in.ID, StatusBadRequest, msgResult, nil)
				return
			}
		}
		if in.Msg == msgSubscribeEvents {
			a.subscribe(ctx, data.EntityIDs)
		} else {
			a.unsubscribe(ctx, data.EntityIDs)
		}
		s.respond(in.ID, StatusOK, msgResult, nil)
	case msgEntityCommand:
		var data entityCommandData
		if err := json.Unmarshal(in.MsgData, &data); err != nil || data.EntityID == "" || data.CmdID == "" {
			s.respond(in.ID, StatusBadRequest, msgResult, nil)
			return
		}
		code := a.ExecuteCommand(ctx, data.EntityID, data.CmdID, data.Params)
		s.respond(in.ID, code, msgResult, nil)
	default:
		a.log.Debug("unsupported request", "msg", in.Msg)
		s.respond(in.ID, StatusBadRequest, msgResult, nil)
	}
}

func (a *API) handleEvent(ctx context.Context, in inbound) {
	switch Event(in.Msg) {
	case EventConnect, EventDisconnect, EventEnterStandby, EventExitStandby:
		a.emit(ctx, Event(in.Msg), nil)
	default:
		a.log.Debug("unsupported event", "msg", in.Msg)
	}
}
