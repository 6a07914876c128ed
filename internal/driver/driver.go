// Package driver registers a media player entity per configured command and
// answers the hub's lifecycle events.
package driver

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"gorm.io/datatypes"

	"github.com/Kat-CeDe/ucr2-integration-requests/internal/history"
	"github.com/Kat-CeDe/ucr2-integration-requests/internal/logging"
	"github.com/Kat-CeDe/ucr2-integration-requests/internal/setup"
	"github.com/Kat-CeDe/ucr2-integration-requests/internal/ucapi"
)

// Framework is the part of the integration API the driver talks to.
type Framework interface {
	AvailableEntities() *ucapi.Entities
	SetDeviceState(ctx context.Context, state ucapi.DeviceState) error
	ListensTo(ev ucapi.Event, h ucapi.EventHandler)
	UpdateEntityAttributes(ctx context.Context, entityID string, attrs map[string]any) error
}

type ConfigStore interface {
	Commands() ([]string, error)
	GetString(key string) (string, error)
	Set(key string, value any) error
}

type Dispatcher interface {
	Dispatch(ctx context.Context, entityID, cmdID string, params map[string]any) ucapi.StatusCode
}

// Recorder stores executed commands.
type Recorder interface {
	Insert(ctx context.Context, rec *history.CommandRecord) error
}

// StateCache keeps the last attributes pushed for an entity.
type StateCache interface {
	SaveAttributes(ctx context.Context, entityID string, attrs map[string]any) error
	LoadAttributes(ctx context.Context, entityID string) (map[string]any, bool, error)
}

// Options carries the optional collaborators; nil fields are skipped.
type Options struct {
	History Recorder
	Cache   StateCache
}

type Driver struct {
	fw    Framework
	store ConfigStore
	disp  Dispatcher
	opts  Options
	log   *slog.Logger
	now   func() time.Time
}

func New(fw Framework, store ConfigStore, disp Dispatcher, opts Options) *Driver {
	return &Driver{
		fw:    fw,
		store: store,
		disp:  disp,
		opts:  opts,
		log:   logging.Named("driver"),
		now:   time.Now,
	}
}

// Register binds the lifecycle handlers to the framework.
func (d *Driver) Register() {
	d.fw.ListensTo(ucapi.EventConnect, d.OnConnect)
	d.fw.ListensTo(ucapi.EventDisconnect, d.OnDisconnect)
	d.fw.ListensTo(ucapi.EventEnterStandby, d.OnEnterStandby)
	d.fw.ListensTo(ucapi.EventExitStandby, d.OnExitStandby)
	d.fw.ListensTo(ucapi.EventSubscribeEntities, d.OnSubscribe)
	d.fw.ListensTo(ucapi.EventUnsubscribeEntities, d.OnUnsubscribe)
}

// StartCheck adds a media player for every configured command that is not
// yet an available entity. Store lookup errors are returned as is.
func (d *Driver) StartCheck(ctx context.Context) error {
	cmds, err := d.store.Commands()
	if err != nil {
		return err
	}
	for _, cmd := range cmds {
		id, err := d.store.GetString(setup.IDKey(cmd))
		if err != nil {
			return err
		}
		name, err := d.store.GetString(setup.NameKey(cmd))
		if err != nil {
			return err
		}
		if d.fw.AvailableEntities().Contains(id) {
			d.log.Debug("entity already available", "entity_id", id)
			continue
		}
		d.log.Info("adding available entity", "entity_id", id, "name", name)
		if err := d.AddMediaPlayer(ctx, id, name); err != nil {
			return err
		}
	}
	return nil
}

// AddMediaPlayer registers a select_source media player bound to the relay.
func (d *Driver) AddMediaPlayer(_ context.Context, id, name string) error {
	mp := ucapi.NewMediaPlayer(id, name, []ucapi.MediaPlayerFeature{ucapi.FeatureSelectSource}, nil, d.HandleCommand)
	if err := d.fw.AvailableEntities().Add(mp); err != nil {
		return err
	}
	d.log.Info("added media player entity", "entity_id", id, "name", name)
	return nil
}

// HandleCommand relays a hub command to the dispatcher and returns its
// status unchanged.
func (d *Driver) HandleCommand(ctx context.Context, entity *ucapi.Entity, cmdID string, params map[string]any) ucapi.StatusCode {
	if params == nil {
		d.log.Info("received command", "cmd_id", cmdID, "entity_id", entity.ID)
	} else {
		d.log.Info("received command", "cmd_id", cmdID, "params", params, "entity_id", entity.ID)
	}

	start := d.now()
	code := d.disp.Dispatch(ctx, entity.ID, cmdID, params)
	d.record(ctx, entity.ID, cmdID, params, code, d.now().Sub(start))

	if code == ucapi.StatusOK && cmdID == ucapi.CmdSelectSource {
		source, _ := params["source"].(string)
		d.pushAttributes(ctx, entity.ID, map[string]any{
			ucapi.AttrState:  ucapi.StateOn,
			ucapi.AttrSource: source,
		})
	}
	return code
}

func (d *Driver) record(ctx context.Context, entityID, cmdID string, params map[string]any, code ucapi.StatusCode, took time.Duration) {
	if d.opts.History == nil {
		return
	}
	var raw datatypes.JSON
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			d.log.Warn("encode command params failed", "entity_id", entityID, "error", err)
		} else {
			raw = b
		}
	}
	rec := &history.CommandRecord{
		EntityID:   entityID,
		CmdID:      cmdID,
		Params:     raw,
		Code:       int(code),
		DurationMs: took.Milliseconds(),
		TS:         d.now().UTC(),
	}
	if err := d.opts.History.Insert(ctx, rec); err != nil {
		d.log.Warn("record command failed", "entity_id", entityID, "error", err)
	}
}

func (d *Driver) pushAttributes(ctx context.Context, entityID string, attrs map[string]any) {
	if err := d.fw.UpdateEntityAttributes(ctx, entityID, attrs); err != nil {
		d.log.Warn("update entity attributes failed", "entity_id", entityID, "error", err)
	}
	if d.opts.Cache == nil {
		return
	}
	if err := d.opts.Cache.SaveAttributes(ctx, entityID, attrs); err != nil {
		d.log.Warn("cache entity attributes failed", "entity_id", entityID, "error", err)
	}
}

func (d *Driver) OnConnect(ctx context.Context, _ []string) error {
	d.log.Info("received connect event")
	return d.fw.SetDeviceState(ctx, ucapi.DeviceConnected)
}

// OnDisconnect reports DISCONNECTED. The hub keeps reconnecting while the
// integration is configured; nothing here suppresses that.
func (d *Driver) OnDisconnect(ctx context.Context, _ []string) error {
	d.log.Info("received disconnect event")
	return d.fw.SetDeviceState(ctx, ucapi.DeviceDisconnected)
}

func (d *Driver) OnEnterStandby(_ context.Context, _ []string) error {
	d.log.Info("received enter standby event")
	return d.setStandby(true)
}

func (d *Driver) OnExitStandby(_ context.Context, _ []string) error {
	d.log.Info("received exit standby event")
	return d.setStandby(false)
}

// OnSubscribe clears standby and replays cached attributes for ids.
func (d *Driver) OnSubscribe(ctx context.Context, ids []string) error {
	d.log.Info("received subscribe entities event", "entity_ids", ids)
	if err := d.setStandby(false); err != nil {
		return err
	}
	if d.opts.Cache == nil {
		return nil
	}
	for _, id := range ids {
		attrs, ok, err := d.opts.Cache.LoadAttributes(ctx, id)
		if err != nil {
			d.log.Warn("load cached attributes failed", "entity_id", id, "error", err)
			continue
		}
		if !ok {
			continue
		}
		if err := d.fw.UpdateEntityAttributes(ctx, id, attrs); err != nil {
			d.log.Warn("replay cached attributes failed", "entity_id", id, "error", err)
		}
	}
	return nil
}

func (d *Driver) OnUnsubscribe(_ context.Context, ids []string) error {
	d.log.Info("received unsubscribe entities event", "entity_ids", ids)
	return nil
}

func (d *Driver) setStandby(v bool) error {
	d.log.Debug("set standby flag", "standby", v)
	return d.store.Set(setup.KeyStandby, v)
}
