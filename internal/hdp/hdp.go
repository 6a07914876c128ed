// Package hdp announces the media player entities on the homenavi device
// protocol and relays HDP commands into the integration.
package hdp

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/Kat-CeDe/ucr2-integration-requests/internal/logging"
	"github.com/Kat-CeDe/ucr2-integration-requests/internal/mqtt"
	"github.com/Kat-CeDe/ucr2-integration-requests/internal/ucapi"
)

const (
	hdpSchema              = "hdp.v1"
	hdpProtocol            = "requests"
	hdpMetadataPrefix      = "homenavi/hdp/device/metadata/"
	hdpStatePrefix         = "homenavi/hdp/device/state/"
	hdpCommandPrefix       = "homenavi/hdp/device/command/"
	hdpCommandResultPrefix = "homenavi/hdp/device/command_result/"
	hdpAdapterHelloTopic   = "homenavi/hdp/adapter/hello"
	hdpAdapterStatusPrefix = "homenavi/hdp/adapter/status/"

	heartbeatSpec = "@every 20s"
)

// Relay executes an entity command the same way a hub request would.
type Relay interface {
	AvailableEntities() *ucapi.Entities
	ExecuteCommand(ctx context.Context, entityID, cmdID string, params map[string]any) ucapi.StatusCode
}

type Config struct {
	AdapterID string
	Version   string
}

type Bridge struct {
	client    mqtt.ClientAPI
	relay     Relay
	adapterID string
	version   string
	log       *slog.Logger
	cron      *cron.Cron
	ctx       context.Context
	cancel    context.CancelFunc
	now       func() time.Time
}

func New(client mqtt.ClientAPI, relay Relay, cfg Config) *Bridge {
	return &Bridge{
		client:    client,
		relay:     relay,
		adapterID: cfg.AdapterID,
		version:   cfg.Version,
		log:       logging.Named("hdp"),
		cron:      cron.New(),
		now:       time.Now,
	}
}

// StatusTopic is where the retained adapter status is published; callers
// use it for the broker will.
func StatusTopic(adapterID string) string { return hdpAdapterStatusPrefix + adapterID }

func (b *Bridge) Start(ctx context.Context) error {
	b.ctx, b.cancel = context.WithCancel(ctx)
	b.publishHello()
	b.publishStatus("online", "startup")
	for _, e := range b.relay.AvailableEntities().All() {
		b.publishMetadata(e)
	}
	if err := b.client.Subscribe(hdpCommandPrefix+hdpProtocol+"/#", b.handleDeviceCommand); err != nil {
		return err
	}
	if _, err := b.cron.AddFunc(heartbeatSpec, func() { b.publishStatus("online", "heartbeat") }); err != nil {
		return err
	}
	b.cron.Start()
	b.log.Info("hdp bridge running", "adapter_id", b.adapterID)
	return nil
}

func (b *Bridge) Stop() {
	b.log.Info("hdp bridge stopping")
	<-b.cron.Stop().Done()
	if b.cancel != nil {
		b.cancel()
	}
	b.publishStatus("offline", "shutdown")
}

// OfflineStatus is the payload used as the broker will.
func OfflineStatus(adapterID, version string) []byte {
	b, _ := json.Marshal(statusEnvelope(adapterID, version, "offline", "connection_lost", time.Now()))
	return b
}

func statusEnvelope(adapterID, version, status, reason string, ts time.Time) map[string]any {
	return map[string]any{
		"schema":     hdpSchema,
		"type":       "status",
		"adapter_id": adapterID,
		"protocol":   hdpProtocol,
		"status":     status,
		"reason":     reason,
		"version":    version,
		"features": map[string]any{
			"supports_pairing":   false,
			"supports_interview": false,
		},
		"ts": ts.UnixMilli(),
	}
}

func (b *Bridge) publishHello() {
	if b.adapterID == "" {
		return
	}
	env := map[string]any{
		"schema":      hdpSchema,
		"type":        "hello",
		"adapter_id":  b.adapterID,
		"protocol":    hdpProtocol,
		"version":     b.version,
		"hdp_version": "1.0",
		"features": map[string]any{
			"supports_ack":         true,
			"supports_correlation": true,
			"supports_batch_state": false,
			"supports_pairing":     false,
			"supports_interview":   false,
		},
		"ts": b.now().UnixMilli(),
	}
	b.publishJSON(hdpAdapterHelloTopic, env, false)
}

func (b *Bridge) publishStatus(status, reason string) {
	if b.adapterID == "" {
		return
	}
	b.publishJSON(StatusTopic(b.adapterID), statusEnvelope(b.adapterID, b.version, status, reason, b.now()), true)
}

func (b *Bridge) publishMetadata(e *ucapi.Entity) {
	env := map[string]any{
		"schema":    hdpSchema,
		"type":      "metadata",
		"device_id": deviceID(e.ID),
		"protocol":  hdpProtocol,
		"name":      e.Name,
		"model":     string(e.Type),
		"capabilities": []map[string]any{{
			"id":     ucapi.CmdSelectSource,
			"kind":   "text",
			"access": map[string]bool{"read": false, "write": true},
		}},
		"ts": b.now().UnixMilli(),
	}
	b.publishJSON(hdpMetadataPrefix+deviceID(e.ID), env, true)
}

func (b *Bridge) publishState(entityID string, attrs map[string]any) {
	env := map[string]any{
		"schema":    hdpSchema,
		"type":      "state",
		"device_id": deviceID(entityID),
		"state":     attrs,
		"ts":        b.now().UnixMilli(),
	}
	b.publishJSON(hdpStatePrefix+deviceID(entityID), env, true)
}

func (b *Bridge) publishCommandResult(entityID, corr string, code ucapi.StatusCode) {
	env := map[string]any{
		"schema":    hdpSchema,
		"type":      "command_result",
		"device_id": deviceID(entityID),
		"corr":      corr,
		"success":   code == ucapi.StatusOK,
		"status":    code.String(),
		"code":      int(code),
		"ts":        b.now().UnixMilli(),
	}
	if code != ucapi.StatusOK {
		env["error"] = "command failed with status " + code.String()
	}
	b.publishJSON(hdpCommandResultPrefix+deviceID(entityID), env, false)
}

func (b *Bridge) publishJSON(topic string, v any, retain bool) {
	payload, err := json.Marshal(v)
	if err != nil {
		b.log.Warn("hdp encode failed", "topic", topic, "error", err)
		return
	}
	if err := b.client.PublishWith(topic, payload, retain); err != nil {
		b.log.Warn("hdp publish failed", "topic", topic, "error", err)
	}
}

func deviceID(entityID string) string { return hdpProtocol + "/" + entityID }

// entityFromDeviceID accepts "requests/<id>" or a bare id.
func entityFromDeviceID(id string) string {
	id = strings.Trim(strings.TrimSpace(id), "/")
	if rest, ok := strings.CutPrefix(id, hdpProtocol+"/"); ok {
		return rest
	}
	return id
}

type commandEnvelope struct {
	DeviceID      string         `json:"device_id"`
	Command       string         `json:"command"`
	Args          map[string]any `json:"args"`
	Corr          string         `json:"corr"`
	CorrelationID string         `json:"correlation_id"`
}

func (b *Bridge) handleDeviceCommand(topic string, payload []byte) {
	var env commandEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		b.log.Debug("hdp command decode failed", "topic", topic, "error", err)
		return
	}
	dev := env.DeviceID
	if dev == "" {
		dev = strings.TrimPrefix(topic, hdpCommandPrefix)
	}
	entityID := entityFromDeviceID(dev)
	if entityID == "" {
		return
	}
	corr := env.Corr
	if corr == "" {
		corr = env.CorrelationID
	}
	if corr == "" {
		corr = "cmd-" + uuid.NewString()
	}
	cmd := env.Command
	if cmd == "" {
		cmd = ucapi.CmdSelectSource
	}

	ctx := b.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	code := b.relay.ExecuteCommand(ctx, entityID, cmd, env.Args)
	b.log.Info("hdp command relayed", "entity_id", entityID, "cmd_id", cmd, "corr", corr, "status", code)
	b.publishCommandResult(entityID, corr, code)
	if code == ucapi.StatusOK {
		if e, ok := b.relay.AvailableEntities().Snapshot(entityID); ok {
			b.publishState(entityID, e.Attributes)
		}
	}
}
