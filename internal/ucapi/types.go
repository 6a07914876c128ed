// Package ucapi is the hub-facing integration framework: it owns the
// WebSocket connection to the remote, the entity registries and the delivery
// of hub events to driver callbacks.
package ucapi

import (
	"context"
	"errors"
	"strconv"
)

const APIVersion = "0.2.0"

var (
	ErrEntityExists   = errors.New("entity already exists")
	ErrEntityNotFound = errors.New("entity not found")
)

// StatusCode is the result code returned to the hub for requests and
// entity commands. Values follow HTTP semantics.
type StatusCode int

const (
	StatusOK                 StatusCode = 200
	StatusBadRequest         StatusCode = 400
	StatusUnauthorized       StatusCode = 401
	StatusNotFound           StatusCode = 404
	StatusTimeout            StatusCode = 408
	StatusConflict           StatusCode = 409
	StatusServerError        StatusCode = 500
	StatusNotImplemented     StatusCode = 501
	StatusServiceUnavailable StatusCode = 503
)

func (c StatusCode) String() string {
	switch c {
	case StatusOK:
		return "OK"
	case StatusBadRequest:
		return "BAD_REQUEST"
	case StatusUnauthorized:
		return "UNAUTHORIZED"
	case StatusNotFound:
		return "NOT_FOUND"
	case StatusTimeout:
		return "TIMEOUT"
	case StatusConflict:
		return "CONFLICT"
	case StatusServerError:
		return "SERVER_ERROR"
	case StatusNotImplemented:
		return "NOT_IMPLEMENTED"
	case StatusServiceUnavailable:
		return "SERVICE_UNAVAILABLE"
	default:
		return "STATUS_" + strconv.Itoa(int(c))
	}
}

type DeviceState string

const (
	DeviceConnected    DeviceState = "CONNECTED"
	DeviceConnecting   DeviceState = "CONNECTING"
	DeviceDisconnected DeviceState = "DISCONNECTED"
	DeviceError        DeviceState = "ERROR"
)

// Event names a hub notification a driver can listen to.
type Event string

const (
	EventConnect             Event = "connect"
	EventDisconnect          Event = "disconnect"
	EventEnterStandby        Event = "enter_standby"
	EventExitStandby         Event = "exit_standby"
	EventSubscribeEntities   Event = "subscribe_entities"
	EventUnsubscribeEntities Event = "unsubscribe_entities"
)

// EventHandler receives a hub notification. entityIDs is only set for the
// subscribe and unsubscribe events.
type EventHandler func(ctx context.Context, entityIDs []string) error

// CommandHandler executes an entity command and returns the status reported
// to the hub. params is nil when the hub sent none.
type CommandHandler func(ctx context.Context, entity *Entity, cmdID string, params map[string]any) StatusCode

type EntityType string

const EntityTypeMediaPlayer EntityType = "media_player"

type MediaPlayerFeature string

const FeatureSelectSource MediaPlayerFeature = "select_source"

const (
	CmdOn           = "on"
	CmdSelectSource = "select_source"
)

const (
	AttrState  = "state"
	AttrSource = "source"
)

const StateOn = "ON"
