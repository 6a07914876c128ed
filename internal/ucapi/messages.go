package ucapi

import (
	"encoding/json"
	"time"
)

const (
	kindReq   = "req"
	kindResp  = "resp"
	kindEvent = "event"
)

// Hub requests.
const (
	msgGetDriverVersion     = "get_driver_version"
	msgGetDriverMetadata    = "get_driver_metadata"
	msgGetDeviceState       = "get_device_state"
	msgGetAvailableEntities = "get_available_entities"
	msgGetEntityStates      = "get_entity_states"
	msgSubscribeEvents      = "subscribe_events"
	msgUnsubscribeEvents    = "unsubscribe_events"
	msgEntityCommand        = "entity_command"
)

// Driver responses and events.
const (
	msgAuthentication    = "authentication"
	msgResult            = "result"
	msgDriverVersion     = "driver_version"
	msgDriverMetadata    = "driver_metadata"
	msgDeviceState       = "device_state"
	msgAvailableEntities = "available_entities"
	msgEntityStates      = "entity_states"
	msgEntityChange      = "entity_change"
)

const (
	catDevice = "DEVICE"
	catEntity = "ENTITY"
)

type inbound struct {
	Kind    string          `json:"kind"`
	ID      int64           `json:"id"`
	Msg     string          `json:"msg"`
	MsgData json.RawMessage `json:"msg_data,omitempty"`
}

type response struct {
	Kind    string     `json:"kind"`
	ReqID   int64      `json:"req_id"`
	Code    StatusCode `json:"code"`
	Msg     string     `json:"msg"`
	MsgData any        `json:"msg_data,omitempty"`
}

type event struct {
	Kind    string `json:"kind"`
	Msg     string `json:"msg"`
	Cat     string `json:"cat"`
	TS      string `json:"ts"`
	MsgData any    `json:"msg_data,omitempty"`
}

func newEvent(msg, cat string, data any) event {
	return event{Kind: kindEvent, Msg: msg, Cat: cat, TS: time.Now().UTC().Format(time.RFC3339Nano), MsgData: data}
}

type entityIDsData struct {
	EntityIDs []string `json:"entity_ids"`
}

type entityCommandData struct {
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	CmdID      string         `json:"cmd_id"`
	Params     map[string]any `json:"params,omitempty"`
}

type driverVersion struct {
	Name    string            `json:"name"`
	Version map[string]string `json:"version"`
}
