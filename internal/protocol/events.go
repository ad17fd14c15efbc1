package protocol

// Event types published to observers. One JSON object per event, framed as
// {"type": ..., "payload": ...}.
const (
	EventClientConnect    = "client_connect"
	EventClientDisconnect = "client_disconnect"
	EventUpdateTabName    = "update_tab_name"
	EventUpdateStatus     = "update_status"
	EventStatusUpdateJSON = "status_update_json"
	EventLog              = "log"
	EventMasterLog        = "master_log"
	EventClearMasterLog   = "clear_master_log"
)

// Control message types observers send back to the bridge.
const (
	ControlSendToClient    = "send_to_client"
	ControlRequestUsername = "request_username"
	ControlClearMasterLog  = "clear_master_log"
)

// Event is one observer-facing event ready for fan-out.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// ClientConnectPayload announces a newly accepted client.
type ClientConnectPayload struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ClientDisconnectPayload announces a removed client.
type ClientDisconnectPayload struct {
	ID string `json:"id"`
}

// TabNamePayload announces a display-name change.
type TabNamePayload struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// StatusFieldPayload carries a single well-known status field value.
type StatusFieldPayload struct {
	ID    string `json:"id"`
	Field string `json:"field"`
	Value any    `json:"value"`
}

// StatusUpdatePayload carries the full new status object plus the keys that
// actually changed since the last broadcast.
type StatusUpdatePayload struct {
	ID         string         `json:"id"`
	Status     map[string]any `json:"status"`
	Changes    map[string]any `json:"changes"`
	Timestamp  int64          `json:"timestamp"`
	ServerTime int64          `json:"serverTime"`
}

// LogPayload carries one per-client log line.
type LogPayload struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

// MasterLogPayload carries one process-wide log line.
type MasterLogPayload struct {
	Message string `json:"message"`
}
