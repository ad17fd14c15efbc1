// Package protocol defines the canonical message shape shared by the legacy
// tagged-text dialect and the native JSON dialect, plus the event types
// published to observers.
package protocol

import "encoding/json"

// Version is sent on server-originated JSON lines.
const Version = "1.0"

// Canonical message types. Every line a client sends after authentication
// normalizes to exactly one of these.
const (
	TypeStatusUpdate     = "status_update"
	TypeHeartbeat        = "heartbeat"
	TypeUsernameResponse = "username_response"
	TypeLog              = "log"
)

// Server → client message types.
const (
	TypeUsernameRequest = "username_request"
)

// Handshake line prefixes (server → client and client → server).
const (
	HandshakeChallengePrefix = "$HandshakeChallenge:"
	HandshakeResponsePrefix  = "$HandshakeResponse:"
	HandshakeSuccessLine     = "$HandshakeSuccess"
)

// Message is the canonical, dialect-independent representation of one client
// line. Downstream code never branches on which dialect produced it.
type Message struct {
	Type            string         `json:"type"`
	ClientName      string         `json:"clientName,omitempty"`
	Status          map[string]any `json:"status,omitempty"`
	Username        string         `json:"username,omitempty"`
	Message         string         `json:"message,omitempty"`
	Timestamp       int64          `json:"timestamp,omitempty"`
	ProtocolVersion string         `json:"protocolVersion,omitempty"`
}

// UsernameRequest builds the JSON line sent to a client to ask for its
// username. The returned bytes do not include the line terminator.
func UsernameRequest(timestamp int64) []byte {
	data, _ := json.Marshal(map[string]any{
		"type":            TypeUsernameRequest,
		"protocolVersion": Version,
		"timestamp":       timestamp,
	})
	return data
}

// Status field keys projected into the summary snapshot.
const (
	FieldLoaded        = "loaded"
	FieldLogged        = "logged"
	FieldScriptRunning = "scriptRunning"
	FieldLoadedScript  = "loadedScript"
)

// StatusFields lists the well-known status keys in broadcast order.
var StatusFields = []string{FieldLoaded, FieldLogged, FieldScriptRunning, FieldLoadedScript}
