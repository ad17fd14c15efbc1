package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Legacy tagged-text directives. The legacy dialect sends one field per line;
// translation folds the directive into the client's last known status so both
// dialects carry full state into the pipeline.
const (
	legacyClientName      = "$ClientName:"
	legacyIsLoaded        = "$IsLoaded:"
	legacyIsLogged        = "$IsLogged:"
	legacyIsScriptRunning = "$IsScriptRunning:"
	legacyLoadedScript    = "$LoadedScript:"
	legacyHeartbeat       = "$Heartbeat"
)

// Normalize converts one trimmed, non-empty line from an authenticated client
// into a canonical Message. It first attempts the native JSON dialect and
// falls back to legacy-dialect translation against the client's cached status.
// No line is ever dropped: unrecognized input degrades to a log message.
func Normalize(line string, cached map[string]any) Message {
	if msg, ok := parseNative(line); ok {
		return msg
	}
	return ParseLegacy(line, cached)
}

// parseNative attempts a strict JSON parse. It reports ok=false when the line
// is not a JSON object, handing the line to the legacy translator.
func parseNative(line string) (Message, bool) {
	var msg Message
	if err := json.Unmarshal([]byte(line), &msg); err != nil {
		return Message{}, false
	}
	switch msg.Type {
	case TypeStatusUpdate, TypeHeartbeat, TypeUsernameResponse, TypeLog:
		return msg, true
	}
	// Valid JSON with an unknown type tag still surfaces, as a log entry.
	return Message{
		Type:    TypeLog,
		Message: fmt.Sprintf("unknown message type %q: %s", msg.Type, line),
	}, true
}

// ParseLegacy translates one legacy-dialect line into a canonical Message.
// Status directives carry forward every previously known field plus the one
// changed field; lines matching no directive become plain log messages.
func ParseLegacy(line string, cached map[string]any) Message {
	switch {
	case line == legacyHeartbeat:
		return Message{Type: TypeHeartbeat}

	case strings.HasPrefix(line, legacyClientName):
		name := strings.TrimSpace(strings.TrimPrefix(line, legacyClientName))
		return Message{
			Type:       TypeStatusUpdate,
			ClientName: name,
			Status:     copyStatus(cached),
		}

	case strings.HasPrefix(line, legacyIsLoaded):
		return legacyStatusField(cached, FieldLoaded, parseLegacyBool(line, legacyIsLoaded))

	case strings.HasPrefix(line, legacyIsLogged):
		return legacyStatusField(cached, FieldLogged, parseLegacyBool(line, legacyIsLogged))

	case strings.HasPrefix(line, legacyIsScriptRunning):
		return legacyStatusField(cached, FieldScriptRunning, parseLegacyBool(line, legacyIsScriptRunning))

	case strings.HasPrefix(line, legacyLoadedScript):
		script := strings.TrimSpace(strings.TrimPrefix(line, legacyLoadedScript))
		return legacyStatusField(cached, FieldLoadedScript, script)
	}

	return Message{Type: TypeLog, Message: line}
}

func legacyStatusField(cached map[string]any, field string, value any) Message {
	status := copyStatus(cached)
	status[field] = value
	return Message{Type: TypeStatusUpdate, Status: status}
}

func parseLegacyBool(line, prefix string) bool {
	return strings.EqualFold(strings.TrimSpace(strings.TrimPrefix(line, prefix)), "true")
}

// copyStatus shallow-copies the cached status object. Legacy directives only
// replace top-level scalar fields, so nested values can be shared.
func copyStatus(cached map[string]any) map[string]any {
	status := make(map[string]any, len(cached)+1)
	for k, v := range cached {
		status[k] = v
	}
	return status
}
