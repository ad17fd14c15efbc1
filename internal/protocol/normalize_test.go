package protocol

import (
	"strings"
	"testing"
)

func TestNormalizeNative(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		wantType string
		check    func(t *testing.T, msg Message)
	}{
		{
			name:     "status update",
			line:     `{"type":"status_update","status":{"loaded":true,"logged":false},"timestamp":123}`,
			wantType: TypeStatusUpdate,
			check: func(t *testing.T, msg Message) {
				if msg.Status[FieldLoaded] != true {
					t.Errorf("loaded = %v, want true", msg.Status[FieldLoaded])
				}
				if msg.Timestamp != 123 {
					t.Errorf("timestamp = %d, want 123", msg.Timestamp)
				}
			},
		},
		{
			name:     "heartbeat",
			line:     `{"type":"heartbeat"}`,
			wantType: TypeHeartbeat,
		},
		{
			name:     "username response",
			line:     `{"type":"username_response","username":"Alice"}`,
			wantType: TypeUsernameResponse,
			check: func(t *testing.T, msg Message) {
				if msg.Username != "Alice" {
					t.Errorf("username = %q, want Alice", msg.Username)
				}
			},
		},
		{
			name:     "log",
			line:     `{"type":"log","message":"something happened"}`,
			wantType: TypeLog,
			check: func(t *testing.T, msg Message) {
				if msg.Message != "something happened" {
					t.Errorf("message = %q", msg.Message)
				}
			},
		},
		{
			name:     "unknown type degrades to log",
			line:     `{"type":"telemetry","payload":42}`,
			wantType: TypeLog,
			check: func(t *testing.T, msg Message) {
				if !strings.Contains(msg.Message, "telemetry") {
					t.Errorf("expected unknown type noted in message, got %q", msg.Message)
				}
			},
		},
		{
			name:     "JSON object without type degrades to log",
			line:     `{"foo":"bar"}`,
			wantType: TypeLog,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := Normalize(tt.line, nil)
			if msg.Type != tt.wantType {
				t.Fatalf("type = %q, want %q", msg.Type, tt.wantType)
			}
			if tt.check != nil {
				tt.check(t, msg)
			}
		})
	}
}

func TestNormalizeLegacy(t *testing.T) {
	cached := map[string]any{
		FieldLoaded:        true,
		FieldLogged:        false,
		FieldScriptRunning: false,
		FieldLoadedScript:  "farm.lua",
	}

	tests := []struct {
		name     string
		line     string
		wantType string
		check    func(t *testing.T, msg Message)
	}{
		{
			name:     "heartbeat exact literal",
			line:     "$Heartbeat",
			wantType: TypeHeartbeat,
		},
		{
			name:     "heartbeat with suffix is a log line",
			line:     "$Heartbeat:now",
			wantType: TypeLog,
		},
		{
			name:     "client name",
			line:     "$ClientName:Alice",
			wantType: TypeStatusUpdate,
			check: func(t *testing.T, msg Message) {
				if msg.ClientName != "Alice" {
					t.Errorf("clientName = %q, want Alice", msg.ClientName)
				}
				if msg.Status[FieldLoadedScript] != "farm.lua" {
					t.Error("cached status not carried forward")
				}
			},
		},
		{
			name:     "IsLoaded flips one field and carries the rest",
			line:     "$IsLoaded:false",
			wantType: TypeStatusUpdate,
			check: func(t *testing.T, msg Message) {
				if msg.Status[FieldLoaded] != false {
					t.Errorf("loaded = %v, want false", msg.Status[FieldLoaded])
				}
				if msg.Status[FieldLoadedScript] != "farm.lua" {
					t.Error("cached loadedScript not carried forward")
				}
			},
		},
		{
			name:     "IsLogged true parses case-insensitively",
			line:     "$IsLogged:TRUE",
			wantType: TypeStatusUpdate,
			check: func(t *testing.T, msg Message) {
				if msg.Status[FieldLogged] != true {
					t.Errorf("logged = %v, want true", msg.Status[FieldLogged])
				}
			},
		},
		{
			name:     "IsScriptRunning",
			line:     "$IsScriptRunning:true",
			wantType: TypeStatusUpdate,
			check: func(t *testing.T, msg Message) {
				if msg.Status[FieldScriptRunning] != true {
					t.Error("scriptRunning not set")
				}
			},
		},
		{
			name:     "LoadedScript",
			line:     "$LoadedScript:mine.lua",
			wantType: TypeStatusUpdate,
			check: func(t *testing.T, msg Message) {
				if msg.Status[FieldLoadedScript] != "mine.lua" {
					t.Errorf("loadedScript = %v", msg.Status[FieldLoadedScript])
				}
			},
		},
		{
			name:     "unmatched text becomes a log line",
			line:     "mining at y=12",
			wantType: TypeLog,
			check: func(t *testing.T, msg Message) {
				if msg.Message != "mining at y=12" {
					t.Errorf("message = %q", msg.Message)
				}
			},
		},
		{
			name:     "invalid JSON falls through to log",
			line:     `{"type":"status_update",`,
			wantType: TypeLog,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := Normalize(tt.line, cached)
			if msg.Type != tt.wantType {
				t.Fatalf("type = %q, want %q", msg.Type, tt.wantType)
			}
			if tt.check != nil {
				tt.check(t, msg)
			}
		})
	}
}

func TestLegacyDoesNotMutateCache(t *testing.T) {
	cached := map[string]any{FieldLoaded: false}
	msg := Normalize("$IsLoaded:true", cached)
	if msg.Status[FieldLoaded] != true {
		t.Fatal("message status not updated")
	}
	if cached[FieldLoaded] != false {
		t.Error("normalization mutated the caller's cache")
	}
}
