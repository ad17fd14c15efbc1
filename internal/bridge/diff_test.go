package bridge

import (
	"strconv"
	"testing"
)

func TestDiffStatus(t *testing.T) {
	tests := []struct {
		name     string
		cached   map[string]any
		incoming map[string]any
		want     map[string]any
	}{
		{
			name:     "identical objects produce no changes",
			cached:   map[string]any{"loaded": true, "loadedScript": "farm.lua"},
			incoming: map[string]any{"loaded": true, "loadedScript": "farm.lua"},
			want:     map[string]any{},
		},
		{
			name:     "two of four fields changed",
			cached:   map[string]any{"loaded": true, "logged": false, "scriptRunning": false, "loadedScript": ""},
			incoming: map[string]any{"loaded": true, "logged": true, "scriptRunning": true, "loadedScript": ""},
			want:     map[string]any{"logged": true, "scriptRunning": true},
		},
		{
			name:     "new key appears",
			cached:   map[string]any{"loaded": true},
			incoming: map[string]any{"loaded": true, "fuel": 64.0},
			want:     map[string]any{"fuel": 64.0},
		},
		{
			name:     "removed key diffs to nil",
			cached:   map[string]any{"loaded": true, "fuel": 64.0},
			incoming: map[string]any{"loaded": true},
			want:     map[string]any{"fuel": nil},
		},
		{
			name:     "nested object change detected",
			cached:   map[string]any{"pos": map[string]any{"x": 1.0, "y": 2.0}},
			incoming: map[string]any{"pos": map[string]any{"x": 1.0, "y": 3.0}},
			want:     map[string]any{"pos": map[string]any{"x": 1.0, "y": 3.0}},
		},
		{
			name:     "identical nested object suppressed",
			cached:   map[string]any{"pos": map[string]any{"x": 1.0}, "loaded": true},
			incoming: map[string]any{"pos": map[string]any{"x": 1.0}, "loaded": true},
			want:     map[string]any{},
		},
		{
			name:     "array change detected",
			cached:   map[string]any{"inventory": []any{"coal", "iron"}},
			incoming: map[string]any{"inventory": []any{"coal"}},
			want:     map[string]any{"inventory": []any{"coal"}},
		},
		{
			name:     "empty to populated",
			cached:   map[string]any{},
			incoming: map[string]any{"loaded": false},
			want:     map[string]any{"loaded": false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DiffStatus(tt.cached, tt.incoming)
			if len(got) != len(tt.want) {
				t.Fatalf("changes = %v, want %v", got, tt.want)
			}
			for key, wantVal := range tt.want {
				gotVal, ok := got[key]
				if !ok {
					t.Errorf("missing changed key %q", key)
					continue
				}
				if !deepEqual(gotVal, wantVal) {
					t.Errorf("changes[%q] = %v, want %v", key, gotVal, wantVal)
				}
			}
		})
	}
}

func TestRingBounding(t *testing.T) {
	r := newRing(1000)
	for i := 0; i < 1001; i++ {
		r.append("line " + strconv.Itoa(i))
	}
	if r.len() != 1000 {
		t.Fatalf("ring holds %d lines, want 1000", r.len())
	}
	lines := r.snapshot()
	if lines[0] != "line 1" {
		t.Errorf("oldest line = %q, want %q (oldest must be evicted)", lines[0], "line 1")
	}
	if lines[len(lines)-1] != "line 1000" {
		t.Errorf("newest line = %q, want %q", lines[len(lines)-1], "line 1000")
	}
}

func TestRingClear(t *testing.T) {
	r := newRing(10)
	r.append("a")
	r.append("b")
	r.clear()
	if r.len() != 0 {
		t.Fatalf("ring holds %d lines after clear", r.len())
	}
	r.append("c")
	if got := r.snapshot(); len(got) != 1 || got[0] != "c" {
		t.Errorf("ring after clear+append = %v", got)
	}
}
