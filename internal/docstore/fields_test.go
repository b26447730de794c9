package docstore

import (
	"testing"
	"time"
)

func TestFieldsAccessorsDefaults(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	f := Fields{
		"s":      "x",
		"i":      int64(7),
		"fl":     2.5,
		"b":      true,
		"t":      ts,
		"zero":   time.Time{},
		"nil":    nil,
		"nested": map[string]any{"lat": 16.8},
	}

	if f.Str("s") != "x" || f.Str("missing") != "" || f.Str("i") != "" {
		t.Errorf("Str mismatch")
	}
	if f.Int64("i") != 7 || f.Int64("fl") != 2 || f.Int64("missing") != 0 {
		t.Errorf("Int64 mismatch")
	}
	if f.Float64("fl") != 2.5 || f.Float64("i") != 7 {
		t.Errorf("Float64 mismatch")
	}
	if !f.Bool("b") || f.Bool("missing") {
		t.Errorf("Bool mismatch")
	}
	if got := f.Time("t"); got == nil || !got.Equal(ts) {
		t.Errorf("Time = %v", got)
	}
	if f.Time("zero") != nil || f.Time("missing") != nil {
		t.Errorf("zero time should be nil")
	}
	if f.Has("nil") || f.Has("missing") || !f.Has("s") {
		t.Errorf("Has mismatch")
	}
	if f.Map("nested").Float64("lat") != 16.8 {
		t.Errorf("Map mismatch")
	}
	if len(f.Map("missing")) != 0 {
		t.Errorf("missing map should be empty")
	}
}

func TestFieldsLookup(t *testing.T) {
	f := Fields{"pickup": map[string]any{"geo": map[string]any{"lat": 1.5}}, "flat": "v"}
	cases := []struct {
		path string
		ok   bool
	}{
		{"pickup.geo.lat", true},
		{"flat", true},
		{"flat.deeper", false},
		{"pickup.missing", false},
	}
	for _, tc := range cases {
		if _, ok := f.lookup(tc.path); ok != tc.ok {
			t.Errorf("lookup(%q) ok = %v, want %v", tc.path, ok, tc.ok)
		}
	}
}
