package types

import (
	"testing"
)

func TestJobParams_Scan(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  string
	}{
		{"bytes", []byte(`{"user_id":"u1"}`), "u1"},
		{"string", `{"user_id":"u2"}`, "u2"},
		{"decoded map", map[string]any{"user_id": "u3"}, "u3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p JobParams
			if err := p.Scan(tt.value); err != nil {
				t.Fatalf("Scan() error: %v", err)
			}
			got, ok := p.String("user_id")
			if !ok || got != tt.want {
				t.Errorf("user_id = %q, %v; want %q", got, ok, tt.want)
			}
		})
	}
}

func TestJobParams_ScanNilAndUnsupported(t *testing.T) {
	p := JobParams{"stale": true}
	if err := p.Scan(nil); err != nil {
		t.Fatalf("Scan(nil) error: %v", err)
	}
	if p != nil {
		t.Errorf("Scan(nil) = %v, want nil", p)
	}
	if err := p.Scan(42); err == nil {
		t.Error("Scan(int) should fail")
	}
}

func TestJobParams_NilValueIsEmptyObject(t *testing.T) {
	v, err := JobParams(nil).Value()
	if err != nil {
		t.Fatalf("Value() error: %v", err)
	}
	if string(v.([]byte)) != "{}" {
		t.Errorf("Value() = %s, want {}", v)
	}
}

func TestJobResult_NilValueIsNull(t *testing.T) {
	v, err := JobResult(nil).Value()
	if err != nil {
		t.Fatalf("Value() error: %v", err)
	}
	if v != nil {
		t.Errorf("Value() = %v, want nil", v)
	}

	var r JobResult
	if err := r.Scan([]byte(`{"purged":3}`)); err != nil {
		t.Fatalf("Scan() error: %v", err)
	}
	if r["purged"] != float64(3) {
		t.Errorf("purged = %v, want 3", r["purged"])
	}
}
