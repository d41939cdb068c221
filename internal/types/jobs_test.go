package types

import (
	"encoding/json"
	"testing"
)

func TestProgressPercent(t *testing.T) {
	tests := []struct {
		processed, total, want int
	}{
		{0, 0, 0},
		{5, 0, 0},
		{0, 40, 0},
		{10, 40, 25},
		{1, 3, 33},
		{2, 3, 67},
		{40, 40, 100},
		{45, 40, 100},
		{-1, 40, 0},
	}
	for _, tt := range tests {
		if got := ProgressPercent(tt.processed, tt.total); got != tt.want {
			t.Errorf("ProgressPercent(%d, %d) = %d, want %d", tt.processed, tt.total, got, tt.want)
		}
	}
}

func TestAdhocStatus_ActiveAndTerminalAreDisjoint(t *testing.T) {
	for _, s := range []AdhocStatus{AdhocPending, AdhocProcessing, AdhocCompleted, AdhocFailed, AdhocCanceled} {
		if s.IsActive() == s.IsTerminal() {
			t.Errorf("%s: IsActive=%v IsTerminal=%v", s, s.IsActive(), s.IsTerminal())
		}
	}
}

func TestExecutionStatus_IsTerminal(t *testing.T) {
	if ExecutionRunning.IsTerminal() || ExecutionPending.IsTerminal() {
		t.Error("running and pending must not be terminal")
	}
	if !ExecutionCompleted.IsTerminal() || !ExecutionFailed.IsTerminal() {
		t.Error("completed and failed must be terminal")
	}
}

func TestParseAdhocJobTypeAndProvider(t *testing.T) {
	if jt, ok := ParseAdhocJobType("analysis"); !ok || jt != AdhocAnalysis {
		t.Errorf("ParseAdhocJobType(analysis) = %q, %v", jt, ok)
	}
	if _, ok := ParseAdhocJobType("reindex"); ok {
		t.Error("ParseAdhocJobType accepted an unknown type")
	}
	if p, ok := ParseProvider("intercom"); !ok || p != ProviderIntercom {
		t.Errorf("ParseProvider(intercom) = %q, %v", p, ok)
	}
	if _, ok := ParseProvider("Zendesk"); ok {
		t.Error("ParseProvider must be case sensitive")
	}
}

func TestFrequency_Valid(t *testing.T) {
	for _, f := range []Frequency{FrequencyHourly, FrequencyDaily, FrequencyWeekly, FrequencyMonthly, FrequencyCustom} {
		if !f.Valid() {
			t.Errorf("%s should be valid", f)
		}
	}
	if Frequency("yearly").Valid() {
		t.Error("yearly should be invalid")
	}
}

func TestScheduledJob_OwnerID(t *testing.T) {
	sys := &ScheduledJob{ID: "cleanup"}
	if sys.OwnerID() != "" {
		t.Errorf("system job owner = %q", sys.OwnerID())
	}
	u := "user-7"
	owned := &ScheduledJob{ID: "sync", UserID: &u}
	if owned.OwnerID() != "user-7" {
		t.Errorf("owner = %q", owned.OwnerID())
	}
}

func TestJobParams_Accessors(t *testing.T) {
	var p JobParams
	if err := json.Unmarshal([]byte(`{"user_id":"u1","empty":"","retention_days":7,"limit":"x"}`), &p); err != nil {
		t.Fatal(err)
	}

	if v, ok := p.String("user_id"); !ok || v != "u1" {
		t.Errorf("String(user_id) = %q, %v", v, ok)
	}
	if _, ok := p.String("empty"); ok {
		t.Error("String(empty) should report absent")
	}
	if _, ok := p.String("retention_days"); ok {
		t.Error("String on a number should report absent")
	}
	if got := p.Int("retention_days", 30); got != 7 {
		t.Errorf("Int(retention_days) = %d, want 7", got)
	}
	if got := p.Int("limit", 30); got != 30 {
		t.Errorf("Int(limit) = %d, want default", got)
	}
	if got := JobParams(nil).Int("missing", 5); got != 5 {
		t.Errorf("Int on nil params = %d, want 5", got)
	}
}
