package tail

import "testing"

func line(eventType string, payload string) string {
	return `{"type":"event_msg","payload":{"type":"` + eventType + `"` + payload + `}}`
}

func TestApplyRolloutLinesTaskLifecycle(t *testing.T) {
	state := NewRolloutState()
	ApplyRolloutLines(state, []string{
		line("task_started", `,"turn_id":"t1"`),
		line("user_message", ""),
		line("task_complete", `,"turn_id":"t1"`),
	}, 1000)

	if len(state.OpenTurns) != 0 {
		t.Fatalf("expected open turns to be empty after completion, got %v", state.OpenTurns)
	}
	if state.EventSeq != 3 {
		t.Fatalf("expected event_seq=3, got %d", state.EventSeq)
	}
	if state.UserSeq != 1 {
		t.Fatalf("expected user_seq=1, got %d", state.UserSeq)
	}
}

func TestApplyRolloutLinesTokenCountMergesQuota(t *testing.T) {
	state := NewRolloutState()
	ApplyRolloutLines(state, []string{
		`{"type":"event_msg","payload":{"type":"token_count","rate_limits":{"primary":{"window_minutes":300,"used_percent":20},"secondary":{"window_minutes":10080,"used_percent":60}}}}`,
	}, 5000)

	if state.QuotaSnapshot.FiveHour == nil || state.QuotaSnapshot.FiveHour.UsedPercent != 20 {
		t.Fatalf("expected five_hour window merged, got %+v", state.QuotaSnapshot.FiveHour)
	}
	if state.QuotaSnapshot.OneWeek == nil || state.QuotaSnapshot.OneWeek.UsedPercent != 60 {
		t.Fatalf("expected one_week window merged, got %+v", state.QuotaSnapshot.OneWeek)
	}
	if state.UpdatedAtMs != 5000 {
		t.Fatalf("expected updated_at_ms=5000, got %d", state.UpdatedAtMs)
	}
}

func TestApplyRolloutLinesHardTriggerOnKeywordOr429(t *testing.T) {
	state := NewRolloutState()
	ApplyRolloutLines(state, []string{
		`{"type":"event_msg","payload":{"type":"error","message":"rate limit exceeded"}}`,
	}, 0)
	if state.HardTriggerSeq != 1 {
		t.Fatalf("expected hard_trigger_seq=1, got %d", state.HardTriggerSeq)
	}
	if state.LastHardReason != "rate limit exceeded" {
		t.Fatalf("expected last_hard_reason captured, got %q", state.LastHardReason)
	}

	state2 := NewRolloutState()
	ApplyRolloutLines(state2, []string{
		`{"type":"event_msg","payload":{"type":"warning","message":"HTTP 429 returned"}}`,
	}, 0)
	if state2.HardTriggerSeq != 1 {
		t.Fatalf("expected hard_trigger_seq=1 on bare 429, got %d", state2.HardTriggerSeq)
	}
}

func TestApplyRolloutLinesIgnoresNonEventMsgAndMalformed(t *testing.T) {
	state := NewRolloutState()
	ApplyRolloutLines(state, []string{
		`{"type":"session_meta"}`,
		`not even json`,
		``,
	}, 0)
	if state.EventSeq != 0 {
		t.Fatalf("expected no state change from non-event lines, got event_seq=%d", state.EventSeq)
	}
}

func TestRolloutStateReset(t *testing.T) {
	state := NewRolloutState()
	ApplyRolloutLines(state, []string{line("user_message", "")}, 0)
	state.Reset()
	if state.EventSeq != 0 || len(state.OpenTurns) != 0 {
		t.Fatalf("expected Reset to zero all fields, got %+v", state)
	}
}
