package tail

import "testing"

func TestApplyOpenCodeLinesMessageLifecycle(t *testing.T) {
	state := NewOpenCodeState()
	ApplyOpenCodeLines(state, []string{
		"message started path=/session/abc123/message",
	})
	if !state.OpenTurns["abc123"] {
		t.Fatalf("expected session abc123 to be open, got %v", state.OpenTurns)
	}
	if state.UserSeq != 1 {
		t.Fatalf("expected user_seq=1, got %d", state.UserSeq)
	}

	ApplyOpenCodeLines(state, []string{
		"service=session.prompt path=/session/abc123/message exiting loop",
	})
	if state.OpenTurns["abc123"] {
		t.Fatalf("expected session abc123 to be removed")
	}
}

func TestApplyOpenCodeLinesIdleClearsAllOpenTurns(t *testing.T) {
	state := NewOpenCodeState()
	state.OpenTurns["s1"] = true
	state.OpenTurns["s2"] = true

	ApplyOpenCodeLines(state, []string{"type=session.idle publishing event"})
	if len(state.OpenTurns) != 0 {
		t.Fatalf("expected all open turns cleared, got %v", state.OpenTurns)
	}
}

func TestApplyOpenCodeLinesHardQuotaKeyword(t *testing.T) {
	state := NewOpenCodeState()
	ApplyOpenCodeLines(state, []string{"error: usage_limit_exceeded for this account"})
	if state.HardTriggerSeq != 1 {
		t.Fatalf("expected hard_trigger_seq=1, got %d", state.HardTriggerSeq)
	}
}

func TestApplyOpenCodeLinesSessionError(t *testing.T) {
	state := NewOpenCodeState()
	ApplyOpenCodeLines(state, []string{
		"type=session.error publishing failure",
		"service=session.prompt status=error detail=boom",
	})
	if state.SessionErrorSeq != 2 {
		t.Fatalf("expected session_error_seq=2, got %d", state.SessionErrorSeq)
	}
}
