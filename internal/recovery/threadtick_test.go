package recovery

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/codex-switch/supervisor/internal/paths"
	"github.com/codex-switch/supervisor/internal/tail"
)

type fakeActuator struct {
	enforceCalls   int
	restartHookOK  bool
	observeOK      bool
	invokeOK       bool
	newChatCalls   int
	purgeCalls     int
}

func (f *fakeActuator) EnforceSandboxAndPurgeTitles(ctx context.Context) error {
	f.enforceCalls++
	return nil
}
func (f *fakeActuator) RestartHook(ctx context.Context, layout *paths.Layout, now time.Time) error {
	if f.restartHookOK {
		return nil
	}
	return errTest
}
func (f *fakeActuator) ObserveRuntimeRestart(ctx context.Context, baseline int64, within time.Duration) bool {
	return f.observeOK
}
func (f *fakeActuator) InvokeRestartCommand(ctx context.Context, e EditorInfo) error {
	if f.invokeOK {
		return nil
	}
	return errTest
}
func (f *fakeActuator) RequestNewChatReset(ctx context.Context, layout *paths.Layout, now time.Time) error {
	f.newChatCalls++
	return nil
}
func (f *fakeActuator) EscalateIndexPurge(ctx context.Context) error {
	f.purgeCalls++
	return nil
}

type testErr string

func (e testErr) Error() string { return string(e) }

const errTest = testErr("fake failure")

func newScheduler(actuator *fakeActuator) *ThreadScheduler {
	s := NewThreadScheduler(zerolog.Nop(), actuator)
	s.sleep = func(time.Duration) {}
	return s
}

func TestThreadTickIdleWhenNoSignalAdvances(t *testing.T) {
	actuator := &fakeActuator{}
	s := newScheduler(actuator)

	action := s.Tick(context.Background(), ThreadTickInput{Now: time.Now(), Ext: tail.ExtensionLogState{}, UserSeq: 1})
	if action != ThreadIdle {
		t.Fatalf("expected idle, got %v", action)
	}
}

func TestThreadTickTurnMetadataTimeoutIsObservedOnly(t *testing.T) {
	actuator := &fakeActuator{restartHookOK: true, observeOK: true}
	s := newScheduler(actuator)

	action := s.Tick(context.Background(), ThreadTickInput{
		Now: time.Now(), Ext: tail.ExtensionLogState{TurnMetadataTimeoutSeq: 1}, UserSeq: 1,
	})
	if action != ThreadIdle {
		t.Fatalf("expected idle for turn_metadata_timeout, got %v", action)
	}
	if actuator.enforceCalls != 0 {
		t.Fatalf("expected no recovery action for observed-only signal")
	}
}

func TestThreadTickRecoversViaHookSignal(t *testing.T) {
	actuator := &fakeActuator{restartHookOK: true, observeOK: true}
	s := newScheduler(actuator)

	action := s.Tick(context.Background(), ThreadTickInput{
		Now: time.Now(), Ext: tail.ExtensionLogState{ThreadNotFoundSeq: 1}, UserSeq: 1,
	})
	if action != ThreadRecovered {
		t.Fatalf("expected recovered, got %v", action)
	}
	if actuator.enforceCalls != 1 {
		t.Fatalf("expected sandbox enforcement to run once, got %d", actuator.enforceCalls)
	}
}

func TestThreadTickFallsBackToURICommand(t *testing.T) {
	actuator := &fakeActuator{restartHookOK: false, invokeOK: true}
	s := newScheduler(actuator)

	action := s.Tick(context.Background(), ThreadTickInput{
		Now: time.Now(), Ext: tail.ExtensionLogState{ThreadNotFoundSeq: 1}, UserSeq: 1,
	})
	if action != ThreadRecovered {
		t.Fatalf("expected recovered via URI fallback, got %v", action)
	}
}

func TestThreadTickFailsWhenAllActionsFail(t *testing.T) {
	actuator := &fakeActuator{restartHookOK: false, invokeOK: false}
	s := newScheduler(actuator)

	action := s.Tick(context.Background(), ThreadTickInput{
		Now: time.Now(), Ext: tail.ExtensionLogState{ThreadNotFoundSeq: 1}, UserSeq: 1,
	})
	if action != ThreadRecoverFailed {
		t.Fatalf("expected recover_failed, got %v", action)
	}
}

func TestThreadTickNoNewUserMessageBlocksRecovery(t *testing.T) {
	actuator := &fakeActuator{restartHookOK: true, observeOK: true}
	s := newScheduler(actuator)
	s.runtime.LastThreadRecoverUserSeq = 5

	action := s.Tick(context.Background(), ThreadTickInput{
		Now: time.Now(), Ext: tail.ExtensionLogState{ThreadNotFoundSeq: 1}, UserSeq: 5,
	})
	if action != ThreadIdle {
		t.Fatalf("expected idle when user_seq hasn't advanced, got %v", action)
	}
	if actuator.enforceCalls != 0 {
		t.Fatalf("expected no recovery attempt")
	}
}

func TestThreadTickEscalatesAfterRepeatedStaleSignals(t *testing.T) {
	actuator := &fakeActuator{restartHookOK: true, observeOK: true}
	s := newScheduler(actuator)

	now := time.Now()
	// First recovery at t0.
	s.Tick(context.Background(), ThreadTickInput{Now: now, Ext: tail.ExtensionLogState{ThreadNotFoundSeq: 1}, UserSeq: 1})
	// Second, past the 12s hard cooldown, with a new user message, same stale window.
	action := s.Tick(context.Background(), ThreadTickInput{
		Now: now.Add(13 * time.Second), Ext: tail.ExtensionLogState{ThreadNotFoundSeq: 2}, UserSeq: 2,
	})
	if action != ThreadRecovered {
		t.Fatalf("expected recovered, got %v", action)
	}
	if actuator.purgeCalls != 1 {
		t.Fatalf("expected index purge escalation on second repeat, got %d calls", actuator.purgeCalls)
	}
}
