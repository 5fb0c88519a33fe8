package autoswitch

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/codex-switch/supervisor/internal/credapply"
	"github.com/codex-switch/supervisor/internal/paths"
	"github.com/codex-switch/supervisor/internal/profilestore"
)

func newTestScheduler(t *testing.T, probe CandidateProbe) (*Scheduler, *profilestore.Store, *paths.Layout) {
	t.Helper()
	home := t.TempDir()
	layout, err := paths.NewLayout(home)
	if err != nil {
		t.Fatalf("NewLayout: %v", err)
	}

	storePath := filepath.Join(home, "profiles.json")
	store, err := profilestore.Load(storePath, zerolog.Nop())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	applier := credapply.New(layout, zerolog.Nop())
	sched := New(zerolog.Nop(), store, applier, probe)
	sched.sleep = func(time.Duration) {} // no real waiting in tests

	return sched, store, layout
}

func writeSnapshotAuth(t *testing.T, dir, accountID string) {
	t.Helper()
	os.MkdirAll(dir, 0o755)
	doc := map[string]any{"tokens": map[string]any{"account_id": accountID, "refresh_token": "rt"}}
	data, _ := json.Marshal(doc)
	os.WriteFile(filepath.Join(dir, paths.AuthFileName), data, 0o644)
}

func staticResync(eventSeq, userSeq int64, openTurns int) Resync {
	return func() (int64, int64, int) { return eventSeq, userSeq, openTurns }
}

func TestTickIdleWithNoPendingReason(t *testing.T) {
	sched, _, _ := newTestScheduler(t, nil)
	res := sched.Tick(context.Background(), TickInput{Now: time.Now(), Resync: staticResync(1, 1, 0)})
	if res.Action != ActionIdle {
		t.Fatalf("expected idle, got %v", res)
	}
}

func TestTickWaitTurnEndWhenOpenTurnsPresent(t *testing.T) {
	sched, _, _ := newTestScheduler(t, nil)
	res := sched.Tick(context.Background(), TickInput{
		Now: time.Now(), HardTriggerSeq: 1, OpenTurns: 1, Resync: staticResync(1, 1, 1),
	})
	if res.Action != ActionWaitTurnEnd {
		t.Fatalf("expected wait_turn_end, got %v", res)
	}
}

func TestTickGuardCancelledWhenSessionChangesDuringSleep(t *testing.T) {
	sched, _, _ := newTestScheduler(t, nil)

	calls := 0
	resync := func() (int64, int64, int) {
		calls++
		if calls >= 2 {
			return 99, 1, 0 // event_seq jumps on the second read
		}
		return 1, 1, 0
	}

	res := sched.Tick(context.Background(), TickInput{Now: time.Now(), HardTriggerSeq: 1, Resync: resync})
	if res.Action != ActionGuardCancelled {
		t.Fatalf("expected guard_cancelled, got %v", res)
	}
}

func TestSoftHitUsesFreshSessionSnapshotOverStoredQuota(t *testing.T) {
	sched, store, _ := newTestScheduler(t, nil)

	activeDir := t.TempDir()
	writeSnapshotAuth(t, activeDir, "active")
	store.Put("active", &profilestore.Record{
		SnapshotDir: activeDir, WorkspaceID: "w-active", Email: "active@x.com",
		Support: profilestore.Support{GPT: true},
		Quota:   profilestore.Quota{FiveHour: &profilestore.WindowQuota{RemainingPercent: 90}},
	})
	store.SetActiveProfile("active")

	now := time.Now()
	res := sched.Tick(context.Background(), TickInput{
		Now:                     now,
		OpenTurns:               1,
		SessionQuota:            profilestore.Quota{FiveHour: &profilestore.WindowQuota{RemainingPercent: 1}},
		SessionQuotaUpdatedAtMs: now.UnixMilli(),
		Resync:                  staticResync(1, 1, 1),
	})
	if res.Action != ActionWaitTurnEnd {
		t.Fatalf("expected wait_turn_end (fresh session snapshot drives soft_hit), got %+v", res)
	}
}

func TestSoftHitFallsBackToStoredQuotaWhenSessionSnapshotStale(t *testing.T) {
	sched, store, _ := newTestScheduler(t, nil)

	activeDir := t.TempDir()
	writeSnapshotAuth(t, activeDir, "active")
	store.Put("active", &profilestore.Record{
		SnapshotDir: activeDir, WorkspaceID: "w-active", Email: "active@x.com",
		Support: profilestore.Support{GPT: true},
		Quota:   profilestore.Quota{FiveHour: &profilestore.WindowQuota{RemainingPercent: 90}},
	})
	store.SetActiveProfile("active")

	now := time.Now()
	res := sched.Tick(context.Background(), TickInput{
		Now:                     now,
		OpenTurns:               1,
		SessionQuota:            profilestore.Quota{FiveHour: &profilestore.WindowQuota{RemainingPercent: 1}},
		SessionQuotaUpdatedAtMs: now.Add(-200 * time.Second).UnixMilli(),
		Resync:                  staticResync(1, 1, 1),
	})
	if res.Action != ActionIdle {
		t.Fatalf("expected idle (stale session snapshot ignored, stored quota has plenty remaining), got %+v", res)
	}
}

func TestTickSwitchesToFirstAdmissibleCandidate(t *testing.T) {
	probe := func(ctx context.Context, name, snapshotDir string) (bool, float64, float64, error) {
		if name == "candidate-a" {
			return true, 50, 50, nil // admissible
		}
		return true, 1, 1, nil // not admissible: below thresholds
	}
	sched, store, _ := newTestScheduler(t, probe)

	activeDir := t.TempDir()
	candADir := t.TempDir()
	candBDir := t.TempDir()
	writeSnapshotAuth(t, activeDir, "active")
	writeSnapshotAuth(t, candADir, "cand-a")
	writeSnapshotAuth(t, candBDir, "cand-b")

	store.Put("active", &profilestore.Record{SnapshotDir: activeDir, WorkspaceID: "w-active", Email: "active@x.com", Support: profilestore.Support{GPT: true}})
	store.Put("candidate-a", &profilestore.Record{SnapshotDir: candADir, WorkspaceID: "w-a", Email: "a@x.com", Support: profilestore.Support{GPT: true}})
	store.Put("candidate-b", &profilestore.Record{SnapshotDir: candBDir, WorkspaceID: "w-b", Email: "b@x.com", Support: profilestore.Support{GPT: true}})
	store.SetActiveProfile("active")

	res := sched.Tick(context.Background(), TickInput{
		Now: time.Now(), HardTriggerSeq: 1, Mode: credapply.ModeGPTOnly, Resync: staticResync(1, 1, 0),
	})
	if res.Action != ActionSwitched {
		t.Fatalf("expected switched, got %+v", res)
	}
	if res.SwitchedTo != "candidate-a" {
		t.Fatalf("expected candidate-a to win, got %q", res.SwitchedTo)
	}
	if store.ActiveProfile() != "candidate-a" {
		t.Fatalf("expected store active profile updated, got %q", store.ActiveProfile())
	}
}

func TestTickNoCandidateWhenNoneAdmissible(t *testing.T) {
	probe := func(ctx context.Context, name, snapshotDir string) (bool, float64, float64, error) {
		return true, 1, 1, nil // never admissible
	}
	sched, store, _ := newTestScheduler(t, probe)

	activeDir := t.TempDir()
	candDir := t.TempDir()
	writeSnapshotAuth(t, activeDir, "active")
	writeSnapshotAuth(t, candDir, "cand")

	store.Put("active", &profilestore.Record{SnapshotDir: activeDir, WorkspaceID: "w-active", Email: "active@x.com", Support: profilestore.Support{GPT: true}})
	store.Put("candidate", &profilestore.Record{SnapshotDir: candDir, WorkspaceID: "w-c", Email: "c@x.com", Support: profilestore.Support{GPT: true}})
	store.SetActiveProfile("active")

	res := sched.Tick(context.Background(), TickInput{
		Now: time.Now(), HardTriggerSeq: 1, Mode: credapply.ModeGPTOnly, Resync: staticResync(1, 1, 0),
	})
	if res.Action != ActionNoCandidate {
		t.Fatalf("expected no_candidate, got %+v", res)
	}
}

func TestTickCooldownAfterSwitch(t *testing.T) {
	probe := func(ctx context.Context, name, snapshotDir string) (bool, float64, float64, error) {
		return true, 50, 50, nil
	}
	sched, store, _ := newTestScheduler(t, probe)

	activeDir := t.TempDir()
	candDir := t.TempDir()
	writeSnapshotAuth(t, activeDir, "active")
	writeSnapshotAuth(t, candDir, "cand")
	store.Put("active", &profilestore.Record{SnapshotDir: activeDir, WorkspaceID: "w-active", Email: "active@x.com", Support: profilestore.Support{GPT: true}})
	store.Put("candidate", &profilestore.Record{SnapshotDir: candDir, WorkspaceID: "w-c", Email: "c@x.com", Support: profilestore.Support{GPT: true}})
	store.SetActiveProfile("active")

	now := time.Now()
	first := sched.Tick(context.Background(), TickInput{Now: now, HardTriggerSeq: 1, Mode: credapply.ModeGPTOnly, Resync: staticResync(1, 1, 0)})
	if first.Action != ActionSwitched {
		t.Fatalf("expected first tick to switch, got %+v", first)
	}

	second := sched.Tick(context.Background(), TickInput{Now: now.Add(500 * time.Millisecond), HardTriggerSeq: 2, Mode: credapply.ModeGPTOnly, Resync: staticResync(1, 1, 0)})
	if second.Action != ActionCooldown {
		t.Fatalf("expected cooldown immediately after a switch, got %+v", second)
	}
}

func TestResetZeroesRuntimeState(t *testing.T) {
	sched, _, _ := newTestScheduler(t, nil)
	sched.runtime.PendingReason = ReasonHard
	sched.runtime.LastObservedHardTriggerSeq = 5
	sched.Reset()
	if sched.runtime.PendingReason != ReasonNone || sched.runtime.LastObservedHardTriggerSeq != 0 {
		t.Fatalf("expected Reset to zero runtime, got %+v", sched.runtime)
	}
}
