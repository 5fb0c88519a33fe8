package autoswitch

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/codex-switch/supervisor/internal/credapply"
	"github.com/codex-switch/supervisor/internal/profilestore"
)

// sessionQuotaMaxAge bounds how old a live session quota snapshot may
// be before soft_hit falls back to the active profile's stored quota
// (spec §4.6).
const sessionQuotaMaxAge = 120 * time.Second

// CandidateProbe refreshes one non-active profile's quota from its
// own snapshot directory (spec §4.6: "refresh_one_profile_quota",
// CODEX_HOME set to the snapshot dir, bounded by a 3s RPC timeout).
type CandidateProbe func(ctx context.Context, name string, snapshotDir string) (valid bool, fiveHourRemaining, oneWeekRemaining float64, err error)

// Scheduler runs the C11 tick engine against a profile store and a
// credential applier. One Scheduler exists per monitor mode; changing
// mode means constructing a fresh Scheduler (spec §4.6: "changing mode
// resets all runtime state").
type Scheduler struct {
	mu      sync.Mutex
	log     zerolog.Logger
	store   *profilestore.Store
	applier *credapply.Applier
	probe   CandidateProbe
	sleep   func(time.Duration)

	runtime Runtime
}

func New(log zerolog.Logger, store *profilestore.Store, applier *credapply.Applier, probe CandidateProbe) *Scheduler {
	return &Scheduler{
		log:     log.With().Str("component", "autoswitch").Logger(),
		store:   store,
		applier: applier,
		probe:   probe,
		sleep:   time.Sleep,
	}
}

// TickInput is everything one tick needs from the live session state
// (spec §4.6). Resync lets the quiescence guard re-read the tail
// after each sleep. SessionQuota/SessionQuotaUpdatedAtMs are the
// rollout tail's current quota_snapshot and its updated_at_ms (C8);
// the Scheduler itself decides whether that snapshot or the active
// profile's stored quota drives soft_hit (spec §4.6).
type TickInput struct {
	Now                     time.Time
	EventSeq                int64
	UserSeq                 int64
	OpenTurns               int
	HardTriggerSeq          int64
	SessionQuota            profilestore.Quota
	SessionQuotaUpdatedAtMs int64
	Mode                    credapply.Mode
	Resync                  Resync
}

// TickResult is the tick contract's output (spec §4.6).
type TickResult struct {
	Action        Action
	Message       string
	SwitchedTo    string
	ReloadTrigger bool
	PendingReason PendingReason
}

// Reset implements auto_switch_reset (spec §5).
func (s *Scheduler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runtime.Reset()
}

// Tick performs exactly one pass of the FSM described in spec §4.6.
func (s *Scheduler) Tick(ctx context.Context, in TickInput) TickResult {
	s.mu.Lock()
	s.updatePendingReasonLocked(in)
	pending := s.runtime.PendingReason

	if pending == ReasonNone {
		s.mu.Unlock()
		return TickResult{Action: ActionIdle}
	}
	if in.Now.Before(s.runtime.SwitchCooldownUntil) {
		s.mu.Unlock()
		return TickResult{Action: ActionCooldown, PendingReason: pending}
	}
	if in.Now.Before(s.runtime.NoCandidateUntil) {
		s.mu.Unlock()
		return TickResult{Action: ActionNoCandidateCooldown, PendingReason: pending}
	}
	if in.OpenTurns > 0 {
		s.mu.Unlock()
		return TickResult{Action: ActionWaitTurnEnd, PendingReason: pending}
	}
	s.mu.Unlock()

	confirmed, ok := s.quiescenceGuard(in.Resync)
	if !ok {
		s.mu.Lock()
		s.runtime.SwitchCooldownUntil = in.Now.Add(switchCooldown)
		s.mu.Unlock()
		return TickResult{Action: ActionGuardCancelled, PendingReason: pending}
	}

	candidate, err := s.selectCandidate(ctx, in.Mode)
	if err != nil || candidate == "" {
		s.mu.Lock()
		s.runtime.NoCandidateUntil = in.Now.Add(noCandidateCooldown)
		s.mu.Unlock()
		return TickResult{Action: ActionNoCandidate, PendingReason: pending}
	}

	// Re-check: the guard's confirmed snapshot must still hold after
	// candidate selection's RPC round trips (spec §4.6 "re-check & apply").
	e, u, o := in.Resync()
	recheck := sessionSnapshot{EventSeq: e, UserSeq: u, OpenTurns: o}
	if !recheck.equal(confirmed) {
		s.mu.Lock()
		s.runtime.SwitchCooldownUntil = in.Now.Add(switchCooldown)
		s.mu.Unlock()
		return TickResult{Action: ActionGuardCancelled, PendingReason: pending}
	}

	rec := s.store.Get(candidate)
	if rec == nil {
		s.mu.Lock()
		s.runtime.NoCandidateUntil = in.Now.Add(noCandidateCooldown)
		s.mu.Unlock()
		return TickResult{Action: ActionNoCandidate, PendingReason: pending}
	}
	if err := s.applier.Apply(rec.SnapshotDir, in.Mode, in.Now); err != nil {
		s.log.Warn().Err(err).Str("candidate", candidate).Msg("auto-switch apply failed")
		s.mu.Lock()
		s.runtime.NoCandidateUntil = in.Now.Add(noCandidateCooldown)
		s.mu.Unlock()
		return TickResult{Action: ActionNoCandidate, PendingReason: pending, Message: err.Error()}
	}
	if err := s.store.SetActiveProfile(candidate); err != nil {
		s.log.Warn().Err(err).Msg("failed to persist new active profile after switch")
	}

	s.mu.Lock()
	s.runtime.LastSwitchAppliedAt = in.Now
	s.runtime.PendingReason = ReasonNone
	s.runtime.SwitchCooldownUntil = in.Now.Add(switchCooldown)
	s.mu.Unlock()

	return TickResult{Action: ActionSwitched, SwitchedTo: candidate, ReloadTrigger: true}
}

// updatePendingReasonLocked implements spec §4.6's FSM transition: a
// hard-trigger seq advance always latches Hard; otherwise Soft is set
// or cleared from the live soft_hit predicate. Must be called with
// s.mu held.
func (s *Scheduler) updatePendingReasonLocked(in TickInput) {
	if in.HardTriggerSeq > s.runtime.LastObservedHardTriggerSeq {
		s.runtime.LastObservedHardTriggerSeq = in.HardTriggerSeq
		s.runtime.PendingReason = ReasonHard
		return
	}
	if s.runtime.PendingReason == ReasonHard {
		return // hard is cleared only by a successful switch
	}
	if s.softHitLocked(in) {
		s.runtime.PendingReason = ReasonSoft
	} else {
		s.runtime.PendingReason = ReasonNone
	}
}

// quotaForTriggerLocked implements spec §4.6's quota-freshness rule:
// the live session snapshot drives trigger evaluation if it is at
// least as new as the last applied switch and no older than
// sessionQuotaMaxAge; otherwise the active profile's stored quota is
// used. Must be called with s.mu held.
func (s *Scheduler) quotaForTriggerLocked(in TickInput) profilestore.Quota {
	lastSwitchMs := s.runtime.LastSwitchAppliedAt.UnixMilli()
	age := in.Now.Sub(time.UnixMilli(in.SessionQuotaUpdatedAtMs))
	if in.SessionQuotaUpdatedAtMs >= lastSwitchMs && age >= 0 && age <= sessionQuotaMaxAge {
		return in.SessionQuota
	}
	if rec := s.store.Get(s.store.ActiveProfile()); rec != nil {
		return rec.Quota
	}
	return profilestore.Quota{}
}

// softHitLocked resolves the §4.6 trigger quota and applies SoftHit
// to it. Must be called with s.mu held.
func (s *Scheduler) softHitLocked(in TickInput) bool {
	q := s.quotaForTriggerLocked(in)
	return SoftHit(windowRemaining(q.FiveHour), windowRemaining(q.OneWeek))
}

// windowRemaining reads a window's remaining percent, treating an
// absent window as full so a missing reading never manufactures a
// soft_hit.
func windowRemaining(w *profilestore.WindowQuota) float64 {
	if w == nil {
		return 100
	}
	return w.RemainingPercent
}

// selectCandidate implements spec §4.6's candidate scan: iterate
// profile_order skipping the active profile, probing up to 3
// concurrently with a 3s-bounded context each, first admissible wins
// in profile_order regardless of completion order.
func (s *Scheduler) selectCandidate(ctx context.Context, mode credapply.Mode) (string, error) {
	active := s.store.ActiveProfile()
	names := s.store.List()

	type probeResult struct {
		name       string
		admissible bool
	}

	results := make([]probeResult, len(names))
	sem := make(chan struct{}, maxConcurrentRefresh)
	var wg sync.WaitGroup

	for i, name := range names {
		if name == active {
			continue
		}
		rec := s.store.Get(name)
		if rec == nil {
			continue
		}
		i, name, rec := i, name, rec
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			probeCtx, cancel := context.WithTimeout(ctx, candidateTimeout)
			defer cancel()

			valid, five, week, err := s.probe(probeCtx, name, rec.SnapshotDir)
			if err != nil {
				return
			}
			results[i] = probeResult{name: name, admissible: Admissible(valid, five, week)}
		}()
	}
	wg.Wait()

	for i, name := range names {
		if name == active {
			continue
		}
		if results[i].name == name && results[i].admissible {
			return name, nil
		}
	}
	return "", nil
}
