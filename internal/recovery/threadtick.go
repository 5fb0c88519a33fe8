package recovery

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/codex-switch/supervisor/internal/paths"
	"github.com/codex-switch/supervisor/internal/tail"
)

// ThreadSignal is the priority-ordered set of stale-thread reasons
// spec §4.7 recognizes: "RolloutMissing > ThreadNotFound >
// RuntimeUnavailable > TurnMetadataTimeout".
type ThreadSignal string

const (
	SignalNone               ThreadSignal = ""
	SignalRolloutMissing     ThreadSignal = "rollout_missing"
	SignalThreadNotFound     ThreadSignal = "thread_not_found"
	SignalRuntimeUnavailable ThreadSignal = "runtime_unavailable"
	SignalTurnMetadataTimeout ThreadSignal = "turn_metadata_timeout"
)

const (
	defaultRecoverCooldown = 5 * time.Second
	hardRecoverCooldown    = 12 * time.Second
	newChatResetCooldown   = 30 * time.Second
	staleRecoverWindow     = 45 * time.Second
	staleRecoverEscalateAt = 2
	statePurgeCooldown     = 90 * time.Second
)

// ThreadAction mirrors the tick-outcome vocabulary spec §4.6 defines
// for the thread-monitor family of actions.
type ThreadAction string

const (
	ThreadIdle           ThreadAction = "thread_monitor_idle"
	ThreadRecovering     ThreadAction = "thread_recovering"
	ThreadRecovered      ThreadAction = "thread_recovered"
	ThreadRecoverFailed  ThreadAction = "thread_recover_failed"
)

// ThreadRuntime is the mutex-free state one thread-recovery tick
// mutates under its owner's lock (Design Notes §9).
type ThreadRuntime struct {
	LastObservedExt          tail.ExtensionLogState
	LastRecoveryAt           time.Time
	LastThreadRecoverUserSeq int64
	RuntimeGenerationHandled int64 // runtime_restart_seq value recovery last acted on
	StaleRepeatCount         int
	StaleWindowStart         time.Time
	LastPurgeAt              time.Time
	LastNewChatResetAt       time.Time
}

// ThreadTickInput is what one thread-recovery tick needs (spec §4.7).
type ThreadTickInput struct {
	Now      time.Time
	Ext      tail.ExtensionLogState
	UserSeq  int64 // from the rollout/opencode tail, §4.7's user_seq > last_thread_recover_user_seq gate
	Editor   EditorInfo
	Layout   *paths.Layout
}

// Actuator drives the actual recovery steps; Scheduler only decides
// whether/which to call so the decision logic is testable without a
// real editor or SQLite database.
type Actuator interface {
	EnforceSandboxAndPurgeTitles(ctx context.Context) error
	RestartHook(ctx context.Context, layout *paths.Layout, now time.Time) error
	ObserveRuntimeRestart(ctx context.Context, baseline int64, within time.Duration) bool
	InvokeRestartCommand(ctx context.Context, e EditorInfo) error
	RequestNewChatReset(ctx context.Context, layout *paths.Layout, now time.Time) error
	EscalateIndexPurge(ctx context.Context) error
}

// ThreadScheduler runs the C9+C12 thread-recovery tick.
type ThreadScheduler struct {
	log      zerolog.Logger
	actuator Actuator
	sleep    func(time.Duration)
	runtime  ThreadRuntime
}

func NewThreadScheduler(log zerolog.Logger, actuator Actuator) *ThreadScheduler {
	return &ThreadScheduler{
		log:      log.With().Str("component", "thread_recovery").Logger(),
		actuator: actuator,
		sleep:    time.Sleep,
	}
}

// selectSignal picks the highest-priority signal whose seq advanced
// since the last observation (spec §4.7).
func selectSignal(prev, cur tail.ExtensionLogState) ThreadSignal {
	if cur.RolloutMissingSeq > prev.RolloutMissingSeq {
		return SignalRolloutMissing
	}
	if cur.ThreadNotFoundSeq > prev.ThreadNotFoundSeq {
		return SignalThreadNotFound
	}
	if cur.RuntimeUnavailableSeq > prev.RuntimeUnavailableSeq {
		return SignalRuntimeUnavailable
	}
	if cur.TurnMetadataTimeoutSeq > prev.TurnMetadataTimeoutSeq {
		return SignalTurnMetadataTimeout
	}
	return SignalNone
}

// Tick implements spec §4.7 end to end.
func (s *ThreadScheduler) Tick(ctx context.Context, in ThreadTickInput) ThreadAction {
	signal := selectSignal(s.runtime.LastObservedExt, in.Ext)
	s.runtime.LastObservedExt = in.Ext

	if signal == SignalNone {
		return ThreadIdle
	}
	if signal == SignalTurnMetadataTimeout {
		// observed only; self-heals (spec §4.7)
		return ThreadIdle
	}
	if in.UserSeq <= s.runtime.LastThreadRecoverUserSeq {
		return ThreadIdle // no new user message since last recovery: restart storm guard
	}
	if signal == SignalRuntimeUnavailable && in.Ext.RuntimeRestartSeq == s.runtime.RuntimeGenerationHandled {
		// already attempted once for this runtime generation
		return ThreadIdle
	}

	cooldown := defaultRecoverCooldown
	if signal == SignalRolloutMissing || signal == SignalThreadNotFound || signal == SignalRuntimeUnavailable {
		cooldown = hardRecoverCooldown
	}
	if in.Now.Sub(s.runtime.LastRecoveryAt) < cooldown {
		return ThreadIdle
	}

	s.trackStaleRepeat(in.Now, signal)
	if s.runtime.StaleRepeatCount >= staleRecoverEscalateAt && in.Now.Sub(s.runtime.LastPurgeAt) >= statePurgeCooldown {
		if err := s.actuator.EscalateIndexPurge(ctx); err != nil {
			s.log.Warn().Err(err).Msg("index purge escalation failed")
			return ThreadRecoverFailed
		}
		s.runtime.LastPurgeAt = in.Now
		s.runtime.StaleRepeatCount = 0
	}

	s.runtime.LastRecoveryAt = in.Now
	s.runtime.LastThreadRecoverUserSeq = in.UserSeq
	if signal == SignalRuntimeUnavailable {
		s.runtime.RuntimeGenerationHandled = in.Ext.RuntimeRestartSeq
	}

	ok := s.runRecovery(ctx, in, signal)

	if (signal == SignalRolloutMissing || signal == SignalThreadNotFound) &&
		in.Now.Sub(s.runtime.LastNewChatResetAt) >= newChatResetCooldown {
		if err := s.actuator.RequestNewChatReset(ctx, in.Layout, in.Now); err == nil {
			s.runtime.LastNewChatResetAt = in.Now
		}
	}

	if !ok {
		return ThreadRecoverFailed
	}
	return ThreadRecovered
}

func (s *ThreadScheduler) trackStaleRepeat(now time.Time, signal ThreadSignal) {
	if now.Sub(s.runtime.StaleWindowStart) > staleRecoverWindow {
		s.runtime.StaleWindowStart = now
		s.runtime.StaleRepeatCount = 0
	}
	s.runtime.StaleRepeatCount++
}

// runRecovery implements spec §4.10's recovery action sequence:
// sandbox+titles enforcement, hook-signal restart (retry once), URI
// command fallback (retry once).
func (s *ThreadScheduler) runRecovery(ctx context.Context, in ThreadTickInput, signal ThreadSignal) bool {
	if err := s.actuator.EnforceSandboxAndPurgeTitles(ctx); err != nil {
		s.log.Warn().Err(err).Msg("failed to enforce sandbox/purge titles before recovery")
	}

	baseline := in.Ext.RuntimeRestartSeq
	if err := s.actuator.RestartHook(ctx, in.Layout, in.Now); err == nil {
		if s.actuator.ObserveRuntimeRestart(ctx, baseline, 3*time.Second) {
			return true
		}
	}
	s.sleep(120 * time.Millisecond)
	if err := s.actuator.RestartHook(ctx, in.Layout, in.Now); err == nil {
		if s.actuator.ObserveRuntimeRestart(ctx, baseline, 3*time.Second) {
			return true
		}
	}

	if err := s.actuator.InvokeRestartCommand(ctx, in.Editor); err == nil {
		return true
	}
	if err := s.actuator.InvokeRestartCommand(ctx, in.Editor); err == nil {
		return true
	}
	return false
}
