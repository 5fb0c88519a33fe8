package recovery

import (
	"context"
	"time"

	"github.com/codex-switch/supervisor/internal/paths"
	"github.com/codex-switch/supervisor/internal/tail"
)

// LiveActuator implements Actuator against the real filesystem,
// SQLite state databases, and editor CLI/process surface. It is the
// concrete collaborator ThreadScheduler.Tick drives; tests use
// fakeActuator instead.
type LiveActuator struct {
	editor    EditorInfo
	extState  func() tail.ExtensionLogState
}

// NewLiveActuator builds an Actuator bound to one editor distribution.
// extState reads back the latest tail.ExtensionLogState the extension
// log tail (C9) has folded, so ObserveRuntimeRestart can notice
// runtime_restart_seq advancing without re-reading the log itself.
func NewLiveActuator(editor EditorInfo, extState func() tail.ExtensionLogState) *LiveActuator {
	return &LiveActuator{editor: editor, extState: extState}
}

// EnforceSandboxAndPurgeTitles implements spec §4.8: force
// thread-titles empty and windows-sandbox-enabled false in the
// editor's global state, and scrub any stale route-cache rows from
// every workspace's state.
func (a *LiveActuator) EnforceSandboxAndPurgeTitles(ctx context.Context) error {
	db, err := OpenStateDB(a.editor.GlobalStateDB)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := PurgeGlobalState(db); err != nil {
		return err
	}

	workspaceDBs, err := WorkspaceStateDBs(a.editor)
	if err != nil {
		return err
	}
	for _, path := range workspaceDBs {
		wdb, err := OpenStateDB(path)
		if err != nil {
			continue
		}
		_ = PurgeWorkspaceState(wdb)
		wdb.Close()
	}
	return nil
}

// RestartHook implements spec §4.10's trigger_hook_restart_signal step.
func (a *LiveActuator) RestartHook(ctx context.Context, layout *paths.Layout, now time.Time) error {
	return TriggerHookRestartSignal(layout, now)
}

// ObserveRuntimeRestart polls extState until RuntimeRestartSeq
// advances past baseline or the window elapses (spec §4.7/§4.10's
// "wait up to 3s for the extension host to observe the signal").
func (a *LiveActuator) ObserveRuntimeRestart(ctx context.Context, baseline int64, within time.Duration) bool {
	deadline := time.Now().Add(within)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for time.Now().Before(deadline) {
		if a.extState().RuntimeRestartSeq > baseline {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
	return a.extState().RuntimeRestartSeq > baseline
}

// InvokeRestartCommand implements spec §4.10's URI-command fallback,
// escalating to a full extension-host process restart if the command
// round-trip alone doesn't land.
func (a *LiveActuator) InvokeRestartCommand(ctx context.Context, e EditorInfo) error {
	if err := InvokeEditorCommand(ctx, e, "workbench.action.restartExtensionHost"); err == nil {
		return nil
	}
	return RestartExtensionHost(ctx, e)
}

// RequestNewChatReset implements spec §4.10's trigger_hook_newchat_signal step.
func (a *LiveActuator) RequestNewChatReset(ctx context.Context, layout *paths.Layout, now time.Time) error {
	return TriggerHookNewChatSignal(layout, now)
}

// EscalateIndexPurge implements spec §4.7's stale-repeat escalation:
// the same global+workspace purge as EnforceSandboxAndPurgeTitles,
// invoked explicitly as a distinct, cooldown-gated recovery step.
func (a *LiveActuator) EscalateIndexPurge(ctx context.Context) error {
	return a.EnforceSandboxAndPurgeTitles(ctx)
}
