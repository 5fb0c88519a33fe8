package recovery

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/codex-switch/supervisor/internal/codeerr"
)

// processSignature is the sorted list of codex-family process ids
// spec §4.10 watches for a change or a down→up bounce.
func processSignature(ctx context.Context, nameSubstr string) ([]int32, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	var pids []int32
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue
		}
		if strings.Contains(strings.ToLower(name), nameSubstr) {
			pids = append(pids, p.Pid)
		}
	}
	sort.Slice(pids, func(i, j int) bool { return pids[i] < pids[j] })
	return pids, nil
}

func equalSignature(a, b []int32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// RestartExtensionHost implements spec §4.10: invoke the
// workbench.action.restartExtensionHost command URI, then watch the
// codex process signature for a change (or a down→up bounce) within
// 8s; if that doesn't happen, escalate to killing the editor's
// Extension Host processes. An error is reported when the process
// signature cannot be read, the command or the kill fails, or no pid
// change is observed within the full 12s window.
func RestartExtensionHost(ctx context.Context, e EditorInfo) error {
	before, err := processSignature(ctx, "codex")
	if err != nil {
		return codeerr.Wrap(codeerr.KindRecoveryFailed, "failed to read process signature", err)
	}

	if err := InvokeEditorCommand(ctx, e, "workbench.action.restartExtensionHost"); err != nil {
		return err
	}

	if waitForSignatureChange(ctx, before, 8*time.Second) {
		return nil
	}

	if err := killExtensionHostProcesses(ctx); err != nil {
		return codeerr.Wrap(codeerr.KindRecoveryFailed, "failed to kill extension host after restart command produced no change", err)
	}

	if waitForSignatureChange(ctx, before, 4*time.Second) {
		return nil
	}

	return codeerr.RecoveryFailed("no codex process change observed within 12s of restart attempt")
}

func waitForSignatureChange(ctx context.Context, before []int32, window time.Duration) bool {
	deadlineCtx, cancel := context.WithTimeout(ctx, window)
	defer cancel()
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-deadlineCtx.Done():
			return false
		case <-ticker.C:
			after, err := processSignature(ctx, "codex")
			if err != nil {
				continue
			}
			if !equalSignature(before, after) {
				return true
			}
		}
	}
}

// killExtensionHostProcesses terminates processes whose command line
// (type=extensionHost) identifies them as a VS Code-family "Extension Host"
// (spec §4.10's taskkill/kill escalation).
func killExtensionHostProcesses(ctx context.Context) error {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return err
	}
	var killErr error
	for _, p := range procs {
		cmdline, err := p.CmdlineWithContext(ctx)
		if err != nil {
			continue
		}
		if strings.Contains(strings.ToLower(cmdline), "type=extensionhost") {
			if err := p.KillWithContext(ctx); err != nil {
				killErr = err
			}
		}
	}
	return killErr
}

// ParsePID is a small helper for tests and callers that receive a pid
// as a log-derived string.
func ParsePID(s string) (int32, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0, err
	}
	return int32(v), nil
}
