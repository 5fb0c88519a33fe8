package recovery

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"time"

	"github.com/codex-switch/supervisor/internal/codeerr"
	"github.com/codex-switch/supervisor/internal/paths"
)

// writeNonce writes an opaque "<epoch_ms>-<pid>-<nanos>\n" nonce to
// path, the signal format an injected JS watcher inside the extension
// host observes (spec §6).
func writeNonce(path string, now time.Time) error {
	nonce := fmt.Sprintf("%d-%d-%d\n", now.UnixMilli(), os.Getpid(), now.UnixNano())
	if err := os.WriteFile(path, []byte(nonce), 0o644); err != nil {
		return codeerr.IOErr(path, err)
	}
	return nil
}

// TriggerHookRestartSignal implements spec §4.10's
// trigger_hook_restart_signal.
func TriggerHookRestartSignal(layout *paths.Layout, now time.Time) error {
	return writeNonce(layout.HookRestart, now)
}

// TriggerHookNewChatSignal implements spec §4.10's
// trigger_hook_newchat_signal.
func TriggerHookNewChatSignal(layout *paths.Layout, now time.Time) error {
	return writeNonce(layout.HookNewChat, now)
}

// InvokeEditorCommand implements spec §4.10's invoke_editor_command:
// assemble `<scheme>://command/<command_id>`, try the editor's CLI
// binaries in order with `--reuse-window --open-url <uri>` and
// without, then fall back to the platform shell opener.
func InvokeEditorCommand(ctx context.Context, e EditorInfo, commandID string) error {
	uri := fmt.Sprintf("%s://command/%s", e.Scheme, commandID)

	for _, name := range e.CLINames {
		bin, err := exec.LookPath(name)
		if err != nil {
			continue
		}
		if tryRun(ctx, bin, "--reuse-window", "--open-url", uri) {
			return nil
		}
		if tryRun(ctx, bin, "--open-url", uri) {
			return nil
		}
	}

	return shellOpen(ctx, uri)
}

func tryRun(ctx context.Context, bin string, args ...string) bool {
	cmd := exec.CommandContext(ctx, bin, args...)
	return cmd.Run() == nil
}

func shellOpen(ctx context.Context, uri string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "windows":
		cmd = exec.CommandContext(ctx, "cmd", "/C", "start", "", uri)
	case "darwin":
		cmd = exec.CommandContext(ctx, "open", uri)
	default:
		cmd = exec.CommandContext(ctx, "xdg-open", uri)
	}
	if err := cmd.Run(); err != nil {
		return codeerr.Wrap(codeerr.KindIO, "failed to invoke editor command via shell fallback", err)
	}
	return nil
}

// WaitForSignalObservation polls for a file's mtime to advance past
// baseline within the given deadline (spec §4.7's "wait up to 3s for
// runtime_restart_seq to advance" is driven by the caller's own
// sequence counter; this helper is the generic hook-signal variant
// used where no such counter exists).
func WaitForSignalObservation(ctx context.Context, path string, baseline time.Time, deadline time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			info, err := os.Stat(path)
			if err == nil && info.ModTime().After(baseline) {
				return true
			}
		}
	}
}
