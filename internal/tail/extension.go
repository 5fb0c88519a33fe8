package tail

import "strings"

// ExtensionLogState is the C9 (spec §4.5.2) derived state, folded from
// the VS Code-family extension host's text log.
type ExtensionLogState struct {
	ThreadNotFoundSeq      int64
	RolloutMissingSeq      int64
	RuntimeUnavailableSeq  int64
	TurnMetadataTimeoutSeq int64
	RuntimeRestartSeq      int64
}

func NewExtensionLogState() *ExtensionLogState { return &ExtensionLogState{} }

func (s *ExtensionLogState) Reset() { *s = ExtensionLogState{} }

// ApplyExtensionLines is the pure fold for C9: each line independently
// advances zero or more counters via lowercase substring tests.
func ApplyExtensionLines(state *ExtensionLogState, lines []string) {
	for _, raw := range lines {
		line := strings.ToLower(raw)

		if strings.Contains(line, "thread not found") &&
			(strings.Contains(line, "method=turn/start") ||
				strings.Contains(line, "[composer] submit failed") ||
				strings.Contains(line, "submit failed")) {
			state.ThreadNotFoundSeq++
		}

		for _, marker := range []string{
			"no rollout found for thread id",
			"no rollout found for conversation id",
			"failed to resume conversation",
			"failed to resume task",
			"no-client-found",
		} {
			if strings.Contains(line, marker) {
				state.RolloutMissingSeq++
				break
			}
		}

		for _, marker := range []string{
			"codex process is not available",
			"codex app-server process exited unexpectedly",
			"process exited unexpectedly",
		} {
			if strings.Contains(line, marker) {
				state.RuntimeUnavailableSeq++
				break
			}
		}

		if strings.Contains(line, "turn_metadata: timed out after 250ms") {
			state.TurnMetadataTimeoutSeq++
		}

		if strings.Contains(line, "spawning codex app-server") || isInitializeReceivedLine(line) {
			state.RuntimeRestartSeq++
		}
	}
}

// isInitializeReceivedLine matches the "initialize received (id={})"
// family of log lines regardless of the actual id value.
func isInitializeReceivedLine(line string) bool {
	const prefix = "initialize received (id="
	idx := strings.Index(line, prefix)
	if idx < 0 {
		return false
	}
	return strings.Contains(line[idx+len(prefix):], ")")
}
