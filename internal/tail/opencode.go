package tail

import (
	"strings"

	"github.com/codex-switch/supervisor/internal/keywords"
)

// OpenCodeState is the C10 (spec §4.5.3) derived state, folded from
// the OpenCode CLI's text log.
type OpenCodeState struct {
	OpenTurns      map[string]bool
	UserSeq        int64
	HardTriggerSeq int64
	SessionErrorSeq int64
}

func NewOpenCodeState() *OpenCodeState {
	return &OpenCodeState{OpenTurns: make(map[string]bool)}
}

func (s *OpenCodeState) Reset() {
	*s = OpenCodeState{OpenTurns: make(map[string]bool)}
}

// ApplyOpenCodeLines is the pure fold for C10.
func ApplyOpenCodeLines(state *OpenCodeState, lines []string) {
	for _, raw := range lines {
		line := strings.ToLower(raw)

		if strings.Contains(line, "message started") {
			if id := extractSessionID(raw); id != "" {
				state.OpenTurns[id] = true
			}
			state.UserSeq++
		}

		if strings.Contains(line, "service=session.prompt") &&
			(strings.Contains(line, "exiting loop") || strings.Contains(line, "cancel")) {
			if id := extractSessionID(raw); id != "" {
				delete(state.OpenTurns, id)
			} else {
				state.OpenTurns = make(map[string]bool)
			}
		}

		if strings.Contains(line, "type=session.idle publishing") {
			state.OpenTurns = make(map[string]bool)
		}

		if keywords.IsHardQuota(line) {
			state.HardTriggerSeq++
		}

		if strings.Contains(line, "type=session.error publishing") ||
			(strings.Contains(line, "service=session.prompt") && strings.Contains(line, "status=error")) {
			state.SessionErrorSeq++
		}
	}
}

// extractSessionID pulls <id> out of a "path=/session/<id>/message"
// fragment, returning "" if no such fragment is present.
func extractSessionID(line string) string {
	const marker = "path=/session/"
	idx := strings.Index(line, marker)
	if idx < 0 {
		return ""
	}
	rest := line[idx+len(marker):]
	end := strings.Index(rest, "/")
	if end < 0 {
		return ""
	}
	return rest[:end]
}
