package tail

import (
	"encoding/json"
	"strings"

	"github.com/codex-switch/supervisor/internal/keywords"
	"github.com/codex-switch/supervisor/internal/profilestore"
)

// RolloutState is the C8 (spec §4.5.1) derived state, folded from
// JSON-lines `event_msg` records in the rollout log.
type RolloutState struct {
	OpenTurns        map[string]bool
	EventSeq         int64
	UserSeq          int64
	HardTriggerSeq   int64
	LastHardReason   string
	QuotaSnapshot    profilestore.Quota
	UpdatedAtMs      int64
}

func NewRolloutState() *RolloutState {
	return &RolloutState{OpenTurns: make(map[string]bool)}
}

// Reset clears all derived state, used on file switch/truncation.
func (s *RolloutState) Reset() {
	*s = RolloutState{OpenTurns: make(map[string]bool)}
}

type rolloutLine struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type rolloutPayloadHeader struct {
	Type string `json:"type"`
}

// ApplyRolloutLines is the pure fold (state, lines) -> state' from
// Design Notes §9: only `event_msg` top-level records are considered;
// every other line (including malformed JSON) is skipped.
func ApplyRolloutLines(state *RolloutState, lines []string, nowMs int64) {
	for _, raw := range lines {
		var line rolloutLine
		if err := json.Unmarshal([]byte(raw), &line); err != nil || line.Type != "event_msg" {
			continue
		}
		var header rolloutPayloadHeader
		if err := json.Unmarshal(line.Payload, &header); err != nil {
			continue
		}
		applyRolloutEvent(state, header.Type, line.Payload, raw, nowMs)
	}
}

func applyRolloutEvent(state *RolloutState, eventType string, payload json.RawMessage, raw string, nowMs int64) {
	switch eventType {
	case "task_started":
		var p struct {
			TurnID string `json:"turn_id"`
		}
		json.Unmarshal(payload, &p)
		if p.TurnID != "" {
			state.OpenTurns[p.TurnID] = true
		}
		state.EventSeq++
	case "task_complete":
		var p struct {
			TurnID string `json:"turn_id"`
		}
		json.Unmarshal(payload, &p)
		delete(state.OpenTurns, p.TurnID)
		state.EventSeq++
	case "user_message":
		state.UserSeq++
		state.EventSeq++
	case "token_count":
		var p struct {
			RateLimits *rolloutRateLimits `json:"rate_limits"`
		}
		json.Unmarshal(payload, &p)
		if p.RateLimits != nil {
			mergeQuotaSnapshot(state, p.RateLimits)
			state.UpdatedAtMs = nowMs
		}
		state.EventSeq++
	case "error", "warning":
		text := strings.ToLower(raw)
		if keywords.IsHardQuota(text) || strings.Contains(text, "429") {
			state.HardTriggerSeq++
			state.LastHardReason = detailFromPayload(payload)
		}
	}
}

type rolloutRateLimits struct {
	Primary   *rolloutWindow `json:"primary"`
	Secondary *rolloutWindow `json:"secondary"`
}

type rolloutWindow struct {
	WindowMinutes int64   `json:"window_minutes"`
	UsedPercent   float64 `json:"used_percent"`
	ResetsAt      int64   `json:"resets_at,omitempty"`
}

// mergeQuotaSnapshot applies the §4.4 window-picking rule to the
// rollout log's embedded rate_limits pair.
func mergeQuotaSnapshot(state *RolloutState, rl *rolloutRateLimits) {
	const (
		fiveHourMinutes      = 300
		fiveHourToleranceMin = 30
		oneWeekMinutes       = 10080
		oneWeekToleranceMin  = 12 * 60
	)
	classify := func(w *rolloutWindow, target, tolerance int64) *profilestore.WindowQuota {
		if w == nil {
			return nil
		}
		diff := w.WindowMinutes - target
		if diff < 0 {
			diff = -diff
		}
		if diff > tolerance {
			return nil
		}
		used := w.UsedPercent
		if used < 0 {
			used = 0
		}
		if used > 100 {
			used = 100
		}
		return &profilestore.WindowQuota{
			WindowMinutes:    w.WindowMinutes,
			UsedPercent:      used,
			RemainingPercent: 100 - used,
			ResetsAt:         w.ResetsAt,
		}
	}

	if five := classify(rl.Primary, fiveHourMinutes, fiveHourToleranceMin); five != nil {
		state.QuotaSnapshot.FiveHour = five
	} else if five := classify(rl.Secondary, fiveHourMinutes, fiveHourToleranceMin); five != nil {
		state.QuotaSnapshot.FiveHour = five
	}
	if week := classify(rl.Primary, oneWeekMinutes, oneWeekToleranceMin); week != nil {
		state.QuotaSnapshot.OneWeek = week
	} else if week := classify(rl.Secondary, oneWeekMinutes, oneWeekToleranceMin); week != nil {
		state.QuotaSnapshot.OneWeek = week
	}
}

func detailFromPayload(payload json.RawMessage) string {
	var p struct {
		Message string `json:"message"`
		Detail  string `json:"detail"`
	}
	json.Unmarshal(payload, &p)
	if p.Message != "" {
		return p.Message
	}
	return p.Detail
}
