// Package quota implements C6: translating raw app-server RPC results
// into AccountQuota, plus the process-wide freshness cache (spec §4.4).
package quota

import (
	"strings"

	"github.com/codex-switch/supervisor/internal/appserver"
	"github.com/codex-switch/supervisor/internal/jwtclaims"
	"github.com/codex-switch/supervisor/internal/profilestore"
)

// fiveHourMinutes/oneWeekMinutes are the nominal window lengths; a
// window within the tolerance below is classified even if the
// app-server reports a slightly different value.
const (
	fiveHourMinutes     = 300
	fiveHourToleranceMin = 30
	oneWeekMinutes      = 10080
	oneWeekToleranceMin = 12 * 60
)

// AccountQuota is the extracted, typed result of one RPC call (spec §4.4).
type AccountQuota struct {
	Email         string
	WorkspaceName string
	WorkspaceID   string
	PlanType      string
	FiveHour      *profilestore.WindowQuota
	OneWeek       *profilestore.WindowQuota
}

// ErrNoQuotaWindow mirrors the NoQuotaWindow error kind; returned
// alongside an AccountQuota that carries the identity fields but no
// windows when neither window could be classified.
var ErrNoQuotaWindow = errNoQuotaWindow{}

type errNoQuotaWindow struct{}

func (errNoQuotaWindow) Error() string { return "no_quota_window: neither five_hour nor one_week window found" }

// Extract implements the spec §4.4 extraction rules: email/planType
// from the account payload, workspace from the id_token's auth claim
// (preferring the org matching tokens.account_id), and the two
// quota windows picked from rateLimitsByLimitId.codex (else the first
// entry, else the bare rateLimits field).
func Extract(account appserver.Account, rl appserver.RateLimitsResult, tokensAccountID string) (AccountQuota, error) {
	claim, _ := jwtclaims.Decode(account.IDToken)
	wsID, wsName := jwtclaims.ResolveWorkspace(claim, tokensAccountID)

	out := AccountQuota{
		Email:         account.Email,
		PlanType:      account.PlanType,
		WorkspaceID:   wsID,
		WorkspaceName: wsName,
	}

	pair := pickRateLimitPair(rl)
	if pair == nil {
		return out, ErrNoQuotaWindow
	}

	five, week := classifyWindows(pair)
	out.FiveHour = five
	out.OneWeek = week
	if five == nil && week == nil {
		return out, ErrNoQuotaWindow
	}
	return out, nil
}

func pickRateLimitPair(rl appserver.RateLimitsResult) *appserver.RateLimitWindowPair {
	if pair, ok := rl.RateLimitsByLimitID["codex"]; ok {
		return &pair
	}
	for _, pair := range rl.RateLimitsByLimitID {
		return &pair // first entry in map iteration order (spec: "else first entry")
	}
	return rl.RateLimits
}

func classifyWindows(pair *appserver.RateLimitWindowPair) (five, week *profilestore.WindowQuota) {
	candidates := []*appserver.RateLimitWindow{pair.Primary, pair.Secondary}

	// Exact match first (spec: "exact match first"), then tolerance.
	for _, w := range candidates {
		if w != nil && w.WindowMinutes == fiveHourMinutes {
			five = toWindowQuota(w)
		}
		if w != nil && w.WindowMinutes == oneWeekMinutes {
			week = toWindowQuota(w)
		}
	}
	if five == nil {
		for _, w := range candidates {
			if w != nil && withinTolerance(w.WindowMinutes, fiveHourMinutes, fiveHourToleranceMin) {
				five = toWindowQuota(w)
				break
			}
		}
	}
	if week == nil {
		for _, w := range candidates {
			if w != nil && withinTolerance(w.WindowMinutes, oneWeekMinutes, oneWeekToleranceMin) {
				week = toWindowQuota(w)
				break
			}
		}
	}
	return five, week
}

func withinTolerance(value, target, tolerance int64) bool {
	diff := value - target
	if diff < 0 {
		diff = -diff
	}
	return diff <= tolerance
}

func toWindowQuota(w *appserver.RateLimitWindow) *profilestore.WindowQuota {
	used := w.UsedPercent
	if used < 0 {
		used = 0
	}
	if used > 100 {
		used = 100
	}
	remaining := 100 - used
	if remaining < 0 {
		remaining = 0
	}
	if remaining > 100 {
		remaining = 100
	}
	return &profilestore.WindowQuota{
		WindowMinutes:    w.WindowMinutes,
		UsedPercent:      used,
		RemainingPercent: remaining,
		ResetsAt:         w.ResetsAt,
	}
}

// IdentityMatches implements the cache-read identity check (spec §4.4):
// case-insensitive equal, with either side empty considered matching.
func IdentityMatches(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == "" || b == "" {
		return true
	}
	return strings.EqualFold(a, b)
}
