package quota

import (
	"testing"
	"time"

	"github.com/codex-switch/supervisor/internal/appserver"
)

func TestExtractPrefersLimitIDCodexEntry(t *testing.T) {
	account := appserver.Account{Email: "user@example.com", PlanType: "plus"}
	rl := appserver.RateLimitsResult{
		RateLimitsByLimitID: map[string]appserver.RateLimitWindowPair{
			"other": {Primary: &appserver.RateLimitWindow{WindowMinutes: fiveHourMinutes, UsedPercent: 90}},
			"codex": {Primary: &appserver.RateLimitWindow{WindowMinutes: fiveHourMinutes, UsedPercent: 10}},
		},
	}

	got, err := Extract(account, rl, "")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got.FiveHour == nil || got.FiveHour.UsedPercent != 10 {
		t.Fatalf("expected the codex entry to be picked, got %+v", got.FiveHour)
	}
}

func TestExtractFallsBackToFirstEntryThenBareRateLimits(t *testing.T) {
	account := appserver.Account{}

	rl := appserver.RateLimitsResult{
		RateLimitsByLimitID: map[string]appserver.RateLimitWindowPair{
			"only": {Primary: &appserver.RateLimitWindow{WindowMinutes: oneWeekMinutes, UsedPercent: 50}},
		},
	}
	got, err := Extract(account, rl, "")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got.OneWeek == nil || got.OneWeek.RemainingPercent != 50 {
		t.Fatalf("expected first-entry fallback to be picked, got %+v", got.OneWeek)
	}

	rl2 := appserver.RateLimitsResult{
		RateLimits: &appserver.RateLimitWindowPair{
			Secondary: &appserver.RateLimitWindow{WindowMinutes: fiveHourMinutes, UsedPercent: 25},
		},
	}
	got2, err := Extract(account, rl2, "")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got2.FiveHour == nil || got2.FiveHour.RemainingPercent != 75 {
		t.Fatalf("expected bare rateLimits fallback to be picked, got %+v", got2.FiveHour)
	}
}

func TestExtractToleranceClassifiesNearbyWindows(t *testing.T) {
	account := appserver.Account{}
	rl := appserver.RateLimitsResult{
		RateLimits: &appserver.RateLimitWindowPair{
			Primary:   &appserver.RateLimitWindow{WindowMinutes: fiveHourMinutes + 20, UsedPercent: 5},
			Secondary: &appserver.RateLimitWindow{WindowMinutes: oneWeekMinutes - 60, UsedPercent: 5},
		},
	}
	got, err := Extract(account, rl, "")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got.FiveHour == nil || got.OneWeek == nil {
		t.Fatalf("expected both windows to classify within tolerance, got %+v", got)
	}
}

func TestExtractNoMatchingWindowReturnsErr(t *testing.T) {
	account := appserver.Account{}
	rl := appserver.RateLimitsResult{
		RateLimits: &appserver.RateLimitWindowPair{
			Primary: &appserver.RateLimitWindow{WindowMinutes: 60, UsedPercent: 5},
		},
	}
	if _, err := Extract(account, rl, ""); err != ErrNoQuotaWindow {
		t.Fatalf("expected ErrNoQuotaWindow, got %v", err)
	}
}

func TestExtractNoRateLimitsReturnsErr(t *testing.T) {
	account := appserver.Account{}
	if _, err := Extract(account, appserver.RateLimitsResult{}, ""); err != ErrNoQuotaWindow {
		t.Fatalf("expected ErrNoQuotaWindow, got %v", err)
	}
}

func TestRuntimeCacheFreshnessBands(t *testing.T) {
	c := NewRuntimeCache()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	q := AccountQuota{WorkspaceID: "w1"}
	c.Put("acc", q, base)

	if _, f := c.Get("acc", "w1", base.Add(100*time.Millisecond), false); f != Fresh {
		t.Fatalf("expected Fresh, got %v", f)
	}
	if _, f := c.Get("acc", "w1", base.Add(2*time.Second), false); f != Stale {
		t.Fatalf("expected Stale, got %v", f)
	}
	if _, f := c.Get("acc", "w1", base.Add(31*time.Minute), false); f != Expired {
		t.Fatalf("expected Expired, got %v", f)
	}
	if _, f := c.Get("acc", "w2", base.Add(100*time.Millisecond), false); f != Miss {
		t.Fatalf("expected Miss on workspace mismatch, got %v", f)
	}
	if _, f := c.Get("unknown", "", base, false); f != Miss {
		t.Fatalf("expected Miss on unknown profile, got %v", f)
	}
	if _, f := c.Get("acc", "w1", base.Add(2*time.Second), true); f != Fresh {
		t.Fatalf("expected Fresh within StaleWithin when push stream is live, got %v", f)
	}
	if _, f := c.Get("acc", "w1", base.Add(6*time.Second), true); f != Stale {
		t.Fatalf("expected Stale past StaleWithin even when push stream is live, got %v", f)
	}
}

func TestRuntimeCacheInvalidate(t *testing.T) {
	c := NewRuntimeCache()
	now := time.Now()
	c.Put("acc", AccountQuota{WorkspaceID: "w1"}, now)
	c.Invalidate("acc")
	if _, f := c.Get("acc", "w1", now, false); f != Miss {
		t.Fatalf("expected Miss after Invalidate, got %v", f)
	}
}
