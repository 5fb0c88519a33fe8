package supervisor

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/codex-switch/supervisor/internal/appserver"
	"github.com/codex-switch/supervisor/internal/paths"
	"github.com/codex-switch/supervisor/internal/quota"
)

// readTokensAccountID pulls tokens.account_id out of a snapshot's
// auth.json, the value quota.Extract needs to pick the matching org
// out of the id_token's auth claim (spec §4.4).
func readTokensAccountID(snapshotDir string) string {
	data, err := os.ReadFile(filepath.Join(snapshotDir, paths.AuthFileName))
	if err != nil {
		return ""
	}
	var doc struct {
		Tokens struct {
			AccountID string `json:"account_id"`
		} `json:"tokens"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return ""
	}
	return doc.Tokens.AccountID
}

// RefreshProfileQuota implements refresh_one_profile_quota (spec §4.6):
// spawn the assistant against the profile's own snapshot dir, extract
// its quota, persist it back into the store, and report the two
// admissibility inputs the auto-switch scheduler's CandidateProbe needs.
func (s *Supervisor) RefreshProfileQuota(ctx context.Context, name, snapshotDir string, timeout time.Duration) (valid bool, fiveHourRemaining, oneWeekRemaining float64, err error) {
	binary, err := appserver.LocateBinary()
	if err != nil {
		return false, 0, 0, err
	}

	responses, err := s.appServer.Call(ctx, binary, snapshotDir, timeout)
	if err != nil {
		return false, 0, 0, err
	}

	account, err := appserver.ParseAccount(responses)
	if err != nil {
		return false, 0, 0, err
	}
	rateLimits, err := appserver.ParseRateLimits(responses)
	if err != nil {
		return false, 0, 0, err
	}

	tokensAccountID := readTokensAccountID(snapshotDir)
	extracted, err := quota.Extract(account, rateLimits, tokensAccountID)
	if err != nil {
		return false, 0, 0, err
	}

	rec := s.Store.Get(name)
	if rec == nil {
		return false, 0, 0, nil
	}
	rec.Email = extracted.Email
	rec.WorkspaceName = extracted.WorkspaceName
	rec.WorkspaceID = extracted.WorkspaceID
	rec.PlanType = extracted.PlanType
	rec.Quota.FiveHour = extracted.FiveHour
	rec.Quota.OneWeek = extracted.OneWeek
	rec.LastCheckedAt = time.Now().UTC().Format(time.RFC3339)
	s.quotaCache.Put(name, extracted, time.Now())

	if err := s.Store.Put(name, rec); err != nil {
		return false, 0, 0, err
	}

	valid = rec.IsValid()
	if extracted.FiveHour != nil {
		fiveHourRemaining = extracted.FiveHour.RemainingPercent
	}
	if extracted.OneWeek != nil {
		oneWeekRemaining = extracted.OneWeek.RemainingPercent
	}
	return valid, fiveHourRemaining, oneWeekRemaining, nil
}

// candidateProbe adapts RefreshProfileQuota to autoswitch.CandidateProbe.
func (s *Supervisor) candidateProbe(ctx context.Context, name, snapshotDir string) (bool, float64, float64, error) {
	return s.RefreshProfileQuota(ctx, name, snapshotDir, appserver.PollTimeout)
}
