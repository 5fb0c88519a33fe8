// Package profilestore implements C3: the persisted mapping of
// profile name to credential-snapshot record, with identity dedup,
// ordering, and dashboard projection (spec §3, §4.2).
package profilestore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/codex-switch/supervisor/internal/keywords"
	"github.com/codex-switch/supervisor/internal/paths"
)

// WindowQuota is one rate-limit window (spec §3).
type WindowQuota struct {
	WindowMinutes    int64   `json:"window_minutes"`
	UsedPercent      float64 `json:"used_percent"`
	RemainingPercent float64 `json:"remaining_percent"`
	ResetsAt         int64   `json:"resets_at,omitempty"`
}

// Quota bundles the two windows the supervisor tracks.
type Quota struct {
	FiveHour *WindowQuota `json:"five_hour,omitempty"`
	OneWeek  *WindowQuota `json:"one_week,omitempty"`
}

// Support flags which assistants a profile can be applied to. At
// least one of GPT/OpenCode must be true for a valid record.
type Support struct {
	GPT      bool `json:"gpt"`
	OpenCode bool `json:"opencode"`
}

// Record is one stored account snapshot (spec §3 Profile record).
// Extras is the forward-compatible side channel design note §9
// prescribes instead of an untyped value tree: fields a newer
// supervisor version wrote that this one doesn't model explicitly are
// preserved through a load/save round trip rather than dropped.
type Record struct {
	SnapshotDir    string         `json:"snapshot_dir"`
	Email          string         `json:"email,omitempty"`
	WorkspaceName  string         `json:"workspace_name,omitempty"`
	WorkspaceID    string         `json:"workspace_id,omitempty"`
	PlanType       string         `json:"plan_type,omitempty"`
	WorkspaceAlias string         `json:"workspace_alias,omitempty"`
	Support        Support        `json:"support"`
	Quota          Quota          `json:"quota"`
	LastCheckedAt  string         `json:"last_checked_at,omitempty"`
	LastError      string         `json:"last_error,omitempty"`
	UpdatedAt      string         `json:"updated_at,omitempty"`
	Extras         map[string]any `json:"extras,omitempty"`
}

// DisplayName returns WorkspaceAlias if set, else WorkspaceName, else Email.
func (r *Record) DisplayName() string {
	if r.WorkspaceAlias != "" {
		return r.WorkspaceAlias
	}
	if r.WorkspaceName != "" {
		return r.WorkspaceName
	}
	return r.Email
}

// identityKey implements spec invariant 2's identity_key: lower(trim(workspace_id))
// + "|" + lower(trim(email)). Returns ("", false) when either half is
// empty — such a record is excluded from dedup groups.
func identityKey(r *Record) (string, bool) {
	wid := strings.ToLower(strings.TrimSpace(r.WorkspaceID))
	email := strings.ToLower(strings.TrimSpace(r.Email))
	if wid == "" || email == "" {
		return "", false
	}
	return wid + "|" + email, true
}

// Validity is the outcome of profileValidity (spec §3 invariant 4 /
// §7 user-visible status strings).
type Validity string

const (
	ValidityOK            Validity = "正常"
	ValidityWeeklyLimited Validity = "受限(仅周额度)"
	ValidityInvalid       Validity = "已失效"
)

// tokenHealth is the subset of live auth.json fields relevant to
// profileValidity.
type tokenHealth struct {
	HasRefresh    bool
	AccessExpUnix int64
}

func readAuthFile(path string) (tokenHealth, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return tokenHealth{}, err
	}
	var doc struct {
		Tokens struct {
			RefreshToken string `json:"refresh_token"`
			AccessToken  string `json:"access_token"`
		} `json:"tokens"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return tokenHealth{}, err
	}
	th := tokenHealth{HasRefresh: doc.Tokens.RefreshToken != ""}
	return th, nil
}

// IsValid implements spec §3 invariant 4 exactly: valid iff auth.json
// exists, carries a refresh_token, and either the access token isn't
// expired or a refresh token is present, and last_error isn't an
// auth-error. This is the boolean predicate the auto-switch candidate
// scan (§4.6) gates on — it does not look at quota at all.
func (r *Record) IsValid() bool {
	if keywords.IsAuthError(r.LastError) {
		return false
	}
	authPath := filepath.Join(r.SnapshotDir, paths.AuthFileName)
	th, err := readAuthFile(authPath)
	if err != nil {
		return false
	}
	// Access-token expiry is best-effort: the id_token encodes it, but
	// the bare presence of a refresh token already satisfies the
	// invariant's "either/or", so a missing/unparseable access token
	// never invalidates a profile that can still refresh.
	return th.HasRefresh
}

// Status renders the dashboard-facing validity string (spec §7):
// OK, weekly-limited (valid profile whose one_week window is
// exhausted while five_hour is healthy), or invalid.
func (r *Record) Status() Validity {
	if !r.IsValid() {
		return ValidityInvalid
	}
	if r.Quota.OneWeek != nil && r.Quota.OneWeek.RemainingPercent <= 0 {
		if r.Quota.FiveHour == nil || r.Quota.FiveHour.RemainingPercent > 0 {
			return ValidityWeeklyLimited
		}
	}
	return ValidityOK
}

// Touch stamps UpdatedAt with the current time in RFC3339, matching
// the "ISO-local" timestamps used throughout the store.
func (r *Record) Touch(now time.Time) {
	r.UpdatedAt = now.Format(time.RFC3339)
}
