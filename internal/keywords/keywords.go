// Package keywords holds the case-insensitive substring lists from
// spec §6, shared by the profile validity check (C3), the rollout
// tail (C8) and the OpenCode tail (C10).
package keywords

import "strings"

var authErrors = []string{
	"not logged in",
	"unauthorized",
	"forbidden",
	"invalid_grant",
	"invalid token",
	"login required",
	"authentication",
	"401",
	"402",
	"403",
	"deactivated_workspace",
}

var hardQuota = []string{
	"usage_limit_exceeded",
	"usage limit has been reached",
	"usage limit",
	"insufficient_quota",
	"rate_limit_exceeded",
	"rate limit",
	"no quota",
	"quota exhausted",
	"额度",
	"429",
}

// ContainsAny reports whether text contains any of substrs, case
// insensitively.
func ContainsAny(text string, substrs []string) bool {
	lower := strings.ToLower(text)
	for _, s := range substrs {
		if strings.Contains(lower, strings.ToLower(s)) {
			return true
		}
	}
	return false
}

// IsAuthError reports whether text names one of the auth-error markers.
func IsAuthError(text string) bool { return ContainsAny(text, authErrors) }

// IsHardQuota reports whether text names one of the hard-quota markers.
func IsHardQuota(text string) bool { return ContainsAny(text, hardQuota) }
