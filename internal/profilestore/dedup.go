package profilestore

import (
	"os"
	"sort"
	"time"
)

// dedupe applies spec §3 invariant 2 in place: for every group of
// profiles sharing a non-empty identity key, keep exactly one,
// breaking ties (a) active wins, (b) else non-empty workspace_alias,
// (c) else latest updated_at/last_checked_at. Removed profiles'
// snapshot_dir is deleted from disk. Returns true if anything changed.
func dedupe(root *Root) bool {
	groups := make(map[string][]string) // identity key -> profile names

	for name, rec := range root.Profiles {
		key, ok := identityKey(rec)
		if !ok {
			continue
		}
		groups[key] = append(groups[key], name)
	}

	changed := false
	for _, names := range groups {
		if len(names) < 2 {
			continue
		}
		winner := pickSurvivor(root, names)
		for _, name := range names {
			if name == winner {
				continue
			}
			if rec, ok := root.Profiles[name]; ok && rec.SnapshotDir != "" {
				os.RemoveAll(rec.SnapshotDir)
			}
			delete(root.Profiles, name)
			changed = true
		}
	}

	if changed {
		root.ProfileOrder = intersectOrder(root.ProfileOrder, root.Profiles)
	}
	return changed
}

func pickSurvivor(root *Root, names []string) string {
	sort.Strings(names) // deterministic base ordering before tie-breaks

	for _, name := range names {
		if root.ActiveProfile != "" && name == root.ActiveProfile {
			return name
		}
	}

	var aliased []string
	for _, name := range names {
		if root.Profiles[name].WorkspaceAlias != "" {
			aliased = append(aliased, name)
		}
	}
	if len(aliased) > 0 {
		names = aliased
	}

	best := names[0]
	bestTime := recordTimestamp(root.Profiles[best])
	for _, name := range names[1:] {
		t := recordTimestamp(root.Profiles[name])
		if t.After(bestTime) {
			best = name
			bestTime = t
		}
	}
	return best
}

func recordTimestamp(r *Record) time.Time {
	best := time.Time{}
	if r.UpdatedAt != "" {
		if t, err := time.Parse(time.RFC3339, r.UpdatedAt); err == nil && t.After(best) {
			best = t
		}
	}
	if r.LastCheckedAt != "" {
		if t, err := time.Parse(time.RFC3339, r.LastCheckedAt); err == nil && t.After(best) {
			best = t
		}
	}
	return best
}
