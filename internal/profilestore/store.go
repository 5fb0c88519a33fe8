package profilestore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"

	"github.com/codex-switch/supervisor/internal/codeerr"
)

// Root is the persisted store root (spec §3).
type Root struct {
	ActiveProfile   string             `json:"active_profile,omitempty"`
	Profiles        map[string]*Record `json:"profiles"`
	ProfileOrder    []string           `json:"profile_order"`
	LastKeepaliveAt int64              `json:"last_keepalive_at,omitempty"`
}

// Store is the single-writer-disciplined, mutex-guarded profile
// store, modeled on the teacher's core/internal/config/store.go
// (load-or-default, atomic save, RWMutex) generalized to profiles.json
// and reinforced with an advisory file lock (gofrs/flock) that Load
// takes with TryLock: a second supervisor process calling Load while
// another holds the lock gets an error instead of a store. The lock is
// released when Load returns, and later saves do not take it, so
// concurrent instances remain undefined behavior per spec §1 Non-goals.
type Store struct {
	mu   sync.RWMutex
	path string
	lock *flock.Flock
	root *Root
	log  zerolog.Logger
}

// Load reads profiles.json (stripping a BOM if present), normalizes
// order and support flags, runs identity dedup, and writes back if
// anything changed (spec §4.2 Load). A missing file yields an empty,
// valid store; malformed JSON surfaces as a ConfigError.
func Load(path string, log zerolog.Logger) (*Store, error) {
	s := &Store{
		path: path,
		lock: flock.New(path + ".lock"),
		log:  log.With().Str("component", "profilestore").Logger(),
	}

	locked, err := s.lock.TryLock()
	if err != nil {
		return nil, codeerr.Wrap(codeerr.KindIO, "failed to acquire profiles.json lock", err)
	}
	if !locked {
		return nil, codeerr.New(codeerr.KindIO, "profiles.json is locked by another supervisor instance")
	}
	defer s.lock.Unlock()

	root, err := loadRoot(path)
	if err != nil {
		if os.IsNotExist(err) {
			s.root = &Root{Profiles: map[string]*Record{}}
			return s, s.saveLocked()
		}
		return nil, err
	}
	s.root = root

	changed := s.normalizeLocked()
	if changed {
		if err := s.saveLocked(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func loadRoot(path string) (*Root, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	data = bytesTrimBOM(data)

	var root Root
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, codeerr.Wrap(codeerr.KindConfig, "profiles.json is malformed", err)
	}
	if root.Profiles == nil {
		root.Profiles = map[string]*Record{}
	}
	return &root, nil
}

func bytesTrimBOM(b []byte) []byte {
	bom := []byte{0xEF, 0xBB, 0xBF}
	if len(b) >= 3 && b[0] == bom[0] && b[1] == bom[1] && b[2] == bom[2] {
		return b[3:]
	}
	return b
}

// normalizeLocked enforces invariants 1 and 2 under s.mu already held
// (or before any other goroutine has a handle to s). Returns whether
// anything changed.
func (s *Store) normalizeLocked() bool {
	changed := false

	for _, rec := range s.root.Profiles {
		if !rec.Support.GPT && !rec.Support.OpenCode {
			rec.Support.GPT = true
			changed = true
		}
	}

	if dedupe(s.root) {
		changed = true
	}

	normalizedOrder := intersectOrder(s.root.ProfileOrder, s.root.Profiles)
	if !stringsEqual(normalizedOrder, s.root.ProfileOrder) {
		s.root.ProfileOrder = normalizedOrder
		changed = true
	}

	return changed
}

// intersectOrder implements invariant 1: profile_order becomes the
// unique intersection of the given order with known names, with
// missing names appended alphabetically (case-insensitive).
func intersectOrder(order []string, profiles map[string]*Record) []string {
	seen := make(map[string]bool, len(order))
	var out []string
	for _, name := range order {
		if _, ok := profiles[name]; !ok || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}

	var missing []string
	for name := range profiles {
		if !seen[name] {
			missing = append(missing, name)
		}
	}
	sort.Slice(missing, func(i, j int) bool {
		return strings.ToLower(missing[i]) < strings.ToLower(missing[j])
	})
	out = append(out, missing...)
	return out
}

func stringsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Save writes the store atomically: marshal, write to a temp file in
// the same directory, fsync, then rename over the target — the
// minimum contract from spec §4.2 ("never leave a truncated file
// observable").
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *Store) saveLocked() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return codeerr.IOErr(s.path, err)
	}

	data, err := json.MarshalIndent(s.root, "", "  ")
	if err != nil {
		return codeerr.Wrap(codeerr.KindConfig, "failed to marshal profiles.json", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".profiles-*.json.tmp")
	if err != nil {
		return codeerr.IOErr(s.path, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return codeerr.IOErr(tmpPath, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return codeerr.IOErr(tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return codeerr.IOErr(tmpPath, err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return codeerr.IOErr(s.path, err)
	}
	return nil
}

// List returns profile names: profile_order first, then any remaining
// keys sorted case-insensitively (spec §4.2 List — in a fully
// normalized store the second half is always empty, but List doesn't
// assume normalization already ran).
func (s *Store) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool, len(s.root.ProfileOrder))
	out := make([]string, 0, len(s.root.Profiles))
	for _, name := range s.root.ProfileOrder {
		if _, ok := s.root.Profiles[name]; ok && !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}

	var rest []string
	for name := range s.root.Profiles {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Slice(rest, func(i, j int) bool { return strings.ToLower(rest[i]) < strings.ToLower(rest[j]) })
	return append(out, rest...)
}

// Get returns a copy of the named record, or nil if absent.
func (s *Store) Get(name string) *Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.root.Profiles[name]
	if !ok {
		return nil
	}
	cp := *rec
	return &cp
}

// ActiveProfile returns the current active profile name, or "".
func (s *Store) ActiveProfile() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.root.ActiveProfile
}

// SetActiveProfile updates the active pointer and persists it.
func (s *Store) SetActiveProfile(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.root.Profiles[name]; name != "" && !ok {
		return codeerr.New(codeerr.KindConfig, fmt.Sprintf("unknown profile %q", name))
	}
	s.root.ActiveProfile = name
	return s.saveLocked()
}

// Put inserts or replaces a record, appends it to profile_order if
// new, re-runs dedup, and persists.
func (s *Store) Put(name string, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.root.Profiles[name]; !exists {
		s.root.ProfileOrder = append(s.root.ProfileOrder, name)
	}
	s.root.Profiles[name] = rec
	s.normalizeLocked()
	return s.saveLocked()
}

// Delete removes a profile (and its snapshot directory) from the store.
func (s *Store) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.root.Profiles[name]
	if !ok {
		return nil
	}
	if rec.SnapshotDir != "" {
		os.RemoveAll(rec.SnapshotDir)
	}
	delete(s.root.Profiles, name)
	if s.root.ActiveProfile == name {
		s.root.ActiveProfile = ""
	}
	s.root.ProfileOrder = intersectOrder(s.root.ProfileOrder, s.root.Profiles)
	return s.saveLocked()
}

// Reorder replaces profile_order with the unique intersection of
// requested with known names, appending any missing names (spec §4.2
// Reorder).
func (s *Store) Reorder(requested []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.root.ProfileOrder = intersectOrder(requested, s.root.Profiles)
	return s.saveLocked()
}

// LookupByIdentity finds the profile matching (workspaceID, email)
// using the same tie-break rule as dedup (spec §4.2 "Lookup by
// identity"). Returns "" if none match.
func (s *Store) LookupByIdentity(workspaceID, email string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key := strings.ToLower(strings.TrimSpace(workspaceID)) + "|" + strings.ToLower(strings.TrimSpace(email))
	if strings.TrimSpace(workspaceID) == "" || strings.TrimSpace(email) == "" {
		return ""
	}

	var matches []string
	for name, rec := range s.root.Profiles {
		if k, ok := identityKey(rec); ok && k == key {
			matches = append(matches, name)
		}
	}
	if len(matches) == 0 {
		return ""
	}
	return pickSurvivor(s.root, matches)
}

// Touch stamps last_keepalive_at (SPEC_FULL supplemented feature 5)
// and persists it, called once per successful auto_switch_tick.
func (s *Store) Touch(now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.root.LastKeepaliveAt = now.Unix()
	return s.saveLocked()
}

// Snapshot returns a deep-enough copy of the full root for dashboard
// projection (spec §7 "the dashboard view always renders").
func (s *Store) Snapshot() Root {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cp := Root{
		ActiveProfile:   s.root.ActiveProfile,
		ProfileOrder:    append([]string(nil), s.root.ProfileOrder...),
		LastKeepaliveAt: s.root.LastKeepaliveAt,
		Profiles:        make(map[string]*Record, len(s.root.Profiles)),
	}
	for name, rec := range s.root.Profiles {
		r := *rec
		cp.Profiles[name] = &r
	}
	return cp
}
