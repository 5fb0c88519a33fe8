// Package paths resolves every on-disk location the supervisor touches:
// the assistant's own home, the OpenCode data directory, the switcher's
// private home, and the per-profile snapshot directories beneath it
// (spec §4.1, C1).
package paths

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

const (
	SwitcherHomeDirName  = ".codex_account_switcher"
	CodexHomeDirName     = ".codex"
	ProfilesDirName      = "profiles"
	BackupsDirName       = "backups"
	ProfilesFileName     = "profiles.json"
	HookRestartSignal    = "hook-restart.signal"
	HookNewChatSignal    = "hook-newchat.signal"
	AuthFileName         = "auth.json"
	CapSIDFileName       = "cap_sid"
	ConfigTomlFileName   = "config.toml"
	OpenCodeSnapshotName = "opencode.openai.json"
	SkillsDirName        = "skills"
	SkillManifestName    = "SKILL.md"

	// cc-switch interop (SPEC_FULL §SUPPLEMENTED FEATURES 1): a sibling
	// tool's SQLite-backed profile store, read-only, for skills fan-out.
	CCSwitchHomeDirName = ".cc-switch"
	CCSwitchDBFileName  = "cc-switch.db"

	DefaultFallbackProfileName = "current-account"
)

// Layout bundles every resolved path the supervisor needs, computed
// once against a home directory (overridable in tests).
type Layout struct {
	Home           string
	CodexHome      string
	SwitcherHome   string
	OpenCodeData   string
	ProfilesDir    string
	BackupsDir     string
	ProfilesFile   string
	HookRestart    string
	HookNewChat    string
	CCSwitchHome   string
	CCSwitchDBFile string
}

// NewLayout resolves all paths from the user's home directory. Pass an
// explicit home (e.g. in tests) to avoid touching the real one.
func NewLayout(home string) (*Layout, error) {
	if home == "" {
		h, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		home = h
	}

	switcherHome := filepath.Join(home, SwitcherHomeDirName)
	ccSwitchHome := filepath.Join(home, CCSwitchHomeDirName)

	return &Layout{
		Home:           home,
		CodexHome:      filepath.Join(home, CodexHomeDirName),
		SwitcherHome:   switcherHome,
		OpenCodeData:   resolveOpenCodeDataDir(home),
		ProfilesDir:    filepath.Join(switcherHome, ProfilesDirName),
		BackupsDir:     filepath.Join(switcherHome, BackupsDirName),
		ProfilesFile:   filepath.Join(switcherHome, ProfilesFileName),
		HookRestart:    filepath.Join(switcherHome, HookRestartSignal),
		HookNewChat:    filepath.Join(switcherHome, HookNewChatSignal),
		CCSwitchHome:   ccSwitchHome,
		CCSwitchDBFile: filepath.Join(ccSwitchHome, CCSwitchDBFileName),
	}, nil
}

// resolveOpenCodeDataDir implements spec §4.1: on Windows, first
// existing of $OPENCODE_DATA_DIR, %APPDATA%/opencode,
// %LOCALAPPDATA%/opencode, ~/.local/share/opencode; elsewhere always
// ~/.local/share/opencode.
func resolveOpenCodeDataDir(home string) string {
	fallback := filepath.Join(home, ".local", "share", "opencode")

	if runtime.GOOS != "windows" {
		return fallback
	}

	var candidates []string
	if v := os.Getenv("OPENCODE_DATA_DIR"); v != "" {
		candidates = append(candidates, v)
	}
	if v := os.Getenv("APPDATA"); v != "" {
		candidates = append(candidates, filepath.Join(v, "opencode"))
	}
	if v := os.Getenv("LOCALAPPDATA"); v != "" {
		candidates = append(candidates, filepath.Join(v, "opencode"))
	}
	candidates = append(candidates, fallback)

	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return candidates[0]
}

// OpenCodeAuthFile is the live OpenCode credential file path.
func (l *Layout) OpenCodeAuthFile() string {
	return filepath.Join(l.OpenCodeData, AuthFileName)
}

// ProfileDir returns the snapshot directory for a sanitized profile name.
func (l *Layout) ProfileDir(name string) string {
	return filepath.Join(l.ProfilesDir, SanitizeProfileName(name))
}

// SkillsDirs returns every root the skills catalog (C14) may search,
// in priority order: codex skills, opencode skills (new + legacy
// `.agents/skills`), and the cc-switch SSOT if present.
func (l *Layout) SkillsDirs() []string {
	return []string{
		filepath.Join(l.CodexHome, SkillsDirName),
		filepath.Join(l.Home, ".config", "opencode", SkillsDirName),
		filepath.Join(l.Home, ".agents", SkillsDirName),
		filepath.Join(l.CCSwitchHome, SkillsDirName),
	}
}

// invalidNameChars mirrors the original Tauri sanitizer's disallowed
// set: reserved Windows path characters.
const invalidNameChars = `<>:"/\|?*`

// SanitizeProfileName replaces characters that are unsafe in a path
// component, trims trailing dots/whitespace, and falls back to
// "current-account" if the result is empty (spec §4.1).
func SanitizeProfileName(name string) string {
	var b strings.Builder
	for _, r := range name {
		if strings.ContainsRune(invalidNameChars, r) {
			b.WriteRune('_')
		} else {
			b.WriteRune(r)
		}
	}
	out := strings.TrimRight(b.String(), ". \t\r\n")
	out = strings.TrimSpace(out)
	if out == "" {
		return DefaultFallbackProfileName
	}
	return out
}
