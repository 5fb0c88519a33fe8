// Package credapply implements C4: atomically swapping a profile
// snapshot's credential files into the live credential paths, with a
// pre-apply backup and a post-apply identity consistency check
// (spec §4.3).
package credapply

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/codex-switch/supervisor/internal/codeerr"
	"github.com/codex-switch/supervisor/internal/paths"
)

// Mode selects which live surfaces an Apply call touches (spec §4.3).
type Mode string

const (
	ModeBoth       Mode = "both"
	ModeGPTOnly    Mode = "gpt-only"
	ModeOpenCode   Mode = "opencode-only"
)

// Applier swaps snapshot files into the live credential paths.
type Applier struct {
	layout *paths.Layout
	log    zerolog.Logger
}

func New(layout *paths.Layout, log zerolog.Logger) *Applier {
	return &Applier{layout: layout, log: log.With().Str("component", "credapply").Logger()}
}

// Apply performs one of the three idempotent modes from spec §4.3. It
// always backs up the previous live files first, and for GPT-touching
// modes rejects the operation with MissingAuth if the snapshot lacks
// auth.json.
func (a *Applier) Apply(snapshotDir string, mode Mode, now time.Time) error {
	if mode == ModeBoth || mode == ModeGPTOnly {
		if _, err := os.Stat(filepath.Join(snapshotDir, paths.AuthFileName)); err != nil {
			return codeerr.New(codeerr.KindMissingAuth, "snapshot is missing auth.json")
		}
	}

	backupDir, err := a.backupLiveFiles(now)
	if err != nil {
		return err
	}
	a.log.Info().Str("backup_dir", backupDir).Str("mode", string(mode)).Msg("pre-apply backup complete")

	if mode == ModeBoth || mode == ModeGPTOnly {
		if err := a.applyGPT(snapshotDir); err != nil {
			return err
		}
	}
	if mode == ModeBoth || mode == ModeOpenCode {
		if err := a.applyOpenCode(snapshotDir); err != nil {
			return err
		}
	}
	return nil
}

// backupLiveFiles copies every live file Apply might overwrite into a
// fresh backups/backup_YYYYMMDD_HHMMSS[_n] directory before any write
// happens (spec §4.3, testable property 4: backup completeness).
func (a *Applier) backupLiveFiles(now time.Time) (string, error) {
	base := "backup_" + now.Format("20060102_150405")
	dir := filepath.Join(a.layout.BackupsDir, base)
	for n := 1; dirExists(dir); n++ {
		dir = filepath.Join(a.layout.BackupsDir, fmt.Sprintf("%s_%d", base, n))
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", codeerr.IOErr(dir, err)
	}

	liveFiles := []string{
		filepath.Join(a.layout.CodexHome, paths.AuthFileName),
		filepath.Join(a.layout.CodexHome, paths.CapSIDFileName),
		filepath.Join(a.layout.CodexHome, paths.ConfigTomlFileName),
		a.layout.OpenCodeAuthFile(),
	}
	for _, f := range liveFiles {
		if _, err := os.Stat(f); err != nil {
			continue // spec §testable-property-4: only copy files that pre-existed
		}
		name := filepath.Base(f)
		if f == a.layout.OpenCodeAuthFile() {
			// both live credential files are named auth.json
			name = "opencode-" + name
		}
		dst := filepath.Join(dir, name)
		if err := copyFile(f, dst); err != nil {
			return "", codeerr.IOErr(f, err)
		}
	}
	return dir, nil
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func (a *Applier) applyGPT(snapshotDir string) error {
	if err := os.MkdirAll(a.layout.CodexHome, 0o755); err != nil {
		return codeerr.IOErr(a.layout.CodexHome, err)
	}

	required := filepath.Join(snapshotDir, paths.AuthFileName)
	if err := copyFileAtomic(required, filepath.Join(a.layout.CodexHome, paths.AuthFileName)); err != nil {
		return codeerr.IOErr(required, err)
	}

	for _, optional := range []string{paths.CapSIDFileName, paths.ConfigTomlFileName} {
		src := filepath.Join(snapshotDir, optional)
		if _, err := os.Stat(src); err != nil {
			continue
		}
		if err := copyFileAtomic(src, filepath.Join(a.layout.CodexHome, optional)); err != nil {
			return codeerr.IOErr(src, err)
		}
	}
	return nil
}

// applyOpenCode merges the snapshot's opencode.openai.json into the
// live OpenCode auth.json under the "openai" provider key, preserving
// every other provider entry already present (spec §4.3).
func (a *Applier) applyOpenCode(snapshotDir string) error {
	src := filepath.Join(snapshotDir, paths.OpenCodeSnapshotName)
	if _, err := os.Stat(src); err != nil {
		return nil // optional: nothing to merge
	}

	var providerEntry map[string]any
	data, err := os.ReadFile(src)
	if err != nil {
		return codeerr.IOErr(src, err)
	}
	if err := json.Unmarshal(data, &providerEntry); err != nil {
		return codeerr.Wrap(codeerr.KindConfig, "opencode.openai.json is malformed", err)
	}

	liveAuthPath := a.layout.OpenCodeAuthFile()
	providers := map[string]any{}
	if existing, err := os.ReadFile(liveAuthPath); err == nil {
		json.Unmarshal(existing, &providers)
	}
	providers["openai"] = providerEntry

	if err := os.MkdirAll(filepath.Dir(liveAuthPath), 0o755); err != nil {
		return codeerr.IOErr(liveAuthPath, err)
	}
	out, err := json.MarshalIndent(providers, "", "  ")
	if err != nil {
		return codeerr.Wrap(codeerr.KindConfig, "failed to marshal opencode auth.json", err)
	}
	return writeFileAtomic(liveAuthPath, out)
}

// EnsureLiveMatchesActive implements the post-apply consistency check
// (spec §4.3): if the live auth.json's tokens.account_id doesn't match
// the active profile's workspace_id, re-apply once; if still
// mismatched, fail with IdentityMismatch.
func (a *Applier) EnsureLiveMatchesActive(snapshotDir, activeWorkspaceID string, now time.Time) error {
	match, err := a.liveMatches(activeWorkspaceID)
	if err != nil {
		return err
	}
	if match {
		return nil
	}

	if err := a.Apply(snapshotDir, ModeGPTOnly, now); err != nil {
		return err
	}

	match, err = a.liveMatches(activeWorkspaceID)
	if err != nil {
		return err
	}
	if !match {
		return codeerr.New(codeerr.KindIdentityMismatch, "live credentials still do not match the active profile after one re-apply")
	}
	return nil
}

func (a *Applier) liveMatches(activeWorkspaceID string) (bool, error) {
	live := filepath.Join(a.layout.CodexHome, paths.AuthFileName)
	data, err := os.ReadFile(live)
	if err != nil {
		return false, codeerr.IOErr(live, err)
	}
	var doc struct {
		Tokens struct {
			AccountID string `json:"account_id"`
		} `json:"tokens"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return false, codeerr.Wrap(codeerr.KindConfig, "live auth.json is malformed", err)
	}
	return strings.EqualFold(doc.Tokens.AccountID, activeWorkspaceID), nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}

// copyFileAtomic writes through a temp file + rename so a concurrent
// reader of dst never observes a truncated file (spec testable
// property 3: apply atomicity).
func copyFileAtomic(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return writeFileAtomic(dst, data)
}

func writeFileAtomic(dst string, data []byte) error {
	dir := filepath.Dir(dst)
	tmp, err := os.CreateTemp(dir, ".apply-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, dst)
}
