package skills

import (
	"io"
	"os"
	"path/filepath"

	"github.com/codex-switch/supervisor/internal/codeerr"
)

// EnsureSeeded copies any skill directories found under legacyDir
// into ssotDir that the SSOT doesn't already have, establishing the
// SSOT as the durable home the first time the catalog runs against an
// older switcher installation (original ensure_ccswitch_ssot_seeded).
func EnsureSeeded(ssotDir, legacyDir string) error {
	if err := os.MkdirAll(ssotDir, 0o755); err != nil {
		return codeerr.IOErr(ssotDir, err)
	}
	entries, err := os.ReadDir(legacyDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return codeerr.IOErr(legacyDir, err)
	}

	for _, de := range entries {
		if !de.IsDir() {
			continue
		}
		src := filepath.Join(legacyDir, de.Name())
		if !isSkillDir(src) {
			continue
		}
		dest := filepath.Join(ssotDir, de.Name())
		if isSkillDir(dest) {
			continue
		}
		if pathExistsOrSymlink(dest) {
			if err := removePathSafe(dest); err != nil {
				return err
			}
		}
		if err := copyDirRecursive(src, dest); err != nil {
			return err
		}
	}
	return nil
}

// EnsureInSSOT guarantees directory exists under ssotDir, copying it
// in from the first candidate root that has it if missing. Returns
// the resolved SSOT path (original ensure_skill_in_ssot).
func EnsureInSSOT(ssotDir, directory string, candidateRoots []string) (string, error) {
	if err := os.MkdirAll(ssotDir, 0o755); err != nil {
		return "", codeerr.IOErr(ssotDir, err)
	}

	dest := filepath.Join(ssotDir, directory)
	if isSkillDir(dest) {
		return dest, nil
	}

	for _, root := range candidateRoots {
		candidate := filepath.Join(root, directory)
		if !isSkillDir(candidate) {
			continue
		}
		if pathExistsOrSymlink(dest) {
			if err := removePathSafe(dest); err != nil {
				return "", err
			}
		}
		if err := copyDirRecursive(candidate, dest); err != nil {
			return "", err
		}
		return dest, nil
	}

	return "", codeerr.New(codeerr.KindConfig, "no source directory found to seed skill: "+directory)
}

// SyncToTarget makes directory available under targetRoot by
// symlinking to its SSOT copy, falling back to a full recursive copy
// when the platform or filesystem refuses a symlink (original
// sync_skill_to_target_dir).
func SyncToTarget(ssotDir, directory string, candidateRoots []string, targetRoot string) error {
	ssotSkill, err := EnsureInSSOT(ssotDir, directory, candidateRoots)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(targetRoot, 0o755); err != nil {
		return codeerr.IOErr(targetRoot, err)
	}

	targetSkill := filepath.Join(targetRoot, directory)
	if pathExistsOrSymlink(targetSkill) {
		if err := removePathSafe(targetSkill); err != nil {
			return err
		}
	}

	if err := os.Symlink(ssotSkill, targetSkill); err != nil {
		return copyDirRecursive(ssotSkill, targetSkill)
	}
	return nil
}

// RemoveFromTarget deletes directory's symlink or copy from
// targetRoot, leaving the SSOT untouched.
func RemoveFromTarget(directory, targetRoot string) error {
	return removePathSafe(filepath.Join(targetRoot, directory))
}

func pathExistsOrSymlink(path string) bool {
	if _, err := os.Lstat(path); err == nil {
		return true
	}
	return false
}

func isSymlink(path string) bool {
	info, err := os.Lstat(path)
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeSymlink != 0
}

func removePathSafe(path string) error {
	if !pathExistsOrSymlink(path) {
		return nil
	}
	if isSymlink(path) {
		if err := os.Remove(path); err != nil {
			return codeerr.IOErr(path, err)
		}
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return codeerr.IOErr(path, err)
	}
	if info.IsDir() {
		if err := os.RemoveAll(path); err != nil {
			return codeerr.IOErr(path, err)
		}
		return nil
	}
	if err := os.Remove(path); err != nil {
		return codeerr.IOErr(path, err)
	}
	return nil
}

// copyDirRecursive copies src into dest, following symlinks it
// encounters along the way (a plain copy never re-creates them).
func copyDirRecursive(src, dest string) error {
	info, err := os.Stat(src)
	if err != nil || !info.IsDir() {
		return codeerr.New(codeerr.KindConfig, "copy source is not a directory: "+src)
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return codeerr.IOErr(dest, err)
	}

	entries, err := os.ReadDir(src)
	if err != nil {
		return codeerr.IOErr(src, err)
	}

	for _, de := range entries {
		from := filepath.Join(src, de.Name())
		to := filepath.Join(dest, de.Name())

		fi, err := de.Info()
		if err != nil {
			return codeerr.IOErr(from, err)
		}

		switch {
		case fi.Mode()&os.ModeSymlink != 0:
			resolved, err := resolveSymlink(from)
			if err != nil {
				continue
			}
			resolvedInfo, err := os.Stat(resolved)
			if err != nil {
				continue
			}
			if resolvedInfo.IsDir() {
				if err := copyDirRecursive(resolved, to); err != nil {
					return err
				}
			} else {
				if err := copyFile(resolved, to); err != nil {
					return err
				}
			}
		case fi.IsDir():
			if err := copyDirRecursive(from, to); err != nil {
				return err
			}
		default:
			if err := copyFile(from, to); err != nil {
				return err
			}
		}
	}
	return nil
}

func resolveSymlink(path string) (string, error) {
	target, err := os.Readlink(path)
	if err != nil {
		return "", err
	}
	if filepath.IsAbs(target) {
		return target, nil
	}
	return filepath.Join(filepath.Dir(path), target), nil
}

func copyFile(from, to string) error {
	src, err := os.Open(from)
	if err != nil {
		return codeerr.IOErr(from, err)
	}
	defer src.Close()

	dst, err := os.Create(to)
	if err != nil {
		return codeerr.IOErr(to, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return codeerr.Wrap(codeerr.KindIO, "failed to copy "+from+" to "+to, err)
	}
	return nil
}
