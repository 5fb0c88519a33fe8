// Package recovery implements C9+C12: the thread-recovery tick, the
// hook-signal/editor-command actuator, extension-host restart
// watching, and the SQLite editor-state purge (spec §4.7, §4.8, §4.10).
//
// Editor discovery generalizes the teacher's
// internal/install/installer.go GetUserConfigPaths pattern (a
// per-platform table of known config locations) from MCP settings
// files to the VS Code-family global state databases this supervisor
// actually needs to reach.
package recovery

import (
	"os"
	"path/filepath"
	"runtime"
	"sort"
)

// EditorKind identifies one VS Code-family distribution (spec §4.10:
// "code", "code-insiders", "cursor", "windsurf").
type EditorKind string

const (
	EditorVSCode         EditorKind = "vscode"
	EditorVSCodeInsiders EditorKind = "vscode-insiders"
	EditorCursor         EditorKind = "cursor"
	EditorWindsurf       EditorKind = "windsurf"
)

// EditorInfo bundles everything the actuator needs for one editor
// distribution: its URI scheme, the CLI binary names to try in order,
// its global state.vscdb path, and the glob used to find its most
// recent Codex.log (used to deduce the "preferred" editor).
type EditorInfo struct {
	Kind           EditorKind
	Scheme         string
	CLINames       []string
	GlobalStateDB  string
	WorkspaceRoot  string // parent of per-workspace state.vscdb directories
	CodexLogGlob   string
}

// DiscoverEditors returns the known candidate editors for the current
// platform, generalizing installer.go's GetUserConfigPaths beyond a
// single OS.
func DiscoverEditors(home string) []EditorInfo {
	var base string
	switch runtime.GOOS {
	case "darwin":
		base = filepath.Join(home, "Library", "Application Support")
	case "windows":
		base = os.Getenv("APPDATA")
		if base == "" {
			base = filepath.Join(home, "AppData", "Roaming")
		}
	default:
		base = filepath.Join(home, ".config")
	}

	mk := func(kind EditorKind, dirName, scheme string, cliNames ...string) EditorInfo {
		root := filepath.Join(base, dirName, "User")
		return EditorInfo{
			Kind:          kind,
			Scheme:        scheme,
			CLINames:      cliNames,
			GlobalStateDB: filepath.Join(root, "globalStorage", "state.vscdb"),
			WorkspaceRoot: filepath.Join(root, "workspaceStorage"),
			CodexLogGlob:  filepath.Join(root, "logs", "*", "exthost", "*chatgpt.chatgpt*", "Codex.log"),
		}
	}

	return []EditorInfo{
		mk(EditorVSCode, "Code", "vscode", "code", "code.cmd"),
		mk(EditorVSCodeInsiders, "Code - Insiders", "vscode-insiders", "code-insiders", "code-insiders.cmd"),
		mk(EditorCursor, "Cursor", "cursor", "cursor", "cursor.cmd"),
		mk(EditorWindsurf, "Windsurf", "windsurf", "windsurf", "windsurf.cmd"),
	}
}

// Preferred implements spec §4.10's "preferred editor" rule: the
// distribution whose Codex.log glob has the most recently modified
// match. Returns nil if none match anything on disk.
func Preferred(editors []EditorInfo) *EditorInfo {
	type candidate struct {
		editor EditorInfo
		mtime  int64
	}
	var candidates []candidate
	for _, e := range editors {
		matches, err := filepath.Glob(e.CodexLogGlob)
		if err != nil || len(matches) == 0 {
			continue
		}
		var best int64
		for _, m := range matches {
			info, err := os.Stat(m)
			if err != nil {
				continue
			}
			if ms := info.ModTime().UnixMilli(); ms > best {
				best = ms
			}
		}
		if best > 0 {
			candidates = append(candidates, candidate{editor: e, mtime: best})
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].mtime > candidates[j].mtime })
	return &candidates[0].editor
}

// WorkspaceStateDBs lists every workspaceStorage/<hash>/state.vscdb
// under an editor's workspace root.
func WorkspaceStateDBs(e EditorInfo) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(e.WorkspaceRoot, "*", "state.vscdb"))
	if err != nil {
		return nil, err
	}
	return matches, nil
}
