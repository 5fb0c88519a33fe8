// Package tail implements C8/C9/C10: file-selection, offset-tracking,
// and the per-assistant log state machines each ingest (spec §4.5).
// The selection/offset machinery lives here once; each state machine
// is a pure function over the lines it's handed.
package tail

import (
	"bufio"
	"os"
	"path/filepath"
	"sort"
)

// Cursor tracks which file a tail is currently following and how far
// into it has been read. Zero value is "no file selected yet".
type Cursor struct {
	Path   string
	Offset int64
}

// SelectNewest returns the path with the greatest mtime among files
// matching glob under root, or "" if none match.
func SelectNewest(root, glob string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(root, glob))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", nil
	}
	sort.Slice(matches, func(i, j int) bool {
		fi, errI := os.Stat(matches[i])
		fj, errJ := os.Stat(matches[j])
		if errI != nil || errJ != nil {
			return false
		}
		return fi.ModTime().After(fj.ModTime())
	})
	return matches[0], nil
}

// ReadResult is what Advance hands back: the newly available lines
// plus whether the selected file changed or was truncated (Advance has
// already moved the offset; the caller resets its derived state).
type ReadResult struct {
	Lines    []string
	Switched bool
}

// Advance implements spec §4.5's shared shape: reselect the newest
// file, reset on file switch or truncation, then read everything new
// since the stored offset. startAtEOFOnSwitch controls whether a
// freshly selected file starts delivering from byte 0 (rollout log)
// or from its current end (text logs, which only want new events).
func (c *Cursor) Advance(root, glob string, startAtEOFOnSwitch bool) (ReadResult, error) {
	newest, err := SelectNewest(root, glob)
	if err != nil {
		return ReadResult{}, err
	}
	if newest == "" {
		return ReadResult{}, nil
	}

	switched := newest != c.Path
	if switched {
		c.Path = newest
		if startAtEOFOnSwitch {
			info, err := os.Stat(newest)
			if err == nil {
				c.Offset = info.Size()
			} else {
				c.Offset = 0
			}
		} else {
			c.Offset = 0
		}
	}

	info, err := os.Stat(c.Path)
	if err != nil {
		return ReadResult{Switched: switched}, err
	}
	if c.Offset > info.Size() {
		c.Offset = 0 // truncation: spec §4.5 "reset offset to 0 and clear derived sets/seqs"
		switched = true
	}

	f, err := os.Open(c.Path)
	if err != nil {
		return ReadResult{Switched: switched}, err
	}
	defer f.Close()

	if _, err := f.Seek(c.Offset, 0); err != nil {
		return ReadResult{Switched: switched}, err
	}

	var lines []string
	reader := bufio.NewReader(f)
	var pos int64 = c.Offset
	for {
		line, err := reader.ReadString('\n')
		if len(line) > 0 {
			trimmed := line
			if trimmed[len(trimmed)-1] == '\n' {
				trimmed = trimmed[:len(trimmed)-1]
				pos += int64(len(line))
				lines = append(lines, trimmed)
			} else {
				// partial line at EOF: don't consume it, wait for the rest.
				break
			}
		}
		if err != nil {
			break
		}
	}
	c.Offset = pos

	return ReadResult{Lines: lines, Switched: switched}, nil
}
