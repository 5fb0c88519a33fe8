// Package backup implements C13: the tar+gzip backup archive codec
// described in spec §6. spec.md lists the archive/restore codec among
// its explicit "assume a library" out-of-scope collaborators, but an
// actual archive still has to be produced somewhere for the export/
// import operations to be testable; archive/tar + compress/gzip is
// the standard-library pairing the format itself
// describes (a plain tar-gz with a JSON manifest as first member), and
// no example repo in the pack imports a third-party tar/zip library
// for anything beyond what these two packages already do, so there is
// no ecosystem alternative to wire in its place.
package backup

import (
	"archive/tar"
	"compress/gzip"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/codex-switch/supervisor/internal/codeerr"
	"github.com/codex-switch/supervisor/internal/paths"
)

const (
	ManifestName  = "manifest.json"
	ArchiveFormat = "codex-switch-backup"
	SchemaVersion = 1
)

// Manifest is the first tar member of every backup archive (spec §6).
type Manifest struct {
	Format             string `json:"format"`
	SchemaVersion      int    `json:"schema_version"`
	CreatedAt          string `json:"created_at"`
	FileCount          int    `json:"file_count"`
	EstimatedTotalBytes int64 `json:"estimated_total_bytes"`
}

// Export writes a tar.gz archive of the switcher home (excluding
// backups/) plus the three live codex/ files, per spec §6.
func Export(layout *paths.Layout, dest string, now time.Time) error {
	out, err := os.Create(dest)
	if err != nil {
		return codeerr.IOErr(dest, err)
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	defer gz.Close()
	tw := tar.NewWriter(gz)
	defer tw.Close()

	entries, err := collectEntries(layout)
	if err != nil {
		return err
	}

	manifest := Manifest{
		Format:        ArchiveFormat,
		SchemaVersion: SchemaVersion,
		CreatedAt:     now.Format(time.RFC3339),
		FileCount:     len(entries),
	}
	for _, e := range entries {
		manifest.EstimatedTotalBytes += e.size
	}

	manifestBytes, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return codeerr.Wrap(codeerr.KindConfig, "failed to marshal manifest", err)
	}
	if err := writeTarMember(tw, ManifestName, manifestBytes); err != nil {
		return err
	}

	for _, e := range entries {
		if err := writeTarFile(tw, e.archivePath, e.diskPath); err != nil {
			return err
		}
	}
	return nil
}

type entry struct {
	archivePath string
	diskPath    string
	size        int64
}

// collectEntries walks switcher/... (excluding backups/) and the
// three opaque codex/ live files (spec §6).
func collectEntries(layout *paths.Layout) ([]entry, error) {
	var entries []entry

	err := filepath.Walk(layout.SwitcherHome, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if path == layout.BackupsDir {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(layout.SwitcherHome, path)
		if err != nil {
			return err
		}
		entries = append(entries, entry{
			archivePath: filepath.ToSlash(filepath.Join("switcher", rel)),
			diskPath:    path,
			size:        info.Size(),
		})
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, codeerr.IOErr(layout.SwitcherHome, err)
	}

	for _, name := range []string{paths.AuthFileName, paths.CapSIDFileName, paths.ConfigTomlFileName} {
		path := filepath.Join(layout.CodexHome, name)
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		entries = append(entries, entry{
			archivePath: filepath.ToSlash(filepath.Join("codex", name)),
			diskPath:    path,
			size:        info.Size(),
		})
	}

	return entries, nil
}

func writeTarMember(tw *tar.Writer, name string, data []byte) error {
	hdr := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(data))}
	if err := tw.WriteHeader(hdr); err != nil {
		return codeerr.Wrap(codeerr.KindIO, "failed to write tar header for "+name, err)
	}
	if _, err := tw.Write(data); err != nil {
		return codeerr.Wrap(codeerr.KindIO, "failed to write tar member "+name, err)
	}
	return nil
}

func writeTarFile(tw *tar.Writer, archivePath, diskPath string) error {
	f, err := os.Open(diskPath)
	if err != nil {
		return codeerr.IOErr(diskPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return codeerr.IOErr(diskPath, err)
	}
	hdr := &tar.Header{Name: archivePath, Mode: 0o644, Size: info.Size()}
	if err := tw.WriteHeader(hdr); err != nil {
		return codeerr.Wrap(codeerr.KindIO, "failed to write tar header for "+archivePath, err)
	}
	if _, err := io.Copy(tw, f); err != nil {
		return codeerr.Wrap(codeerr.KindIO, "failed to write tar member "+archivePath, err)
	}
	return nil
}

// Import validates and extracts an archive into layout's directories
// ("switcher/" members under the switcher home, "codex/" members under
// the codex home). Rejects symlinks, absolute paths, or ".." path segments
// (spec §6's import-safety invariant).
func Import(layout *paths.Layout, src string) (*Manifest, error) {
	f, err := os.Open(src)
	if err != nil {
		return nil, codeerr.IOErr(src, err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, codeerr.Wrap(codeerr.KindConfig, "not a valid gzip archive", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)

	var manifest *Manifest
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, codeerr.Wrap(codeerr.KindConfig, "corrupt tar stream", err)
		}

		if err := validateMember(hdr); err != nil {
			return nil, err
		}

		if hdr.Name == ManifestName {
			data, err := io.ReadAll(tr)
			if err != nil {
				return nil, codeerr.Wrap(codeerr.KindConfig, "failed to read manifest", err)
			}
			var m Manifest
			if err := json.Unmarshal(data, &m); err != nil {
				return nil, codeerr.Wrap(codeerr.KindConfig, "manifest is not valid JSON", err)
			}
			manifest = &m
			continue
		}

		dest, err := resolveImportDest(layout, hdr.Name)
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return nil, codeerr.IOErr(dest, err)
		}
		out, err := os.Create(dest)
		if err != nil {
			return nil, codeerr.IOErr(dest, err)
		}
		if _, err := io.Copy(out, tr); err != nil {
			out.Close()
			return nil, codeerr.Wrap(codeerr.KindIO, "failed to extract "+hdr.Name, err)
		}
		out.Close()
	}

	if manifest == nil {
		return nil, codeerr.New(codeerr.KindConfig, "archive is missing manifest.json as its first member")
	}
	return manifest, nil
}

func validateMember(hdr *tar.Header) error {
	if hdr.Typeflag == tar.TypeSymlink || hdr.Typeflag == tar.TypeLink {
		return codeerr.New(codeerr.KindConfig, "archive contains a symlink member: "+hdr.Name)
	}
	if filepath.IsAbs(hdr.Name) {
		return codeerr.New(codeerr.KindConfig, "archive contains an absolute path member: "+hdr.Name)
	}
	for _, part := range strings.Split(filepath.ToSlash(hdr.Name), "/") {
		if part == ".." {
			return codeerr.New(codeerr.KindConfig, "archive contains a '..' path segment: "+hdr.Name)
		}
	}
	return nil
}

func resolveImportDest(layout *paths.Layout, archivePath string) (string, error) {
	slash := filepath.ToSlash(archivePath)
	switch {
	case strings.HasPrefix(slash, "switcher/"):
		return filepath.Join(layout.SwitcherHome, filepath.FromSlash(strings.TrimPrefix(slash, "switcher/"))), nil
	case strings.HasPrefix(slash, "codex/"):
		return filepath.Join(layout.CodexHome, filepath.FromSlash(strings.TrimPrefix(slash, "codex/"))), nil
	default:
		return "", codeerr.New(codeerr.KindConfig, "archive member outside switcher/ or codex/: "+archivePath)
	}
}
