package backup

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/codex-switch/supervisor/internal/codeerr"
	"github.com/codex-switch/supervisor/internal/paths"
)

func seedHome(t *testing.T) (*paths.Layout, string) {
	t.Helper()
	home := t.TempDir()
	layout, err := paths.NewLayout(home)
	if err != nil {
		t.Fatalf("NewLayout: %v", err)
	}

	mustWrite(t, filepath.Join(layout.ProfilesDir, "work", "auth.json"), `{"a":1}`)
	mustWrite(t, layout.ProfilesFile, `{"profiles":[]}`)
	mustWrite(t, filepath.Join(layout.BackupsDir, "stale.tar.gz"), "should be excluded")
	mustWrite(t, filepath.Join(layout.CodexHome, paths.AuthFileName), `{"tokens":{}}`)
	mustWrite(t, filepath.Join(layout.CodexHome, paths.CapSIDFileName), "sid-123")
	mustWrite(t, filepath.Join(layout.CodexHome, paths.ConfigTomlFileName), "model = \"gpt\"")

	return layout, home
}

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestExportWritesManifestAsFirstMember(t *testing.T) {
	layout, _ := seedHome(t)
	dest := filepath.Join(t.TempDir(), "out.tar.gz")

	if err := Export(layout, dest, time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("Export: %v", err)
	}

	f, err := os.Open(dest)
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	tr := tar.NewReader(gz)

	hdr, err := tr.Next()
	if err != nil {
		t.Fatalf("tar.Next: %v", err)
	}
	if hdr.Name != ManifestName {
		t.Fatalf("expected first member %q, got %q", ManifestName, hdr.Name)
	}
}

func TestExportExcludesBackupsDirAndIncludesLiveCodexFiles(t *testing.T) {
	layout, _ := seedHome(t)
	dest := filepath.Join(t.TempDir(), "out.tar.gz")

	if err := Export(layout, dest, time.Now()); err != nil {
		t.Fatalf("Export: %v", err)
	}

	names := readMemberNames(t, dest)
	for _, want := range []string{
		"switcher/profiles/work/auth.json",
		"switcher/profiles.json",
		"codex/auth.json",
		"codex/cap_sid",
		"codex/config.toml",
	} {
		if !names[want] {
			t.Fatalf("expected member %q in archive, got %v", want, names)
		}
	}
	if names["switcher/backups/stale.tar.gz"] {
		t.Fatalf("backups/ should be excluded from export, got %v", names)
	}
}

func readMemberNames(t *testing.T, archivePath string) map[string]bool {
	t.Helper()
	f, err := os.Open(archivePath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("gzip: %v", err)
	}
	tr := tar.NewReader(gz)
	names := map[string]bool{}
	for {
		hdr, err := tr.Next()
		if err != nil {
			break
		}
		names[hdr.Name] = true
	}
	return names
}

func TestImportRoundTripsArchive(t *testing.T) {
	layout, _ := seedHome(t)
	dest := filepath.Join(t.TempDir(), "out.tar.gz")
	if err := Export(layout, dest, time.Now()); err != nil {
		t.Fatalf("Export: %v", err)
	}

	restoreLayout, _ := paths.NewLayout(t.TempDir())
	manifest, err := Import(restoreLayout, dest)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if manifest.Format != ArchiveFormat {
		t.Fatalf("unexpected manifest format %q", manifest.Format)
	}
	if manifest.FileCount == 0 {
		t.Fatalf("expected non-zero file_count")
	}

	restored, err := os.ReadFile(filepath.Join(restoreLayout.CodexHome, paths.AuthFileName))
	if err != nil {
		t.Fatalf("reading restored codex/auth.json: %v", err)
	}
	if string(restored) != `{"tokens":{}}` {
		t.Fatalf("unexpected restored content: %s", restored)
	}

	restoredProfile, err := os.ReadFile(filepath.Join(restoreLayout.ProfilesDir, "work", "auth.json"))
	if err != nil {
		t.Fatalf("reading restored profile snapshot: %v", err)
	}
	if string(restoredProfile) != `{"a":1}` {
		t.Fatalf("unexpected restored profile content: %s", restoredProfile)
	}
}

func buildArchive(t *testing.T, members map[string]string, typeflags map[string]byte) string {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	manifestBytes := []byte(`{"format":"codex-switch-backup","schema_version":1}`)
	tw.WriteHeader(&tar.Header{Name: ManifestName, Size: int64(len(manifestBytes)), Mode: 0o644})
	tw.Write(manifestBytes)

	for name, content := range members {
		tf := byte(tar.TypeReg)
		if t2, ok := typeflags[name]; ok {
			tf = t2
		}
		hdr := &tar.Header{Name: name, Size: int64(len(content)), Mode: 0o644, Typeflag: tf}
		if tf == tar.TypeSymlink {
			hdr.Linkname = "/etc/passwd"
			hdr.Size = 0
		}
		tw.WriteHeader(hdr)
		if tf != tar.TypeSymlink {
			tw.Write([]byte(content))
		}
	}

	tw.Close()
	gz.Close()

	path := filepath.Join(t.TempDir(), "malicious.tar.gz")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write archive: %v", err)
	}
	return path
}

func TestImportRejectsAbsolutePathMember(t *testing.T) {
	path := buildArchive(t, map[string]string{"/etc/passwd": "pwned"}, nil)
	layout, _ := paths.NewLayout(t.TempDir())

	_, err := Import(layout, path)
	if !codeerr.Is(err, codeerr.KindConfig) {
		t.Fatalf("expected KindConfig rejection, got %v", err)
	}
}

func TestImportRejectsParentTraversalMember(t *testing.T) {
	path := buildArchive(t, map[string]string{"switcher/../../../etc/passwd": "pwned"}, nil)
	layout, _ := paths.NewLayout(t.TempDir())

	_, err := Import(layout, path)
	if !codeerr.Is(err, codeerr.KindConfig) {
		t.Fatalf("expected KindConfig rejection, got %v", err)
	}
}

func TestImportRejectsSymlinkMember(t *testing.T) {
	path := buildArchive(t, map[string]string{"switcher/evil": ""}, map[string]byte{"switcher/evil": tar.TypeSymlink})
	layout, _ := paths.NewLayout(t.TempDir())

	_, err := Import(layout, path)
	if !codeerr.Is(err, codeerr.KindConfig) {
		t.Fatalf("expected KindConfig rejection for symlink member, got %v", err)
	}
}

func TestImportRejectsMemberOutsideKnownPrefixes(t *testing.T) {
	path := buildArchive(t, map[string]string{"other/stray.txt": "x"}, nil)
	layout, _ := paths.NewLayout(t.TempDir())

	_, err := Import(layout, path)
	if !codeerr.Is(err, codeerr.KindConfig) {
		t.Fatalf("expected KindConfig rejection for unknown prefix, got %v", err)
	}
}
