package skills

import (
	"database/sql"
	"os"

	_ "github.com/mattn/go-sqlite3"

	"github.com/codex-switch/supervisor/internal/codeerr"
)

// CCSwitchProfileCount opens the sibling cc-switch tool's SQLite
// profile store read-only and counts its rows, so the catalog can
// decide whether to label SSOT-sourced skills as coming from a live
// cc-switch install (SPEC_FULL §SUPPLEMENTED FEATURES item 1). This
// never writes to cc-switch's database; a missing file or table is
// not an error, just zero.
func CCSwitchProfileCount(dbFile string) (int, error) {
	if _, err := os.Stat(dbFile); err != nil {
		return 0, nil
	}

	db, err := sql.Open("sqlite3", "file:"+dbFile+"?mode=ro")
	if err != nil {
		return 0, codeerr.Wrap(codeerr.KindIO, "failed to open cc-switch database read-only", err)
	}
	defer db.Close()

	var count int
	err = db.QueryRow(`SELECT count(*) FROM profiles`).Scan(&count)
	if err != nil {
		// Sibling tool schema absent or table missing: treat as "not installed".
		return 0, nil
	}
	return count, nil
}
