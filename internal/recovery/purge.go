package recovery

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/codex-switch/supervisor/internal/codeerr"
)

const globalStateKey = "openai.chatgpt"

// OpenStateDB opens a VS Code-family state.vscdb with the busy_timeout
// spec §4.8 mandates ("all writes use PRAGMA busy_timeout=1500").
func OpenStateDB(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=1500", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, codeerr.Wrap(codeerr.KindIO, "failed to open "+path, err)
	}
	return db, nil
}

// PurgeGlobalState implements spec §4.8's global state.vscdb rewrite:
// parse ItemTable.key='openai.chatgpt', force thread-titles and
// windows-sandbox-enabled, write back as a single statement. A
// missing row is a no-op.
func PurgeGlobalState(db *sql.DB) error {
	var raw string
	err := db.QueryRow(`SELECT value FROM ItemTable WHERE key = ?`, globalStateKey).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return codeerr.Wrap(codeerr.KindIO, "failed to read global state row", err)
	}

	var doc map[string]any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return codeerr.Wrap(codeerr.KindConfig, "global openai.chatgpt state is not valid JSON", err)
	}

	doc["thread-titles"] = map[string]any{"titles": map[string]any{}, "order": []any{}}
	doc["windows-sandbox-enabled"] = false

	out, err := json.Marshal(doc)
	if err != nil {
		return codeerr.Wrap(codeerr.KindConfig, "failed to marshal purged global state", err)
	}

	if _, err := db.Exec(`UPDATE ItemTable SET value = ? WHERE key = ?`, string(out), globalStateKey); err != nil {
		return codeerr.Wrap(codeerr.KindIO, "failed to write purged global state", err)
	}
	return nil
}

const (
	modelCacheKey = "agentSessions.model.cache"
	stateCacheKey = "agentSessions.state.cache"
	staleRoute    = "openai-codex://route/local/"
)

// PurgeWorkspaceState implements spec §4.8's workspace state.vscdb
// rule: if agentSessions.model.cache contains any value matching the
// stale local route, delete both the model and state cache rows.
func PurgeWorkspaceState(db *sql.DB) error {
	var raw string
	err := db.QueryRow(`SELECT value FROM ItemTable WHERE key = ?`, modelCacheKey).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return codeerr.Wrap(codeerr.KindIO, "failed to read workspace model cache row", err)
	}
	if !strings.Contains(raw, staleRoute) {
		return nil
	}

	if _, err := db.Exec(`DELETE FROM ItemTable WHERE key IN (?, ?)`, modelCacheKey, stateCacheKey); err != nil {
		return codeerr.Wrap(codeerr.KindIO, "failed to delete stale workspace caches", err)
	}
	return nil
}
