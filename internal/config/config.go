// Package config implements the ambient configuration layer: an
// environment-variable driven typed struct for process-lifetime
// tunables (the teacher's internal/config.Load() shape), plus a
// mutex-guarded, load-or-default, atomically-saved JSON settings file
// for anything the supervisor needs to persist outside profiles.json
// (modeled on profilestore.Store's save discipline).
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// Config holds the supervisor's process-lifetime tunables, read once
// at startup from the environment (spec §6's env var surface).
type Config struct {
	LogLevel       zerolog.Level
	CodexBin       string
	OpenCodeDataDir string
	AppServerTimeout time.Duration
	SwitchCooldown    time.Duration
	NoCandidateCooldown time.Duration
}

const (
	envLogLevel        = "CODEX_SWITCH_LOG_LEVEL"
	envAppServerLog     = "CODEX_SWITCH_APP_SERVER_LOG"
	envCodexBin         = "CODEX_BIN"
	envOpenCodeDataDir  = "OPENCODE_DATA_DIR"
	envAppServerTimeout = "CODEX_SWITCH_APP_SERVER_TIMEOUT_MS"
	envSwitchCooldown   = "CODEX_SWITCH_COOLDOWN_MS"
	envNoCandidateCooldown = "CODEX_SWITCH_NO_CANDIDATE_COOLDOWN_MS"
)

// Defaults mirror the tunables spec.md hard-codes into the auto-switch
// scheduler (§4.6) and app-server client (§4.2); env vars override
// them in the returned Config. The scheduler and the quota probe use
// their own constants and do not read these three durations.
const (
	defaultAppServerTimeout     = 3 * time.Second
	defaultSwitchCooldown       = 2 * time.Second
	defaultNoCandidateCooldown  = 20 * time.Second
)

// Load reads every tunable from the environment, falling back to the
// spec-mandated defaults. It never fails: an unparsable override is
// silently ignored and the default is kept, so a malformed env var
// does not block the supervisor from starting.
func Load() Config {
	cfg := Config{
		LogLevel:            parseLevel(os.Getenv(envLogLevel), zerolog.InfoLevel),
		CodexBin:            os.Getenv(envCodexBin),
		OpenCodeDataDir:     os.Getenv(envOpenCodeDataDir),
		AppServerTimeout:    durationMS(envAppServerTimeout, defaultAppServerTimeout),
		SwitchCooldown:      durationMS(envSwitchCooldown, defaultSwitchCooldown),
		NoCandidateCooldown: durationMS(envNoCandidateCooldown, defaultNoCandidateCooldown),
	}
	return cfg
}

// AppServerLogLevel reports the RPC client's own log level override,
// falling back to the general level when unset (spec's
// CODEX_SWITCH_APP_SERVER_LOG knob).
func AppServerLogLevel(general zerolog.Level) zerolog.Level {
	return parseLevel(os.Getenv(envAppServerLog), general)
}

func parseLevel(raw string, fallback zerolog.Level) zerolog.Level {
	if raw == "" {
		return fallback
	}
	lvl, err := zerolog.ParseLevel(raw)
	if err != nil {
		return fallback
	}
	return lvl
}

func durationMS(envVar string, fallback time.Duration) time.Duration {
	raw := os.Getenv(envVar)
	if raw == "" {
		return fallback
	}
	ms, err := strconv.Atoi(raw)
	if err != nil || ms <= 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}
