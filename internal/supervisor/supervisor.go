// Package supervisor wires every subsystem into one explicit, owned
// value (Design Notes §9: explicit owned state, not package globals).
// cmd/switchercore constructs exactly one Supervisor and drives it
// from the CLI's command handles.
package supervisor

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/codex-switch/supervisor/internal/appserver"
	"github.com/codex-switch/supervisor/internal/autoswitch"
	"github.com/codex-switch/supervisor/internal/config"
	"github.com/codex-switch/supervisor/internal/credapply"
	"github.com/codex-switch/supervisor/internal/dashboard"
	"github.com/codex-switch/supervisor/internal/paths"
	"github.com/codex-switch/supervisor/internal/profilestore"
	"github.com/codex-switch/supervisor/internal/quota"
	"github.com/codex-switch/supervisor/internal/recovery"
	"github.com/codex-switch/supervisor/internal/tail"
)

// Supervisor aggregates every long-lived subsystem the CLI and
// dashboard push feed operate against.
type Supervisor struct {
	Layout         *paths.Layout
	Config         config.Config
	Settings       *config.SettingsStore
	Store          *profilestore.Store
	Applier        *credapply.Applier
	AutoSwitch     *autoswitch.Scheduler
	ThreadRecovery *recovery.ThreadScheduler
	Dashboard      *dashboard.Hub
	Editor         *recovery.EditorInfo

	appServer     *appserver.Client
	quotaCache    *quota.RuntimeCache
	extensionLogs *tail.ExtensionLogState
	log           zerolog.Logger
}

// New constructs a Supervisor rooted at home (pass "" to resolve the
// real user home). It loads (or seeds) profiles.json and the settings
// file, and wires the auto-switch scheduler's candidate probe back to
// this Supervisor's own RefreshProfileQuota.
func New(home string, log zerolog.Logger) (*Supervisor, error) {
	layout, err := paths.NewLayout(home)
	if err != nil {
		return nil, err
	}

	cfg := config.Load()
	log = log.Level(cfg.LogLevel)

	settings, err := config.NewSettingsStore(layout.ProfilesFile + ".settings.json")
	if err != nil {
		return nil, err
	}

	store, err := profilestore.Load(layout.ProfilesFile, log)
	if err != nil {
		return nil, err
	}

	applier := credapply.New(layout, log)
	appServerClient := appserver.New(log.Level(config.AppServerLogLevel(cfg.LogLevel)))

	s := &Supervisor{
		Layout:        layout,
		Config:        cfg,
		Settings:      settings,
		Store:         store,
		Applier:       applier,
		appServer:     appServerClient,
		quotaCache:    quota.NewRuntimeCache(),
		extensionLogs: tail.NewExtensionLogState(),
		log:           log.With().Str("component", "supervisor").Logger(),
	}

	s.AutoSwitch = autoswitch.New(log, store, applier, s.candidateProbe)

	editors := recovery.DiscoverEditors(layout.Home)
	preferred := recovery.Preferred(editors)
	if preferred == nil && len(editors) > 0 {
		preferred = &editors[0]
	}
	if preferred != nil {
		s.Editor = preferred
		actuator := recovery.NewLiveActuator(*preferred, s.lastExtensionLogState)
		s.ThreadRecovery = recovery.NewThreadScheduler(log, actuator)
	}

	if settings.Get().DashboardAddr != "" {
		s.Dashboard = dashboard.NewHub(log, settings.Get().DashboardAddr)
	}

	return s, nil
}

// lastExtensionLogState hands LiveActuator a read of the shared
// tail.ExtensionLogState. No code in this repository runs an
// extension-log tail that folds lines into it, so it reads back zero
// values and ObserveRuntimeRestart falls through to its timeout.
func (s *Supervisor) lastExtensionLogState() tail.ExtensionLogState {
	return *s.extensionLogs
}

// ExtensionLogState exposes the same read to callers outside the
// package (the CLI's recover command drives ThreadScheduler.Tick
// directly and needs the current fold to build its input).
func (s *Supervisor) ExtensionLogState() tail.ExtensionLogState {
	return s.lastExtensionLogState()
}

// Logger returns the Supervisor's component logger, for CLI commands
// that need to hand a logger to a subsystem constructor (e.g. a fresh
// oauth.BrowserSession per login attempt).
func (s *Supervisor) Logger() zerolog.Logger {
	return s.log
}

// ServeDashboard runs the dashboard push server until ctx is cancelled.
func (s *Supervisor) ServeDashboard(ctx context.Context) error {
	if s.Dashboard == nil {
		return nil
	}
	return s.Dashboard.Serve(ctx)
}

// Tick runs one pass of the auto-switch scheduler and, if a dashboard
// is attached, publishes the result. Every completed tick touches the
// store's last_keepalive_at heartbeat (SUPPLEMENTED FEATURES item 5).
func (s *Supervisor) Tick(ctx context.Context, in autoswitch.TickInput) autoswitch.TickResult {
	result := s.AutoSwitch.Tick(ctx, in)
	_ = s.Store.Touch(time.Now())
	if s.Dashboard != nil {
		s.Dashboard.PublishTick(time.Now(), result)
		s.Dashboard.PublishProfiles(time.Now(), s.Store.Snapshot())
	}
	return result
}

// Close releases resources the Supervisor owns directly (currently
// none hold an OS handle beyond what Store/Applier already manage).
func (s *Supervisor) Close() error {
	return nil
}
