// Package oauth implements C7: the browser PKCE and device-code login
// flows, persisting the resulting tokens into a pending scratch
// directory for the caller to reconcile with the profile store
// (spec §4.9).
package oauth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/codex-switch/supervisor/internal/codeerr"
	"github.com/codex-switch/supervisor/internal/jwtclaims"
	"github.com/codex-switch/supervisor/internal/paths"
)

// Device-auth and PKCE constants carried over from the original
// implementation (SUPPLEMENTED FEATURES item 4): concrete values
// rather than "an issuer" / "a client id".
const (
	ChatGPTDeviceAuthIssuer   = "https://auth.openai.com"
	ChatGPTDeviceAuthClientID = "app_EMoamEEZ73f0CkXaXp7hrann"
	BrowserUserAgent          = "codex-switch/1.0"
	LoginListenAddr           = "127.0.0.1:1455"
	LoginListenPort           = 1455
	RedirectURI               = "http://localhost:1455/auth/callback"
	LoginTimeout              = 15 * time.Minute
	cancelRetryDelay          = 260 * time.Millisecond
)

// WorkspaceCaptureTitlePrefix/LoginErrorCaptureTitlePrefix are the
// document-title markers a host web view injects into the login page
// (SUPPLEMENTED FEATURES item 3) so the supervisor can read the
// resolved workspace name, or a login error, without DOM access.
const (
	WorkspaceCaptureTitlePrefix  = "__CODEX_WS__"
	LoginErrorCaptureTitlePrefix = "__CODEX_ERR__"
)

// Tokens is the raw token-exchange result common to both flows.
type Tokens struct {
	IDToken      string `json:"id_token"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
}

// Result is what a completed login session hands back to the caller:
// the raw tokens plus the decoded identity, ready for store
// reconciliation.
type Result struct {
	Tokens        Tokens
	AccountID     string
	WorkspaceID   string
	WorkspaceName string
	Email         string
}

// CaptureTitle parses a host web view's document-title update per
// SUPPLEMENTED FEATURES item 3, returning the stripped payload and
// which marker matched ("workspace", "error", or "" if neither).
func CaptureTitle(title string) (kind, payload string) {
	switch {
	case strings.HasPrefix(title, WorkspaceCaptureTitlePrefix):
		return "workspace", strings.TrimPrefix(title, WorkspaceCaptureTitlePrefix)
	case strings.HasPrefix(title, LoginErrorCaptureTitlePrefix):
		return "error", strings.TrimPrefix(title, LoginErrorCaptureTitlePrefix)
	default:
		return "", ""
	}
}

// generateVerifier returns a random 43-character PKCE code verifier
// (unpadded base64url of 32 random bytes, per spec §4.9).
func generateVerifier() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func challengeFromVerifier(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func generateState() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// AuthorizeURL builds the /oauth/authorize request per spec §4.9.
func AuthorizeURL(issuer, clientID, verifier, state string) string {
	challenge := challengeFromVerifier(verifier)
	values := map[string]string{
		"response_type":               "code",
		"client_id":                   clientID,
		"redirect_uri":                RedirectURI,
		"scope":                       "openid profile email offline_access",
		"code_challenge":              challenge,
		"code_challenge_method":       "S256",
		"state":                       state,
		"id_token_add_organizations": "true",
		"codex_cli_simplified_flow":  "true",
		"originator":                 "opencode",
	}
	q := make([]string, 0, len(values))
	for k, v := range values {
		q = append(q, k+"="+v)
	}
	return fmt.Sprintf("%s/oauth/authorize?%s", strings.TrimRight(issuer, "/"), strings.Join(q, "&"))
}

// TokenExchanger performs the code-for-tokens HTTP round trip. A real
// implementation posts to the issuer's /oauth/token endpoint; tests
// substitute a fake.
type TokenExchanger interface {
	ExchangeCode(ctx context.Context, issuer, clientID, code, verifier string) (Tokens, error)
	ExchangeDeviceCode(ctx context.Context, issuer, clientID, authorizationCode, codeVerifier string) (Tokens, error)
}

// BrowserSession runs one browser-PKCE login attempt. Callers own the
// embedded web view: Session only owns the local callback listener,
// PKCE bookkeeping, and the code-for-tokens exchange.
type BrowserSession struct {
	log      zerolog.Logger
	exchange TokenExchanger

	verifier string
	state    string

	mu       sync.Mutex
	result   chan callbackResult
	canceled bool
}

type callbackResult struct {
	code  string
	state string
	err   error
}

func NewBrowserSession(log zerolog.Logger, exchange TokenExchanger) (*BrowserSession, string, error) {
	verifier, err := generateVerifier()
	if err != nil {
		return nil, "", codeerr.Wrap(codeerr.KindAuth, "failed to generate PKCE verifier", err)
	}
	state, err := generateState()
	if err != nil {
		return nil, "", codeerr.Wrap(codeerr.KindAuth, "failed to generate OAuth state", err)
	}
	s := &BrowserSession{
		log:      log.With().Str("component", "oauth.browser").Logger(),
		exchange: exchange,
		verifier: verifier,
		state:    state,
		result:   make(chan callbackResult, 1),
	}
	return s, s.state, nil
}

// AuthorizeURL builds this session's /oauth/authorize URL, using the
// PKCE verifier and state it generated in NewBrowserSession.
func (s *BrowserSession) AuthorizeURL(issuer, clientID string) string {
	return AuthorizeURL(issuer, clientID, s.verifier, s.state)
}

// Listen binds the fixed local callback port, retrying once via
// POST /cancel against a pre-existing listener (spec §4.9, testable
// property 6). It returns a *http.Server the caller must Shutdown
// once Await returns.
func (s *BrowserSession) Listen(ctx context.Context) (*http.Server, error) {
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/callback", s.handleCallback)
	mux.HandleFunc("/cancel", s.handleCancel)
	mux.HandleFunc("/__codex_switch_ping", s.handlePing)

	srv := &http.Server{Addr: LoginListenAddr, Handler: mux}

	ln, err := listen(LoginListenAddr)
	if err == nil {
		go srv.Serve(ln)
		return srv, nil
	}

	// Bind failed: ask the existing listener to give up the port, wait,
	// then retry exactly once.
	_, _ = http.Post("http://"+LoginListenAddr+"/cancel", "text/plain", nil)
	select {
	case <-time.After(cancelRetryDelay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	ln, err = listen(LoginListenAddr)
	if err != nil {
		return nil, codeerr.PortInUse(LoginListenPort)
	}
	go srv.Serve(ln)
	return srv, nil
}

func (s *BrowserSession) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if errStr := q.Get("error"); errStr != "" {
		s.deliver(callbackResult{err: codeerr.New(codeerr.KindAuth, "login rejected: "+errStr+": "+q.Get("error_description"))})
		fmt.Fprint(w, "login failed, you may close this window")
		return
	}
	code := q.Get("code")
	state := q.Get("state")
	if state != s.state {
		s.deliver(callbackResult{err: codeerr.New(codeerr.KindAuth, "OAuth state mismatch")})
		http.Error(w, "state mismatch", http.StatusBadRequest)
		return
	}
	s.deliver(callbackResult{code: code, state: state})
	fmt.Fprint(w, "login complete, you may close this window")
}

func (s *BrowserSession) handleCancel(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *BrowserSession) handlePing(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	canceled := s.canceled
	s.mu.Unlock()
	if canceled {
		s.deliver(callbackResult{err: codeerr.New(codeerr.KindLoginCancelled, "login cancelled")})
	}
	w.WriteHeader(http.StatusOK)
}

func (s *BrowserSession) deliver(res callbackResult) {
	select {
	case s.result <- res:
	default:
	}
}

// Cancel implements spec §4.9's cancellation contract: set a stop
// flag, then poke the local listener so Await unblocks instead of
// waiting out the full 15-minute deadline.
func (s *BrowserSession) Cancel() {
	s.mu.Lock()
	s.canceled = true
	s.mu.Unlock()
	_, _ = http.Get("http://" + LoginListenAddr + "/__codex_switch_ping")
}

// Await blocks for the callback, a cancellation, or the 15-minute
// deadline, then exchanges the authorization code for tokens.
func (s *BrowserSession) Await(ctx context.Context, issuer, clientID string) (Tokens, error) {
	timer := time.NewTimer(LoginTimeout)
	defer timer.Stop()

	select {
	case res := <-s.result:
		if res.err != nil {
			return Tokens{}, res.err
		}
		return s.exchange.ExchangeCode(ctx, issuer, clientID, res.code, s.verifier)
	case <-timer.C:
		return Tokens{}, codeerr.New(codeerr.KindLoginTimeout, "browser login timed out after 15 minutes")
	case <-ctx.Done():
		return Tokens{}, codeerr.Wrap(codeerr.KindLoginCancelled, "browser login cancelled", ctx.Err())
	}
}

// DeviceCodeClient performs the device-code usercode/token round trip
// (spec §4.9). A real implementation posts to
// /api/accounts/deviceauth/{usercode,token}; tests substitute a fake.
type DeviceCodeClient interface {
	RequestUserCode(ctx context.Context, issuer, clientID string) (deviceAuthID, userCode string, intervalSeconds int, err error)
	PollToken(ctx context.Context, issuer, deviceAuthID string) (authorizationCode, codeVerifier string, done bool, err error)
}

// DeviceCodeLogin runs the full device-code fallback flow to
// completion or timeout (spec §4.9).
func DeviceCodeLogin(ctx context.Context, log zerolog.Logger, client DeviceCodeClient, exchange TokenExchanger, issuer, clientID string) (userCode string, wait func() (Tokens, error), err error) {
	deviceAuthID, code, interval, err := client.RequestUserCode(ctx, issuer, clientID)
	if err != nil {
		return "", nil, codeerr.Wrap(codeerr.KindAuth, "failed to request device user code", err)
	}
	if interval <= 0 {
		interval = 5
	}

	wait = func() (Tokens, error) {
		deadline := time.Now().Add(LoginTimeout)
		ticker := time.NewTicker(time.Duration(interval) * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return Tokens{}, codeerr.Wrap(codeerr.KindLoginCancelled, "device login cancelled", ctx.Err())
			case <-ticker.C:
				if time.Now().After(deadline) {
					return Tokens{}, codeerr.New(codeerr.KindLoginTimeout, "device login timed out after 15 minutes")
				}
				authCode, verifier, done, err := client.PollToken(ctx, issuer, deviceAuthID)
				if err != nil {
					log.Debug().Err(err).Msg("device auth poll error, retrying")
					continue
				}
				if !done {
					continue
				}
				return exchange.ExchangeDeviceCode(ctx, issuer, clientID, authCode, verifier)
			}
		}
	}
	return code, wait, nil
}

// PersistPending writes the freshly obtained tokens into a scratch
// "pending" directory as auth.json + the OpenCode sidecar, ready for
// the caller to reconcile against the profile store (spec §4.9).
func PersistPending(scratchDir string, tokens Tokens, now time.Time) error {
	claim, _ := jwtclaims.Decode(tokens.IDToken)

	if err := os.MkdirAll(scratchDir, 0o755); err != nil {
		return codeerr.IOErr(scratchDir, err)
	}

	authDoc := map[string]any{
		"auth_mode": "chatgpt",
		"tokens": map[string]any{
			"account_id":    claim.ChatGPTAccountID,
			"id_token":      tokens.IDToken,
			"access_token":  tokens.AccessToken,
			"refresh_token": tokens.RefreshToken,
		},
		"last_refresh": now.Format(time.RFC3339),
	}
	if err := writeJSON(filepath.Join(scratchDir, paths.AuthFileName), authDoc); err != nil {
		return err
	}

	expiresMs := now.Add(time.Duration(tokens.ExpiresIn) * time.Second).UnixMilli()
	sidecar := map[string]any{
		"type":    "oauth",
		"refresh": tokens.RefreshToken,
		"access":  tokens.AccessToken,
		"expires": expiresMs,
	}
	if claim.ChatGPTAccountID != "" {
		sidecar["accountId"] = claim.ChatGPTAccountID
	}
	return writeJSON(filepath.Join(scratchDir, paths.OpenCodeSnapshotName), sidecar)
}

func writeJSON(path string, doc any) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return codeerr.Wrap(codeerr.KindConfig, "failed to marshal "+filepath.Base(path), err)
	}
	return os.WriteFile(path, data, 0o600)
}

// ReconciledName implements spec §4.9's store-reconciliation naming
// rule: "<email> [<workspace_name>]", uniquified by numeric suffix
// against the set of names already taken.
func ReconciledName(email, workspaceName string, taken map[string]bool) string {
	base := email
	if workspaceName != "" {
		base = fmt.Sprintf("%s [%s]", email, workspaceName)
	}
	if !taken[base] {
		return base
	}
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s (%d)", base, n)
		if !taken[candidate] {
			return candidate
		}
	}
}
