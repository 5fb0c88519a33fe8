package oauth

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/codex-switch/supervisor/internal/codeerr"
	"github.com/codex-switch/supervisor/internal/paths"
)

type fakeExchanger struct {
	tokens Tokens
	err    error
}

func (f fakeExchanger) ExchangeCode(ctx context.Context, issuer, clientID, code, verifier string) (Tokens, error) {
	return f.tokens, f.err
}

func (f fakeExchanger) ExchangeDeviceCode(ctx context.Context, issuer, clientID, authCode, verifier string) (Tokens, error) {
	return f.tokens, f.err
}

func TestAuthorizeURLContainsRequiredParams(t *testing.T) {
	url := AuthorizeURL(ChatGPTDeviceAuthIssuer, ChatGPTDeviceAuthClientID, "verifier", "state123")
	for _, want := range []string{"response_type=code", "code_challenge_method=S256", "state=state123", "originator=opencode"} {
		if !contains(url, want) {
			t.Fatalf("expected URL to contain %q: %s", want, url)
		}
	}
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && (func() bool {
		for i := 0; i+len(substr) <= len(s); i++ {
			if s[i:i+len(substr)] == substr {
				return true
			}
		}
		return false
	})()
}

func TestBrowserSessionCallbackDeliversTokens(t *testing.T) {
	log := zerolog.Nop()
	exchange := fakeExchanger{tokens: Tokens{IDToken: "x", AccessToken: "a", RefreshToken: "r"}}

	session, state, err := NewBrowserSession(log, exchange)
	if err != nil {
		t.Fatalf("NewBrowserSession: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	srv, err := session.Listen(ctx)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer srv.Shutdown(context.Background())

	go func() {
		time.Sleep(50 * time.Millisecond)
		http.Get("http://" + LoginListenAddr + "/auth/callback?code=abc123&state=" + state)
	}()

	tokens, err := session.Await(ctx, ChatGPTDeviceAuthIssuer, ChatGPTDeviceAuthClientID)
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if tokens.AccessToken != "a" {
		t.Fatalf("unexpected tokens: %+v", tokens)
	}
}

func TestBrowserSessionStateMismatchRejected(t *testing.T) {
	log := zerolog.Nop()
	exchange := fakeExchanger{tokens: Tokens{AccessToken: "should-not-be-used"}}

	session, _, err := NewBrowserSession(log, exchange)
	if err != nil {
		t.Fatalf("NewBrowserSession: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	srv, err := session.Listen(ctx)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer srv.Shutdown(context.Background())

	go func() {
		time.Sleep(50 * time.Millisecond)
		http.Get("http://" + LoginListenAddr + "/auth/callback?code=abc123&state=wrong-state")
	}()

	_, err = session.Await(ctx, ChatGPTDeviceAuthIssuer, ChatGPTDeviceAuthClientID)
	if !codeerr.Is(err, codeerr.KindAuth) {
		t.Fatalf("expected KindAuth for state mismatch, got %v", err)
	}
}

func TestBrowserSessionCancel(t *testing.T) {
	log := zerolog.Nop()
	exchange := fakeExchanger{}

	session, _, err := NewBrowserSession(log, exchange)
	if err != nil {
		t.Fatalf("NewBrowserSession: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	srv, err := session.Listen(ctx)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer srv.Shutdown(context.Background())

	go func() {
		time.Sleep(50 * time.Millisecond)
		session.Cancel()
	}()

	_, err = session.Await(ctx, ChatGPTDeviceAuthIssuer, ChatGPTDeviceAuthClientID)
	if !codeerr.Is(err, codeerr.KindLoginCancelled) {
		t.Fatalf("expected KindLoginCancelled, got %v", err)
	}
}

type fakeDeviceClient struct {
	polls int
}

func (f *fakeDeviceClient) RequestUserCode(ctx context.Context, issuer, clientID string) (string, string, int, error) {
	return "device-1", "ABCD-1234", 0, nil
}

func (f *fakeDeviceClient) PollToken(ctx context.Context, issuer, deviceAuthID string) (string, string, bool, error) {
	f.polls++
	if f.polls < 2 {
		return "", "", false, nil
	}
	return "authcode", "verifier", true, nil
}

func TestDeviceCodeLoginCompletesAfterPolling(t *testing.T) {
	log := zerolog.Nop()
	exchange := fakeExchanger{tokens: Tokens{AccessToken: "device-token"}}
	client := &fakeDeviceClient{}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	userCode, wait, err := DeviceCodeLogin(ctx, log, client, exchange, ChatGPTDeviceAuthIssuer, ChatGPTDeviceAuthClientID)
	if err != nil {
		t.Fatalf("DeviceCodeLogin: %v", err)
	}
	if userCode != "ABCD-1234" {
		t.Fatalf("unexpected user code: %s", userCode)
	}

	tokens, err := wait()
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if tokens.AccessToken != "device-token" {
		t.Fatalf("unexpected tokens: %+v", tokens)
	}
}

func TestCaptureTitleParsesWorkspaceAndErrorMarkers(t *testing.T) {
	kind, payload := CaptureTitle("__CODEX_WS__Acme Corp")
	if kind != "workspace" || payload != "Acme Corp" {
		t.Fatalf("unexpected workspace capture: %s %s", kind, payload)
	}
	kind, payload = CaptureTitle("__CODEX_ERR__access_denied")
	if kind != "error" || payload != "access_denied" {
		t.Fatalf("unexpected error capture: %s %s", kind, payload)
	}
	kind, _ = CaptureTitle("ChatGPT - Sign in")
	if kind != "" {
		t.Fatalf("expected no capture for unrelated title, got %q", kind)
	}
}

func TestPersistPendingWritesAuthAndSidecar(t *testing.T) {
	dir := t.TempDir()
	scratch := filepath.Join(dir, "pending")

	tokens := Tokens{IDToken: "", AccessToken: "a", RefreshToken: "r", ExpiresIn: 3600}
	if err := PersistPending(scratch, tokens, time.Now()); err != nil {
		t.Fatalf("PersistPending: %v", err)
	}

	authData, err := os.ReadFile(filepath.Join(scratch, paths.AuthFileName))
	if err != nil {
		t.Fatalf("reading auth.json: %v", err)
	}
	var authDoc map[string]any
	json.Unmarshal(authData, &authDoc)
	if authDoc["auth_mode"] != "chatgpt" {
		t.Fatalf("unexpected auth.json: %v", authDoc)
	}

	sidecarData, err := os.ReadFile(filepath.Join(scratch, paths.OpenCodeSnapshotName))
	if err != nil {
		t.Fatalf("reading opencode sidecar: %v", err)
	}
	var sidecar map[string]any
	json.Unmarshal(sidecarData, &sidecar)
	if sidecar["type"] != "oauth" || sidecar["access"] != "a" {
		t.Fatalf("unexpected sidecar: %v", sidecar)
	}
}

func TestReconciledNameUniquifiesOnCollision(t *testing.T) {
	taken := map[string]bool{"a@b.com [Acme]": true, "a@b.com [Acme] (2)": true}
	got := ReconciledName("a@b.com", "Acme", taken)
	if got != "a@b.com [Acme] (3)" {
		t.Fatalf("expected uniquified name, got %q", got)
	}

	got2 := ReconciledName("new@x.com", "", map[string]bool{})
	if got2 != "new@x.com" {
		t.Fatalf("expected bare email when no workspace, got %q", got2)
	}
}
