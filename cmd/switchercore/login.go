package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os/exec"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/codex-switch/supervisor/internal/oauth"
)

// httpTokenExchanger performs the code/device-code-for-tokens POSTs
// against the real ChatGPT OAuth token endpoint; the oauth package
// itself stays transport-agnostic so tests can substitute a fake.
type httpTokenExchanger struct {
	client *http.Client
}

func (e httpTokenExchanger) ExchangeCode(ctx context.Context, issuer, clientID, code, verifier string) (oauth.Tokens, error) {
	form := url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {clientID},
		"code":          {code},
		"code_verifier": {verifier},
		"redirect_uri":  {oauth.RedirectURI},
	}
	return e.post(ctx, issuer+"/oauth/token", form)
}

func (e httpTokenExchanger) ExchangeDeviceCode(ctx context.Context, issuer, clientID, authorizationCode, codeVerifier string) (oauth.Tokens, error) {
	form := url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {clientID},
		"code":          {authorizationCode},
		"code_verifier": {codeVerifier},
		"redirect_uri":  {oauth.RedirectURI},
	}
	return e.post(ctx, issuer+"/oauth/token", form)
}

func (e httpTokenExchanger) post(ctx context.Context, endpoint string, form url.Values) (oauth.Tokens, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBufferString(form.Encode()))
	if err != nil {
		return oauth.Tokens{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", oauth.BrowserUserAgent)

	resp, err := e.client.Do(req)
	if err != nil {
		return oauth.Tokens{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return oauth.Tokens{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return oauth.Tokens{}, fmt.Errorf("token exchange failed: %s: %s", resp.Status, string(body))
	}

	var tokens oauth.Tokens
	if err := json.Unmarshal(body, &tokens); err != nil {
		return oauth.Tokens{}, fmt.Errorf("decoding token response: %w", err)
	}
	return tokens, nil
}

func openBrowser(uri string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "windows":
		cmd = exec.Command("cmd", "/C", "start", "", uri)
	case "darwin":
		cmd = exec.Command("open", uri)
	default:
		cmd = exec.Command("xdg-open", uri)
	}
	return cmd.Run()
}

func newLoginCmd() *cobra.Command {
	var issuer, clientID string
	c := &cobra.Command{
		Use:   "login",
		Short: "Run the browser PKCE login flow and stage the resulting tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), oauth.LoginTimeout)
			defer cancel()

			exchanger := httpTokenExchanger{client: &http.Client{Timeout: 30 * time.Second}}
			session, _, err := oauth.NewBrowserSession(sup.Logger(), exchanger)
			if err != nil {
				return err
			}

			srv, err := session.Listen(ctx)
			if err != nil {
				return err
			}
			defer srv.Shutdown(context.Background())

			authorizeURL := session.AuthorizeURL(issuer, clientID)
			fmt.Fprintf(cmd.OutOrStdout(), "opening browser for login: %s\n", authorizeURL)
			if err := openBrowser(authorizeURL); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "could not open a browser automatically, visit the URL above manually\n")
			}

			tokens, err := session.Await(ctx, issuer, clientID)
			if err != nil {
				return err
			}

			scratchDir := sup.Layout.ProfileDir("pending-login")
			if err := oauth.PersistPending(scratchDir, tokens, time.Now()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "staged new login at %s; use `profiles add` to reconcile it into the store\n", scratchDir)
			return nil
		},
	}
	c.Flags().StringVar(&issuer, "issuer", oauth.ChatGPTDeviceAuthIssuer, "OAuth issuer base URL")
	c.Flags().StringVar(&clientID, "client-id", oauth.ChatGPTDeviceAuthClientID, "OAuth client id")
	return c
}
