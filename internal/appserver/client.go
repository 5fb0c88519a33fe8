// Package appserver implements C5: a client for the assistant's local
// JSON-lines app-server, spawned with CODEX_HOME pointed at a profile
// snapshot so a single binary can read any profile's credentials
// without touching the live home (spec §4.4).
package appserver

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/codex-switch/supervisor/internal/codeerr"
)

// DefaultTimeout is the per-call deadline (spec §6 tunables: 14s
// default). PollTimeout/OpenCodeTimeout are the 3s/8s variants used by
// candidate refresh and the OpenCode bridge respectively.
const (
	DefaultTimeout = 14 * time.Second
	PollTimeout    = 3 * time.Second
	OpenCodeTimeout = 8 * time.Second
)

// Request is one line-framed JSON-RPC-ish request frame.
type Request struct {
	ID     int    `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

// Response is one line-framed reply. Exactly one of Result/Error is set.
type Response struct {
	ID     int             `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  json.RawMessage `json:"error,omitempty"`
}

// Client locates and spawns the assistant binary for a single RPC
// call, always terminating the child at the end regardless of outcome
// (spec §4.4 item 5).
type Client struct {
	log zerolog.Logger
}

func New(log zerolog.Logger) *Client {
	return &Client{log: log.With().Str("component", "appserver").Logger()}
}

// LocateBinary implements spec §4.4 item 1: $CODEX_BIN, then $PATH
// (platform-specific extension), then known editor-extension install
// layouts.
func LocateBinary() (string, error) {
	if v := os.Getenv("CODEX_BIN"); v != "" {
		return v, nil
	}

	name := "codex"
	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	if p, err := exec.LookPath(name); err == nil {
		return p, nil
	}

	home, _ := os.UserHomeDir()
	candidates := []string{
		filepath.Join(home, ".vscode", "extensions"),
		filepath.Join(home, ".vscode-insiders", "extensions"),
		filepath.Join(home, ".cursor", "extensions"),
	}
	for _, dir := range candidates {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if !strings.Contains(strings.ToLower(e.Name()), "chatgpt") {
				continue
			}
			candidate := filepath.Join(dir, e.Name(), "bin", name)
			if _, err := os.Stat(candidate); err == nil {
				return candidate, nil
			}
		}
	}

	return "", codeerr.New(codeerr.KindBinaryNotFound, "no codex app-server binary located")
}

// Call spawns the binary with CODEX_HOME=codexHome, writes the three
// requests `initialize`, `account/read`, `account/rateLimits/read` in
// order with ids 1,2,3, and waits for all three responses or timeout
// (spec §4.4 items 2-5).
func (c *Client) Call(ctx context.Context, binary, codexHome string, timeout time.Duration) (map[int]Response, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, binary, "app-server")
	cmd.Env = append(os.Environ(), "CODEX_HOME="+codexHome)
	if os.Getenv("CODEX_SWITCH_APP_SERVER_LOG") != "" {
		cmd.Stderr = os.Stderr
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, codeerr.Wrap(codeerr.KindIO, "failed to open app-server stdin", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, codeerr.Wrap(codeerr.KindIO, "failed to open app-server stdout", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, codeerr.Wrap(codeerr.KindIO, "failed to spawn app-server", err)
	}
	defer func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}()

	requests := []Request{
		{ID: 1, Method: "initialize", Params: map[string]any{}},
		{ID: 2, Method: "account/read", Params: map[string]any{}},
		{ID: 3, Method: "account/rateLimits/read", Params: map[string]any{}},
	}

	enc := json.NewEncoder(stdin)
	for _, req := range requests {
		if err := enc.Encode(req); err != nil {
			return nil, codeerr.Wrap(codeerr.KindIO, "failed to write app-server request", err)
		}
	}

	responses := make(map[int]Response, 3)
	var mu sync.Mutex
	done := make(chan struct{})

	go func() {
		defer close(done)
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			var resp Response
			if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
				continue
			}
			mu.Lock()
			responses[resp.ID] = resp
			complete := len(responses) == len(requests)
			mu.Unlock()
			if complete {
				return
			}
		}
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}

	mu.Lock()
	defer mu.Unlock()

	var missing []int
	for _, req := range requests {
		if _, ok := responses[req.ID]; !ok {
			missing = append(missing, req.ID)
		}
	}
	if len(missing) > 0 {
		return responses, codeerr.AppServerTimeout(missing)
	}

	for _, req := range requests {
		resp := responses[req.ID]
		if len(resp.Error) > 0 && string(resp.Error) != "null" {
			return responses, codeerr.AppServerError(req.ID, string(resp.Error))
		}
	}

	return responses, nil
}

// Account is the raw account/read result payload.
type Account struct {
	Email    string `json:"email"`
	PlanType string `json:"planType"`
	IDToken  string `json:"id_token"`
}

// RateLimitsResult is the raw account/rateLimits/read result payload;
// the extraction rules in spec §4.4 live in package quota.
type RateLimitsResult struct {
	RateLimitsByLimitID map[string]RateLimitWindowPair `json:"rateLimitsByLimitId,omitempty"`
	RateLimits          *RateLimitWindowPair            `json:"rateLimits,omitempty"`
}

type RateLimitWindowPair struct {
	Primary   *RateLimitWindow `json:"primary,omitempty"`
	Secondary *RateLimitWindow `json:"secondary,omitempty"`
}

type RateLimitWindow struct {
	WindowMinutes int64   `json:"window_minutes"`
	UsedPercent   float64 `json:"used_percent"`
	ResetsAt      int64   `json:"resets_at,omitempty"`
}

// ParseAccount/ParseRateLimits unmarshal the matched responses'
// Result payload for ids 2 and 3.
func ParseAccount(responses map[int]Response) (Account, error) {
	resp, ok := responses[2]
	if !ok {
		return Account{}, fmt.Errorf("no account/read response")
	}
	var acc Account
	if err := json.Unmarshal(resp.Result, &acc); err != nil {
		return Account{}, err
	}
	return acc, nil
}

func ParseRateLimits(responses map[int]Response) (RateLimitsResult, error) {
	resp, ok := responses[3]
	if !ok {
		return RateLimitsResult{}, fmt.Errorf("no account/rateLimits/read response")
	}
	var rl RateLimitsResult
	if err := json.Unmarshal(resp.Result, &rl); err != nil {
		return RateLimitsResult{}, err
	}
	return rl, nil
}
