// Package auth obtains an OAuth-authenticated HTTP client for Google APIs.
package auth

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"mailmint/internal/logger"
)

const (
	credentialsFile = "client_secret.json"
	tokenFile       = "token.json"
	redirectTimeout = 120 * time.Second
)

// NewHTTPClient returns an HTTP client authorized for scopes using:
// - client credentials at <configDir>/client_secret.json
// - token cache at <configDir>/token.json
// A missing, unrefreshable or under-scoped cached token triggers the browser flow.
func NewHTTPClient(ctx context.Context, configDir string, scopes []string) (*http.Client, error) {
	cfg, err := loadConfig(configDir, scopes)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(configDir, tokenFile)
	if cached, err := readToken(path); err == nil && covers(cached.scopes, scopes) {
		// Refresh up front so a revoked token is caught before any real call.
		tok, err := cfg.TokenSource(ctx, cached.Token).Token()
		if err == nil {
			if tok.AccessToken != cached.AccessToken {
				if err := saveToken(path, tok, scopes); err != nil {
					log := logger.FromContext(ctx)
					log.Warn().Err(err).Str("path", path).Msg("could not cache refreshed token")
				}
			}
			return cfg.Client(ctx, tok), nil
		}
		os.Remove(path)
	}
	tok, err := Authorize(ctx, configDir, scopes)
	if err != nil {
		return nil, err
	}
	return cfg.Client(ctx, tok), nil
}

// Authorize runs the interactive consent flow for scopes and caches the token.
func Authorize(ctx context.Context, configDir string, scopes []string) (*oauth2.Token, error) {
	cfg, err := loadConfig(configDir, scopes)
	if err != nil {
		return nil, err
	}
	tok, err := getTokenFromWeb(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := saveToken(filepath.Join(configDir, tokenFile), tok, scopes); err != nil {
		return nil, fmt.Errorf("save token: %w", err)
	}
	return tok, nil
}

func loadConfig(configDir string, scopes []string) (*oauth2.Config, error) {
	credPath := filepath.Join(configDir, credentialsFile)
	b, err := os.ReadFile(credPath)
	if err != nil {
		return nil, fmt.Errorf("read credentials at %s: %w", credPath, err)
	}
	cfg, err := google.ConfigFromJSON(b, scopes...)
	if err != nil {
		return nil, fmt.Errorf("parse oauth config: %w", err)
	}
	return cfg, nil
}

// cachedToken is the on-disk token plus the scopes it was granted for.
type cachedToken struct {
	*oauth2.Token
	scopes []string
}

type tokenFileJSON struct {
	Token  *oauth2.Token `json:"token"`
	Scopes []string      `json:"scopes"`
}

func readToken(path string) (*cachedToken, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var tf tokenFileJSON
	if err := json.NewDecoder(f).Decode(&tf); err != nil {
		return nil, err
	}
	if tf.Token == nil {
		return nil, errors.New("token file has no token")
	}
	return &cachedToken{Token: tf.Token, scopes: tf.Scopes}, nil
}

func saveToken(path string, tok *oauth2.Token, scopes []string) error {
	tmp := path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(tokenFileJSON{Token: tok, Scopes: scopes}); err != nil {
		f.Close()
		return err
	}
	f.Close()
	return os.Rename(tmp, path)
}

func covers(granted, wanted []string) bool {
	have := make(map[string]bool, len(granted))
	for _, s := range granted {
		have[s] = true
	}
	for _, s := range wanted {
		if !have[s] {
			return false
		}
	}
	return true
}

// getTokenFromWeb runs a loopback HTTP server to capture the auth code.
// If that fails or times out, it falls back to manual paste (code or URL).
func getTokenFromWeb(ctx context.Context, cfg *oauth2.Config) (*oauth2.Token, error) {
	code, err := loopbackCode(ctx, cfg)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		fmt.Fprintf(os.Stderr, "%v; falling back to manual paste.\n", err)
		code, err = pastedCode(cfg)
		if err != nil {
			return nil, err
		}
	}
	fmt.Fprintln(os.Stderr, "Exchanging code for token…")
	tok, err := cfg.Exchange(ctx, strings.TrimSpace(code))
	if err != nil {
		return nil, fmt.Errorf("token exchange: %w", err)
	}
	fmt.Fprintln(os.Stderr, "Authentication successful.")
	return tok, nil
}

// loopbackCode listens on a random localhost port for the OAuth redirect.
// cfg.RedirectURL stays pointed at the loopback address on success so the
// code exchange uses the same redirect.
func loopbackCode(ctx context.Context, cfg *oauth2.Config) (string, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", fmt.Errorf("listen on loopback: %w", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	redirect := fmt.Sprintf("http://127.0.0.1:%d/", port)
	oldRedirect := cfg.RedirectURL
	cfg.RedirectURL = redirect

	codeCh := make(chan string, 1)
	mux := http.NewServeMux()
	srv := &http.Server{
		ReadHeaderTimeout: 5 * time.Second,
		Handler:           mux,
	}
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("code")
		if code == "" {
			http.Error(w, "Missing 'code' parameter", http.StatusBadRequest)
			return
		}
		fmt.Fprintln(w, "Authentication complete. You can close this window.")
		select {
		case codeCh <- code:
		default:
		}
	})
	go func() { _ = srv.Serve(ln) }()
	defer func() { _ = srv.Shutdown(context.Background()) }()

	authURL := cfg.AuthCodeURL("state-token", oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	fmt.Fprintln(os.Stderr, "Open this URL in your browser to authorize mailmint:")
	fmt.Fprintln(os.Stderr, authURL)
	fmt.Fprintf(os.Stderr, "Waiting for redirect on %s …\n", redirect)

	select {
	case <-ctx.Done():
		cfg.RedirectURL = oldRedirect
		return "", ctx.Err()
	case code := <-codeCh:
		return code, nil
	case <-time.After(redirectTimeout):
		cfg.RedirectURL = oldRedirect
		return "", errors.New("timeout waiting for redirect")
	}
}

// pastedCode reads an auth code, or a full redirect URL carrying one, from stdin.
func pastedCode(cfg *oauth2.Config) (string, error) {
	authURL := cfg.AuthCodeURL("state-token", oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	fmt.Fprintln(os.Stderr, "Open this URL in your browser to authorize mailmint:")
	fmt.Fprintln(os.Stderr, authURL)
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Paste the AUTH CODE itself or the FULL redirect URL here, then press Enter.")
	fmt.Fprint(os.Stderr, "> ")

	sc := bufio.NewScanner(os.Stdin)
	sc.Buffer(make([]byte, 0, 1024), 1024*1024)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return "", fmt.Errorf("read auth code: %w", err)
		}
		return "", errors.New("empty authorization code")
	}
	return codeFromInput(sc.Text())
}

func codeFromInput(input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", errors.New("empty authorization code")
	}
	if !strings.HasPrefix(input, "http://") && !strings.HasPrefix(input, "https://") {
		return input, nil
	}
	u, err := url.Parse(input)
	if err != nil {
		return "", fmt.Errorf("parse redirect URL: %w", err)
	}
	c := u.Query().Get("code")
	if c == "" {
		return "", errors.New("no 'code' parameter found in pasted URL")
	}
	return c, nil
}
