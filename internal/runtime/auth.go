// internal/runtime/auth.go
package runtime

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mbrt/gmailctl/cmd/gmailctl/localcred"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	gc "github.com/joshsymonds/autoreply/internal/gmail"
)

// NewGmailClient authenticates through a gmailctl credential directory.
// localcred persists and refreshes the token across restarts; the agent only
// needs a ready client back.
func NewGmailClient(ctx context.Context, cfgDir string) (gc.Client, error) {
	// gmail.modify also authorizes messages.send, so one scope covers both
	// the label writes and the outbound replies.
	svc, err := (localcred.Provider{}).ServiceWithScopes(ctx, cfgDir, gmail.GmailModifyScope)
	if err != nil {
		return nil, fmt.Errorf("gmailctl credentials in %s: %w", cfgDir, err)
	}
	return NewGoogleAPIClient(svc), nil
}

// NewGmailClientFromFiles authenticates from an explicit OAuth client secret
// and token cache pair. When no cached token exists it runs a console
// authorize-URL / paste-code exchange and persists the result.
func NewGmailClientFromFiles(ctx context.Context, secretPath, tokenPath string) (gc.Client, error) {
	b, err := os.ReadFile(secretPath)
	if err != nil {
		return nil, fmt.Errorf("read client secret: %w", err)
	}
	cfg, err := google.ConfigFromJSON(b, gmail.GmailModifyScope)
	if err != nil {
		return nil, fmt.Errorf("parse oauth config: %w", err)
	}

	tok, err := readToken(tokenPath)
	if err != nil {
		tok, err = tokenFromConsole(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if err := saveToken(tokenPath, tok); err != nil {
			return nil, err
		}
	}

	svc, err := gmail.NewService(ctx, option.WithHTTPClient(cfg.Client(ctx, tok)))
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}
	return NewGoogleAPIClient(svc), nil
}

func readToken(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var tok oauth2.Token
	if err := json.NewDecoder(f).Decode(&tok); err != nil {
		return nil, fmt.Errorf("decode token %s: %w", path, err)
	}
	return &tok, nil
}

func saveToken(path string, tok *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("write token: %w", err)
	}
	if err := json.NewEncoder(f).Encode(tok); err != nil {
		f.Close()
		return fmt.Errorf("encode token: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func tokenFromConsole(ctx context.Context, cfg *oauth2.Config) (*oauth2.Token, error) {
	url := cfg.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
	fmt.Fprintf(os.Stderr, "Authorize this agent, then paste the code:\n%s\n> ", url)
	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		return nil, fmt.Errorf("read auth code: %w", scanner.Err())
	}
	tok, err := cfg.Exchange(ctx, scanner.Text())
	if err != nil {
		return nil, fmt.Errorf("exchange auth code: %w", err)
	}
	return tok, nil
}

// DefaultLogger returns the process-wide logger used by the binaries.
func DefaultLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
}
