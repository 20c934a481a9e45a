package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"

	"wallcal/internal/apperr"
)

// ClientProvider supplies an authenticated HTTP client for the calendar
// API. It returns an error matching apperr.ErrNotConnected when no account
// is connected.
type ClientProvider interface {
	Client(ctx context.Context) (*http.Client, error)
}

// TokenFileProvider reads an oauth2 token persisted by the admin surface
// and builds a refreshing client from it.
type TokenFileProvider struct {
	oauthConfig *oauth2.Config
	path        string
}

func NewTokenFileProvider(clientID, clientSecret, tokenPath string) *TokenFileProvider {
	return &TokenFileProvider{
		oauthConfig: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       []string{calendar.CalendarReadonlyScope},
		},
		path: tokenPath,
	}
}

func (p *TokenFileProvider) Client(ctx context.Context) (*http.Client, error) {
	if p.path == "" {
		return nil, apperr.ErrNotConnected
	}
	data, err := os.ReadFile(p.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, apperr.ErrNotConnected
	}
	if err != nil {
		return nil, fmt.Errorf("read token: %w", err)
	}

	var token oauth2.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, apperr.Wrap(apperr.CodeNotConnected, "stored token is unreadable", err)
	}
	if token.AccessToken == "" && token.RefreshToken == "" {
		return nil, apperr.ErrNotConnected
	}

	// The client outlives this call, so it must not inherit a request
	// deadline.
	return p.oauthConfig.Client(context.WithoutCancel(ctx), &token), nil
}

// StaticClientProvider always returns the same client. A nil client means
// not connected.
type StaticClientProvider struct {
	HTTPClient *http.Client
}

func (p StaticClientProvider) Client(context.Context) (*http.Client, error) {
	if p.HTTPClient == nil {
		return nil, apperr.ErrNotConnected
	}
	return p.HTTPClient, nil
}
