package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"golang.org/x/oauth2"

	"github.com/kilianp07/fleetbridge/core/remote"
)

// credentials holds the account login and the current token source.
type credentials struct {
	conf     oauth2.Config
	username string
	password string

	mu  sync.Mutex
	src oauth2.TokenSource
}

func newCredentials(cfg Config) *credentials {
	return &credentials{
		conf: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: cfg.TokenURL},
			Scopes:       cfg.Scopes,
		},
		username: cfg.Username,
		password: cfg.Password,
	}
}

// login requests a fresh token with the resource owner password grant and
// replaces the previous session.
func (c *credentials) login(ctx context.Context, client *http.Client) error {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, client)
	tok, err := c.conf.PasswordCredentialsToken(ctx, c.username, c.password)
	if err != nil {
		c.mu.Lock()
		c.src = nil
		c.mu.Unlock()
		return tokenError("login", err)
	}
	// the token source refreshes with its own context, so it must outlive ctx
	refreshCtx := context.WithValue(context.Background(), oauth2.HTTPClient, client)
	c.mu.Lock()
	c.src = c.conf.TokenSource(refreshCtx, tok)
	c.mu.Unlock()
	return nil
}

// authorize sets the bearer token on r. A missing or unrefreshable token
// means the session expired.
func (c *credentials) authorize(op string, r *http.Request) error {
	c.mu.Lock()
	src := c.src
	c.mu.Unlock()
	if src == nil {
		return remote.Errorf(remote.KindAuthExpired, op, "not logged in")
	}
	tok, err := src.Token()
	if err != nil {
		return tokenError(op, err)
	}
	tok.SetAuthHeader(r)
	return nil
}

// invalidate drops the session after the server rejected the token.
func (c *credentials) invalidate() {
	c.mu.Lock()
	c.src = nil
	c.mu.Unlock()
}

func tokenError(op string, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if re.Response != nil && re.Response.StatusCode >= http.StatusInternalServerError {
			return remote.Wrap(remote.KindRemote, op, fmt.Errorf("token endpoint: %s", re.Response.Status))
		}
		return remote.Wrap(remote.KindAuthExpired, op, err)
	}
	return remote.Wrap(remote.KindRemote, op, err)
}
