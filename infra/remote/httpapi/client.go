// Package httpapi implements remote.API against the manufacturer's REST
// service. Authentication uses an OAuth2 password grant; 401 and 403
// responses are reported as expired sessions.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kilianp07/fleetbridge/core/remote"
)

// Config configures the REST client.
type Config struct {
	BaseURL      string        `json:"base_url"`
	TokenURL     string        `json:"token_url"`
	ClientID     string        `json:"client_id"`
	ClientSecret string        `json:"client_secret"`
	Scopes       []string      `json:"scopes"`
	Username     string        `json:"username"`
	Password     string        `json:"password"`
	Timeout      time.Duration `json:"timeout"`
}

// SetDefaults fills unset values.
func (c *Config) SetDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
	if c.TokenURL == "" && c.BaseURL != "" {
		c.TokenURL = strings.TrimSuffix(c.BaseURL, "/") + "/oauth/token"
	}
}

// Validate checks required values.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base_url is required")
	}
	if c.Username == "" || c.Password == "" {
		return fmt.Errorf("username and password are required")
	}
	return nil
}

// Client talks to the remote REST API.
type Client struct {
	http  *http.Client
	base  string
	creds *credentials
}

// New returns a client. Login must succeed before other calls.
func New(cfg Config) *Client {
	cfg.SetDefaults()
	return &Client{
		http:  &http.Client{Timeout: cfg.Timeout},
		base:  strings.TrimSuffix(cfg.BaseURL, "/"),
		creds: newCredentials(cfg),
	}
}

var _ remote.API = (*Client)(nil)

func (c *Client) Login(ctx context.Context) error {
	return c.creds.login(ctx, c.http)
}

func (c *Client) ListVehicles(ctx context.Context) ([]remote.Vehicle, error) {
	var out []remote.Vehicle
	err := c.do(ctx, "list vehicles", http.MethodGet, "/vehicles", nil, &out)
	return out, err
}

func (c *Client) FetchStatus(ctx context.Context, vin string) (remote.Status, error) {
	var out remote.Status
	err := c.do(ctx, "fetch status", http.MethodGet, vehiclePath(vin, "status"), nil, &out)
	return out, err
}

type chargeResponse struct {
	remote.ChargeStatus
	RemainingSeconds int64 `json:"remaining_seconds"`
}

func (c *Client) FetchChargeStatus(ctx context.Context, vin string) (remote.ChargeStatus, error) {
	var out chargeResponse
	if err := c.do(ctx, "fetch charge status", http.MethodGet, vehiclePath(vin, "charging"), nil, &out); err != nil {
		return remote.ChargeStatus{}, err
	}
	cs := out.ChargeStatus
	cs.Remaining = time.Duration(out.RemainingSeconds) * time.Second
	return cs, nil
}

func (c *Client) FetchHeatingSchedule(ctx context.Context, vin string) (remote.HeatingSchedule, error) {
	var out remote.HeatingSchedule
	err := c.do(ctx, "fetch heating schedule", http.MethodGet, vehiclePath(vin, "battery-heating"), nil, &out)
	return out, err
}

func (c *Client) SendControl(ctx context.Context, vin string, ctl remote.Control) error {
	return c.do(ctx, "send "+string(ctl.Action), http.MethodPost, vehiclePath(vin, "controls"), ctl, nil)
}

func (c *Client) FetchInbox(ctx context.Context, page int) ([]remote.Message, error) {
	var out struct {
		Messages []remote.Message `json:"messages"`
	}
	err := c.do(ctx, "fetch inbox", http.MethodGet, "/inbox?page="+strconv.Itoa(page), nil, &out)
	return out.Messages, err
}

func (c *Client) MarkRead(ctx context.Context, id string) error {
	return c.do(ctx, "mark read", http.MethodPost, "/inbox/"+url.PathEscape(id)+"/read", nil, nil)
}

func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, "delete message", http.MethodDelete, "/inbox/"+url.PathEscape(id), nil, nil)
}

func vehiclePath(vin, resource string) string {
	return "/vehicles/" + url.PathEscape(vin) + "/" + resource
}

// do sends an authorized request and decodes the JSON response into out.
func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return remote.Wrap(remote.KindUnexpected, op, err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return remote.Wrap(remote.KindUnexpected, op, fmt.Errorf("failed to create request: %w", err))
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if err := c.creds.authorize(op, req); err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return remote.Wrap(remote.KindRemote, op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return remote.Wrap(remote.KindRemote, op, fmt.Errorf("failed to read response body: %w", err))
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		c.creds.invalidate()
		return remote.Errorf(remote.KindAuthExpired, op, "session expired (%d)", resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return remote.Errorf(remote.KindRemote, op, "%s", errorMessage(resp.StatusCode, data))
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return remote.Wrap(remote.KindUnexpected, op, fmt.Errorf("failed to unmarshal response: %w", err))
	}
	return nil
}

// errorMessage extracts the service's message from an error body.
func errorMessage(status int, body []byte) string {
	var e struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil {
		if e.Message != "" {
			return e.Message
		}
		if e.Error != "" {
			return e.Error
		}
	}
	return fmt.Sprintf("unexpected status code: %d", status)
}
