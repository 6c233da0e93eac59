// Package auth logs in to and out of a tenant's API services and carries the
// resulting session.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/systemshift/apigraph/internal/fetch"
	"github.com/systemshift/apigraph/internal/logger"
)

// DefaultMode is the environment mode sent with every authenticated request.
const DefaultMode = "DESIGN"

// DefaultRootPath is the configuration collection fetched when none is given.
const DefaultRootPath = "/project"

var (
	// ErrNoToken is returned when a successful login response carries no
	// access token.
	ErrNoToken = errors.New("no access token in response")

	// ErrServicesHost is returned when no services host can be derived from a
	// tenant URL.
	ErrServicesHost = errors.New("cannot derive services host")
)

// AuthError reports a failed login or logout exchange.
type AuthError struct {
	Op     string
	Status int
	Err    error
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s failed with status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

// Unwrap returns the underlying cause.
func (e *AuthError) Unwrap() error {
	return e.Err
}

// Session is an authenticated session against one tenant.
type Session struct {
	AccessToken string `json:"-"`
	Mode        string `json:"mode"`
	TenantURL   string `json:"tenantUrl"`
	ServicesURL string `json:"servicesUrl"`
}

// Authenticated reports whether s holds an access token.
func (s *Session) Authenticated() bool {
	return s != nil && s.AccessToken != ""
}

// Credentials returns what the fetcher needs to act on behalf of s.
func (s *Session) Credentials() fetch.Credentials {
	return fetch.Credentials{AccessToken: s.AccessToken, Mode: s.Mode}
}

// ConfigRoot returns the URL of the configuration collection at path, e.g.
// "/project".
func (s *Session) ConfigRoot(path string) string {
	if path == "" {
		path = DefaultRootPath
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return strings.TrimSuffix(s.TenantURL, "/") + "/api/config/v1" + path
}

// ServicesURL derives the services URL of a tenant by replacing the first
// label of its host with "services". The replaced label names the tenant.
//
//	https://acme.example.com -> https://services.example.com/, "acme"
func ServicesURL(tenantURL string) (*url.URL, string, error) {
	u, err := url.Parse(tenantURL)
	if err != nil {
		return nil, "", fmt.Errorf("parsing tenant url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, "", fmt.Errorf("tenant url %q: unsupported scheme", tenantURL)
	}

	host := u.Hostname()
	if net.ParseIP(host) != nil {
		return nil, "", fmt.Errorf("%w: %q is an address", ErrServicesHost, host)
	}
	labels := strings.Split(host, ".")
	if len(labels) < 2 || labels[0] == "" {
		return nil, "", fmt.Errorf("%w: %q", ErrServicesHost, host)
	}

	tenant := labels[0]
	labels[0] = "services"
	host = strings.Join(labels, ".")
	if port := u.Port(); port != "" {
		host = net.JoinHostPort(host, port)
	}

	return &url.URL{Scheme: u.Scheme, Host: host, Path: "/"}, tenant, nil
}

// Client performs the login and logout exchanges.
type Client struct {
	http     *http.Client
	services *url.URL
	mode     string
	logger   *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithServicesURL pins the services URL instead of deriving it from the
// tenant URL. The tenant name is still derived from the tenant host when
// possible.
func WithServicesURL(u *url.URL) Option {
	return func(cl *Client) { cl.services = u }
}

// WithMode sets the environment mode of new sessions.
func WithMode(mode string) Option {
	return func(cl *Client) { cl.mode = mode }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) { cl.logger = l }
}

// NewClient creates a Client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		http:   &http.Client{Timeout: 30 * time.Second},
		mode:   DefaultMode,
		logger: logger.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type loginRequest struct {
	Email            string `json:"email"`
	Password         string `json:"password"`
	Domain           string `json:"domain"`
	Remember         bool   `json:"remember"`
	DuplicateSession bool   `json:"duplicateSession"`
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
}

// Login authenticates email/password against the tenant at tenantURL.
func (c *Client) Login(ctx context.Context, tenantURL, email, password string) (*Session, error) {
	services, tenant, err := c.resolve(tenantURL)
	if err != nil {
		return nil, &AuthError{Op: "login", Err: err}
	}

	body, err := json.Marshal(loginRequest{
		Email:            email,
		Password:         password,
		Domain:           tenant,
		Remember:         false,
		DuplicateSession: true,
	})
	if err != nil {
		return nil, &AuthError{Op: "login", Err: err}
	}

	endpoint := services.JoinPath("api", "auth", "login").String()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &AuthError{Op: "login", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &AuthError{Op: "login", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Warn("login rejected", "tenant", tenant, "status", resp.StatusCode)
		return nil, &AuthError{Op: "login", Status: resp.StatusCode, Err: errors.New(strings.TrimSpace(string(msg)))}
	}

	var lr loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return nil, &AuthError{Op: "login", Status: resp.StatusCode, Err: fmt.Errorf("decoding response: %w", err)}
	}
	if lr.AccessToken == "" {
		return nil, &AuthError{Op: "login", Status: resp.StatusCode, Err: ErrNoToken}
	}

	c.logger.Info("logged in", "tenant", tenant, "services", services.String())
	return &Session{
		AccessToken: lr.AccessToken,
		Mode:        c.mode,
		TenantURL:   tenantURL,
		ServicesURL: services.String(),
	}, nil
}

// Logout ends s at the tenant. Sessions without token are not sent.
func (c *Client) Logout(ctx context.Context, s *Session) error {
	if !s.Authenticated() {
		return nil
	}

	endpoint := strings.TrimSuffix(s.TenantURL, "/") + "/api/auth/logout"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return &AuthError{Op: "logout", Err: err}
	}
	req.Header.Set(fetch.HeaderAuthorization, "Bearer "+s.AccessToken)
	req.Header.Set(fetch.HeaderEnvMode, s.Mode)

	resp, err := c.http.Do(req)
	if err != nil {
		return &AuthError{Op: "logout", Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &AuthError{Op: "logout", Status: resp.StatusCode, Err: errors.New(http.StatusText(resp.StatusCode))}
	}
	c.logger.Info("logged out", "tenant", s.TenantURL)
	return nil
}

func (c *Client) resolve(tenantURL string) (*url.URL, string, error) {
	services, tenant, err := ServicesURL(tenantURL)
	if c.services == nil {
		return services, tenant, err
	}
	if err != nil {
		tenant = ""
	}
	return c.services, tenant, nil
}
