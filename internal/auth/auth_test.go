package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServicesURL(t *testing.T) {
	tests := []struct {
		tenantURL string
		want      string
		tenant    string
		wantErr   bool
	}{
		{tenantURL: "https://acme.example.com", want: "https://services.example.com/", tenant: "acme"},
		{tenantURL: "https://acme.eu.example.com/some/path", want: "https://services.eu.example.com/", tenant: "acme"},
		{tenantURL: "http://acme.local:8443", want: "http://services.local:8443/", tenant: "acme"},
		{tenantURL: "https://localhost", wantErr: true},
		{tenantURL: "http://127.0.0.1:8080", wantErr: true},
		{tenantURL: "ftp://acme.example.com", wantErr: true},
		{tenantURL: "::not a url", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.tenantURL, func(t *testing.T) {
			got, tenant, err := ServicesURL(tt.tenantURL)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
			assert.Equal(t, tt.tenant, tenant)
		})
	}
}

func TestSessionConfigRoot(t *testing.T) {
	s := &Session{TenantURL: "https://acme.example.com/"}
	assert.Equal(t, "https://acme.example.com/api/config/v1/project", s.ConfigRoot(""))
	assert.Equal(t, "https://acme.example.com/api/config/v1/application", s.ConfigRoot("application"))
	assert.Equal(t, "https://acme.example.com/api/config/v1/idp", s.ConfigRoot("/idp"))
}

type fakeServices struct {
	mu     sync.Mutex
	status int
	body   string
	got    loginRequest
	path   string
	header http.Header
}

func (f *fakeServices) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.path = r.URL.Path
	f.header = r.Header.Clone()
	if r.Method == http.MethodPost {
		_ = json.NewDecoder(r.Body).Decode(&f.got)
	}
	w.WriteHeader(f.status)
	_, _ = w.Write([]byte(f.body))
}

func newClient(t *testing.T, h http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL + "/")
	require.NoError(t, err)
	return NewClient(WithServicesURL(u), WithHTTPClient(srv.Client())), srv
}

func TestLogin(t *testing.T) {
	fake := &fakeServices{status: http.StatusOK, body: `{"access_token":"tok-1"}`}
	c, srv := newClient(t, fake)

	s, err := c.Login(context.Background(), "https://acme.example.com", "me@acme.io", "secret")
	require.NoError(t, err)

	assert.Equal(t, "/api/auth/login", fake.path)
	assert.Equal(t, "application/json", fake.header.Get("Content-Type"))
	assert.Equal(t, loginRequest{
		Email:            "me@acme.io",
		Password:         "secret",
		Domain:           "acme",
		Remember:         false,
		DuplicateSession: true,
	}, fake.got)

	assert.Equal(t, "tok-1", s.AccessToken)
	assert.Equal(t, DefaultMode, s.Mode)
	assert.Equal(t, "https://acme.example.com", s.TenantURL)
	assert.Equal(t, srv.URL+"/", s.ServicesURL)
	assert.True(t, s.Authenticated())
	assert.Equal(t, "tok-1", s.Credentials().AccessToken)
}

func TestLoginMode(t *testing.T) {
	fake := &fakeServices{status: http.StatusOK, body: `{"access_token":"tok-1"}`}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	u, err := url.Parse(srv.URL + "/")
	require.NoError(t, err)
	c := NewClient(WithServicesURL(u), WithHTTPClient(srv.Client()), WithMode("RUNTIME"))

	s, err := c.Login(context.Background(), "https://acme.example.com", "me", "pw")
	require.NoError(t, err)
	assert.Equal(t, "RUNTIME", s.Mode)
	assert.Equal(t, "RUNTIME", s.Credentials().Mode)
}

func TestLoginFailures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{name: "rejected", status: http.StatusUnauthorized, body: "bad credentials"},
		{name: "no token", status: http.StatusOK, body: `{}`, wantErr: ErrNoToken},
		{name: "garbage", status: http.StatusOK, body: `<html>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newClient(t, &fakeServices{status: tt.status, body: tt.body})

			s, err := c.Login(context.Background(), "https://acme.example.com", "me", "pw")
			assert.Nil(t, s)

			var aerr *AuthError
			require.ErrorAs(t, err, &aerr)
			assert.Equal(t, "login", aerr.Op)
			assert.Equal(t, tt.status, aerr.Status)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestLoginUnderivableTenant(t *testing.T) {
	c := NewClient()
	_, err := c.Login(context.Background(), "http://localhost:1", "me", "pw")
	assert.ErrorIs(t, err, ErrServicesHost)
}

func TestLogout(t *testing.T) {
	fake := &fakeServices{status: http.StatusOK}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	c := NewClient(WithHTTPClient(srv.Client()))
	s := &Session{AccessToken: "tok", Mode: "DESIGN", TenantURL: srv.URL + "/"}
	require.NoError(t, c.Logout(context.Background(), s))

	assert.Equal(t, "/api/auth/logout", fake.path)
	assert.Equal(t, "Bearer tok", fake.header.Get("Authorization"))
	assert.Equal(t, "DESIGN", fake.header.Get("Env-Mode"))
}

func TestLogoutWithoutTokenIsSkipped(t *testing.T) {
	fake := &fakeServices{status: http.StatusOK}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	c := NewClient(WithHTTPClient(srv.Client()))
	require.NoError(t, c.Logout(context.Background(), &Session{TenantURL: srv.URL}))
	require.NoError(t, c.Logout(context.Background(), nil))
	assert.Empty(t, fake.path)
}

func TestLogoutFailure(t *testing.T) {
	srv := httptest.NewServer(&fakeServices{status: http.StatusInternalServerError})
	defer srv.Close()

	c := NewClient(WithHTTPClient(srv.Client()))
	err := c.Logout(context.Background(), &Session{AccessToken: "tok", TenantURL: srv.URL})

	var aerr *AuthError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, http.StatusInternalServerError, aerr.Status)
}
