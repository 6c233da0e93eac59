package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"

	"github.com/systemshift/apigraph/internal/auth"
	"github.com/systemshift/apigraph/internal/config"
	"github.com/systemshift/apigraph/internal/entity"
	"github.com/systemshift/apigraph/internal/fetch"
	"github.com/systemshift/apigraph/internal/logger"
)

// PasswordEnv names the variable holding the login password. Passwords are
// never taken from flags.
const PasswordEnv = "APIGRAPH_PASSWORD"

var flags struct {
	tenant   string
	email    string
	root     string
	workers  int
	rps      float64
	logLevel string
}

// app is the configuration with command-line overrides applied.
type app struct {
	cfg config.Config
	log *slog.Logger
}

func setup() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if flags.tenant != "" {
		cfg.TenantURL = flags.tenant
	}
	if flags.root != "" {
		cfg.RootPath = flags.root
	}
	if flags.workers > 0 {
		cfg.Fetch.Workers = flags.workers
	}
	if flags.rps >= 0 {
		cfg.Fetch.RequestsPerSecond = flags.rps
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.TenantURL == "" {
		return nil, errors.New("no tenant: pass --tenant or set TENANT_URL")
	}

	log, err := logger.New(logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, Service: "apigraph"})
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, log: log}, nil
}

// login opens a session with the email from flags or APIGRAPH_EMAIL and the
// password from APIGRAPH_PASSWORD.
func (a *app) login(ctx context.Context, client *http.Client) (*auth.Client, *auth.Session, error) {
	email := flags.email
	if email == "" {
		email = os.Getenv("APIGRAPH_EMAIL")
	}
	password := os.Getenv(PasswordEnv)
	if email == "" || password == "" {
		return nil, nil, fmt.Errorf("credentials required: pass --email and set %s", PasswordEnv)
	}

	opts := []auth.Option{
		auth.WithHTTPClient(client),
		auth.WithMode(a.cfg.EnvMode),
		auth.WithLogger(a.log),
	}
	if a.cfg.ServicesURL != "" {
		u, err := url.Parse(a.cfg.ServicesURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parsing services url: %w", err)
		}
		opts = append(opts, auth.WithServicesURL(u))
	}

	ac := auth.NewClient(opts...)
	session, err := ac.Login(ctx, a.cfg.TenantURL, email, password)
	if err != nil {
		return nil, nil, err
	}
	return ac, session, nil
}

// fetchGraph logs in, fetches the configured root and logs out again.
func (a *app) fetchGraph(ctx context.Context) (root string, store *entity.Store, report *fetch.Report, err error) {
	client := &http.Client{Timeout: a.cfg.Fetch.Timeout}
	ac, session, err := a.login(ctx, client)
	if err != nil {
		return "", nil, nil, err
	}
	defer func() {
		if lerr := ac.Logout(context.Background(), session); lerr != nil {
			a.log.Warn("logout failed", "error", lerr)
		}
	}()

	f := fetch.New(fetch.Config{
		Client:            client,
		Workers:           a.cfg.Fetch.Workers,
		RequestsPerSecond: a.cfg.Fetch.RequestsPerSecond,
		Logger:            a.log,
	})
	root = session.ConfigRoot(a.cfg.RootPath)
	store, report, err = f.Fetch(ctx, root, session.Credentials())
	return root, store, report, err
}
