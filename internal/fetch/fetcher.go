// Package fetch walks a tenant's JSON:API relationship graph over HTTP and
// collects every reachable entity exactly once.
//
// The walk is an explicit worklist: a coordinator goroutine owns the set of
// claimed keys and the pending queue, and hands requests to at most Workers
// concurrent fetches. A key is claimed when it is first received or first
// requested, so no entity is requested twice and cyclic graphs terminate.
//
// Failures are contained per request. A failed request is recorded in the
// Report and the part of the graph behind it is simply missing; Fetch still
// returns the partial result. Only cancellation of the context aborts a
// session.
//
// Ingestion order does not depend on the number of workers: after the walk
// the recorded responses are replayed depth-first, so the store sees the
// same order a sequential walk would have produced. Group ordinals and
// colors downstream rely on that.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/systemshift/apigraph/internal/entity"
	"github.com/systemshift/apigraph/internal/logger"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Header names sent with every entity request.
const (
	HeaderAuthorization = "Authorization"
	HeaderEnvMode       = "Env-Mode"
)

// maxErrorBody bounds how much of a failed response is kept for logging.
const maxErrorBody = 512

// Credentials authorize entity requests.
type Credentials struct {
	AccessToken string
	Mode        string
}

// Config configures a Fetcher. The zero value fetches sequentially, without
// rate limiting, using a client with a 30 second timeout.
type Config struct {
	Client            *http.Client
	Workers           int
	RequestsPerSecond float64
	Logger            *slog.Logger
}

// Fetcher fetches relationship graphs.
type Fetcher struct {
	client  *http.Client
	limiter *rate.Limiter
	workers int
	logger  *slog.Logger
}

// New creates a Fetcher.
func New(cfg Config) *Fetcher {
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}

	limit := rate.Inf
	burst := 0
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
		burst = workers
	}

	log := cfg.Logger
	if log == nil {
		log = logger.Discard()
	}

	return &Fetcher{
		client:  client,
		limiter: rate.NewLimiter(limit, burst),
		workers: workers,
		logger:  log,
	}
}

// Report summarizes a fetch session.
type Report struct {
	Requests int           `json:"requests"`
	Entities int           `json:"entities"`
	Failures []*FetchError `json:"-"`
	Duration time.Duration `json:"duration"`
}

// Partial reports whether some branch of the graph could not be fetched.
func (r *Report) Partial() bool {
	return len(r.Failures) > 0
}

type result struct {
	job job
	doc *entity.Document
	err *FetchError
}

// Fetch collects the transitive closure of entities reachable from rootURL.
// The returned store is complete unless the report lists failures. The error
// is non-nil only for an unusable root URL or a cancelled context.
func (f *Fetcher) Fetch(ctx context.Context, rootURL string, cred Credentials) (*entity.Store, *Report, error) {
	if err := validateRoot(rootURL); err != nil {
		return nil, nil, err
	}

	start := time.Now()
	report := &Report{}
	t := newTraversal()

	g, gctx := errgroup.WithContext(ctx)
	results := make(chan result)

	pending := []job{{url: rootURL}}
	inflight := 0

	f.logger.Info("fetch started", "root", rootURL, "workers", f.workers)

	for len(pending) > 0 || inflight > 0 {
		for inflight < f.workers && len(pending) > 0 {
			j := pending[len(pending)-1]
			pending = pending[:len(pending)-1]
			inflight++
			report.Requests++

			g.Go(func() error {
				doc, ferr := f.fetchOne(gctx, j, cred)
				select {
				case results <- result{job: j, doc: doc, err: ferr}:
					return nil
				case <-gctx.Done():
					return gctx.Err()
				}
			})
		}

		select {
		case res := <-results:
			inflight--
			if res.err != nil {
				if ctx.Err() == nil {
					report.Failures = append(report.Failures, res.err)
					f.logger.Warn("entity fetch failed", "url", res.err.URL, "ref", res.err.Ref,
						"status", res.err.Status, "error", res.err.Err)
				}
				continue
			}

			children := t.record(res.job, res.doc)
			// Reversed so the first related entity is requested next.
			for i := len(children) - 1; i >= 0; i-- {
				pending = append(pending, children[i])
			}

		case <-ctx.Done():
			_ = g.Wait()
			report.Duration = time.Since(start)
			return nil, report, fmt.Errorf("fetch %s: %w", rootURL, ctx.Err())
		}
	}

	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		report.Duration = time.Since(start)
		return nil, report, fmt.Errorf("fetch %s: %w", rootURL, err)
	}

	store := t.replay()
	report.Entities = store.Len()
	report.Duration = time.Since(start)
	sessionEntities.Observe(float64(report.Entities))

	f.logger.Info("fetch finished", "root", rootURL, "entities", report.Entities,
		"requests", report.Requests, "failures", len(report.Failures), "duration", report.Duration)

	return store, report, nil
}

// fetchOne performs a single entity request and decodes its body.
func (f *Fetcher) fetchOne(ctx context.Context, j job, cred Credentials) (*entity.Document, *FetchError) {
	fail := func(status int, outcome string, err error) (*entity.Document, *FetchError) {
		requestsTotal.WithLabelValues(outcome).Inc()
		return nil, &FetchError{URL: j.url, Ref: j.ref, Status: status, Err: err}
	}

	if err := f.limiter.Wait(ctx); err != nil {
		return fail(0, resultTransport, fmt.Errorf("%w: %v", ErrTransport, err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, j.url, nil)
	if err != nil {
		return fail(0, resultTransport, fmt.Errorf("%w: %v", ErrTransport, err))
	}
	req.Header.Set(HeaderAuthorization, "Bearer "+cred.AccessToken)
	req.Header.Set(HeaderEnvMode, cred.Mode)
	req.Header.Set("Accept", "application/vnd.api+json, application/json")

	f.logger.Debug("fetching entity", "url", j.url, "ref", j.ref)

	started := time.Now()
	resp, err := f.client.Do(req)
	requestDuration.Observe(time.Since(started).Seconds())
	if err != nil {
		return fail(0, resultTransport, fmt.Errorf("%w: %v", ErrTransport, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fail(resp.StatusCode, resultStatus, fmt.Errorf("%w: %s", ErrStatus, string(body)))
	}

	doc, err := entity.DecodeDocument(resp.Body)
	if err != nil {
		return fail(resp.StatusCode, resultMalformed, fmt.Errorf("%w: %w", ErrMalformedPayload, err))
	}

	requestsTotal.WithLabelValues(resultOK).Inc()
	return doc, nil
}

func validateRoot(rootURL string) error {
	u, err := url.Parse(rootURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRoot, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: unsupported scheme %q", ErrInvalidRoot, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidRoot)
	}
	return nil
}

// IsCancelled reports whether err ended a fetch because its context was
// cancelled or timed out.
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
