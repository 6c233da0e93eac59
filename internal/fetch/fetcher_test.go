package fetch

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systemshift/apigraph/internal/entity"
)

// tenantAPI is a fake JSON:API backend. The root path serves rootBody; any
// other path serves the entity whose id is the last path segment.
type tenantAPI struct {
	root     string
	rootBody string
	entities map[string]string
	fail     map[string]int
	delay    map[string]time.Duration

	mu      sync.Mutex
	hits    map[string]int
	paths   []string
	headers []http.Header
}

func newTenantAPI(root, rootBody string, entities map[string]string) *tenantAPI {
	return &tenantAPI{
		root:     root,
		rootBody: rootBody,
		entities: entities,
		fail:     map[string]int{},
		delay:    map[string]time.Duration{},
		hits:     map[string]int{},
	}
}

func (a *tenantAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := path.Base(r.URL.Path)

	a.mu.Lock()
	a.hits[id]++
	a.paths = append(a.paths, r.URL.Path)
	a.headers = append(a.headers, r.Header.Clone())
	status, failing := a.fail[id]
	delay := a.delay[id]
	a.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if failing {
		http.Error(w, "boom", status)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.api+json")
	if r.URL.Path == a.root {
		fmt.Fprint(w, a.rootBody)
		return
	}
	body, ok := a.entities[id]
	if !ok {
		http.NotFound(w, r)
		return
	}
	fmt.Fprintf(w, `{"data":%s}`, body)
}

func (a *tenantAPI) hitCount(id string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.hits[id]
}

func (a *tenantAPI) requestedPaths() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.paths...)
}

func ent(typ, id, rels string) string {
	if rels == "" {
		return fmt.Sprintf(`{"type":%q,"id":%q,"attributes":{"name":%q}}`, typ, id, strings.ToUpper(id))
	}
	return fmt.Sprintf(`{"type":%q,"id":%q,"attributes":{"name":%q},"relationships":{%s}}`, typ, id, strings.ToUpper(id), rels)
}

func one(name, typ, id string) string {
	return fmt.Sprintf(`%q:{"data":{"type":%q,"id":%q}}`, name, typ, id)
}

func many(name string, refs ...string) string {
	parts := make([]string, 0, len(refs))
	for _, ref := range refs {
		typ, id, _ := strings.Cut(ref, ":")
		parts = append(parts, fmt.Sprintf(`{"type":%q,"id":%q}`, typ, id))
	}
	return fmt.Sprintf(`%q:{"data":[%s]}`, name, strings.Join(parts, ","))
}

func keys(s *entity.Store) []string {
	var out []string
	for _, e := range s.Values() {
		out = append(out, e.Key())
	}
	return out
}

var testCred = Credentials{AccessToken: "tok", Mode: "DESIGN"}

func TestFetchTransitiveClosure(t *testing.T) {
	api := newTenantAPI("/r", `{"data":`+ent("root", "r", many("items", "item:a", "item:b"))+`}`, map[string]string{
		"a": ent("item", "a", one("child", "leaf", "c")),
		"b": ent("item", "b", ""),
		"c": ent("leaf", "c", ""),
	})
	srv := httptest.NewServer(api)
	defer srv.Close()

	store, report, err := New(Config{}).Fetch(context.Background(), srv.URL+"/r", testCred)
	require.NoError(t, err)

	assert.Equal(t, []string{"root-r", "item-a", "leaf-c", "item-b"}, keys(store))
	assert.Equal(t, 4, report.Requests)
	assert.Equal(t, 4, report.Entities)
	assert.False(t, report.Partial())
}

func TestFetchChildURLs(t *testing.T) {
	t.Run("singleton parent", func(t *testing.T) {
		api := newTenantAPI("/api/config/v1/project/p1", `{"data":`+ent("project", "p1", many("apps", "application:x"))+`}`, map[string]string{
			"x": ent("application", "x", one("owner", "user", "u")),
			"u": ent("user", "u", ""),
		})
		srv := httptest.NewServer(api)
		defer srv.Close()

		_, _, err := New(Config{}).Fetch(context.Background(), srv.URL+"/api/config/v1/project/p1", testCred)
		require.NoError(t, err)

		assert.Equal(t, []string{
			"/api/config/v1/project/p1",
			"/api/config/v1/project/p1/apps/x",
			"/api/config/v1/project/p1/apps/x/owner/u",
		}, api.requestedPaths())
	})

	t.Run("list parent", func(t *testing.T) {
		api := newTenantAPI("/api/config/v1/project", `{"data":[`+ent("project", "p1", many("apps", "application:x"))+`]}`, map[string]string{
			"x": ent("application", "x", ""),
		})
		srv := httptest.NewServer(api)
		defer srv.Close()

		_, _, err := New(Config{}).Fetch(context.Background(), srv.URL+"/api/config/v1/project", testCred)
		require.NoError(t, err)

		assert.Equal(t, []string{
			"/api/config/v1/project",
			"/api/config/v1/project/p1/apps/x",
		}, api.requestedPaths())
	})
}

func TestFetchSendsHeaders(t *testing.T) {
	api := newTenantAPI("/r", `{"data":`+ent("root", "r", one("x", "item", "a"))+`}`, map[string]string{
		"a": ent("item", "a", ""),
	})
	srv := httptest.NewServer(api)
	defer srv.Close()

	_, _, err := New(Config{}).Fetch(context.Background(), srv.URL+"/r", testCred)
	require.NoError(t, err)

	require.Len(t, api.headers, 2)
	for _, h := range api.headers {
		assert.Equal(t, "Bearer tok", h.Get("Authorization"))
		assert.Equal(t, "DESIGN", h.Get("Env-Mode"))
	}
}

func TestFetchCycleTerminates(t *testing.T) {
	api := newTenantAPI("/a", `{"data":`+ent("node", "a", one("next", "node", "b"))+`}`, map[string]string{
		"a": ent("node", "a", one("next", "node", "b")),
		"b": ent("node", "b", one("next", "node", "a")),
	})
	srv := httptest.NewServer(api)
	defer srv.Close()

	store, report, err := New(Config{}).Fetch(context.Background(), srv.URL+"/a", testCred)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"node-a", "node-b"}, keys(store))
	assert.Equal(t, 1, api.hitCount("a"))
	assert.Equal(t, 1, api.hitCount("b"))
	assert.Equal(t, 2, report.Requests)
}

func TestFetchSelfReference(t *testing.T) {
	api := newTenantAPI("/a", `{"data":`+ent("node", "a", one("self", "node", "a"))+`}`, nil)
	srv := httptest.NewServer(api)
	defer srv.Close()

	store, report, err := New(Config{}).Fetch(context.Background(), srv.URL+"/a", testCred)
	require.NoError(t, err)
	assert.Equal(t, []string{"node-a"}, keys(store))
	assert.Equal(t, 1, report.Requests)
}

func TestFetchSharedReferenceFetchedOnce(t *testing.T) {
	api := newTenantAPI("/r", `{"data":`+ent("root", "r", many("items", "item:a", "item:b"))+`}`, map[string]string{
		"a": ent("item", "a", one("shared", "leaf", "s")),
		"b": ent("item", "b", one("shared", "leaf", "s")),
		"s": ent("leaf", "s", ""),
	})
	srv := httptest.NewServer(api)
	defer srv.Close()

	store, _, err := New(Config{}).Fetch(context.Background(), srv.URL+"/r", testCred)
	require.NoError(t, err)
	assert.Equal(t, 4, store.Len())
	assert.Equal(t, 1, api.hitCount("s"))
}

func TestFetchListMembersAreNotRefetched(t *testing.T) {
	api := newTenantAPI("/p", `{"data":[`+ent("project", "p1", one("peer", "project", "p2"))+`,`+ent("project", "p2", "")+`]}`, nil)
	srv := httptest.NewServer(api)
	defer srv.Close()

	store, report, err := New(Config{}).Fetch(context.Background(), srv.URL+"/p", testCred)
	require.NoError(t, err)
	assert.Equal(t, []string{"project-p1", "project-p2"}, keys(store))
	assert.Equal(t, 1, report.Requests)
}

func TestFetchPartialFailure(t *testing.T) {
	api := newTenantAPI("/r", `{"data":`+ent("root", "r", many("items", "item:a", "item:b"))+`}`, map[string]string{
		"a": ent("item", "a", one("child", "leaf", "c")),
		"b": ent("item", "b", ""),
		"c": ent("leaf", "c", one("deeper", "leaf", "d")),
		"d": ent("leaf", "d", ""),
	})
	api.fail["c"] = http.StatusInternalServerError
	srv := httptest.NewServer(api)
	defer srv.Close()

	store, report, err := New(Config{}).Fetch(context.Background(), srv.URL+"/r", testCred)
	require.NoError(t, err)

	assert.Equal(t, []string{"root-r", "item-a", "item-b"}, keys(store))
	require.True(t, report.Partial())
	require.Len(t, report.Failures, 1)

	ferr := report.Failures[0]
	assert.Equal(t, http.StatusInternalServerError, ferr.Status)
	assert.Equal(t, "leaf-c", ferr.Ref)
	assert.ErrorIs(t, ferr, ErrStatus)
	assert.Zero(t, api.hitCount("d"))
}

func TestFetchRootFailureYieldsEmptyGraph(t *testing.T) {
	api := newTenantAPI("/r", "", nil)
	api.fail["r"] = http.StatusUnauthorized
	srv := httptest.NewServer(api)
	defer srv.Close()

	store, report, err := New(Config{}).Fetch(context.Background(), srv.URL+"/r", testCred)
	require.NoError(t, err)
	assert.Zero(t, store.Len())
	require.Len(t, report.Failures, 1)
	assert.Equal(t, http.StatusUnauthorized, report.Failures[0].Status)
}

func TestFetchMalformedPayloadIsQuarantined(t *testing.T) {
	api := newTenantAPI("/r", `{"data":`+ent("root", "r", many("items", "item:a", "item:b"))+`}`, map[string]string{
		"a": `{"type":"item"}`,
		"b": ent("item", "b", ""),
	})
	srv := httptest.NewServer(api)
	defer srv.Close()

	store, report, err := New(Config{}).Fetch(context.Background(), srv.URL+"/r", testCred)
	require.NoError(t, err)
	assert.Equal(t, []string{"root-r", "item-b"}, keys(store))
	require.Len(t, report.Failures, 1)
	assert.ErrorIs(t, report.Failures[0], ErrMalformedPayload)
	assert.ErrorIs(t, report.Failures[0], entity.ErrMalformed)
}

func TestFetchTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	rootURL := srv.URL + "/r"
	srv.Close()

	store, report, err := New(Config{}).Fetch(context.Background(), rootURL, testCred)
	require.NoError(t, err)
	assert.Zero(t, store.Len())
	require.Len(t, report.Failures, 1)
	assert.ErrorIs(t, report.Failures[0], ErrTransport)
}

func TestFetchInvalidRoot(t *testing.T) {
	for _, root := range []string{"ftp://host/x", "://bad", "/relative/only"} {
		_, _, err := New(Config{}).Fetch(context.Background(), root, testCred)
		assert.ErrorIs(t, err, ErrInvalidRoot, root)
	}
}

func TestFetchOrderIndependentOfWorkers(t *testing.T) {
	entities := map[string]string{
		"a1": ent("application", "a1", many("keys", "key:k1", "key:k2")+","+one("project", "project", "p1")),
		"a2": ent("application", "a2", many("keys", "key:k2", "key:k3")),
		"a3": ent("application", "a3", many("keys", "key:k1", "key:k4")),
		"k1": ent("key", "k1", one("rule", "rule", "x1")),
		"k2": ent("key", "k2", ""),
		"k3": ent("key", "k3", one("rule", "rule", "x2")),
		"k4": ent("key", "k4", ""),
		"x1": ent("rule", "x1", ""),
		"x2": ent("rule", "x2", one("back", "application", "a1")),
	}
	rootBody := `{"data":[` +
		ent("project", "p1", many("apps", "application:a1", "application:a2")) + `,` +
		ent("project", "p2", many("apps", "application:a3")) + `]}`

	run := func(workers int, slow ...string) []string {
		api := newTenantAPI("/project", rootBody, entities)
		for _, id := range slow {
			api.delay[id] = 20 * time.Millisecond
		}
		srv := httptest.NewServer(api)
		defer srv.Close()

		store, report, err := New(Config{Workers: workers}).Fetch(context.Background(), srv.URL+"/project", testCred)
		require.NoError(t, err)
		assert.False(t, report.Partial())
		for id := range entities {
			assert.Equal(t, 1, api.hitCount(id), id)
		}
		return keys(store)
	}

	sequential := run(1)
	assert.Equal(t, []string{
		"project-p1", "application-a1", "key-k1", "rule-x1", "key-k2",
		"application-a2", "key-k3", "rule-x2",
		"project-p2", "application-a3", "key-k4",
	}, sequential)

	assert.Equal(t, sequential, run(4, "a1", "k1"))
	assert.Equal(t, sequential, run(8, "a2", "x1"))
}

func TestFetchCancelled(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	store, _, err := New(Config{}).Fetch(ctx, srv.URL+"/r", testCred)
	require.Error(t, err)
	assert.Nil(t, store)
	assert.True(t, IsCancelled(err))
}

func TestFetchRateLimited(t *testing.T) {
	api := newTenantAPI("/r", `{"data":`+ent("root", "r", many("items", "item:a", "item:b"))+`}`, map[string]string{
		"a": ent("item", "a", ""),
		"b": ent("item", "b", ""),
	})
	srv := httptest.NewServer(api)
	defer srv.Close()

	start := time.Now()
	store, _, err := New(Config{RequestsPerSecond: 20}).Fetch(context.Background(), srv.URL+"/r", testCred)
	require.NoError(t, err)
	assert.Equal(t, 3, store.Len())
	// burst of one, then two more tokens at 50ms intervals
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestChildURL(t *testing.T) {
	assert.Equal(t, "https://h/p/1/apps/x", childURL("https://h/p", true, "1", "apps", "x"))
	assert.Equal(t, "https://h/p/1/apps/x", childURL("https://h/p/1", false, "1", "apps", "x"))
	assert.Equal(t, "https://h/p/apps/a%20b", childURL("https://h/p/", false, "1", "apps", "a b"))
}
