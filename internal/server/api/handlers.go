package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/systemshift/apigraph/internal/auth"
	"github.com/systemshift/apigraph/internal/entity"
	"github.com/systemshift/apigraph/internal/fetch"
	"github.com/systemshift/apigraph/internal/logger"
	"github.com/systemshift/apigraph/internal/model"
	"github.com/systemshift/apigraph/internal/server/events"
	"github.com/systemshift/apigraph/internal/server/graph"
	"github.com/systemshift/apigraph/internal/state"
	"github.com/systemshift/apigraph/internal/visibility"
)

// Fetcher collects the entity graph below a root URL.
type Fetcher interface {
	Fetch(ctx context.Context, rootURL string, cred fetch.Credentials) (*entity.Store, *fetch.Report, error)
}

// Authenticator performs the login and logout exchanges.
type Authenticator interface {
	Login(ctx context.Context, tenantURL, email, password string) (*auth.Session, error)
	Logout(ctx context.Context, s *auth.Session) error
}

// Options holds the dependencies of a Server. Repo and Hub may be nil.
type Options struct {
	State       *state.Store
	Auth        Authenticator
	Fetcher     Fetcher
	Transformer *model.Transformer
	Repo        graph.Repository
	Hub         *events.Hub
	RootPath    string
	StaticDir   string
	Logger      *slog.Logger
}

// Server holds the HTTP server dependencies
type Server struct {
	state       *state.Store
	auth        Authenticator
	fetcher     Fetcher
	transformer *model.Transformer
	repo        graph.Repository
	hub         *events.Hub
	rootPath    string
	staticDir   string
	logger      *slog.Logger
}

// New creates a new API server. State changes are forwarded to the hub.
func New(opts Options) *Server {
	s := &Server{
		state:       opts.State,
		auth:        opts.Auth,
		fetcher:     opts.Fetcher,
		transformer: opts.Transformer,
		repo:        opts.Repo,
		hub:         opts.Hub,
		rootPath:    opts.RootPath,
		staticDir:   opts.StaticDir,
		logger:      opts.Logger,
	}
	if s.state == nil {
		s.state = state.NewStore(state.Snapshot{})
	}
	if s.logger == nil {
		s.logger = logger.Discard()
	}
	if s.transformer == nil {
		s.transformer = model.NewTransformer(s.logger)
	}
	if s.rootPath == "" {
		s.rootPath = auth.DefaultRootPath
	}
	if s.hub != nil {
		s.state.Subscribe(s.publish)
	}
	return s
}

// State returns the state store served by s.
func (s *Server) State() *state.Store {
	return s.state
}

var validate = validator.New()

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// decode reads a JSON body into v and validates it.
func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return err
	}
	return validate.Struct(v)
}

// HealthCheck handles GET /health
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	snap := s.state.Current()
	nodes := 0
	if snap.NodeData != nil {
		nodes = len(snap.NodeData.Nodes)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"authenticated": snap.Auth.Authenticated(),
		"nodes":         nodes,
	})
}

// LoginRequest is the request body for logging in
type LoginRequest struct {
	TenantURL string `json:"tenantUrl" validate:"required,url"`
	Email     string `json:"email" validate:"required"`
	Password  string `json:"password" validate:"required"`
}

// AuthResponse describes the session without its token
type AuthResponse struct {
	Authenticated bool   `json:"authenticated"`
	TenantURL     string `json:"tenantUrl,omitempty"`
	Mode          string `json:"mode,omitempty"`
	Error         string `json:"error,omitempty"`
}

const loginFailed = "Login failed."

// Login handles POST /api/auth/login
func (s *Server) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	session, err := s.auth.Login(r.Context(), req.TenantURL, req.Email, req.Password)
	if err != nil {
		s.logger.Warn("login failed", "tenant", req.TenantURL, "error", err)
		s.state.Update(state.ChangeAuth, func(snap state.Snapshot) state.Snapshot {
			return snap.WithAccessToken("").WithError(loginFailed)
		})
		writeJSON(w, http.StatusUnauthorized, AuthResponse{Error: loginFailed})
		return
	}

	snap := s.state.Update(state.ChangeAuth, func(snap state.Snapshot) state.Snapshot {
		return snap.WithAuth(*session)
	})
	writeJSON(w, http.StatusOK, authResponse(snap))
}

// Logout handles POST /api/auth/logout. The local token is cleared even when
// the tenant rejects the request.
func (s *Server) Logout(w http.ResponseWriter, r *http.Request) {
	session := s.state.Current().Auth
	err := s.auth.Logout(r.Context(), &session)

	snap := s.state.Update(state.ChangeAuth, func(snap state.Snapshot) state.Snapshot {
		snap = snap.WithAccessToken("")
		if err != nil {
			return snap.WithError("Logout failed.")
		}
		return snap.WithError("")
	})

	if err != nil {
		s.logger.Warn("logout failed", "tenant", session.TenantURL, "error", err)
		writeJSON(w, http.StatusBadGateway, authResponse(snap))
		return
	}
	writeJSON(w, http.StatusOK, authResponse(snap))
}

func authResponse(snap state.Snapshot) AuthResponse {
	return AuthResponse{
		Authenticated: snap.Auth.Authenticated(),
		TenantURL:     snap.Auth.TenantURL,
		Mode:          snap.Auth.Mode,
		Error:         snap.Error,
	}
}

// FetchRequest is the request body for fetching the graph
type FetchRequest struct {
	Root string `json:"root,omitempty" validate:"omitempty,startswith=/"`
}

// FetchReport is the JSON form of a fetch report
type FetchReport struct {
	Requests   int      `json:"requests"`
	Entities   int      `json:"entities"`
	Failures   []string `json:"failures,omitempty"`
	Partial    bool     `json:"partial"`
	DurationMS int64    `json:"duration_ms"`
}

// FetchResponse is the response for fetching the graph
type FetchResponse struct {
	Root    string      `json:"root"`
	Version uint64      `json:"version"`
	Stats   model.Stats `json:"stats"`
	Report  FetchReport `json:"report"`
}

func newFetchReport(r *fetch.Report) FetchReport {
	out := FetchReport{
		Requests:   r.Requests,
		Entities:   r.Entities,
		Partial:    r.Partial(),
		DurationMS: r.Duration.Milliseconds(),
	}
	for _, f := range r.Failures {
		out.Failures = append(out.Failures, f.Error())
	}
	return out
}

// FetchGraph handles POST /api/graph/fetch. A newer fetch supersedes one
// still in flight; the superseded request answers 409.
func (s *Server) FetchGraph(w http.ResponseWriter, r *http.Request) {
	var req FetchRequest
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	session := s.state.Current().Auth
	if !session.Authenticated() {
		writeError(w, http.StatusUnauthorized, "not logged in")
		return
	}

	path := req.Root
	if path == "" {
		path = s.rootPath
	}
	root := session.ConfigRoot(path)

	ctx, fs := s.state.BeginFetch(r.Context())
	defer fs.Done()

	store, report, err := s.fetcher.Fetch(ctx, root, session.Credentials())
	switch {
	case err == nil:
	case fetch.IsCancelled(err) && !fs.Current():
		writeError(w, http.StatusConflict, state.ErrSuperseded.Error())
		return
	case errors.Is(err, fetch.ErrInvalidRoot):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	default:
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	m := s.transformer.Build(store.Values())
	snap, err := fs.Commit(func(snap state.Snapshot) state.Snapshot {
		return snap.WithNodeData(m, root, report)
	})
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	s.logger.Info("graph fetched", "root", root, "nodes", len(m.Nodes), "edges", len(m.Edges),
		"requests", report.Requests, "failures", len(report.Failures))
	s.persist(r.Context(), root, session.Mode, store.Values())

	writeJSON(w, http.StatusOK, FetchResponse{
		Root:    root,
		Version: snap.Version,
		Stats:   m.Stats(),
		Report:  newFetchReport(report),
	})
}

func (s *Server) persist(ctx context.Context, root, mode string, entities []entity.Entity) {
	if s.repo == nil {
		return
	}
	snap := graph.NewSnapshot(root, mode, entities)
	if err := s.repo.SaveSnapshot(ctx, snap); err != nil {
		s.logger.Warn("saving snapshot failed", "snapshot", snap.ID, "error", err)
		return
	}
	s.logger.Debug("snapshot saved", "snapshot", snap.ID, "entities", len(entities))
}

// Restore loads the latest stored snapshot into the state, if any.
func (s *Server) Restore(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}
	snap, err := s.repo.LatestSnapshot(ctx)
	if errors.Is(err, graph.ErrNoSnapshot) {
		return nil
	}
	if err != nil {
		return err
	}

	m := s.transformer.Build(snap.Entities)
	s.state.Update(state.ChangeGraph, func(st state.Snapshot) state.Snapshot {
		return st.WithNodeData(m, snap.Root, nil)
	})
	s.logger.Info("snapshot restored", "snapshot", snap.ID, "root", snap.Root,
		"fetched_at", snap.FetchedAt.Format(time.RFC3339), "nodes", len(m.Nodes))
	return nil
}

// GraphNode is a model node with its current visibility
type GraphNode struct {
	model.Node
	Visible bool `json:"visible"`
}

// GraphResponse is the response for reading the graph
type GraphResponse struct {
	Version   uint64                 `json:"version"`
	Source    string                 `json:"source,omitempty"`
	Nodes     []GraphNode            `json:"nodes"`
	Edges     []model.Edge           `json:"edges"`
	Groups    []model.Group          `json:"groups"`
	Filter    visibility.FilterState `json:"filter"`
	Selection []string               `json:"selection"`
	Visible   int                    `json:"visible"`
}

// GetGraph handles GET /api/graph
// Supports query param: ?visible=true to return only visible nodes and the
// edges between them
func (s *Server) GetGraph(w http.ResponseWriter, r *http.Request) {
	onlyVisible := false
	if v := r.URL.Query().Get("visible"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid visible parameter")
			return
		}
		onlyVisible = b
	}

	snap := s.state.Current()
	resp := GraphResponse{
		Version:   snap.Version,
		Source:    snap.Source,
		Nodes:     []GraphNode{},
		Edges:     []model.Edge{},
		Groups:    []model.Group{},
		Filter:    snap.NodeFilter,
		Selection: snap.Selection,
		Visible:   snap.Visibility.Count(),
	}
	if resp.Selection == nil {
		resp.Selection = []string{}
	}

	if m := snap.NodeData; m != nil {
		resp.Groups = m.Groups
		var kept []model.Node
		for _, n := range m.Nodes {
			visible := snap.Visible(n.ID)
			if onlyVisible && !visible {
				continue
			}
			kept = append(kept, n)
			resp.Nodes = append(resp.Nodes, GraphNode{Node: n, Visible: visible})
		}
		if onlyVisible {
			resp.Edges = model.Materialize(kept)
		} else {
			resp.Edges = m.Edges
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// FilterResponse is the response for updating the filter
type FilterResponse struct {
	Version uint64                 `json:"version"`
	Filter  visibility.FilterState `json:"filter"`
	Visible []string               `json:"visible"`
	Count   int                    `json:"count"`
}

// UpdateFilter handles PUT /api/graph/filter
func (s *Server) UpdateFilter(w http.ResponseWriter, r *http.Request) {
	var patch state.FilterPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if patch.Direction != nil && !patch.Direction.Valid() {
		writeError(w, http.StatusBadRequest, "direction must be one of both, inbound, outbound")
		return
	}

	snap := s.state.Update(state.ChangeFilter, func(snap state.Snapshot) state.Snapshot {
		return snap.WithNodeFilter(patch)
	})
	writeJSON(w, http.StatusOK, FilterResponse{
		Version: snap.Version,
		Filter:  snap.NodeFilter,
		Visible: snap.Visibility.Visible(),
		Count:   snap.Visibility.Count(),
	})
}

// SelectionRequest is the request body for updating the selection
type SelectionRequest struct {
	IDs []string `json:"ids"`
}

// UpdateSelection handles PUT /api/graph/selection
func (s *Server) UpdateSelection(w http.ResponseWriter, r *http.Request) {
	var req SelectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	snap := s.state.Update(state.ChangeSelection, func(snap state.Snapshot) state.Snapshot {
		return snap.WithSelection(req.IDs)
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"version":   snap.Version,
		"selection": snap.Selection,
	})
}

// ListSnapshots handles GET /api/snapshots
func (s *Server) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	if s.repo == nil {
		writeError(w, http.StatusNotFound, "snapshot storage disabled")
		return
	}

	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit parameter")
			return
		}
		limit = n
	}

	infos, err := s.repo.ListSnapshots(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if infos == nil {
		infos = []graph.SnapshotInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"snapshots": infos,
		"count":     len(infos),
	})
}
