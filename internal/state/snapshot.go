// Package state holds the application state shared by the HTTP API and the
// event stream: the session, the current graph model, the filter and the
// selection. Snapshots are values; every change produces a new snapshot
// through a functional setter.
package state

import (
	"slices"

	"github.com/systemshift/apigraph/internal/auth"
	"github.com/systemshift/apigraph/internal/fetch"
	"github.com/systemshift/apigraph/internal/model"
	"github.com/systemshift/apigraph/internal/visibility"
)

// Snapshot is one immutable version of the application state. Setters never
// modify the receiver.
type Snapshot struct {
	Version    uint64
	Auth       auth.Session
	NodeData   *model.Model
	NodeFilter visibility.FilterState
	Visibility visibility.Result
	Selection  []string
	Source     string
	Report     *fetch.Report
	Error      string
}

// FilterPatch updates the fields of a filter state that are set. A patch
// with an empty, non-nil IDs clears the id selection.
type FilterPatch struct {
	Filter    *string               `json:"filter,omitempty"`
	IDs       *[]string             `json:"ids,omitempty"`
	Connected *bool                 `json:"connected,omitempty"`
	Direction *visibility.Direction `json:"direction,omitempty"`
}

// Apply merges p into s.
func (p FilterPatch) Apply(s visibility.FilterState) visibility.FilterState {
	if p.Filter != nil {
		s.Filter = *p.Filter
	}
	if p.IDs != nil {
		s.IDs = slices.Clone(*p.IDs)
	}
	if p.Connected != nil {
		s.Connected = *p.Connected
	}
	if p.Direction != nil {
		s.Direction = *p.Direction
	}
	return s
}

// WithNodeData replaces the graph model. The selection is cleared and
// visibility recomputed for the new topology.
func (s Snapshot) WithNodeData(m *model.Model, source string, report *fetch.Report) Snapshot {
	s.NodeData = m
	s.Source = source
	s.Report = report
	s.Selection = nil
	s.Visibility = computeVisibility(m, s.NodeFilter)
	return s
}

// WithNodeFilter merges p into the filter and recomputes visibility.
func (s Snapshot) WithNodeFilter(p FilterPatch) Snapshot {
	s.NodeFilter = p.Apply(s.NodeFilter)
	s.Visibility = computeVisibility(s.NodeData, s.NodeFilter)
	return s
}

// WithSelection replaces the selection.
func (s Snapshot) WithSelection(ids []string) Snapshot {
	s.Selection = slices.Clone(ids)
	return s
}

// WithAuth replaces the session and clears any error.
func (s Snapshot) WithAuth(a auth.Session) Snapshot {
	s.Auth = a
	s.Error = ""
	return s
}

// WithAccessToken replaces only the access token. An empty token logs the
// session out while keeping the tenant.
func (s Snapshot) WithAccessToken(token string) Snapshot {
	s.Auth.AccessToken = token
	return s
}

// WithError records a user-visible error message.
func (s Snapshot) WithError(msg string) Snapshot {
	s.Error = msg
	return s
}

// Visible reports whether the node with id is currently visible. Without a
// model nothing is visible.
func (s Snapshot) Visible(id string) bool {
	return s.Visibility[id]
}

// Topology returns the filter's view of m.
func Topology(m *model.Model) *visibility.Graph {
	if m == nil {
		return visibility.NewGraph(nil, nil)
	}

	nodes := make([]visibility.Node, len(m.Nodes))
	for i, n := range m.Nodes {
		nodes[i] = visibility.Node{ID: n.ID, Label: n.Name, Name: n.Display}
	}
	edges := make([]visibility.Edge, len(m.Edges))
	for i, e := range m.Edges {
		edges[i] = visibility.Edge{Source: e.Source, Target: e.Target}
	}
	return visibility.NewGraph(nodes, edges)
}

func computeVisibility(m *model.Model, f visibility.FilterState) visibility.Result {
	if m == nil {
		return visibility.Result{}
	}
	return visibility.Compute(Topology(m), f)
}
