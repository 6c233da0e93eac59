// Package model turns a fetched entity set into the node/edge model consumed
// by rendering surfaces: every entity becomes a node with a group, a color
// and a label, and every relationship reference becomes an edge candidate.
package model

import (
	"sort"
)

// Node is the rendering-facing projection of an entity.
type Node struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Group      string         `json:"group"`
	IsRoot     bool           `json:"isRoot"`
	Name       string         `json:"name"`
	Display    string         `json:"displayName"`
	Color      string         `json:"color"`
	Depth      int            `json:"depth,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
	Links      []Edge         `json:"links"`
}

// Edge is a directed relationship between two nodes. SourceColor and
// TargetColor are only set once an edge has been materialized.
type Edge struct {
	Source      string `json:"source"`
	Target      string `json:"target"`
	Label       string `json:"label"`
	Color       string `json:"color,omitempty"`
	SourceColor string `json:"sourceColor,omitempty"`
	TargetColor string `json:"targetColor,omitempty"`
}

// Group describes one entry of the group index.
type Group struct {
	Key     string `json:"key"`
	Ordinal int    `json:"ordinal"`
	Color   string `json:"color"`
	Size    int    `json:"size"`
}

// Model is the complete node/edge model of one entity set.
type Model struct {
	Nodes  []Node  `json:"nodes"`
	Edges  []Edge  `json:"edges"`
	Groups []Group `json:"groups"`
}

// Node returns the node with the given id.
func (m *Model) Node(id string) (Node, bool) {
	for _, n := range m.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// Materialize returns the edges between the given nodes. Links whose target
// is not among them are dropped.
func Materialize(nodes []Node) []Edge {
	byID := make(map[string]*Node, len(nodes))
	for i := range nodes {
		byID[nodes[i].ID] = &nodes[i]
	}

	edges := make([]Edge, 0, len(nodes))
	for _, n := range nodes {
		for _, l := range n.Links {
			target, ok := byID[l.Target]
			if !ok {
				continue
			}
			l.SourceColor = n.Color
			l.TargetColor = target.Color
			edges = append(edges, l)
		}
	}
	return edges
}

// Stats summarizes a model.
type Stats struct {
	TotalNodes  int            `json:"total_nodes"`
	TotalEdges  int            `json:"total_edges"`
	TotalGroups int            `json:"total_groups"`
	RootNodes   int            `json:"root_nodes"`
	NodesByType map[string]int `json:"nodes_by_type,omitempty"`
}

// Stats computes counts over the model.
func (m *Model) Stats() Stats {
	s := Stats{
		TotalNodes:  len(m.Nodes),
		TotalEdges:  len(m.Edges),
		TotalGroups: len(m.Groups),
		NodesByType: make(map[string]int),
	}
	for _, n := range m.Nodes {
		s.NodesByType[n.Type]++
		if n.IsRoot {
			s.RootNodes++
		}
	}
	return s
}

// Types returns the distinct node types, sorted.
func (m *Model) Types() []string {
	seen := make(map[string]bool)
	var out []string
	for _, n := range m.Nodes {
		if !seen[n.Type] {
			seen[n.Type] = true
			out = append(out, n.Type)
		}
	}
	sort.Strings(out)
	return out
}
