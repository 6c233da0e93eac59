// Package visibility computes which nodes of a rendered graph are shown for a
// given filter state.
//
// A node passes the base filter when its id is among the selected ids or,
// without ids, when its label or its display name starts with the filter
// text ignoring case. With
// connectivity enabled every passing node also reveals its predecessors,
// successors or both, depending on the direction. Each revealed node must be
// confirmed by a shortest path from the seed shorter than MaxPathDistance.
// The bound only separates "connected" from "not connected"; it is not a hop
// limit.
package visibility

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/systemshift/apigraph/internal/logger"
)

// Direction selects which neighbourhood connectivity expansion reveals.
type Direction string

const (
	Both     Direction = "both"
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

// Valid reports whether d is a known direction. The empty direction reads as
// Both.
func (d Direction) Valid() bool {
	switch d {
	case "", Both, Inbound, Outbound:
		return true
	}
	return false
}

func (d Direction) normalize() Direction {
	if d == "" {
		return Both
	}
	return d
}

const (
	// MaxPathDistance bounds the shortest-path confirmation of revealed
	// nodes. Any real path is far shorter.
	MaxPathDistance = 10_000_000

	// NoPath is the distance reported between disconnected nodes.
	NoPath = math.MaxInt
)

// ErrNoLabel is wrapped when a text filter meets a node without label.
var ErrNoLabel = errors.New("node has no label")

// FilterEvaluationError reports a node whose filter evaluation failed. The
// node is hidden.
type FilterEvaluationError struct {
	NodeID string
	Err    error
}

// Error implements the error interface.
func (e *FilterEvaluationError) Error() string {
	return fmt.Sprintf("evaluating filter on node %s: %v", e.NodeID, e.Err)
}

// Unwrap returns the underlying cause.
func (e *FilterEvaluationError) Unwrap() error {
	return e.Err
}

// FilterState is the user's filter input. A nil IDs means no id selection.
type FilterState struct {
	Filter    string    `json:"filter"`
	IDs       []string  `json:"ids,omitempty"`
	Connected bool      `json:"connected"`
	Direction Direction `json:"direction"`
}

// Trivial reports whether the base filter shows everything.
func (s FilterState) Trivial() bool {
	return s.Filter == "" && len(s.IDs) == 0
}

// Result maps node ids to their visibility.
type Result map[string]bool

// Visible returns the ids of visible nodes, sorted.
func (r Result) Visible() []string {
	out := make([]string, 0, len(r))
	for id, ok := range r {
		if ok {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Count returns the number of visible nodes.
func (r Result) Count() int {
	n := 0
	for _, ok := range r {
		if ok {
			n++
		}
	}
	return n
}

// Filter evaluates filter states over graphs. It holds no state between
// calls.
type Filter struct {
	logger *slog.Logger
}

// New creates a Filter. A nil logger discards output.
func New(log *slog.Logger) *Filter {
	if log == nil {
		log = logger.Discard()
	}
	return &Filter{logger: log}
}

// Compute is shorthand for New(nil).Compute.
func Compute(g *Graph, s FilterState) Result {
	return New(nil).Compute(g, s)
}

// Compute returns the visibility of every node of g under s. It is pure:
// equal inputs give equal results.
func (f *Filter) Compute(g *Graph, s FilterState) Result {
	visible := make([]bool, g.Len())

	var ids map[string]bool
	if len(s.IDs) > 0 {
		ids = make(map[string]bool, len(s.IDs))
		for _, id := range s.IDs {
			ids[id] = true
			if !g.has(id) {
				f.logger.Debug("filter id not in graph", "id", id)
			}
		}
	}
	prefix := strings.ToLower(s.Filter)

	var seeds []int
	for i, n := range g.nodes {
		ok, err := matchNode(n, ids, prefix)
		if err != nil {
			f.logger.Debug("hiding node", "error", err)
		}
		if ok {
			visible[i] = true
			seeds = append(seeds, i)
		}
	}

	if s.Connected && !s.Trivial() {
		f.expand(g, seeds, s.Direction.normalize(), visible)
	}

	out := make(Result, g.Len())
	for i, n := range g.nodes {
		out[n.ID] = visible[i]
	}
	return out
}

// matchNode applies the base filter to one node. Any failure, including a
// panic, hides the node.
func matchNode(n Node, ids map[string]bool, prefix string) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			err = &FilterEvaluationError{NodeID: n.ID, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	switch {
	case ids != nil:
		return ids[n.ID], nil
	case prefix == "":
		return true, nil
	case n.Label == "":
		return false, &FilterEvaluationError{NodeID: n.ID, Err: ErrNoLabel}
	}
	if strings.HasPrefix(strings.ToLower(n.Label), prefix) {
		return true, nil
	}
	return n.Name != "" && strings.HasPrefix(strings.ToLower(n.Name), prefix), nil
}

func (f *Filter) expand(g *Graph, seeds []int, dir Direction, visible []bool) {
	for _, seed := range seeds {
		reach := []int{seed}
		if dir == Both || dir == Inbound {
			reach = append(reach, g.closure(g.nodes[seed].ID, g.in)...)
		}
		if dir == Both || dir == Outbound {
			reach = append(reach, g.closure(g.nodes[seed].ID, g.out)...)
		}

		allowed := make([]bool, g.Len())
		for _, n := range reach {
			allowed[n] = true
		}

		revealed := 0
		for _, goal := range reach {
			if visible[goal] {
				continue
			}
			if d := g.distance(seed, goal, allowed); d < MaxPathDistance {
				visible[goal] = true
				revealed++
			}
		}
		f.logger.Debug("connectivity expanded", "seed", g.nodes[seed].ID, "direction", string(dir), "revealed", revealed)
	}
}
