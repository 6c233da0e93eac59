package model

import (
	"errors"
	"fmt"
	"strings"

	"github.com/systemshift/apigraph/internal/entity"
)

// ErrDanglingReference is wrapped by GroupResolutionError when a grouping
// relationship points at an entity that was never fetched.
var ErrDanglingReference = errors.New("dangling reference")

// GroupResolutionError reports a grouping rule that could not be applied.
// The entity falls back to its own type as group.
type GroupResolutionError struct {
	Key      string
	Relation string
	Target   string
	Err      error
}

// Error implements the error interface.
func (e *GroupResolutionError) Error() string {
	return fmt.Sprintf("resolving group of %s via %s -> %s: %v", e.Key, e.Relation, e.Target, e.Err)
}

// Unwrap returns the underlying cause.
func (e *GroupResolutionError) Unwrap() error {
	return e.Err
}

// Entity kinds that matter for grouping and root classification, in
// canonical form (see kind).
const (
	kindProject           = "project"
	kindApplication       = "application"
	kindIDP               = "idp"
	kindOnPremDataPlane   = "onpremdataplane"
	kindActivation        = "activation"
	kindAPIKeyAuthRule    = "apikeyauthrule"
	kindAuthRule          = "authrule"
	kindOAuthRule         = "oauthrule"
	kindTransportSecurity = "transportsecurity"
	kindOperation         = "operation"
)

var selfGroupingKinds = map[string]bool{
	kindProject:         true,
	kindApplication:     true,
	kindIDP:             true,
	kindOnPremDataPlane: true,
}

var rootKinds = map[string]bool{
	kindProject:           true,
	kindApplication:       true,
	kindActivation:        true,
	kindAPIKeyAuthRule:    true,
	kindAuthRule:          true,
	kindOAuthRule:         true,
	kindTransportSecurity: true,
	kindOnPremDataPlane:   true,
	kindIDP:               true,
}

// kind canonicalizes an entity type: "on-prem-data-plane", "onPremDataPlane"
// and "onpremdataplane" are the same kind.
func kind(typ string) string {
	return strings.ToLower(strings.NewReplacer("-", "", "_", "").Replace(typ))
}

// IsRoot reports whether e is of one of the designated root kinds.
func IsRoot(e entity.Entity) bool {
	return rootKinds[kind(e.Type)]
}

// DisplayName returns the human label of an entity without its type prefix.
func DisplayName(e entity.Entity) string {
	if name, ok := e.StringAttr("name"); ok {
		return name
	}
	if kind(e.Type) == kindOperation {
		if op, ok := e.StringAttr("operationId"); ok {
			return op
		}
	}
	return e.ID
}

// Label returns "(type) name".
func Label(e entity.Entity) string {
	return "(" + e.Type + ") " + DisplayName(e)
}

// GroupOf assigns e to a topological cluster. Rules are tried in order and
// the first match wins:
//
//  1. project, application, idp and on-prem data plane entities group by
//     their own id;
//  2. entities with an application relationship group by that application;
//  3. entities with a projectId attribute group by it;
//  4. entities with an apiproxy relationship group by the proxy's projectId;
//  5. everything else groups by its type.
//
// When rule 2 or 4 refers to an entity missing from index, the type is used
// and a *GroupResolutionError is returned alongside it.
func GroupOf(e entity.Entity, index map[string]entity.Entity) (string, error) {
	if selfGroupingKinds[kind(e.Type)] {
		return e.ID, nil
	}

	if ref, ok := e.Relationships.First("application"); ok {
		target, ok := index[ref.Key()]
		if !ok {
			return e.Type, &GroupResolutionError{Key: e.Key(), Relation: "application", Target: ref.Key(), Err: ErrDanglingReference}
		}
		return target.ID, nil
	}

	if projectID, ok := e.StringAttr("projectId"); ok {
		return projectID, nil
	}

	for _, rel := range []string{"apiproxy", "apiProxy"} {
		ref, ok := e.Relationships.First(rel)
		if !ok {
			continue
		}
		target, ok := index[ref.Key()]
		if !ok {
			return e.Type, &GroupResolutionError{Key: e.Key(), Relation: rel, Target: ref.Key(), Err: ErrDanglingReference}
		}
		projectID, ok := target.StringAttr("projectId")
		if !ok {
			return e.Type, &GroupResolutionError{Key: e.Key(), Relation: rel, Target: ref.Key(),
				Err: errors.New("referenced api proxy has no projectId")}
		}
		return projectID, nil
	}

	return e.Type, nil
}

// GroupIndex assigns zero-based ordinals to groups in first-seen order.
type GroupIndex struct {
	ordinals map[string]int
	keys     []string
}

// NewGroupIndex creates an empty index.
func NewGroupIndex() *GroupIndex {
	return &GroupIndex{ordinals: make(map[string]int)}
}

// Add registers group if it is new and returns its ordinal.
func (g *GroupIndex) Add(group string) int {
	if ord, ok := g.ordinals[group]; ok {
		return ord
	}
	ord := len(g.keys)
	g.ordinals[group] = ord
	g.keys = append(g.keys, group)
	return ord
}

// Ordinal returns the ordinal of group.
func (g *GroupIndex) Ordinal(group string) (int, bool) {
	ord, ok := g.ordinals[group]
	return ord, ok
}

// Count returns the number of distinct groups.
func (g *GroupIndex) Count() int {
	return len(g.keys)
}

// Keys returns the groups in ordinal order.
func (g *GroupIndex) Keys() []string {
	return append([]string(nil), g.keys...)
}
