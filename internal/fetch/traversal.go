package fetch

import (
	"net/url"
	"strings"

	"github.com/systemshift/apigraph/internal/entity"
)

// job is one pending entity request.
type job struct {
	url string
	ref string // global key this request is expected to return; empty for the root
}

// traversal is the bookkeeping of one fetch session. It is only touched by
// the coordinating goroutine.
type traversal struct {
	// claimed holds every key that has been received or requested. A claimed
	// key is never requested again, which is what breaks cycles.
	claimed map[string]bool

	roots    []entity.Entity
	byRef    map[string][]entity.Entity
	known    map[string]entity.Entity
	arrivals []entity.Entity
}

func newTraversal() *traversal {
	return &traversal{
		claimed: make(map[string]bool),
		byRef:   make(map[string][]entity.Entity),
		known:   make(map[string]entity.Entity),
	}
}

// record ingests a response and returns the requests for references that
// nobody has claimed yet, in payload order.
func (t *traversal) record(j job, doc *entity.Document) []job {
	if j.ref == "" {
		t.roots = doc.Entities
	} else {
		t.byRef[j.ref] = doc.Entities
	}

	for _, e := range doc.Entities {
		key := e.Key()
		t.claimed[key] = true
		if _, ok := t.known[key]; !ok {
			t.known[key] = e
			t.arrivals = append(t.arrivals, e)
		}
	}

	var children []job
	for _, e := range doc.Entities {
		for _, rel := range e.Relationships {
			for _, ref := range rel.Refs {
				key := ref.Key()
				if t.claimed[key] {
					continue
				}
				t.claimed[key] = true
				children = append(children, job{
					url: childURL(j.url, doc.List, e.ID, rel.Name, ref.ID),
					ref: key,
				})
			}
		}
	}
	return children
}

// replay commits the received entities into a store in the order a
// sequential depth-first walk would have first seen them: root payloads in
// response order, each followed by its relationships in declared order.
// Entities only reachable through unusual responses are appended last, in
// arrival order.
func (t *traversal) replay() *entity.Store {
	store := entity.NewStore()

	stack := make([]entity.Entity, 0, len(t.known))
	push := func(es []entity.Entity) {
		for i := len(es) - 1; i >= 0; i-- {
			stack = append(stack, es[i])
		}
	}

	walk := func(start []entity.Entity) {
		push(start)
		for len(stack) > 0 {
			e := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if !store.Put(e) {
				continue
			}

			var next []entity.Entity
			for _, rel := range e.Relationships {
				for _, ref := range rel.Refs {
					key := ref.Key()
					if store.Has(key) {
						continue
					}
					if payloads, ok := t.byRef[key]; ok {
						next = append(next, payloads...)
					} else if known, ok := t.known[key]; ok {
						next = append(next, known)
					}
				}
			}
			push(next)
		}
	}

	walk(t.roots)
	walk(t.arrivals)
	return store
}

// childURL builds the URL of a related entity. Under a collection endpoint
// the parent id has to be inserted first.
func childURL(parent string, list bool, parentID, relation, childID string) string {
	base := strings.TrimSuffix(parent, "/")
	if list {
		return base + "/" + url.PathEscape(parentID) + "/" + url.PathEscape(relation) + "/" + url.PathEscape(childID)
	}
	return base + "/" + url.PathEscape(relation) + "/" + url.PathEscape(childID)
}
