package model

import (
	"log/slog"

	"github.com/systemshift/apigraph/internal/entity"
	"github.com/systemshift/apigraph/internal/logger"
)

// edgeAlpha is the opacity of edge candidates, 50%.
const edgeAlpha = 0x80

// Transformer builds models from entity sets.
type Transformer struct {
	palette Palette
	logger  *slog.Logger
}

// NewTransformer creates a Transformer. A nil logger discards output.
func NewTransformer(log *slog.Logger) *Transformer {
	if log == nil {
		log = logger.Discard()
	}
	return &Transformer{palette: Spectral(), logger: log}
}

// Build is shorthand for NewTransformer(nil).Build.
func Build(entities []entity.Entity) *Model {
	return NewTransformer(nil).Build(entities)
}

// Build converts entities, in the given order, into a model. The order
// decides group ordinals and therefore colors: the same entities in the same
// order always produce the same model.
func (t *Transformer) Build(entities []entity.Entity) *Model {
	index := make(map[string]entity.Entity, len(entities))
	for _, e := range entities {
		if _, ok := index[e.Key()]; !ok {
			index[e.Key()] = e
		}
	}

	groups := NewGroupIndex()
	groupOf := make([]string, len(entities))
	for i, e := range entities {
		group, err := GroupOf(e, index)
		if err != nil {
			t.logger.Warn("group resolution failed, grouping by type", "entity", e.Key(), "error", err)
		}
		groupOf[i] = group
		groups.Add(group)
	}

	colors := make([]string, groups.Count())
	for i := range colors {
		colors[i] = t.palette.Color(i, groups.Count())
	}

	m := &Model{Nodes: make([]Node, 0, len(entities))}
	sizes := make([]int, groups.Count())
	seen := make(map[string]bool, len(entities))
	for i, e := range entities {
		if seen[e.Key()] {
			continue
		}
		seen[e.Key()] = true

		ord, _ := groups.Ordinal(groupOf[i])
		sizes[ord]++
		m.Nodes = append(m.Nodes, t.node(e, groupOf[i], colors[ord]))
	}

	m.Edges = Materialize(m.Nodes)

	m.Groups = make([]Group, groups.Count())
	for i, key := range groups.Keys() {
		m.Groups[i] = Group{Key: key, Ordinal: i, Color: colors[i], Size: sizes[i]}
	}

	t.logger.Debug("model built", "nodes", len(m.Nodes), "edges", len(m.Edges), "groups", len(m.Groups))
	return m
}

func (t *Transformer) node(e entity.Entity, group, color string) Node {
	n := Node{
		ID:         e.Key(),
		Type:       e.Type,
		Group:      group,
		IsRoot:     IsRoot(e),
		Name:       Label(e),
		Display:    DisplayName(e),
		Color:      color,
		Attributes: e.Attributes,
		Links:      []Edge{},
	}

	edgeColor := withAlpha(color, edgeAlpha)
	for _, rel := range e.Relationships {
		for _, ref := range rel.Refs {
			n.Links = append(n.Links, Edge{
				Source: n.ID,
				Target: ref.Key(),
				Label:  rel.Name,
				Color:  edgeColor,
			})
		}
	}
	return n
}
