// Package entity holds the raw records fetched from a tenant's JSON:API
// resource endpoints and the deduplicating store they are collected into.
package entity

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// ErrMalformed is returned when a payload does not have the shape of an
// entity document.
var ErrMalformed = errors.New("malformed entity payload")

// Key returns the global key of an entity: "{type}-{id}".
func Key(typ, id string) string {
	return typ + "-" + id
}

// Entity is a typed, identified record returned by the resource API.
type Entity struct {
	Type          string         `json:"type"`
	ID            string         `json:"id"`
	Attributes    map[string]any `json:"attributes"`
	Relationships Relationships  `json:"relationships,omitempty"`
}

// Key returns the entity's global key.
func (e Entity) Key() string {
	return Key(e.Type, e.ID)
}

// Attr returns a raw attribute value.
func (e Entity) Attr(name string) (any, bool) {
	v, ok := e.Attributes[name]
	return v, ok && v != nil
}

// StringAttr returns an attribute as a string. Missing, null, empty and
// false values report false; numbers are formatted.
func (e Entity) StringAttr(name string) (string, bool) {
	v, ok := e.Attr(name)
	if !ok {
		return "", false
	}
	switch val := v.(type) {
	case string:
		return val, val != ""
	case bool:
		if !val {
			return "", false
		}
		return "true", true
	case float64:
		if val == 0 {
			return "", false
		}
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case json.Number:
		return val.String(), true
	default:
		return fmt.Sprint(val), true
	}
}

// Validate checks that the entity and all of its references are addressable.
func (e Entity) Validate() error {
	if e.Type == "" || e.ID == "" {
		return fmt.Errorf("%w: entity without type or id (type=%q id=%q)", ErrMalformed, e.Type, e.ID)
	}
	for _, rel := range e.Relationships {
		for _, ref := range rel.Refs {
			if ref.Type == "" || ref.ID == "" {
				return fmt.Errorf("%w: %s relationship %q has a reference without type or id",
					ErrMalformed, e.Key(), rel.Name)
			}
		}
	}
	return nil
}

// Ref points to another entity, which may not have been fetched yet.
type Ref struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Key returns the global key of the referenced entity.
func (r Ref) Key() string {
	return Key(r.Type, r.ID)
}

// Relationship is a named reference from one entity to zero or more others.
type Relationship struct {
	Name string
	Refs []Ref
	// Many is set when the payload carried an array, even an empty one.
	Many bool
}

// Relationships keeps the order in which the relations appeared in the
// payload. Traversal and group assignment depend on that order.
type Relationships []Relationship

// Get returns the named relationship.
func (rs Relationships) Get(name string) (Relationship, bool) {
	for _, rel := range rs {
		if rel.Name == name {
			return rel, true
		}
	}
	return Relationship{}, false
}

// First returns the first reference of the named relationship, if it has
// any data.
func (rs Relationships) First(name string) (Ref, bool) {
	rel, ok := rs.Get(name)
	if !ok || len(rel.Refs) == 0 {
		return Ref{}, false
	}
	return rel.Refs[0], true
}

type relationshipPayload struct {
	Data json.RawMessage `json:"data"`
}

// UnmarshalJSON decodes a relationships object preserving key order.
func (rs *Relationships) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("reading relationships: %w", err)
	}
	if tok == nil {
		*rs = nil
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("%w: relationships must be an object", ErrMalformed)
	}

	var out Relationships
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("reading relationship name: %w", err)
		}
		name, _ := tok.(string)

		var payload relationshipPayload
		if err := dec.Decode(&payload); err != nil {
			return fmt.Errorf("decoding relationship %q: %w", name, err)
		}

		rel, err := decodeRelationship(name, payload.Data)
		if err != nil {
			return err
		}
		out = append(out, rel)
	}
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("reading relationships: %w", err)
	}

	*rs = out
	return nil
}

func decodeRelationship(name string, raw json.RawMessage) (Relationship, error) {
	rel := Relationship{Name: name}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return rel, nil
	}

	if raw[0] == '[' {
		rel.Many = true
		if err := json.Unmarshal(raw, &rel.Refs); err != nil {
			return rel, fmt.Errorf("%w: relationship %q: %v", ErrMalformed, name, err)
		}
		return rel, nil
	}

	var ref Ref
	if err := json.Unmarshal(raw, &ref); err != nil {
		return rel, fmt.Errorf("%w: relationship %q: %v", ErrMalformed, name, err)
	}
	rel.Refs = []Ref{ref}
	return rel, nil
}

// MarshalJSON writes the relationships back in JSON:API shape, in order.
func (rs Relationships) MarshalJSON() ([]byte, error) {
	if rs == nil {
		return []byte("null"), nil
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, rel := range rs {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(rel.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteString(`:{"data":`)

		var data any
		switch {
		case rel.Many:
			refs := rel.Refs
			if refs == nil {
				refs = []Ref{}
			}
			data = refs
		case len(rel.Refs) > 0:
			data = rel.Refs[0]
		}
		encoded, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		buf.Write(encoded)
		buf.WriteByte('}')
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
