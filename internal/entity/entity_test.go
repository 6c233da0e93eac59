package entity

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey(t *testing.T) {
	assert.Equal(t, "project-42", Key("project", "42"))
	assert.Equal(t, "apiproxy-7", Ref{Type: "apiproxy", ID: "7"}.Key())
	assert.Equal(t, "operation-op1", Entity{Type: "operation", ID: "op1"}.Key())
}

func TestRelationshipsPreserveOrder(t *testing.T) {
	body := `{
		"type": "application",
		"id": "app1",
		"attributes": {"name": "Billing"},
		"relationships": {
			"zeta":    {"data": {"type": "project", "id": "p1"}},
			"alpha":   {"data": [{"type": "apikey", "id": "k1"}, {"type": "apikey", "id": "k2"}]},
			"middle":  {"data": null},
			"linksOnly": {"links": {"self": "/x"}},
			"empty":   {"data": []}
		}
	}`

	var e Entity
	require.NoError(t, json.Unmarshal([]byte(body), &e))
	require.Len(t, e.Relationships, 5)

	names := make([]string, 0, len(e.Relationships))
	for _, rel := range e.Relationships {
		names = append(names, rel.Name)
	}
	assert.Equal(t, []string{"zeta", "alpha", "middle", "linksOnly", "empty"}, names)

	zeta, ok := e.Relationships.Get("zeta")
	require.True(t, ok)
	assert.False(t, zeta.Many)
	assert.Equal(t, []Ref{{Type: "project", ID: "p1"}}, zeta.Refs)

	alpha, _ := e.Relationships.Get("alpha")
	assert.True(t, alpha.Many)
	assert.Len(t, alpha.Refs, 2)

	middle, _ := e.Relationships.Get("middle")
	assert.Empty(t, middle.Refs)

	empty, _ := e.Relationships.Get("empty")
	assert.True(t, empty.Many)
	assert.Empty(t, empty.Refs)

	_, ok = e.Relationships.First("middle")
	assert.False(t, ok)
	first, ok := e.Relationships.First("alpha")
	require.True(t, ok)
	assert.Equal(t, "k1", first.ID)
}

func TestRelationshipsRoundTripKeepsShape(t *testing.T) {
	in := `{"type":"a","id":"1","attributes":{},"relationships":{"one":{"data":{"type":"b","id":"2"}},"many":{"data":[]},"none":{"data":null}}}`

	var e Entity
	require.NoError(t, json.Unmarshal([]byte(in), &e))

	out, err := json.Marshal(e)
	require.NoError(t, err)
	assert.JSONEq(t, in, string(out))
	assert.Less(t, strings.Index(string(out), `"one"`), strings.Index(string(out), `"many"`))
}

func TestNullRelationships(t *testing.T) {
	var e Entity
	require.NoError(t, json.Unmarshal([]byte(`{"type":"a","id":"1","attributes":{},"relationships":null}`), &e))
	assert.Nil(t, e.Relationships)
}

func TestStringAttr(t *testing.T) {
	e := Entity{Attributes: map[string]any{
		"name":      "Users",
		"blank":     "",
		"projectId": float64(12),
		"zero":      float64(0),
		"nothing":   nil,
		"flag":      false,
	}}

	tests := []struct {
		attr   string
		want   string
		wantOK bool
	}{
		{"name", "Users", true},
		{"blank", "", false},
		{"projectId", "12", true},
		{"zero", "", false},
		{"nothing", "", false},
		{"flag", "", false},
		{"missing", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.attr, func(t *testing.T) {
			got, ok := e.StringAttr(tt.attr)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeDocument(t *testing.T) {
	t.Run("single", func(t *testing.T) {
		doc, err := DecodeDocument(strings.NewReader(`{"data":{"type":"project","id":"p1","attributes":{"name":"P"}}}`))
		require.NoError(t, err)
		assert.False(t, doc.List)
		require.Len(t, doc.Entities, 1)
		assert.Equal(t, "project-p1", doc.Entities[0].Key())
	})

	t.Run("list", func(t *testing.T) {
		doc, err := DecodeDocument(strings.NewReader(`{"data":[{"type":"project","id":"p1","attributes":{}},{"type":"project","id":"p2","attributes":{}}]}`))
		require.NoError(t, err)
		assert.True(t, doc.List)
		assert.Len(t, doc.Entities, 2)
	})

	t.Run("empty list", func(t *testing.T) {
		doc, err := DecodeDocument(strings.NewReader(`{"data":[]}`))
		require.NoError(t, err)
		assert.True(t, doc.List)
		assert.Empty(t, doc.Entities)
	})

	malformed := map[string]string{
		"not json":        `<html>`,
		"no data":         `{"errors":[]}`,
		"null data":       `{"data":null}`,
		"missing id":      `{"data":{"type":"project","attributes":{}}}`,
		"bad ref":         `{"data":{"type":"a","id":"1","relationships":{"r":{"data":{"type":"b"}}}}}`,
		"scalar rel":      `{"data":{"type":"a","id":"1","relationships":{"r":{"data":5}}}}`,
		"array rels":      `{"data":{"type":"a","id":"1","relationships":[]}}`,
		"one bad in list": `{"data":[{"type":"a","id":"1"},{"id":"2"}]}`,
	}
	for name, body := range malformed {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeDocument(strings.NewReader(body))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}
