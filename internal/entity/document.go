package entity

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// Document is a decoded JSON:API response body.
type Document struct {
	Entities []Entity
	// List is set when data was an array, i.e. the request targeted a
	// collection endpoint. Child URLs are built differently in that case.
	List bool
}

type envelope struct {
	Data json.RawMessage `json:"data"`
}

// DecodeDocument parses a response body of the shape {data: Entity | Entity[]}.
// Every entity is validated; one malformed entity rejects the document.
func DecodeDocument(r io.Reader) (*Document, error) {
	var env envelope
	if err := json.NewDecoder(r).Decode(&env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	data := bytes.TrimSpace(env.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, fmt.Errorf("%w: document has no data", ErrMalformed)
	}

	doc := &Document{}
	if data[0] == '[' {
		doc.List = true
		if err := json.Unmarshal(data, &doc.Entities); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	} else {
		var e Entity
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		doc.Entities = []Entity{e}
	}

	for _, e := range doc.Entities {
		if err := e.Validate(); err != nil {
			return nil, err
		}
	}
	return doc, nil
}
