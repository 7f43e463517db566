// ABOUTME: JSON codec for parts with a doc_type discriminator
// ABOUTME: Store adapters persist parts through Marshal/Unmarshal

package part

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownKind is returned when a stored document carries an unknown doc_type
var ErrUnknownKind = errors.New("unknown part kind")

type envelope struct {
	DocType Kind `json:"doc_type"`
}

// Marshal encodes a part as a JSON object whose first field is doc_type
func Marshal(p Part) ([]byte, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", p.Kind(), err)
	}
	head := fmt.Sprintf(`{"doc_type":%q`, p.Kind())
	if len(body) <= 2 {
		return []byte(head + "}"), nil
	}
	out := make([]byte, 0, len(head)+len(body))
	out = append(out, head...)
	out = append(out, ',')
	out = append(out, body[1:]...)
	return out, nil
}

// New returns an empty part of the given kind
func New(kind Kind) (Part, error) {
	switch kind {
	case KindCover:
		return &Cover{}, nil
	case KindPreamble:
		return &Preamble{}, nil
	case KindArticle:
		return &Article{}, nil
	case KindDefinition:
		return &Definition{}, nil
	case KindContentsTable:
		return &ContentsTable{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
}

// Unmarshal decodes a part previously encoded with Marshal
func Unmarshal(data []byte) (Part, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode doc_type: %w", err)
	}
	p, err := New(env.DocType)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("decode %s: %w", env.DocType, err)
	}
	return p, nil
}

// Clone returns a deep copy of p
func Clone(p Part) (Part, error) {
	data, err := Marshal(p)
	if err != nil {
		return nil, err
	}
	return Unmarshal(data)
}
