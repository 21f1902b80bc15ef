package domain

import (
	"errors"
	"maps"

	"github.com/goccy/go-json"
)

var ErrTokenInvalid = errors.New("token requires id and src")

// Token is one placed object on the shared canvas. Everything except id and
// src is presentation data the hub never interprets.
type Token struct {
	ID    string
	Src   string
	Attrs map[string]json.RawMessage
}

func (t Token) Validate() error {
	if t.ID == "" || t.Src == "" {
		return ErrTokenInvalid
	}
	return nil
}

// MarshalJSON flattens the attribute bag next to id and src.
func (t Token) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(t.Attrs)+2)
	for k, v := range t.Attrs {
		m[k] = v
	}
	m["id"] = t.ID
	m["src"] = t.Src
	return json.Marshal(m)
}

func (t *Token) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	var tok Token
	if v, ok := raw["id"]; ok {
		// A non-string id leaves ID empty and fails Validate.
		_ = json.Unmarshal(v, &tok.ID)
		delete(raw, "id")
	}
	if v, ok := raw["src"]; ok {
		_ = json.Unmarshal(v, &tok.Src)
		delete(raw, "src")
	}
	if len(raw) > 0 {
		tok.Attrs = raw
	}
	*t = tok
	return nil
}

// Clone returns a copy whose attribute map is not shared with t.
func (t Token) Clone() Token {
	t.Attrs = maps.Clone(t.Attrs)
	return t
}
