package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Variables is an ordered set of persona trait values. Its decoders accept
// either a keyed object or a list of {key, value} pairs, so callers never
// see which shape the source used.
type Variables struct {
	keys   []string
	values map[string]string
}

// Pair is one entry of the list representation.
type Pair struct {
	Key   string `json:"key" yaml:"key"`
	Value any    `json:"value" yaml:"value"`
}

// NewVariables builds Variables from pairs, keeping their order. A repeated
// key keeps its first position and its last value.
func NewVariables(pairs ...Pair) Variables {
	var v Variables
	for _, p := range pairs {
		v.Set(p.Key, stringify(p.Value))
	}
	return v
}

// Set stores value under key.
func (v *Variables) Set(key, value string) {
	key = strings.TrimSpace(key)
	if key == "" {
		return
	}
	if v.values == nil {
		v.values = make(map[string]string)
	}
	if _, ok := v.values[key]; !ok {
		v.keys = append(v.keys, key)
	}
	v.values[key] = value
}

// Get returns the value stored under key. Lookups are case-insensitive.
func (v Variables) Get(key string) (string, bool) {
	if val, ok := v.values[key]; ok {
		return val, true
	}
	for _, k := range v.keys {
		if strings.EqualFold(k, key) {
			return v.values[k], true
		}
	}
	return "", false
}

// Keys returns the keys in insertion order.
func (v Variables) Keys() []string {
	out := make([]string, len(v.keys))
	copy(out, v.keys)
	return out
}

// Len returns the number of entries.
func (v Variables) Len() int {
	return len(v.keys)
}

// Pairs returns the entries in insertion order.
func (v Variables) Pairs() []Pair {
	out := make([]Pair, 0, len(v.keys))
	for _, k := range v.keys {
		out = append(out, Pair{Key: k, Value: v.values[k]})
	}
	return out
}

// MarshalJSON writes the keyed-object form, preserving order.
func (v Variables) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range v.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(v.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON accepts an object, a list of {key, value} objects, a list
// of [key, value] tuples, or null.
func (v *Variables) UnmarshalJSON(data []byte) error {
	*v = Variables{}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}

	switch trimmed[0] {
	case '{':
		return v.decodeObject(trimmed)
	case '[':
		return v.decodeList(trimmed)
	default:
		return fmt.Errorf("variables: expected object or array, got %.20s", trimmed)
	}
}

func (v *Variables) decodeObject(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("variables: %w", err)
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("variables: %w", err)
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("variables: unexpected key %v", tok)
		}
		var raw any
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("variables: value for %q: %w", key, err)
		}
		v.Set(key, stringify(raw))
	}
	return nil
}

func (v *Variables) decodeList(data []byte) error {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("variables: %w", err)
	}
	for i, item := range items {
		item = bytes.TrimSpace(item)
		if len(item) == 0 {
			continue
		}
		switch item[0] {
		case '{':
			var p Pair
			dec := json.NewDecoder(bytes.NewReader(item))
			dec.UseNumber()
			if err := dec.Decode(&p); err != nil {
				return fmt.Errorf("variables: entry %d: %w", i, err)
			}
			v.Set(p.Key, stringify(p.Value))
		case '[':
			var tuple []any
			dec := json.NewDecoder(bytes.NewReader(item))
			dec.UseNumber()
			if err := dec.Decode(&tuple); err != nil {
				return fmt.Errorf("variables: entry %d: %w", i, err)
			}
			if len(tuple) != 2 {
				return fmt.Errorf("variables: entry %d: expected [key, value]", i)
			}
			v.Set(stringify(tuple[0]), stringify(tuple[1]))
		default:
			return fmt.Errorf("variables: entry %d: expected pair", i)
		}
	}
	return nil
}

// UnmarshalYAML applies the same two-shape rule to YAML input files.
func (v *Variables) UnmarshalYAML(node *yaml.Node) error {
	*v = Variables{}
	switch node.Kind {
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			v.Set(node.Content[i].Value, node.Content[i+1].Value)
		}
		return nil
	case yaml.SequenceNode:
		for i, item := range node.Content {
			switch item.Kind {
			case yaml.MappingNode:
				var p Pair
				if err := item.Decode(&p); err != nil {
					return fmt.Errorf("variables: entry %d: %w", i, err)
				}
				v.Set(p.Key, stringify(p.Value))
			case yaml.SequenceNode:
				if len(item.Content) != 2 {
					return fmt.Errorf("variables: entry %d: expected [key, value]", i)
				}
				v.Set(item.Content[0].Value, item.Content[1].Value)
			default:
				return fmt.Errorf("variables: entry %d: expected pair", i)
			}
		}
		return nil
	case 0:
		return nil
	default:
		if node.Tag == "!!null" {
			return nil
		}
		return fmt.Errorf("variables: expected mapping or sequence")
	}
}

func stringify(raw any) string {
	switch t := raw.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}
