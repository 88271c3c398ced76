package mapping

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format selects the syntax of a mapping source.
type Format int

const (
	FormatJSON Format = iota
	FormatYAML
)

func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatYAML:
		return "yaml"
	default:
		return "unknown"
	}
}

// FormatForPath picks the format from a file extension: .yaml and .yml are
// YAML, everything else is JSON.
func FormatForPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

type valueKind int

const (
	kindOther valueKind = iota
	kindString
	kindObject
)

func (k valueKind) String() string {
	switch k {
	case kindString:
		return "string"
	case kindObject:
		return "object"
	default:
		return "non-string value"
	}
}

// node is a decoded value with object key order preserved. Only strings and
// objects matter to the loader; everything else is kindOther.
type node struct {
	kind    valueKind
	str     string
	members []member
}

type member struct {
	key      string
	keyIsStr bool
	value    node
}

// invalidTopLevel signals that the source parsed but is not an object.
type invalidTopLevel struct {
	kind valueKind
}

func (e invalidTopLevel) Error() string {
	return fmt.Sprintf("top-level value is a %s, expected an object", e.kind)
}

func decode(data []byte, format Format) (node, error) {
	var (
		root node
		err  error
	)
	switch format {
	case FormatYAML:
		root, err = decodeYAML(data)
	default:
		root, err = decodeJSON(data)
	}
	if err != nil {
		return node{}, err
	}
	if root.kind != kindObject {
		return node{}, invalidTopLevel{kind: root.kind}
	}
	return root, nil
}

// decodeJSON walks the token stream so that object members keep source order,
// which encoding/json's map decoding would lose.
func decodeJSON(data []byte) (node, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	root, err := decodeJSONValue(dec)
	if err != nil {
		return node{}, err
	}
	if _, err := dec.Token(); err != io.EOF {
		if err == nil {
			return node{}, fmt.Errorf("unexpected data after top-level value at offset %d", dec.InputOffset())
		}
		return node{}, err
	}
	return root, nil
}

func decodeJSONValue(dec *json.Decoder) (node, error) {
	tok, err := dec.Token()
	if err != nil {
		if err == io.EOF {
			return node{}, io.ErrUnexpectedEOF
		}
		return node{}, err
	}

	switch v := tok.(type) {
	case string:
		return node{kind: kindString, str: v}, nil
	case json.Delim:
		switch v {
		case '{':
			n := node{kind: kindObject}
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return node{}, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return node{}, fmt.Errorf("object key is %T, expected string", keyTok)
				}
				value, err := decodeJSONValue(dec)
				if err != nil {
					return node{}, err
				}
				n.members = append(n.members, member{key: key, keyIsStr: true, value: value})
			}
			if _, err := dec.Token(); err != nil {
				return node{}, err
			}
			return n, nil
		case '[':
			for dec.More() {
				if _, err := decodeJSONValue(dec); err != nil {
					return node{}, err
				}
			}
			if _, err := dec.Token(); err != nil {
				return node{}, err
			}
			return node{kind: kindOther}, nil
		}
		return node{}, fmt.Errorf("unexpected delimiter %q", v)
	default:
		// numbers, booleans and null
		return node{kind: kindOther}, nil
	}
}

func decodeYAML(data []byte) (node, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return node{}, err
	}
	if doc.Kind == 0 {
		// empty document
		return node{kind: kindOther}, nil
	}
	root := &doc
	if doc.Kind == yaml.DocumentNode && len(doc.Content) > 0 {
		root = doc.Content[0]
	}
	return convertYAML(root, 0), nil
}

const maxYAMLDepth = 64

func convertYAML(n *yaml.Node, depth int) node {
	for n.Kind == yaml.AliasNode && n.Alias != nil {
		n = n.Alias
	}
	if depth > maxYAMLDepth {
		return node{kind: kindOther}
	}

	switch n.Kind {
	case yaml.ScalarNode:
		if n.ShortTag() == "!!str" {
			return node{kind: kindString, str: n.Value}
		}
		return node{kind: kindOther}
	case yaml.MappingNode:
		out := node{kind: kindObject}
		for i := 0; i+1 < len(n.Content); i += 2 {
			k := n.Content[i]
			for k.Kind == yaml.AliasNode && k.Alias != nil {
				k = k.Alias
			}
			out.members = append(out.members, member{
				key:      k.Value,
				keyIsStr: k.Kind == yaml.ScalarNode && k.ShortTag() == "!!str",
				value:    convertYAML(n.Content[i+1], depth+1),
			})
		}
		return out
	default:
		return node{kind: kindOther}
	}
}
