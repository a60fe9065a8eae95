// Package loader parses YAML agent definitions into the ordered Message
// sequence the engine consumes. The engine itself is serialization-agnostic;
// any collaborator producing []document.Message can replace this package.
package loader

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sibyl-run/sibyl/pkg/document"
	"github.com/sibyl-run/sibyl/pkg/errors"
)

// LoadFile reads and parses a YAML definition file.
func LoadFile(path string) ([]document.Message, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.Newf(errors.CodeConfig, "definition path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(errors.CodeConfig, "read definition file", err)
	}
	return Parse(data)
}

// Parse decodes a YAML payload into messages. The document is either a
// top-level sequence of message records or a mapping with a "messages" key.
// Mapping nodes keep their declaration order.
func Parse(data []byte) ([]document.Message, error) {
	if len(data) == 0 {
		return nil, errors.Newf(errors.CodeConfig, "empty definition payload")
	}
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, errors.New(errors.CodeConfig, "parse yaml definition", err)
	}
	tree, err := convert(&root)
	if err != nil {
		return nil, err
	}

	seq, ok := document.AsSlice(tree)
	if !ok {
		if m, isMap := document.AsMap(tree); isMap {
			seq, ok = document.SliceAt(m, "messages")
		}
		if !ok {
			return nil, errors.Newf(errors.CodeConfig, "definition must be a message sequence or carry a messages key")
		}
	}

	messages := make([]document.Message, 0, len(seq))
	seen := make(map[string]bool, len(seq))
	for i, entry := range seq {
		record, ok := document.AsMap(entry)
		if !ok {
			return nil, errors.Newf(errors.CodeConfig, "message %d is not a mapping", i)
		}
		id, ok := document.StringAt(record, "id")
		if !ok || strings.TrimSpace(id) == "" {
			return nil, errors.Newf(errors.CodeConfig, "message %d is missing an id", i)
		}
		if seen[id] {
			return nil, errors.Newf(errors.CodeConfig, "duplicate message id %q", id)
		}
		seen[id] = true
		msgType, ok := document.StringAt(record, "type")
		if !ok || strings.TrimSpace(msgType) == "" {
			return nil, errors.Newf(errors.CodeConfig, "message %q is missing a type", id)
		}
		payload, _ := record.Get("payload")
		messages = append(messages, document.Message{ID: id, Type: msgType, Payload: payload})
	}
	return messages, nil
}

// convert maps a yaml.Node into the document model: scalars, []any
// sequences, and order-preserving *document.Map mappings.
func convert(node *yaml.Node) (any, error) {
	switch node.Kind {
	case yaml.DocumentNode:
		if len(node.Content) == 0 {
			return nil, errors.Newf(errors.CodeConfig, "empty yaml document")
		}
		return convert(node.Content[0])
	case yaml.AliasNode:
		return convert(node.Alias)
	case yaml.SequenceNode:
		out := make([]any, 0, len(node.Content))
		for _, child := range node.Content {
			value, err := convert(child)
			if err != nil {
				return nil, err
			}
			out = append(out, value)
		}
		return out, nil
	case yaml.MappingNode:
		out := document.NewMap()
		for i := 0; i+1 < len(node.Content); i += 2 {
			keyNode := node.Content[i]
			if keyNode.Kind != yaml.ScalarNode {
				return nil, errors.Newf(errors.CodeConfig, "mapping key at line %d is not a scalar", keyNode.Line)
			}
			value, err := convert(node.Content[i+1])
			if err != nil {
				return nil, err
			}
			out.Set(keyNode.Value, value)
		}
		return out, nil
	case yaml.ScalarNode:
		return convertScalar(node)
	default:
		return nil, errors.Newf(errors.CodeConfig, "unsupported yaml node kind %d at line %d", node.Kind, node.Line)
	}
}

func convertScalar(node *yaml.Node) (any, error) {
	switch node.Tag {
	case "!!null":
		return nil, nil
	case "!!bool":
		var b bool
		if err := node.Decode(&b); err != nil {
			return nil, errors.New(errors.CodeConfig, fmt.Sprintf("decode bool at line %d", node.Line), err)
		}
		return b, nil
	case "!!int":
		var n int
		if err := node.Decode(&n); err != nil {
			return nil, errors.New(errors.CodeConfig, fmt.Sprintf("decode int at line %d", node.Line), err)
		}
		return n, nil
	case "!!float":
		var f float64
		if err := node.Decode(&f); err != nil {
			return nil, errors.New(errors.CodeConfig, fmt.Sprintf("decode float at line %d", node.Line), err)
		}
		return f, nil
	default:
		return node.Value, nil
	}
}
