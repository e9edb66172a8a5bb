package model

import (
	"encoding/json"
	"fmt"
)

// MarshalJSON encodes a Message while preserving the concrete ContentBlock
// type stored in Content via an explicit "type" discriminator, so messages
// round-trip through storage (the ModelInference/ChatInference rows) without
// losing structure.
func (m Message) MarshalJSON() ([]byte, error) {
	type alias struct {
		Role    Role  `json:"role"`
		Content []any `json:"content"`
	}
	blocks := make([]any, 0, len(m.Content))
	for i, b := range m.Content {
		enc, err := encodeContentBlock(b)
		if err != nil {
			return nil, fmt.Errorf("encode content[%d]: %w", i, err)
		}
		blocks = append(blocks, enc)
	}
	return json.Marshal(alias{Role: m.Role, Content: blocks})
}

// UnmarshalJSON decodes a Message, materializing concrete ContentBlock
// implementations based on the "type" discriminator.
func (m *Message) UnmarshalJSON(data []byte) error {
	type alias struct {
		Role    Role              `json:"role"`
		Content []json.RawMessage `json:"content"`
	}
	var tmp alias
	if err := json.Unmarshal(data, &tmp); err != nil {
		return err
	}
	m.Role = tmp.Role
	m.Content = make([]ContentBlock, 0, len(tmp.Content))
	for i, raw := range tmp.Content {
		block, err := decodeContentBlock(raw)
		if err != nil {
			return fmt.Errorf("decode content[%d]: %w", i, err)
		}
		m.Content = append(m.Content, block)
	}
	return nil
}

// EncodeContentBlocks marshals a content block slice to JSON using the same
// type-discriminated shape Message.MarshalJSON uses, so callers that need to
// serialize content outside of a full Message (e.g. the inference endpoint
// deciding what value to feed a role template) stay consistent with storage.
func EncodeContentBlocks(blocks []ContentBlock) ([]byte, error) {
	enc := make([]any, 0, len(blocks))
	for i, b := range blocks {
		v, err := encodeContentBlock(b)
		if err != nil {
			return nil, fmt.Errorf("encode content[%d]: %w", i, err)
		}
		enc = append(enc, v)
	}
	return json.Marshal(enc)
}

// DecodeContentBlocks is the inverse of EncodeContentBlocks.
func DecodeContentBlocks(data []byte) ([]ContentBlock, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	blocks := make([]ContentBlock, 0, len(raw))
	for i, r := range raw {
		b, err := decodeContentBlock(r)
		if err != nil {
			return nil, fmt.Errorf("decode content[%d]: %w", i, err)
		}
		blocks = append(blocks, b)
	}
	return blocks, nil
}

func encodeContentBlock(b ContentBlock) (any, error) {
	switch v := b.(type) {
	case TextBlock:
		return struct {
			Type string `json:"type"`
			TextBlock
		}{"text", v}, nil
	case ToolCallBlock:
		return struct {
			Type string `json:"type"`
			ToolCallBlock
		}{"tool_call", v}, nil
	case ToolResultBlock:
		return struct {
			Type string `json:"type"`
			ToolResultBlock
		}{"tool_result", v}, nil
	case ThoughtBlock:
		return struct {
			Type string `json:"type"`
			ThoughtBlock
		}{"thought", v}, nil
	case UnknownBlock:
		return struct {
			Type string `json:"type"`
			Data  json.RawMessage `json:"data"`
		}{v.Type, v.Data}, nil
	default:
		return nil, fmt.Errorf("unknown content block type %T", b)
	}
}

func decodeContentBlock(raw json.RawMessage) (ContentBlock, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, err
	}
	switch head.Type {
	case "text":
		var v TextBlock
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return v, nil
	case "tool_call":
		var v ToolCallBlock
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return v, nil
	case "tool_result":
		var v ToolResultBlock
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return v, nil
	case "thought":
		var v ThoughtBlock
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return v, nil
	default:
		var v struct {
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return UnknownBlock{Type: head.Type, Data: v.Data}, nil
	}
}
