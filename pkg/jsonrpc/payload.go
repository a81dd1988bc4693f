package jsonrpc

import (
	"encoding/json"
	"strings"
)

// PayloadKind tags the recognized shapes of a tool result.
type PayloadKind int

const (
	// PayloadGeneric is the catch-all for unrecognized result shapes.
	PayloadGeneric PayloadKind = iota
	// PayloadDocuments is a list of matched records.
	PayloadDocuments
	// PayloadCount is a bare count.
	PayloadCount
	// PayloadNames is a list of names (collections, indices, files).
	PayloadNames
	// PayloadText is plain text content.
	PayloadText
)

func (k PayloadKind) String() string {
	switch k {
	case PayloadDocuments:
		return "documents"
	case PayloadCount:
		return "count"
	case PayloadNames:
		return "names"
	case PayloadText:
		return "text"
	default:
		return "generic"
	}
}

// Payload is a tool result decoded into one of the known shapes. The shape
// is decided once at the transport boundary; callers switch on Kind instead
// of re-sniffing fields.
type Payload struct {
	Kind      PayloadKind
	Documents []map[string]any
	Count     int64
	HasCount  bool
	Names     []string
	Text      string
	Raw       json.RawMessage
}

// mcpContent mirrors the MCP content envelope {content:[{type,text}],isError}.
type mcpContent struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	IsError bool `json:"isError"`
}

// DecodePayload classifies a raw tool result. It never fails: anything
// unrecognized becomes PayloadGeneric carrying the raw bytes.
func DecodePayload(raw json.RawMessage) Payload {
	p := Payload{Kind: PayloadGeneric, Raw: raw}
	if len(raw) == 0 {
		return p
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(raw, &envelope); err != nil {
		// Not an object; bare strings become text.
		var text string
		if err := json.Unmarshal(raw, &text); err == nil {
			p.Kind = PayloadText
			p.Text = text
		}
		return p
	}

	// MCP content envelope: unwrap the text, which may itself be JSON.
	if _, ok := envelope["content"]; ok {
		var mc mcpContent
		if err := json.Unmarshal(raw, &mc); err == nil && len(mc.Content) > 0 {
			var texts []string
			for _, item := range mc.Content {
				if item.Type == "" || item.Type == "text" {
					texts = append(texts, item.Text)
				}
			}
			joined := strings.TrimSpace(strings.Join(texts, "\n"))
			if inner := decodeObject([]byte(joined)); inner != nil {
				return *inner
			}
			p.Kind = PayloadText
			p.Text = joined
			return p
		}
	}

	if inner := decodeKnownShape(envelope, raw); inner != nil {
		return *inner
	}
	return p
}

// decodeObject classifies bytes that may hold a JSON object with a known
// shape. Returns nil if the bytes are not such an object.
func decodeObject(data []byte) *Payload {
	trimmed := strings.TrimSpace(string(data))
	if !strings.HasPrefix(trimmed, "{") {
		return nil
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &envelope); err != nil {
		return nil
	}
	return decodeKnownShape(envelope, json.RawMessage(trimmed))
}

func decodeKnownShape(envelope map[string]json.RawMessage, raw json.RawMessage) *Payload {
	if docsRaw, ok := envelope["documents"]; ok {
		var docs []map[string]any
		if err := json.Unmarshal(docsRaw, &docs); err == nil {
			return &Payload{Kind: PayloadDocuments, Documents: docs, Raw: raw}
		}
	}
	if hitsRaw, ok := envelope["hits"]; ok {
		var docs []map[string]any
		if err := json.Unmarshal(hitsRaw, &docs); err == nil {
			return &Payload{Kind: PayloadDocuments, Documents: docs, Raw: raw}
		}
	}
	if countRaw, ok := envelope["count"]; ok {
		var count int64
		if err := json.Unmarshal(countRaw, &count); err == nil {
			return &Payload{Kind: PayloadCount, Count: count, HasCount: true, Raw: raw}
		}
	}
	for _, key := range []string{"names", "collections", "indices"} {
		if namesRaw, ok := envelope[key]; ok {
			var names []string
			if err := json.Unmarshal(namesRaw, &names); err == nil {
				return &Payload{Kind: PayloadNames, Names: names, Raw: raw}
			}
		}
	}
	return nil
}
