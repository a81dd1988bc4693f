package dispatcher

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/axonlabs/mcpbridge/pkg/jsonrpc"
)

const (
	// maxEntries bounds the detailed entries rendered per result.
	maxEntries = 3
	// maxFieldLen bounds each rendered entry before the ellipsis marker.
	maxFieldLen = 300
)

// Shape renders a decoded payload as a short human-readable summary plus a
// bounded number of detail entries.
func Shape(p jsonrpc.Payload) (string, []string) {
	switch p.Kind {
	case jsonrpc.PayloadDocuments:
		summary := fmt.Sprintf("Found %d document(s)", len(p.Documents))
		entries := make([]string, 0, maxEntries)
		for i, doc := range p.Documents {
			if i >= maxEntries {
				break
			}
			entries = append(entries, truncate(renderDocument(doc)))
		}
		if len(p.Documents) > maxEntries {
			summary += fmt.Sprintf(", showing first %d", maxEntries)
		}
		return summary, entries

	case jsonrpc.PayloadCount:
		return fmt.Sprintf("Count: %d", p.Count), nil

	case jsonrpc.PayloadNames:
		summary := fmt.Sprintf("%d name(s)", len(p.Names))
		shown := p.Names
		if len(shown) > maxEntries {
			shown = shown[:maxEntries]
			return summary, append(append([]string{}, shown...), "…")
		}
		return summary, shown

	case jsonrpc.PayloadText:
		text := strings.TrimSpace(p.Text)
		if text == "" {
			return "Tool completed", nil
		}
		summary := firstLine(text)
		if summary == text && len(text) <= maxFieldLen {
			return truncate(text), nil
		}
		return truncate(summary), []string{truncate(text)}

	default:
		if len(p.Raw) == 0 {
			return "Tool completed", nil
		}
		return "Tool returned a result", []string{truncate(compactJSON(p.Raw))}
	}
}

// renderDocument renders one record as "key: value" pairs in compact JSON.
func renderDocument(doc map[string]any) string {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Sprintf("%v", doc)
	}
	return string(data)
}

func compactJSON(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

func truncate(s string) string {
	if len(s) <= maxFieldLen {
		return s
	}
	// Back up to a rune boundary so the cut never emits invalid UTF-8.
	cut := maxFieldLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
