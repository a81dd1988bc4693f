package instruction

import (
	"encoding/json"
	"regexp"
	"strings"
)

// fencedBlock matches a fenced code block optionally labeled json. The body
// is captured; the fence may or may not carry a language tag.
var fencedBlock = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// Extract recovers an instruction from a model response, trying each shape
// in priority order: a directly structured directive, a provider-native
// tool call, a fenced JSON block, and finally a raw JSON object found by a
// permissive scan. Extraction stops at the first match; if nothing matches
// the second result is false, which is the normal outcome for most turns.
func Extract(resp ModelResponse) (*Instruction, bool) {
	if resp.Instruction.Executable() {
		return resp.Instruction, true
	}

	if instr, ok := FromToolCalls(resp.ToolCalls); ok {
		return instr, true
	}

	return FromText(resp.Text)
}

// FromToolCalls converts the first usable provider-native tool call. The
// backend is taken from a "target" argument when present, otherwise from a
// "backend__tool" or "backend.tool" naming convention.
func FromToolCalls(calls []ProviderToolCall) (*Instruction, bool) {
	for _, call := range calls {
		if call.Name == "" {
			continue
		}

		args := parseArguments(call.Arguments)

		target, tool := "", call.Name
		if t, ok := args["target"].(string); ok && t != "" {
			target = t
			delete(args, "target")
		} else if before, after, found := strings.Cut(call.Name, "__"); found {
			target, tool = before, after
		} else if before, after, found := strings.Cut(call.Name, "."); found {
			target, tool = before, after
		}

		// A "params" argument wraps the real arguments.
		if inner, ok := args["params"].(map[string]interface{}); ok && len(args) == 1 {
			args = inner
		}
		if t, ok := args["tool"].(string); ok && t != "" {
			tool = t
			delete(args, "tool")
		}

		instr := &Instruction{Target: target, Tool: tool, Params: args}
		if instr.Executable() {
			return instr, true
		}
	}
	return nil, false
}

// FromText scans free-form text for a directive: first fenced JSON blocks,
// then raw JSON objects anywhere in the text.
func FromText(text string) (*Instruction, bool) {
	if instr, _, ok := fromFencedJSON(text); ok {
		return instr, true
	}
	if instr, _, _, ok := fromRawJSON(text); ok {
		return instr, true
	}
	return nil, false
}

// Clean strips recognized instruction-bearing fences and raw JSON fragments
// so the directive is never shown to the end user verbatim. Text without a
// directive is returned unchanged.
func Clean(text string) string {
	cleaned := fencedBlock.ReplaceAllStringFunc(text, func(match string) string {
		sub := fencedBlock.FindStringSubmatch(match)
		if len(sub) == 2 {
			if instr, ok := decodeDirective([]byte(sub[1])); ok && instr.Executable() {
				return ""
			}
		}
		return match
	})

	for {
		_, start, end, ok := fromRawJSON(cleaned)
		if !ok {
			break
		}
		cleaned = cleaned[:start] + cleaned[end:]
	}

	return strings.TrimSpace(collapseBlankLines(cleaned))
}

// fromFencedJSON tries each fenced block in order and returns the first one
// whose body decodes to an executable directive.
func fromFencedJSON(text string) (*Instruction, []int, bool) {
	for _, loc := range fencedBlock.FindAllStringSubmatchIndex(text, -1) {
		body := text[loc[2]:loc[3]]
		if instr, ok := decodeDirective([]byte(body)); ok && instr.Executable() {
			return instr, []int{loc[0], loc[1]}, true
		}
	}
	return nil, nil, false
}

// fromRawJSON finds an unfenced JSON object carrying the directive keys. It
// walks candidate '{' positions and attempts a bounded decode at each one,
// returning the matched span for the cleaner.
func fromRawJSON(text string) (*Instruction, int, int, bool) {
	for i := 0; i < len(text); i++ {
		if text[i] != '{' {
			continue
		}
		// Cheap pre-filter before attempting a decode.
		rest := text[i:]
		if !strings.Contains(rest, `"target"`) || !strings.Contains(rest, `"tool"`) {
			break
		}

		dec := json.NewDecoder(strings.NewReader(rest))
		var raw map[string]json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			continue
		}

		body := rest[:dec.InputOffset()]
		if instr, ok := decodeDirective([]byte(body)); ok && instr.Executable() {
			return instr, i, i + int(dec.InputOffset()), true
		}
	}
	return nil, 0, 0, false
}

// directiveEnvelope is the wire shape produced by the LLM, optionally nested
// under an mcp_instructions or instructions key.
type directiveEnvelope struct {
	Target          string             `json:"target"`
	Tool            string             `json:"tool"`
	Params          json.RawMessage    `json:"params"`
	MCPInstructions *directiveEnvelope `json:"mcp_instructions"`
	Instructions    *directiveEnvelope `json:"instructions"`
}

// decodeDirective parses one candidate JSON object into an instruction.
// Malformed params are treated as absent, not as a failure.
func decodeDirective(data []byte) (*Instruction, bool) {
	var env directiveEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, false
	}

	if env.Target == "" && env.Tool == "" {
		if env.MCPInstructions != nil {
			env = *env.MCPInstructions
		} else if env.Instructions != nil {
			env = *env.Instructions
		}
	}

	if env.Target == "" && env.Tool == "" {
		return nil, false
	}

	return &Instruction{
		Target: env.Target,
		Tool:   env.Tool,
		Params: parseRawParams(env.Params),
	}, true
}

// parseRawParams decodes a params field that may be an object or a
// JSON-encoded string containing an object. Anything else is absent.
func parseRawParams(raw json.RawMessage) map[string]interface{} {
	if len(raw) == 0 {
		return nil
	}

	var params map[string]interface{}
	if err := json.Unmarshal(raw, &params); err == nil {
		return params
	}

	var encoded string
	if err := json.Unmarshal(raw, &encoded); err == nil {
		if err := json.Unmarshal([]byte(encoded), &params); err == nil {
			return params
		}
	}
	return nil
}

// parseArguments decodes provider tool-call arguments, which arrive as a
// JSON-encoded string. Malformed arguments become an empty map.
func parseArguments(arguments string) map[string]interface{} {
	args := make(map[string]interface{})
	if arguments == "" {
		return args
	}
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		return make(map[string]interface{})
	}
	return args
}

func collapseBlankLines(s string) string {
	for strings.Contains(s, "\n\n\n") {
		s = strings.ReplaceAll(s, "\n\n\n", "\n\n")
	}
	return s
}
