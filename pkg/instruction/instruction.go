// Package instruction recovers structured tool-call directives from LLM
// output. Model output is untrusted: every extraction strategy is a pure
// function that returns no-instruction on malformed input, never an error.
package instruction

// Instruction is a parsed tool-call directive.
type Instruction struct {
	// Target is the backend name. May be an alias; the dispatcher
	// canonicalizes it.
	Target string `json:"target"`

	// Tool is the tool name within the target backend.
	Tool string `json:"tool"`

	// Params are the tool arguments.
	Params map[string]interface{} `json:"params,omitempty"`
}

// Executable reports whether the directive carries both a target and a tool.
// Incomplete directives are discarded silently.
func (i *Instruction) Executable() bool {
	return i != nil && i.Target != "" && i.Tool != ""
}

// ProviderToolCall is a provider-native structured tool call: a name plus
// arguments that may themselves be a JSON-encoded string.
type ProviderToolCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ModelResponse is the shape handed to the extractor by the chat layer.
type ModelResponse struct {
	// Text is the free-form model output.
	Text string

	// Instruction is a directly structured directive, when the provider
	// integration already produced one.
	Instruction *Instruction

	// ToolCalls are provider-native structured tool/function calls.
	ToolCalls []ProviderToolCall
}
