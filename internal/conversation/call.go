// Package conversation runs one chat turn: it asks the model whether trading
// data is needed, fetches it, and turns the result into a reply.
package conversation

// FunctionCall names a data function and its arguments. An empty Name means
// no data retrieval is needed. Params is never nil.
type FunctionCall struct {
	Name   string         `json:"function,omitempty"`
	Params map[string]any `json:"params"`
}

// NoCall is the FunctionCall meaning "nothing to retrieve"
func NoCall() FunctionCall {
	return FunctionCall{Params: map[string]any{}}
}

// IsAbsent reports whether the call names no function
func (c FunctionCall) IsAbsent() bool {
	return c.Name == ""
}
