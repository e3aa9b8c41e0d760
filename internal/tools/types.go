// Package tools talks to the trading-data function service: it lists the
// available functions, memoizes that catalog and dispatches calls to it.
package tools

import (
	"encoding/json"
	"sort"
)

// DispatchFailureMessage is shown to users when a data function fails
const DispatchFailureMessage = "Failed to retrieve the requested data. Please try again."

// Parameter describes one argument of a data function
type Parameter struct {
	Type        string `json:"type"`
	Required    bool   `json:"required"`
	Description string `json:"description,omitempty"`
}

// Descriptor describes one data function in the catalog
type Descriptor struct {
	Name        string               `json:"name"`
	Description string               `json:"description"`
	Parameters  map[string]Parameter `json:"parameters"`
	InputSchema json.RawMessage      `json:"inputSchema,omitempty"`
}

// ParameterNames returns parameter names, required ones first, each group sorted
func (d Descriptor) ParameterNames() []string {
	names := make([]string, 0, len(d.Parameters))
	for name := range d.Parameters {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		pi, pj := d.Parameters[names[i]], d.Parameters[names[j]]
		if pi.Required != pj.Required {
			return pi.Required
		}
		return names[i] < names[j]
	})
	return names
}

// ErrorKind classifies a failed dispatch
type ErrorKind string

const (
	ErrorKindDispatchFailure ErrorKind = "dispatch_failure"
	ErrorKindInvalidParams   ErrorKind = "invalid_params"
)

// Result is the outcome of a dispatched call: data or an error kind, never both
type Result struct {
	Data      any       `json:"data,omitempty"`
	ErrorKind ErrorKind `json:"errorKind,omitempty"`
	Message   string    `json:"message,omitempty"`
}

// DataResult wraps a successful payload
func DataResult(data any) *Result {
	return &Result{Data: data}
}

// ErrorResult creates a failed result
func ErrorResult(kind ErrorKind, message string) *Result {
	return &Result{ErrorKind: kind, Message: message}
}

// IsError reports whether the call failed
func (r *Result) IsError() bool {
	return r != nil && r.ErrorKind != ""
}

// descriptorFromSchema derives the parameter table from a JSON schema object
func descriptorFromSchema(name, description string, schema json.RawMessage) Descriptor {
	d := Descriptor{
		Name:        name,
		Description: description,
		Parameters:  make(map[string]Parameter),
		InputSchema: schema,
	}
	if len(schema) == 0 {
		return d
	}

	var parsed struct {
		Properties map[string]struct {
			Type        any    `json:"type"`
			Description string `json:"description"`
		} `json:"properties"`
		Required []string `json:"required"`
	}
	if err := json.Unmarshal(schema, &parsed); err != nil {
		return d
	}

	required := make(map[string]bool, len(parsed.Required))
	for _, r := range parsed.Required {
		required[r] = true
	}

	for pname, prop := range parsed.Properties {
		typ := "any"
		switch t := prop.Type.(type) {
		case string:
			typ = t
		case []any:
			if len(t) > 0 {
				if s, ok := t[0].(string); ok {
					typ = s
				}
			}
		}
		d.Parameters[pname] = Parameter{
			Type:        typ,
			Required:    required[pname],
			Description: prop.Description,
		}
	}
	return d
}
