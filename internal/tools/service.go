package tools

import "context"

// Service is the external data function provider
type Service interface {
	// ListTools enumerates the available functions
	ListTools(ctx context.Context) ([]Descriptor, error)
	// CallTool invokes one function and returns its structured result
	CallTool(ctx context.Context, name string, params map[string]any) (any, error)
}
