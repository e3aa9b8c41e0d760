package tools

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

type fakeService struct {
	tools     []Descriptor
	listErr   error
	listDelay time.Duration
	listCalls atomic.Int32

	mu    sync.Mutex
	calls []string
	call  func(ctx context.Context, name string, params map[string]any) (any, error)
}

func (f *fakeService) ListTools(ctx context.Context) ([]Descriptor, error) {
	f.listCalls.Add(1)
	if f.listDelay > 0 {
		time.Sleep(f.listDelay)
	}
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.tools, nil
}

func (f *fakeService) CallTool(ctx context.Context, name string, params map[string]any) (any, error) {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.mu.Unlock()
	if f.call != nil {
		return f.call(ctx, name, params)
	}
	return nil, errors.New("no call handler")
}

func (f *fakeService) callNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

var topTradedSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"days": {"type": "integer", "description": "Lookback window in days"},
		"limit": {"type": "integer", "description": "Maximum assets to return"}
	}
}`)

var politicianStatsSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"politician": {"type": "string", "description": "Full name"},
		"days": {"type": "integer"}
	},
	"required": ["politician"]
}`)

func sampleTools() []Descriptor {
	return []Descriptor{
		descriptorFromSchema("get_top_traded_assets", "Most traded assets", topTradedSchema),
		descriptorFromSchema("get_politician_stats", "Trading statistics for one politician", politicianStatsSchema),
	}
}
