package conversation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lexiqai/trades-chat/internal/history"
	"github.com/lexiqai/trades-chat/internal/prompt"
	"github.com/lexiqai/trades-chat/internal/tools"
)

type fakeGateway struct {
	configured bool
	detect     func(prompt string) (string, error)
	analyze    func(prompt string) (string, error)

	mu      sync.Mutex
	prompts []string
}

func (f *fakeGateway) Configured() bool { return f.configured }

func (f *fakeGateway) Complete(ctx context.Context, p string) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, p)
	f.mu.Unlock()

	if strings.Contains(p, "Data Retrieved:") {
		if f.analyze == nil {
			return "analysis", nil
		}
		return f.analyze(p)
	}
	if f.detect == nil {
		return `{"function": null}`, nil
	}
	return f.detect(p)
}

func (f *fakeGateway) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

func (f *fakeGateway) lastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.prompts) == 0 {
		return ""
	}
	return f.prompts[len(f.prompts)-1]
}

func respond(text string) func(string) (string, error) {
	return func(string) (string, error) { return text, nil }
}

func fail(msg string) func(string) (string, error) {
	return func(string) (string, error) { return "", errors.New(msg) }
}

type fakeTools struct {
	descriptors []tools.Descriptor
	listErr     error
	call        func(name string, params map[string]any) (any, error)

	mu    sync.Mutex
	calls []string
}

func (f *fakeTools) ListTools(ctx context.Context) ([]tools.Descriptor, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.descriptors, nil
}

func (f *fakeTools) CallTool(ctx context.Context, name string, params map[string]any) (any, error) {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.mu.Unlock()
	if f.call == nil {
		return map[string]any{"ok": true}, nil
	}
	return f.call(name, params)
}

func (f *fakeTools) callNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func tradingTools() []tools.Descriptor {
	return []tools.Descriptor{
		{Name: "get_top_traded_assets", Description: "Most traded assets"},
		{Name: "get_politician_stats", Description: "Statistics for one politician"},
		{Name: "get_buy_momentum_assets", Description: "Assets with buying momentum"},
		{Name: "get_party_buy_momentum", Description: "Buying momentum by party"},
	}
}

type memStore struct {
	mu      sync.Mutex
	data    map[string][]history.Turn
	loadErr error
	saveErr error
	loads   int
	saves   int
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string][]history.Turn)}
}

func (m *memStore) Load(ctx context.Context, userID string) ([]history.Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loads++
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return history.Window(m.data[userID], 30), nil
}

func (m *memStore) Save(ctx context.Context, userID string, turns []history.Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.data[userID] = history.Window(turns, 30)
	return nil
}

func (m *memStore) Append(ctx context.Context, userID string, turns ...history.Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.data[userID] = history.Window(append(m.data[userID], turns...), 30)
	return nil
}

func (m *memStore) Ping(ctx context.Context) error { return nil }
func (m *memStore) Close() error                   { return nil }

func (m *memStore) turns(userID string) []history.Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[userID]
}

type harness struct {
	gateway *fakeGateway
	tools   *fakeTools
	store   history.Store
	orch    *Orchestrator
}

func newHarness(t *testing.T, gw *fakeGateway, svc *fakeTools, store history.Store) *harness {
	t.Helper()
	catalog := tools.NewCatalog(svc, time.Second)
	dispatcher := tools.NewDispatcher(catalog, svc, nil, time.Second)
	builder := prompt.NewBuilder(catalog, 30)

	return &harness{
		gateway: gw,
		tools:   svc,
		store:   store,
		orch: NewOrchestrator(Options{
			Gateway:     gw,
			Prompts:     builder,
			Dispatcher:  dispatcher,
			Synthesizer: NewSynthesizer(gw, builder, catalog),
			Store:       store,
			MaxTurns:    30,
		}),
	}
}
