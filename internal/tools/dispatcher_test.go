package tools

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDispatcher(svc *fakeService, timeout time.Duration) *Dispatcher {
	return NewDispatcher(NewCatalog(svc, time.Second), svc, nil, timeout)
}

func TestDispatch_Success(t *testing.T) {
	svc := &fakeService{
		tools: sampleTools(),
		call: func(ctx context.Context, name string, params map[string]any) (any, error) {
			return map[string]any{"assets": []any{"NVDA"}, "days": params["days"]}, nil
		},
	}
	d := newTestDispatcher(svc, time.Second)

	result := d.Dispatch(context.Background(), "get_top_traded_assets", map[string]any{"days": 90, "limit": 10})

	require.NotNil(t, result)
	assert.False(t, result.IsError())
	assert.Equal(t, map[string]any{"assets": []any{"NVDA"}, "days": 90}, result.Data)
}

func TestDispatch_ResolvesAliases(t *testing.T) {
	svc := &fakeService{
		tools: sampleTools(),
		call: func(ctx context.Context, name string, params map[string]any) (any, error) {
			return "ok", nil
		},
	}
	d := newTestDispatcher(svc, time.Second)

	for _, name := range []string{"getTopTradedAssets", "top_traded_assets", " get_top_traded_assets "} {
		result := d.Dispatch(context.Background(), name, nil)
		require.NotNil(t, result, name)
		assert.Equal(t, "ok", result.Data)
	}
	for _, called := range svc.callNames() {
		assert.Equal(t, "get_top_traded_assets", called)
	}
}

func TestDispatch_UnknownNameReturnsNil(t *testing.T) {
	svc := &fakeService{tools: sampleTools()}
	d := newTestDispatcher(svc, time.Second)

	assert.Nil(t, d.Dispatch(context.Background(), "get_weather", nil))
	assert.Nil(t, d.Dispatch(context.Background(), "", nil))
	assert.Empty(t, svc.callNames())
}

func TestDispatch_CatalogUnavailableReturnsNil(t *testing.T) {
	svc := &fakeService{listErr: errors.New("down")}
	d := newTestDispatcher(svc, time.Second)

	assert.Nil(t, d.Dispatch(context.Background(), "get_top_traded_assets", nil))
}

func TestDispatch_ErrorBecomesDispatchFailure(t *testing.T) {
	svc := &fakeService{
		tools: sampleTools(),
		call: func(ctx context.Context, name string, params map[string]any) (any, error) {
			return nil, errors.New("upstream exploded: secret detail")
		},
	}
	d := newTestDispatcher(svc, time.Second)

	result := d.Dispatch(context.Background(), "get_top_traded_assets", nil)

	require.NotNil(t, result)
	assert.Equal(t, ErrorKindDispatchFailure, result.ErrorKind)
	assert.Equal(t, DispatchFailureMessage, result.Message)
	assert.Nil(t, result.Data)
}

func TestDispatch_PanicIsRecovered(t *testing.T) {
	svc := &fakeService{
		tools: sampleTools(),
		call: func(ctx context.Context, name string, params map[string]any) (any, error) {
			panic("boom")
		},
	}
	d := newTestDispatcher(svc, time.Second)

	var result *Result
	assert.NotPanics(t, func() {
		result = d.Dispatch(context.Background(), "get_top_traded_assets", nil)
	})
	require.NotNil(t, result)
	assert.Equal(t, ErrorKindDispatchFailure, result.ErrorKind)
}

func TestDispatch_TimeoutBecomesDispatchFailure(t *testing.T) {
	svc := &fakeService{
		tools: sampleTools(),
		call: func(ctx context.Context, name string, params map[string]any) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	d := newTestDispatcher(svc, 20*time.Millisecond)

	start := time.Now()
	result := d.Dispatch(context.Background(), "get_top_traded_assets", nil)

	require.NotNil(t, result)
	assert.Equal(t, ErrorKindDispatchFailure, result.ErrorKind)
	assert.Less(t, time.Since(start), time.Second)
}

func TestDispatch_InvalidParams(t *testing.T) {
	svc := &fakeService{tools: sampleTools()}
	d := newTestDispatcher(svc, time.Second)

	// politician is required
	result := d.Dispatch(context.Background(), "get_politician_stats", map[string]any{"days": 90})

	require.NotNil(t, result)
	assert.Equal(t, ErrorKindInvalidParams, result.ErrorKind)
	assert.NotEmpty(t, result.Message)
	assert.Empty(t, svc.callNames())
}

func TestDispatch_FloatIntegersPassValidation(t *testing.T) {
	svc := &fakeService{
		tools: sampleTools(),
		call: func(ctx context.Context, name string, params map[string]any) (any, error) {
			return "ok", nil
		},
	}
	d := newTestDispatcher(svc, time.Second)

	// Params decoded from model JSON carry float64 numbers
	result := d.Dispatch(context.Background(), "get_top_traded_assets", map[string]any{"days": float64(90)})

	require.NotNil(t, result)
	assert.False(t, result.IsError())
}

func TestDispatch_QuotedNumbersAreCoerced(t *testing.T) {
	var got map[string]any
	svc := &fakeService{
		tools: sampleTools(),
		call: func(ctx context.Context, name string, params map[string]any) (any, error) {
			got = params
			return "ok", nil
		},
	}
	d := newTestDispatcher(svc, time.Second)

	result := d.Dispatch(context.Background(), "get_top_traded_assets", map[string]any{"days": "90", "limit": " 10 "})

	require.NotNil(t, result)
	assert.False(t, result.IsError())
	assert.Equal(t, map[string]any{"days": int64(90), "limit": int64(10)}, got)
}

func TestDispatch_UnparsableQuotedNumberIsInvalid(t *testing.T) {
	svc := &fakeService{tools: sampleTools()}
	d := newTestDispatcher(svc, time.Second)

	result := d.Dispatch(context.Background(), "get_top_traded_assets", map[string]any{"days": "ninety"})

	require.NotNil(t, result)
	assert.Equal(t, ErrorKindInvalidParams, result.ErrorKind)
	assert.Empty(t, svc.callNames())
}

func TestCoerceParams(t *testing.T) {
	declared := map[string]Parameter{
		"days":   {Type: "integer"},
		"ratio":  {Type: "number"},
		"recent": {Type: "boolean"},
		"name":   {Type: "string"},
	}
	in := map[string]any{"days": "30", "ratio": "0.5", "recent": "true", "name": "42", "extra": "7"}

	out := coerceParams(in, declared)

	assert.Equal(t, map[string]any{"days": int64(30), "ratio": 0.5, "recent": true, "name": "42", "extra": "7"}, out)
	assert.Equal(t, "30", in["days"], "input is not modified")
}
