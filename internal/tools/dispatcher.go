package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/lexiqai/trades-chat/internal/observability"
)

// DefaultAliases maps alternate spellings the model tends to produce onto
// canonical function names.
var DefaultAliases = map[string]string{
	"getTopTradedAssets":   "get_top_traded_assets",
	"top_traded_assets":    "get_top_traded_assets",
	"getPoliticianStats":   "get_politician_stats",
	"politician_stats":     "get_politician_stats",
	"getAssetStats":        "get_asset_stats",
	"asset_stats":          "get_asset_stats",
	"getBuyMomentumAssets": "get_buy_momentum_assets",
	"buy_momentum_assets":  "get_buy_momentum_assets",
	"getPartyBuyMomentum":  "get_party_buy_momentum",
	"party_buy_momentum":   "get_party_buy_momentum",
	"getPoliticianTrades":  "get_politician_trades",
	"politician_trades":    "get_politician_trades",
}

// Dispatcher resolves function names against the catalog and invokes them
type Dispatcher struct {
	catalog *Catalog
	service Service
	aliases map[string]string
	timeout time.Duration
}

// NewDispatcher creates a dispatcher. A nil aliases map uses DefaultAliases.
func NewDispatcher(catalog *Catalog, service Service, aliases map[string]string, timeout time.Duration) *Dispatcher {
	if aliases == nil {
		aliases = DefaultAliases
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Dispatcher{
		catalog: catalog,
		service: service,
		aliases: aliases,
		timeout: timeout,
	}
}

// Resolve maps name onto a catalog entry. It reports false for empty or
// unknown names and when the catalog cannot be loaded.
func (d *Dispatcher) Resolve(ctx context.Context, name string) (Descriptor, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Descriptor{}, false
	}

	candidates := []string{name}
	if canonical, ok := d.aliases[name]; ok {
		candidates = append(candidates, canonical)
	}

	for _, candidate := range candidates {
		desc, ok, err := d.catalog.Lookup(ctx, candidate)
		if err != nil {
			return Descriptor{}, false
		}
		if ok {
			return desc, true
		}
	}
	return Descriptor{}, false
}

// Dispatch invokes the named function. It returns nil when there is nothing
// to call; every failure of the call itself becomes an error Result.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, params map[string]any) *Result {
	desc, ok := d.Resolve(ctx, name)
	if !ok {
		if name != "" {
			observability.FromContext(ctx).Debug().Str("function", name).Msg("Function not found in catalog")
		}
		return nil
	}
	params = coerceParams(params, desc.Parameters)

	logger := observability.FromContext(ctx).With().Str("function", desc.Name).Logger()

	if err := validateParams(desc.InputSchema, params); err != nil {
		logger.Warn().Err(err).Msg("Rejected function parameters")
		observability.RecordToolDispatch(desc.Name, false, 0)
		return ErrorResult(ErrorKindInvalidParams, fmt.Sprintf("The request for %s had invalid parameters. Please rephrase your question.", desc.Name))
	}

	start := time.Now()
	data, err := d.invoke(ctx, desc.Name, params)
	latency := time.Since(start)
	observability.RecordToolDispatch(desc.Name, err == nil, latency)

	if err != nil {
		logger.Error().Err(err).Dur("latency", latency).Msg("Function call failed")
		return ErrorResult(ErrorKindDispatchFailure, DispatchFailureMessage)
	}

	logger.Debug().Dur("latency", latency).Msg("Function call succeeded")
	return DataResult(data)
}

func (d *Dispatcher) invoke(ctx context.Context, name string, params map[string]any) (data any, err error) {
	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s: %v", name, r)
		}
	}()

	return d.service.CallTool(callCtx, name, params)
}

// coerceParams returns a copy of params in which quoted numbers and booleans
// are converted to the type the catalog declares for that parameter
func coerceParams(params map[string]any, declared map[string]Parameter) map[string]any {
	out := make(map[string]any, len(params))
	for name, v := range params {
		out[name] = v

		s, ok := v.(string)
		if !ok {
			continue
		}
		s = strings.TrimSpace(s)

		switch declared[name].Type {
		case "integer":
			if n, err := strconv.ParseInt(s, 10, 64); err == nil {
				out[name] = n
			}
		case "number":
			if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
				out[name] = f
			}
		case "boolean":
			if b, err := strconv.ParseBool(s); err == nil {
				out[name] = b
			}
		}
	}
	return out
}

func validateParams(schema json.RawMessage, params map[string]any) error {
	if len(schema) == 0 {
		return nil
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schema),
		gojsonschema.NewGoLoader(params),
	)
	if err != nil {
		// An unusable schema is not the caller's fault
		return nil
	}

	if !result.Valid() {
		var errs []string
		for _, e := range result.Errors() {
			errs = append(errs, e.String())
		}
		return fmt.Errorf("schema validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
