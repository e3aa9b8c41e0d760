package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lexiqai/trades-chat/internal/history"
	"github.com/lexiqai/trades-chat/internal/llm"
	"github.com/lexiqai/trades-chat/internal/observability"
	"github.com/lexiqai/trades-chat/internal/prompt"
	"github.com/lexiqai/trades-chat/internal/tools"
)

// AnonymousUser is used when a request carries no user id
const AnonymousUser = "anonymous"

var (
	// ErrInvalidMessage is returned for empty or whitespace-only messages
	ErrInvalidMessage = errors.New("message is required and must be a non-empty string")
	// ErrNotConfigured is returned when the model gateway has no credentials
	ErrNotConfigured = llm.ErrNotConfigured
)

// State is a step of one chat turn
type State string

const (
	StateReceived        State = "RECEIVED"
	StateDetecting       State = "DETECTING"
	StateDetectionFailed State = "DETECTION_FAILED"
	StateFunctionFound   State = "FUNCTION_FOUND"
	StateNoFunction      State = "NO_FUNCTION"
	StateDataOK          State = "DATA_OK"
	StateDataFailed      State = "DATA_FAILED"
	StateFallbackTried   State = "FALLBACK_TRIED"
	StateNoData          State = "NO_DATA"
	StateSynthesizing    State = "SYNTHESIZING"
	StateDone            State = "DONE"
)

// Dispatcher runs a named data function; nil means nothing was resolved
type Dispatcher interface {
	Dispatch(ctx context.Context, name string, params map[string]any) *tools.Result
}

// Request is one inbound chat message
type Request struct {
	UserID  string
	Message string
}

// Reply is the outcome of one chat turn
type Reply struct {
	Text     string
	DataUsed bool    // true only when a data function returned data
	Function string  // function whose data was used, if any
	State    State   // outcome state reached before synthesis
	Path     []State // every state visited
}

// Orchestrator runs chat turns
type Orchestrator struct {
	gateway     llm.Gateway
	prompts     *prompt.Builder
	dispatcher  Dispatcher
	synthesizer *Synthesizer
	store       history.Store
	locks       *history.KeyedMutex
	maxTurns    int
	saveTimeout time.Duration
}

// Options wires an Orchestrator
type Options struct {
	Gateway     llm.Gateway
	Prompts     *prompt.Builder
	Dispatcher  Dispatcher
	Synthesizer *Synthesizer
	Store       history.Store
	MaxTurns    int
}

// NewOrchestrator creates an Orchestrator
func NewOrchestrator(opts Options) *Orchestrator {
	maxTurns := opts.MaxTurns
	if maxTurns <= 0 {
		maxTurns = history.DefaultMaxTurns
	}
	return &Orchestrator{
		gateway:     opts.Gateway,
		prompts:     opts.Prompts,
		dispatcher:  opts.Dispatcher,
		synthesizer: opts.Synthesizer,
		store:       opts.Store,
		locks:       history.NewKeyedMutex(),
		maxTurns:    maxTurns,
		saveTimeout: 5 * time.Second,
	}
}

// turn carries the working state of one Handle call
type turn struct {
	path     []State
	outcome  State
	result   *tools.Result
	function string
}

func (t *turn) enter(s State) {
	t.path = append(t.path, s)
}

// Handle runs one chat turn. Apart from input and configuration errors it
// always returns a reply, and the user's history gains exactly one user turn
// and one assistant turn.
func (o *Orchestrator) Handle(ctx context.Context, req Request) (*Reply, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return nil, ErrInvalidMessage
	}
	if !o.gateway.Configured() {
		return nil, ErrNotConfigured
	}

	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		userID = AnonymousUser
	}

	logger := observability.FromContext(ctx).With().Str("user_id", userID).Logger()
	ctx = logger.WithContext(ctx)

	t := &turn{}
	t.enter(StateReceived)

	metrics := observability.NewTurnMetrics()
	defer func() { metrics.RecordTurnEnd(string(t.outcome)) }()

	// Same-user turns in this process run one at a time from load to save,
	// so each turn sees the previous one as context. Append keeps turns from
	// other processes.
	unlock := o.locks.Lock(userID)
	defer unlock()

	turns, err := o.store.Load(ctx, userID)
	observability.RecordHistoryOperation("load", err == nil)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to load history, continuing without it")
		turns = nil
	}
	turns = history.Window(turns, o.maxTurns)

	var text string
	t.enter(StateDetecting)
	raw, err := o.detect(ctx, message, turns)
	if err != nil {
		logger.Warn().Err(err).Msg("Detection call failed")
		t.enter(StateDetectionFailed)
		t.outcome = StateDetectionFailed
		text = fmt.Sprintf(DetectionFailureText, err.Error())
	} else {
		o.resolve(ctx, t, message, raw)
		t.enter(StateSynthesizing)
		text = o.synthesizer.Synthesize(ctx, message, t.result, turns)
	}

	o.save(ctx, userID, history.UserTurn(message), history.AssistantTurn(text))
	t.enter(StateDone)

	logger.Info().
		Str("outcome", string(t.outcome)).
		Str("function", t.function).
		Interface("path", t.path).
		Msg("Chat turn completed")

	return &Reply{
		Text:     text,
		DataUsed: t.result != nil && !t.result.IsError(),
		Function: t.function,
		State:    t.outcome,
		Path:     t.path,
	}, nil
}

func (o *Orchestrator) detect(ctx context.Context, message string, turns []history.Turn) (string, error) {
	p := o.prompts.BuildDetectionPrompt(ctx, message, turns)

	start := time.Now()
	raw, err := o.gateway.Complete(ctx, p)
	observability.RecordLLMCall("detection", err == nil, time.Since(start))
	return raw, err
}

// resolve picks the data for this turn: the extracted call first, then the
// keyword fallback. A fallback that fails to produce data leaves no result so
// the user gets suggestions instead of an error.
func (o *Orchestrator) resolve(ctx context.Context, t *turn, message, raw string) {
	logger := observability.FromContext(ctx)

	call := Extract(raw)
	if !call.IsAbsent() {
		if result := o.dispatcher.Dispatch(ctx, call.Name, call.Params); result != nil {
			t.enter(StateFunctionFound)
			t.result = result
			t.function = call.Name
			if result.IsError() {
				t.outcome = StateDataFailed
			} else {
				t.outcome = StateDataOK
			}
			t.enter(t.outcome)
			return
		}
		logger.Debug().Str("function", call.Name).Msg("Extracted function did not resolve")
	}

	t.enter(StateNoFunction)

	fallback, rule, ok := MatchRules(DefaultRules, message)
	if !ok {
		observability.RecordFallback("none")
		t.outcome = StateNoData
		t.enter(StateNoData)
		return
	}

	observability.RecordFallback(rule)
	t.enter(StateFallbackTried)
	logger.Debug().Str("rule", rule).Str("function", fallback.Name).Msg("Keyword fallback matched")

	result := o.dispatcher.Dispatch(ctx, fallback.Name, fallback.Params)
	if result == nil || result.IsError() {
		t.outcome = StateNoData
		t.enter(StateNoData)
		return
	}

	t.result = result
	t.function = fallback.Name
	t.outcome = StateDataOK
	t.enter(StateDataOK)
}

func (o *Orchestrator) save(ctx context.Context, userID string, turns ...history.Turn) {
	// Finish the write even if the client has gone away
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.saveTimeout)
	defer cancel()

	err := o.store.Append(saveCtx, userID, turns...)
	observability.RecordHistoryOperation("save", err == nil)
	if err != nil {
		observability.FromContext(ctx).Error().Err(err).Msg("Failed to save history")
	}
}

// History returns the stored turns for userID
func (o *Orchestrator) History(ctx context.Context, userID string) ([]history.Turn, error) {
	if strings.TrimSpace(userID) == "" {
		userID = AnonymousUser
	}
	turns, err := o.store.Load(ctx, userID)
	observability.RecordHistoryOperation("load", err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	return turns, nil
}
