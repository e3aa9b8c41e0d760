package conversation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lexiqai/trades-chat/internal/history"
	"github.com/lexiqai/trades-chat/internal/llm"
	"github.com/lexiqai/trades-chat/internal/observability"
	"github.com/lexiqai/trades-chat/internal/prompt"
	"github.com/lexiqai/trades-chat/internal/tools"
)

// Fixed replies
const (
	AnalysisFailureReply = "I retrieved the data, but I'm having trouble analyzing it right now."
	NoDataReply          = "Sorry, I couldn't find any information on that. I'm currently having trouble accessing the data sources."
	DetectionFailureText = "I'm having trouble processing your request right now. Please try again later. Error: %s"

	suggestionsIntro = "Sorry, I couldn't find any information on that topic. However, I can help you with the following:\n\n"
	suggestionsHint  = "\nTry asking about one of these topics, or rephrase your question!"
)

// Synthesizer turns a dispatch outcome into the text shown to the user
type Synthesizer struct {
	gateway llm.Gateway
	prompts *prompt.Builder
	catalog prompt.ToolLister
}

// NewSynthesizer creates a Synthesizer
func NewSynthesizer(gateway llm.Gateway, prompts *prompt.Builder, catalog prompt.ToolLister) *Synthesizer {
	return &Synthesizer{gateway: gateway, prompts: prompts, catalog: catalog}
}

// Synthesize never fails: every outcome maps to some user-facing text.
//   - data: a second model call explains it
//   - error result: its message
//   - nil: suggestions built from the catalog
func (s *Synthesizer) Synthesize(ctx context.Context, message string, result *tools.Result, turns []history.Turn) string {
	switch {
	case result == nil:
		return s.suggestions(ctx)
	case result.IsError():
		if result.Message == "" {
			return tools.DispatchFailureMessage
		}
		return result.Message
	default:
		return s.analyze(ctx, message, result.Data, turns)
	}
}

func (s *Synthesizer) analyze(ctx context.Context, message string, data any, turns []history.Turn) string {
	p := s.prompts.BuildAnalysisPrompt(message, data, turns)

	start := time.Now()
	text, err := s.gateway.Complete(ctx, p)
	text = strings.TrimSpace(text)
	observability.RecordLLMCall("analysis", err == nil, time.Since(start))

	if err != nil {
		observability.FromContext(ctx).Warn().Err(err).Msg("Analysis call failed")
		return AnalysisFailureReply
	}
	if text == "" {
		observability.FromContext(ctx).Warn().Msg("Analysis call returned no text")
		return AnalysisFailureReply
	}
	return text
}

func (s *Synthesizer) suggestions(ctx context.Context) string {
	descriptors, err := s.catalog.Tools(ctx)
	if err != nil || len(descriptors) == 0 {
		return NoDataReply
	}

	var sb strings.Builder
	sb.WriteString(suggestionsIntro)
	for i, d := range descriptors {
		fmt.Fprintf(&sb, "%d. **%s**", i+1, d.Name)
		if d.Description != "" {
			fmt.Fprintf(&sb, " - %s", d.Description)
		}
		sb.WriteString("\n")
	}
	sb.WriteString(suggestionsHint)
	return sb.String()
}
