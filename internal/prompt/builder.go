// Package prompt renders the detection and analysis prompts sent to the model.
package prompt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/lexiqai/trades-chat/internal/history"
	"github.com/lexiqai/trades-chat/internal/tools"
)

const (
	// DegradedSchema replaces the catalog rendering when it cannot be fetched
	DegradedSchema = "Data functions are available but their schema could not be loaded."
	// EmptySchema is rendered when the catalog has no functions
	EmptySchema = "No data functions are available."

	noHistory = "(No previous messages)"
)

// ToolLister provides the function catalog
type ToolLister interface {
	Tools(ctx context.Context) ([]tools.Descriptor, error)
}

// Builder renders prompts. The catalog rendering is computed on first use and
// reused for the Builder's lifetime; a failed rendering is retried on the next call.
type Builder struct {
	catalog  ToolLister
	maxTurns int

	mu     sync.Mutex
	schema string
}

// NewBuilder creates a Builder. maxTurns bounds the history embedded in prompts.
func NewBuilder(catalog ToolLister, maxTurns int) *Builder {
	if maxTurns <= 0 {
		maxTurns = history.DefaultMaxTurns
	}
	return &Builder{catalog: catalog, maxTurns: maxTurns}
}

// BuildDetectionPrompt asks the model whether a data function is needed
func (b *Builder) BuildDetectionPrompt(ctx context.Context, message string, turns []history.Turn) string {
	var sb strings.Builder

	sb.WriteString(b.schemaText(ctx))
	sb.WriteString("\n\nConversation History:\n")
	sb.WriteString(b.renderHistory(turns))
	sb.WriteString("\n\nUser: ")
	sb.WriteString(message)
	sb.WriteString("\n\nAssistant: Decide whether answering this message needs one of the data functions above. ")
	sb.WriteString("Your reply MUST begin with a JSON object in exactly one of these forms:\n")
	sb.WriteString(`{"function": "<function_name>", "params": {...}} OR {"function": null}`)
	sb.WriteString("\n\nExample:\n")
	sb.WriteString(`{"function": "get_top_traded_assets", "params": {"days": 90, "limit": 10}}`)

	return sb.String()
}

// BuildAnalysisPrompt asks the model to explain retrieved data to the user
func (b *Builder) BuildAnalysisPrompt(message string, data any, turns []history.Turn) string {
	var sb strings.Builder

	sb.WriteString("You are an assistant that explains politician trading disclosures. ")
	sb.WriteString("Write answers that are accurate, well organized and easy to scan.\n\n")
	sb.WriteString("Conversation History:\n")
	sb.WriteString(b.renderHistory(turns))
	sb.WriteString("\n\nUser asked: ")
	sb.WriteString(message)
	sb.WriteString("\n\nData Retrieved:\n")
	sb.WriteString(renderData(data))
	sb.WriteString("\n\nUse this data to answer the user's question in natural language. Do not repeat the raw JSON.\n\n")
	sb.WriteString(`Formatting:
- Use markdown.
- Group the answer into sections with ## headers.
- Put each list item on its own line, starting with "- ".
- Never put several bullet symbols (•) on a single line.
- Make key numbers and statistics **bold**.
- Prefer markdown tables or lists for structured data.
- Keep paragraphs short and separate topics with blank lines.

Structure:
1. Open with a one or two sentence answer to the question.
2. Present the main findings in order of importance.
3. Quote concrete numbers, dates and names from the data.
4. Close with any notable pattern or caveat the data shows.`)

	return sb.String()
}

// schemaText returns the cached catalog rendering, rendering it if needed
func (b *Builder) schemaText(ctx context.Context) string {
	b.mu.Lock()
	cached := b.schema
	b.mu.Unlock()
	if cached != "" {
		return cached
	}

	descriptors, err := b.catalog.Tools(ctx)
	if err != nil {
		return DegradedSchema
	}

	rendered := RenderCatalog(descriptors)

	b.mu.Lock()
	if b.schema == "" {
		b.schema = rendered
	}
	rendered = b.schema
	b.mu.Unlock()

	return rendered
}

// RenderCatalog lists every function with its parameters. Optional
// parameters carry a trailing "?".
func RenderCatalog(descriptors []tools.Descriptor) string {
	if len(descriptors) == 0 {
		return EmptySchema
	}

	var sb strings.Builder
	sb.WriteString("Available data functions:\n\n")

	for i, d := range descriptors {
		fmt.Fprintf(&sb, "%d. %s", i+1, d.Name)
		if d.Description != "" {
			fmt.Fprintf(&sb, "\n   - %s", d.Description)
		}

		names := d.ParameterNames()
		if len(names) > 0 {
			params := make([]string, 0, len(names))
			for _, name := range names {
				p := d.Parameters[name]
				marker := "?"
				if p.Required {
					marker = ""
				}
				typ := p.Type
				if typ == "" {
					typ = "any"
				}
				param := fmt.Sprintf("%s%s: %s", name, marker, typ)
				if p.Description != "" {
					param += fmt.Sprintf(" (%s)", p.Description)
				}
				params = append(params, param)
			}
			fmt.Fprintf(&sb, "\n   - Parameters: %s", strings.Join(params, ", "))
		}
		sb.WriteString("\n\n")
	}

	sb.WriteString("When the user asks about politician trades, traded assets or trading statistics, answer with a JSON object naming the function and its parameters:\n")
	sb.WriteString("{\n  \"function\": \"function_name\",\n  \"params\": {\"param1\": \"value1\"}\n}\n\n")
	sb.WriteString(`If no data is needed, answer with {"function": null}`)

	return sb.String()
}

func (b *Builder) renderHistory(turns []history.Turn) string {
	window := history.Window(turns, b.maxTurns)
	if len(window) == 0 {
		return noHistory
	}

	lines := make([]string, len(window))
	for i, t := range window {
		lines[i] = fmt.Sprintf("%s: %s", t.Role, t.Content)
	}
	return strings.Join(lines, "\n")
}

func renderData(data any) string {
	out, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(out)
}
