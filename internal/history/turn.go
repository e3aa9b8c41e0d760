// Package history persists the bounded per-user conversation log.
package history

// DefaultMaxTurns is the number of turns kept per user when none is configured
const DefaultMaxTurns = 30

// Role identifies who produced a turn
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message in a conversation. Turns are never modified after creation.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// UserTurn creates a turn authored by the user
func UserTurn(content string) Turn {
	return Turn{Role: RoleUser, Content: content}
}

// AssistantTurn creates a turn authored by the assistant
func AssistantTurn(content string) Turn {
	return Turn{Role: RoleAssistant, Content: content}
}

// Window returns a copy of the most recent maxTurns turns in chronological order.
// A non-positive maxTurns means DefaultMaxTurns.
func Window(turns []Turn, maxTurns int) []Turn {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	if len(turns) > maxTurns {
		turns = turns[len(turns)-maxTurns:]
	}
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out
}
