package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFallback(t *testing.T) {
	tests := []struct {
		message string
		name    string
		params  map[string]any
	}{
		{
			message: "Show me the top traded assets",
			name:    "get_top_traded_assets",
			params:  map[string]any{"days": 90, "limit": 10},
		},
		{
			message: "Which stocks are TOP TRADES lately",
			name:    "get_top_traded_assets",
			params:  map[string]any{"days": 90, "limit": 10},
		},
		{
			message: "Show politician stats for Nancy Pelosi",
			name:    "get_politician_stats",
			params:  map[string]any{"politician": "Nancy Pelosi", "days": 90},
		},
		{
			message: "politician: Dan Crenshaw trades",
			name:    "get_politician_stats",
			params:  map[string]any{"politician": "Dan Crenshaw trades", "days": 90},
		},
		{
			message: "What trades has the politician Senator Tommy Tuberville's office made?",
			name:    "get_politician_stats",
			params:  map[string]any{"politician": "Tommy Tuberville", "days": 90},
		},
		{
			message: "any buy momentum this quarter?",
			name:    "get_buy_momentum_assets",
			params:  map[string]any{"days": 90, "limit": 10},
		},
		{
			message: "Which party has momentum?",
			name:    "get_party_buy_momentum",
			params:  map[string]any{"days": 90, "limit": 5},
		},
	}

	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			call, ok := Fallback(tt.message)
			assert.True(t, ok)
			assert.Equal(t, tt.name, call.Name)
			assert.Equal(t, tt.params, call.Params)
		})
	}
}

func TestFallback_NoMatch(t *testing.T) {
	for _, msg := range []string{"hello there", "", "what is the weather"} {
		call, ok := Fallback(msg)
		assert.False(t, ok, msg)
		assert.True(t, call.IsAbsent())
		assert.NotNil(t, call.Params)
	}
}

func TestFallback_OrderIsPriority(t *testing.T) {
	// matches rules 1 and 2; rule 1 wins
	call, ok := Fallback("Top trades by politician Nancy Pelosi")
	assert.True(t, ok)
	assert.Equal(t, "get_top_traded_assets", call.Name)

	// matches rules 3 and 4; rule 3 wins
	call, ok = Fallback("party buy momentum")
	assert.True(t, ok)
	assert.Equal(t, "get_buy_momentum_assets", call.Name)
}

func TestFallback_PoliticianRuleWithoutNameFallsThrough(t *testing.T) {
	// no name: the politician rule must not fire, so the buy momentum rule does
	call, ok := Fallback("politician trade buy momentum")
	assert.True(t, ok)
	assert.Equal(t, "get_buy_momentum_assets", call.Name)

	_, ok = Fallback("show me politician stats")
	assert.False(t, ok)
}

func TestMatchRules_ReportsRuleName(t *testing.T) {
	_, rule, ok := MatchRules(DefaultRules, "party momentum please")
	assert.True(t, ok)
	assert.Equal(t, "party_momentum", rule)
}

func TestExtractPoliticianName(t *testing.T) {
	tests := []struct {
		message string
		want    string
	}{
		{message: "Show Nancy Pelosi stats", want: "Nancy Pelosi"},
		{message: "politician: Josh Gottheimer", want: "Josh Gottheimer"},
		{message: "POLITICIAN:Ro Khanna", want: "Ro Khanna"},
		{message: "Show stats for politician: Nancy Pelosi over the last year", want: "Nancy Pelosi"},
		{message: "politician: Beto O'Rourke's trades", want: "Beto O'Rourke"},
		{message: "What are Nancy Pelosi's politician trades?", want: "Nancy Pelosi"},
		{message: "Hello, Nancy Pelosi", want: "Nancy Pelosi"},
		{message: "show me stats", want: ""},
		{message: "What Is going on", want: ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, extractPoliticianName(tt.message), tt.message)
	}
}
