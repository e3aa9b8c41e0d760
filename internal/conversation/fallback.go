package conversation

import (
	"regexp"
	"strings"
	"unicode"
)

// Default arguments used when a keyword rule fires
const (
	DefaultDays          = 90
	DefaultAssetLimit    = 10
	DefaultPartyLimit    = 5
	politicianStatsName  = "get_politician_stats"
	topTradedAssetsName  = "get_top_traded_assets"
	buyMomentumName      = "get_buy_momentum_assets"
	partyBuyMomentumName = "get_party_buy_momentum"
)

// Rule maps keywords in a message to a function call
type Rule struct {
	Name  string
	Match func(lower, original string) (FunctionCall, bool)
}

// DefaultRules is evaluated in order and the first match wins. Order matters:
// "top trades by politician" must stay a top-traded-assets question.
//
//  1. top + (trade | asset)      -> get_top_traded_assets
//  2. politician + (stat | trade) and a name can be found -> get_politician_stats
//  3. buy + momentum             -> get_buy_momentum_assets
//  4. party + momentum           -> get_party_buy_momentum
var DefaultRules = []Rule{
	{
		Name: "top_traded_assets",
		Match: func(lower, _ string) (FunctionCall, bool) {
			if strings.Contains(lower, "top") && containsAny(lower, "trade", "asset") {
				return FunctionCall{Name: topTradedAssetsName, Params: map[string]any{
					"days":  DefaultDays,
					"limit": DefaultAssetLimit,
				}}, true
			}
			return FunctionCall{}, false
		},
	},
	{
		Name: "politician_stats",
		Match: func(lower, original string) (FunctionCall, bool) {
			if !strings.Contains(lower, "politician") || !containsAny(lower, "stat", "trade") {
				return FunctionCall{}, false
			}
			name := extractPoliticianName(original)
			if name == "" {
				return FunctionCall{}, false
			}
			return FunctionCall{Name: politicianStatsName, Params: map[string]any{
				"politician": name,
				"days":       DefaultDays,
			}}, true
		},
	},
	{
		Name: "buy_momentum",
		Match: func(lower, _ string) (FunctionCall, bool) {
			if strings.Contains(lower, "buy") && strings.Contains(lower, "momentum") {
				return FunctionCall{Name: buyMomentumName, Params: map[string]any{
					"days":  DefaultDays,
					"limit": DefaultAssetLimit,
				}}, true
			}
			return FunctionCall{}, false
		},
	},
	{
		Name: "party_momentum",
		Match: func(lower, _ string) (FunctionCall, bool) {
			if strings.Contains(lower, "party") && strings.Contains(lower, "momentum") {
				return FunctionCall{Name: partyBuyMomentumName, Params: map[string]any{
					"days":  DefaultDays,
					"limit": DefaultPartyLimit,
				}}, true
			}
			return FunctionCall{}, false
		},
	},
}

// Fallback applies DefaultRules to message
func Fallback(message string) (FunctionCall, bool) {
	call, _, ok := MatchRules(DefaultRules, message)
	return call, ok
}

// MatchRules returns the call and rule name of the first rule that matches
func MatchRules(rules []Rule, message string) (FunctionCall, string, bool) {
	lower := strings.ToLower(message)
	for _, rule := range rules {
		if call, ok := rule.Match(lower, message); ok {
			if call.Params == nil {
				call.Params = map[string]any{}
			}
			return call, rule.Name, true
		}
	}
	return NoCall(), "", false
}

// The name is the run of capitalized words after the colon
var explicitPolitician = regexp.MustCompile(`\b(?i:politician)\s*:\s*([A-Z][A-Za-z'\-]*(?:[ \t]+[A-Z][A-Za-z'\-]*)*)`)

// Capitalized words that start sentences or name the domain, never a person
var nameStopWords = map[string]bool{
	"Show": true, "What": true, "Get": true, "Give": true, "Tell": true,
	"List": true, "How": true, "Which": true, "Who": true, "The": true,
	"Find": true, "Please": true, "Can": true, "Display": true, "Does": true,
	"Did": true, "Has": true, "Is": true, "Are": true, "Politician": true,
	"Politicians": true, "Stats": true, "Statistics": true, "Trade": true,
	"Trades": true, "Trading": true, "Senator": true, "Representative": true,
	"Congressman": true, "Congresswoman": true, "Rep": true, "Sen": true,
}

// extractPoliticianName prefers an explicit "politician: Name" and otherwise
// takes the first two adjacent capitalized words that are not stop words.
func extractPoliticianName(message string) string {
	if m := explicitPolitician.FindStringSubmatch(message); m != nil {
		name := strings.TrimSuffix(strings.TrimSpace(m[1]), "'s")
		if name = strings.Trim(name, "'-"); name != "" {
			return name
		}
	}

	fields := strings.Fields(message)
	for i := 0; i+1 < len(fields); i++ {
		first, firstClean := cleanWord(fields[i])
		second, _ := cleanWord(fields[i+1])
		// punctuation after the first word breaks the pair
		if !firstClean {
			continue
		}
		if isCapitalized(first) && isCapitalized(second) && !nameStopWords[first] && !nameStopWords[second] {
			return first + " " + second
		}
	}
	return ""
}

// cleanWord strips surrounding punctuation and a possessive suffix. clean is
// false when trailing punctuation was removed.
func cleanWord(w string) (word string, clean bool) {
	trimmed := strings.TrimRightFunc(w, unicode.IsPunct)
	clean = trimmed == w
	trimmed = strings.TrimSuffix(strings.TrimSuffix(trimmed, "'s"), "’s")
	trimmed = strings.TrimLeftFunc(trimmed, unicode.IsPunct)
	return trimmed, clean
}

func isCapitalized(w string) bool {
	if len(w) < 2 {
		return false
	}
	for i, r := range w {
		if i == 0 {
			if r < 'A' || r > 'Z' {
				return false
			}
			continue
		}
		if r < 'a' || r > 'z' {
			return false
		}
	}
	return true
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
