package conversation

import (
	"encoding/json"
	"strings"
)

// Extract pulls the first balanced {...} object out of raw model output and
// reads "function" and "params" from it. Anything unusable yields NoCall.
func Extract(raw string) FunctionCall {
	obj, ok := firstBalancedObject(raw)
	if !ok {
		return NoCall()
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(obj), &decoded); err != nil {
		return NoCall()
	}

	call := NoCall()
	if name, ok := decoded["function"].(string); ok {
		call.Name = strings.TrimSpace(name)
	}
	if params, ok := decoded["params"].(map[string]any); ok {
		call.Params = params
	}
	return call
}

// firstBalancedObject returns the first brace-delimited span whose braces
// balance. Braces inside JSON string literals are ignored. If an opening
// brace never closes, scanning restarts at the next one.
func firstBalancedObject(s string) (string, bool) {
	for start := strings.IndexByte(s, '{'); start >= 0; {
		if end, ok := matchBrace(s, start); ok {
			return s[start : end+1], true
		}

		next := strings.IndexByte(s[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}

// matchBrace returns the index of the brace closing the one at start
func matchBrace(s string, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(s); i++ {
		c := s[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}
