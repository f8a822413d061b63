// Package json extracts JSON values from model responses.
//
// Sub-agents are asked for JSON but often wrap it in prose or markdown
// fences. Extraction tries, in order:
// 1. The whole response
// 2. The body of the first fenced code block
// 3. Each balanced {...} or [...] value found by scanning the text
//
// Decode moves on to the next candidate when one does not fit the target type.
package json

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Extract returns the first valid JSON object or array in response.
func Extract(response string) (string, error) {
	candidates := Candidates(response)
	if len(candidates) == 0 {
		return "", extractError(response)
	}
	return candidates[0], nil
}

// Candidates returns every valid JSON object or array in response, in the
// order Extract would try them. Values nested in an earlier candidate are
// not repeated.
func Candidates(response string) []string {
	trimmed := strings.TrimSpace(response)
	if trimmed == "" {
		return nil
	}
	var out []string
	seen := make(map[string]bool)
	add := func(candidate string) {
		if !seen[candidate] {
			seen[candidate] = true
			out = append(out, candidate)
		}
	}

	if isContainer(trimmed) && json.Valid([]byte(trimmed)) {
		add(trimmed)
	}
	if body, ok := fencedBlock(trimmed); ok && isContainer(body) && json.Valid([]byte(body)) {
		add(body)
	}

	for start := 0; start < len(trimmed); start++ {
		if trimmed[start] != '{' && trimmed[start] != '[' {
			continue
		}
		end, ok := matchingClose(trimmed, start)
		if !ok {
			continue
		}
		if candidate := trimmed[start : end+1]; json.Valid([]byte(candidate)) {
			add(candidate)
			start = end
		}
	}
	return out
}

// Decode unmarshals the first JSON candidate in response that fits T.
func Decode[T any](response string) (T, error) {
	var result T
	candidates := Candidates(response)
	if len(candidates) == 0 {
		return result, extractError(response)
	}

	var firstErr error
	for _, raw := range candidates {
		var v T
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		return v, nil
	}
	return result, fmt.Errorf("failed to unmarshal JSON: %w", firstErr)
}

func extractError(response string) error {
	trimmed := strings.TrimSpace(response)
	if trimmed == "" {
		return fmt.Errorf("empty response")
	}
	return fmt.Errorf("failed to extract valid JSON from response: %q", preview(trimmed, 100))
}

func isContainer(s string) bool {
	return strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[")
}

// fencedBlock returns the contents of the first ``` block, ignoring the info string.
func fencedBlock(s string) (string, bool) {
	open := strings.Index(s, "```")
	if open == -1 {
		return "", false
	}
	rest := s[open+3:]
	nl := strings.IndexByte(rest, '\n')
	if nl == -1 {
		return "", false
	}
	rest = rest[nl+1:]
	end := strings.Index(rest, "```")
	if end == -1 {
		return strings.TrimSpace(rest), true
	}
	return strings.TrimSpace(rest[:end]), true
}

// matchingClose finds the bracket closing the one at start, skipping string literals.
func matchingClose(s string, start int) (int, bool) {
	var stack []byte
	inString, escaped := false, false
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
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1] != c {
				return 0, false
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
