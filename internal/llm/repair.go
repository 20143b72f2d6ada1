package llm

import "strings"

// RepairJSON attempts to mend common model-output defects: markdown code
// fences, prose before the object, unterminated strings, trailing commas,
// and unbalanced braces or brackets from truncated output. It returns the
// input unchanged when nothing needed fixing.
func RepairJSON(raw string) string {
	s := stripCodeFences(strings.TrimSpace(raw))

	if start := strings.Index(s, "{"); start > 0 {
		s = s[start:]
	}

	var stack []byte
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
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
		case '{', '[':
			stack = append(stack, c)
		case '}':
			if len(stack) > 0 && stack[len(stack)-1] == '{' {
				stack = stack[:len(stack)-1]
			}
		case ']':
			if len(stack) > 0 && stack[len(stack)-1] == '[' {
				stack = stack[:len(stack)-1]
			}
		}
	}

	if inString {
		s += `"`
	}

	// A truncated object often ends mid-element. Drop a dangling comma or
	// colon before closing the remaining scopes.
	s = strings.TrimRight(s, " \t\n\r")
	for len(s) > 0 && (s[len(s)-1] == ',' || s[len(s)-1] == ':') {
		s = strings.TrimRight(s[:len(s)-1], " \t\n\r")
	}

	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == '{' {
			s += "}"
		} else {
			s += "]"
		}
	}

	return s
}

func stripCodeFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	if end := strings.LastIndex(s, "```"); end >= 0 {
		s = s[:end]
	}
	return strings.TrimSpace(s)
}
