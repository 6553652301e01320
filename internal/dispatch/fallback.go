package dispatch

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"github.com/agentup/agentup/internal/llm"
)

// CallCandidate is one function invocation parsed out of a provider's
// plain-text response for models without native function-calling
// support. The model is prompted to emit a line per call in the form:
//
//	FUNCTION_CALL: function_name(arg1="value", arg2=42, arg3=true)
//
// ParseCalls tolerates escaped quotes inside string literals and bare
// numeric/boolean literals, since smaller/local models are inconsistent
// about quoting.
type CallCandidate struct {
	Name string
	Args map[string]any
}

const callPrefix = "FUNCTION_CALL:"

// ParseCalls scans text line by line and extracts every well-formed CALL
// directive. Malformed lines are skipped rather than failing the whole
// parse, since a single hallucinated line should not sink an otherwise
// valid batch of calls.
func ParseCalls(text string) []CallCandidate {
	var out []CallCandidate
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, callPrefix) {
			continue
		}
		if call, ok := parseCallLine(strings.TrimPrefix(line, callPrefix)); ok {
			out = append(out, call)
		}
	}
	return out
}

// grammarPrompt renders the section appended to the system prompt for a
// provider that lacks native function calling: a description of every
// available function followed by the FUNCTION_CALL line grammar
// ParseCalls expects back.
func grammarPrompt(defs []llm.ToolDefinition) string {
	if len(defs) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Available functions:\n")
	for _, d := range defs {
		b.WriteString("- " + d.Name + ": " + d.Description + "\n")
		if params, ok := d.InputSchema["properties"].(map[string]any); ok && len(params) > 0 {
			b.WriteString("  Parameters: " + describeParams(params) + "\n")
		}
	}
	b.WriteString("\nTo use a function, respond with:\n")
	b.WriteString("FUNCTION_CALL: function_name(param1=\"value1\", param2=\"value2\")\n\n")
	b.WriteString("You can call multiple functions by using multiple FUNCTION_CALL lines.\n")
	b.WriteString("After function calls, provide a natural response based on the results.")
	return b.String()
}

func describeParams(params map[string]any) string {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		typ := "any"
		if info, ok := params[name].(map[string]any); ok {
			if t, ok := info["type"].(string); ok {
				typ = t
			}
		}
		parts = append(parts, name+" ("+typ+")")
	}
	return strings.Join(parts, ", ")
}

func parseCallLine(line string) (CallCandidate, bool) {
	open := strings.Index(line, "(")
	if open < 0 || !strings.HasSuffix(line, ")") {
		return CallCandidate{}, false
	}
	name := strings.TrimSpace(line[:open])
	if name == "" {
		return CallCandidate{}, false
	}
	body := line[open+1 : len(line)-1]
	args, ok := parseArgs(body)
	if !ok {
		return CallCandidate{}, false
	}
	return CallCandidate{Name: name, Args: args}, true
}

// parseArgs splits a comma-separated key=value argument list, respecting
// quoted strings so a comma or closing paren inside a string literal
// doesn't split the argument early.
func parseArgs(body string) (map[string]any, bool) {
	args := map[string]any{}
	body = strings.TrimSpace(body)
	if body == "" {
		return args, true
	}
	for _, field := range splitTopLevel(body) {
		eq := strings.Index(field, "=")
		if eq < 0 {
			return nil, false
		}
		key := strings.TrimSpace(field[:eq])
		raw := strings.TrimSpace(field[eq+1:])
		if key == "" {
			return nil, false
		}
		args[key] = parseValue(raw)
	}
	return args, true
}

// splitTopLevel splits body on commas that are not inside a quoted
// string, unescaping \" as it scans.
func splitTopLevel(body string) []string {
	var fields []string
	var cur strings.Builder
	inString := false
	escaped := false
	for _, r := range body {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\' && inString:
			escaped = true
		case r == '"':
			inString = !inString
			cur.WriteRune(r)
		case r == ',' && !inString:
			fields = append(fields, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	if cur.Len() > 0 {
		fields = append(fields, cur.String())
	}
	return fields
}

func parseValue(raw string) any {
	if len(raw) >= 2 && raw[0] == '"' && raw[len(raw)-1] == '"' {
		var s string
		if err := json.Unmarshal([]byte(raw), &s); err == nil {
			return s
		}
		return strings.ReplaceAll(raw[1:len(raw)-1], `\"`, `"`)
	}
	if raw == "true" {
		return true
	}
	if raw == "false" {
		return false
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	return raw
}
