// Package envfile contains pure functions for reading and patching KEY=value
// environment files. This is part of the Functional Core - all functions are
// pure with no I/O. Patching is key-level: lines for known keys are replaced
// in place, untouched lines (including comments and blanks) keep their order
// and content byte-for-byte, and absent keys are appended at the end.
package envfile

import "strings"

// =============================================================================
// Types
// =============================================================================

// Var is a single environment variable to set.
type Var struct {
	Key   string
	Value string
}

// =============================================================================
// Parsing
// =============================================================================

// Parse extracts all KEY=value pairs from an env file.
// Comments, blank lines and malformed lines are skipped. Later occurrences of
// a key win, matching how docker compose resolves duplicate entries.
func Parse(content string) map[string]string {
	entries := make(map[string]string)
	for _, line := range strings.Split(content, "\n") {
		key, value, ok := splitLine(line)
		if !ok {
			continue
		}
		entries[key] = value
	}
	return entries
}

// Lookup returns the value for key, and whether the key is present.
func Lookup(content, key string) (string, bool) {
	v, ok := Parse(content)[key]
	return v, ok
}

// =============================================================================
// Merging
// =============================================================================

// Merge applies vars to an env file's content and returns the new content.
//
// Existing KEY=value lines are rewritten in place; every other line is
// preserved exactly. Keys not present in the file are appended in the order
// given. Merge is idempotent: merging the same vars twice yields
// byte-identical output.
func Merge(content string, vars []Var) string {
	updates := make(map[string]string, len(vars))
	for _, v := range vars {
		updates[v.Key] = v.Value
	}

	applied := make(map[string]bool, len(vars))
	lines := strings.Split(content, "\n")

	// Drop a single trailing empty line so appends don't accumulate blanks.
	trailingNewline := false
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
		trailingNewline = true
	}

	for i, line := range lines {
		key, _, ok := splitLine(line)
		if !ok {
			continue
		}
		if newValue, found := updates[key]; found {
			lines[i] = key + "=" + newValue
			applied[key] = true
		}
	}

	for _, v := range vars {
		if !applied[v.Key] {
			lines = append(lines, v.Key+"="+v.Value)
			applied[v.Key] = true
		}
	}

	out := strings.Join(lines, "\n")
	if trailingNewline || len(lines) > 0 {
		out += "\n"
	}
	return out
}

// splitLine splits a single env file line into key and value.
// Returns ok=false for comments, blank lines and lines without '='.
func splitLine(line string) (key, value string, ok bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return "", "", false
	}
	idx := strings.Index(trimmed, "=")
	if idx <= 0 {
		return "", "", false
	}
	key = strings.TrimSpace(trimmed[:idx])
	value = trimmed[idx+1:]
	if key == "" || strings.ContainsAny(key, " \t") {
		return "", "", false
	}
	return key, value, true
}
