package backend

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"openwork/internal/types"
)

// CompilePattern compiles a grep pattern, mapping syntax errors to KindInvalidPattern.
func CompilePattern(op, pattern string) (*regexp.Regexp, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, NewError(op, pattern, KindInvalidPattern, err)
	}
	return re, nil
}

// ValidateGlob checks a glob pattern, mapping syntax errors to KindInvalidPattern.
func ValidateGlob(op, pattern string) error {
	if pattern == "" {
		return nil
	}
	if !doublestar.ValidatePattern(pattern) {
		return NewError(op, pattern, KindInvalidPattern, fmt.Errorf("malformed glob"))
	}
	return nil
}

// MatchGlob reports whether the file p matches pattern. Absolute patterns are
// matched against the full virtual path, others against the path relative to
// base. Patterns without a slash also match on the base name, so "*.go"
// finds Go files at any depth.
func MatchGlob(pattern, base, p string) bool {
	if pattern == "" {
		return true
	}
	if strings.HasPrefix(pattern, "/") {
		ok, _ := doublestar.Match(pattern, p)
		return ok
	}
	rel := strings.TrimPrefix(strings.TrimPrefix(p, base), "/")
	if ok, _ := doublestar.Match(pattern, rel); ok {
		return true
	}
	if !strings.Contains(pattern, "/") {
		name := rel
		if i := strings.LastIndex(rel, "/"); i >= 0 {
			name = rel[i+1:]
		}
		ok, _ := doublestar.Match(pattern, name)
		return ok
	}
	return false
}

// GrepContent returns the lines of content matching re. Lines have no length
// limit.
func GrepContent(re *regexp.Regexp, p string, content []byte) []types.GrepMatch {
	var matches []types.GrepMatch
	lines := bytes.Split(content, []byte("\n"))
	if n := len(lines); n > 0 && len(lines[n-1]) == 0 {
		lines = lines[:n-1]
	}
	for i, raw := range lines {
		text := string(bytes.TrimSuffix(raw, []byte("\r")))
		if re.MatchString(text) {
			matches = append(matches, types.GrepMatch{Path: p, Line: i + 1, Text: text})
		}
	}
	return matches
}
