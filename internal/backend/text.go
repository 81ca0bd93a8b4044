package backend

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

// CleanPath normalizes a virtual path. Relative input is treated as rooted
// at "/". Paths containing ".." segments or starting with "~" are rejected.
func CleanPath(op, p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/", nil
	}
	if strings.HasPrefix(p, "~") {
		return "", NewError(op, p, KindInvalidPath, fmt.Errorf("home-relative paths are not allowed"))
	}
	for _, seg := range strings.Split(strings.ReplaceAll(p, "\\", "/"), "/") {
		if seg == ".." {
			return "", NewError(op, p, KindInvalidPath, fmt.Errorf("path traversal is not allowed"))
		}
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p), nil
}

// IsUnder reports whether p is dir itself or lies below it.
func IsUnder(p, dir string) bool {
	if dir == "/" {
		return strings.HasPrefix(p, "/")
	}
	return p == dir || strings.HasPrefix(p, dir+"/")
}

// SplitLines splits content into lines without their terminators.
// A trailing newline does not produce an extra empty line.
func SplitLines(content string) []string {
	if content == "" {
		return nil
	}
	lines := strings.Split(content, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}

// NumberLines renders lines [offset, offset+limit) of content with 1-based
// line numbers in the "%6d|text" form. A limit <= 0 means DefaultReadLimit.
func NumberLines(op, p, content string, offset, limit int) (string, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = DefaultReadLimit
	}
	lines := SplitLines(content)
	if len(lines) == 0 {
		return "", nil
	}
	if offset >= len(lines) {
		return "", NewError(op, p, KindOutOfRange,
			fmt.Errorf("line offset %d exceeds file length (%d lines)", offset, len(lines)))
	}
	end := offset + limit
	if end > len(lines) {
		end = len(lines)
	}

	var b strings.Builder
	for i := offset; i < end; i++ {
		fmt.Fprintf(&b, "%6d|%s", i+1, lines[i])
		if i < end-1 {
			b.WriteByte('\n')
		}
	}
	return b.String(), nil
}

var lineNumberPrefix = regexp.MustCompile(`(?m)^\s*\d+\|`)

// StripLineNumbers removes the prefixes added by NumberLines.
func StripLineNumbers(numbered string) string {
	return lineNumberPrefix.ReplaceAllString(numbered, "")
}

// ReplaceText performs the edit shared by every store and returns the new
// content and the number of replacements.
func ReplaceText(op, p, content, oldText, newText string, replaceAll bool) (string, int, error) {
	if oldText == "" {
		return "", 0, NewError(op, p, KindNoMatch, fmt.Errorf("old text must not be empty"))
	}
	n := strings.Count(content, oldText)
	switch {
	case n == 0:
		return "", 0, NewError(op, p, KindNoMatch, fmt.Errorf("old text not found"))
	case n > 1 && !replaceAll:
		return "", 0, NewError(op, p, KindAmbiguousMatch,
			fmt.Errorf("old text appears %d times; pass replace_all or add context", n))
	}
	if replaceAll {
		return strings.ReplaceAll(content, oldText, newText), n, nil
	}
	return strings.Replace(content, oldText, newText, 1), 1, nil
}
