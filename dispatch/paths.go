package dispatch

import (
	"strings"

	"github.com/armon/go-radix"
)

// pathMatcher matches request paths against a configured bypass list.
// Supports exact match, prefix match (trailing *) and single-segment
// wildcards (+). Paths are matched without their leading slash.
type pathMatcher struct {
	// exact and prefix entries live in a radix tree; the stored value
	// marks prefix entries.
	tree *radix.Tree

	// wildcardPaths holds patterns with + segment wildcards.
	wildcardPaths []wildcardPath
}

type wildcardPath struct {
	segments []string
	isPrefix bool
}

func newPathMatcher(patterns []string) *pathMatcher {
	m := &pathMatcher{tree: radix.New()}

	for _, pattern := range patterns {
		pattern = strings.TrimPrefix(pattern, "/")
		if pattern == "" {
			continue
		}

		isPrefix := strings.HasSuffix(pattern, "*")
		if isPrefix {
			pattern = pattern[:len(pattern)-1]
		}

		if strings.Contains(pattern, "+") {
			m.wildcardPaths = append(m.wildcardPaths, wildcardPath{
				segments: strings.Split(pattern, "/"),
				isPrefix: isPrefix,
			})
			continue
		}

		m.tree.Insert(pattern, isPrefix)
	}

	return m
}

func (m *pathMatcher) matches(path string) bool {
	path = strings.TrimPrefix(path, "/")

	if match, raw, ok := m.tree.LongestPrefix(path); ok {
		if raw.(bool) {
			return strings.HasPrefix(path, match)
		}
		if match == path {
			return true
		}
	}

	pathParts := strings.Split(path, "/")
	for _, w := range m.wildcardPaths {
		if matchWildcardSegments(pathParts, w.segments, w.isPrefix) {
			return true
		}
	}

	return false
}

// matchWildcardSegments checks if path segments match a wildcard pattern
func matchWildcardSegments(pathParts, patternParts []string, isPrefix bool) bool {
	if !isPrefix && len(pathParts) != len(patternParts) {
		return false
	}
	if isPrefix && len(pathParts) < len(patternParts) {
		return false
	}

	for i, patternPart := range patternParts {
		if patternPart == "+" {
			continue
		}
		if pathParts[i] != patternPart {
			return false
		}
	}
	return true
}
