package common

import "regexp"

// CompilePattern compiles a regex, adding the case-insensitive flag unless
// caseSensitive is set.
func CompilePattern(pattern string, caseSensitive bool) (*regexp.Regexp, error) {
	if !caseSensitive {
		pattern = "(?i)" + pattern
	}
	return regexp.Compile(pattern)
}
