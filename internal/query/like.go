package query

import "strings"

// likeMatch reports whether s matches a SQL-style LIKE pattern: '%'
// matches any run of characters (including none), '_' matches exactly
// one. Matching is case-sensitive. OpSim's case-insensitive test is a
// plain substring check in match.go and does not use this matcher.
//
// Implemented as the classic two-pointer wildcard matcher rather than
// compiling a regexp per evaluation, since '%'/'_' is the pattern's
// entire vocabulary.
func likeMatch(s, pattern string) bool {
	sr := []rune(s)
	pr := []rune(pattern)
	si, pi := 0, 0
	starIdx, matchIdx := -1, 0
	for si < len(sr) {
		switch {
		case pi < len(pr) && (pr[pi] == '_' || pr[pi] == sr[si]):
			si++
			pi++
		case pi < len(pr) && pr[pi] == '%':
			starIdx = pi
			matchIdx = si
			pi++
		case starIdx != -1:
			pi = starIdx + 1
			matchIdx++
			si = matchIdx
		default:
			return false
		}
	}
	for pi < len(pr) && pr[pi] == '%' {
		pi++
	}
	return pi == len(pr)
}

// likePrefix reports whether pattern is a plain prefix followed by a
// single trailing '%' and nothing else (the only LIKE shape the
// planner treats as index-eligible), returning that prefix.
func likePrefix(pattern string) (prefix string, ok bool) {
	if !strings.HasSuffix(pattern, "%") {
		return "", false
	}
	head := pattern[:len(pattern)-1]
	if strings.ContainsAny(head, "%_") {
		return "", false
	}
	return head, true
}
