package permission

// MatchPattern reports whether s matches pattern, where '*' matches any run
// of characters (including none). This is the only wildcard form role
// patterns use; full glob syntax is not supported.
func MatchPattern(pattern, s string) bool {
	return matchPattern(pattern, s)
}

func matchPattern(pattern, s string) bool {
	for len(pattern) > 0 {
		if pattern[0] == '*' {
			// Collapse consecutive stars.
			for len(pattern) > 0 && pattern[0] == '*' {
				pattern = pattern[1:]
			}
			if len(pattern) == 0 {
				return true
			}
			for i := 0; i <= len(s); i++ {
				if matchPattern(pattern, s[i:]) {
					return true
				}
			}
			return false
		}
		if len(s) == 0 || pattern[0] != s[0] {
			return false
		}
		pattern = pattern[1:]
		s = s[1:]
	}
	return len(s) == 0
}

// matchAnyPattern reports whether s matches any of the patterns.
func matchAnyPattern(patterns []string, s string) bool {
	for _, p := range patterns {
		if matchPattern(p, s) {
			return true
		}
	}
	return false
}
