package command

import "strings"

// Quote quotes s so the platform shell passes it through as one word.
func Quote(platform Platform, s string) string {
	if platform == PlatformWindows {
		return quoteWindows(s)
	}
	return quotePOSIX(s)
}

// QuoteAll quotes each argument and joins them with spaces.
func QuoteAll(platform Platform, args []string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = Quote(platform, a)
	}
	return strings.Join(quoted, " ")
}

func quotePOSIX(s string) string {
	if s == "" {
		return "''"
	}
	if isSafe(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func quoteWindows(s string) string {
	if s == "" {
		return `""`
	}
	if isSafe(s) {
		return s
	}
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// isSafe reports whether s contains only characters that no supported
// shell treats specially.
func isSafe(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case strings.ContainsRune("-_./:=,+@%", r):
		default:
			return false
		}
	}
	return true
}
