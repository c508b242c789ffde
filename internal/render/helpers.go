// Package render produces the HTML session page for bintail reports.
package render

import "strings"

func htmlEscape(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	return s
}

// truncLabel shortens a label to maxLen, appending "..." if truncated.
func truncLabel(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

// barWidth scales n of total to at most max pixels, never below 2 for n > 0.
func barWidth(n, total uint64, max int) int {
	if n == 0 || total == 0 {
		return 0
	}
	w := int(n * uint64(max) / total)
	if w < 2 {
		w = 2
	}
	return w
}
