package utils

import (
	"strconv"
	"strings"
)

// StringToInt parses val, returning 0 when it is not a number
func StringToInt(val string) int {
	i, err := strconv.Atoi(strings.TrimSpace(val))
	if err != nil {
		return 0
	}
	return i
}

// MaskMiddle keeps the first and last n characters of s. Used to shorten
// opaque session identifiers in logs.
func MaskMiddle(s string, n int) string {
	if n <= 0 || len(s) <= 2*n+3 {
		return s
	}
	return s[:n] + "..." + s[len(s)-n:]
}
