package pkg

import "strings"

// IsBlank report whether s has only whitespace
func IsBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
