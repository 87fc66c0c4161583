package util

import "strings"

// ContainsAny reports whether s contains at least one of the given substrings.
func ContainsAny(s string, substrings []string) bool {
	for _, substring := range substrings {
		if strings.Contains(s, substring) {
			return true
		}
	}

	return false
}
