package utils

import "strings"

// NormalizeKey trims surrounding whitespace and lower-cases a resource or
// action key.
func NormalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// ValidKey reports whether key is a dot-separated list of non-empty segments
// made of lowercase letters, digits, '_' and '-', e.g. "compose.document".
func ValidKey(key string) bool {
	if key == "" {
		return false
	}
	segLen := 0
	for i := 0; i < len(key); i++ {
		ch := key[i]
		switch {
		case ch == '.':
			if segLen == 0 {
				return false
			}
			segLen = 0
		case ch >= 'a' && ch <= 'z', ch >= '0' && ch <= '9', ch == '_', ch == '-':
			segLen++
		default:
			return false
		}
	}
	return segLen > 0
}

// ValidIdentifier reports whether s can be used as an attribute name inside
// a context path: a letter or '_' followed by letters, digits or '_'.
func ValidIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		ch := s[i]
		alpha := ch >= 'a' && ch <= 'z' || ch >= 'A' && ch <= 'Z' || ch == '_'
		if i == 0 && !alpha {
			return false
		}
		if !alpha && !(ch >= '0' && ch <= '9') {
			return false
		}
	}
	return true
}
