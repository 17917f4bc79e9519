package service

import (
	"strings"
	"unicode/utf8"
)

// Cut truncates s to at most n characters.
func Cut(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// SanitizeName returns a DNS-1123 label made of prefix and name: lowercase
// alphanumerics and dashes, at most 63 characters.
func SanitizeName(prefix, name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(prefix + "-" + name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return strings.Trim(Cut(b.String(), 63), "-")
}

// ManagedDBNameSanitizer returns prefix followed by the alphanumerics of
// name, cut to maxSize-len(prefix) characters.
func ManagedDBNameSanitizer(maxSize int, prefix, name string) string {
	var b strings.Builder
	b.WriteString(prefix)
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return Cut(b.String(), maxSize-len(prefix))
}
