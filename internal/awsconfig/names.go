package awsconfig

import "strings"

// SanitizeName normalizes an account or session display name into a
// profile-safe identifier: lowercase, spaces and runs of hyphens
// collapsed to a single hyphen, anything else besides letters, digits
// and underscores dropped.
func SanitizeName(name string) string {
	var b strings.Builder
	lastHyphen := false

	for _, c := range name {
		switch {
		case c == ' ' || c == '-':
			if !lastHyphen && b.Len() > 0 {
				b.WriteByte('-')
				lastHyphen = true
			}
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_':
			b.WriteRune(c)
			lastHyphen = false
		}
	}

	return strings.ToLower(strings.TrimSuffix(b.String(), "-"))
}
