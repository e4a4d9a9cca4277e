package downloader

import "strings"

// SanitizeName reduces a display name to a safe file or directory
// name: letters, digits, dot, space, underscore, and dash survive,
// everything else is dropped. An empty result becomes "unnamed".
func SanitizeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.', r == ' ', r == '_', r == '-':
			b.WriteRune(r)
		}
	}
	out := strings.TrimSpace(b.String())
	out = strings.Trim(out, ".")
	if out == "" {
		return "unnamed"
	}
	return out
}
