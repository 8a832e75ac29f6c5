package identity

import "strings"

// NormalizeUsername performs case-insensitive canonicalization (trim + lower-case).
func NormalizeUsername(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizeEmail performs case-insensitive canonicalization.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Lookup fields accepted by the directories.
const (
	FieldUsername = "username"
	FieldEmail    = "email"
)

// normalizeFor canonicalizes a login value for comparison against field.
func normalizeFor(field, v string) string {
	if field == FieldEmail {
		return NormalizeEmail(v)
	}
	return NormalizeUsername(v)
}

// parseLookupFields validates a lookup field list, defaulting to username only.
func parseLookupFields(fields []string) ([]string, error) {
	out := make([]string, 0, len(fields))
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		f = strings.ToLower(strings.TrimSpace(f))
		if f == "" || seen[f] {
			continue
		}
		if f != FieldUsername && f != FieldEmail {
			return nil, invalid("identity.LookupFields", "unsupported lookup field "+f)
		}
		seen[f] = true
		out = append(out, f)
	}
	if len(out) == 0 {
		out = append(out, FieldUsername)
	}
	return out, nil
}
