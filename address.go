package mms

import "strings"

// NormalizeAddress canonicalizes a remote party address for storage and
// group matching.
//
// Phone numbers lose visual separators (spaces, dots, dashes, parentheses)
// and keep a single leading plus, digits, and the service-code characters
// '*' and '#'. Addresses containing '@' pass through trimmed and lowercased
// in the domain part. Alphanumeric sender ids ("carrier class zero" senders,
// short codes with letters) pass through trimmed, since stripping them would
// destroy the identifier.
func NormalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return ""
	}

	if at := strings.LastIndexByte(addr, '@'); at >= 0 {
		return addr[:at+1] + strings.ToLower(addr[at+1:])
	}

	var b strings.Builder
	b.Grow(len(addr))
	digits := 0
	for i, r := range addr {
		switch {
		case r >= '0' && r <= '9':
			digits++
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r == '*' || r == '#':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '.' || r == '(' || r == ')':
			// visual separators
		default:
			// Not a phone number; keep the original sender id.
			return addr
		}
	}
	if digits == 0 {
		return addr
	}
	return b.String()
}

// normalizeAddressList normalizes each address, dropping entries that
// normalize to empty.
func normalizeAddressList(addrs []string) []string {
	if len(addrs) == 0 {
		return nil
	}
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if n := NormalizeAddress(a); n != "" {
			out = append(out, n)
		}
	}
	return out
}
