package chain

import (
	"regexp"
	"strings"
)

var addrPattern = regexp.MustCompile(`^(0x)?[0-9a-fA-F]{1,64}$`)

// NormalizeAddress canonicalizes a Move account address: lowercase, no 0x
// prefix, left-padded to 64 hex characters. Move tooling emits both short
// form ("0x1") and long form; comparing raw strings would reject payments
// sent to the same account.
func NormalizeAddress(addr string) string {
	a := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(addr), "0x"))
	if len(a) < 64 {
		a = strings.Repeat("0", 64-len(a)) + a
	}
	return a
}

// AddressesEqual compares two Move addresses after normalization.
func AddressesEqual(a, b string) bool {
	return NormalizeAddress(a) == NormalizeAddress(b)
}

// ValidAddress reports whether the string parses as a Move account address.
func ValidAddress(addr string) bool {
	return addrPattern.MatchString(strings.TrimSpace(addr))
}
