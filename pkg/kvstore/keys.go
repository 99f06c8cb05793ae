package kvstore

import "strings"

// MaxKeySize is the longest key accepted by any store (excluding the NUL
// terminator implied by the C original).
const MaxKeySize = 127

// reservedKeyChars mirrors spec.md §6.1's disallowed character set.
const reservedKeyChars = "*/?:;\\\"| <>"

// ValidateKey rejects empty keys, keys over MaxKeySize, and keys containing
// any reserved character.
func ValidateKey(key string) error {
	if len(key) == 0 || len(key) > MaxKeySize {
		return NewError("validate-key", key, InvalidArgument, nil)
	}
	if strings.ContainsAny(key, reservedKeyChars) {
		return NewError("validate-key", key, InvalidArgument, nil)
	}
	return nil
}

// HasPrefix reports whether key matches the iteration prefix. An empty
// prefix matches every key.
func HasPrefix(key, prefix string) bool {
	return prefix == "" || strings.HasPrefix(key, prefix)
}
