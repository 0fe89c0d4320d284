package app

import (
	"fmt"
	"unicode"
)

// minPassphraseLength is the minimum number of characters in a keystore
// passphrase.
const minPassphraseLength = 12

// ErrWeakPassphrase is returned when the passphrase fails the strength policy.
var ErrWeakPassphrase = fmt.Errorf(
	"passphrase is too weak (must be at least %d characters and include upper, lower, "+
		"number, and symbol)",
	minPassphraseLength,
)

// checkPassphrase enforces a basic strength policy on new keystores.
func checkPassphrase(passphrase string) error {
	var hasUpper, hasLower, hasDigit, hasSymbol bool
	if len(passphrase) < minPassphraseLength {
		return ErrWeakPassphrase
	}
	for _, r := range passphrase {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsPunct(r), unicode.IsSymbol(r):
			hasSymbol = true
		}
	}
	if !(hasUpper && hasLower && hasDigit && hasSymbol) {
		return ErrWeakPassphrase
	}
	return nil
}
