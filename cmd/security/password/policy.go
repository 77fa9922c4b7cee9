package password

import (
	"strings"
	"unicode/utf8"
)

var commonPasswords = map[string]struct{}{
	"password": {}, "123456": {}, "12345678": {}, "qwerty": {}, "letmein": {}, "111111": {},
}

// Validate applies the length bounds and, when enabled, the weak-password check.
func (c Config) Validate(pw string) error {
	n := utf8.RuneCountInString(pw)
	switch {
	case n < c.Policy.MinLength:
		return ErrTooShort
	case c.Policy.MaxLength > 0 && n > c.Policy.MaxLength:
		return ErrTooLong
	}
	if c.Policy.RejectWeak && weak(pw) {
		return ErrWeak
	}
	return nil
}

func weak(pw string) bool {
	if _, ok := commonPasswords[strings.ToLower(pw)]; ok {
		return true
	}
	// One repeated character.
	first, _ := utf8.DecodeRuneInString(pw)
	return strings.Trim(pw, string(first)) == ""
}
