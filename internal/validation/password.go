// Package validation holds the password policy shared by the user service and
// the admin CLI.
package validation

import (
	"fmt"
	"strings"
	"unicode"
)

// Policy is a password rule set.
type Policy struct {
	MinLen int
	MaxLen int
	// MinEmailOverlap is the shortest email local part that may not appear
	// inside the password. Zero disables the check.
	MinEmailOverlap int
}

// DefaultPolicy applies to every principal.
var DefaultPolicy = Policy{MinLen: 12, MaxLen: 128, MinEmailOverlap: 4}

// Check validates password for the account with the given email. email may be
// empty. Missing character classes are reported together.
func (p Policy) Check(password, email string) error {
	n := len([]rune(password))
	if n < p.MinLen {
		return fmt.Errorf("password must be at least %d characters long", p.MinLen)
	}
	if n > p.MaxLen {
		return fmt.Errorf("password must not exceed %d characters", p.MaxLen)
	}

	var upper, lower, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			special = true
		}
	}
	var missing []string
	for _, c := range []struct {
		ok   bool
		name string
	}{
		{upper, "an uppercase letter"},
		{lower, "a lowercase letter"},
		{digit, "a digit"},
		{special, "a special character"},
	} {
		if !c.ok {
			missing = append(missing, c.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("password must contain %s", strings.Join(missing, ", "))
	}

	if p.MinEmailOverlap > 0 {
		local, _, _ := strings.Cut(strings.ToLower(email), "@")
		if len(local) >= p.MinEmailOverlap && strings.Contains(strings.ToLower(password), local) {
			return fmt.Errorf("password must not contain the account email")
		}
	}
	return nil
}

// ValidatePassword checks password against DefaultPolicy.
func ValidatePassword(password string) error {
	return DefaultPolicy.Check(password, "")
}
