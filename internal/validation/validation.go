// Package validation contains input validation for registration.
package validation

import (
	"regexp"
	"strings"
	"time"
)

var emailRe = regexp.MustCompile(`^[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}$`)

// IsValidEmail checks the e-mail address format.
func IsValidEmail(email string) bool {
	return emailRe.MatchString(strings.TrimSpace(email))
}

// MinPasswordLength is the minimum accepted password length.
const MinPasswordLength = 8

// IsValidPassword checks the password strength requirement.
func IsValidPassword(password string) bool {
	return len(password) >= MinPasswordLength
}

// MinAge is the minimum age required to play for money.
const MinAge = 18

// IsOfAge reports whether someone born on dob is at least MinAge at now.
func IsOfAge(dob, now time.Time) bool {
	cutoff := now.AddDate(-MinAge, 0, 0)
	return !dob.After(cutoff)
}

// prohibitedStates are US states where paid fantasy contests are not offered.
var prohibitedStates = map[string]struct{}{
	"WA": {}, "MT": {}, "LA": {}, "AZ": {}, "IA": {}, "NV": {},
}

// IsProhibitedState reports whether the state code is barred from paid play.
func IsProhibitedState(state string) bool {
	_, ok := prohibitedStates[strings.ToUpper(strings.TrimSpace(state))]
	return ok
}
