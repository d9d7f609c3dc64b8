package password

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ErrPolicy is matched by every *PolicyError.
var ErrPolicy = errors.New("password: policy violation")

// Violation names one failed policy rule. Values are stable and safe to
// return to clients.
type Violation string

const (
	ViolationTooShort  Violation = "too_short"
	ViolationTooLong   Violation = "too_long"
	ViolationNoUpper   Violation = "missing_upper"
	ViolationNoLower   Violation = "missing_lower"
	ViolationNoDigit   Violation = "missing_digit"
	ViolationNoSpecial Violation = "missing_special"
	ViolationRepeatRun Violation = "repeated_characters"
)

// PolicyError lists every rule a candidate password broke.
type PolicyError struct {
	Violations []Violation
}

func (e *PolicyError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = string(v)
	}
	return fmt.Sprintf("password: policy violation (%s)", strings.Join(parts, ", "))
}

func (e *PolicyError) Unwrap() error { return ErrPolicy }

// Policy is applied when a password is created or changed, never when one is
// verified at login.
type Policy struct {
	MinLength      int
	MaxLength      int
	RequireUpper   bool
	RequireLower   bool
	RequireDigit   bool
	RequireSpecial bool
	// MaxRepeat is the longest allowed run of one character. Zero disables
	// the check.
	MaxRepeat int
}

// DefaultPolicy requires 12 characters of mixed classes and rejects runs of
// three or more identical characters.
func DefaultPolicy() Policy {
	return Policy{
		MinLength:      12,
		MaxLength:      DefaultMaxPasswordBytes,
		RequireUpper:   true,
		RequireLower:   true,
		RequireDigit:   true,
		RequireSpecial: true,
		MaxRepeat:      2,
	}
}

// Check returns nil or a *PolicyError. Length is counted in runes; MaxLength
// is counted in bytes to match the hasher limit.
func (p Policy) Check(pw string) error {
	var violations []Violation

	if utf8.RuneCountInString(pw) < p.MinLength {
		violations = append(violations, ViolationTooShort)
	}
	if p.MaxLength > 0 && len(pw) > p.MaxLength {
		violations = append(violations, ViolationTooLong)
	}

	var upper, lower, digit, special bool
	var prev rune
	run, longest := 0, 0
	for i, r := range pw {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r), unicode.IsSymbol(r), unicode.IsSpace(r):
			special = true
		}

		if i > 0 && r == prev {
			run++
		} else {
			run = 1
		}
		prev = r
		longest = max(longest, run)
	}

	if p.RequireUpper && !upper {
		violations = append(violations, ViolationNoUpper)
	}
	if p.RequireLower && !lower {
		violations = append(violations, ViolationNoLower)
	}
	if p.RequireDigit && !digit {
		violations = append(violations, ViolationNoDigit)
	}
	if p.RequireSpecial && !special {
		violations = append(violations, ViolationNoSpecial)
	}
	if p.MaxRepeat > 0 && longest > p.MaxRepeat {
		violations = append(violations, ViolationRepeatRun)
	}

	if len(violations) == 0 {
		return nil
	}
	return &PolicyError{Violations: violations}
}

// Validate rejects policies that can never be satisfied.
func (p Policy) Validate() error {
	if p.MinLength < 1 {
		return errors.New("password policy min length must be >= 1")
	}
	if p.MaxLength > 0 && p.MaxLength < p.MinLength {
		return errors.New("password policy max length must be >= min length")
	}
	if p.MaxRepeat < 0 {
		return errors.New("password policy max repeat must be >= 0")
	}
	return nil
}
