package password

import (
	"errors"
	"slices"
	"testing"
)

func TestPolicyCheck(t *testing.T) {
	p := DefaultPolicy()

	cases := []struct {
		name string
		pw   string
		want []Violation
	}{
		{"valid", "Correct-Horse-7", nil},
		{"short", "Ab1!", []Violation{ViolationTooShort}},
		{"no upper", "correct-horse-7", []Violation{ViolationNoUpper}},
		{"no lower", "CORRECT-HORSE-7", []Violation{ViolationNoLower}},
		{"no digit", "Correct-Horse-X", []Violation{ViolationNoDigit}},
		{"no special", "CorrectHorse77", []Violation{ViolationNoSpecial}},
		{"triple run", "Correct-Horsee-7e", nil},
		{"run of three", "Correct-Hooorse-7", []Violation{ViolationRepeatRun}},
	}

	for _, tc := range cases {
		err := p.Check(tc.pw)
		if tc.want == nil {
			if err != nil {
				t.Fatalf("%s: unexpected error %v", tc.name, err)
			}
			continue
		}

		var perr *PolicyError
		if !errors.As(err, &perr) {
			t.Fatalf("%s: expected *PolicyError, got %v", tc.name, err)
		}
		if !errors.Is(err, ErrPolicy) {
			t.Fatalf("%s: expected errors.Is ErrPolicy", tc.name)
		}
		for _, v := range tc.want {
			if !slices.Contains(perr.Violations, v) {
				t.Fatalf("%s: missing violation %s in %v", tc.name, v, perr.Violations)
			}
		}
	}
}

func TestPolicyReportsAllViolations(t *testing.T) {
	err := DefaultPolicy().Check("aaa")

	var perr *PolicyError
	if !errors.As(err, &perr) {
		t.Fatalf("expected *PolicyError, got %v", err)
	}
	if len(perr.Violations) != 5 {
		t.Fatalf("expected 5 violations, got %v", perr.Violations)
	}
}

func TestPolicyValidate(t *testing.T) {
	if err := (Policy{}).Validate(); err == nil {
		t.Fatal("expected zero policy to be invalid")
	}
	if err := (Policy{MinLength: 10, MaxLength: 5}).Validate(); err == nil {
		t.Fatal("expected max < min to be invalid")
	}
	if err := DefaultPolicy().Validate(); err != nil {
		t.Fatalf("default policy invalid: %v", err)
	}
}
