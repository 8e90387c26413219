package wiql

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateProjectAcceptsCleanNames(t *testing.T) {
	for _, name := range []string{
		"My Project",
		"platform-core",
		"Team_42",
		"release.2026",
	} {
		got, err := ValidateProject(name)
		if err != nil {
			t.Fatalf("expected %q to validate, got %v", name, err)
		}
		if got != name {
			t.Fatalf("expected value returned unchanged, got %q", got)
		}
	}
}

func TestValidateProjectRejectsInjectionPrimitives(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{name: "single quote", value: "My'Project"},
		{name: "double quote", value: `My"Project`},
		{name: "statement separator", value: "proj;ect"},
		{name: "classic injection", value: "'; DROP TABLE bugs--"},
		{name: "drop keyword", value: "DROP everything"},
		{name: "or keyword", value: "a OR b"},
		{name: "union keyword", value: "union station"},
		{name: "lowercase delete keyword", value: "delete me"},
		{name: "empty", value: ""},
		{name: "too long", value: strings.Repeat("a", 65)},
		{name: "bracket characters", value: "proj[ect]"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ValidateProject(tc.value); err == nil {
				t.Fatalf("expected %q to be rejected", tc.value)
			} else {
				var validationErr *ValidationError
				if !errors.As(err, &validationErr) {
					t.Fatalf("expected ValidationError, got %T", err)
				}
			}
		})
	}
}

func TestValidateProjectAllowsKeywordSubstrings(t *testing.T) {
	// ANDROID contains AND but is not the keyword; blacklist matches whole
	// words only.
	if _, err := ValidateProject("ANDROID Platform"); err != nil {
		t.Fatalf("expected keyword substring to pass, got %v", err)
	}
	if _, err := ValidateProject("Creatext"); err != nil {
		t.Fatalf("expected keyword prefix to pass, got %v", err)
	}
}

func TestValidateWorkItemTypeExactMatch(t *testing.T) {
	if _, err := ValidateWorkItemType("Bug"); err != nil {
		t.Fatalf("expected Bug to validate, got %v", err)
	}
	if _, err := ValidateWorkItemType("bug"); err == nil {
		t.Fatalf("expected lowercase bug to be rejected")
	}
	_, err := ValidateWorkItemType("Incident")
	if err == nil {
		t.Fatalf("expected unknown type to be rejected")
	}
	if !strings.Contains(err.Error(), "Bug") {
		t.Fatalf("expected error to list the allowed set, got %q", err)
	}
}

func TestValidateStateExactMatch(t *testing.T) {
	if _, err := ValidateState("Active"); err != nil {
		t.Fatalf("expected Active to validate, got %v", err)
	}
	for _, bad := range []string{"active", "ACTIVE", "Open", ""} {
		if _, err := ValidateState(bad); err == nil {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
}

func TestValidateISODate(t *testing.T) {
	valid := []string{"1900-01-01", "2000-02-29", "2026-08-24", "2100-12-31"}
	for _, value := range valid {
		got, err := ValidateISODate(value)
		if err != nil {
			t.Fatalf("expected %q to validate, got %v", value, err)
		}
		if got != value {
			t.Fatalf("expected value returned unchanged, got %q", got)
		}
	}

	invalid := []struct {
		name  string
		value string
	}{
		{name: "impossible february day", value: "2026-02-30"},
		{name: "non leap february 29", value: "2025-02-29"},
		{name: "day 31 in 30 day month", value: "2026-04-31"},
		{name: "month 13", value: "2026-13-01"},
		{name: "month zero", value: "2026-00-10"},
		{name: "year below range", value: "1899-12-31"},
		{name: "year above range", value: "2101-01-01"},
		{name: "wrong shape", value: "24-08-2026"},
		{name: "missing zero padding", value: "2026-8-4"},
		{name: "trailing garbage", value: "2026-08-24'"},
		{name: "empty", value: ""},
	}
	for _, tc := range invalid {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ValidateISODate(tc.value); err == nil {
				t.Fatalf("expected %q to be rejected", tc.value)
			}
		})
	}
}

func TestValidateAreaPath(t *testing.T) {
	valid := []string{
		`MyProject\Platform\Storage`,
		"MyProject/Web",
		"Team Area_1.2",
	}
	for _, value := range valid {
		if _, err := ValidateAreaPath(value); err != nil {
			t.Fatalf("expected %q to validate, got %v", value, err)
		}
	}

	invalid := []string{
		"",
		`Area'Path`,
		`Area"Path`,
		"Area;Path",
		strings.Repeat("a", 257),
	}
	for _, value := range invalid {
		if _, err := ValidateAreaPath(value); err == nil {
			t.Fatalf("expected %q to be rejected", value)
		}
	}
}

func TestValidateFieldName(t *testing.T) {
	if _, err := ValidateFieldName("System.State"); err != nil {
		t.Fatalf("expected System.State to validate, got %v", err)
	}
	for _, bad := range []string{"system.state", "System.Password", "State", ""} {
		if _, err := ValidateFieldName(bad); err == nil {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
}

func TestRuleKindValidateDispatch(t *testing.T) {
	if _, err := RuleDate.Validate("since", "2026-01-15"); err != nil {
		t.Fatalf("expected date rule to pass, got %v", err)
	}
	if _, err := RuleGeneric.Validate("tag", "needs-triage"); err != nil {
		t.Fatalf("expected generic rule to pass, got %v", err)
	}
	if _, err := RuleGeneric.Validate("tag", "needs';triage"); err == nil {
		t.Fatalf("expected generic rule to reject quotes")
	}
	if _, err := RuleNone.Validate("anything", "value"); err == nil {
		t.Fatalf("expected unbound rule to be a hard error")
	}
}
