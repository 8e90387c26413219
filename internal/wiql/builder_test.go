package wiql

import (
	"errors"
	"strings"
	"testing"
)

const bugCountTemplate = "SELECT [System.Id] FROM WorkItems " +
	"WHERE [System.TeamProject] = '{project}' " +
	"AND [System.WorkItemType] = '{type}' " +
	"AND [System.CreatedDate] >= '{since}'"

func TestRenderTemplateInterpolatesValidatedValues(t *testing.T) {
	query, err := RenderTemplate(bugCountTemplate, map[string]Param{
		"project": ProjectParam("My Project"),
		"type":    WorkItemTypeParam("Bug"),
		"since":   DateParam("2026-01-01"),
	})
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}

	for _, literal := range []string{"'My Project'", "'Bug'", "'2026-01-01'"} {
		if !strings.Contains(query, literal) {
			t.Fatalf("expected query to contain %s, got %q", literal, query)
		}
	}
	if strings.Contains(query, "{") {
		t.Fatalf("expected all placeholders substituted, got %q", query)
	}
}

func TestRenderTemplateRejectsMaliciousValueBeforeInterpolation(t *testing.T) {
	_, err := RenderTemplate(bugCountTemplate, map[string]Param{
		"project": ProjectParam("'; DROP TABLE bugs--"),
		"type":    WorkItemTypeParam("Bug"),
		"since":   DateParam("2026-01-01"),
	})
	if err == nil {
		t.Fatalf("expected malicious project to fail validation")
	}
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if validationErr.Param != "project" {
		t.Fatalf("expected the offending parameter to be named, got %q", validationErr.Param)
	}
}

func TestRenderTemplateMissingParameter(t *testing.T) {
	_, err := RenderTemplate(bugCountTemplate, map[string]Param{
		"project": ProjectParam("My Project"),
		"type":    WorkItemTypeParam("Bug"),
	})
	if err == nil {
		t.Fatalf("expected missing parameter to fail")
	}
	var validationErr *ValidationError
	if !errors.As(err, &validationErr) || validationErr.Param != "since" {
		t.Fatalf("expected ValidationError naming since, got %v", err)
	}
}

func TestRenderTemplateUnusedParameter(t *testing.T) {
	_, err := RenderTemplate("SELECT [System.Id] FROM WorkItems WHERE [System.TeamProject] = '{project}'", map[string]Param{
		"project": ProjectParam("My Project"),
		"stray":   GenericParam("value"),
	})
	if err == nil {
		t.Fatalf("expected unused parameter to fail")
	}
}

func TestRenderTemplateUnboundRuleIsHardError(t *testing.T) {
	_, err := RenderTemplate("SELECT [System.Id] FROM WorkItems WHERE [System.TeamProject] = '{project}'", map[string]Param{
		"project": {Value: "My Project"},
	})
	if err == nil {
		t.Fatalf("expected parameter without a rule to fail")
	}
}

func TestRenderTemplateRepeatedPlaceholder(t *testing.T) {
	query, err := RenderTemplate("'{project}' UNDER '{project}'", map[string]Param{
		"project": ProjectParam("Repeat"),
	})
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}
	if query != "'Repeat' UNDER 'Repeat'" {
		t.Fatalf("unexpected render: %q", query)
	}
}

func TestAreaScopeClause(t *testing.T) {
	under := &AreaScope{Path: `MyProject\Web`, Mode: ScopeUnder}
	clause, err := under.Clause()
	if err != nil {
		t.Fatalf("clause failed: %v", err)
	}
	if clause != `AND [System.AreaPath] UNDER 'MyProject\Web'` {
		t.Fatalf("unexpected clause %q", clause)
	}

	notUnder := &AreaScope{Path: "MyProject/Automation", Mode: ScopeNotUnder}
	clause, err = notUnder.Clause()
	if err != nil {
		t.Fatalf("clause failed: %v", err)
	}
	if clause != `AND NOT [System.AreaPath] UNDER 'MyProject/Automation'` {
		t.Fatalf("unexpected clause %q", clause)
	}

	var none *AreaScope
	clause, err = none.Clause()
	if err != nil || clause != "" {
		t.Fatalf("expected empty clause for nil scope, got %q, %v", clause, err)
	}
}

func TestAreaScopeClauseRejectsInvalidPath(t *testing.T) {
	scope := &AreaScope{Path: `Area'; DROP`, Mode: ScopeUnder}
	if _, err := scope.Clause(); err == nil {
		t.Fatalf("expected invalid path to be rejected")
	}
}

func TestAppendScope(t *testing.T) {
	base := "SELECT [System.Id] FROM WorkItems WHERE [System.State] = 'Active'"

	joined, err := AppendScope(base, &AreaScope{Path: "Proj/Area", Mode: ScopeUnder})
	if err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if !strings.HasSuffix(joined, "AND [System.AreaPath] UNDER 'Proj/Area'") {
		t.Fatalf("unexpected joined query %q", joined)
	}

	same, err := AppendScope(base, nil)
	if err != nil || same != base {
		t.Fatalf("expected query unchanged for nil scope, got %q, %v", same, err)
	}
}
