package wiql

import (
	"fmt"
	"regexp"
	"strings"
)

// Param binds a raw value to the rule that must validate it before the value
// may be interpolated into a query.
type Param struct {
	Value string
	Rule  RuleKind
}

// Convenience constructors for the common bindings.

func ProjectParam(value string) Param      { return Param{Value: value, Rule: RuleProject} }
func WorkItemTypeParam(value string) Param { return Param{Value: value, Rule: RuleWorkItemType} }
func StateParam(value string) Param        { return Param{Value: value, Rule: RuleState} }
func DateParam(value string) Param         { return Param{Value: value, Rule: RuleDate} }
func AreaPathParam(value string) Param     { return Param{Value: value, Rule: RuleAreaPath} }
func FieldNameParam(value string) Param    { return Param{Value: value, Rule: RuleFieldName} }
func GenericParam(value string) Param      { return Param{Value: value, Rule: RuleGeneric} }

var placeholderPattern = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// RenderTemplate assembles a query string from a template with {name}
// placeholders and explicit parameter bindings. Every placeholder must have a
// binding and every binding must name a rule; the first offending parameter
// fails the whole render, so a template is never partially applied.
func RenderTemplate(template string, params map[string]Param) (string, error) {
	placeholders := placeholderPattern.FindAllStringSubmatch(template, -1)

	validated := make(map[string]string, len(placeholders))
	for _, match := range placeholders {
		name := match[1]
		if _, done := validated[name]; done {
			continue
		}
		param, ok := params[name]
		if !ok {
			return "", validationErrorf(name, "template parameter has no value")
		}
		value, err := param.Rule.Validate(name, param.Value)
		if err != nil {
			return "", err
		}
		validated[name] = value
	}

	for name := range params {
		if _, used := validated[name]; !used {
			return "", validationErrorf(name, "parameter does not appear in template")
		}
	}

	rendered := placeholderPattern.ReplaceAllStringFunc(template, func(placeholder string) string {
		name := placeholder[1 : len(placeholder)-1]
		return validated[name]
	})
	return rendered, nil
}

// ScopeMode selects how an AreaScope restricts a query.
type ScopeMode int

const (
	// ScopeUnder restricts results to the subtree rooted at Path.
	ScopeUnder ScopeMode = iota
	// ScopeNotUnder excludes the subtree rooted at Path.
	ScopeNotUnder
)

// AreaScope narrows or excludes an organizational subtree. The zero value is
// not meaningful; use a nil *AreaScope for "no restriction".
type AreaScope struct {
	Path string
	Mode ScopeMode
}

// Clause renders the scope as an AND-composable WIQL fragment. The embedded
// path is validated before assembly; the clause is empty for a nil scope.
func (s *AreaScope) Clause() (string, error) {
	if s == nil {
		return "", nil
	}
	path, err := ValidateAreaPath(s.Path)
	if err != nil {
		return "", err
	}
	switch s.Mode {
	case ScopeUnder:
		return fmt.Sprintf("AND [System.AreaPath] UNDER '%s'", path), nil
	case ScopeNotUnder:
		return fmt.Sprintf("AND NOT [System.AreaPath] UNDER '%s'", path), nil
	default:
		return "", validationErrorf("area scope", "unknown scope mode %d", s.Mode)
	}
}

// AppendScope joins a rendered query and an optional scope clause.
func AppendScope(query string, scope *AreaScope) (string, error) {
	clause, err := scope.Clause()
	if err != nil {
		return "", err
	}
	if clause == "" {
		return query, nil
	}
	return strings.TrimRight(query, " ") + " " + clause, nil
}
