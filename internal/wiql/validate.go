// Package wiql builds WIQL query strings from whitelisted, validated values.
//
// WIQL has no prepared-statement mechanism, so every value that reaches a
// query string goes through one of the rules in this package first. The
// builder in builder.go refuses to interpolate anything that has not been
// validated.
package wiql

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ValidationError reports a value that failed a whitelist, format, or length
// rule. It is always returned before any network call is made.
type ValidationError struct {
	Param  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Param == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed for %q: %s", e.Param, e.Reason)
}

func validationErrorf(param, format string, args ...any) *ValidationError {
	return &ValidationError{Param: param, Reason: fmt.Sprintf(format, args...)}
}

const (
	maxProjectLength  = 64
	maxAreaPathLength = 256
	maxGenericLength  = 128
)

var (
	projectPattern  = regexp.MustCompile(`^[A-Za-z0-9 _.\-]+$`)
	areaPathPattern = regexp.MustCompile(`^[A-Za-z0-9 _./\\]+$`)
	datePattern     = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
)

// keywordBlacklist rejects query-language verbs even though the character
// whitelists already exclude most injection primitives. Matched on word
// boundaries, case-insensitively.
var keywordBlacklist = []string{
	"SELECT", "FROM", "WHERE",
	"AND", "OR", "NOT",
	"UNION", "INTERSECT", "EXCEPT",
	"INSERT", "UPDATE", "DELETE", "DROP", "ALTER", "CREATE", "TRUNCATE", "EXEC", "MERGE",
}

var keywordPattern = compileKeywordPattern(keywordBlacklist)

func compileKeywordPattern(keywords []string) *regexp.Regexp {
	quoted := make([]string, 0, len(keywords))
	for _, keyword := range keywords {
		quoted = append(quoted, regexp.QuoteMeta(keyword))
	}
	return regexp.MustCompile(`(?i)\b(` + strings.Join(quoted, "|") + `)\b`)
}

// WorkItemTypes is the closed set of work item types queries may reference.
var WorkItemTypes = []string{"Bug", "Epic", "Feature", "Task", "Test Case", "User Story"}

// States is the closed set of lifecycle states queries may reference.
var States = []string{"Active", "Closed", "New", "Removed", "Resolved"}

// FieldNames is the fixed whitelist of queryable field identifiers.
var FieldNames = []string{
	"Microsoft.VSTS.Common.Priority",
	"Microsoft.VSTS.Common.Severity",
	"System.AreaPath",
	"System.AssignedTo",
	"System.ChangedDate",
	"System.CreatedBy",
	"System.CreatedDate",
	"System.Id",
	"System.IterationPath",
	"System.State",
	"System.Tags",
	"System.TeamProject",
	"System.Title",
	"System.WorkItemType",
}

var (
	workItemTypeSet = toSet(WorkItemTypes)
	stateSet        = toSet(States)
	fieldNameSet    = toSet(FieldNames)
)

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, value := range values {
		set[value] = struct{}{}
	}
	return set
}

func containsQuote(value string) bool {
	return strings.ContainsAny(value, `'"`)
}

func containsStatementSeparator(value string) bool {
	return strings.ContainsAny(value, ";\x00")
}

// ValidateProject checks a project identifier: length, character whitelist,
// and the keyword blacklist on top. Returns the value unchanged on success.
func ValidateProject(value string) (string, error) {
	if value == "" {
		return "", validationErrorf("project", "must not be empty")
	}
	if len(value) > maxProjectLength {
		return "", validationErrorf("project", "exceeds %d characters", maxProjectLength)
	}
	if containsQuote(value) {
		return "", validationErrorf("project", "must not contain quote characters")
	}
	if containsStatementSeparator(value) {
		return "", validationErrorf("project", "must not contain statement separators")
	}
	if !projectPattern.MatchString(value) {
		return "", validationErrorf("project", "contains characters outside [A-Za-z0-9 _.-]")
	}
	if match := keywordPattern.FindString(value); match != "" {
		return "", validationErrorf("project", "contains blacklisted keyword %q", strings.ToUpper(match))
	}
	return value, nil
}

// ValidateWorkItemType requires an exact, case-sensitive match against the
// known work item types.
func ValidateWorkItemType(value string) (string, error) {
	if _, ok := workItemTypeSet[value]; !ok {
		return "", validationErrorf("work item type", "%q is not one of %s", value, strings.Join(WorkItemTypes, ", "))
	}
	return value, nil
}

// ValidateState requires an exact, case-sensitive match against the known
// lifecycle states.
func ValidateState(value string) (string, error) {
	if _, ok := stateSet[value]; !ok {
		return "", validationErrorf("state", "%q is not one of %s", value, strings.Join(States, ", "))
	}
	return value, nil
}

// ValidateISODate accepts YYYY-MM-DD strings that represent a real calendar
// date between 1900 and 2100. The round-trip through time.Parse rejects
// impossible dates such as 2026-02-30.
func ValidateISODate(value string) (string, error) {
	if !datePattern.MatchString(value) {
		return "", validationErrorf("date", "%q is not in YYYY-MM-DD form", value)
	}

	parsed, err := time.Parse("2006-01-02", value)
	if err != nil {
		return "", validationErrorf("date", "%q is not a valid calendar date", value)
	}
	if parsed.Format("2006-01-02") != value {
		return "", validationErrorf("date", "%q is not a valid calendar date", value)
	}
	if year := parsed.Year(); year < 1900 || year > 2100 {
		return "", validationErrorf("date", "year %d is outside 1900-2100", year)
	}
	return value, nil
}

// ValidateAreaPath checks a hierarchical area path: length, character
// whitelist, quote rejection. Returns the value unchanged on success.
func ValidateAreaPath(value string) (string, error) {
	if value == "" {
		return "", validationErrorf("area path", "must not be empty")
	}
	if len(value) > maxAreaPathLength {
		return "", validationErrorf("area path", "exceeds %d characters", maxAreaPathLength)
	}
	if containsQuote(value) {
		return "", validationErrorf("area path", "must not contain quote characters")
	}
	if !areaPathPattern.MatchString(value) {
		return "", validationErrorf("area path", `contains characters outside [A-Za-z0-9 _./\]`)
	}
	return value, nil
}

// ValidateFieldName requires an exact match against the queryable-field
// whitelist.
func ValidateFieldName(value string) (string, error) {
	if _, ok := fieldNameSet[value]; !ok {
		return "", validationErrorf("field name", "%q is not a known queryable field", value)
	}
	return value, nil
}

// validateGeneric is the weaker fallback rule. It is only applied to
// parameters a caller explicitly marks RuleGeneric.
func validateGeneric(param, value string) (string, error) {
	if value == "" {
		return "", validationErrorf(param, "must not be empty")
	}
	if len(value) > maxGenericLength {
		return "", validationErrorf(param, "exceeds %d characters", maxGenericLength)
	}
	if containsQuote(value) {
		return "", validationErrorf(param, "must not contain quote characters")
	}
	if containsStatementSeparator(value) {
		return "", validationErrorf(param, "must not contain statement separators")
	}
	return value, nil
}

// RuleKind selects which validation rule applies to a template parameter.
type RuleKind int

const (
	// RuleNone is the zero value; rendering a parameter bound to RuleNone
	// fails. Callers must pick a rule deliberately.
	RuleNone RuleKind = iota
	RuleProject
	RuleWorkItemType
	RuleState
	RuleDate
	RuleAreaPath
	RuleFieldName
	RuleGeneric
)

// Validate applies the rule to a raw value and returns it unchanged on
// success.
func (k RuleKind) Validate(param, value string) (string, error) {
	switch k {
	case RuleProject:
		return ValidateProject(value)
	case RuleWorkItemType:
		return ValidateWorkItemType(value)
	case RuleState:
		return ValidateState(value)
	case RuleDate:
		return ValidateISODate(value)
	case RuleAreaPath:
		return ValidateAreaPath(value)
	case RuleFieldName:
		return ValidateFieldName(value)
	case RuleGeneric:
		return validateGeneric(param, value)
	default:
		return "", validationErrorf(param, "no validation rule bound to parameter")
	}
}
