package tracker

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// CallKind classifies client calls for per-kind request budgeting.
type CallKind string

const (
	CallKindQuery CallKind = "query"
	CallKindFetch CallKind = "fetch"
)

type CallBudget struct {
	MaxRequests     int
	ReserveRequests int
}

type RateLimitState struct {
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
	Resource  string    `json:"resource,omitempty"`
}

func (s RateLimitState) IsZero() bool {
	return s.Limit == 0 && s.Remaining == 0 && s.ResetAt.IsZero() && s.Resource == ""
}

type BudgetState struct {
	Call               CallKind       `json:"call"`
	Used               int            `json:"used"`
	MaxRequests        int            `json:"max_requests"`
	CallRemaining      int            `json:"call_remaining"`
	APIRemaining       int            `json:"api_remaining"`
	EffectiveRemaining int            `json:"effective_remaining"`
	QuotaResetAt       *time.Time     `json:"quota_reset_at,omitempty"`
	LastRateLimit      RateLimitState `json:"last_rate_limit"`
}

type Response struct {
	StatusCode int            `json:"status_code"`
	Headers    http.Header    `json:"-"`
	Body       []byte         `json:"-"`
	RateLimit  RateLimitState `json:"rate_limit"`
	Budget     BudgetState    `json:"budget"`
}

// WorkItemRef is one row of a WIQL query response: an identifier plus the
// canonical URL of the item.
type WorkItemRef struct {
	ID  int    `json:"id"`
	URL string `json:"url"`
}

// WorkItem is a fully fetched work item record. Fields holds the raw field
// map keyed by reference name (System.State, System.CreatedDate, ...).
type WorkItem struct {
	ID     int            `json:"id"`
	Fields map[string]any `json:"fields"`
}

func (w WorkItem) stringField(name string) string {
	raw, ok := w.Fields[name]
	if !ok {
		return ""
	}
	value, _ := raw.(string)
	return value
}

// State returns System.State, empty when absent.
func (w WorkItem) State() string { return w.stringField("System.State") }

// Type returns System.WorkItemType, empty when absent.
func (w WorkItem) Type() string { return w.stringField("System.WorkItemType") }

// Title returns System.Title, empty when absent.
func (w WorkItem) Title() string { return w.stringField("System.Title") }

// AreaPath returns System.AreaPath, empty when absent.
func (w WorkItem) AreaPath() string { return w.stringField("System.AreaPath") }

// Priority returns Microsoft.VSTS.Common.Priority, 0 when absent or
// malformed. JSON numbers decode as float64.
func (w WorkItem) Priority() int {
	raw, ok := w.Fields["Microsoft.VSTS.Common.Priority"]
	if !ok {
		return 0
	}
	switch value := raw.(type) {
	case float64:
		return int(value)
	case int:
		return value
	default:
		return 0
	}
}

// CreatedDate parses System.CreatedDate (RFC 3339); the zero time when
// absent or malformed.
func (w WorkItem) CreatedDate() time.Time {
	raw := w.stringField("System.CreatedDate")
	if raw == "" {
		return time.Time{}
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}
	}
	return parsed
}

// CreatedBy returns the display/account name of System.CreatedBy. The field
// arrives either as a plain string or as an identity object with
// uniqueName/displayName.
func (w WorkItem) CreatedBy() string {
	raw, ok := w.Fields["System.CreatedBy"]
	if !ok {
		return ""
	}
	switch value := raw.(type) {
	case string:
		return value
	case map[string]any:
		if unique, ok := value["uniqueName"].(string); ok && unique != "" {
			return unique
		}
		if display, ok := value["displayName"].(string); ok {
			return display
		}
	}
	return ""
}

// Tags returns the System.Tags entries, split on the service's "; "
// separator.
func (w WorkItem) Tags() []string {
	raw := w.stringField("System.Tags")
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ";")
	tags := make([]string, 0, len(parts))
	for _, part := range parts {
		if tag := strings.TrimSpace(part); tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}

// HasTag reports whether the item carries the tag, case-insensitively.
func (w WorkItem) HasTag(tag string) bool {
	for _, candidate := range w.Tags() {
		if strings.EqualFold(candidate, tag) {
			return true
		}
	}
	return false
}

type RateLimitError struct {
	StatusCode int
	RetryAfter time.Duration
	RateLimit  RateLimitState
	Message    string
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("tracker rate limit exceeded (status=%d, retry_after=%s)", e.StatusCode, e.RetryAfter)
	}
	return fmt.Sprintf("tracker rate limit exceeded (status=%d)", e.StatusCode)
}

type PauseError struct {
	ResumeAt time.Time
	Reason   string
}

func (e *PauseError) Error() string {
	return fmt.Sprintf("call paused until %s: %s", e.ResumeAt.UTC().Format(time.RFC3339), e.Reason)
}

type BudgetExceededError struct {
	Call        CallKind
	Used        int
	MaxRequests int
	RateLimit   RateLimitState
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("call budget exhausted for %s (%d/%d requests used)", e.Call, e.Used, e.MaxRequests)
}

type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("tracker api request failed with status %d", e.StatusCode)
	}
	return fmt.Sprintf("tracker api request failed with status %d: %s", e.StatusCode, e.Body)
}
