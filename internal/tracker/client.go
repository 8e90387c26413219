// Package tracker is the REST client for the remote work item service. It
// submits WIQL queries and fetches work item records in bounded batches,
// surfacing typed errors for rate limiting and per-kind request budgets.
package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/beaconhq/boardpulse/internal/fetchmetrics"
)

const (
	apiVersion              = "7.0"
	defaultRateLimitBackoff = time.Minute

	// MaxBatchSize is the remote API's hard cap on ids per batch fetch call.
	MaxBatchSize = 200
)

type Option func(*Client)

type Client struct {
	httpClient          *http.Client
	baseURL             *url.URL
	personalAccessToken string
	budgets             map[CallKind]CallBudget
	now                 func() time.Time

	mu        sync.Mutex
	used      map[CallKind]int
	rateLimit RateLimitState
}

func NewClient(baseURL string, options ...Option) (*Client, error) {
	parsedBaseURL, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("parse tracker base url: %w", err)
	}
	if parsedBaseURL.Scheme == "" || parsedBaseURL.Host == "" {
		return nil, fmt.Errorf("tracker base url must include scheme and host")
	}

	client := &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    parsedBaseURL,
		budgets:    defaultCallBudgets(),
		now:        time.Now,
		used:       make(map[CallKind]int),
	}

	for _, option := range options {
		option(client)
	}

	return client, nil
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(client *Client) {
		if httpClient != nil {
			client.httpClient = httpClient
		}
	}
}

// WithPersonalAccessToken enables PAT basic auth on every request.
func WithPersonalAccessToken(token string) Option {
	return func(client *Client) {
		client.personalAccessToken = strings.TrimSpace(token)
	}
}

func WithCallBudgets(budgets map[CallKind]CallBudget) Option {
	return func(client *Client) {
		if len(budgets) == 0 {
			return
		}
		client.budgets = make(map[CallKind]CallBudget, len(budgets))
		for callKind, budget := range budgets {
			client.budgets[callKind] = budget
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(client *Client) {
		if now != nil {
			client.now = now
		}
	}
}

func defaultCallBudgets() map[CallKind]CallBudget {
	return map[CallKind]CallBudget{
		CallKindQuery: {
			MaxRequests:     200,
			ReserveRequests: 10,
		},
		CallKindFetch: {
			MaxRequests:     2000,
			ReserveRequests: 50,
		},
	}
}

// wiqlRequest is the POST body of a query submission.
type wiqlRequest struct {
	Query string `json:"query"`
}

type wiqlResponse struct {
	WorkItems []WorkItemRef `json:"workItems"`
}

// QueryWorkItems submits a WIQL query string scoped to a project and returns
// the matched item references. The query must already be assembled from
// validated values; this client treats it as opaque.
func (c *Client) QueryWorkItems(ctx context.Context, project, query string) ([]WorkItemRef, error) {
	if strings.TrimSpace(project) == "" {
		return nil, fmt.Errorf("project is required")
	}
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query is required")
	}

	endpoint := fmt.Sprintf("/%s/_apis/wit/wiql?api-version=%s", url.PathEscape(project), apiVersion)
	response, err := c.postJSON(ctx, CallKindQuery, endpoint, wiqlRequest{Query: query})
	if err != nil {
		return nil, err
	}

	var decoded wiqlResponse
	if err := json.Unmarshal(response.Body, &decoded); err != nil {
		return nil, fmt.Errorf("decode wiql response: %w", err)
	}
	return decoded.WorkItems, nil
}

type batchRequest struct {
	IDs    []int    `json:"ids"`
	Fields []string `json:"fields,omitempty"`
}

type batchResponse struct {
	Count int        `json:"count"`
	Value []WorkItem `json:"value"`
}

// FetchWorkItemsBatch fetches full records for up to MaxBatchSize ids. A
// larger slice is a programmer error on the calling side (the batch fetcher
// owns pagination) and is rejected without a network call.
func (c *Client) FetchWorkItemsBatch(ctx context.Context, ids []int, fields []string) ([]WorkItem, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if len(ids) > MaxBatchSize {
		return nil, fmt.Errorf("batch of %d ids exceeds the %d id cap", len(ids), MaxBatchSize)
	}

	endpoint := "/_apis/wit/workitemsbatch?api-version=" + apiVersion
	response, err := c.postJSON(ctx, CallKindFetch, endpoint, batchRequest{IDs: ids, Fields: fields})
	if err != nil {
		return nil, err
	}

	var decoded batchResponse
	if err := json.Unmarshal(response.Body, &decoded); err != nil {
		return nil, fmt.Errorf("decode work items batch response: %w", err)
	}
	return decoded.Value, nil
}

func (c *Client) postJSON(ctx context.Context, callKind CallKind, endpoint string, payload any) (*Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", callKind, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL.String()+endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.personalAccessToken != "" {
		req.SetBasicAuth("", c.personalAccessToken)
	}

	return c.do(callKind, req)
}

func (c *Client) do(callKind CallKind, req *http.Request) (*Response, error) {
	if err := c.reserveBudget(callKind); err != nil {
		return nil, err
	}

	rawResponse, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer rawResponse.Body.Close()

	body, err := io.ReadAll(rawResponse.Body)
	if err != nil {
		return nil, err
	}

	rateLimit := parseRateLimitHeaders(rawResponse.Header)
	c.setRateLimit(rateLimit)
	if !rateLimit.IsZero() {
		fetchmetrics.RecordQuota(string(callKind), rateLimit.Limit, rateLimit.Remaining, rateLimit.ResetAt)
	}
	budget := c.BudgetState(callKind)

	if isRateLimitResponse(rawResponse.StatusCode, rawResponse.Header) {
		fetchmetrics.RecordThrottle(string(callKind))
		return nil, &RateLimitError{
			StatusCode: rawResponse.StatusCode,
			RetryAfter: retryAfterForRateLimit(c.now(), rawResponse.Header, rateLimit),
			RateLimit:  rateLimit,
			Message:    strings.TrimSpace(string(body)),
		}
	}

	if rawResponse.StatusCode >= http.StatusBadRequest {
		return nil, &HTTPError{StatusCode: rawResponse.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	return &Response{
		StatusCode: rawResponse.StatusCode,
		Headers:    rawResponse.Header.Clone(),
		Body:       body,
		RateLimit:  rateLimit,
		Budget:     budget,
	}, nil
}

func (c *Client) BudgetState(callKind CallKind) BudgetState {
	c.mu.Lock()
	defer c.mu.Unlock()

	budget := c.resolveBudget(callKind)
	used := c.used[callKind]
	callRemaining := unlimitedRemaining(budget.MaxRequests, used)
	apiRemaining := -1
	if !c.rateLimit.IsZero() {
		apiRemaining = c.rateLimit.Remaining - budget.ReserveRequests
		if apiRemaining < 0 {
			apiRemaining = 0
		}
	}

	return BudgetState{
		Call:               callKind,
		Used:               used,
		MaxRequests:        budget.MaxRequests,
		CallRemaining:      callRemaining,
		APIRemaining:       apiRemaining,
		EffectiveRemaining: minRemaining(callRemaining, apiRemaining),
		QuotaResetAt:       optionalTime(c.rateLimit.ResetAt),
		LastRateLimit:      c.rateLimit,
	}
}

func (c *Client) CurrentRateLimit() RateLimitState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rateLimit
}

func (c *Client) reserveBudget(callKind CallKind) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	budget := c.resolveBudget(callKind)
	used := c.used[callKind]
	if budget.MaxRequests > 0 && used >= budget.MaxRequests {
		return &BudgetExceededError{
			Call:        callKind,
			Used:        used,
			MaxRequests: budget.MaxRequests,
			RateLimit:   c.rateLimit,
		}
	}

	if !c.rateLimit.IsZero() {
		if c.rateLimit.Remaining <= budget.ReserveRequests && !c.rateLimit.ResetAt.IsZero() && c.now().Before(c.rateLimit.ResetAt) {
			return &PauseError{
				ResumeAt: c.rateLimit.ResetAt,
				Reason:   fmt.Sprintf("quota low for %s (remaining=%d reserve=%d)", callKind, c.rateLimit.Remaining, budget.ReserveRequests),
			}
		}
	}

	c.used[callKind] = used + 1
	return nil
}

func (c *Client) resolveBudget(callKind CallKind) CallBudget {
	if budget, ok := c.budgets[callKind]; ok {
		return budget
	}
	return CallBudget{}
}

func (c *Client) setRateLimit(rateLimit RateLimitState) {
	if rateLimit.IsZero() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rateLimit = rateLimit
}

func parseRateLimitHeaders(header http.Header) RateLimitState {
	state := RateLimitState{
		Resource: strings.TrimSpace(header.Get("X-RateLimit-Resource")),
	}

	if limit, err := parseIntHeader(header.Get("X-RateLimit-Limit")); err == nil {
		state.Limit = limit
	}
	if remaining, err := parseIntHeader(header.Get("X-RateLimit-Remaining")); err == nil {
		state.Remaining = remaining
	}
	if resetUnix, err := parseIntHeader(header.Get("X-RateLimit-Reset")); err == nil && resetUnix > 0 {
		state.ResetAt = time.Unix(int64(resetUnix), 0).UTC()
	}

	return state
}

func parseIntHeader(raw string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(raw))
}

func isRateLimitResponse(statusCode int, headers http.Header) bool {
	if statusCode == http.StatusTooManyRequests {
		return true
	}
	if statusCode == http.StatusForbidden && strings.TrimSpace(headers.Get("X-RateLimit-Remaining")) == "0" {
		return true
	}
	return false
}

func retryAfterForRateLimit(now time.Time, headers http.Header, rateLimit RateLimitState) time.Duration {
	retryAfterHeader := strings.TrimSpace(headers.Get("Retry-After"))
	if retryAfterHeader != "" {
		if seconds, err := strconv.Atoi(retryAfterHeader); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
		if dateValue, err := http.ParseTime(retryAfterHeader); err == nil {
			if wait := dateValue.Sub(now); wait > 0 {
				return wait
			}
		}
	}

	if !rateLimit.ResetAt.IsZero() && rateLimit.ResetAt.After(now) {
		return rateLimit.ResetAt.Sub(now)
	}

	return defaultRateLimitBackoff
}

func unlimitedRemaining(max, used int) int {
	if max <= 0 {
		return -1
	}
	remaining := max - used
	if remaining < 0 {
		return 0
	}
	return remaining
}

func minRemaining(left, right int) int {
	if left < 0 {
		return right
	}
	if right < 0 {
		return left
	}
	if left < right {
		return left
	}
	return right
}

func optionalTime(value time.Time) *time.Time {
	if value.IsZero() {
		return nil
	}
	copyValue := value
	return &copyValue
}
