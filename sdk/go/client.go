package contractlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Contractline HTTP API client.
type Client struct {
	BaseURL    string
	BasePath   string
	ActorID    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, actorID string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		ActorID:  actorID,
		Timeout:  10 * time.Second,
	}
}

// ContractSpec is the writable part of a contract.
type ContractSpec struct {
	ContractID     string   `json:"contract_id,omitempty"`
	ContractType   string   `json:"contract_type,omitempty"`
	Name           string   `json:"name"`
	Description    string   `json:"description,omitempty"`
	Tags           []string `json:"tags,omitempty"`
	DependsOn      []string `json:"depends_on,omitempty"`
	ProviderAgent  string   `json:"provider_agent,omitempty"`
	ConsumerAgents []string `json:"consumer_agents,omitempty"`
	Priority       string   `json:"priority,omitempty"`
	IsBlocking     bool     `json:"is_blocking,omitempty"`
}

// Contract represents the API contract model.
type Contract struct {
	ContractID         string        `json:"contract_id"`
	ContractType       string        `json:"contract_type"`
	Name               string        `json:"name"`
	Description        string        `json:"description"`
	Tags               []string      `json:"tags"`
	LifecycleState     string        `json:"lifecycle_state"`
	DependsOn          []string      `json:"depends_on"`
	ProviderAgent      string        `json:"provider_agent"`
	ConsumerAgents     []string      `json:"consumer_agents"`
	Priority           string        `json:"priority"`
	IsBlocking         bool          `json:"is_blocking"`
	VerificationResult *Verification `json:"verification_result,omitempty"`
	Events             []Event       `json:"events"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

// Event represents a contract history entry.
type Event struct {
	EventID    string         `json:"event_id"`
	EventType  string         `json:"event_type"`
	ContractID string         `json:"contract_id"`
	ActorID    string         `json:"actor_id"`
	Timestamp  time.Time      `json:"timestamp"`
	Payload    map[string]any `json:"payload"`
}

type Criterion struct {
	CriterionID string `json:"criterion_id"`
	Passed      bool   `json:"passed"`
	Message     string `json:"message,omitempty"`
	Blocking    *bool  `json:"blocking,omitempty"`
}

// Verification is an external verification result.
type Verification struct {
	Passed          bool        `json:"passed"`
	CriteriaResults []Criterion `json:"criteria_results,omitempty"`
}

type Breach struct {
	Severity       string   `json:"severity,omitempty"`
	Description    string   `json:"description,omitempty"`
	FailedCriteria []string `json:"failed_criteria,omitempty"`
}

// Plan is an execution plan snapshot.
type Plan struct {
	Contracts      []Contract          `json:"contracts"`
	ExecutionOrder []string            `json:"execution_order"`
	Dependencies   map[string][]string `json:"dependencies"`
	ParallelGroups [][]string          `json:"parallel_groups"`
	GeneratedAt    time.Time           `json:"generated_at"`
}

// ListOptions filters List. Empty fields do not filter.
type ListOptions struct {
	ContractType  string
	State         string
	ProviderAgent string
	ConsumerAgent string
	Priority      string
	IsBlocking    *bool
	Tags          []string
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

type contractPage struct {
	Items []Contract `json:"items"`
}

type eventPage struct {
	Items []Event `json:"items"`
}

// Register creates a contract.
func (c *Client) Register(ctx context.Context, spec ContractSpec) (Contract, error) {
	var resp Contract
	err := c.do(ctx, http.MethodPost, "contracts", spec, &resp)
	return resp, err
}

// Update replaces the writable fields of a contract.
func (c *Client) Update(ctx context.Context, id string, spec ContractSpec) (Contract, error) {
	var resp Contract
	err := c.do(ctx, http.MethodPut, contractPath(id, ""), spec, &resp)
	return resp, err
}

func (c *Client) Get(ctx context.Context, id string) (Contract, error) {
	var resp Contract
	err := c.do(ctx, http.MethodGet, contractPath(id, ""), nil, &resp)
	return resp, err
}

func (c *Client) List(ctx context.Context, opts ListOptions) ([]Contract, error) {
	q := url.Values{}
	set := func(k, v string) {
		if v != "" {
			q.Set(k, v)
		}
	}
	set("contract_type", opts.ContractType)
	set("state", opts.State)
	set("provider_agent", opts.ProviderAgent)
	set("consumer_agent", opts.ConsumerAgent)
	set("priority", opts.Priority)
	set("tags", strings.Join(opts.Tags, ","))
	if opts.IsBlocking != nil {
		q.Set("is_blocking", fmt.Sprint(*opts.IsBlocking))
	}
	endpoint := "contracts"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var page contractPage
	err := c.do(ctx, http.MethodGet, endpoint, nil, &page)
	return page.Items, err
}

func (c *Client) Propose(ctx context.Context, id string) (Contract, error) {
	return c.transition(ctx, id, "propose", nil)
}

func (c *Client) Accept(ctx context.Context, id string) (Contract, error) {
	return c.transition(ctx, id, "accept", nil)
}

func (c *Client) Fulfill(ctx context.Context, id string, deliverables []string) (Contract, error) {
	return c.transition(ctx, id, "fulfill", map[string]any{"deliverables": deliverables})
}

func (c *Client) Verify(ctx context.Context, id string, v Verification) (Contract, error) {
	return c.transition(ctx, id, "verify", v)
}

func (c *Client) Breach(ctx context.Context, id string, b Breach) (Contract, error) {
	return c.transition(ctx, id, "breach", b)
}

func (c *Client) Close(ctx context.Context, id string) (Contract, error) {
	return c.transition(ctx, id, "close", nil)
}

// Delete soft-deletes a contract.
func (c *Client) Delete(ctx context.Context, id, reason string) (Contract, error) {
	endpoint := contractPath(id, "")
	if reason != "" {
		endpoint += "?reason=" + url.QueryEscape(reason)
	}
	var resp Contract
	err := c.do(ctx, http.MethodDelete, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) History(ctx context.Context, id string) ([]Event, error) {
	var page eventPage
	err := c.do(ctx, http.MethodGet, contractPath(id, "history"), nil, &page)
	return page.Items, err
}

func (c *Client) Dependencies(ctx context.Context, id string) ([]Contract, error) {
	var page contractPage
	err := c.do(ctx, http.MethodGet, contractPath(id, "dependencies"), nil, &page)
	return page.Items, err
}

func (c *Client) Dependents(ctx context.Context, id string) ([]Contract, error) {
	var page contractPage
	err := c.do(ctx, http.MethodGet, contractPath(id, "dependents"), nil, &page)
	return page.Items, err
}

// Search runs a case-insensitive search; no fields means the server defaults.
func (c *Client) Search(ctx context.Context, query string, fields ...string) ([]Contract, error) {
	q := url.Values{}
	q.Set("q", query)
	if len(fields) > 0 {
		q.Set("fields", strings.Join(fields, ","))
	}
	var page contractPage
	err := c.do(ctx, http.MethodGet, "search?"+q.Encode(), nil, &page)
	return page.Items, err
}

// Plan computes an execution plan over ids, or over every contract.
func (c *Client) Plan(ctx context.Context, ids ...string) (Plan, error) {
	body := map[string]any{}
	if len(ids) > 0 {
		body["contract_ids"] = ids
	}
	var resp Plan
	err := c.do(ctx, http.MethodPost, "plans", body, &resp)
	return resp, err
}

func (c *Client) transition(ctx context.Context, id, action string, body any) (Contract, error) {
	var resp Contract
	err := c.do(ctx, http.MethodPost, contractPath(id, action), body, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.ActorID != "" {
		req.Header.Set("X-Actor-ID", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string         `json:"code"`
				Message string         `json:"message"`
				Details map[string]any `json:"details"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
			apiErr.Details = env.Error.Details
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func contractPath(id, action string) string {
	p := "contracts/" + url.PathEscape(id)
	if action != "" {
		p += "/" + action
	}
	return p
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base
}
