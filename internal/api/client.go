// Package api is the client of the employee REST API. Reads are served from
// the state container when cached; successful writes patch the cache in place.
package api

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

	"empctl/internal/auth"
	"empctl/internal/emp"
	"empctl/internal/model"
	"empctl/internal/state"
)

// LoginSuccessMessage and LoginFailedMessage are the fixed login stub replies.
const (
	LoginSuccessMessage = "Login successful"
	LoginFailedMessage  = "Login failed"
)

// Cache is the part of the state container the client reads and writes.
type Cache interface {
	Dispatch(a state.Action) error
	AccessToken() string
	CachedList() ([]model.Employee, bool)
	CachedDetail(id model.ID) (model.Employee, bool)
	state.Reconciler
}

var _ Cache = (*state.Store)(nil)

// Config configures a Client.
type Config struct {
	BaseURL string
	Timeout time.Duration
	// HTTPClient overrides the default client. Timeout is ignored when set.
	HTTPClient *http.Client
	// Issuer, when set, mints a bearer token on login.
	Issuer *auth.TokenIssuer
	Clock  emp.Clock
	Logger emp.Logger
}

// Credentials are the login form fields.
type Credentials struct {
	Username string
	Password string
}

// LoginResult is the reply of a successful login.
type LoginResult struct {
	Message string
	Token   string
}

// Client talks to the employee API.
type Client struct {
	baseURL string
	http    *http.Client
	cache   Cache
	issuer  *auth.TokenIssuer
	clock   emp.Clock
	logger  emp.Logger
}

// New creates a Client that keeps its results in cache.
func New(cfg Config, cache Cache) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = emp.RealClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = emp.NewNopLogger()
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    httpClient,
		cache:   cache,
		issuer:  cfg.Issuer,
		clock:   clock,
		logger:  logger,
	}, nil
}

// Login validates credentials locally. Both fields must be non-empty; no
// request is made.
func (c *Client) Login(_ context.Context, creds Credentials) (LoginResult, error) {
	if creds.Username == "" || creds.Password == "" {
		return LoginResult{}, &Error{Kind: KindUnauthorized, Status: http.StatusUnauthorized, Message: LoginFailedMessage}
	}

	var token string
	if c.issuer != nil {
		var err error
		token, err = c.issuer.Issue(creds.Username)
		if err != nil {
			return LoginResult{}, fmt.Errorf("issuing token: %w", err)
		}
	}

	if err := c.cache.Dispatch(state.LoginFulfilled{Username: creds.Username, Token: token}); err != nil {
		return LoginResult{}, err
	}
	c.logger.Info("logged in", "username", creds.Username)
	return LoginResult{Message: LoginSuccessMessage, Token: token}, nil
}

// ListEmployees returns the employee list, from cache when it is fresh.
func (c *Client) ListEmployees(ctx context.Context) ([]model.Employee, error) {
	if list, ok := c.cache.CachedList(); ok {
		return list, nil
	}
	return c.RefetchEmployees(ctx)
}

// RefetchEmployees always fetches the list from the server.
func (c *Client) RefetchEmployees(ctx context.Context) ([]model.Employee, error) {
	data, err := c.do(ctx, http.MethodGet, "/employees", nil)
	if err != nil {
		return nil, err
	}
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, decodeError("employee list is not an array", err)
	}
	employees := make([]model.Employee, 0, len(raws))
	for i, raw := range raws {
		e, _, err := model.DecodeEmployee(raw)
		if err != nil {
			return nil, decodeError(fmt.Sprintf("employee %d", i), err)
		}
		employees = append(employees, e)
	}

	if err := c.cache.Dispatch(state.ListFulfilled{Employees: employees, At: c.clock.Now()}); err != nil {
		return nil, err
	}
	return employees, nil
}

// GetEmployeeDetails returns one employee, from cache when it is fresh.
func (c *Client) GetEmployeeDetails(ctx context.Context, id model.ID) (model.Employee, error) {
	if e, ok := c.cache.CachedDetail(id); ok {
		return e, nil
	}
	data, err := c.do(ctx, http.MethodGet, "/employee/"+url.PathEscape(id.String()), nil)
	if err != nil {
		return model.Employee{}, err
	}
	e, _, err := model.DecodeEmployee(data)
	if err != nil {
		return model.Employee{}, decodeError("employee", err)
	}
	if err := c.cache.Dispatch(state.DetailFulfilled{Employee: e, At: c.clock.Now()}); err != nil {
		return model.Employee{}, err
	}
	return e, nil
}

// CreateEmployee posts e without an id and returns the record the server
// created. The caches are patched before it returns. A reply without an id
// still counts as a successful create, but nothing is patched.
func (c *Client) CreateEmployee(ctx context.Context, e model.Employee) (model.Employee, error) {
	e.ID = ""
	data, err := c.do(ctx, http.MethodPost, "/create", e)
	if err != nil {
		return model.Employee{}, err
	}
	var created model.Employee
	if err := json.Unmarshal(data, &created); err != nil {
		return model.Employee{}, decodeError("created employee", err)
	}
	if created.ID == "" {
		c.logger.Debug("created employee has no id; skipping cache patch", "name", created.Name)
		return created, nil
	}
	c.cache.ApplyCreated(created)
	return created, nil
}

// UpdateEmployee puts the full record e and returns the server's version.
// The caches are patched with the fields the server returned.
func (c *Client) UpdateEmployee(ctx context.Context, e model.Employee) (model.Employee, error) {
	if e.ID == "" {
		return model.Employee{}, fmt.Errorf("updating employee: id is required")
	}
	data, err := c.do(ctx, http.MethodPut, "/update/"+url.PathEscape(e.ID.String()), e)
	if err != nil {
		return model.Employee{}, err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return model.Employee{}, decodeError("updated employee", err)
	}
	var updated model.Employee
	if err := json.Unmarshal(data, &updated); err != nil {
		return model.Employee{}, decodeError("updated employee", err)
	}
	if updated.ID == "" {
		updated.ID = e.ID
	}
	c.cache.ApplyUpdated(updated, fields)
	return updated, nil
}

// InvalidateTags marks cached reads providing any of tags as stale, so the
// next read goes to the network.
func (c *Client) InvalidateTags(tags ...state.Tag) error {
	return c.cache.Dispatch(state.TagsInvalidated{Tags: tags})
}

// prepareHeaders sets the headers every request carries.
func (c *Client) prepareHeaders(h http.Header) {
	h.Set("Accept", "application/json")
	if h.Get("Content-Type") == "" {
		h.Set("Content-Type", "application/json")
	}
	if token := c.cache.AccessToken(); token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
}

type responseEnvelope struct {
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

// do sends a request and returns the data member of the response envelope.
func (c *Client) do(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	c.prepareHeaders(req.Header)

	start := c.clock.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("request failed", "method", method, "path", path, "error", err)
		return nil, &Error{Kind: KindTransport, Message: TransportMessage, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: KindTransport, Status: resp.StatusCode, Message: TransportMessage, Err: err}
	}
	c.logger.Debug("request", "method", method, "path", path, "status", resp.StatusCode,
		"duration", c.clock.Now().Sub(start))

	var env responseEnvelope
	envErr := json.Unmarshal(raw, &env)

	if resp.StatusCode >= http.StatusBadRequest {
		message := env.Message
		if envErr != nil || message == "" {
			message = http.StatusText(resp.StatusCode)
		}
		kind := KindServer
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			kind = KindUnauthorized
		}
		return nil, &Error{Kind: kind, Status: resp.StatusCode, Message: message}
	}

	if envErr != nil {
		return nil, &Error{Kind: KindDecode, Status: resp.StatusCode, Message: "response is not valid JSON", Err: envErr}
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil, &Error{Kind: KindDecode, Status: resp.StatusCode, Message: "response has no data"}
	}
	return env.Data, nil
}

func decodeError(what string, err error) *Error {
	return &Error{Kind: KindDecode, Message: fmt.Sprintf("unexpected %s", what), Err: err}
}
