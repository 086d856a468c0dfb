package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/existflow/todosync/internal/logger"
	"github.com/existflow/todosync/internal/model"
	"github.com/existflow/todosync/internal/schema"
)

// Client talks to the remote GraphQL-style endpoint
type Client struct {
	endpoint   string
	httpClient *http.Client
	signer     Signer
	log        *logger.Logger
}

// NewClient creates a client for endpoint. A nil signer sends unsigned requests.
func NewClient(endpoint string, signer Signer, log *logger.Logger) *Client {
	if log == nil {
		log = logger.Discard()
	}
	return &Client{
		endpoint:   strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		signer:     signer,
		log:        log,
	}
}

// SetSigner replaces the request signer
func (c *Client) SetSigner(s Signer) {
	c.signer = s
}

// Request is the body of a POST /graphql call
type Request struct {
	Query         string `json:"query"`
	OperationName string `json:"operationName"`
	Variables     any    `json:"variables,omitempty"`
}

// Response is the body returned by POST /graphql
type Response struct {
	Data   json.RawMessage `json:"data"`
	Errors []ResponseError `json:"errors,omitempty"`
}

// ResponseError is one entry of the errors member
type ResponseError struct {
	Message   string          `json:"message"`
	ErrorType string          `json:"errorType"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// TransportError means the endpoint could not be reached. The request may be
// retried once connectivity returns.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: endpoint unreachable: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsRetryable returns true if err leaves the request eligible for a later retry
func IsRetryable(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return true
	}
	var re *model.RemoteError
	return errors.As(err, &re) && re.Retryable()
}

// IsOffline returns true if err is a transport failure
func IsOffline(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// Page is one page of a list or sync query
type Page struct {
	Items     []model.Todo `json:"items"`
	NextToken string       `json:"nextToken,omitempty"`
	StartedAt int64        `json:"startedAt,omitempty"`
}

// CreateTodoInput is the input of CreateTodo
type CreateTodoInput struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description *string         `json:"description,omitempty"`
	Priority    *model.Priority `json:"priority,omitempty"`
}

// UpdateTodoInput is the input of UpdateTodo. Unset fields are left unchanged.
type UpdateTodoInput struct {
	ID          string          `json:"id"`
	Name        *string         `json:"name,omitempty"`
	Description *string         `json:"description,omitempty"`
	Priority    *model.Priority `json:"priority,omitempty"`
	Version     int64           `json:"_version"`

	// ClearDescription sends an explicit null description
	ClearDescription bool `json:"-"`
}

func (in UpdateTodoInput) MarshalJSON() ([]byte, error) {
	type plain UpdateTodoInput
	if !in.ClearDescription {
		return json.Marshal(plain(in))
	}
	return json.Marshal(struct {
		plain
		Description *string `json:"description"`
	}{plain: plain(in)})
}

// DeleteTodoInput is the input of DeleteTodo
type DeleteTodoInput struct {
	ID      string `json:"id"`
	Version int64  `json:"_version"`
}

func (c *Client) sign(req *http.Request, body []byte) error {
	if c.signer == nil {
		return nil
	}
	if err := c.signer.Sign(req, body); err != nil {
		return fmt.Errorf("failed to sign request: %w", err)
	}
	return nil
}

// Do executes one operation and decodes its root field into out
func (c *Client) Do(ctx context.Context, operation string, variables any, out any) error {
	op, ok := schema.LookupOperation(operation)
	if !ok || op.Kind == schema.KindSubscription {
		return fmt.Errorf("%w: %s is not a query or mutation", model.ErrSchemaMismatch, operation)
	}
	document, err := schema.Document(operation)
	if err != nil {
		return err
	}

	body, err := json.Marshal(Request{Query: document, OperationName: operation, Variables: variables})
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	url := c.endpoint + "/graphql"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())
	if err := c.sign(req, body); err != nil {
		return err
	}

	c.log.Debug("HTTP Request",
		logger.F("operation", operation),
		logger.F("url", url),
		logger.F("bodySize", len(body)))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &TransportError{Op: operation, Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	c.log.Debug("HTTP Response",
		logger.F("operation", operation),
		logger.F("status", resp.StatusCode))

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Op: operation, Err: err}
	}

	var result Response
	if err := json.Unmarshal(respBody, &result); err != nil {
		if resp.StatusCode >= 500 {
			return &TransportError{Op: operation, Err: fmt.Errorf("server error: %s", resp.Status)}
		}
		return &model.RemoteError{Type: statusErrorType(resp.StatusCode), Message: strings.TrimSpace(string(respBody))}
	}

	if len(result.Errors) > 0 {
		return remoteError(result.Errors[0])
	}
	if resp.StatusCode != http.StatusOK {
		return &model.RemoteError{Type: statusErrorType(resp.StatusCode), Message: resp.Status}
	}
	if out == nil {
		return nil
	}

	var data map[string]json.RawMessage
	if err := json.Unmarshal(result.Data, &data); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", operation, err)
	}
	field, ok := data[op.Field]
	if !ok || string(field) == "null" {
		return fmt.Errorf("%s returned no %s: %w", operation, op.Field, model.ErrNotFound)
	}
	if err := json.Unmarshal(field, out); err != nil {
		return fmt.Errorf("failed to decode %s: %w", op.Field, err)
	}
	return nil
}

func statusErrorType(status int) string {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return model.ErrorTypeUnauthorized
	case status == http.StatusNotFound:
		return model.ErrorTypeNotFound
	case status >= 500:
		return model.ErrorTypeInternal
	}
	return model.ErrorTypeValidation
}

func remoteError(e ResponseError) error {
	if e.ErrorType == model.ErrorTypeConflict {
		var current model.Todo
		if len(e.Data) > 0 && json.Unmarshal(e.Data, &current) == nil && current.ID != "" {
			return &model.ConflictError{Current: current}
		}
	}
	return &model.RemoteError{Type: e.ErrorType, Message: e.Message}
}

// GetTodo fetches one record, tombstones included
func (c *Client) GetTodo(ctx context.Context, id string) (model.Todo, error) {
	var t model.Todo
	err := c.Do(ctx, schema.OpGetTodo, map[string]any{"id": id}, &t)
	return t, err
}

// ListTodos fetches one page of live records matching filter
func (c *Client) ListTodos(ctx context.Context, filter model.Filter, limit int, nextToken string) (Page, error) {
	vars := map[string]any{"filter": filter}
	if limit > 0 {
		vars["limit"] = limit
	}
	if nextToken != "" {
		vars["nextToken"] = nextToken
	}
	var page Page
	err := c.Do(ctx, schema.OpListTodos, vars, &page)
	return page, err
}

// SyncTodos fetches one page of records changed after lastSync (unix ms)
func (c *Client) SyncTodos(ctx context.Context, lastSync int64, limit int, nextToken string) (Page, error) {
	vars := map[string]any{}
	if lastSync > 0 {
		vars["lastSync"] = lastSync
	}
	if limit > 0 {
		vars["limit"] = limit
	}
	if nextToken != "" {
		vars["nextToken"] = nextToken
	}
	var page Page
	err := c.Do(ctx, schema.OpSyncTodos, vars, &page)
	return page, err
}

// CreateTodo sends a create mutation and returns the accepted record
func (c *Client) CreateTodo(ctx context.Context, in CreateTodoInput) (model.Todo, error) {
	var t model.Todo
	err := c.Do(ctx, schema.OpCreateTodo, map[string]any{"input": in}, &t)
	return t, err
}

// UpdateTodo sends an update mutation and returns the accepted record
func (c *Client) UpdateTodo(ctx context.Context, in UpdateTodoInput) (model.Todo, error) {
	var t model.Todo
	err := c.Do(ctx, schema.OpUpdateTodo, map[string]any{"input": in}, &t)
	return t, err
}

// DeleteTodo sends a delete mutation and returns the accepted tombstone
func (c *Client) DeleteTodo(ctx context.Context, in DeleteTodoInput) (model.Todo, error) {
	var t model.Todo
	err := c.Do(ctx, schema.OpDeleteTodo, map[string]any{"input": in}, &t)
	return t, err
}

// Health checks that the endpoint is reachable
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Op: "health", Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return &TransportError{Op: "health", Err: fmt.Errorf("server error: %s", resp.Status)}
	}
	return nil
}

// LoginResult is returned by a user-pool login
type LoginResult struct {
	Token     string    `json:"token"`
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Login authenticates a user-pool account
func (c *Client) Login(ctx context.Context, username, password string) (LoginResult, error) {
	return c.authenticate(ctx, "/auth/login", username, password)
}

// Register creates a user-pool account and logs it in
func (c *Client) Register(ctx context.Context, username, password string) (LoginResult, error) {
	return c.authenticate(ctx, "/auth/register", username, password)
}

func (c *Client) authenticate(ctx context.Context, path, username, password string) (LoginResult, error) {
	body, _ := json.Marshal(map[string]string{
		"username": username,
		"password": password,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return LoginResult{}, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return LoginResult{}, &TransportError{Op: path, Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		var e struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(respBody))
		if json.Unmarshal(respBody, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return LoginResult{}, &model.RemoteError{Type: statusErrorType(resp.StatusCode), Message: msg}
	}

	var result LoginResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return LoginResult{}, fmt.Errorf("failed to decode login response: %w", err)
	}
	return result, nil
}
