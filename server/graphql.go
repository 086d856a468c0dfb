package server

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/existflow/todosync/internal/logger"
	"github.com/existflow/todosync/internal/model"
	"github.com/existflow/todosync/internal/schema"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

type graphQLRequest struct {
	Query         string          `json:"query"`
	OperationName string          `json:"operationName"`
	Variables     json.RawMessage `json:"variables"`
}

type graphQLError struct {
	Message   string      `json:"message"`
	ErrorType string      `json:"errorType"`
	Data      *model.Todo `json:"data,omitempty"`
}

type graphQLResponse struct {
	Data   map[string]any `json:"data"`
	Errors []graphQLError `json:"errors,omitempty"`
}

type connection struct {
	Items     []model.Todo `json:"items"`
	NextToken *string      `json:"nextToken"`
	StartedAt *int64       `json:"startedAt,omitempty"`
}

// errorResponse maps an error to the errors member of a response
func errorResponse(err error) graphQLResponse {
	var (
		conflict *model.ConflictError
		remote   *model.RemoteError
	)
	e := graphQLError{Message: err.Error(), ErrorType: model.ErrorTypeInternal}
	switch {
	case errors.As(err, &conflict):
		current := conflict.Current
		e.ErrorType = model.ErrorTypeConflict
		e.Data = &current
	case errors.As(err, &remote):
		e.ErrorType = remote.Type
		e.Message = remote.Message
	case errors.Is(err, model.ErrSchemaMismatch):
		e.ErrorType = model.ErrorTypeSchema
	case errors.Is(err, model.ErrNotFound):
		e.ErrorType = model.ErrorTypeNotFound
	case errors.Is(err, model.ErrInvalidRecord):
		e.ErrorType = model.ErrorTypeValidation
	}
	return graphQLResponse{Errors: []graphQLError{e}}
}

// decodeVariables decodes strictly: unknown members are a schema mismatch
func decodeVariables(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		raw = json.RawMessage("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if strings.Contains(err.Error(), "unknown field") {
			return fmt.Errorf("%w: %v", model.ErrSchemaMismatch, err)
		}
		return fmt.Errorf("%w: %v", model.ErrInvalidRecord, err)
	}
	return nil
}

// handleGraphQL dispatches one operation by name
func (s *Server) handleGraphQL(c echo.Context) error {
	var req graphQLRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse(fmt.Errorf("%w: malformed request body", model.ErrInvalidRecord)))
	}

	op, ok := schema.LookupOperation(req.OperationName)
	if err := s.registry.CheckOperation(req.OperationName); err != nil || op.Kind == schema.KindSubscription {
		if err == nil {
			err = fmt.Errorf("%w: %s is served by the realtime endpoint", model.ErrSchemaMismatch, op.Name)
		}
		return c.JSON(http.StatusOK, errorResponse(err))
	}
	if ok && !strings.Contains(req.Query, op.Field) {
		return c.JSON(http.StatusOK, errorResponse(fmt.Errorf("%w: document does not select %s", model.ErrSchemaMismatch, op.Field)))
	}

	result, err := s.dispatch(c, op.Name, req.Variables)
	if err != nil {
		s.log.Debug("Operation failed", logger.F("operation", op.Name), logger.F("error", err))
		return c.JSON(http.StatusOK, errorResponse(err))
	}
	return c.JSON(http.StatusOK, graphQLResponse{Data: map[string]any{op.Field: result}})
}

func (s *Server) dispatch(c echo.Context, op string, vars json.RawMessage) (any, error) {
	switch op {
	case schema.OpGetTodo:
		return s.getTodo(c, vars)
	case schema.OpListTodos:
		return s.listTodos(c, vars)
	case schema.OpSyncTodos:
		return s.syncTodos(c, vars)
	case schema.OpCreateTodo:
		return s.createTodo(c, vars)
	case schema.OpUpdateTodo:
		return s.updateTodo(c, vars)
	case schema.OpDeleteTodo:
		return s.deleteTodo(c, vars)
	}
	return nil, fmt.Errorf("%w: unknown operation %q", model.ErrSchemaMismatch, op)
}

func (s *Server) getTodo(c echo.Context, raw json.RawMessage) (any, error) {
	var vars struct {
		ID string `json:"id"`
	}
	if err := decodeVariables(raw, &vars); err != nil {
		return nil, err
	}
	t, err := s.store.GetTodo(c.Request().Context(), vars.ID)
	if errors.Is(err, model.ErrNotFound) {
		// A missing record is a null result, not an error
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// pageToken is the decoded form of nextToken. It names the sort key and id
// of the last item returned, so writes between pages cannot shift the window.
type pageToken struct {
	At        int64  `json:"a"`
	ID        string `json:"i"`
	StartedAt int64  `json:"s,omitempty"`
}

// precedes reports whether the key (at, id) sorts after the token
func (t pageToken) precedes(at int64, id string) bool {
	return at > t.At || (at == t.At && id > t.ID)
}

func encodeToken(t pageToken) string {
	data, _ := json.Marshal(t)
	return base64.RawURLEncoding.EncodeToString(data)
}

func decodeToken(s string) (pageToken, error) {
	var t pageToken
	if s == "" {
		return t, nil
	}
	data, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil || json.Unmarshal(data, &t) != nil || t.ID == "" {
		return pageToken{}, fmt.Errorf("%w: invalid nextToken", model.ErrInvalidRecord)
	}
	return t, nil
}

func clampLimit(limit *int) int {
	if limit == nil || *limit <= 0 {
		return defaultLimit
	}
	return min(*limit, maxLimit)
}

// paginate returns the first limit items and, when more remain, a token
// positioned on the last one returned
func paginate(items []model.Todo, limit int, startedAt int64, key func(model.Todo) int64) ([]model.Todo, *string) {
	if len(items) <= limit {
		return items, nil
	}
	last := items[limit-1]
	next := encodeToken(pageToken{At: key(last), ID: last.ID, StartedAt: startedAt})
	return items[:limit], &next
}

func createdKey(t model.Todo) int64 { return t.CreatedAt.UnixMilli() }

func changedKey(t model.Todo) int64 { return t.LastChangedAt }

func (s *Server) listTodos(c echo.Context, raw json.RawMessage) (any, error) {
	var vars struct {
		Filter    *model.Filter `json:"filter"`
		Limit     *int          `json:"limit"`
		NextToken string        `json:"nextToken"`
	}
	if err := decodeVariables(raw, &vars); err != nil {
		return nil, err
	}
	var filter model.Filter
	if vars.Filter != nil {
		filter = *vars.Filter
	}
	filter, err := s.registry.CheckFilter(filter)
	if err != nil {
		return nil, err
	}
	tok, err := decodeToken(vars.NextToken)
	if err != nil {
		return nil, err
	}

	items, err := s.store.ListTodos(c.Request().Context(), filter)
	if err != nil {
		return nil, err
	}
	if tok.ID != "" {
		start := 0
		for start < len(items) && !tok.precedes(createdKey(items[start]), items[start].ID) {
			start++
		}
		items = items[start:]
	}
	page, next := paginate(items, clampLimit(vars.Limit), 0, createdKey)
	return connection{Items: page, NextToken: next}, nil
}

func (s *Server) syncTodos(c echo.Context, raw json.RawMessage) (any, error) {
	var vars struct {
		LastSync  int64  `json:"lastSync"`
		Limit     *int   `json:"limit"`
		NextToken string `json:"nextToken"`
	}
	if err := decodeVariables(raw, &vars); err != nil {
		return nil, err
	}
	tok, err := decodeToken(vars.NextToken)
	if err != nil {
		return nil, err
	}

	ctx := c.Request().Context()
	if tok.StartedAt == 0 {
		// First page: every later page answers as of this instant
		if tok.StartedAt, err = s.store.Clock(ctx); err != nil {
			return nil, err
		}
	}

	after := ChangeCursor{At: vars.LastSync}
	if tok.ID != "" && tok.At >= vars.LastSync {
		after = ChangeCursor{At: tok.At, ID: tok.ID}
	}
	items, err := s.store.ChangedTodos(ctx, after, tok.StartedAt)
	if err != nil {
		return nil, err
	}
	page, next := paginate(items, clampLimit(vars.Limit), tok.StartedAt, changedKey)
	startedAt := tok.StartedAt
	return connection{Items: page, NextToken: next, StartedAt: &startedAt}, nil
}

// present reports which members an input object carries, so an explicit
// null can clear an optional field.
func present(raw json.RawMessage) (map[string]json.RawMessage, error) {
	var vars struct {
		Input map[string]json.RawMessage `json:"input"`
	}
	if err := json.Unmarshal(raw, &vars); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrInvalidRecord, err)
	}
	if vars.Input == nil {
		return nil, fmt.Errorf("%w: input is required", model.ErrInvalidRecord)
	}
	return vars.Input, nil
}

func (s *Server) createTodo(c echo.Context, raw json.RawMessage) (any, error) {
	var vars struct {
		Input struct {
			ID          string          `json:"id"`
			Name        string          `json:"name"`
			Description *string         `json:"description"`
			Priority    *model.Priority `json:"priority"`
		} `json:"input"`
	}
	if err := decodeVariables(raw, &vars); err != nil {
		return nil, err
	}
	in := vars.Input
	if in.ID == "" {
		return nil, fmt.Errorf("%w: id is required", model.ErrInvalidRecord)
	}
	fields := model.Fields{Name: &in.Name, Description: in.Description, Priority: in.Priority}
	if err := fields.Validate(true); err != nil {
		return nil, err
	}

	t, err := s.store.CreateTodo(c.Request().Context(), model.NewTodo(in.ID, fields))
	if err != nil {
		return nil, err
	}
	s.hub.Publish(schema.OpOnCreateTodo, t)
	return t, nil
}

func (s *Server) updateTodo(c echo.Context, raw json.RawMessage) (any, error) {
	var vars struct {
		Input struct {
			ID          string          `json:"id"`
			Name        *string         `json:"name"`
			Description *string         `json:"description"`
			Priority    *model.Priority `json:"priority"`
			Version     *int64          `json:"_version"`
		} `json:"input"`
	}
	if err := decodeVariables(raw, &vars); err != nil {
		return nil, err
	}
	in := vars.Input
	if in.ID == "" || in.Version == nil {
		return nil, fmt.Errorf("%w: id and _version are required", model.ErrInvalidRecord)
	}
	members, err := present(raw)
	if err != nil {
		return nil, err
	}

	fields := model.Fields{
		Name:             in.Name,
		Description:      in.Description,
		ClearDescription: isNull(members, "description"),
		Priority:         in.Priority,
	}
	if err := fields.Validate(false); err != nil {
		return nil, err
	}
	clearPriority := isNull(members, "priority")

	t, err := s.store.MutateTodo(c.Request().Context(), in.ID, *in.Version, func(t *model.Todo) error {
		if t.Deleted {
			return &model.RemoteError{Type: model.ErrorTypeNotFound, Message: "todo " + t.ID + " is deleted"}
		}
		fields.Apply(t)
		if clearPriority {
			t.Priority = model.PriorityUnset
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.hub.Publish(schema.OpOnUpdateTodo, t)
	return t, nil
}

func isNull(members map[string]json.RawMessage, key string) bool {
	v, ok := members[key]
	return ok && string(bytes.TrimSpace(v)) == "null"
}

func (s *Server) deleteTodo(c echo.Context, raw json.RawMessage) (any, error) {
	var vars struct {
		Input struct {
			ID      string `json:"id"`
			Version *int64 `json:"_version"`
		} `json:"input"`
	}
	if err := decodeVariables(raw, &vars); err != nil {
		return nil, err
	}
	in := vars.Input
	if in.ID == "" || in.Version == nil {
		return nil, fmt.Errorf("%w: id and _version are required", model.ErrInvalidRecord)
	}

	t, err := s.store.MutateTodo(c.Request().Context(), in.ID, *in.Version, func(t *model.Todo) error {
		t.Deleted = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.hub.Publish(schema.OpOnDeleteTodo, t)
	return t, nil
}
