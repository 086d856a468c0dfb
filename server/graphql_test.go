package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/existflow/todosync/internal/model"
	"github.com/existflow/todosync/internal/schema"
)

const testKey = "server-test-key"

type rawResponse struct {
	Data   map[string]json.RawMessage `json:"data"`
	Errors []struct {
		Message   string      `json:"message"`
		ErrorType string      `json:"errorType"`
		Data      *model.Todo `json:"data"`
	} `json:"errors"`
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s := New(NewMemoryStore(), Config{AuthMode: AuthAPIKey, APIKeys: []string{testKey}})
	t.Cleanup(s.hub.Close)
	return s
}

// call posts one operation and decodes the envelope
func call(t *testing.T, s *Server, op string, vars any) (int, rawResponse) {
	t.Helper()
	document, err := schema.Document(op)
	if err != nil {
		document = "query { unknown }"
	}
	return post(t, s, map[string]any{"query": document, "operationName": op, "variables": vars})
}

func post(t *testing.T, s *Server, payload any) (int, rawResponse) {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/graphql", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", testKey)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	var resp rawResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return rec.Code, resp
}

func todoField(t *testing.T, resp rawResponse, field string) model.Todo {
	t.Helper()
	require.Empty(t, resp.Errors)
	var todo model.Todo
	require.NoError(t, json.Unmarshal(resp.Data[field], &todo))
	return todo
}

func create(t *testing.T, s *Server, id, name string) model.Todo {
	t.Helper()
	_, resp := call(t, s, schema.OpCreateTodo, map[string]any{"input": map[string]any{"id": id, "name": name}})
	return todoField(t, resp, "createTodo")
}

func errorType(t *testing.T, resp rawResponse) string {
	t.Helper()
	require.Len(t, resp.Errors, 1)
	return resp.Errors[0].ErrorType
}

func TestGraphQL_CreateAndGet(t *testing.T) {
	s := newTestServer(t)

	created := create(t, s, "a", "Buy milk")
	assert.EqualValues(t, 1, created.Version)
	assert.NotZero(t, created.LastChangedAt)
	assert.False(t, created.Deleted)

	_, resp := call(t, s, schema.OpGetTodo, map[string]any{"id": "a"})
	got := todoField(t, resp, "getTodo")
	assert.Equal(t, created, got)

	_, resp = call(t, s, schema.OpGetTodo, map[string]any{"id": "missing"})
	require.Empty(t, resp.Errors)
	assert.Equal(t, "null", string(resp.Data["getTodo"]))
}

func TestGraphQL_DuplicateCreateConflicts(t *testing.T) {
	s := newTestServer(t)
	create(t, s, "a", "first")

	_, resp := call(t, s, schema.OpCreateTodo, map[string]any{"input": map[string]any{"id": "a", "name": "second"}})
	assert.Equal(t, model.ErrorTypeConflict, errorType(t, resp))
	require.NotNil(t, resp.Errors[0].Data)
	assert.Equal(t, "first", resp.Errors[0].Data.Name)
}

func TestGraphQL_UpdateVersions(t *testing.T) {
	s := newTestServer(t)
	create(t, s, "a", "draft")

	_, resp := call(t, s, schema.OpUpdateTodo, map[string]any{"input": map[string]any{
		"id": "a", "name": "final", "description": "notes", "priority": "HIGH", "_version": 1,
	}})
	updated := todoField(t, resp, "updateTodo")
	assert.EqualValues(t, 2, updated.Version)
	assert.Equal(t, "final", updated.Name)
	assert.Equal(t, "notes", updated.DescriptionText())
	assert.Equal(t, model.PriorityHigh, updated.Priority)

	// Stale version
	_, resp = call(t, s, schema.OpUpdateTodo, map[string]any{"input": map[string]any{"id": "a", "name": "late", "_version": 1}})
	assert.Equal(t, model.ErrorTypeConflict, errorType(t, resp))
	assert.EqualValues(t, 2, resp.Errors[0].Data.Version)
	assert.Equal(t, "final", resp.Errors[0].Data.Name)

	// Explicit nulls clear optional fields
	_, resp = call(t, s, schema.OpUpdateTodo, map[string]any{"input": map[string]any{
		"id": "a", "description": nil, "priority": nil, "_version": 2,
	}})
	cleared := todoField(t, resp, "updateTodo")
	assert.Nil(t, cleared.Description)
	assert.Equal(t, model.PriorityUnset, cleared.Priority)
	assert.Equal(t, "final", cleared.Name)
}

func TestGraphQL_DeleteThenUpdate(t *testing.T) {
	s := newTestServer(t)
	create(t, s, "a", "doomed")

	_, resp := call(t, s, schema.OpDeleteTodo, map[string]any{"input": map[string]any{"id": "a", "_version": 1}})
	tomb := todoField(t, resp, "deleteTodo")
	assert.True(t, tomb.Deleted)
	assert.EqualValues(t, 2, tomb.Version)

	_, resp = call(t, s, schema.OpUpdateTodo, map[string]any{"input": map[string]any{"id": "a", "name": "back", "_version": 2}})
	assert.Equal(t, model.ErrorTypeNotFound, errorType(t, resp))

	_, resp = call(t, s, schema.OpDeleteTodo, map[string]any{"input": map[string]any{"id": "nope", "_version": 0}})
	assert.Equal(t, model.ErrorTypeNotFound, errorType(t, resp))
}

func TestGraphQL_SchemaMismatches(t *testing.T) {
	s := newTestServer(t)

	_, resp := call(t, s, schema.OpCreateTodo, map[string]any{"input": map[string]any{"id": "a", "name": "x", "color": "red"}})
	assert.Equal(t, model.ErrorTypeSchema, errorType(t, resp))

	_, resp = call(t, s, "ArchiveTodo", map[string]any{})
	assert.Equal(t, model.ErrorTypeSchema, errorType(t, resp))

	_, resp = call(t, s, schema.OpOnCreateTodo, map[string]any{})
	assert.Equal(t, model.ErrorTypeSchema, errorType(t, resp))

	_, resp = post(t, s, map[string]any{"query": "query { somethingElse }", "operationName": schema.OpGetTodo, "variables": map[string]any{"id": "a"}})
	assert.Equal(t, model.ErrorTypeSchema, errorType(t, resp))

	_, resp = call(t, s, schema.OpListTodos, map[string]any{"filter": map[string]any{
		"conditions": []map[string]any{{"field": "color", "op": "eq", "value": "red"}},
	}})
	assert.Equal(t, model.ErrorTypeSchema, errorType(t, resp))
}

func TestGraphQL_Validation(t *testing.T) {
	s := newTestServer(t)

	_, resp := call(t, s, schema.OpCreateTodo, map[string]any{"input": map[string]any{"id": "a", "name": " "}})
	assert.Equal(t, model.ErrorTypeValidation, errorType(t, resp))

	_, resp = call(t, s, schema.OpCreateTodo, map[string]any{"input": map[string]any{"name": "no id"}})
	assert.Equal(t, model.ErrorTypeValidation, errorType(t, resp))

	_, resp = call(t, s, schema.OpUpdateTodo, map[string]any{"input": map[string]any{"id": "a", "name": "x"}})
	assert.Equal(t, model.ErrorTypeValidation, errorType(t, resp))

	_, resp = call(t, s, schema.OpListTodos, map[string]any{"nextToken": "%%%"})
	assert.Equal(t, model.ErrorTypeValidation, errorType(t, resp))
}

func TestGraphQL_ListFiltersAndPages(t *testing.T) {
	s := newTestServer(t)
	for _, name := range []string{"alpha", "beta", "gamma", "delta", "epsilon"} {
		create(t, s, name, name)
	}
	_, resp := call(t, s, schema.OpDeleteTodo, map[string]any{"input": map[string]any{"id": "beta", "_version": 1}})
	require.Empty(t, resp.Errors)

	var ids []string
	token := ""
	for {
		vars := map[string]any{"limit": 2}
		if token != "" {
			vars["nextToken"] = token
		}
		_, resp := call(t, s, schema.OpListTodos, vars)
		require.Empty(t, resp.Errors)
		var page connection
		require.NoError(t, json.Unmarshal(resp.Data["listTodos"], &page))
		assert.LessOrEqual(t, len(page.Items), 2)
		for _, item := range page.Items {
			ids = append(ids, item.ID)
		}
		if page.NextToken == nil {
			break
		}
		token = *page.NextToken
	}
	assert.ElementsMatch(t, []string{"alpha", "gamma", "delta", "epsilon"}, ids)

	_, resp = call(t, s, schema.OpListTodos, map[string]any{"filter": map[string]any{
		"conditions": []map[string]any{{"field": "name", "op": "beginsWith", "value": "e"}},
	}})
	var page connection
	require.NoError(t, json.Unmarshal(resp.Data["listTodos"], &page))
	require.Len(t, page.Items, 1)
	assert.Equal(t, "epsilon", page.Items[0].ID)
}

func TestGraphQL_SyncIsConsistentAcrossPages(t *testing.T) {
	s := newTestServer(t)
	for _, id := range []string{"a", "b", "c"} {
		create(t, s, id, id)
	}

	_, resp := call(t, s, schema.OpSyncTodos, map[string]any{"limit": 2})
	require.Empty(t, resp.Errors)
	var first connection
	require.NoError(t, json.Unmarshal(resp.Data["syncTodos"], &first))
	require.Len(t, first.Items, 2)
	require.NotNil(t, first.NextToken)
	require.NotNil(t, first.StartedAt)

	// A write after the first page is left for the next sync
	create(t, s, "d", "d")

	_, resp = call(t, s, schema.OpSyncTodos, map[string]any{"limit": 2, "nextToken": *first.NextToken})
	require.Empty(t, resp.Errors)
	var second connection
	require.NoError(t, json.Unmarshal(resp.Data["syncTodos"], &second))
	require.Len(t, second.Items, 1)
	assert.Equal(t, "c", second.Items[0].ID)
	assert.Nil(t, second.NextToken)
	assert.Equal(t, *first.StartedAt, *second.StartedAt)

	_, resp = call(t, s, schema.OpSyncTodos, map[string]any{"lastSync": *first.StartedAt})
	var next connection
	require.NoError(t, json.Unmarshal(resp.Data["syncTodos"], &next))
	require.Len(t, next.Items, 1)
	assert.Equal(t, "d", next.Items[0].ID)
}

func TestGraphQL_SyncSurvivesUpdatesBetweenPages(t *testing.T) {
	s := newTestServer(t)
	for _, id := range []string{"a", "b", "c"} {
		create(t, s, id, id)
	}

	_, resp := call(t, s, schema.OpSyncTodos, map[string]any{"limit": 2})
	require.Empty(t, resp.Errors)
	var first connection
	require.NoError(t, json.Unmarshal(resp.Data["syncTodos"], &first))
	require.Len(t, first.Items, 2)
	assert.Equal(t, "a", first.Items[0].ID)
	require.NotNil(t, first.NextToken)

	// a moves past the window
	_, resp = call(t, s, schema.OpUpdateTodo, map[string]any{"input": map[string]any{"id": "a", "name": "a2", "_version": 1}})
	require.Empty(t, resp.Errors)

	_, resp = call(t, s, schema.OpSyncTodos, map[string]any{"limit": 2, "nextToken": *first.NextToken})
	require.Empty(t, resp.Errors)
	var second connection
	require.NoError(t, json.Unmarshal(resp.Data["syncTodos"], &second))
	require.Len(t, second.Items, 1)
	assert.Equal(t, "c", second.Items[0].ID)

	_, resp = call(t, s, schema.OpSyncTodos, map[string]any{"lastSync": *first.StartedAt})
	var next connection
	require.NoError(t, json.Unmarshal(resp.Data["syncTodos"], &next))
	require.Len(t, next.Items, 1)
	assert.Equal(t, "a2", next.Items[0].Name)
}

func TestGraphQL_ListSurvivesDeletesBetweenPages(t *testing.T) {
	s := newTestServer(t)
	for _, id := range []string{"a", "b", "c", "d"} {
		create(t, s, id, id)
	}

	_, resp := call(t, s, schema.OpListTodos, map[string]any{"limit": 2})
	var first connection
	require.NoError(t, json.Unmarshal(resp.Data["listTodos"], &first))
	require.Len(t, first.Items, 2)
	require.NotNil(t, first.NextToken)

	_, resp = call(t, s, schema.OpDeleteTodo, map[string]any{"input": map[string]any{"id": first.Items[0].ID, "_version": 1}})
	require.Empty(t, resp.Errors)

	_, resp = call(t, s, schema.OpListTodos, map[string]any{"limit": 2, "nextToken": *first.NextToken})
	require.Empty(t, resp.Errors)
	var second connection
	require.NoError(t, json.Unmarshal(resp.Data["listTodos"], &second))
	require.Len(t, second.Items, 2)
	assert.Nil(t, second.NextToken)
	var ids []string
	for _, item := range append(first.Items, second.Items...) {
		ids = append(ids, item.ID)
	}
	assert.ElementsMatch(t, []string{"a", "b", "c", "d"}, ids)
}

func TestGraphQL_MalformedBody(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/graphql", bytes.NewReader([]byte("{")))
	req.Header.Set("x-api-key", testKey)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
