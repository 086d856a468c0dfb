// Package schema is the model registry: it declares the Todo entity and the
// operations a client is allowed to invoke against the remote endpoint.
package schema

import (
	"fmt"
	"sort"

	"github.com/existflow/todosync/internal/model"
)

// Operation names
const (
	OpGetTodo      = "GetTodo"
	OpListTodos    = "ListTodos"
	OpSyncTodos    = "SyncTodos"
	OpCreateTodo   = "CreateTodo"
	OpUpdateTodo   = "UpdateTodo"
	OpDeleteTodo   = "DeleteTodo"
	OpOnCreateTodo = "OnCreateTodo"
	OpOnUpdateTodo = "OnUpdateTodo"
	OpOnDeleteTodo = "OnDeleteTodo"
)

// OperationKind is the GraphQL root type an operation belongs to
type OperationKind string

const (
	KindQuery        OperationKind = "query"
	KindMutation     OperationKind = "mutation"
	KindSubscription OperationKind = "subscription"
)

// Operation declares one generated operation
type Operation struct {
	Name string
	Kind OperationKind
	// Field is the root field the operation selects
	Field string
	Args  []Arg
	// Returns is the GraphQL type of the root field
	Returns string
}

// Arg is one operation argument
type Arg struct {
	Name string
	Type string
}

// Operations is every operation generated for Todo, in declaration order
var Operations = []Operation{
	{Name: OpGetTodo, Kind: KindQuery, Field: "getTodo", Args: []Arg{{"id", "ID!"}}, Returns: "Todo"},
	{Name: OpListTodos, Kind: KindQuery, Field: "listTodos", Args: []Arg{{"filter", "ModelTodoFilterInput"}, {"limit", "Int"}, {"nextToken", "String"}}, Returns: "ModelTodoConnection"},
	{Name: OpSyncTodos, Kind: KindQuery, Field: "syncTodos", Args: []Arg{{"lastSync", "AWSTimestamp"}, {"limit", "Int"}, {"nextToken", "String"}}, Returns: "ModelTodoConnection"},
	{Name: OpCreateTodo, Kind: KindMutation, Field: "createTodo", Args: []Arg{{"input", "CreateTodoInput!"}}, Returns: "Todo"},
	{Name: OpUpdateTodo, Kind: KindMutation, Field: "updateTodo", Args: []Arg{{"input", "UpdateTodoInput!"}}, Returns: "Todo"},
	{Name: OpDeleteTodo, Kind: KindMutation, Field: "deleteTodo", Args: []Arg{{"input", "DeleteTodoInput!"}}, Returns: "Todo"},
	{Name: OpOnCreateTodo, Kind: KindSubscription, Field: "onCreateTodo", Returns: "Todo"},
	{Name: OpOnUpdateTodo, Kind: KindSubscription, Field: "onUpdateTodo", Returns: "Todo"},
	{Name: OpOnDeleteTodo, Kind: KindSubscription, Field: "onDeleteTodo", Returns: "Todo"},
}

// LookupOperation returns the declaration of an operation by name
func LookupOperation(name string) (Operation, bool) {
	for _, op := range Operations {
		if op.Name == name {
			return op, true
		}
	}
	return Operation{}, false
}

// MutationFor returns the mutation that carries a change of the given kind
func MutationFor(kind model.ChangeKind) string {
	switch kind {
	case model.ChangeCreate:
		return OpCreateTodo
	case model.ChangeUpdate:
		return OpUpdateTodo
	case model.ChangeDelete:
		return OpDeleteTodo
	}
	return ""
}

// SubscriptionFor returns the subscription that delivers a change of the given kind
func SubscriptionFor(kind model.ChangeKind) string {
	switch kind {
	case model.ChangeCreate:
		return OpOnCreateTodo
	case model.ChangeUpdate:
		return OpOnUpdateTodo
	case model.ChangeDelete:
		return OpOnDeleteTodo
	}
	return ""
}

// KindForSubscription is the inverse of SubscriptionFor
func KindForSubscription(op string) (model.ChangeKind, bool) {
	switch op {
	case OpOnCreateTodo:
		return model.ChangeCreate, true
	case OpOnUpdateTodo:
		return model.ChangeUpdate, true
	case OpOnDeleteTodo:
		return model.ChangeDelete, true
	}
	return "", false
}

// Registry is the set of operations a client has declared it will use
type Registry struct {
	allowed map[string]bool
}

// Default returns a registry allowing every generated operation
func Default() *Registry {
	r := &Registry{allowed: make(map[string]bool, len(Operations))}
	for _, op := range Operations {
		r.allowed[op.Name] = true
	}
	return r
}

// New returns a registry restricted to the named operations. An empty list
// allows every operation. Unknown names fail with ErrSchemaMismatch.
func New(ops ...string) (*Registry, error) {
	if len(ops) == 0 {
		return Default(), nil
	}
	r := &Registry{allowed: make(map[string]bool, len(ops))}
	for _, name := range ops {
		if _, ok := LookupOperation(name); !ok {
			return nil, fmt.Errorf("%w: unknown operation %q", model.ErrSchemaMismatch, name)
		}
		r.allowed[name] = true
	}
	return r, nil
}

// CheckOperation fails with ErrSchemaMismatch unless the operation is declared
func (r *Registry) CheckOperation(name string) error {
	if _, ok := LookupOperation(name); !ok {
		return fmt.Errorf("%w: unknown operation %q", model.ErrSchemaMismatch, name)
	}
	if !r.allowed[name] {
		return fmt.Errorf("%w: operation %q is not declared", model.ErrSchemaMismatch, name)
	}
	return nil
}

// CheckField fails with ErrSchemaMismatch unless the field belongs to Todo
func (r *Registry) CheckField(name string) error {
	if _, ok := model.LookupField(name); !ok {
		return fmt.Errorf("%w: unknown field %q", model.ErrSchemaMismatch, name)
	}
	return nil
}

// CheckFilter validates a filter and returns its normalized form
func (r *Registry) CheckFilter(f model.Filter) (model.Filter, error) {
	for _, c := range f.Conditions {
		if err := r.CheckField(c.Field); err != nil {
			return model.Filter{}, err
		}
	}
	return f.Normalize()
}

// Allowed returns the declared operation names, sorted
func (r *Registry) Allowed() []string {
	names := make([]string, 0, len(r.allowed))
	for name := range r.allowed {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Subscriptions returns the declared subscription operations in declaration order
func (r *Registry) Subscriptions() []string {
	var names []string
	for _, op := range Operations {
		if op.Kind == KindSubscription && r.allowed[op.Name] {
			names = append(names, op.Name)
		}
	}
	return names
}
