package schema

import (
	"fmt"
	"strings"

	"github.com/existflow/todosync/internal/model"
)

// selection is the field set every operation returns for a Todo
func selection() string {
	names := make([]string, 0, len(model.TodoFields))
	for _, f := range model.TodoFields {
		names = append(names, f.Name)
	}
	return strings.Join(names, " ")
}

// Document returns the operation document sent with a request
func Document(name string) (string, error) {
	op, ok := LookupOperation(name)
	if !ok {
		return "", fmt.Errorf("%w: unknown operation %q", model.ErrSchemaMismatch, name)
	}

	var b strings.Builder
	b.WriteString(string(op.Kind))
	b.WriteString(" ")
	b.WriteString(op.Name)

	if len(op.Args) > 0 {
		vars := make([]string, len(op.Args))
		for i, a := range op.Args {
			vars[i] = fmt.Sprintf("$%s: %s", a.Name, a.Type)
		}
		b.WriteString("(" + strings.Join(vars, ", ") + ")")
	}

	b.WriteString(" { ")
	b.WriteString(op.Field)
	if len(op.Args) > 0 {
		args := make([]string, len(op.Args))
		for i, a := range op.Args {
			args[i] = fmt.Sprintf("%s: $%s", a.Name, a.Name)
		}
		b.WriteString("(" + strings.Join(args, ", ") + ")")
	}

	if op.Returns == "ModelTodoConnection" {
		b.WriteString(" { items { " + selection() + " } nextToken startedAt }")
	} else {
		b.WriteString(" { " + selection() + " }")
	}
	b.WriteString(" }")
	return b.String(), nil
}

// SDL renders the GraphQL schema for the registry's declared operations
func (r *Registry) SDL() string {
	var b strings.Builder

	b.WriteString("enum Priority {\n  LOW\n  NORMAL\n  HIGH\n}\n\n")

	b.WriteString("type Todo {\n")
	for _, f := range model.TodoFields {
		typ := f.GQLType
		if f.Required {
			typ += "!"
		}
		fmt.Fprintf(&b, "  %s: %s\n", f.Name, typ)
	}
	b.WriteString("}\n\n")

	b.WriteString("type ModelTodoConnection {\n  items: [Todo!]!\n  nextToken: String\n  startedAt: AWSTimestamp\n}\n\n")

	b.WriteString("input CreateTodoInput {\n  id: ID\n")
	for _, f := range model.TodoFields {
		if !f.Writable {
			continue
		}
		typ := f.GQLType
		if f.Required {
			typ += "!"
		}
		fmt.Fprintf(&b, "  %s: %s\n", f.Name, typ)
	}
	b.WriteString("}\n\n")

	b.WriteString("input UpdateTodoInput {\n  id: ID!\n")
	for _, f := range model.TodoFields {
		if f.Writable {
			fmt.Fprintf(&b, "  %s: %s\n", f.Name, f.GQLType)
		}
	}
	b.WriteString("  _version: Int\n}\n\n")

	b.WriteString("input DeleteTodoInput {\n  id: ID!\n  _version: Int\n}\n\n")

	b.WriteString("input ModelTodoFilterInput {\n  conditions: [ModelTodoCondition!]\n  includeDeleted: Boolean\n}\n\n")
	b.WriteString("input ModelTodoCondition {\n  field: String!\n  op: String!\n  value: AWSJSON\n  upper: AWSJSON\n}\n")

	for _, kind := range []OperationKind{KindQuery, KindMutation, KindSubscription} {
		var fields []string
		for _, op := range Operations {
			if op.Kind != kind || !r.allowed[op.Name] {
				continue
			}
			fields = append(fields, rootField(op))
		}
		if len(fields) == 0 {
			continue
		}
		typeName := strings.ToUpper(string(kind[:1])) + string(kind[1:])
		fmt.Fprintf(&b, "\ntype %s {\n", typeName)
		for _, f := range fields {
			b.WriteString("  " + f + "\n")
		}
		b.WriteString("}\n")
	}
	return b.String()
}

func rootField(op Operation) string {
	s := op.Field
	if len(op.Args) > 0 {
		args := make([]string, len(op.Args))
		for i, a := range op.Args {
			args[i] = a.Name + ": " + a.Type
		}
		s += "(" + strings.Join(args, ", ") + ")"
	}
	returns := op.Returns
	if op.Kind == KindMutation || op.Returns == "ModelTodoConnection" {
		returns += "!"
	}
	s += ": " + returns
	if op.Kind == KindSubscription {
		s += fmt.Sprintf(" @aws_subscribe(mutations: [%q])", lowerFirst(mutationFor(op.Name)))
	}
	return s
}

func mutationFor(subscription string) string {
	kind, _ := KindForSubscription(subscription)
	return MutationFor(kind)
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
