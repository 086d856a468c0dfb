package db

import (
	"fmt"
	"strings"

	"github.com/existflow/todosync/internal/model"
)

// columns maps wire field names to todos columns
var columns = map[string]string{
	model.FieldID:            "id",
	model.FieldName:          "name",
	model.FieldDescription:   "description",
	model.FieldPriority:      "priority",
	model.FieldVersion:       "version",
	model.FieldDeleted:       "deleted",
	model.FieldLastChangedAt: "last_changed_at",
	model.FieldCreatedAt:     "created_at",
	model.FieldUpdatedAt:     "updated_at",
}

// compileFilter turns a normalized filter into a WHERE clause and its arguments.
// Equality uses IS / IS NOT so that NULL compares the same way Filter.Match does.
func compileFilter(f model.Filter) (string, []any, error) {
	var clauses []string
	var args []any

	if !f.IncludeDeleted {
		clauses = append(clauses, "deleted = 0")
	}

	for _, c := range f.Conditions {
		col, ok := columns[c.Field]
		if !ok {
			return "", nil, fmt.Errorf("%w: unknown field %q", model.ErrSchemaMismatch, c.Field)
		}
		value := sqlValue(c.Value)

		switch c.Op {
		case model.OpEq:
			clauses = append(clauses, col+" IS ?")
			args = append(args, value)
		case model.OpNe:
			clauses = append(clauses, col+" IS NOT ?")
			args = append(args, value)
		case model.OpLt:
			clauses = append(clauses, col+" < ?")
			args = append(args, value)
		case model.OpLe:
			clauses = append(clauses, col+" <= ?")
			args = append(args, value)
		case model.OpGt:
			clauses = append(clauses, col+" > ?")
			args = append(args, value)
		case model.OpGe:
			clauses = append(clauses, col+" >= ?")
			args = append(args, value)
		case model.OpBetween:
			clauses = append(clauses, col+" BETWEEN ? AND ?")
			args = append(args, value, sqlValue(c.Upper))
		case model.OpContains:
			clauses = append(clauses, "instr("+col+", ?) > 0")
			args = append(args, value)
		case model.OpBeginsWith:
			clauses = append(clauses, "substr("+col+", 1, length(?)) = ?")
			args = append(args, value, value)
		default:
			return "", nil, fmt.Errorf("%w: unknown operator %q", model.ErrSchemaMismatch, c.Op)
		}
	}

	if len(clauses) == 0 {
		return "", nil, nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args, nil
}

func sqlValue(v any) any {
	if b, ok := v.(bool); ok {
		if b {
			return int64(1)
		}
		return int64(0)
	}
	return v
}
