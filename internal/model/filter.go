package model

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Op is a filter comparison operator
type Op string

const (
	OpEq         Op = "eq"
	OpNe         Op = "ne"
	OpLt         Op = "lt"
	OpLe         Op = "le"
	OpGt         Op = "gt"
	OpGe         Op = "ge"
	OpBetween    Op = "between"
	OpContains   Op = "contains"
	OpBeginsWith Op = "beginsWith"
)

// Condition compares one field against a value. Between uses Value as the
// lower and Upper as the upper bound, both inclusive.
type Condition struct {
	Field string `json:"field"`
	Op    Op     `json:"op"`
	Value any    `json:"value"`
	Upper any    `json:"upper,omitempty"`
}

// Filter is a conjunction of conditions over Todo fields
type Filter struct {
	Conditions     []Condition `json:"conditions,omitempty"`
	IncludeDeleted bool        `json:"includeDeleted,omitempty"`
}

// Where returns a copy of the filter with one more condition
func (f Filter) Where(field string, op Op, value any) Filter {
	out := Filter{IncludeDeleted: f.IncludeDeleted}
	out.Conditions = append(append([]Condition{}, f.Conditions...), Condition{Field: field, Op: op, Value: value})
	return out
}

// Between returns a copy of the filter with an inclusive range condition
func (f Filter) Between(field string, lower, upper any) Filter {
	out := Filter{IncludeDeleted: f.IncludeDeleted}
	out.Conditions = append(append([]Condition{}, f.Conditions...), Condition{Field: field, Op: OpBetween, Value: lower, Upper: upper})
	return out
}

// Normalize checks every condition against the Todo field set and converts the
// values to the normalized representation used by Todo.Value.
func (f Filter) Normalize() (Filter, error) {
	out := Filter{IncludeDeleted: f.IncludeDeleted}
	for _, c := range f.Conditions {
		spec, ok := LookupField(c.Field)
		if !ok {
			return Filter{}, fmt.Errorf("%w: unknown field %q", ErrSchemaMismatch, c.Field)
		}
		if err := checkOp(spec, c); err != nil {
			return Filter{}, err
		}
		v, err := normalizeValue(spec, c.Value)
		if err != nil {
			return Filter{}, err
		}
		n := Condition{Field: c.Field, Op: c.Op, Value: v}
		if c.Op == OpBetween {
			if v == nil || c.Upper == nil {
				return Filter{}, fmt.Errorf("%w: between on %s needs two bounds", ErrInvalidRecord, c.Field)
			}
			if n.Upper, err = normalizeValue(spec, c.Upper); err != nil {
				return Filter{}, err
			}
		}
		out.Conditions = append(out.Conditions, n)
	}
	return out, nil
}

func checkOp(spec FieldSpec, c Condition) error {
	switch c.Op {
	case OpEq, OpNe:
		return nil
	case OpLt, OpLe, OpGt, OpGe, OpBetween:
		if spec.Kind == KindBool {
			return fmt.Errorf("%w: %s does not support %s", ErrSchemaMismatch, spec.Name, c.Op)
		}
		if c.Value == nil {
			return fmt.Errorf("%w: %s %s needs a value", ErrInvalidRecord, spec.Name, c.Op)
		}
		return nil
	case OpContains, OpBeginsWith:
		if spec.Kind != KindString && spec.Kind != KindID {
			return fmt.Errorf("%w: %s does not support %s", ErrSchemaMismatch, spec.Name, c.Op)
		}
		if _, ok := c.Value.(string); !ok {
			return fmt.Errorf("%w: %s %s needs a string", ErrInvalidRecord, spec.Name, c.Op)
		}
		return nil
	}
	return fmt.Errorf("%w: unknown operator %q", ErrSchemaMismatch, c.Op)
}

func normalizeValue(spec FieldSpec, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	bad := func() error {
		return fmt.Errorf("%w: %v is not a valid value for %s", ErrInvalidRecord, v, spec.Name)
	}
	switch spec.Kind {
	case KindID, KindString:
		s, ok := v.(string)
		if !ok {
			return nil, bad()
		}
		return s, nil
	case KindEnum:
		switch x := v.(type) {
		case Priority:
			return int64(x), nil
		case string:
			p, err := ParsePriority(x)
			if err != nil {
				return nil, err
			}
			if p == PriorityUnset {
				return nil, nil
			}
			return int64(p), nil
		}
		return nil, bad()
	case KindInt:
		n, ok := toInt64(v)
		if !ok {
			return nil, bad()
		}
		return n, nil
	case KindBool:
		switch x := v.(type) {
		case bool:
			return x, nil
		case string:
			switch strings.ToLower(x) {
			case "true":
				return true, nil
			case "false":
				return false, nil
			}
		}
		return nil, bad()
	case KindTimestamp:
		switch x := v.(type) {
		case time.Time:
			return x.UnixMilli(), nil
		case string:
			ts, err := time.Parse(time.RFC3339Nano, x)
			if err != nil {
				return nil, bad()
			}
			return ts.UnixMilli(), nil
		}
		if n, ok := toInt64(v); ok {
			return n, nil
		}
		return nil, bad()
	}
	return nil, bad()
}

func toInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case float64:
		if x != math.Trunc(x) {
			return 0, false
		}
		return int64(x), true
	case string:
		var n int64
		if _, err := fmt.Sscan(x, &n); err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

// Match evaluates a normalized filter against a record
func (f Filter) Match(t Todo) bool {
	if t.Deleted && !f.IncludeDeleted {
		return false
	}
	for _, c := range f.Conditions {
		v, ok := t.Value(c.Field)
		if !ok || !matchCondition(c, v) {
			return false
		}
	}
	return true
}

func matchCondition(c Condition, v any) bool {
	switch c.Op {
	case OpEq:
		return v == c.Value
	case OpNe:
		return v != c.Value
	}
	if v == nil || c.Value == nil {
		return false
	}
	switch c.Op {
	case OpContains:
		s, _ := v.(string)
		return strings.Contains(s, c.Value.(string))
	case OpBeginsWith:
		s, _ := v.(string)
		return strings.HasPrefix(s, c.Value.(string))
	case OpBetween:
		lo, ok1 := compare(v, c.Value)
		hi, ok2 := compare(v, c.Upper)
		return ok1 && ok2 && lo >= 0 && hi <= 0
	}
	cmp, ok := compare(v, c.Value)
	if !ok {
		return false
	}
	switch c.Op {
	case OpLt:
		return cmp < 0
	case OpLe:
		return cmp <= 0
	case OpGt:
		return cmp > 0
	case OpGe:
		return cmp >= 0
	}
	return false
}

func compare(a, b any) (int, bool) {
	switch x := a.(type) {
	case string:
		y, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(x, y), true
	case int64:
		y, ok := b.(int64)
		if !ok {
			return 0, false
		}
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		}
		return 0, true
	}
	return 0, false
}
