package condition

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Binding carries the session values substituted into an expression
type Binding struct {
	UserID         string // empty for anonymous
	OrganizationID string // empty when no organization is resolved
	Role           string
}

// Fields returns the sorted, de-duplicated field names referenced by expr
func Fields(expr Expr) []string {
	seen := make(map[string]bool)
	walk(expr, func(c Comparison) {
		for _, o := range []Operand{c.Left, c.Right} {
			if o.Kind == OperandField {
				seen[o.Name] = true
			}
		}
	})
	fields := make([]string, 0, len(seen))
	for f := range seen {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

func walk(expr Expr, fn func(Comparison)) {
	switch e := expr.(type) {
	case Comparison:
		fn(e)
	case And:
		for _, sub := range e {
			walk(sub, fn)
		}
	case Or:
		for _, sub := range e {
			walk(sub, fn)
		}
	}
}

// Bind substitutes session operands with their values and simplifies the
// result. Empty binding values bind as unset params.
func Bind(expr Expr, b Binding) Expr {
	return Simplify(bind(expr, b))
}

func bind(expr Expr, b Binding) Expr {
	switch e := expr.(type) {
	case Comparison:
		return Comparison{Left: bindOperand(e.Left, b), Op: e.Op, Right: bindOperand(e.Right, b)}
	case And:
		out := make(And, len(e))
		for i, sub := range e {
			out[i] = bind(sub, b)
		}
		return out
	case Or:
		out := make(Or, len(e))
		for i, sub := range e {
			out[i] = bind(sub, b)
		}
		return out
	default:
		return expr
	}
}

func bindOperand(o Operand, b Binding) Operand {
	var v string
	switch o.Kind {
	case OperandUserID:
		v = b.UserID
	case OperandOrgID:
		v = b.OrganizationID
	case OperandRole:
		v = b.Role
	default:
		return o
	}
	if v == "" {
		return Param(nil)
	}
	return Param(v)
}

// Simplify folds constant comparisons and flattens nested conjunctions.
// Comparisons that still reference fields or unbound session operands are kept.
func Simplify(expr Expr) Expr {
	switch e := expr.(type) {
	case Comparison:
		if e.Left.constant() && e.Right.constant() {
			return Const(compareOperands(e.Left.Value, e.Op, e.Right, e.Left))
		}
		// An unset param can never satisfy a comparison unless it is an IS NULL test.
		if isUnset(e.Left) && !e.Right.isNullLiteral() || isUnset(e.Right) && !e.Left.isNullLiteral() {
			return False
		}
		return e
	case And:
		var out And
		for _, sub := range e {
			s := Simplify(sub)
			switch v := s.(type) {
			case Const:
				if !v {
					return False
				}
				continue
			case And:
				out = append(out, v...)
				continue
			}
			out = append(out, s)
		}
		switch len(out) {
		case 0:
			return True
		case 1:
			return out[0]
		}
		return out
	case Or:
		var out Or
		for _, sub := range e {
			s := Simplify(sub)
			switch v := s.(type) {
			case Const:
				if v {
					return True
				}
				continue
			case Or:
				out = append(out, v...)
				continue
			}
			out = append(out, s)
		}
		switch len(out) {
		case 0:
			return False
		case 1:
			return out[0]
		}
		return out
	default:
		return expr
	}
}

func isUnset(o Operand) bool {
	return o.Kind == OperandParam && o.Value == nil
}

// Eval evaluates a bound expression against a single record. Unbound session
// operands evaluate as unset. Missing fields are NULL.
func Eval(expr Expr, record map[string]any) bool {
	switch e := expr.(type) {
	case Const:
		return bool(e)
	case Comparison:
		left := resolve(e.Left, record)
		if e.Right.isNullLiteral() {
			return nullTest(left, e.Op)
		}
		if e.Left.isNullLiteral() {
			return nullTest(resolve(e.Right, record), e.Op)
		}
		return compareValues(left, e.Op, resolve(e.Right, record))
	case And:
		for _, sub := range e {
			if !Eval(sub, record) {
				return false
			}
		}
		return true
	case Or:
		for _, sub := range e {
			if Eval(sub, record) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func resolve(o Operand, record map[string]any) any {
	switch o.Kind {
	case OperandField:
		if record == nil {
			return nil
		}
		return record[o.Name]
	case OperandLiteral, OperandParam:
		return o.Value
	default:
		return nil
	}
}

func compareOperands(left any, op Op, right Operand, leftOp Operand) bool {
	if right.isNullLiteral() {
		return nullTest(left, op)
	}
	if leftOp.isNullLiteral() {
		return nullTest(right.Value, op)
	}
	return compareValues(left, op, right.Value)
}

func nullTest(v any, op Op) bool {
	if op == OpNeq {
		return v != nil
	}
	return v == nil
}

// compareValues applies SQL-like comparison: any NULL operand yields false.
func compareValues(a any, op Op, b any) bool {
	a, b = normalize(a), normalize(b)
	if a == nil || b == nil {
		return false
	}

	switch av := a.(type) {
	case float64:
		if bv, ok := toFloat(b); ok {
			return compareOrdered(av, op, bv)
		}
	case string:
		if bv, ok := b.(string); ok {
			return compareOrdered(av, op, bv)
		}
		if bv, ok := b.(float64); ok {
			if f, err := strconv.ParseFloat(av, 64); err == nil {
				return compareOrdered(f, op, bv)
			}
		}
	case bool:
		if bv, ok := b.(bool); ok {
			switch op {
			case OpEq:
				return av == bv
			case OpNeq:
				return av != bv
			}
			return false
		}
	}

	// Mixed types fall back to their textual form for equality only
	as, bs := fmt.Sprint(a), fmt.Sprint(b)
	switch op {
	case OpEq:
		return as == bs
	case OpNeq:
		return as != bs
	}
	return false
}

func compareOrdered[T float64 | string](a T, op Op, b T) bool {
	switch op {
	case OpEq:
		return a == b
	case OpNeq:
		return a != b
	case OpLt:
		return a < b
	case OpLte:
		return a <= b
	case OpGt:
		return a > b
	case OpGte:
		return a >= b
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

func normalize(v any) any {
	switch n := v.(type) {
	case nil:
		return nil
	case int:
		return float64(n)
	case int8:
		return float64(n)
	case int16:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case uint:
		return float64(n)
	case uint8:
		return float64(n)
	case uint16:
		return float64(n)
	case uint32:
		return float64(n)
	case uint64:
		return float64(n)
	case float32:
		return float64(n)
	case json.Number:
		if f, err := n.Float64(); err == nil {
			return f
		}
		return n.String()
	case []byte:
		return string(n)
	case fmt.Stringer:
		return n.String()
	}
	return v
}
