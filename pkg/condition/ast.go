package condition

import (
	"fmt"
	"strings"
)

// Expr is a node of a condition expression.
//
// The set of implementations is closed: Comparison, And, Or and Const.
type Expr interface {
	isExpr()
	String() string
}

// OperandKind identifies what an operand refers to
type OperandKind int

const (
	// OperandField references a column of the record being evaluated
	OperandField OperandKind = iota
	// OperandLiteral is a constant written in the condition. A nil value is the
	// NULL literal and turns = / != into IS NULL / IS NOT NULL tests.
	OperandLiteral
	// OperandUserID is the reserved {userId} token, unbound
	OperandUserID
	// OperandOrgID is the actor's current organization, unbound
	OperandOrgID
	// OperandRole is the actor's resolved role name, unbound
	OperandRole
	// OperandParam is a value bound from the session context. A nil value means
	// the session had nothing to bind (anonymous actor, no organization) and
	// behaves like SQL NULL: it never compares equal to anything.
	OperandParam
)

// Operand is one side of a comparison
type Operand struct {
	Kind  OperandKind
	Name  string
	Value any
}

// Field returns an operand referencing a record field
func Field(name string) Operand {
	return Operand{Kind: OperandField, Name: name}
}

// Literal returns a constant operand
func Literal(v any) Operand {
	return Operand{Kind: OperandLiteral, Value: v}
}

// Null returns the NULL literal operand
func Null() Operand {
	return Operand{Kind: OperandLiteral}
}

// UserID returns the unbound {userId} operand
func UserID() Operand {
	return Operand{Kind: OperandUserID, Name: "userId"}
}

// OrgID returns the unbound organization operand
func OrgID() Operand {
	return Operand{Kind: OperandOrgID, Name: "organizationId"}
}

// Role returns the unbound role operand
func Role() Operand {
	return Operand{Kind: OperandRole, Name: "role"}
}

// Param returns a bound session value
func Param(v any) Operand {
	return Operand{Kind: OperandParam, Value: v}
}

func (o Operand) isNullLiteral() bool {
	return o.Kind == OperandLiteral && o.Value == nil
}

// constant reports whether the operand's value is known without a record
func (o Operand) constant() bool {
	return o.Kind == OperandLiteral || o.Kind == OperandParam
}

func (o Operand) String() string {
	switch o.Kind {
	case OperandField:
		return o.Name
	case OperandUserID:
		return "{userId}"
	case OperandOrgID:
		return "{organizationId}"
	case OperandRole:
		return "{role}"
	case OperandParam:
		if o.Value == nil {
			return "<unset>"
		}
		return formatValue(o.Value)
	default:
		if o.Value == nil {
			return "null"
		}
		return formatValue(o.Value)
	}
}

func formatValue(v any) string {
	switch val := v.(type) {
	case string:
		return "'" + strings.ReplaceAll(val, "'", "''") + "'"
	default:
		return fmt.Sprint(val)
	}
}

// Op is a comparison operator
type Op string

const (
	OpEq  Op = "="
	OpNeq Op = "!="
	OpLt  Op = "<"
	OpLte Op = "<="
	OpGt  Op = ">"
	OpGte Op = ">="
)

// Comparison compares two operands
type Comparison struct {
	Left  Operand
	Op    Op
	Right Operand
}

// Eq is shorthand for an equality comparison
func Eq(left, right Operand) Comparison {
	return Comparison{Left: left, Op: OpEq, Right: right}
}

func (Comparison) isExpr() {}

func (c Comparison) String() string {
	return c.Left.String() + " " + string(c.Op) + " " + c.Right.String()
}

// And is a conjunction. An empty And is true.
type And []Expr

func (And) isExpr() {}

func (a And) String() string {
	return joinExprs([]Expr(a), " AND ", "true")
}

// Or is a disjunction. An empty Or is false.
type Or []Expr

func (Or) isExpr() {}

func (o Or) String() string {
	return joinExprs([]Expr(o), " OR ", "false")
}

// Const is a constant truth value
type Const bool

const (
	True  Const = true
	False Const = false
)

func (Const) isExpr() {}

func (c Const) String() string {
	if c {
		return "true"
	}
	return "false"
}

func joinExprs(exprs []Expr, sep, empty string) string {
	if len(exprs) == 0 {
		return empty
	}
	parts := make([]string, len(exprs))
	for i, e := range exprs {
		switch e.(type) {
		case And, Or:
			parts[i] = "(" + e.String() + ")"
		default:
			parts[i] = e.String()
		}
	}
	return strings.Join(parts, sep)
}
