package condition

import (
	"fmt"
	"strconv"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"
)

// Session settings read by compiled policies. They are set per transaction
// with set_config(..., true) by the storage layer.
const (
	SettingUserID = "app.user_id"
	SettingOrgID  = "app.org_id"
	SettingRole   = "app.role"
)

// ToSQL compiles expr into a parameterized WHERE predicate. Fields become
// quoted column references, literals and bound params become placeholders,
// and unbound session operands read the current transaction settings.
func ToSQL(expr Expr) sq.Sqlizer {
	switch e := expr.(type) {
	case Const:
		if e {
			return sq.Expr("1=1")
		}
		return sq.Expr("1=0")
	case Comparison:
		return comparisonSQL(e)
	case And:
		and := make(sq.And, len(e))
		for i, sub := range e {
			and[i] = ToSQL(sub)
		}
		return and
	case Or:
		or := make(sq.Or, len(e))
		for i, sub := range e {
			or[i] = ToSQL(sub)
		}
		return or
	default:
		return sq.Expr("1=0")
	}
}

func comparisonSQL(c Comparison) sq.Sqlizer {
	if c.Right.isNullLiteral() || c.Left.isNullLiteral() {
		subject := c.Left
		if c.Left.isNullLiteral() {
			subject = c.Right
		}
		text, args := operandSQL(subject, false)
		if c.Op == OpNeq {
			return sq.Expr(text+" IS NOT NULL", args...)
		}
		return sq.Expr(text+" IS NULL", args...)
	}

	castLeft := c.Left.Kind == OperandField && isSession(c.Right)
	castRight := c.Right.Kind == OperandField && isSession(c.Left)
	left, largs := operandSQL(c.Left, castLeft)
	right, rargs := operandSQL(c.Right, castRight)
	return sq.Expr(left+" "+string(c.Op)+" "+right, append(largs, rargs...)...)
}

func isSession(o Operand) bool {
	return o.Kind == OperandUserID || o.Kind == OperandOrgID || o.Kind == OperandRole
}

func operandSQL(o Operand, castText bool) (string, []any) {
	switch o.Kind {
	case OperandField:
		col := pq.QuoteIdentifier(o.Name)
		if castText {
			col += "::text"
		}
		return col, nil
	case OperandUserID:
		return settingSQL(SettingUserID), nil
	case OperandOrgID:
		return settingSQL(SettingOrgID), nil
	case OperandRole:
		return settingSQL(SettingRole), nil
	default:
		return "?", []any{o.Value}
	}
}

func settingSQL(name string) string {
	return "NULLIF(current_setting('" + name + "', true), '')"
}

// SessionSQL renders an unbound expression as a self-contained SQL boolean
// expression with inlined literals, suitable for CREATE POLICY clauses.
func SessionSQL(expr Expr) (string, error) {
	switch e := expr.(type) {
	case Const:
		if e {
			return "true", nil
		}
		return "false", nil
	case Comparison:
		return sessionComparison(e)
	case And:
		return sessionJoin([]Expr(e), " AND ", "true")
	case Or:
		return sessionJoin([]Expr(e), " OR ", "false")
	default:
		return "", fmt.Errorf("unsupported expression %T", expr)
	}
}

func sessionJoin(exprs []Expr, sep, empty string) (string, error) {
	if len(exprs) == 0 {
		return empty, nil
	}
	parts := make([]string, len(exprs))
	for i, sub := range exprs {
		s, err := SessionSQL(sub)
		if err != nil {
			return "", err
		}
		parts[i] = "(" + s + ")"
	}
	return strings.Join(parts, sep), nil
}

func sessionComparison(c Comparison) (string, error) {
	if c.Right.isNullLiteral() || c.Left.isNullLiteral() {
		subject := c.Left
		if c.Left.isNullLiteral() {
			subject = c.Right
		}
		s, err := sessionOperand(subject, false)
		if err != nil {
			return "", err
		}
		if c.Op == OpNeq {
			return s + " IS NOT NULL", nil
		}
		return s + " IS NULL", nil
	}
	left, err := sessionOperand(c.Left, c.Left.Kind == OperandField && isSession(c.Right))
	if err != nil {
		return "", err
	}
	right, err := sessionOperand(c.Right, c.Right.Kind == OperandField && isSession(c.Left))
	if err != nil {
		return "", err
	}
	return left + " " + string(c.Op) + " " + right, nil
}

func sessionOperand(o Operand, castText bool) (string, error) {
	switch o.Kind {
	case OperandLiteral, OperandParam:
		return literalSQL(o.Value)
	default:
		s, _ := operandSQL(o, castText)
		return s, nil
	}
}

func literalSQL(v any) (string, error) {
	switch val := normalize(v).(type) {
	case nil:
		return "NULL", nil
	case string:
		return pq.QuoteLiteral(val), nil
	case bool:
		return strconv.FormatBool(val), nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	default:
		return "", fmt.Errorf("unsupported literal %T", v)
	}
}
