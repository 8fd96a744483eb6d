package condition

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// SyntaxError describes a condition string that could not be parsed
type SyntaxError struct {
	Input   string
	Pos     int
	Message string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("invalid condition %q at offset %d: %s", e.Input, e.Pos, e.Message)
}

// IsSyntaxError checks if an error is a condition syntax error
func IsSyntaxError(err error) bool {
	_, ok := err.(*SyntaxError)
	return ok
}

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokUserID
	tokString
	tokNumber
	tokTrue
	tokFalse
	tokNull
	tokAnd
	tokOr
	tokOp
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

// Parse parses a condition such as "{userId} = owner_id" or
// "draft = false OR {userId} = author_id". AND binds tighter than OR.
func Parse(input string) (Expr, error) {
	tokens, err := lex(input)
	if err != nil {
		return nil, err
	}
	p := &parser{input: input, tokens: tokens}
	expr, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return nil, p.errorf(tok, "unexpected %q", tok.text)
	}
	return expr, nil
}

// MustParse is like Parse but panics on error. Intended for tests and
// conditions built into the binary.
func MustParse(input string) Expr {
	expr, err := Parse(input)
	if err != nil {
		panic(err)
	}
	return expr
}

func lex(input string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(input) {
		c, size := utf8.DecodeRuneInString(input[i:])
		switch {
		case c == utf8.RuneError && size <= 1:
			return nil, &SyntaxError{Input: input, Pos: i, Message: "invalid UTF-8"}
		case c >= utf8.RuneSelf && !unicode.IsSpace(c):
			// Identifiers name SQL columns and are ASCII; other text belongs in a quoted string
			return nil, &SyntaxError{Input: input, Pos: i, Message: fmt.Sprintf("non-ASCII character %q outside a quoted string", c)}
		case unicode.IsSpace(c):
			i += size
		case c == '(':
			tokens = append(tokens, token{kind: tokLParen, text: "(", pos: i})
			i++
		case c == ')':
			tokens = append(tokens, token{kind: tokRParen, text: ")", pos: i})
			i++
		case c == '{':
			end := strings.IndexByte(input[i:], '}')
			if end < 0 {
				return nil, &SyntaxError{Input: input, Pos: i, Message: "unterminated placeholder"}
			}
			name := input[i+1 : i+end]
			if name != "userId" {
				return nil, &SyntaxError{Input: input, Pos: i, Message: fmt.Sprintf("unknown placeholder {%s}", name)}
			}
			tokens = append(tokens, token{kind: tokUserID, text: input[i : i+end+1], pos: i})
			i += end + 1
		case c == '\'':
			var sb strings.Builder
			j := i + 1
			closed := false
			for j < len(input) {
				if input[j] == '\'' {
					if j+1 < len(input) && input[j+1] == '\'' {
						sb.WriteByte('\'')
						j += 2
						continue
					}
					closed = true
					break
				}
				sb.WriteByte(input[j])
				j++
			}
			if !closed {
				return nil, &SyntaxError{Input: input, Pos: i, Message: "unterminated string"}
			}
			tokens = append(tokens, token{kind: tokString, text: sb.String(), pos: i})
			i = j + 1
		case c == '=' || c == '!' || c == '<' || c == '>':
			op := string(c)
			if i+1 < len(input) && (input[i+1] == '=' || (c == '<' && input[i+1] == '>')) {
				op += string(input[i+1])
			}
			switch op {
			case "=", "!=", "<>", "<", "<=", ">", ">=":
			default:
				return nil, &SyntaxError{Input: input, Pos: i, Message: fmt.Sprintf("unknown operator %q", op)}
			}
			tokens = append(tokens, token{kind: tokOp, text: op, pos: i})
			i += len(op)
		case c == '-' || isDigit(input[i]):
			j := i + 1
			for j < len(input) && (isDigit(input[j]) || input[j] == '.') {
				j++
			}
			tokens = append(tokens, token{kind: tokNumber, text: input[i:j], pos: i})
			i = j
		case c == '_' || isLetter(input[i]):
			j := i + 1
			for j < len(input) && (input[j] == '_' || input[j] == '.' || isLetter(input[j]) || isDigit(input[j])) {
				j++
			}
			word := input[i:j]
			kind := tokIdent
			switch strings.ToUpper(word) {
			case "AND":
				kind = tokAnd
			case "OR":
				kind = tokOr
			case "TRUE":
				kind = tokTrue
			case "FALSE":
				kind = tokFalse
			case "NULL":
				kind = tokNull
			}
			tokens = append(tokens, token{kind: kind, text: word, pos: i})
			i = j
		default:
			return nil, &SyntaxError{Input: input, Pos: i, Message: fmt.Sprintf("unexpected character %q", c)}
		}
	}
	tokens = append(tokens, token{kind: tokEOF, pos: len(input)})
	return tokens, nil
}

func isDigit(b byte) bool {
	return '0' <= b && b <= '9'
}

func isLetter(b byte) bool {
	return ('a' <= b && b <= 'z') || ('A' <= b && b <= 'Z')
}

type parser struct {
	input  string
	tokens []token
	pos    int
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	tok := p.tokens[p.pos]
	if tok.kind != tokEOF {
		p.pos++
	}
	return tok
}

func (p *parser) errorf(tok token, format string, args ...any) error {
	return &SyntaxError{Input: p.input, Pos: tok.pos, Message: fmt.Sprintf(format, args...)}
}

func (p *parser) parseOr() (Expr, error) {
	first, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	terms := []Expr{first}
	for p.peek().kind == tokOr {
		p.next()
		term, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		terms = append(terms, term)
	}
	if len(terms) == 1 {
		return first, nil
	}
	return Or(terms), nil
}

func (p *parser) parseAnd() (Expr, error) {
	first, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	terms := []Expr{first}
	for p.peek().kind == tokAnd {
		p.next()
		term, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		terms = append(terms, term)
	}
	if len(terms) == 1 {
		return first, nil
	}
	return And(terms), nil
}

func (p *parser) parseTerm() (Expr, error) {
	if p.peek().kind == tokLParen {
		open := p.next()
		expr, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.peek().kind != tokRParen {
			return nil, p.errorf(open, "unbalanced parenthesis")
		}
		p.next()
		return expr, nil
	}

	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	opTok := p.next()
	if opTok.kind != tokOp {
		return nil, p.errorf(opTok, "expected comparison operator")
	}
	right, err := p.parseOperand()
	if err != nil {
		return nil, err
	}

	op := Op(opTok.text)
	if opTok.text == "<>" {
		op = OpNeq
	}
	if (left.isNullLiteral() || right.isNullLiteral()) && op != OpEq && op != OpNeq {
		return nil, p.errorf(opTok, "null can only be compared with = or !=")
	}
	return Comparison{Left: left, Op: op, Right: right}, nil
}

func (p *parser) parseOperand() (Operand, error) {
	tok := p.next()
	switch tok.kind {
	case tokIdent:
		return Field(tok.text), nil
	case tokUserID:
		return UserID(), nil
	case tokString:
		return Literal(tok.text), nil
	case tokNumber:
		if n, err := strconv.ParseInt(tok.text, 10, 64); err == nil {
			return Literal(n), nil
		}
		f, err := strconv.ParseFloat(tok.text, 64)
		if err != nil {
			return Operand{}, p.errorf(tok, "invalid number %q", tok.text)
		}
		return Literal(f), nil
	case tokTrue:
		return Literal(true), nil
	case tokFalse:
		return Literal(false), nil
	case tokNull:
		return Null(), nil
	case tokEOF:
		return Operand{}, p.errorf(tok, "unexpected end of condition")
	default:
		return Operand{}, p.errorf(tok, "expected operand, got %q", tok.text)
	}
}
