// Package expr implements a small, side-effect-free expression language used
// by pipeline conditionals and the expression field transform. Expressions
// combine literals, dotted identifiers resolved through a lookup scope,
// arithmetic, comparisons, and boolean logic. There is no function call
// syntax, no assignment, and no I/O: an expression can only read the scope it
// is given.
package expr

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// LookupFunc resolves identifier references encountered in expressions.
type LookupFunc func(path string) (any, bool)

var (
	// ErrSyntax indicates the expression could not be parsed.
	ErrSyntax = errors.New("expression syntax error")
	// ErrUnknownIdentifier indicates a referenced variable is not in scope.
	ErrUnknownIdentifier = errors.New("unknown identifier")
	// ErrTypeMismatch indicates an unsupported type coercion.
	ErrTypeMismatch = errors.New("type mismatch")
)

// Options control evaluator behaviour.
type Options struct {
	// Timeout bounds one evaluation. Defaults to 50ms, which is generous for
	// single-field transforms while still preventing runaway expressions.
	Timeout time.Duration
}

// Evaluator parses and evaluates expressions against a lookup scope.
type Evaluator struct {
	timeout time.Duration
}

// New constructs an Evaluator applying defaults.
func New(opts Options) *Evaluator {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 50 * time.Millisecond
	}
	return &Evaluator{timeout: timeout}
}

// EvaluateValue evaluates the expression and returns its value, whatever the
// type.
func (e *Evaluator) EvaluateValue(ctx context.Context, expression string, lookup LookupFunc) (any, error) {
	if lookup == nil {
		return nil, fmt.Errorf("%w: lookup function is required", ErrSyntax)
	}
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return nil, fmt.Errorf("%w: empty expression", ErrSyntax)
	}

	if ctx == nil {
		ctx = context.Background()
	}
	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, e.timeout)
	defer cancel()

	p := newParser(ctx, newLexer(expression))
	root, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if p.cur.typ != tokenEOF {
		return nil, fmt.Errorf("%w: unexpected trailing token %q", ErrSyntax, p.cur.literal)
	}
	return root.eval(ctx, lookup)
}

// Evaluate evaluates the expression and requires a boolean result.
func (e *Evaluator) Evaluate(ctx context.Context, expression string, lookup LookupFunc) (bool, error) {
	value, err := e.EvaluateValue(ctx, expression, lookup)
	if err != nil {
		return false, err
	}
	b, ok := value.(bool)
	if !ok {
		return false, fmt.Errorf("%w: expression does not evaluate to boolean", ErrTypeMismatch)
	}
	return b, nil
}

// --- Lexer ---

type tokenType int

const (
	tokenIllegal tokenType = iota
	tokenEOF
	tokenIdentifier
	tokenNumber
	tokenString
	tokenBool
	tokenNull
	tokenAnd
	tokenOr
	tokenNot
	tokenEq
	tokenNeq
	tokenGt
	tokenGte
	tokenLt
	tokenLte
	tokenLParen
	tokenRParen
	tokenPlus
	tokenMinus
	tokenStar
	tokenSlash
	tokenPercent
	tokenQuestion
	tokenColon
)

type token struct {
	typ     tokenType
	literal string
}

type lexer struct {
	input string
	pos   int
}

func newLexer(input string) *lexer {
	return &lexer{input: input}
}

func (l *lexer) next() token {
	for l.pos < len(l.input) {
		switch l.input[l.pos] {
		case ' ', '\t', '\n', '\r':
			l.pos++
		default:
			goto scan
		}
	}
scan:
	if l.pos >= len(l.input) {
		return token{typ: tokenEOF}
	}

	ch := l.input[l.pos]
	switch ch {
	case '(':
		l.pos++
		return token{typ: tokenLParen, literal: "("}
	case ')':
		l.pos++
		return token{typ: tokenRParen, literal: ")"}
	case '+':
		l.pos++
		return token{typ: tokenPlus, literal: "+"}
	case '-':
		l.pos++
		return token{typ: tokenMinus, literal: "-"}
	case '*':
		l.pos++
		return token{typ: tokenStar, literal: "*"}
	case '/':
		l.pos++
		return token{typ: tokenSlash, literal: "/"}
	case '%':
		l.pos++
		return token{typ: tokenPercent, literal: "%"}
	case '?':
		l.pos++
		return token{typ: tokenQuestion, literal: "?"}
	case ':':
		l.pos++
		return token{typ: tokenColon, literal: ":"}
	case '!':
		if l.peek() == '=' {
			l.pos += 2
			return token{typ: tokenNeq, literal: "!="}
		}
		l.pos++
		return token{typ: tokenNot, literal: "!"}
	case '=':
		if l.peek() == '=' {
			l.pos += 2
			return token{typ: tokenEq, literal: "=="}
		}
	case '>':
		if l.peek() == '=' {
			l.pos += 2
			return token{typ: tokenGte, literal: ">="}
		}
		l.pos++
		return token{typ: tokenGt, literal: ">"}
	case '<':
		if l.peek() == '=' {
			l.pos += 2
			return token{typ: tokenLte, literal: "<="}
		}
		l.pos++
		return token{typ: tokenLt, literal: "<"}
	case '&':
		if l.peek() == '&' {
			l.pos += 2
			return token{typ: tokenAnd, literal: "&&"}
		}
	case '|':
		if l.peek() == '|' {
			l.pos += 2
			return token{typ: tokenOr, literal: "||"}
		}
	case '\'', '"':
		return l.scanString()
	}

	if ch >= '0' && ch <= '9' {
		return l.scanNumber()
	}
	if isIdentStart(ch) {
		return l.scanIdentifier()
	}
	return token{typ: tokenIllegal, literal: string(ch)}
}

func (l *lexer) peek() byte {
	if l.pos+1 >= len(l.input) {
		return 0
	}
	return l.input[l.pos+1]
}

func (l *lexer) scanNumber() token {
	start := l.pos
	seenDot := false
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		if ch == '.' && !seenDot {
			seenDot = true
			l.pos++
			continue
		}
		if ch < '0' || ch > '9' {
			break
		}
		l.pos++
	}
	return token{typ: tokenNumber, literal: l.input[start:l.pos]}
}

func (l *lexer) scanIdentifier() token {
	start := l.pos
	for l.pos < len(l.input) && isIdentPart(l.input[l.pos]) {
		l.pos++
	}
	literal := l.input[start:l.pos]
	switch strings.ToLower(literal) {
	case "true", "false":
		return token{typ: tokenBool, literal: literal}
	case "null", "nil":
		return token{typ: tokenNull, literal: literal}
	}
	return token{typ: tokenIdentifier, literal: literal}
}

func (l *lexer) scanString() token {
	quote := l.input[l.pos]
	l.pos++
	var b strings.Builder
	escaped := false
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		l.pos++
		if escaped {
			switch ch {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			default:
				b.WriteByte(ch)
			}
			escaped = false
			continue
		}
		if ch == '\\' {
			escaped = true
			continue
		}
		if ch == quote {
			return token{typ: tokenString, literal: b.String()}
		}
		b.WriteByte(ch)
	}
	return token{typ: tokenIllegal, literal: "unterminated string"}
}

func isIdentStart(ch byte) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || ch == '_' || ch == '$'
}

func isIdentPart(ch byte) bool {
	return isIdentStart(ch) || (ch >= '0' && ch <= '9') || ch == '.'
}

// --- Parser ---
//
// Precedence, loosest to tightest:
//   ternary ?: -> || -> && -> comparisons -> + - -> * / % -> unary -> primary

type parser struct {
	ctx context.Context
	lex *lexer
	cur token
}

func newParser(ctx context.Context, lex *lexer) *parser {
	p := &parser{ctx: ctx, lex: lex}
	p.advance()
	return p
}

func (p *parser) advance() {
	p.cur = p.lex.next()
}

func (p *parser) parseExpression() (node, error) {
	return p.parseTernary()
}

func (p *parser) parseTernary() (node, error) {
	cond, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.cur.typ != tokenQuestion {
		return cond, nil
	}
	p.advance()
	thenNode, err := p.parseTernary()
	if err != nil {
		return nil, err
	}
	if p.cur.typ != tokenColon {
		return nil, fmt.Errorf("%w: expected ':' in ternary", ErrSyntax)
	}
	p.advance()
	elseNode, err := p.parseTernary()
	if err != nil {
		return nil, err
	}
	return &ternaryNode{cond: cond, then: thenNode, els: elseNode}, nil
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.cur.typ == tokenOr {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &logicNode{or: true, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for p.cur.typ == tokenAnd {
		p.advance()
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		left = &logicNode{or: false, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseComparison() (node, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	for {
		switch p.cur.typ {
		case tokenEq, tokenNeq, tokenGt, tokenGte, tokenLt, tokenLte:
			op := p.cur.typ
			p.advance()
			right, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			left = &compareNode{op: op, left: left, right: right}
		default:
			return left, nil
		}
	}
}

func (p *parser) parseAdditive() (node, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for p.cur.typ == tokenPlus || p.cur.typ == tokenMinus {
		op := p.cur.typ
		p.advance()
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = &arithNode{op: op, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseMultiplicative() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.cur.typ == tokenStar || p.cur.typ == tokenSlash || p.cur.typ == tokenPercent {
		op := p.cur.typ
		p.advance()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &arithNode{op: op, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (node, error) {
	switch p.cur.typ {
	case tokenNot, tokenMinus, tokenPlus:
		op := p.cur.typ
		p.advance()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &unaryNode{op: op, operand: operand}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (node, error) {
	if err := checkDeadline(p.ctx); err != nil {
		return nil, err
	}
	tok := p.cur
	switch tok.typ {
	case tokenIdentifier:
		p.advance()
		return &identNode{name: tok.literal}, nil
	case tokenNumber:
		p.advance()
		value, err := strconv.ParseFloat(tok.literal, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid number %q", ErrSyntax, tok.literal)
		}
		return &literalNode{value: value}, nil
	case tokenString:
		p.advance()
		return &literalNode{value: tok.literal}, nil
	case tokenBool:
		p.advance()
		return &literalNode{value: strings.EqualFold(tok.literal, "true")}, nil
	case tokenNull:
		p.advance()
		return &literalNode{value: nil}, nil
	case tokenLParen:
		p.advance()
		inner, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		if p.cur.typ != tokenRParen {
			return nil, fmt.Errorf("%w: expected ')'", ErrSyntax)
		}
		p.advance()
		return inner, nil
	default:
		return nil, fmt.Errorf("%w: unexpected token %q", ErrSyntax, tok.literal)
	}
}

// --- AST ---

type node interface {
	eval(ctx context.Context, lookup LookupFunc) (any, error)
}

type literalNode struct{ value any }

type identNode struct{ name string }

type unaryNode struct {
	op      tokenType
	operand node
}

type arithNode struct {
	op          tokenType
	left, right node
}

type compareNode struct {
	op          tokenType
	left, right node
}

type logicNode struct {
	or          bool
	left, right node
}

type ternaryNode struct {
	cond, then, els node
}

func (n *literalNode) eval(ctx context.Context, _ LookupFunc) (any, error) {
	return n.value, checkDeadline(ctx)
}

func (n *identNode) eval(ctx context.Context, lookup LookupFunc) (any, error) {
	if err := checkDeadline(ctx); err != nil {
		return nil, err
	}
	value, ok := lookup(n.name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownIdentifier, n.name)
	}
	return value, nil
}

func (n *unaryNode) eval(ctx context.Context, lookup LookupFunc) (any, error) {
	value, err := n.operand.eval(ctx, lookup)
	if err != nil {
		return nil, err
	}
	switch n.op {
	case tokenNot:
		b, ok := value.(bool)
		if !ok {
			return nil, fmt.Errorf("%w: ! expects boolean operand", ErrTypeMismatch)
		}
		return !b, nil
	case tokenMinus:
		f, ok := asNumber(value)
		if !ok {
			return nil, fmt.Errorf("%w: unary - expects numeric operand", ErrTypeMismatch)
		}
		return -f, nil
	default:
		f, ok := asNumber(value)
		if !ok {
			return nil, fmt.Errorf("%w: unary + expects numeric operand", ErrTypeMismatch)
		}
		return f, nil
	}
}

func (n *arithNode) eval(ctx context.Context, lookup LookupFunc) (any, error) {
	left, err := n.left.eval(ctx, lookup)
	if err != nil {
		return nil, err
	}
	right, err := n.right.eval(ctx, lookup)
	if err != nil {
		return nil, err
	}

	// "+" doubles as string concatenation when either side is a string.
	if n.op == tokenPlus {
		if ls, ok := left.(string); ok {
			return ls + stringify(right), nil
		}
		if rs, ok := right.(string); ok {
			return stringify(left) + rs, nil
		}
	}

	lf, lok := asNumber(left)
	rf, rok := asNumber(right)
	if !lok || !rok {
		return nil, fmt.Errorf("%w: arithmetic requires numeric operands", ErrTypeMismatch)
	}

	switch n.op {
	case tokenPlus:
		return lf + rf, nil
	case tokenMinus:
		return lf - rf, nil
	case tokenStar:
		return lf * rf, nil
	case tokenSlash:
		if rf == 0 {
			return nil, fmt.Errorf("%w: division by zero", ErrTypeMismatch)
		}
		return lf / rf, nil
	default: // tokenPercent
		if rf == 0 {
			return nil, fmt.Errorf("%w: modulo by zero", ErrTypeMismatch)
		}
		return float64(int64(lf) % int64(rf)), nil
	}
}

func (n *compareNode) eval(ctx context.Context, lookup LookupFunc) (any, error) {
	left, err := n.left.eval(ctx, lookup)
	if err != nil {
		return nil, err
	}
	right, err := n.right.eval(ctx, lookup)
	if err != nil {
		return nil, err
	}

	switch n.op {
	case tokenEq:
		return looseEqual(left, right), nil
	case tokenNeq:
		return !looseEqual(left, right), nil
	}

	if lf, ok := asNumber(left); ok {
		if rf, ok := asNumber(right); ok {
			switch n.op {
			case tokenGt:
				return lf > rf, nil
			case tokenGte:
				return lf >= rf, nil
			case tokenLt:
				return lf < rf, nil
			default:
				return lf <= rf, nil
			}
		}
	}
	ls, lok := left.(string)
	rs, rok := right.(string)
	if lok && rok {
		switch n.op {
		case tokenGt:
			return ls > rs, nil
		case tokenGte:
			return ls >= rs, nil
		case tokenLt:
			return ls < rs, nil
		default:
			return ls <= rs, nil
		}
	}
	return nil, fmt.Errorf("%w: cannot order %T and %T", ErrTypeMismatch, left, right)
}

func (n *logicNode) eval(ctx context.Context, lookup LookupFunc) (any, error) {
	left, err := n.left.eval(ctx, lookup)
	if err != nil {
		return nil, err
	}
	lb, ok := left.(bool)
	if !ok {
		return nil, fmt.Errorf("%w: logical operand must be boolean", ErrTypeMismatch)
	}
	// Short-circuit.
	if n.or && lb {
		return true, nil
	}
	if !n.or && !lb {
		return false, nil
	}
	right, err := n.right.eval(ctx, lookup)
	if err != nil {
		return nil, err
	}
	rb, ok := right.(bool)
	if !ok {
		return nil, fmt.Errorf("%w: logical operand must be boolean", ErrTypeMismatch)
	}
	return rb, nil
}

func (n *ternaryNode) eval(ctx context.Context, lookup LookupFunc) (any, error) {
	cond, err := n.cond.eval(ctx, lookup)
	if err != nil {
		return nil, err
	}
	b, ok := cond.(bool)
	if !ok {
		return nil, fmt.Errorf("%w: ternary condition must be boolean", ErrTypeMismatch)
	}
	if b {
		return n.then.eval(ctx, lookup)
	}
	return n.els.eval(ctx, lookup)
}

// --- Helpers ---

func checkDeadline(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

func asNumber(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}

func looseEqual(left, right any) bool {
	if left == nil || right == nil {
		return left == nil && right == nil
	}
	if lf, ok := asNumber(left); ok {
		if rf, ok := asNumber(right); ok {
			return lf == rf
		}
	}
	switch l := left.(type) {
	case string:
		r, ok := right.(string)
		return ok && l == r
	case bool:
		r, ok := right.(bool)
		return ok && l == r
	}
	return false
}

func stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprint(v)
	}
}
