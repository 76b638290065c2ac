package expression

import (
	"strconv"

	"github.com/burrowdev/burrow/pkg/attr"
)

// ParseCondition parses a filter or key-condition expression.
func ParseCondition(src string) (Expr, error) {
	tokens, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens}
	expr, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.Kind != TokenEOF {
		return nil, syntaxErrorf(tok.Pos, "unexpected token %q after expression", tok.Text)
	}
	return expr, nil
}

// ParseUpdate parses an update expression (SET / REMOVE / ADD / DELETE
// clauses).
func ParseUpdate(src string) (*UpdateExpression, error) {
	tokens, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens}
	return p.parseUpdate()
}

type parser struct {
	tokens []Token
	idx    int
}

func (p *parser) peek() Token { return p.tokens[p.idx] }

func (p *parser) advance() Token {
	tok := p.tokens[p.idx]
	if tok.Kind != TokenEOF {
		p.idx++
	}
	return tok
}

func (p *parser) expect(kind TokenKind, what string) (Token, error) {
	tok := p.peek()
	if tok.Kind != kind {
		return Token{}, syntaxErrorf(tok.Pos, "expected %s, got %q", what, tok.Text)
	}
	return p.advance(), nil
}

// Condition grammar.

func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	terms := []Expr{left}
	for p.peek().Keyword("OR") {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		terms = append(terms, right)
	}
	if len(terms) == 1 {
		return left, nil
	}
	return &OrExpr{Terms: terms}, nil
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	terms := []Expr{left}
	for p.peek().Keyword("AND") {
		p.advance()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		terms = append(terms, right)
	}
	if len(terms) == 1 {
		return left, nil
	}
	return &AndExpr{Terms: terms}, nil
}

func (p *parser) parseNot() (Expr, error) {
	if p.peek().Keyword("NOT") {
		p.advance()
		term, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &NotExpr{Term: term}, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (Expr, error) {
	// Parenthesised group of a whole condition.
	if p.peek().Kind == TokenLParen {
		p.advance()
		expr, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenRParen, ")"); err != nil {
			return nil, err
		}
		return expr, nil
	}

	operand, cond, err := p.parseOperandOrCondition()
	if err != nil {
		return nil, err
	}
	if cond != nil {
		return cond, nil
	}

	tok := p.peek()
	switch {
	case isCompareToken(tok.Kind):
		p.advance()
		right, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		return &CompareExpr{Op: compareOp(tok.Kind), L: operand, R: right, Pos: tok.Pos}, nil

	case tok.Keyword("BETWEEN"):
		p.advance()
		lo, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		if kw := p.peek(); !kw.Keyword("AND") {
			return nil, syntaxErrorf(kw.Pos, "expected AND in BETWEEN, got %q", kw.Text)
		}
		p.advance()
		hi, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		return &BetweenExpr{Operand: operand, Lo: lo, Hi: hi}, nil

	case tok.Keyword("IN"):
		p.advance()
		if _, err := p.expect(TokenLParen, "("); err != nil {
			return nil, err
		}
		// an empty member list is legal and never matches
		var list []Operand
		for p.peek().Kind != TokenRParen {
			member, err := p.parseOperand()
			if err != nil {
				return nil, err
			}
			list = append(list, member)
			if p.peek().Kind != TokenComma {
				break
			}
			p.advance()
		}
		if _, err := p.expect(TokenRParen, ")"); err != nil {
			return nil, err
		}
		return &InExpr{Operand: operand, List: list}, nil
	}

	return nil, syntaxErrorf(tok.Pos, "operand is not a condition")
}

func isCompareToken(kind TokenKind) bool {
	switch kind {
	case TokenEq, TokenNe, TokenLt, TokenGt, TokenLe, TokenGe:
		return true
	}
	return false
}

func compareOp(kind TokenKind) CompareOp {
	switch kind {
	case TokenEq:
		return OpEq
	case TokenNe:
		return OpNe
	case TokenLt:
		return OpLt
	case TokenGt:
		return OpGt
	case TokenLe:
		return OpLe
	default:
		return OpGe
	}
}

func (p *parser) parseOperand() (Operand, error) {
	operand, cond, err := p.parseOperandOrCondition()
	if err != nil {
		return nil, err
	}
	if cond != nil {
		return nil, syntaxErrorf(tokenPos(cond), "condition function used as a value")
	}
	return operand, nil
}

// parseOperandOrCondition parses one operand. Condition functions
// (attribute_exists, attribute_not_exists, begins_with, contains) come
// back as a condition; size() and everything else as an operand.
func (p *parser) parseOperandOrCondition() (Operand, Expr, error) {
	tok := p.peek()

	if tok.Kind == TokenIdent && p.tokens[p.idx+1].Kind == TokenLParen {
		return p.parseFunc()
	}

	switch tok.Kind {
	case TokenIdent, TokenNameRef:
		path, err := p.parsePath()
		if err != nil {
			return nil, nil, err
		}
		return &PathOperand{Path: path}, nil, nil
	case TokenValueRef:
		p.advance()
		return &ValueRefOperand{Name: tok.Text, Pos: tok.Pos}, nil, nil
	case TokenNumber:
		p.advance()
		n, err := attr.NumberFromString(tok.Text)
		if err != nil {
			return nil, nil, syntaxErrorf(tok.Pos, "invalid number literal %q", tok.Text)
		}
		return &LiteralOperand{Value: n}, nil, nil
	case TokenString:
		p.advance()
		return &LiteralOperand{Value: attr.String(tok.Text)}, nil, nil
	}

	return nil, nil, syntaxErrorf(tok.Pos, "expected operand, got %q", tok.Text)
}

func tokenPos(e Expr) int {
	if f, ok := e.(*FuncExpr); ok {
		return f.Pos
	}
	return 0
}

func (p *parser) parseFunc() (Operand, Expr, error) {
	name := p.advance() // ident
	if _, err := p.expect(TokenLParen, "("); err != nil {
		return nil, nil, err
	}

	var args []Operand
	if p.peek().Kind != TokenRParen {
		for {
			arg, err := p.parseOperand()
			if err != nil {
				return nil, nil, err
			}
			args = append(args, arg)
			if p.peek().Kind != TokenComma {
				break
			}
			p.advance()
		}
	}
	if _, err := p.expect(TokenRParen, ")"); err != nil {
		return nil, nil, err
	}

	switch name.Text {
	case FnSize:
		if len(args) != 1 {
			return nil, nil, syntaxErrorf(name.Pos, "size takes one argument")
		}
		path, ok := args[0].(*PathOperand)
		if !ok {
			return nil, nil, syntaxErrorf(name.Pos, "size argument must be a path")
		}
		return &SizeOperand{Path: path.Path}, nil, nil

	case FnAttributeExists, FnAttributeNotExists:
		if len(args) != 1 {
			return nil, nil, syntaxErrorf(name.Pos, "%s takes one argument", name.Text)
		}
		if _, ok := args[0].(*PathOperand); !ok {
			return nil, nil, syntaxErrorf(name.Pos, "%s argument must be a path", name.Text)
		}
		return nil, &FuncExpr{Name: name.Text, Args: args, Pos: name.Pos}, nil

	case FnBeginsWith, FnContains:
		if len(args) != 2 {
			return nil, nil, syntaxErrorf(name.Pos, "%s takes two arguments", name.Text)
		}
		return nil, &FuncExpr{Name: name.Text, Args: args, Pos: name.Pos}, nil
	}

	return nil, nil, syntaxErrorf(name.Pos, "unknown function %q", name.Text)
}

func (p *parser) parsePath() (Path, error) {
	first := p.peek()
	path := Path{Pos: first.Pos}

	seg, err := p.parsePathSegment()
	if err != nil {
		return Path{}, err
	}
	path.Segments = append(path.Segments, seg)

	for {
		switch p.peek().Kind {
		case TokenDot:
			p.advance()
			seg, err := p.parsePathSegment()
			if err != nil {
				return Path{}, err
			}
			path.Segments = append(path.Segments, seg)
		case TokenLBracket:
			p.advance()
			idx, err := p.expect(TokenNumber, "list index")
			if err != nil {
				return Path{}, err
			}
			n, err := strconv.Atoi(idx.Text)
			if err != nil {
				return Path{}, syntaxErrorf(idx.Pos, "invalid list index %q", idx.Text)
			}
			if _, err := p.expect(TokenRBracket, "]"); err != nil {
				return Path{}, err
			}
			path.Segments = append(path.Segments, PathSegment{Index: n, IsIndex: true})
		default:
			return path, nil
		}
	}
}

func (p *parser) parsePathSegment() (PathSegment, error) {
	tok := p.peek()
	switch tok.Kind {
	case TokenIdent:
		p.advance()
		return PathSegment{Name: tok.Text}, nil
	case TokenNameRef:
		p.advance()
		return PathSegment{NameRef: tok.Text}, nil
	default:
		return PathSegment{}, syntaxErrorf(tok.Pos, "expected attribute name, got %q", tok.Text)
	}
}

// Update grammar.

func (p *parser) parseUpdate() (*UpdateExpression, error) {
	upd := &UpdateExpression{}
	sawClause := false

	for p.peek().Kind != TokenEOF {
		tok := p.peek()
		switch {
		case tok.Keyword("SET"):
			p.advance()
			if err := p.parseSetList(upd); err != nil {
				return nil, err
			}
		case tok.Keyword("REMOVE"):
			p.advance()
			if err := p.parseRemoveList(upd); err != nil {
				return nil, err
			}
		case tok.Keyword("ADD"):
			p.advance()
			if err := p.parseAddList(upd); err != nil {
				return nil, err
			}
		case tok.Keyword("DELETE"):
			p.advance()
			if err := p.parseDeleteList(upd); err != nil {
				return nil, err
			}
		default:
			return nil, syntaxErrorf(tok.Pos, "expected SET, REMOVE, ADD or DELETE, got %q", tok.Text)
		}
		sawClause = true
	}

	if !sawClause {
		return nil, syntaxErrorf(0, "empty update expression")
	}
	return upd, nil
}

func (p *parser) parseSetList(upd *UpdateExpression) error {
	for {
		path, err := p.parsePath()
		if err != nil {
			return err
		}
		if _, err := p.expect(TokenEq, "="); err != nil {
			return err
		}
		value, err := p.parseValueExpr()
		if err != nil {
			return err
		}
		upd.Set = append(upd.Set, SetAction{Path: path, Value: value})

		if p.peek().Kind != TokenComma {
			return nil
		}
		p.advance()
	}
}

func (p *parser) parseRemoveList(upd *UpdateExpression) error {
	for {
		path, err := p.parsePath()
		if err != nil {
			return err
		}
		upd.Remove = append(upd.Remove, path)

		if p.peek().Kind != TokenComma {
			return nil
		}
		p.advance()
	}
}

func (p *parser) parseAddList(upd *UpdateExpression) error {
	for {
		path, err := p.parsePath()
		if err != nil {
			return err
		}
		value, err := p.parseOperand()
		if err != nil {
			return err
		}
		upd.Add = append(upd.Add, AddAction{Path: path, Value: value})

		if p.peek().Kind != TokenComma {
			return nil
		}
		p.advance()
	}
}

func (p *parser) parseDeleteList(upd *UpdateExpression) error {
	for {
		path, err := p.parsePath()
		if err != nil {
			return err
		}
		value, err := p.parseOperand()
		if err != nil {
			return err
		}
		upd.Delete = append(upd.Delete, DeleteAction{Path: path, Value: value})

		if p.peek().Kind != TokenComma {
			return nil
		}
		p.advance()
	}
}

func (p *parser) parseValueExpr() (ValueExpr, error) {
	left, err := p.parseValueAtom()
	if err != nil {
		return nil, err
	}

	tok := p.peek()
	if tok.Kind == TokenPlus || tok.Kind == TokenMinus {
		p.advance()
		right, err := p.parseValueAtom()
		if err != nil {
			return nil, err
		}
		op := byte('+')
		if tok.Kind == TokenMinus {
			op = '-'
		}
		return &ArithValue{Op: op, L: left, R: right, Pos: tok.Pos}, nil
	}
	return left, nil
}

func (p *parser) parseValueAtom() (ValueExpr, error) {
	tok := p.peek()

	if tok.Kind == TokenIdent && p.tokens[p.idx+1].Kind == TokenLParen {
		switch tok.Text {
		case FnIfNotExists:
			p.advance()
			if _, err := p.expect(TokenLParen, "("); err != nil {
				return nil, err
			}
			path, err := p.parsePath()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(TokenComma, ","); err != nil {
				return nil, err
			}
			def, err := p.parseValueExpr()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(TokenRParen, ")"); err != nil {
				return nil, err
			}
			return &IfNotExistsValue{Path: path, Default: def}, nil

		case FnListAppend:
			p.advance()
			if _, err := p.expect(TokenLParen, "("); err != nil {
				return nil, err
			}
			a, err := p.parseValueExpr()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(TokenComma, ","); err != nil {
				return nil, err
			}
			b, err := p.parseValueExpr()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(TokenRParen, ")"); err != nil {
				return nil, err
			}
			return &ListAppendValue{A: a, B: b}, nil

		default:
			return nil, syntaxErrorf(tok.Pos, "unknown function %q in update expression", tok.Text)
		}
	}

	operand, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	return &OperandValue{Operand: operand}, nil
}
