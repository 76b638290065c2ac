package expression

import (
	"fmt"
	"strings"
	"unicode"
)

// TokenKind classifies a lexed token.
type TokenKind int

const (
	TokenEOF TokenKind = iota
	TokenIdent
	TokenNameRef  // #name
	TokenValueRef // :value
	TokenNumber
	TokenString // '...'
	TokenEq     // =
	TokenNe     // <>
	TokenLt     // <
	TokenGt     // >
	TokenLe     // <=
	TokenGe     // >=
	TokenLParen
	TokenRParen
	TokenLBracket
	TokenRBracket
	TokenComma
	TokenDot
	TokenPlus
	TokenMinus
)

// Token is one lexed token with its byte offset in the source.
type Token struct {
	Kind TokenKind
	Text string
	Pos  int
}

// SyntaxError is a validation error carrying the offending position.
type SyntaxError struct {
	Pos int
	Msg string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("%s at position %d", e.Msg, e.Pos)
}

func syntaxErrorf(pos int, format string, args ...interface{}) error {
	return &SyntaxError{Pos: pos, Msg: fmt.Sprintf(format, args...)}
}

// Keyword reports whether an identifier token matches a keyword,
// case-insensitively. Function names stay case-sensitive.
func (t Token) Keyword(kw string) bool {
	return t.Kind == TokenIdent && strings.EqualFold(t.Text, kw)
}

// lexer turns an expression string into tokens.
type lexer struct {
	src string
	pos int
}

func lex(src string) ([]Token, error) {
	l := &lexer{src: src}
	var tokens []Token
	for {
		tok, err := l.next()
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, tok)
		if tok.Kind == TokenEOF {
			return tokens, nil
		}
	}
}

func (l *lexer) next() (Token, error) {
	for l.pos < len(l.src) && unicode.IsSpace(rune(l.src[l.pos])) {
		l.pos++
	}
	if l.pos >= len(l.src) {
		return Token{Kind: TokenEOF, Pos: l.pos}, nil
	}

	start := l.pos
	c := l.src[l.pos]

	switch c {
	case '(':
		l.pos++
		return Token{Kind: TokenLParen, Text: "(", Pos: start}, nil
	case ')':
		l.pos++
		return Token{Kind: TokenRParen, Text: ")", Pos: start}, nil
	case '[':
		l.pos++
		return Token{Kind: TokenLBracket, Text: "[", Pos: start}, nil
	case ']':
		l.pos++
		return Token{Kind: TokenRBracket, Text: "]", Pos: start}, nil
	case ',':
		l.pos++
		return Token{Kind: TokenComma, Text: ",", Pos: start}, nil
	case '.':
		l.pos++
		return Token{Kind: TokenDot, Text: ".", Pos: start}, nil
	case '+':
		l.pos++
		return Token{Kind: TokenPlus, Text: "+", Pos: start}, nil
	case '-':
		l.pos++
		return Token{Kind: TokenMinus, Text: "-", Pos: start}, nil
	case '=':
		l.pos++
		return Token{Kind: TokenEq, Text: "=", Pos: start}, nil
	case '<':
		l.pos++
		if l.pos < len(l.src) {
			switch l.src[l.pos] {
			case '>':
				l.pos++
				return Token{Kind: TokenNe, Text: "<>", Pos: start}, nil
			case '=':
				l.pos++
				return Token{Kind: TokenLe, Text: "<=", Pos: start}, nil
			}
		}
		return Token{Kind: TokenLt, Text: "<", Pos: start}, nil
	case '>':
		l.pos++
		if l.pos < len(l.src) && l.src[l.pos] == '=' {
			l.pos++
			return Token{Kind: TokenGe, Text: ">=", Pos: start}, nil
		}
		return Token{Kind: TokenGt, Text: ">", Pos: start}, nil
	case '#':
		l.pos++
		name := l.ident()
		if name == "" {
			return Token{}, syntaxErrorf(start, "bare # is not a name reference")
		}
		return Token{Kind: TokenNameRef, Text: "#" + name, Pos: start}, nil
	case ':':
		l.pos++
		name := l.ident()
		if name == "" {
			return Token{}, syntaxErrorf(start, "bare : is not a value reference")
		}
		return Token{Kind: TokenValueRef, Text: ":" + name, Pos: start}, nil
	case '\'':
		l.pos++
		var sb strings.Builder
		for l.pos < len(l.src) && l.src[l.pos] != '\'' {
			sb.WriteByte(l.src[l.pos])
			l.pos++
		}
		if l.pos >= len(l.src) {
			return Token{}, syntaxErrorf(start, "unterminated string literal")
		}
		l.pos++ // closing quote
		return Token{Kind: TokenString, Text: sb.String(), Pos: start}, nil
	}

	if c >= '0' && c <= '9' {
		for l.pos < len(l.src) && (isDigit(l.src[l.pos]) || l.src[l.pos] == '.') {
			l.pos++
		}
		return Token{Kind: TokenNumber, Text: l.src[start:l.pos], Pos: start}, nil
	}

	if isIdentStart(c) {
		name := l.ident()
		return Token{Kind: TokenIdent, Text: name, Pos: start}, nil
	}

	return Token{}, syntaxErrorf(start, "unexpected character %q", string(c))
}

func (l *lexer) ident() string {
	start := l.pos
	for l.pos < len(l.src) && isIdentPart(l.src[l.pos]) {
		l.pos++
	}
	return l.src[start:l.pos]
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool { return isIdentStart(c) || isDigit(c) }
