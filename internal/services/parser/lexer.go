package parser

import (
	"fmt"
	"strings"
	"unicode"
)

// TokenType represents the type of a token
type TokenType int

const (
	TOKEN_ILLEGAL TokenType = iota
	TOKEN_EOF

	// Identifiers and literals
	TOKEN_IDENTIFIER
	TOKEN_INT
	TOKEN_STRING // String literals (quoted)
	TOKEN_SLOT   // Template slots (?principal, ?resource)

	// Keywords
	TOKEN_PERMIT
	TOKEN_FORBID
	TOKEN_WHEN
	TOKEN_UNLESS
	TOKEN_PRINCIPAL
	TOKEN_ACTION
	TOKEN_RESOURCE
	TOKEN_CONTEXT
	TOKEN_IN
	TOKEN_HAS
	TOKEN_LIKE
	TOKEN_IS
	TOKEN_IF
	TOKEN_THEN
	TOKEN_ELSE
	TOKEN_TRUE
	TOKEN_FALSE

	// Operators
	TOKEN_EQ          // ==
	TOKEN_NEQ         // !=
	TOKEN_LT          // <
	TOKEN_LTE         // <=
	TOKEN_GT          // >
	TOKEN_GTE         // >=
	TOKEN_LOGICAL_AND // &&
	TOKEN_LOGICAL_OR  // ||
	TOKEN_EXCLAMATION // !
	TOKEN_PLUS        // +
	TOKEN_MINUS       // -
	TOKEN_STAR        // *

	// Delimiters
	TOKEN_LPAREN
	TOKEN_RPAREN
	TOKEN_LBRACE
	TOKEN_RBRACE
	TOKEN_LBRACKET
	TOKEN_RBRACKET
	TOKEN_DOT
	TOKEN_COMMA
	TOKEN_SEMICOLON
	TOKEN_COLON
	TOKEN_PATH_SEP // ::
	TOKEN_AT       // @ (annotations)
	TOKEN_QUESTION // ? (optional attribute marker in schemas)
)

var tokenNames = map[TokenType]string{
	TOKEN_ILLEGAL:     "ILLEGAL",
	TOKEN_EOF:         "EOF",
	TOKEN_IDENTIFIER:  "IDENTIFIER",
	TOKEN_INT:         "INT",
	TOKEN_STRING:      "STRING",
	TOKEN_SLOT:        "SLOT",
	TOKEN_PERMIT:      "permit",
	TOKEN_FORBID:      "forbid",
	TOKEN_WHEN:        "when",
	TOKEN_UNLESS:      "unless",
	TOKEN_PRINCIPAL:   "principal",
	TOKEN_ACTION:      "action",
	TOKEN_RESOURCE:    "resource",
	TOKEN_CONTEXT:     "context",
	TOKEN_IN:          "in",
	TOKEN_HAS:         "has",
	TOKEN_LIKE:        "like",
	TOKEN_IS:          "is",
	TOKEN_IF:          "if",
	TOKEN_THEN:        "then",
	TOKEN_ELSE:        "else",
	TOKEN_TRUE:        "true",
	TOKEN_FALSE:       "false",
	TOKEN_EQ:          "==",
	TOKEN_NEQ:         "!=",
	TOKEN_LT:          "<",
	TOKEN_LTE:         "<=",
	TOKEN_GT:          ">",
	TOKEN_GTE:         ">=",
	TOKEN_LOGICAL_AND: "&&",
	TOKEN_LOGICAL_OR:  "||",
	TOKEN_EXCLAMATION: "!",
	TOKEN_PLUS:        "+",
	TOKEN_MINUS:       "-",
	TOKEN_STAR:        "*",
	TOKEN_LPAREN:      "(",
	TOKEN_RPAREN:      ")",
	TOKEN_LBRACE:      "{",
	TOKEN_RBRACE:      "}",
	TOKEN_LBRACKET:    "[",
	TOKEN_RBRACKET:    "]",
	TOKEN_DOT:         ".",
	TOKEN_COMMA:       ",",
	TOKEN_SEMICOLON:   ";",
	TOKEN_COLON:       ":",
	TOKEN_PATH_SEP:    "::",
	TOKEN_AT:          "@",
	TOKEN_QUESTION:    "?",
}

var keywords = map[string]TokenType{
	"permit":    TOKEN_PERMIT,
	"forbid":    TOKEN_FORBID,
	"when":      TOKEN_WHEN,
	"unless":    TOKEN_UNLESS,
	"principal": TOKEN_PRINCIPAL,
	"action":    TOKEN_ACTION,
	"resource":  TOKEN_RESOURCE,
	"context":   TOKEN_CONTEXT,
	"in":        TOKEN_IN,
	"has":       TOKEN_HAS,
	"like":      TOKEN_LIKE,
	"is":        TOKEN_IS,
	"if":        TOKEN_IF,
	"then":      TOKEN_THEN,
	"else":      TOKEN_ELSE,
	"true":      TOKEN_TRUE,
	"false":     TOKEN_FALSE,
}

// Token represents a lexical token
type Token struct {
	Type   TokenType
	Value  string
	Line   int
	Column int

	// StarEscape records that a string literal carried a \* escape.
	// Only like patterns may; the parser rejects it everywhere else.
	StarEscape bool
}

// String returns a string representation of the token
func (t *Token) String() string {
	typeName := tokenNames[t.Type]
	if typeName == "" {
		typeName = fmt.Sprintf("UNKNOWN(%d)", t.Type)
	}
	return fmt.Sprintf("%s(%s) at %d:%d", typeName, t.Value, t.Line, t.Column)
}

// Lexer performs lexical analysis of policy, template, and schema text
type Lexer struct {
	input        string
	position     int  // current position in input (points to current char)
	readPosition int  // current reading position in input (after current char)
	ch           byte // current char under examination
	line         int
	column       int
}

// NewLexer creates a new Lexer
func NewLexer(input string) *Lexer {
	l := &Lexer{
		input:  input,
		line:   1,
		column: 0,
	}
	l.readChar()
	return l
}

// readChar reads the next character and advances position
func (l *Lexer) readChar() {
	if l.readPosition >= len(l.input) {
		l.ch = 0 // EOF
	} else {
		l.ch = l.input[l.readPosition]
	}
	l.position = l.readPosition
	l.readPosition++
	l.column++

	if l.ch == '\n' {
		l.line++
		l.column = 0
	}
}

// peekChar returns the next character without advancing position
func (l *Lexer) peekChar() byte {
	if l.readPosition >= len(l.input) {
		return 0
	}
	return l.input[l.readPosition]
}

// skipWhitespace skips whitespace characters
func (l *Lexer) skipWhitespace() {
	for l.ch == ' ' || l.ch == '\t' || l.ch == '\n' || l.ch == '\r' {
		l.readChar()
	}
}

// skipComment skips single-line comments starting with //
func (l *Lexer) skipComment() {
	if l.ch == '/' && l.peekChar() == '/' {
		for l.ch != '\n' && l.ch != 0 {
			l.readChar()
		}
	}
}

// readIdentifier reads an identifier or keyword
func (l *Lexer) readIdentifier() string {
	position := l.position
	for isLetter(l.ch) || isDigit(l.ch) || l.ch == '_' {
		l.readChar()
	}
	return l.input[position:l.position]
}

// readNumber reads an integer literal
func (l *Lexer) readNumber() string {
	position := l.position
	for isDigit(l.ch) {
		l.readChar()
	}
	return l.input[position:l.position]
}

// readString reads a string literal with escape sequences, returning the
// unescaped value and whether a \* escape occurred.
func (l *Lexer) readString() (string, bool, error) {
	line := l.line
	column := l.column
	starEscape := false
	var sb strings.Builder
	for {
		l.readChar()
		switch l.ch {
		case '"':
			return sb.String(), starEscape, nil
		case 0:
			return "", false, fmt.Errorf("unterminated string literal at %d:%d", line, column)
		case '\\':
			l.readChar()
			switch l.ch {
			case 'n':
				sb.WriteByte('\n')
			case 'r':
				sb.WriteByte('\r')
			case 't':
				sb.WriteByte('\t')
			case '"':
				sb.WriteByte('"')
			case '\'':
				sb.WriteByte('\'')
			case '\\':
				sb.WriteByte('\\')
			case '0':
				sb.WriteByte(0)
			case '*':
				// Wildcard escape used by `like` patterns; the star is
				// kept escaped so pattern matching can treat it literally.
				sb.WriteString(`\*`)
				starEscape = true
			case 0:
				return "", false, fmt.Errorf("unterminated string literal at %d:%d", line, column)
			default:
				return "", false, fmt.Errorf("unknown escape sequence '\\%c' at %d:%d", l.ch, l.line, l.column)
			}
		default:
			sb.WriteByte(l.ch)
		}
	}
}

// NextToken returns the next token
func (l *Lexer) NextToken() (*Token, error) {
	// Skip whitespace and comments in a loop
	for {
		l.skipWhitespace()
		if l.ch == '/' && l.peekChar() == '/' {
			l.skipComment()
		} else {
			break
		}
	}

	var tok *Token
	line := l.line
	column := l.column

	switch l.ch {
	case '=':
		if l.peekChar() == '=' {
			l.readChar()
			tok = &Token{Type: TOKEN_EQ, Value: "==", Line: line, Column: column}
			l.readChar()
		} else {
			return nil, fmt.Errorf("unexpected character '=' at %d:%d (did you mean '==')", line, column)
		}
	case '!':
		if l.peekChar() == '=' {
			l.readChar()
			tok = &Token{Type: TOKEN_NEQ, Value: "!=", Line: line, Column: column}
			l.readChar()
		} else {
			tok = &Token{Type: TOKEN_EXCLAMATION, Value: "!", Line: line, Column: column}
			l.readChar()
		}
	case '<':
		if l.peekChar() == '=' {
			l.readChar()
			tok = &Token{Type: TOKEN_LTE, Value: "<=", Line: line, Column: column}
			l.readChar()
		} else {
			tok = &Token{Type: TOKEN_LT, Value: "<", Line: line, Column: column}
			l.readChar()
		}
	case '>':
		if l.peekChar() == '=' {
			l.readChar()
			tok = &Token{Type: TOKEN_GTE, Value: ">=", Line: line, Column: column}
			l.readChar()
		} else {
			tok = &Token{Type: TOKEN_GT, Value: ">", Line: line, Column: column}
			l.readChar()
		}
	case '&':
		if l.peekChar() == '&' {
			l.readChar()
			tok = &Token{Type: TOKEN_LOGICAL_AND, Value: "&&", Line: line, Column: column}
			l.readChar()
		} else {
			return nil, fmt.Errorf("unexpected character '&' at %d:%d (did you mean '&&')", line, column)
		}
	case '|':
		if l.peekChar() == '|' {
			l.readChar()
			tok = &Token{Type: TOKEN_LOGICAL_OR, Value: "||", Line: line, Column: column}
			l.readChar()
		} else {
			return nil, fmt.Errorf("unexpected character '|' at %d:%d (did you mean '||')", line, column)
		}
	case ':':
		if l.peekChar() == ':' {
			l.readChar()
			tok = &Token{Type: TOKEN_PATH_SEP, Value: "::", Line: line, Column: column}
			l.readChar()
		} else {
			tok = &Token{Type: TOKEN_COLON, Value: ":", Line: line, Column: column}
			l.readChar()
		}
	case '?':
		if isLetter(l.peekChar()) {
			l.readChar()
			value := l.readIdentifier()
			return &Token{Type: TOKEN_SLOT, Value: value, Line: line, Column: column}, nil
		}
		tok = &Token{Type: TOKEN_QUESTION, Value: "?", Line: line, Column: column}
		l.readChar()
	case '+':
		tok = &Token{Type: TOKEN_PLUS, Value: "+", Line: line, Column: column}
		l.readChar()
	case '-':
		tok = &Token{Type: TOKEN_MINUS, Value: "-", Line: line, Column: column}
		l.readChar()
	case '*':
		tok = &Token{Type: TOKEN_STAR, Value: "*", Line: line, Column: column}
		l.readChar()
	case '(':
		tok = &Token{Type: TOKEN_LPAREN, Value: "(", Line: line, Column: column}
		l.readChar()
	case ')':
		tok = &Token{Type: TOKEN_RPAREN, Value: ")", Line: line, Column: column}
		l.readChar()
	case '{':
		tok = &Token{Type: TOKEN_LBRACE, Value: "{", Line: line, Column: column}
		l.readChar()
	case '}':
		tok = &Token{Type: TOKEN_RBRACE, Value: "}", Line: line, Column: column}
		l.readChar()
	case '[':
		tok = &Token{Type: TOKEN_LBRACKET, Value: "[", Line: line, Column: column}
		l.readChar()
	case ']':
		tok = &Token{Type: TOKEN_RBRACKET, Value: "]", Line: line, Column: column}
		l.readChar()
	case '.':
		tok = &Token{Type: TOKEN_DOT, Value: ".", Line: line, Column: column}
		l.readChar()
	case ',':
		tok = &Token{Type: TOKEN_COMMA, Value: ",", Line: line, Column: column}
		l.readChar()
	case ';':
		tok = &Token{Type: TOKEN_SEMICOLON, Value: ";", Line: line, Column: column}
		l.readChar()
	case '@':
		tok = &Token{Type: TOKEN_AT, Value: "@", Line: line, Column: column}
		l.readChar()
	case '"':
		value, starEscape, err := l.readString()
		if err != nil {
			return nil, err
		}
		tok = &Token{Type: TOKEN_STRING, Value: value, Line: line, Column: column, StarEscape: starEscape}
		l.readChar() // Skip closing quote
	case 0:
		tok = &Token{Type: TOKEN_EOF, Value: "", Line: line, Column: column}
	default:
		if isLetter(l.ch) || l.ch == '_' {
			value := l.readIdentifier()
			tokenType := TOKEN_IDENTIFIER
			if kw, ok := keywords[value]; ok {
				tokenType = kw
			}
			return &Token{Type: tokenType, Value: value, Line: line, Column: column}, nil
		} else if isDigit(l.ch) {
			value := l.readNumber()
			return &Token{Type: TOKEN_INT, Value: value, Line: line, Column: column}, nil
		}
		return nil, fmt.Errorf("illegal character '%c' at %d:%d", l.ch, line, column)
	}

	return tok, nil
}

// isLetter checks if a character is a letter
func isLetter(ch byte) bool {
	return unicode.IsLetter(rune(ch))
}

// isDigit checks if a character is a digit
func isDigit(ch byte) bool {
	return unicode.IsDigit(rune(ch))
}
