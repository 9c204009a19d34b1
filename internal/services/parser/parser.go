package parser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/asakaida/sugi/internal/entities"
)

const (
	// maxNestingDepth bounds expression recursion so parsing completes in
	// time proportional to input size even on adversarial input.
	maxNestingDepth = 100
)

// Parser parses policy and template text into entities.Policy values
type Parser struct {
	lexer   *Lexer
	current *Token
	peek    *Token
	errors  []string
	depth   int
}

// NewParser creates a new Parser
func NewParser(lexer *Lexer) *Parser {
	p := &Parser{
		lexer:  lexer,
		errors: []string{},
	}

	// Read two tokens to initialize current and peek
	p.nextToken()
	p.nextToken()

	return p
}

// ParsePolicy parses exactly one concrete policy. The policy id is left
// empty for the caller to assign. Template slots are rejected.
func ParsePolicy(text string) (*entities.Policy, error) {
	p := NewParser(NewLexer(text))
	policy := p.parsePolicy(false)
	if policy != nil && !p.currentTokenIs(TOKEN_EOF) {
		p.errorf("unexpected trailing content at %d:%d", p.current.Line, p.current.Column)
	}
	if err := p.err(); err != nil {
		return nil, err
	}
	return policy, nil
}

// ParsePolicies parses a sequence of policies in source order, assigning
// auto-generated ids policy0, policy1, ...
func ParsePolicies(text string) ([]*entities.Policy, error) {
	p := NewParser(NewLexer(text))
	var policies []*entities.Policy

	for !p.currentTokenIs(TOKEN_EOF) {
		before := len(p.errors)
		policy := p.parsePolicy(false)
		if policy == nil || len(p.errors) > before {
			break
		}
		policy.ID = fmt.Sprintf("policy%d", len(policies))
		policies = append(policies, policy)
	}

	if err := p.err(); err != nil {
		return nil, err
	}
	if len(policies) == 0 {
		return nil, fmt.Errorf("no policies found in input")
	}
	return policies, nil
}

// ParseTemplate parses a policy template. The template must reference at
// least one scope slot (?principal or ?resource).
func ParseTemplate(id, text string) (*entities.PolicyTemplate, error) {
	p := NewParser(NewLexer(text))
	policy := p.parsePolicy(true)
	if policy != nil && !p.currentTokenIs(TOKEN_EOF) {
		p.errorf("unexpected trailing content at %d:%d", p.current.Line, p.current.Column)
	}
	if err := p.err(); err != nil {
		return nil, err
	}
	if !policy.HasSlots() {
		return nil, fmt.Errorf("template has no slots: expected ?principal or ?resource in the scope")
	}
	return &entities.PolicyTemplate{ID: id, Policy: policy}, nil
}

// nextToken advances to the next token
func (p *Parser) nextToken() {
	p.current = p.peek
	tok, err := p.lexer.NextToken()
	if err != nil {
		p.errors = append(p.errors, err.Error())
		p.peek = &Token{Type: TOKEN_EOF}
	} else {
		p.peek = tok
	}
}

// currentTokenIs checks if the current token is of the given type
func (p *Parser) currentTokenIs(t TokenType) bool {
	return p.current != nil && p.current.Type == t
}

// peekTokenIs checks if the peek token is of the given type
func (p *Parser) peekTokenIs(t TokenType) bool {
	return p.peek != nil && p.peek.Type == t
}

// expectPeek checks if the next token is of the expected type and advances
func (p *Parser) expectPeek(t TokenType) bool {
	if p.peekTokenIs(t) {
		p.nextToken()
		return true
	}
	p.peekError(t)
	return false
}

// expectCurrent checks the current token type without advancing
func (p *Parser) expectCurrent(t TokenType) bool {
	if p.currentTokenIs(t) {
		return true
	}
	p.errorf("expected %s, got %s at %d:%d",
		tokenNames[t], tokenNames[p.current.Type], p.current.Line, p.current.Column)
	return false
}

// peekError adds an error for unexpected peek token
func (p *Parser) peekError(t TokenType) {
	p.errorf("expected next token to be %s, got %s instead at %d:%d",
		tokenNames[t], tokenNames[p.peek.Type], p.peek.Line, p.peek.Column)
}

// stringValue returns the current string token's value. The \* escape
// only has meaning inside like patterns and is an error in every other
// string literal.
func (p *Parser) stringValue() (string, bool) {
	if p.current.StarEscape {
		p.errorf("escape sequence '\\*' is only valid in like patterns at %d:%d",
			p.current.Line, p.current.Column)
		return "", false
	}
	return p.current.Value, true
}

func (p *Parser) errorf(format string, args ...interface{}) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *Parser) err() error {
	if len(p.errors) > 0 {
		return fmt.Errorf("parse errors:\n%s", strings.Join(p.errors, "\n"))
	}
	return nil
}

// parsePolicy parses one policy clause:
//
//	@anno("value")
//	permit (principal == User::"alice", action, resource) when { ... };
//
// Returns nil when parsing failed (errors are collected).
func (p *Parser) parsePolicy(allowSlots bool) *entities.Policy {
	policy := &entities.Policy{}

	// Annotations
	for p.currentTokenIs(TOKEN_AT) {
		if !p.expectPeek(TOKEN_IDENTIFIER) {
			return nil
		}
		name := p.current.Value
		if !p.expectPeek(TOKEN_LPAREN) {
			return nil
		}
		if !p.expectPeek(TOKEN_STRING) {
			return nil
		}
		value, ok := p.stringValue()
		if !ok {
			return nil
		}
		if policy.Annotations == nil {
			policy.Annotations = make(map[string]string)
		}
		policy.Annotations[name] = value
		if !p.expectPeek(TOKEN_RPAREN) {
			return nil
		}
		p.nextToken()
	}

	// Effect
	switch {
	case p.currentTokenIs(TOKEN_PERMIT):
		policy.Effect = entities.EffectPermit
	case p.currentTokenIs(TOKEN_FORBID):
		policy.Effect = entities.EffectForbid
	default:
		p.errorf("expected 'permit' or 'forbid', got %s at %d:%d",
			tokenNames[p.current.Type], p.current.Line, p.current.Column)
		return nil
	}

	if !p.expectPeek(TOKEN_LPAREN) {
		return nil
	}
	p.nextToken()

	ok := false
	policy.Principal, ok = p.parseScope(TOKEN_PRINCIPAL, allowSlots)
	if !ok {
		return nil
	}
	if !p.expectCurrent(TOKEN_COMMA) {
		return nil
	}
	p.nextToken()

	policy.Action, ok = p.parseScope(TOKEN_ACTION, false)
	if !ok {
		return nil
	}
	if !p.expectCurrent(TOKEN_COMMA) {
		return nil
	}
	p.nextToken()

	policy.Resource, ok = p.parseScope(TOKEN_RESOURCE, allowSlots)
	if !ok {
		return nil
	}
	if !p.expectCurrent(TOKEN_RPAREN) {
		return nil
	}
	p.nextToken()

	// Conditions
	for p.currentTokenIs(TOKEN_WHEN) || p.currentTokenIs(TOKEN_UNLESS) {
		unless := p.currentTokenIs(TOKEN_UNLESS)
		if !p.expectPeek(TOKEN_LBRACE) {
			return nil
		}
		p.nextToken()
		body := p.parseExpr()
		if body == nil {
			return nil
		}
		if !p.expectCurrent(TOKEN_RBRACE) {
			return nil
		}
		p.nextToken()
		policy.Conditions = append(policy.Conditions, entities.Condition{Unless: unless, Body: body})
	}

	if !p.expectCurrent(TOKEN_SEMICOLON) {
		return nil
	}
	p.nextToken()

	return policy
}

// parseScope parses one scope position. The current token must be the
// matching variable keyword; on success the current token is the one
// following the constraint.
func (p *Parser) parseScope(varToken TokenType, allowSlots bool) (entities.ScopeConstraint, bool) {
	var c entities.ScopeConstraint

	if !p.currentTokenIs(varToken) {
		p.errorf("expected '%s' in policy scope, got %s at %d:%d",
			tokenNames[varToken], tokenNames[p.current.Type], p.current.Line, p.current.Column)
		return c, false
	}

	switch {
	case p.peekTokenIs(TOKEN_COMMA) || p.peekTokenIs(TOKEN_RPAREN):
		c.Kind = entities.ScopeAny
		p.nextToken()
		return c, true

	case p.peekTokenIs(TOKEN_EQ):
		p.nextToken() // consume var
		p.nextToken() // consume ==
		c.Kind = entities.ScopeEq
		return p.parseScopeTarget(c, varToken, allowSlots)

	case p.peekTokenIs(TOKEN_IN):
		p.nextToken()
		p.nextToken()
		if p.currentTokenIs(TOKEN_LBRACKET) {
			c.Kind = entities.ScopeInSet
			p.nextToken()
			for !p.currentTokenIs(TOKEN_RBRACKET) {
				uid, ok := p.parseEntityRef()
				if !ok {
					return c, false
				}
				c.Entities = append(c.Entities, uid)
				if p.currentTokenIs(TOKEN_COMMA) {
					p.nextToken()
				} else if !p.currentTokenIs(TOKEN_RBRACKET) {
					p.errorf("expected ',' or ']' in scope set at %d:%d", p.current.Line, p.current.Column)
					return c, false
				}
			}
			p.nextToken() // consume ]
			return c, true
		}
		c.Kind = entities.ScopeIn
		return p.parseScopeTarget(c, varToken, allowSlots)

	case p.peekTokenIs(TOKEN_IS):
		if varToken == TOKEN_ACTION {
			p.errorf("'is' is not allowed in the action scope at %d:%d", p.peek.Line, p.peek.Column)
			return c, false
		}
		p.nextToken()
		p.nextToken()
		typeName, ok := p.parseTypePath()
		if !ok {
			return c, false
		}
		c.EntityType = typeName
		if p.currentTokenIs(TOKEN_IN) {
			p.nextToken()
			c.Kind = entities.ScopeIsIn
			uid, ok := p.parseEntityRef()
			if !ok {
				return c, false
			}
			c.Entity = uid
			return c, true
		}
		c.Kind = entities.ScopeIs
		return c, true

	default:
		p.errorf("expected '==', 'in', 'is', ',' or ')' after %s at %d:%d",
			tokenNames[varToken], p.peek.Line, p.peek.Column)
		return c, false
	}
}

// parseScopeTarget parses the entity or slot on the right of a scope
// == or in constraint.
func (p *Parser) parseScopeTarget(c entities.ScopeConstraint, varToken TokenType, allowSlots bool) (entities.ScopeConstraint, bool) {
	if p.currentTokenIs(TOKEN_SLOT) {
		if !allowSlots {
			p.errorf("template slot ?%s is not allowed here at %d:%d (slots are only valid in templates)",
				p.current.Value, p.current.Line, p.current.Column)
			return c, false
		}
		slot := p.current.Value
		wanted := entities.SlotPrincipal
		if varToken == TOKEN_RESOURCE {
			wanted = entities.SlotResource
		}
		if slot != wanted {
			p.errorf("slot ?%s cannot be used in the %s scope at %d:%d",
				slot, tokenNames[varToken], p.current.Line, p.current.Column)
			return c, false
		}
		c.Slot = slot
		p.nextToken()
		return c, true
	}

	uid, ok := p.parseEntityRef()
	if !ok {
		return c, false
	}
	c.Entity = uid
	return c, true
}

// parseTypePath parses a namespace-qualified type name like App::User.
// On success the current token is the one following the path.
func (p *Parser) parseTypePath() (string, bool) {
	if !p.currentTokenIs(TOKEN_IDENTIFIER) {
		p.errorf("expected entity type name, got %s at %d:%d",
			tokenNames[p.current.Type], p.current.Line, p.current.Column)
		return "", false
	}
	parts := []string{p.current.Value}
	for p.peekTokenIs(TOKEN_PATH_SEP) {
		p.nextToken() // consume ::
		if !p.expectPeek(TOKEN_IDENTIFIER) {
			return "", false
		}
		parts = append(parts, p.current.Value)
	}
	p.nextToken()
	return strings.Join(parts, "::"), true
}

// parseEntityRef parses an entity reference like App::User::"alice".
// On success the current token is the one following the reference.
func (p *Parser) parseEntityRef() (entities.EntityUID, bool) {
	if !p.currentTokenIs(TOKEN_IDENTIFIER) {
		p.errorf("expected entity reference, got %s at %d:%d",
			tokenNames[p.current.Type], p.current.Line, p.current.Column)
		return entities.EntityUID{}, false
	}

	parts := []string{p.current.Value}
	for {
		if !p.expectPeek(TOKEN_PATH_SEP) {
			return entities.EntityUID{}, false
		}
		if p.peekTokenIs(TOKEN_STRING) {
			p.nextToken()
			id, ok := p.stringValue()
			if !ok {
				return entities.EntityUID{}, false
			}
			uid := entities.EntityUID{Type: strings.Join(parts, "::"), ID: id}
			p.nextToken()
			return uid, true
		}
		if !p.expectPeek(TOKEN_IDENTIFIER) {
			return entities.EntityUID{}, false
		}
		parts = append(parts, p.current.Value)
	}
}

// --- Expression parsing ---
//
// Sub-parsers consume their expression and leave the current token at the
// first token after it. Precedence (loosest first): || then && then
// relational (non-associative) then + - then * then unary then member
// access then primary.

func (p *Parser) parseExpr() entities.Expr {
	p.depth++
	defer func() { p.depth-- }()
	if p.depth > maxNestingDepth {
		p.errorf("expression nesting too deep at %d:%d", p.current.Line, p.current.Column)
		return nil
	}
	return p.parseOr()
}

func (p *Parser) parseOr() entities.Expr {
	left := p.parseAnd()
	if left == nil {
		return nil
	}
	for p.currentTokenIs(TOKEN_LOGICAL_OR) {
		p.nextToken()
		right := p.parseAnd()
		if right == nil {
			return nil
		}
		left = &entities.OrExpr{Left: left, Right: right}
	}
	return left
}

func (p *Parser) parseAnd() entities.Expr {
	left := p.parseRelation()
	if left == nil {
		return nil
	}
	for p.currentTokenIs(TOKEN_LOGICAL_AND) {
		p.nextToken()
		right := p.parseRelation()
		if right == nil {
			return nil
		}
		left = &entities.AndExpr{Left: left, Right: right}
	}
	return left
}

var relationOps = map[TokenType]string{
	TOKEN_EQ:  entities.OpEq,
	TOKEN_NEQ: entities.OpNeq,
	TOKEN_LT:  entities.OpLt,
	TOKEN_LTE: entities.OpLte,
	TOKEN_GT:  entities.OpGt,
	TOKEN_GTE: entities.OpGte,
}

// parseRelation parses comparison, in, has, like, and is. These are
// non-associative: at most one relational operator per operand chain.
func (p *Parser) parseRelation() entities.Expr {
	left := p.parseAdd()
	if left == nil {
		return nil
	}

	switch {
	case p.current != nil && relationOps[p.current.Type] != "":
		op := relationOps[p.current.Type]
		p.nextToken()
		right := p.parseAdd()
		if right == nil {
			return nil
		}
		return &entities.BinaryExpr{Op: op, Left: left, Right: right}

	case p.currentTokenIs(TOKEN_IN):
		p.nextToken()
		right := p.parseAdd()
		if right == nil {
			return nil
		}
		return &entities.BinaryExpr{Op: entities.OpIn, Left: left, Right: right}

	case p.currentTokenIs(TOKEN_HAS):
		p.nextToken()
		attr, ok := p.parseAttrName()
		if !ok {
			return nil
		}
		return &entities.HasExpr{Object: left, Attr: attr}

	case p.currentTokenIs(TOKEN_LIKE):
		p.nextToken()
		if !p.expectCurrent(TOKEN_STRING) {
			return nil
		}
		pattern := p.current.Value
		p.nextToken()
		return &entities.LikeExpr{Operand: left, Pattern: pattern}

	case p.currentTokenIs(TOKEN_IS):
		p.nextToken()
		typeName, ok := p.parseTypePath()
		if !ok {
			return nil
		}
		isExpr := &entities.IsExpr{Operand: left, EntityType: typeName}
		if p.currentTokenIs(TOKEN_IN) {
			p.nextToken()
			in := p.parseAdd()
			if in == nil {
				return nil
			}
			isExpr.In = in
		}
		return isExpr

	default:
		return left
	}
}

func (p *Parser) parseAdd() entities.Expr {
	left := p.parseMul()
	if left == nil {
		return nil
	}
	for p.currentTokenIs(TOKEN_PLUS) || p.currentTokenIs(TOKEN_MINUS) {
		op := entities.OpAdd
		if p.currentTokenIs(TOKEN_MINUS) {
			op = entities.OpSub
		}
		p.nextToken()
		right := p.parseMul()
		if right == nil {
			return nil
		}
		left = &entities.BinaryExpr{Op: op, Left: left, Right: right}
	}
	return left
}

func (p *Parser) parseMul() entities.Expr {
	left := p.parseUnary()
	if left == nil {
		return nil
	}
	for p.currentTokenIs(TOKEN_STAR) {
		p.nextToken()
		right := p.parseUnary()
		if right == nil {
			return nil
		}
		left = &entities.BinaryExpr{Op: entities.OpMul, Left: left, Right: right}
	}
	return left
}

func (p *Parser) parseUnary() entities.Expr {
	p.depth++
	defer func() { p.depth-- }()
	if p.depth > maxNestingDepth {
		p.errorf("expression nesting too deep at %d:%d", p.current.Line, p.current.Column)
		return nil
	}

	switch {
	case p.currentTokenIs(TOKEN_EXCLAMATION):
		p.nextToken()
		operand := p.parseUnary()
		if operand == nil {
			return nil
		}
		return &entities.NotExpr{Operand: operand}

	case p.currentTokenIs(TOKEN_MINUS):
		// Fold a directly negated integer literal so the most negative
		// Long is representable.
		if p.peekTokenIs(TOKEN_INT) {
			p.nextToken()
			n, err := strconv.ParseInt("-"+p.current.Value, 10, 64)
			if err != nil {
				p.errorf("integer literal out of range at %d:%d", p.current.Line, p.current.Column)
				return nil
			}
			p.nextToken()
			return p.parsePostfixOn(&entities.LiteralExpr{Value: entities.Long(n)})
		}
		p.nextToken()
		operand := p.parseUnary()
		if operand == nil {
			return nil
		}
		return &entities.NegExpr{Operand: operand}

	default:
		return p.parsePostfix()
	}
}

// parsePostfix parses a primary expression followed by any chain of
// attribute accesses, index accesses, and method calls.
func (p *Parser) parsePostfix() entities.Expr {
	primary := p.parsePrimary()
	if primary == nil {
		return nil
	}
	return p.parsePostfixOn(primary)
}

func (p *Parser) parsePostfixOn(expr entities.Expr) entities.Expr {
	for {
		switch {
		case p.currentTokenIs(TOKEN_DOT):
			p.nextToken()
			name, ok := p.parseAttrIdent()
			if !ok {
				return nil
			}
			if p.currentTokenIs(TOKEN_LPAREN) {
				args, ok := p.parseCallArgs()
				if !ok {
					return nil
				}
				expr = &entities.MethodCallExpr{Receiver: expr, Method: name, Args: args}
			} else {
				expr = &entities.AttrExpr{Object: expr, Attr: name}
			}

		case p.currentTokenIs(TOKEN_LBRACKET):
			p.nextToken()
			if !p.expectCurrent(TOKEN_STRING) {
				return nil
			}
			attr, ok := p.stringValue()
			if !ok {
				return nil
			}
			p.nextToken()
			if !p.expectCurrent(TOKEN_RBRACKET) {
				return nil
			}
			p.nextToken()
			expr = &entities.AttrExpr{Object: expr, Attr: attr}

		default:
			return expr
		}
	}
}

// parseAttrIdent reads an attribute or method name after a dot. Keywords
// are accepted as attribute names (e.g. context.action).
func (p *Parser) parseAttrIdent() (string, bool) {
	if p.currentTokenIs(TOKEN_IDENTIFIER) || isKeywordToken(p.current.Type) {
		name := p.current.Value
		p.nextToken()
		return name, true
	}
	p.errorf("expected attribute name, got %s at %d:%d",
		tokenNames[p.current.Type], p.current.Line, p.current.Column)
	return "", false
}

// parseAttrName reads the attribute name after `has`: identifier or
// string literal.
func (p *Parser) parseAttrName() (string, bool) {
	if p.currentTokenIs(TOKEN_STRING) {
		name, ok := p.stringValue()
		if !ok {
			return "", false
		}
		p.nextToken()
		return name, true
	}
	return p.parseAttrIdent()
}

// parseCallArgs parses a parenthesised, comma-separated argument list.
// The current token must be the opening parenthesis.
func (p *Parser) parseCallArgs() ([]entities.Expr, bool) {
	p.nextToken() // consume (
	var args []entities.Expr
	for !p.currentTokenIs(TOKEN_RPAREN) {
		arg := p.parseExpr()
		if arg == nil {
			return nil, false
		}
		args = append(args, arg)
		if p.currentTokenIs(TOKEN_COMMA) {
			p.nextToken()
		} else if !p.currentTokenIs(TOKEN_RPAREN) {
			p.errorf("expected ',' or ')' in argument list at %d:%d", p.current.Line, p.current.Column)
			return nil, false
		}
	}
	p.nextToken() // consume )
	return args, true
}

// Extension constructor functions.
var extensionFuncs = map[string]bool{
	"ip":      true,
	"decimal": true,
}

func (p *Parser) parsePrimary() entities.Expr {
	switch {
	case p.currentTokenIs(TOKEN_TRUE):
		p.nextToken()
		return &entities.LiteralExpr{Value: entities.Boolean(true)}

	case p.currentTokenIs(TOKEN_FALSE):
		p.nextToken()
		return &entities.LiteralExpr{Value: entities.Boolean(false)}

	case p.currentTokenIs(TOKEN_INT):
		n, err := strconv.ParseInt(p.current.Value, 10, 64)
		if err != nil {
			p.errorf("integer literal out of range at %d:%d", p.current.Line, p.current.Column)
			return nil
		}
		p.nextToken()
		return &entities.LiteralExpr{Value: entities.Long(n)}

	case p.currentTokenIs(TOKEN_STRING):
		s, ok := p.stringValue()
		if !ok {
			return nil
		}
		p.nextToken()
		return &entities.LiteralExpr{Value: entities.String(s)}

	case p.currentTokenIs(TOKEN_PRINCIPAL), p.currentTokenIs(TOKEN_ACTION),
		p.currentTokenIs(TOKEN_RESOURCE), p.currentTokenIs(TOKEN_CONTEXT):
		name := p.current.Value
		p.nextToken()
		return &entities.VarExpr{Name: name}

	case p.currentTokenIs(TOKEN_IF):
		p.nextToken()
		cond := p.parseExpr()
		if cond == nil {
			return nil
		}
		if !p.expectCurrent(TOKEN_THEN) {
			return nil
		}
		p.nextToken()
		then := p.parseExpr()
		if then == nil {
			return nil
		}
		if !p.expectCurrent(TOKEN_ELSE) {
			return nil
		}
		p.nextToken()
		els := p.parseExpr()
		if els == nil {
			return nil
		}
		return &entities.IfExpr{Cond: cond, Then: then, Else: els}

	case p.currentTokenIs(TOKEN_LPAREN):
		p.nextToken()
		expr := p.parseExpr()
		if expr == nil {
			return nil
		}
		if !p.expectCurrent(TOKEN_RPAREN) {
			return nil
		}
		p.nextToken()
		return expr

	case p.currentTokenIs(TOKEN_LBRACKET):
		p.nextToken()
		set := &entities.SetExpr{}
		for !p.currentTokenIs(TOKEN_RBRACKET) {
			elem := p.parseExpr()
			if elem == nil {
				return nil
			}
			set.Elements = append(set.Elements, elem)
			if p.currentTokenIs(TOKEN_COMMA) {
				p.nextToken()
			} else if !p.currentTokenIs(TOKEN_RBRACKET) {
				p.errorf("expected ',' or ']' in set literal at %d:%d", p.current.Line, p.current.Column)
				return nil
			}
		}
		p.nextToken()
		return set

	case p.currentTokenIs(TOKEN_LBRACE):
		p.nextToken()
		record := &entities.RecordExpr{}
		for !p.currentTokenIs(TOKEN_RBRACE) {
			var key string
			if p.currentTokenIs(TOKEN_STRING) {
				var ok bool
				key, ok = p.stringValue()
				if !ok {
					return nil
				}
				p.nextToken()
			} else {
				var ok bool
				key, ok = p.parseAttrIdent()
				if !ok {
					return nil
				}
			}
			if !p.expectCurrent(TOKEN_COLON) {
				return nil
			}
			p.nextToken()
			value := p.parseExpr()
			if value == nil {
				return nil
			}
			record.Entries = append(record.Entries, entities.RecordEntry{Key: key, Value: value})
			if p.currentTokenIs(TOKEN_COMMA) {
				p.nextToken()
			} else if !p.currentTokenIs(TOKEN_RBRACE) {
				p.errorf("expected ',' or '}' in record literal at %d:%d", p.current.Line, p.current.Column)
				return nil
			}
		}
		p.nextToken()
		return record

	case p.currentTokenIs(TOKEN_IDENTIFIER):
		name := p.current.Value
		if p.peekTokenIs(TOKEN_PATH_SEP) {
			uid, ok := p.parseEntityRef()
			if !ok {
				return nil
			}
			return &entities.LiteralExpr{Value: entities.EntityValue{UID: uid}}
		}
		if p.peekTokenIs(TOKEN_LPAREN) && extensionFuncs[name] {
			p.nextToken()
			args, ok := p.parseCallArgs()
			if !ok {
				return nil
			}
			return &entities.CallExpr{Func: name, Args: args}
		}
		p.errorf("unexpected identifier %q at %d:%d", name, p.current.Line, p.current.Column)
		return nil

	case p.currentTokenIs(TOKEN_SLOT):
		p.errorf("template slot ?%s cannot appear in a condition at %d:%d",
			p.current.Value, p.current.Line, p.current.Column)
		return nil

	default:
		p.errorf("unexpected token %s in expression at %d:%d",
			tokenNames[p.current.Type], p.current.Line, p.current.Column)
		return nil
	}
}

// isKeywordToken reports whether a token type is a language keyword.
func isKeywordToken(t TokenType) bool {
	for _, kw := range keywords {
		if kw == t {
			return true
		}
	}
	return false
}
