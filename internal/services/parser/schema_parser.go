package parser

import (
	"github.com/asakaida/sugi/internal/entities"
)

// ParseSchema parses schema text into an entities.Schema:
//
//	entity Group;
//	entity User in [Group] { name: String, age?: Long };
//	action view, edit appliesTo {
//	    principal: [User],
//	    resource: [Document],
//	    context: { mfa: Bool }
//	};
//
// The words entity and appliesTo are contextual and lex as identifiers.
func ParseSchema(text string) (*entities.Schema, error) {
	p := NewParser(NewLexer(text))
	schema := entities.NewSchema()

	for !p.currentTokenIs(TOKEN_EOF) {
		before := len(p.errors)
		switch {
		case p.currentTokenIs(TOKEN_IDENTIFIER) && p.current.Value == "entity":
			p.parseEntityDecl(schema)
		case p.currentTokenIs(TOKEN_ACTION):
			p.parseActionDecl(schema)
		default:
			p.errorf("expected 'entity' or 'action' declaration, got %s at %d:%d",
				tokenNames[p.current.Type], p.current.Line, p.current.Column)
		}
		if len(p.errors) > before {
			break
		}
	}

	if err := p.err(); err != nil {
		return nil, err
	}
	return schema, nil
}

// parseEntityDecl parses one entity declaration. The current token is the
// contextual keyword entity.
func (p *Parser) parseEntityDecl(schema *entities.Schema) {
	p.nextToken() // consume entity

	var names []string
	for {
		name, ok := p.parseTypePath()
		if !ok {
			return
		}
		names = append(names, name)
		if p.currentTokenIs(TOKEN_COMMA) {
			p.nextToken()
			continue
		}
		break
	}

	var memberOf []string
	if p.currentTokenIs(TOKEN_IN) {
		p.nextToken()
		var ok bool
		memberOf, ok = p.parseTypePathList()
		if !ok {
			return
		}
	}

	shape := entities.NewRecordShape()
	if p.currentTokenIs(TOKEN_LBRACE) {
		var ok bool
		shape, ok = p.parseRecordShape()
		if !ok {
			return
		}
	}

	if !p.expectCurrent(TOKEN_SEMICOLON) {
		return
	}
	p.nextToken()

	for _, name := range names {
		if schema.GetEntityType(name) != nil {
			p.errorf("duplicate entity type declaration %q", name)
			return
		}
		schema.EntityTypes[name] = &entities.EntityTypeDecl{
			Name:     name,
			MemberOf: memberOf,
			Shape:    shape,
		}
	}
}

// parseActionDecl parses one action declaration. The current token is the
// action keyword.
func (p *Parser) parseActionDecl(schema *entities.Schema) {
	p.nextToken() // consume action

	var names []string
	for {
		name, ok := p.parseActionName()
		if !ok {
			return
		}
		names = append(names, name)
		if p.currentTokenIs(TOKEN_COMMA) {
			p.nextToken()
			continue
		}
		break
	}

	decl := &entities.ActionDecl{Context: entities.NewRecordShape()}

	if p.currentTokenIs(TOKEN_IDENTIFIER) && p.current.Value == "appliesTo" {
		if !p.expectPeek(TOKEN_LBRACE) {
			return
		}
		p.nextToken()
		if !p.parseAppliesTo(decl) {
			return
		}
	}

	if !p.expectCurrent(TOKEN_SEMICOLON) {
		return
	}
	p.nextToken()

	for _, name := range names {
		if schema.GetAction(name) != nil {
			p.errorf("duplicate action declaration %q", name)
			return
		}
		d := *decl
		d.Name = name
		schema.Actions[name] = &d
	}
}

// parseActionName reads an action name: identifier or quoted string.
func (p *Parser) parseActionName() (string, bool) {
	if p.currentTokenIs(TOKEN_STRING) {
		name, ok := p.stringValue()
		if !ok {
			return "", false
		}
		p.nextToken()
		return name, true
	}
	if p.currentTokenIs(TOKEN_IDENTIFIER) || isKeywordToken(p.current.Type) {
		name := p.current.Value
		p.nextToken()
		return name, true
	}
	p.errorf("expected action name, got %s at %d:%d",
		tokenNames[p.current.Type], p.current.Line, p.current.Column)
	return "", false
}

// parseAppliesTo parses the body of an appliesTo block. The current token
// is the first token inside the braces; on success the current token is
// the one following the closing brace.
func (p *Parser) parseAppliesTo(decl *entities.ActionDecl) bool {
	for !p.currentTokenIs(TOKEN_RBRACE) {
		switch {
		case p.currentTokenIs(TOKEN_PRINCIPAL):
			if !p.expectPeek(TOKEN_COLON) {
				return false
			}
			p.nextToken()
			types, ok := p.parseTypePathList()
			if !ok {
				return false
			}
			decl.Principals = types

		case p.currentTokenIs(TOKEN_RESOURCE):
			if !p.expectPeek(TOKEN_COLON) {
				return false
			}
			p.nextToken()
			types, ok := p.parseTypePathList()
			if !ok {
				return false
			}
			decl.Resources = types

		case p.currentTokenIs(TOKEN_CONTEXT):
			if !p.expectPeek(TOKEN_COLON) {
				return false
			}
			if !p.expectPeek(TOKEN_LBRACE) {
				return false
			}
			shape, ok := p.parseRecordShape()
			if !ok {
				return false
			}
			decl.Context = shape

		default:
			p.errorf("expected 'principal', 'resource' or 'context' in appliesTo, got %s at %d:%d",
				tokenNames[p.current.Type], p.current.Line, p.current.Column)
			return false
		}

		if p.currentTokenIs(TOKEN_COMMA) {
			p.nextToken()
		} else if !p.currentTokenIs(TOKEN_RBRACE) {
			p.errorf("expected ',' or '}' in appliesTo at %d:%d", p.current.Line, p.current.Column)
			return false
		}
	}
	p.nextToken() // consume }
	return true
}

// parseTypePathList parses either a single type path or a bracketed,
// comma-separated list of type paths.
func (p *Parser) parseTypePathList() ([]string, bool) {
	if !p.currentTokenIs(TOKEN_LBRACKET) {
		name, ok := p.parseTypePath()
		if !ok {
			return nil, false
		}
		return []string{name}, true
	}

	p.nextToken() // consume [
	var names []string
	for !p.currentTokenIs(TOKEN_RBRACKET) {
		name, ok := p.parseTypePath()
		if !ok {
			return nil, false
		}
		names = append(names, name)
		if p.currentTokenIs(TOKEN_COMMA) {
			p.nextToken()
		} else if !p.currentTokenIs(TOKEN_RBRACKET) {
			p.errorf("expected ',' or ']' in type list at %d:%d", p.current.Line, p.current.Column)
			return nil, false
		}
	}
	p.nextToken() // consume ]
	return names, true
}

// parseRecordShape parses a braced attribute shape. The current token is
// the opening brace; on success the current token is the one after the
// closing brace.
func (p *Parser) parseRecordShape() (*entities.RecordShape, bool) {
	p.nextToken() // consume {
	shape := entities.NewRecordShape()

	for !p.currentTokenIs(TOKEN_RBRACE) {
		var name string
		if p.currentTokenIs(TOKEN_STRING) {
			var ok bool
			name, ok = p.stringValue()
			if !ok {
				return nil, false
			}
			p.nextToken()
		} else {
			var ok bool
			name, ok = p.parseAttrIdent()
			if !ok {
				return nil, false
			}
		}
		if _, dup := shape.Attributes[name]; dup {
			p.errorf("duplicate attribute %q in record shape", name)
			return nil, false
		}

		optional := false
		if p.currentTokenIs(TOKEN_QUESTION) {
			optional = true
			p.nextToken()
		}
		if !p.expectCurrent(TOKEN_COLON) {
			return nil, false
		}
		p.nextToken()

		attrType, ok := p.parseSchemaType()
		if !ok {
			return nil, false
		}
		shape.Attributes[name] = entities.AttrShape{Type: attrType, Optional: optional}

		if p.currentTokenIs(TOKEN_COMMA) {
			p.nextToken()
		} else if !p.currentTokenIs(TOKEN_RBRACE) {
			p.errorf("expected ',' or '}' in record shape at %d:%d", p.current.Line, p.current.Column)
			return nil, false
		}
	}
	p.nextToken() // consume }
	return shape, true
}

// parseSchemaType parses one type expression: a primitive name, Set<T>,
// an inline record shape, an extension type, or an entity type reference.
func (p *Parser) parseSchemaType() (entities.SchemaType, bool) {
	if p.currentTokenIs(TOKEN_LBRACE) {
		shape, ok := p.parseRecordShape()
		if !ok {
			return nil, false
		}
		return entities.RecordType{Shape: shape}, true
	}

	if p.currentTokenIs(TOKEN_IDENTIFIER) && p.current.Value == "Set" && p.peekTokenIs(TOKEN_LT) {
		p.nextToken() // consume Set
		p.nextToken() // consume <
		element, ok := p.parseSchemaType()
		if !ok {
			return nil, false
		}
		if !p.expectCurrent(TOKEN_GT) {
			return nil, false
		}
		p.nextToken()
		return entities.SetType{Element: element}, true
	}

	name, ok := p.parseTypePath()
	if !ok {
		return nil, false
	}
	switch name {
	case "String":
		return entities.StringType{}, true
	case "Long":
		return entities.LongType{}, true
	case "Bool", "Boolean":
		return entities.BoolType{}, true
	case "ipaddr", "decimal":
		return entities.ExtensionType{Extension: name}, true
	default:
		return entities.EntityRefType{EntityType: name}, true
	}
}
