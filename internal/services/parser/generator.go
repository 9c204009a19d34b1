package parser

import (
	"fmt"
	"sort"
	"strings"

	"github.com/asakaida/sugi/internal/entities"
)

// Generator renders parsed policies back to policy text. Output from
// Generate parses back to an equivalent policy.
type Generator struct {
	sb strings.Builder
}

// NewGenerator creates a new Generator
func NewGenerator() *Generator {
	return &Generator{}
}

// Generate renders one policy as text.
func (g *Generator) Generate(policy *entities.Policy) string {
	g.sb.Reset()
	g.writePolicy(policy)
	return g.sb.String()
}

// GenerateAll renders a sequence of policies separated by blank lines.
func (g *Generator) GenerateAll(policies []*entities.Policy) string {
	parts := make([]string, len(policies))
	for i, p := range policies {
		parts[i] = g.Generate(p)
	}
	return strings.Join(parts, "\n\n")
}

func (g *Generator) writePolicy(policy *entities.Policy) {
	if len(policy.Annotations) > 0 {
		names := make([]string, 0, len(policy.Annotations))
		for name := range policy.Annotations {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(&g.sb, "@%s(%s)\n", name, quoteString(policy.Annotations[name]))
		}
	}

	if policy.Effect == entities.EffectForbid {
		g.sb.WriteString("forbid (")
	} else {
		g.sb.WriteString("permit (")
	}
	g.writeScope("principal", policy.Principal)
	g.sb.WriteString(", ")
	g.writeScope("action", policy.Action)
	g.sb.WriteString(", ")
	g.writeScope("resource", policy.Resource)
	g.sb.WriteString(")")

	for _, cond := range policy.Conditions {
		if cond.Unless {
			g.sb.WriteString("\nunless { ")
		} else {
			g.sb.WriteString("\nwhen { ")
		}
		g.writeExpr(cond.Body, precLowest)
		g.sb.WriteString(" }")
	}

	g.sb.WriteString(";")
}

func (g *Generator) writeScope(variable string, c entities.ScopeConstraint) {
	g.sb.WriteString(variable)

	target := func() string {
		if c.Slot != "" {
			return "?" + c.Slot
		}
		return c.Entity.String()
	}

	switch c.Kind {
	case entities.ScopeAny:
	case entities.ScopeEq:
		g.sb.WriteString(" == ")
		g.sb.WriteString(target())
	case entities.ScopeIn:
		g.sb.WriteString(" in ")
		g.sb.WriteString(target())
	case entities.ScopeInSet:
		g.sb.WriteString(" in [")
		for i, uid := range c.Entities {
			if i > 0 {
				g.sb.WriteString(", ")
			}
			g.sb.WriteString(uid.String())
		}
		g.sb.WriteString("]")
	case entities.ScopeIs:
		g.sb.WriteString(" is ")
		g.sb.WriteString(c.EntityType)
	case entities.ScopeIsIn:
		g.sb.WriteString(" is ")
		g.sb.WriteString(c.EntityType)
		g.sb.WriteString(" in ")
		g.sb.WriteString(c.Entity.String())
	}
}

// Expression precedence, loosest binding first. Relational operators are
// non-associative so their operands render at the additive level.
const (
	precLowest = iota
	precOr
	precAnd
	precRelation
	precAdd
	precMul
	precUnary
	precPostfix
)

func exprPrec(e entities.Expr) int {
	switch t := e.(type) {
	case *entities.OrExpr:
		return precOr
	case *entities.AndExpr:
		return precAnd
	case *entities.BinaryExpr:
		switch t.Op {
		case entities.OpAdd, entities.OpSub:
			return precAdd
		case entities.OpMul:
			return precMul
		default:
			return precRelation
		}
	case *entities.HasExpr, *entities.LikeExpr, *entities.IsExpr:
		return precRelation
	case *entities.NotExpr, *entities.NegExpr:
		return precUnary
	case *entities.AttrExpr, *entities.MethodCallExpr:
		return precPostfix
	case *entities.IfExpr:
		return precLowest
	default:
		return precPostfix + 1
	}
}

// writeExpr renders an expression, parenthesising it when its own
// precedence binds looser than the surrounding context requires.
func (g *Generator) writeExpr(e entities.Expr, minPrec int) {
	if exprPrec(e) < minPrec {
		g.sb.WriteString("(")
		g.writeExpr(e, precLowest)
		g.sb.WriteString(")")
		return
	}

	switch t := e.(type) {
	case *entities.LiteralExpr:
		g.writeLiteral(t.Value)

	case *entities.VarExpr:
		g.sb.WriteString(t.Name)

	case *entities.OrExpr:
		g.writeExpr(t.Left, precOr)
		g.sb.WriteString(" || ")
		g.writeExpr(t.Right, precOr)

	case *entities.AndExpr:
		g.writeExpr(t.Left, precAnd)
		g.sb.WriteString(" && ")
		g.writeExpr(t.Right, precAnd)

	case *entities.NotExpr:
		g.sb.WriteString("!")
		g.writeExpr(t.Operand, precUnary)

	case *entities.NegExpr:
		g.sb.WriteString("-")
		g.writeExpr(t.Operand, precUnary)

	case *entities.BinaryExpr:
		switch t.Op {
		case entities.OpAdd, entities.OpSub:
			g.writeExpr(t.Left, precAdd)
			g.sb.WriteString(" " + t.Op + " ")
			g.writeExpr(t.Right, precMul)
		case entities.OpMul:
			g.writeExpr(t.Left, precMul)
			g.sb.WriteString(" * ")
			g.writeExpr(t.Right, precUnary)
		default:
			g.writeExpr(t.Left, precAdd)
			g.sb.WriteString(" " + t.Op + " ")
			g.writeExpr(t.Right, precAdd)
		}

	case *entities.AttrExpr:
		g.writeExpr(t.Object, precPostfix)
		if isPlainIdent(t.Attr) {
			g.sb.WriteString("." + t.Attr)
		} else {
			g.sb.WriteString("[" + quoteString(t.Attr) + "]")
		}

	case *entities.HasExpr:
		g.writeExpr(t.Object, precAdd)
		g.sb.WriteString(" has ")
		if isPlainIdent(t.Attr) {
			g.sb.WriteString(t.Attr)
		} else {
			g.sb.WriteString(quoteString(t.Attr))
		}

	case *entities.LikeExpr:
		g.writeExpr(t.Operand, precAdd)
		g.sb.WriteString(" like ")
		g.sb.WriteString(quotePattern(t.Pattern))

	case *entities.IsExpr:
		g.writeExpr(t.Operand, precAdd)
		g.sb.WriteString(" is ")
		g.sb.WriteString(t.EntityType)
		if t.In != nil {
			g.sb.WriteString(" in ")
			g.writeExpr(t.In, precAdd)
		}

	case *entities.IfExpr:
		g.sb.WriteString("if ")
		g.writeExpr(t.Cond, precLowest)
		g.sb.WriteString(" then ")
		g.writeExpr(t.Then, precLowest)
		g.sb.WriteString(" else ")
		g.writeExpr(t.Else, precLowest)

	case *entities.SetExpr:
		g.sb.WriteString("[")
		for i, elem := range t.Elements {
			if i > 0 {
				g.sb.WriteString(", ")
			}
			g.writeExpr(elem, precLowest)
		}
		g.sb.WriteString("]")

	case *entities.RecordExpr:
		g.sb.WriteString("{")
		for i, entry := range t.Entries {
			if i > 0 {
				g.sb.WriteString(", ")
			}
			if isPlainIdent(entry.Key) {
				g.sb.WriteString(entry.Key)
			} else {
				g.sb.WriteString(quoteString(entry.Key))
			}
			g.sb.WriteString(": ")
			g.writeExpr(entry.Value, precLowest)
		}
		g.sb.WriteString("}")

	case *entities.CallExpr:
		g.sb.WriteString(t.Func)
		g.writeArgs(t.Args)

	case *entities.MethodCallExpr:
		g.writeExpr(t.Receiver, precPostfix)
		g.sb.WriteString("." + t.Method)
		g.writeArgs(t.Args)
	}
}

func (g *Generator) writeArgs(args []entities.Expr) {
	g.sb.WriteString("(")
	for i, arg := range args {
		if i > 0 {
			g.sb.WriteString(", ")
		}
		g.writeExpr(arg, precLowest)
	}
	g.sb.WriteString(")")
}

func (g *Generator) writeLiteral(v entities.Value) {
	switch t := v.(type) {
	case entities.Boolean:
		if t {
			g.sb.WriteString("true")
		} else {
			g.sb.WriteString("false")
		}
	case entities.Long:
		fmt.Fprintf(&g.sb, "%d", int64(t))
	case entities.String:
		g.sb.WriteString(quoteString(string(t)))
	case entities.EntityValue:
		g.sb.WriteString(t.UID.String())
	default:
		// Extension literals are constructed by ip()/decimal() calls and
		// never appear as LiteralExpr values.
		g.sb.WriteString(v.String())
	}
}

// quoteString renders a string literal with escapes the lexer resolves.
func quoteString(s string) string {
	var sb strings.Builder
	sb.WriteByte('"')
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			sb.WriteString(`\\`)
		case '"':
			sb.WriteString(`\"`)
		case '\n':
			sb.WriteString(`\n`)
		case '\r':
			sb.WriteString(`\r`)
		case '\t':
			sb.WriteString(`\t`)
		case 0:
			sb.WriteString(`\0`)
		default:
			sb.WriteByte(s[i])
		}
	}
	sb.WriteByte('"')
	return sb.String()
}

// quotePattern renders a like pattern: bare stars stay wildcards, the
// retained \* escape stays a literal star. Only patterns may carry that
// escape, so it is kept here and never in quoteString.
func quotePattern(s string) string {
	var sb strings.Builder
	sb.WriteByte('"')
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			if i+1 < len(s) && s[i+1] == '*' {
				sb.WriteString(`\*`)
				i++
			} else {
				sb.WriteString(`\\`)
			}
		case '"':
			sb.WriteString(`\"`)
		case '\n':
			sb.WriteString(`\n`)
		case '\r':
			sb.WriteString(`\r`)
		case '\t':
			sb.WriteString(`\t`)
		case 0:
			sb.WriteString(`\0`)
		default:
			sb.WriteByte(s[i])
		}
	}
	sb.WriteByte('"')
	return sb.String()
}

// isPlainIdent reports whether an attribute name can be written after a
// dot without quoting.
func isPlainIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_':
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}
