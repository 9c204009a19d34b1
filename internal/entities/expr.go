package entities

// Expr is the closed union of condition-expression nodes produced by the
// policy parser and consumed by the evaluator and the validator.
type Expr interface {
	isExpr()
}

// LiteralExpr is a literal value: true, 42, "text", or User::"alice".
type LiteralExpr struct {
	Value Value
}

func (*LiteralExpr) isExpr() {}

// VarExpr is one of the four request variables: principal, action,
// resource, or context.
type VarExpr struct {
	Name string
}

func (*VarExpr) isExpr() {}

// Request variable names.
const (
	VarPrincipal = "principal"
	VarAction    = "action"
	VarResource  = "resource"
	VarContext   = "context"
)

// AndExpr is short-circuit conjunction: the right operand is not
// evaluated when the left operand is false.
type AndExpr struct {
	Left  Expr
	Right Expr
}

func (*AndExpr) isExpr() {}

// OrExpr is short-circuit disjunction: the right operand is not
// evaluated when the left operand is true.
type OrExpr struct {
	Left  Expr
	Right Expr
}

func (*OrExpr) isExpr() {}

// NotExpr is boolean negation.
type NotExpr struct {
	Operand Expr
}

func (*NotExpr) isExpr() {}

// NegExpr is arithmetic negation.
type NegExpr struct {
	Operand Expr
}

func (*NegExpr) isExpr() {}

// Binary operators for BinaryExpr.
const (
	OpEq  = "=="
	OpNeq = "!="
	OpLt  = "<"
	OpLte = "<="
	OpGt  = ">"
	OpGte = ">="
	OpAdd = "+"
	OpSub = "-"
	OpMul = "*"
	OpIn  = "in"
)

// BinaryExpr is a non-logical binary operation. The `in` operator is
// hierarchy membership: true iff the left entity equals, or has as a
// transitive ancestor, the right entity (or any member of a right-hand
// set of entities).
type BinaryExpr struct {
	Op    string
	Left  Expr
	Right Expr
}

func (*BinaryExpr) isExpr() {}

// AttrExpr is attribute access on an entity or record: expr.attr or
// expr["attr"]. Access to a missing attribute is an evaluation error.
type AttrExpr struct {
	Object Expr
	Attr   string
}

func (*AttrExpr) isExpr() {}

// HasExpr tests attribute presence: expr has attr.
type HasExpr struct {
	Object Expr
	Attr   string
}

func (*HasExpr) isExpr() {}

// LikeExpr is wildcard string matching: expr like "pattern" where '*'
// matches any (possibly empty) substring.
type LikeExpr struct {
	Operand Expr
	Pattern string
}

func (*LikeExpr) isExpr() {}

// IsExpr tests the entity type of the operand, optionally combined with
// hierarchy membership: expr is Type, or expr is Type in entity.
type IsExpr struct {
	Operand    Expr
	EntityType string
	In         Expr // optional; nil when no `in` part
}

func (*IsExpr) isExpr() {}

// IfExpr is the conditional expression: if cond then a else b.
type IfExpr struct {
	Cond Expr
	Then Expr
	Else Expr
}

func (*IfExpr) isExpr() {}

// SetExpr is a set literal: [e1, e2, ...].
type SetExpr struct {
	Elements []Expr
}

func (*SetExpr) isExpr() {}

// RecordEntry is one key/value pair of a record literal.
type RecordEntry struct {
	Key   string
	Value Expr
}

// RecordExpr is a record literal: {key: value, ...}.
type RecordExpr struct {
	Entries []RecordEntry
}

func (*RecordExpr) isExpr() {}

// CallExpr is an extension constructor call: ip("10.0.0.1") or
// decimal("1.25").
type CallExpr struct {
	Func string
	Args []Expr
}

func (*CallExpr) isExpr() {}

// MethodCallExpr is a method call such as set.contains(x),
// s.startsWith("a"), or d.lessThan(decimal("2.0")).
type MethodCallExpr struct {
	Receiver Expr
	Method   string
	Args     []Expr
}

func (*MethodCallExpr) isExpr() {}

// cloneExpr deep-copies an expression tree.
func cloneExpr(e Expr) Expr {
	switch t := e.(type) {
	case nil:
		return nil
	case *LiteralExpr:
		return &LiteralExpr{Value: t.Value}
	case *VarExpr:
		return &VarExpr{Name: t.Name}
	case *AndExpr:
		return &AndExpr{Left: cloneExpr(t.Left), Right: cloneExpr(t.Right)}
	case *OrExpr:
		return &OrExpr{Left: cloneExpr(t.Left), Right: cloneExpr(t.Right)}
	case *NotExpr:
		return &NotExpr{Operand: cloneExpr(t.Operand)}
	case *NegExpr:
		return &NegExpr{Operand: cloneExpr(t.Operand)}
	case *BinaryExpr:
		return &BinaryExpr{Op: t.Op, Left: cloneExpr(t.Left), Right: cloneExpr(t.Right)}
	case *AttrExpr:
		return &AttrExpr{Object: cloneExpr(t.Object), Attr: t.Attr}
	case *HasExpr:
		return &HasExpr{Object: cloneExpr(t.Object), Attr: t.Attr}
	case *LikeExpr:
		return &LikeExpr{Operand: cloneExpr(t.Operand), Pattern: t.Pattern}
	case *IsExpr:
		return &IsExpr{Operand: cloneExpr(t.Operand), EntityType: t.EntityType, In: cloneExpr(t.In)}
	case *IfExpr:
		return &IfExpr{Cond: cloneExpr(t.Cond), Then: cloneExpr(t.Then), Else: cloneExpr(t.Else)}
	case *SetExpr:
		elems := make([]Expr, len(t.Elements))
		for i, elem := range t.Elements {
			elems[i] = cloneExpr(elem)
		}
		return &SetExpr{Elements: elems}
	case *RecordExpr:
		entries := make([]RecordEntry, len(t.Entries))
		for i, entry := range t.Entries {
			entries[i] = RecordEntry{Key: entry.Key, Value: cloneExpr(entry.Value)}
		}
		return &RecordExpr{Entries: entries}
	case *CallExpr:
		args := make([]Expr, len(t.Args))
		for i, arg := range t.Args {
			args[i] = cloneExpr(arg)
		}
		return &CallExpr{Func: t.Func, Args: args}
	case *MethodCallExpr:
		args := make([]Expr, len(t.Args))
		for i, arg := range t.Args {
			args[i] = cloneExpr(arg)
		}
		return &MethodCallExpr{Receiver: cloneExpr(t.Receiver), Method: t.Method, Args: args}
	default:
		// The union is closed; new node types must be added here.
		panic("unknown expression node")
	}
}
