package authorization

import (
	"fmt"
	"math"
	"strings"

	"github.com/asakaida/sugi/internal/entities"
)

// DefaultMaxEvalDepth bounds expression recursion during evaluation.
const DefaultMaxEvalDepth = 100

// Evaluator evaluates a single policy against a request and an entity
// hierarchy. Evaluation is fail-closed: any type error, missing attribute,
// or arithmetic overflow makes the policy not satisfied and surfaces as an
// error for the decision diagnostics.
type Evaluator struct {
	store    *entities.EntityStore
	maxDepth int
}

// NewEvaluator creates an Evaluator. The store may be nil, in which case
// the hierarchy is empty and `in` reduces to entity equality.
func NewEvaluator(store *entities.EntityStore) *Evaluator {
	return &Evaluator{store: store, maxDepth: DefaultMaxEvalDepth}
}

// NewEvaluatorWithDepth creates an Evaluator with a custom recursion limit.
func NewEvaluatorWithDepth(store *entities.EntityStore, maxDepth int) *Evaluator {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxEvalDepth
	}
	return &Evaluator{store: store, maxDepth: maxDepth}
}

// Evaluate reports whether the policy is satisfied by the request: all
// three scope constraints match and every when condition is true and every
// unless condition is false.
func (e *Evaluator) Evaluate(policy *entities.Policy, req *entities.Request) (bool, error) {
	ok, err := e.matchScope(policy.Principal, req.Principal)
	if err != nil || !ok {
		return false, err
	}
	ok, err = e.matchScope(policy.Action, req.Action)
	if err != nil || !ok {
		return false, err
	}
	ok, err = e.matchScope(policy.Resource, req.Resource)
	if err != nil || !ok {
		return false, err
	}

	for _, cond := range policy.Conditions {
		value, err := e.eval(cond.Body, req, 0)
		if err != nil {
			return false, err
		}
		b, ok := value.(entities.Boolean)
		if !ok {
			return false, fmt.Errorf("condition must evaluate to Bool, got %s", value.TypeName())
		}
		if bool(b) == cond.Unless {
			return false, nil
		}
	}
	return true, nil
}

// matchScope checks one scope constraint against the corresponding
// request entity.
func (e *Evaluator) matchScope(c entities.ScopeConstraint, uid entities.EntityUID) (bool, error) {
	if c.HasSlot() {
		return false, fmt.Errorf("unresolved template slot ?%s", c.Slot)
	}

	switch c.Kind {
	case entities.ScopeAny:
		return true, nil
	case entities.ScopeEq:
		return uid.Equal(c.Entity), nil
	case entities.ScopeIn:
		return e.isIn(uid, c.Entity), nil
	case entities.ScopeInSet:
		for _, target := range c.Entities {
			if e.isIn(uid, target) {
				return true, nil
			}
		}
		return false, nil
	case entities.ScopeIs:
		return uid.Type == c.EntityType, nil
	case entities.ScopeIsIn:
		return uid.Type == c.EntityType && e.isIn(uid, c.Entity), nil
	default:
		return false, fmt.Errorf("unknown scope constraint kind %d", c.Kind)
	}
}

// isIn reports hierarchy membership: the child equals the target or has it
// as a transitive ancestor.
func (e *Evaluator) isIn(child, target entities.EntityUID) bool {
	if e.store == nil {
		return child.Equal(target)
	}
	return e.store.IsIn(child, target)
}

func (e *Evaluator) eval(expr entities.Expr, req *entities.Request, depth int) (entities.Value, error) {
	if depth > e.maxDepth {
		return nil, fmt.Errorf("expression nesting exceeds limit of %d", e.maxDepth)
	}
	depth++

	switch t := expr.(type) {
	case *entities.LiteralExpr:
		return t.Value, nil

	case *entities.VarExpr:
		switch t.Name {
		case entities.VarPrincipal:
			return entities.EntityValue{UID: req.Principal}, nil
		case entities.VarAction:
			return entities.EntityValue{UID: req.Action}, nil
		case entities.VarResource:
			return entities.EntityValue{UID: req.Resource}, nil
		case entities.VarContext:
			return req.Context, nil
		default:
			return nil, fmt.Errorf("unknown variable %q", t.Name)
		}

	case *entities.AndExpr:
		left, err := e.evalBool(t.Left, req, depth)
		if err != nil {
			return nil, err
		}
		if !left {
			return entities.Boolean(false), nil
		}
		right, err := e.evalBool(t.Right, req, depth)
		if err != nil {
			return nil, err
		}
		return entities.Boolean(right), nil

	case *entities.OrExpr:
		left, err := e.evalBool(t.Left, req, depth)
		if err != nil {
			return nil, err
		}
		if left {
			return entities.Boolean(true), nil
		}
		right, err := e.evalBool(t.Right, req, depth)
		if err != nil {
			return nil, err
		}
		return entities.Boolean(right), nil

	case *entities.NotExpr:
		operand, err := e.evalBool(t.Operand, req, depth)
		if err != nil {
			return nil, err
		}
		return entities.Boolean(!operand), nil

	case *entities.NegExpr:
		operand, err := e.evalLong(t.Operand, req, depth)
		if err != nil {
			return nil, err
		}
		if operand == math.MinInt64 {
			return nil, fmt.Errorf("arithmetic overflow negating %d", operand)
		}
		return entities.Long(-operand), nil

	case *entities.BinaryExpr:
		return e.evalBinary(t, req, depth)

	case *entities.AttrExpr:
		object, err := e.eval(t.Object, req, depth)
		if err != nil {
			return nil, err
		}
		return e.getAttr(object, t.Attr)

	case *entities.HasExpr:
		object, err := e.eval(t.Object, req, depth)
		if err != nil {
			return nil, err
		}
		return e.hasAttr(object, t.Attr)

	case *entities.LikeExpr:
		operand, err := e.eval(t.Operand, req, depth)
		if err != nil {
			return nil, err
		}
		s, ok := operand.(entities.String)
		if !ok {
			return nil, fmt.Errorf("like requires a String operand, got %s", operand.TypeName())
		}
		return entities.Boolean(matchWildcard(string(s), t.Pattern)), nil

	case *entities.IsExpr:
		operand, err := e.eval(t.Operand, req, depth)
		if err != nil {
			return nil, err
		}
		ev, ok := operand.(entities.EntityValue)
		if !ok {
			return nil, fmt.Errorf("is requires an entity operand, got %s", operand.TypeName())
		}
		if ev.UID.Type != t.EntityType {
			return entities.Boolean(false), nil
		}
		if t.In == nil {
			return entities.Boolean(true), nil
		}
		in, err := e.eval(t.In, req, depth)
		if err != nil {
			return nil, err
		}
		return e.evalIn(ev, in)

	case *entities.IfExpr:
		cond, err := e.evalBool(t.Cond, req, depth)
		if err != nil {
			return nil, err
		}
		if cond {
			return e.eval(t.Then, req, depth)
		}
		return e.eval(t.Else, req, depth)

	case *entities.SetExpr:
		set := make(entities.Set, 0, len(t.Elements))
		for _, elem := range t.Elements {
			value, err := e.eval(elem, req, depth)
			if err != nil {
				return nil, err
			}
			set = append(set, value)
		}
		return set, nil

	case *entities.RecordExpr:
		record := make(entities.Record, len(t.Entries))
		for _, entry := range t.Entries {
			value, err := e.eval(entry.Value, req, depth)
			if err != nil {
				return nil, err
			}
			record[entry.Key] = value
		}
		return record, nil

	case *entities.CallExpr:
		return e.evalCall(t, req, depth)

	case *entities.MethodCallExpr:
		return e.evalMethodCall(t, req, depth)

	default:
		return nil, fmt.Errorf("unknown expression node %T", expr)
	}
}

func (e *Evaluator) evalBool(expr entities.Expr, req *entities.Request, depth int) (bool, error) {
	value, err := e.eval(expr, req, depth)
	if err != nil {
		return false, err
	}
	b, ok := value.(entities.Boolean)
	if !ok {
		return false, fmt.Errorf("expected Bool, got %s", value.TypeName())
	}
	return bool(b), nil
}

func (e *Evaluator) evalLong(expr entities.Expr, req *entities.Request, depth int) (int64, error) {
	value, err := e.eval(expr, req, depth)
	if err != nil {
		return 0, err
	}
	l, ok := value.(entities.Long)
	if !ok {
		return 0, fmt.Errorf("expected Long, got %s", value.TypeName())
	}
	return int64(l), nil
}

func (e *Evaluator) evalBinary(t *entities.BinaryExpr, req *entities.Request, depth int) (entities.Value, error) {
	left, err := e.eval(t.Left, req, depth)
	if err != nil {
		return nil, err
	}

	switch t.Op {
	case entities.OpEq, entities.OpNeq:
		right, err := e.eval(t.Right, req, depth)
		if err != nil {
			return nil, err
		}
		equal := left.Equal(right)
		if t.Op == entities.OpNeq {
			equal = !equal
		}
		return entities.Boolean(equal), nil

	case entities.OpLt, entities.OpLte, entities.OpGt, entities.OpGte:
		l, ok := left.(entities.Long)
		if !ok {
			return nil, fmt.Errorf("%s requires Long operands, got %s", t.Op, left.TypeName())
		}
		right, err := e.eval(t.Right, req, depth)
		if err != nil {
			return nil, err
		}
		r, ok := right.(entities.Long)
		if !ok {
			return nil, fmt.Errorf("%s requires Long operands, got %s", t.Op, right.TypeName())
		}
		switch t.Op {
		case entities.OpLt:
			return entities.Boolean(l < r), nil
		case entities.OpLte:
			return entities.Boolean(l <= r), nil
		case entities.OpGt:
			return entities.Boolean(l > r), nil
		default:
			return entities.Boolean(l >= r), nil
		}

	case entities.OpAdd, entities.OpSub, entities.OpMul:
		l, ok := left.(entities.Long)
		if !ok {
			return nil, fmt.Errorf("%s requires Long operands, got %s", t.Op, left.TypeName())
		}
		right, err := e.eval(t.Right, req, depth)
		if err != nil {
			return nil, err
		}
		r, ok := right.(entities.Long)
		if !ok {
			return nil, fmt.Errorf("%s requires Long operands, got %s", t.Op, right.TypeName())
		}
		return checkedArith(t.Op, int64(l), int64(r))

	case entities.OpIn:
		ev, ok := left.(entities.EntityValue)
		if !ok {
			return nil, fmt.Errorf("in requires an entity on the left, got %s", left.TypeName())
		}
		right, err := e.eval(t.Right, req, depth)
		if err != nil {
			return nil, err
		}
		return e.evalIn(ev, right)

	default:
		return nil, fmt.Errorf("unknown binary operator %q", t.Op)
	}
}

// evalIn implements hierarchy membership against an entity or a set of
// entities.
func (e *Evaluator) evalIn(child entities.EntityValue, right entities.Value) (entities.Value, error) {
	switch r := right.(type) {
	case entities.EntityValue:
		return entities.Boolean(e.isIn(child.UID, r.UID)), nil
	case entities.Set:
		for _, elem := range r {
			target, ok := elem.(entities.EntityValue)
			if !ok {
				return nil, fmt.Errorf("in requires a set of entities, found %s element", elem.TypeName())
			}
			if e.isIn(child.UID, target.UID) {
				return entities.Boolean(true), nil
			}
		}
		return entities.Boolean(false), nil
	default:
		return nil, fmt.Errorf("in requires an entity or set of entities on the right, got %s", right.TypeName())
	}
}

// getAttr resolves attribute access on an entity or a record. Access to a
// missing attribute or through an entity absent from the store is an
// evaluation error.
func (e *Evaluator) getAttr(object entities.Value, attr string) (entities.Value, error) {
	switch t := object.(type) {
	case entities.EntityValue:
		if e.store == nil {
			return nil, fmt.Errorf("entity %s does not exist", t.UID)
		}
		entity, ok := e.store.Get(t.UID)
		if !ok {
			return nil, fmt.Errorf("entity %s does not exist", t.UID)
		}
		value, ok := entity.Attributes[attr]
		if !ok {
			return nil, fmt.Errorf("entity %s has no attribute %q", t.UID, attr)
		}
		return value, nil
	case entities.Record:
		value, ok := t[attr]
		if !ok {
			return nil, fmt.Errorf("record has no attribute %q", attr)
		}
		return value, nil
	default:
		return nil, fmt.Errorf("attribute access requires an entity or record, got %s", object.TypeName())
	}
}

// hasAttr implements the has operator. An entity absent from the store has
// no attributes, which is false, not an error.
func (e *Evaluator) hasAttr(object entities.Value, attr string) (entities.Value, error) {
	switch t := object.(type) {
	case entities.EntityValue:
		if e.store == nil {
			return entities.Boolean(false), nil
		}
		entity, ok := e.store.Get(t.UID)
		if !ok {
			return entities.Boolean(false), nil
		}
		_, present := entity.Attributes[attr]
		return entities.Boolean(present), nil
	case entities.Record:
		_, present := t[attr]
		return entities.Boolean(present), nil
	default:
		return nil, fmt.Errorf("has requires an entity or record, got %s", object.TypeName())
	}
}

func (e *Evaluator) evalCall(t *entities.CallExpr, req *entities.Request, depth int) (entities.Value, error) {
	if len(t.Args) != 1 {
		return nil, fmt.Errorf("%s() takes exactly one argument, got %d", t.Func, len(t.Args))
	}
	arg, err := e.eval(t.Args[0], req, depth)
	if err != nil {
		return nil, err
	}
	s, ok := arg.(entities.String)
	if !ok {
		return nil, fmt.Errorf("%s() requires a String argument, got %s", t.Func, arg.TypeName())
	}

	switch t.Func {
	case "ip":
		return entities.ParseIPAddr(string(s))
	case "decimal":
		return entities.ParseDecimal(string(s))
	default:
		return nil, fmt.Errorf("unknown extension function %q", t.Func)
	}
}

func (e *Evaluator) evalMethodCall(t *entities.MethodCallExpr, req *entities.Request, depth int) (entities.Value, error) {
	receiver, err := e.eval(t.Receiver, req, depth)
	if err != nil {
		return nil, err
	}
	args := make([]entities.Value, len(t.Args))
	for i, arg := range t.Args {
		args[i], err = e.eval(arg, req, depth)
		if err != nil {
			return nil, err
		}
	}

	switch r := receiver.(type) {
	case entities.Set:
		return evalSetMethod(r, t.Method, args)
	case entities.String:
		return evalStringMethod(r, t.Method, args)
	case entities.Decimal:
		return evalDecimalMethod(r, t.Method, args)
	case entities.IPAddr:
		return evalIPMethod(r, t.Method, args)
	default:
		return nil, fmt.Errorf("%s has no method %q", receiver.TypeName(), t.Method)
	}
}

func evalSetMethod(set entities.Set, method string, args []entities.Value) (entities.Value, error) {
	switch method {
	case "contains":
		if len(args) != 1 {
			return nil, fmt.Errorf("contains takes exactly one argument, got %d", len(args))
		}
		return entities.Boolean(set.Contains(args[0])), nil

	case "containsAll", "containsAny":
		if len(args) != 1 {
			return nil, fmt.Errorf("%s takes exactly one argument, got %d", method, len(args))
		}
		other, ok := args[0].(entities.Set)
		if !ok {
			return nil, fmt.Errorf("%s requires a Set argument, got %s", method, args[0].TypeName())
		}
		if method == "containsAll" {
			for _, elem := range other {
				if !set.Contains(elem) {
					return entities.Boolean(false), nil
				}
			}
			return entities.Boolean(true), nil
		}
		for _, elem := range other {
			if set.Contains(elem) {
				return entities.Boolean(true), nil
			}
		}
		return entities.Boolean(false), nil

	default:
		return nil, fmt.Errorf("Set has no method %q", method)
	}
}

func evalStringMethod(s entities.String, method string, args []entities.Value) (entities.Value, error) {
	if method != "startsWith" && method != "endsWith" {
		return nil, fmt.Errorf("String has no method %q", method)
	}
	if len(args) != 1 {
		return nil, fmt.Errorf("%s takes exactly one argument, got %d", method, len(args))
	}
	arg, ok := args[0].(entities.String)
	if !ok {
		return nil, fmt.Errorf("%s requires a String argument, got %s", method, args[0].TypeName())
	}
	if method == "startsWith" {
		return entities.Boolean(strings.HasPrefix(string(s), string(arg))), nil
	}
	return entities.Boolean(strings.HasSuffix(string(s), string(arg))), nil
}

func evalDecimalMethod(d entities.Decimal, method string, args []entities.Value) (entities.Value, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("%s takes exactly one argument, got %d", method, len(args))
	}
	other, ok := args[0].(entities.Decimal)
	if !ok {
		return nil, fmt.Errorf("%s requires a Decimal argument, got %s", method, args[0].TypeName())
	}

	switch method {
	case "lessThan":
		return entities.Boolean(d < other), nil
	case "lessThanOrEqual":
		return entities.Boolean(d <= other), nil
	case "greaterThan":
		return entities.Boolean(d > other), nil
	case "greaterThanOrEqual":
		return entities.Boolean(d >= other), nil
	default:
		return nil, fmt.Errorf("Decimal has no method %q", method)
	}
}

func evalIPMethod(ip entities.IPAddr, method string, args []entities.Value) (entities.Value, error) {
	switch method {
	case "isIpv4", "isIpv6", "isLoopback", "isMulticast":
		if len(args) != 0 {
			return nil, fmt.Errorf("%s takes no arguments, got %d", method, len(args))
		}
		addr := ip.Prefix.Addr()
		switch method {
		case "isIpv4":
			return entities.Boolean(addr.Is4()), nil
		case "isIpv6":
			return entities.Boolean(addr.Is6() && !addr.Is4In6()), nil
		case "isLoopback":
			return entities.Boolean(addr.IsLoopback()), nil
		default:
			return entities.Boolean(addr.IsMulticast()), nil
		}

	case "isInRange":
		if len(args) != 1 {
			return nil, fmt.Errorf("isInRange takes exactly one argument, got %d", len(args))
		}
		rng, ok := args[0].(entities.IPAddr)
		if !ok {
			return nil, fmt.Errorf("isInRange requires an IPAddr argument, got %s", args[0].TypeName())
		}
		contained := rng.Prefix.Contains(ip.Prefix.Addr()) && rng.Prefix.Bits() <= ip.Prefix.Bits()
		return entities.Boolean(contained), nil

	default:
		return nil, fmt.Errorf("IPAddr has no method %q", method)
	}
}

// checkedArith performs Long arithmetic with overflow detection.
func checkedArith(op string, l, r int64) (entities.Value, error) {
	switch op {
	case entities.OpAdd:
		sum := l + r
		if (r > 0 && sum < l) || (r < 0 && sum > l) {
			return nil, fmt.Errorf("arithmetic overflow in %d + %d", l, r)
		}
		return entities.Long(sum), nil

	case entities.OpSub:
		diff := l - r
		if (r < 0 && diff < l) || (r > 0 && diff > l) {
			return nil, fmt.Errorf("arithmetic overflow in %d - %d", l, r)
		}
		return entities.Long(diff), nil

	default:
		if l == 0 || r == 0 {
			return entities.Long(0), nil
		}
		product := l * r
		if product/r != l || (l == -1 && r == math.MinInt64) || (r == -1 && l == math.MinInt64) {
			return nil, fmt.Errorf("arithmetic overflow in %d * %d", l, r)
		}
		return entities.Long(product), nil
	}
}

// matchWildcard matches a string against a like pattern where an
// unescaped '*' matches any run of characters and the retained escape
// sequence \* matches one literal star.
func matchWildcard(s, pattern string) bool {
	// Decode the pattern into literal runes and wildcard markers.
	type patToken struct {
		ch   byte
		star bool
	}
	var tokens []patToken
	for i := 0; i < len(pattern); i++ {
		if pattern[i] == '\\' && i+1 < len(pattern) && pattern[i+1] == '*' {
			tokens = append(tokens, patToken{ch: '*'})
			i++
		} else if pattern[i] == '*' {
			tokens = append(tokens, patToken{star: true})
		} else {
			tokens = append(tokens, patToken{ch: pattern[i]})
		}
	}

	// Iterative greedy matching with backtracking to the last star.
	si, pi := 0, 0
	starPi, starSi := -1, 0
	for si < len(s) {
		switch {
		case pi < len(tokens) && tokens[pi].star:
			starPi, starSi = pi, si
			pi++
		case pi < len(tokens) && tokens[pi].ch == s[si]:
			pi++
			si++
		case starPi >= 0:
			starSi++
			si = starSi
			pi = starPi + 1
		default:
			return false
		}
	}
	for pi < len(tokens) && tokens[pi].star {
		pi++
	}
	return pi == len(tokens)
}
