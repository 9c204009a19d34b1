package entities

import (
	"fmt"
	"net/netip"
	"sort"
	"strings"
)

// Value is the closed union of runtime values the policy language operates
// on. Every attribute, context field, and literal is one of these variants.
// Operator implementations type-switch over this union so that a type
// mismatch surfaces as an evaluation error, never a crash.
type Value interface {
	isValue()

	// Equal reports semantic equality with another value.
	// Values of different variants are never equal.
	Equal(other Value) bool

	// TypeName returns the value's type name for error messages.
	TypeName() string

	// String renders the value in policy-language surface syntax.
	String() string
}

// Boolean is a true/false value.
type Boolean bool

func (Boolean) isValue() {}

func (b Boolean) Equal(other Value) bool {
	o, ok := other.(Boolean)
	return ok && b == o
}

func (Boolean) TypeName() string { return "Bool" }

func (b Boolean) String() string {
	if b {
		return "true"
	}
	return "false"
}

// Long is a signed 64-bit integer.
type Long int64

func (Long) isValue() {}

func (l Long) Equal(other Value) bool {
	o, ok := other.(Long)
	return ok && l == o
}

func (Long) TypeName() string { return "Long" }

func (l Long) String() string { return fmt.Sprintf("%d", int64(l)) }

// String is a UTF-8 string value.
type String string

func (String) isValue() {}

func (s String) Equal(other Value) bool {
	o, ok := other.(String)
	return ok && s == o
}

func (String) TypeName() string { return "String" }

func (s String) String() string { return fmt.Sprintf("%q", string(s)) }

// EntityValue is a reference to an entity.
type EntityValue struct {
	UID EntityUID
}

func (EntityValue) isValue() {}

func (e EntityValue) Equal(other Value) bool {
	o, ok := other.(EntityValue)
	return ok && e.UID.Equal(o.UID)
}

func (EntityValue) TypeName() string { return "Entity" }

func (e EntityValue) String() string { return e.UID.String() }

// Set is an unordered collection of values. Equality is mathematical set
// equality: order and duplicates are ignored.
type Set []Value

func (Set) isValue() {}

// Contains reports whether the set contains a value equal to v.
func (s Set) Contains(v Value) bool {
	for _, elem := range s {
		if elem.Equal(v) {
			return true
		}
	}
	return false
}

func (s Set) Equal(other Value) bool {
	o, ok := other.(Set)
	if !ok {
		return false
	}
	for _, elem := range s {
		if !o.Contains(elem) {
			return false
		}
	}
	for _, elem := range o {
		if !s.Contains(elem) {
			return false
		}
	}
	return true
}

func (Set) TypeName() string { return "Set" }

func (s Set) String() string {
	parts := make([]string, len(s))
	for i, elem := range s {
		parts[i] = elem.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// Record is a mapping from attribute names to values.
type Record map[string]Value

func (Record) isValue() {}

func (r Record) Equal(other Value) bool {
	o, ok := other.(Record)
	if !ok || len(r) != len(o) {
		return false
	}
	for k, v := range r {
		ov, present := o[k]
		if !present || !v.Equal(ov) {
			return false
		}
	}
	return true
}

func (Record) TypeName() string { return "Record" }

func (r Record) String() string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%q: %s", k, r[k].String())
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// decimalScale is the fixed fraction scale of Decimal values (4 digits).
const decimalScale = 10000

// Decimal is a fixed-point decimal with exactly four fractional digits,
// stored as the scaled integer value*10^4.
type Decimal int64

func (Decimal) isValue() {}

func (d Decimal) Equal(other Value) bool {
	o, ok := other.(Decimal)
	return ok && d == o
}

func (Decimal) TypeName() string { return "Decimal" }

func (d Decimal) String() string {
	intPart := int64(d) / decimalScale
	frac := int64(d) % decimalScale
	if frac < 0 {
		frac = -frac
		if intPart == 0 {
			return fmt.Sprintf(`decimal("-0.%04d")`, frac)
		}
	}
	return fmt.Sprintf(`decimal("%d.%04d")`, intPart, frac)
}

// ParseDecimal parses a decimal literal like "12.34" or "-0.5" with at
// most four fractional digits.
func ParseDecimal(s string) (Decimal, error) {
	neg := false
	rest := s
	if strings.HasPrefix(rest, "-") {
		neg = true
		rest = rest[1:]
	}

	intStr, fracStr, found := strings.Cut(rest, ".")
	if !found {
		return 0, fmt.Errorf("invalid decimal %q: missing fractional part", s)
	}
	if intStr == "" || fracStr == "" || len(fracStr) > 4 {
		return 0, fmt.Errorf("invalid decimal %q: expected 1 to 4 fractional digits", s)
	}

	var scaled int64
	for _, ch := range intStr {
		if ch < '0' || ch > '9' {
			return 0, fmt.Errorf("invalid decimal %q", s)
		}
		scaled = scaled*10 + int64(ch-'0')
		if scaled > (1<<62)/decimalScale {
			return 0, fmt.Errorf("decimal %q out of range", s)
		}
	}
	scaled *= decimalScale

	mult := int64(decimalScale / 10)
	for _, ch := range fracStr {
		if ch < '0' || ch > '9' {
			return 0, fmt.Errorf("invalid decimal %q", s)
		}
		scaled += int64(ch-'0') * mult
		mult /= 10
	}

	if neg {
		scaled = -scaled
	}
	return Decimal(scaled), nil
}

// IPAddr is an IP address or CIDR range.
type IPAddr struct {
	Prefix netip.Prefix
}

func (IPAddr) isValue() {}

func (ip IPAddr) Equal(other Value) bool {
	o, ok := other.(IPAddr)
	return ok && ip.Prefix == o.Prefix
}

func (IPAddr) TypeName() string { return "IPAddr" }

func (ip IPAddr) String() string {
	if ip.Prefix.IsSingleIP() {
		return fmt.Sprintf(`ip(%q)`, ip.Prefix.Addr().String())
	}
	return fmt.Sprintf(`ip(%q)`, ip.Prefix.String())
}

// ParseIPAddr parses an IP address ("192.168.1.1") or a CIDR range
// ("10.0.0.0/8"). A bare address becomes a single-address prefix.
func ParseIPAddr(s string) (IPAddr, error) {
	if strings.Contains(s, "/") {
		prefix, err := netip.ParsePrefix(s)
		if err != nil {
			return IPAddr{}, fmt.Errorf("invalid IP range %q: %w", s, err)
		}
		return IPAddr{Prefix: prefix}, nil
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return IPAddr{}, fmt.Errorf("invalid IP address %q: %w", s, err)
	}
	return IPAddr{Prefix: netip.PrefixFrom(addr, addr.BitLen())}, nil
}

// ValueFromGo converts a plain Go value into a Value. Supported inputs are
// bool, int, int64, float64 (integral only), string, []interface{},
// map[string]interface{}, and Value itself. Entity references are passed
// in their textual string form and stay strings; callers that need an
// entity reference should construct an EntityValue directly.
func ValueFromGo(v interface{}) (Value, error) {
	switch t := v.(type) {
	case nil:
		return nil, fmt.Errorf("null values are not supported")
	case Value:
		return t, nil
	case bool:
		return Boolean(t), nil
	case int:
		return Long(t), nil
	case int32:
		return Long(t), nil
	case int64:
		return Long(t), nil
	case float64:
		// JSON decoding yields float64 for all numbers; only integral
		// values are representable.
		if t != float64(int64(t)) {
			return nil, fmt.Errorf("number %v is not a valid integer", t)
		}
		return Long(int64(t)), nil
	case string:
		return String(t), nil
	case []interface{}:
		set := make(Set, 0, len(t))
		for _, elem := range t {
			val, err := ValueFromGo(elem)
			if err != nil {
				return nil, err
			}
			set = append(set, val)
		}
		return set, nil
	case map[string]interface{}:
		record := make(Record, len(t))
		for k, elem := range t {
			val, err := ValueFromGo(elem)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", k, err)
			}
			record[k] = val
		}
		return record, nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

// RecordFromGo converts a map of plain Go values into a Record.
func RecordFromGo(m map[string]interface{}) (Record, error) {
	if m == nil {
		return Record{}, nil
	}
	val, err := ValueFromGo(m)
	if err != nil {
		return nil, err
	}
	return val.(Record), nil
}
