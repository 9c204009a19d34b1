package entities

import (
	"fmt"
	"strings"
)

// SchemaType is the closed union of types a schema can declare for
// attributes and context fields.
type SchemaType interface {
	isSchemaType()

	// Name returns the type's surface-syntax name for error messages.
	Name() string
}

// StringType is the String primitive.
type StringType struct{}

func (StringType) isSchemaType() {}
func (StringType) Name() string  { return "String" }

// LongType is the Long (signed 64-bit integer) primitive.
type LongType struct{}

func (LongType) isSchemaType() {}
func (LongType) Name() string  { return "Long" }

// BoolType is the Bool primitive.
type BoolType struct{}

func (BoolType) isSchemaType() {}
func (BoolType) Name() string  { return "Bool" }

// SetType is Set<Element>.
type SetType struct {
	Element SchemaType
}

func (SetType) isSchemaType() {}
func (t SetType) Name() string { return "Set<" + t.Element.Name() + ">" }

// RecordType is an inline record shape.
type RecordType struct {
	Shape *RecordShape
}

func (RecordType) isSchemaType() {}
func (RecordType) Name() string  { return "Record" }

// EntityRefType references a declared entity type.
type EntityRefType struct {
	EntityType string
}

func (EntityRefType) isSchemaType() {}
func (t EntityRefType) Name() string { return t.EntityType }

// ExtensionType names an extension type: ipaddr or decimal.
type ExtensionType struct {
	Extension string
}

func (ExtensionType) isSchemaType() {}
func (t ExtensionType) Name() string { return t.Extension }

// AttrShape is the declared shape of one attribute or context field.
type AttrShape struct {
	Type     SchemaType
	Optional bool
}

// RecordShape is a set of named attribute shapes.
type RecordShape struct {
	Attributes map[string]AttrShape
}

// NewRecordShape creates an empty record shape.
func NewRecordShape() *RecordShape {
	return &RecordShape{Attributes: make(map[string]AttrShape)}
}

// EntityTypeDecl declares one entity type: which parent types it may be a
// member of, and its attribute shape.
type EntityTypeDecl struct {
	Name     string
	MemberOf []string // allowed parent entity types
	Shape    *RecordShape
}

// ActionDecl declares one action: which principal and resource types it
// applies to, and the shape of its request context.
type ActionDecl struct {
	Name       string
	Principals []string
	Resources  []string
	Context    *RecordShape
}

// Schema is a structured description of entity types, attribute shapes,
// and allowed (principal, action, resource) triples. Immutable once built
// from text by the schema parser.
type Schema struct {
	EntityTypes map[string]*EntityTypeDecl
	Actions     map[string]*ActionDecl
}

// NewSchema creates an empty schema.
func NewSchema() *Schema {
	return &Schema{
		EntityTypes: make(map[string]*EntityTypeDecl),
		Actions:     make(map[string]*ActionDecl),
	}
}

// GetEntityType returns the declaration for an entity type name.
func (s *Schema) GetEntityType(name string) *EntityTypeDecl {
	return s.EntityTypes[name]
}

// GetAction returns the declaration for an action name.
func (s *Schema) GetAction(name string) *ActionDecl {
	return s.Actions[name]
}

// IsActionUID reports whether a UID refers to an action entity, i.e. its
// type is Action or ends in ::Action.
func IsActionUID(uid EntityUID) bool {
	return uid.Type == "Action" || strings.HasSuffix(uid.Type, "::Action")
}

// CheckRecord checks a concrete record against the shape: required
// attributes present, declared types matched, no undeclared attributes.
// All findings are returned at once.
func (shape *RecordShape) CheckRecord(record Record, where string) []string {
	var findings []string

	for name, attr := range shape.Attributes {
		value, present := record[name]
		if !present {
			if !attr.Optional {
				findings = append(findings, fmt.Sprintf("%s: missing required attribute %q", where, name))
			}
			continue
		}
		if err := checkValueType(value, attr.Type); err != nil {
			findings = append(findings, fmt.Sprintf("%s: attribute %q: %v", where, name, err))
		}
	}

	for name := range record {
		if _, declared := shape.Attributes[name]; !declared {
			findings = append(findings, fmt.Sprintf("%s: undeclared attribute %q", where, name))
		}
	}
	return findings
}

// checkValueType checks a concrete value against a declared schema type.
func checkValueType(value Value, declared SchemaType) error {
	switch t := declared.(type) {
	case StringType:
		if _, ok := value.(String); !ok {
			return fmt.Errorf("expected String, got %s", value.TypeName())
		}
	case LongType:
		if _, ok := value.(Long); !ok {
			return fmt.Errorf("expected Long, got %s", value.TypeName())
		}
	case BoolType:
		if _, ok := value.(Boolean); !ok {
			return fmt.Errorf("expected Bool, got %s", value.TypeName())
		}
	case SetType:
		set, ok := value.(Set)
		if !ok {
			return fmt.Errorf("expected %s, got %s", t.Name(), value.TypeName())
		}
		for _, elem := range set {
			if err := checkValueType(elem, t.Element); err != nil {
				return fmt.Errorf("set element: %w", err)
			}
		}
	case RecordType:
		record, ok := value.(Record)
		if !ok {
			return fmt.Errorf("expected Record, got %s", value.TypeName())
		}
		if findings := t.Shape.CheckRecord(record, "record"); len(findings) > 0 {
			return fmt.Errorf("%s", strings.Join(findings, "; "))
		}
	case EntityRefType:
		entity, ok := value.(EntityValue)
		if !ok {
			return fmt.Errorf("expected entity %s, got %s", t.EntityType, value.TypeName())
		}
		if entity.UID.Type != t.EntityType {
			return fmt.Errorf("expected entity of type %s, got %s", t.EntityType, entity.UID.Type)
		}
	case ExtensionType:
		switch t.Extension {
		case "ipaddr":
			if _, ok := value.(IPAddr); !ok {
				return fmt.Errorf("expected ipaddr, got %s", value.TypeName())
			}
		case "decimal":
			if _, ok := value.(Decimal); !ok {
				return fmt.Errorf("expected decimal, got %s", value.TypeName())
			}
		default:
			return fmt.Errorf("unknown extension type %q", t.Extension)
		}
	default:
		return fmt.Errorf("unknown schema type %T", declared)
	}
	return nil
}
