package entities

import (
	"fmt"
	"strings"
)

// EntityUID is a typed entity identifier.
// Example: User::"alice" has type "User" and id "alice".
// Type names may be namespace-qualified, e.g. App::Accounts::User.
type EntityUID struct {
	Type string // Entity type (e.g., "User", "App::User")
	ID   string // Unique name within the type (e.g., "alice")
}

// NewEntityUID creates an EntityUID from a type and an id.
func NewEntityUID(entityType, id string) EntityUID {
	return EntityUID{Type: entityType, ID: id}
}

// ParseEntityUID parses the textual form Type::"name".
func ParseEntityUID(s string) (EntityUID, error) {
	s = strings.TrimSpace(s)

	// The separator is the :: immediately before the opening quote, so
	// ids containing :: parse correctly.
	qi := strings.Index(s, `"`)
	if qi < 0 {
		return EntityUID{}, fmt.Errorf("invalid entity UID %q: entity id must be quoted", s)
	}
	if qi < 2 || s[qi-2:qi] != "::" {
		return EntityUID{}, fmt.Errorf("invalid entity UID %q: missing '::' before entity id", s)
	}

	typeName := s[:qi-2]
	idPart := s[qi:]

	if err := validateTypePath(typeName); err != nil {
		return EntityUID{}, fmt.Errorf("invalid entity UID %q: %w", s, err)
	}

	id, err := unquoteEntityID(idPart)
	if err != nil {
		return EntityUID{}, fmt.Errorf("invalid entity UID %q: %w", s, err)
	}

	return EntityUID{Type: typeName, ID: id}, nil
}

// String renders the UID in its textual form Type::"name".
func (u EntityUID) String() string {
	return u.Type + `::"` + escapeEntityID(u.ID) + `"`
}

// Equal reports structural equality of two UIDs.
func (u EntityUID) Equal(other EntityUID) bool {
	return u.Type == other.Type && u.ID == other.ID
}

// IsZero reports whether the UID is the zero value.
func (u EntityUID) IsZero() bool {
	return u.Type == "" && u.ID == ""
}

// validateTypePath checks that a type name is a valid (possibly
// namespace-qualified) identifier path like App::Accounts::User.
func validateTypePath(path string) error {
	if path == "" {
		return fmt.Errorf("empty type name")
	}
	for _, segment := range strings.Split(path, "::") {
		if !isValidIdent(segment) {
			return fmt.Errorf("invalid type name segment %q", segment)
		}
	}
	return nil
}

// isValidIdent checks if s is a valid identifier (letter or underscore
// followed by letters, digits, or underscores).
func isValidIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, ch := range s {
		if ch == '_' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') {
			continue
		}
		if i > 0 && ch >= '0' && ch <= '9' {
			continue
		}
		return false
	}
	return true
}

// unquoteEntityID strips surrounding quotes and resolves escape sequences.
func unquoteEntityID(s string) (string, error) {
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return "", fmt.Errorf("entity id must be a quoted string, got %q", s)
	}
	body := s[1 : len(s)-1]

	var sb strings.Builder
	for i := 0; i < len(body); i++ {
		ch := body[i]
		if ch == '"' {
			return "", fmt.Errorf("unescaped quote in entity id %q", s)
		}
		if ch != '\\' {
			sb.WriteByte(ch)
			continue
		}
		i++
		if i >= len(body) {
			return "", fmt.Errorf("trailing backslash in entity id %q", s)
		}
		switch body[i] {
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
		default:
			return "", fmt.Errorf("unknown escape sequence '\\%c' in entity id %q", body[i], s)
		}
	}
	return sb.String(), nil
}

// escapeEntityID escapes characters that need escaping in the quoted form.
func escapeEntityID(id string) string {
	var sb strings.Builder
	for i := 0; i < len(id); i++ {
		switch id[i] {
		case '"':
			sb.WriteString(`\"`)
		case '\\':
			sb.WriteString(`\\`)
		case '\n':
			sb.WriteString(`\n`)
		case '\r':
			sb.WriteString(`\r`)
		case '\t':
			sb.WriteString(`\t`)
		case 0:
			sb.WriteString(`\0`)
		default:
			sb.WriteByte(id[i])
		}
	}
	return sb.String()
}
