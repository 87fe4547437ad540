// Package schema models tool parameter and return types as a closed set of
// primitive kinds plus recursive array/object kinds, and validates decoded
// JSON-like values against them.
package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"
)

// Kind is the tag of a Schema variant.
type Kind string

const (
	KindString  Kind = "string"
	KindNumber  Kind = "number"
	KindInteger Kind = "integer"
	KindBoolean Kind = "boolean"
	KindArray   Kind = "array"
	KindObject  Kind = "object"
	KindNull    Kind = "null"
	// KindAny accepts every value. It is used when a remote schema omits a type.
	KindAny Kind = "any"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindString, KindNumber, KindInteger, KindBoolean, KindArray, KindObject, KindNull, KindAny:
		return true
	}
	return false
}

// Schema describes the shape of one value. Items is only meaningful for
// KindArray; Properties, Required and AdditionalProperties only for KindObject.
// A Nullable schema also accepts null.
type Schema struct {
	Kind        Kind   `json:"type" yaml:"type" bson:"type"`
	Description string `json:"description,omitempty" yaml:"description,omitempty" bson:"description,omitempty"`
	Enum        []any  `json:"enum,omitempty" yaml:"enum,omitempty" bson:"enum,omitempty"`

	Items *Schema `json:"items,omitempty" yaml:"items,omitempty" bson:"items,omitempty"`

	Properties           map[string]*Schema `json:"properties,omitempty" yaml:"properties,omitempty" bson:"properties,omitempty"`
	Required             []string           `json:"required,omitempty" yaml:"required,omitempty" bson:"required,omitempty"`
	AdditionalProperties bool               `json:"additionalProperties,omitempty" yaml:"additionalProperties,omitempty" bson:"additionalProperties,omitempty"`

	Nullable bool `json:"nullable,omitempty" yaml:"nullable,omitempty" bson:"nullable,omitempty"`
}

// Issue is a single validation failure at a dotted path such as "filters[2].name".
type Issue struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (i Issue) String() string {
	if i.Path == "" {
		return i.Message
	}
	return i.Path + ": " + i.Message
}

// Check verifies that the schema itself is well formed.
func (s *Schema) Check() error {
	return s.check("")
}

func (s *Schema) check(path string) error {
	if s == nil {
		return nil
	}
	if !s.Kind.Valid() {
		return fmt.Errorf("%sunknown kind %q", prefix(path), s.Kind)
	}
	switch s.Kind {
	case KindArray:
		return s.Items.check(path + "[]")
	case KindObject:
		for _, r := range s.Required {
			if _, ok := s.Properties[r]; !ok && !s.AdditionalProperties {
				return fmt.Errorf("%srequired property %q is not declared", prefix(path), r)
			}
		}
		for name, p := range s.Properties {
			if err := p.check(join(path, name)); err != nil {
				return err
			}
		}
	}
	return nil
}

// Validate checks value against the schema and returns every issue found.
// Numeric strings are never coerced into numbers.
func (s *Schema) Validate(value any) []Issue {
	var issues []Issue
	s.validate("", value, &issues)
	return issues
}

// ValidateAt is Validate with a path prefix for the reported issues.
func (s *Schema) ValidateAt(path string, value any) []Issue {
	var issues []Issue
	s.validate(path, value, &issues)
	return issues
}

func (s *Schema) validate(path string, value any, issues *[]Issue) {
	if s == nil || s.Kind == KindAny || s.Kind == "" {
		return
	}

	fail := func(format string, args ...any) {
		*issues = append(*issues, Issue{Path: path, Message: fmt.Sprintf(format, args...)})
	}

	if value == nil && s.Nullable {
		// An enum still has to list null for null to pass.
		if len(s.Enum) > 0 && !inEnum(s.Enum, nil) {
			fail("value null is not one of %v", s.Enum)
		}
		return
	}

	switch s.Kind {
	case KindString:
		if _, ok := value.(string); !ok {
			fail("expected string, got %s", describe(value))
			return
		}
	case KindNumber:
		if _, ok := toFloat(value); !ok {
			fail("expected number, got %s", describe(value))
			return
		}
	case KindInteger:
		f, ok := toFloat(value)
		if !ok {
			fail("expected integer, got %s", describe(value))
			return
		}
		if f != math.Trunc(f) || math.IsInf(f, 0) {
			fail("expected integer, got fractional number %v", f)
			return
		}
	case KindBoolean:
		if _, ok := value.(bool); !ok {
			fail("expected boolean, got %s", describe(value))
			return
		}
	case KindNull:
		if value != nil {
			fail("expected null, got %s", describe(value))
		}
		return
	case KindArray:
		items, ok := toSlice(value)
		if !ok {
			fail("expected array, got %s", describe(value))
			return
		}
		for i, item := range items {
			s.Items.validate(fmt.Sprintf("%s[%d]", path, i), item, issues)
		}
	case KindObject:
		obj, ok := value.(map[string]any)
		if !ok {
			fail("expected object, got %s", describe(value))
			return
		}
		for _, r := range s.Required {
			if _, present := obj[r]; !present {
				*issues = append(*issues, Issue{Path: join(path, r), Message: "required property is missing"})
			}
		}
		for _, key := range sortedKeys(obj) {
			prop, declared := s.Properties[key]
			if !declared {
				if !s.AdditionalProperties {
					*issues = append(*issues, Issue{Path: join(path, key), Message: "property is not allowed"})
				}
				continue
			}
			prop.validate(join(path, key), obj[key], issues)
		}
	default:
		fail("unknown kind %q", s.Kind)
		return
	}

	if len(s.Enum) > 0 && !inEnum(s.Enum, value) {
		fail("value %v is not one of %v", value, s.Enum)
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func toSlice(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case []string:
		out := make([]any, len(s))
		for i := range s {
			out[i] = s[i]
		}
		return out, true
	}
	return nil, false
}

func inEnum(enum []any, v any) bool {
	for _, e := range enum {
		if reflect.DeepEqual(e, v) {
			return true
		}
		ef, eok := toFloat(e)
		vf, vok := toFloat(v)
		if eok && vok && ef == vf {
			return true
		}
	}
	return false
}

func describe(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	}
	if _, ok := toFloat(v); ok {
		return "number"
	}
	return fmt.Sprintf("%T", v)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func join(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}

func prefix(path string) string {
	if path == "" {
		return ""
	}
	return path + ": "
}

// FormatIssues renders issues as a single semicolon separated line.
func FormatIssues(issues []Issue) string {
	parts := make([]string, len(issues))
	for i, is := range issues {
		parts[i] = is.String()
	}
	return strings.Join(parts, "; ")
}
