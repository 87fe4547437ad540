package schema

// FromJSONSchema converts a decoded JSON Schema document, as advertised by a
// remote server's tool listing, into a Schema. Unsupported keywords are
// ignored; a missing type is inferred from properties/items or becomes KindAny.
func FromJSONSchema(doc map[string]any) *Schema {
	if doc == nil {
		return &Schema{Kind: KindAny}
	}

	kind, nullable := jsonKind(doc)
	s := &Schema{Kind: kind, Nullable: nullable && kind != KindNull}
	if d, ok := doc["description"].(string); ok {
		s.Description = d
	}
	if enum, ok := doc["enum"].([]any); ok {
		s.Enum = enum
	}

	switch s.Kind {
	case KindArray:
		if items, ok := doc["items"].(map[string]any); ok {
			s.Items = FromJSONSchema(items)
		}
	case KindObject:
		if props, ok := doc["properties"].(map[string]any); ok {
			s.Properties = make(map[string]*Schema, len(props))
			for name, raw := range props {
				if p, ok := raw.(map[string]any); ok {
					s.Properties[name] = FromJSONSchema(p)
				} else {
					s.Properties[name] = &Schema{Kind: KindAny}
				}
			}
		}
		s.Required = stringList(doc["required"])
		// JSON Schema allows undeclared properties unless told otherwise.
		s.AdditionalProperties = true
		if ap, ok := doc["additionalProperties"].(bool); ok {
			s.AdditionalProperties = ap
		}
	}
	return s
}

// ToJSONSchema is the inverse of FromJSONSchema for the supported subset.
func (s *Schema) ToJSONSchema() map[string]any {
	if s == nil || s.Kind == KindAny || s.Kind == "" {
		return map[string]any{}
	}
	doc := map[string]any{"type": string(s.Kind)}
	if s.Nullable && s.Kind != KindNull {
		doc["type"] = []any{string(s.Kind), string(KindNull)}
	}
	if s.Description != "" {
		doc["description"] = s.Description
	}
	if len(s.Enum) > 0 {
		doc["enum"] = s.Enum
	}
	if s.Kind == KindArray && s.Items != nil {
		doc["items"] = s.Items.ToJSONSchema()
	}
	if s.Kind == KindObject {
		props := make(map[string]any, len(s.Properties))
		for name, p := range s.Properties {
			props[name] = p.ToJSONSchema()
		}
		doc["properties"] = props
		if len(s.Required) > 0 {
			doc["required"] = s.Required
		}
		doc["additionalProperties"] = s.AdditionalProperties
	}
	return doc
}

// jsonKind reports the kind of doc and whether null is also allowed. A
// ["string", "null"] union is a nullable string; unions of several non-null
// kinds become KindAny.
func jsonKind(doc map[string]any) (Kind, bool) {
	switch t := doc["type"].(type) {
	case string:
		if k := Kind(t); k.Valid() {
			return k, false
		}
		return KindAny, false
	case []any:
		var (
			kinds    []Kind
			nullable bool
		)
		for _, v := range t {
			name, ok := v.(string)
			switch {
			case !ok || !Kind(name).Valid():
				return KindAny, false
			case Kind(name) == KindNull:
				nullable = true
			default:
				kinds = append(kinds, Kind(name))
			}
		}
		switch len(kinds) {
		case 0:
			if nullable {
				return KindNull, false
			}
			return KindAny, false
		case 1:
			return kinds[0], nullable
		}
		return KindAny, false
	}
	if _, ok := doc["properties"]; ok {
		return KindObject, false
	}
	if _, ok := doc["items"]; ok {
		return KindArray, false
	}
	return KindAny, false
}

func stringList(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
