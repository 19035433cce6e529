package llm

// Schema declares the structured output shape for one call site. It is
// rendered as a strict JSON schema in the request; Required names are
// also checked against the decoded response before it reaches the caller.
type Schema struct {
	Name       string
	Properties map[string]Property
	Required   []string
}

// Property is one field of a structured output shape.
type Property struct {
	Type        string // "string", "boolean", "integer", "number", "array"
	Description string
	Items       *Property // element type when Type == "array"
}

// jsonSchema renders the schema as an OpenAI-style strict JSON schema map.
func (s Schema) jsonSchema() map[string]any {
	props := make(map[string]any, len(s.Properties))
	for name, p := range s.Properties {
		props[name] = p.jsonSchema()
	}
	return map[string]any{
		"type":                 "object",
		"properties":           props,
		"required":             s.Required,
		"additionalProperties": false,
	}
}

func (p Property) jsonSchema() map[string]any {
	m := map[string]any{"type": p.Type}
	if p.Description != "" {
		m["description"] = p.Description
	}
	if p.Type == "array" && p.Items != nil {
		m["items"] = p.Items.jsonSchema()
	}
	return m
}
