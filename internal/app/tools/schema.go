package tools

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// GenerateSchema derives the JSON Schema of T's fields, inlined and without
// $schema/$id so it can be handed verbatim to any model provider.
func GenerateSchema[T any]() json.RawMessage {
	r := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
		ExpandedStruct:            true,
	}
	var v T
	s := r.Reflect(v)
	s.Version = ""
	s.ID = ""

	raw, err := json.Marshal(s)
	if err != nil {
		// Reflected schemas of plain structs always marshal.
		panic(err)
	}
	return raw
}

// ParseSchema decodes a schema produced by GenerateSchema, keeping property order.
func ParseSchema(raw json.RawMessage) (*jsonschema.Schema, error) {
	var s jsonschema.Schema
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return &s, nil
}
