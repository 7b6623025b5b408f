package functions

import (
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
)

// Declaration is one entry of the tool catalog offered to the model.
type Declaration struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Parameters  *Schema `json:"parameters"`
}

// Schema is the subset of JSON schema understood by both upstream modes.
type Schema struct {
	Type        string             `json:"type"`
	Description string             `json:"description,omitempty"`
	Enum        []string           `json:"enum,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Required    []string           `json:"required,omitempty"`
}

// UpperCased returns a deep copy with every type name upper-cased, as the
// live protocol requires.
func (s *Schema) UpperCased() *Schema {
	return s.mapTypes(strings.ToUpper)
}

func (s *Schema) mapTypes(fn func(string) string) *Schema {
	if s == nil {
		return nil
	}
	out := &Schema{
		Type:        fn(s.Type),
		Description: s.Description,
		Enum:        append([]string(nil), s.Enum...),
		Items:       s.Items.mapTypes(fn),
		Required:    append([]string(nil), s.Required...),
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*Schema, len(s.Properties))
		for name, prop := range s.Properties {
			out.Properties[name] = prop.mapTypes(fn)
		}
	}
	return out
}

// UpperCased returns a copy of the declaration whose schema uses upper-case types.
func (d Declaration) UpperCased() Declaration {
	d.Parameters = d.Parameters.UpperCased()
	return d
}

var reflector = jsonschema.Reflector{
	DoNotReference: true,
}

// parametersFor reflects an argument struct into an object schema. Fields
// without omitempty are required.
func parametersFor(args any) *Schema {
	s := fromJSONSchema(reflector.Reflect(args))
	if s.Type == "" {
		s.Type = "object"
	}
	return s
}

func fromJSONSchema(js *jsonschema.Schema) *Schema {
	if js == nil {
		return nil
	}
	s := &Schema{
		Type:        js.Type,
		Description: js.Description,
		Items:       fromJSONSchema(js.Items),
	}
	if len(js.Required) > 0 {
		s.Required = append([]string(nil), js.Required...)
	}
	for _, e := range js.Enum {
		s.Enum = append(s.Enum, fmt.Sprint(e))
	}
	if js.Properties != nil && js.Properties.Len() > 0 {
		s.Properties = make(map[string]*Schema, js.Properties.Len())
		for pair := js.Properties.Oldest(); pair != nil; pair = pair.Next() {
			s.Properties[pair.Key] = fromJSONSchema(pair.Value)
		}
	}
	return s
}
