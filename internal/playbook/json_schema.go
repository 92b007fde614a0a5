package playbook

import (
	"encoding/json"
	"reflect"

	"github.com/invopop/jsonschema"
	"github.com/rxtech-lab/argo-playbook/internal/types"
)

// GenerateSchema generates a JSON schema for the playbook document, used by
// editor tooling and the config builder. Types whose document form differs
// from their Go shape (optional fields, the condition and effect shorthands)
// are mapped by hand.
func (c *Config) GenerateSchema() (*jsonschema.Schema, error) {
	reflector := jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		AllowAdditionalProperties:  false,
		Mapper: func(t reflect.Type) *jsonschema.Schema {
			switch t.String() {
			case "optional.Option[string]":
				return &jsonschema.Schema{
					Type: "string",
				}
			case "types.Timeframe":
				return timeframeSchema()
			case "expr.Condition":
				return conditionSchema()
			case "playbook.Variable":
				return variableSchema()
			case "playbook.ModifyEffect":
				return modifyEffectSchema()
			case "playbook.PartialCloseEffect":
				return partialCloseSchema()
			}

			return nil
		},
	}

	schema := reflector.Reflect(c)

	schema.Title = SchemaV1
	schema.Description = "Playbook document schema"
	schema.Version = "http://json-schema.org/draft-07/schema#"

	return schema, nil
}

// GenerateSchemaJSON generates the JSON schema as an indented string.
func (c *Config) GenerateSchemaJSON() (string, error) {
	schema, err := c.GenerateSchema()
	if err != nil {
		return "", err
	}

	schemaBytes, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return "", err
	}

	return string(schemaBytes), nil
}

func timeframeSchema() *jsonschema.Schema {
	timeframes := types.AllTimeframes()

	values := make([]any, 0, len(timeframes))
	for _, tf := range timeframes {
		values = append(values, string(tf))
	}

	return &jsonschema.Schema{
		Type: "string",
		Enum: values,
	}
}

// conditionSchema describes the single-key all/any combinator form.
func conditionSchema() *jsonschema.Schema {
	rule := ruleSchema()

	allProps := jsonschema.NewProperties()
	allProps.Set("all", &jsonschema.Schema{
		Type:        "array",
		Items:       rule,
		Description: "Satisfied when every rule is true. An empty list is false.",
	})

	anyProps := jsonschema.NewProperties()
	anyProps.Set("any", &jsonschema.Schema{
		Type:        "array",
		Items:       rule,
		Description: "Satisfied when at least one rule is true. An empty list is false.",
	})

	return &jsonschema.Schema{
		Title:       "Condition",
		Description: "Boolean combinator over comparison rules, a single-key mapping of all or any",
		OneOf: []*jsonschema.Schema{
			{
				Type:                 "object",
				Properties:           allProps,
				Required:             []string{"all"},
				AdditionalProperties: jsonschema.FalseSchema,
			},
			{
				Type:                 "object",
				Properties:           anyProps,
				Required:             []string{"any"},
				AdditionalProperties: jsonschema.FalseSchema,
			},
		},
	}
}

func ruleSchema() *jsonschema.Schema {
	props := jsonschema.NewProperties()
	props.Set("left", &jsonschema.Schema{Type: "string", Title: "Left expression"})
	props.Set("op", &jsonschema.Schema{
		Type:  "string",
		Title: "Operator",
		Enum:  []any{"<", ">", "<=", ">=", "==", "!="},
	})
	props.Set("right", &jsonschema.Schema{Type: "string", Title: "Right expression"})

	return &jsonschema.Schema{
		Title: "Rule",
		OneOf: []*jsonschema.Schema{
			{
				Type:        "string",
				Description: "Shorthand comparison, e.g. \"ind.m15_rsi.value < 30\"",
			},
			{
				Type:                 "object",
				Properties:           props,
				Required:             []string{"left", "op", "right"},
				AdditionalProperties: jsonschema.FalseSchema,
			},
		},
	}
}

func variableSchema() *jsonschema.Schema {
	props := jsonschema.NewProperties()
	props.Set("default", &jsonschema.Schema{Type: "number", Title: "Default value"})

	return &jsonschema.Schema{
		Title: "Variable",
		OneOf: []*jsonschema.Schema{
			{
				Type:        "number",
				Description: "Shorthand default value",
			},
			{
				Type:                 "object",
				Properties:           props,
				Required:             []string{"default"},
				AdditionalProperties: jsonschema.FalseSchema,
			},
		},
	}
}

func modifyEffectSchema() *jsonschema.Schema {
	props := jsonschema.NewProperties()
	props.Set("expr", &jsonschema.Schema{Type: "string", Title: "Expression"})

	return &jsonschema.Schema{
		Title: "Modify effect",
		OneOf: []*jsonschema.Schema{
			{
				Type:        "string",
				Description: "Shorthand expression form",
			},
			{
				Type:                 "object",
				Properties:           props,
				Required:             []string{"expr"},
				AdditionalProperties: jsonschema.FalseSchema,
			},
		},
	}
}

func partialCloseSchema() *jsonschema.Schema {
	props := jsonschema.NewProperties()
	props.Set("percent", &jsonschema.Schema{
		Type:    "number",
		Title:   "Percent",
		Minimum: json.Number("0"),
		Maximum: json.Number("100"),
	})

	return &jsonschema.Schema{
		Title: "Partial close",
		OneOf: []*jsonschema.Schema{
			{
				Type:        "number",
				Description: "Shorthand percent form",
			},
			{
				Type:                 "object",
				Properties:           props,
				Required:             []string{"percent"},
				AdditionalProperties: jsonschema.FalseSchema,
			},
		},
	}
}
