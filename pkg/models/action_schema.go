package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

var actionConfigSchemas = map[ActionType]string{
	ActionAICall: `{
		"type": "object",
		"required": ["agent_id", "from_number_id"],
		"properties": {
			"agent_id": {"type": "string", "minLength": 1},
			"from_number_id": {"type": "string", "minLength": 1},
			"max_duration_seconds": {"type": "integer", "minimum": 1}
		},
		"additionalProperties": false
	}`,
	ActionWhatsAppMessage: `{
		"type": "object",
		"required": ["channel_id", "template_id"],
		"properties": {
			"channel_id": {"type": "string", "minLength": 1},
			"template_id": {"type": "string", "minLength": 1},
			"variables": {"type": "object", "additionalProperties": {"type": "string"}}
		},
		"additionalProperties": false
	}`,
	ActionEmail: `{
		"type": "object",
		"required": ["template_id"],
		"properties": {
			"template_id": {"type": "string", "minLength": 1},
			"from_address": {"type": "string", "format": "email"},
			"subject": {"type": "string"}
		},
		"additionalProperties": false
	}`,
	ActionWait: `{
		"type": "object",
		"required": ["duration_minutes"],
		"properties": {
			"duration_minutes": {"type": "integer", "minimum": 1}
		},
		"additionalProperties": false
	}`,
}

var compiledActionSchemas = compileActionSchemas()

func compileActionSchemas() map[ActionType]*gojsonschema.Schema {
	compiled := make(map[ActionType]*gojsonschema.Schema, len(actionConfigSchemas))

	for actionType, source := range actionConfigSchemas {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(source))
		if err != nil {
			panic(fmt.Sprintf("invalid config schema for %s: %v", actionType, err))
		}

		compiled[actionType] = schema
	}

	return compiled
}

// ActionConfigSchema returns the JSON Schema document describing the config of t.
func ActionConfigSchema(t ActionType) (map[string]any, bool) {
	source, ok := actionConfigSchemas[t]
	if !ok {
		return nil, false
	}

	var schema map[string]any
	if err := json.Unmarshal([]byte(source), &schema); err != nil {
		return nil, false
	}

	return schema, true
}

// DecodeActionConfig validates raw against the schema of t and decodes it into
// the matching config variant.
func DecodeActionConfig(t ActionType, raw json.RawMessage) (ActionConfig, error) {
	schema, ok := compiledActionSchemas[t]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownActionType, t)
	}

	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, ErrActionConfigRequired
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidActionConfig, err)
	}

	if !result.Valid() {
		messages := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			messages = append(messages, desc.String())
		}

		return nil, fmt.Errorf("%w: %s", ErrInvalidActionConfig, strings.Join(messages, "; "))
	}

	var config ActionConfig

	switch t {
	case ActionAICall:
		var c AICallConfig
		err = json.Unmarshal(raw, &c)
		config = c
	case ActionWhatsAppMessage:
		var c WhatsAppMessageConfig
		err = json.Unmarshal(raw, &c)
		config = c
	case ActionEmail:
		var c EmailConfig
		err = json.Unmarshal(raw, &c)
		config = c
	case ActionWait:
		var c WaitConfig
		err = json.Unmarshal(raw, &c)
		config = c
	}

	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidActionConfig, err)
	}

	return config, nil
}
