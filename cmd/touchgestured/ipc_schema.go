package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const ipcSchemaURL = "touchgestured://ipc/request.schema.json"

// ipcRequestSchema rejects malformed envelopes before they reach the
// request decoder, so clients get a precise error message.
const ipcRequestSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["type"],
  "additionalProperties": false,
  "properties": {
    "type": {
      "enum": ["inject_gesture", "status", "gestures", "get_gesture", "set_gesture",
               "set_haptic", "set_proximity_on_wake", "set_high_touch", "components"]
    },
    "data": {"type": "object"}
  },
  "allOf": [
    {
      "if": {"properties": {"type": {"const": "inject_gesture"}}},
      "then": {
        "required": ["data"],
        "properties": {"data": {
          "required": ["scancode"],
          "additionalProperties": false,
          "properties": {"scancode": {"type": "integer", "minimum": 0, "maximum": 767}}
        }}
      }
    },
    {
      "if": {"properties": {"type": {"enum": ["get_gesture", "set_gesture"]}}},
      "then": {
        "required": ["data"],
        "properties": {"data": {
          "required": ["key"],
          "properties": {"key": {"type": "string", "minLength": 1}}
        }}
      }
    },
    {
      "if": {"properties": {"type": {"enum": ["set_gesture", "set_haptic", "set_proximity_on_wake", "set_high_touch"]}}},
      "then": {
        "required": ["data"],
        "properties": {"data": {
          "required": ["enabled"],
          "properties": {"enabled": {"type": "boolean"}}
        }}
      }
    }
  ]
}`

// RequestValidator checks raw IPC lines against the request schema.
type RequestValidator struct {
	schema *jsonschema.Schema
}

func NewRequestValidator() (*RequestValidator, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource(ipcSchemaURL, strings.NewReader(ipcRequestSchema)); err != nil {
		return nil, fmt.Errorf("add ipc schema: %w", err)
	}
	schema, err := compiler.Compile(ipcSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile ipc schema: %w", err)
	}
	return &RequestValidator{schema: schema}, nil
}

// Validate returns a descriptive error when line is not a valid request.
func (v *RequestValidator) Validate(line []byte) error {
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()
	var instance any
	if err := dec.Decode(&instance); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	if err := v.schema.Validate(instance); err != nil {
		return fmt.Errorf("invalid request: %w", err)
	}
	return nil
}
