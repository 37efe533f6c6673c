package gateway

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/pam/pkg/models"
)

type wsSchemaRegistry struct {
	once    sync.Once
	initErr error
	frame   *jsonschema.Schema
	byType  map[models.FrameType]*jsonschema.Schema
}

var wsSchemas wsSchemaRegistry

func initWSSchemas() error {
	wsSchemas.once.Do(func() {
		frameSchema, err := jsonschema.CompileString("browser_frame", wsFrameSchema)
		if err != nil {
			wsSchemas.initErr = err
			return
		}
		wsSchemas.frame = frameSchema

		types := map[models.FrameType]string{
			models.FrameChat:       wsChatSchema,
			models.FrameContext:    wsContextSchema,
			models.FrameVoiceStart: wsEmptySchema,
			models.FrameVoiceStop:  wsEmptySchema,
		}
		wsSchemas.byType = make(map[models.FrameType]*jsonschema.Schema, len(types))
		for frameType, schema := range types {
			compiled, err := jsonschema.CompileString("browser_"+string(frameType), schema)
			if err != nil {
				wsSchemas.initErr = err
				return
			}
			wsSchemas.byType[frameType] = compiled
		}
	})
	return wsSchemas.initErr
}

// browserFrame is a text frame sent by the browser.
type browserFrame struct {
	Type        models.FrameType `json:"type"`
	Message     string           `json:"message,omitempty"`
	Region      string           `json:"region,omitempty"`
	CurrentPage string           `json:"current_page,omitempty"`
}

// decodeBrowserFrame validates raw against the envelope and per-type
// schemas and decodes it.
func decodeBrowserFrame(raw []byte) (browserFrame, error) {
	var frame browserFrame
	if err := initWSSchemas(); err != nil {
		return frame, err
	}
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return frame, err
	}
	if err := wsSchemas.frame.Validate(payload); err != nil {
		return frame, err
	}
	if err := json.Unmarshal(raw, &frame); err != nil {
		return frame, err
	}
	schema := wsSchemas.byType[frame.Type]
	if schema == nil {
		return frame, fmt.Errorf("unsupported frame type %q", frame.Type)
	}
	if err := schema.Validate(payload); err != nil {
		return frame, err
	}
	return frame, nil
}

const wsFrameSchema = `{
  "type": "object",
  "required": ["type"],
  "properties": {
    "type": { "type": "string", "minLength": 1 }
  }
}`

const wsChatSchema = `{
  "type": "object",
  "required": ["type", "message"],
  "properties": {
    "type": { "const": "chat" },
    "message": { "type": "string", "minLength": 1, "maxLength": 4000 }
  },
  "additionalProperties": false
}`

const wsContextSchema = `{
  "type": "object",
  "required": ["type"],
  "properties": {
    "type": { "const": "context" },
    "region": { "type": "string", "maxLength": 128 },
    "current_page": { "type": "string", "maxLength": 512 }
  },
  "additionalProperties": false
}`

const wsEmptySchema = `{
  "type": "object",
  "required": ["type"],
  "properties": {
    "type": { "type": "string" }
  },
  "additionalProperties": false
}`
