package conn

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/pam/pkg/models"
)

type frameSchemas struct {
	once    sync.Once
	initErr error
	inbound *jsonschema.Schema
}

var schemas frameSchemas

func initFrameSchemas() error {
	schemas.once.Do(func() {
		compiled, err := jsonschema.CompileString("reasoning_inbound", inboundFrameSchema)
		if err != nil {
			schemas.initErr = err
			return
		}
		schemas.inbound = compiled
	})
	return schemas.initErr
}

// DecodeInbound validates raw against the inbound frame schema and decodes it.
func DecodeInbound(raw []byte) (models.InboundFrame, error) {
	var frame models.InboundFrame
	if err := initFrameSchemas(); err != nil {
		return frame, err
	}
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return frame, fmt.Errorf("decode frame: %w", err)
	}
	if err := schemas.inbound.Validate(payload); err != nil {
		return frame, fmt.Errorf("invalid frame: %w", err)
	}
	if err := json.Unmarshal(raw, &frame); err != nil {
		return frame, fmt.Errorf("decode frame: %w", err)
	}
	return frame, nil
}

const inboundFrameSchema = `{
  "type": "object",
  "required": ["type"],
  "properties": {
    "type": { "type": "string", "minLength": 1 },
    "message": { "type": "string" },
    "error": { "type": "string" },
    "status": { "type": "string" },
    "actions": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["type"],
        "properties": {
          "type": { "type": "string", "minLength": 1 }
        },
        "additionalProperties": true
      }
    },
    "toolCalls": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["toolName"],
        "properties": {
          "toolName": { "type": "string", "minLength": 1 },
          "parameters": { "type": ["object", "null"] },
          "requestId": { "type": "string" }
        },
        "additionalProperties": true
      }
    }
  },
  "additionalProperties": true
}`
