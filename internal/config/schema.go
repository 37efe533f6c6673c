package config

import (
	"encoding/json"
	"sync"

	"github.com/invopop/jsonschema"
)

// JSONSchema describes pam.yaml. Property names follow the yaml tags and
// unknown keys are rejected, matching Load.
var JSONSchema = sync.OnceValues(func() ([]byte, error) {
	reflector := jsonschema.Reflector{
		FieldNameTag:               "yaml",
		RequiredFromJSONSchemaTags: true,
	}
	schema := reflector.Reflect(new(Config))
	schema.Title = "PAM bridge configuration"
	schema.Description = "Gateway, reasoning engine, speech, tool execution, storage, usage and observability settings."
	return json.MarshalIndent(schema, "", "  ")
})
