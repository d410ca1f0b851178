package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/santhosh-tekuri/jsonschema/v6/kind"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const messageSchemaURL = "https://schemas.omnirouter.dev/message.json"

// messageSchema is the wire contract for the payload field of both streams.
const messageSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["id", "channel", "direction", "conversationId", "from", "to", "timestamp"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "channel": {"enum": ["whatsapp", "email", "sms", "telegram", "instagram", "linkedin", "web", "voice"]},
    "direction": {"enum": ["in", "out"]},
    "conversationId": {"type": "string", "minLength": 1},
    "from": {"$ref": "#/$defs/contact"},
    "to": {"$ref": "#/$defs/contact"},
    "timestamp": {"type": "integer", "minimum": 0},
    "text": {"type": "string"},
    "media": {"$ref": "#/$defs/attachment"},
    "metadata": {"type": "object"}
  },
  "$defs": {
    "contact": {
      "type": "object",
      "required": ["id"],
      "properties": {
        "id": {"type": "string", "minLength": 1},
        "phone": {"type": "string"},
        "email": {"type": "string"},
        "displayName": {"type": "string"},
        "handles": {"type": "object", "additionalProperties": {"type": "string"}}
      }
    },
    "attachment": {
      "type": "object",
      "required": ["url", "mime"],
      "properties": {
        "url": {"type": "string", "format": "uri"},
        "mime": {"type": "string", "minLength": 1},
        "size": {"type": "integer", "exclusiveMinimum": 0},
        "caption": {"type": "string"}
      }
    }
  }
}`

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error

	printer = message.NewPrinter(language.English)
)

func loadSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(messageSchema))
		if err != nil {
			schemaErr = err
			return
		}
		c := jsonschema.NewCompiler()
		c.AssertFormat()
		if err := c.AddResource(messageSchemaURL, doc); err != nil {
			schemaErr = err
			return
		}
		compiledSchema, schemaErr = c.Compile(messageSchemaURL)
	})
	return compiledSchema, schemaErr
}

// validateFields checks a coerced message object against the schema and
// returns one Issue per failing leaf.
func validateFields(fields map[string]any) ([]Issue, error) {
	sch, err := loadSchema()
	if err != nil {
		return nil, err
	}

	// Round-trip through the schema library's decoder so numbers are
	// represented the way it expects.
	data, err := json.Marshal(fields)
	if err != nil {
		return []Issue{{Path: "message", Reason: err.Error()}}, nil
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return []Issue{{Path: "message", Reason: err.Error()}}, nil
	}

	err = sch.Validate(inst)
	if err == nil {
		return nil, nil
	}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return nil, err
	}

	var issues []Issue
	collectIssues(ve, &issues)
	if len(issues) == 0 {
		issues = append(issues, Issue{Path: "message", Reason: "does not match schema"})
	}
	return issues, nil
}

func collectIssues(ve *jsonschema.ValidationError, out *[]Issue) {
	if len(ve.Causes) > 0 {
		for _, cause := range ve.Causes {
			collectIssues(cause, out)
		}
		return
	}

	path := strings.Join(ve.InstanceLocation, ".")
	if req, ok := ve.ErrorKind.(*kind.Required); ok {
		for _, missing := range req.Missing {
			*out = append(*out, Issue{Path: joinPath(path, missing), Reason: "is required"})
		}
		return
	}
	if path == "" {
		path = "message"
	}
	*out = append(*out, Issue{Path: path, Reason: ve.ErrorKind.LocalizedString(printer)})
}

func joinPath(parent, field string) string {
	if parent == "" {
		return field
	}
	return parent + "." + field
}
