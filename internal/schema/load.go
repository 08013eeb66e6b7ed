package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// Format selects the encoding of a definition file.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// Definition is the on-disk form of a schema: the field forest plus the optional
// name of the group that drives row generation.
type Definition struct {
	Name      string  `json:"name,omitempty"`
	RowsField string  `json:"rows_field,omitempty"`
	Fields    []Field `json:"fields"`
}

const definitionMetaSchema = `{
  "type": "object",
  "required": ["fields"],
  "properties": {
    "name": {"type": "string"},
    "rows_field": {"type": "string"},
    "fields": {"type": "array", "items": {"$ref": "#/$defs/field"}}
  },
  "$defs": {
    "field": {
      "type": "object",
      "required": ["name", "type"],
      "properties": {
        "name": {"type": "string"},
        "type": {"enum": ["string", "number", "array", "group"]},
        "fields": {"type": "array", "items": {"$ref": "#/$defs/field"}}
      }
    }
  }
}`

var definitionSchema = jsonschema.MustCompileString("schema-definition.json", definitionMetaSchema)

// FormatFromPath guesses the format from a file extension; anything but .yaml/.yml is JSON.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// Load reads and parses a definition file.
func Load(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema file: %w", err)
	}
	def, err := Parse(data, FormatFromPath(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return def, nil
}

// Parse decodes a definition. A bare array of fields is accepted as shorthand for
// {"fields": [...]}. The document shape is checked first, then the field tree is validated.
func Parse(data []byte, format Format) (*Definition, error) {
	raw, err := normalize(data, format)
	if err != nil {
		return nil, err
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode schema definition: %w", err)
	}
	if list, ok := doc.([]any); ok {
		doc = map[string]any{"fields": list}
		if raw, err = json.Marshal(doc); err != nil {
			return nil, fmt.Errorf("encode schema definition: %w", err)
		}
	}
	if err := definitionSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("invalid schema definition: %w", err)
	}

	var def Definition
	if err := json.Unmarshal(raw, &def); err != nil {
		return nil, fmt.Errorf("decode schema definition: %w", err)
	}
	if err := Validate(def.Fields); err != nil {
		return nil, err
	}
	if def.RowsField != "" {
		f, ok := Lookup(def.Fields, def.RowsField)
		if !ok || !f.IsGroup() {
			return nil, fmt.Errorf("rows_field %q is not a top-level group", def.RowsField)
		}
	}
	return &def, nil
}

// normalize converts YAML input to JSON so both formats share one decode path.
func normalize(data []byte, format Format) ([]byte, error) {
	switch format {
	case FormatJSON, "":
		return bytes.TrimSpace(data), nil
	case FormatYAML:
		var v any
		if err := yaml.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("parse yaml schema: %w", err)
		}
		out, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("convert yaml schema: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported schema format %q", format)
	}
}
