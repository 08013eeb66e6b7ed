// Package contract turns a field schema into the JSON Schema object handed to the
// extraction service as function-call parameters.
package contract

import (
	"encoding/json"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/joseph-ayodele/schema-extractor/internal/schema"
)

const (
	FunctionName        = "invoice_data_extraction"
	FunctionDescription = "Extract structured data from invoice text"
)

// Property is one entry of an object's properties map.
type Property struct {
	Type        string  `json:"type"`
	Description string  `json:"description,omitempty"`
	Items       *Object `json:"items,omitempty"`
}

// Object is a JSON Schema object whose properties keep schema order when encoded.
type Object struct {
	Type       string                                    `json:"type"`
	Properties *orderedmap.OrderedMap[string, *Property] `json:"properties"`
	Required   []string                                  `json:"required"`
}

// Contract is the compiled parameters object.
type Contract struct {
	Object
}

// Function is the function-call definition sent alongside the prompt.
type Function struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Parameters  *Contract `json:"parameters"`
}

// Compile builds the contract for an already validated schema. Every name is required
// at its level and properties appear in schema order, so equal schemas encode to equal bytes.
func Compile(fields []schema.Field) *Contract {
	return &Contract{Object: compileObject(fields, topLevelDescription)}
}

// Function wraps the contract in the fixed function-call definition.
func (c *Contract) Function() Function {
	return Function{
		Name:        FunctionName,
		Description: FunctionDescription,
		Parameters:  c,
	}
}

// JSON encodes the contract. Encoding cannot fail for compiled contracts.
func (c *Contract) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}

func compileObject(fields []schema.Field, describe func(string) string) Object {
	obj := Object{
		Type:       "object",
		Properties: orderedmap.New[string, *Property](),
		Required:   make([]string, 0, len(fields)),
	}
	for _, f := range fields {
		obj.Properties.Set(f.Name, compileField(f, describe))
		obj.Required = append(obj.Required, f.Name)
	}
	return obj
}

func compileField(f schema.Field, describe func(string) string) *Property {
	if f.IsGroup() {
		items := compileObject(f.Children, itemDescription)
		return &Property{
			Type:        "array",
			Description: "Array of " + f.Name,
			Items:       &items,
		}
	}
	return &Property{Type: f.Kind.String(), Description: describe(f.Name)}
}

func topLevelDescription(name string) string { return name + " from the document" }

func itemDescription(name string) string { return name + " of the item" }
