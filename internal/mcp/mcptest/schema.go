package mcptest

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// SchemaFor reflects v's struct type into the inputSchema a tool server
// advertises. Fields without omitempty are required; properties keep the
// struct's field order.
func SchemaFor(v any) json.RawMessage {
	r := &jsonschema.Reflector{DoNotReference: true, ExpandedStruct: true}
	s := r.Reflect(v)
	s.Version = ""
	raw, err := json.Marshal(s)
	if err != nil {
		panic("mcptest: marshal schema: " + err.Error())
	}
	return raw
}
