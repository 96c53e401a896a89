package protocol

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

var inboundSchemas = mustCompileSchemas()

func mustCompileSchemas() map[string]*jsonschema.Schema {
	names := map[string]string{
		TypeBoxUpdate: "box_update.schema.json",
		TypeHeartbeat: "heartbeat.schema.json",
	}

	compiler := jsonschema.NewCompiler()
	for _, file := range names {
		data, err := schemaFS.ReadFile("schemas/" + file)
		if err != nil {
			panic(fmt.Sprintf("read embedded schema %s: %v", file, err))
		}
		if err := compiler.AddResource(file, bytes.NewReader(data)); err != nil {
			panic(fmt.Sprintf("add schema %s: %v", file, err))
		}
	}

	compiled := make(map[string]*jsonschema.Schema, len(names))
	for msgType, file := range names {
		compiled[msgType] = compiler.MustCompile(file)
	}
	return compiled
}

// ValidateInbound checks a raw frame against the schema for its type.
// Frames failing validation are dropped by the transport, never fatal.
func ValidateInbound(msgType string, raw []byte) error {
	schema, ok := inboundSchemas[msgType]
	if !ok {
		return fmt.Errorf("no schema for message type %q", msgType)
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parse %s frame: %w", msgType, err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("validate %s frame: %w", msgType, err)
	}
	return nil
}
