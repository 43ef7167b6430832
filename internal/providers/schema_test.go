package providers

import "testing"

func TestCleanSchemaForProviderStripsDollarSchema(t *testing.T) {
	in := map[string]interface{}{
		"$schema": "http://json-schema.org/draft-07/schema#",
		"type":    "object",
		"properties": map[string]interface{}{
			"when": map[string]interface{}{"type": "string", "format": "date-time"},
		},
	}
	out := CleanSchemaForProvider("openai", in)
	if _, ok := out["$schema"]; ok {
		t.Error("$schema should be removed")
	}
	props := out["properties"].(map[string]interface{})
	when := props["when"].(map[string]interface{})
	if _, ok := when["format"]; !ok {
		t.Error("format should survive for non-gemini providers")
	}
	// The input must not be mutated.
	if _, ok := in["$schema"]; !ok {
		t.Error("cleaning should copy, not mutate")
	}
}

func TestCleanSchemaForProviderGeminiFormat(t *testing.T) {
	in := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"when":  map[string]interface{}{"type": "string", "format": "date-time"},
			"count": map[string]interface{}{"type": "integer", "format": "int64"},
		},
	}
	out := CleanSchemaForProvider("openai-gemini", in)
	props := out["properties"].(map[string]interface{})
	when := props["when"].(map[string]interface{})
	if _, ok := when["format"]; ok {
		t.Error("string format should be stripped for gemini")
	}
	count := props["count"].(map[string]interface{})
	if _, ok := count["format"]; !ok {
		t.Error("non-string format should survive")
	}
}

func TestCleanToolSchemasShape(t *testing.T) {
	defs := []ToolDefinition{{
		Type: "function",
		Function: ToolFunctionSchema{
			Name:        "read",
			Description: "Read a file",
			Parameters: map[string]interface{}{
				"type":    "object",
				"$schema": "x",
			},
		},
	}}
	out := CleanToolSchemas("anthropic", defs)
	if len(out) != 1 {
		t.Fatalf("len = %d", len(out))
	}
	fn := out[0]["function"].(map[string]interface{})
	if fn["name"] != "read" || fn["description"] != "Read a file" {
		t.Errorf("function = %+v", fn)
	}
	params := fn["parameters"].(map[string]interface{})
	if _, ok := params["$schema"]; ok {
		t.Error("$schema should be scrubbed")
	}
}
