package providers

import "strings"

// CleanToolSchemas prepares tool definitions for a provider's wire format,
// scrubbing schema keywords the target rejects.
func CleanToolSchemas(provider string, defs []ToolDefinition) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(defs))
	for _, d := range defs {
		out = append(out, map[string]interface{}{
			"type": "function",
			"function": map[string]interface{}{
				"name":        d.Function.Name,
				"description": d.Function.Description,
				"parameters":  CleanSchemaForProvider(provider, d.Function.Parameters),
			},
		})
	}
	return out
}

// CleanSchemaForProvider deep-copies a JSON schema and removes keywords the
// named provider's validator rejects. Gemini-fronted endpoints choke on
// "format" for string properties and on "$schema".
func CleanSchemaForProvider(provider string, schema map[string]interface{}) map[string]interface{} {
	gemini := strings.Contains(strings.ToLower(provider), "gemini")
	return cleanSchemaValue(schema, gemini).(map[string]interface{})
}

func cleanSchemaValue(v interface{}, gemini bool) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		isString := val["type"] == "string"
		for k, sub := range val {
			if k == "$schema" {
				continue
			}
			if gemini && k == "format" && isString {
				continue
			}
			out[k] = cleanSchemaValue(sub, gemini)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, sub := range val {
			out[i] = cleanSchemaValue(sub, gemini)
		}
		return out
	default:
		return v
	}
}
