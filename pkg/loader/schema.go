package loader

// FlowSchema is the JSON schema for flow definition documents
const FlowSchema = `
{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["flow", "nodes"],
  "additionalProperties": false,
  "properties": {
    "flow": {
      "type": "object",
      "required": ["id"],
      "properties": {
        "id": {"type": "string", "minLength": 1},
        "bot_id": {"type": "string"},
        "name": {"type": "string"},
        "description": {"type": "string"}
      }
    },
    "nodes": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["id", "category", "type"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "category": {
            "type": "string",
            "enum": ["trigger", "condition", "action", "response", "integration", "ai", "flow_control", "validation", "advanced"]
          },
          "type": {"type": "string", "minLength": 1},
          "title": {"type": "string"},
          "start": {"type": "boolean"},
          "end": {"type": "boolean"},
          "enabled": {"type": "boolean"},
          "config": {"type": "object"}
        }
      }
    },
    "edges": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["from", "to"],
        "properties": {
          "id": {"type": "string"},
          "from": {"type": "string", "minLength": 1},
          "to": {"type": "string", "minLength": 1},
          "label": {"type": "string"},
          "condition": {"type": "string"},
          "kind": {
            "type": "string",
            "enum": ["conditional", "success", "default", "error", "timeout"]
          },
          "order": {"type": "integer"},
          "enabled": {"type": "boolean"}
        }
      }
    }
  }
}
`
