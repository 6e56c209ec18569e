package recommend

import "encoding/json"

func GetRecommendSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {
				"type": "string",
				"description": "What the user is looking for, in their own words"
			},
			"session_id": {
				"type": "string",
				"description": "Session to continue; omit to start a new conversation"
			}
		},
		"required": ["query"]
	}`)
}

func GetRejectProductSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"session_id": {"type": "string", "description": "Session the rejection applies to"},
			"product_id": {"type": "string", "description": "Product the user does not want to see again"}
		},
		"required": ["session_id", "product_id"]
	}`)
}

func GetSessionIDSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"session_id": {"type": "string", "description": "Session identifier"}
		},
		"required": ["session_id"]
	}`)
}

func GetListSessionsSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"offset": {"type": "integer", "minimum": 0, "description": "Sessions to skip, most recent first"},
			"limit": {"type": "integer", "minimum": 1, "maximum": 100, "description": "Page size (default 20)"}
		}
	}`)
}

func GetTranslateFiltersSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"filters": {
				"type": "object",
				"description": "Filter set to translate",
				"properties": {
					"price_min": {"type": ["number", "null"]},
					"price_max": {"type": ["number", "null"]},
					"brand_include": {"type": "array", "items": {"type": "string"}},
					"brand_exclude": {"type": "array", "items": {"type": "string"}},
					"category": {"type": ["string", "null"]},
					"features": {"type": "array", "items": {"type": "string"}},
					"rating_min": {"type": ["number", "null"]}
				}
			}
		},
		"required": ["filters"]
	}`)
}

func GetIndexProductsSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"products": {
				"type": "array",
				"description": "Products to upsert into the vector store",
				"items": {
					"type": "object",
					"properties": {
						"id": {"type": "string"},
						"name": {"type": "string"},
						"brand": {"type": "string"},
						"category": {"type": "string"},
						"price": {"type": "number"},
						"rating": {"type": "number"},
						"features": {"type": "array", "items": {"type": "string"}},
						"description": {"type": "string"}
					},
					"required": ["id", "name"]
				}
			}
		},
		"required": ["products"]
	}`)
}
