// Package apidoc registers the speechd OpenAPI document with swag so the
// swagger UI can serve it. Keep it in sync with the routes in httpapi.
package apidoc

import "github.com/swaggo/swag"

const docTemplate = `{
  "schemes": {{ marshal .Schemes }},
  "swagger": "2.0",
  "info": {
    "description": "{{escape .Description}}",
    "title": "{{.Title}}",
    "license": {"name": "MIT", "url": "https://opensource.org/licenses/MIT"},
    "version": "{{.Version}}"
  },
  "host": "{{.Host}}",
  "basePath": "{{.BasePath}}",
  "paths": {
    "/v1/models": {
      "get": {
        "summary": "List installed models",
        "parameters": [{"name": "task", "in": "query", "type": "string"}],
        "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.ModelsResponse"}}}
      }
    },
    "/v1/registry": {
      "get": {
        "summary": "List downloadable models",
        "parameters": [{"name": "task", "in": "query", "type": "string"}],
        "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.ModelsResponse"}}}
      }
    },
    "/v1/models/{id}": {
      "get": {
        "summary": "Get an installed model, downloading it when missing",
        "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
        "responses": {
          "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.Model"}},
          "404": {"description": "Unknown model", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
          "502": {"description": "Download failed", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
        }
      },
      "post": {
        "summary": "Download a model",
        "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
        "responses": {
          "200": {"description": "Downloaded", "schema": {"$ref": "#/definitions/types.DetailResponse"}},
          "201": {"description": "Already present", "schema": {"$ref": "#/definitions/types.DetailResponse"}},
          "404": {"description": "Unknown model", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
          "502": {"description": "Download failed", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
        }
      },
      "delete": {
        "summary": "Delete an installed model",
        "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
        "responses": {
          "200": {"description": "Deleted", "schema": {"$ref": "#/definitions/types.DetailResponse"}},
          "404": {"description": "Not installed", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
          "409": {"description": "Model is loaded", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
        }
      }
    },
    "/v1/audio/models": {
      "get": {
        "summary": "List installed speech synthesis models",
        "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.AudioModelsResponse"}}}
      }
    },
    "/v1/audio/voices": {
      "get": {
        "summary": "List voices of installed synthesis models",
        "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.VoicesResponse"}}}
      }
    },
    "/v1/loaded": {
      "get": {
        "summary": "List loaded models",
        "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.LoadedResponse"}}}
      }
    },
    "/v1/loaded/{family}/{id}": {
      "post": {
        "summary": "Load a model and arm its idle timer",
        "parameters": [
          {"name": "family", "in": "path", "required": true, "type": "string"},
          {"name": "id", "in": "path", "required": true, "type": "string"}
        ],
        "responses": {
          "200": {"description": "Loaded", "schema": {"$ref": "#/definitions/types.LoadedModel"}},
          "404": {"description": "Unknown family or model", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
          "500": {"description": "Load failed", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
        }
      },
      "delete": {
        "summary": "Unload a model",
        "parameters": [
          {"name": "family", "in": "path", "required": true, "type": "string"},
          {"name": "id", "in": "path", "required": true, "type": "string"}
        ],
        "responses": {
          "200": {"description": "Unloaded", "schema": {"$ref": "#/definitions/types.DetailResponse"}},
          "404": {"description": "Not loaded", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
          "409": {"description": "In use", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
        }
      }
    },
    "/v1/events": {
      "get": {
        "summary": "Recent lifecycle events",
        "parameters": [{"name": "limit", "in": "query", "type": "integer"}],
        "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.EventsResponse"}}}
      }
    },
    "/status": {
      "get": {
        "summary": "Loaded models and memory",
        "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/types.StatusResponse"}}}
      }
    }
  },
  "definitions": {
    "types.Model": {"type": "object", "properties": {
      "id": {"type": "string"}, "task": {"type": "string"}, "family": {"type": "string"},
      "path": {"type": "string"}, "size_bytes": {"type": "integer"}, "size": {"type": "string"},
      "language": {"type": "string"}}},
    "types.ModelsResponse": {"type": "object", "properties": {
      "data": {"type": "array", "items": {"$ref": "#/definitions/types.Model"}}, "object": {"type": "string"}}},
    "types.AudioModelsResponse": {"type": "object", "properties": {
      "models": {"type": "array", "items": {"$ref": "#/definitions/types.Model"}}, "object": {"type": "string"}}},
    "types.Voice": {"type": "object", "properties": {
      "model_id": {"type": "string"}, "voice_id": {"type": "string"}, "language": {"type": "string"},
      "sample_rate": {"type": "integer"}, "quality": {"type": "string"}}},
    "types.VoicesResponse": {"type": "object", "properties": {
      "voices": {"type": "array", "items": {"$ref": "#/definitions/types.Voice"}}, "object": {"type": "string"}}},
    "types.ErrorResponse": {"type": "object", "properties": {"error": {"type": "string"}, "code": {"type": "integer"}}},
    "types.DetailResponse": {"type": "object", "properties": {"detail": {"type": "string"}}},
    "types.LoadedModel": {"type": "object", "properties": {
      "family": {"type": "string"}, "model_id": {"type": "string"}, "loaded": {"type": "boolean"},
      "loading": {"type": "boolean"}, "ref_count": {"type": "integer"}, "loaded_at_unix": {"type": "integer"},
      "idle_since_unix": {"type": "integer"}, "expires_at_unix": {"type": "integer"}, "ttl_seconds": {"type": "integer"}}},
    "types.LoadedResponse": {"type": "object", "properties": {
      "models": {"type": "array", "items": {"$ref": "#/definitions/types.LoadedModel"}}}},
    "types.EventRecord": {"type": "object", "properties": {
      "id": {"type": "string"}, "time_unix": {"type": "integer"}, "family": {"type": "string"},
      "name": {"type": "string"}, "model_id": {"type": "string"}, "fields": {"type": "object"}}},
    "types.EventsResponse": {"type": "object", "properties": {
      "events": {"type": "array", "items": {"$ref": "#/definitions/types.EventRecord"}}}},
    "types.MemoryStatus": {"type": "object", "properties": {
      "total_mb": {"type": "integer"}, "used_mb": {"type": "integer"}, "used_percent": {"type": "number"},
      "process_rss_mb": {"type": "integer"}}},
    "types.EngineStatus": {"type": "object", "properties": {
      "family": {"type": "string"}, "bin": {"type": "string"}, "found": {"type": "boolean"},
      "path": {"type": "string"}, "providers": {"type": "array", "items": {"type": "string"}},
      "error": {"type": "string"}}},
    "types.StatusResponse": {"type": "object", "properties": {
      "models": {"type": "array", "items": {"$ref": "#/definitions/types.LoadedModel"}},
      "engines": {"type": "array", "items": {"$ref": "#/definitions/types.EngineStatus"}},
      "memory": {"$ref": "#/definitions/types.MemoryStatus"}, "uptime_seconds": {"type": "integer"},
      "server_time_unix": {"type": "integer"}, "error": {"type": "string"}}}
  }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{"http"},
	Title:            "speechd API",
	Description:      "Admin API for on-demand speech model loading and idle eviction.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
