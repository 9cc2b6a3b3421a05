// Package apidocs registers the OpenAPI description served under /swagger/.
package apidocs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "license": {
            "name": "MIT",
            "url": "https://opensource.org/licenses/MIT"
        },
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/predictions": {
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["predictions"],
                "summary": "Generate images",
                "parameters": [
                    {
                        "in": "body",
                        "name": "request",
                        "required": true,
                        "schema": {"$ref": "#/definitions/types.PredictionRequest"}
                    }
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.PredictionResponse"}},
                    "400": {"description": "Invalid input or size limit", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "415": {"description": "Unsupported Media Type", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "422": {"description": "Every output was filtered", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "429": {"description": "Too Many Requests", "schema": {"$ref": "#/definitions/types.ErrorResponse"}},
                    "503": {"description": "Pipeline not loaded", "schema": {"$ref": "#/definitions/types.ErrorResponse"}}
                }
            }
        },
        "/samplers": {
            "get": {
                "produces": ["application/json"],
                "tags": ["predictions"],
                "summary": "List accepted sampler names",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.SamplersResponse"}}
                }
            }
        },
        "/status": {
            "get": {
                "produces": ["application/json"],
                "tags": ["status"],
                "summary": "Engine status",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/types.StatusResponse"}}
                }
            }
        },
        "/healthz": {
            "get": {"tags": ["status"], "summary": "Liveness", "responses": {"200": {"description": "ok"}}}
        },
        "/readyz": {
            "get": {
                "tags": ["status"],
                "summary": "Readiness",
                "responses": {"200": {"description": "ready"}, "503": {"description": "loading"}}
            }
        }
    },
    "definitions": {
        "types.PredictionInput": {
            "type": "object",
            "properties": {
                "prompt": {"type": "string", "example": "an astronaut riding a horse on mars"},
                "negative_prompt": {"type": "string"},
                "width": {"type": "integer", "example": 768},
                "height": {"type": "integer", "example": 768},
                "num_outputs": {"type": "integer", "example": 1},
                "num_inference_steps": {"type": "integer", "example": 50},
                "guidance_scale": {"type": "number", "example": 7.5},
                "scheduler": {
                    "type": "string",
                    "enum": ["PNDM", "KLMS", "DDIM", "K_EULER", "K_EULER_ANCESTRAL", "DPMSolverMultistep"],
                    "example": "K_EULER"
                },
                "seed": {"type": "integer", "example": 4242},
                "image": {"type": "string", "description": "Base64 encoded initial image"},
                "strength": {"type": "number", "example": 0.8}
            }
        },
        "types.PredictionRequest": {
            "type": "object",
            "properties": {"input": {"$ref": "#/definitions/types.PredictionInput"}}
        },
        "types.PredictionResponse": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "output": {"type": "array", "items": {"type": "string"}},
                "seed": {"type": "integer"}
            }
        },
        "types.SamplersResponse": {
            "type": "object",
            "properties": {
                "samplers": {"type": "array", "items": {"type": "string"}},
                "default": {"type": "string"}
            }
        },
        "types.VariantStatus": {
            "type": "object",
            "properties": {
                "mode": {"type": "string"},
                "sampler": {"type": "string"},
                "queue_len": {"type": "integer"},
                "inflight": {"type": "integer"},
                "max_queue_depth": {"type": "integer"}
            }
        },
        "types.StatusResponse": {
            "type": "object",
            "properties": {
                "state": {"type": "string"},
                "device": {"type": "string"},
                "model_id": {"type": "string"},
                "safety_model_id": {"type": "string"},
                "safety_filter": {"type": "boolean"},
                "variants": {"type": "array", "items": {"$ref": "#/definitions/types.VariantStatus"}},
                "uptime_seconds": {"type": "integer"},
                "server_time_unix": {"type": "integer"},
                "predictions_total": {"type": "integer"},
                "filtered_total": {"type": "integer"},
                "last_error": {"type": "string"}
            }
        },
        "types.ErrorResponse": {
            "type": "object",
            "properties": {
                "error": {"type": "string"},
                "code": {"type": "integer"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{"http"},
	Title:            "diffusiond API",
	Description:      "HTTP API for text-to-image and image-to-image generation on a provisioned diffusion pipeline.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
