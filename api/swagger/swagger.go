package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Mentor Scoring API",
        "description": "Composite scoring and ranking sessions for mentorship projects",
        "version": "1.0.0"
    },
    "basePath": "/",
    "schemes": [
        "http"
    ],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "security": [{"BearerAuth": []}],
    "tags": [
        {"name": "Scoring", "description": "Scoring policy and session lifecycle"},
        {"name": "Rankings", "description": "Ranked students, groups and exports"}
    ],
    "paths": {
        "/health": {
            "get": {
                "summary": "Health check",
                "security": [],
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/ready": {
            "get": {
                "summary": "Readiness check",
                "security": [],
                "responses": {
                    "200": {"description": "Ready"},
                    "503": {"description": "A dependency is unreachable"}
                }
            }
        },
        "/api/v1/projects/{projectId}/scoring/policy": {
            "get": {
                "tags": ["Scoring"],
                "summary": "Current scoring policy",
                "parameters": [{"$ref": "#/parameters/projectId"}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            },
            "put": {
                "tags": ["Scoring"],
                "summary": "Replace the scoring policy and recompute",
                "parameters": [
                    {"$ref": "#/parameters/projectId"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ScoringPolicy"}}
                ],
                "responses": {
                    "200": {"description": "Snapshot after recompute", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Invalid policy", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/projects/{projectId}/scoring/load": {
            "post": {
                "tags": ["Scoring"],
                "summary": "Load raw scores",
                "description": "A degraded load empties the rankings and sets meta.warning.",
                "parameters": [{"$ref": "#/parameters/projectId"}],
                "responses": {"200": {"description": "Load outcome", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/api/v1/projects/{projectId}/scoring/refresh": {
            "post": {
                "tags": ["Scoring"],
                "summary": "Re-aggregate group contributions",
                "parameters": [
                    {"$ref": "#/parameters/projectId"},
                    {"name": "payload", "in": "body", "required": false, "schema": {"$ref": "#/definitions/RefreshRequest"}}
                ],
                "responses": {
                    "200": {"description": "Snapshot after recompute", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "503": {"description": "Stage hierarchy unavailable", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/projects/{projectId}/scoring/recompute": {
            "post": {
                "tags": ["Scoring"],
                "summary": "Recompute rankings",
                "parameters": [{"$ref": "#/parameters/projectId"}],
                "responses": {"200": {"description": "Snapshot", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/api/v1/projects/{projectId}/scoring/publish": {
            "post": {
                "tags": ["Scoring"],
                "summary": "Publish the ranking",
                "description": "Idempotent. meta.already_published is true on repeated calls.",
                "parameters": [{"$ref": "#/parameters/projectId"}],
                "responses": {
                    "200": {"description": "Publication state", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "502": {"description": "Notification rejected, state stays DRAFT", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/projects/{projectId}/scoring/status": {
            "get": {
                "tags": ["Scoring"],
                "summary": "Session summary",
                "parameters": [{"$ref": "#/parameters/projectId"}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/api/v1/projects/{projectId}/rankings/students": {
            "get": {
                "tags": ["Rankings"],
                "summary": "Ranked students",
                "parameters": [{"$ref": "#/parameters/projectId"}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/api/v1/projects/{projectId}/rankings/groups": {
            "get": {
                "tags": ["Rankings"],
                "summary": "Ranked groups",
                "parameters": [{"$ref": "#/parameters/projectId"}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/api/v1/projects/{projectId}/rankings/export": {
            "get": {
                "tags": ["Rankings"],
                "summary": "Download a ranking table",
                "produces": ["text/csv", "application/pdf"],
                "parameters": [
                    {"$ref": "#/parameters/projectId"},
                    {"name": "type", "in": "query", "required": true, "type": "string", "enum": ["students", "groups"]},
                    {"name": "format", "in": "query", "required": true, "type": "string", "enum": ["csv", "pdf"]}
                ],
                "responses": {
                    "200": {"description": "File attachment", "schema": {"type": "file"}},
                    "400": {"description": "Invalid query", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/projects/{projectId}/rankings/published": {
            "get": {
                "tags": ["Rankings"],
                "summary": "Published ranking",
                "parameters": [{"$ref": "#/parameters/projectId"}],
                "responses": {
                    "200": {"description": "Frozen snapshot", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not published", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/projects/{projectId}/groups/{groupId}/contributions": {
            "get": {
                "tags": ["Rankings"],
                "summary": "Itemised task points of a group",
                "parameters": [
                    {"$ref": "#/parameters/projectId"},
                    {"name": "groupId", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Unknown group", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "parameters": {
        "projectId": {"name": "projectId", "in": "path", "required": true, "type": "string"}
    },
    "definitions": {
        "Category": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "label": {"type": "string"},
                "enabled": {"type": "boolean"},
                "weight": {"type": "number", "minimum": 0}
            }
        },
        "GroupCategory": {
            "allOf": [
                {"$ref": "#/definitions/Category"},
                {"type": "object", "properties": {"excluded_task_ids": {"type": "array", "items": {"type": "string"}}}}
            ]
        },
        "ScoringPolicy": {
            "type": "object",
            "properties": {
                "mode": {"type": "string", "enum": ["INDIVIDUAL", "GROUP", "COMBINED"]},
                "individual_categories": {"type": "array", "items": {"$ref": "#/definitions/Category"}},
                "group_categories": {"type": "array", "items": {"$ref": "#/definitions/GroupCategory"}},
                "combined_weights": {
                    "type": "object",
                    "properties": {
                        "individual_pct": {"type": "number"},
                        "group_pct": {"type": "number"}
                    }
                }
            }
        },
        "RefreshRequest": {
            "type": "object",
            "properties": {
                "stages": {
                    "type": "array",
                    "items": {
                        "type": "object",
                        "properties": {
                            "id": {"type": "string"},
                            "name": {"type": "string"},
                            "tasks": {
                                "type": "array",
                                "items": {
                                    "type": "object",
                                    "properties": {
                                        "id": {"type": "string"},
                                        "name": {"type": "string"},
                                        "type": {"type": "string", "enum": ["homework", "discussion"]},
                                        "config": {
                                            "type": "object",
                                            "properties": {
                                                "isCooperation": {"type": "boolean"},
                                                "groupScores": {"type": "object", "additionalProperties": {"type": "number"}}
                                            }
                                        }
                                    }
                                }
                            }
                        }
                    }
                }
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
