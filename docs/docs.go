// Package docs holds the swagger spec served at /swagger. Regenerate with
// go generate ./cmd/settlementd.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/healthz": {"get": {"tags": ["health"], "summary": "Health check", "responses": {"200": {"description": "OK"}}}},
        "/readyz": {"get": {"tags": ["health"], "summary": "Readiness check", "responses": {"200": {"description": "OK"}}}},
        "/api/v1/protocol": {"get": {"tags": ["protocol"], "summary": "Protocol constants", "responses": {"200": {"description": "OK"}}}},
        "/api/v1/strategies": {
            "get": {"tags": ["strategies"], "summary": "List strategies", "responses": {"200": {"description": "OK"}}},
            "post": {"tags": ["strategies"], "summary": "Publish a strategy", "responses": {"200": {"description": "OK"}}}
        },
        "/api/v1/strategies/{id}": {"get": {"tags": ["strategies"], "summary": "Get a strategy", "responses": {"200": {"description": "OK"}}}},
        "/api/v1/strategies/{id}/active": {"put": {"tags": ["strategies"], "summary": "Activate or deactivate a strategy (creator only)", "responses": {"200": {"description": "OK"}}}},
        "/api/v1/executions": {
            "get": {"tags": ["executions"], "summary": "List executions", "responses": {"200": {"description": "OK"}}},
            "post": {"tags": ["executions"], "summary": "Submit an execution and lock the stake", "responses": {"200": {"description": "OK"}}}
        },
        "/api/v1/executions/{id}": {"get": {"tags": ["executions"], "summary": "Execution with window, dispute and stream state", "responses": {"200": {"description": "OK"}}}},
        "/api/v1/executions/{id}/window": {"get": {"tags": ["executions"], "summary": "Dispute window state", "responses": {"200": {"description": "OK"}}}},
        "/api/v1/executions/{id}/watch": {"get": {"tags": ["executions"], "summary": "Live execution feed (websocket)", "responses": {"101": {"description": "Switching Protocols"}}}},
        "/api/v1/executions/{id}/verify": {"post": {"tags": ["executions"], "summary": "Run AI verification on a pending execution", "responses": {"200": {"description": "OK"}}}},
        "/api/v1/executions/{id}/verdict": {"post": {"tags": ["executions"], "summary": "Apply a verdict by hand", "responses": {"200": {"description": "OK"}}}},
        "/api/v1/executions/{id}/finalize": {"post": {"tags": ["executions"], "summary": "Finalize after the dispute window (anyone)", "responses": {"200": {"description": "OK"}}}},
        "/api/v1/executions/{id}/dispute": {
            "get": {"tags": ["disputes"], "summary": "Dispute for an execution", "responses": {"200": {"description": "OK"}}},
            "post": {"tags": ["disputes"], "summary": "Raise a dispute (strategy creator, window open)", "responses": {"200": {"description": "OK"}}}
        },
        "/api/v1/executions/{id}/dispute/review": {"post": {"tags": ["disputes"], "summary": "Run the secondary AI review of a dispute", "responses": {"200": {"description": "OK"}}}},
        "/api/v1/executions/{id}/dispute/resolve": {"post": {"tags": ["disputes"], "summary": "Resolve a dispute by hand (arbiter)", "responses": {"200": {"description": "OK"}}}},
        "/api/v1/disputes": {"get": {"tags": ["disputes"], "summary": "List disputes", "responses": {"200": {"description": "OK"}}}},
        "/api/v1/disputes/{id}": {"get": {"tags": ["disputes"], "summary": "Get a dispute by its id", "responses": {"200": {"description": "OK"}}}},
        "/api/v1/executions/{id}/stream": {"get": {"tags": ["streams"], "summary": "Reward stream with live accrual", "responses": {"200": {"description": "OK"}}}},
        "/api/v1/executions/{id}/withdraw": {"post": {"tags": ["streams"], "summary": "Withdraw vested reward (executor only)", "responses": {"200": {"description": "OK"}}}},
        "/api/v1/streams": {"get": {"tags": ["streams"], "summary": "List reward streams", "responses": {"200": {"description": "OK"}}}},
        "/api/v1/ledger": {"get": {"tags": ["streams"], "summary": "Ledger entries of the caller", "responses": {"200": {"description": "OK"}}}},
        "/api/v1/oracle/assets": {"get": {"tags": ["oracle"], "summary": "Supported assets", "responses": {"200": {"description": "OK"}}}},
        "/api/v1/oracle/price": {"get": {"tags": ["oracle"], "summary": "Reference price", "responses": {"200": {"description": "OK"}}}},
        "/api/v1/oracle/check": {"post": {"tags": ["oracle"], "summary": "Check a price claim against the oracle", "responses": {"200": {"description": "OK"}}}},
        "/api/v1/system-settings": {"get": {"tags": ["system-settings"], "summary": "List settings", "responses": {"200": {"description": "OK"}}}},
        "/api/v1/system-settings/switches": {"get": {"tags": ["system-settings"], "summary": "Feature switches with their defaults", "responses": {"200": {"description": "OK"}}}}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "0.1.0",
	Host:             "localhost:8080",
	BasePath:         "/",
	Schemes:          []string{"http"},
	Title:            "StratFlow Settlement API",
	Description:      "Execution verification, disputes and reward streaming.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
