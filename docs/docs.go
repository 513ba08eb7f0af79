// Package docs GhostReply 控制接口的 swagger 描述，由 swag 读取
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
        "/health": {
            "get": {"produces": ["application/json"], "tags": ["系统"], "summary": "健康检查", "responses": {"200": {"description": "OK"}}}
        },
        "/api/v1/auth/token": {
            "post": {"consumes": ["application/json"], "produces": ["application/json"], "tags": ["鉴权"], "summary": "获取访问令牌",
                "responses": {"200": {"description": "OK"}, "400": {"description": "Bad Request"}, "401": {"description": "Unauthorized"}}}
        },
        "/api/v1/control/start": {
            "post": {"security": [{"BearerAuth": []}], "produces": ["application/json"], "tags": ["控制"], "summary": "启动监控",
                "responses": {"200": {"description": "OK"}, "409": {"description": "Conflict"}, "500": {"description": "Internal Server Error"}}}
        },
        "/api/v1/control/stop": {
            "post": {"security": [{"BearerAuth": []}], "produces": ["application/json"], "tags": ["控制"], "summary": "停止监控",
                "responses": {"200": {"description": "OK"}, "202": {"description": "Accepted"}, "409": {"description": "Conflict"}}}
        },
        "/api/v1/control/status": {
            "get": {"security": [{"BearerAuth": []}], "produces": ["application/json"], "tags": ["控制"], "summary": "监控状态", "responses": {"200": {"description": "OK"}}}
        },
        "/api/v1/drafts": {
            "get": {"security": [{"BearerAuth": []}], "produces": ["application/json"], "tags": ["草稿"], "summary": "草稿列表",
                "parameters": [
                    {"enum": ["pending", "approved", "rejected", "posted", "failed"], "type": "string", "name": "status", "in": "query"},
                    {"type": "integer", "default": 1, "name": "page", "in": "query"},
                    {"type": "integer", "default": 20, "name": "page_size", "in": "query"}
                ],
                "responses": {"200": {"description": "OK"}, "400": {"description": "Bad Request"}}}
        },
        "/api/v1/drafts/{id}": {
            "get": {"security": [{"BearerAuth": []}], "produces": ["application/json"], "tags": ["草稿"], "summary": "草稿详情",
                "parameters": [{"type": "integer", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}}}
        },
        "/api/v1/drafts/{id}/approve": {
            "post": {"security": [{"BearerAuth": []}], "produces": ["application/json"], "tags": ["草稿"], "summary": "通过草稿",
                "parameters": [{"type": "integer", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}, "409": {"description": "Conflict"}}}
        },
        "/api/v1/drafts/{id}/reject": {
            "post": {"security": [{"BearerAuth": []}], "produces": ["application/json"], "tags": ["草稿"], "summary": "拒绝草稿",
                "parameters": [{"type": "integer", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}, "409": {"description": "Conflict"}}}
        },
        "/api/v1/drafts/{id}/post": {
            "post": {"security": [{"BearerAuth": []}], "produces": ["application/json"], "tags": ["草稿"], "summary": "发布草稿",
                "parameters": [{"type": "integer", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}, "409": {"description": "Conflict"}, "429": {"description": "Too Many Requests"}, "500": {"description": "Internal Server Error"}}}
        },
        "/api/v1/tweets": {
            "get": {"security": [{"BearerAuth": []}], "produces": ["application/json"], "tags": ["推文"], "summary": "推文列表", "responses": {"200": {"description": "OK"}}}
        },
        "/api/v1/tweets/{id}": {
            "get": {"security": [{"BearerAuth": []}], "produces": ["application/json"], "tags": ["推文"], "summary": "推文详情",
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}}}
        },
        "/api/v1/stats": {
            "get": {"security": [{"BearerAuth": []}], "produces": ["application/json"], "tags": ["草稿"], "summary": "统计", "responses": {"200": {"description": "OK"}}}
        }
    },
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "GhostReply API",
	Description:      "信息流监控、草稿审核与发布控制接口",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
