// Package openapi serves an OpenAPI 3.0 description of the HTTP API and a
// Swagger UI page for it.
package openapi

import (
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

// Operation describes one route for the generated document.
type Operation struct {
	Method  string
	Path    string // echo style, e.g. /plans/:id
	Summary string
	Tag     string
	// Request is a schema name under components/schemas, or "multipart" for
	// a file upload.
	Request string
	// Responses maps a status code to a schema name. An empty name means the
	// response has no body; "pdf" means an application/pdf body.
	Responses map[int]string
}

type Generator struct {
	title   string
	version string
	baseURL string
	ops     []Operation
	schemas map[string]interface{}
}

func NewGenerator(title, version, baseURL string) *Generator {
	return &Generator{
		title:   title,
		version: version,
		baseURL: baseURL,
		schemas: map[string]interface{}{"Error": errorSchema()},
	}
}

// Add registers operations in the order they should appear.
func (g *Generator) Add(ops ...Operation) {
	g.ops = append(g.ops, ops...)
}

// Schema registers a component schema.
func (g *Generator) Schema(name string, schema map[string]interface{}) {
	g.schemas[name] = schema
}

// openAPIPath converts /plans/:id to /plans/{id} and lists the parameters.
func openAPIPath(path string) (string, []string) {
	parts := strings.Split(path, "/")
	var params []string
	for i, p := range parts {
		if strings.HasPrefix(p, ":") {
			params = append(params, p[1:])
			parts[i] = "{" + p[1:] + "}"
		}
	}
	return strings.Join(parts, "/"), params
}

// GenerateSpec produces the OpenAPI 3.0 document as a map.
func (g *Generator) GenerateSpec() map[string]interface{} {
	paths := make(map[string]interface{})
	tagSet := make(map[string]bool)

	for _, op := range g.ops {
		path, params := openAPIPath(op.Path)
		item, _ := paths[path].(map[string]interface{})
		if item == nil {
			item = make(map[string]interface{})
			paths[path] = item
		}

		operation := map[string]interface{}{
			"summary":     op.Summary,
			"operationId": operationID(op.Method, path),
			"tags":        []string{op.Tag},
			"responses":   g.buildResponses(op.Responses),
		}
		tagSet[op.Tag] = true

		if len(params) > 0 {
			var ps []map[string]interface{}
			for _, name := range params {
				ps = append(ps, map[string]interface{}{
					"name":     name,
					"in":       "path",
					"required": true,
					"schema":   paramSchema(name),
				})
			}
			operation["parameters"] = ps
		}
		if op.Request != "" {
			operation["requestBody"] = buildRequestBody(op.Request)
		}
		item[strings.ToLower(op.Method)] = operation
	}

	tags := make([]string, 0, len(tagSet))
	for t := range tagSet {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	tagObjs := make([]map[string]string, 0, len(tags))
	for _, t := range tags {
		tagObjs = append(tagObjs, map[string]string{"name": t})
	}

	return map[string]interface{}{
		"openapi": "3.0.3",
		"info": map[string]interface{}{
			"title":   g.title,
			"version": g.version,
		},
		"servers": []map[string]string{
			{"url": g.baseURL},
		},
		"tags":     tagObjs,
		"paths":    paths,
		"security": []map[string][]string{{"bearerAuth": {}}},
		"components": map[string]interface{}{
			"schemas": g.schemas,
			"securitySchemes": map[string]interface{}{
				"bearerAuth": map[string]string{"type": "http", "scheme": "bearer", "bearerFormat": "JWT"},
			},
		},
	}
}

func operationID(method, path string) string {
	var b strings.Builder
	b.WriteString(strings.ToLower(method))
	for _, seg := range strings.Split(path, "/") {
		seg = strings.Trim(seg, "{}")
		if seg == "" {
			continue
		}
		b.WriteString(strings.ToUpper(seg[:1]) + seg[1:])
	}
	return b.String()
}

func paramSchema(name string) map[string]interface{} {
	if name == "index" {
		return map[string]interface{}{"type": "integer", "minimum": 0}
	}
	return map[string]interface{}{"type": "string", "format": "uuid"}
}

func buildRequestBody(schema string) map[string]interface{} {
	if schema == "multipart" {
		return map[string]interface{}{
			"required": true,
			"content": map[string]interface{}{
				"multipart/form-data": map[string]interface{}{
					"schema": map[string]interface{}{
						"type":     "object",
						"required": []string{"file"},
						"properties": map[string]interface{}{
							"file": map[string]string{"type": "string", "format": "binary"},
						},
					},
				},
			},
		}
	}
	return map[string]interface{}{
		"required": true,
		"content": map[string]interface{}{
			"application/json": map[string]interface{}{
				"schema": ref(schema),
			},
		},
	}
}

func (g *Generator) buildResponses(responses map[int]string) map[string]interface{} {
	out := make(map[string]interface{}, len(responses))
	for code, schema := range responses {
		resp := map[string]interface{}{"description": http.StatusText(code)}
		switch {
		case schema == "pdf":
			resp["content"] = map[string]interface{}{
				"application/pdf": map[string]interface{}{
					"schema": map[string]string{"type": "string", "format": "binary"},
				},
			}
		case schema != "":
			resp["content"] = map[string]interface{}{
				"application/json": map[string]interface{}{"schema": ref(schema)},
			}
		}
		out[strconv.Itoa(code)] = resp
	}
	return out
}

func ref(schema string) map[string]string {
	return map[string]string{"$ref": "#/components/schemas/" + schema}
}

func errorSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":     "object",
		"required": []string{"message"},
		"properties": map[string]interface{}{
			"message": map[string]string{"type": "string"},
		},
	}
}

const swaggerUIHTML = `<!DOCTYPE html>
<html lang="pt-BR">
<head>
  <meta charset="UTF-8">
  <title>Plan API - Swagger UI</title>
  <link rel="stylesheet" type="text/css" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" >
  <style>
    html { box-sizing: border-box; overflow-y: scroll; }
    *, *:before, *:after { box-sizing: inherit; }
    body { margin: 0; background: #fafafa; }
  </style>
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    SwaggerUIBundle({
      url: "/api/openapi.json",
      dom_id: '#swagger-ui',
      deepLinking: true,
      presets: [
        SwaggerUIBundle.presets.apis,
        SwaggerUIBundle.SwaggerUIStandalonePreset
      ],
      layout: "BaseLayout"
    })
  </script>
</body>
</html>`

// docsCSP relaxes the API-wide policy just enough for the Swagger UI assets.
const docsCSP = "default-src 'none'; script-src 'unsafe-inline' https://unpkg.com; " +
	"style-src 'unsafe-inline' https://unpkg.com; img-src data: https://unpkg.com; connect-src 'self'"

// RegisterRoutes registers the OpenAPI endpoints. They are public.
func (g *Generator) RegisterRoutes(apiGroup *echo.Group) {
	spec := g.GenerateSpec()
	apiGroup.GET("/openapi.json", func(c echo.Context) error {
		return c.JSON(http.StatusOK, spec)
	})
	apiGroup.GET("/docs", func(c echo.Context) error {
		c.Response().Header().Set("Content-Security-Policy", docsCSP)
		return c.HTML(http.StatusOK, swaggerUIHTML)
	})
}
