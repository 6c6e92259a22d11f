package api

import (
	"net/http"
	"strings"

	"github.com/mattjoyce/hackscore/internal/auth"
)

type routeDoc struct {
	method  string
	path    string
	summary string
	scopes  []string
	body    bool
	success string
}

var routeDocs = []routeDoc{
	{method: "get", path: "/queue", summary: "Queue snapshot", scopes: []string{auth.ScopeQueueRead}, success: "200"},
	{method: "delete", path: "/queue", summary: "Drop pending jobs, optionally for one hackathon_id", scopes: []string{auth.ScopeQueueWrite}, success: "200"},
	{method: "patch", path: "/queue/config", summary: "Change concurrency, poll interval or job ceiling", scopes: []string{auth.ScopeQueueWrite}, body: true, success: "200"},
	{method: "get", path: "/queue/{submissionID}", summary: "Queue state of one submission", scopes: []string{auth.ScopeQueueRead}, success: "200"},
	{method: "get", path: "/submissions/{submissionID}", summary: "Submission with score fields", scopes: []string{auth.ScopeQueueRead}, success: "200"},
	{method: "get", path: "/submissions/{submissionID}/runs", summary: "Score run history, newest first", scopes: []string{auth.ScopeQueueRead}, success: "200"},
	{method: "post", path: "/submissions/{submissionID}/score", summary: "Enqueue at normal priority", scopes: []string{auth.ScopeQueueWrite}, success: "202"},
	{method: "post", path: "/submissions/{submissionID}/rejudge", summary: "Enqueue ahead of normal work", scopes: []string{auth.ScopeQueueWrite}, success: "202"},
	{method: "put", path: "/submissions/{submissionID}/manual-score", summary: "Record an organizer score", scopes: []string{auth.ScopeScoresWrite}, body: true, success: "200"},
	{method: "post", path: "/hackathons/{hackathonID}/rejudge", summary: "Rejudge every finalized submission", scopes: []string{auth.ScopeQueueWrite}, success: "202"},
	{method: "get", path: "/events", summary: "Server-sent event stream", scopes: []string{auth.ScopeQueueRead}, success: "200"},
}

// buildOpenAPIDoc returns an OpenAPI 3.1 document for the protected routes.
func buildOpenAPIDoc() map[string]any {
	paths := map[string]any{}
	for _, rd := range routeDocs {
		item, _ := paths[rd.path].(map[string]any)
		if item == nil {
			item = map[string]any{}
			paths[rd.path] = item
		}

		op := map[string]any{
			"summary":     rd.summary,
			"operationId": operationID(rd),
			"security":    []any{map[string]any{"BearerAuth": []string{}}},
			"x-scopes":    rd.scopes,
			"responses": map[string]any{
				rd.success: map[string]any{"description": http.StatusText(statusCode(rd.success))},
				"400":      map[string]any{"description": "Bad request"},
				"401":      map[string]any{"description": "Missing or invalid token"},
				"403":      map[string]any{"description": "Insufficient scope"},
				"404":      map[string]any{"description": "Not found"},
			},
		}
		if params := pathParams(rd.path); len(params) > 0 {
			op["parameters"] = params
		}
		if rd.body {
			op["requestBody"] = map[string]any{
				"required": true,
				"content":  map[string]any{"application/json": map[string]any{"schema": map[string]any{"type": "object"}}},
			}
		}
		item[rd.method] = op
	}

	return map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":   "hackscore operator API",
			"version": "1.0",
		},
		"paths": paths,
		"components": map[string]any{
			"securitySchemes": map[string]any{
				"BearerAuth": map[string]any{
					"type":   "http",
					"scheme": "bearer",
				},
			},
		},
	}
}

func statusCode(s string) int {
	switch s {
	case "202":
		return http.StatusAccepted
	default:
		return http.StatusOK
	}
}

func pathParams(path string) []any {
	var out []any
	for _, seg := range strings.Split(path, "/") {
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
			out = append(out, map[string]any{
				"name":     strings.Trim(seg, "{}"),
				"in":       "path",
				"required": true,
				"schema":   map[string]any{"type": "string"},
			})
		}
	}
	return out
}

func operationID(rd routeDoc) string {
	var b strings.Builder
	b.WriteString(rd.method)
	for _, seg := range strings.Split(rd.path, "/") {
		seg = strings.Trim(seg, "{}")
		if seg == "" {
			continue
		}
		for _, part := range strings.Split(seg, "-") {
			if part == "" {
				continue
			}
			b.WriteString(strings.ToUpper(part[:1]) + part[1:])
		}
	}
	return b.String()
}

// handleOpenAPI handles GET /openapi.json.
func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, buildOpenAPIDoc())
}
