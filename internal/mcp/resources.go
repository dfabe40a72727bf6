package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const uriScheme = "hybridrag://"

// registerResources exposes the persona table and persona-scoped entries.
func (s *Server) registerResources() {
	s.mcp.AddResource(&mcp.Resource{
		URI:         uriScheme + "personas",
		Name:        "personas",
		Description: "Known personas and their entitlements",
		MIMEType:    "application/json",
	}, s.handlePersonasResource)

	s.mcp.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: uriScheme + "personas/{persona}/entries/{id}",
		Name:        "entry",
		Description: "A catalog entry as seen by a persona",
		MIMEType:    "application/json",
	}, s.handleEntryResource)
}

func (s *Server) handlePersonasResource(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	_, out, err := s.mcpListPersonasHandler(ctx, nil, ListPersonasInput{})
	if err != nil {
		return nil, err
	}
	return jsonResource(req.Params.URI, out)
}

// handleEntryResource returns one entry. Entries the persona may not see
// are reported as not found.
func (s *Server) handleEntryResource(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	persona, id := parseEntryURI(req.Params.URI)
	if persona == "" || id == "" {
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}

	filter, err := s.engine.Policy().Filter(persona)
	if err != nil {
		return nil, MapError(err)
	}
	rows, err := s.catalog.Lookup(ctx, []string{id}, filter)
	if err != nil {
		return nil, fmt.Errorf("looking up entry: %w", err)
	}
	entry, ok := rows[id]
	if !ok {
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}

	out := map[string]any{
		"id":           entry.ID,
		"kind":         entry.Kind,
		"content":      entry.Content,
		"content_type": entry.ContentType,
		"created_at":   entry.CreatedAt,
	}
	if entry.Category != "" {
		out["category"] = entry.Category
	}
	if entry.Severity != "" {
		out["severity"] = entry.Severity
	}
	if entry.DocumentID != "" {
		out["document_id"] = entry.DocumentID
	}
	return jsonResource(req.Params.URI, out)
}

func jsonResource(uri string, v any) (*mcp.ReadResourceResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshalling resource: %w", err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		}},
	}, nil
}

// parseEntryURI splits hybridrag://personas/{persona}/entries/{id}.
func parseEntryURI(uri string) (persona, id string) {
	rest, ok := strings.CutPrefix(uri, uriScheme+"personas/")
	if !ok {
		return "", ""
	}
	persona, id, ok = strings.Cut(rest, "/entries/")
	if !ok || strings.Contains(persona, "/") {
		return "", ""
	}
	return persona, id
}
