package mcp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/samber/lo"

	"github.com/Aman-CERP/hybridrag/internal/config"
	"github.com/Aman-CERP/hybridrag/internal/embed"
	"github.com/Aman-CERP/hybridrag/internal/search"
	"github.com/Aman-CERP/hybridrag/internal/store"
	"github.com/Aman-CERP/hybridrag/pkg/version"
)

const serverName = "hybridrag"

// Server is the MCP server. It bridges agents with the search engine.
type Server struct {
	mcp      *mcp.Server
	engine   *search.Engine
	catalog  store.Catalog
	embedder embed.Embedder
	config   *config.Config
	logger   *slog.Logger
}

// ToolInfo contains information about a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

var tools = []ToolInfo{
	{
		Name: "search",
		Description: "Hybrid search over the product catalog and knowledge base. Combines semantic, keyword and typo-tolerant matching. " +
			"Results are limited to what the given persona may see.",
	},
	{
		Name:        "list_personas",
		Description: "List the personas search accepts and which of them see restricted knowledge.",
	},
	{
		Name:        "catalog_stats",
		Description: "Report how many documents and knowledge items are indexed and whether semantic search is available.",
	},
}

// NewServer creates a new MCP server. The embedder may be nil.
func NewServer(engine *search.Engine, catalog store.Catalog, embedder embed.Embedder, cfg *config.Config) (*Server, error) {
	if engine == nil {
		return nil, errors.New("search engine is required")
	}
	if catalog == nil {
		return nil, errors.New("catalog is required")
	}
	if cfg == nil {
		cfg = config.NewConfig()
	}

	s := &Server{
		engine:   engine,
		catalog:  catalog,
		embedder: embedder,
		config:   cfg,
		logger:   slog.Default(),
	}

	s.mcp = mcp.NewServer(&mcp.Implementation{Name: serverName, Version: version.Version}, nil)
	s.registerTools()
	s.registerResources()
	return s, nil
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// Info returns the server name and version.
func (s *Server) Info() (name, ver string) {
	return serverName, version.Version
}

// ListTools returns all registered tools.
func (s *Server) ListTools() []ToolInfo {
	return append([]ToolInfo(nil), tools...)
}

// CallTool invokes a tool by name with JSON-shaped arguments.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	switch name {
	case "search":
		var input SearchInput
		if err := decodeArgs(args, &input); err != nil {
			return nil, err
		}
		_, out, err := s.mcpSearchHandler(ctx, nil, input)
		if err != nil {
			return nil, err
		}
		return out, nil
	case "list_personas":
		_, out, err := s.mcpListPersonasHandler(ctx, nil, ListPersonasInput{})
		return out, err
	case "catalog_stats":
		_, out, err := s.mcpCatalogStatsHandler(ctx, nil, CatalogStatsInput{})
		return out, err
	default:
		return nil, NewMethodNotFoundError(name)
	}
}

func decodeArgs(args map[string]any, v any) error {
	data, err := json.Marshal(args)
	if err != nil {
		return NewInvalidParamsError(err.Error())
	}
	if err := json.Unmarshal(data, v); err != nil {
		return NewInvalidParamsError(fmt.Sprintf("invalid arguments: %v", err))
	}
	return nil
}

// registerTools registers all tools with the MCP server.
func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{Name: tools[0].Name, Description: tools[0].Description}, s.mcpSearchHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: tools[1].Name, Description: tools[1].Description}, s.mcpListPersonasHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: tools[2].Name, Description: tools[2].Description}, s.mcpCatalogStatsHandler)

	s.logger.Debug("MCP tools registered", slog.Int("count", len(tools)))
}

// toQuery converts tool input to an engine query.
func toQuery(input SearchInput) (search.Query, error) {
	window, err := search.ParseWindow(input.TimeWindow)
	if err != nil {
		return search.Query{}, err
	}
	return search.Query{
		Text:           input.Query,
		Persona:        input.Persona,
		TimeWindow:     window,
		Limit:          input.Limit,
		RRFK:           input.RRFK,
		FuzzyThreshold: input.FuzzyThreshold,
		Backends:       input.Backends,
	}, nil
}

// mcpSearchHandler is the MCP SDK handler for the search tool.
func (s *Server) mcpSearchHandler(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (
	*mcp.CallToolResult,
	SearchOutput,
	error,
) {
	start := time.Now()
	requestID := generateRequestID()

	if input.Persona == "" {
		return nil, SearchOutput{}, NewInvalidParamsError("persona parameter is required")
	}
	q, err := toQuery(input)
	if err != nil {
		return nil, SearchOutput{}, MapError(err)
	}

	s.logger.Info("search started",
		slog.String("request_id", requestID),
		slog.String("persona", input.Persona),
		slog.Int("limit", q.Limit))

	resp, err := s.engine.Search(ctx, q)
	duration := time.Since(start)
	if err != nil {
		s.logger.Warn("search failed",
			slog.String("request_id", requestID),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()))
		return nil, SearchOutput{}, MapError(err)
	}

	s.logger.Info("search completed",
		slog.String("request_id", requestID),
		slog.Duration("duration", duration),
		slog.Int("result_count", len(resp.Results)))

	return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: FormatSearchResults(q.Text, input.Persona, resp)}},
		}, SearchOutput{
			Results:  lo.Map(resp.Results, func(r search.ResultRecord, _ int) ResultOutput { return ToResultOutput(r) }),
			Warnings: resp.Warnings,
		}, nil
}

// mcpListPersonasHandler is the MCP SDK handler for the list_personas tool.
func (s *Server) mcpListPersonasHandler(_ context.Context, _ *mcp.CallToolRequest, _ ListPersonasInput) (
	*mcp.CallToolResult,
	ListPersonasOutput,
	error,
) {
	policy := s.engine.Policy()
	return nil, ListPersonasOutput{
		Personas:   policy.Personas(),
		Privileged: policy.Privileged(),
		Inherits:   policy.Inherits(),
	}, nil
}

// mcpCatalogStatsHandler is the MCP SDK handler for the catalog_stats tool.
func (s *Server) mcpCatalogStatsHandler(ctx context.Context, _ *mcp.CallToolRequest, _ CatalogStatsInput) (
	*mcp.CallToolResult,
	CatalogStatsOutput,
	error,
) {
	stats, err := s.catalog.Stats(ctx)
	if err != nil {
		return nil, CatalogStatsOutput{}, MapError(err)
	}

	status := "none"
	if s.embedder != nil {
		status = "unavailable"
		if s.embedder.Available(ctx) {
			status = "ready"
		}
	}

	return nil, CatalogStatsOutput{
		Documents:      stats.Documents,
		KnowledgeItems: stats.KnowledgeItems,
		Embedded:       stats.Embedded,
		Vectors:        stats.Vectors,
		Dimensions:     stats.Dimensions,
		EmbeddingModel: stats.EmbeddingModel,
		EmbedderStatus: status,
	}, nil
}

// Serve runs the server over stdio until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, transport string) error {
	s.logger.Info("Starting MCP server", slog.String("transport", transport))

	switch transport {
	case "stdio":
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("MCP server stopped with error", slog.String("error", err.Error()))
			return err
		}
		s.logger.Info("MCP server stopped gracefully")
		return nil
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio)", transport)
	}
}

// HTTPHandler serves the MCP streamable HTTP transport.
func (s *Server) HTTPHandler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.mcp
	}, &mcp.StreamableHTTPOptions{JSONResponse: true})
}

// generateRequestID creates a short unique request ID for log correlation.
func generateRequestID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
