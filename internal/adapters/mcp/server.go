// Package mcp exposes the provenance store to agents over the Model Context
// Protocol. Every tool is read-only; runs are executed through the CLI or the
// library, never through this surface.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/aretw0/graft/internal/lineage"
	"github.com/aretw0/graft/internal/logging"
	"github.com/aretw0/graft/internal/presentation/graph"
	"github.com/aretw0/graft/pkg/domain"
	"github.com/aretw0/graft/pkg/ports"
)

// ProducerResponse is the structured answer of the who_built tool.
type ProducerResponse struct {
	ArtifactID string `json:"artifact_id" jsonschema_description:"The artifact id the question was asked about"`
	RunID      string `json:"run_id" jsonschema_description:"The run that produced the artifact"`
	Step       string `json:"step" jsonschema_description:"Name of the step the run executed"`
	EndedUTC   string `json:"ended_utc" jsonschema_description:"UTC end time of the producing run"`
}

// AliasResponse is the structured answer of the resolve_alias tool.
type AliasResponse struct {
	Name string `json:"name" jsonschema_description:"The alias name"`
	ID   string `json:"id" jsonschema_description:"The typed id the alias points at"`
	Kind string `json:"kind" jsonschema_description:"Namespace of the target: blob, tree, or run"`
}

// Config carries the collaborators of the MCP server.
type Config struct {
	Store   ports.ObjectStore
	Aliases ports.AliasStore
	Lineage *lineage.Service
	Logger  *slog.Logger
	Version string
}

// Server wraps the store and lineage service as an MCP server.
type Server struct {
	store     ports.ObjectStore
	aliases   ports.AliasStore
	lineage   *lineage.Service
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewServer creates an MCP server over the given store.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("mcp: object store is required")
	}
	if cfg.Aliases == nil {
		return nil, fmt.Errorf("mcp: alias store is required")
	}
	if cfg.Lineage == nil {
		return nil, fmt.Errorf("mcp: lineage service is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	s := &Server{
		store:     cfg.Store,
		aliases:   cfg.Aliases,
		lineage:   cfg.Lineage,
		logger:    cfg.Logger,
		mcpServer: server.NewMCPServer("graft-mcp", cfg.Version),
	}
	s.registerTools()
	s.registerResources()
	return s, nil
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE starts the server on the given port using SSE.
func (s *Server) ServeSSE(ctx context.Context, port int) error {
	addr := fmt.Sprintf(":%d", port)
	baseURL := fmt.Sprintf("http://localhost:%d", port)

	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	mux := http.NewServeMux()
	mux.Handle("/sse", corsMiddleware(sseServer.SSEHandler()))
	mux.Handle("/message", corsMiddleware(sseServer.MessageHandler()))

	httpServer := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	// Channel to listen for errors coming from the listener.
	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("mcp server listening (sse)", "address", addr)
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.logger.Info("shutdown signal received, stopping mcp server")
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) registerTools() {
	// TOOL: who_built
	whoBuiltTool := mcp.NewTool("who_built",
		mcp.WithDescription("Find the run that produced an artifact. Accepts an artifact id or an alias name."),
		mcp.WithString("artifact", mcp.Required(), mcp.Description("Artifact id (blob:sha256:... or tree:sha256:...) or alias name")),
		mcp.WithOutputSchema[ProducerResponse](),
	)
	s.mcpServer.AddTool(whoBuiltTool, mcp.NewStructuredToolHandler(s.handleWhoBuilt))

	// TOOL: resolve_alias
	resolveTool := mcp.NewTool("resolve_alias",
		mcp.WithDescription("Resolve an alias name to the typed id it currently points at."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Alias name, e.g. model/latest")),
		mcp.WithOutputSchema[AliasResponse](),
	)
	s.mcpServer.AddTool(resolveTool, mcp.NewStructuredToolHandler(s.handleResolveAlias))

	// TOOL: get_manifest
	s.mcpServer.AddTool(mcp.NewTool("get_manifest",
		mcp.WithDescription("Fetch the full provenance manifest of a run. Accepts a run id, an artifact id, or an alias; artifacts resolve to their producing run."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Run id, artifact id, or alias name")),
	), s.handleGetManifest)

	// TOOL: trace
	s.mcpServer.AddTool(mcp.NewTool("trace",
		mcp.WithDescription("Trace the full derivation graph behind a run or artifact, back to adopted sources."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Run id, artifact id, or alias name")),
		mcp.WithString("format", mcp.Description("Output format: json (default) or mermaid")),
	), s.handleTrace)

	// TOOL: list_aliases
	s.mcpServer.AddTool(mcp.NewTool("list_aliases",
		mcp.WithDescription("List every alias binding in the store, sorted by name."),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		aliases, err := s.aliases.ListAliases(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("list aliases failed: %v", err)), nil
		}
		entries := make([]AliasResponse, 0, len(aliases))
		for _, a := range aliases {
			entries = append(entries, AliasResponse{Name: a.Name, ID: a.ID.String(), Kind: string(a.ID.Kind)})
		}
		jsonBytes, _ := json.Marshal(entries)
		return mcp.NewToolResultText(string(jsonBytes)), nil
	})
}

// Handler methods for structured tools

func (s *Server) handleWhoBuilt(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (ProducerResponse, error) {
	ref, _ := args["artifact"].(string)

	id, err := s.resolveID(ctx, ref)
	if err != nil {
		return ProducerResponse{}, err
	}
	if id.Kind == domain.KindRun {
		return ProducerResponse{}, fmt.Errorf("%s is a run id; runs are not produced, pass an artifact id", id.Short())
	}

	m, err := s.lineage.WhoBuilt(ctx, id)
	if err != nil {
		return ProducerResponse{}, fmt.Errorf("who built %s: %w", id.Short(), err)
	}

	return ProducerResponse{
		ArtifactID: id.String(),
		RunID:      m.RunID.String(),
		Step:       m.Step.Name,
		EndedUTC:   m.EndedUTC,
	}, nil
}

func (s *Server) handleResolveAlias(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (AliasResponse, error) {
	name, _ := args["name"].(string)

	id, err := s.aliases.GetAlias(ctx, name)
	if err != nil {
		return AliasResponse{}, fmt.Errorf("resolve alias %q: %w", name, err)
	}

	return AliasResponse{Name: name, ID: id.String(), Kind: string(id.Kind)}, nil
}

func (s *Server) handleGetManifest(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ref := request.GetString("id", "")

	m, err := s.resolveManifest(ctx, ref)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("get manifest: %v", err)), nil
	}
	jsonBytes, err := json.Marshal(m)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encode manifest: %v", err)), nil
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleTrace(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ref := request.GetString("id", "")
	format := request.GetString("format", "json")

	id, err := s.resolveID(ctx, ref)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("trace: %v", err)), nil
	}

	g, err := s.lineage.Trace(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("trace %s: %v", id.Short(), err)), nil
	}

	switch format {
	case "mermaid":
		return mcp.NewToolResultText(graph.GenerateMermaid(g)), nil
	case "json":
		jsonBytes, _ := json.Marshal(g)
		return mcp.NewToolResultText(string(jsonBytes)), nil
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown format %q: want json or mermaid", format)), nil
	}
}

func (s *Server) registerResources() {
	// EXPOSE: graft://store/summary
	s.mcpServer.AddResource(mcp.NewResource("graft://store/summary", "Store Summary",
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		manifests, err := s.store.ListManifests(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list manifests: %w", err)
		}
		aliases, err := s.aliases.ListAliases(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list aliases: %w", err)
		}
		summary := map[string]any{
			"manifest_count": len(manifests),
			"alias_count":    len(aliases),
		}
		jsonBytes, _ := json.Marshal(summary)

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      "graft://store/summary",
				MIMEType: "application/json",
				Text:     string(jsonBytes),
			},
		}, nil
	})
}

// resolveID parses ref as a typed id, falling back to alias lookup.
func (s *Server) resolveID(ctx context.Context, ref string) (domain.ID, error) {
	if ref == "" {
		return domain.ID{}, errors.New("an id or alias is required")
	}
	if id, err := domain.ParseID(ref); err == nil {
		return id, nil
	}
	id, err := s.aliases.GetAlias(ctx, ref)
	if err != nil {
		return domain.ID{}, fmt.Errorf("%q is neither a typed id nor a known alias: %w", ref, err)
	}
	return id, nil
}

// resolveManifest loads the manifest behind ref: run ids load directly,
// artifacts resolve through who-built.
func (s *Server) resolveManifest(ctx context.Context, ref string) (*domain.Manifest, error) {
	id, err := s.resolveID(ctx, ref)
	if err != nil {
		return nil, err
	}
	if id.Kind == domain.KindRun {
		return s.store.GetManifest(ctx, id)
	}
	return s.lineage.WhoBuilt(ctx, id)
}
