package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/richinex/scout/internal/logging"
	"github.com/richinex/scout/tools"
)

// Handler exposes one MCP tool as a tools.Handler.
type Handler struct {
	client      *Client
	name        string
	description string
}

// NewHandler wraps the named tool on client.
func NewHandler(client *Client, info ToolInfo) *Handler {
	return &Handler{client: client, name: info.Name, description: info.Description}
}

// Description implements tools.Describer.
func (h *Handler) Description() string {
	return h.description
}

// Call implements tools.Handler. Text content items are joined with blank
// lines; a result flagged isError becomes an error.
func (h *Handler) Call(ctx context.Context, params map[string]any) (any, error) {
	result, err := h.client.CallTool(ctx, h.name, params)
	if err != nil {
		return nil, fmt.Errorf("mcp tool %s: %w", h.name, err)
	}

	text := result.Text()
	if result.IsError {
		if text == "" {
			text = "tool reported an error"
		}
		return nil, fmt.Errorf("mcp tool %s: %s", h.name, text)
	}
	if text == "" {
		return nil, nil
	}
	return text, nil
}

// Text joins the text content items.
func (r CallResult) Text() string {
	var parts []string
	for _, c := range r.Content {
		if c.Type == "text" && c.Text != "" {
			parts = append(parts, c.Text)
		}
	}
	return strings.Join(parts, "\n\n")
}

// Session is a running server whose tools are registered on a router.
// The caller must Close it when done.
type Session struct {
	Name   string
	client *Client
	// Registered maps router tool types to MCP tool names.
	Registered map[string]string
}

// Close stops the server.
func (s *Session) Close() error {
	return s.client.Close()
}

// RegisterTools starts server, lists its tools and registers each on router.
// A tool whose router type is already taken is skipped with a warning.
func RegisterTools(ctx context.Context, router *tools.Router, name string, server ServerConfig, logger *zap.Logger) (*Session, error) {
	logger = logging.OrNop(logger)

	client, err := StartServer(ctx, server)
	if err != nil {
		return nil, fmt.Errorf("mcp server %s: %w", name, err)
	}

	infos, err := client.ListTools(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("mcp server %s: failed to list tools: %w", name, err)
	}

	session := &Session{Name: name, client: client, Registered: map[string]string{}}
	for _, info := range infos {
		toolType := info.Name
		if mapped, ok := server.Tools[info.Name]; ok && mapped != "" {
			toolType = mapped
		}
		h := tools.WithDescription(NewHandler(client, info), info.Description)
		if err := router.Register(toolType, h); err != nil {
			logger.Warn("mcp_tool_skipped",
				zap.String("server", name),
				zap.String("tool", info.Name),
				zap.Error(err),
			)
			continue
		}
		session.Registered[toolType] = info.Name
		logger.Info("mcp_tool_registered",
			zap.String("server", name),
			zap.String("tool", info.Name),
			zap.String("tool_type", toolType),
		)
	}

	if len(session.Registered) == 0 {
		client.Close()
		return nil, fmt.Errorf("mcp server %s: %w", name, ErrNoTools)
	}
	return session, nil
}

// ErrNoTools is returned when a server offers nothing that could be registered.
var ErrNoTools = errors.New("no tools registered")
