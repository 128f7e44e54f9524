package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/richinex/scout/tools"
)

const fakeServerEnv = "SCOUT_MCP_FAKE_SERVER"

// TestMain doubles as a minimal MCP server when the env flag is set, so the
// client can be exercised against a real child process.
func TestMain(m *testing.M) {
	if os.Getenv(fakeServerEnv) == "1" {
		serveFake()
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func serveFake() {
	in := bufio.NewScanner(os.Stdin)
	out := json.NewEncoder(os.Stdout)
	for in.Scan() {
		var req struct {
			ID     *uint64        `json:"id"`
			Method string         `json:"method"`
			Params map[string]any `json:"params"`
		}
		if err := json.Unmarshal(in.Bytes(), &req); err != nil || req.ID == nil {
			continue
		}
		// A server log notification precedes every response.
		_ = out.Encode(map[string]any{"jsonrpc": "2.0", "method": "notifications/message", "params": map[string]any{"level": "info"}})

		var result any
		switch req.Method {
		case "initialize":
			result = map[string]any{"protocolVersion": protocolVersion, "capabilities": map[string]any{}}
		case "tools/list":
			result = map[string]any{"tools": []map[string]any{
				{"name": "search_documents", "description": "Search internal docs", "inputSchema": map[string]any{"type": "object"}},
				{"name": "broken"},
			}}
		case "tools/call":
			args, _ := req.Params["arguments"].(map[string]any)
			switch req.Params["name"] {
			case "search_documents":
				result = map[string]any{"content": []map[string]any{
					{"type": "text", "text": fmt.Sprintf("found: %v", args["query"])},
					{"type": "image"},
					{"type": "text", "text": "page 2"},
				}}
			default:
				result = map[string]any{"content": []map[string]any{{"type": "text", "text": "bad input"}}, "isError": true}
			}
		default:
			_ = out.Encode(map[string]any{"jsonrpc": "2.0", "id": *req.ID, "error": map[string]any{"code": -32601, "message": "method not found"}})
			continue
		}
		_ = out.Encode(map[string]any{"jsonrpc": "2.0", "id": *req.ID, "result": result})
	}
}

func fakeServer(t *testing.T) ServerConfig {
	t.Helper()
	exe, err := os.Executable()
	require.NoError(t, err)
	return ServerConfig{
		Command: exe,
		Env:     map[string]string{fakeServerEnv: "1"},
		Tools:   map[string]string{"search_documents": tools.TypeRAGSearch},
	}
}

func TestClientListAndCall(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := StartServer(ctx, fakeServer(t))
	require.NoError(t, err)
	defer client.Close()

	infos, err := client.ListTools(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "search_documents", infos[0].Name)
	assert.Equal(t, "Search internal docs", infos[0].Description)

	res, err := client.CallTool(ctx, "search_documents", map[string]any{"query": "capex"})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, "found: capex\n\npage 2", res.Text())
}

func TestRegisterToolsOnRouter(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	config := tools.DefaultConfig()
	config.MaxRetries = 0
	router := tools.NewRouter(config, tools.NewRegistry())

	session, err := RegisterTools(ctx, router, "docs", fakeServer(t), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer session.Close()

	assert.Equal(t, map[string]string{
		tools.TypeRAGSearch: "search_documents",
		"broken":            "broken",
	}, session.Registered)
	assert.Contains(t, router.AvailableTools(), tools.TypeRAGSearch)

	res := router.Execute(ctx, tools.TypeRAGSearch, map[string]any{"query": "margins"})
	require.True(t, res.OK(), res.Error)
	assert.Equal(t, "found: margins\n\npage 2", res.Data)

	res = router.Execute(ctx, "broken", nil)
	assert.False(t, res.OK())
	assert.Contains(t, res.Error, "bad input")
}

func TestRegisterToolsSkipsTakenTypes(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	router := tools.NewRouter(tools.DefaultConfig(), tools.NewRegistry())
	require.NoError(t, router.Register(tools.TypeRAGSearch, tools.HandlerFunc(func(context.Context, map[string]any) (any, error) {
		return "local", nil
	})))

	session, err := RegisterTools(ctx, router, "docs", fakeServer(t), nil)
	require.NoError(t, err)
	defer session.Close()

	assert.Equal(t, map[string]string{"broken": "broken"}, session.Registered)
}

func TestStartServerMissingCommand(t *testing.T) {
	_, err := StartServer(context.Background(), ServerConfig{Command: filepath.Join(t.TempDir(), "missing")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to start MCP server")
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mcp.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"mcpServers": {
			"web": {"command": "web-mcp"},
			"docs": {"command": "npx", "args": ["-y", "docs-mcp"], "tools": {"search_documents": "rag_search"}}
		}
	}`), 0o644))

	config, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"docs", "web"}, config.ServerNames())
	assert.Equal(t, "rag_search", config.MCPServers["docs"].Tools["search_documents"])
	assert.Equal(t, []string{"-y", "docs-mcp"}, config.MCPServers["docs"].Args)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}
