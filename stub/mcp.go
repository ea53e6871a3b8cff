package stub

import (
	"context"
	"fmt"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mykhaliev/answer-checker/logger"
	"github.com/mykhaliev/answer-checker/model"
	"github.com/mykhaliev/answer-checker/version"
)

// ============================================================================
// MCP MIRROR
// ============================================================================

// mcpHandler exposes the active stub rules as MCP tools over streamable
// HTTP, for agents that consume their tools through an MCP client instead
// of plain REST. The underlying MCP server is rebuilt on every rule swap so
// the advertised tool list always matches the active test.
func (s *Service) mcpHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.buildMCPServer(s.currentRules()).ServeHTTP(w, r)
	})
}

func (s *Service) buildMCPServer(rules RuleSet) http.Handler {
	mcpServer := server.NewMCPServer("answer-checker-stubs", version.Version,
		server.WithToolCapabilities(false),
	)

	for _, name := range rules.ToolNames() {
		toolRules := rules.rulesFor(name)
		tool := mcp.NewTool(name,
			mcp.WithDescription(fmt.Sprintf("Stubbed tool with %d matcher rule(s)", len(toolRules))),
		)
		mcpServer.AddTool(tool, toolCallHandler(name, toolRules))
	}

	return server.NewStreamableHTTPServer(mcpServer, server.WithStateLess(true))
}

func toolCallHandler(name string, rules []model.ToolStubRule) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		for i, rule := range rules {
			if !ruleMatches(rule, args) {
				continue
			}
			logger.Logger.Debug("Stub rule matched via MCP", "tool", name, "rule", i)
			body, err := ResolveResponse(rule)
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			text, err := sonic.MarshalString(body)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("failed to encode stub response: %v", err)), nil
			}
			return mcp.NewToolResultText(text), nil
		}
		logger.Logger.Warn("Unmatched stub call via MCP", "tool", name)
		return mcp.NewToolResultError(fmt.Sprintf("no stub rule matched the arguments for tool %q", name)), nil
	}
}
