package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/agrisense/agrisensed/internal/advisor"
	"github.com/agrisense/agrisensed/internal/rules"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Advisor       Advisor
	Notifications Notifications
	Version       string
}

// NewMCPServer creates an MCP server exposing the advisor and the
// notification log to local assistants.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"agrisensed",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("agrisensed: farm advisory answers that keep working offline, plus the farmer's notification log."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask_farming_question",
			mcp.WithDescription("Ask the farming advisor a question. Falls back to offline rules when no provider is reachable."),
			mcp.WithString("question", mcp.Description("The farmer's question"), mcp.Required()),
			mcp.WithString("language", mcp.Description("Answer language (default English)")),
		),
		mcpAsk(deps),
	)

	s.AddTool(
		mcp.NewTool("recommend_actions",
			mcp.WithDescription("Turn a field sensor snapshot into up to three prioritized actions."),
			mcp.WithNumber("moisture", mcp.Description("Soil moisture percent"), mcp.Required()),
			mcp.WithNumber("temperature", mcp.Description("Air temperature in °C"), mcp.Required()),
			mcp.WithNumber("ph", mcp.Description("Soil pH"), mcp.Required()),
			mcp.WithString("nutrient_level", mcp.Description("Low, Medium or High"), mcp.Required()),
			mcp.WithString("crop_type", mcp.Description("Crop grown in the field")),
			mcp.WithString("location", mcp.Description("Farm location")),
		),
		mcpRecommend(deps),
	)

	s.AddTool(
		mcp.NewTool("list_notifications",
			mcp.WithDescription("List the in-app notification log, newest first."),
			mcp.WithBoolean("unread_only", mcp.Description("Only return unread notifications")),
		),
		mcpListNotifications(deps),
	)

	s.AddTool(
		mcp.NewTool("mark_notifications_read",
			mcp.WithDescription("Mark every notification as read."),
		),
		mcpMarkRead(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"agrisense://notifications",
			"Notifications",
			mcp.WithResourceDescription("Current notification log as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceNotifications(deps),
	)

	return s
}

func mcpAsk(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil || question == "" {
			return mcpError("question is required"), nil
		}
		ans, err := deps.Advisor.Ask(ctx, advisor.ChatInput{
			Question: question,
			Language: req.GetString("language", ""),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("advisor failed: %v", err)), nil
		}
		if ans.Source == advisor.SourceOffline {
			return mcpText("[offline] " + ans.Answer), nil
		}
		return mcpText(ans.Answer), nil
	}
}

func mcpRecommend(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		moisture, err := req.RequireFloat("moisture")
		if err != nil {
			return mcpError("moisture is required"), nil
		}
		temp, err := req.RequireFloat("temperature")
		if err != nil {
			return mcpError("temperature is required"), nil
		}
		ph, err := req.RequireFloat("ph")
		if err != nil {
			return mcpError("ph is required"), nil
		}
		level, err := req.RequireString("nutrient_level")
		if err != nil {
			return mcpError("nutrient_level is required"), nil
		}
		tier, err := rules.ParseNutrientTier(level)
		if err != nil {
			return mcpError(err.Error()), nil
		}

		recs, err := deps.Advisor.Recommend(ctx, advisor.RecommendInput{
			Snapshot: rules.Snapshot{Moisture: moisture, Temperature: temp, PH: ph, Nutrient: tier},
			Crop:     req.GetString("crop_type", ""),
			Location: req.GetString("location", ""),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("recommendation failed: %v", err)), nil
		}

		b, err := json.Marshal(recs)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal recommendations: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpListNotifications(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		records, err := deps.Notifications.List(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("listing notifications failed: %v", err)), nil
		}
		if req.GetBool("unread_only", false) {
			unread := records[:0:0]
			for _, rec := range records {
				if !rec.Read {
					unread = append(unread, rec)
				}
			}
			records = unread
		}
		if len(records) == 0 {
			return mcpText("[]"), nil
		}

		b, err := json.Marshal(records)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal notifications: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpMarkRead(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if err := deps.Notifications.MarkAllRead(ctx); err != nil {
			return mcpError(fmt.Sprintf("failed to mark read: %v", err)), nil
		}
		return mcpText("All notifications marked as read"), nil
	}
}

func mcpResourceNotifications(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		records, err := deps.Notifications.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list notifications: %w", err)
		}
		unread, err := deps.Notifications.UnreadCount(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to count unread: %w", err)
		}

		b, err := json.Marshal(map[string]any{"notifications": records, "unread": unread})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal notifications: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: text,
			},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: msg,
			},
		},
		IsError: true,
	}
}
