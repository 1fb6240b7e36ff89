// Package mcp exposes the perftrail read path as Model Context Protocol tools.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"perftrail/internal/analysis"
	"perftrail/internal/cards"
	"perftrail/internal/insight"
	"perftrail/internal/logging"
	"perftrail/internal/models"
	"perftrail/internal/store"
)

// Server defines the MCP capability layer, exposing handler functions to
// connected agents.
type Server struct {
	cards    *cards.Engine
	analyzer *analysis.Analyzer
	narrator *insight.Narrator
	logger   *zap.Logger
}

// New creates a new MCP server wrapper. narrator may be nil.
func New(engine *cards.Engine, anlz *analysis.Analyzer, narrator *insight.Narrator, logger *zap.Logger) *Server {
	return &Server{
		cards:    engine,
		analyzer: anlz,
		narrator: narrator,
		logger:   logging.OrNop(logger).Named("mcp"),
	}
}

// RegisterTools registers the perftrail tools with the MCP server. The
// explain tool is only offered when an insight provider is configured.
func (s *Server) RegisterTools(mcpServer *server.MCPServer) {
	cardTool := mcp.NewTool("get_metric_card",
		mcp.WithDescription("Returns the last 7 days of a metric with its trend against the 7 days before and a daily sparkline."),
		mcp.WithString("kind", mcp.Required(), mcp.Enum("route", "job", "query"), mcp.Description("What the card aggregates")),
		mcp.WithString("metric", mcp.Required(), mcp.Enum("count", "duration", "error_rate", "overview"), mcp.Description("Metric to show, or overview for all of them")),
		mcp.WithString("target", mcp.Description("Route, queue/job or query id. Empty aggregates every target of the kind")),
	)
	mcpServer.AddTool(cardTool, s.HandleGetMetricCard)

	contextTool := mcp.NewTool("get_performance_context",
		mcp.WithDescription("Ranks one recorded operation against comparable recent operations and lists optimization suggestions."),
		mcp.WithString("operation_id", mcp.Required(), mcp.Description("Id of the recorded operation")),
	)
	mcpServer.AddTool(contextTool, s.HandleGetPerformanceContext)

	if s.narrator.Enabled() {
		explainTool := mcp.NewTool("explain_operation",
			mcp.WithDescription("Asks the configured language model to explain an operation's performance."),
			mcp.WithString("operation_id", mcp.Required(), mcp.Description("Id of the recorded operation")),
		)
		mcpServer.AddTool(explainTool, s.HandleExplainOperation)
	}
}

// HandleGetMetricCard renders one card, or every card of a target.
func (s *Server) HandleGetMetricCard(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	kind, err := request.RequireString("kind")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	metric, err := request.RequireString("metric")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	target := request.GetString("target", "")

	var list []cards.Card
	if metric == "overview" {
		list, err = s.cards.Overview(ctx, models.TargetKind(kind), target)
	} else {
		var m cards.Metric
		if m, err = cards.ParseMetric(metric); err == nil {
			var card *cards.Card
			card, err = s.cards.Card(ctx, cards.Request{Kind: models.TargetKind(kind), TargetID: target, Metric: m})
			if card != nil {
				list = []cards.Card{*card}
			}
		}
	}
	if err != nil {
		s.logger.Warn("metric card failed", zap.String("kind", kind), zap.String("metric", metric), zap.Error(err))
		return mcp.NewToolResultError(fmt.Sprintf("Failed to build card: %v", err)), nil
	}

	var b strings.Builder
	for _, c := range list {
		b.WriteString(formatCard(c))
	}
	return mcp.NewToolResultText(b.String()), nil
}

// HandleGetPerformanceContext places one operation in its distribution.
func (s *Server) HandleGetPerformanceContext(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("operation_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	pc, err := s.analyzer.ContextForOperation(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("Operation %s not found", id)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to compute context: %v", err)), nil
	}

	return mcp.NewToolResultText(formatContext(pc)), nil
}

// HandleExplainOperation narrates an operation's performance context.
func (s *Server) HandleExplainOperation(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("operation_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	pc, err := s.analyzer.ContextForOperation(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to compute context: %v", err)), nil
	}

	result, err := s.narrator.Narrate(ctx, pc)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Analysis failed: %v", err)), nil
	}
	return mcp.NewToolResultText(result.Narrative), nil
}

func formatCard(c cards.Card) string {
	target := c.TargetID
	if target == "" {
		target = "all " + string(c.Kind) + "s"
	}

	values := c.Sparkline.Values()
	series := make([]string, len(values))
	for i, v := range values {
		series[i] = fmt.Sprintf("%g", v)
	}

	return fmt.Sprintf("%s (%s): %s, %s vs previous 7 days\n  daily: %s\n",
		c.Metric, target, c.Display, cards.FormatTrend(c.Trend), strings.Join(series, " "))
}

func formatContext(pc *analysis.PerformanceContext) string {
	op := pc.Operation
	report := fmt.Sprintf("%s %q took %.1fms\n", op.Type, op.Label, pc.DurationMs)
	if pc.Stats.SampleSize == 0 {
		report += "No comparable operations recorded yet.\n"
	} else {
		report += fmt.Sprintf("Percentile %.1f of %d comparable operations (min %.1fms, avg %.1fms, max %.1fms)\n",
			pc.Percentile, pc.Stats.SampleSize, pc.Stats.Min, pc.Stats.Avg, pc.Stats.Max)
	}

	for _, sg := range pc.Suggestions {
		report += fmt.Sprintf("- %s: %s\n", sg.Title, sg.Action)
	}
	return report
}
