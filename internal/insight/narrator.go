// Package insight asks a language model to explain an operation's
// performance context in plain words.
package insight

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"perftrail/internal/analysis"
	"perftrail/internal/logging"
	"perftrail/internal/models"
	"perftrail/pkg/llm"
)

// ErrDisabled is returned when no provider is configured.
var ErrDisabled = errors.New("insights are disabled")

// Options carries the optional collaborators of a Narrator.
type Options struct {
	Logger *zap.Logger
	Now    func() time.Time
}

// Narrator turns a performance context into an Insight. A nil provider
// disables it.
type Narrator struct {
	provider llm.Provider
	logger   *zap.Logger
	now      func() time.Time
}

// New creates a narrator over provider, which may be nil.
func New(provider llm.Provider, opts Options) *Narrator {
	n := &Narrator{
		provider: provider,
		logger:   logging.OrNop(opts.Logger).Named("insight"),
		now:      opts.Now,
	}
	if n.now == nil {
		n.now = time.Now
	}
	return n
}

// Enabled reports whether a provider is configured.
func (n *Narrator) Enabled() bool {
	return n != nil && n.provider != nil
}

// Narrate asks the provider to explain pc.
func (n *Narrator) Narrate(ctx context.Context, pc *analysis.PerformanceContext) (*models.Insight, error) {
	if !n.Enabled() {
		return nil, ErrDisabled
	}

	start := n.now()
	response, err := n.provider.Analyze(ctx, buildPrompt(pc))
	if err != nil {
		n.logger.Warn("insight generation failed",
			zap.String("provider", n.provider.Name()),
			zap.String("operation_id", pc.Operation.ID),
			zap.Error(err))
		return nil, fmt.Errorf("LLM analysis failed: %w", err)
	}

	n.logger.Debug("insight generated",
		zap.String("provider", n.provider.Name()),
		zap.String("operation_id", pc.Operation.ID),
		zap.Duration("took", n.now().Sub(start)))

	return &models.Insight{
		ID:          uuid.New().String(),
		OperationID: pc.Operation.ID,
		Provider:    n.provider.Name(),
		Narrative:   strings.TrimSpace(response),
		GeneratedAt: n.now().UTC(),
	}, nil
}

func buildPrompt(pc *analysis.PerformanceContext) string {
	op := pc.Operation
	return fmt.Sprintf(`
An application operation was recorded. Explain in a short paragraph whether it is slow compared to its history and what is most likely to make it faster.

OPERATION:
- Type: %s
- Label: %s
- Duration: %.1fms
%s
HISTORY (%d comparable operations):
- Percentile: %.1f
- Min: %.1fms
- Avg: %.1fms
- Max: %.1fms

RULE FINDINGS:
%s`,
		op.Type,
		truncate(op.Label, 120),
		pc.DurationMs,
		formatStatement(op),
		pc.Stats.SampleSize,
		pc.Percentile,
		pc.Stats.Min,
		pc.Stats.Avg,
		pc.Stats.Max,
		formatSuggestions(pc),
	)
}

func formatStatement(op *models.Operation) string {
	sql := op.Metadata["sql"]
	if sql == "" {
		return ""
	}
	return fmt.Sprintf("- SQL: %s\n", truncate(sql, 500))
}

func formatSuggestions(pc *analysis.PerformanceContext) string {
	if len(pc.Suggestions) == 0 {
		return "None."
	}

	var b strings.Builder
	for _, s := range pc.Suggestions {
		fmt.Fprintf(&b, "- %s: %s %s\n", s.Title, s.Description, s.Action)
	}
	return b.String()
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
