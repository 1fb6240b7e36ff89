// Package remediation provides a fast, rule-based engine for suggesting
// fixes to slow or wasteful operations.
package remediation

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"perftrail/internal/config"
	"perftrail/internal/models"
)

// Suggestion is an advisory produced by one rule.
type Suggestion struct {
	Rule        string `json:"rule"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Action      string `json:"action"`
}

// Thresholds tune the rules. A zero duration disables the matching slow rule.
type Thresholds struct {
	SlowSQL         time.Duration
	SlowView        time.Duration
	SlowHTTP        time.Duration
	RepeatThreshold int
}

// ThresholdsFrom reads the rule thresholds from the analysis config.
func ThresholdsFrom(cfg config.AnalysisConfig) Thresholds {
	return Thresholds{
		SlowSQL:         time.Duration(cfg.SlowSQLMs) * time.Millisecond,
		SlowView:        time.Duration(cfg.SlowViewMs) * time.Millisecond,
		SlowHTTP:        time.Duration(cfg.SlowHTTPMs) * time.Millisecond,
		RepeatThreshold: cfg.RepeatThreshold,
	}
}

// Rule inspects one operation together with the other operations of its
// trace and returns a suggestion, or nil.
type Rule struct {
	Name  string
	Check func(op *models.Operation, siblings []models.Operation, th Thresholds) *Suggestion
}

// Engine evaluates operations against a fixed table of rules keyed by
// operation type. It has no side effects.
type Engine struct {
	th    Thresholds
	rules map[models.OperationType][]Rule
}

// NewEngine initializes the engine with the built-in rule table.
func NewEngine(th Thresholds) *Engine {
	if th.RepeatThreshold < 2 {
		th.RepeatThreshold = 2
	}
	return &Engine{
		th: th,
		rules: map[models.OperationType][]Rule{
			models.OperationSQL:        {slowQueryRule, nPlusOneRule, selectStarRule, missingLimitRule},
			models.OperationView:       {slowViewRule, collectionRenderRule},
			models.OperationController: {databaseBoundRule},
			models.OperationCache:      {cacheMissRule},
			models.OperationHTTP:       {slowHTTPRule, repeatedHTTPRule},
		},
	}
}

// GetSuggestions runs every rule registered for the operation's type.
// siblings holds every operation of op's trace, op included. Suggestions
// come back in rule table order.
func (e *Engine) GetSuggestions(op *models.Operation, siblings []models.Operation) []Suggestion {
	var suggestions []Suggestion
	for _, rule := range e.rules[op.Type] {
		if s := rule.Check(op, siblings, e.th); s != nil {
			s.Rule = rule.Name
			suggestions = append(suggestions, *s)
		}
	}
	return suggestions
}

var (
	selectStar  = regexp.MustCompile(`(?i)^\s*select\s+(\w+\.)?\*`)
	selectStmt  = regexp.MustCompile(`(?i)^\s*select\b`)
	limitClause = regexp.MustCompile(`(?i)\blimit\b|\bfetch\s+first\b|\btop\s*\(?\s*\?`)
	aggregate   = regexp.MustCompile(`(?i)\b(count|sum|avg|min|max)\s*\(`)
	whereClause = regexp.MustCompile(`(?i)\bwhere\b`)
)

func statement(op *models.Operation) string {
	if s := op.Metadata["sql"]; s != "" {
		return s
	}
	return op.Label
}

func fmtMs(d time.Duration) string {
	return fmt.Sprintf("%d ms", d.Milliseconds())
}

var slowQueryRule = Rule{
	Name: "slow_query",
	Check: func(op *models.Operation, _ []models.Operation, th Thresholds) *Suggestion {
		if th.SlowSQL <= 0 || op.Duration < th.SlowSQL {
			return nil
		}
		return &Suggestion{
			Title:       "Slow database query",
			Description: fmt.Sprintf("Query took %s, above the %s threshold.", fmtMs(op.Duration), fmtMs(th.SlowSQL)),
			Action:      "Run EXPLAIN on the statement and add an index covering its filter and sort columns.",
		}
	},
}

var nPlusOneRule = Rule{
	Name: "n_plus_one",
	Check: func(op *models.Operation, siblings []models.Operation, th Thresholds) *Suggestion {
		if op.QueryID == "" {
			return nil
		}
		n := 0
		for i := range siblings {
			if siblings[i].QueryID == op.QueryID {
				n++
			}
		}
		if n < th.RepeatThreshold {
			return nil
		}
		return &Suggestion{
			Title:       "Repeated query (N+1)",
			Description: fmt.Sprintf("The same query ran %d times in one trace.", n),
			Action:      "Load the records in one query with a join or an IN list instead of once per item.",
		}
	},
}

var selectStarRule = Rule{
	Name: "select_star",
	Check: func(op *models.Operation, _ []models.Operation, _ Thresholds) *Suggestion {
		if !selectStar.MatchString(statement(op)) {
			return nil
		}
		return &Suggestion{
			Title:       "SELECT * fetches every column",
			Description: "Wide rows cost I/O and memory for columns the caller may never read.",
			Action:      "List only the columns the code uses.",
		}
	},
}

var missingLimitRule = Rule{
	Name: "missing_limit",
	Check: func(op *models.Operation, _ []models.Operation, _ Thresholds) *Suggestion {
		sql := statement(op)
		if !selectStmt.MatchString(sql) || limitClause.MatchString(sql) || aggregate.MatchString(sql) || whereClause.MatchString(sql) {
			return nil
		}
		return &Suggestion{
			Title:       "Unbounded SELECT",
			Description: "The query reads a whole table without a WHERE or LIMIT clause.",
			Action:      "Paginate the result or add a LIMIT.",
		}
	},
}

var slowViewRule = Rule{
	Name: "slow_view",
	Check: func(op *models.Operation, _ []models.Operation, th Thresholds) *Suggestion {
		if th.SlowView <= 0 || op.Duration < th.SlowView {
			return nil
		}
		return &Suggestion{
			Title:       "Slow template render",
			Description: fmt.Sprintf("Rendering took %s, above the %s threshold.", fmtMs(op.Duration), fmtMs(th.SlowView)),
			Action:      "Cache the rendered fragment or move data loading out of the template.",
		}
	},
}

var collectionRenderRule = Rule{
	Name: "collection_render",
	Check: func(op *models.Operation, siblings []models.Operation, th Thresholds) *Suggestion {
		n := 0
		for i := range siblings {
			if siblings[i].Type == models.OperationView && siblings[i].ParentSpanID == op.ID {
				n++
			}
		}
		if n < th.RepeatThreshold {
			return nil
		}
		return &Suggestion{
			Title:       "Partial rendered in a loop",
			Description: fmt.Sprintf("%d nested templates were rendered one at a time.", n),
			Action:      "Render the collection in a single call or cache each item.",
		}
	},
}

var databaseBoundRule = Rule{
	Name: "database_bound",
	Check: func(op *models.Operation, siblings []models.Operation, _ Thresholds) *Suggestion {
		if op.Duration <= 0 {
			return nil
		}
		var inSQL time.Duration
		for i := range siblings {
			if siblings[i].Type == models.OperationSQL && siblings[i].ParentSpanID == op.ID {
				inSQL += siblings[i].Duration
			}
		}
		if inSQL*2 <= op.Duration {
			return nil
		}
		return &Suggestion{
			Title:       "Action dominated by database time",
			Description: fmt.Sprintf("%s of %s was spent in queries.", fmtMs(inSQL), fmtMs(op.Duration)),
			Action:      "Review the queries issued by this action; batching or caching them has the largest effect.",
		}
	},
}

var cacheMissRule = Rule{
	Name: "cache_miss",
	Check: func(op *models.Operation, _ []models.Operation, _ Thresholds) *Suggestion {
		if !strings.EqualFold(op.Metadata["hit"], "false") {
			return nil
		}
		return &Suggestion{
			Title:       "Cache miss",
			Description: fmt.Sprintf("Key %q was not found in the cache.", op.Label),
			Action:      "Check the key's expiry and whether it is written before it is read.",
		}
	},
}

var slowHTTPRule = Rule{
	Name: "slow_http",
	Check: func(op *models.Operation, _ []models.Operation, th Thresholds) *Suggestion {
		if th.SlowHTTP <= 0 || op.Duration < th.SlowHTTP {
			return nil
		}
		return &Suggestion{
			Title:       "Slow outbound HTTP call",
			Description: fmt.Sprintf("The call took %s, above the %s threshold.", fmtMs(op.Duration), fmtMs(th.SlowHTTP)),
			Action:      "Set a client timeout and move the call to a background job if the response is not needed inline.",
		}
	},
}

var repeatedHTTPRule = Rule{
	Name: "repeated_http",
	Check: func(op *models.Operation, siblings []models.Operation, th Thresholds) *Suggestion {
		n := 0
		for i := range siblings {
			if siblings[i].Type == models.OperationHTTP && siblings[i].Label == op.Label {
				n++
			}
		}
		if n < th.RepeatThreshold {
			return nil
		}
		return &Suggestion{
			Title:       "Repeated outbound call",
			Description: fmt.Sprintf("%q was called %d times in one trace.", op.Label, n),
			Action:      "Batch the requests or memoize the response for the duration of the trace.",
		}
	},
}
