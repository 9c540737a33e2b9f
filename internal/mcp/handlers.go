package mcp

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/nvandessel/dbmon/internal/constants"
	"github.com/nvandessel/dbmon/internal/models"
	"github.com/nvandessel/dbmon/internal/publish"
	"github.com/nvandessel/dbmon/internal/ratelimit"
)

// Resource URIs.
const (
	DatabasesURI      = "dbmon://databases"
	databaseURIPrefix = DatabasesURI + "/"
)

// errWarmingUp is returned before the monitor has published anything.
var errWarmingUp = errors.New("no samples yet, the monitor has not completed a tick")

// registerTools registers all dbmon MCP tools with the server.
func (s *Server) registerTools() {
	sdk.AddTool(s.server, &sdk.Tool{
		Name:        ratelimit.ToolSources,
		Description: "List monitored database sources with a summary of their most recent activity sample",
	}, s.handleSources)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        ratelimit.ToolHistory,
		Description: "Get the rolling window of recent activity samples for one database source",
	}, s.handleHistory)
}

// registerResources registers the state overview and per-source resources.
func (s *Server) registerResources() {
	s.server.AddResource(&sdk.Resource{
		URI:         DatabasesURI,
		Name:        "dbmon-databases",
		Description: "Overview of every monitored database source and its latest activity.",
		MIMEType:    "text/markdown",
	}, s.handleDatabasesResource)

	s.server.AddResourceTemplate(&sdk.ResourceTemplate{
		URITemplate: databaseURIPrefix + "{name}",
		Name:        "dbmon-database",
		Description: "Recent activity samples for a single database source.",
		MIMEType:    "text/markdown",
	}, s.handleDatabaseResource)
}

// handleSources implements the dbmon_sources tool.
func (s *Server) handleSources(ctx context.Context, req *sdk.CallToolRequest, args SourcesInput) (_ *sdk.CallToolResult, _ SourcesOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.audit(ratelimit.ToolSources, start, retErr, auditParams(map[string]any{"limit": args.Limit}))
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, ratelimit.ToolSources); err != nil {
		return nil, SourcesOutput{}, err
	}
	if args.Limit < 0 {
		return nil, SourcesOutput{}, fmt.Errorf("limit must be non-negative, got %d", args.Limit)
	}

	state, err := s.state()
	if err != nil {
		return nil, SourcesOutput{}, err
	}

	summaries := summarizeAll(state)
	if args.Limit > 0 {
		slices.SortStableFunc(summaries, busiestFirst)
		if args.Limit < len(summaries) {
			summaries = summaries[:args.Limit]
		}
	}

	return nil, SourcesOutput{
		Tick:    state.Tick,
		Sources: summaries,
		Count:   len(summaries),
	}, nil
}

// handleHistory implements the dbmon_history tool.
func (s *Server) handleHistory(ctx context.Context, req *sdk.CallToolRequest, args HistoryInput) (_ *sdk.CallToolResult, _ HistoryOutput, retErr error) {
	start := time.Now()
	defer func() {
		s.audit(ratelimit.ToolHistory, start, retErr, auditParams(map[string]any{"name": args.Name}))
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, ratelimit.ToolHistory); err != nil {
		return nil, HistoryOutput{}, err
	}
	if strings.TrimSpace(args.Name) == "" {
		return nil, HistoryOutput{}, errors.New("name is required")
	}

	state, err := s.state()
	if err != nil {
		return nil, HistoryOutput{}, err
	}

	h, ok := state.Source(args.Name)
	if !ok {
		return nil, HistoryOutput{}, fmt.Errorf("unknown source: %s", args.Name)
	}

	return nil, HistoryOutput{Tick: state.Tick, History: h}, nil
}

// handleDatabasesResource renders every source's latest sample as markdown.
func (s *Server) handleDatabasesResource(ctx context.Context, req *sdk.ReadResourceRequest) (_ *sdk.ReadResourceResult, retErr error) {
	start := time.Now()
	defer func() {
		s.audit(ratelimit.ResourceReads, start, retErr, auditParams(map[string]any{"uri": DatabasesURI}))
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, ratelimit.ResourceReads); err != nil {
		return nil, err
	}

	state, err := s.state()
	if err != nil {
		return markdown(DatabasesURI, "# Database Activity\n\nNo samples yet. The monitor has not completed a tick.\n"), nil
	}

	var sb strings.Builder
	sb.WriteString("# Database Activity\n\n")
	fmt.Fprintf(&sb, "Tick %d, %d sources.\n\n", state.Tick, len(state.Databases))
	sb.WriteString("| Source | Role | Samples | Queries | Longest (s) | Waiting |\n")
	sb.WriteString("| --- | --- | ---: | ---: | ---: | ---: |\n")
	for _, sum := range summarizeAll(state) {
		fmt.Fprintf(&sb, "| %s | %s | %d | %d | %.2f | %d |\n",
			sum.Name, sum.Role, sum.Samples, sum.Queries, sum.LongestElapsed, sum.Waiting)
	}
	fmt.Fprintf(&sb, "\n---\n*Full history via %s{name}*\n", databaseURIPrefix)

	return markdown(DatabasesURI, sb.String()), nil
}

// handleDatabaseResource renders one source's rolling history as markdown.
// URI format: dbmon://databases/{name}
func (s *Server) handleDatabaseResource(ctx context.Context, req *sdk.ReadResourceRequest) (_ *sdk.ReadResourceResult, retErr error) {
	start := time.Now()
	uri := req.Params.URI
	defer func() {
		s.audit(ratelimit.ResourceReads, start, retErr, auditParams(map[string]any{"uri": uri}))
	}()

	if err := ratelimit.CheckLimit(s.toolLimiters, ratelimit.ResourceReads); err != nil {
		return nil, err
	}

	name, ok := strings.CutPrefix(uri, databaseURIPrefix)
	if !ok || name == "" {
		return nil, fmt.Errorf("invalid URI format: %s", uri)
	}

	state, err := s.state()
	if err != nil {
		return nil, err
	}
	h, ok := state.Source(name)
	if !ok {
		return nil, sdk.ResourceNotFoundError(uri)
	}

	return markdown(uri, renderHistory(h)), nil
}

func (s *Server) state() (models.State, error) {
	state, err := s.latest.Get()
	if errors.Is(err, publish.ErrNoState) {
		return models.State{}, errWarmingUp
	}
	return state, err
}

func renderHistory(h models.SourceHistory) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Source: %s\n\n", h.Name)
	fmt.Fprintf(&sb, "**Role:** %s\n", constants.RoleOf(h.Name))
	fmt.Fprintf(&sb, "**Samples:** %d of %d\n", len(h.Samples), constants.MaxSamplesPerSource)

	// Newest first reads better for humans.
	for i := len(h.Samples) - 1; i >= 0; i-- {
		sample := h.Samples[i]
		when := time.Unix(0, int64(sample.Time*1e9)).UTC().Format(time.RFC3339Nano)
		fmt.Fprintf(&sb, "\n## Sample at %s\n\n", when)
		sb.WriteString("| Elapsed (s) | Waiting | Query |\n")
		sb.WriteString("| ---: | --- | --- |\n")
		for _, q := range sample.Queries {
			fmt.Fprintf(&sb, "| %.2f | %t | `%s` |\n", q.Elapsed, q.Waiting, q.Query)
		}
	}
	return sb.String()
}

func markdown(uri, text string) *sdk.ReadResourceResult {
	return &sdk.ReadResourceResult{
		Contents: []*sdk.ResourceContents{
			{
				URI:      uri,
				MIMEType: "text/markdown",
				Text:     text,
			},
		},
	}
}

// summarizeAll returns summaries in first-seen order.
func summarizeAll(state models.State) []SourceSummary {
	names := state.Order
	if len(names) != len(state.Databases) {
		names = make([]string, 0, len(state.Databases))
		for name := range state.Databases {
			names = append(names, name)
		}
		slices.Sort(names)
	}

	out := make([]SourceSummary, 0, len(names))
	for _, name := range names {
		if h, ok := state.Databases[name]; ok {
			out = append(out, summarize(h))
		}
	}
	return out
}

func summarize(h models.SourceHistory) SourceSummary {
	sum := SourceSummary{
		Name:    h.Name,
		Role:    constants.RoleOf(h.Name).String(),
		Samples: len(h.Samples),
	}

	latest, ok := h.Latest()
	if !ok {
		return sum
	}
	sum.Queries = len(latest.Queries)
	for _, q := range latest.Queries {
		sum.LongestElapsed = max(sum.LongestElapsed, q.Elapsed)
		if q.Waiting {
			sum.Waiting++
		}
		switch {
		case q.IsIdle():
			sum.Idle++
		case q.IsVacuum():
			sum.Vacuum++
		}
	}
	return sum
}

func busiestFirst(a, b SourceSummary) int {
	if c := cmp.Compare(b.Queries, a.Queries); c != 0 {
		return c
	}
	return cmp.Compare(b.LongestElapsed, a.LongestElapsed)
}
