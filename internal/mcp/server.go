// Package mcp exposes the snapshot pipelines as MCP tools over stdio,
// so coding agents can interrogate build health without farm
// credentials of their own. Every tool is read-only: nothing here
// rotates projects, promotes snapshots, or writes to the tracker.
package mcp

import (
	"context"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"snapwatch/internal/rebuild"
	"snapwatch/internal/runner"
)

// Pipelines is the runner surface the tools consume.
type Pipelines interface {
	Today() string
	Health(ctx context.Context, strategy, day string) (runner.CheckSummary, error)
	Failures(ctx context.Context, strategy, day string) (runner.CheckSummary, error)
	RebuildCheck(ctx context.Context) (rebuild.Result, error)
}

// Server wraps the MCP SDK server around the snapshot pipelines.
type Server struct {
	MCPServer *sdkmcp.Server
	pipelines Pipelines
}

// NewServer creates an MCP server exposing the read-only snapshot tools.
func NewServer(p Pipelines, version string) *Server {
	s := &Server{pipelines: p}
	s.MCPServer = sdkmcp.NewServer(
		&sdkmcp.Implementation{Name: "snapwatch", Version: version},
		nil,
	)
	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "snapshot_health",
		Description: "Evaluate a snapshot strategy's build matrix: all-good, in-progress, or unhealthy, with failing/pending/missing counts.",
	}, s.handleSnapshotHealth)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "list_failures",
		Description: "List the classified build failures of a snapshot: package, chroot, failure cause, log link and evidence excerpt.",
	}, s.handleListFailures)

	sdkmcp.AddTool(s.MCPServer, &sdkmcp.Tool{
		Name:        "campaign_status",
		Description: "Check the mass-rebuild campaign: still running, nothing to report, or a new report with the regressed packages.",
	}, s.handleCampaignStatus)
}

// --- Tool input/output types ---

type snapshotHealthInput struct {
	Strategy string `json:"strategy" jsonschema:"snapshot strategy name from the configuration"`
	Day      string `json:"day,omitempty" jsonschema:"snapshot day as YYYYMMDD, defaults to today (UTC)"`
}

type snapshotHealthOutput struct {
	Strategy string `json:"strategy"`
	Day      string `json:"day"`
	Project  string `json:"project"`
	Verdict  string `json:"verdict"`
	Failing  int    `json:"failing"`
	Pending  int    `json:"pending"`
	Missing  int    `json:"missing"`
	Summary  string `json:"summary"`
}

type listFailuresInput struct {
	Strategy string `json:"strategy" jsonschema:"snapshot strategy name from the configuration"`
	Day      string `json:"day,omitempty" jsonschema:"snapshot day as YYYYMMDD, defaults to today (UTC)"`
}

type failureItem struct {
	Package  string `json:"package"`
	Chroot   string `json:"chroot"`
	Cause    string `json:"cause"`
	LogURL   string `json:"log_url,omitempty"`
	Evidence string `json:"evidence,omitempty"`
}

type listFailuresOutput struct {
	Project  string        `json:"project"`
	Verdict  string        `json:"verdict"`
	Failures []failureItem `json:"failures"`
}

type campaignStatusInput struct{}

type regressionItem struct {
	Package string   `json:"package"`
	Chroots []string `json:"chroots"`
	URL     string   `json:"url,omitempty"`
}

type campaignStatusOutput struct {
	Outcome      string           `json:"outcome"`
	SnapshotTime string           `json:"snapshot_time,omitempty"`
	Regressions  []regressionItem `json:"regressions,omitempty"`
}

// --- Tool handlers ---

func (s *Server) handleSnapshotHealth(ctx context.Context, _ *sdkmcp.CallToolRequest, input snapshotHealthInput) (*sdkmcp.CallToolResult, snapshotHealthOutput, error) {
	day := input.Day
	if day == "" {
		day = s.pipelines.Today()
	}
	sum, err := s.pipelines.Health(ctx, input.Strategy, day)
	if err != nil {
		return nil, snapshotHealthOutput{}, err
	}
	return nil, snapshotHealthOutput{
		Strategy: sum.Strategy,
		Day:      sum.Day,
		Project:  sum.Project,
		Verdict:  sum.Result.Verdict.String(),
		Failing:  len(sum.Result.Failing),
		Pending:  len(sum.Result.Pending),
		Missing:  len(sum.Result.Missing),
		Summary:  sum.Result.Summary(),
	}, nil
}

func (s *Server) handleListFailures(ctx context.Context, _ *sdkmcp.CallToolRequest, input listFailuresInput) (*sdkmcp.CallToolResult, listFailuresOutput, error) {
	day := input.Day
	if day == "" {
		day = s.pipelines.Today()
	}
	sum, err := s.pipelines.Failures(ctx, input.Strategy, day)
	if err != nil {
		return nil, listFailuresOutput{}, err
	}
	out := listFailuresOutput{
		Project:  sum.Project,
		Verdict:  sum.Result.Verdict.String(),
		Failures: []failureItem{},
	}
	for _, e := range sum.Entries {
		out.Failures = append(out.Failures, failureItem{
			Package:  e.Package,
			Chroot:   e.Chroot,
			Cause:    string(e.Cause),
			LogURL:   e.LogURL,
			Evidence: e.Evidence,
		})
	}
	return nil, out, nil
}

func (s *Server) handleCampaignStatus(ctx context.Context, _ *sdkmcp.CallToolRequest, _ campaignStatusInput) (*sdkmcp.CallToolResult, campaignStatusOutput, error) {
	res, err := s.pipelines.RebuildCheck(ctx)
	if err != nil {
		return nil, campaignStatusOutput{}, err
	}
	out := campaignStatusOutput{Outcome: res.Outcome.String()}
	if res.Outcome == rebuild.NewReport {
		out.SnapshotTime = res.Report.SnapshotTime.UTC().Format(time.RFC3339)
		for _, reg := range res.Report.Regressions {
			out.Regressions = append(out.Regressions, regressionItem{
				Package: reg.Package,
				Chroots: reg.Chroots,
				URL:     reg.URL,
			})
		}
	}
	return nil, out, nil
}
