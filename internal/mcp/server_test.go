package mcp_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"snapwatch/internal/classify"
	"snapwatch/internal/copr"
	"snapwatch/internal/health"
	"snapwatch/internal/incident"
	mcpserver "snapwatch/internal/mcp"
	"snapwatch/internal/rebuild"
	"snapwatch/internal/runner"
)

// fakePipelines serves canned summaries and records the day each tool
// resolved.
type fakePipelines struct {
	today    string
	summary  runner.CheckSummary
	campaign rebuild.Result
	err      error
	lastDay  string
}

func (f *fakePipelines) Today() string { return f.today }

func (f *fakePipelines) Health(_ context.Context, _, day string) (runner.CheckSummary, error) {
	f.lastDay = day
	if f.err != nil {
		return runner.CheckSummary{}, f.err
	}
	return f.summary, nil
}

func (f *fakePipelines) Failures(_ context.Context, _, day string) (runner.CheckSummary, error) {
	f.lastDay = day
	if f.err != nil {
		return runner.CheckSummary{}, f.err
	}
	return f.summary, nil
}

func (f *fakePipelines) RebuildCheck(context.Context) (rebuild.Result, error) {
	if f.err != nil {
		return rebuild.Result{}, f.err
	}
	return f.campaign, nil
}

func connectInMemory(t *testing.T, ctx context.Context, srv *mcpserver.Server) *sdkmcp.ClientSession {
	t.Helper()
	t1, t2 := sdkmcp.NewInMemoryTransports()
	serverSession, err := srv.MCPServer.Connect(ctx, t1, nil)
	if err != nil {
		t.Fatalf("server.Connect: %v", err)
	}
	t.Cleanup(func() { serverSession.Close() })

	client := sdkmcp.NewClient(&sdkmcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	session, err := client.Connect(ctx, t2, nil)
	if err != nil {
		t.Fatalf("client.Connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func callTool(t *testing.T, ctx context.Context, session *sdkmcp.ClientSession, name string, args map[string]any) map[string]any {
	t.Helper()
	res, err := session.CallTool(ctx, &sdkmcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	if res.IsError {
		for _, c := range res.Content {
			if tc, ok := c.(*sdkmcp.TextContent); ok {
				t.Fatalf("CallTool(%s) returned error: %s", name, tc.Text)
			}
		}
		t.Fatalf("CallTool(%s) returned error", name)
	}
	result := make(map[string]any)
	for _, c := range res.Content {
		if tc, ok := c.(*sdkmcp.TextContent); ok {
			if err := json.Unmarshal([]byte(tc.Text), &result); err != nil {
				t.Fatalf("unmarshal tool result: %v (text: %s)", err, tc.Text)
			}
			return result
		}
	}
	t.Fatal("no text content in tool result")
	return nil
}

func unhealthySummary() runner.CheckSummary {
	return runner.CheckSummary{
		Strategy: "big-merge",
		Day:      "20260822",
		Project:  "llvm-big-merge-20260822",
		Result: health.Result{
			Verdict: health.Unhealthy,
			Failing: []copr.BuildRecord{
				{BuildID: 1, Package: "llvm", Chroot: "fedora-41-x86_64", State: copr.StateFailed},
			},
		},
		Entries: []incident.Entry{{
			Cause:    classify.CauseNetwork,
			Package:  "llvm",
			Chroot:   "fedora-41-x86_64",
			Evidence: "Errors during downloading metadata for repository 'fedora'",
			LogURL:   "https://backend/llvm/builder-live.log.gz",
		}},
	}
}

func TestServer_ToolDiscovery(t *testing.T) {
	ctx := context.Background()
	srv := mcpserver.NewServer(&fakePipelines{}, "test")
	session := connectInMemory(t, ctx, srv)

	tools, err := session.ListTools(ctx, nil)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	want := map[string]bool{
		"snapshot_health": false,
		"list_failures":   false,
		"campaign_status": false,
	}
	for _, tool := range tools.Tools {
		if _, ok := want[tool.Name]; ok {
			want[tool.Name] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("tool %q not found in ListTools", name)
		}
	}
}

func TestSnapshotHealth_DefaultsToToday(t *testing.T) {
	ctx := context.Background()
	fp := &fakePipelines{today: "20260822", summary: unhealthySummary()}
	session := connectInMemory(t, ctx, mcpserver.NewServer(fp, "test"))

	result := callTool(t, ctx, session, "snapshot_health", map[string]any{"strategy": "big-merge"})
	if fp.lastDay != "20260822" {
		t.Errorf("resolved day = %q, want today", fp.lastDay)
	}
	if result["verdict"] != "unhealthy" {
		t.Errorf("verdict = %v", result["verdict"])
	}
	if result["failing"].(float64) != 1 {
		t.Errorf("failing = %v, want 1", result["failing"])
	}
	if result["project"] != "llvm-big-merge-20260822" {
		t.Errorf("project = %v", result["project"])
	}
}

func TestListFailures(t *testing.T) {
	ctx := context.Background()
	fp := &fakePipelines{today: "20260822", summary: unhealthySummary()}
	session := connectInMemory(t, ctx, mcpserver.NewServer(fp, "test"))

	result := callTool(t, ctx, session, "list_failures", map[string]any{
		"strategy": "big-merge", "day": "20260820",
	})
	if fp.lastDay != "20260820" {
		t.Errorf("resolved day = %q, want the explicit one", fp.lastDay)
	}
	failures, ok := result["failures"].([]any)
	if !ok || len(failures) != 1 {
		t.Fatalf("failures = %v, want one item", result["failures"])
	}
	item := failures[0].(map[string]any)
	if item["cause"] != "network_issue" || item["package"] != "llvm" || item["chroot"] != "fedora-41-x86_64" {
		t.Errorf("unexpected failure item: %v", item)
	}
	if item["log_url"] != "https://backend/llvm/builder-live.log.gz" {
		t.Errorf("log_url = %v", item["log_url"])
	}
}

func TestCampaignStatus(t *testing.T) {
	ctx := context.Background()
	fp := &fakePipelines{campaign: rebuild.Result{
		Outcome: rebuild.NewReport,
		Report: rebuild.Report{
			SnapshotTime: time.Date(2026, 8, 21, 14, 0, 0, 0, time.UTC),
			Regressions: []rebuild.Regression{
				{Package: "flang", Chroots: []string{"fedora-rawhide-x86_64"}, URL: "https://farm/build/9"},
			},
		},
	}}
	session := connectInMemory(t, ctx, mcpserver.NewServer(fp, "test"))

	result := callTool(t, ctx, session, "campaign_status", map[string]any{})
	if result["outcome"] != "new-report" {
		t.Errorf("outcome = %v", result["outcome"])
	}
	if result["snapshot_time"] != "2026-08-21T14:00:00Z" {
		t.Errorf("snapshot_time = %v", result["snapshot_time"])
	}
	regs, ok := result["regressions"].([]any)
	if !ok || len(regs) != 1 {
		t.Fatalf("regressions = %v", result["regressions"])
	}
	if regs[0].(map[string]any)["package"] != "flang" {
		t.Errorf("regression = %v", regs[0])
	}
}

func TestToolErrorsPropagate(t *testing.T) {
	ctx := context.Background()
	fp := &fakePipelines{err: errors.New("farm is down")}
	session := connectInMemory(t, ctx, mcpserver.NewServer(fp, "test"))

	res, err := session.CallTool(ctx, &sdkmcp.CallToolParams{
		Name:      "snapshot_health",
		Arguments: map[string]any{"strategy": "big-merge"},
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if !res.IsError {
		t.Fatal("expected an error result from a failing pipeline")
	}
}

func TestWatchParent_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	mcpserver.WatchParent(ctx, 10*time.Millisecond, cancel)
	cancel()
	// The goroutine must wind down without panicking.
	time.Sleep(30 * time.Millisecond)
}
