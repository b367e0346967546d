package rebuild

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"snapwatch/internal/copr"
	"snapwatch/internal/github"
)

type fakeCampaignFarm struct {
	records map[string][]copr.BuildRecord
}

func (f *fakeCampaignFarm) Monitor(_ context.Context, project string) ([]copr.BuildRecord, error) {
	return f.records[project], nil
}

type dispatchCall struct {
	Workflow string
	Ref      string
	Inputs   map[string]string
}

type fakeTracker struct {
	newest     *github.Issue
	created    []github.NewIssue
	ensured    []string
	dispatches []dispatchCall
}

func (f *fakeTracker) NewestIssue(_ context.Context, _ string) (*github.Issue, bool, error) {
	if f.newest == nil {
		return nil, false, nil
	}
	return f.newest, true, nil
}

func (f *fakeTracker) CreateIssue(_ context.Context, issue github.NewIssue) (*github.Issue, error) {
	f.created = append(f.created, issue)
	return &github.Issue{Number: 42, Title: issue.Title, HTMLURL: "https://tracker.example/i/42"}, nil
}

func (f *fakeTracker) EnsureLabel(_ context.Context, label github.Label) error {
	f.ensured = append(f.ensured, label.Name)
	return nil
}

func (f *fakeTracker) DispatchWorkflow(_ context.Context, workflowFile, ref string, inputs map[string]string) error {
	f.dispatches = append(f.dispatches, dispatchCall{Workflow: workflowFile, Ref: ref, Inputs: inputs})
	return nil
}

func testCampaign() Campaign {
	return Campaign{
		Project:         "llvm-mass-rebuild-20260801",
		PreviousProject: "llvm-mass-rebuild-20260701",
		Ref:             "snapshot-20260801",
		PreviousRef:     "snapshot-20260701",
		WorkflowFile:    "bisect.yml",
	}
}

func rec(pkg, chroot string, state copr.State, ended time.Time) copr.BuildRecord {
	return copr.BuildRecord{
		Package: pkg,
		Chroot:  chroot,
		State:   state,
		EndedOn: copr.EpochSeconds(ended),
		WebURL:  "https://farm.example/build/" + pkg,
	}
}

func TestCheck_StillRunning(t *testing.T) {
	ended := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	farm := &fakeCampaignFarm{records: map[string][]copr.BuildRecord{
		"llvm-mass-rebuild-20260801": {
			rec("llvm", "fedora-41-x86_64", copr.StateSucceeded, ended),
			rec("clang", "fedora-41-x86_64", copr.StateRunning, time.Time{}),
		},
	}}
	m := New(farm, &fakeTracker{}, testCampaign())

	result, err := m.Check(context.Background())
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if result.Outcome != StillRunning {
		t.Errorf("outcome = %v, want StillRunning", result.Outcome)
	}
}

func TestCheck_NoFinishedBuilds(t *testing.T) {
	farm := &fakeCampaignFarm{records: map[string][]copr.BuildRecord{}}
	m := New(farm, &fakeTracker{}, testCampaign())

	result, err := m.Check(context.Background())
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if result.Outcome != NothingToReport {
		t.Errorf("outcome = %v, want NothingToReport", result.Outcome)
	}
}

func TestCheck_AlreadyReported(t *testing.T) {
	snapshot := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	farm := &fakeCampaignFarm{records: map[string][]copr.BuildRecord{
		"llvm-mass-rebuild-20260801": {
			rec("llvm", "fedora-41-x86_64", copr.StateSucceeded, snapshot),
		},
	}}
	tracker := &fakeTracker{newest: &github.Issue{Number: 7, CreatedAt: snapshot}}
	m := New(farm, tracker, testCampaign())

	result, err := m.Check(context.Background())
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if result.Outcome != NothingToReport {
		t.Errorf("report filed at the snapshot time must count as current, got %v", result.Outcome)
	}
}

func TestCheck_NewReportDiffsAgainstPreviousCampaign(t *testing.T) {
	early := time.Date(2026, 8, 19, 6, 0, 0, 0, time.UTC)
	snapshot := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	farm := &fakeCampaignFarm{records: map[string][]copr.BuildRecord{
		"llvm-mass-rebuild-20260801": {
			rec("clang", "fedora-41-x86_64", copr.StateFailed, early),
			rec("flang", "fedora-41-x86_64", copr.StateFailed, early),
			rec("lld", "fedora-41-x86_64", copr.StateSucceeded, snapshot),
			rec("llvm", "fedora-41-s390x", copr.StateFailed, early),
			rec("llvm", "fedora-41-x86_64", copr.StateFailed, early),
		},
		"llvm-mass-rebuild-20260701": {
			rec("clang", "fedora-41-x86_64", copr.StateFailed, early),
			rec("llvm", "fedora-41-x86_64", copr.StateSucceeded, early),
		},
	}}
	tracker := &fakeTracker{newest: &github.Issue{Number: 7, CreatedAt: early}}
	m := New(farm, tracker, testCampaign())

	result, err := m.Check(context.Background())
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if result.Outcome != NewReport {
		t.Fatalf("outcome = %v, want NewReport", result.Outcome)
	}
	if !result.Report.SnapshotTime.Equal(snapshot) {
		t.Errorf("snapshot time = %v, want %v", result.Report.SnapshotTime, snapshot)
	}

	want := []Regression{
		{Package: "flang", Chroots: []string{"fedora-41-x86_64"}, URL: "https://farm.example/build/flang"},
		{Package: "llvm", Chroots: []string{"fedora-41-s390x", "fedora-41-x86_64"}, URL: "https://farm.example/build/llvm"},
	}
	if diff := cmp.Diff(want, result.Report.Regressions); diff != "" {
		t.Errorf("regressions mismatch (-want +got):\n%s", diff)
	}
}

func TestCheck_NoBaselineCountsEveryFailure(t *testing.T) {
	snapshot := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	campaign := testCampaign()
	campaign.PreviousProject = ""
	farm := &fakeCampaignFarm{records: map[string][]copr.BuildRecord{
		"llvm-mass-rebuild-20260801": {
			rec("clang", "fedora-41-x86_64", copr.StateFailed, snapshot),
		},
	}}
	m := New(farm, &fakeTracker{}, campaign)

	result, err := m.Check(context.Background())
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if result.Outcome != NewReport {
		t.Fatalf("outcome = %v, want NewReport", result.Outcome)
	}
	if len(result.Report.Regressions) != 1 || result.Report.Regressions[0].Package != "clang" {
		t.Errorf("regressions = %+v, want clang alone", result.Report.Regressions)
	}
}

func TestPublish_FilesReportAndDispatchesBisection(t *testing.T) {
	tracker := &fakeTracker{}
	m := New(&fakeCampaignFarm{}, tracker, testCampaign())
	report := Report{
		SnapshotTime: time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC),
		Regressions: []Regression{
			{Package: "libcxx", Chroots: []string{"fedora-41-s390x"}, URL: "https://farm.example/build/libcxx"},
			{Package: "llvm", Chroots: []string{"fedora-41-s390x", "fedora-41-x86_64"}, URL: "https://farm.example/build/llvm"},
		},
	}

	if err := m.Publish(context.Background(), report); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if diff := cmp.Diff([]string{ReportLabel}, tracker.ensured); diff != "" {
		t.Errorf("ensured labels mismatch (-want +got):\n%s", diff)
	}
	if len(tracker.created) != 1 {
		t.Fatalf("created %d issues, want 1", len(tracker.created))
	}
	issue := tracker.created[0]
	if want := "Mass rebuild report for llvm-mass-rebuild-20260801 (2026-08-20)"; issue.Title != want {
		t.Errorf("title = %q, want %q", issue.Title, want)
	}
	for _, fragment := range []string{
		"finished its latest snapshot on 2026-08-20 12:00 UTC",
		"Compared against `llvm-mass-rebuild-20260701`",
		"- **llvm** on `fedora-41-s390x`, `fedora-41-x86_64` ([build](https://farm.example/build/llvm))",
		"Suspect range: `snapshot-20260701..snapshot-20260801`",
	} {
		if !strings.Contains(issue.Body, fragment) {
			t.Errorf("body missing %q:\n%s", fragment, issue.Body)
		}
	}
	if diff := cmp.Diff([]string{ReportLabel}, issue.Labels); diff != "" {
		t.Errorf("issue labels mismatch (-want +got):\n%s", diff)
	}

	wantDispatches := []dispatchCall{{
		Workflow: "bisect.yml",
		Ref:      "main",
		Inputs: map[string]string{
			"package":  "llvm",
			"good_ref": "snapshot-20260701",
			"bad_ref":  "snapshot-20260801",
		},
	}}
	if diff := cmp.Diff(wantDispatches, tracker.dispatches); diff != "" {
		t.Errorf("bisection dispatches mismatch (-want +got):\n%s", diff)
	}
}

func TestPublish_NoWorkflowConfigured(t *testing.T) {
	campaign := testCampaign()
	campaign.WorkflowFile = ""
	tracker := &fakeTracker{}
	m := New(&fakeCampaignFarm{}, tracker, campaign)
	report := Report{
		SnapshotTime: time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC),
		Regressions: []Regression{
			{Package: "llvm", Chroots: []string{"fedora-41-x86_64"}},
		},
	}

	if err := m.Publish(context.Background(), report); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(tracker.created) != 1 {
		t.Errorf("created %d issues, want 1", len(tracker.created))
	}
	if len(tracker.dispatches) != 0 {
		t.Errorf("dispatched %d workflows with none configured", len(tracker.dispatches))
	}
}

func TestPublish_EmptyReport(t *testing.T) {
	tracker := &fakeTracker{}
	m := New(&fakeCampaignFarm{}, tracker, testCampaign())
	report := Report{SnapshotTime: time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)}

	if err := m.Publish(context.Background(), report); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(tracker.created) != 1 {
		t.Fatalf("created %d issues, want 1", len(tracker.created))
	}
	if !strings.Contains(tracker.created[0].Body, "No new regressions.") {
		t.Errorf("body missing the all-clear line:\n%s", tracker.created[0].Body)
	}
	if len(tracker.dispatches) != 0 {
		t.Errorf("dispatched %d workflows for an empty report", len(tracker.dispatches))
	}
}

func TestRun_PublishesOnlyNewReports(t *testing.T) {
	snapshot := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	farm := &fakeCampaignFarm{records: map[string][]copr.BuildRecord{
		"llvm-mass-rebuild-20260801": {
			rec("llvm", "fedora-41-x86_64", copr.StateFailed, snapshot),
		},
	}}
	tracker := &fakeTracker{}
	m := New(farm, tracker, testCampaign())

	result, err := m.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Outcome != NewReport {
		t.Fatalf("outcome = %v, want NewReport", result.Outcome)
	}
	if len(tracker.created) != 1 {
		t.Fatalf("created %d issues, want 1", len(tracker.created))
	}

	// The freshly filed report now counts as current.
	tracker.newest = &github.Issue{Number: 42, CreatedAt: snapshot.Add(time.Minute)}
	result, err = m.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Outcome != NothingToReport {
		t.Errorf("outcome = %v, want NothingToReport", result.Outcome)
	}
	if len(tracker.created) != 1 {
		t.Errorf("created %d issues, want still 1", len(tracker.created))
	}
}
