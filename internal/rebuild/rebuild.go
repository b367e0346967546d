// Package rebuild watches mass-rebuild campaigns and reports the
// packages they broke.
//
// A campaign rebuilds the whole package set against a new toolchain in
// its own farm project, over days. The monitor decides, on every poll,
// whether the campaign is still running, already reported, or finished
// with findings worth a new report. A finding is a regression: a
// package that fails in the current campaign but did not fail in the
// previous one, so the breakage is attributable to the ref range
// between the two.
package rebuild

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"snapwatch/internal/copr"
	"snapwatch/internal/github"
	"snapwatch/internal/matrix"
)

// Outcome tags the result of one campaign check.
type Outcome int

const (
	// StillRunning means the campaign has builds in flight.
	StillRunning Outcome = iota
	// NothingToReport means the latest campaign snapshot was already
	// reported, or there is no snapshot yet.
	NothingToReport
	// NewReport means the campaign finished a snapshot newer than the
	// last report.
	NewReport
)

func (o Outcome) String() string {
	switch o {
	case StillRunning:
		return "still-running"
	case NothingToReport:
		return "nothing-to-report"
	case NewReport:
		return "new-report"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Regression is one package broken by the campaign.
type Regression struct {
	Package string
	// Chroots lists where the package fails now, sorted.
	Chroots []string
	// URL points at one failing build for humans to start from.
	URL string
}

// Report is the payload of a NewReport outcome.
type Report struct {
	SnapshotTime time.Time
	Regressions  []Regression
}

// Result is what one Check run concluded. Report is only meaningful
// when Outcome is NewReport.
type Result struct {
	Outcome Outcome
	Report  Report
}

// Campaign describes the mass rebuild under watch.
type Campaign struct {
	// Project is the farm project the campaign builds into.
	Project string
	// PreviousProject is the last finished campaign's project, the
	// baseline for the regression diff. Empty means no baseline; every
	// current failure then counts as a regression.
	PreviousProject string
	// Ref is the source ref the campaign builds, the known-bad end of a
	// bisection range.
	Ref string
	// PreviousRef is the previous campaign's ref, the known-good end.
	PreviousRef string
	// PrimaryArch selects which failures get a bisection dispatched.
	PrimaryArch string
	// WorkflowFile is the bisection workflow in the tracker repository.
	// Empty disables dispatching.
	WorkflowFile string
	// WorkflowRef is the git ref the workflow runs from.
	WorkflowRef string
}

// Farm provides build records for campaign projects.
type Farm interface {
	Monitor(ctx context.Context, project string) ([]copr.BuildRecord, error)
}

// Tracker is the issue-tracker surface the monitor needs.
type Tracker interface {
	NewestIssue(ctx context.Context, label string) (*github.Issue, bool, error)
	CreateIssue(ctx context.Context, issue github.NewIssue) (*github.Issue, error)
	EnsureLabel(ctx context.Context, label github.Label) error
	DispatchWorkflow(ctx context.Context, workflowFile, ref string, inputs map[string]string) error
}

// Monitor checks one campaign and publishes its reports.
type Monitor struct {
	farm     Farm
	tracker  Tracker
	campaign Campaign
	logger   *slog.Logger
}

// Option customises a Monitor.
type Option func(*Monitor)

// WithLogger sets the logger used for progress reporting.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// New returns a Monitor for campaign.
func New(farm Farm, tracker Tracker, campaign Campaign, opts ...Option) *Monitor {
	if campaign.PrimaryArch == "" {
		campaign.PrimaryArch = "x86_64"
	}
	if campaign.WorkflowRef == "" {
		campaign.WorkflowRef = "main"
	}
	m := &Monitor{
		farm:     farm,
		tracker:  tracker,
		campaign: campaign,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Check inspects the campaign and decides whether a new report is due.
// It never writes to the tracker; pair it with Publish, or use Run.
func (m *Monitor) Check(ctx context.Context) (Result, error) {
	current, err := m.farm.Monitor(ctx, m.campaign.Project)
	if err != nil {
		return Result{}, fmt.Errorf("monitoring campaign %s: %w", m.campaign.Project, err)
	}

	var snapshot time.Time
	for _, rec := range current {
		if !rec.State.Terminal() {
			m.logger.InfoContext(ctx, "Campaign still running",
				"project", m.campaign.Project,
				"package", rec.Package,
				"chroot", rec.Chroot,
				"state", rec.State,
			)
			return Result{Outcome: StillRunning}, nil
		}
		if end := time.Time(rec.EndedOn); end.After(snapshot) {
			snapshot = end
		}
	}
	if snapshot.IsZero() {
		m.logger.InfoContext(ctx, "Campaign has no finished builds yet", "project", m.campaign.Project)
		return Result{Outcome: NothingToReport}, nil
	}

	last, found, err := m.tracker.NewestIssue(ctx, ReportLabel)
	if err != nil {
		return Result{}, fmt.Errorf("looking up the last campaign report: %w", err)
	}
	if found && !last.CreatedAt.Before(snapshot) {
		m.logger.InfoContext(ctx, "Campaign snapshot already reported",
			"project", m.campaign.Project,
			"snapshot", snapshot,
			"report", last.HTMLURL,
		)
		return Result{Outcome: NothingToReport}, nil
	}

	var previous []copr.BuildRecord
	if m.campaign.PreviousProject != "" {
		previous, err = m.farm.Monitor(ctx, m.campaign.PreviousProject)
		if err != nil {
			return Result{}, fmt.Errorf("monitoring previous campaign %s: %w", m.campaign.PreviousProject, err)
		}
	}

	report := Report{
		SnapshotTime: snapshot,
		Regressions:  diffRegressions(current, previous),
	}
	m.logger.InfoContext(ctx, "Campaign finished a new snapshot",
		"project", m.campaign.Project,
		"snapshot", snapshot,
		"regressions", len(report.Regressions),
	)
	return Result{Outcome: NewReport, Report: report}, nil
}

// Run is Check followed by Publish when a report is due.
func (m *Monitor) Run(ctx context.Context) (Result, error) {
	result, err := m.Check(ctx)
	if err != nil {
		return Result{}, err
	}
	if result.Outcome != NewReport {
		return result, nil
	}
	if err := m.Publish(ctx, result.Report); err != nil {
		return Result{}, err
	}
	return result, nil
}

// diffRegressions keeps current failures whose package did not fail in
// the previous campaign. A package the previous campaign never built
// counts as a regression.
func diffRegressions(current, previous []copr.BuildRecord) []Regression {
	prevFailed := make(map[string]bool)
	for _, rec := range previous {
		if rec.State.Failed() {
			prevFailed[rec.Package] = true
		}
	}

	byPackage := make(map[string]*Regression)
	for _, rec := range current {
		if !rec.State.Failed() || prevFailed[rec.Package] {
			continue
		}
		reg, ok := byPackage[rec.Package]
		if !ok {
			reg = &Regression{Package: rec.Package}
			byPackage[rec.Package] = reg
		}
		reg.Chroots = append(reg.Chroots, rec.Chroot)
		if reg.URL == "" {
			reg.URL = rec.WebURL
		}
	}

	out := make([]Regression, 0, len(byPackage))
	for _, reg := range byPackage {
		sort.Strings(reg.Chroots)
		out = append(out, *reg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Package < out[j].Package })
	return out
}

// failsOnArch reports whether any failing chroot of reg targets arch.
func failsOnArch(reg Regression, arch string) bool {
	for _, chroot := range reg.Chroots {
		if matrix.Chroot(chroot).Arch() == arch {
			return true
		}
	}
	return false
}
