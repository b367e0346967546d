// Package lifecycle rotates the daily snapshot projects and promotes
// healthy snapshots to their stable target project.
//
// Rotation prepares a fresh project for today's snapshot: any stale
// project with the same name is cancelled, drained and deleted before
// the new one is created, its packages registered and their builds
// kicked off chroot by chroot. Promotion forks yesterday's project to
// the target name, but only after every expected build has succeeded.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"snapwatch/internal/copr"
	"snapwatch/internal/health"
	"snapwatch/internal/matrix"
)

// ErrNotHealthy is returned by Promote when the snapshot under
// evaluation has failing, pending or missing builds.
var ErrNotHealthy = errors.New("snapshot is not fully successful")

const (
	defaultGracePeriod  = 60 * time.Second
	defaultPollInterval = 30 * time.Second
	defaultPollAttempts = 20
	defaultConcurrency  = 4
)

// PackageSpec names one package of a snapshot together with its build
// source. After, when set, names another package of the same plan whose
// build must finish first within each chroot.
type PackageSpec struct {
	Name   string
	Source copr.PackageSource
	After  string
}

// Plan carries the resolved inputs for one strategy on one day. The
// caller derives the project names and the source revisions; lifecycle
// only executes them.
type Plan struct {
	Strategy string
	Project  string
	Target   string
	Chroots  []string
	Packages []PackageSpec
	Settings copr.ProjectSettings
}

// Manager drives rotation and promotion against a Farm.
type Manager struct {
	farm         Farm
	logger       *slog.Logger
	sleep        func(context.Context, time.Duration) error
	gracePeriod  time.Duration
	pollInterval time.Duration
	pollAttempts int
	concurrency  int
}

// ManagerOption customises a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the logger used for progress reporting.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithSleeper replaces the wait primitive. Tests use this to avoid
// real delays.
func WithSleeper(sleep func(context.Context, time.Duration) error) ManagerOption {
	return func(m *Manager) {
		if sleep != nil {
			m.sleep = sleep
		}
	}
}

// WithGracePeriod sets the pause between deleting the stale target
// project and forking over it.
func WithGracePeriod(d time.Duration) ManagerOption {
	return func(m *Manager) { m.gracePeriod = d }
}

// WithCancelPoll tunes how long Rotate waits for cancelled builds to
// drain before deleting a project.
func WithCancelPoll(interval time.Duration, attempts int) ManagerOption {
	return func(m *Manager) {
		m.pollInterval = interval
		m.pollAttempts = attempts
	}
}

// WithBuildConcurrency bounds how many chroots have builds submitted in
// parallel during rotation.
func WithBuildConcurrency(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.concurrency = n
		}
	}
}

// NewManager returns a Manager operating on farm.
func NewManager(farm Farm, opts ...ManagerOption) *Manager {
	m := &Manager{
		farm:         farm,
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		sleep:        sleepContext,
		gracePeriod:  defaultGracePeriod,
		pollInterval: defaultPollInterval,
		pollAttempts: defaultPollAttempts,
		concurrency:  defaultConcurrency,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Rotate replaces any existing project named plan.Project with a fresh
// one and kicks off the snapshot builds. Running builds in the old
// project are cancelled and drained first so the farm does not keep
// workers busy on a project about to disappear.
func (m *Manager) Rotate(ctx context.Context, plan Plan) error {
	exists, err := m.farm.ProjectExists(ctx, plan.Project)
	if err != nil {
		return fmt.Errorf("checking project %s: %w", plan.Project, err)
	}
	if exists {
		if err := m.drain(ctx, plan.Project); err != nil {
			return err
		}
		if err := m.farm.DeleteProject(ctx, plan.Project); err != nil {
			return fmt.Errorf("deleting project %s: %w", plan.Project, err)
		}
		m.logger.InfoContext(ctx, "Deleted stale project", "project", plan.Project)
	}

	settings := plan.Settings
	settings.Chroots = plan.Chroots
	if err := m.farm.CreateProject(ctx, plan.Project, settings); err != nil {
		return fmt.Errorf("creating project %s: %w", plan.Project, err)
	}
	m.logger.InfoContext(ctx, "Created project",
		"project", plan.Project,
		"chroots", len(plan.Chroots),
	)

	for _, pkg := range plan.Packages {
		if err := m.farm.AddPackage(ctx, plan.Project, pkg.Name, pkg.Source); err != nil {
			return fmt.Errorf("registering package %s in %s: %w", pkg.Name, plan.Project, err)
		}
	}

	if err := m.kickBuilds(ctx, plan); err != nil {
		return err
	}
	m.logger.InfoContext(ctx, "Rotation complete",
		"strategy", plan.Strategy,
		"project", plan.Project,
		"packages", len(plan.Packages),
	)
	return nil
}

// drain cancels every active build in project and polls until the farm
// reports none left.
func (m *Manager) drain(ctx context.Context, project string) error {
	ids, err := m.farm.ActiveBuildIDs(ctx, project)
	if err != nil {
		return fmt.Errorf("listing active builds in %s: %w", project, err)
	}
	for _, id := range ids {
		if err := m.farm.CancelBuild(ctx, id); err != nil {
			return fmt.Errorf("cancelling build %d: %w", id, err)
		}
	}
	if len(ids) > 0 {
		m.logger.InfoContext(ctx, "Cancelled active builds", "project", project, "count", len(ids))
	}

	for attempt := 0; ; attempt++ {
		remaining, err := m.farm.ActiveBuildIDs(ctx, project)
		if err != nil {
			return fmt.Errorf("listing active builds in %s: %w", project, err)
		}
		if len(remaining) == 0 {
			return nil
		}
		if attempt >= m.pollAttempts {
			return fmt.Errorf("project %s still has %d active builds after cancellation", project, len(remaining))
		}
		m.logger.DebugContext(ctx, "Waiting for builds to drain",
			"project", project,
			"remaining", len(remaining),
		)
		if err := m.sleep(ctx, m.pollInterval); err != nil {
			return err
		}
	}
}

// kickBuilds submits one build per package per chroot. Chroots proceed
// in parallel; within a chroot, packages are submitted in plan order
// and a package with After set is chained behind that package's build.
func (m *Manager) kickBuilds(ctx context.Context, plan Plan) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	for _, chroot := range plan.Chroots {
		g.Go(func() error {
			built := make(map[string]int64, len(plan.Packages))
			for _, pkg := range plan.Packages {
				var after int64
				if pkg.After != "" {
					id, ok := built[pkg.After]
					if !ok {
						return fmt.Errorf("package %s wants to build after %s, which is not built in %s", pkg.Name, pkg.After, chroot)
					}
					after = id
				}
				id, err := m.farm.StartBuild(ctx, plan.Project, pkg.Name, []string{chroot}, after)
				if err != nil {
					return fmt.Errorf("starting build of %s on %s: %w", pkg.Name, chroot, err)
				}
				built[pkg.Name] = id
				m.logger.DebugContext(ctx, "Submitted build",
					"project", plan.Project,
					"package", pkg.Name,
					"chroot", chroot,
					"build_id", id,
				)
			}
			return nil
		})
	}
	return g.Wait()
}

// Promote forks the snapshot project named plan.Project over the target
// project, replacing it. It refuses with ErrNotHealthy unless every
// expected build succeeded.
func (m *Manager) Promote(ctx context.Context, plan Plan, expected []matrix.Pair) error {
	records, err := m.farm.Monitor(ctx, plan.Project)
	if err != nil {
		return fmt.Errorf("monitoring project %s: %w", plan.Project, err)
	}
	result, err := health.EvaluateStrict(expected, records)
	if err != nil {
		return fmt.Errorf("evaluating %s: %w", plan.Project, err)
	}
	if result.Verdict != health.AllGood {
		return fmt.Errorf("%w: %s is %s", ErrNotHealthy, plan.Project, result.Summary())
	}

	exists, err := m.farm.ProjectExists(ctx, plan.Target)
	if err != nil {
		return fmt.Errorf("checking target %s: %w", plan.Target, err)
	}
	if exists {
		if err := m.farm.DeleteProject(ctx, plan.Target); err != nil {
			return fmt.Errorf("deleting target %s: %w", plan.Target, err)
		}
		m.logger.InfoContext(ctx, "Deleted previous target, waiting for the farm to settle",
			"target", plan.Target,
			"grace", m.gracePeriod,
		)
		if err := m.sleep(ctx, m.gracePeriod); err != nil {
			return err
		}
	}

	if err := m.farm.ForkProject(ctx, plan.Project, plan.Target); err != nil {
		return fmt.Errorf("forking %s to %s: %w", plan.Project, plan.Target, err)
	}
	// The target holds the latest known-good snapshot and must outlive
	// the farm's automatic cleanup of idle projects.
	keep := copr.ProjectEdit{DeleteAfterDays: copr.Int(0)}
	if err := m.farm.EditProject(ctx, plan.Target, keep); err != nil {
		return fmt.Errorf("configuring target %s: %w", plan.Target, err)
	}
	if err := m.farm.RegenerateRepos(ctx, plan.Target); err != nil {
		return fmt.Errorf("regenerating repositories for %s: %w", plan.Target, err)
	}
	m.logger.InfoContext(ctx, "Promotion complete",
		"strategy", plan.Strategy,
		"from", plan.Project,
		"target", plan.Target,
	)
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
