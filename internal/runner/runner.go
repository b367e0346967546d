// Package runner wires the snapshot modules into the pipelines shared
// by the one-shot commands, the watch daemon and the MCP server.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/samber/lo"

	"snapwatch/internal/config"
	"snapwatch/internal/copr"
	"snapwatch/internal/github"
	"snapwatch/internal/health"
	"snapwatch/internal/incident"
	"snapwatch/internal/lifecycle"
	"snapwatch/internal/logcache"
	"snapwatch/internal/matrix"
	"snapwatch/internal/rebuild"
)

// Farm is the full build-farm surface the pipelines consume. The
// lifecycle subset drives rotation and promotion; the rest feeds the
// check pipeline. lifecycle.CoprFarm satisfies it.
type Farm interface {
	lifecycle.Farm
	ListChroots(ctx context.Context) ([]string, error)
	FetchLog(ctx context.Context, url string) (string, error)
}

// Incidents is the reconciliation surface, satisfied by
// incident.Reconciler.
type Incidents interface {
	FindOrCreate(ctx context.Context, strategy, day string) (*github.Issue, error)
	Reconcile(ctx context.Context, issue *github.Issue, entries []incident.Entry) error
}

// CampaignMonitor is the mass-rebuild surface, satisfied by
// rebuild.Monitor.
type CampaignMonitor interface {
	Check(ctx context.Context) (rebuild.Result, error)
	Run(ctx context.Context) (rebuild.Result, error)
}

// Runner executes the snapshot pipelines for one configuration.
type Runner struct {
	cfg        *config.Config
	farm       Farm
	incidents  Incidents
	manager    *lifecycle.Manager
	campaign   CampaignMonitor
	cache      *logcache.Cache
	logger     *slog.Logger
	now        func() time.Time
	fetchLimit int
}

// Option customises a Runner.
type Option func(*Runner)

// WithLogger sets the logger used for progress reporting.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

// WithCache attaches a log cache to the check pipeline. A nil cache
// means every log is fetched directly.
func WithCache(cache *logcache.Cache) Option {
	return func(r *Runner) { r.cache = cache }
}

// WithManager replaces the default lifecycle manager.
func WithManager(m *lifecycle.Manager) Option {
	return func(r *Runner) {
		if m != nil {
			r.manager = m
		}
	}
}

// WithCampaignMonitor attaches the mass-rebuild monitor. Without one,
// the rebuild pipelines report that no campaign is configured.
func WithCampaignMonitor(c CampaignMonitor) Option {
	return func(r *Runner) { r.campaign = c }
}

// WithFetchLimit bounds how many build logs are fetched and classified
// in parallel.
func WithFetchLimit(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.fetchLimit = n
		}
	}
}

// New returns a Runner over the given collaborators.
func New(cfg *config.Config, farm Farm, incidents Incidents, opts ...Option) *Runner {
	r := &Runner{
		cfg:        cfg,
		farm:       farm,
		incidents:  incidents,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:        time.Now,
		fetchLimit: 4,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.manager == nil {
		r.manager = lifecycle.NewManager(farm, lifecycle.WithLogger(r.logger))
	}
	return r
}

// Today returns the current snapshot day in YYYYMMDD form, UTC.
func (r *Runner) Today() string {
	return Day(r.now())
}

// Day formats t as a snapshot day string.
func Day(t time.Time) string {
	return t.UTC().Format("20060102")
}

// PreviousDay returns the day string one day before day.
func PreviousDay(day string) (string, error) {
	t, err := time.ParseInLocation("20060102", day, time.UTC)
	if err != nil {
		return "", fmt.Errorf("bad day %q: %w", day, err)
	}
	return Day(t.AddDate(0, 0, -1)), nil
}

// expandDay substitutes the {day} placeholder in configured strings.
func expandDay(s, day string) string {
	return strings.ReplaceAll(s, "{day}", day)
}

// expectedMatrix discovers the farm's chroots and builds the strategy's
// expected matrix from them.
func (r *Runner) expectedMatrix(ctx context.Context, s *config.Strategy) (*matrix.Matrix, error) {
	names, err := r.farm.ListChroots(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing farm chroots: %w", err)
	}
	pattern, err := regexp.Compile(s.ChrootPattern)
	if err != nil {
		return nil, fmt.Errorf("chroot pattern for %s: %w", s.Name, err)
	}
	chroots := matrix.FilterChroots(names, pattern)
	packages := lo.Map(s.Packages, func(p config.Package, _ int) matrix.Package {
		return matrix.Package(p.Name)
	})
	excludes := lo.Map(s.Unsupported, func(e config.Exclusion, _ int) matrix.Exclusion {
		return matrix.Exclusion{Package: matrix.Package(e.Package), ChrootGlobs: e.ChrootGlobs}
	})
	return matrix.New(chroots, packages, excludes), nil
}

// plan resolves a strategy and day into a lifecycle plan.
func (r *Runner) plan(s *config.Strategy, day string, chroots []string) lifecycle.Plan {
	description := s.Description
	if description == "" {
		description = fmt.Sprintf("Daily %s snapshot for %s.", s.Name, day)
	}
	packages := lo.Map(s.Packages, func(p config.Package, _ int) lifecycle.PackageSpec {
		return lifecycle.PackageSpec{
			Name: p.Name,
			Source: copr.PackageSource{
				Type:         "scm",
				CloneURL:     p.CloneURL,
				Committish:   expandDay(p.Committish, day),
				Spec:         p.Spec,
				Subdirectory: p.Subdirectory,
			},
			After: p.After,
		}
	})
	return lifecycle.Plan{
		Strategy: s.Name,
		Project:  s.ProjectFor(day),
		Target:   s.TargetProject,
		Chroots:  chroots,
		Packages: packages,
		Settings: copr.ProjectSettings{
			Description:        description,
			Instructions:       s.Instructions,
			DeleteAfterDays:    s.DeleteAfterDays,
			UnlistedOnHomepage: true,
		},
	}
}

// Rotate replaces the strategy's daily project for day and kicks off
// its builds.
func (r *Runner) Rotate(ctx context.Context, strategyName, day string) error {
	s, err := r.cfg.StrategyByName(strategyName)
	if err != nil {
		return err
	}
	m, err := r.expectedMatrix(ctx, s)
	if err != nil {
		return err
	}
	return r.manager.Rotate(ctx, r.plan(s, day, m.ChrootNames()))
}

// RotateAll rotates every configured strategy, continuing past
// per-strategy failures.
func (r *Runner) RotateAll(ctx context.Context, day string) error {
	var errs []error
	for _, s := range r.cfg.Strategies {
		if err := r.Rotate(ctx, s.Name, day); err != nil {
			r.logger.ErrorContext(ctx, "Rotation failed", "strategy", s.Name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Promote forks yesterday's snapshot of the strategy over its target
// project, if it is fully healthy.
func (r *Runner) Promote(ctx context.Context, strategyName, day string) error {
	s, err := r.cfg.StrategyByName(strategyName)
	if err != nil {
		return err
	}
	yesterday, err := PreviousDay(day)
	if err != nil {
		return err
	}
	m, err := r.expectedMatrix(ctx, s)
	if err != nil {
		return err
	}
	plan := r.plan(s, yesterday, m.ChrootNames())
	return r.manager.Promote(ctx, plan, m.Expected())
}

// PromoteAll promotes every strategy whose yesterday snapshot is
// healthy. ErrNotHealthy refusals are logged, not returned: an
// unhealthy snapshot is the expected case, not a promotion failure.
func (r *Runner) PromoteAll(ctx context.Context, day string) error {
	var errs []error
	for _, s := range r.cfg.Strategies {
		err := r.Promote(ctx, s.Name, day)
		switch {
		case err == nil:
		case errors.Is(err, lifecycle.ErrNotHealthy), errors.Is(err, health.ErrNoExpectedPairs):
			r.logger.InfoContext(ctx, "Not promoting", "strategy", s.Name, "reason", err)
		default:
			r.logger.ErrorContext(ctx, "Promotion failed", "strategy", s.Name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
		}
	}
	return errors.Join(errs...)
}

// RebuildCheck inspects the configured campaign without writing
// anything.
func (r *Runner) RebuildCheck(ctx context.Context) (rebuild.Result, error) {
	if r.campaign == nil {
		return rebuild.Result{}, errors.New("no mass-rebuild campaign configured")
	}
	return r.campaign.Check(ctx)
}

// RebuildRun inspects the campaign and publishes a report when one is
// due.
func (r *Runner) RebuildRun(ctx context.Context) (rebuild.Result, error) {
	if r.campaign == nil {
		return rebuild.Result{}, errors.New("no mass-rebuild campaign configured")
	}
	return r.campaign.Run(ctx)
}
