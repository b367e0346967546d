package runner

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"snapwatch/internal/classify"
	"snapwatch/internal/copr"
	"snapwatch/internal/health"
	"snapwatch/internal/incident"
	"snapwatch/internal/logcache"
	"snapwatch/internal/matrix"
)

// CheckSummary is the outcome of one strategy health check.
type CheckSummary struct {
	Strategy string
	Day      string
	Project  string
	Result   health.Result
	// Entries are the classified failures written to the tracking
	// issue. Empty unless the verdict is unhealthy.
	Entries []incident.Entry
	// IssueURL points at the tracking issue, when one was reconciled.
	IssueURL string
}

// StatusReport is a CheckSummary together with the raw observations
// behind it, for callers that render the full package-by-chroot grid.
type StatusReport struct {
	CheckSummary
	Expected []matrix.Pair
	Records  []copr.BuildRecord
}

// Status evaluates the strategy's snapshot project for day without
// touching the tracker.
func (r *Runner) Status(ctx context.Context, strategyName, day string) (StatusReport, error) {
	s, err := r.cfg.StrategyByName(strategyName)
	if err != nil {
		return StatusReport{}, err
	}
	m, err := r.expectedMatrix(ctx, s)
	if err != nil {
		return StatusReport{}, err
	}
	project := s.ProjectFor(day)
	records, err := r.farm.Monitor(ctx, project)
	if err != nil {
		return StatusReport{}, fmt.Errorf("monitoring %s: %w", project, err)
	}
	expected := m.Expected()
	result, err := health.EvaluateStrict(expected, records)
	if err != nil {
		return StatusReport{}, fmt.Errorf("evaluating %s: %w", project, err)
	}
	return StatusReport{
		CheckSummary: CheckSummary{Strategy: s.Name, Day: day, Project: project, Result: result},
		Expected:     expected,
		Records:      records,
	}, nil
}

// Health is Status reduced to the verdict.
func (r *Runner) Health(ctx context.Context, strategyName, day string) (CheckSummary, error) {
	report, err := r.Status(ctx, strategyName, day)
	return report.CheckSummary, err
}

// Failures evaluates the snapshot and classifies its failing builds,
// without touching the tracker.
func (r *Runner) Failures(ctx context.Context, strategyName, day string) (CheckSummary, error) {
	summary, err := r.Health(ctx, strategyName, day)
	if err != nil {
		return CheckSummary{}, err
	}
	if summary.Result.Verdict == health.Unhealthy {
		summary.Entries = r.classifyFailing(ctx, summary.Result.Failing)
	}
	return summary, nil
}

// CheckStrategy runs the full check for one strategy: evaluate the
// snapshot and, when it is unhealthy, classify every failing build and
// reconcile the day's tracking issue. A healthy or still-building
// snapshot leaves the tracker alone.
func (r *Runner) CheckStrategy(ctx context.Context, strategyName, day string) (CheckSummary, error) {
	summary, err := r.Failures(ctx, strategyName, day)
	if err != nil {
		return CheckSummary{}, err
	}
	if summary.Result.Verdict != health.Unhealthy {
		r.logger.InfoContext(ctx, "No incident needed",
			"project", summary.Project, "state", summary.Result.Summary())
		return summary, nil
	}

	issue, err := r.incidents.FindOrCreate(ctx, summary.Strategy, summary.Day)
	if err != nil {
		return summary, err
	}
	if err := r.incidents.Reconcile(ctx, issue, summary.Entries); err != nil {
		return summary, err
	}
	summary.IssueURL = issue.HTMLURL
	r.logger.InfoContext(ctx, "Reconciled tracking issue",
		"project", summary.Project, "state", summary.Result.Summary(),
		"entries", len(summary.Entries), "issue", issue.HTMLURL)
	return summary, nil
}

// CheckAll checks every configured strategy, continuing past
// per-strategy failures.
func (r *Runner) CheckAll(ctx context.Context, day string) ([]CheckSummary, error) {
	var summaries []CheckSummary
	var errs []error
	for _, s := range r.cfg.Strategies {
		summary, err := r.CheckStrategy(ctx, s.Name, day)
		if err != nil {
			r.logger.ErrorContext(ctx, "Check failed", "strategy", s.Name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
			continue
		}
		summaries = append(summaries, summary)
	}
	return summaries, errors.Join(errs...)
}

// classifyFailing turns failing build records into incident entries,
// fetching and classifying their logs in parallel. Classification is
// total: a record whose log cannot be fetched still yields an entry,
// with the fetch error as evidence.
func (r *Runner) classifyFailing(ctx context.Context, failing []copr.BuildRecord) []incident.Entry {
	entries := make([]incident.Entry, len(failing))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.fetchLimit)
	for i, rec := range failing {
		g.Go(func() error {
			entries[i] = r.entryFor(ctx, rec)
			return nil
		})
	}
	_ = g.Wait()
	return entries
}

func (r *Runner) entryFor(ctx context.Context, rec copr.BuildRecord) incident.Entry {
	entry := incident.Entry{Package: rec.Package, Chroot: rec.Chroot}

	// A build that died before producing a chroot log is judged by its
	// SRPM-stage log instead.
	url, kind := rec.LogURL, logcache.KindBuild
	if url == "" {
		url, kind = rec.SourceLogURL, logcache.KindSRPM
	}
	if url == "" {
		entry.Cause = classify.CauseUnknown
		entry.Evidence = "(the farm exposes no log for this build)"
		entry.LogURL = rec.WebURL
		return entry
	}
	entry.LogURL = url

	log, err := r.fetchLog(ctx, rec, kind, url)
	if err != nil {
		r.logger.WarnContext(ctx, "Log fetch failed, recording as unknown",
			"build", rec.BuildID, "package", rec.Package, "chroot", rec.Chroot, "error", err)
		entry.Cause = classify.CauseUnknown
		entry.Evidence = fmt.Sprintf("Fetching the build log failed: %v", err)
		return entry
	}

	var match classify.Match
	if kind == logcache.KindSRPM {
		match = classify.ClassifySRPM(log)
	} else {
		match = classify.Classify(log)
	}
	entry.Cause = match.Cause
	entry.Evidence = match.Evidence
	return entry
}

// fetchLog retrieves one log, through the cache when one is attached.
// Only logs of terminal builds are cached; cache trouble degrades to a
// direct fetch.
func (r *Runner) fetchLog(ctx context.Context, rec copr.BuildRecord, kind logcache.Kind, url string) (string, error) {
	if r.cache == nil || !rec.State.Terminal() {
		return r.farm.FetchLog(ctx, url)
	}
	if body, ok, err := r.cache.Get(rec.BuildID, rec.Chroot, kind); err != nil {
		r.logger.WarnContext(ctx, "Log cache read failed",
			"build", rec.BuildID, "chroot", rec.Chroot, "error", err)
	} else if ok {
		return body, nil
	}
	body, err := r.farm.FetchLog(ctx, url)
	if err != nil {
		return "", err
	}
	if err := r.cache.Put(rec.BuildID, rec.Chroot, kind, body); err != nil {
		r.logger.WarnContext(ctx, "Log cache write failed",
			"build", rec.BuildID, "chroot", rec.Chroot, "error", err)
	}
	return body, nil
}
