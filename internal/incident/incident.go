// Package incident maintains the tracking issue for a broken snapshot:
// one issue per (strategy, day), found or created via label and title
// search, with a generated body section that is rewritten from the
// latest failure scan on every reconciliation.
package incident

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"snapwatch/internal/classify"
	"snapwatch/internal/github"
)

const (
	// UpdateMarker separates the hand-written preamble of a tracking
	// issue from the generated section. Everything after the marker is
	// owned by the reconciler and rewritten on every run; everything
	// before it, the marker included, is preserved byte for byte.
	UpdateMarker = "<!--UPDATES_FOLLOW_HERE-->"

	// LabelBroken marks every tracking issue this package manages.
	LabelBroken = "broken_snapshot_detected"
)

// StrategyLabel returns the label naming the snapshot strategy.
func StrategyLabel(strategy string) string { return "strategy/" + strategy }

// Entry is one classified build failure destined for the tracking issue.
type Entry struct {
	Cause    classify.Cause
	Package  string
	Chroot   string
	Evidence string
	LogURL   string
	// FirstSeen is stamped on first reconciliation and preserved on
	// later ones. Zero means "new in this scan".
	FirstSeen time.Time
}

// Key returns the HTML-comment uniqueness marker for the entry. An
// entry key appears at most once in an issue body.
func (e Entry) Key() string {
	return fmt.Sprintf("<!--cause/%s package/%s chroot/%s-->", e.Cause, e.Package, e.Chroot)
}

// Reconciler finds and updates tracking issues in one repository.
type Reconciler struct {
	tracker *github.Client
	owner   string
	repo    string
	logger  *slog.Logger
	clock   func() time.Time
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithLogger configures structured logging.
func WithLogger(l *slog.Logger) ReconcilerOption {
	return func(r *Reconciler) { r.logger = l }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) ReconcilerOption {
	return func(r *Reconciler) { r.clock = now }
}

// NewReconciler returns a Reconciler for owner/repo.
func NewReconciler(tracker *github.Client, owner, repo string, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		tracker: tracker,
		owner:   owner,
		repo:    repo,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// FindOrCreate returns the tracking issue for (strategy, day), creating
// it when none exists. The search matches the management and strategy
// labels plus the day string in the title, so a reopened or closed
// issue for the same day is reused rather than duplicated. When the
// search unexpectedly yields several issues the newest one wins and the
// anomaly is logged.
func (r *Reconciler) FindOrCreate(ctx context.Context, strategy, day string) (*github.Issue, error) {
	query := fmt.Sprintf("repo:%s/%s is:issue label:%s label:%s %q in:title",
		r.owner, r.repo, LabelBroken, StrategyLabel(strategy), day)

	result, err := r.tracker.SearchIssues(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("find tracking issue: %w", err)
	}

	switch {
	case len(result.Items) == 0:
		return r.create(ctx, strategy, day)
	case len(result.Items) > 1:
		r.logger.WarnContext(ctx, "multiple tracking issues for one snapshot day",
			"strategy", strategy, "day", day,
			"count", result.TotalCount, "picked", result.Items[0].Number)
	}
	issue := result.Items[0]
	return &issue, nil
}

func (r *Reconciler) create(ctx context.Context, strategy, day string) (*github.Issue, error) {
	labels := []string{LabelBroken, StrategyLabel(strategy)}
	repo := r.tracker.Repo(r.owner, r.repo)
	for _, name := range labels {
		if err := repo.Labels().Ensure(ctx, github.Label{Name: name, Color: labelColor(name)}); err != nil {
			return nil, fmt.Errorf("ensure label %s: %w", name, err)
		}
	}

	issue, err := repo.Issues().Create(ctx, github.NewIssue{
		Title:  fmt.Sprintf("Broken snapshot for %s on %s", strategy, day),
		Body:   preamble(strategy, day),
		Labels: labels,
	})
	if err != nil {
		return nil, fmt.Errorf("create tracking issue: %w", err)
	}
	r.logger.InfoContext(ctx, "created tracking issue",
		"strategy", strategy, "day", day, "number", issue.Number, "url", issue.HTMLURL)
	return issue, nil
}

func preamble(strategy, day string) string {
	return fmt.Sprintf(`This issue tracks build failures of the %s snapshot for %s.

Notes added above the marker below are preserved. The section after it
is rewritten by automation on every health check.

%s`, strategy, day, UpdateMarker)
}

// Reconcile rewrites the generated section of the issue from the given
// entries and recomputes the managed labels. Entries already present in
// the body keep their first-seen timestamp; duplicate keys in the input
// collapse to the first occurrence. Reconciling twice with the same
// entries produces a byte-identical body.
func (r *Reconciler) Reconcile(ctx context.Context, issue *github.Issue, entries []Entry) error {
	head, stale := splitBody(issue.Body)
	firstSeen := parseFirstSeen(stale)

	now := r.clock().UTC().Truncate(time.Second)
	entries = dedupeEntries(entries)
	for i := range entries {
		if !entries[i].FirstSeen.IsZero() {
			continue
		}
		if t, ok := firstSeen[entries[i].Key()]; ok {
			entries[i].FirstSeen = t
		} else {
			entries[i].FirstSeen = now
		}
	}
	sortEntries(entries)

	body := head + "\n\n" + renderSection(entries) + "\n"
	labels := recomputeLabels(issue.LabelNames(), entries)

	repo := r.tracker.Repo(r.owner, r.repo)
	for _, name := range labels {
		if err := repo.Labels().Ensure(ctx, github.Label{Name: name, Color: labelColor(name)}); err != nil {
			return fmt.Errorf("ensure label %s: %w", name, err)
		}
	}

	edit := github.IssueEdit{Body: &body, Labels: &labels}
	reopening := issue.State == "closed" && len(entries) > 0
	if reopening {
		r.logger.InfoContext(ctx, "reopening closed tracking issue", "number", issue.Number)
		edit.State = github.String("open")
	}

	if _, err := repo.Issues().Edit(ctx, issue.Number, edit); err != nil {
		return fmt.Errorf("update tracking issue #%d: %w", issue.Number, err)
	}
	if reopening {
		// Subscribers only get notified of the regression through a
		// comment; body edits are silent.
		if _, err := repo.Issues().Comment(ctx, issue.Number, "The snapshot is broken again, reopening."); err != nil {
			r.logger.WarnContext(ctx, "reopen comment failed", "number", issue.Number, "error", err)
		}
	}
	r.logger.InfoContext(ctx, "reconciled tracking issue",
		"number", issue.Number, "entries", len(entries), "labels", len(labels))
	return nil
}

func dedupeEntries(entries []Entry) []Entry {
	seen := make(map[string]bool, len(entries))
	out := entries[:0:0]
	for _, e := range entries {
		if seen[e.Key()] {
			continue
		}
		seen[e.Key()] = true
		out = append(out, e)
	}
	return out
}
